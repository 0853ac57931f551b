package sanitize

// MinReframeLength is the shortest normalized reframe not treated as generic.
const MinReframeLength = 12

// genericLines are stock phrases that make a response feel canned.
var genericLines = []string{
	"you're not alone",
	"you are not alone",
	"weather this storm",
	"everything will be okay",
	"everything will be fine",
	"everything will be alright",
	"this too shall pass",
	"it gets better",
	"things will get better",
	"stay strong",
	"you've got this",
	"you got this",
	"be kind to yourself",
	"sending you love",
}

// Quality gate reasons.
const (
	ReasonDuplicateQuestion    = "duplicate_question"
	ReasonDuplicateReframe     = "duplicate_reframe"
	ReasonEmptyReframe         = "empty_reframe"
	ReasonGenericReframe       = "generic_reframe"
	ReasonShortReframe         = "short_reframe"
	ReasonGenericEncouragement = "generic_encouragement"
)

// IsGeneric reports whether s contains a blacklisted stock phrase.
func IsGeneric(s string) bool {
	return containsAny(Normalize(lowerText(s)), genericLines)
}

// QualityReasons evaluates a raw model draft against the session history and
// returns why it should be regenerated. An empty result means it passes.
// The question is only judged when a question will be asked.
func QualityReasons(d Draft, askQuestion bool, prevQuestions, prevReframes []string) []string {
	var reasons []string
	if askQuestion && IsDuplicate(d.Question, prevQuestions) {
		reasons = append(reasons, ReasonDuplicateQuestion)
	}

	reframe := Normalize(d.Reframe)
	switch {
	case reframe == "":
		reasons = append(reasons, ReasonEmptyReframe)
	case IsDuplicate(d.Reframe, prevReframes):
		reasons = append(reasons, ReasonDuplicateReframe)
	case IsGeneric(d.Reframe):
		reasons = append(reasons, ReasonGenericReframe)
	case len(reframe) < MinReframeLength:
		reasons = append(reasons, ReasonShortReframe)
	}

	if IsGeneric(d.Encouragement) {
		reasons = append(reasons, ReasonGenericEncouragement)
	}
	return reasons
}
