package sanitize

import (
	"regexp"
	"strings"

	"github.com/ashureev/iceberg/internal/domain"
)

// Canonical thought-pattern labels.
const (
	LabelAllOrNothing       = "All-or-nothing thinking"
	LabelCatastrophizing    = "Catastrophizing"
	LabelLabeling           = "Labeling"
	LabelMindReading        = "Mind reading"
	LabelShould             = "Should statements"
	LabelOvergeneralization = "Overgeneralization"
	LabelEmotionalReasoning = "Emotional reasoning"
	LabelPersonalization    = "Personalization"
	LabelFortuneTelling     = "Fortune telling"
	LabelDiscounting        = "Discounting the positive"
	LabelCoreBelief         = "Core Belief"
)

var labelSynonyms = map[string]string{
	"all-or-nothing":             LabelAllOrNothing,
	"all or nothing":             LabelAllOrNothing,
	"all-or-nothing thinking":    LabelAllOrNothing,
	"all or nothing thinking":    LabelAllOrNothing,
	"black-and-white":            LabelAllOrNothing,
	"black and white":            LabelAllOrNothing,
	"black-and-white thinking":   LabelAllOrNothing,
	"black and white thinking":   LabelAllOrNothing,
	"polarized thinking":         LabelAllOrNothing,
	"splitting":                  LabelAllOrNothing,
	"catastrophizing":            LabelCatastrophizing,
	"catastrophising":            LabelCatastrophizing,
	"catastrophic thinking":      LabelCatastrophizing,
	"magnification":              LabelCatastrophizing,
	"labeling":                   LabelLabeling,
	"labelling":                  LabelLabeling,
	"global labeling":            LabelLabeling,
	"mislabeling":                LabelLabeling,
	"name-calling":               LabelLabeling,
	"mind reading":               LabelMindReading,
	"mind-reading":               LabelMindReading,
	"jumping to conclusions":     LabelMindReading,
	"should statements":          LabelShould,
	"should statement":           LabelShould,
	"shoulds":                    LabelShould,
	"overgeneralization":         LabelOvergeneralization,
	"overgeneralisation":         LabelOvergeneralization,
	"overgeneralizing":           LabelOvergeneralization,
	"emotional reasoning":        LabelEmotionalReasoning,
	"personalization":            LabelPersonalization,
	"personalisation":            LabelPersonalization,
	"self-blame":                 LabelPersonalization,
	"fortune telling":            LabelFortuneTelling,
	"fortune-telling":            LabelFortuneTelling,
	"predicting the future":      LabelFortuneTelling,
	"discounting the positive":   LabelDiscounting,
	"disqualifying the positive": LabelDiscounting,
	"core belief":                LabelCoreBelief,
	"core beliefs":               LabelCoreBelief,
	"negative core belief":       LabelCoreBelief,
	"core wound":                 LabelCoreBelief,
}

// identityPatterns catch "I am <negative noun>" phrasing.
var identityPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bi(?:'m| am) (?:such |just |a total |a complete )?(?:a |an )?(?:failure|loser|idiot|disappointment|mess|fraud|burden|joke)\b`),
	regexp.MustCompile(`\bi(?:'m| am) (?:so |just |completely )?(?:stupid|worthless|useless|pathetic|unlovable)\b`),
}

// CoreBeliefPatterns is the bank of first-person deficiency, hopelessness
// and abandonment statements that mark the deepest layer.
var CoreBeliefPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bi(?:'m| am) (?:such |just |a total |a complete )?(?:a |an )?(?:failure|loser|disappointment|burden|fraud|mistake)\b`),
	regexp.MustCompile(`\bi(?:'m| am) (?:so |just |completely )?(?:worthless|useless|unlovable|pathetic|broken|not good enough|never enough|not enough)\b`),
	regexp.MustCompile(`\bi always (?:fail|mess (?:it|things|everything) up|ruin)`),
	regexp.MustCompile(`\b(?:no ?one|nobody) (?:will |could |would )?(?:ever )?(?:love|loves|want|wants|care about|cares about) me\b`),
	regexp.MustCompile(`\beveryone (?:always )?(?:leaves|abandons|leave|abandon) me\b`),
	regexp.MustCompile(`\bi(?:'ll| will) (?:always|forever) be alone\b`),
	regexp.MustCompile(`\bi(?:'ll| will) never be (?:good )?enough\b`),
	regexp.MustCompile(`\bsomething is (?:wrong|broken) with me\b`),
	regexp.MustCompile(`\bi don'?t deserve (?:to be )?(?:love|loved|happiness|happy)\b`),
}

type labelRule struct {
	label    string
	patterns []*regexp.Regexp
}

// labelTriggers is evaluated in order for fresh inference.
var labelTriggers = []labelRule{
	{LabelCoreBelief, CoreBeliefPatterns},
	{LabelLabeling, identityPatterns},
	{LabelMindReading, []*regexp.Regexp{
		regexp.MustCompile(`\b(?:they|he|she|everyone|people) (?:must |probably )?(?:think|thinks|thought)\b`),
		regexp.MustCompile(`\b(?:judging me|hates? me|laughing at me)\b`),
	}},
	{LabelCatastrophizing, []*regexp.Regexp{
		regexp.MustCompile(`\b(?:disaster|catastrophe|worst|terrible|awful|horrible|ruined|end of the world|never recover)\b`),
	}},
	{LabelFortuneTelling, []*regexp.Regexp{
		regexp.MustCompile(`\b(?:will never|won'?t ever|going to fail|is going to go wrong|won'?t work out)\b`),
	}},
	{LabelPersonalization, []*regexp.Regexp{
		regexp.MustCompile(`\b(?:my fault|because of me|i caused|i ruined)\b`),
	}},
	{LabelShould, []*regexp.Regexp{
		regexp.MustCompile(`\b(?:should|shouldn'?t|must|have to|ought to)\b`),
	}},
	{LabelOvergeneralization, []*regexp.Regexp{
		regexp.MustCompile(`\b(?:everyone|no ?one|nobody|every time|all the time)\b`),
	}},
	{LabelAllOrNothing, []*regexp.Regexp{
		regexp.MustCompile(`\b(?:always|never|completely|totally|perfect|everything|nothing)\b`),
	}},
	{LabelEmotionalReasoning, []*regexp.Regexp{
		regexp.MustCompile(`\b(?:i feel|it feels) (?:like )?(?:i'?m|i am|it'?s|it is)\b`),
	}},
}

// lowerText prepares user text for pattern matching.
func lowerText(text string) string {
	return strings.ToLower(strings.NewReplacer("’", "'", "‘", "'").Replace(text))
}

func matchesAny(text string, patterns []*regexp.Regexp) bool {
	for _, re := range patterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// MatchesCoreBelief reports whether text contains a core-belief statement.
func MatchesCoreBelief(text string) bool {
	return matchesAny(lowerText(text), CoreBeliefPatterns)
}

// IsIdentityStatement reports whether text labels the self ("I am a failure").
func IsIdentityStatement(text string) bool {
	return matchesAny(lowerText(text), identityPatterns)
}

// CanonicalLabel maps a raw model label through the synonym table. Unknown
// labels are returned trimmed.
func CanonicalLabel(raw string) string {
	key := strings.TrimRight(Normalize(raw), ".!")
	if label, ok := labelSynonyms[key]; ok {
		return label
	}
	return strings.TrimSpace(raw)
}

// InferLabel returns the first label whose triggers match text.
func InferLabel(text string) string {
	t := lowerText(text)
	for _, rule := range labelTriggers {
		if matchesAny(t, rule.patterns) {
			return rule.label
		}
	}
	return ""
}

// labelMatches reports whether text matches the trigger patterns of label.
func labelMatches(label, text string) bool {
	t := lowerText(text)
	for _, rule := range labelTriggers {
		if rule.label == label {
			return matchesAny(t, rule.patterns)
		}
	}
	return false
}

// GovernLabel resolves the thought-pattern label shown to the user.
//
// Order: synonym mapping, identity-statement remap to Labeling, reuse of the
// previous label when text still matches its triggers, fresh inference when
// nothing is left, then the layer gate. "Core Belief" appears if and only if
// layer is CORE_WOUND.
func GovernLabel(raw, text, previous string, layer domain.Layer) string {
	label := CanonicalLabel(raw)

	if IsIdentityStatement(text) {
		label = LabelLabeling
	}

	if previous != "" && labelMatches(previous, text) {
		label = previous
	}

	if label == "" {
		label = InferLabel(text)
	}

	if layer == domain.LayerCoreWound {
		return LabelCoreBelief
	}
	if label == LabelCoreBelief {
		return LabelCatastrophizing
	}
	return label
}
