package engine

import (
	"regexp"
	"strings"
)

// Router thresholds.
const (
	// ArousalThreshold routes to regulation regardless of intent.
	ArousalThreshold = 0.6
	// DistortionThreshold routes to cognitive restructuring.
	DistortionThreshold = 0.6
	// OverwhelmThreshold marks the user as overwhelmed for question policy.
	OverwhelmThreshold = 0.3
	// LongMessageRunes is the length above which "everything"/"nothing" counts
	// toward arousal.
	LongMessageRunes = 180
)

// Distortion weights per category.
const (
	WeightAbsolutist   = 0.4
	WeightCatastrophic = 0.4
	WeightShould       = 0.25
	WeightMindReading  = 0.25
)

var distressMarkers = []*regexp.Regexp{
	regexp.MustCompile(`\bpanic(?:king|ked|s)?\b`),
	regexp.MustCompile(`\bcan'?t breathe\b`),
	regexp.MustCompile(`\boverwhelm(?:ed|ing)?\b`),
	regexp.MustCompile(`\bshaking\b`),
	regexp.MustCompile(`\bcan'?t stop crying\b`),
	regexp.MustCompile(`\bheart (?:is )?(?:racing|pounding)\b`),
	regexp.MustCompile(`\bfalling apart\b`),
	regexp.MustCompile(`\bfreaking out\b`),
	regexp.MustCompile(`\bterrified\b`),
	regexp.MustCompile(`\bcan'?t think\b`),
	regexp.MustCompile(`\bspiral(?:ing|ling)?\b`),
}

var floodedPhrases = []string{
	"too much",
	"all at once",
	"everything at once",
	"can't handle",
	"cant handle",
	"can't cope",
	"cant cope",
	"drowning",
	"don't even know",
	"dont even know",
	"don't know where to start",
	"dont know where to start",
	"everything is falling apart",
}

var thanksPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bthanks?\b`),
	regexp.MustCompile(`\bthank you\b`),
	regexp.MustCompile(`\b(?:feel|feeling) (?:a (?:little|bit) |much |so much )?better\b`),
	regexp.MustCompile(`\brelieved\b`),
	regexp.MustCompile(`\bthat help(?:s|ed)\b`),
	regexp.MustCompile(`\bappreciate (?:it|this|that|you)\b`),
}

var actionPhrases = []string{
	"what do i do",
	"what should i do",
	"what can i do",
	"what do i do now",
	"next step",
	"how do i",
	"how can i",
	"help me figure out",
	"what now",
	"give me a plan",
}

var (
	absolutistPattern   = regexp.MustCompile(`\b(?:always|never|everything|nothing|everyone|no ?one|nobody|all the time)\b`)
	catastrophicPattern = regexp.MustCompile(`\b(?:disaster|catastrophe|ruined|terrible|awful|horrible|worst|end of the world|unbearable)\b`)
	shouldPattern       = regexp.MustCompile(`\b(?:should|shouldn'?t|must|have to|ought to)\b`)
	mindReadingPattern  = regexp.MustCompile(`\b(?:(?:they|he|she|everyone|people) (?:must |probably )?(?:think|thinks|hates?|sees?)|judging me|laughing at me)\b`)
	totalityPattern     = regexp.MustCompile(`\b(?:everything|nothing)\b`)
)

// lower prepares text for matching: lowercase with straight apostrophes.
func lower(text string) string {
	return strings.ToLower(strings.NewReplacer("’", "'", "‘", "'").Replace(text))
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// CountDistressMarkers returns how many distress marker patterns match.
func CountDistressMarkers(text string) int {
	t := lower(text)
	n := 0
	for _, re := range distressMarkers {
		if re.MatchString(t) {
			n++
		}
	}
	return n
}

// ArousalScore is markers/3 plus 0.5 for two or more "!" plus 0.5 for a long
// message mentioning everything or nothing, clamped to [0,1].
func ArousalScore(text string) float64 {
	score := float64(CountDistressMarkers(text)) / 3
	if strings.Count(text, "!") >= 2 {
		score += 0.5
	}
	if len([]rune(text)) > LongMessageRunes && totalityPattern.MatchString(lower(text)) {
		score += 0.5
	}
	return clamp01(score)
}

// Flooded reports overwhelm language.
func Flooded(text string) bool {
	t := lower(text)
	for _, p := range floodedPhrases {
		if strings.Contains(t, p) {
			return true
		}
	}
	return false
}

// ThanksOrRelief reports gratitude or relief.
func ThanksOrRelief(text string) bool {
	t := lower(text)
	for _, re := range thanksPatterns {
		if re.MatchString(t) {
			return true
		}
	}
	return false
}

// ActionRequest reports a request for something to do.
func ActionRequest(text string) bool {
	t := lower(text)
	for _, p := range actionPhrases {
		if strings.Contains(t, p) {
			return true
		}
	}
	return false
}

// DistortionScore sums the category weights that match, clamped to [0,1].
func DistortionScore(text string) float64 {
	t := lower(text)
	score := 0.0
	if absolutistPattern.MatchString(t) {
		score += WeightAbsolutist
	}
	if catastrophicPattern.MatchString(t) {
		score += WeightCatastrophic
	}
	if shouldPattern.MatchString(t) {
		score += WeightShould
	}
	if mindReadingPattern.MatchString(t) {
		score += WeightMindReading
	}
	return clamp01(score)
}
