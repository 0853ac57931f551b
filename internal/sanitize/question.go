package sanitize

import (
	"regexp"
	"strings"

	"github.com/ashureev/iceberg/internal/domain"
)

// FloodedChoiceQuestion is offered at the core-wound layer when the user is
// overwhelmed and no model question survived.
const FloodedChoiceQuestion = "Would comfort or one small practical step help more right now?"

// probePatterns are therapist-style probes that push for more disclosure.
var probePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bhow does (?:that|this|it) make you feel\b`),
	regexp.MustCompile(`\bwhat comes up for you\b`),
	regexp.MustCompile(`\b(?:can|could) you tell me more\b`),
	regexp.MustCompile(`\btell me more\b`),
	regexp.MustCompile(`\bwhat do you think (?:that|this) says about you\b`),
	regexp.MustCompile(`\bwhere do you feel (?:that|this|it) in your body\b`),
	regexp.MustCompile(`\bwhy do you think you\b`),
	regexp.MustCompile(`\b(?:let'?s|can we) (?:explore|unpack|dig)\b`),
	regexp.MustCompile(`\bdig deeper\b`),
	regexp.MustCompile(`\bgo deeper\b`),
}

// probePrefix matches soft lead-ins stripped in grounding mode.
var probePrefix = regexp.MustCompile(`(?i)^(?:i'?m curious[,:]?\s*|i wonder[,:]?\s*|i'?m wondering[,:]?\s*|tell me[,:]\s*|so[,:]\s*|gently[,:]\s*|if you'?re open to it[,:]?\s*)+`)

var exploreDeep = regexp.MustCompile(`\b(?:explore|exploring|deep|deeper|deeply)\b`)

var choicePattern = regexp.MustCompile(`^(?:would you (?:rather|prefer)|which (?:feels|would)|do you want .+ or\b)|\bor\b.*\?$`)

// QuestionInput carries the state the question finalizer depends on.
type QuestionInput struct {
	Raw         string
	Layer       domain.Layer
	Grounding   bool
	AskQuestion bool
	// Overwhelmed is true when the user's text reads as flooded or aroused.
	Overwhelmed bool
	History     []string
	LastType    domain.QuestionType
}

// IsProbe reports whether q is a therapist-style probe.
func IsProbe(q string) bool {
	return matchesAny(lowerText(q), probePatterns)
}

// ClassifyQuestion reports whether q offers a forced choice.
func ClassifyQuestion(q string) domain.QuestionType {
	n := Normalize(q)
	switch {
	case n == "":
		return domain.QuestionNone
	case choicePattern.MatchString(n):
		return domain.QuestionChoice
	default:
		return domain.QuestionOpen
	}
}

// FinalizeQuestion applies the question policy and returns the question to
// show (possibly "") with its type.
func FinalizeQuestion(in QuestionInput) (string, domain.QuestionType) {
	if !in.AskQuestion {
		return "", domain.QuestionNone
	}

	q := strings.TrimSpace(in.Raw)
	switch {
	case in.Grounding:
		q = capitalize(strings.TrimSpace(probePrefix.ReplaceAllString(q, "")))
		q = firstSentence(q)
		if IsProbe(q) || exploreDeep.MatchString(lowerText(q)) {
			q = ""
		}
	default:
		// Non-core and core-wound layers share truncation and probe
		// suppression; only the core-wound layer may fall back below.
		q = firstSentence(q)
		if IsProbe(q) {
			q = ""
		}
	}

	if IsDuplicate(q, in.History) {
		q = ""
	}

	if q == "" && in.Layer == domain.LayerCoreWound && in.Overwhelmed &&
		!IsDuplicate(FloodedChoiceQuestion, in.History) {
		q = FloodedChoiceQuestion
	}

	qt := ClassifyQuestion(q)
	if qt == domain.QuestionChoice && in.LastType == domain.QuestionChoice {
		return "", domain.QuestionNone
	}
	return q, qt
}
