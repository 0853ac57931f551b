package sanitize

import (
	"strings"

	"github.com/ashureev/iceberg/internal/domain"
)

// Draft is the response object requested from the model.
type Draft struct {
	Acknowledgment string `json:"acknowledgment"`
	ThoughtPattern string `json:"thoughtPattern"`
	PatternNote    string `json:"patternNote"`
	Reframe        string `json:"reframe"`
	Question       string `json:"question"`
	Encouragement  string `json:"encouragement"`
	LayerInsight   string `json:"layerInsight"`
}

// Input is the per-turn state the sanitizer checks a draft against.
type Input struct {
	Text        string
	Layer       domain.Layer
	AskQuestion bool
	Grounding   bool
	Overwhelmed bool
	Analysis    domain.AnalysisResult
	Context     domain.SessionContext
}

// Result is a sanitized draft ready to be placed in an EngineOutput.
type Result struct {
	Acknowledgment string
	ThoughtPattern string
	PatternNote    string
	Reframe        string
	Question       string
	QuestionType   domain.QuestionType
	Encouragement  string
	LayerInsight   string
	CannedReframe  bool
}

// Sanitizer applies content policy to model drafts.
type Sanitizer struct {
	picker Picker
}

// New returns a Sanitizer that selects canned alternatives with picker.
func New(picker Picker) *Sanitizer {
	if picker == nil {
		picker = NewRandomPicker(1)
	}
	return &Sanitizer{picker: picker}
}

// Apply sanitizes d. It never returns a question or reframe that normalizes
// to an entry of the session history.
func (s *Sanitizer) Apply(d Draft, in Input) Result {
	ctx := in.Context

	note := strings.TrimSpace(d.PatternNote)
	if IsDuplicate(note, ctx.PreviousPatternNotes) {
		note = ""
	}

	reframe, canned := SanitizeReframe(s.picker, d.Reframe, ReframeInput{
		Layer:     in.Layer,
		Fear:      in.Analysis.UnderlyingFear,
		CoreWound: in.Analysis.CoreWound,
		History:   ctx.PreviousReframes,
	})

	question, qt := FinalizeQuestion(QuestionInput{
		Raw:         d.Question,
		Layer:       in.Layer,
		Grounding:   in.Grounding,
		AskQuestion: in.AskQuestion,
		Overwhelmed: in.Overwhelmed,
		History:     ctx.PreviousQuestions,
		LastType:    ctx.LastQuestionType,
	})

	encouragement := strings.TrimSpace(d.Encouragement)
	if IsGeneric(encouragement) {
		encouragement = ""
	}

	return Result{
		Acknowledgment: strings.TrimSpace(d.Acknowledgment),
		ThoughtPattern: GovernLabel(d.ThoughtPattern, in.Text, ctx.PreviousLabel(), in.Layer),
		PatternNote:    note,
		Reframe:        reframe,
		Question:       question,
		QuestionType:   qt,
		Encouragement:  encouragement,
		LayerInsight:   strings.TrimSpace(d.LayerInsight),
		CannedReframe:  canned,
	}
}
