package domain

import "strings"

// Intent is the client-declared purpose of a turn.
type Intent string

const (
	IntentAuto     Intent = "AUTO"
	IntentCalm     Intent = "CALM"
	IntentClarity  Intent = "CLARITY"
	IntentNextStep Intent = "NEXT_STEP"
	IntentMeaning  Intent = "MEANING"
	IntentListen   Intent = "LISTEN"
)

// Intents lists every supported intent in declaration order.
var Intents = []Intent{IntentAuto, IntentCalm, IntentClarity, IntentNextStep, IntentMeaning, IntentListen}

// Layer is the conversational depth reached in a session.
type Layer string

const (
	LayerSurface    Layer = "SURFACE"
	LayerTransition Layer = "TRANSITION"
	LayerEmotion    Layer = "EMOTION"
	LayerCoreWound  Layer = "CORE_WOUND"
)

// State is the router's coarse conversational state.
type State string

const (
	StateRegulate    State = "REGULATE"
	StatePresence    State = "PRESENCE"
	StatePlan        State = "PLAN"
	StateClarify     State = "CLARIFY"
	StateMap         State = "MAP"
	StateRestructure State = "RESTRUCTURE"
)

// Intervention is the response style selected for a state.
type Intervention string

const (
	InterventionGround        Intervention = "GROUND"
	InterventionValidateOnly  Intervention = "VALIDATE_ONLY"
	InterventionTinyPlan      Intervention = "TINY_PLAN"
	InterventionSeparateFacts Intervention = "SEPARATE_FACTS"
	InterventionReflectMap    Intervention = "REFLECT_MAP"
	InterventionCBTReframe    Intervention = "CBT_REFRAME"
)

// EngineDecision is the router's output for one turn.
type EngineDecision struct {
	State        State        `json:"state"`
	Intervention Intervention `json:"intervention"`
	Confidence   float64      `json:"confidence"`
	Reasons      []string     `json:"reasons"`
	AskQuestion  bool         `json:"askQuestion"`
}

// CrisisLevel is the severity returned by a crisis lexicon checker.
type CrisisLevel string

const (
	CrisisLow    CrisisLevel = "LOW"
	CrisisMedium CrisisLevel = "MEDIUM"
	CrisisHigh   CrisisLevel = "HIGH"
)

// QuestionType classifies the question shown to the user.
type QuestionType string

const (
	QuestionNone   QuestionType = ""
	QuestionChoice QuestionType = "choice"
	QuestionOpen   QuestionType = "open"
)

// AnalysisResult is the model's first-pass reading of the user's message.
type AnalysisResult struct {
	TriggerEvent         string `json:"trigger_event"`
	LikelyInterpretation string `json:"likely_interpretation"`
	UnderlyingFear       string `json:"underlying_fear"`
	EmotionalNeed        string `json:"emotional_need"`
	CoreWound            string `json:"core_wound,omitempty"`
}

// NeutralAnalysis is used when the analysis call fails or is unparsable.
func NeutralAnalysis() AnalysisResult {
	return AnalysisResult{
		TriggerEvent:         "something that happened recently",
		LikelyInterpretation: "the situation feels heavy and personal",
		UnderlyingFear:       "that things will not turn out okay",
		EmotionalNeed:        "to feel understood and steady",
	}
}

// IsZero reports whether no analysis field is populated.
func (a AnalysisResult) IsZero() bool {
	return a.TriggerEvent == "" && a.LikelyInterpretation == "" &&
		a.UnderlyingFear == "" && a.EmotionalNeed == "" && a.CoreWound == ""
}

// LayerProgress holds per-layer completion percentages.
type LayerProgress struct {
	Surface    int `json:"surface"`
	Trigger    int `json:"trigger"`
	Emotion    int `json:"emotion"`
	CoreBelief int `json:"coreBelief"`
}

// Meta carries observability data about how an output was produced.
type Meta struct {
	State               State        `json:"state,omitempty"`
	Intervention        Intervention `json:"intervention,omitempty"`
	Confidence          float64      `json:"confidence,omitempty"`
	Reasons             []string     `json:"reasons,omitempty"`
	Intent              Intent       `json:"intent,omitempty"`
	TurnCount           int          `json:"turnCount"`
	Provider            string       `json:"provider,omitempty"`
	Model               string       `json:"model,omitempty"`
	AnalysisFallback    bool         `json:"analysisFallback,omitempty"`
	ResponseFallback    bool         `json:"responseFallback,omitempty"`
	Regenerated         bool         `json:"regenerated,omitempty"`
	RegenerationReasons []string     `json:"regenerationReasons,omitempty"`
	QuestionType        QuestionType `json:"questionType,omitempty"`
	CrisisLevel         CrisisLevel  `json:"crisisLevel,omitempty"`
}

// EngineOutput is the user-visible result of one engine turn.
type EngineOutput struct {
	Acknowledgment   string        `json:"acknowledgment"`
	ThoughtPattern   string        `json:"thoughtPattern"`
	PatternNote      string        `json:"patternNote"`
	Reframe          string        `json:"reframe"`
	Question         string        `json:"question"`
	Encouragement    string        `json:"encouragement"`
	IcebergLayer     Layer         `json:"icebergLayer"`
	LayerInsight     string        `json:"layerInsight"`
	GroundingMode    bool          `json:"groundingMode"`
	GroundingTurns   int           `json:"groundingTurns"`
	ProgressScore    int           `json:"progressScore"`
	LayerProgress    LayerProgress `json:"layerProgress"`
	IsCrisisResponse bool          `json:"_isCrisisResponse,omitempty"`
	Meta             Meta          `json:"_meta"`
}

// Text renders the output as a single assistant message for history.
func (o EngineOutput) Text() string {
	parts := make([]string, 0, 5)
	for _, p := range []string{o.Acknowledgment, o.PatternNote, o.Reframe, o.Question, o.Encouragement} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "\n\n")
}
