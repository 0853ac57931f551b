// Package engine is the cognitive dialogue engine: it validates a user
// message, routes it through deterministic classifiers, asks the language
// model for an analysis and a response, and sanitizes what comes back.
//
// The engine holds no per-session state. Everything carried between turns
// arrives in Request.Session and leaves in Result.Context.
package engine

import (
	"context"
	"log/slog"
	"slices"

	"github.com/ashureev/iceberg/internal/domain"
	"github.com/ashureev/iceberg/internal/llm"
	"github.com/ashureev/iceberg/internal/sanitize"
)

// Request is one user turn.
type Request struct {
	UserMessage string
	History     []domain.ChatMessage
	Session     domain.SessionContext
	// Intent is the optional declared hint. Empty falls back to the session's.
	Intent string
	// Turn is the 1-based turn number when the caller keeps count. Zero
	// derives it from History, which undercounts once history is trimmed.
	Turn int
}

// Result is the output plus the session context to persist for the next turn.
type Result struct {
	Output  domain.EngineOutput
	Context domain.SessionContext
}

// Engine runs the per-request pipeline.
type Engine struct {
	orch      *orchestrator
	crisis    CrisisChecker
	sanitizer *sanitize.Sanitizer
	logger    *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithPicker sets how canned alternatives are chosen.
func WithPicker(p sanitize.Picker) Option {
	return func(e *Engine) {
		e.sanitizer = sanitize.New(p)
	}
}

// New returns an Engine using gateway for model calls and checker for crisis
// screening.
func New(gateway llm.Sender, checker CrisisChecker, opts ...Option) *Engine {
	e := &Engine{
		crisis:    checker,
		sanitizer: sanitize.New(nil),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.orch = &orchestrator{gateway: gateway, logger: e.logger}
	return e
}

// Respond processes one user message. Only invalid input returns an error;
// model failures degrade to static defaults.
func (e *Engine) Respond(ctx context.Context, req Request) (*Result, error) {
	text, err := ValidateMessage(req.UserMessage)
	if err != nil {
		return nil, err
	}

	sc := req.Session.Clone()
	next := sc.WithTrigger(text)
	turn := req.Turn
	if turn <= 0 {
		turn = TurnCount(req.History)
	}

	level := checkCrisis(ctx, e.crisis, text, e.logger)
	if level == domain.CrisisHigh {
		e.logger.Warn("crisis response returned", "turn", turn)
		return &Result{Output: crisisOutput(turn, sc), Context: next}, nil
	}

	hint := req.Intent
	if hint == "" {
		hint = string(sc.UserIntent)
	}
	intent := ResolveIntent(hint)

	grounding, groundingTurns := NextGrounding(text, sc.GroundingMode, sc.GroundingTurns)
	layer, coreDetected := ClassifyLayer(text, turn, sc.CoreBeliefAlreadyDetected)
	signals := ComputeSignals(text, intent, grounding)
	decision := Route(signals)

	analysis, analysisInfo := e.orch.analyze(ctx, text, req.History)

	params := responseParams{
		Message:     text,
		History:     req.History,
		Analysis:    analysis,
		Layer:       layer,
		Decision:    decision,
		Grounding:   grounding,
		Intent:      intent,
		Trigger:     next.OriginalTrigger,
		PrevQs:      sc.PreviousQuestions,
		PrevReframe: sc.PreviousReframes,
	}
	draft, responseInfo := e.orch.respond(ctx, params)

	input := sanitize.Input{
		Text:        text,
		Layer:       layer,
		AskQuestion: decision.AskQuestion,
		Grounding:   grounding,
		Overwhelmed: signals.Overwhelmed(),
		Analysis:    analysis,
		Context:     sc,
	}

	var (
		res          sanitize.Result
		regenerated  bool
		regenReasons []string
	)
	if draft == nil {
		res = e.sanitizer.Apply(defaultDraft(decision.Intervention), input)
	} else {
		res = e.sanitizer.Apply(*draft, input)
		regenReasons = sanitize.QualityReasons(*draft, decision.AskQuestion, sc.PreviousQuestions, sc.PreviousReframes)
		if len(regenReasons) > 0 {
			e.logger.Info("regenerating response", "reasons", regenReasons)
			if again, info := e.orch.regenerate(ctx, params, regenReasons); again != nil &&
				len(sanitize.QualityReasons(*again, decision.AskQuestion, sc.PreviousQuestions, sc.PreviousReframes)) == 0 {
				res = e.sanitizer.Apply(*again, input)
				responseInfo = info
				regenerated = true
			}
		}
	}

	if res.Acknowledgment == "" {
		res.Acknowledgment = defaultAcknowledgments[decision.Intervention]
	}
	if res.LayerInsight == "" {
		res.LayerInsight = defaultLayerInsights[layer]
	}

	score, progress := Project(turn, coreDetected)
	provider, model := responseInfo.Provider, responseInfo.Model
	if provider == "" {
		provider, model = analysisInfo.Provider, analysisInfo.Model
	}

	out := domain.EngineOutput{
		Acknowledgment: res.Acknowledgment,
		ThoughtPattern: res.ThoughtPattern,
		PatternNote:    res.PatternNote,
		Reframe:        res.Reframe,
		Question:       res.Question,
		Encouragement:  res.Encouragement,
		IcebergLayer:   layer,
		LayerInsight:   res.LayerInsight,
		GroundingMode:  grounding,
		GroundingTurns: groundingTurns,
		ProgressScore:  score,
		LayerProgress:  progress,
		Meta: domain.Meta{
			State:               decision.State,
			Intervention:        decision.Intervention,
			Confidence:          decision.Confidence,
			Reasons:             slices.Clone(decision.Reasons),
			Intent:              intent,
			TurnCount:           turn,
			Provider:            provider,
			Model:               model,
			AnalysisFallback:    analysisInfo.Fallback,
			ResponseFallback:    draft == nil,
			Regenerated:         regenerated,
			RegenerationReasons: regenReasons,
			QuestionType:        res.QuestionType,
			CrisisLevel:         level,
		},
	}

	next = next.Remember(out)
	next.UserIntent = intent
	next.CoreBeliefAlreadyDetected = coreDetected

	return &Result{Output: out, Context: next}, nil
}

// defaultDraft is the static response used when the model gave nothing usable.
func defaultDraft(iv domain.Intervention) sanitize.Draft {
	return sanitize.Draft{
		Acknowledgment: defaultAcknowledgments[iv],
		Question:       defaultQuestions[iv],
		Encouragement:  defaultEncouragements[iv],
	}
}
