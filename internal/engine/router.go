package engine

import (
	"fmt"
	"strconv"

	"github.com/ashureev/iceberg/internal/domain"
)

// Signals are the router inputs for one turn.
type Signals struct {
	Intent        domain.Intent
	Grounding     bool
	Thanks        bool
	Arousal       float64
	Flooded       bool
	ActionRequest bool
	Distortion    float64
}

// ComputeSignals scores text and combines it with intent and grounding.
func ComputeSignals(text string, intent domain.Intent, grounding bool) Signals {
	return Signals{
		Intent:        intent,
		Grounding:     grounding,
		Thanks:        ThanksOrRelief(text),
		Arousal:       ArousalScore(text),
		Flooded:       Flooded(text),
		ActionRequest: ActionRequest(text),
		Distortion:    DistortionScore(text),
	}
}

// Overwhelmed reports whether question policy should treat the user as flooded.
func (s Signals) Overwhelmed() bool {
	return s.Flooded || s.Arousal >= OverwhelmThreshold
}

// Rule is one row of the routing table.
type Rule struct {
	Name         string
	Match        func(Signals) bool
	State        domain.State
	Intervention domain.Intervention
	Confidence   float64
	AskQuestion  bool
}

// Rules is evaluated top to bottom; the first match wins. Order is behavior.
var Rules = []Rule{
	{
		Name:         "grounding_or_calm",
		Match:        func(s Signals) bool { return s.Grounding || s.Intent == domain.IntentCalm },
		State:        domain.StateRegulate,
		Intervention: domain.InterventionGround,
		Confidence:   0.85,
	},
	{
		Name:         "listen",
		Match:        func(s Signals) bool { return s.Intent == domain.IntentListen },
		State:        domain.StatePresence,
		Intervention: domain.InterventionValidateOnly,
		Confidence:   0.85,
	},
	{
		Name:         "thanks_relief",
		Match:        func(s Signals) bool { return s.Thanks },
		State:        domain.StatePresence,
		Intervention: domain.InterventionValidateOnly,
		Confidence:   0.75,
	},
	{
		Name:         "high_arousal",
		Match:        func(s Signals) bool { return s.Arousal >= ArousalThreshold || s.Flooded },
		State:        domain.StateRegulate,
		Intervention: domain.InterventionGround,
		Confidence:   0.8,
	},
	{
		Name:         "next_step",
		Match:        func(s Signals) bool { return s.Intent == domain.IntentNextStep || s.ActionRequest },
		State:        domain.StatePlan,
		Intervention: domain.InterventionTinyPlan,
		Confidence:   0.75,
		AskQuestion:  true,
	},
	{
		Name:         "clarity",
		Match:        func(s Signals) bool { return s.Intent == domain.IntentClarity },
		State:        domain.StateClarify,
		Intervention: domain.InterventionSeparateFacts,
		Confidence:   0.8,
		AskQuestion:  true,
	},
	{
		Name:         "meaning",
		Match:        func(s Signals) bool { return s.Intent == domain.IntentMeaning },
		State:        domain.StateMap,
		Intervention: domain.InterventionReflectMap,
		Confidence:   0.75,
		AskQuestion:  true,
	},
	{
		Name:         "distortion",
		Match:        func(s Signals) bool { return s.Distortion >= DistortionThreshold },
		State:        domain.StateRestructure,
		Intervention: domain.InterventionCBTReframe,
		Confidence:   0.7,
		AskQuestion:  true,
	},
	{
		Name:         "default",
		Match:        func(Signals) bool { return true },
		State:        domain.StateMap,
		Intervention: domain.InterventionReflectMap,
		Confidence:   0.65,
		AskQuestion:  true,
	},
}

// Route returns the decision of the first matching rule.
func Route(s Signals) domain.EngineDecision {
	for _, r := range Rules {
		if r.Match(s) {
			return domain.EngineDecision{
				State:        r.State,
				Intervention: r.Intervention,
				Confidence:   r.Confidence,
				Reasons:      reasons(r.Name, s),
				AskQuestion:  r.AskQuestion,
			}
		}
	}
	// Unreachable while the default rule is last.
	panic("engine: routing table has no default rule")
}

func reasons(rule string, s Signals) []string {
	return []string{
		"rule=" + rule,
		"intent=" + string(s.Intent),
		"grounding=" + strconv.FormatBool(s.Grounding),
		"thanks=" + strconv.FormatBool(s.Thanks),
		fmt.Sprintf("arousal=%.2f", s.Arousal),
		"flooded=" + strconv.FormatBool(s.Flooded),
		"actionRequest=" + strconv.FormatBool(s.ActionRequest),
		fmt.Sprintf("distortion=%.2f", s.Distortion),
	}
}
