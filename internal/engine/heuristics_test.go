package engine

import (
	"strings"
	"testing"

	"github.com/ashureev/iceberg/internal/domain"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateMessage(t *testing.T) {
	got, err := ValidateMessage("  I’m \x00 so\n\n tired\t of “this”  ")
	require.NoError(t, err)
	assert.Equal(t, `I'm so tired of "this"`, got)

	_, err = ValidateMessage("\x01\x02")
	assert.ErrorIs(t, err, ErrEmptyMessage)

	ok := strings.Repeat("é", MaxMessageRunes)
	_, err = ValidateMessage(ok)
	assert.NoError(t, err, "limit counts runes, not bytes")
}

func TestResolveIntent(t *testing.T) {
	tests := map[string]domain.Intent{
		"":           domain.IntentAuto,
		"CALM":       domain.IntentCalm,
		" next_step": domain.IntentNextStep,
		"meaning":    domain.IntentMeaning,
		"Listen":     domain.IntentListen,
		"clarity":    domain.IntentClarity,
		"VENT":       domain.IntentAuto,
	}
	for in, want := range tests {
		assert.Equal(t, want, ResolveIntent(in), "hint %q", in)
	}
}

func TestNextGrounding(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		mode      bool
		turns     int
		wantMode  bool
		wantTurns int
	}{
		{"signal enters", "I just need to take a break", false, 0, true, 1},
		{"signal resets counter", "something calming please", true, 3, true, 1},
		{"carries", "ok", true, 1, true, 2},
		{"carries to three", "ok", true, 2, true, 3},
		{"decays after three", "ok", true, 3, false, 0},
		{"stays off", "ok", false, 0, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mode, turns := NextGrounding(tt.text, tt.mode, tt.turns)
			assert.Equal(t, tt.wantMode, mode)
			assert.Equal(t, tt.wantTurns, turns)
		})
	}
}

func TestLayerClassification(t *testing.T) {
	assert.Equal(t, 1, TurnCount(nil))
	assert.Equal(t, 2, TurnCount(make([]domain.ChatMessage, 3)))
	assert.Equal(t, 4, TurnCount(make([]domain.ChatMessage, 6)))

	for turn, want := range map[int]domain.Layer{
		1: domain.LayerSurface, 2: domain.LayerSurface,
		3: domain.LayerTransition, 4: domain.LayerTransition,
		5: domain.LayerEmotion, 6: domain.LayerEmotion,
		7: domain.LayerCoreWound, 12: domain.LayerCoreWound,
	} {
		assert.Equal(t, want, LayerForTurn(turn), "turn %d", turn)
	}

	layer, detected := ClassifyLayer("no one will ever love me", 1, false)
	assert.Equal(t, domain.LayerCoreWound, layer)
	assert.True(t, detected)

	layer, detected = ClassifyLayer("work was fine", 1, true)
	assert.Equal(t, domain.LayerCoreWound, layer, "pinned once detected")
	assert.True(t, detected)

	layer, detected = ClassifyLayer("work was fine", 5, false)
	assert.Equal(t, domain.LayerEmotion, layer)
	assert.False(t, detected)
}

func TestArousalScore(t *testing.T) {
	assert.InDelta(t, 0.0, ArousalScore("a calm day"), 1e-9)
	assert.InDelta(t, 1.0/3, ArousalScore("I'm so overwhelmed"), 1e-9)
	assert.InDelta(t, 0.5, ArousalScore("ugh!! today"), 1e-9)
	assert.InDelta(t, 1.0, ArousalScore("panicking, can't breathe, shaking, heart racing"), 1e-9)

	long := strings.Repeat("word ", 37) + "and nothing works"
	require.Greater(t, len(long), LongMessageRunes)
	assert.InDelta(t, 0.5, ArousalScore(long), 1e-9)
	assert.InDelta(t, 0.0, ArousalScore("nothing works"), 1e-9, "short messages ignore totality words")
}

func TestDistortionScore(t *testing.T) {
	assert.InDelta(t, 0.0, DistortionScore("I had lunch"), 1e-9)
	assert.InDelta(t, WeightAbsolutist, DistortionScore("I always do this"), 1e-9)
	assert.InDelta(t, WeightAbsolutist+WeightCatastrophic, DistortionScore("I always ruin it, it's a disaster"), 1e-9)
	assert.InDelta(t, WeightShould+WeightMindReading, DistortionScore("I should call, they probably think I'm rude"), 1e-9)
	assert.InDelta(t, 1.0, DistortionScore("Everyone thinks I should never have tried, it's a disaster"), 1e-9)
}

func TestSignalPredicates(t *testing.T) {
	assert.True(t, ThanksOrRelief("Thank you, that helped"))
	assert.True(t, ThanksOrRelief("I'm relieved"))
	assert.False(t, ThanksOrRelief("I think about it a lot"))

	assert.True(t, Flooded("it's all too much at once"))
	assert.False(t, Flooded("a small thing happened"))

	assert.True(t, ActionRequest("What should I do about my landlord?"))
	assert.False(t, ActionRequest("I did it"))
}

func TestRouteOrder(t *testing.T) {
	tests := []struct {
		name   string
		s      Signals
		state  domain.State
		iv     domain.Intervention
		conf   float64
		ask    bool
		reason string
	}{
		{"grounding beats listen", Signals{Grounding: true, Intent: domain.IntentListen}, domain.StateRegulate, domain.InterventionGround, 0.85, false, "rule=grounding_or_calm"},
		{"calm", Signals{Intent: domain.IntentCalm}, domain.StateRegulate, domain.InterventionGround, 0.85, false, "rule=grounding_or_calm"},
		{"listen beats thanks", Signals{Intent: domain.IntentListen, Thanks: true}, domain.StatePresence, domain.InterventionValidateOnly, 0.85, false, "rule=listen"},
		{"thanks beats arousal", Signals{Intent: domain.IntentAuto, Thanks: true, Arousal: 1}, domain.StatePresence, domain.InterventionValidateOnly, 0.75, false, "rule=thanks_relief"},
		{"arousal beats next step", Signals{Intent: domain.IntentNextStep, Arousal: 0.6}, domain.StateRegulate, domain.InterventionGround, 0.8, false, "rule=high_arousal"},
		{"flooded", Signals{Intent: domain.IntentAuto, Flooded: true}, domain.StateRegulate, domain.InterventionGround, 0.8, false, "rule=high_arousal"},
		{"action request", Signals{Intent: domain.IntentClarity, ActionRequest: true}, domain.StatePlan, domain.InterventionTinyPlan, 0.75, true, "rule=next_step"},
		{"clarity", Signals{Intent: domain.IntentClarity, Distortion: 1}, domain.StateClarify, domain.InterventionSeparateFacts, 0.8, true, "rule=clarity"},
		{"meaning", Signals{Intent: domain.IntentMeaning, Distortion: 1}, domain.StateMap, domain.InterventionReflectMap, 0.75, true, "rule=meaning"},
		{"distortion", Signals{Intent: domain.IntentAuto, Distortion: 0.65}, domain.StateRestructure, domain.InterventionCBTReframe, 0.7, true, "rule=distortion"},
		{"default", Signals{Intent: domain.IntentAuto, Arousal: 0.59, Distortion: 0.59}, domain.StateMap, domain.InterventionReflectMap, 0.65, true, "rule=default"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Route(tt.s)
			got := domain.EngineDecision{State: d.State, Intervention: d.Intervention, Confidence: d.Confidence, AskQuestion: d.AskQuestion}
			want := domain.EngineDecision{State: tt.state, Intervention: tt.iv, Confidence: tt.conf, AskQuestion: tt.ask}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Fatalf("Route() mismatch (-want +got):\n%s", diff)
			}
			require.NotEmpty(t, d.Reasons)
			assert.Equal(t, tt.reason, d.Reasons[0])
		})
	}
}

func TestRouteReasonsCarrySignalValues(t *testing.T) {
	d := Route(ComputeSignals("I always fail and it's a disaster", domain.IntentAuto, false))
	assert.Equal(t, domain.StateRestructure, d.State)
	assert.Contains(t, d.Reasons, "distortion=0.80")
	assert.Contains(t, d.Reasons, "intent=AUTO")
	assert.Contains(t, d.Reasons, "grounding=false")
}

func TestProject(t *testing.T) {
	tests := []struct {
		turn     int
		detected bool
		score    int
		want     domain.LayerProgress
	}{
		{1, false, 12, domain.LayerProgress{Surface: 25, Trigger: 0, Emotion: 0, CoreBelief: 0}},
		{3, false, 36, domain.LayerProgress{Surface: 75, Trigger: 60, Emotion: 35, CoreBelief: 0}},
		{5, false, 60, domain.LayerProgress{Surface: 100, Trigger: 100, Emotion: 100, CoreBelief: 30}},
		{9, false, 100, domain.LayerProgress{Surface: 100, Trigger: 100, Emotion: 100, CoreBelief: 100}},
		{1, true, 84, domain.LayerProgress{Surface: 100, Trigger: 100, Emotion: 100, CoreBelief: 90}},
	}
	for _, tt := range tests {
		score, got := Project(tt.turn, tt.detected)
		assert.Equal(t, tt.score, score, "turn %d detected %v", tt.turn, tt.detected)
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Errorf("Project(%d, %v) mismatch (-want +got):\n%s", tt.turn, tt.detected, diff)
		}
	}
}
