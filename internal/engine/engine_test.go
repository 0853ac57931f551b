package engine

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/ashureev/iceberg/internal/domain"
	"github.com/ashureev/iceberg/internal/llm"
	"github.com/ashureev/iceberg/internal/sanitize"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const repeatedReframe = "The feeling is real — but the conclusion might be harsher than the facts support."

// fakeGateway answers by phase, detected from the system prompt.
type fakeGateway struct {
	analysis     []string
	response     []string
	regeneration []string
	calls        map[string]int
	requests     []llm.Request
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{calls: map[string]int{}}
}

func phaseOf(req llm.Request) string {
	system := req.Messages[0].Content
	switch {
	case strings.HasPrefix(system, "You are the analysis step"):
		return "analysis"
	case strings.Contains(system, "Your previous draft was rejected"):
		return "regeneration"
	default:
		return "response"
	}
}

func (f *fakeGateway) Send(_ context.Context, req llm.Request) (*llm.Reply, error) {
	phase := phaseOf(req)
	f.requests = append(f.requests, req)
	i := f.calls[phase]
	f.calls[phase]++

	var script []string
	switch phase {
	case "analysis":
		script = f.analysis
	case "regeneration":
		script = f.regeneration
	default:
		script = f.response
	}
	if len(script) == 0 {
		return nil, errors.New("no scripted reply")
	}
	if i >= len(script) {
		i = len(script) - 1
	}
	if script[i] == "ERR" {
		return nil, errors.New("provider down")
	}
	return &llm.Reply{Content: script[i], Provider: "fake", Model: "fake-1"}, nil
}

func draftJSON(t *testing.T, d sanitize.Draft) string {
	t.Helper()
	b, err := json.Marshal(d)
	require.NoError(t, err)
	return string(b)
}

type fixedChecker struct {
	level domain.CrisisLevel
	err   error
	calls int
}

func (c *fixedChecker) Check(context.Context, string) (domain.CrisisLevel, error) {
	c.calls++
	return c.level, c.err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(gw llm.Sender, checker CrisisChecker) *Engine {
	return New(gw, checker, WithLogger(quietLogger()), WithPicker(sanitize.FirstPicker{}))
}

const analysisReply = `{"trigger_event":"a missed deadline","likely_interpretation":"I let everyone down","underlying_fear":"being seen as incompetent","emotional_need":"reassurance","core_wound":""}`

func goodDraft() sanitize.Draft {
	return sanitize.Draft{
		Acknowledgment: "Missing that deadline clearly stung.",
		ThoughtPattern: "all or nothing",
		PatternNote:    "One miss is being read as a pattern.",
		Reframe:        "A single late project shows a hard week, not a lack of ability.",
		Question:       "What got in the way this time?",
		Encouragement:  "Noticing this is already a step.",
		LayerInsight:   "The event is pointing at a worry about competence.",
	}
}

func TestRespondRejectsInvalidInput(t *testing.T) {
	gw := newFakeGateway()
	checker := &fixedChecker{level: domain.CrisisLow}
	e := newTestEngine(gw, checker)

	_, err := e.Respond(context.Background(), Request{UserMessage: " \n\t "})
	require.ErrorIs(t, err, ErrEmptyMessage)
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = e.Respond(context.Background(), Request{UserMessage: strings.Repeat("a", MaxMessageRunes+1)})
	require.ErrorIs(t, err, ErrMessageTooLong)

	assert.Zero(t, checker.calls, "no crisis call before validation")
	assert.Empty(t, gw.requests, "no model call before validation")
}

func TestCrisisPrecedence(t *testing.T) {
	gw := newFakeGateway()
	checker := &fixedChecker{level: domain.CrisisHigh}
	e := newTestEngine(gw, checker)

	session := domain.SessionContext{GroundingMode: true, GroundingTurns: 1, UserIntent: domain.IntentListen}
	res, err := e.Respond(context.Background(), Request{
		UserMessage: "I don't want to be here anymore",
		Session:     session,
		Intent:      "CALM",
	})
	require.NoError(t, err)

	out := res.Output
	assert.True(t, out.IsCrisisResponse)
	assert.Empty(t, out.Question)
	assert.Empty(t, out.Reframe)
	assert.Equal(t, domain.LayerSurface, out.IcebergLayer)
	assert.Equal(t, domain.CrisisHigh, out.Meta.CrisisLevel)
	assert.Empty(t, gw.requests, "crisis short-circuits model calls")

	want := session
	want.OriginalTrigger = "I don't want to be here anymore"
	if diff := cmp.Diff(want, res.Context); diff != "" {
		t.Fatalf("context changed beyond trigger (-want +got):\n%s", diff)
	}
}

func TestCrisisAtCoreWoundKeepsCoreBeliefLabel(t *testing.T) {
	tests := []struct {
		name    string
		session domain.SessionContext
		turn    int
		layer   domain.Layer
		pattern string
	}{
		{"first turn", domain.SessionContext{}, 1, domain.LayerSurface, ""},
		{"core belief pinned", domain.SessionContext{CoreBeliefAlreadyDetected: true}, 2, domain.LayerCoreWound, sanitize.LabelCoreBelief},
		{"deep by turn count", domain.SessionContext{}, 8, domain.LayerCoreWound, sanitize.LabelCoreBelief},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(newFakeGateway(), &fixedChecker{level: domain.CrisisHigh})
			res, err := e.Respond(context.Background(), Request{
				UserMessage: "I want to end it all",
				Session:     tt.session,
				Turn:        tt.turn,
			})
			require.NoError(t, err)

			out := res.Output
			assert.True(t, out.IsCrisisResponse)
			assert.Equal(t, tt.layer, out.IcebergLayer)
			assert.Equal(t, tt.pattern, out.ThoughtPattern)
			assert.Equal(t, out.IcebergLayer == domain.LayerCoreWound, out.ThoughtPattern == sanitize.LabelCoreBelief)
		})
	}
}

func TestCrisisCheckerFailureProceedsAsLow(t *testing.T) {
	gw := newFakeGateway()
	gw.analysis = []string{analysisReply}
	gw.response = []string{draftJSON(t, goodDraft())}
	checker := &fixedChecker{err: errors.New("unreachable")}
	e := newTestEngine(gw, checker)

	res, err := e.Respond(context.Background(), Request{UserMessage: "I missed a deadline at work"})
	require.NoError(t, err)
	assert.Equal(t, 2, checker.calls, "one retry")
	assert.False(t, res.Output.IsCrisisResponse)
	assert.Equal(t, domain.CrisisLow, res.Output.Meta.CrisisLevel)
}

func TestCoreWoundAtTurnOne(t *testing.T) {
	gw := newFakeGateway()
	gw.analysis = []string{analysisReply}
	d := goodDraft()
	d.ThoughtPattern = "Overgeneralization"
	gw.response = []string{draftJSON(t, d)}
	e := newTestEngine(gw, &fixedChecker{level: domain.CrisisLow})

	res, err := e.Respond(context.Background(), Request{UserMessage: "I always fail at everything, I'm such a failure"})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Output.Meta.TurnCount)
	assert.Equal(t, domain.LayerCoreWound, res.Output.IcebergLayer)
	assert.Equal(t, sanitize.LabelCoreBelief, res.Output.ThoughtPattern)
	assert.True(t, res.Context.CoreBeliefAlreadyDetected)
	assert.Equal(t, "I always fail at everything, I'm such a failure", res.Context.OriginalTrigger)
	assert.GreaterOrEqual(t, res.Output.LayerProgress.CoreBelief, 60)
}

func TestThanksIsPresenceWithoutQuestion(t *testing.T) {
	gw := newFakeGateway()
	gw.analysis = []string{analysisReply}
	gw.response = []string{draftJSON(t, goodDraft())}
	e := newTestEngine(gw, &fixedChecker{level: domain.CrisisLow})

	res, err := e.Respond(context.Background(), Request{UserMessage: "thanks, I feel a little better now"})
	require.NoError(t, err)

	meta := res.Output.Meta
	assert.Equal(t, domain.StatePresence, meta.State)
	assert.Equal(t, domain.InterventionValidateOnly, meta.Intervention)
	assert.Equal(t, "", res.Output.Question, "model question must be suppressed")
	assert.Equal(t, domain.QuestionNone, meta.QuestionType)
	assert.Contains(t, meta.Reasons, "rule=thanks_relief")
}

func TestArousalBeatsActionRequest(t *testing.T) {
	gw := newFakeGateway()
	gw.analysis = []string{analysisReply}
	gw.response = []string{draftJSON(t, goodDraft())}
	e := newTestEngine(gw, &fixedChecker{level: domain.CrisisLow})

	msg := "I can't breathe, I'm panicking, what do I do!!"
	require.True(t, ActionRequest(msg))
	require.GreaterOrEqual(t, ArousalScore(msg), ArousalThreshold)

	res, err := e.Respond(context.Background(), Request{UserMessage: msg})
	require.NoError(t, err)
	assert.Equal(t, domain.StateRegulate, res.Output.Meta.State)
	assert.Equal(t, domain.InterventionGround, res.Output.Meta.Intervention)
	assert.Empty(t, res.Output.Question)
}

func TestRepeatedReframeReplaced(t *testing.T) {
	gw := newFakeGateway()
	gw.analysis = []string{analysisReply}
	d := goodDraft()
	d.Reframe = repeatedReframe
	gw.response = []string{draftJSON(t, d)}
	gw.regeneration = []string{draftJSON(t, d)}
	e := newTestEngine(gw, &fixedChecker{level: domain.CrisisLow})

	first, err := e.Respond(context.Background(), Request{UserMessage: "My manager said my report was sloppy"})
	require.NoError(t, err)
	require.Equal(t, repeatedReframe, first.Output.Reframe)
	assert.Zero(t, gw.calls["regeneration"])

	history := []domain.ChatMessage{
		{Role: domain.RoleUser, Content: "My manager said my report was sloppy"},
		{Role: domain.RoleAssistant, Content: first.Output.Text()},
	}
	second, err := e.Respond(context.Background(), Request{
		UserMessage: "Now I keep replaying the meeting",
		History:     history,
		Session:     first.Context,
	})
	require.NoError(t, err)

	pause := "It might help to pause here. The feeling is real, and it doesn't have to decide what happens next."
	assert.Equal(t, pause, second.Output.Reframe)
	assert.Equal(t, 1, gw.calls["regeneration"], "exactly one regeneration")
	assert.False(t, second.Output.Meta.Regenerated, "failed regeneration keeps the sanitized draft")
	assert.Contains(t, second.Output.Meta.RegenerationReasons, sanitize.ReasonDuplicateReframe)
	assert.Equal(t, []string{pause, repeatedReframe}, second.Context.PreviousReframes)
}

func TestRegenerationReplacesDraftWhenItPasses(t *testing.T) {
	gw := newFakeGateway()
	gw.analysis = []string{analysisReply}
	bad := goodDraft()
	bad.Reframe = "You're not alone in this."
	better := goodDraft()
	better.Reframe = "Being late once says more about the week you had than about who you are."
	gw.response = []string{draftJSON(t, bad)}
	gw.regeneration = []string{draftJSON(t, better)}
	e := newTestEngine(gw, &fixedChecker{level: domain.CrisisLow})

	res, err := e.Respond(context.Background(), Request{UserMessage: "I was late with the project"})
	require.NoError(t, err)
	assert.True(t, res.Output.Meta.Regenerated)
	assert.Equal(t, better.Reframe, res.Output.Reframe)

	regen := gw.requests[len(gw.requests)-1]
	assert.Contains(t, regen.Messages[0].Content, sanitize.ReasonGenericReframe)
}

func TestModelFailureFallsBackToDefaults(t *testing.T) {
	gw := newFakeGateway()
	gw.analysis = []string{"ERR"}
	gw.response = []string{"not json at all"}
	e := newTestEngine(gw, &fixedChecker{level: domain.CrisisLow})

	res, err := e.Respond(context.Background(), Request{UserMessage: "My sister didn't call me back"})
	require.NoError(t, err)

	assert.Equal(t, 2, gw.calls["analysis"], "analysis retried once")
	assert.Equal(t, 2, gw.calls["response"], "response retried once")
	assert.Zero(t, gw.calls["regeneration"])

	out := res.Output
	assert.True(t, out.Meta.AnalysisFallback)
	assert.True(t, out.Meta.ResponseFallback)
	assert.Equal(t, defaultAcknowledgments[domain.InterventionReflectMap], out.Acknowledgment)
	assert.Equal(t, defaultQuestions[domain.InterventionReflectMap], out.Question)
	assert.NotEmpty(t, out.Reframe, "canned reframe fills an empty model reframe")
	assert.NotEmpty(t, out.LayerInsight)
}

func TestEmptyObjectsAreRetried(t *testing.T) {
	gw := newFakeGateway()
	gw.analysis = []string{`{}`, analysisReply}
	gw.response = []string{`{"acknowledgment":"","question":""}`, draftJSON(t, goodDraft())}
	e := newTestEngine(gw, &fixedChecker{level: domain.CrisisLow})

	res, err := e.Respond(context.Background(), Request{UserMessage: "I missed the deadline again"})
	require.NoError(t, err)

	assert.Equal(t, 2, gw.calls["analysis"], "empty analysis retried")
	assert.Equal(t, 2, gw.calls["response"], "empty response retried")
	assert.False(t, res.Output.Meta.AnalysisFallback)
	assert.False(t, res.Output.Meta.ResponseFallback)
	assert.Equal(t, "fake", res.Output.Meta.Provider)
}

func TestEmptyObjectsTwiceFallBack(t *testing.T) {
	gw := newFakeGateway()
	gw.analysis = []string{`{}`}
	gw.response = []string{`{}`}
	e := newTestEngine(gw, &fixedChecker{level: domain.CrisisLow})

	res, err := e.Respond(context.Background(), Request{UserMessage: "My sister didn't call me back"})
	require.NoError(t, err)

	assert.Equal(t, 2, gw.calls["analysis"])
	assert.Equal(t, 2, gw.calls["response"])
	assert.True(t, res.Output.Meta.AnalysisFallback)
	assert.True(t, res.Output.Meta.ResponseFallback)
}

func TestCallerTurnOverridesHistoryCount(t *testing.T) {
	gw := newFakeGateway()
	gw.analysis = []string{analysisReply}
	gw.response = []string{draftJSON(t, goodDraft())}
	e := newTestEngine(gw, &fixedChecker{level: domain.CrisisLow})

	history := []domain.ChatMessage{
		{Role: domain.RoleUser, Content: "earlier"},
		{Role: domain.RoleAssistant, Content: "reply"},
	}
	res, err := e.Respond(context.Background(), Request{UserMessage: "still thinking about it", History: history, Turn: 30})
	require.NoError(t, err)
	assert.Equal(t, 30, res.Output.Meta.TurnCount)

	res, err = e.Respond(context.Background(), Request{UserMessage: "still thinking about it", History: history})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Output.Meta.TurnCount)
}

func TestFencedJSONIsRecovered(t *testing.T) {
	gw := newFakeGateway()
	gw.analysis = []string{"```json\n" + analysisReply + "\n```"}
	gw.response = []string{"Here you go:\n" + draftJSON(t, goodDraft()) + "\nTake care."}
	e := newTestEngine(gw, &fixedChecker{level: domain.CrisisLow})

	res, err := e.Respond(context.Background(), Request{UserMessage: "I missed the deadline"})
	require.NoError(t, err)
	assert.False(t, res.Output.Meta.AnalysisFallback)
	assert.False(t, res.Output.Meta.ResponseFallback)
	assert.Equal(t, goodDraft().Reframe, res.Output.Reframe)
	assert.Equal(t, "fake", res.Output.Meta.Provider)
}

func TestPromptCarriesHistoryWindowAndExclusions(t *testing.T) {
	gw := newFakeGateway()
	gw.analysis = []string{analysisReply}
	gw.response = []string{draftJSON(t, goodDraft())}
	e := newTestEngine(gw, &fixedChecker{level: domain.CrisisLow})

	var history []domain.ChatMessage
	for i := 0; i < 5; i++ {
		history = append(history,
			domain.ChatMessage{Role: domain.RoleUser, Content: "user turn"},
			domain.ChatMessage{Role: domain.RoleAssistant, Content: "assistant turn"},
		)
	}
	var prevQs []string
	for i := 0; i < 12; i++ {
		prevQs = append(prevQs, "Earlier question number "+string(rune('A'+i))+"?")
	}

	_, err := e.Respond(context.Background(), Request{
		UserMessage: "still stuck on it",
		History:     history,
		Session:     domain.SessionContext{PreviousQuestions: prevQs, OriginalTrigger: "the deadline"},
	})
	require.NoError(t, err)

	analysis, response := gw.requests[0], gw.requests[1]
	assert.Len(t, analysis.Messages, 1+HistoryWindow+1)
	assert.Equal(t, "still stuck on it", analysis.Messages[len(analysis.Messages)-1].Content)
	require.NotNil(t, analysis.Schema)
	require.NotNil(t, response.Schema)

	system := response.Messages[0].Content
	assert.Contains(t, system, "Earlier question number A?")
	assert.Contains(t, system, "Earlier question number J?")
	assert.NotContains(t, system, "Earlier question number K?")
	assert.Contains(t, system, `"the deadline"`)
	assert.Contains(t, system, "Depth: EMOTION")
}

func TestSessionContextNotMutated(t *testing.T) {
	gw := newFakeGateway()
	gw.analysis = []string{analysisReply}
	gw.response = []string{draftJSON(t, goodDraft())}
	e := newTestEngine(gw, &fixedChecker{level: domain.CrisisLow})

	session := domain.SessionContext{
		PreviousQuestions: []string{"What happened?"},
		PreviousReframes:  []string{"Old reframe that was fine."},
		OriginalTrigger:   "first message",
	}
	before := session.Clone()

	res, err := e.Respond(context.Background(), Request{UserMessage: "another thing happened", Session: session})
	require.NoError(t, err)

	if diff := cmp.Diff(before, session); diff != "" {
		t.Fatalf("input context mutated (-before +after):\n%s", diff)
	}
	assert.Equal(t, "first message", res.Context.OriginalTrigger, "trigger fixed once set")
	assert.Equal(t, []string{goodDraft().Question, "What happened?"}, res.Context.PreviousQuestions)
	assert.Equal(t, domain.QuestionOpen, res.Context.LastQuestionType)
}

func TestCoreWoundStickiness(t *testing.T) {
	gw := newFakeGateway()
	gw.analysis = []string{analysisReply}
	gw.response = []string{draftJSON(t, goodDraft())}
	e := newTestEngine(gw, &fixedChecker{level: domain.CrisisLow})

	res, err := e.Respond(context.Background(), Request{
		UserMessage: "the weather is nice today",
		Session:     domain.SessionContext{CoreBeliefAlreadyDetected: true},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.LayerCoreWound, res.Output.IcebergLayer)
	assert.Equal(t, sanitize.LabelCoreBelief, res.Output.ThoughtPattern)
	assert.True(t, res.Context.CoreBeliefAlreadyDetected)
}

func TestGroundingCarriesAcrossTurnsAndDecays(t *testing.T) {
	gw := newFakeGateway()
	gw.analysis = []string{analysisReply}
	gw.response = []string{draftJSON(t, goodDraft())}
	e := newTestEngine(gw, &fixedChecker{level: domain.CrisisLow})

	res, err := e.Respond(context.Background(), Request{UserMessage: "can we do something calming"})
	require.NoError(t, err)
	assert.True(t, res.Output.GroundingMode)
	assert.Equal(t, 1, res.Output.GroundingTurns)
	assert.Equal(t, domain.StateRegulate, res.Output.Meta.State)
	assert.Empty(t, res.Output.Question)

	sc := res.Context
	for want := 2; want <= 3; want++ {
		res, err = e.Respond(context.Background(), Request{UserMessage: "ok", Session: sc})
		require.NoError(t, err)
		assert.True(t, res.Output.GroundingMode)
		assert.Equal(t, want, res.Output.GroundingTurns)
		sc = res.Context
	}

	res, err = e.Respond(context.Background(), Request{UserMessage: "ok", Session: sc})
	require.NoError(t, err)
	assert.False(t, res.Output.GroundingMode)
	assert.Zero(t, res.Output.GroundingTurns)
}

func TestStoredIntentUsedWhenRequestOmitsIt(t *testing.T) {
	gw := newFakeGateway()
	gw.analysis = []string{analysisReply}
	gw.response = []string{draftJSON(t, goodDraft())}
	e := newTestEngine(gw, &fixedChecker{level: domain.CrisisLow})

	res, err := e.Respond(context.Background(), Request{
		UserMessage: "my friend cancelled again",
		Session:     domain.SessionContext{UserIntent: domain.IntentClarity},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.IntentClarity, res.Output.Meta.Intent)
	assert.Equal(t, domain.StateClarify, res.Output.Meta.State)

	res, err = e.Respond(context.Background(), Request{
		UserMessage: "my friend cancelled again",
		Session:     domain.SessionContext{UserIntent: domain.IntentClarity},
		Intent:      " listen ",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.IntentListen, res.Context.UserIntent)
	assert.Empty(t, res.Output.Question)
}
