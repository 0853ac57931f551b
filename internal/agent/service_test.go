package agent

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/iceberg/internal/domain"
	"github.com/ashureev/iceberg/internal/engine"
	"github.com/ashureev/iceberg/internal/store"
)

// fakeReflector numbers its outputs and records the requests it saw.
type fakeReflector struct {
	mu       sync.Mutex
	requests []engine.Request
	err      error
	delay    time.Duration
}

func (f *fakeReflector) Respond(ctx context.Context, req engine.Request) (*engine.Result, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	message, err := engine.ValidateMessage(req.UserMessage)
	if err != nil {
		return nil, err
	}

	n := req.Turn
	out := domain.EngineOutput{
		Acknowledgment: fmt.Sprintf("heard %d", n),
		Question:       fmt.Sprintf("question %d?", n),
		Reframe:        fmt.Sprintf("reframe %d", n),
		IcebergLayer:   domain.LayerSurface,
		Meta:           domain.Meta{TurnCount: n, State: domain.StateClarify},
	}
	return &engine.Result{
		Output:  out,
		Context: req.Session.WithTrigger(message).Remember(out),
	}, nil
}

func (f *fakeReflector) seen() []engine.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]engine.Request(nil), f.requests...)
}

func newTestService(t *testing.T, reflector Reflector) (*Service, *store.SQLiteStore) {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "iceberg.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	svc := NewService(reflector, repo, DefaultConfig(), nil, nil)
	t.Cleanup(func() { _ = svc.Close() })
	return svc, repo
}

func TestReflectPersistsTurnsAndFeedsHistory(t *testing.T) {
	fake := &fakeReflector{}
	svc, repo := newTestService(t, fake)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		out, err := svc.Reflect(ctx, ReflectRequest{
			Message:   fmt.Sprintf("  message %d  ", i),
			UserID:    "user-1",
			SessionID: "default",
		})
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("question %d?", i), out.Question)
	}

	reqs := fake.seen()
	require.Len(t, reqs, 3)
	assert.Empty(t, reqs[0].History)
	assert.Len(t, reqs[2].History, 4)
	assert.Equal(t, domain.RoleUser, reqs[2].History[0].Role)
	assert.Equal(t, "message 1", reqs[2].History[0].Content)
	assert.Equal(t, domain.RoleAssistant, reqs[2].History[1].Role)

	// Anti-repetition lists are rebuilt newest first.
	assert.Equal(t, []string{"question 2?", "question 1?"}, reqs[2].Session.PreviousQuestions)
	assert.Equal(t, "message 1", reqs[2].Session.OriginalTrigger)

	sess, err := repo.GetSession(ctx, "user-1", "default")
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, 3, sess.TurnCount)

	msgs, err := svc.History(ctx, "user-1", "default", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 6)
	assert.Equal(t, "message 1", msgs[0].Content)
	assert.Equal(t, "heard 3\n\nreframe 3\n\nquestion 3?", msgs[5].Content)
}

func TestReflectTurnCountSurvivesHistoryTrim(t *testing.T) {
	fake := &fakeReflector{}
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "iceberg.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	svc := NewService(fake, repo, Config{HistoryLimit: 2, OutputLimit: 2}, nil, nil)
	ctx := context.Background()

	var out *domain.EngineOutput
	for i := 1; i <= 4; i++ {
		out, err = svc.Reflect(ctx, ReflectRequest{Message: fmt.Sprintf("m%d", i), UserID: "u", SessionID: "s"})
		require.NoError(t, err)
	}

	reqs := fake.seen()
	assert.Len(t, reqs[3].History, 2, "history trimmed to the limit")
	assert.Equal(t, 4, reqs[3].Turn)
	assert.Equal(t, 4, out.Meta.TurnCount)
}

func TestReflectSessionsAreIsolated(t *testing.T) {
	fake := &fakeReflector{}
	svc, _ := newTestService(t, fake)
	ctx := context.Background()

	_, err := svc.Reflect(ctx, ReflectRequest{Message: "a", UserID: "u", SessionID: "one"})
	require.NoError(t, err)
	_, err = svc.Reflect(ctx, ReflectRequest{Message: "b", UserID: "u", SessionID: "two"})
	require.NoError(t, err)

	reqs := fake.seen()
	assert.Empty(t, reqs[1].History)
	assert.Empty(t, reqs[1].Session.PreviousQuestions)
}

func TestReflectErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("missing identity", func(t *testing.T) {
		svc, _ := newTestService(t, &fakeReflector{})
		_, err := svc.Reflect(ctx, ReflectRequest{Message: "hi"})
		assert.ErrorIs(t, err, ErrMissingIdentity)
	})

	t.Run("invalid input is not persisted", func(t *testing.T) {
		svc, repo := newTestService(t, &fakeReflector{})
		_, err := svc.Reflect(ctx, ReflectRequest{Message: "   ", UserID: "u", SessionID: "s"})
		assert.ErrorIs(t, err, engine.ErrInvalidInput)

		sess, err := repo.GetSession(ctx, "u", "s")
		require.NoError(t, err)
		assert.Nil(t, sess)
	})

	t.Run("engine failure", func(t *testing.T) {
		boom := errors.New("boom")
		svc, _ := newTestService(t, &fakeReflector{err: boom})
		_, err := svc.Reflect(ctx, ReflectRequest{Message: "hi", UserID: "u", SessionID: "s"})
		assert.ErrorIs(t, err, boom)
	})
}

func TestResetClearsSession(t *testing.T) {
	fake := &fakeReflector{}
	svc, repo := newTestService(t, fake)
	ctx := context.Background()

	_, err := svc.Reflect(ctx, ReflectRequest{Message: "first", UserID: "u", SessionID: "s"})
	require.NoError(t, err)
	require.NoError(t, svc.Reset(ctx, "u", "s"))

	msgs, err := svc.History(ctx, "u", "s", 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	_, err = svc.Reflect(ctx, ReflectRequest{Message: "again", UserID: "u", SessionID: "s"})
	require.NoError(t, err)
	reqs := fake.seen()
	assert.Empty(t, reqs[1].Session.OriginalTrigger, "reset session starts without a trigger")
	assert.Empty(t, reqs[1].Session.PreviousQuestions)

	sess, err := repo.GetSession(ctx, "u", "s")
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, "again", sess.Context.OriginalTrigger)
	assert.Equal(t, 1, sess.TurnCount)

	assert.ErrorIs(t, svc.Reset(ctx, "", "s"), ErrMissingIdentity)
}

func TestReflectSerializesSameSession(t *testing.T) {
	fake := &fakeReflector{delay: 10 * time.Millisecond}
	svc, repo := newTestService(t, fake)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Reflect(ctx, ReflectRequest{Message: fmt.Sprintf("m%d", i), UserID: "u", SessionID: "s"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	sess, err := repo.GetSession(ctx, "u", "s")
	require.NoError(t, err)
	assert.Equal(t, 5, sess.TurnCount)

	// Each turn saw every earlier turn.
	seenHistory := make([]int, 0, 5)
	for _, r := range fake.seen() {
		seenHistory = append(seenHistory, len(r.History))
	}
	assert.Equal(t, []int{0, 2, 4, 6, 8}, seenHistory)
	assert.Zero(t, svc.locks.size())
}

func TestRebuildContext(t *testing.T) {
	sess := &domain.Session{Context: domain.SessionContext{
		PreviousQuestions: []string{"stale?"},
		OriginalTrigger:   "trigger",
		GroundingMode:     true,
		GroundingTurns:    1,
		UserIntent:        domain.IntentCalm,
	}}
	outputs := []domain.StoredOutput{
		{Output: domain.EngineOutput{Question: "q2?", Reframe: "r2", ThoughtPattern: "Labeling"}},
		{Output: domain.EngineOutput{Question: "", Reframe: "r1", PatternNote: "note"}},
	}

	got := RebuildContext(sess, outputs)
	want := domain.SessionContext{
		PreviousQuestions:    []string{"q2?"},
		PreviousReframes:     []string{"r2", "r1"},
		PreviousDistortions:  []string{"Labeling"},
		PreviousPatternNotes: []string{"note"},
		OriginalTrigger:      "trigger",
		GroundingMode:        true,
		GroundingTurns:       1,
		UserIntent:           domain.IntentCalm,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("RebuildContext() mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, domain.SessionContext{}, RebuildContext(nil, nil))
	assert.Equal(t, []string{"stale?"}, RebuildContext(sess, nil).PreviousQuestions)
}

func TestKeyedLocksReleaseKeys(t *testing.T) {
	k := newKeyedLocks()
	unlockA := k.lock("a")
	unlockB := k.lock("b")
	assert.Equal(t, 2, k.size())

	acquired := make(chan struct{})
	go func() {
		unlock := k.lock("a")
		close(acquired)
		unlock()
	}()

	select {
	case <-acquired:
		t.Fatal("second lock on the same key acquired while held")
	case <-time.After(20 * time.Millisecond):
	}

	unlockA()
	<-acquired
	unlockB()
	assert.Eventually(t, func() bool { return k.size() == 0 }, time.Second, 5*time.Millisecond)
}
