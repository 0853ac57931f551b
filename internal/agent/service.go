package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/iceberg/internal/domain"
	"github.com/ashureev/iceberg/internal/engine"
	"github.com/ashureev/iceberg/internal/store"
)

// ErrMissingIdentity is returned when a request carries no user ID.
var ErrMissingIdentity = errors.New("missing user identity")

// Reflector runs one engine turn.
type Reflector interface {
	Respond(ctx context.Context, req engine.Request) (*engine.Result, error)
}

// Service runs reflection turns against stored sessions.
type Service struct {
	engine Reflector
	repo   store.Repository
	cfg    Config
	log    ConversationLogger
	logger *slog.Logger
	locks  *keyedLocks
	now    func() time.Time
}

// NewService creates a session service. A nil conversation logger discards events.
func NewService(reflector Reflector, repo store.Repository, cfg Config, convLog ConversationLogger, logger *slog.Logger) *Service {
	if convLog == nil {
		convLog = noopConversationLogger{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultConfig()
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaults.HistoryLimit
	}
	if cfg.OutputLimit <= 0 {
		cfg.OutputLimit = defaults.OutputLimit
	}
	return &Service{
		engine: reflector,
		repo:   repo,
		cfg:    cfg,
		log:    convLog,
		logger: logger,
		locks:  newKeyedLocks(),
		now:    time.Now,
	}
}

// Reflect runs one turn for (UserID, SessionID) and persists the result.
// Turns for the same session are serialized.
func (s *Service) Reflect(ctx context.Context, req ReflectRequest) (*domain.EngineOutput, error) {
	if req.UserID == "" {
		return nil, ErrMissingIdentity
	}
	unlock := s.locks.lock(sessionKey(req.UserID, req.SessionID))
	defer unlock()

	sess, err := s.repo.GetSession(ctx, req.UserID, req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	stored, err := s.repo.ListMessages(ctx, req.UserID, req.SessionID, s.cfg.HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	outputs, err := s.repo.ListOutputs(ctx, req.UserID, req.SessionID, s.cfg.OutputLimit)
	if err != nil {
		return nil, fmt.Errorf("load outputs: %w", err)
	}

	history := make([]domain.ChatMessage, len(stored))
	for i, m := range stored {
		history[i] = m.ChatMessage()
	}

	turn := 1
	if sess != nil {
		turn = sess.TurnCount + 1
	}
	res, err := s.engine.Respond(ctx, engine.Request{
		UserMessage: req.Message,
		History:     history,
		Session:     RebuildContext(sess, outputs),
		Intent:      req.Intent,
		Turn:        turn,
	})
	if err != nil {
		return nil, err
	}

	message := engine.CleanMessage(req.Message)
	next := domain.Session{
		UserID:    req.UserID,
		SessionID: req.SessionID,
		Context:   res.Context,
		TurnCount: turn,
	}
	if sess != nil {
		next.CreatedAt = sess.CreatedAt
	}
	if err := s.repo.SaveTurn(ctx, store.Turn{
		Session:          next,
		UserMessage:      message,
		AssistantMessage: res.Output.Text(),
		Output:           res.Output,
		At:               s.now(),
	}); err != nil {
		return nil, fmt.Errorf("save turn: %w", err)
	}

	s.logTurn(req, message, res.Output)
	s.logger.Info("reflection turn completed",
		"user_id", req.UserID,
		"session_id", req.SessionID,
		"turn", res.Output.Meta.TurnCount,
		"layer", res.Output.IcebergLayer,
		"state", res.Output.Meta.State,
		"crisis", res.Output.IsCrisisResponse,
	)
	return &res.Output, nil
}

// History returns up to limit stored messages, oldest first.
func (s *Service) History(ctx context.Context, userID, sessionID string, limit int) ([]domain.StoredMessage, error) {
	if userID == "" {
		return nil, ErrMissingIdentity
	}
	if limit <= 0 {
		limit = s.cfg.HistoryLimit
	}
	return s.repo.ListMessages(ctx, userID, sessionID, limit)
}

// Reset discards the session's messages, outputs and context.
func (s *Service) Reset(ctx context.Context, userID, sessionID string) error {
	if userID == "" {
		return ErrMissingIdentity
	}
	unlock := s.locks.lock(sessionKey(userID, sessionID))
	defer unlock()

	if err := s.repo.ResetSession(ctx, userID, sessionID); err != nil {
		return fmt.Errorf("reset session: %w", err)
	}
	s.log.Log(ConversationLogEvent{
		UserID:    userID,
		SessionID: sessionID,
		Channel:   "service",
		Direction: "internal",
		EventType: "session_reset",
	})
	return nil
}

// Close releases the conversation logger.
func (s *Service) Close() error {
	return s.log.Close()
}

func (s *Service) logTurn(req ReflectRequest, message string, out domain.EngineOutput) {
	channel := req.Channel
	if channel == "" {
		channel = "http"
	}
	s.log.Log(ConversationLogEvent{
		UserID:     req.UserID,
		SessionID:  req.SessionID,
		Channel:    channel,
		Direction:  "inbound",
		EventType:  "user_message",
		ContentRaw: message,
		Meta:       map[string]any{"request_id": req.RequestID, "intent": req.Intent},
	})
	s.log.Log(ConversationLogEvent{
		UserID:     req.UserID,
		SessionID:  req.SessionID,
		Channel:    channel,
		Direction:  "outbound",
		EventType:  "assistant_message",
		ContentRaw: out.Text(),
		Meta: map[string]any{
			"request_id":   req.RequestID,
			"layer":        out.IcebergLayer,
			"state":        out.Meta.State,
			"intervention": out.Meta.Intervention,
			"provider":     out.Meta.Provider,
			"regenerated":  out.Meta.Regenerated,
			"crisis":       out.IsCrisisResponse,
		},
	})
}

// RebuildContext derives the engine's carry-over state. History lists come
// from stored outputs (newest first); flags, trigger and intent come from the
// session row.
func RebuildContext(sess *domain.Session, outputs []domain.StoredOutput) domain.SessionContext {
	var sc domain.SessionContext
	if sess != nil {
		sc = sess.Context.Clone()
	}
	if len(outputs) == 0 {
		return sc
	}

	sc.PreviousQuestions, sc.PreviousReframes = nil, nil
	sc.PreviousDistortions, sc.PreviousPatternNotes = nil, nil
	for _, o := range outputs {
		out := o.Output
		sc.PreviousQuestions = appendCapped(sc.PreviousQuestions, out.Question, domain.MaxPreviousQuestions)
		sc.PreviousReframes = appendCapped(sc.PreviousReframes, out.Reframe, domain.MaxPreviousReframes)
		sc.PreviousDistortions = appendCapped(sc.PreviousDistortions, out.ThoughtPattern, domain.MaxPreviousDistortions)
		sc.PreviousPatternNotes = appendCapped(sc.PreviousPatternNotes, out.PatternNote, domain.MaxPreviousPatternNotes)
	}
	return sc
}

func appendCapped(list []string, v string, limit int) []string {
	if v == "" || len(list) >= limit {
		return list
	}
	return append(list, v)
}

func sessionKey(userID, sessionID string) string {
	return userID + ":" + sessionID
}

// keyedLocks hands out one mutex per key and forgets keys nobody holds.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{locks: make(map[string]*keyedLock)}
}

func (k *keyedLocks) lock(key string) (unlock func()) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func (k *keyedLocks) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
