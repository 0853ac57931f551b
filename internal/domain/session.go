package domain

import (
	"time"
)

// History caps for SessionContext lists.
const (
	MaxPreviousQuestions    = 25
	MaxPreviousReframes     = 25
	MaxPreviousDistortions  = 10
	MaxPreviousPatternNotes = 10
)

// SessionContext is the per-session carry-over state supplied by the caller.
// The engine never mutates a SessionContext in place; it returns a new one.
type SessionContext struct {
	PreviousQuestions         []string     `json:"previousQuestions"`
	PreviousReframes          []string     `json:"previousReframes"`
	PreviousDistortions       []string     `json:"previousDistortions"`
	PreviousPatternNotes      []string     `json:"previousPatternNotes"`
	OriginalTrigger           string       `json:"originalTrigger"`
	GroundingMode             bool         `json:"groundingMode"`
	GroundingTurns            int          `json:"groundingTurns"`
	LastQuestionType          QuestionType `json:"lastQuestionType"`
	CoreBeliefAlreadyDetected bool         `json:"coreBeliefAlreadyDetected"`
	UserIntent                Intent       `json:"userIntent"`
}

// Clone returns a deep copy of the context.
func (c SessionContext) Clone() SessionContext {
	out := c
	out.PreviousQuestions = cloneStrings(c.PreviousQuestions)
	out.PreviousReframes = cloneStrings(c.PreviousReframes)
	out.PreviousDistortions = cloneStrings(c.PreviousDistortions)
	out.PreviousPatternNotes = cloneStrings(c.PreviousPatternNotes)
	return out
}

// WithTrigger sets OriginalTrigger if it is not already set.
func (c SessionContext) WithTrigger(message string) SessionContext {
	if c.OriginalTrigger == "" {
		c.OriginalTrigger = message
	}
	return c
}

// PreviousLabel returns the most recent thought-pattern label, if any.
func (c SessionContext) PreviousLabel() string {
	if len(c.PreviousDistortions) == 0 {
		return ""
	}
	return c.PreviousDistortions[0]
}

// Remember returns a copy of c with the user-visible parts of out pushed onto
// the front of the history lists. Empty values are not recorded.
func (c SessionContext) Remember(out EngineOutput) SessionContext {
	next := c.Clone()
	next.PreviousQuestions = pushFront(next.PreviousQuestions, out.Question, MaxPreviousQuestions)
	next.PreviousReframes = pushFront(next.PreviousReframes, out.Reframe, MaxPreviousReframes)
	next.PreviousDistortions = pushFront(next.PreviousDistortions, out.ThoughtPattern, MaxPreviousDistortions)
	next.PreviousPatternNotes = pushFront(next.PreviousPatternNotes, out.PatternNote, MaxPreviousPatternNotes)
	next.GroundingMode = out.GroundingMode
	next.GroundingTurns = out.GroundingTurns
	next.LastQuestionType = out.Meta.QuestionType
	if out.IcebergLayer == LayerCoreWound {
		next.CoreBeliefAlreadyDetected = true
	}
	return next
}

// Session is the persisted row backing a SessionContext.
type Session struct {
	UserID    string
	SessionID string
	Context   SessionContext
	TurnCount int
	CreatedAt time.Time
	UpdatedAt time.Time
}

func pushFront(list []string, v string, limit int) []string {
	if v == "" {
		return list
	}
	out := make([]string, 0, min(len(list)+1, limit))
	out = append(out, v)
	for _, item := range list {
		if len(out) >= limit {
			break
		}
		out = append(out, item)
	}
	return out
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
