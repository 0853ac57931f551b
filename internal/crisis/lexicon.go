// Package crisis classifies user text by crisis severity. A local phrase
// lexicon is always available; a remote lexicon service can be reached over
// gRPC and is backed by the local one on failure.
package crisis

import (
	"context"
	"fmt"
	"strings"

	"github.com/ashureev/iceberg/internal/domain"
)

// Checker returns the crisis severity of a piece of text.
type Checker interface {
	Check(ctx context.Context, text string) (domain.CrisisLevel, error)
}

// highRiskPhrases indicate self-harm or suicidal intent.
var highRiskPhrases = []string{
	"kill myself",
	"killing myself",
	"end my life",
	"ending my life",
	"take my own life",
	"want to die",
	"wanna die",
	"suicide",
	"suicidal",
	"better off dead",
	"better off without me",
	"hurt myself",
	"hurting myself",
	"self harm",
	"self-harm",
	"cut myself",
	"no reason to live",
	"don't want to be alive",
	"dont want to be alive",
	"don't want to live",
	"dont want to live",
	"end it all",
}

// mediumRiskPhrases indicate hopelessness without explicit intent.
var mediumRiskPhrases = []string{
	"hopeless",
	"can't go on",
	"cant go on",
	"no way out",
	"can't do this anymore",
	"cant do this anymore",
	"nothing matters",
	"give up on everything",
	"disappear forever",
	"no point in anything",
	"what's the point",
}

// Lexicon is a local phrase-table checker.
type Lexicon struct{}

// NewLexicon returns the built-in phrase lexicon.
func NewLexicon() *Lexicon {
	return &Lexicon{}
}

// Check never fails.
func (l *Lexicon) Check(_ context.Context, text string) (domain.CrisisLevel, error) {
	return Classify(text), nil
}

// Classify matches text against the phrase tables.
func Classify(text string) domain.CrisisLevel {
	t := strings.ToLower(strings.NewReplacer("’", "'", "‘", "'").Replace(text))
	for _, p := range highRiskPhrases {
		if strings.Contains(t, p) {
			return domain.CrisisHigh
		}
	}
	for _, p := range mediumRiskPhrases {
		if strings.Contains(t, p) {
			return domain.CrisisMedium
		}
	}
	return domain.CrisisLow
}

// ParseLevel maps a wire value to a CrisisLevel.
func ParseLevel(s string) (domain.CrisisLevel, error) {
	switch lvl := domain.CrisisLevel(strings.ToUpper(strings.TrimSpace(s))); lvl {
	case domain.CrisisLow, domain.CrisisMedium, domain.CrisisHigh:
		return lvl, nil
	default:
		return "", fmt.Errorf("unknown crisis level %q", s)
	}
}
