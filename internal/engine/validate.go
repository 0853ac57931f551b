package engine

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxMessageRunes is the longest accepted user message after cleaning.
const MaxMessageRunes = 2000

var (
	// ErrInvalidInput wraps every input rejection.
	ErrInvalidInput = errors.New("invalid input")
	// ErrEmptyMessage is returned when nothing is left after cleaning.
	ErrEmptyMessage = fmt.Errorf("%w: message is empty", ErrInvalidInput)
	// ErrMessageTooLong is returned above MaxMessageRunes.
	ErrMessageTooLong = fmt.Errorf("%w: message exceeds %d characters", ErrInvalidInput, MaxMessageRunes)
)

var quoteReplacer = strings.NewReplacer("’", "'", "‘", "'", "“", `"`, "”", `"`)

// CleanMessage drops invalid UTF-8 and control characters, straightens curly
// quotes and collapses whitespace runs.
func CleanMessage(raw string) string {
	s := strings.ToValidUTF8(raw, "")
	s = quoteReplacer.Replace(s)
	s = strings.Map(func(r rune) rune {
		switch {
		case unicode.IsSpace(r):
			return ' '
		case unicode.IsControl(r):
			return -1
		default:
			return r
		}
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

// ValidateMessage cleans raw and rejects empty or oversized messages.
func ValidateMessage(raw string) (string, error) {
	s := CleanMessage(raw)
	if s == "" {
		return "", ErrEmptyMessage
	}
	if utf8.RuneCountInString(s) > MaxMessageRunes {
		return "", ErrMessageTooLong
	}
	return s, nil
}
