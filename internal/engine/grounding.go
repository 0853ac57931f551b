package engine

import "strings"

// MaxGroundingTurns is how many turns grounding mode lasts without a new signal.
const MaxGroundingTurns = 3

var groundingPhrases = []string{
	"take a break",
	"need a break",
	"something calming",
	"calm down",
	"help me calm",
	"tiny step",
	"small step",
	"just want comfort",
	"need comfort",
	"ground myself",
	"grounding",
	"breathing exercise",
	"slow down",
	"can we pause",
}

// SignalsGrounding reports whether text asks for comfort or grounding.
func SignalsGrounding(text string) bool {
	t := lower(text)
	for _, p := range groundingPhrases {
		if strings.Contains(t, p) {
			return true
		}
	}
	return false
}

// NextGrounding advances the grounding state machine by one turn.
func NextGrounding(text string, mode bool, turns int) (bool, int) {
	switch {
	case SignalsGrounding(text):
		return true, 1
	case mode && turns < MaxGroundingTurns:
		return true, turns + 1
	default:
		return false, 0
	}
}
