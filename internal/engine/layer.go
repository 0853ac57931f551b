package engine

import (
	"github.com/ashureev/iceberg/internal/domain"
	"github.com/ashureev/iceberg/internal/sanitize"
)

// TurnCount is the 1-based turn number implied by history length.
func TurnCount(history []domain.ChatMessage) int {
	return len(history)/2 + 1
}

// LayerForTurn is the default layer for a turn number.
func LayerForTurn(turn int) domain.Layer {
	switch {
	case turn <= 2:
		return domain.LayerSurface
	case turn <= 4:
		return domain.LayerTransition
	case turn <= 6:
		return domain.LayerEmotion
	default:
		return domain.LayerCoreWound
	}
}

// ClassifyLayer returns the effective layer and whether a core belief has
// been detected in this session, including this message.
func ClassifyLayer(text string, turn int, coreDetected bool) (domain.Layer, bool) {
	if coreDetected || sanitize.MatchesCoreBelief(text) {
		return domain.LayerCoreWound, true
	}
	return LayerForTurn(turn), false
}
