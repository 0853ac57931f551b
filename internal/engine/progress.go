package engine

import "github.com/ashureev/iceberg/internal/domain"

// coreBeliefTurnFloor is the turn number assumed once a core belief is seen.
const coreBeliefTurnFloor = 7

// Project converts a turn number into overall and per-layer progress.
func Project(turn int, coreDetected bool) (int, domain.LayerProgress) {
	if coreDetected {
		turn = max(turn, coreBeliefTurnFloor)
	}

	coreBelief := min(max(0, turn-4)*30, 100)
	if coreDetected {
		coreBelief = max(coreBelief, 60)
	}

	return min(turn*12, 100), domain.LayerProgress{
		Surface:    min(turn*25, 100),
		Trigger:    min(max(0, turn-1)*30, 100),
		Emotion:    min(max(0, turn-2)*35, 100),
		CoreBelief: coreBelief,
	}
}
