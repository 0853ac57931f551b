package engine

import (
	"context"
	"log/slog"

	"github.com/ashureev/iceberg/internal/domain"
	"github.com/ashureev/iceberg/internal/sanitize"
)

// CrisisChecker classifies text by crisis severity.
type CrisisChecker interface {
	Check(ctx context.Context, text string) (domain.CrisisLevel, error)
}

const (
	crisisAcknowledgment = "I'm really glad you told me. What you're carrying right now sounds incredibly painful, and you deserve support right away."
	crisisEncouragement  = "Please reach out now: call or text 988 (Suicide & Crisis Lifeline, US), call your local emergency number, or contact someone you trust and tell them how you're feeling."
	crisisLayerInsight   = "Right now your safety matters more than anything we could explore together."
)

// checkCrisis asks the checker twice at most. Persistent failure is logged
// and treated as LOW so the rest of the pipeline still runs.
func checkCrisis(ctx context.Context, checker CrisisChecker, text string, logger *slog.Logger) domain.CrisisLevel {
	if checker == nil {
		return domain.CrisisLow
	}
	var lastErr error
	for attempt := 1; attempt <= 2; attempt++ {
		level, err := checker.Check(ctx, text)
		if err == nil {
			return level
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	logger.Error("crisis check failed, proceeding as LOW", "error", lastErr)
	return domain.CrisisLow
}

// crisisOutput is the fixed safety payload. Only progress and layer vary,
// computed from turn count and the session's core-belief pin. A core wound
// layer carries the Core Belief label like every other output.
func crisisOutput(turn int, sc domain.SessionContext) domain.EngineOutput {
	layer := LayerForTurn(turn)
	if sc.CoreBeliefAlreadyDetected {
		layer = domain.LayerCoreWound
	}
	score, progress := Project(turn, sc.CoreBeliefAlreadyDetected)
	var pattern string
	if layer == domain.LayerCoreWound {
		pattern = sanitize.LabelCoreBelief
	}

	return domain.EngineOutput{
		Acknowledgment:   crisisAcknowledgment,
		Encouragement:    crisisEncouragement,
		ThoughtPattern:   pattern,
		IcebergLayer:     layer,
		LayerInsight:     crisisLayerInsight,
		ProgressScore:    score,
		LayerProgress:    progress,
		IsCrisisResponse: true,
		Meta: domain.Meta{
			TurnCount:   turn,
			CrisisLevel: domain.CrisisHigh,
			Reasons:     []string{"rule=crisis"},
		},
	}
}
