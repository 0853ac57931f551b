package crisis

import (
	"context"
	"log/slog"

	"github.com/ashureev/iceberg/internal/domain"
)

// Fallback asks Primary first and Secondary when Primary errors.
type Fallback struct {
	Primary   Checker
	Secondary Checker
	Logger    *slog.Logger
}

// Check implements Checker.
func (f *Fallback) Check(ctx context.Context, text string) (domain.CrisisLevel, error) {
	if f.Primary != nil {
		level, err := f.Primary.Check(ctx, text)
		if err == nil {
			return level, nil
		}
		logger := f.Logger
		if logger == nil {
			logger = slog.Default()
		}
		logger.Warn("primary crisis checker failed, using fallback", "error", err)
	}
	return f.Secondary.Check(ctx, text)
}
