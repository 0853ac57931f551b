package engine

import (
	"strings"

	"github.com/ashureev/iceberg/internal/domain"
)

// ResolveIntent maps a declared hint to an Intent. Matching ignores case and
// surrounding whitespace; anything else resolves to AUTO.
func ResolveIntent(hint string) domain.Intent {
	h := domain.Intent(strings.ToUpper(strings.TrimSpace(hint)))
	for _, intent := range domain.Intents {
		if h == intent {
			return intent
		}
	}
	return domain.IntentAuto
}
