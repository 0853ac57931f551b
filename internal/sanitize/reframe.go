package sanitize

import (
	"strings"

	"github.com/ashureev/iceberg/internal/domain"
)

// bannedReframePhrases apply at every layer.
var bannedReframePhrases = []string{
	"everything happens for a reason",
	"look on the bright side",
	"silver lining",
	"time heals",
	"it could be worse",
	"stay positive",
	"good vibes",
}

// bannedCoreReframePhrases are metaphor cliches that trivialize a core wound.
var bannedCoreReframePhrases = []string{
	"just a story",
	"not the ending",
	"not the end of your story",
	"next chapter",
	"new chapter",
	"plot twist",
	"rewrite your story",
	"rewrite the story",
	"light at the end of the tunnel",
	"this storm will pass",
	"storms pass",
}

// metaphorClusters group imagery that reads as repetitive across turns.
// Words carry a leading space so they only match at a word start.
var metaphorClusters = map[string][]string{
	"story":   {" story", " chapter", " plot", " narrative", " script"},
	"weather": {" storm", " rain", " cloud", " sunshine", " weather"},
	"journey": {" journey", " path", " road ahead", " destination"},
	"light":   {" light at", " darkness", " tunnel", " dawn"},
}

// ReframeInput carries what reframe sanitization needs besides the candidate.
type ReframeInput struct {
	Layer     domain.Layer
	Fear      string
	CoreWound string
	History   []string
}

// ReframeRejection names why a model reframe was replaced, or "" if kept.
func ReframeRejection(candidate string, in ReframeInput) string {
	n := Normalize(candidate)
	switch {
	case n == "":
		return "empty"
	case containsAny(n, bannedReframePhrases):
		return "banned_phrase"
	case in.Layer == domain.LayerCoreWound && containsAny(n, bannedCoreReframePhrases):
		return "banned_core_phrase"
	case IsDuplicate(candidate, in.History):
		return "duplicate"
	case strings.HasPrefix(n, "what if") && anyStartsWithWhatIf(in.History):
		return "repeated_what_if"
	case sharesMetaphorCluster(n, in.History):
		return "repeated_metaphor"
	default:
		return ""
	}
}

// SanitizeReframe returns the candidate when it passes policy, otherwise an
// unused canned alternative for the layer and theme. The bool reports
// whether a canned reframe was substituted.
func SanitizeReframe(picker Picker, candidate string, in ReframeInput) (string, bool) {
	if ReframeRejection(candidate, in) == "" {
		return strings.TrimSpace(candidate), false
	}
	return CannedReframe(picker, in.Layer, DetectTheme(in.Fear, in.CoreWound), in.History), true
}

func anyStartsWithWhatIf(history []string) bool {
	for _, h := range history {
		if strings.HasPrefix(Normalize(h), "what if") {
			return true
		}
	}
	return false
}

func clustersOf(normalized string) []string {
	var out []string
	for name, words := range metaphorClusters {
		if containsAny(" "+normalized, words) {
			out = append(out, name)
		}
	}
	return out
}

func sharesMetaphorCluster(normalized string, history []string) bool {
	current := clustersOf(normalized)
	if len(current) == 0 {
		return false
	}
	for _, h := range history {
		for _, prior := range clustersOf(Normalize(h)) {
			for _, c := range current {
				if c == prior {
					return true
				}
			}
		}
	}
	return false
}
