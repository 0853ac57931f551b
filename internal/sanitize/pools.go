package sanitize

import (
	"math/rand/v2"
	"strings"
	"sync"

	"github.com/ashureev/iceberg/internal/domain"
)

// Theme is the emotional theme used to pick a canned reframe.
type Theme string

const (
	ThemeAbandonment Theme = "abandonment"
	ThemeFailure     Theme = "failure"
	ThemeNeutral     Theme = "neutral"
)

// DetectTheme looks for abandonment words first, then failure words, in the
// analysis fear and core-wound text.
func DetectTheme(fear, coreWound string) Theme {
	t := strings.ToLower(fear + " " + coreWound)
	switch {
	case containsAny(t, []string{"love", "alone", "leave"}):
		return ThemeAbandonment
	case containsAny(t, []string{"fail", "enough"}):
		return ThemeFailure
	default:
		return ThemeNeutral
	}
}

type poolKey struct {
	core  bool
	theme Theme
}

// reframePools are the canned alternatives used when a model reframe is
// empty, banned or repeated. The neutral non-core pool holds the pause
// reframes.
var reframePools = map[poolKey][]string{
	{false, ThemeNeutral}: {
		"It might help to pause here. The feeling is real, and it doesn't have to decide what happens next.",
		"Let's slow this down for a moment. What you feel makes sense, even if the conclusion isn't settled yet.",
		"Taking a breath here is allowed. A hard moment can be real without being the whole picture.",
	},
	{false, ThemeAbandonment}: {
		"Feeling left out can hurt deeply. It doesn't yet prove that you are unwanted.",
		"Distance from someone can feel like rejection, even when the reasons are still unclear.",
		"Wanting closeness is not too much. This moment may say more about timing than about your worth to them.",
	},
	{false, ThemeFailure}: {
		"One setback shows where something was hard. It doesn't measure everything you are capable of.",
		"Falling short on this doesn't cancel the effort you put in.",
		"Not getting it right this time is information, not a verdict.",
	},
	{true, ThemeNeutral}: {
		"This belief has been heavy to carry. It makes sense that it shows up so strongly right now.",
		"A belief that feels this true usually formed for a reason. It can be looked at gently, without being obeyed.",
		"You're noticing something deep here. Noticing it is different from it being the final truth about you.",
	},
	{true, ThemeAbandonment}: {
		"The fear of being unloved runs deep. It shows how much connection matters to you, not that you can't have it.",
		"Feeling unlovable in this moment is painful. It's a feeling about your worth, not a fact about it.",
		"That fear of being left may be old and familiar. It deserves care, not agreement.",
	},
	{true, ThemeFailure}: {
		"The belief that you are not enough is heavy. One outcome cannot settle who you are.",
		"Feeling like a failure is different from being one. The feeling is real; the verdict is not proven.",
		"You hold yourself to a hard standard. Struggling with it doesn't make you less worthy.",
	},
}

// CannedReframe picks an unused canned reframe for layer and theme. It
// returns "" when every candidate already appears in history.
func CannedReframe(picker Picker, layer domain.Layer, theme Theme, history []string) string {
	key := poolKey{core: layer == domain.LayerCoreWound, theme: theme}
	pool := reframePools[key]

	fresh := make([]string, 0, len(pool))
	for _, c := range pool {
		if !IsDuplicate(c, history) {
			fresh = append(fresh, c)
		}
	}
	if len(fresh) == 0 {
		return ""
	}
	return fresh[picker.Pick(string(layer)+"/"+string(theme), len(fresh))]
}

// Picker chooses an index in [0, n) for a named pool.
type Picker interface {
	Pick(pool string, n int) int
}

// Picker kinds.
const (
	PickerRandom     = "random"
	PickerRoundRobin = "round-robin"
)

// NewPicker returns a round-robin picker for kind "round-robin" and a
// seeded random picker otherwise.
func NewPicker(kind string, seed uint64) Picker {
	if kind == PickerRoundRobin {
		return NewRoundRobinPicker()
	}
	return NewRandomPicker(seed)
}

// RandomPicker picks uniformly with a seedable source.
type RandomPicker struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomPicker returns a picker whose sequence is fixed by seed.
func NewRandomPicker(seed uint64) *RandomPicker {
	return &RandomPicker{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (p *RandomPicker) Pick(_ string, n int) int {
	if n <= 1 {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rng.IntN(n)
}

// RoundRobinPicker cycles through each pool independently.
type RoundRobinPicker struct {
	mu   sync.Mutex
	next map[string]int
}

func NewRoundRobinPicker() *RoundRobinPicker {
	return &RoundRobinPicker{next: make(map[string]int)}
}

func (p *RoundRobinPicker) Pick(pool string, n int) int {
	if n <= 1 {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.next[pool] % n
	p.next[pool] = i + 1
	return i
}

// FirstPicker always picks index 0.
type FirstPicker struct{}

func (FirstPicker) Pick(string, int) int { return 0 }
