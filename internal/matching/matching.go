// Package matching implements the bot matching engine.
//
// The engine turns a candidate pool into a set of disjoint pairs according to
// a policy (random, capability-based, type-based). It is a pure function of
// its input apart from the random policy, which draws from the engine's
// source. Callers look policies up by name with Lookup.
package matching

import (
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/agentoven/agentoven/pairing-plane/pkg/models"
)

// Policy is the closed set of matching algorithms.
type Policy int

const (
	Random Policy = iota
	CapabilityBased
	TypeBased
)

func (p Policy) String() string {
	switch p {
	case Random:
		return "random"
	case CapabilityBased:
		return "capability_based"
	case TypeBased:
		return "type_based"
	}
	return "unknown"
}

// strategies maps public strategy names to policies.
var strategies = map[string]Policy{
	models.DefaultStrategy: Random,
	"capability_based":     CapabilityBased,
	"type_based":           TypeBased,
}

// Lookup resolves a strategy name. ok is false for unknown names.
func Lookup(name string) (Policy, bool) {
	p, ok := strategies[name]
	return p, ok
}

// Names returns the registered strategy names, sorted.
func Names() []string {
	names := make([]string, 0, len(strategies))
	for n := range strategies {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Pairing is one matched couple. Primary is always the candidate the policy
// visited first.
type Pairing struct {
	Primary   models.Bot
	Secondary models.Bot
}

// Engine runs matching policies.
type Engine struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewEngine creates an engine seeded from the clock.
func NewEngine() *Engine {
	return NewSeededEngine(time.Now().UnixNano())
}

// NewSeededEngine creates an engine with a fixed random seed.
func NewSeededEngine(seed int64) *Engine {
	return &Engine{rng: rand.New(rand.NewSource(seed))}
}

// Match pairs candidates using policy. Fewer than two candidates yields no
// pairs; leftovers are dropped silently.
func (e *Engine) Match(candidates []models.Bot, policy Policy) []Pairing {
	if len(candidates) < 2 {
		return []Pairing{}
	}

	switch policy {
	case CapabilityBased:
		return matchByCapability(candidates)
	case TypeBased:
		return matchByType(candidates)
	default:
		return e.matchRandom(candidates)
	}
}

// ── Random ──────────────────────────────────────────────────

func (e *Engine) matchRandom(candidates []models.Bot) []Pairing {
	shuffled := make([]models.Bot, len(candidates))
	copy(shuffled, candidates)

	e.mu.Lock()
	e.rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	e.mu.Unlock()

	pairs := make([]Pairing, 0, len(shuffled)/2)
	for i := 0; i+1 < len(shuffled); i += 2 {
		pairs = append(pairs, Pairing{Primary: shuffled[i], Secondary: shuffled[i+1]})
	}
	return pairs
}

// ── Capability-based ────────────────────────────────────────

func matchByCapability(candidates []models.Bot) []Pairing {
	sorted := make([]models.Bot, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Capabilities.Key() < sorted[j].Capabilities.Key()
	})

	used := make([]bool, len(sorted))
	var pairs []Pairing

	for i := range sorted {
		if used[i] {
			continue
		}

		best := -1
		bestScore := -1.0
		for j := i + 1; j < len(sorted); j++ {
			if used[j] {
				continue
			}
			// Strictly greater: the first candidate seen keeps ties.
			if s := Compatibility(sorted[i].Capabilities, sorted[j].Capabilities); s > bestScore {
				bestScore = s
				best = j
			}
		}

		if best >= 0 {
			pairs = append(pairs, Pairing{Primary: sorted[i], Secondary: sorted[best]})
			used[i] = true
			used[best] = true
		}
	}

	if pairs == nil {
		return []Pairing{}
	}
	return pairs
}

// Compatibility scores two capability sets. Differing sets score
// |a ∪ b| / max(|a|, |b|, 1); identical sets, including two empty ones,
// score 0.5.
func Compatibility(a, b models.Capabilities) float64 {
	if a.Equal(b) {
		return 0.5
	}
	denom := max(len(models.NewCapabilities(a...)), len(models.NewCapabilities(b...)), 1)
	return float64(a.UnionSize(b)) / float64(denom)
}

// ── Type-based ──────────────────────────────────────────────

func matchByType(candidates []models.Bot) []Pairing {
	var order []string
	groups := make(map[string][]int)
	for i, b := range candidates {
		if _, ok := groups[b.Type]; !ok {
			order = append(order, b.Type)
		}
		groups[b.Type] = append(groups[b.Type], i)
	}

	used := make([]bool, len(candidates))
	remaining := func(t string) []int {
		var out []int
		for _, idx := range groups[t] {
			if !used[idx] {
				out = append(out, idx)
			}
		}
		return out
	}

	pairs := []Pairing{}

	// Cross-type pairs first, consuming each group from the front.
	for i, ta := range order {
		for _, tb := range order[i+1:] {
			a, b := remaining(ta), remaining(tb)
			n := min(len(a), len(b))
			for k := 0; k < n; k++ {
				pairs = append(pairs, Pairing{Primary: candidates[a[k]], Secondary: candidates[b[k]]})
				used[a[k]] = true
				used[b[k]] = true
			}
		}
	}

	// Then whatever is left inside each group, in original order.
	for _, t := range order {
		rest := remaining(t)
		for k := 0; k+1 < len(rest); k += 2 {
			pairs = append(pairs, Pairing{Primary: candidates[rest[k]], Secondary: candidates[rest[k+1]]})
			used[rest[k]] = true
			used[rest[k+1]] = true
		}
	}

	return pairs
}
