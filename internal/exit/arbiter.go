// Package exit implements the Exit Arbiter: an ordered set of ExitRules
// evaluated against every tracked position, short-circuiting per position at
// the first rule that fires (spec §4.5).
package exit

import (
	"sort"
	"time"

	"github.com/eddiefleurent/tradeorch/internal/models"
)

// TickContext is the read-only market/clock context every rule evaluates
// against. Volatility is a single proxy value (e.g. ATR) for the loop's one
// configured symbol+timeframe -- spec assumes exactly one Strategy (and
// hence one traded symbol) per loop (Design Notes, open question).
type TickContext struct {
	Now        time.Time
	ServerTime time.Time
	Volatility float64
}

// ScratchStore is the subset of Tracker the arbiter needs: per-ticket,
// per-rule scratch state (spec I5).
type ScratchStore interface {
	Scratch(ticket int64, rule string) (map[string]any, bool)
}

// Rule is an independent exit strategy. Implementations must be stateless
// with respect to each other; any state they need is kept in the scratch bag
// handed to Evaluate (spec §4.5 "Rules are independent and stateless with
// respect to each other").
type Rule interface {
	Name() string
	Priority() int
	Enabled() bool
	Evaluate(tick TickContext, pos models.PositionRecord, scratch map[string]any) *models.ExitDecision
}

// Arbiter holds the priority-ordered rule set (spec §4.5).
type Arbiter struct {
	rules []Rule
}

// New sorts rules by priority descending; insertion order breaks ties (spec
// §4.5 "sorted by priority descending; insertion order breaks ties" -- a
// stable sort preserves that).
func New(rules ...Rule) *Arbiter {
	sorted := make([]Rule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority() > sorted[j].Priority()
	})
	return &Arbiter{rules: sorted}
}

// Evaluate runs every enabled rule, in priority order, against every ticket
// in tickets (which callers must supply in stable ticket-ascending order --
// spec §4.5 "iterated in a stable order"). At most one ExitDecision is
// produced per ticket (spec I4): the first rule to return one wins.
func (a *Arbiter) Evaluate(tick TickContext, tickets []int64, get func(int64) (models.PositionRecord, bool), scratch ScratchStore) []models.ExitDecision {
	var decisions []models.ExitDecision
	for _, ticket := range tickets {
		pos, ok := get(ticket)
		if !ok {
			continue
		}
		for _, rule := range a.rules {
			if !rule.Enabled() {
				continue
			}
			bag, trackedExists := scratch.Scratch(ticket, rule.Name())
			if !trackedExists {
				continue
			}
			decision := rule.Evaluate(tick, pos, bag)
			if decision != nil {
				decisions = append(decisions, *decision)
				break
			}
		}
	}
	return decisions
}
