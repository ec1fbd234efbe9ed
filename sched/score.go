package sched

import (
	"math"
	"sort"
	"strings"

	"relay"
)

// Reorder sorts candidates by expected cost/quality score for the prompt.
// Candidates whose estimated cost fits the budget sort before those that do
// not; ties keep the original order. When the scheduler is disabled the list
// is returned unchanged. The result always has the same length as the input.
func Reorder(candidates []relay.RouteCandidate, prompt string, cfg Config) []relay.RouteCandidate {
	if !cfg.Enabled || len(candidates) < 2 {
		return candidates
	}

	complexity := Complexity(prompt)
	costW, qualW := cfg.QualityTarget.weights()
	estTokens := estimatedTokens(prompt)

	type scored struct {
		cand     relay.RouteCandidate
		score    float64
		inBudget bool
		orig     int
	}

	items := make([]scored, len(candidates))
	for i, c := range candidates {
		cost := normalizedCost(estTokens, c.Provider.CostPer1K())
		quality := effectiveQuality(c, complexity)
		items[i] = scored{
			cand:     c,
			score:    costW*cost + qualW*(1-quality),
			inBudget: cfg.MaxUSDPerTask == nil || estimatedUSD(estTokens, c.Provider.CostPer1K()) <= *cfg.MaxUSDPerTask,
			orig:     i,
		}
	}

	sort.SliceStable(items, func(i, j int) bool {
		if items[i].inBudget != items[j].inBudget {
			return items[i].inBudget
		}
		if items[i].score != items[j].score {
			return items[i].score < items[j].score
		}
		return items[i].orig < items[j].orig
	})

	out := make([]relay.RouteCandidate, len(items))
	for i, it := range items {
		out[i] = it.cand
	}
	return out
}

// estimatedTokens approximates the total tokens a prompt will consume,
// response included.
func estimatedTokens(prompt string) float64 {
	est := math.Ceil(float64(len(prompt))/4) * 1.4
	return math.Max(120, est)
}

func estimatedUSD(estTokens, pricePer1K float64) float64 {
	return estTokens / 1000 * pricePer1K
}

// normalizedCost maps an estimated USD cost onto [0.00125, 1.0], with $0.08
// per call as the reference ceiling.
func normalizedCost(estTokens, pricePer1K float64) float64 {
	c := estTokens * pricePer1K / 1000 / 0.08
	return clamp(c, 0.00125, 1.0)
}

// Base quality per provider, before model boosts and complexity penalty.
var baseQuality = map[relay.ProviderID]float64{
	relay.ProviderOpenAI:    0.90,
	relay.ProviderAnthropic: 0.92,
	relay.ProviderCoder:     0.88,
	relay.ProviderGemini:    0.85,
	relay.ProviderDeepSeek:  0.80,
	relay.ProviderMistral:   0.75,
	relay.ProviderGroq:      0.70,
}

var (
	boostMarkers = []string{"pro", "opus", "large", "4o", "o3", "r1", "sonnet"}
	trimMarkers  = []string{"mini", "lite", "nano", "flash", "haiku", "small", "tiny"}
)

// effectiveQuality is the candidate's base quality adjusted by the model
// name and penalized when the prompt's complexity outgrows 0.6.
func effectiveQuality(c relay.RouteCandidate, complexity float64) float64 {
	q := baseQuality[c.Provider] + modelBoost(c.Model.Name+" "+c.Model.ID)
	q -= 0.12 * math.Max(0, complexity-0.6)
	return clamp(q, 0, 1)
}

func modelBoost(name string) float64 {
	lower := strings.ToLower(name)
	for _, m := range boostMarkers {
		if strings.Contains(lower, m) {
			return 0.05
		}
	}
	for _, m := range trimMarkers {
		if strings.Contains(lower, m) {
			return -0.05
		}
	}
	return 0
}

// Complexity scores a prompt on [0,1] from weighted signal flags.
func Complexity(prompt string) float64 {
	lower := strings.ToLower(prompt)
	score := 0.25
	if containsAny(lower, "debug", "security", "architecture") {
		score += 0.2
	}
	if containsAny(lower, "system", "deploy", "incident") {
		score += 0.2
	}
	if containsAny(lower, "research", "benchmark") {
		score += 0.15
	}
	if len(prompt) > 500 {
		score += 0.1
	}
	if containsAny(lower, "image", "vision", "video") {
		score += 0.1
	}
	return clamp(score, 0, 1)
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
