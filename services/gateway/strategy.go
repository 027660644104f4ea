package gateway

import (
	"github.com/upb/llm-gateway/services/providers"
)

// selectProvider picks one of the available providers not in exclude, or
// nil when none is left
func (g *Gateway) selectProvider(exclude map[string]bool) providers.Provider {
	var candidates []providers.Provider
	for _, p := range g.registry.All() {
		if exclude[p.Name()] || !p.IsAvailable() {
			continue
		}
		candidates = append(candidates, p)
	}
	if len(candidates) == 0 {
		return nil
	}

	switch g.config.Strategy {
	case StrategyLeastLatency:
		return g.selectLeastLatency(candidates)
	case StrategyRandom:
		return candidates[g.randIntN(len(candidates))]
	default:
		// concurrent callers may skip or repeat a provider
		idx := g.cursor.Add(1) - 1
		return candidates[idx%uint64(len(candidates))]
	}
}

// selectLeastLatency picks the lowest average latency; unmeasured
// providers count as zero and ties keep registration order
func (g *Gateway) selectLeastLatency(candidates []providers.Provider) providers.Provider {
	best := candidates[0]
	bestLatency := g.metricsFor(best.Name()).AvgLatency()

	for _, p := range candidates[1:] {
		if latency := g.metricsFor(p.Name()).AvgLatency(); latency < bestLatency {
			best, bestLatency = p, latency
		}
	}
	return best
}
