package runtimeconfig

import (
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Feature names an optional capability of the gateway
type Feature string

const (
	FeatureResponseCache Feature = "response_cache"
	FeatureSemanticCache Feature = "semantic_cache"
	FeatureRateLimiting  Feature = "rate_limiting"
	FeatureUsageLog      Feature = "usage_log"
	FeatureMetrics       Feature = "metrics"
	FeatureAuth          Feature = "auth"
)

// Status describes whether a feature is active and why
type Status struct {
	Feature Feature `json:"feature"`
	Enabled bool    `json:"enabled"`
	Reason  string  `json:"reason,omitempty"`
}

// Features is the explicit feature registry for one process
type Features struct {
	mu       sync.RWMutex
	features map[Feature]Status
}

// NewFeatures creates an empty registry; unknown features are disabled
func NewFeatures() *Features {
	return &Features{features: make(map[Feature]Status)}
}

// Set records the state of a feature, replacing any earlier state
func (f *Features) Set(feature Feature, enabled bool, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.features[feature] = Status{Feature: feature, Enabled: enabled, Reason: reason}
}

// Enabled reports whether feature is active
func (f *Features) Enabled(feature Feature) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return f.features[feature].Enabled
}

// List returns every recorded feature sorted by name
func (f *Features) List() []Status {
	f.mu.RLock()
	defer f.mu.RUnlock()

	list := make([]Status, 0, len(f.features))
	for _, s := range f.features {
		list = append(list, s)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Feature < list[j].Feature })
	return list
}

// Log writes one line per feature
func (f *Features) Log(logger *zap.Logger) {
	for _, s := range f.List() {
		logger.Info("feature resolved",
			zap.String("feature", string(s.Feature)),
			zap.Bool("enabled", s.Enabled),
			zap.String("reason", s.Reason),
		)
	}
}
