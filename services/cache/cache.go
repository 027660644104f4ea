package cache

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"math"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/upb/llm-gateway/services"
	"github.com/upb/llm-gateway/services/providers"
	"github.com/upb/llm-gateway/utils"
)

// Config configures a SemanticCache
type Config struct {
	// MaxSize is the maximum number of entries
	MaxSize int `json:"max_size" validate:"gt=0"`

	// TTL is the time-to-live for entries; 0 disables expiry
	TTL time.Duration `json:"ttl" validate:"gte=0"`

	// SimilarityThreshold is the minimum cosine similarity for a semantic hit
	SimilarityThreshold float64 `json:"similarity_threshold" validate:"gte=0,lte=1"`

	// Semantic enables embedding lookups when an embedder is configured
	Semantic bool `json:"semantic"`
}

// DefaultConfig returns the default cache configuration
func DefaultConfig() Config {
	return Config{
		MaxSize:             1000,
		TTL:                 time.Hour,
		SimilarityThreshold: 0.95,
		Semantic:            true,
	}
}

// Entry is a cached response
type Entry struct {
	Key         string                 `json:"key"`
	Query       string                 `json:"query"`
	Response    string                 `json:"response"`
	Model       string                 `json:"model"`
	Provider    string                 `json:"provider"`
	Embedding   []float64              `json:"embedding,omitempty"`
	TokensUsed  int                    `json:"tokens_used"`
	Latency     time.Duration          `json:"latency"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
	AccessCount int                    `json:"access_count"`
	LastAccess  time.Time              `json:"last_access"`

	// Similarity is set on semantic hits
	Similarity float64 `json:"similarity,omitempty"`

	element *list.Element
}

// SemanticCache is an in-memory LRU cache with TTL that matches queries
// exactly by (model, normalized query) and, when an embedder is set, by
// cosine similarity of query embeddings. The lock is never held while
// embedding.
type SemanticCache struct {
	mu        sync.RWMutex
	entries   map[string]*Entry
	lruList   *list.List
	maxSize   int
	ttl       time.Duration
	threshold float64
	semantic  bool

	embedder providers.Embedder
	now      func() time.Time
	logger   *zap.Logger

	exactHits    uint64
	semanticHits uint64
	misses       uint64
	evictions    uint64
}

// Option customizes a SemanticCache
type Option func(*SemanticCache)

// WithEmbedder enables semantic matching through e
func WithEmbedder(e providers.Embedder) Option {
	return func(c *SemanticCache) { c.embedder = e }
}

// WithClock replaces the time source
func WithClock(now func() time.Time) Option {
	return func(c *SemanticCache) { c.now = now }
}

// WithLogger sets the logger used for embedder failures
func WithLogger(logger *zap.Logger) Option {
	return func(c *SemanticCache) { c.logger = logger }
}

// New creates a SemanticCache
func New(config Config, opts ...Option) (*SemanticCache, error) {
	if err := utils.ValidateStruct(config); err != nil {
		return nil, services.WrapValidation(err)
	}

	c := &SemanticCache{
		entries:   make(map[string]*Entry),
		lruList:   list.New(),
		maxSize:   config.MaxSize,
		ttl:       config.TTL,
		threshold: config.SimilarityThreshold,
		semantic:  config.Semantic,
		now:       time.Now,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	return c, nil
}

// Normalize lowercases a query and collapses whitespace
func Normalize(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}

// Key returns the cache key for (model, query)
func Key(query, model string) string {
	sum := sha256.Sum256([]byte(model + "\x00" + Normalize(query)))
	return hex.EncodeToString(sum[:])
}

// Get looks up query for model. An exact match is tried first; on a miss,
// if checkSemantic is set and an embedder is configured, the most similar
// live entry for the same model at or above the threshold is returned.
func (c *SemanticCache) Get(ctx context.Context, query, model string, checkSemantic bool) (*Entry, bool) {
	key := Key(query, model)

	c.mu.Lock()
	if entry, ok := c.lookup(key); ok {
		c.exactHits++
		c.mu.Unlock()
		return entry, true
	}
	useSemantic := checkSemantic && c.semantic && c.embedder != nil
	if !useSemantic {
		c.misses++
		c.mu.Unlock()
		return nil, false
	}
	c.mu.Unlock()

	embedding, err := c.embedder.Embed(ctx, query)
	if err != nil {
		c.logger.Warn("embedding failed, falling back to exact match",
			zap.Error(err),
		)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err == nil && len(embedding) > 0 {
		if entry, similarity, ok := c.nearest(embedding, model); ok {
			c.touch(entry)
			c.semanticHits++
			hit := entry.clone()
			hit.Similarity = similarity
			return hit, true
		}
	}

	c.misses++
	return nil, false
}

// Set stores a response. An existing entry with the same key is
// overwritten; otherwise the least recently used entry is evicted when the
// cache is full.
func (c *SemanticCache) Set(ctx context.Context, query, response, model, provider string, tokens int, latency time.Duration, metadata map[string]interface{}) {
	var embedding []float64
	if c.semantic && c.embedder != nil {
		var err error
		embedding, err = c.embedder.Embed(ctx, query)
		if err != nil {
			c.logger.Warn("embedding failed, caching without embedding",
				zap.Error(err),
			)
			embedding = nil
		}
	}

	key := Key(query, model)
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, exists := c.entries[key]; exists {
		entry.Query = query
		entry.Response = response
		entry.Provider = provider
		entry.Embedding = embedding
		entry.TokensUsed = tokens
		entry.Latency = latency
		entry.Metadata = metadata
		entry.CreatedAt = now
		entry.LastAccess = now
		c.lruList.MoveToFront(entry.element)
		return
	}

	if c.lruList.Len() >= c.maxSize {
		c.evictLRU()
	}

	entry := &Entry{
		Key:        key,
		Query:      query,
		Response:   response,
		Model:      model,
		Provider:   provider,
		Embedding:  embedding,
		TokensUsed: tokens,
		Latency:    latency,
		Metadata:   metadata,
		CreatedAt:  now,
		LastAccess: now,
	}
	entry.element = c.lruList.PushFront(key)
	c.entries[key] = entry

	if c.lruList.Len() > c.maxSize/2 {
		c.removeExpired()
	}
}

// Invalidate removes the entry for (query, model)
func (c *SemanticCache) Invalidate(query, model string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := Key(query, model)
	if _, exists := c.entries[key]; !exists {
		return false
	}
	c.removeEntry(key)
	return true
}

// Clear removes all entries from the cache
func (c *SemanticCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*Entry)
	c.lruList.Init()
}

// ClearExpired removes all expired entries and returns how many were removed
func (c *SemanticCache) ClearExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.removeExpired()
}

// SetTTL changes the TTL applied to all entries
func (c *SemanticCache) SetTTL(ttl time.Duration) error {
	if ttl < 0 {
		return services.NewValidationError("ttl cannot be negative")
	}
	c.mu.Lock()
	c.ttl = ttl
	c.mu.Unlock()
	return nil
}

// SetSimilarityThreshold changes the semantic match threshold
func (c *SemanticCache) SetSimilarityThreshold(threshold float64) error {
	if threshold < 0 || threshold > 1 || math.IsNaN(threshold) {
		return services.NewValidationError("similarity threshold must be between 0 and 1").
			WithDetail("threshold", threshold)
	}
	c.mu.Lock()
	c.threshold = threshold
	c.mu.Unlock()
	return nil
}

// Len returns the number of stored entries, including expired ones not yet swept
func (c *SemanticCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.lruList.Len()
}

// Stats represents cache statistics
type Stats struct {
	Size                int           `json:"size"`
	MaxSize             int           `json:"max_size"`
	ExactHits           uint64        `json:"exact_hits"`
	SemanticHits        uint64        `json:"semantic_hits"`
	Hits                uint64        `json:"hits"`
	Misses              uint64        `json:"misses"`
	Evictions           uint64        `json:"evictions"`
	HitRate             float64       `json:"hit_rate"`
	TTL                 time.Duration `json:"ttl"`
	SimilarityThreshold float64       `json:"similarity_threshold"`
	SemanticEnabled     bool          `json:"semantic_enabled"`
}

// Stats returns cache statistics
func (c *SemanticCache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	hits := c.exactHits + c.semanticHits
	var hitRate float64
	if total := hits + c.misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return Stats{
		Size:                c.lruList.Len(),
		MaxSize:             c.maxSize,
		ExactHits:           c.exactHits,
		SemanticHits:        c.semanticHits,
		Hits:                hits,
		Misses:              c.misses,
		Evictions:           c.evictions,
		HitRate:             hitRate,
		TTL:                 c.ttl,
		SimilarityThreshold: c.threshold,
		SemanticEnabled:     c.semantic && c.embedder != nil,
	}
}

// StartCleanupWorker periodically removes expired entries until ctx is done
func (c *SemanticCache) StartCleanupWorker(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := c.ClearExpired(); n > 0 {
				c.logger.Debug("expired cache entries removed", zap.Int("count", n))
			}
		case <-ctx.Done():
			return
		}
	}
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0
// for empty, mismatched or zero vectors
func CosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// lookup returns a copy of a live entry and marks it used (lock held)
func (c *SemanticCache) lookup(key string) (*Entry, bool) {
	entry, exists := c.entries[key]
	if !exists {
		return nil, false
	}
	if c.isExpired(entry) {
		c.removeEntry(key)
		return nil, false
	}
	c.touch(entry)
	return entry.clone(), true
}

// nearest scans live entries of model for the best match above the threshold (lock held)
func (c *SemanticCache) nearest(embedding []float64, model string) (*Entry, float64, bool) {
	var best *Entry
	bestScore := -1.0

	for key, entry := range c.entries {
		if c.isExpired(entry) {
			c.removeEntry(key)
			continue
		}
		if entry.Model != model || len(entry.Embedding) == 0 {
			continue
		}
		score := CosineSimilarity(embedding, entry.Embedding)
		if score >= c.threshold && score > bestScore {
			best, bestScore = entry, score
		}
	}

	return best, bestScore, best != nil
}

func (c *SemanticCache) touch(entry *Entry) {
	entry.AccessCount++
	entry.LastAccess = c.now()
	c.lruList.MoveToFront(entry.element)
}

func (c *SemanticCache) isExpired(entry *Entry) bool {
	return c.ttl > 0 && c.now().Sub(entry.CreatedAt) > c.ttl
}

// removeEntry removes an entry from the cache (must be called with lock held)
func (c *SemanticCache) removeEntry(key string) {
	if entry, exists := c.entries[key]; exists {
		c.lruList.Remove(entry.element)
		delete(c.entries, key)
	}
}

// removeExpired must be called with lock held
func (c *SemanticCache) removeExpired() int {
	if c.ttl == 0 {
		return 0
	}
	removed := 0
	for key, entry := range c.entries {
		if c.isExpired(entry) {
			c.removeEntry(key)
			removed++
		}
	}
	return removed
}

// evictLRU evicts the least recently used entry (must be called with lock held)
func (c *SemanticCache) evictLRU() {
	back := c.lruList.Back()
	if back == nil {
		return
	}
	c.lruList.Remove(back)
	delete(c.entries, back.Value.(string))
	c.evictions++
}

func (e *Entry) clone() *Entry {
	cp := *e
	cp.element = nil
	if e.Embedding != nil {
		cp.Embedding = append([]float64(nil), e.Embedding...)
	}
	if e.Metadata != nil {
		cp.Metadata = make(map[string]interface{}, len(e.Metadata))
		for k, v := range e.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}
