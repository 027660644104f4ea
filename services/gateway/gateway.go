package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/upb/llm-gateway/models"
	"github.com/upb/llm-gateway/services"
	"github.com/upb/llm-gateway/services/cache"
	"github.com/upb/llm-gateway/services/providers"
	"github.com/upb/llm-gateway/services/ratelimit"
)

// defaultAcquireTokens is charged against a limiter when a request sets no max tokens
const defaultAcquireTokens = 100

// Gateway routes generation requests across registered providers with
// failover, per-provider rate limiting and response caching. Gateways are
// independent; nothing is shared between instances.
type Gateway struct {
	config   Config
	logger   *zap.Logger
	registry *providers.Registry
	limiters *ratelimit.MultiLimiter
	cache    *cache.SemanticCache

	metricsMu sync.RWMutex
	metrics   map[string]*ProviderMetrics

	defaultMu   sync.RWMutex
	defaultName string

	cursor atomic.Uint64

	embedder providers.Embedder
	recorder Recorder
	usage    UsageLog
	writer   *usageWriter
	randIntN func(n int) int
	now      func() time.Time

	closed      atomic.Bool
	asyncMu     sync.RWMutex
	closeOnce   sync.Once
	inflight    sync.WaitGroup
	stopCleanup context.CancelFunc
}

// Option customizes a Gateway
type Option func(*Gateway)

// WithEmbedder enables semantic cache matching through e
func WithEmbedder(e providers.Embedder) Option {
	return func(g *Gateway) { g.embedder = e }
}

// WithRecorder reports gateway events to r
func WithRecorder(r Recorder) Option {
	return func(g *Gateway) { g.recorder = r }
}

// WithUsageLog persists call outcomes to u
func WithUsageLog(u UsageLog) Option {
	return func(g *Gateway) { g.usage = u }
}

// WithRand replaces the random source used by the random strategy
func WithRand(intN func(n int) int) Option {
	return func(g *Gateway) { g.randIntN = intN }
}

// WithClock replaces the time source for metrics, cache and limiters
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

// New creates a gateway with no providers registered
func New(config Config, logger *zap.Logger, opts ...Option) (*Gateway, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	g := &Gateway{
		config:      config,
		logger:      logger,
		registry:    providers.NewRegistry(),
		metrics:     make(map[string]*ProviderMetrics),
		defaultName: config.DefaultProvider,
		recorder:    nopRecorder{},
		randIntN:    rand.IntN,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.recorder == nil {
		g.recorder = nopRecorder{}
	}

	g.limiters = ratelimit.NewMultiLimiter(ratelimit.WithClock(g.now))

	if config.EnableCache {
		cacheOpts := []cache.Option{
			cache.WithLogger(logger.Named("cache")),
			cache.WithClock(g.now),
		}
		if g.embedder != nil {
			cacheOpts = append(cacheOpts, cache.WithEmbedder(g.embedder))
		}
		c, err := cache.New(cache.Config{
			MaxSize:             config.CacheMaxSize,
			TTL:                 config.CacheTTL,
			SimilarityThreshold: config.CacheSimilarityThreshold,
			Semantic:            config.SemanticCache,
		}, cacheOpts...)
		if err != nil {
			return nil, err
		}
		g.cache = c

		if config.CacheTTL > 0 && config.CacheCleanupInterval > 0 {
			ctx, cancel := context.WithCancel(context.Background())
			g.stopCleanup = cancel
			go c.StartCleanupWorker(ctx, config.CacheCleanupInterval)
		}
	}

	if g.usage != nil {
		g.writer = newUsageWriter(g.usage, config, logger.Named("usage"))
	}

	return g, nil
}

// RegisterProvider adds a provider. The first registered provider, or one
// registered with setDefault, becomes the default. rl installs a dedicated
// limiter; when nil and rate limiting is enabled, one is built from the
// gateway defaults.
func (g *Gateway) RegisterProvider(p providers.Provider, setDefault bool, rl *ratelimit.Config) error {
	if g.closed.Load() {
		return services.NewNoProviderError("gateway closed")
	}
	if p == nil {
		return services.NewValidationError("provider cannot be nil")
	}

	name := p.Name()
	if caps := p.Capabilities(); caps.Embeddings {
		if _, ok := p.(providers.Embedder); !ok {
			return services.NewValidationError("provider declares embeddings but cannot embed").
				WithDetail("provider", name)
		}
	}

	var limiterConfig *ratelimit.Config
	if rl != nil {
		cfg := *rl
		limiterConfig = &cfg
	} else if g.config.EnableRateLimiting {
		cfg := g.config.RateLimit
		limiterConfig = &cfg
	}
	var limiter *ratelimit.Limiter
	if limiterConfig != nil {
		l, err := ratelimit.New(*limiterConfig, ratelimit.WithClock(g.now))
		if err != nil {
			return err
		}
		limiter = l
	}

	if err := g.registry.Register(p); err != nil {
		if errors.Is(err, providers.ErrProviderAlreadyRegistered) {
			return services.NewValidationError("provider already registered").WithDetail("provider", name)
		}
		return services.WrapValidation(err)
	}

	g.metricsMu.Lock()
	g.metrics[name] = &ProviderMetrics{}
	g.metricsMu.Unlock()

	if limiter != nil {
		g.limiters.Set(name, limiter)
	}

	g.defaultMu.Lock()
	if setDefault || g.defaultName == "" {
		g.defaultName = name
	}
	g.defaultMu.Unlock()

	g.logger.Info("provider registered",
		zap.String("provider", name),
		zap.String("model", p.Config().Model),
		zap.Bool("rate_limited", limiter != nil),
	)
	return nil
}

// UnregisterProvider removes a provider with its metrics and limiter
func (g *Gateway) UnregisterProvider(name string) bool {
	if _, err := g.registry.Unregister(name); err != nil {
		return false
	}

	g.metricsMu.Lock()
	delete(g.metrics, name)
	g.metricsMu.Unlock()

	g.limiters.Unregister(name)

	g.defaultMu.Lock()
	if g.defaultName == name {
		g.defaultName = ""
	}
	g.defaultMu.Unlock()

	g.logger.Info("provider unregistered", zap.String("provider", name))
	return true
}

// Provider returns a registered provider by name
func (g *Gateway) Provider(name string) (providers.Provider, bool) {
	p, err := g.registry.Get(name)
	if err != nil {
		return nil, false
	}
	return p, true
}

// DefaultProvider returns the default provider, falling back to the first
// registered one when the configured default is not registered
func (g *Gateway) DefaultProvider() (providers.Provider, bool) {
	g.defaultMu.RLock()
	name := g.defaultName
	g.defaultMu.RUnlock()

	if p, ok := g.Provider(name); ok {
		return p, true
	}
	all := g.registry.All()
	if len(all) == 0 {
		return nil, false
	}
	return all[0], true
}

// Providers returns the registered provider names in registration order
func (g *Gateway) Providers() []string {
	return g.registry.Names()
}

// CallOption customizes a single Generate or Chat call
type CallOption func(*callOptions)

type callOptions struct {
	provider  string
	useCache  bool
	requestID string
}

// WithProvider tries the named provider first; later attempts fall back to
// the strategy
func WithProvider(name string) CallOption {
	return func(o *callOptions) { o.provider = name }
}

// WithoutCache bypasses the response cache for the call
func WithoutCache() CallOption {
	return func(o *callOptions) { o.useCache = false }
}

// WithRequestID tags usage records with an external request ID
func WithRequestID(id string) CallOption {
	return func(o *callOptions) { o.requestID = id }
}

func buildCallOptions(opts []CallOption) callOptions {
	o := callOptions{useCache: true}
	for _, opt := range opts {
		opt(&o)
	}
	if o.requestID == "" {
		o.requestID = uuid.New().String()
	}
	return o
}

// Generate produces a completion for req
func (g *Gateway) Generate(ctx context.Context, req *providers.GenerateRequest, opts ...CallOption) (*providers.Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return g.execute(ctx, models.OperationGenerate, req.Prompt, req.Params, buildCallOptions(opts),
		func(ctx context.Context, p providers.Provider) (*providers.Result, error) {
			return p.Generate(ctx, req)
		})
}

// Chat produces a chat completion for req
func (g *Gateway) Chat(ctx context.Context, req *providers.ChatRequest, opts ...CallOption) (*providers.Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return g.execute(ctx, models.OperationChat, req.CacheKey(), req.Params, buildCallOptions(opts),
		func(ctx context.Context, p providers.Provider) (*providers.Result, error) {
			return p.Chat(ctx, req)
		})
}

// AsyncResult is delivered once on the channel returned by the async calls
type AsyncResult struct {
	Result *providers.Result
	Err    error
}

// GenerateAsync runs Generate on a goroutine
func (g *Gateway) GenerateAsync(ctx context.Context, req *providers.GenerateRequest, opts ...CallOption) <-chan AsyncResult {
	return g.async(func() (*providers.Result, error) { return g.Generate(ctx, req, opts...) })
}

// ChatAsync runs Chat on a goroutine
func (g *Gateway) ChatAsync(ctx context.Context, req *providers.ChatRequest, opts ...CallOption) <-chan AsyncResult {
	return g.async(func() (*providers.Result, error) { return g.Chat(ctx, req, opts...) })
}

func (g *Gateway) async(fn func() (*providers.Result, error)) <-chan AsyncResult {
	ch := make(chan AsyncResult, 1)

	g.asyncMu.RLock()
	if g.closed.Load() {
		g.asyncMu.RUnlock()
		ch <- AsyncResult{Err: services.NewNoProviderError("gateway closed")}
		close(ch)
		return ch
	}
	g.inflight.Add(1)
	g.asyncMu.RUnlock()

	go func() {
		defer g.inflight.Done()
		defer close(ch)
		result, err := fn()
		ch <- AsyncResult{Result: result, Err: err}
	}()
	return ch
}

type providerCall func(ctx context.Context, p providers.Provider) (*providers.Result, error)

// execute runs the cache → select → acquire → call loop
func (g *Gateway) execute(ctx context.Context, op models.Operation, query string, params providers.Params, o callOptions, call providerCall) (*providers.Result, error) {
	if g.closed.Load() {
		return nil, services.NewNoProviderError("gateway closed")
	}

	// cache entries are keyed by the override so a pinned provider never
	// serves another provider's answer
	if o.useCache && g.cache != nil {
		entry, hit := g.cache.Get(ctx, query, o.provider, true)
		g.recorder.ObserveCacheLookup(op, hit)
		if hit {
			result := g.resultFromEntry(entry)
			g.logger.Debug("cache hit",
				zap.String("operation", string(op)),
				zap.String("provider", entry.Provider),
				zap.Float64("similarity", entry.Similarity),
			)
			record := models.NewUsageRecord(o.requestID, op, result.Provider)
			record.MarkAsCached(result.Model, result.TokensUsed)
			g.recordUsage(record)
			return result, nil
		}
	}

	tokens := providers.MaxTokensOr(params.MaxTokens, defaultAcquireTokens)
	tried := make(map[string]bool)
	overrideUsed := false
	var lastErr error

	for {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, services.NewDomainError(services.ErrorTypeTransport, "request cancelled", err)
		}

		var selected providers.Provider
		if o.provider != "" && !overrideUsed {
			overrideUsed = true
			p, err := g.registry.Get(o.provider)
			if err != nil {
				return nil, services.NewNoProviderError(fmt.Sprintf("provider %q is not registered", o.provider))
			}
			selected = p
		} else {
			selected = g.selectProvider(tried)
		}
		if selected == nil {
			break
		}

		name := selected.Name()
		tried[name] = true

		admitted, err := g.limiters.Acquire(ctx, name, tokens, false, 0)
		if err != nil {
			return nil, err
		}
		if !admitted {
			g.recorder.ObserveRateLimited(name)
			g.logger.Debug("provider rate limited, skipping",
				zap.String("provider", name),
				zap.Int("tokens", tokens),
			)
			continue
		}

		result, latency, err := g.invoke(ctx, selected, call)
		if err == nil {
			g.recordSuccess(ctx, op, o, query, selected, result, latency)
			return result, nil
		}

		g.recordFailure(op, o, name, err, latency)
		lastErr = err
		g.logger.Warn("provider call failed",
			zap.String("provider", name),
			zap.String("operation", string(op)),
			zap.String("error_type", string(services.GetErrorType(err))),
			zap.Duration("latency", latency),
			zap.Error(err),
		)

		if !g.config.FailoverEnabled {
			return nil, err
		}
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, services.NewNoProviderError("")
}

// invoke calls the provider under its timeout and normalizes the error
func (g *Gateway) invoke(ctx context.Context, p providers.Provider, call providerCall) (*providers.Result, time.Duration, error) {
	timeout := p.Config().Timeout
	if timeout <= 0 {
		timeout = g.config.Timeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := g.now()
	result, err := call(callCtx, p)
	latency := g.now().Sub(start)

	if err != nil {
		return nil, latency, normalizeError(callCtx, p.Name(), err)
	}
	if result == nil {
		return nil, latency, services.WrapProtocol(p.Name(), "provider returned no result", nil)
	}
	return result, latency, nil
}

// normalizeError keeps domain errors and classifies anything else
func normalizeError(ctx context.Context, provider string, err error) error {
	if services.GetErrorType(err) != "" {
		return err
	}
	if providers.IsCancelled(err) || providers.IsTimeout(err) {
		return providers.NewTransportError(provider, err)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return providers.NewTransportError(provider, fmt.Errorf("%w: %w", ctxErr, err))
	}
	return services.WrapProtocol(provider, "provider call failed", err)
}

func (g *Gateway) recordSuccess(ctx context.Context, op models.Operation, o callOptions, query string, p providers.Provider, result *providers.Result, latency time.Duration) {
	name := p.Name()
	if result.Provider == "" {
		result.Provider = name
	}
	if result.Latency == 0 {
		result.Latency = latency
	}

	g.metricsFor(name).recordSuccess(result.TokensUsed, latency, g.now())
	g.recorder.ObserveCall(name, op, OutcomeSuccess, latency, result.TokensUsed)

	if o.useCache && g.cache != nil {
		g.cache.Set(ctx, query, result.Text, o.provider, result.Provider, result.TokensUsed, latency,
			map[string]interface{}{"actual_model": result.Model})
	}

	record := models.NewUsageRecord(o.requestID, op, name)
	record.MarkAsCompleted(result.Model, result.PromptTokens, result.CompletionTokens, result.TokensUsed, latency)
	g.recordUsage(record)
}

func (g *Gateway) recordFailure(op models.Operation, o callOptions, name string, err error, latency time.Duration) {
	g.metricsFor(name).recordFailure(err, g.now())
	g.recorder.ObserveCall(name, op, OutcomeFailure, latency, 0)

	record := models.NewUsageRecord(o.requestID, op, name)
	record.MarkAsFailed(string(services.GetErrorType(err)), err.Error(), latency)
	g.recordUsage(record)
}

func (g *Gateway) recordUsage(record *models.UsageRecord) {
	if g.writer != nil {
		g.writer.enqueue(record)
	}
}

func (g *Gateway) resultFromEntry(entry *cache.Entry) *providers.Result {
	metadata := make(map[string]interface{}, len(entry.Metadata)+2)
	for k, v := range entry.Metadata {
		metadata[k] = v
	}
	metadata["cached"] = true
	if entry.Similarity > 0 {
		metadata["similarity"] = entry.Similarity
	}

	model := entry.Model
	if actual, ok := entry.Metadata["actual_model"].(string); ok && actual != "" {
		model = actual
	}

	return &providers.Result{
		ID:         uuid.New().String(),
		Text:       entry.Response,
		Model:      model,
		Provider:   entry.Provider,
		TokensUsed: entry.TokensUsed,
		Latency:    entry.Latency,
		Metadata:   metadata,
		CreatedAt:  g.now(),
	}
}

// metricsFor returns the metrics of a provider; a detached instance is
// returned if the provider was unregistered mid-call
func (g *Gateway) metricsFor(name string) *ProviderMetrics {
	g.metricsMu.RLock()
	m, ok := g.metrics[name]
	g.metricsMu.RUnlock()
	if !ok {
		return &ProviderMetrics{}
	}
	return m
}

// HealthCheck checks every provider concurrently. A check that panics is
// reported as unhealthy.
func (g *Gateway) HealthCheck(ctx context.Context) map[string]bool {
	all := g.registry.All()
	results := make(map[string]bool, len(all))

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, p := range all {
		wg.Add(1)
		go func(p providers.Provider) {
			defer wg.Done()
			healthy := g.checkOne(ctx, p)
			mu.Lock()
			results[p.Name()] = healthy
			mu.Unlock()
		}(p)
	}
	wg.Wait()

	return results
}

func (g *Gateway) checkOne(ctx context.Context, p providers.Provider) (healthy bool) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Warn("health check panicked",
				zap.String("provider", p.Name()),
				zap.Any("panic", r),
			)
			healthy = false
		}
	}()

	healthy = p.HealthCheck(ctx)
	if !healthy {
		g.logger.Warn("health check failed", zap.String("provider", p.Name()))
	}
	return healthy
}

// ClearCache removes every cached response
func (g *Gateway) ClearCache() {
	if g.cache != nil {
		g.cache.Clear()
	}
}

// Close stops accepting calls, waits for in-flight async calls until ctx
// is done and releases provider connections. Only the first call does work.
func (g *Gateway) Close(ctx context.Context) error {
	var err error
	g.closeOnce.Do(func() {
		// no async Add may start once Wait is pending
		g.asyncMu.Lock()
		g.closed.Store(true)
		g.asyncMu.Unlock()

		done := make(chan struct{})
		go func() {
			g.inflight.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			g.logger.Warn("closing with async calls still in flight")
		}

		if g.stopCleanup != nil {
			g.stopCleanup()
		}
		if g.writer != nil {
			g.writer.close(ctx)
		}

		var errs []error
		for _, p := range g.registry.All() {
			closer, ok := p.(io.Closer)
			if !ok {
				continue
			}
			if cerr := closer.Close(); cerr != nil {
				g.logger.Warn("error closing provider",
					zap.String("provider", p.Name()),
					zap.Error(cerr),
				)
				errs = append(errs, fmt.Errorf("close %s: %w", p.Name(), cerr))
			}
		}
		err = errors.Join(errs...)
		g.logger.Info("gateway closed")
	})
	return err
}
