package ratelimit

import (
	"math"
	"time"
)

// algorithm is the admission state of one strategy. Callers hold the
// limiter lock.
type algorithm interface {
	// allow debits and returns true when tokens can be admitted at now
	allow(now time.Time, tokens int) bool
	// wait returns how long until tokens could be admitted, or Forever
	wait(now time.Time, tokens int) time.Duration
	reset(now time.Time)
	snapshot(now time.Time) map[string]interface{}
}

func newAlgorithm(config Config, now time.Time) algorithm {
	switch config.Strategy {
	case StrategySlidingWindow:
		return &slidingWindow{
			window:      config.Window,
			maxRequests: config.RequestsPerMinute,
			maxTokens:   config.TokensPerMinute,
		}
	case StrategyFixedWindow:
		fw := &fixedWindow{
			window:      config.Window,
			maxRequests: config.RequestsPerMinute,
			maxTokens:   config.TokensPerMinute,
		}
		fw.reset(now)
		return fw
	default:
		return newTokenBucket(config, now)
	}
}

func seconds(s float64) time.Duration {
	if s <= 0 {
		return 0
	}
	d := s * float64(time.Second)
	if d >= math.MaxInt64 {
		return Forever
	}
	return time.Duration(math.Ceil(d))
}

// tokenBucket keeps two buckets refilled continuously: one for requests and
// one for tokens. Both must cover a request and both are debited together.
type tokenBucket struct {
	requestCapacity float64
	requestRate     float64 // per second
	requests        float64

	tokenCapacity float64 // 0 disables the token dimension
	tokenRate     float64
	tokens        float64

	lastRefill time.Time
}

func newTokenBucket(config Config, now time.Time) *tokenBucket {
	requestCapacity := float64(config.BurstSize)
	if config.BurstSize <= 0 {
		requestCapacity = float64(config.RequestsPerMinute)
	}

	tb := &tokenBucket{
		requestCapacity: requestCapacity,
		requestRate:     float64(config.RequestsPerMinute) / 60,
		tokenCapacity:   float64(config.TokensPerMinute),
		tokenRate:       float64(config.TokensPerMinute) / 60,
	}
	tb.reset(now)
	return tb
}

func (tb *tokenBucket) refill(now time.Time) {
	elapsed := now.Sub(tb.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	tb.requests = math.Min(tb.requestCapacity, tb.requests+elapsed*tb.requestRate)
	tb.tokens = math.Min(tb.tokenCapacity, tb.tokens+elapsed*tb.tokenRate)
	tb.lastRefill = now
}

func (tb *tokenBucket) allow(now time.Time, tokens int) bool {
	tb.refill(now)

	if tb.requests < 1 {
		return false
	}
	if tb.tokenCapacity > 0 && tb.tokens < float64(tokens) {
		return false
	}

	tb.requests--
	if tb.tokenCapacity > 0 {
		tb.tokens -= float64(tokens)
	}
	return true
}

func (tb *tokenBucket) wait(now time.Time, tokens int) time.Duration {
	tb.refill(now)

	var wait time.Duration
	if deficit := 1 - tb.requests; deficit > 0 {
		if tb.requestRate <= 0 || tb.requestCapacity < 1 {
			return Forever
		}
		wait = seconds(deficit / tb.requestRate)
	}

	if tb.tokenCapacity > 0 {
		if deficit := float64(tokens) - tb.tokens; deficit > 0 {
			if tb.tokenRate <= 0 || float64(tokens) > tb.tokenCapacity {
				return Forever
			}
			if w := seconds(deficit / tb.tokenRate); w > wait {
				wait = w
			}
		}
	}
	return wait
}

func (tb *tokenBucket) reset(now time.Time) {
	tb.requests = tb.requestCapacity
	tb.tokens = tb.tokenCapacity
	tb.lastRefill = now
}

func (tb *tokenBucket) snapshot(now time.Time) map[string]interface{} {
	tb.refill(now)
	return map[string]interface{}{
		"available_requests": tb.requests,
		"available_tokens":   tb.tokens,
		"request_capacity":   tb.requestCapacity,
		"token_capacity":     tb.tokenCapacity,
	}
}

type event struct {
	at     time.Time
	tokens int
}

// slidingWindow keeps an event log of the trailing window, pruned lazily
type slidingWindow struct {
	window      time.Duration
	maxRequests int
	maxTokens   int // 0 disables the token dimension

	events   []event
	tokenSum int
}

func (sw *slidingWindow) prune(now time.Time) {
	cutoff := now.Add(-sw.window)
	i := 0
	for i < len(sw.events) && !sw.events[i].at.After(cutoff) {
		sw.tokenSum -= sw.events[i].tokens
		i++
	}
	if i > 0 {
		sw.events = append(sw.events[:0], sw.events[i:]...)
	}
}

func (sw *slidingWindow) allow(now time.Time, tokens int) bool {
	sw.prune(now)

	if len(sw.events) >= sw.maxRequests {
		return false
	}
	if sw.maxTokens > 0 && sw.tokenSum+tokens > sw.maxTokens {
		return false
	}

	sw.events = append(sw.events, event{at: now, tokens: tokens})
	sw.tokenSum += tokens
	return true
}

func (sw *slidingWindow) wait(now time.Time, tokens int) time.Duration {
	sw.prune(now)

	if sw.maxRequests <= 0 || (sw.maxTokens > 0 && tokens > sw.maxTokens) {
		return Forever
	}

	var wait time.Duration
	if n := len(sw.events); n >= sw.maxRequests {
		// the oldest n-maxRequests+1 events must age out
		wait = sw.events[n-sw.maxRequests].at.Add(sw.window).Sub(now)
	}

	if sw.maxTokens > 0 && sw.tokenSum+tokens > sw.maxTokens {
		excess := sw.tokenSum + tokens - sw.maxTokens
		for _, ev := range sw.events {
			excess -= ev.tokens
			if excess <= 0 {
				if w := ev.at.Add(sw.window).Sub(now); w > wait {
					wait = w
				}
				break
			}
		}
	}

	if wait < 0 {
		return 0
	}
	return wait
}

func (sw *slidingWindow) reset(time.Time) {
	sw.events = nil
	sw.tokenSum = 0
}

func (sw *slidingWindow) snapshot(now time.Time) map[string]interface{} {
	sw.prune(now)
	return map[string]interface{}{
		"window_requests": len(sw.events),
		"window_tokens":   sw.tokenSum,
		"max_requests":    sw.maxRequests,
		"max_tokens":      sw.maxTokens,
	}
}

// fixedWindow counts requests and tokens per aligned window (wall clock
// minutes by default)
type fixedWindow struct {
	window      time.Duration
	maxRequests int
	maxTokens   int // 0 disables the token dimension

	start    time.Time
	requests int
	tokens   int
}

func (fw *fixedWindow) roll(now time.Time) {
	if start := now.Truncate(fw.window); !start.Equal(fw.start) {
		fw.start = start
		fw.requests = 0
		fw.tokens = 0
	}
}

func (fw *fixedWindow) fits(tokens int) bool {
	if fw.requests >= fw.maxRequests {
		return false
	}
	return fw.maxTokens == 0 || fw.tokens+tokens <= fw.maxTokens
}

func (fw *fixedWindow) allow(now time.Time, tokens int) bool {
	fw.roll(now)
	if !fw.fits(tokens) {
		return false
	}
	fw.requests++
	fw.tokens += tokens
	return true
}

func (fw *fixedWindow) wait(now time.Time, tokens int) time.Duration {
	fw.roll(now)
	if fw.maxRequests <= 0 || (fw.maxTokens > 0 && tokens > fw.maxTokens) {
		return Forever
	}
	if fw.fits(tokens) {
		return 0
	}
	return fw.start.Add(fw.window).Sub(now)
}

func (fw *fixedWindow) reset(now time.Time) {
	fw.start = now.Truncate(fw.window)
	fw.requests = 0
	fw.tokens = 0
}

func (fw *fixedWindow) snapshot(now time.Time) map[string]interface{} {
	fw.roll(now)
	return map[string]interface{}{
		"window_start":    fw.start,
		"window_requests": fw.requests,
		"window_tokens":   fw.tokens,
		"max_requests":    fw.maxRequests,
		"max_tokens":      fw.maxTokens,
	}
}
