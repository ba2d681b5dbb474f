package tracker

import (
	"sort"
	"sync"
	"sync/atomic"
)

// Tracker counts cache and API outcomes per provider.
// A nil *Tracker is valid and records nothing.
type Tracker struct {
	mu    sync.RWMutex
	stats map[string]*ProviderStats
}

// ProviderStats holds metrics for a specific provider.
// Fields are accessed atomically.
type ProviderStats struct {
	CacheHits     int64 `json:"cache_hits"`
	CacheMisses   int64 `json:"cache_misses"`
	APISuccess    int64 `json:"api_success"`
	APIFailures   int64 `json:"api_failures"`
	APIZeroResult int64 `json:"api_zero_result"`
}

// New creates a new Tracker.
func New() *Tracker {
	return &Tracker{
		stats: make(map[string]*ProviderStats),
	}
}

func (t *Tracker) getStats(provider string) *ProviderStats {
	t.mu.RLock()
	s, ok := t.stats[provider]
	t.mu.RUnlock()
	if ok {
		return s
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok = t.stats[provider]; ok {
		return s
	}
	s = &ProviderStats{}
	t.stats[provider] = s
	return s
}

func (t *Tracker) add(provider string, field func(*ProviderStats) *int64) {
	if t == nil {
		return
	}
	atomic.AddInt64(field(t.getStats(provider)), 1)
}

// TrackCacheHit increments the cache hit counter.
func (t *Tracker) TrackCacheHit(provider string) {
	t.add(provider, func(s *ProviderStats) *int64 { return &s.CacheHits })
}

func (t *Tracker) TrackCacheMiss(provider string) {
	t.add(provider, func(s *ProviderStats) *int64 { return &s.CacheMisses })
}

func (t *Tracker) TrackAPISuccess(provider string) {
	t.add(provider, func(s *ProviderStats) *int64 { return &s.APISuccess })
}

func (t *Tracker) TrackAPIFailure(provider string) {
	t.add(provider, func(s *ProviderStats) *int64 { return &s.APIFailures })
}

// TrackAPIZero records a successful call that returned no usable result,
// e.g. a stock search with zero hits.
func (t *Tracker) TrackAPIZero(provider string) {
	t.add(provider, func(s *ProviderStats) *int64 { return &s.APIZeroResult })
}

// Snapshot returns a copy of the current stats.
func (t *Tracker) Snapshot() map[string]ProviderStats {
	result := make(map[string]ProviderStats)
	if t == nil {
		return result
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	for k, v := range t.stats {
		result[k] = ProviderStats{
			CacheHits:     atomic.LoadInt64(&v.CacheHits),
			CacheMisses:   atomic.LoadInt64(&v.CacheMisses),
			APISuccess:    atomic.LoadInt64(&v.APISuccess),
			APIFailures:   atomic.LoadInt64(&v.APIFailures),
			APIZeroResult: atomic.LoadInt64(&v.APIZeroResult),
		}
	}
	return result
}

// Providers returns the tracked provider names in sorted order.
func (t *Tracker) Providers() []string {
	if t == nil {
		return nil
	}
	t.mu.RLock()
	names := make([]string, 0, len(t.stats))
	for k := range t.stats {
		names = append(names, k)
	}
	t.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Reset zeroes all counters. Known providers stay listed.
func (t *Tracker) Reset() {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for k := range t.stats {
		t.stats[k] = &ProviderStats{}
	}
}
