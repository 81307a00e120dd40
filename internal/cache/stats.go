package cache

import (
	"sync/atomic"
	"time"
)

// statsTracker counts cache outcomes. Counters only grow and reset with a
// new Cache.
type statsTracker struct {
	hits        atomic.Int64
	misses      atomic.Int64
	evictions   atomic.Int64
	expirations atomic.Int64
}

func (s *statsTracker) hit()    { s.hits.Add(1) }
func (s *statsTracker) miss()   { s.misses.Add(1) }
func (s *statsTracker) evict()  { s.evictions.Add(1) }
func (s *statsTracker) expire() { s.expirations.Add(1) }

// hitRate returns hits / (hits + misses), or 0 before any lookup.
func hitRate(hits, misses int64) float64 {
	if hits+misses == 0 {
		return 0
	}
	return float64(hits) / float64(hits+misses)
}

// TypeStats aggregates the entries of one type.
type TypeStats struct {
	Count int   `json:"count" yaml:"count"`
	Size  int64 `json:"size" yaml:"size"`
}

// Stats is a point-in-time snapshot of the cache.
type Stats struct {
	TotalItems  int                `json:"totalItems" yaml:"totalItems"`
	TotalSize   int64              `json:"totalSize" yaml:"totalSize"`
	ByType      map[Type]TypeStats `json:"byType" yaml:"byType"`
	HitRate     float64            `json:"hitRate" yaml:"hitRate"`
	LastCleanup time.Time          `json:"lastCleanup" yaml:"lastCleanup"`

	Hits        int64  `json:"hits" yaml:"hits"`
	Misses      int64  `json:"misses" yaml:"misses"`
	Evictions   int64  `json:"evictions" yaml:"evictions"`
	Expirations int64  `json:"expirations" yaml:"expirations"`
	MaxBytes    int64  `json:"maxBytes" yaml:"maxBytes"`
	Dir         string `json:"dir" yaml:"dir"`
	DiskEnabled bool   `json:"diskEnabled" yaml:"diskEnabled"`
}

// snapshot reads each counter once, so HitRate always agrees with Hits and
// Misses.
func (s *statsTracker) snapshot() Stats {
	hits, misses := s.hits.Load(), s.misses.Load()
	return Stats{
		ByType:      make(map[Type]TypeStats),
		HitRate:     hitRate(hits, misses),
		Hits:        hits,
		Misses:      misses,
		Evictions:   s.evictions.Load(),
		Expirations: s.expirations.Load(),
	}
}
