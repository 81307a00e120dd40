package cache

import (
	"sort"
	"time"
)

const (
	dayMillis = 24 * 60 * 60 * 1000

	// budgetHysteresis is the fraction of the budget that EnforceBudget
	// evicts down to, so inserts near the limit do not evict on every call.
	budgetHysteresis = 0.8
)

type removalReason int

const (
	reasonExpired removalReason = iota
	reasonEvicted
)

func (r removalReason) String() string {
	if r == reasonExpired {
		return "expired"
	}
	return "evicted"
}

// expired reports whether e is past its expiry at now.
func expired(e *Entry, now time.Time) bool {
	return now.UnixMilli() > e.ExpiresAt
}

// Score returns the eviction score of e at now: its access count divided by
// one plus the days since it was last accessed. Lower scores are evicted
// first.
func Score(e *Entry, now time.Time) float64 {
	age := float64(now.UnixMilli()-e.LastAccessed) / dayMillis
	if age < 0 {
		age = 0
	}
	return float64(e.AccessCount) / (1 + age)
}

// Policy decides which entries of the memory tier expire and which are
// evicted to keep it within the byte budget. Removals are reported to the
// owner through onRemove after the entry has left the memory tier.
type Policy struct {
	maxBytes  int64
	threshold float64
	mem       *memoryTier
	onRemove  func(hash string, e *Entry, reason removalReason)
}

func newPolicy(maxBytes int64, threshold float64, mem *memoryTier, onRemove func(string, *Entry, removalReason)) *Policy {
	return &Policy{
		maxBytes:  maxBytes,
		threshold: threshold,
		mem:       mem,
		onRemove:  onRemove,
	}
}

// IsExpired reports whether e is past its expiry at now.
func (p *Policy) IsExpired(e *Entry, now time.Time) bool {
	return expired(e, now)
}

// EnforceBudget makes room for an insert of incoming bytes. When the insert
// would exceed the budget, entries are evicted lowest score first until the
// projected total is at most 80% of the budget. It returns the number of
// entries evicted.
func (p *Policy) EnforceBudget(incoming int64, now time.Time) int {
	if p.mem.size+incoming <= p.maxBytes {
		return 0
	}
	target := int64(float64(p.maxBytes) * budgetHysteresis)
	return p.evictUntil(now, func() bool {
		return p.mem.size+incoming <= target
	})
}

// Sweep removes every expired entry, then evicts by score while the total
// stays above the configured threshold of the budget. It returns the number
// of entries removed.
func (p *Policy) Sweep(now time.Time) int {
	removed := 0
	for hash, e := range p.mem.items {
		if expired(e, now) {
			p.remove(hash, e, reasonExpired)
			removed++
		}
	}

	limit := int64(float64(p.maxBytes) * p.threshold)
	if p.mem.size > limit {
		removed += p.evictUntil(now, func() bool {
			return p.mem.size <= limit
		})
	}
	return removed
}

type ranked struct {
	hash  string
	entry *Entry
	score float64
}

// rank orders the memory tier by ascending score. Ties go to the entry
// accessed longest ago, then to the hash.
func (p *Policy) rank(now time.Time) []ranked {
	out := make([]ranked, 0, p.mem.len())
	for hash, e := range p.mem.items {
		out = append(out, ranked{hash: hash, entry: e, score: Score(e, now)})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.score != b.score {
			return a.score < b.score
		}
		if a.entry.LastAccessed != b.entry.LastAccessed {
			return a.entry.LastAccessed < b.entry.LastAccessed
		}
		return a.hash < b.hash
	})
	return out
}

func (p *Policy) evictUntil(now time.Time, done func() bool) int {
	evicted := 0
	for _, r := range p.rank(now) {
		if done() {
			break
		}
		p.remove(r.hash, r.entry, reasonEvicted)
		evicted++
	}
	return evicted
}

func (p *Policy) remove(hash string, e *Entry, reason removalReason) {
	p.mem.remove(hash)
	if p.onRemove != nil {
		p.onRemove(hash, e, reason)
	}
}
