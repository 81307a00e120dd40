package cache

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
)

// Cache is the two-tier cache. Live entries are held in memory and written
// through to disk; a memory miss falls back to disk and promotes what it
// finds. Every operation is best effort: problems are logged, never
// returned, so a broken cache cannot fail the caller.
//
// A Cache is safe for concurrent use within one process. Several processes
// sharing a directory are not coordinated.
type Cache struct {
	cfg Config
	log Logger
	fs  FS
	now func() time.Time

	mu          sync.Mutex
	mem         *memoryTier
	policy      *Policy
	disk        *diskStore // nil when running memory-only
	gen         uint64     // bumped by Delete and Clear
	lastCleanup time.Time

	stats     statsTracker
	scheduler *Scheduler
	watcher   *dirWatcher
	closed    atomic.Bool
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger. The default is the charmbracelet default
// logger with a "cache" prefix.
func WithLogger(l Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.log = l
		}
	}
}

// WithFS sets the filesystem. The default is the operating system.
func WithFS(fsys FS) Option {
	return func(c *Cache) {
		if fsys != nil {
			c.fs = fsys
		}
	}
}

// WithClock sets the time source used for timestamps and expiry.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// SetOption adjusts a single Set call.
type SetOption func(*setOptions)

type setOptions struct {
	ttl time.Duration
}

// WithTTL overrides the configured TTL for one entry. Non-positive values
// are ignored.
func WithTTL(ttl time.Duration) SetOption {
	return func(o *setOptions) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

// New creates a cache from cfg, rehydrates it from disk and starts the
// cleanup scheduler when enabled. It never fails: an unusable directory
// leaves the cache running memory-only, and invalid settings fall back to
// their defaults.
func New(cfg Config, opts ...Option) *Cache {
	c := &Cache{
		log: log.Default().WithPrefix("cache"),
		fs:  OSFS(),
		now: time.Now,
		mem: newMemoryTier(),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.cfg = cfg.normalize(c.log)
	c.policy = newPolicy(c.cfg.MaxBytes(), c.cfg.AutoClean.Threshold, c.mem, c.removed)
	c.scheduler = newScheduler(c, c.cfg.AutoClean.Interval, c.log)

	if !c.cfg.Enabled {
		c.log.Debug("cache disabled")
		return c
	}

	disk, err := newDiskStore(c.cfg.Dir, c.fs, c.log, c.now)
	if err != nil {
		c.log.Warn("cache directory unavailable, running memory-only", "dir", c.cfg.Dir, "err", err)
	} else {
		c.disk = disk
		c.rehydrate()
	}

	if c.cfg.Watch && c.disk != nil {
		if !osBacked(c.fs) {
			c.log.Debug("directory watching needs the OS filesystem, skipping")
		} else if w, err := newDirWatcher(c.cfg.Dir, c.forget, c.log); err != nil {
			c.log.Warn("could not watch cache directory", "dir", c.cfg.Dir, "err", err)
		} else {
			c.watcher = w
		}
	}

	if c.cfg.AutoClean.Enabled {
		c.scheduler.Start()
	}
	return c
}

// rehydrate loads the disk tier into memory at startup.
func (c *Cache) rehydrate() {
	start := time.Now()
	entries := c.disk.LoadAll()

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, e := range entries {
		if !c.cfg.Allows(e.Type) {
			continue
		}
		c.mem.put(e.Hash(), e)
	}
	// the budget may have shrunk since the entries were written
	evicted := c.policy.EnforceBudget(0, c.now())

	c.log.Debug("cache loaded from disk",
		"dir", c.cfg.Dir,
		"entries", c.mem.len(),
		"bytes", c.mem.size,
		"evicted", evicted,
		"duration", time.Since(start))
}

// Config returns the effective configuration.
func (c *Cache) Config() Config {
	return c.cfg
}

// Scheduler returns the background cleanup scheduler.
func (c *Cache) Scheduler() *Scheduler {
	return c.scheduler
}

func (c *Cache) accepts(typ Type) bool {
	return c.cfg.Enabled && !c.closed.Load() && c.cfg.Allows(typ)
}

// Get returns the payload cached for key under typ. Expired entries are
// removed and reported as missing. A disk hit is promoted into memory.
func (c *Cache) Get(key string, typ Type) (json.RawMessage, bool) {
	if !c.accepts(typ) {
		c.stats.miss()
		return nil, false
	}
	hash := HashKey(typ, key)

	c.mu.Lock()
	if payload, ok, found := c.memoryGet(hash); found {
		c.mu.Unlock()
		c.record(ok)
		return payload, ok
	}
	gen, disk := c.gen, c.disk
	c.mu.Unlock()

	if disk == nil {
		c.stats.miss()
		return nil, false
	}
	e, ok := disk.Load(hash)
	if !ok {
		c.stats.miss()
		return nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// another call may have filled memory while the file was read
	if payload, ok, found := c.memoryGet(hash); found {
		c.record(ok)
		return payload, ok
	}

	now := c.now()
	e.touch(now)
	if c.gen == gen {
		c.promote(hash, e, now)
	}
	c.stats.hit()
	return e.Payload, true
}

// memoryGet looks hash up in memory. found is false when memory has no
// entry; ok is false when the entry had expired and was removed.
func (c *Cache) memoryGet(hash string) (payload json.RawMessage, ok, found bool) {
	e, found := c.mem.get(hash)
	if !found {
		return nil, false, false
	}
	now := c.now()
	if expired(e, now) {
		c.policy.remove(hash, e, reasonExpired)
		return nil, false, true
	}
	e.touch(now)
	return e.Payload, true, true
}

func (c *Cache) record(hit bool) {
	if hit {
		c.stats.hit()
	} else {
		c.stats.miss()
	}
}

// promote moves an entry read from disk into memory, making room for it
// first. Entries larger than the budget stay on disk only.
func (c *Cache) promote(hash string, e *Entry, now time.Time) {
	if e.SizeBytes > c.policy.maxBytes {
		return
	}
	c.policy.EnforceBudget(e.SizeBytes, now)
	c.mem.put(hash, e)
}

// Set caches payload for key under typ. The payload must be valid JSON.
// Room is made under the byte budget before the entry is inserted, then the
// entry is written through to disk. Types that are not configured are
// ignored.
func (c *Cache) Set(key string, typ Type, payload json.RawMessage, opts ...SetOption) {
	if !c.accepts(typ) {
		c.log.Debug("not caching entry", "key", key, "type", typ, "err", ErrTypeNotAllowed)
		return
	}
	if !json.Valid(payload) {
		c.log.Warn("not caching entry", "key", key, "type", typ, "err", ErrInvalidPayload)
		return
	}

	o := setOptions{ttl: c.cfg.TTL}
	for _, opt := range opts {
		opt(&o)
	}

	payload = append(json.RawMessage(nil), payload...)
	size := int64(len(payload))
	hash := HashKey(typ, key)

	c.mu.Lock()
	defer c.mu.Unlock()

	// the previous value for this key is replaced either way
	c.mem.remove(hash)

	if size > c.policy.maxBytes {
		c.log.Warn("not caching entry", "key", key, "type", typ, "size", size, "max", c.policy.maxBytes, "err", ErrItemTooLarge)
		if c.disk != nil {
			c.disk.Remove(hash)
		}
		return
	}

	now := c.now()
	c.policy.EnforceBudget(size, now)

	e := newEntry(key, typ, payload, now, o.ttl)
	c.mem.put(hash, e)
	if c.disk != nil {
		c.disk.Save(e)
	}
}

// Has reports whether a live entry exists for key under typ, without
// counting a hit or miss or touching access metadata.
func (c *Cache) Has(key string, typ Type) bool {
	if !c.accepts(typ) {
		return false
	}
	hash := HashKey(typ, key)

	c.mu.Lock()
	if e, ok := c.mem.get(hash); ok {
		live := !expired(e, c.now())
		if !live {
			c.policy.remove(hash, e, reasonExpired)
		}
		c.mu.Unlock()
		return live
	}
	disk := c.disk
	c.mu.Unlock()

	if disk == nil {
		return false
	}
	_, ok := disk.Load(hash)
	return ok
}

// Delete removes key under typ from memory and disk. Deleting a missing
// entry is a no-op.
func (c *Cache) Delete(key string, typ Type) {
	hash := HashKey(typ, key)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.gen++
	c.mem.remove(hash)
	if c.disk != nil {
		c.disk.Remove(hash)
	}
}

// Clear removes every entry of the given types from memory and disk. With no
// types it drops memory and every entry file in the cache directory; files
// the cache did not write are kept.
func (c *Cache) Clear(types ...Type) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gen++
	if len(types) == 0 {
		n := c.mem.len()
		c.mem.clear()
		files := 0
		if c.disk != nil {
			files = c.disk.Wipe()
		}
		c.log.Info("cache cleared", "entries", n, "files", files)
		return
	}

	set := make(map[Type]bool, len(types))
	for _, t := range types {
		set[t] = true
	}
	n := c.mem.removeTypes(set)
	files := 0
	if c.disk != nil {
		files = c.disk.RemoveWhere(func(t Type) bool { return set[t] })
	}
	c.log.Info("cache cleared", "types", types, "entries", n, "files", files)
}

// sweepResult summarizes one cleanup pass.
type sweepResult struct {
	Removed   int
	Freed     int64
	Remaining int
	Duration  time.Duration
}

// Cleanup runs one full sweep now: expired entries are removed, then live
// entries are evicted by score while the cache is above its cleanup
// threshold. It returns the number of entries removed.
func (c *Cache) Cleanup() int {
	r := c.sweep()
	c.log.Debug("cache cleanup", "removed", r.Removed, "freed", r.Freed, "duration", r.Duration)
	return r.Removed
}

// sweep holds the cache lock for the whole pass, so sweeps never overlap
// with each other or with other operations.
func (c *Cache) sweep() sweepResult {
	start := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	before := c.mem.size
	now := c.now()
	removed := c.policy.Sweep(now)
	c.lastCleanup = now

	return sweepResult{
		Removed:   removed,
		Freed:     before - c.mem.size,
		Remaining: c.mem.len(),
		Duration:  time.Since(start),
	}
}

// removed is called by the policy after an entry left memory.
func (c *Cache) removed(hash string, e *Entry, reason removalReason) {
	if reason == reasonExpired {
		c.stats.expire()
	} else {
		c.stats.evict()
	}
	if c.disk != nil {
		c.disk.Remove(hash)
	}
	c.log.Debug("cache entry removed", "key", e.Key, "type", e.Type, "reason", reason, "size", e.SizeBytes)
}

// forget drops the memory copy of an entry whose file disappeared.
func (c *Cache) forget(hash string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.disk == nil || c.disk.Exists(hash) {
		return
	}
	if e, ok := c.mem.remove(hash); ok {
		c.log.Debug("cache file removed externally", "key", e.Key, "type", e.Type)
	}
}

// Stats returns a snapshot of the cache contents and counters.
func (c *Cache) Stats() Stats {
	s := c.stats.snapshot()

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, e := range c.mem.items {
		ts := s.ByType[e.Type]
		ts.Count++
		ts.Size += e.SizeBytes
		s.ByType[e.Type] = ts
	}
	s.TotalItems = c.mem.len()
	s.TotalSize = c.mem.size
	s.LastCleanup = c.lastCleanup
	s.MaxBytes = c.policy.maxBytes
	s.Dir = c.cfg.Dir
	s.DiskEnabled = c.disk != nil
	return s
}

// Entries lists the entries held in memory, lowest eviction score first.
func (c *Cache) Entries() []EntryInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	ranked := c.policy.rank(now)
	infos := make([]EntryInfo, 0, len(ranked))
	for _, r := range ranked {
		e := r.entry
		infos = append(infos, EntryInfo{
			Hash:         r.hash,
			Key:          e.Key,
			Type:         e.Type,
			SizeBytes:    e.SizeBytes,
			AccessCount:  e.AccessCount,
			CreatedAt:    time.UnixMilli(e.CreatedAt),
			LastAccessed: time.UnixMilli(e.LastAccessed),
			ExpiresAt:    time.UnixMilli(e.ExpiresAt),
			Score:        r.score,
		})
	}
	return infos
}

// Close stops background work, writes back access metadata changed since
// the last write and drops the memory tier. Files on disk are kept for the
// next Cache. Close is safe to call more than once.
func (c *Cache) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.scheduler.Stop()

	var err error
	if c.watcher != nil {
		err = c.watcher.Close()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.disk != nil {
		for _, e := range c.mem.items {
			if e.dirty {
				c.disk.Save(e)
			}
		}
	}
	c.mem.clear()
	return err
}
