package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

const (
	entryExt = ".json"
	tempExt  = ".tmp"

	// parallel file reads during the startup scan
	scanWorkers = 8
)

// diskStore persists one JSON file per entry under a single directory.
// Failures are logged and swallowed: the cache falls back to memory for the
// affected key.
type diskStore struct {
	dir string
	fs  FS
	log Logger
	now func() time.Time

	loads singleflight.Group

	// throttles warnings for repeated I/O failures
	warn *rate.Limiter
}

// newDiskStore prepares dir and checks that it is writable.
func newDiskStore(dir string, fsys FS, log Logger, now func() time.Time) (*diskStore, error) {
	if err := fsys.EnsureDir(dir); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	check := filepath.Join(dir, ".writable"+tempExt)
	if err := fsys.WriteFile(check, nil); err != nil {
		return nil, fmt.Errorf("cache directory is not writable: %w", err)
	}
	_ = fsys.Remove(check)

	return &diskStore{
		dir:  dir,
		fs:   fsys,
		log:  log,
		now:  now,
		warn: rate.NewLimiter(rate.Every(time.Minute), 3),
	}, nil
}

func (d *diskStore) path(hash string) string {
	return filepath.Join(d.dir, hash+entryExt)
}

// Load reads the entry stored under hash. Corrupt and expired files are
// deleted. Concurrent loads of the same hash share one read; every caller
// gets its own copy of the entry.
func (d *diskStore) Load(hash string) (*Entry, bool) {
	v, _, _ := d.loads.Do(hash, func() (interface{}, error) {
		return d.load(hash), nil
	})
	e, _ := v.(*Entry)
	if e == nil {
		return nil, false
	}
	cp := *e
	return &cp, true
}

func (d *diskStore) load(hash string) *Entry {
	data, err := d.fs.ReadFile(d.path(hash))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			d.failed("read", hash, err)
		}
		return nil
	}

	e, err := decodeEntry(decompress(data))
	if err == nil && e.Hash() != hash {
		err = fmt.Errorf("%w: file name does not match key", ErrCorruptEntry)
	}
	if err != nil {
		d.log.Debug("discarding unreadable cache file", "hash", hash, "err", err)
		d.Remove(hash)
		return nil
	}

	if expired(e, d.now()) {
		d.log.Debug("discarding expired cache file", "hash", hash, "key", e.Key, "type", e.Type)
		d.Remove(hash)
		return nil
	}
	return e
}

// Save writes e next to its final path and renames it into place so a crash
// never leaves a half-written entry behind.
func (d *diskStore) Save(e *Entry) {
	hash := e.Hash()
	data, err := json.Marshal(e)
	if err != nil {
		d.failed("encode", hash, err)
		return
	}

	path := d.path(hash)
	tmp := path + tempExt
	if err := d.fs.WriteFile(tmp, compress(data)); err != nil {
		d.failed("write", hash, err)
		d.discard(hash, tmp)
		return
	}
	if err := d.fs.Rename(tmp, path); err != nil {
		d.failed("rename", hash, err)
		d.discard(hash, tmp)
		return
	}
	e.dirty = false
}

// discard drops what is on disk for hash after a failed write, so an older
// value can never be read back in place of the one memory holds.
func (d *diskStore) discard(hash, tmp string) {
	_ = d.fs.Remove(tmp)
	d.Remove(hash)
}

// Remove deletes the file for hash. Missing files are ignored.
func (d *diskStore) Remove(hash string) {
	if err := d.fs.Remove(d.path(hash)); err != nil {
		d.failed("remove", hash, err)
	}
}

// Exists reports whether a file is stored for hash.
func (d *diskStore) Exists(hash string) bool {
	return d.fs.Exists(d.path(hash))
}

// LoadAll scans the directory and returns every live entry. Expired and
// corrupt files are deleted, as are temp files left by an interrupted write.
func (d *diskStore) LoadAll() []*Entry {
	names, err := d.fs.ReadDir(d.dir)
	if err != nil {
		d.failed("scan", d.dir, err)
		return nil
	}

	now := d.now().UnixMilli()
	found := make([]*Entry, len(names))

	var g errgroup.Group
	g.SetLimit(scanWorkers)
	for i, name := range names {
		i, name := i, name
		if strings.HasSuffix(name, tempExt) {
			_ = d.fs.Remove(filepath.Join(d.dir, name))
			continue
		}
		if !strings.HasSuffix(name, entryExt) {
			continue
		}
		g.Go(func() error {
			hash := strings.TrimSuffix(name, entryExt)
			data, err := d.fs.ReadFile(filepath.Join(d.dir, name))
			if err != nil {
				d.failed("read", hash, err)
				return nil
			}
			data = decompress(data)

			// skip decoding payloads of entries that are already stale
			if exp := gjson.GetBytes(data, "expiresAt"); exp.Exists() && now > exp.Int() {
				d.Remove(hash)
				return nil
			}

			e, err := decodeEntry(data)
			if err == nil && e.Hash() != hash {
				err = fmt.Errorf("%w: file name does not match key", ErrCorruptEntry)
			}
			if err != nil {
				d.log.Debug("discarding unreadable cache file", "hash", hash, "err", err)
				d.Remove(hash)
				return nil
			}
			// the peek misses files without an expiresAt field
			if expired(e, d.now()) {
				d.Remove(hash)
				return nil
			}
			found[i] = e
			return nil
		})
	}
	_ = g.Wait()

	entries := make([]*Entry, 0, len(found))
	for _, e := range found {
		if e != nil {
			entries = append(entries, e)
		}
	}
	return entries
}

// RemoveWhere deletes every entry file whose type matches and returns how
// many were removed. Files that cannot be read are left alone.
func (d *diskStore) RemoveWhere(match func(Type) bool) int {
	names, err := d.fs.ReadDir(d.dir)
	if err != nil {
		d.failed("scan", d.dir, err)
		return 0
	}

	var (
		mu      sync.Mutex
		removed int
		g       errgroup.Group
	)
	g.SetLimit(scanWorkers)
	for _, name := range names {
		name := name
		if !strings.HasSuffix(name, entryExt) {
			continue
		}
		g.Go(func() error {
			path := filepath.Join(d.dir, name)
			data, err := d.fs.ReadFile(path)
			if err != nil {
				return nil
			}
			typ := gjson.GetBytes(decompress(data), "type")
			if !typ.Exists() || !match(Type(typ.String())) {
				return nil
			}
			if err := d.fs.Remove(path); err != nil {
				d.failed("remove", name, err)
				return nil
			}
			mu.Lock()
			removed++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return removed
}

// Wipe deletes every entry and temp file in the directory. Other files are
// left alone, so a directory shared with other data survives a wipe.
func (d *diskStore) Wipe() int {
	names, err := d.fs.ReadDir(d.dir)
	if err != nil {
		d.failed("wipe", d.dir, err)
		return 0
	}

	removed := 0
	for _, name := range names {
		if !strings.HasSuffix(name, entryExt) && !strings.HasSuffix(name, tempExt) {
			continue
		}
		if err := d.fs.Remove(filepath.Join(d.dir, name)); err != nil {
			d.failed("wipe", name, err)
			continue
		}
		removed++
	}
	return removed
}

func (d *diskStore) failed(op, target string, err error) {
	d.log.Debug("cache disk operation failed", "op", op, "target", target, "err", err)
	if d.warn.Allow() {
		d.log.Warn("cache disk unavailable, entry kept in memory only", "op", op, "err", err)
	}
}

func decodeEntry(data []byte) (*Entry, error) {
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptEntry, err)
	}
	if err := e.validate(); err != nil {
		return nil, err
	}
	return &e, nil
}

// compress and decompress are the codec hooks for entry files. Payloads are
// stored as plain JSON whatever Config.Compression says.
func compress(data []byte) []byte   { return data }
func decompress(data []byte) []byte { return data }
