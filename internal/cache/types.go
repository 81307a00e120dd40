package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

// Type is the namespace an entry is cached under. The on-disk identity of an
// entry is derived from its type and raw key, so the same key may be cached
// independently under different types.
type Type string

// Known entry types.
const (
	TypeBuild     Type = "build"
	TypeDeps      Type = "deps"
	TypeModules   Type = "modules"
	TypeTransform Type = "transform"
	TypeAssets    Type = "assets"
	TypeTemp      Type = "temp"
)

// KnownTypes lists every type the cache understands, in display order.
var KnownTypes = []Type{TypeBuild, TypeDeps, TypeModules, TypeTransform, TypeAssets, TypeTemp}

// Valid reports whether t is one of the known types.
func (t Type) Valid() bool {
	return slices.Contains(KnownTypes, t)
}

func (t Type) String() string {
	return string(t)
}

// ParseType converts s into a known Type.
func ParseType(s string) (Type, error) {
	t := Type(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown cache type %q", s)
	}
	return t, nil
}

// HashKey returns the fixed-size identifier for a raw key cached under typ.
// It names the entry both in memory and on disk.
func HashKey(typ Type, key string) string {
	sum := sha256.Sum256([]byte(string(typ) + ":" + key))
	return hex.EncodeToString(sum[:16])
}

// Entry is a single cached value along with its bookkeeping. All timestamps
// are milliseconds since the Unix epoch. Entries are serialized as-is to disk.
type Entry struct {
	Key          string          `json:"key"`
	Type         Type            `json:"type"`
	Payload      json.RawMessage `json:"payload"`
	CreatedAt    int64           `json:"createdAt"`
	LastAccessed int64           `json:"lastAccessed"`
	AccessCount  int64           `json:"accessCount"`
	SizeBytes    int64           `json:"sizeBytes"`
	ExpiresAt    int64           `json:"expiresAt"`

	// access metadata changed since the entry was last written
	dirty bool
}

func newEntry(key string, typ Type, payload json.RawMessage, now time.Time, ttl time.Duration) *Entry {
	created := now.UnixMilli()
	return &Entry{
		Key:          key,
		Type:         typ,
		Payload:      payload,
		CreatedAt:    created,
		LastAccessed: created,
		AccessCount:  1,
		SizeBytes:    int64(len(payload)),
		ExpiresAt:    created + ttl.Milliseconds(),
	}
}

// Hash returns the entry's identifier.
func (e *Entry) Hash() string {
	return HashKey(e.Type, e.Key)
}

func (e *Entry) touch(now time.Time) {
	e.LastAccessed = now.UnixMilli()
	e.AccessCount++
	e.dirty = true
}

// validate checks the invariants a decoded entry must hold.
func (e *Entry) validate() error {
	switch {
	case e.Key == "":
		return fmt.Errorf("%w: missing key", ErrCorruptEntry)
	case !e.Type.Valid():
		return fmt.Errorf("%w: unknown type %q", ErrCorruptEntry, e.Type)
	case len(e.Payload) == 0:
		return fmt.Errorf("%w: missing payload", ErrCorruptEntry)
	case e.ExpiresAt < e.CreatedAt:
		return fmt.Errorf("%w: expires before creation", ErrCorruptEntry)
	case e.SizeBytes < 0:
		return fmt.Errorf("%w: negative size", ErrCorruptEntry)
	}
	return nil
}

// EntryInfo describes a cached entry without its payload.
type EntryInfo struct {
	Hash         string    `json:"hash" yaml:"hash"`
	Key          string    `json:"key" yaml:"key"`
	Type         Type      `json:"type" yaml:"type"`
	SizeBytes    int64     `json:"sizeBytes" yaml:"sizeBytes"`
	AccessCount  int64     `json:"accessCount" yaml:"accessCount"`
	CreatedAt    time.Time `json:"createdAt" yaml:"createdAt"`
	LastAccessed time.Time `json:"lastAccessed" yaml:"lastAccessed"`
	ExpiresAt    time.Time `json:"expiresAt" yaml:"expiresAt"`
	Score        float64   `json:"score" yaml:"score"`
}

// Logger is the logging sink the cache reports through.
// *github.com/charmbracelet/log.Logger satisfies it.
type Logger interface {
	Debug(msg interface{}, keyvals ...interface{})
	Info(msg interface{}, keyvals ...interface{})
	Warn(msg interface{}, keyvals ...interface{})
	Error(msg interface{}, keyvals ...interface{})
}
