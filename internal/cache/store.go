package cache

import (
	"encoding/json"
	"fmt"
)

// Store is a typed view of one entry type in a Cache.
//
// Payloads are stored as JSON, so T must survive an encoding/json round
// trip: Get must decode what Set encoded into an equal value. Channels,
// functions and unexported struct fields do not. The type system cannot
// check this; it is the caller's contract.
type Store[T any] struct {
	cache *Cache
	typ   Type
}

// NewStore returns a Store for entries of typ in c.
func NewStore[T any](c *Cache, typ Type) *Store[T] {
	return &Store[T]{cache: c, typ: typ}
}

// Type returns the entry type the store reads and writes.
func (s *Store[T]) Type() Type {
	return s.typ
}

// Get returns the value cached for key. A payload that does not decode into
// T is reported as missing.
func (s *Store[T]) Get(key string) (T, bool) {
	var v T
	raw, ok := s.cache.Get(key, s.typ)
	if !ok {
		return v, false
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		s.cache.log.Debug("cached payload does not match store type", "key", key, "type", s.typ, "err", err)
		var zero T
		return zero, false
	}
	return v, true
}

// Set caches v for key. It returns an error only when v cannot be encoded;
// storage problems are logged by the cache.
func (s *Store[T]) Set(key string, v T, opts ...SetOption) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s payload: %w", s.typ, err)
	}
	s.cache.Set(key, s.typ, raw, opts...)
	return nil
}

// Has reports whether a live value is cached for key.
func (s *Store[T]) Has(key string) bool {
	return s.cache.Has(key, s.typ)
}

// Delete removes the value cached for key.
func (s *Store[T]) Delete(key string) {
	s.cache.Delete(key, s.typ)
}

// Clear removes every value of the store's type.
func (s *Store[T]) Clear() {
	s.cache.Clear(s.typ)
}
