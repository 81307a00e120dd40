package cache

import "errors"

// Common errors for cache operations. Cache methods log these rather than
// return them; they surface from Config.Validate and Store.Set.
var (
	// ErrItemTooLarge is reported when a payload exceeds the whole byte budget.
	ErrItemTooLarge = errors.New("item too large for cache")

	// ErrCorruptEntry is reported when an entry file cannot be decoded.
	ErrCorruptEntry = errors.New("cache entry corrupted")

	// ErrTypeNotAllowed is reported when an entry type is not configured.
	ErrTypeNotAllowed = errors.New("cache type not allowed")

	// ErrInvalidConfig is returned by Config.Validate.
	ErrInvalidConfig = errors.New("invalid cache configuration")

	// ErrInvalidPayload is reported when a raw payload is not valid JSON.
	ErrInvalidPayload = errors.New("payload is not valid JSON")
)
