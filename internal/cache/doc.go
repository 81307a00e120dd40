// Package cache provides a two-level cache for build artifacts, dependency
// graphs and transformed modules. Entries are held in memory and written
// through to one JSON file per entry on disk, with TTL expiry, a byte budget
// enforced by a recency and frequency weighted eviction score, and a
// background cleanup loop.
package cache
