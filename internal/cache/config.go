package cache

import (
	"fmt"
	"slices"
	"time"
)

// Defaults applied by DefaultConfig and by New for unset or invalid fields.
const (
	DefaultDir            = ".cache"
	DefaultMaxSizeMB      = 500
	DefaultTTL            = 24 * time.Hour
	DefaultCleanInterval  = 24 * time.Hour
	DefaultCleanThreshold = 0.8
)

// DefaultTypes are the types cached when Config.Types is empty.
var DefaultTypes = []Type{TypeBuild, TypeDeps, TypeModules, TypeTransform}

// Config holds the cache settings. Start from DefaultConfig: the zero value
// describes a disabled cache.
type Config struct {
	// Enabled turns the whole cache on or off.
	Enabled bool `env:"ENABLED"`

	// Dir is the directory entry files are written to.
	Dir string `env:"DIR"`

	// MaxSize is the byte budget in megabytes. Fractions are allowed.
	MaxSize float64 `env:"MAX_SIZE"`

	// TTL is the default time-to-live of an entry.
	TTL time.Duration `env:"TTL"`

	// Types are the entry types that may be cached.
	Types []Type `env:"TYPES" envSeparator:","`

	// Compression is reserved; payloads are stored uncompressed.
	Compression bool `env:"COMPRESSION"`

	AutoClean AutoCleanConfig `envPrefix:"AUTO_CLEAN_"`

	// Watch drops memory entries whose files are removed by other programs.
	Watch bool `env:"WATCH"`
}

// AutoCleanConfig controls the background sweep.
type AutoCleanConfig struct {
	Enabled  bool          `env:"ENABLED"`
	Interval time.Duration `env:"INTERVAL"`

	// Threshold is the fraction of the byte budget above which a sweep
	// evicts live entries.
	Threshold float64 `env:"THRESHOLD"`
}

// DefaultConfig returns the default cache configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:     true,
		Dir:         DefaultDir,
		MaxSize:     DefaultMaxSizeMB,
		TTL:         DefaultTTL,
		Types:       slices.Clone(DefaultTypes),
		Compression: true,
		AutoClean: AutoCleanConfig{
			Enabled:   true,
			Interval:  DefaultCleanInterval,
			Threshold: DefaultCleanThreshold,
		},
	}
}

// MaxBytes returns the byte budget.
func (c Config) MaxBytes() int64 {
	return int64(c.MaxSize * 1024 * 1024)
}

// Allows reports whether entries of typ may be cached.
func (c Config) Allows(typ Type) bool {
	return slices.Contains(c.Types, typ)
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	if c.MaxSize <= 0 {
		return fmt.Errorf("%w: max size must be positive, got %v", ErrInvalidConfig, c.MaxSize)
	}
	if c.TTL < 0 {
		return fmt.Errorf("%w: ttl must not be negative, got %v", ErrInvalidConfig, c.TTL)
	}
	for _, t := range c.Types {
		if !t.Valid() {
			return fmt.Errorf("%w: unknown type %q", ErrInvalidConfig, t)
		}
	}
	if t := c.AutoClean.Threshold; t <= 0 || t > 1 {
		return fmt.Errorf("%w: auto clean threshold must be in (0, 1], got %v", ErrInvalidConfig, t)
	}
	if c.AutoClean.Enabled && c.AutoClean.Interval <= 0 {
		return fmt.Errorf("%w: auto clean interval must be positive, got %v", ErrInvalidConfig, c.AutoClean.Interval)
	}
	return nil
}

// normalize replaces invalid or unset fields with their defaults so that a
// bad configuration never stops the cache from being constructed.
func (c Config) normalize(log Logger) Config {
	d := DefaultConfig()
	if c.Dir == "" {
		c.Dir = d.Dir
	}
	if c.MaxSize <= 0 {
		if c.MaxSize < 0 {
			log.Warn("invalid cache max size, using default", "max_size", c.MaxSize, "default", d.MaxSize)
		}
		c.MaxSize = d.MaxSize
	}
	if c.TTL <= 0 {
		if c.TTL < 0 {
			log.Warn("invalid cache ttl, using default", "ttl", c.TTL, "default", d.TTL)
		}
		c.TTL = d.TTL
	}

	types := make([]Type, 0, len(c.Types))
	for _, t := range c.Types {
		if !t.Valid() {
			log.Warn("ignoring unknown cache type", "type", t)
			continue
		}
		if !slices.Contains(types, t) {
			types = append(types, t)
		}
	}
	if len(types) == 0 {
		types = d.Types
	}
	c.Types = types

	if t := c.AutoClean.Threshold; t <= 0 || t > 1 {
		if t != 0 {
			log.Warn("invalid auto clean threshold, using default", "threshold", t, "default", d.AutoClean.Threshold)
		}
		c.AutoClean.Threshold = d.AutoClean.Threshold
	}
	if c.AutoClean.Interval <= 0 {
		c.AutoClean.Interval = d.AutoClean.Interval
	}
	return c
}
