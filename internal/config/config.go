// Package config loads cache settings from a config file and the
// environment.
package config

import (
	"fmt"
	"os"
	"reflect"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/dgnsrekt/buildcache/internal/cache"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. BUILDCACHE_MAX_SIZE.
const EnvPrefix = "BUILDCACHE_"

// Config file keys.
const (
	KeyEnabled           = "enabled"
	KeyDir               = "cache_dir"
	KeyMaxSize           = "max_size"
	KeyTTL               = "ttl"
	KeyTypes             = "types"
	KeyCompression       = "compression"
	KeyAutoCleanEnabled  = "auto_clean.enabled"
	KeyAutoCleanInterval = "auto_clean.interval_hours"
	KeyAutoCleanThresh   = "auto_clean.threshold"
	KeyWatch             = "watch"
)

// Load builds the cache configuration. Defaults come first, then keys set
// in v, then BUILDCACHE_ environment variables. The result is validated.
//
// Duration variables accept Go durations ("90m") or milliseconds
// ("5400000").
func Load(v *viper.Viper) (cache.Config, error) {
	cfg := cache.DefaultConfig()

	if v != nil {
		if err := loadFromViper(v, &cfg); err != nil {
			return cfg, err
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{
		Prefix: EnvPrefix,
		FuncMap: map[reflect.Type]env.ParserFunc{
			reflect.TypeOf(cache.Type("")): func(s string) (interface{}, error) {
				return cache.ParseType(s)
			},
			// bare numbers are milliseconds, as in the config file's ttl
			reflect.TypeOf(time.Duration(0)): func(s string) (interface{}, error) {
				return ParseTTL(s)
			},
		},
	}); err != nil {
		return cfg, fmt.Errorf("error parsing environment: %w", err)
	}

	cfg.Dir = ExpandPath(cfg.Dir)

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid cache configuration: %w", err)
	}
	return cfg, nil
}

func loadFromViper(v *viper.Viper, cfg *cache.Config) error {
	if v.IsSet(KeyEnabled) {
		cfg.Enabled = v.GetBool(KeyEnabled)
	}
	if v.IsSet(KeyDir) {
		cfg.Dir = v.GetString(KeyDir)
	}
	if v.IsSet(KeyMaxSize) {
		cfg.MaxSize = v.GetFloat64(KeyMaxSize)
	}
	if v.IsSet(KeyTTL) {
		ttl, err := ParseTTL(v.Get(KeyTTL))
		if err != nil {
			return fmt.Errorf("%s: %w", KeyTTL, err)
		}
		cfg.TTL = ttl
	}
	if v.IsSet(KeyTypes) {
		names := v.GetStringSlice(KeyTypes)
		types := make([]cache.Type, 0, len(names))
		for _, name := range names {
			t, err := cache.ParseType(name)
			if err != nil {
				return fmt.Errorf("%s: %w", KeyTypes, err)
			}
			types = append(types, t)
		}
		cfg.Types = types
	}
	if v.IsSet(KeyCompression) {
		cfg.Compression = v.GetBool(KeyCompression)
	}
	if v.IsSet(KeyAutoCleanEnabled) {
		cfg.AutoClean.Enabled = v.GetBool(KeyAutoCleanEnabled)
	}
	if v.IsSet(KeyAutoCleanInterval) {
		hours, err := cast.ToFloat64E(v.Get(KeyAutoCleanInterval))
		if err != nil {
			return fmt.Errorf("%s: %w", KeyAutoCleanInterval, err)
		}
		cfg.AutoClean.Interval = time.Duration(hours * float64(time.Hour))
	}
	if v.IsSet(KeyAutoCleanThresh) {
		cfg.AutoClean.Threshold = v.GetFloat64(KeyAutoCleanThresh)
	}
	if v.IsSet(KeyWatch) {
		cfg.Watch = v.GetBool(KeyWatch)
	}
	return nil
}

// ParseTTL reads a TTL from a config value. Numbers are milliseconds;
// strings may also be Go durations such as "90m".
func ParseTTL(raw interface{}) (time.Duration, error) {
	if s, ok := raw.(string); ok {
		if d, err := time.ParseDuration(s); err == nil {
			return d, nil
		}
	}
	ms, err := cast.ToInt64E(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid ttl %v: want milliseconds or a duration", raw)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

// SetDefaults registers the cache defaults with v so they show up in the
// merged configuration.
func SetDefaults(v *viper.Viper) {
	d := cache.DefaultConfig()

	types := make([]string, len(d.Types))
	for i, t := range d.Types {
		types[i] = t.String()
	}

	v.SetDefault(KeyEnabled, d.Enabled)
	v.SetDefault(KeyDir, d.Dir)
	v.SetDefault(KeyMaxSize, d.MaxSize)
	v.SetDefault(KeyTTL, d.TTL.String())
	v.SetDefault(KeyTypes, types)
	v.SetDefault(KeyCompression, d.Compression)
	v.SetDefault(KeyAutoCleanEnabled, d.AutoClean.Enabled)
	v.SetDefault(KeyAutoCleanInterval, d.AutoClean.Interval.Hours())
	v.SetDefault(KeyAutoCleanThresh, d.AutoClean.Threshold)
	v.SetDefault(KeyWatch, d.Watch)
}

// ExpandPath expands a leading ~ and environment variables in path.
func ExpandPath(path string) string {
	if expanded, err := homedir.Expand(path); err == nil {
		path = expanded
	}
	return os.ExpandEnv(path)
}
