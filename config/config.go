// Package config holds this core's process-wide tunables as a plain struct
// with defaults, loadable from YAML. It deliberately carries no env-var or
// flag-parsing library: the teacher's own node configuration
// (cmd/rpcdaemon/main.go) is a plain struct literal assembled directly in
// cmd/, which is this core's library/cmd boundary — the CLI surface that
// would wire flags to this struct is out of scope here.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is every process-wide tunable this core's packages accept a
// pointer into, rather than each package inventing its own ad-hoc
// defaulting.
type Config struct {
	Throttler ThrottlerConfig `yaml:"throttler"`
	Lock      LockConfig      `yaml:"lock"`
	Cache     CacheConfig     `yaml:"cache"`
	Skiplist  SkiplistConfig  `yaml:"skiplist"`
}

type ThrottlerConfig struct {
	InitialBatchSize int           `yaml:"initialBatchSize"`
	MinBatchSize     int           `yaml:"minBatchSize"`
	MaxBatchSize     int           `yaml:"maxBatchSize"`
	MinSleep         time.Duration `yaml:"minSleep"`
	MaxSleep         time.Duration `yaml:"maxSleep"`
}

type LockConfig struct {
	LockTimeout       time.Duration `yaml:"lockTimeout"`
	RenewalInterval   time.Duration `yaml:"renewalInterval"`
	AllowLockStealing bool          `yaml:"allowLockStealing"`
	StaleThreshold    time.Duration `yaml:"staleThreshold"`
}

type CacheConfig struct {
	MaxEntries     int   `yaml:"maxEntries"`
	MaxMemoryBytes int64 `yaml:"maxMemoryBytes"`
	TTLSeconds     int   `yaml:"ttlSeconds"`
}

type SkiplistConfig struct {
	MaxLevels int `yaml:"maxLevels"`
}

// Default returns the tunables every package already falls back to when a
// Config field is left zero-valued, collected in one place so operators
// have a single document describing every default.
func Default() Config {
	return Config{
		Throttler: ThrottlerConfig{InitialBatchSize: 500, MinBatchSize: 10, MaxBatchSize: 10000, MinSleep: 0, MaxSleep: 5 * time.Second},
		Lock:      LockConfig{LockTimeout: 30 * time.Second, RenewalInterval: 10 * time.Second, AllowLockStealing: false, StaleThreshold: 30 * time.Second},
		Cache:     CacheConfig{MaxEntries: 1 << 20, MaxMemoryBytes: 0, TTLSeconds: 0},
		Skiplist:  SkiplistConfig{MaxLevels: 16},
	}
}

// Load parses YAML config bytes over top of Default(), so a config file
// only needs to name the tunables it overrides.
func Load(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}
