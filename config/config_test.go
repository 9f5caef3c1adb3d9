package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDefaultIsSane(t *testing.T) {
	d := Default()
	require.Greater(t, d.Throttler.MaxBatchSize, d.Throttler.MinBatchSize)
	require.Greater(t, d.Lock.LockTimeout, time.Duration(0))
	require.Greater(t, d.Cache.MaxEntries, 0)
	require.Greater(t, d.Skiplist.MaxLevels, 0)
}

func TestLoadOverridesOnlyNamedFields(t *testing.T) {
	data := []byte(`
throttler:
  maxBatchSize: 42
lock:
  allowLockStealing: true
`)
	cfg, err := Load(data)
	require.NoError(t, err)
	require.Equal(t, 42, cfg.Throttler.MaxBatchSize)
	require.True(t, cfg.Lock.AllowLockStealing)
	// Untouched fields keep their defaults.
	require.Equal(t, Default().Throttler.MinBatchSize, cfg.Throttler.MinBatchSize)
	require.Equal(t, Default().Skiplist.MaxLevels, cfg.Skiplist.MaxLevels)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	_, err := Load([]byte("throttler: [this is not a map"))
	require.Error(t, err)
}

func TestRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Cache.MaxEntries = 7
	raw, err := yaml.Marshal(&cfg)
	require.NoError(t, err)
	loaded, err := Load(raw)
	require.NoError(t, err)
	require.Equal(t, 7, loaded.Cache.MaxEntries)
}
