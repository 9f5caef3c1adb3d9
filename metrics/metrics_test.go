package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersEveryCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)

	families, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, families, 13)
}

func TestCountersIncrementIndependently(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.BuilderRowsIndexed.Add(5)
	m.CacheHits.Inc()
	m.CacheHits.Inc()

	require.Equal(t, 5.0, testutil.ToFloat64(m.BuilderRowsIndexed))
	require.Equal(t, 2.0, testutil.ToFloat64(m.CacheHits))
	require.Equal(t, 0.0, testutil.ToFloat64(m.CacheMisses))
}

func TestGaugesReflectLatestSet(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.BuilderBatchSize.Set(128)
	m.BuilderBatchSize.Set(64)
	require.Equal(t, 64.0, testutil.ToFloat64(m.BuilderBatchSize))

	m.SkiplistHeight.Set(4)
	require.Equal(t, 4.0, testutil.ToFloat64(m.SkiplistHeight))
}

func TestNewPanicsOnDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	require.Panics(t, func() { New(reg) })
}
