package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_RecordsAggregateEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg, "")
	require.NoError(t, err)

	c.ContextPublished("agg", 1, 2)
	c.ContextPublished("agg", 2, 3)
	c.HostChosen("agg", "primary")
	c.HostChosen("agg", "primary")
	c.HostChosen("agg", "fallback")
	c.NoHost("agg")

	assert.Equal(t, float64(2), testutil.ToFloat64(c.refreshes.WithLabelValues("agg")))
	assert.Equal(t, float64(3), testutil.ToFloat64(c.priorities.WithLabelValues("agg")))
	assert.Equal(t, float64(2), testutil.ToFloat64(c.version.WithLabelValues("agg")))
	assert.Equal(t, float64(2), testutil.ToFloat64(c.hostsChosen.WithLabelValues("agg", "primary")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.hostsChosen.WithLabelValues("agg", "fallback")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.noHost.WithLabelValues("agg")))

	count, err := testutil.GatherAndCount(reg, "aggregator_aggregate_hosts_chosen_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestCollector_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewCollector(reg, "x")
	require.NoError(t, err)

	_, err = NewCollector(reg, "x")
	assert.Error(t, err)
}

func TestProvideRegistry(t *testing.T) {
	reg := ProvideRegistry()
	stats, err := ProvideCollector(reg)
	require.NoError(t, err)
	stats.NoHost("agg")

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "aggregator_aggregate_no_host_total")
	assert.Contains(t, names, "go_goroutines")
}
