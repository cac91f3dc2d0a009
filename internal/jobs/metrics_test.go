package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestTrackerRecordsOutcome(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	require.NoError(t, m.Track("ledger:reconcile").End(nil))
	boom := errors.New("boom")
	require.ErrorIs(t, m.Track("ledger:reconcile").End(boom), boom)

	require.Equal(t, float64(1), testutil.ToFloat64(m.RunsCounter("ledger:reconcile", "success")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.RunsCounter("ledger:reconcile", "failure")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.failures.WithLabelValues("ledger:reconcile")))
}

func TestAddItemsIgnoresEmptyCounts(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.AddItems("ledger:expiry_sweep", "expired", 0)
	m.AddItems("ledger:expiry_sweep", "expired", 3)
	require.Equal(t, float64(3), testutil.ToFloat64(m.ItemsCounter("ledger:expiry_sweep", "expired")))

	var nilMetrics *Metrics
	nilMetrics.AddItems("x", "y", 1)
	require.NoError(t, nilMetrics.Track("x").End(nil))
}
