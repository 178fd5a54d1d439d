package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestTrackerRecordsOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	require.NoError(t, m.Track("sync_tick").End(nil))
	boom := errors.New("boom")
	require.ErrorIs(t, m.Track("sync_tick").End(boom), boom)
	m.AddFindings("sync_watchdog", "stuck_syncs", 3)
	m.AddFindings("sync_watchdog", "stuck_syncs", 0)

	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("sync_tick", "success")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("sync_tick")))
	require.Equal(t, 3.0, testutil.ToFloat64(m.findings.WithLabelValues("sync_watchdog", "stuck_syncs")))
	require.Greater(t, testutil.ToFloat64(m.lastOK.WithLabelValues("sync_tick")), 0.0)
	require.Equal(t, 1, testutil.CollectAndCount(m.lastOK))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	require.NoError(t, m.Track("x").End(nil))
	m.AddFindings("x", "y", 1)
}
