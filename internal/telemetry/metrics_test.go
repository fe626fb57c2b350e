package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics_DisabledSkipsRegistration(t *testing.T) {
	m := NewMetrics(&MetricsConfig{Enabled: false})
	require.NotNil(t, m)

	// Recording against a disabled instance must not panic.
	m.RecordCommit()
	m.SetOpenHandles(3)
}

func TestMetrics_RecordVFSOp(t *testing.T) {
	m := NewMetrics(&MetricsConfig{Enabled: true, Namespace: "sharebox_test"})

	m.RecordVFSOp("read", 0, true)
	m.RecordVFSOp("read", 0, false)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.vfsOps.WithLabelValues("read", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.vfsOps.WithLabelValues("read", "error")))
}

func TestMetrics_RecordSyncRun(t *testing.T) {
	m := NewMetrics(&MetricsConfig{Enabled: true, Namespace: "sharebox_test2"})

	m.RecordSyncRun("merged")
	m.RecordSyncRun("conflict")
	m.RecordSyncRun("merged")

	assert.Equal(t, float64(2), testutil.ToFloat64(m.syncRuns.WithLabelValues("merged")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.syncRuns.WithLabelValues("conflict")))
}

func TestMetrics_SetOpenHandles(t *testing.T) {
	m := NewMetrics(&MetricsConfig{Enabled: true, Namespace: "sharebox_test3"})

	m.SetOpenHandles(5)
	assert.Equal(t, float64(5), testutil.ToFloat64(m.openHandles))
}
