package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusRecorder_CountsEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := NewPrometheusRecorder(reg)

	rec.RecordGroup(8, false, 1.2)
	rec.RecordGroup(8, true, 4.7)
	rec.RecordOutcome("success")
	rec.RecordOutcome("success")
	rec.RecordOutcome("failed")
	rec.RecordCorrection(true)
	rec.RecordCorrection(false)
	rec.RecordConfidenceFallback()

	assert.InDelta(t, 1, testutil.ToFloat64(rec.groupsTotal.WithLabelValues("batch")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(rec.groupsTotal.WithLabelValues("fallback")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(rec.outcomesTotal.WithLabelValues("success")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(rec.outcomesTotal.WithLabelValues("failed")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(rec.correctionsTotal.WithLabelValues("true")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(rec.correctionsTotal.WithLabelValues("false")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(rec.confidenceFallbacks), 0)
}

func TestPrometheusRecorder_RegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := NewPrometheusRecorder(reg)
	rec.RecordGroup(4, false, 0.1)

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["dockscreen_groups_total"])
	assert.True(t, names["dockscreen_group_size"])
	assert.True(t, names["dockscreen_group_duration_seconds"])
}

func TestNopRecorder_Discards(t *testing.T) {
	rec := NewNopRecorder()
	rec.RecordGroup(1, true, 0)
	rec.RecordOutcome("failed")
	rec.RecordCorrection(false)
	rec.RecordConfidenceFallback()
}
