package metrics_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshvault/meshvault/pkg/metrics"
)

func TestRecordStageAndSnapshot(t *testing.T) {
	pm := metrics.NewPipelineMetrics()

	pm.RecordStage("validate", 10*time.Millisecond, true)
	pm.RecordStage("validate", 30*time.Millisecond, true)
	pm.RecordStage("validate", 20*time.Millisecond, false)
	pm.RecordStage("store", 5*time.Millisecond, true)
	pm.RecordUpload(true)
	pm.RecordUpload(false)

	snap := pm.Snapshot()
	assert.Equal(t, int64(2), snap.TotalUploads)
	assert.Equal(t, int64(1), snap.TotalFailures)
	assert.InDelta(t, 50.0, snap.SuccessRate, 0.001)

	validate, ok := snap.Stages["validate"]
	require.True(t, ok)
	assert.Equal(t, int64(2), validate.SuccessCount)
	assert.Equal(t, int64(1), validate.ErrorCount)
	assert.Equal(t, 20*time.Millisecond, validate.AverageTime)
	assert.Equal(t, 30*time.Millisecond, validate.MaxTime)
}

func TestReset(t *testing.T) {
	pm := metrics.NewPipelineMetrics()
	pm.RecordStage("scan", time.Millisecond, true)
	pm.RecordUpload(true)

	pm.Reset()

	snap := pm.Snapshot()
	assert.Zero(t, snap.TotalUploads)
	assert.Empty(t, snap.Stages)
}
