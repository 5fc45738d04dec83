package position

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMetricsSnapshot(t *testing.T) {
	metrics := NewMetrics("balanced")

	metrics.RecordTrade(200, 0.1)
	metrics.RecordTrade(100, 0.05)
	metrics.RecordFiltered(0.2)
	metrics.RecordClose(10*time.Second, 5)
	metrics.RecordClose(20*time.Second, -2)

	snapshot := metrics.Snapshot()
	assert.Equal(t, "balanced", snapshot.Strategy)
	assert.Equal(t, 2, snapshot.TotalTrades)
	assert.Equal(t, 1, snapshot.FilteredTrades)
	assert.InDelta(t, 300, snapshot.TotalVolume, 1e-9)
	assert.InDelta(t, 0.15, snapshot.TotalFees, 1e-9)
	assert.InDelta(t, 0.2, snapshot.FeeSavings, 1e-9)

	assert.Equal(t, int64(15000), snapshot.AvgHoldTimeMs)
	assert.InDelta(t, 0.5, snapshot.WinRate, 1e-9)
	assert.InDelta(t, 5, snapshot.AvgWinSize, 1e-9)
	assert.InDelta(t, 2, snapshot.AvgLossSize, 1e-9)
}

func TestMetricsEmptySnapshot(t *testing.T) {
	snapshot := NewMetrics("aggressive").Snapshot()
	assert.Equal(t, 0, snapshot.TotalTrades)
	assert.Equal(t, 0.0, snapshot.WinRate)
	assert.Equal(t, int64(0), snapshot.AvgHoldTimeMs)
}
