package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScanMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewScanMetrics(reg)

	m.ObserveBatch(10)
	m.ObserveBatch(4)
	m.SlotAcquired()
	m.SlotAcquired()
	m.SlotReleased()
	m.PartitionFinished("exhausted")
	m.PartitionFailed("DECODE_ERROR")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.batchesTotal))
	assert.Equal(t, 14.0, testutil.ToFloat64(m.rowsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.slotsInUse))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.partitionsTotal.WithLabelValues("exhausted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.decodeErrorsTotal.WithLabelValues("DECODE_ERROR")))

	n, err := testutil.GatherAndCount(reg, "ipcscan_scan_rows_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestScanMetrics_NilSafe(t *testing.T) {
	var m *ScanMetrics
	m.ObserveBatch(1)
	m.SlotAcquired()
	m.SlotReleased()
	m.PartitionFinished("exhausted")
	m.PartitionFailed("")
	m.FooterRead()
}
