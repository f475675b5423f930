package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ScanMetrics is a container of metrics for table scans. A nil *ScanMetrics
// is valid and records nothing.
type ScanMetrics struct {
	batchesTotal      prometheus.Counter
	rowsTotal         prometheus.Counter
	decodeErrorsTotal *prometheus.CounterVec
	partitionsTotal   *prometheus.CounterVec
	slotsInUse        prometheus.Gauge
	slotWaitSeconds   prometheus.Histogram
	footerReadsTotal  prometheus.Counter
}

// NewScanMetrics creates scan metrics registered to reg. A nil reg creates
// unregistered metrics.
func NewScanMetrics(reg prometheus.Registerer) *ScanMetrics {
	return &ScanMetrics{
		batchesTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "ipcscan_scan_batches_total",
			Help: "Total number of record batches yielded by scan partitions",
		}),
		rowsTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "ipcscan_scan_rows_total",
			Help: "Total number of rows yielded by scan partitions after limit truncation",
		}),
		decodeErrorsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "ipcscan_scan_errors_total",
			Help: "Total number of scan partitions that failed, by error code",
		}, []string{"code"}),
		partitionsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "ipcscan_scan_partitions_total",
			Help: "Total number of scan partitions by terminal state",
		}, []string{"state"}),
		slotsInUse: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "ipcscan_scan_decode_slots_in_use",
			Help: "Number of decode slots currently held across all tables",
		}),
		slotWaitSeconds: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name: "ipcscan_scan_decode_slot_wait_seconds",
			Help: "Seconds a partition waited for a decode slot",

			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: time.Hour,
		}),
		footerReadsTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "ipcscan_table_footer_reads_total",
			Help: "Total number of IPC file footers read during table discovery",
		}),
	}
}

// ObserveBatch records one yielded batch of rows.
func (m *ScanMetrics) ObserveBatch(rows int64) {
	if m == nil {
		return
	}
	m.batchesTotal.Inc()
	m.rowsTotal.Add(float64(rows))
}

// ObserveSlotWait records the time spent acquiring a decode slot.
func (m *ScanMetrics) ObserveSlotWait(d time.Duration) {
	if m == nil {
		return
	}
	m.slotWaitSeconds.Observe(d.Seconds())
}

// SlotAcquired increments the slots-in-use gauge.
func (m *ScanMetrics) SlotAcquired() {
	if m == nil {
		return
	}
	m.slotsInUse.Inc()
}

// SlotReleased decrements the slots-in-use gauge.
func (m *ScanMetrics) SlotReleased() {
	if m == nil {
		return
	}
	m.slotsInUse.Dec()
}

// PartitionFinished counts a partition reaching a terminal state.
func (m *ScanMetrics) PartitionFinished(state string) {
	if m == nil {
		return
	}
	m.partitionsTotal.WithLabelValues(state).Inc()
}

// PartitionFailed counts a failed partition by error code.
func (m *ScanMetrics) PartitionFailed(code string) {
	if m == nil {
		return
	}
	if code == "" {
		code = "unknown"
	}
	m.decodeErrorsTotal.WithLabelValues(code).Inc()
}

// FooterRead counts one footer read.
func (m *ScanMetrics) FooterRead() {
	if m == nil {
		return
	}
	m.footerReadsTotal.Inc()
}
