// Package monitor tracks gateway performance: latency histograms for venue
// control calls and persistence writes, plus lifecycle counters.
package monitor

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics is the process-wide metrics instance.
type Metrics struct {
	// Latency histograms
	ControlLatency *LatencyHistogram // venue control-channel calls
	DBLatency      *LatencyHistogram // persistence writes

	// Counters
	ordersSubmitted uint64
	ordersFilled    uint64
	ordersRejected  uint64
	streamFrames    uint64
	errorsCount     uint64
}

// LatencyHistogram tracks latency samples with a sliding window. Stats are
// recomputed lazily, only when samples changed since the last call.
type LatencyHistogram struct {
	mu          sync.Mutex
	samples     []float64
	maxSize     int
	dirty       bool
	cachedStats LatencyStats
}

// NewMetrics creates a metrics instance.
func NewMetrics() *Metrics {
	return &Metrics{
		ControlLatency: NewLatencyHistogram(1000),
		DBLatency:      NewLatencyHistogram(1000),
	}
}

// NewLatencyHistogram creates a sliding window histogram.
func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 1000
	}
	return &LatencyHistogram{
		samples: make([]float64, 0, size),
		maxSize: size,
		dirty:   true,
	}
}

// Record adds a latency sample in milliseconds.
func (h *LatencyHistogram) Record(latencyMs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.samples) >= h.maxSize {
		h.samples = h.samples[1:]
	}
	h.samples = append(h.samples, latencyMs)
	h.dirty = true
}

// RecordDuration converts duration to ms and records.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d.Nanoseconds()) / 1e6)
}

// Stats returns min, max, avg, p50, p95, p99.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.dirty && h.cachedStats.Count > 0 {
		return h.cachedStats
	}

	n := len(h.samples)
	if n == 0 {
		return LatencyStats{}
	}

	sorted := make([]float64, n)
	copy(sorted, h.samples)
	sort.Float64s(sorted)

	var sum float64
	min, max := sorted[0], sorted[n-1]
	for _, v := range sorted {
		sum += v
	}

	h.cachedStats = LatencyStats{
		Min:   min,
		Max:   max,
		Avg:   sum / float64(n),
		P50:   sorted[n/2],
		P95:   sorted[int(float64(n)*0.95)],
		P99:   sorted[int(float64(n)*0.99)],
		Count: n,
	}
	h.dirty = false

	return h.cachedStats
}

// LatencyStats holds computed latency statistics.
type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}

// IncrementSubmitted counts an order handed to a venue.
func (m *Metrics) IncrementSubmitted() {
	atomic.AddUint64(&m.ordersSubmitted, 1)
}

// IncrementFilled counts an applied fill.
func (m *Metrics) IncrementFilled() {
	atomic.AddUint64(&m.ordersFilled, 1)
}

// IncrementRejected counts a rejected order.
func (m *Metrics) IncrementRejected() {
	atomic.AddUint64(&m.ordersRejected, 1)
}

// IncrementStreamFrames counts a decoded push frame.
func (m *Metrics) IncrementStreamFrames() {
	atomic.AddUint64(&m.streamFrames, 1)
}

// IncrementErrors increments the error counter.
func (m *Metrics) IncrementErrors() {
	atomic.AddUint64(&m.errorsCount, 1)
}

// Snapshot is a point-in-time metrics view.
type Snapshot struct {
	ControlLatency  LatencyStats `json:"control_latency"`
	DBLatency       LatencyStats `json:"db_latency"`
	OrdersSubmitted uint64       `json:"orders_submitted"`
	OrdersFilled    uint64       `json:"orders_filled"`
	OrdersRejected  uint64       `json:"orders_rejected"`
	StreamFrames    uint64       `json:"stream_frames"`
	ErrorsCount     uint64       `json:"errors_count"`
	GoroutineCount  int          `json:"goroutine_count"`
	HeapAlloc       uint64       `json:"heap_alloc_bytes"`
	HeapSys         uint64       `json:"heap_sys_bytes"`
	Timestamp       time.Time    `json:"timestamp"`
}

// GetSnapshot returns a point-in-time metrics snapshot.
func (m *Metrics) GetSnapshot() Snapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return Snapshot{
		ControlLatency:  m.ControlLatency.Stats(),
		DBLatency:       m.DBLatency.Stats(),
		OrdersSubmitted: atomic.LoadUint64(&m.ordersSubmitted),
		OrdersFilled:    atomic.LoadUint64(&m.ordersFilled),
		OrdersRejected:  atomic.LoadUint64(&m.ordersRejected),
		StreamFrames:    atomic.LoadUint64(&m.streamFrames),
		ErrorsCount:     atomic.LoadUint64(&m.errorsCount),
		GoroutineCount:  runtime.NumGoroutine(),
		HeapAlloc:       memStats.HeapAlloc,
		HeapSys:         memStats.HeapSys,
		Timestamp:       time.Now(),
	}
}

// Timer helps measure operation duration.
type Timer struct {
	start     time.Time
	histogram *LatencyHistogram
}

// NewTimer creates a timer that records to the given histogram.
func NewTimer(h *LatencyHistogram) *Timer {
	return &Timer{
		start:     time.Now(),
		histogram: h,
	}
}

// Stop records elapsed time to histogram.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	if t.histogram != nil {
		t.histogram.RecordDuration(elapsed)
	}
	return elapsed
}
