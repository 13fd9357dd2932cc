package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics for one producer or consumer
// process in the camera fabric.
type Metrics struct {
	// Acquisition counters
	FramesCaptured   atomic.Uint64
	FramesDecoded    atomic.Uint64
	FramesPublished  atomic.Uint64
	FramesDiscarded  atomic.Uint64 // evicted by the ring's eviction-refusal rule or a shape change

	// Consumer-side counters
	FramesDelivered atomic.Uint64
	WaitTimeouts    atomic.Uint64

	// Error counters
	AcquisitionErrors atomic.Uint64
	DecodeErrors      atomic.Uint64
	IPCErrors         atomic.Uint64

	// Latency tracking
	CaptureLatencyUs atomic.Uint64 // time from exposure end to publish, microseconds
	DeliveryLatencyUs atomic.Uint64 // time from publish to consumer attach, microseconds

	// Ring occupancy
	RingSlotsInUse atomic.Uint64
	RingSlotsTotal atomic.Uint64

	// Recording state
	RecordingActive atomic.Uint64 // 0 = inactive, 1 = active
	RecordingBytes  atomic.Uint64
	RecordingFrames atomic.Uint64

	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}
	m.registerPrometheusMetrics()
	return m
}

func (m *Metrics) registerPrometheusMetrics() {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "camerafabric_frames_captured_total",
			Help: "Total raw frames captured from the camera SDK",
		},
		func() float64 { return float64(m.FramesCaptured.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "camerafabric_frames_decoded_total",
			Help: "Total frames decoded into a ring buffer",
		},
		func() float64 { return float64(m.FramesDecoded.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "camerafabric_frames_published_total",
			Help: "Total frames published under the camera descriptor lock",
		},
		func() float64 { return float64(m.FramesPublished.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "camerafabric_frames_discarded_total",
			Help: "Total ring slots discarded by the eviction-refusal rule or a shape change",
		},
		func() float64 { return float64(m.FramesDiscarded.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "camerafabric_frames_delivered_total",
			Help: "Total frames attached by a consumer",
		},
		func() float64 { return float64(m.FramesDelivered.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "camerafabric_wait_timeouts_total",
			Help: "Total consumer waits that timed out without a new frame",
		},
		func() float64 { return float64(m.WaitTimeouts.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "camerafabric_acquisition_errors_total",
			Help: "Total camera SDK acquisition errors",
		},
		func() float64 { return float64(m.AcquisitionErrors.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "camerafabric_decode_errors_total",
			Help: "Total raw-frame decode errors",
		},
		func() float64 { return float64(m.DecodeErrors.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "camerafabric_ipc_errors_total",
			Help: "Total shared-memory/IPC substrate errors",
		},
		func() float64 { return float64(m.IPCErrors.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "camerafabric_capture_latency_microseconds",
			Help: "Time from exposure end to publish",
		},
		func() float64 { return float64(m.CaptureLatencyUs.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "camerafabric_delivery_latency_microseconds",
			Help: "Time from publish to consumer attach",
		},
		func() float64 { return float64(m.DeliveryLatencyUs.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "camerafabric_ring_slots_in_use",
			Help: "Ring slots currently claimed by a writer or reader",
		},
		func() float64 { return float64(m.RingSlotsInUse.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "camerafabric_ring_slots_total",
			Help: "Total ring slots configured",
		},
		func() float64 { return float64(m.RingSlotsTotal.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "camerafabric_recording_active",
			Help: "Recording active (0=inactive, 1=active)",
		},
		func() float64 { return float64(m.RecordingActive.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "camerafabric_recording_bytes",
			Help: "Total bytes written to the current recording",
		},
		func() float64 { return float64(m.RecordingBytes.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "camerafabric_recording_frames",
			Help: "Total frames written to the current recording",
		},
		func() float64 { return float64(m.RecordingFrames.Load()) },
	))
}

// UpdateCaptureLatency records the time between a frame's exposure end
// (captureTime) and the moment it was published.
func (m *Metrics) UpdateCaptureLatency(captureTime time.Time) {
	m.CaptureLatencyUs.Store(uint64(time.Since(captureTime).Microseconds()))
}

// UpdateDeliveryLatency records the time between a frame's publish
// (publishTime) and a consumer attaching it.
func (m *Metrics) UpdateDeliveryLatency(publishTime time.Time) {
	m.DeliveryLatencyUs.Store(uint64(time.Since(publishTime).Microseconds()))
}

// UpdateRingOccupancy records how many of the ring's slots are
// currently claimed.
func (m *Metrics) UpdateRingOccupancy(inUse, total int) {
	m.RingSlotsInUse.Store(uint64(inUse))
	m.RingSlotsTotal.Store(uint64(total))
}

// Handler returns the Prometheus HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer starts the metrics HTTP server.
func (m *Metrics) StartServer(addr string) error {
	http.Handle("/metrics", m.Handler())
	return http.ListenAndServe(addr, nil)
}
