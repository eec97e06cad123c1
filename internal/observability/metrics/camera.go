// Package metrics provides camera pipeline metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// CameraMetrics contains Prometheus metrics for channel, stream and encoder operations.
type CameraMetrics struct {
	registry *prometheus.Registry

	// Channel metrics
	channelStarts   *prometheus.CounterVec
	channelStops    *prometheus.CounterVec
	channelActive   *prometheus.GaugeVec
	requestsTotal   *prometheus.CounterVec
	requestFailures *prometheus.CounterVec

	// Frame delivery metrics
	framesDelivered *prometheus.CounterVec
	framesDropped   *prometheus.CounterVec

	// Buffer metrics
	buffersRegistered *prometheus.GaugeVec
	buffersQueued     *prometheus.CounterVec

	// JPEG encoder metrics
	jpegJobsInFlight prometheus.Gauge
	jpegJobsTotal    *prometheus.CounterVec
	jpegEncodeTime   prometheus.Histogram
	jpegOutputBytes  prometheus.Histogram

	collectors []prometheus.Collector
}

// NewCameraMetrics creates and registers new camera metrics.
func NewCameraMetrics(registry *prometheus.Registry) (*CameraMetrics, error) {
	m := &CameraMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *CameraMetrics) initMetrics() {
	m.channelStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "camhal_channel_starts_total",
			Help: "Total number of channel start operations",
		},
		[]string{"channel_type", "status"},
	)

	m.channelStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "camhal_channel_stops_total",
			Help: "Total number of channel stop operations",
		},
		[]string{"channel_type", "status"},
	)

	m.channelActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "camhal_channels_active",
			Help: "Number of active channels",
		},
		[]string{"channel_type"},
	)

	m.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "camhal_requests_total",
			Help: "Total number of capture requests accepted by channels",
		},
		[]string{"channel_type"},
	)

	m.requestFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "camhal_request_failures_total",
			Help: "Total number of capture requests rejected synchronously",
		},
		[]string{"channel_type", "reason"},
	)

	m.framesDelivered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "camhal_frames_delivered_total",
			Help: "Total number of results delivered to the capture callback",
		},
		[]string{"channel_type", "status"},
	)

	m.framesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "camhal_frames_dropped_total",
			Help: "Total number of driver frames dropped without delivery",
		},
		[]string{"channel_type", "reason"},
	)

	m.buffersRegistered = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "camhal_buffers_registered",
			Help: "Number of buffers currently registered per channel type",
		},
		[]string{"channel_type"},
	)

	m.buffersQueued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "camhal_buffers_queued_total",
			Help: "Total number of buffers queued to the driver",
		},
		[]string{"stream_type"},
	)

	m.jpegJobsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "camhal_jpeg_jobs_in_flight",
			Help: "Number of JPEG encode jobs awaiting completion",
		},
	)

	m.jpegJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "camhal_jpeg_jobs_total",
			Help: "Total number of JPEG encode jobs by outcome",
		},
		[]string{"status"},
	)

	m.jpegEncodeTime = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "camhal_jpeg_encode_duration_seconds",
			Help:    "Time from encode submission to completion",
			Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount12), // 1ms to ~4s
		},
	)

	m.jpegOutputBytes = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "camhal_jpeg_output_bytes",
			Help:    "Size of encoded JPEG payloads",
			Buckets: prometheus.ExponentialBuckets(BucketStart4KB, BucketFactor2, BucketCount12), // 4KiB to 8MiB
		},
	)

	m.collectors = []prometheus.Collector{
		m.channelStarts,
		m.channelStops,
		m.channelActive,
		m.requestsTotal,
		m.requestFailures,
		m.framesDelivered,
		m.framesDropped,
		m.buffersRegistered,
		m.buffersQueued,
		m.jpegJobsInFlight,
		m.jpegJobsTotal,
		m.jpegEncodeTime,
		m.jpegOutputBytes,
	}
}

// Describe implements the prometheus.Collector interface.
func (m *CameraMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.collectors {
		collector.Describe(ch)
	}
}

// Collect implements the prometheus.Collector interface.
func (m *CameraMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.collectors {
		collector.Collect(ch)
	}
}

// RecordChannelStart records a channel start attempt.
func (m *CameraMetrics) RecordChannelStart(channelType, status string) {
	m.channelStarts.WithLabelValues(channelType, status).Inc()
	if status == StatusSuccess {
		m.channelActive.WithLabelValues(channelType).Inc()
	}
}

// RecordChannelStop records a channel stop.
func (m *CameraMetrics) RecordChannelStop(channelType, status string) {
	m.channelStops.WithLabelValues(channelType, status).Inc()
	m.channelActive.WithLabelValues(channelType).Dec()
}

// RecordRequest records an accepted request.
func (m *CameraMetrics) RecordRequest(channelType string) {
	m.requestsTotal.WithLabelValues(channelType).Inc()
}

// RecordRequestFailure records a synchronously rejected request.
func (m *CameraMetrics) RecordRequestFailure(channelType, reason string) {
	m.requestFailures.WithLabelValues(channelType, reason).Inc()
}

// RecordFrameDelivered records a callback delivery.
func (m *CameraMetrics) RecordFrameDelivered(channelType, status string) {
	m.framesDelivered.WithLabelValues(channelType, status).Inc()
}

// RecordFrameDropped records a dropped driver frame.
func (m *CameraMetrics) RecordFrameDropped(channelType, reason string) {
	m.framesDropped.WithLabelValues(channelType, reason).Inc()
}

// SetBuffersRegistered sets the registered buffer count for a channel type.
func (m *CameraMetrics) SetBuffersRegistered(channelType string, count int) {
	m.buffersRegistered.WithLabelValues(channelType).Set(float64(count))
}

// RecordBufferQueued records a buffer queued to the driver.
func (m *CameraMetrics) RecordBufferQueued(streamType string) {
	m.buffersQueued.WithLabelValues(streamType).Inc()
}

// RecordJpegJobStarted records an encode job submission.
func (m *CameraMetrics) RecordJpegJobStarted() {
	m.jpegJobsInFlight.Inc()
}

// RecordJpegJobFinished records an encode job completion.
func (m *CameraMetrics) RecordJpegJobFinished(status string, seconds float64, outputBytes int) {
	m.jpegJobsInFlight.Dec()
	m.jpegJobsTotal.WithLabelValues(status).Inc()
	m.jpegEncodeTime.Observe(seconds)
	if outputBytes > 0 {
		m.jpegOutputBytes.Observe(float64(outputBytes))
	}
}
