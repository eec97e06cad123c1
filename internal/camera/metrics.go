package camera

import (
	"log/slog"
	"sync/atomic"

	"github.com/tphakala/camhal/internal/logging"
	"github.com/tphakala/camhal/internal/observability/metrics"
)

// MetricsCollector forwards pipeline events to Prometheus. A collector
// without metrics is a no-op.
type MetricsCollector struct {
	metrics *metrics.CameraMetrics
}

var globalMetrics atomic.Pointer[MetricsCollector]

// InitMetrics installs the global metrics collector. Passing nil disables
// collection.
func InitMetrics(m *metrics.CameraMetrics) {
	logger := logging.ForService("camera")
	if logger == nil {
		logger = slog.Default()
	}
	globalMetrics.Store(&MetricsCollector{metrics: m})
	if m != nil {
		logger.With("component", "metrics").Info("camera metrics collector initialized")
	}
}

// GetMetrics returns the global metrics collector.
func GetMetrics() *MetricsCollector {
	if mc := globalMetrics.Load(); mc != nil {
		return mc
	}
	return &MetricsCollector{}
}

func (mc *MetricsCollector) enabled() bool {
	return mc != nil && mc.metrics != nil
}

// ChannelStarted records a channel start attempt.
func (mc *MetricsCollector) ChannelStarted(channelType string, err error) {
	if !mc.enabled() {
		return
	}
	mc.metrics.RecordChannelStart(channelType, status(err))
}

// ChannelStopped records a channel stop.
func (mc *MetricsCollector) ChannelStopped(channelType string, err error) {
	if !mc.enabled() {
		return
	}
	mc.metrics.RecordChannelStop(channelType, status(err))
}

// RequestAccepted records an accepted request.
func (mc *MetricsCollector) RequestAccepted(channelType string) {
	if !mc.enabled() {
		return
	}
	mc.metrics.RecordRequest(channelType)
}

// RequestRejected records a synchronously failed request.
func (mc *MetricsCollector) RequestRejected(channelType, reason string) {
	if !mc.enabled() {
		return
	}
	mc.metrics.RecordRequestFailure(channelType, reason)
}

// FrameDelivered records a callback delivery.
func (mc *MetricsCollector) FrameDelivered(channelType string, st BufferStatus) {
	if !mc.enabled() {
		return
	}
	label := metrics.StatusSuccess
	if st != BufferStatusOK {
		label = metrics.StatusError
	}
	mc.metrics.RecordFrameDelivered(channelType, label)
}

// FrameDropped records a dropped driver frame.
func (mc *MetricsCollector) FrameDropped(channelType, reason string) {
	if !mc.enabled() {
		return
	}
	mc.metrics.RecordFrameDropped(channelType, reason)
}

// BuffersRegistered records the registered buffer count of a channel.
func (mc *MetricsCollector) BuffersRegistered(channelType string, count int) {
	if !mc.enabled() {
		return
	}
	mc.metrics.SetBuffersRegistered(channelType, count)
}

// BufferQueued records a buffer handed to the driver.
func (mc *MetricsCollector) BufferQueued(st StreamType) {
	if !mc.enabled() {
		return
	}
	mc.metrics.RecordBufferQueued(st.String())
}

// JpegJobStarted records an encode submission.
func (mc *MetricsCollector) JpegJobStarted() {
	if !mc.enabled() {
		return
	}
	mc.metrics.RecordJpegJobStarted()
}

// JpegJobFinished records an encode completion.
func (mc *MetricsCollector) JpegJobFinished(statusLabel string, seconds float64, outputBytes int) {
	if !mc.enabled() {
		return
	}
	mc.metrics.RecordJpegJobFinished(statusLabel, seconds, outputBytes)
}

func status(err error) string {
	if err != nil {
		return metrics.StatusError
	}
	return metrics.StatusSuccess
}
