package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelStartStopTracksActiveGauge(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := NewCameraMetrics(registry)
	require.NoError(t, err)

	m.RecordChannelStart("regular", StatusSuccess)
	m.RecordChannelStart("regular", StatusError)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.channelActive.WithLabelValues("regular")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.channelStarts.WithLabelValues("regular", StatusError)))

	m.RecordChannelStop("regular", StatusSuccess)
	assert.Equal(t, float64(0), testutil.ToFloat64(m.channelActive.WithLabelValues("regular")))
}

func TestFrameDropReasons(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := NewCameraMetrics(registry)
	require.NoError(t, err)

	testCases := []struct {
		channelType string
		reason      string
	}{
		{"regular", ReasonBufferCount},
		{"picture", ReasonIndexRange},
		{"picture", ReasonQueueFull},
	}

	for _, tc := range testCases {
		t.Run(tc.channelType+"/"+tc.reason, func(t *testing.T) {
			m.RecordFrameDropped(tc.channelType, tc.reason)
			assert.Equal(t, float64(1), testutil.ToFloat64(m.framesDropped.WithLabelValues(tc.channelType, tc.reason)))
		})
	}
}

func TestJpegJobHistogram(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := NewCameraMetrics(registry)
	require.NoError(t, err)

	m.RecordJpegJobStarted()
	m.RecordJpegJobStarted()
	assert.Equal(t, float64(2), testutil.ToFloat64(m.jpegJobsInFlight))

	m.RecordJpegJobFinished(StatusSuccess, 0.02, 120_000)
	m.RecordJpegJobFinished(StatusError, 0.01, 0)
	assert.Equal(t, float64(0), testutil.ToFloat64(m.jpegJobsInFlight))

	metric := &dto.Metric{}
	require.NoError(t, m.jpegOutputBytes.Write(metric))
	assert.Equal(t, uint64(1), metric.GetHistogram().GetSampleCount())

	metric = &dto.Metric{}
	require.NoError(t, m.jpegEncodeTime.Write(metric))
	assert.Equal(t, uint64(2), metric.GetHistogram().GetSampleCount())
}

func TestDoubleRegistrationFails(t *testing.T) {
	registry := prometheus.NewRegistry()
	_, err := NewCameraMetrics(registry)
	require.NoError(t, err)

	_, err = NewCameraMetrics(registry)
	assert.Error(t, err)
}
