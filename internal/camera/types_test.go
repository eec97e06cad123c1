package camera

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/camhal/internal/errors"
)

func TestSuperBufferCloneIsDeep(t *testing.T) {
	orig := &SuperBuffer{
		CameraHandle:  1,
		ChannelHandle: 2,
		Bufs: []*StreamBuffer{
			{StreamHandle: 3, BufIdx: 1, FrameIdx: 9, Timestamp: time.Unix(10, 0)},
		},
	}

	cp := orig.Clone()
	require.Len(t, cp.Bufs, 1)
	assert.NotSame(t, orig.Bufs[0], cp.Bufs[0])
	assert.Equal(t, *orig.Bufs[0], *cp.Bufs[0])

	orig.Bufs[0].BufIdx = 5
	assert.Equal(t, 1, cp.Bufs[0].BufIdx)

	assert.Nil(t, (*SuperBuffer)(nil).Clone())
}

func TestFrameLen(t *testing.T) {
	tests := []struct {
		name   string
		format Format
		dim    Dimension
		want   int
	}{
		{"nv21 vga", FormatYUV420NV21, Dimension{640, 480}, 460800},
		{"nv12 odd", FormatYUV420NV12, Dimension{2, 2}, 6},
		{"metadata record", FormatOpaque, Dimension{MetadataBufferSize, 1}, MetadataBufferSize},
		{"invalid", FormatInvalid, Dimension{640, 480}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FrameLen(tt.format, tt.dim))
		})
	}
}

func TestSentinelsAreDistinct(t *testing.T) {
	sentinels := []error{
		ErrInvalidArgument, ErrUnknownBuffer, ErrUnsupportedFormat, ErrResourceExhausted,
		ErrDriver, ErrChannelCreation, ErrInvalidState, ErrAlreadyInitialized,
		ErrRequestInFlight, ErrEncodeFailure,
	}
	for i, a := range sentinels {
		for j, b := range sentinels {
			assert.Equal(t, i == j, errors.Is(a, b), "%v vs %v", a, b)
		}
	}
}

func TestWrappedSentinelMatches(t *testing.T) {
	err := errors.New(ErrUnknownBuffer).
		Component("camera.channel").
		Context("frame_number", 4).
		Build()

	assert.True(t, errors.Is(err, ErrUnknownBuffer))
	assert.False(t, errors.Is(err, ErrInvalidArgument))
	assert.True(t, errors.IsNotFound(err))
}

func TestMetricsCollectorNoop(t *testing.T) {
	mc := GetMetrics()
	assert.NotPanics(t, func() {
		mc.ChannelStarted("regular", nil)
		mc.FrameDropped("picture", "index_range")
		mc.JpegJobFinished("success", 0.1, 10)
	})
}
