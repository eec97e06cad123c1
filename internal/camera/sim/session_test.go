package sim_test

import (
	"bytes"
	"image/jpeg"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/camhal/internal/camera"
	"github.com/tphakala/camhal/internal/camera/channel"
	"github.com/tphakala/camhal/internal/camera/exif"
	"github.com/tphakala/camhal/internal/camera/postproc"
	"github.com/tphakala/camhal/internal/camera/sim"
)

type result struct {
	metadata    *camera.SuperBuffer
	res         *camera.StreamBufferResult
	frameNumber uint32
}

func TestSession_PreviewAndStillCapture(t *testing.T) {
	drv := sim.NewDriver(sim.DriverConfig{FrameInterval: 2 * time.Millisecond}, sim.NewSensor(64, 4096))
	enc := sim.NewEncoder(sim.EncoderConfig{})
	defer func() { _ = enc.Close() }()

	results := make(chan result, 64)
	cb := func(md *camera.SuperBuffer, res *camera.StreamBufferResult, fn uint32, _ any) {
		results <- result{metadata: md, res: res, frameNumber: fn}
	}
	reg := channel.NewRegistry()
	cfg := channel.Config{Driver: drv, CameraHandle: 1, Registry: reg, Callback: cb}

	preview := channel.NewRegularChannel(cfg, &camera.StreamSpec{
		Width: 32, Height: 16, Format: camera.PixelFormatImplementationDefined, MaxBuffers: channel.RegularMaxBuffers,
	})
	previewBufs := make([]*camera.GraphicBuffer, channel.RegularMaxBuffers)
	for i := range previewBufs {
		previewBufs[i] = &camera.GraphicBuffer{Fd: -1, Size: 768, Flags: camera.PrivFlagHWTexture, Data: make([]byte, 768)}
	}
	require.NoError(t, preview.RegisterBuffers(previewBufs))
	defer func() { _ = preview.Close() }()

	snapshot := channel.NewPictureChannel(cfg, &camera.StreamSpec{
		Width: 32, Height: 16, Format: camera.PixelFormatBlob, MaxBuffers: channel.PictureMaxBuffers,
	}, enc, postproc.Options{DrainTimeout: time.Second})
	jpegBuf := &camera.GraphicBuffer{Fd: -1, Size: 64 * 1024, Data: make([]byte, 64*1024)}
	require.NoError(t, snapshot.RegisterBuffers([]*camera.GraphicBuffer{jpegBuf}))
	defer func() { _ = snapshot.Close() }()
	assert.Equal(t, 2, reg.Len())

	require.NoError(t, preview.Request(previewBufs[0], 100))
	require.NoError(t, preview.Request(previewBufs[1], 101))

	settings := &postproc.JpegSettings{
		Quality:     90,
		Orientation: 90,
		MaxJpegSize: 32 * 1024,
		FocalLength: 4.7,
		GPS:         &exif.GPS{Latitude: 37.7749, Longitude: -122.4194, Timestamp: 1709251198},
	}
	require.NoError(t, snapshot.Request(jpegBuf, 200, settings))

	seen := map[uint32]camera.BufferStatus{}
	deadline := time.After(5 * time.Second)
	for len(seen) < 3 {
		select {
		case r := <-results:
			require.NotNil(t, r.res)
			seen[r.frameNumber] = r.res.Status
		case <-deadline:
			t.Fatalf("timed out, got %v", seen)
		}
	}
	assert.Equal(t, camera.BufferStatusOK, seen[100])
	assert.Equal(t, camera.BufferStatusOK, seen[101])
	assert.Equal(t, camera.BufferStatusOK, seen[200])

	size, ok := postproc.ReadTrailer(jpegBuf.Data, 32*1024)
	require.True(t, ok)
	cfgImg, err := jpeg.DecodeConfig(bytes.NewReader(jpegBuf.Data[:size]))
	require.NoError(t, err)
	assert.Equal(t, 16, cfgImg.Width, "rotated by 90 degrees")
	assert.Equal(t, 32, cfgImg.Height)

	require.NoError(t, snapshot.Stop())
	require.NoError(t, preview.Stop())
	assert.False(t, snapshot.IsActive())
}

func TestSession_MetadataStreams(t *testing.T) {
	drv := sim.NewDriver(sim.DriverConfig{FrameInterval: time.Millisecond}, nil)
	results := make(chan result, 64)
	ch := channel.NewMetadataChannel(channel.Config{
		Driver:       drv,
		CameraHandle: 1,
		Callback: func(md *camera.SuperBuffer, res *camera.StreamBufferResult, fn uint32, _ any) {
			select {
			case results <- result{metadata: md, res: res, frameNumber: fn}:
			default:
			}
		},
	})
	require.NoError(t, ch.Initialize())
	defer func() { _ = ch.Close() }()
	require.NoError(t, ch.Request())

	// More deliveries than slots shows buffers are recycled.
	for range camera.MinStreamingBufferNum * 2 {
		select {
		case r := <-results:
			require.NotNil(t, r.metadata)
			assert.Nil(t, r.res)
		case <-time.After(2 * time.Second):
			t.Fatal("metadata stream stalled")
		}
	}
}
