package sim

import (
	"bytes"
	"image/jpeg"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/camhal/internal/camera"
	"github.com/tphakala/camhal/internal/camera/postproc"
	"github.com/tphakala/camhal/internal/errors"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func nv21Job(w, h, rotation int, out []byte, cb postproc.EncodeCallback) *postproc.EncodeJob {
	dim := camera.Dimension{Width: w, Height: h}
	input := make([]byte, camera.FrameLen(camera.FormatYUV420NV21, dim))
	_, _ = NewSensor(w, 4*w).Fill(input)
	return &postproc.EncodeJob{
		ID:          1,
		Input:       input,
		InputFormat: camera.FormatYUV420NV21,
		InputDim:    dim,
		Output:      out,
		Quality:     postproc.DefaultJpegQuality,
		Rotation:    rotation,
		Callback:    cb,
	}
}

func TestSensor_FillProducesRamp(t *testing.T) {
	t.Parallel()

	s := NewSensor(8, 16)
	dst := make([]byte, 20)
	n, err := s.Fill(dst)
	require.NoError(t, err)
	assert.Equal(t, 20, n)
	assert.Equal(t, []byte{0, 1, 2, 3, 4, 5, 6, 7}, dst[:8])
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, dst[8:16])
	assert.Equal(t, []byte{2, 3, 4, 5}, dst[16:20])
	assert.Equal(t, 12, s.Buffered())
}

func TestEncodeNV21(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		rotation int
		wantW    int
		wantH    int
	}{
		{"no rotation", 0, 32, 16},
		{"quarter turn", 90, 16, 32},
		{"half turn", 180, 32, 16},
		{"three quarters", 270, 16, 32},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			out := make([]byte, 16*1024)
			job := nv21Job(32, 16, tt.rotation, out, nil)
			n, err := EncodeNV21(job)
			require.NoError(t, err)
			require.Positive(t, n)

			cfg, err := jpeg.DecodeConfig(bytes.NewReader(out[:n]))
			require.NoError(t, err)
			assert.Equal(t, tt.wantW, cfg.Width)
			assert.Equal(t, tt.wantH, cfg.Height)
		})
	}
}

func TestEncodeNV21_Errors(t *testing.T) {
	t.Parallel()

	_, err := EncodeNV21(nv21Job(32, 16, 0, make([]byte, 10), nil))
	assert.ErrorIs(t, err, camera.ErrResourceExhausted)

	job := nv21Job(32, 16, 0, make([]byte, 4096), nil)
	job.Input = job.Input[:10]
	_, err = EncodeNV21(job)
	assert.ErrorIs(t, err, camera.ErrInvalidArgument)
}

type completion struct {
	status postproc.JobStatus
	id     uint32
	n      int
}

func TestEncoder_CompletesFailsAndAborts(t *testing.T) {
	enc := NewEncoder(EncoderConfig{FailEvery: 2})
	defer func() { _ = enc.Close() }()

	results := make(chan completion, 4)
	cb := func(status postproc.JobStatus, id uint32, out *postproc.EncodeOutput) {
		results <- completion{status: status, id: id, n: out.BufFilledLen}
	}

	first := nv21Job(16, 16, 0, make([]byte, 8192), cb)
	first.ID = 1
	require.NoError(t, enc.Encode(first))
	r := <-results
	assert.Equal(t, postproc.JobStatusDone, r.status)
	assert.Positive(t, r.n)

	second := nv21Job(16, 16, 0, make([]byte, 8192), cb)
	second.ID = 2
	require.NoError(t, enc.Encode(second))
	r = <-results
	assert.Equal(t, postproc.JobStatusError, r.status, "every second job fails")
	assert.Equal(t, uint32(2), r.id)

	require.NoError(t, enc.Abort(3))
	third := nv21Job(16, 16, 0, make([]byte, 8192), cb)
	third.ID = 3
	require.NoError(t, enc.Encode(third))
	select {
	case got := <-results:
		t.Fatalf("aborted job completed: %+v", got)
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, enc.Close())
	assert.ErrorIs(t, enc.Encode(first), camera.ErrInvalidState)
	assert.ErrorIs(t, enc.Encode(nil), camera.ErrInvalidArgument)
}

func TestDriver_ContinuousStream(t *testing.T) {
	d := NewDriver(DriverConfig{FrameInterval: time.Millisecond}, nil)

	frames := make(chan *camera.SuperBuffer, 8)
	ch, err := d.AddChannel(1, nil, nil)
	require.NoError(t, err)
	sh, err := d.AddStream(1, ch)
	require.NoError(t, err)
	dim := camera.Dimension{Width: 8, Height: 4}
	require.NoError(t, d.ConfigStream(1, ch, sh, &camera.StreamConfig{
		Type:     camera.StreamTypePreview,
		Format:   camera.FormatYUV420NV21,
		Dim:      dim,
		FrameLen: camera.FrameLen(camera.FormatYUV420NV21, dim),
		NumBufs:  2,
		Notify:   func(f *camera.SuperBuffer) { frames <- f },
	}))

	mem := make([]byte, 48)
	require.NoError(t, d.MapStreamBuf(1, ch, sh, camera.MapBufTypeStreamBuf, 0, mem))
	require.NoError(t, d.StartChannel(1, ch))
	defer func() { _ = d.DeleteChannel(1, ch) }()

	require.NoError(t, d.QBuf(1, ch, &camera.StreamBuffer{StreamHandle: sh, BufIdx: 0}))
	select {
	case f := <-frames:
		require.Len(t, f.Bufs, 1)
		assert.Equal(t, 0, f.Bufs[0].BufIdx)
		assert.Equal(t, 48, f.Bufs[0].FilledLen)
		assert.Equal(t, ch, f.ChannelHandle)
	case <-time.After(time.Second):
		t.Fatal("no frame delivered")
	}

	err = d.QBuf(1, ch, &camera.StreamBuffer{StreamHandle: sh, BufIdx: 5})
	assert.True(t, errors.IsNotFound(err), "unmapped buffer is rejected")
}

func TestDriver_BurstWaitsForRequest(t *testing.T) {
	d := NewDriver(DriverConfig{FrameInterval: time.Millisecond}, nil)

	var mu sync.Mutex
	var got []*camera.SuperBuffer
	notify := func(f *camera.SuperBuffer) {
		mu.Lock()
		got = append(got, f)
		mu.Unlock()
	}
	delivered := func() int {
		mu.Lock()
		defer mu.Unlock()
		return len(got)
	}

	ch, err := d.AddChannel(1, &camera.ChannelAttr{NotifyMode: camera.NotifyBurst, WaterMark: 1}, notify)
	require.NoError(t, err)
	sh, err := d.AddStream(1, ch)
	require.NoError(t, err)
	require.NoError(t, d.ConfigStream(1, ch, sh, &camera.StreamConfig{
		Type:     camera.StreamTypeSnapshot,
		Format:   camera.FormatYUV420NV21,
		Dim:      camera.Dimension{Width: 4, Height: 4},
		FrameLen: 24,
	}))
	require.NoError(t, d.MapStreamBuf(1, ch, sh, camera.MapBufTypeStreamBuf, 0, make([]byte, 24)))
	require.NoError(t, d.QBuf(1, ch, &camera.StreamBuffer{StreamHandle: sh, BufIdx: 0}))
	require.NoError(t, d.StartChannel(1, ch))
	defer func() { _ = d.DeleteChannel(1, ch) }()

	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, delivered(), "burst channel is silent without a request")

	require.NoError(t, d.RequestSuperBuf(1, ch, 1))
	assert.Eventually(t, func() bool { return delivered() == 1 }, time.Second, time.Millisecond)
}

func TestDriver_FailureInjection(t *testing.T) {
	d := NewDriver(DriverConfig{}, nil)
	d.SetFailure(OpAddChannel, true)
	_, err := d.AddChannel(1, nil, nil)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryDriver))

	d.SetFailure(OpAddChannel, false)
	ch, err := d.AddChannel(1, nil, nil)
	require.NoError(t, err)

	d.SetFailure(OpStartChannel, true)
	require.Error(t, d.StartChannel(1, ch))
	require.NoError(t, d.DeleteChannel(1, ch))
	assert.Error(t, d.DeleteChannel(1, ch))
}

func TestDriver_ParmsAndCapability(t *testing.T) {
	d := NewDriver(DriverConfig{Capability: camera.Capability{
		PictureSizes: []camera.Dimension{{Width: 640, Height: 480}},
		MaxJpegSize:  1 << 20,
	}}, nil)

	require.NoError(t, d.SetParms(1, map[string]string{"iso": "100", "wb": "auto"}))
	got, err := d.GetParms(1, "iso", "missing")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"iso": "100"}, got)
	all, err := d.GetParms(1)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	capab, err := d.QueryCapability(1)
	require.NoError(t, err)
	assert.Equal(t, "sim", capab.SensorName)
	capab.PictureSizes[0].Width = 1
	again, _ := d.QueryCapability(1)
	assert.Equal(t, 640, again.PictureSizes[0].Width, "capability is returned by copy")
}
