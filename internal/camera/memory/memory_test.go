package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/camhal/internal/camera"
	"github.com/tphakala/camhal/internal/errors"
)

func newHandles(t *testing.T, n, size int) []*camera.GraphicBuffer {
	t.Helper()
	bufs := make([]*camera.GraphicBuffer, n)
	for i := range bufs {
		b, err := AllocGraphicBuffer(size, camera.PrivFlagHWTexture)
		require.NoError(t, err)
		bufs[i] = b
		t.Cleanup(func() { _ = FreeGraphicBuffer(b) })
	}
	return bufs
}

func TestImportedMemoryMatchAndUnregister(t *testing.T) {
	bufs := newHandles(t, 3, 4096)
	m := NewImportedMemory()
	require.NoError(t, m.RegisterBuffers(bufs))

	assert.Equal(t, 3, m.Count())
	assert.False(t, m.QueuedAtStart(0))

	for i, b := range bufs {
		idx, err := m.MatchBufIndex(b)
		require.NoError(t, err)
		assert.Equal(t, i, idx)
		assert.Same(t, b, m.Buffer(i))
		assert.Equal(t, 4096, m.Size(i))
	}

	stranger := &camera.GraphicBuffer{Size: 4096}
	_, err := m.MatchBufIndex(stranger)
	assert.True(t, errors.Is(err, camera.ErrUnknownBuffer))

	_, err = m.MatchBufIndex(nil)
	assert.True(t, errors.Is(err, camera.ErrUnknownBuffer))

	m.UnregisterBuffers()
	assert.Equal(t, 0, m.Count())
	_, err = m.MatchBufIndex(bufs[0])
	assert.True(t, errors.Is(err, camera.ErrUnknownBuffer))
	// caller memory survives unregistration
	assert.NotNil(t, bufs[0].Data)
}

func TestImportedMemoryRegisterValidation(t *testing.T) {
	m := NewImportedMemory()

	err := m.RegisterBuffers(nil)
	assert.True(t, errors.Is(err, camera.ErrInvalidArgument))

	err = m.RegisterBuffers([]*camera.GraphicBuffer{{}, nil})
	assert.True(t, errors.Is(err, camera.ErrInvalidArgument))
	assert.Equal(t, 0, m.Count())

	tooMany := make([]*camera.GraphicBuffer, camera.MaxBufferBundle+1)
	for i := range tooMany {
		tooMany[i] = &camera.GraphicBuffer{}
	}
	err = m.RegisterBuffers(tooMany)
	assert.True(t, errors.Is(err, camera.ErrResourceExhausted))

	require.NoError(t, m.RegisterBuffers([]*camera.GraphicBuffer{{}}))
	err = m.RegisterBuffers([]*camera.GraphicBuffer{{}})
	assert.True(t, errors.Is(err, camera.ErrInvalidState))
}

func TestFrameNumberLifecycle(t *testing.T) {
	m := NewImportedMemory()
	require.NoError(t, m.RegisterBuffers([]*camera.GraphicBuffer{{}, {}}))

	assert.Equal(t, int64(-1), m.FrameNumber(1))

	require.NoError(t, m.MarkFrameNumber(1, 42))
	assert.Equal(t, int64(42), m.FrameNumber(1))
	assert.Equal(t, int64(42), m.TakeFrameNumber(1))
	assert.Equal(t, int64(-1), m.FrameNumber(1), "frame number is consumed on delivery")

	err := m.MarkFrameNumber(2, 1)
	assert.True(t, errors.Is(err, camera.ErrInvalidArgument))
	assert.Equal(t, int64(-1), m.TakeFrameNumber(-1))
}

func TestHeapMemoryAllocateDeallocate(t *testing.T) {
	m := NewHeapMemory()
	require.NoError(t, m.Allocate(camera.MinStreamingBufferNum, camera.MetadataBufferSize, true))

	assert.Equal(t, camera.MinStreamingBufferNum, m.Count())
	for i := range m.Count() {
		assert.True(t, m.QueuedAtStart(i))
		assert.Equal(t, camera.MetadataBufferSize, m.Size(i))
		region := m.Ptr(i)
		require.Len(t, region, camera.MetadataBufferSize)
		region[0] = byte(i + 1)
		assert.NoError(t, m.CleanInvalidateCache(i))
	}
	assert.Equal(t, -1, m.Fd(0))

	err := m.Allocate(1, 16, false)
	assert.True(t, errors.Is(err, camera.ErrInvalidState))

	require.NoError(t, m.Deallocate())
	assert.Equal(t, 0, m.Count())
	assert.Nil(t, m.Ptr(0))
	assert.Error(t, m.CleanInvalidateCache(0))
}

func TestHeapMemoryRejectsBadSizes(t *testing.T) {
	tests := []struct {
		name  string
		count int
		size  int
		want  error
	}{
		{"zero count", 0, 16, camera.ErrInvalidArgument},
		{"zero size", 2, 0, camera.ErrInvalidArgument},
		{"over bundle", camera.MaxBufferBundle + 1, 16, camera.ErrResourceExhausted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewHeapMemory().Allocate(tt.count, tt.size, false)
			assert.True(t, errors.Is(err, tt.want))
		})
	}
}

func TestCleanInvalidateCachePlainSlice(t *testing.T) {
	m := NewImportedMemory()
	require.NoError(t, m.RegisterBuffers([]*camera.GraphicBuffer{{Data: make([]byte, 100), Size: 100}}))
	assert.NoError(t, m.CleanInvalidateCache(0))
}
