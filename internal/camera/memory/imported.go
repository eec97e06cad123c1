package memory

import (
	"sync"

	"github.com/tphakala/camhal/internal/camera"
	"github.com/tphakala/camhal/internal/errors"
)

// ImportedMemory indexes caller-owned graphic buffers. Slots are not queued
// at stream start; each is queued when a request names it.
type ImportedMemory struct {
	mu      sync.RWMutex
	handles [camera.MaxBufferBundle]*camera.GraphicBuffer
	count   int
	frames  frameTable
}

// NewImportedMemory returns an empty pool.
func NewImportedMemory() *ImportedMemory {
	m := &ImportedMemory{}
	m.frames.reset()
	return m
}

// RegisterBuffers imports the given handles in order. The pool must be empty.
func (m *ImportedMemory) RegisterBuffers(bufs []*camera.GraphicBuffer) error {
	if len(bufs) == 0 {
		return errors.New(camera.ErrInvalidArgument).
			Component("camera.memory").
			Context("operation", "register_buffers").
			Build()
	}
	if len(bufs) > camera.MaxBufferBundle {
		return errors.New(camera.ErrResourceExhausted).
			Component("camera.memory").
			Context("requested", len(bufs)).
			Context("max", camera.MaxBufferBundle).
			Build()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.count != 0 {
		return errors.New(camera.ErrInvalidState).
			Component("camera.memory").
			Context("operation", "register_buffers").
			Context("registered", m.count).
			Build()
	}

	for i, b := range bufs {
		if b == nil {
			clear(m.handles[:i])
			return errors.New(camera.ErrInvalidArgument).
				Component("camera.memory").
				Context("operation", "register_buffers").
				Context("index", i).
				Build()
		}
		m.handles[i] = b
	}
	m.count = len(bufs)
	m.frames.reset()
	return nil
}

// UnregisterBuffers forgets every handle. Caller memory is left untouched.
func (m *ImportedMemory) UnregisterBuffers() {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.handles[:m.count])
	m.count = 0
	m.frames.reset()
}

// MatchBufIndex resolves a caller handle to its slot index.
func (m *ImportedMemory) MatchBufIndex(buf *camera.GraphicBuffer) (int, error) {
	if buf != nil {
		m.mu.RLock()
		for i := range m.count {
			if m.handles[i] == buf {
				m.mu.RUnlock()
				return i, nil
			}
		}
		m.mu.RUnlock()
	}
	return -1, errors.New(camera.ErrUnknownBuffer).
		Component("camera.memory").
		Context("operation", "match_buf_index").
		Build()
}

// Buffer returns the handle at index, or nil.
func (m *ImportedMemory) Buffer(index int) *camera.GraphicBuffer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if index < 0 || index >= m.count {
		return nil
	}
	return m.handles[index]
}

// Count returns the number of registered handles.
func (m *ImportedMemory) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.count
}

// Size returns the size of the buffer at index.
func (m *ImportedMemory) Size(index int) int {
	if b := m.Buffer(index); b != nil {
		return b.Size
	}
	return 0
}

// Ptr returns the mapped bytes of the buffer at index.
func (m *ImportedMemory) Ptr(index int) []byte {
	if b := m.Buffer(index); b != nil {
		return b.Data
	}
	return nil
}

// Fd returns the file descriptor of the buffer at index.
func (m *ImportedMemory) Fd(index int) int {
	if b := m.Buffer(index); b != nil {
		return b.Fd
	}
	return -1
}

// QueuedAtStart is always false for imported buffers.
func (m *ImportedMemory) QueuedAtStart(int) bool {
	return false
}

// CleanInvalidateCache flushes CPU writes to the buffer at index.
func (m *ImportedMemory) CleanInvalidateCache(index int) error {
	b := m.Buffer(index)
	if b == nil {
		return indexError(index, m.Count())
	}
	return syncRegion(b.Data)
}

// MarkFrameNumber records the frame number for a slot.
func (m *ImportedMemory) MarkFrameNumber(index int, frameNumber uint32) error {
	return m.frames.mark(index, m.Count(), frameNumber)
}

// FrameNumber returns the recorded frame number, or -1.
func (m *ImportedMemory) FrameNumber(index int) int64 {
	return m.frames.get(index, m.Count())
}

// TakeFrameNumber returns and clears the recorded frame number.
func (m *ImportedMemory) TakeFrameNumber(index int) int64 {
	return m.frames.take(index, m.Count())
}
