package memory

import (
	"sync"

	"github.com/tphakala/camhal/internal/camera"
	"github.com/tphakala/camhal/internal/errors"
)

// HeapMemory owns anonymous memory regions, one per slot.
type HeapMemory struct {
	mu       sync.RWMutex
	regions  [camera.MaxBufferBundle][]byte
	count    int
	size     int
	queueAll bool
	frames   frameTable
}

// NewHeapMemory returns an unallocated pool.
func NewHeapMemory() *HeapMemory {
	m := &HeapMemory{}
	m.frames.reset()
	return m
}

// Allocate maps count regions of size bytes. With queueAll every slot is
// handed to the driver when the stream starts.
func (m *HeapMemory) Allocate(count, size int, queueAll bool) error {
	if count <= 0 || size <= 0 {
		return errors.New(camera.ErrInvalidArgument).
			Component("camera.memory").
			Context("operation", "heap_allocate").
			Context("count", count).
			Context("size", size).
			Build()
	}
	if count > camera.MaxBufferBundle {
		return errors.New(camera.ErrResourceExhausted).
			Component("camera.memory").
			Context("requested", count).
			Context("max", camera.MaxBufferBundle).
			Build()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.count != 0 {
		return errors.New(camera.ErrInvalidState).
			Component("camera.memory").
			Context("operation", "heap_allocate").
			Build()
	}

	for i := range count {
		region, err := mapRegion(size)
		if err != nil {
			m.releaseLocked(i)
			return errors.New(camera.ErrResourceExhausted).
				Component("camera.memory").
				Context("operation", "heap_allocate").
				Context("index", i).
				Context("cause", err.Error()).
				Build()
		}
		m.regions[i] = region
	}

	m.count = count
	m.size = size
	m.queueAll = queueAll
	m.frames.reset()
	return nil
}

// Deallocate unmaps every region.
func (m *HeapMemory) Deallocate() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	err := m.releaseLocked(m.count)
	m.count = 0
	m.size = 0
	m.frames.reset()
	return err
}

func (m *HeapMemory) releaseLocked(n int) error {
	var errs []error
	for i := range n {
		if m.regions[i] == nil {
			continue
		}
		if err := unmapRegion(m.regions[i]); err != nil {
			errs = append(errs, err)
		}
		m.regions[i] = nil
	}
	return errors.Join(errs...)
}

// Count returns the number of allocated slots.
func (m *HeapMemory) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.count
}

// Size returns the slot size.
func (m *HeapMemory) Size(index int) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if index < 0 || index >= m.count {
		return 0
	}
	return m.size
}

// Ptr returns the region of a slot.
func (m *HeapMemory) Ptr(index int) []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if index < 0 || index >= m.count {
		return nil
	}
	return m.regions[index]
}

// Fd returns -1; heap regions are anonymous.
func (m *HeapMemory) Fd(int) int {
	return -1
}

// QueuedAtStart reports the queueAll flag given to Allocate.
func (m *HeapMemory) QueuedAtStart(int) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.queueAll
}

// CleanInvalidateCache syncs a slot.
func (m *HeapMemory) CleanInvalidateCache(index int) error {
	region := m.Ptr(index)
	if region == nil {
		return indexError(index, m.Count())
	}
	return syncRegion(region)
}

// MarkFrameNumber records the frame number for a slot.
func (m *HeapMemory) MarkFrameNumber(index int, frameNumber uint32) error {
	return m.frames.mark(index, m.Count(), frameNumber)
}

// FrameNumber returns the recorded frame number, or -1.
func (m *HeapMemory) FrameNumber(index int) int64 {
	return m.frames.get(index, m.Count())
}

// TakeFrameNumber returns and clears the recorded frame number.
func (m *HeapMemory) TakeFrameNumber(index int) int64 {
	return m.frames.take(index, m.Count())
}

// AllocGraphicBuffer maps an anonymous region and wraps it in a graphic
// buffer handle, the way a gralloc allocator would.
func AllocGraphicBuffer(size int, flags uint32) (*camera.GraphicBuffer, error) {
	if size <= 0 {
		return nil, errors.New(camera.ErrInvalidArgument).
			Component("camera.memory").
			Context("operation", "alloc_graphic_buffer").
			Context("size", size).
			Build()
	}
	region, err := mapRegion(size)
	if err != nil {
		return nil, errors.New(camera.ErrResourceExhausted).
			Component("camera.memory").
			Context("operation", "alloc_graphic_buffer").
			Context("cause", err.Error()).
			Build()
	}
	return &camera.GraphicBuffer{Fd: -1, Size: size, Flags: flags, Data: region}, nil
}

// FreeGraphicBuffer releases a buffer from AllocGraphicBuffer.
func FreeGraphicBuffer(buf *camera.GraphicBuffer) error {
	if buf == nil || buf.Data == nil {
		return nil
	}
	err := unmapRegion(buf.Data)
	buf.Data = nil
	return err
}
