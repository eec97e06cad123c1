// Package memory implements the buffer pools shared between channels, the
// driver and the JPEG encoder.
//
// Two pool kinds exist. ImportedMemory indexes caller-owned graphic buffers
// and never frees them. HeapMemory allocates and owns its regions and is used
// for metadata and YUV intermediates. Both keep a pre-sized slot table so
// lookups on the frame path do not allocate.
package memory

import (
	"sync"

	"github.com/tphakala/camhal/internal/camera"
	"github.com/tphakala/camhal/internal/errors"
)

// Memory is the view of a buffer pool used by streams and channels.
type Memory interface {
	// Count returns the number of slots in use.
	Count() int
	// Size returns the capacity in bytes of a slot.
	Size(index int) int
	// Ptr returns the addressable bytes of a slot.
	Ptr(index int) []byte
	// Fd returns the file descriptor backing a slot, or -1.
	Fd(index int) int
	// QueuedAtStart reports whether the slot is handed to the driver when
	// the stream starts rather than per request.
	QueuedAtStart(index int) bool
	// CleanInvalidateCache makes CPU writes to a slot visible to other agents.
	CleanInvalidateCache(index int) error
	// MarkFrameNumber records the request frame number for a slot.
	MarkFrameNumber(index int, frameNumber uint32) error
	// FrameNumber returns the recorded frame number, or -1 if unmarked.
	FrameNumber(index int) int64
	// TakeFrameNumber returns the recorded frame number and clears it.
	TakeFrameNumber(index int) int64
}

const noFrame int64 = -1

// frameTable tracks per-slot frame numbers in a fixed arena.
type frameTable struct {
	mu     sync.Mutex
	frames [camera.MaxBufferBundle]int64
}

func (ft *frameTable) reset() {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	for i := range ft.frames {
		ft.frames[i] = noFrame
	}
}

func (ft *frameTable) mark(index, count int, frameNumber uint32) error {
	if index < 0 || index >= count {
		return indexError(index, count)
	}
	ft.mu.Lock()
	ft.frames[index] = int64(frameNumber)
	ft.mu.Unlock()
	return nil
}

func (ft *frameTable) get(index, count int) int64 {
	if index < 0 || index >= count {
		return noFrame
	}
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return ft.frames[index]
}

func (ft *frameTable) take(index, count int) int64 {
	if index < 0 || index >= count {
		return noFrame
	}
	ft.mu.Lock()
	defer ft.mu.Unlock()
	fn := ft.frames[index]
	ft.frames[index] = noFrame
	return fn
}

func indexError(index, count int) error {
	return errors.New(camera.ErrInvalidArgument).
		Component("camera.memory").
		Category(errors.CategoryBuffer).
		Context("index", index).
		Context("count", count).
		Build()
}
