package channel

import (
	"bytes"
	"context"
	"log/slog"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/tphakala/camhal/internal/camera"
	"github.com/tphakala/camhal/internal/camera/memory"
	"github.com/tphakala/camhal/internal/errors"
	"github.com/tphakala/camhal/internal/observability/metrics"
)

// streamOwner is implemented by every channel variant. The stream calls
// back into it for buffer memory and frame handling.
type streamOwner interface {
	GetStreamBufs(frameLen int) (memory.Memory, error)
	PutStreamBufs()
	StreamCbRoutine(frame *camera.SuperBuffer, stream *Stream)
}

// streamParams describes a stream at creation time.
type streamParams struct {
	streamType    camera.StreamType
	format        camera.Format
	dim           camera.Dimension
	numBufs       int
	streamingMode camera.StreamingMode
	numOfBurst    int
}

// Stream is one driver stream bound to a channel. Frames delivered by the
// driver are queued and handed to the owning channel on a dedicated
// goroutine.
type Stream struct {
	driver    camera.Driver
	camHandle uint32
	chHandle  uint32
	handle    uint32
	params    streamParams
	owner     streamOwner
	logger    *slog.Logger

	// opMu serializes Start and Stop; mu guards the fields below.
	opMu    sync.Mutex
	mu      sync.Mutex
	mem     memory.Memory
	mapped  int
	queue   chan *camera.SuperBuffer
	cancel  context.CancelFunc
	done    chan struct{}
	running atomic.Bool
	runner  atomic.Uint64
}

func newStream(driver camera.Driver, camHandle, chHandle uint32, params streamParams, owner streamOwner, logger *slog.Logger) *Stream {
	return &Stream{
		driver:    driver,
		camHandle: camHandle,
		chHandle:  chHandle,
		params:    params,
		owner:     owner,
		logger:    logger,
	}
}

// init creates and configures the driver stream.
func (s *Stream) init() error {
	handle, err := s.driver.AddStream(s.camHandle, s.chHandle)
	if err != nil || handle == 0 {
		return errors.New(camera.ErrDriver).
			Component(componentChannel).
			Context("operation", "add_stream").
			Context("stream_type", s.params.streamType.String()).
			Context("driver_error", errString(err)).
			Build()
	}
	s.handle = handle

	cfg := &camera.StreamConfig{
		Type:          s.params.streamType,
		Format:        s.params.format,
		Dim:           s.params.dim,
		FrameLen:      camera.FrameLen(s.params.format, s.params.dim),
		NumBufs:       s.params.numBufs,
		StreamingMode: s.params.streamingMode,
		NumOfBurst:    s.params.numOfBurst,
		Notify:        s.dataNotify,
	}
	if err := s.driver.ConfigStream(s.camHandle, s.chHandle, handle, cfg); err != nil {
		_ = s.driver.DeleteStream(s.camHandle, s.chHandle, handle)
		s.handle = 0
		return errors.New(camera.ErrDriver).
			Component(componentChannel).
			Context("operation", "config_stream").
			Context("stream_type", s.params.streamType.String()).
			Context("driver_error", errString(err)).
			Build()
	}
	s.logger.Debug("stream configured",
		"stream_handle", handle,
		"stream_type", s.params.streamType.String(),
		"format", s.params.format.String(),
		"dimension", s.params.dim.String(),
		"num_bufs", s.params.numBufs)
	return nil
}

// Start acquires buffer memory from the channel, maps it to the driver,
// queues the slots that start queued and launches the frame goroutine.
func (s *Stream) Start() error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	if s.running.Load() {
		return nil
	}

	mem, err := s.owner.GetStreamBufs(camera.FrameLen(s.params.format, s.params.dim))
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.mem = mem
	s.mu.Unlock()

	for i := range mem.Count() {
		if err := s.driver.MapStreamBuf(s.camHandle, s.chHandle, s.handle, camera.MapBufTypeStreamBuf, i, mem.Ptr(i)); err != nil {
			s.releaseLocked()
			return errors.New(camera.ErrDriver).
				Component(componentChannel).
				Context("operation", "map_stream_buf").
				Context("buf_idx", i).
				Context("driver_error", errString(err)).
				Build()
		}
		s.mapped = i + 1
	}

	for i := range mem.Count() {
		if !mem.QueuedAtStart(i) {
			continue
		}
		if err := s.qbuf(i); err != nil {
			s.releaseLocked()
			return err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancel = cancel
	s.queue = make(chan *camera.SuperBuffer, camera.MaxBufferBundle)
	s.done = make(chan struct{})
	s.running.Store(true)
	go s.run(ctx, s.queue, s.done)
	s.mu.Unlock()
	return nil
}

// Stop halts the frame goroutine, unmaps the buffers and returns the
// memory to the channel. Frames still queued are discarded.
func (s *Stream) Stop() error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if !s.running.Swap(false) {
		s.mu.Unlock()
		return nil
	}
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.queue = nil
	s.done = nil
	s.mu.Unlock()

	// The frame goroutine may still be inside StreamCbRoutine. A Stop made
	// from a delivery callback runs on that goroutine and cannot wait for it.
	cancel()
	if goroutineID() != s.runner.Load() {
		<-done
	}
	s.releaseLocked()
	return nil
}

// releaseLocked unmaps buffers and hands memory back to the owner. The
// caller holds opMu.
func (s *Stream) releaseLocked() {
	for i := range s.mapped {
		if err := s.driver.UnmapStreamBuf(s.camHandle, s.chHandle, s.handle, camera.MapBufTypeStreamBuf, i); err != nil {
			s.logger.Warn("failed to unmap stream buffer",
				"stream_handle", s.handle,
				"buf_idx", i,
				"error", err)
		}
	}
	s.mapped = 0
	s.mu.Lock()
	hadMem := s.mem != nil
	s.mem = nil
	s.mu.Unlock()
	if hadMem {
		s.owner.PutStreamBufs()
	}
}

// teardown deletes the driver stream. The stream must be stopped.
func (s *Stream) teardown() error {
	if s.handle == 0 {
		return nil
	}
	err := s.driver.DeleteStream(s.camHandle, s.chHandle, s.handle)
	s.handle = 0
	if err != nil {
		return errors.New(camera.ErrDriver).
			Component(componentChannel).
			Context("operation", "delete_stream").
			Context("driver_error", err.Error()).
			Build()
	}
	return nil
}

// BufDone returns a buffer to the driver for filling.
func (s *Stream) BufDone(index int) error {
	if index < 0 || index >= camera.MaxBufferBundle {
		return errors.New(camera.ErrInvalidArgument).
			Component(componentChannel).
			Context("operation", "buf_done").
			Context("buf_idx", index).
			Build()
	}
	return s.qbuf(index)
}

func (s *Stream) qbuf(index int) error {
	buf := &camera.StreamBuffer{
		StreamHandle: s.handle,
		StreamType:   s.params.streamType,
		BufIdx:       index,
	}
	if err := s.driver.QBuf(s.camHandle, s.chHandle, buf); err != nil {
		return errors.New(camera.ErrDriver).
			Component(componentChannel).
			Context("operation", "qbuf").
			Context("buf_idx", index).
			Context("driver_error", err.Error()).
			Build()
	}
	camera.GetMetrics().BufferQueued(s.params.streamType)
	return nil
}

// dataNotify is the driver callback for this stream.
func (s *Stream) dataNotify(frame *camera.SuperBuffer) {
	if frame == nil {
		return
	}
	s.mu.Lock()
	queue := s.queue
	running := s.running.Load()
	s.mu.Unlock()

	if !running || queue == nil {
		camera.GetMetrics().FrameDropped(s.params.streamType.String(), metrics.ReasonNotRunning)
		return
	}
	select {
	case queue <- frame:
	default:
		camera.GetMetrics().FrameDropped(s.params.streamType.String(), metrics.ReasonQueueFull)
		s.logger.Warn("stream queue full, returning frame to driver", "stream_handle", s.handle)
		for _, b := range frame.Bufs {
			if b != nil {
				_ = s.BufDone(b.BufIdx)
			}
		}
	}
}

func (s *Stream) run(ctx context.Context, queue <-chan *camera.SuperBuffer, done chan<- struct{}) {
	defer close(done)
	s.runner.Store(goroutineID())
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-queue:
			if ctx.Err() != nil {
				return
			}
			s.owner.StreamCbRoutine(frame, s)
		}
	}
}

// goroutineID parses the id from the current goroutine's stack header.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := bytes.TrimPrefix(buf[:n], []byte("goroutine "))
	if i := bytes.IndexByte(b, ' '); i > 0 {
		b = b[:i]
	}
	id, _ := strconv.ParseUint(string(b), 10, 64)
	return id
}

// Handle returns the driver stream handle.
func (s *Stream) Handle() uint32 { return s.handle }

// Type returns the driver stream type.
func (s *Stream) Type() camera.StreamType { return s.params.streamType }

// Format returns the driver pixel format.
func (s *Stream) Format() camera.Format { return s.params.format }

// Dimension returns the configured frame size.
func (s *Stream) Dimension() camera.Dimension { return s.params.dim }

// NumBufs returns the configured buffer count.
func (s *Stream) NumBufs() int { return s.params.numBufs }

// IsRunning reports whether the stream is started.
func (s *Stream) IsRunning() bool { return s.running.Load() }

// Memory returns the buffer memory of a started stream, or nil.
func (s *Stream) Memory() memory.Memory {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mem
}

func errString(err error) string {
	if err == nil {
		return "invalid handle"
	}
	return err.Error()
}
