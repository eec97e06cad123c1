// Package channel implements the camera HAL channels.
//
// A channel owns one driver stream and its buffer memory, and turns caller
// requests into driver buffer queue operations. Completed frames are
// resolved back to the caller's buffer and frame number and delivered
// through a camera.CaptureCallback.
//
// Three variants exist:
//
//   - RegularChannel: preview and video streams backed by caller buffers
//   - MetadataChannel: a self-allocated, continuously streaming metadata pool
//   - PictureChannel: still capture through the JPEG post-processor
//
// Driver notifications that carry only a channel handle are resolved
// through a Registry.
package channel

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/tphakala/camhal/internal/camera"
	"github.com/tphakala/camhal/internal/errors"
	"github.com/tphakala/camhal/internal/logging"
)

const componentChannel = "camera.channel"

// State is the lifecycle state of a channel.
type State int

const (
	StateUninitialized State = iota
	StateInitialized
	StateActive
	StateInactive
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitialized:
		return "initialized"
	case StateActive:
		return "active"
	case StateInactive:
		return "inactive"
	case StateDestroyed:
		return "destroyed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Channel is the lifecycle surface shared by all channel variants.
type Channel interface {
	ID() uuid.UUID
	Handle() uint32
	Type() string
	State() State
	IsActive() bool
	Start() error
	Stop() error
	BufDone(frame *camera.SuperBuffer) error
	Close() error
}

// Config carries the collaborators of a channel.
type Config struct {
	Driver       camera.Driver
	CameraHandle uint32
	// Registry resolves channel-level notifications. A private registry
	// is created when nil.
	Registry *Registry
	Callback camera.CaptureCallback
	UserData any
	Logger   *slog.Logger
}

// baseChannel holds the state common to all variants.
type baseChannel struct {
	id        uuid.UUID
	kind      string
	driver    camera.Driver
	camHandle uint32
	registry  *Registry
	callback  camera.CaptureCallback
	userData  any
	logger    *slog.Logger
	dropLog   *rate.Limiter

	self  Channel
	owner streamOwner

	// opMu serializes lifecycle transitions; mu guards the fields below.
	opMu       sync.Mutex
	mu         sync.Mutex
	handle     uint32
	state      State
	streams    [camera.MaxStreamNumInBundle]*Stream
	numStreams int
	dataCB     camera.SuperBufNotify
}

func componentLogger() *slog.Logger {
	logger := logging.ForService("camera")
	if logger == nil {
		logger = slog.Default()
	}
	return logger
}

func newBaseChannel(kind string, cfg Config) *baseChannel {
	id := uuid.New()
	logger := cfg.Logger
	if logger == nil {
		logger = componentLogger()
	}
	registry := cfg.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	return &baseChannel{
		id:        id,
		kind:      kind,
		driver:    cfg.Driver,
		camHandle: cfg.CameraHandle,
		registry:  registry,
		callback:  cfg.Callback,
		userData:  cfg.UserData,
		logger: logger.With(
			"component", "channel",
			"channel_type", kind,
			"channel_id", id.String()),
		dropLog: rate.NewLimiter(rate.Every(time.Second), 5),
	}
}

// ID returns the channel identity.
func (b *baseChannel) ID() uuid.UUID { return b.id }

// Type returns the variant name.
func (b *baseChannel) Type() string { return b.kind }

// Handle returns the driver channel handle, or 0 before Init.
func (b *baseChannel) Handle() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.handle
}

// State returns the lifecycle state.
func (b *baseChannel) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// IsActive reports whether the channel is started.
func (b *baseChannel) IsActive() bool {
	return b.State() == StateActive
}

// Init registers the channel with the driver. dataCB, when set, receives
// channel-level super-buffers instead of routing them to the streams.
func (b *baseChannel) Init(attr *camera.ChannelAttr, dataCB camera.SuperBufNotify) error {
	b.opMu.Lock()
	defer b.opMu.Unlock()

	if st := b.State(); st != StateUninitialized {
		return errors.New(camera.ErrInvalidState).
			Component(componentChannel).
			ChannelContext(b.kind, b.Handle()).
			Context("operation", "init").
			Context("state", st.String()).
			Build()
	}

	handle, err := b.driver.AddChannel(b.camHandle, attr, b.registry.Dispatch)
	if err != nil || handle == 0 {
		return errors.New(camera.ErrChannelCreation).
			Component(componentChannel).
			Context("channel_type", b.kind).
			Context("camera_handle", b.camHandle).
			Context("driver_error", errString(err)).
			Build()
	}

	b.mu.Lock()
	b.handle = handle
	b.dataCB = dataCB
	b.state = StateInitialized
	b.mu.Unlock()

	b.registry.add(handle, b.self)
	b.logger = b.logger.With("channel_handle", handle)
	b.logger.Debug("channel initialized")
	return nil
}

// addStream creates the channel's stream. A channel holds at most one.
func (b *baseChannel) addStream(params streamParams) error {
	b.mu.Lock()
	state, handle, numStreams := b.state, b.handle, b.numStreams
	b.mu.Unlock()

	if state == StateUninitialized || state == StateDestroyed {
		return errors.New(camera.ErrInvalidState).
			Component(componentChannel).
			ChannelContext(b.kind, handle).
			Context("operation", "add_stream").
			Context("state", state.String()).
			Build()
	}
	if numStreams > 0 || params.numBufs > camera.MaxBufferBundle {
		return errors.New(camera.ErrInvalidState).
			Component(componentChannel).
			ChannelContext(b.kind, handle).
			Context("operation", "add_stream").
			Context("num_streams", numStreams).
			Context("num_bufs", params.numBufs).
			Build()
	}

	s := newStream(b.driver, b.camHandle, handle, params, b.owner, b.logger)
	if err := s.init(); err != nil {
		return err
	}

	b.mu.Lock()
	b.streams[b.numStreams] = s
	b.numStreams++
	b.mu.Unlock()
	return nil
}

// Start starts every stream and then the driver channel. On any failure
// the streams already started are stopped again.
func (b *baseChannel) Start() error {
	b.opMu.Lock()
	defer b.opMu.Unlock()
	return b.startLocked()
}

func (b *baseChannel) startLocked() error {
	b.mu.Lock()
	state, handle := b.state, b.handle
	streams := b.streams[:b.numStreams]
	b.mu.Unlock()

	switch state {
	case StateActive:
		return nil
	case StateInitialized, StateInactive:
	default:
		return errors.New(camera.ErrInvalidState).
			Component(componentChannel).
			ChannelContext(b.kind, handle).
			Context("operation", "start").
			Context("state", state.String()).
			Build()
	}

	if len(streams) > 1 {
		b.logger.Warn("channel bundles more than one stream", "num_streams", len(streams))
	}

	for i, s := range streams {
		if err := s.Start(); err != nil {
			for j := range i {
				_ = streams[j].Stop()
			}
			camera.GetMetrics().ChannelStarted(b.kind, err)
			return err
		}
	}

	started := time.Now()
	if err := b.driver.StartChannel(b.camHandle, handle); err != nil {
		for _, s := range streams {
			_ = s.Stop()
		}
		wrapped := errors.New(camera.ErrDriver).
			Component(componentChannel).
			ChannelContext(b.kind, handle).
			Timing("start_channel", time.Since(started)).
			Context("driver_error", err.Error()).
			Build()
		camera.GetMetrics().ChannelStarted(b.kind, wrapped)
		return wrapped
	}

	b.mu.Lock()
	b.state = StateActive
	b.mu.Unlock()
	camera.GetMetrics().ChannelStarted(b.kind, nil)
	b.logger.Info("channel started")
	return nil
}

// Stop stops the driver channel and then every stream. Stopping an
// inactive channel is a no-op. The channel is inactive afterwards even if
// the driver reported an error.
func (b *baseChannel) Stop() error {
	b.opMu.Lock()
	defer b.opMu.Unlock()
	return b.stopLocked()
}

func (b *baseChannel) stopLocked() error {
	b.mu.Lock()
	state, handle := b.state, b.handle
	streams := b.streams[:b.numStreams]
	b.mu.Unlock()

	if state != StateActive {
		return nil
	}

	var result error
	stopped := time.Now()
	if err := b.driver.StopChannel(b.camHandle, handle); err != nil {
		result = errors.New(camera.ErrDriver).
			Component(componentChannel).
			ChannelContext(b.kind, handle).
			Timing("stop_channel", time.Since(stopped)).
			Context("driver_error", err.Error()).
			Build()
	}
	for _, s := range streams {
		_ = s.Stop()
	}

	b.mu.Lock()
	b.state = StateInactive
	b.mu.Unlock()
	camera.GetMetrics().ChannelStopped(b.kind, result)
	b.logger.Info("channel stopped")
	return result
}

// BufDone returns every buffer of a super-buffer to its owning stream.
// Unknown stream handles are skipped.
func (b *baseChannel) BufDone(frame *camera.SuperBuffer) error {
	if frame == nil {
		return errors.New(camera.ErrInvalidArgument).
			Component(componentChannel).
			Context("operation", "buf_done").
			Build()
	}
	var first error
	for _, buf := range frame.Bufs {
		if buf == nil {
			continue
		}
		s := b.StreamByHandle(buf.StreamHandle)
		if s == nil {
			b.logger.Warn("buffer for unknown stream", "stream_handle", buf.StreamHandle)
			continue
		}
		if err := s.BufDone(buf.BufIdx); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Close stops the channel if needed, deletes its streams and the driver
// channel. A closed channel cannot be reused.
func (b *baseChannel) Close() error {
	b.opMu.Lock()
	defer b.opMu.Unlock()
	return b.closeLocked()
}

func (b *baseChannel) closeLocked() error {
	b.mu.Lock()
	state, handle := b.state, b.handle
	b.mu.Unlock()

	switch state {
	case StateDestroyed:
		return nil
	case StateUninitialized:
		b.mu.Lock()
		b.state = StateDestroyed
		b.mu.Unlock()
		return nil
	}

	var errs []error
	if err := b.stopLocked(); err != nil {
		errs = append(errs, err)
	}

	b.mu.Lock()
	streams := b.streams[:b.numStreams]
	b.mu.Unlock()
	for _, s := range streams {
		if err := s.teardown(); err != nil {
			errs = append(errs, err)
		}
	}

	if err := b.driver.DeleteChannel(b.camHandle, handle); err != nil {
		errs = append(errs, errors.New(camera.ErrDriver).
			Component(componentChannel).
			ChannelContext(b.kind, handle).
			Context("operation", "delete_channel").
			Context("driver_error", err.Error()).
			Build())
	}
	b.registry.remove(handle)

	b.mu.Lock()
	for i := range b.streams {
		b.streams[i] = nil
	}
	b.numStreams = 0
	b.state = StateDestroyed
	b.mu.Unlock()

	b.logger.Debug("channel closed")
	return errors.Join(errs...)
}

// handleSuperBuf receives channel-level notifications from the registry.
func (b *baseChannel) handleSuperBuf(frame *camera.SuperBuffer) {
	b.mu.Lock()
	cb := b.dataCB
	b.mu.Unlock()
	if cb != nil {
		cb(frame)
		return
	}
	for _, buf := range frame.Bufs {
		if buf == nil {
			continue
		}
		s := b.StreamByHandle(buf.StreamHandle)
		if s == nil {
			b.logger.Warn("super-buffer element for unknown stream", "stream_handle", buf.StreamHandle)
			continue
		}
		s.dataNotify(&camera.SuperBuffer{
			CameraHandle:  frame.CameraHandle,
			ChannelHandle: frame.ChannelHandle,
			Bufs:          []*camera.StreamBuffer{buf},
		})
	}
}

// StreamByHandle returns the stream with the given driver handle, or nil.
func (b *baseChannel) StreamByHandle(handle uint32) *Stream {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.streams[:b.numStreams] {
		if s.Handle() == handle {
			return s
		}
	}
	return nil
}

// StreamByIndex returns the stream at position i, or nil.
func (b *baseChannel) StreamByIndex(i int) *Stream {
	b.mu.Lock()
	defer b.mu.Unlock()
	if i < 0 || i >= b.numStreams {
		return nil
	}
	return b.streams[i]
}

// NumStreams returns the number of streams.
func (b *baseChannel) NumStreams() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.numStreams
}

// dropFrame returns a malformed frame to the driver without delivering it.
func (b *baseChannel) dropFrame(stream *Stream, frame *camera.SuperBuffer, reason string) {
	camera.GetMetrics().FrameDropped(b.kind, reason)
	if b.dropLog.Allow() {
		b.logger.Warn("dropping frame",
			"reason", reason,
			"num_bufs", len(frame.Bufs))
	}
	for _, buf := range frame.Bufs {
		if buf == nil {
			continue
		}
		if err := stream.BufDone(buf.BufIdx); err != nil {
			b.logger.Debug("failed to return dropped buffer", "buf_idx", buf.BufIdx, "error", err)
		}
	}
}

// deliver invokes the caller callback.
func (b *baseChannel) deliver(metadata *camera.SuperBuffer, result *camera.StreamBufferResult, frameNumber uint32) {
	if result != nil {
		camera.GetMetrics().FrameDelivered(b.kind, result.Status)
	} else {
		camera.GetMetrics().FrameDelivered(b.kind, camera.BufferStatusOK)
	}
	if b.callback == nil {
		return
	}
	b.callback(metadata, result, frameNumber, b.userData)
}
