package channel

import (
	"github.com/tphakala/camhal/internal/camera"
	"github.com/tphakala/camhal/internal/camera/memory"
	"github.com/tphakala/camhal/internal/errors"
	"github.com/tphakala/camhal/internal/observability/metrics"
)

// RegularMaxBuffers is the default buffer count for preview and video streams.
const RegularMaxBuffers = 4

// RegularChannel serves preview and video output from caller buffers.
type RegularChannel struct {
	*baseChannel

	spec    *camera.StreamSpec
	mem     *memory.ImportedMemory
	handles []*camera.GraphicBuffer
}

// NewRegularChannel returns a channel for the given output stream.
func NewRegularChannel(cfg Config, spec *camera.StreamSpec) *RegularChannel {
	ch := &RegularChannel{
		baseChannel: newBaseChannel("regular", cfg),
		spec:        spec,
		mem:         memory.NewImportedMemory(),
	}
	ch.self = ch
	ch.owner = ch
	return ch
}

// Spec returns the output stream the channel serves.
func (c *RegularChannel) Spec() *camera.StreamSpec { return c.spec }

// RegisterBuffers binds the caller's buffers to the channel. The usage
// flags of the first buffer select a video (NV12) or preview (NV21) stream.
func (c *RegularChannel) RegisterBuffers(bufs []*camera.GraphicBuffer) error {
	if len(bufs) == 0 || c.spec == nil {
		return errors.New(camera.ErrInvalidArgument).
			Component(componentChannel).
			Context("operation", "register_buffers").
			Context("channel_type", c.kind).
			Build()
	}
	for i, b := range bufs {
		if b == nil {
			return errors.New(camera.ErrInvalidArgument).
				Component(componentChannel).
				Context("operation", "register_buffers").
				Context("index", i).
				Build()
		}
	}
	if c.spec.Format != camera.PixelFormatImplementationDefined {
		return errors.New(camera.ErrUnsupportedFormat).
			Component(componentChannel).
			Context("operation", "register_buffers").
			Context("pixel_format", int(c.spec.Format)).
			Build()
	}

	var (
		streamType camera.StreamType
		format     camera.Format
	)
	switch flags := bufs[0].Flags; {
	case flags&camera.PrivFlagVideoEncoder != 0:
		streamType, format = camera.StreamTypeVideo, camera.FormatYUV420NV12
	case flags&camera.PrivFlagHWTexture != 0:
		streamType, format = camera.StreamTypePreview, camera.FormatYUV420NV21
	default:
		return errors.New(camera.ErrUnsupportedFormat).
			Component(componentChannel).
			Context("operation", "register_buffers").
			Context("usage_flags", flags).
			Build()
	}

	if err := c.Init(nil, nil); err != nil {
		return err
	}

	c.handles = append([]*camera.GraphicBuffer(nil), bufs...)
	if err := c.addStream(streamParams{
		streamType:    streamType,
		format:        format,
		dim:           c.spec.Dimension(),
		numBufs:       len(bufs),
		streamingMode: camera.StreamingContinuous,
	}); err != nil {
		return err
	}
	camera.GetMetrics().BuffersRegistered(c.kind, len(bufs))
	return nil
}

// Request queues a registered buffer for the given frame number. The
// channel is started on first use.
func (c *RegularChannel) Request(buf *camera.GraphicBuffer, frameNumber uint32) error {
	if buf == nil {
		camera.GetMetrics().RequestRejected(c.kind, metrics.ReasonUnknownBuffer)
		return errors.New(camera.ErrInvalidArgument).
			Component(componentChannel).
			Context("operation", "request").
			Context("frame_number", frameNumber).
			Build()
	}
	if !c.IsActive() {
		if err := c.Start(); err != nil {
			camera.GetMetrics().RequestRejected(c.kind, metrics.ReasonDriver)
			return err
		}
	}

	idx, err := c.mem.MatchBufIndex(buf)
	if err != nil {
		camera.GetMetrics().RequestRejected(c.kind, metrics.ReasonUnknownBuffer)
		return err
	}

	stream := c.StreamByIndex(0)
	if stream == nil {
		return errors.New(camera.ErrInvalidState).
			Component(componentChannel).
			ChannelContext(c.kind, c.Handle()).
			Context("operation", "request").
			Build()
	}

	// The frame number must be in place before the driver can return the buffer.
	if err := c.mem.MarkFrameNumber(idx, frameNumber); err != nil {
		return err
	}
	if err := stream.BufDone(idx); err != nil {
		c.mem.TakeFrameNumber(idx)
		camera.GetMetrics().RequestRejected(c.kind, metrics.ReasonDriver)
		return err
	}
	camera.GetMetrics().RequestAccepted(c.kind)
	return nil
}

// StreamCbRoutine resolves a filled buffer to its caller buffer and frame
// number and delivers it.
func (c *RegularChannel) StreamCbRoutine(frame *camera.SuperBuffer, stream *Stream) {
	if frame == nil {
		return
	}
	if len(frame.Bufs) != 1 || frame.Bufs[0] == nil {
		c.dropFrame(stream, frame, metrics.ReasonBufferCount)
		return
	}
	idx := frame.Bufs[0].BufIdx
	if idx < 0 || idx >= len(c.handles) {
		c.dropFrame(stream, frame, metrics.ReasonIndexRange)
		return
	}

	frameNumber := c.mem.TakeFrameNumber(idx)
	if frameNumber < 0 {
		camera.GetMetrics().FrameDropped(c.kind, metrics.ReasonUnknownBuffer)
		c.logger.Debug("buffer returned without a pending request", "buf_idx", idx)
		return
	}

	result := &camera.StreamBufferResult{
		Stream:       c.spec,
		Buffer:       c.mem.Buffer(idx),
		Status:       camera.BufferStatusOK,
		AcquireFence: camera.NoFence,
		ReleaseFence: camera.NoFence,
	}
	c.deliver(nil, result, uint32(frameNumber))
}

// GetStreamBufs registers the caller buffers for the stream's lifetime.
func (c *RegularChannel) GetStreamBufs(int) (memory.Memory, error) {
	if err := c.mem.RegisterBuffers(c.handles); err != nil {
		return nil, err
	}
	return c.mem, nil
}

// PutStreamBufs releases the caller buffer registration.
func (c *RegularChannel) PutStreamBufs() {
	c.mem.UnregisterBuffers()
}
