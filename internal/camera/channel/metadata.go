package channel

import (
	"github.com/tphakala/camhal/internal/camera"
	"github.com/tphakala/camhal/internal/camera/memory"
	"github.com/tphakala/camhal/internal/errors"
	"github.com/tphakala/camhal/internal/observability/metrics"
)

// MetadataChannel streams per-frame metadata records from a pool it
// allocates itself.
type MetadataChannel struct {
	*baseChannel

	mem *memory.HeapMemory
}

// NewMetadataChannel returns an uninitialized metadata channel.
func NewMetadataChannel(cfg Config) *MetadataChannel {
	ch := &MetadataChannel{
		baseChannel: newBaseChannel("metadata", cfg),
		mem:         memory.NewHeapMemory(),
	}
	ch.self = ch
	ch.owner = ch
	return ch
}

// Initialize registers the channel and its metadata stream.
func (c *MetadataChannel) Initialize() error {
	if c.mem.Count() > 0 || c.NumStreams() > 0 {
		return errors.New(camera.ErrAlreadyInitialized).
			Component(componentChannel).
			ChannelContext(c.kind, c.Handle()).
			Context("operation", "initialize").
			Build()
	}
	if err := c.Init(nil, nil); err != nil {
		return err
	}
	return c.addStream(streamParams{
		streamType:    camera.StreamTypeMetadata,
		format:        camera.FormatOpaque,
		dim:           camera.Dimension{Width: camera.MetadataBufferSize, Height: 1},
		numBufs:       camera.MinStreamingBufferNum,
		streamingMode: camera.StreamingContinuous,
	})
}

// Request starts the metadata stream if it is not running.
func (c *MetadataChannel) Request() error {
	if c.IsActive() {
		return nil
	}
	if err := c.Start(); err != nil {
		camera.GetMetrics().RequestRejected(c.kind, metrics.ReasonDriver)
		return err
	}
	camera.GetMetrics().RequestAccepted(c.kind)
	return nil
}

// RegisterBuffers always fails; metadata buffers are never caller supplied.
func (c *MetadataChannel) RegisterBuffers([]*camera.GraphicBuffer) error {
	return errors.New(camera.ErrInvalidArgument).
		Component(componentChannel).
		Context("operation", "register_buffers").
		Context("channel_type", c.kind).
		Build()
}

// StreamCbRoutine delivers the super-buffer as metadata and hands the
// buffer straight back to the driver.
func (c *MetadataChannel) StreamCbRoutine(frame *camera.SuperBuffer, stream *Stream) {
	if frame == nil {
		camera.GetMetrics().FrameDropped(c.kind, metrics.ReasonBufferCount)
		return
	}
	if len(frame.Bufs) != 1 || frame.Bufs[0] == nil {
		c.dropFrame(stream, frame, metrics.ReasonBufferCount)
		return
	}
	c.deliver(frame, nil, 0)
	if err := stream.BufDone(frame.Bufs[0].BufIdx); err != nil {
		c.logger.Warn("failed to requeue metadata buffer",
			"buf_idx", frame.Bufs[0].BufIdx,
			"error", err)
	}
}

// GetStreamBufs allocates the metadata pool; every slot starts queued.
func (c *MetadataChannel) GetStreamBufs(frameLen int) (memory.Memory, error) {
	if frameLen != camera.MetadataBufferSize {
		return nil, errors.New(camera.ErrInvalidArgument).
			Component(componentChannel).
			Context("operation", "get_stream_bufs").
			Context("frame_len", frameLen).
			Context("expected", camera.MetadataBufferSize).
			Build()
	}
	if err := c.mem.Allocate(camera.MinStreamingBufferNum, frameLen, true); err != nil {
		return nil, err
	}
	clear(c.mem.Ptr(0))
	return c.mem, nil
}

// PutStreamBufs frees the metadata pool.
func (c *MetadataChannel) PutStreamBufs() {
	if err := c.mem.Deallocate(); err != nil {
		c.logger.Warn("failed to free metadata buffers", "error", err)
	}
}
