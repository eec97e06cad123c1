package channel

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/tphakala/camhal/internal/camera"
	"github.com/tphakala/camhal/internal/camera/memory"
	"github.com/tphakala/camhal/internal/camera/postproc"
	"github.com/tphakala/camhal/internal/errors"
	"github.com/tphakala/camhal/internal/observability/metrics"
)

// PictureMaxBuffers is the number of still captures a picture channel can
// have outstanding.
const PictureMaxBuffers = 1

// pictureRequest is the single outstanding still capture.
type pictureRequest struct {
	buffer      *camera.GraphicBuffer
	index       int
	frameNumber uint32
}

// PictureChannel captures YUV frames in bursts and delivers them as JPEG
// into caller BLOB buffers.
type PictureChannel struct {
	*baseChannel

	spec     *camera.StreamSpec
	jpegMem  *memory.ImportedMemory
	yuvMem   *memory.HeapMemory
	handles  []*camera.GraphicBuffer
	postproc *postproc.PostProcessor
	inflight *semaphore.Weighted

	reqMu    sync.Mutex
	pending  *pictureRequest
	settings *postproc.JpegSettings
	stopping bool
}

// NewPictureChannel returns a still capture channel encoding through enc.
func NewPictureChannel(cfg Config, spec *camera.StreamSpec, enc postproc.Encoder, opts postproc.Options) *PictureChannel {
	ch := &PictureChannel{
		baseChannel: newBaseChannel("picture", cfg),
		spec:        spec,
		jpegMem:     memory.NewImportedMemory(),
		yuvMem:      memory.NewHeapMemory(),
		inflight:    semaphore.NewWeighted(PictureMaxBuffers),
	}
	if opts.Logger == nil {
		opts.Logger = ch.logger
	}
	ch.postproc = postproc.New(ch, enc, opts)
	ch.self = ch
	ch.owner = ch
	return ch
}

// Spec returns the output stream the channel serves.
func (c *PictureChannel) Spec() *camera.StreamSpec { return c.spec }

// Initialize registers the channel in burst mode, starts the
// post-processor and adds the snapshot stream.
func (c *PictureChannel) Initialize() error {
	if c.NumStreams() > 0 {
		return errors.New(camera.ErrAlreadyInitialized).
			Component(componentChannel).
			ChannelContext(c.kind, c.Handle()).
			Context("operation", "initialize").
			Build()
	}
	attr := &camera.ChannelAttr{
		NotifyMode:         camera.NotifyBurst,
		LookBack:           1,
		PostFrameSkip:      1,
		WaterMark:          1,
		MaxUnmatchedFrames: 1,
	}
	if err := c.Init(attr, nil); err != nil {
		return err
	}
	if err := c.postproc.Init(); err != nil {
		return err
	}
	return c.addStream(streamParams{
		streamType:    camera.StreamTypeSnapshot,
		format:        camera.FormatYUV420NV21,
		dim:           c.spec.Dimension(),
		numBufs:       PictureMaxBuffers + 1,
		streamingMode: camera.StreamingBurst,
		numOfBurst:    1,
	})
}

// RegisterBuffers validates and stores the caller BLOB buffers, initializing
// the channel on first use.
func (c *PictureChannel) RegisterBuffers(bufs []*camera.GraphicBuffer) error {
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
	if c.spec.Format != camera.PixelFormatBlob {
		return errors.New(camera.ErrUnsupportedFormat).
			Component(componentChannel).
			Context("operation", "register_buffers").
			Context("pixel_format", int(c.spec.Format)).
			Build()
	}
	if c.NumStreams() == 0 {
		if err := c.Initialize(); err != nil {
			return err
		}
	}
	c.handles = append([]*camera.GraphicBuffer(nil), bufs...)
	camera.GetMetrics().BuffersRegistered(c.kind, len(bufs))
	return nil
}

// Request captures one still into buf. Only one request may be outstanding;
// a second one before delivery fails with camera.ErrRequestInFlight.
func (c *PictureChannel) Request(buf *camera.GraphicBuffer, frameNumber uint32, settings *postproc.JpegSettings) error {
	if buf == nil {
		camera.GetMetrics().RequestRejected(c.kind, metrics.ReasonUnknownBuffer)
		return errors.New(camera.ErrInvalidArgument).
			Component(componentChannel).
			Context("operation", "request").
			Context("frame_number", frameNumber).
			Build()
	}
	if !c.inflight.TryAcquire(1) {
		camera.GetMetrics().RequestRejected(c.kind, metrics.ReasonInFlight)
		return errors.New(camera.ErrRequestInFlight).
			Component(componentChannel).
			ChannelContext(c.kind, c.Handle()).
			Context("frame_number", frameNumber).
			Build()
	}

	if held, err := c.request(buf, frameNumber, settings); err != nil {
		if held {
			c.inflight.Release(1)
		}
		return err
	}
	camera.GetMetrics().RequestAccepted(c.kind)
	return nil
}

// request reports whether the in-flight slot is still held on failure. A
// concurrent Stop may already have failed the request and released it.
func (c *PictureChannel) request(buf *camera.GraphicBuffer, frameNumber uint32, settings *postproc.JpegSettings) (bool, error) {
	if c.isStopping() {
		return true, c.stoppingError(frameNumber)
	}
	if !c.IsActive() {
		if err := c.Start(); err != nil {
			camera.GetMetrics().RequestRejected(c.kind, metrics.ReasonDriver)
			return true, err
		}
	}

	idx, err := c.jpegMem.MatchBufIndex(buf)
	if err != nil {
		camera.GetMetrics().RequestRejected(c.kind, metrics.ReasonUnknownBuffer)
		return true, err
	}
	if err := c.jpegMem.MarkFrameNumber(idx, frameNumber); err != nil {
		return true, err
	}

	req := &pictureRequest{buffer: buf, index: idx, frameNumber: frameNumber}
	c.reqMu.Lock()
	if c.stopping {
		c.reqMu.Unlock()
		c.jpegMem.TakeFrameNumber(idx)
		return true, c.stoppingError(frameNumber)
	}
	c.pending = req
	c.settings = settings
	c.reqMu.Unlock()

	if err := c.postproc.Start(c.jpegMem, idx); err != nil {
		return c.clearPending(req), err
	}
	if err := c.driver.RequestSuperBuf(c.camHandle, c.Handle(), 1); err != nil {
		camera.GetMetrics().RequestRejected(c.kind, metrics.ReasonDriver)
		return c.clearPending(req), errors.New(camera.ErrDriver).
			Component(componentChannel).
			ChannelContext(c.kind, c.Handle()).
			Context("operation", "request_super_buf").
			Context("driver_error", err.Error()).
			Build()
	}
	return true, nil
}

func (c *PictureChannel) isStopping() bool {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()
	return c.stopping
}

func (c *PictureChannel) setStopping(v bool) {
	c.reqMu.Lock()
	c.stopping = v
	c.reqMu.Unlock()
}

func (c *PictureChannel) stoppingError(frameNumber uint32) error {
	camera.GetMetrics().RequestRejected(c.kind, metrics.ReasonNotRunning)
	return errors.New(camera.ErrInvalidState).
		Component(componentChannel).
		ChannelContext(c.kind, c.Handle()).
		Context("state", "stopping").
		Context("frame_number", frameNumber).
		Build()
}

// clearPending withdraws req unless it was already completed.
func (c *PictureChannel) clearPending(req *pictureRequest) bool {
	c.reqMu.Lock()
	owned := c.pending == req
	if owned {
		c.pending = nil
	}
	c.reqMu.Unlock()
	if owned {
		c.jpegMem.TakeFrameNumber(req.index)
	}
	return owned
}

// StreamCbRoutine hands a captured YUV frame to the post-processor.
func (c *PictureChannel) StreamCbRoutine(frame *camera.SuperBuffer, stream *Stream) {
	if frame == nil {
		return
	}
	if len(frame.Bufs) != 1 || frame.Bufs[0] == nil {
		c.dropFrame(stream, frame, metrics.ReasonBufferCount)
		return
	}
	idx := frame.Bufs[0].BufIdx
	if idx < 0 || idx >= c.yuvMem.Count() {
		c.dropFrame(stream, frame, metrics.ReasonIndexRange)
		return
	}
	// The driver reuses its descriptor once this callback returns.
	if err := c.postproc.ProcessData(frame.Clone()); err != nil {
		if c.dropLog.Allow() {
			c.logger.Warn("post-processor rejected frame", "buf_idx", idx, "error", err)
		}
		c.dropFrame(stream, frame, metrics.ReasonNotRunning)
	}
}

// InputFrame returns the YUV bytes of a captured frame.
func (c *PictureChannel) InputFrame(frame *camera.SuperBuffer) ([]byte, camera.Dimension, camera.Format, error) {
	if frame == nil || len(frame.Bufs) == 0 || frame.Bufs[0] == nil {
		return nil, camera.Dimension{}, camera.FormatInvalid, errors.New(camera.ErrInvalidArgument).
			Component(componentChannel).
			Context("operation", "input_frame").
			Build()
	}
	idx := frame.Bufs[0].BufIdx
	data := c.yuvMem.Ptr(idx)
	if data == nil {
		return nil, camera.Dimension{}, camera.FormatInvalid, errors.New(camera.ErrUnknownBuffer).
			Component(componentChannel).
			Context("operation", "input_frame").
			Context("buf_idx", idx).
			Build()
	}
	return data, c.spec.Dimension(), camera.FormatYUV420NV21, nil
}

// ReleaseFrame returns a captured YUV frame to the driver.
func (c *PictureChannel) ReleaseFrame(frame *camera.SuperBuffer) error {
	if c.StreamByIndex(0) == nil || !c.IsActive() {
		return nil
	}
	return c.BufDone(frame)
}

// JpegSettings returns the settings of the outstanding request.
func (c *PictureChannel) JpegSettings() *postproc.JpegSettings {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()
	return c.settings
}

// JpegEvent handles an encoder completion. Every outstanding request gets
// exactly one delivery; failures are delivered with an error status.
func (c *PictureChannel) JpegEvent(status postproc.JobStatus, jobID uint32, out *postproc.EncodeOutput) {
	job := c.postproc.FindJob(jobID)

	c.reqMu.Lock()
	req := c.pending
	c.pending = nil
	settings := c.settings
	c.reqMu.Unlock()

	if req == nil {
		c.logger.Warn("jpeg completion without an outstanding request",
			"job_id", jobID,
			"status", status.String())
		if job != nil {
			_ = c.postproc.ReleaseJob(job)
		}
		return
	}

	idx := req.index
	if job != nil {
		idx = job.OutputIndex
	}

	bufStatus := camera.BufferStatusOK
	if job == nil || status != postproc.JobStatusDone || out == nil {
		bufStatus = camera.BufferStatusError
		c.logger.Error("jpeg encode failed",
			"job_id", jobID,
			"job_found", job != nil,
			"frame_number", req.frameNumber)
	} else {
		bufSize := c.jpegMem.Size(idx)
		maxSize := postproc.MaxJpegSize(maxJpegSizeOf(settings), bufSize)
		if _, err := postproc.WriteTrailer(c.jpegMem.Ptr(idx), maxSize, uint32(out.BufFilledLen)); err != nil {
			bufStatus = camera.BufferStatusError
			c.logger.Error("failed to write jpeg trailer", "job_id", jobID, "error", err)
		}
	}

	if err := c.jpegMem.CleanInvalidateCache(idx); err != nil {
		c.logger.Warn("cache sync failed", "buf_idx", idx, "error", err)
	}
	c.jpegMem.TakeFrameNumber(idx)

	result := &camera.StreamBufferResult{
		Stream:       c.spec,
		Buffer:       req.buffer,
		Status:       bufStatus,
		AcquireFence: camera.NoFence,
		ReleaseFence: camera.NoFence,
	}

	if job != nil {
		if err := c.postproc.ReleaseJob(job); err != nil {
			c.logger.Debug("release of jpeg job failed", "job_id", jobID, "error", err)
		}
	}
	c.inflight.Release(1)
	c.deliver(nil, result, req.frameNumber)
}

// GetStreamBufs registers the caller JPEG buffers and allocates the YUV
// intermediates handed to the driver.
func (c *PictureChannel) GetStreamBufs(frameLen int) (memory.Memory, error) {
	if err := c.jpegMem.RegisterBuffers(c.handles); err != nil {
		return nil, err
	}
	if err := c.yuvMem.Allocate(PictureMaxBuffers+1, frameLen, true); err != nil {
		c.jpegMem.UnregisterBuffers()
		return nil, err
	}
	return c.yuvMem, nil
}

// PutStreamBufs frees the YUV intermediates and the JPEG registration.
func (c *PictureChannel) PutStreamBufs() {
	if err := c.yuvMem.Deallocate(); err != nil {
		c.logger.Warn("failed to free yuv buffers", "error", err)
	}
	c.jpegMem.UnregisterBuffers()
}

// Stop drains the post-processor, fails a request still waiting for its
// frame and stops the channel.
func (c *PictureChannel) Stop() error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	return c.stopPicture()
}

func (c *PictureChannel) stopPicture() error {
	if !c.IsActive() {
		return nil
	}
	// Requests made from delivery callbacks while draining are refused.
	c.setStopping(true)
	defer c.setStopping(false)

	var errs []error
	if err := c.postproc.Stop(context.Background()); err != nil {
		errs = append(errs, err)
	}

	c.reqMu.Lock()
	req := c.pending
	c.reqMu.Unlock()
	if req != nil {
		if err := c.driver.CancelSuperBufRequest(c.camHandle, c.Handle()); err != nil {
			c.logger.Debug("cancel super-buffer request failed", "error", err)
		}
		c.JpegEvent(postproc.JobStatusError, 0, nil)
	}

	if err := c.stopLocked(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Close stops the channel, shuts the post-processor down and releases the
// driver resources.
func (c *PictureChannel) Close() error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	var errs []error
	if err := c.stopPicture(); err != nil {
		errs = append(errs, err)
	}
	if err := c.postproc.Deinit(); err != nil {
		errs = append(errs, err)
	}
	if err := c.closeLocked(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func maxJpegSizeOf(s *postproc.JpegSettings) int {
	if s == nil {
		return 0
	}
	return s.MaxJpegSize
}
