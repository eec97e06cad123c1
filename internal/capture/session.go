// Package capture runs a capture session against the simulated camera:
// metadata, preview and still channels fed by a request plan, with
// deliveries journaled and counted.
package capture

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tphakala/camhal/internal/camera"
	"github.com/tphakala/camhal/internal/camera/channel"
	"github.com/tphakala/camhal/internal/camera/exif"
	"github.com/tphakala/camhal/internal/camera/postproc"
	"github.com/tphakala/camhal/internal/camera/sim"
	"github.com/tphakala/camhal/internal/completion"
	"github.com/tphakala/camhal/internal/conf"
	"github.com/tphakala/camhal/internal/errors"
	"github.com/tphakala/camhal/internal/journal"
	"github.com/tphakala/camhal/internal/logging"
	"github.com/tphakala/camhal/internal/observability"
)

const (
	componentCapture = "capture"
	deliveryBacklog  = 64
	minJpegBuffer    = 64 * 1024
)

// Options are per-run choices not held in the configuration file.
type Options struct {
	// OutputDir receives still captures as still_<frame>.jpg when set.
	OutputDir string
	Logger    *slog.Logger
}

// Summary reports what a session delivered.
type Summary struct {
	Session        string
	Sensor         string
	Previews       int
	PreviewErrors  int
	Stills         int
	StillErrors    int
	JpegBytes      int
	MetadataFrames int64
	Elapsed        time.Duration
	Files          []string
}

// String renders the summary for terminal output.
func (s *Summary) String() string {
	return fmt.Sprintf("session %s (%s): previews %d (%d errors), stills %d (%d errors, %d bytes), metadata %d, %s",
		s.Session, s.Sensor, s.Previews, s.PreviewErrors, s.Stills, s.StillErrors, s.JpegBytes, s.MetadataFrames,
		s.Elapsed.Round(time.Millisecond))
}

// delivery is one callback result handed from a stream goroutine to the
// session loop.
type delivery struct {
	result      *camera.StreamBufferResult
	frameNumber uint32
	at          time.Time
}

// session holds the live state of one run.
type session struct {
	settings *conf.Settings
	opts     Options
	logger   *slog.Logger
	id       string

	journal    *journal.Journal
	done       *completion.Completion
	deliveries chan delivery
	metadata   atomic.Int64
	nextFrame  atomic.Uint32

	preview      *channel.RegularChannel
	previewBufs  []*camera.GraphicBuffer
	snapshot     *channel.PictureChannel
	jpegBuf      *camera.GraphicBuffer
	meta         *channel.MetadataChannel
	previewsLeft int
	stillsLeft   int

	mu        sync.Mutex
	requested map[uint32]time.Time
	summary   Summary
}

// Run executes the request plan in settings.Capture and returns once every
// request has been delivered or the capture timeout expires.
func Run(ctx context.Context, settings *conf.Settings, opts Options) (*Summary, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.ForService(componentCapture)
		if logger == nil {
			logger = slog.Default()
		}
	}

	s := &session{
		settings:   settings,
		opts:       opts,
		id:         uuid.NewString(),
		done:       completion.New(),
		deliveries: make(chan delivery, deliveryBacklog),
		requested:  make(map[uint32]time.Time),
	}
	s.logger = logger.With("session", s.id)
	s.summary.Session = s.id

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	if settings.Telemetry.Enabled {
		m, err := observability.NewMetrics()
		if err != nil {
			return nil, err
		}
		camera.InitMetrics(m.Camera)
		defer camera.InitMetrics(nil)

		ep, err := observability.NewEndpoint(&settings.Telemetry, m)
		if err != nil {
			return nil, err
		}
		if err := ep.Listen(); err != nil {
			return nil, err
		}
		g.Go(func() error { return ep.Serve(gctx) })
	}

	if settings.Journal.Enabled {
		j, err := journal.Open(settings.Journal.Path)
		if err != nil {
			cancel()
			_ = g.Wait()
			return nil, err
		}
		defer func() {
			if err := j.Close(); err != nil {
				s.logger.Warn("journal close failed", "error", err)
			}
		}()
		s.journal = j
	}

	if opts.OutputDir != "" {
		if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
			cancel()
			_ = g.Wait()
			return nil, errors.Wrap(err).
				Component(componentCapture).
				Category(errors.CategoryFileIO).
				Context("path", opts.OutputDir).
				Build()
		}
	}

	drv := sim.NewDriver(sim.DriverConfig{
		FrameInterval: settings.Sim.FrameInterval,
		Capability: camera.Capability{
			SensorName:   "sim",
			PictureSizes: []camera.Dimension{{Width: settings.Camera.Snapshot.Width, Height: settings.Camera.Snapshot.Height}},
			PreviewSizes: []camera.Dimension{{Width: settings.Camera.Preview.Width, Height: settings.Camera.Preview.Height}},
			FocalLength:  settings.Camera.Snapshot.FocalLength,
		},
		Logger: s.logger,
	}, sim.NewSensor(settings.Camera.Preview.Width, 8*settings.Camera.Preview.Width))
	enc := sim.NewEncoder(sim.EncoderConfig{
		Delay:     settings.Sim.EncodeDelay,
		FailEvery: settings.Sim.FailEvery,
		Logger:    s.logger,
	})

	start := time.Now()
	err := s.setup(gctx, drv, enc)
	if err == nil {
		// The loop owns the request plan once kickoff returns.
		err = s.kickoff()
		g.Go(func() error { return s.loop(gctx) })
	}
	if err == nil {
		err = s.wait(gctx)
	}
	s.summary.Elapsed = time.Since(start)

	cancel()
	if cerr := s.teardown(enc); cerr != nil {
		s.logger.Warn("teardown reported errors", "error", cerr)
	}
	if gerr := g.Wait(); gerr != nil && err == nil && !errors.Is(gerr, context.Canceled) {
		err = gerr
	}
	s.summary.MetadataFrames = s.metadata.Load()

	s.mu.Lock()
	summary := s.summary
	s.mu.Unlock()
	return &summary, err
}

// setup creates and registers the channels.
func (s *session) setup(ctx context.Context, drv camera.Driver, enc postproc.Encoder) error {
	cam := s.settings.Camera
	if err := s.configureCamera(drv); err != nil {
		return err
	}
	reg := channel.NewRegistry()
	cfg := channel.Config{
		Driver:       drv,
		CameraHandle: cam.Handle,
		Registry:     reg,
		Callback:     s.callback(ctx),
		Logger:       s.logger,
	}

	if cam.Metadata {
		s.meta = channel.NewMetadataChannel(cfg)
		if err := s.meta.Initialize(); err != nil {
			return err
		}
	}

	if s.settings.Capture.Previews > 0 {
		spec := &camera.StreamSpec{
			Width:      cam.Preview.Width,
			Height:     cam.Preview.Height,
			Format:     camera.PixelFormatImplementationDefined,
			MaxBuffers: channel.RegularMaxBuffers,
		}
		n := min(cam.Preview.Buffers, channel.RegularMaxBuffers)
		size := camera.FrameLen(camera.FormatYUV420NV21, spec.Dimension())
		s.previewBufs = make([]*camera.GraphicBuffer, n)
		for i := range s.previewBufs {
			s.previewBufs[i] = &camera.GraphicBuffer{Fd: -1, Size: size, Flags: camera.PrivFlagHWTexture, Data: make([]byte, size)}
		}
		s.preview = channel.NewRegularChannel(cfg, spec)
		if err := s.preview.RegisterBuffers(s.previewBufs); err != nil {
			return err
		}
		s.previewsLeft = s.settings.Capture.Previews
	}

	if s.settings.Capture.Stills > 0 {
		spec := &camera.StreamSpec{
			Width:      cam.Snapshot.Width,
			Height:     cam.Snapshot.Height,
			Format:     camera.PixelFormatBlob,
			MaxBuffers: channel.PictureMaxBuffers,
		}
		pp := s.settings.PostProcessor
		s.snapshot = channel.NewPictureChannel(cfg, spec, enc, postproc.Options{
			QueueDepth:   pp.QueueDepth,
			DrainTimeout: pp.DrainTimeout,
			JobTTL:       pp.JobTTL,
			Logger:       s.logger,
		})
		// JPEG headers alone outgrow the frame at small sizes.
		size := camera.FrameLen(camera.FormatYUV420NV21, spec.Dimension()) + postproc.TrailerSize
		size = max(size, cam.Snapshot.MaxJpegSize, minJpegBuffer)
		s.jpegBuf = &camera.GraphicBuffer{Fd: -1, Size: size, Flags: camera.PrivFlagCPURead, Data: make([]byte, size)}
		if err := s.snapshot.RegisterBuffers([]*camera.GraphicBuffer{s.jpegBuf}); err != nil {
			return err
		}
		s.stillsLeft = s.settings.Capture.Stills
	}
	return nil
}

// callback runs on stream and encoder goroutines. It never blocks past
// session shutdown.
func (s *session) callback(ctx context.Context) camera.CaptureCallback {
	return func(md *camera.SuperBuffer, res *camera.StreamBufferResult, frameNumber uint32, _ any) {
		if md != nil {
			s.metadata.Add(1)
			return
		}
		select {
		case s.deliveries <- delivery{result: res, frameNumber: frameNumber, at: time.Now()}:
		case <-ctx.Done():
		}
	}
}

// configureCamera checks the planned stream sizes against the sensor
// capability, subscribes to driver events and pushes the still parameters.
func (s *session) configureCamera(drv camera.Driver) error {
	cam := s.settings.Camera
	capability, err := drv.QueryCapability(cam.Handle)
	if err != nil {
		return driverError(err, "query_capability")
	}
	if s.settings.Capture.Previews > 0 {
		dim := camera.Dimension{Width: cam.Preview.Width, Height: cam.Preview.Height}
		if err := checkSize(capability.PreviewSizes, dim, "preview"); err != nil {
			return err
		}
	}
	if s.settings.Capture.Stills > 0 {
		dim := camera.Dimension{Width: cam.Snapshot.Width, Height: cam.Snapshot.Height}
		if err := checkSize(capability.PictureSizes, dim, "snapshot"); err != nil {
			return err
		}
	}
	s.mu.Lock()
	s.summary.Sensor = capability.SensorName
	s.mu.Unlock()

	if err := drv.RegisterEventNotify(cam.Handle, s.onEvent); err != nil {
		return driverError(err, "register_event_notify")
	}

	parms := map[string]string{
		"jpeg-quality": strconv.Itoa(cam.Snapshot.Quality),
		"rotation":     strconv.Itoa(cam.Snapshot.Rotation),
		"picture-size": camera.Dimension{Width: cam.Snapshot.Width, Height: cam.Snapshot.Height}.String(),
		"preview-size": camera.Dimension{Width: cam.Preview.Width, Height: cam.Preview.Height}.String(),
	}
	if err := drv.SetParms(cam.Handle, parms); err != nil {
		return driverError(err, "set_parms")
	}
	applied, err := drv.GetParms(cam.Handle)
	if err != nil {
		return driverError(err, "get_parms")
	}
	s.logger.Debug("camera configured",
		"sensor", capability.SensorName,
		"parms", applied)
	return nil
}

// checkSize accepts dim when the sensor lists it or lists no sizes at all.
func checkSize(sizes []camera.Dimension, dim camera.Dimension, stream string) error {
	if len(sizes) == 0 || slices.Contains(sizes, dim) {
		return nil
	}
	return errors.New(camera.ErrUnsupportedFormat).
		Component(componentCapture).
		Context("stream", stream).
		Context("dimension", dim.String()).
		Context("supported", len(sizes)).
		Build()
}

func driverError(err error, operation string) error {
	return errors.New(camera.ErrDriver).
		Component(componentCapture).
		Context("operation", operation).
		Context("driver_error", err.Error()).
		Build()
}

// onEvent logs asynchronous driver events.
func (s *session) onEvent(ev camera.Event) {
	switch ev.Type {
	case camera.EventDaemonDied:
		s.logger.Error("camera daemon died", "message", ev.Message)
	case camera.EventError:
		s.logger.Warn("camera driver error", "message", ev.Message)
	default:
		s.logger.Debug("camera driver event", "message", ev.Message)
	}
}

// kickoff issues the first wave of requests.
func (s *session) kickoff() error {
	if s.meta != nil {
		if err := s.meta.Request(); err != nil {
			return err
		}
	}
	for _, buf := range s.previewBufs {
		if err := s.requestPreview(buf); err != nil {
			return err
		}
	}
	return s.requestStill()
}

func (s *session) requestPreview(buf *camera.GraphicBuffer) error {
	if s.previewsLeft == 0 {
		return nil
	}
	s.previewsLeft--
	fn := s.markRequested()
	return s.preview.Request(buf, fn)
}

func (s *session) requestStill() error {
	if s.stillsLeft == 0 {
		return nil
	}
	s.stillsLeft--
	fn := s.markRequested()
	return s.snapshot.Request(s.jpegBuf, fn, s.jpegSettings())
}

func (s *session) markRequested() uint32 {
	fn := s.nextFrame.Add(1)
	s.mu.Lock()
	s.requested[fn] = time.Now()
	s.mu.Unlock()
	return fn
}

// jpegSettings maps the snapshot configuration onto encode settings.
func (s *session) jpegSettings() *postproc.JpegSettings {
	snap := s.settings.Camera.Snapshot
	js := &postproc.JpegSettings{
		Quality:     snap.Quality,
		Orientation: snap.Rotation,
		MaxJpegSize: snap.MaxJpegSize,
		FocalLength: snap.FocalLength,
		ISOSpeed:    snap.ISO,
	}
	if snap.GPS.Enabled {
		js.GPS = &exif.GPS{
			Latitude:  snap.GPS.Latitude,
			Longitude: snap.GPS.Longitude,
			Altitude:  snap.GPS.Altitude,
			Timestamp: time.Now().Unix(),
		}
	}
	return js
}

// loop consumes deliveries, re-queues buffers while the plan has requests
// left and signals completion per delivery.
func (s *session) loop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case d := <-s.deliveries:
			if err := s.handle(ctx, d); err != nil {
				return err
			}
			s.done.Done()
		}
	}
}

func (s *session) handle(ctx context.Context, d delivery) error {
	s.mu.Lock()
	requestedAt, ok := s.requested[d.frameNumber]
	delete(s.requested, d.frameNumber)
	s.mu.Unlock()
	if !ok {
		s.logger.Warn("delivery for unknown frame", "frame_number", d.frameNumber)
	}

	rec := &journal.CaptureRecord{
		Session:     s.id,
		FrameNumber: d.frameNumber,
		Status:      d.result.Status.String(),
		Latency:     d.at.Sub(requestedAt),
	}

	var next error
	switch {
	case s.preview != nil && d.result.Stream == s.preview.Spec():
		rec.ChannelID = s.preview.ID().String()
		rec.ChannelType = s.preview.Type()
		rec.Bytes = len(d.result.Buffer.Data)
		s.mu.Lock()
		s.summary.Previews++
		if d.result.Status != camera.BufferStatusOK {
			s.summary.PreviewErrors++
		}
		s.mu.Unlock()
		next = s.requestPreview(d.result.Buffer)

	case s.snapshot != nil && d.result.Stream == s.snapshot.Spec():
		rec.ChannelID = s.snapshot.ID().String()
		rec.ChannelType = s.snapshot.Type()
		if d.result.Status == camera.BufferStatusOK {
			n, err := s.saveStill(d)
			if err != nil {
				return err
			}
			rec.Bytes = n
		}
		s.mu.Lock()
		s.summary.Stills++
		s.summary.JpegBytes += rec.Bytes
		if d.result.Status != camera.BufferStatusOK {
			s.summary.StillErrors++
		}
		s.mu.Unlock()
		next = s.requestStill()

	default:
		s.logger.Warn("delivery for unknown stream", "frame_number", d.frameNumber)
	}

	if s.journal != nil {
		if err := s.journal.Record(ctx, rec); err != nil {
			s.logger.Warn("journal write failed", "frame_number", d.frameNumber, "error", err)
		}
	}
	if next != nil && ctx.Err() == nil {
		return next
	}
	return nil
}

// saveStill reads the JPEG length from the trailer and writes the image
// when an output directory is configured.
func (s *session) saveStill(d delivery) (int, error) {
	buf := d.result.Buffer
	maxSize := postproc.MaxJpegSize(s.settings.Camera.Snapshot.MaxJpegSize, len(buf.Data))
	size, ok := postproc.ReadTrailer(buf.Data, maxSize)
	if !ok {
		return 0, errors.Newf("still capture has no JPEG trailer").
			Component(componentCapture).
			Category(errors.CategoryEncode).
			Context("frame_number", d.frameNumber).
			Build()
	}
	if s.opts.OutputDir == "" {
		return int(size), nil
	}
	path := filepath.Join(s.opts.OutputDir, fmt.Sprintf("still_%d.jpg", d.frameNumber))
	if err := os.WriteFile(path, buf.Data[:size], 0o644); err != nil {
		return 0, errors.Wrap(err).
			Component(componentCapture).
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}
	s.mu.Lock()
	s.summary.Files = append(s.summary.Files, path)
	s.mu.Unlock()
	return int(size), nil
}

// wait blocks until every planned request has been delivered.
func (s *session) wait(ctx context.Context) error {
	total := 0
	if s.preview != nil {
		total += s.settings.Capture.Previews
	}
	if s.snapshot != nil {
		total += s.settings.Capture.Stills
	}
	waitCtx, cancel := context.WithTimeout(ctx, s.settings.Capture.Timeout)
	defer cancel()
	if err := s.done.WaitN(waitCtx, total); err != nil {
		return errors.New(err).
			Component(componentCapture).
			Category(errors.CategoryTimeout).
			Context("planned", total).
			Context("delivered", s.done.Pending()).
			Build()
	}
	return nil
}

// teardown closes channels before the encoder they submit to.
func (s *session) teardown(enc *sim.Encoder) error {
	var errs []error
	if s.meta != nil {
		errs = append(errs, s.meta.Close())
	}
	if s.preview != nil {
		errs = append(errs, s.preview.Close())
	}
	if s.snapshot != nil {
		errs = append(errs, s.snapshot.Close())
	}
	errs = append(errs, enc.Close())
	return errors.Join(errs...)
}
