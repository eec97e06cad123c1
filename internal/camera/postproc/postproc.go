// Package postproc turns captured YUV frames into JPEG payloads.
//
// A PostProcessor owns a worker goroutine that takes frames handed over by
// the picture channel, submits them to an asynchronous Encoder and tracks
// each submission in a job table until the channel releases it. Completions
// are routed back to the channel through Owner.JpegEvent.
//
// Stop waits for outstanding jobs for a bounded time. Jobs still pending
// after that are aborted and reported to the owner as failed; any late
// completion from the encoder for such a job is ignored.
package postproc

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/tphakala/camhal/internal/camera"
	"github.com/tphakala/camhal/internal/camera/exif"
	"github.com/tphakala/camhal/internal/camera/memory"
	"github.com/tphakala/camhal/internal/errors"
	"github.com/tphakala/camhal/internal/logging"
	"github.com/tphakala/camhal/internal/observability/metrics"
)

const componentPostproc = "camera.postproc"

// Defaults for Options.
const (
	DefaultQueueDepth   = 4
	DefaultDrainTimeout = 2 * time.Second
	DefaultJobTTL       = 30 * time.Second
)

// Owner is the channel side of the post-processor.
type Owner interface {
	// InputFrame returns the YUV bytes of a captured frame.
	InputFrame(frame *camera.SuperBuffer) ([]byte, camera.Dimension, camera.Format, error)
	// ReleaseFrame returns a captured frame to the driver.
	ReleaseFrame(frame *camera.SuperBuffer) error
	// JpegSettings returns the settings of the pending request.
	JpegSettings() *JpegSettings
	// JpegEvent handles an encode completion. It is called exactly once
	// per job.
	JpegEvent(status JobStatus, jobID uint32, out *EncodeOutput)
}

// Options tune a PostProcessor.
type Options struct {
	QueueDepth   int
	DrainTimeout time.Duration
	// JobTTL bounds how long an abandoned job id is remembered.
	JobTTL time.Duration
	Logger *slog.Logger
	Now    func() time.Time
}

// JpegJob is one tracked encode submission.
type JpegJob struct {
	ID uint32
	// Frame is the source super-buffer, returned to the driver on release.
	Frame       *camera.SuperBuffer
	Memory      memory.Memory
	OutputIndex int
	Submitted   time.Time

	claimed bool
	status  JobStatus
	outLen  int
}

// PostProcessor coordinates JPEG encoding for one picture channel.
type PostProcessor struct {
	owner   Owner
	encoder Encoder
	opts    Options
	logger  *slog.Logger

	mu          sync.Mutex
	output      memory.Memory
	outputIndex int
	started     bool
	stopping    bool
	pending     int
	idle        chan struct{}

	jobs       *cache.Cache
	tombstones *cache.Cache
	nextID     atomic.Uint32

	queue   chan *camera.SuperBuffer
	cancel  context.CancelFunc
	workers sync.WaitGroup
}

// New returns an uninitialized post-processor.
func New(owner Owner, encoder Encoder, opts Options) *PostProcessor {
	if opts.QueueDepth <= 0 {
		opts.QueueDepth = DefaultQueueDepth
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = DefaultDrainTimeout
	}
	if opts.JobTTL <= 0 {
		opts.JobTTL = DefaultJobTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.ForService("camera")
		if logger == nil {
			logger = slog.Default()
		}
	}
	idle := make(chan struct{})
	close(idle)
	return &PostProcessor{
		owner:   owner,
		encoder: encoder,
		opts:    opts,
		logger:  logger.With("component", "postproc"),
		idle:    idle,
		// No janitor goroutines; expired tombstones are purged on Stop.
		jobs:       cache.New(cache.NoExpiration, 0),
		tombstones: cache.New(opts.JobTTL, 0),
	}
}

// Init launches the encode worker. Calling Init twice fails.
func (pp *PostProcessor) Init() error {
	pp.mu.Lock()
	defer pp.mu.Unlock()
	if pp.queue != nil {
		return errors.New(camera.ErrAlreadyInitialized).
			Component(componentPostproc).
			Context("operation", "init").
			Build()
	}
	ctx, cancel := context.WithCancel(context.Background())
	pp.cancel = cancel
	pp.queue = make(chan *camera.SuperBuffer, pp.opts.QueueDepth)
	pp.workers.Add(1)
	go pp.run(ctx, pp.queue)
	return nil
}

// Deinit stops the worker. Outstanding jobs are abandoned first.
func (pp *PostProcessor) Deinit() error {
	pp.mu.Lock()
	initialized := pp.queue != nil
	pp.mu.Unlock()
	if !initialized {
		return nil
	}
	err := pp.Stop(context.Background())

	pp.mu.Lock()
	cancel := pp.cancel
	pp.cancel = nil
	pp.queue = nil
	pp.mu.Unlock()

	cancel()
	pp.workers.Wait()
	return err
}

// Start binds the output memory and slot the next encode writes into.
func (pp *PostProcessor) Start(mem memory.Memory, index int) error {
	if mem == nil || index < 0 || index >= mem.Count() {
		return errors.New(camera.ErrInvalidArgument).
			Component(componentPostproc).
			Context("operation", "start").
			Context("index", index).
			Build()
	}
	pp.mu.Lock()
	defer pp.mu.Unlock()
	if pp.queue == nil {
		return errors.New(camera.ErrInvalidState).
			Component(componentPostproc).
			Context("operation", "start").
			Context("state", "uninitialized").
			Build()
	}
	if pp.stopping {
		return errors.New(camera.ErrInvalidState).
			Component(componentPostproc).
			Context("operation", "start").
			Context("state", "stopping").
			Build()
	}
	pp.output = mem
	pp.outputIndex = index
	pp.started = true
	return nil
}

// ProcessData queues a captured frame for encoding. Once accepted, the
// frame produces exactly one Owner.JpegEvent call.
func (pp *PostProcessor) ProcessData(frame *camera.SuperBuffer) error {
	if frame == nil || len(frame.Bufs) == 0 {
		return errors.New(camera.ErrInvalidArgument).
			Component(componentPostproc).
			Context("operation", "process_data").
			Build()
	}
	pp.mu.Lock()
	defer pp.mu.Unlock()
	if pp.queue == nil || !pp.started {
		return errors.New(camera.ErrInvalidState).
			Component(componentPostproc).
			Context("operation", "process_data").
			Context("state", "not_started").
			Build()
	}
	select {
	case pp.queue <- frame:
		pp.addPendingLocked()
		return nil
	default:
		return errors.New(camera.ErrResourceExhausted).
			Component(componentPostproc).
			Context("operation", "process_data").
			Context("queue_depth", pp.opts.QueueDepth).
			Build()
	}
}

// FindJob returns the tracked job with the given id, or nil.
func (pp *PostProcessor) FindJob(jobID uint32) *JpegJob {
	v, ok := pp.jobs.Get(jobKey(jobID))
	if !ok {
		return nil
	}
	return v.(*JpegJob)
}

// ReleaseJob drops a job from the table and returns its source frame to
// the driver.
func (pp *PostProcessor) ReleaseJob(job *JpegJob) error {
	if job == nil {
		return nil
	}
	key := jobKey(job.ID)
	pp.mu.Lock()
	if _, ok := pp.jobs.Get(key); !ok {
		pp.mu.Unlock()
		return nil
	}
	pp.jobs.Delete(key)
	pp.mu.Unlock()

	label := metrics.StatusSuccess
	if job.status != JobStatusDone {
		label = metrics.StatusError
	}
	camera.GetMetrics().JpegJobFinished(label, pp.opts.Now().Sub(job.Submitted).Seconds(), job.outLen)

	var err error
	if job.Frame != nil {
		if err = pp.owner.ReleaseFrame(job.Frame); err != nil {
			pp.logger.Warn("failed to return source frame",
				"job_id", job.ID,
				"error", err)
		}
	}

	pp.mu.Lock()
	pp.donePendingLocked()
	pp.mu.Unlock()
	return err
}

// Stop waits up to the drain timeout, or until ctx ends, for queued and
// in-flight jobs to finish, then abandons the rest.
func (pp *PostProcessor) Stop(ctx context.Context) error {
	pp.mu.Lock()
	pp.started = false
	pp.stopping = true
	idle := pp.idle
	pp.mu.Unlock()
	defer func() {
		pp.mu.Lock()
		pp.stopping = false
		pp.mu.Unlock()
	}()

	timer := time.NewTimer(pp.opts.DrainTimeout)
	defer timer.Stop()
	select {
	case <-idle:
		pp.tombstones.DeleteExpired()
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}

	abandoned := pp.abandon()
	pp.tombstones.DeleteExpired()
	if abandoned == 0 {
		return nil
	}
	pp.logger.Warn("abandoned outstanding jpeg jobs",
		"count", abandoned,
		"drain_timeout", pp.opts.DrainTimeout)
	return errors.Newf("abandoned %d outstanding jpeg jobs", abandoned).
		Component(componentPostproc).
		Category(errors.CategoryTimeout).
		Context("operation", "stop").
		Build()
}

// InFlight returns the number of queued and unreleased jobs.
func (pp *PostProcessor) InFlight() int {
	pp.mu.Lock()
	defer pp.mu.Unlock()
	return pp.pending
}

func (pp *PostProcessor) abandon() int {
	var victims []*JpegJob
	pp.mu.Lock()
	queue := pp.queue
	for _, item := range pp.jobs.Items() {
		job := item.Object.(*JpegJob)
		if job.claimed {
			continue
		}
		job.claimed = true
		job.status = JobStatusError
		pp.tombstones.SetDefault(jobKey(job.ID), struct{}{})
		victims = append(victims, job)
	}
	pp.mu.Unlock()

	for _, job := range victims {
		if err := pp.encoder.Abort(job.ID); err != nil {
			pp.logger.Debug("encoder abort failed", "job_id", job.ID, "error", err)
		}
		pp.owner.JpegEvent(JobStatusError, job.ID, &EncodeOutput{})
	}

	// Frames that never reached the encoder fail the same way.
	n := len(victims)
	if queue == nil {
		return n
	}
	for {
		select {
		case frame := <-queue:
			job := pp.track(frame, nil, 0)
			pp.fail(job)
			n++
		default:
			return n
		}
	}
}

func (pp *PostProcessor) run(ctx context.Context, queue <-chan *camera.SuperBuffer) {
	defer pp.workers.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-queue:
			pp.encode(frame)
		}
	}
}

func (pp *PostProcessor) encode(frame *camera.SuperBuffer) {
	pp.mu.Lock()
	out, outIdx := pp.output, pp.outputIndex
	pp.mu.Unlock()

	job := pp.track(frame, out, outIdx)
	if out == nil {
		pp.fail(job)
		return
	}

	settings := pp.owner.JpegSettings()
	input, dim, format, err := pp.owner.InputFrame(frame)
	if err != nil {
		pp.logger.Error("failed to resolve input frame", "job_id", job.ID, "error", err)
		pp.fail(job)
		return
	}

	entries, err := exif.Build(settings.ExifSettings(), pp.opts.Now())
	if err != nil {
		pp.logger.Warn("exif assembly failed, encoding without exif", "job_id", job.ID, "error", err)
		entries = nil
	}

	maxSize := MaxJpegSize(settings.maxJpegSize(), out.Size(outIdx))
	if maxSize <= TrailerSize {
		pp.fail(job)
		return
	}
	ej := &EncodeJob{
		ID:            job.ID,
		Input:         input,
		InputFormat:   format,
		InputDim:      dim,
		Output:        out.Ptr(outIdx)[:maxSize-TrailerSize],
		Quality:       settings.JpegQuality(),
		Rotation:      settings.JpegRotation(),
		ThumbnailSize: settings.Thumbnail(),
		Exif:          entries,
		Callback:      pp.onEncodeDone,
	}
	if err := pp.encoder.Encode(ej); err != nil {
		pp.logger.Error("encode submission failed", "job_id", job.ID, "error", err)
		pp.fail(job)
	}
}

// track assigns an id and inserts the job before the encoder can see it.
func (pp *PostProcessor) track(frame *camera.SuperBuffer, out memory.Memory, outIdx int) *JpegJob {
	job := &JpegJob{
		ID:          pp.nextID.Add(1),
		Frame:       frame,
		Memory:      out,
		OutputIndex: outIdx,
		Submitted:   pp.opts.Now(),
	}
	pp.jobs.Set(jobKey(job.ID), job, cache.NoExpiration)
	camera.GetMetrics().JpegJobStarted()
	return job
}

// fail reports a job as failed unless someone already claimed it.
func (pp *PostProcessor) fail(job *JpegJob) {
	pp.mu.Lock()
	if job.claimed {
		pp.mu.Unlock()
		return
	}
	job.claimed = true
	job.status = JobStatusError
	pp.mu.Unlock()
	pp.owner.JpegEvent(JobStatusError, job.ID, &EncodeOutput{})
}

func (pp *PostProcessor) onEncodeDone(status JobStatus, jobID uint32, out *EncodeOutput) {
	key := jobKey(jobID)
	pp.mu.Lock()
	if _, dead := pp.tombstones.Get(key); dead {
		pp.tombstones.Delete(key)
		pp.mu.Unlock()
		pp.logger.Debug("ignoring completion of abandoned job", "job_id", jobID)
		return
	}
	if v, ok := pp.jobs.Get(key); ok {
		job := v.(*JpegJob)
		if job.claimed {
			pp.mu.Unlock()
			return
		}
		job.claimed = true
		job.status = status
		if out != nil {
			job.outLen = out.BufFilledLen
		}
	}
	pp.mu.Unlock()

	if out == nil {
		out = &EncodeOutput{}
	}
	pp.owner.JpegEvent(status, jobID, out)
}

func (pp *PostProcessor) addPendingLocked() {
	if pp.pending == 0 {
		pp.idle = make(chan struct{})
	}
	pp.pending++
}

func (pp *PostProcessor) donePendingLocked() {
	if pp.pending == 0 {
		return
	}
	pp.pending--
	if pp.pending == 0 {
		close(pp.idle)
	}
}

func (s *JpegSettings) maxJpegSize() int {
	if s == nil {
		return 0
	}
	return s.MaxJpegSize
}

func jobKey(id uint32) string {
	return strconv.FormatUint(uint64(id), 10)
}
