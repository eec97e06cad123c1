package sim

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tphakala/camhal/internal/camera"
	"github.com/tphakala/camhal/internal/camera/postproc"
	"github.com/tphakala/camhal/internal/errors"
	"github.com/tphakala/camhal/internal/logging"
)

// EncoderConfig tunes the simulated encoder.
type EncoderConfig struct {
	// Delay is added before each job completes.
	Delay time.Duration
	// FailEvery fails every Nth job when positive.
	FailEvery int
	// QueueDepth bounds submitted but unfinished jobs.
	QueueDepth int
	Logger     *slog.Logger
}

// Encoder implements postproc.Encoder with image/jpeg on a worker goroutine.
type Encoder struct {
	cfg    EncoderConfig
	logger *slog.Logger

	jobs    chan *postproc.EncodeJob
	cancel  context.CancelFunc
	done    chan struct{}
	count   atomic.Int64
	closed  atomic.Bool
	mu      sync.Mutex
	aborted map[uint32]struct{}
}

// NewEncoder starts an encoder worker. Close stops it.
func NewEncoder(cfg EncoderConfig) *Encoder {
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 8
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.ForService("camera")
		if logger == nil {
			logger = slog.Default()
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	e := &Encoder{
		cfg:     cfg,
		logger:  logger.With("component", "sim_encoder"),
		jobs:    make(chan *postproc.EncodeJob, cfg.QueueDepth),
		cancel:  cancel,
		done:    make(chan struct{}),
		aborted: make(map[uint32]struct{}),
	}
	go e.run(ctx)
	return e
}

// Encode queues a job.
func (e *Encoder) Encode(job *postproc.EncodeJob) error {
	if job == nil || job.Callback == nil {
		return errors.New(camera.ErrInvalidArgument).
			Component(componentSim).
			Context("operation", "encode").
			Build()
	}
	if e.closed.Load() {
		return errors.New(camera.ErrInvalidState).
			Component(componentSim).
			Context("operation", "encode").
			Context("state", "closed").
			Build()
	}
	select {
	case e.jobs <- job:
		return nil
	default:
		return errors.New(camera.ErrResourceExhausted).
			Component(componentSim).
			Context("operation", "encode").
			Context("queue_depth", e.cfg.QueueDepth).
			Build()
	}
}

// Abort suppresses the completion of a queued job.
func (e *Encoder) Abort(jobID uint32) error {
	e.mu.Lock()
	e.aborted[jobID] = struct{}{}
	e.mu.Unlock()
	return nil
}

// Close stops the worker. Queued jobs are not completed.
func (e *Encoder) Close() error {
	if e.closed.Swap(true) {
		return nil
	}
	e.cancel()
	<-e.done
	return nil
}

func (e *Encoder) run(ctx context.Context) {
	defer close(e.done)
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-e.jobs:
			if e.cfg.Delay > 0 {
				timer := time.NewTimer(e.cfg.Delay)
				select {
				case <-ctx.Done():
					timer.Stop()
					return
				case <-timer.C:
				}
			}
			e.complete(job)
		}
	}
}

func (e *Encoder) complete(job *postproc.EncodeJob) {
	e.mu.Lock()
	_, aborted := e.aborted[job.ID]
	delete(e.aborted, job.ID)
	e.mu.Unlock()
	if aborted {
		e.logger.Debug("skipping aborted job", "job_id", job.ID)
		return
	}

	n := e.count.Add(1)
	if e.cfg.FailEvery > 0 && n%int64(e.cfg.FailEvery) == 0 {
		e.logger.Debug("injected encode failure", "job_id", job.ID)
		job.Callback(postproc.JobStatusError, job.ID, &postproc.EncodeOutput{})
		return
	}

	size, err := EncodeNV21(job)
	if err != nil {
		e.logger.Warn("encode failed", "job_id", job.ID, "error", err)
		job.Callback(postproc.JobStatusError, job.ID, &postproc.EncodeOutput{})
		return
	}
	job.Callback(postproc.JobStatusDone, job.ID, &postproc.EncodeOutput{
		BufFilledLen: size,
		Buf:          job.Output[:size],
	})
}

// EncodeNV21 compresses the job's NV21 input into job.Output and returns
// the encoded size.
func EncodeNV21(job *postproc.EncodeJob) (int, error) {
	w, h := job.InputDim.Width, job.InputDim.Height
	if w <= 0 || h <= 0 || w%2 != 0 || h%2 != 0 || len(job.Input) < camera.FrameLen(camera.FormatYUV420NV21, job.InputDim) {
		return 0, errors.New(camera.ErrInvalidArgument).
			Component(componentSim).
			Context("operation", "encode_nv21").
			Context("dimension", job.InputDim.String()).
			Context("input_len", len(job.Input)).
			Build()
	}

	img := image.NewYCbCr(image.Rect(0, 0, w, h), image.YCbCrSubsampleRatio420)
	copy(img.Y, job.Input[:w*h])
	vu := job.Input[w*h:]
	for i := range len(img.Cb) {
		img.Cr[i] = vu[2*i]
		img.Cb[i] = vu[2*i+1]
	}

	var out bytes.Buffer
	if err := jpeg.Encode(&out, rotate(img, job.Rotation), &jpeg.Options{Quality: job.Quality}); err != nil {
		return 0, errors.New(err).
			Component(componentSim).
			Category(errors.CategoryEncode).
			Context("operation", "encode_nv21").
			Build()
	}
	if out.Len() > len(job.Output) {
		return 0, errors.New(camera.ErrResourceExhausted).
			Component(componentSim).
			Context("operation", "encode_nv21").
			Context("encoded", out.Len()).
			Context("capacity", len(job.Output)).
			Build()
	}
	return copy(job.Output, out.Bytes()), nil
}

// rotate turns img clockwise by 90, 180 or 270 degrees.
func rotate(img image.Image, degrees int) image.Image {
	degrees = ((degrees % 360) + 360) % 360
	if degrees != 90 && degrees != 180 && degrees != 270 {
		return img
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	var dst *image.RGBA
	if degrees == 180 {
		dst = image.NewRGBA(image.Rect(0, 0, w, h))
	} else {
		dst = image.NewRGBA(image.Rect(0, 0, h, w))
	}
	for y := range h {
		for x := range w {
			c := img.At(b.Min.X+x, b.Min.Y+y)
			switch degrees {
			case 90:
				dst.Set(h-1-y, x, c)
			case 180:
				dst.Set(w-1-x, h-1-y, c)
			case 270:
				dst.Set(y, w-1-x, c)
			}
		}
	}
	return dst
}
