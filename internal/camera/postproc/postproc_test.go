package postproc

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/camhal/internal/camera"
	"github.com/tphakala/camhal/internal/camera/memory"
	"github.com/tphakala/camhal/internal/errors"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type jpegEvent struct {
	status JobStatus
	jobID  uint32
	found  bool
	outLen int
}

type fakeOwner struct {
	pp       *PostProcessor
	settings *JpegSettings
	inputErr error
	onEvent  func()

	mu       sync.Mutex
	released []*camera.SuperBuffer
	events   chan jpegEvent
}

func newFakeOwner() *fakeOwner {
	return &fakeOwner{
		settings: &JpegSettings{Quality: -1, Orientation: -1, MaxJpegSize: 1000},
		events:   make(chan jpegEvent, 16),
	}
}

func (o *fakeOwner) InputFrame(*camera.SuperBuffer) ([]byte, camera.Dimension, camera.Format, error) {
	if o.inputErr != nil {
		return nil, camera.Dimension{}, camera.FormatInvalid, o.inputErr
	}
	dim := camera.Dimension{Width: 4, Height: 4}
	return make([]byte, camera.FrameLen(camera.FormatYUV420NV21, dim)), dim, camera.FormatYUV420NV21, nil
}

func (o *fakeOwner) ReleaseFrame(frame *camera.SuperBuffer) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.released = append(o.released, frame)
	return nil
}

func (o *fakeOwner) JpegSettings() *JpegSettings { return o.settings }

func (o *fakeOwner) JpegEvent(status JobStatus, jobID uint32, out *EncodeOutput) {
	job := o.pp.FindJob(jobID)
	if o.onEvent != nil {
		o.onEvent()
	}
	o.events <- jpegEvent{status: status, jobID: jobID, found: job != nil, outLen: out.BufFilledLen}
	_ = o.pp.ReleaseJob(job)
}

func (o *fakeOwner) releasedCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.released)
}

type fakeEncoder struct {
	mu        sync.Mutex
	submitErr error
	jobs      chan *EncodeJob
	aborted   []uint32
}

func newFakeEncoder() *fakeEncoder {
	return &fakeEncoder{jobs: make(chan *EncodeJob, 16)}
}

func (e *fakeEncoder) Encode(job *EncodeJob) error {
	if e.submitErr != nil {
		return e.submitErr
	}
	e.jobs <- job
	return nil
}

func (e *fakeEncoder) Abort(jobID uint32) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.aborted = append(e.aborted, jobID)
	return nil
}

func testFrame() *camera.SuperBuffer {
	return &camera.SuperBuffer{
		CameraHandle:  1,
		ChannelHandle: 2,
		Bufs:          []*camera.StreamBuffer{{StreamHandle: 3, BufIdx: 0}},
	}
}

func newTestProcessor(t *testing.T, drain time.Duration) (*PostProcessor, *fakeOwner, *fakeEncoder, *memory.HeapMemory) {
	t.Helper()
	owner := newFakeOwner()
	enc := newFakeEncoder()
	pp := New(owner, enc, Options{DrainTimeout: drain})
	owner.pp = pp
	require.NoError(t, pp.Init())

	mem := memory.NewHeapMemory()
	require.NoError(t, mem.Allocate(1, 2000, false))
	t.Cleanup(func() {
		_ = pp.Deinit()
		_ = mem.Deallocate()
	})
	require.NoError(t, pp.Start(mem, 0))
	return pp, owner, enc, mem
}

func waitJob(t *testing.T, enc *fakeEncoder) *EncodeJob {
	t.Helper()
	select {
	case job := <-enc.jobs:
		return job
	case <-time.After(2 * time.Second):
		t.Fatal("encoder never received a job")
		return nil
	}
}

func waitEvent(t *testing.T, owner *fakeOwner) jpegEvent {
	t.Helper()
	select {
	case ev := <-owner.events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("owner never received a jpeg event")
		return jpegEvent{}
	}
}

func TestPostProcessor_EncodeSuccess(t *testing.T) {
	pp, owner, enc, _ := newTestProcessor(t, time.Second)

	require.NoError(t, pp.ProcessData(testFrame()))
	job := waitJob(t, enc)

	assert.Len(t, job.Output, 1000-TrailerSize, "output must leave room for the trailer")
	assert.Equal(t, DefaultJpegQuality, job.Quality)
	assert.Equal(t, 0, job.Rotation)
	assert.NotNil(t, job.Exif)
	assert.Equal(t, 1, pp.InFlight())

	job.Callback(JobStatusDone, job.ID, &EncodeOutput{BufFilledLen: 321, Buf: job.Output[:321]})
	ev := waitEvent(t, owner)

	assert.Equal(t, JobStatusDone, ev.status)
	assert.True(t, ev.found)
	assert.Equal(t, 321, ev.outLen)
	assert.Equal(t, 1, owner.releasedCount())
	assert.Equal(t, 0, pp.InFlight())
	assert.Nil(t, pp.FindJob(job.ID))
}

func TestPostProcessor_SubmissionFailureReportsError(t *testing.T) {
	pp, owner, enc, _ := newTestProcessor(t, time.Second)
	enc.submitErr = errors.NewStd("encoder offline")

	require.NoError(t, pp.ProcessData(testFrame()))
	ev := waitEvent(t, owner)

	assert.Equal(t, JobStatusError, ev.status)
	assert.True(t, ev.found)
	assert.Equal(t, 1, owner.releasedCount())
}

func TestPostProcessor_InputFailureReportsError(t *testing.T) {
	pp, owner, _, _ := newTestProcessor(t, time.Second)
	owner.inputErr = errors.NewStd("no such buffer")

	require.NoError(t, pp.ProcessData(testFrame()))
	ev := waitEvent(t, owner)
	assert.Equal(t, JobStatusError, ev.status)
}

func TestPostProcessor_StopAbandonsOutstandingJobs(t *testing.T) {
	pp, owner, enc, _ := newTestProcessor(t, 20*time.Millisecond)

	require.NoError(t, pp.ProcessData(testFrame()))
	job := waitJob(t, enc)

	err := pp.Stop(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryTimeout))

	ev := waitEvent(t, owner)
	assert.Equal(t, JobStatusError, ev.status)
	assert.Equal(t, job.ID, ev.jobID)
	assert.Contains(t, enc.aborted, job.ID)

	// A late completion must not produce a second delivery.
	job.Callback(JobStatusDone, job.ID, &EncodeOutput{BufFilledLen: 10})
	select {
	case extra := <-owner.events:
		t.Fatalf("unexpected second delivery: %+v", extra)
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, 1, owner.releasedCount())
	assert.Equal(t, 0, pp.InFlight())
}

func TestPostProcessor_StartRefusedWhileStopping(t *testing.T) {
	pp, owner, enc, mem := newTestProcessor(t, 20*time.Millisecond)

	var startErr error
	owner.onEvent = func() { startErr = pp.Start(mem, 0) }

	require.NoError(t, pp.ProcessData(testFrame()))
	waitJob(t, enc)
	require.Error(t, pp.Stop(context.Background()))

	waitEvent(t, owner)
	require.Error(t, startErr)
	assert.ErrorIs(t, startErr, camera.ErrInvalidState)

	// Once stopped the processor can be restarted.
	owner.onEvent = nil
	require.NoError(t, pp.Start(mem, 0))
	require.NoError(t, pp.ProcessData(testFrame()))
	job := waitJob(t, enc)
	job.Callback(JobStatusDone, job.ID, &EncodeOutput{BufFilledLen: 5})
	assert.Equal(t, JobStatusDone, waitEvent(t, owner).status)
}

func TestPostProcessor_StopWhenIdle(t *testing.T) {
	pp, _, _, _ := newTestProcessor(t, time.Second)
	assert.NoError(t, pp.Stop(context.Background()))
}

func TestPostProcessor_RejectsBeforeStart(t *testing.T) {
	owner := newFakeOwner()
	pp := New(owner, newFakeEncoder(), Options{})
	owner.pp = pp

	err := pp.ProcessData(testFrame())
	require.Error(t, err)
	assert.ErrorIs(t, err, camera.ErrInvalidState)

	require.NoError(t, pp.Init())
	defer func() { _ = pp.Deinit() }()
	assert.ErrorIs(t, pp.Init(), camera.ErrAlreadyInitialized)
	assert.ErrorIs(t, pp.ProcessData(nil), camera.ErrInvalidArgument)
	assert.ErrorIs(t, pp.Start(nil, 0), camera.ErrInvalidArgument)
}

func TestPostProcessor_UnknownCompletionStillDelivers(t *testing.T) {
	pp, owner, _, _ := newTestProcessor(t, time.Second)

	pp.onEncodeDone(JobStatusDone, 999, nil)
	ev := waitEvent(t, owner)
	assert.False(t, ev.found)
	assert.Equal(t, uint32(999), ev.jobID)
}
