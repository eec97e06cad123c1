package channel

import (
	"sync"
	"testing"
	"time"

	"github.com/tphakala/camhal/internal/camera"
	"github.com/tphakala/camhal/internal/camera/postproc"
	"github.com/tphakala/camhal/internal/errors"
)

var errFakeDriver = errors.NewStd("fake driver failure")

// fakeDriver records driver calls and lets tests push frames
type fakeDriver struct {
	mu sync.Mutex

	next          uint32
	channelNotify map[uint32]camera.SuperBufNotify
	streamNotify  map[uint32]camera.SuperBufNotify
	streamConfigs map[uint32]*camera.StreamConfig
	channelAttrs  map[uint32]*camera.ChannelAttr
	mapped        map[uint32]int

	qbufs             []camera.StreamBuffer
	startChannelCalls int
	stopChannelCalls  int
	superBufRequests  int
	cancelRequests    int
	deletedChannels   []uint32
	deletedStreams    []uint32

	failAddChannel   bool
	failStartChannel bool
	failStopChannel  bool
	failRequest      bool
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		channelNotify: make(map[uint32]camera.SuperBufNotify),
		streamNotify:  make(map[uint32]camera.SuperBufNotify),
		streamConfigs: make(map[uint32]*camera.StreamConfig),
		channelAttrs:  make(map[uint32]*camera.ChannelAttr),
		mapped:        make(map[uint32]int),
	}
}

func (d *fakeDriver) AddChannel(_ uint32, attr *camera.ChannelAttr, notify camera.SuperBufNotify) (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failAddChannel {
		return 0, errFakeDriver
	}
	d.next++
	d.channelNotify[d.next] = notify
	d.channelAttrs[d.next] = attr
	return d.next, nil
}

func (d *fakeDriver) DeleteChannel(_, chHandle uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.channelNotify, chHandle)
	d.deletedChannels = append(d.deletedChannels, chHandle)
	return nil
}

func (d *fakeDriver) StartChannel(_, _ uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.startChannelCalls++
	if d.failStartChannel {
		return errFakeDriver
	}
	return nil
}

func (d *fakeDriver) StopChannel(_, _ uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopChannelCalls++
	if d.failStopChannel {
		return errFakeDriver
	}
	return nil
}

func (d *fakeDriver) AddStream(_, _ uint32) (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.next++
	return d.next, nil
}

func (d *fakeDriver) DeleteStream(_, _, streamHandle uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.streamNotify, streamHandle)
	d.deletedStreams = append(d.deletedStreams, streamHandle)
	return nil
}

func (d *fakeDriver) ConfigStream(_, _, streamHandle uint32, cfg *camera.StreamConfig) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.streamNotify[streamHandle] = cfg.Notify
	d.streamConfigs[streamHandle] = cfg
	return nil
}

func (d *fakeDriver) MapStreamBuf(_, _, streamHandle uint32, _ camera.MapBufType, _ int, _ []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.mapped[streamHandle]++
	return nil
}

func (d *fakeDriver) UnmapStreamBuf(_, _, streamHandle uint32, _ camera.MapBufType, _ int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.mapped[streamHandle]--
	return nil
}

func (d *fakeDriver) QBuf(_, _ uint32, buf *camera.StreamBuffer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.qbufs = append(d.qbufs, *buf)
	return nil
}

func (d *fakeDriver) RequestSuperBuf(_, _ uint32, _ int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.superBufRequests++
	if d.failRequest {
		return errFakeDriver
	}
	return nil
}

func (d *fakeDriver) CancelSuperBufRequest(_, _ uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelRequests++
	return nil
}

func (d *fakeDriver) RegisterEventNotify(uint32, camera.EventNotify) error { return nil }

func (d *fakeDriver) QueryCapability(uint32) (*camera.Capability, error) {
	return &camera.Capability{SensorName: "fake"}, nil
}

func (d *fakeDriver) SetParms(uint32, map[string]string) error { return nil }

func (d *fakeDriver) GetParms(uint32, ...string) (map[string]string, error) {
	return map[string]string{}, nil
}

func (d *fakeDriver) qbufCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.qbufs)
}

func (d *fakeDriver) lastQBuf() camera.StreamBuffer {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.qbufs[len(d.qbufs)-1]
}

func (d *fakeDriver) starts() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.startChannelCalls
}

func (d *fakeDriver) mappedCount(streamHandle uint32) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mapped[streamHandle]
}

// pushStream delivers a frame through a stream notify
func (d *fakeDriver) pushStream(chHandle, streamHandle uint32, idx ...int) {
	d.mu.Lock()
	notify := d.streamNotify[streamHandle]
	d.mu.Unlock()
	notify(makeFrame(chHandle, streamHandle, idx...))
}

// pushChannel delivers a frame through the channel-level notify
func (d *fakeDriver) pushChannel(chHandle, streamHandle uint32, idx ...int) {
	d.mu.Lock()
	notify := d.channelNotify[chHandle]
	d.mu.Unlock()
	notify(makeFrame(chHandle, streamHandle, idx...))
}

func makeFrame(chHandle, streamHandle uint32, idx ...int) *camera.SuperBuffer {
	frame := &camera.SuperBuffer{CameraHandle: 1, ChannelHandle: chHandle}
	for _, i := range idx {
		frame.Bufs = append(frame.Bufs, &camera.StreamBuffer{
			StreamHandle: streamHandle,
			BufIdx:       i,
			Timestamp:    time.Now(),
		})
	}
	return frame
}

// delivery is one CaptureCallback invocation
type delivery struct {
	metadata    *camera.SuperBuffer
	result      *camera.StreamBufferResult
	frameNumber uint32
	userData    any
}

type recorder struct {
	ch chan delivery
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan delivery, 32)}
}

func (r *recorder) callback(metadata *camera.SuperBuffer, result *camera.StreamBufferResult, frameNumber uint32, userData any) {
	r.ch <- delivery{metadata: metadata, result: result, frameNumber: frameNumber, userData: userData}
}

func (r *recorder) wait(t *testing.T) delivery {
	t.Helper()
	select {
	case d := <-r.ch:
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("no delivery")
		return delivery{}
	}
}

func (r *recorder) none(t *testing.T) {
	t.Helper()
	select {
	case d := <-r.ch:
		t.Fatalf("unexpected delivery: %+v", d)
	case <-time.After(50 * time.Millisecond):
	}
}

// fakeEncoder hands submitted jobs to the test
type fakeEncoder struct {
	jobs chan *postproc.EncodeJob
}

func newFakeEncoder() *fakeEncoder {
	return &fakeEncoder{jobs: make(chan *postproc.EncodeJob, 8)}
}

func (e *fakeEncoder) Encode(job *postproc.EncodeJob) error {
	e.jobs <- job
	return nil
}

func (e *fakeEncoder) Abort(uint32) error { return nil }

func (e *fakeEncoder) wait(t *testing.T) *postproc.EncodeJob {
	t.Helper()
	select {
	case job := <-e.jobs:
		return job
	case <-time.After(2 * time.Second):
		t.Fatal("encoder received no job")
		return nil
	}
}
