// Package sim provides an in-memory camera driver and JPEG encoder.
//
// The Driver keeps per-stream buffer queues and, while a channel runs, a
// frame pump per stream fills queued buffers from a Sensor. Continuous
// streams deliver through their stream notify. Burst channels deliver only
// after RequestSuperBuf, through the channel-level notify.
package sim

import (
	"context"
	"encoding/binary"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/tphakala/camhal/internal/camera"
	"github.com/tphakala/camhal/internal/errors"
	"github.com/tphakala/camhal/internal/logging"
)

const componentSim = "camera.sim"

// Op names a driver operation for failure injection.
type Op string

const (
	OpAddChannel      Op = "add_channel"
	OpStartChannel    Op = "start_channel"
	OpStopChannel     Op = "stop_channel"
	OpAddStream       Op = "add_stream"
	OpConfigStream    Op = "config_stream"
	OpMapStreamBuf    Op = "map_stream_buf"
	OpQBuf            Op = "qbuf"
	OpRequestSuperBuf Op = "request_super_buf"
)

// DriverConfig tunes the simulated driver.
type DriverConfig struct {
	FrameInterval time.Duration
	Capability    camera.Capability
	Logger        *slog.Logger
}

type simStream struct {
	handle   uint32
	cfg      camera.StreamConfig
	bufs     map[int][]byte
	queue    []int
	frameIdx uint32
}

type simChannel struct {
	handle  uint32
	attr    camera.ChannelAttr
	notify  camera.SuperBufNotify
	streams map[uint32]*simStream
	running bool
	burst   int
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Driver implements camera.Driver in memory.
type Driver struct {
	cfg    DriverConfig
	sensor *Sensor
	logger *slog.Logger

	mu       sync.Mutex
	next     uint32
	channels map[uint32]*simChannel
	events   camera.EventNotify
	parms    map[string]string
	failures map[Op]bool
}

// NewDriver returns a driver that fills buffers from sensor.
func NewDriver(cfg DriverConfig, sensor *Sensor) *Driver {
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = 33 * time.Millisecond
	}
	if cfg.Capability.SensorName == "" {
		cfg.Capability.SensorName = "sim"
	}
	if sensor == nil {
		sensor = NewSensor(256, 64*1024)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.ForService("camera")
		if logger == nil {
			logger = slog.Default()
		}
	}
	return &Driver{
		cfg:      cfg,
		sensor:   sensor,
		logger:   logger.With("component", "sim_driver"),
		channels: make(map[uint32]*simChannel),
		parms:    make(map[string]string),
		failures: make(map[Op]bool),
	}
}

// SetFailure makes op fail until cleared.
func (d *Driver) SetFailure(op Op, fail bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures[op] = fail
}

func (d *Driver) failLocked(op Op) error {
	if !d.failures[op] {
		return nil
	}
	return errors.Newf("injected %s failure", op).
		Component(componentSim).
		Category(errors.CategoryDriver).
		Context("operation", string(op)).
		Build()
}

func notFound(kind string, handle uint32) error {
	return errors.Newf("%s %d not found", kind, handle).
		Component(componentSim).
		Category(errors.CategoryNotFound).
		Context("handle", handle).
		Build()
}

func (d *Driver) channelLocked(chHandle uint32) (*simChannel, error) {
	ch, ok := d.channels[chHandle]
	if !ok {
		return nil, notFound("channel", chHandle)
	}
	return ch, nil
}

func (d *Driver) streamLocked(chHandle, streamHandle uint32) (*simChannel, *simStream, error) {
	ch, err := d.channelLocked(chHandle)
	if err != nil {
		return nil, nil, err
	}
	s, ok := ch.streams[streamHandle]
	if !ok {
		return nil, nil, notFound("stream", streamHandle)
	}
	return ch, s, nil
}

// AddChannel creates a channel.
func (d *Driver) AddChannel(_ uint32, attr *camera.ChannelAttr, notify camera.SuperBufNotify) (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.failLocked(OpAddChannel); err != nil {
		return 0, err
	}
	d.next++
	ch := &simChannel{handle: d.next, notify: notify, streams: make(map[uint32]*simStream)}
	if attr != nil {
		ch.attr = *attr
	}
	d.channels[ch.handle] = ch
	return ch.handle, nil
}

// DeleteChannel removes a stopped channel.
func (d *Driver) DeleteChannel(camHandle, chHandle uint32) error {
	_ = d.StopChannel(camHandle, chHandle)
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.channelLocked(chHandle); err != nil {
		return err
	}
	delete(d.channels, chHandle)
	return nil
}

// StartChannel launches a frame pump per stream.
func (d *Driver) StartChannel(_, chHandle uint32) error {
	d.mu.Lock()
	if err := d.failLocked(OpStartChannel); err != nil {
		d.mu.Unlock()
		return err
	}
	ch, err := d.channelLocked(chHandle)
	if err != nil {
		d.mu.Unlock()
		return err
	}
	if ch.running {
		d.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	ch.cancel = cancel
	ch.running = true
	ch.burst = 0
	for _, s := range ch.streams {
		ch.wg.Add(1)
		go d.pump(ctx, ch, s)
	}
	events := d.events
	d.mu.Unlock()

	d.logger.Debug("channel started", "channel_handle", chHandle)
	if events != nil {
		events(camera.Event{Type: camera.EventInfo, Message: "channel started"})
	}
	return nil
}

// StopChannel halts the frame pumps and waits for them.
func (d *Driver) StopChannel(_, chHandle uint32) error {
	d.mu.Lock()
	ch, err := d.channelLocked(chHandle)
	if err != nil {
		d.mu.Unlock()
		return err
	}
	if !ch.running {
		d.mu.Unlock()
		return nil
	}
	ch.running = false
	cancel := ch.cancel
	ch.cancel = nil
	injected := d.failLocked(OpStopChannel)
	d.mu.Unlock()

	cancel()
	ch.wg.Wait()

	d.mu.Lock()
	for _, s := range ch.streams {
		s.queue = s.queue[:0]
	}
	d.mu.Unlock()
	return injected
}

// AddStream creates a stream on a channel.
func (d *Driver) AddStream(_, chHandle uint32) (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.failLocked(OpAddStream); err != nil {
		return 0, err
	}
	ch, err := d.channelLocked(chHandle)
	if err != nil {
		return 0, err
	}
	d.next++
	ch.streams[d.next] = &simStream{handle: d.next, bufs: make(map[int][]byte)}
	return d.next, nil
}

// DeleteStream removes a stream.
func (d *Driver) DeleteStream(_, chHandle, streamHandle uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	ch, _, err := d.streamLocked(chHandle, streamHandle)
	if err != nil {
		return err
	}
	delete(ch.streams, streamHandle)
	return nil
}

// ConfigStream stores the stream configuration.
func (d *Driver) ConfigStream(_, chHandle, streamHandle uint32, cfg *camera.StreamConfig) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.failLocked(OpConfigStream); err != nil {
		return err
	}
	_, s, err := d.streamLocked(chHandle, streamHandle)
	if err != nil {
		return err
	}
	if cfg == nil {
		return errors.New(camera.ErrInvalidArgument).
			Component(componentSim).
			Context("operation", "config_stream").
			Build()
	}
	s.cfg = *cfg
	return nil
}

// MapStreamBuf binds a buffer slot to memory.
func (d *Driver) MapStreamBuf(_, chHandle, streamHandle uint32, _ camera.MapBufType, bufIdx int, mem []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.failLocked(OpMapStreamBuf); err != nil {
		return err
	}
	_, s, err := d.streamLocked(chHandle, streamHandle)
	if err != nil {
		return err
	}
	s.bufs[bufIdx] = mem
	return nil
}

// UnmapStreamBuf forgets a buffer slot.
func (d *Driver) UnmapStreamBuf(_, chHandle, streamHandle uint32, _ camera.MapBufType, bufIdx int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, s, err := d.streamLocked(chHandle, streamHandle)
	if err != nil {
		return err
	}
	delete(s.bufs, bufIdx)
	return nil
}

// QBuf queues a mapped buffer for filling.
func (d *Driver) QBuf(_, chHandle uint32, buf *camera.StreamBuffer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.failLocked(OpQBuf); err != nil {
		return err
	}
	_, s, err := d.streamLocked(chHandle, buf.StreamHandle)
	if err != nil {
		return err
	}
	if _, ok := s.bufs[buf.BufIdx]; !ok {
		return notFound("buffer", uint32(buf.BufIdx))
	}
	s.queue = append(s.queue, buf.BufIdx)
	return nil
}

// RequestSuperBuf asks a burst channel for numBufs deliveries.
func (d *Driver) RequestSuperBuf(_, chHandle uint32, numBufs int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.failLocked(OpRequestSuperBuf); err != nil {
		return err
	}
	ch, err := d.channelLocked(chHandle)
	if err != nil {
		return err
	}
	ch.burst += numBufs
	return nil
}

// CancelSuperBufRequest drops pending burst requests.
func (d *Driver) CancelSuperBufRequest(_, chHandle uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	ch, err := d.channelLocked(chHandle)
	if err != nil {
		return err
	}
	ch.burst = 0
	return nil
}

// RegisterEventNotify installs the driver event callback.
func (d *Driver) RegisterEventNotify(_ uint32, notify camera.EventNotify) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = notify
	return nil
}

// QueryCapability returns the configured capability.
func (d *Driver) QueryCapability(uint32) (*camera.Capability, error) {
	c := d.cfg.Capability
	c.PictureSizes = append([]camera.Dimension(nil), c.PictureSizes...)
	c.PreviewSizes = append([]camera.Dimension(nil), c.PreviewSizes...)
	c.SupportedFormat = append([]camera.Format(nil), c.SupportedFormat...)
	return &c, nil
}

// SetParms merges parameters.
func (d *Driver) SetParms(_ uint32, parms map[string]string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	maps.Copy(d.parms, parms)
	return nil
}

// GetParms returns the requested parameters, or all of them without keys.
func (d *Driver) GetParms(_ uint32, keys ...string) (map[string]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]string)
	if len(keys) == 0 {
		maps.Copy(out, d.parms)
		return out, nil
	}
	for _, k := range keys {
		if v, ok := d.parms[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

func (d *Driver) pump(ctx context.Context, ch *simChannel, s *simStream) {
	defer ch.wg.Done()
	ticker := time.NewTicker(d.cfg.FrameInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			frame, notify := d.produce(ch, s)
			if frame != nil && notify != nil {
				notify(frame)
			}
		}
	}
}

// produce fills the next queued buffer, if the stream may deliver now.
func (d *Driver) produce(ch *simChannel, s *simStream) (*camera.SuperBuffer, camera.SuperBufNotify) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !ch.running || len(s.queue) == 0 {
		return nil, nil
	}
	burst := ch.attr.NotifyMode == camera.NotifyBurst
	if burst && ch.burst == 0 {
		return nil, nil
	}

	idx := s.queue[0]
	s.queue = s.queue[1:]
	mem := s.bufs[idx]
	filled := d.fill(s, mem)
	s.frameIdx++

	frame := &camera.SuperBuffer{
		ChannelHandle: ch.handle,
		Bufs: []*camera.StreamBuffer{{
			StreamHandle: s.handle,
			StreamType:   s.cfg.Type,
			BufIdx:       idx,
			FrameIdx:     s.frameIdx,
			Timestamp:    time.Now(),
			FilledLen:    filled,
		}},
	}
	if burst {
		ch.burst--
		return frame, ch.notify
	}
	return frame, s.cfg.Notify
}

func (d *Driver) fill(s *simStream, mem []byte) int {
	n := min(s.cfg.FrameLen, len(mem))
	if n <= 0 {
		return 0
	}
	if s.cfg.Type == camera.StreamTypeMetadata {
		clear(mem[:n])
		if n >= 16 {
			binary.LittleEndian.PutUint32(mem[0:], s.frameIdx+1)
			binary.LittleEndian.PutUint64(mem[8:], uint64(time.Now().UnixNano()))
		}
		return n
	}
	filled, err := d.sensor.Fill(mem[:n])
	if err != nil {
		d.logger.Warn("sensor read failed", "stream_handle", s.handle, "error", err)
	}
	return filled
}
