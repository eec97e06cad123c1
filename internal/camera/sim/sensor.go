package sim

import (
	"sync"

	"github.com/smallnest/ringbuffer"

	"github.com/tphakala/camhal/internal/errors"
)

// Sensor produces synthetic pixel rows into a FIFO that the driver drains
// into stream buffers. Each row is a shifted ramp so successive frames
// differ.
type Sensor struct {
	mu   sync.Mutex
	ring *ringbuffer.RingBuffer
	row  []byte
	seq  uint32
}

// NewSensor returns a sensor emitting rows of rowLen bytes through a FIFO of
// capacity bytes. capacity is raised to hold at least two rows.
func NewSensor(rowLen, capacity int) *Sensor {
	if rowLen <= 0 {
		rowLen = 64
	}
	if capacity < 2*rowLen {
		capacity = 2 * rowLen
	}
	return &Sensor{
		ring: ringbuffer.New(capacity),
		row:  make([]byte, rowLen),
	}
}

// Fill copies len(dst) bytes of sensor output into dst.
func (s *Sensor) Fill(dst []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	off := 0
	for off < len(dst) {
		if s.ring.Length() == 0 {
			if err := s.produceLocked(); err != nil {
				return off, err
			}
		}
		n, err := s.ring.Read(dst[off:])
		if err != nil && !errors.Is(err, ringbuffer.ErrIsEmpty) {
			return off, errors.New(err).
				Component("camera.sim").
				Category(errors.CategorySystem).
				Context("operation", "sensor_read").
				Build()
		}
		off += n
	}
	return off, nil
}

// Buffered returns the bytes waiting in the FIFO.
func (s *Sensor) Buffered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ring.Length()
}

// produceLocked writes rows until the FIFO cannot take another one.
func (s *Sensor) produceLocked() error {
	for s.ring.Free() >= len(s.row) {
		for i := range s.row {
			s.row[i] = byte(uint32(i) + s.seq)
		}
		s.seq++
		if _, err := s.ring.Write(s.row); err != nil {
			if errors.Is(err, ringbuffer.ErrIsFull) {
				return nil
			}
			return errors.New(err).
				Component("camera.sim").
				Category(errors.CategorySystem).
				Context("operation", "sensor_write").
				Build()
		}
	}
	return nil
}
