package postproc

import (
	"encoding/binary"

	"github.com/tphakala/camhal/internal/camera"
	"github.com/tphakala/camhal/internal/errors"
)

const (
	// JpegBlobID is the trailer magic downstream consumers search for.
	JpegBlobID uint32 = 0x00FF
	// TrailerSize is the size of the magic plus the length field.
	TrailerSize = 8
)

// MaxJpegSize returns the cap if it is positive and fits the buffer,
// otherwise the buffer size.
func MaxJpegSize(capacity, bufferSize int) int {
	if capacity <= 0 || capacity > bufferSize {
		return bufferSize
	}
	return capacity
}

// WriteTrailer stores the trailer at maxJpegSize-TrailerSize in buf, both
// fields in platform byte order, and returns the offset used.
func WriteTrailer(buf []byte, maxJpegSize int, jpegSize uint32) (int, error) {
	offset := maxJpegSize - TrailerSize
	if offset < 0 || maxJpegSize > len(buf) {
		return -1, errors.New(camera.ErrInvalidArgument).
			Component("camera.postproc").
			Category(errors.CategoryBuffer).
			Context("operation", "write_trailer").
			Context("max_jpeg_size", maxJpegSize).
			Context("buffer_size", len(buf)).
			Build()
	}
	binary.NativeEndian.PutUint32(buf[offset:], JpegBlobID)
	binary.NativeEndian.PutUint32(buf[offset+4:], jpegSize)
	return offset, nil
}

// ReadTrailer reads the trailer at maxJpegSize-TrailerSize. ok is false if
// the magic does not match.
func ReadTrailer(buf []byte, maxJpegSize int) (jpegSize uint32, ok bool) {
	offset := maxJpegSize - TrailerSize
	if offset < 0 || maxJpegSize > len(buf) {
		return 0, false
	}
	if binary.NativeEndian.Uint32(buf[offset:]) != JpegBlobID {
		return 0, false
	}
	return binary.NativeEndian.Uint32(buf[offset+4:]), true
}
