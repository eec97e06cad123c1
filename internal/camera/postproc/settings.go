package postproc

import (
	"github.com/tphakala/camhal/internal/camera"
	"github.com/tphakala/camhal/internal/camera/exif"
)

// DefaultJpegQuality applies when a request leaves quality unset.
const DefaultJpegQuality = 85

// JpegSettings are the per-request still capture parameters.
type JpegSettings struct {
	// Quality in 1..100; negative selects DefaultJpegQuality.
	Quality int
	// Orientation in degrees clockwise; negative is treated as 0.
	Orientation   int
	ThumbnailSize camera.Dimension
	// MaxJpegSize caps the encoded payload; values outside the output
	// buffer fall back to the buffer size.
	MaxJpegSize int
	FocalLength float64
	ISOSpeed    uint16
	GPS         *exif.GPS
}

// JpegQuality returns the effective quality.
func (s *JpegSettings) JpegQuality() int {
	if s == nil || s.Quality < 0 {
		return DefaultJpegQuality
	}
	return s.Quality
}

// JpegRotation returns the effective rotation.
func (s *JpegSettings) JpegRotation() int {
	if s == nil || s.Orientation < 0 {
		return 0
	}
	return s.Orientation
}

// NeedOnlineRotation reports whether the frame must be rotated during encode.
func (s *JpegSettings) NeedOnlineRotation() bool {
	return s != nil && s.Orientation > 0
}

// Thumbnail returns the requested thumbnail dimension.
func (s *JpegSettings) Thumbnail() camera.Dimension {
	if s == nil {
		return camera.Dimension{}
	}
	return s.ThumbnailSize
}

// ExifSettings returns the subset used for EXIF assembly.
func (s *JpegSettings) ExifSettings() exif.Settings {
	if s == nil {
		return exif.Settings{}
	}
	return exif.Settings{FocalLength: s.FocalLength, ISOSpeed: s.ISOSpeed, GPS: s.GPS}
}
