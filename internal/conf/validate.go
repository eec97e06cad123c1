// conf/validate.go

package conf

import (
	"fmt"
	"net"
	"strings"

	"github.com/tphakala/camhal/internal/camera"
	"github.com/tphakala/camhal/internal/logging"
)

// ValidationError represents a collection of validation errors.
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors.
func (ve ValidationError) Error() string {
	return fmt.Sprintf("validation errors: %s", strings.Join(ve.Errors, "; "))
}

// ValidateSettings validates the entire Settings struct.
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}
	add := func(err error) {
		if err != nil {
			ve.Errors = append(ve.Errors, err.Error())
		}
	}

	if _, err := logging.ParseLevel(settings.Log.Level); err != nil {
		add(fmt.Errorf("log.level: %w", err))
	}
	add(validateStream("camera.preview", &settings.Camera.Preview))
	add(validateSnapshotSettings(&settings.Camera.Snapshot))
	add(validateCaptureSettings(&settings.Capture))
	add(validatePostProcessorSettings(&settings.PostProcessor))
	add(validateSimSettings(&settings.Sim))
	add(validateTelemetrySettings(&settings.Telemetry))

	if settings.Sentry.Enabled && settings.Sentry.DSN == "" {
		add(fmt.Errorf("sentry.dsn is required when sentry is enabled"))
	}
	if settings.Journal.Enabled && settings.Journal.Path == "" {
		add(fmt.Errorf("journal.path is required when the journal is enabled"))
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

// validateStream checks NV21 friendly dimensions and the buffer count.
func validateStream(prefix string, s *StreamSettings) error {
	if s.Width <= 0 || s.Height <= 0 || s.Width%2 != 0 || s.Height%2 != 0 {
		return fmt.Errorf("%s: dimensions must be positive and even, got %dx%d", prefix, s.Width, s.Height)
	}
	if s.Buffers < 1 || s.Buffers > camera.MaxBufferBundle {
		return fmt.Errorf("%s.buffers must be between 1 and %d, got %d", prefix, camera.MaxBufferBundle, s.Buffers)
	}
	return nil
}

func validateSnapshotSettings(s *SnapshotSettings) error {
	if err := validateStream("camera.snapshot", &StreamSettings{Width: s.Width, Height: s.Height, Buffers: s.Buffers}); err != nil {
		return err
	}
	if s.MaxJpegSize < 0 {
		return fmt.Errorf("camera.snapshot.maxjpegsize must not be negative")
	}
	if s.Quality < 1 || s.Quality > 100 {
		return fmt.Errorf("camera.snapshot.quality must be between 1 and 100, got %d", s.Quality)
	}
	switch s.Rotation {
	case 0, 90, 180, 270:
	default:
		return fmt.Errorf("camera.snapshot.rotation must be 0, 90, 180 or 270, got %d", s.Rotation)
	}
	if s.FocalLength < 0 {
		return fmt.Errorf("camera.snapshot.focallength must not be negative")
	}
	if s.GPS.Enabled {
		if s.GPS.Latitude < -90 || s.GPS.Latitude > 90 {
			return fmt.Errorf("camera.snapshot.gps.latitude must be between -90 and 90")
		}
		if s.GPS.Longitude < -180 || s.GPS.Longitude > 180 {
			return fmt.Errorf("camera.snapshot.gps.longitude must be between -180 and 180")
		}
	}
	return nil
}

func validateCaptureSettings(s *CaptureSettings) error {
	if s.Previews < 0 || s.Stills < 0 {
		return fmt.Errorf("capture counts must not be negative")
	}
	if s.Timeout <= 0 {
		return fmt.Errorf("capture.timeout must be positive")
	}
	return nil
}

func validatePostProcessorSettings(s *PostProcessorSettings) error {
	if s.QueueDepth < 1 {
		return fmt.Errorf("postprocessor.queuedepth must be at least 1")
	}
	if s.DrainTimeout < 0 || s.JobTTL < 0 {
		return fmt.Errorf("postprocessor durations must not be negative")
	}
	return nil
}

func validateSimSettings(s *SimSettings) error {
	if s.FrameInterval <= 0 {
		return fmt.Errorf("sim.frameinterval must be positive")
	}
	if s.EncodeDelay < 0 || s.FailEvery < 0 {
		return fmt.Errorf("sim.encodedelay and sim.failevery must not be negative")
	}
	return nil
}

func validateTelemetrySettings(s *TelemetrySettings) error {
	if !s.Enabled {
		return nil
	}
	if _, _, err := net.SplitHostPort(s.Listen); err != nil {
		return fmt.Errorf("telemetry.listen: %w", err)
	}
	return nil
}
