// config.go: settings for the camhal capture pipeline and the functions to
// load, validate and render them.
package conf

import (
	"bytes"
	"embed"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/camhal/internal/errors"
)

//go:embed camhal.yaml
var configFiles embed.FS

const (
	configName = "camhal"
	configType = "yaml"
	envPrefix  = "CAMHAL"
)

// LogSettings controls the slog handlers.
type LogSettings struct {
	Level string // trace, debug, info, warn or error
}

// StreamSettings sizes a continuously streaming channel.
type StreamSettings struct {
	Width   int
	Height  int
	Buffers int // caller buffers registered with the channel
}

// GPSSettings is the fix written to still capture EXIF.
type GPSSettings struct {
	Enabled   bool
	Latitude  float64
	Longitude float64
	Altitude  float64 // meters, negative below sea level
}

// SnapshotSettings configures still capture.
type SnapshotSettings struct {
	Width       int
	Height      int
	Buffers     int
	MaxJpegSize int // bytes, 0 uses the whole output buffer
	Quality     int // JPEG quality 1-100
	Rotation    int // 0, 90, 180 or 270
	FocalLength float64
	ISO         uint16
	GPS         GPSSettings
}

// CameraSettings configures the channels of a capture session.
type CameraSettings struct {
	Handle   uint32
	Metadata bool // stream 3A metadata alongside preview
	Preview  StreamSettings
	Snapshot SnapshotSettings
}

// CaptureSettings is the request plan of the capture command.
type CaptureSettings struct {
	Previews int           // preview frames to request
	Stills   int           // still captures to request
	Timeout  time.Duration // bound on waiting for deliveries
}

// PostProcessorSettings tunes the JPEG post-processor.
type PostProcessorSettings struct {
	QueueDepth   int
	DrainTimeout time.Duration // wait for outstanding jobs on stop
	JobTTL       time.Duration // how long abandoned job ids are remembered
}

// SimSettings tunes the in-memory driver and encoder.
type SimSettings struct {
	FrameInterval time.Duration
	EncodeDelay   time.Duration
	FailEvery     int // fail every Nth encode, 0 disables
}

// TelemetrySettings controls the Prometheus endpoint.
type TelemetrySettings struct {
	Enabled bool
	Listen  string // host:port of the /metrics listener
}

// SentrySettings controls error reporting.
type SentrySettings struct {
	Enabled bool
	DSN     string
}

// JournalSettings controls the sqlite capture journal.
type JournalSettings struct {
	Enabled bool
	Path    string
}

// Settings is the root configuration.
type Settings struct {
	Debug         bool
	Log           LogSettings
	Camera        CameraSettings
	Capture       CaptureSettings
	PostProcessor PostProcessorSettings
	Sim           SimSettings
	Telemetry     TelemetrySettings
	Sentry        SentrySettings
	Journal       JournalSettings
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads defaults, the config file and CAMHAL_ environment variables
// into a validated Settings. An empty path searches the default locations;
// a missing file there is not an error.
func Load(path string) (*Settings, error) {
	v, err := newViper(path)
	if err != nil {
		return nil, err
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryConfiguration).
			Context("operation", "unmarshal").
			Build()
	}
	if err := ValidateSettings(settings); err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryValidation).
			Context("operation", "validate").
			Build()
	}

	settingsMutex.Lock()
	settingsInstance = settings
	settingsMutex.Unlock()
	return settings, nil
}

// newViper builds a viper instance with defaults, env bindings and the
// config file read in.
func newViper(path string) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigType(configType)
	setDefaultConfig(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configName)
		for _, p := range GetDefaultConfigPaths() {
			v.AddConfigPath(p)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path == "" && errors.As(err, &notFound) {
			return v, nil
		}
		return nil, errors.New(err).
			Category(errors.CategoryConfiguration).
			Context("operation", "read-config").
			Context("path", path).
			Build()
	}
	return v, nil
}

// GetSettings returns the most recently loaded settings.
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// GetDefaultConfigPaths lists the directories searched for camhal.yaml.
func GetDefaultConfigPaths() []string {
	paths := []string{"."}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "camhal"))
	}
	return append(paths, "/etc/camhal")
}

// Dump renders settings as YAML.
func Dump(settings *Settings) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(settings); err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryConfiguration).
			Context("operation", "dump").
			Build()
	}
	if err := enc.Close(); err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryConfiguration).
			Context("operation", "dump").
			Build()
	}
	return buf.Bytes(), nil
}

// DefaultConfig returns the commented default configuration file.
func DefaultConfig() []byte {
	data, err := configFiles.ReadFile("camhal.yaml")
	if err != nil {
		// embedded at build time
		panic(err)
	}
	return data
}

// WriteDefaultConfig writes the default configuration to path. An existing
// file is left untouched.
func WriteDefaultConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return errors.Newf("config file already exists").
			Category(errors.CategoryConflict).
			Context("path", path).
			Build()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.New(err).
			Category(errors.CategoryFileIO).
			Context("operation", "create-config-dir").
			Build()
	}
	if err := os.WriteFile(path, DefaultConfig(), 0o644); err != nil {
		return errors.New(err).
			Category(errors.CategoryFileIO).
			Context("operation", "write-config").
			Context("path", path).
			Build()
	}
	return nil
}
