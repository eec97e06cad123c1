// conf/defaults.go default values for settings.
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// setDefaultConfig registers every key so env overrides reach Unmarshal.
func setDefaultConfig(v *viper.Viper) {
	v.SetDefault("debug", false)
	v.SetDefault("log.level", "info")

	v.SetDefault("camera.handle", 1)
	v.SetDefault("camera.metadata", true)
	v.SetDefault("camera.preview.width", 640)
	v.SetDefault("camera.preview.height", 480)
	v.SetDefault("camera.preview.buffers", 4)
	v.SetDefault("camera.snapshot.width", 1280)
	v.SetDefault("camera.snapshot.height", 960)
	v.SetDefault("camera.snapshot.buffers", 1)
	v.SetDefault("camera.snapshot.maxjpegsize", 0)
	v.SetDefault("camera.snapshot.quality", 85)
	v.SetDefault("camera.snapshot.rotation", 0)
	v.SetDefault("camera.snapshot.focallength", 4.7)
	v.SetDefault("camera.snapshot.iso", 100)
	v.SetDefault("camera.snapshot.gps.enabled", false)
	v.SetDefault("camera.snapshot.gps.latitude", 0.0)
	v.SetDefault("camera.snapshot.gps.longitude", 0.0)
	v.SetDefault("camera.snapshot.gps.altitude", 0.0)

	v.SetDefault("capture.previews", 30)
	v.SetDefault("capture.stills", 1)
	v.SetDefault("capture.timeout", 10*time.Second)

	v.SetDefault("postprocessor.queuedepth", 4)
	v.SetDefault("postprocessor.draintimeout", 2*time.Second)
	v.SetDefault("postprocessor.jobttl", 30*time.Second)

	v.SetDefault("sim.frameinterval", 33*time.Millisecond)
	v.SetDefault("sim.encodedelay", 0)
	v.SetDefault("sim.failevery", 0)

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.listen", "127.0.0.1:9464")

	v.SetDefault("sentry.enabled", false)
	v.SetDefault("sentry.dsn", "")

	v.SetDefault("journal.enabled", false)
	v.SetDefault("journal.path", "camhal.db")
}
