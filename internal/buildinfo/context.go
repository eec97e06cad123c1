// Package buildinfo carries build-time metadata that is not user configurable.
package buildinfo

import "runtime/debug"

const unknown = "unknown"

// Context is injected at startup from linker flags.
type Context struct {
	// Version holds the Git version tag from build.
	Version string
	// BuildDate is the time when the binary was built.
	BuildDate string
}

// New returns a context, falling back to the module version recorded in the
// binary when version is empty.
func New(version, buildDate string) *Context {
	if version == "" {
		if bi, ok := debug.ReadBuildInfo(); ok && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
			version = bi.Main.Version
		}
	}
	return &Context{Version: version, BuildDate: buildDate}
}

// GetVersion returns the version or "unknown".
func (c *Context) GetVersion() string {
	if c == nil || c.Version == "" {
		return unknown
	}
	return c.Version
}

// GetBuildDate returns the build date or "unknown".
func (c *Context) GetBuildDate() string {
	if c == nil || c.BuildDate == "" {
		return unknown
	}
	return c.BuildDate
}

// Release is the identifier reported with telemetry events.
func (c *Context) Release() string {
	return "camhal@" + c.GetVersion()
}
