package buildinfo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextFallbacks(t *testing.T) {
	t.Parallel()

	var nilCtx *Context
	assert.Equal(t, "unknown", nilCtx.GetVersion())
	assert.Equal(t, "unknown", nilCtx.GetBuildDate())
	assert.Equal(t, "camhal@unknown", nilCtx.Release())

	c := New("v1.2.0", "2026-10-01")
	assert.Equal(t, "v1.2.0", c.GetVersion())
	assert.Equal(t, "2026-10-01", c.GetBuildDate())
	assert.Equal(t, "camhal@v1.2.0", c.Release())

	assert.Equal(t, "unknown", (&Context{}).GetBuildDate())
}
