package errors

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingReporter struct {
	reported []*EnhancedError
}

func (r *recordingReporter) ReportError(ee *EnhancedError) {
	r.reported = append(r.reported, ee)
	ee.MarkReported()
}

func (r *recordingReporter) IsEnabled() bool { return true }

func TestFastPathNoTelemetry(t *testing.T) {
	SetTelemetryReporter(nil)

	ee := New(fmt.Errorf("test error")).Build()

	assert.Equal(t, "test error", ee.Error())
	assert.Equal(t, ComponentUnknown, ee.GetComponent())
	assert.Equal(t, CategoryGeneric, ee.Category)
}

func TestBuildInheritsWrappedCategory(t *testing.T) {
	SetTelemetryReporter(nil)

	sentinel := New(NewStd("buffer not registered")).
		Component("camera").
		Category(CategoryNotFound).
		Build()

	wrapped := New(sentinel).Context("frame_number", 7).Build()

	assert.Equal(t, CategoryNotFound, wrapped.Category)
	assert.True(t, IsNotFound(wrapped))
	assert.True(t, Is(wrapped, sentinel))
}

func TestIsDistinguishesSentinelsInSameCategory(t *testing.T) {
	SetTelemetryReporter(nil)

	errA := New(NewStd("already initialized")).Category(CategoryState).Build()
	errB := New(NewStd("request in flight")).Category(CategoryState).Build()

	wrappedA := New(errA).Component("camera.channel").Build()

	assert.True(t, Is(wrappedA, errA))
	assert.False(t, Is(wrappedA, errB))
	assert.False(t, Is(errA, errB))
	assert.True(t, Is(fmt.Errorf("start: %w", wrappedA), errA))
}

func TestIsMatchesCategoryOnlyTarget(t *testing.T) {
	SetTelemetryReporter(nil)

	err := New(NewStd("stop failed")).Category(CategoryDriver).Build()
	target := &EnhancedError{Category: CategoryDriver}

	assert.True(t, Is(err, target))
	assert.False(t, Is(err, &EnhancedError{Category: CategoryEncode}))
}

func TestContextCopyIsIsolated(t *testing.T) {
	ee := New(NewStd("x")).Context("index", 3).Build()

	ctx := ee.GetContext()
	ctx["index"] = 99

	assert.Equal(t, 3, ee.GetContext()["index"])
}

func TestTelemetryReporterReceivesBuiltErrors(t *testing.T) {
	rep := &recordingReporter{}
	SetTelemetryReporter(rep)
	t.Cleanup(func() { SetTelemetryReporter(nil) })

	ee := New(NewStd("driver refused channel")).Component("camera.channel").Build()

	require.Len(t, rep.reported, 1)
	assert.Same(t, ee, rep.reported[0])
	assert.True(t, ee.IsReported())
	assert.Equal(t, CategoryDriver, ee.Category)

	// Sentinels with no cause are never reported
	_ = New(nil).Category(CategoryState).Build()
	assert.Len(t, rep.reported, 1)
}

func TestPriorityFallsBackToMedium(t *testing.T) {
	ee := New(NewStd("x")).Priority("urgent").Build()
	assert.Equal(t, PriorityMedium, ee.GetPriority())

	ee = New(NewStd("x")).Priority(PriorityHigh).Build()
	assert.Equal(t, PriorityHigh, ee.GetPriority())
}

func TestBasicScrub(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		absent  string
		present string
	}{
		{"file path", "open /var/lib/camhal/journal.db: denied", "/var/lib", "[PATH]"},
		{"sentry dsn", "init https://abc123@o1.ingest.sentry.io/42 failed", "abc123", "[DSN_REDACTED]"},
		{"device id", "sensor serial=XK42-991 offline", "XK42-991", "[ID_REDACTED]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := basicScrub(tt.input)
			assert.NotContains(t, out, tt.absent)
			assert.Contains(t, out, tt.present)
		})
	}
}

func TestGenerateErrorTitle(t *testing.T) {
	SetTelemetryReporter(nil)
	ee := New(NewStd("x")).
		Component("camera.postproc").
		Category(CategoryEncode).
		Context("operation", "jpeg_encode").
		Build()

	assert.Equal(t, "Camera.postproc JPEG Encode Error Jpeg Encode", generateErrorTitle(ee))
}

func TestWrapWithTiming(t *testing.T) {
	SetTelemetryReporter(nil)

	cause := NewStd("driver timeout")
	ee := Wrap(cause).
		Component("camera.channel").
		Category(CategoryDriver).
		Timing("stop_channel", 1500*time.Millisecond).
		Build()

	assert.Same(t, cause, ee.GetError())
	assert.Equal(t, "driver timeout", ee.GetMessage())
	assert.Equal(t, string(CategoryDriver), ee.GetCategory())
	assert.False(t, ee.GetTimestamp().IsZero())

	ctx := ee.GetContext()
	assert.Equal(t, "stop_channel", ctx["operation"])
	assert.Equal(t, int64(1500), ctx["duration_ms"])
}
