package camera

import (
	"github.com/tphakala/camhal/internal/errors"
)

// Component identifier for camera errors.
const ComponentCamera = "camera"

var (
	// ErrInvalidArgument is returned for nil buffers, bad formats and malformed input.
	ErrInvalidArgument = errors.New(errors.NewStd("invalid argument")).
				Component(ComponentCamera).
				Category(errors.CategoryValidation).
				Build()

	// ErrUnknownBuffer is returned when a buffer handle was never registered.
	ErrUnknownBuffer = errors.New(errors.NewStd("buffer not registered")).
				Component(ComponentCamera).
				Category(errors.CategoryNotFound).
				Context("resource", "buffer").
				Build()

	// ErrUnsupportedFormat is returned when a stream format or usage cannot be mapped.
	ErrUnsupportedFormat = errors.New(errors.NewStd("unsupported stream format")).
				Component(ComponentCamera).
				Category(errors.CategoryUnsupported).
				Build()

	// ErrResourceExhausted is returned when a buffer pool or allocation is exhausted.
	ErrResourceExhausted = errors.New(errors.NewStd("resource exhausted")).
				Component(ComponentCamera).
				Category(errors.CategoryResource).
				Build()

	// ErrDriver is returned when a driver operation fails.
	ErrDriver = errors.New(errors.NewStd("driver operation failed")).
			Component(ComponentCamera).
			Category(errors.CategoryDriver).
			Build()

	// ErrChannelCreation is returned when the driver refuses to add a channel.
	ErrChannelCreation = errors.New(errors.NewStd("channel creation refused")).
				Component(ComponentCamera).
				Category(errors.CategoryChannel).
				Build()

	// ErrInvalidState is returned for operations not allowed in the current lifecycle state.
	ErrInvalidState = errors.New(errors.NewStd("invalid state")).
			Component(ComponentCamera).
			Category(errors.CategoryState).
			Build()

	// ErrAlreadyInitialized is returned when a self-initializing channel is initialized twice.
	ErrAlreadyInitialized = errors.New(errors.NewStd("already initialized")).
				Component(ComponentCamera).
				Category(errors.CategoryState).
				Build()

	// ErrRequestInFlight is returned when a still capture is requested before the previous one was delivered.
	ErrRequestInFlight = errors.New(errors.NewStd("still capture already in flight")).
				Component(ComponentCamera).
				Category(errors.CategoryConflict).
				Build()

	// ErrEncodeFailure marks an asynchronous JPEG encode failure.
	ErrEncodeFailure = errors.New(errors.NewStd("jpeg encode failed")).
				Component(ComponentCamera).
				Category(errors.CategoryEncode).
				Build()
)
