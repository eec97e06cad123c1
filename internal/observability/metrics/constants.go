// Package metrics provides constants used across metric definitions.
package metrics

import "time"

// Status label values.
const (
	// StatusSuccess marks a successful operation.
	StatusSuccess = "success"
	// StatusError marks a failed operation.
	StatusError = "error"
	// StatusAbandoned marks an encode job abandoned at shutdown.
	StatusAbandoned = "abandoned"
)

// Drop reason label values.
const (
	// ReasonBufferCount is a super-buffer with other than one element.
	ReasonBufferCount = "buffer_count"
	// ReasonIndexRange is a buffer index outside the registered pool.
	ReasonIndexRange = "index_range"
	// ReasonQueueFull is a post-processor queue overflow.
	ReasonQueueFull = "queue_full"
	// ReasonNotRunning is a frame arriving after its stream stopped.
	ReasonNotRunning = "not_running"
	// ReasonUnknownBuffer is a request for an unregistered buffer.
	ReasonUnknownBuffer = "unknown_buffer"
	// ReasonDriver is a driver call failure.
	ReasonDriver = "driver"
	// ReasonInFlight is a still capture issued while another is pending.
	ReasonInFlight = "in_flight"
)

// Histogram bucket configuration constants.
const (
	// BucketStart1ms is the starting bucket for 1ms histograms.
	BucketStart1ms = 0.001
	// BucketStart4KB is the starting bucket for 4KiB size histograms.
	BucketStart4KB = 4096.0
	// BucketFactor2 is the common exponential growth factor of 2 for histogram buckets.
	BucketFactor2 = 2
	// BucketCount12 defines 12 exponential buckets.
	BucketCount12 = 12
)

// ShutdownTimeout is the timeout for graceful shutdown operations.
const ShutdownTimeout = 5 * time.Second
