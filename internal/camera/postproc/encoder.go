package postproc

import (
	"github.com/tphakala/camhal/internal/camera"
	"github.com/tphakala/camhal/internal/camera/exif"
)

// JobStatus is the encoder's verdict on a job.
type JobStatus int

const (
	JobStatusDone JobStatus = iota
	JobStatusError
)

func (s JobStatus) String() string {
	if s == JobStatusDone {
		return "done"
	}
	return "error"
}

// EncodeOutput describes the encoded payload.
type EncodeOutput struct {
	BufFilledLen int
	Buf          []byte
}

// EncodeCallback reports job completion. It may run on any goroutine.
type EncodeCallback func(status JobStatus, jobID uint32, out *EncodeOutput)

// EncodeJob is one JPEG encode request. ID is assigned by the
// post-processor and must be echoed in the completion callback.
type EncodeJob struct {
	ID            uint32
	Input         []byte
	InputFormat   camera.Format
	InputDim      camera.Dimension
	Output        []byte
	Quality       int
	Rotation      int
	ThumbnailSize camera.Dimension
	Exif          *exif.EntrySet
	Callback      EncodeCallback
}

// Encoder is the asynchronous JPEG encoder client. Encode must not block
// on completion; the result arrives through job.Callback exactly once
// unless the job is aborted first.
type Encoder interface {
	Encode(job *EncodeJob) error
	Abort(jobID uint32) error
}
