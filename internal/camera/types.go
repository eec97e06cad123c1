package camera

import (
	"fmt"
	"time"
)

// Pool and bundle limits.
const (
	// MaxStreamNumInBundle caps the streams a channel may aggregate.
	MaxStreamNumInBundle = 4
	// MaxBufferBundle caps the buffers a single stream may own.
	MaxBufferBundle = 32
	// MinStreamingBufferNum is the buffer count of continuously streaming
	// internal pools such as metadata.
	MinStreamingBufferNum = 3
	// MetadataBufferSize is the fixed size of one per-frame metadata record.
	MetadataBufferSize = 4096
	// NoFence marks an unused synchronization fence.
	NoFence = -1
)

// StreamType identifies the role of a driver stream.
type StreamType int

const (
	StreamTypeDefault StreamType = iota
	StreamTypePreview
	StreamTypePostview
	StreamTypeSnapshot
	StreamTypeVideo
	StreamTypeMetadata
	StreamTypeRaw
)

func (t StreamType) String() string {
	switch t {
	case StreamTypePreview:
		return "preview"
	case StreamTypePostview:
		return "postview"
	case StreamTypeSnapshot:
		return "snapshot"
	case StreamTypeVideo:
		return "video"
	case StreamTypeMetadata:
		return "metadata"
	case StreamTypeRaw:
		return "raw"
	default:
		return "default"
	}
}

// Format is a driver-level pixel layout.
type Format int

const (
	FormatInvalid Format = iota
	FormatYUV420NV12
	FormatYUV420NV21
	FormatJPEG
	// FormatOpaque is used for streams whose payload is not an image, such as metadata.
	FormatOpaque
)

func (f Format) String() string {
	switch f {
	case FormatYUV420NV12:
		return "nv12"
	case FormatYUV420NV21:
		return "nv21"
	case FormatJPEG:
		return "jpeg"
	case FormatOpaque:
		return "opaque"
	default:
		return "invalid"
	}
}

// Dimension is a width and height in pixels.
type Dimension struct {
	Width  int
	Height int
}

func (d Dimension) String() string {
	return fmt.Sprintf("%dx%d", d.Width, d.Height)
}

// FrameLen returns the number of bytes one frame of the given format and
// dimension occupies. For FormatOpaque the width is the record size.
func FrameLen(format Format, dim Dimension) int {
	switch format {
	case FormatYUV420NV12, FormatYUV420NV21, FormatJPEG:
		return dim.Width * dim.Height * 3 / 2
	case FormatOpaque:
		return dim.Width * dim.Height
	default:
		return 0
	}
}

// PixelFormat is the caller-facing format of a configured output stream.
type PixelFormat int

const (
	// PixelFormatImplementationDefined lets the HAL choose a layout from usage flags.
	PixelFormatImplementationDefined PixelFormat = iota + 1
	// PixelFormatBlob is a compressed JPEG output.
	PixelFormatBlob
	// PixelFormatYCbCr420 is a flexible YUV output.
	PixelFormatYCbCr420
)

// Private usage flags carried by graphic buffer handles.
const (
	PrivFlagVideoEncoder uint32 = 1 << 0
	PrivFlagHWTexture    uint32 = 1 << 1
	PrivFlagCPURead      uint32 = 1 << 2
)

// GraphicBuffer is a caller-owned output buffer. Identity is pointer identity;
// channels never free the backing memory.
type GraphicBuffer struct {
	Fd    int
	Size  int
	Flags uint32
	Data  []byte
}

// StreamSpec describes a caller-configured output stream.
type StreamSpec struct {
	Width      int
	Height     int
	Format     PixelFormat
	Usage      uint32
	MaxBuffers int
}

// Dimension returns the stream size.
func (s *StreamSpec) Dimension() Dimension {
	return Dimension{Width: s.Width, Height: s.Height}
}

// StreamBuffer is one filled buffer inside a super-buffer.
type StreamBuffer struct {
	StreamHandle uint32
	StreamType   StreamType
	BufIdx       int
	FrameIdx     uint32
	Timestamp    time.Time
	FilledLen    int
}

// SuperBuffer is a batch of per-stream buffer completions delivered
// atomically by the driver for one channel.
type SuperBuffer struct {
	CameraHandle  uint32
	ChannelHandle uint32
	Bufs          []*StreamBuffer
}

// Clone returns a deep copy so the driver can reuse the original descriptor.
func (sb *SuperBuffer) Clone() *SuperBuffer {
	if sb == nil {
		return nil
	}
	out := &SuperBuffer{
		CameraHandle:  sb.CameraHandle,
		ChannelHandle: sb.ChannelHandle,
		Bufs:          make([]*StreamBuffer, len(sb.Bufs)),
	}
	for i, b := range sb.Bufs {
		if b != nil {
			cp := *b
			out.Bufs[i] = &cp
		}
	}
	return out
}

// NotifyMode selects how the driver batches super-buffers for a channel.
type NotifyMode int

const (
	// NotifyContinuous delivers every matched frame as it arrives.
	NotifyContinuous NotifyMode = iota
	// NotifyBurst delivers frames only on RequestSuperBuf.
	NotifyBurst
)

// ChannelAttr configures super-buffer matching for a channel.
type ChannelAttr struct {
	NotifyMode         NotifyMode
	LookBack           int
	PostFrameSkip      int
	WaterMark          int
	MaxUnmatchedFrames int
}

// StreamingMode selects continuous or burst production for a stream.
type StreamingMode int

const (
	StreamingContinuous StreamingMode = iota
	StreamingBurst
)

// StreamConfig is passed to Driver.ConfigStream.
type StreamConfig struct {
	Type          StreamType
	Format        Format
	Dim           Dimension
	FrameLen      int
	NumBufs       int
	StreamingMode StreamingMode
	NumOfBurst    int
	// Notify receives super-buffers produced by this stream.
	Notify SuperBufNotify
}

// SuperBufNotify receives driver super-buffers.
type SuperBufNotify func(frame *SuperBuffer)

// EventType classifies asynchronous driver events.
type EventType int

const (
	EventError EventType = iota
	EventDaemonDied
	EventInfo
)

// Event is an asynchronous driver notification.
type Event struct {
	Type    EventType
	Message string
}

// EventNotify receives driver events.
type EventNotify func(event Event)

// Capability describes the sensor as reported by Driver.QueryCapability.
type Capability struct {
	SensorName      string
	PictureSizes    []Dimension
	PreviewSizes    []Dimension
	MaxJpegSize     int
	FocalLength     float64
	MaxNumBurst     int
	SupportedFormat []Format
}

// BufferStatus is the outcome of one delivered buffer.
type BufferStatus int

const (
	BufferStatusOK BufferStatus = iota
	BufferStatusError
)

func (s BufferStatus) String() string {
	if s == BufferStatusOK {
		return "ok"
	}
	return "error"
}

// StreamBufferResult carries one output buffer back to the caller. Fences are
// always NoFence.
type StreamBufferResult struct {
	Stream       *StreamSpec
	Buffer       *GraphicBuffer
	Status       BufferStatus
	AcquireFence int
	ReleaseFence int
}

// CaptureCallback delivers results to the caller. Exactly one of metadata and
// result is non-nil.
type CaptureCallback func(metadata *SuperBuffer, result *StreamBufferResult, frameNumber uint32, userData any)
