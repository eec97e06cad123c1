package camera

// MapBufType distinguishes frame buffers from auxiliary mappings.
type MapBufType int

const (
	MapBufTypeStreamBuf MapBufType = iota
	MapBufTypeStreamInfo
)

// Driver is the operations table of the multimedia camera driver stack.
// Every call is synchronous; frames arrive later through the SuperBufNotify
// functions registered with AddChannel and ConfigStream.
type Driver interface {
	// AddChannel creates a channel and returns its non-zero handle.
	AddChannel(camHandle uint32, attr *ChannelAttr, notify SuperBufNotify) (uint32, error)
	DeleteChannel(camHandle, chHandle uint32) error
	StartChannel(camHandle, chHandle uint32) error
	StopChannel(camHandle, chHandle uint32) error

	// AddStream creates a stream on a channel and returns its non-zero handle.
	AddStream(camHandle, chHandle uint32) (uint32, error)
	DeleteStream(camHandle, chHandle, streamHandle uint32) error
	ConfigStream(camHandle, chHandle, streamHandle uint32, cfg *StreamConfig) error

	MapStreamBuf(camHandle, chHandle, streamHandle uint32, bufType MapBufType, bufIdx int, mem []byte) error
	UnmapStreamBuf(camHandle, chHandle, streamHandle uint32, bufType MapBufType, bufIdx int) error

	// QBuf hands a buffer back to the driver for filling.
	QBuf(camHandle, chHandle uint32, buf *StreamBuffer) error

	RequestSuperBuf(camHandle, chHandle uint32, numBufs int) error
	CancelSuperBufRequest(camHandle, chHandle uint32) error

	RegisterEventNotify(camHandle uint32, notify EventNotify) error
	QueryCapability(camHandle uint32) (*Capability, error)
	SetParms(camHandle uint32, parms map[string]string) error
	GetParms(camHandle uint32, keys ...string) (map[string]string, error)
}
