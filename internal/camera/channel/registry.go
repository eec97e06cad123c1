package channel

import (
	"log/slog"
	"sync"

	"github.com/tphakala/camhal/internal/camera"
)

// superBufHandler is the capability a channel exposes to the registry for
// channel-level driver notifications.
type superBufHandler interface {
	handleSuperBuf(frame *camera.SuperBuffer)
}

// Registry resolves driver channel handles to channels. Driver
// notifications carry only the channel handle; the registry routes them to
// the owning channel.
type Registry struct {
	mu       sync.RWMutex
	channels map[uint32]Channel
	logger   *slog.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		channels: make(map[uint32]Channel),
		logger:   componentLogger().With("component", "channel_registry"),
	}
}

func (r *Registry) add(handle uint32, ch Channel) {
	r.mu.Lock()
	r.channels[handle] = ch
	r.mu.Unlock()
}

func (r *Registry) remove(handle uint32) {
	r.mu.Lock()
	delete(r.channels, handle)
	r.mu.Unlock()
}

// Lookup returns the channel registered under a driver handle.
func (r *Registry) Lookup(handle uint32) (Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[handle]
	return ch, ok
}

// Len returns the number of registered channels.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}

// Dispatch delivers a channel-level super-buffer to its channel. It is
// passed to the driver as the AddChannel notify function.
func (r *Registry) Dispatch(frame *camera.SuperBuffer) {
	if frame == nil {
		return
	}
	ch, ok := r.Lookup(frame.ChannelHandle)
	if !ok {
		r.logger.Warn("super-buffer for unknown channel",
			"channel_handle", frame.ChannelHandle,
			"num_bufs", len(frame.Bufs))
		return
	}
	h, ok := ch.(superBufHandler)
	if !ok {
		return
	}
	h.handleSuperBuf(frame)
}
