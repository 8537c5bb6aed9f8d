package channel

import (
	"fmt"
	"sync"

	"github.com/agrovault/notify/internal/domain"
)

// Registry maps channel tags to their Transport implementations.
// Transports are registered once at startup; adding a channel means
// registering a new implementation, not editing a dispatch switch.
type Registry struct {
	mu         sync.RWMutex
	transports map[domain.Channel]Transport
}

func NewRegistry() *Registry {
	return &Registry{transports: make(map[domain.Channel]Transport)}
}

// Register binds a transport to a channel tag. Re-registering a
// channel replaces the previous transport.
func (r *Registry) Register(ch domain.Channel, t Transport) error {
	if !ch.Valid() {
		return fmt.Errorf("register transport: unknown channel %q", ch)
	}
	if t == nil {
		return fmt.Errorf("register transport: nil transport for %q", ch)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transports[ch] = t
	return nil
}

// Lookup returns the transport for a channel, if one is registered.
func (r *Registry) Lookup(ch domain.Channel) (Transport, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.transports[ch]
	return t, ok
}

// Channels returns the set of channels with a registered transport.
func (r *Registry) Channels() []domain.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Channel, 0, len(r.transports))
	for ch := range r.transports {
		out = append(out, ch)
	}
	return out
}
