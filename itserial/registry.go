// itserial/registry.go

package itserial

import "sync/atomic"

// Registry maps endpoint identities to the Ports that own them, so that a
// completion notification carrying only an EndpointID reaches the right Port.
//
// A Registry is created explicitly by the code that wires endpoints to ports and
// is normally populated once at start-up. Entries hold non-owning references;
// lookups never allocate or lock and are safe from the completion context.
type Registry struct {
	ports [MaxEndpoints]atomic.Pointer[Port]
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry { return &Registry{} }

// Register binds id to p, silently replacing any previous binding.
func (r *Registry) Register(id EndpointID, p *Port) error {
	if int(id) >= MaxEndpoints {
		return ErrUnknownEndpoint
	}
	r.ports[id].Store(p)
	return nil
}

// RegisterPort binds p under its own endpoint's identity.
func (r *Registry) RegisterPort(p *Port) error {
	return r.Register(p.Endpoint().ID(), p)
}

// Unregister removes the binding for id. Notifications for id become no-ops.
func (r *Registry) Unregister(id EndpointID) {
	if int(id) < MaxEndpoints {
		r.ports[id].Store(nil)
	}
}

// Lookup returns the Port registered for id.
func (r *Registry) Lookup(id EndpointID) (*Port, bool) {
	if int(id) >= MaxEndpoints {
		return nil, false
	}
	p := r.ports[id].Load()
	return p, p != nil
}

// DispatchInboundComplete routes a receive completion for id. Unregistered
// endpoints are ignored.
func (r *Registry) DispatchInboundComplete(id EndpointID) {
	if p, ok := r.Lookup(id); ok {
		p.HandleInboundComplete()
	}
}

// DispatchOutboundComplete routes a transmit completion for id. Unregistered
// endpoints are ignored.
func (r *Registry) DispatchOutboundComplete(id EndpointID) {
	if p, ok := r.Lookup(id); ok {
		p.HandleOutboundComplete()
	}
}
