package mcpapps

import "sync"

// Registry shares one Client per Port, keyed by Port.ID. Every consumer asking for the same
// port gets the same client and therefore the same pending calls, cache and handshake.
// Clients are created on first use and are never removed.
type Registry struct {
	options []ClientOption

	mu      sync.Mutex
	clients map[string]*Client
}

// NewRegistry creates an empty Registry. The options are applied to every client it creates.
func NewRegistry(options ...ClientOption) *Registry {
	return &Registry{
		options: options,
		clients: make(map[string]*Client),
	}
}

// Shared returns the client for port, creating it on first use.
func (r *Registry) Shared(port Port) *Client {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.clients[port.ID()]; ok {
		return c
	}
	c := NewClient(port, r.options...)
	r.clients[port.ID()] = c
	return c
}

// Lookup returns the client registered for the port id, if any.
func (r *Registry) Lookup(portID string) (*Client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.clients[portID]
	return c, ok
}

// Len returns the number of clients created so far.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.clients)
}
