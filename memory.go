package mcpapps

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryPort is an in-process Port, one end of a pipe created by NewPipe. Messages posted on
// one end are queued without bound and delivered to the other end's listeners in FIFO order
// by that end's delivery goroutine, mirroring same-process postMessage.
//
// Close must be called to release the delivery goroutine, and must not be called from inside a
// listener of the same port.
type MemoryPort struct {
	id        string
	peer      *MemoryPort
	listeners listenerList[MessageListener]

	mu     sync.Mutex
	queue  [][]byte
	closed bool

	wake          chan struct{}
	done          chan struct{}
	deliverClosed chan struct{}
}

// NewPipe creates two connected MemoryPorts. Conventionally the first is handed to the guest
// Client and the second to the Host.
func NewPipe() (*MemoryPort, *MemoryPort) {
	a := newMemoryPort()
	b := newMemoryPort()
	a.peer = b
	b.peer = a

	go a.deliver()
	go b.deliver()

	return a, b
}

func newMemoryPort() *MemoryPort {
	return &MemoryPort{
		id:            uuid.New().String(),
		wake:          make(chan struct{}, 1),
		done:          make(chan struct{}),
		deliverClosed: make(chan struct{}),
	}
}

// ID returns the random identifier assigned at creation.
func (p *MemoryPort) ID() string { return p.id }

// PostMessage queues a copy of data for the peer. It fails with ErrPortClosed if either end is
// closed.
func (p *MemoryPort) PostMessage(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return ErrPortClosed
	}

	return p.peer.enqueue(data)
}

// AddMessageListener implements Port.
func (p *MemoryPort) AddMessageListener(l MessageListener) func() {
	return p.listeners.add(l)
}

// Close stops delivery on this end and discards anything still queued. The peer keeps running
// but its posts fail from now on.
func (p *MemoryPort) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.queue = nil
	close(p.done)
	p.mu.Unlock()

	<-p.deliverClosed
	return nil
}

func (p *MemoryPort) enqueue(data []byte) error {
	msg := make([]byte, len(data))
	copy(msg, data)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPortClosed
	}
	p.queue = append(p.queue, msg)
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
	return nil
}

func (p *MemoryPort) deliver() {
	defer close(p.deliverClosed)

	for {
		p.mu.Lock()
		if len(p.queue) == 0 {
			p.mu.Unlock()
			select {
			case <-p.done:
				return
			case <-p.wake:
			}
			continue
		}
		msg := p.queue[0]
		p.queue = p.queue[1:]
		p.mu.Unlock()

		for _, l := range p.listeners.snapshot() {
			l(msg)
		}
	}
}
