package mcpapps

import "sync"

// listenerList is an ordered set of callbacks. Callbacks run in registration order and removing
// one leaves the order of the others intact. It is safe for concurrent use; callers invoke the
// snapshot without holding the lock, so a callback may add or remove listeners.
type listenerList[T any] struct {
	mu      sync.Mutex
	nextID  uint64
	entries []listenerEntry[T]
	first   chan struct{}
}

type listenerEntry[T any] struct {
	id uint64
	fn T
}

func (l *listenerList[T]) add(fn T) (remove func()) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextID++
	id := l.nextID
	if id == 1 && l.first != nil {
		close(l.first)
	}
	l.entries = append(l.entries, listenerEntry[T]{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() { l.remove(id) })
	}
}

func (l *listenerList[T]) remove(id uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, e := range l.entries {
		if e.id != id {
			continue
		}
		// Copy instead of reslicing in place so snapshots taken earlier stay valid.
		entries := make([]listenerEntry[T], 0, len(l.entries)-1)
		entries = append(entries, l.entries[:i]...)
		entries = append(entries, l.entries[i+1:]...)
		l.entries = entries
		return
	}
}

func (l *listenerList[T]) snapshot() []T {
	l.mu.Lock()
	defer l.mu.Unlock()

	fns := make([]T, len(l.entries))
	for i, e := range l.entries {
		fns[i] = e.fn
	}
	return fns
}

// attached returns a channel that is closed once the first listener was added. Ports use it to
// hold inbound traffic until someone listens.
func (l *listenerList[T]) attached() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.first == nil {
		l.first = make(chan struct{})
		if l.nextID > 0 {
			close(l.first)
		}
	}
	return l.first
}
