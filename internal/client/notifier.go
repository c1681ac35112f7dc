package client

import (
	"log/slog"
	"sync"
)

type handlerEntry struct {
	id int
	fn func(Event)
}

// Notifier delivers events to subscribers from a single dispatcher goroutine,
// in the order they were emitted. Emit never blocks on subscribers.
type Notifier struct {
	mu       sync.Mutex
	queue    []Event
	handlers map[Kind][]handlerEntry
	nextID   int
	closed   bool

	wake    chan struct{}
	stopped chan struct{}
	logger  *slog.Logger
}

// NewNotifier starts a notifier. Call Close to stop its dispatcher.
func NewNotifier(logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	n := &Notifier{
		handlers: make(map[Kind][]handlerEntry),
		wake:     make(chan struct{}, 1),
		stopped:  make(chan struct{}),
		logger:   logger.With("service", "notifier"),
	}
	go n.dispatch()
	return n
}

// Emit queues e for delivery. Events emitted after Close are dropped.
func (n *Notifier) Emit(e Event) {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.queue = append(n.queue, e)
	n.mu.Unlock()

	select {
	case n.wake <- struct{}{}:
	default:
	}
}

// Close delivers everything already queued and stops the dispatcher.
func (n *Notifier) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		<-n.stopped
		return
	}
	n.closed = true
	n.mu.Unlock()

	select {
	case n.wake <- struct{}{}:
	default:
	}
	<-n.stopped
}

func (n *Notifier) dispatch() {
	defer close(n.stopped)
	for range n.wake {
		for {
			n.mu.Lock()
			if len(n.queue) == 0 {
				closed := n.closed
				n.mu.Unlock()
				if closed {
					return
				}
				break
			}
			e := n.queue[0]
			n.queue[0] = nil
			n.queue = n.queue[1:]
			handlers := append([]handlerEntry(nil), n.handlers[e.Kind()]...)
			n.mu.Unlock()

			for _, h := range handlers {
				n.call(h, e)
			}
		}
	}
}

func (n *Notifier) call(h handlerEntry, e Event) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error("Event handler panicked", "kind", e.Kind(), "panic", r)
		}
	}()
	h.fn(e)
}

func (n *Notifier) subscribe(kind Kind, fn func(Event)) func() {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.nextID++
	id := n.nextID
	n.handlers[kind] = append(n.handlers[kind], handlerEntry{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			entries := n.handlers[kind]
			for i, h := range entries {
				if h.id == id {
					n.handlers[kind] = append(entries[:i:i], entries[i+1:]...)
					break
				}
			}
		})
	}
}

// on adapts a typed handler to the event stream.
func on[T Event](n *Notifier, fn func(T)) func() {
	var zero T
	return n.subscribe(zero.Kind(), func(e Event) {
		if typed, ok := e.(T); ok {
			fn(typed)
		}
	})
}

// OnConnectionOpened subscribes to channel sessions becoming live.
func (n *Notifier) OnConnectionOpened(fn func(ConnectionOpened)) func() { return on(n, fn) }

// OnConnectionClosed subscribes to live sessions ending.
func (n *Notifier) OnConnectionClosed(fn func(ConnectionClosed)) func() { return on(n, fn) }

// OnStateChanged subscribes to every state transition.
func (n *Notifier) OnStateChanged(fn func(StateChanged)) func() { return on(n, fn) }

// OnPresenceChanged subscribes to applied presence deltas.
func (n *Notifier) OnPresenceChanged(fn func(PresenceChanged)) func() { return on(n, fn) }

// OnSnapshot subscribes to full presence snapshots.
func (n *Notifier) OnSnapshot(fn func(SnapshotApplied)) func() { return on(n, fn) }

// OnMessageReceived subscribes to in-order chat messages.
func (n *Notifier) OnMessageReceived(fn func(MessageReceived)) func() { return on(n, fn) }

// OnSendFailed subscribes to failed sends.
func (n *Notifier) OnSendFailed(fn func(SendFailed)) func() { return on(n, fn) }

// OnOrderingViolation subscribes to abandoned gaps.
func (n *Notifier) OnOrderingViolation(fn func(OrderingViolated)) func() { return on(n, fn) }
