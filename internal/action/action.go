// Package action implements the control-plane broadcast primitive shared by
// the forwarders, the signal handler, and the supervisor: a single-writer,
// multi-reader latch that always exposes the latest control action.
//
// Readers never see every transition, only the most recent one. That is
// intentional: the action lattice is monotone (KILL/PANICKED supersede
// SHUTDOWN supersedes RELOAD supersedes INIT), so a reader that skips an
// intermediate RELOAD on its way to SHUTDOWN has lost nothing it needed.
package action

import "sync"

// Kind enumerates the control actions broadcast over the Bus.
type Kind int

const (
	// Init is the action a freshly-created Bus starts with. It is never
	// published again after startup.
	Init Kind = iota
	// Reload signals that the runtime configuration snapshot changed.
	Reload
	// Shutdown requests a graceful drain-then-exit.
	Shutdown
	// Kill requests immediate cancellation of in-flight work.
	Kill
	// Stop is published by the supervisor when a worker fails; Label
	// names the worker that failed.
	Stop
	// Panicked is published by the supervisor when a worker join fails
	// because the worker goroutine panicked.
	Panicked
)

func (k Kind) String() string {
	switch k {
	case Init:
		return "INIT"
	case Reload:
		return "RELOAD"
	case Shutdown:
		return "SHUTDOWN"
	case Kill:
		return "KILL"
	case Stop:
		return "STOP"
	case Panicked:
		return "PANICKED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether the action means a worker should stop running.
func (k Kind) Terminal() bool {
	switch k {
	case Shutdown, Kill, Stop, Panicked:
		return true
	default:
		return false
	}
}

// Forced reports whether the action demands immediate cancellation rather
// than a graceful drain.
func (k Kind) Forced() bool {
	return k == Kill || k == Panicked
}

// Action is the value carried by the Bus. PortChanged is only meaningful
// when Kind is Reload; Label is only meaningful when Kind is Stop or
// Panicked, where it names the worker that failed.
type Action struct {
	Kind        Kind
	PortChanged bool
	Label       string
}

// Bus is a single-producer / multi-consumer state latch. It stores exactly
// one current Action and wakes every waiting reader on each Set by closing
// and replacing an internal notification channel — the same broadcast-via-
// closed-channel idiom context.Context uses for Done().
type Bus struct {
	mu      sync.Mutex
	current Action
	notify  chan struct{}
}

// NewBus creates a Bus whose initial value is Action{Kind: Init}.
func NewBus() *Bus {
	return &Bus{
		current: Action{Kind: Init},
		notify:  make(chan struct{}),
	}
}

// Set publishes a new action and wakes every reader currently blocked on a
// channel returned by Watch.
func (b *Bus) Set(a Action) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = a
	close(b.notify)
	b.notify = make(chan struct{})
}

// Current returns the latest published action.
func (b *Bus) Current() Action {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// Watch returns a channel that is closed the next time Set is called. A
// caller reads from the returned channel, then calls Current to see what
// changed, then calls Watch again to keep watching — it must not reuse a
// channel obtained before the previous wakeup.
func (b *Bus) Watch() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.notify
}
