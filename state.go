package dbrouter

import (
	"sync"
	"sync/atomic"
)

// State is a connector lifecycle state.
type State uint32

const (
	Unconnected State = iota
	Connecting
	Connected
	Failed
	Closed
)

func (s State) String() string {
	switch s {
	case Unconnected:
		return "unconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Failed:
		return "failed"
	case Closed:
		return "closed"
	}
	return "unknown"
}

// Lifecycle is the state machine shared by connectors:
//
//	Unconnected -> Connecting -> Connected -> Closed
//	                          -> Failed
//
// Failed is terminal. Handlers subscribed after a state has been reached
// are called immediately, so no transition is missed.
type Lifecycle struct {
	component string
	logger    Logger

	state     uint32
	mutex     sync.Mutex
	err       error
	onConnect []func()
	onError   []func(error)
	onClose   []func()
}

func NewLifecycle(component string, logger Logger) *Lifecycle {
	return &Lifecycle{
		component: component,
		logger:    LoggerOrDefault(logger),
	}
}

func (l *Lifecycle) State() State {
	return State(atomic.LoadUint32(&l.state))
}

// Err returns the error that moved the lifecycle to Failed.
func (l *Lifecycle) Err() error {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return l.err
}

// Begin moves Unconnected to Connecting.
func (l *Lifecycle) Begin() error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	switch l.State() {
	case Unconnected:
		l.set(Connecting)
		return nil
	case Closed:
		return ErrClosed
	default:
		return ErrAlreadyConnecting
	}
}

// Connected moves Connecting to Connected and notifies OnConnect handlers.
// It returns false if the lifecycle left Connecting in the meantime.
func (l *Lifecycle) Connected() bool {
	l.mutex.Lock()
	if l.State() != Connecting {
		l.mutex.Unlock()
		return false
	}
	l.set(Connected)
	handlers := append([]func(){}, l.onConnect...)
	l.mutex.Unlock()

	for _, h := range handlers {
		h()
	}
	return true
}

// Fail moves Connecting to Failed and notifies OnError handlers.
func (l *Lifecycle) Fail(err error) {
	l.mutex.Lock()
	if l.State() != Connecting {
		l.mutex.Unlock()
		return
	}
	l.set(Failed)
	l.err = err
	handlers := append([]func(error){}, l.onError...)
	l.mutex.Unlock()

	for _, h := range handlers {
		h(err)
	}
}

// ReportError passes an error of an underlying connection to the OnError
// handlers without changing the state.
func (l *Lifecycle) ReportError(err error) {
	l.mutex.Lock()
	handlers := append([]func(error){}, l.onError...)
	l.mutex.Unlock()

	for _, h := range handlers {
		h(err)
	}
}

// Close moves any non-closed state to Closed. It returns false if the
// lifecycle was already closed.
func (l *Lifecycle) Close() bool {
	l.mutex.Lock()
	if l.State() == Closed {
		l.mutex.Unlock()
		return false
	}
	l.set(Closed)
	handlers := append([]func(){}, l.onClose...)
	l.mutex.Unlock()

	for _, h := range handlers {
		h()
	}
	return true
}

func (l *Lifecycle) OnConnect(h func()) {
	l.mutex.Lock()
	l.onConnect = append(l.onConnect, h)
	now := l.State() == Connected
	l.mutex.Unlock()

	if now {
		h()
	}
}

func (l *Lifecycle) OnError(h func(error)) {
	l.mutex.Lock()
	l.onError = append(l.onError, h)
	err := l.err
	failed := l.State() == Failed
	l.mutex.Unlock()

	if failed {
		h(err)
	}
}

func (l *Lifecycle) OnClose(h func()) {
	l.mutex.Lock()
	l.onClose = append(l.onClose, h)
	closed := l.State() == Closed
	l.mutex.Unlock()

	if closed {
		h()
	}
}

// set must be called with the mutex held.
func (l *Lifecycle) set(news State) {
	old := State(atomic.SwapUint32(&l.state, uint32(news)))
	l.logger.Report(StateChangedEvent{
		BaseEvent: NewBaseEvent(l.component),
		From:      old,
		To:        news,
	})
}
