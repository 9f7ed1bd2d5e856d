package test_helpers

import (
	"sync"

	"github.com/ice-blockchain/go-dbrouter"
)

// RecordingLogger keeps every reported event.
type RecordingLogger struct {
	mutex  sync.Mutex
	events []dbrouter.LogEvent
}

func (l *RecordingLogger) Report(event dbrouter.LogEvent) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.events = append(l.events, event)
}

func (l *RecordingLogger) Events() []dbrouter.LogEvent {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return append([]dbrouter.LogEvent(nil), l.events...)
}

// Names returns the names of the reported events in order.
func (l *RecordingLogger) Names() []string {
	events := l.Events()
	names := make([]string, 0, len(events))
	for _, e := range events {
		names = append(names, e.EventName())
	}
	return names
}

// Count returns how many events with the name were reported.
func (l *RecordingLogger) Count(name string) int {
	n := 0
	for _, e := range l.Events() {
		if e.EventName() == name {
			n++
		}
	}
	return n
}
