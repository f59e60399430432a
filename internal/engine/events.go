package engine

import (
	"sync"
	"time"

	"github.com/leapstack-labs/leapbuild/pkg/core"
)

// EventKind identifies a progress event.
type EventKind string

// Progress events.
const (
	// EventCompiling is emitted once for every unit that is compiled, before it starts.
	EventCompiling EventKind = "compiling"
	// EventFresh is emitted for every unit that is up to date.
	EventFresh EventKind = "fresh"
	// EventFinished is emitted once when a build succeeds.
	EventFinished EventKind = "finished"
	// EventFailed is emitted once when a build fails.
	EventFailed EventKind = "failed"
)

// Event is a progress notification.
type Event struct {
	Kind EventKind
	// Unit is set for compiling and fresh events.
	Unit core.Unit
	// Reason says why a compiling unit was stale.
	Reason   string
	Mode     core.Mode
	Duration time.Duration
	Err      error
}

// Reporter receives progress events. Events are delivered one at a time.
type Reporter interface {
	Report(Event)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(Event)

// Report calls f(ev).
func (f ReporterFunc) Report(ev Event) { f(ev) }

// serialReporter delivers events from concurrent workers one at a time.
type serialReporter struct {
	mu   sync.Mutex
	next Reporter
}

func (r *serialReporter) Report(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next.Report(ev)
}
