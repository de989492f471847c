package haclient

import (
	"time"

	"github.com/google/uuid"
)

// Boundary selects the aggregation policy a ConnectionStatus watcher uses
// to decide when it fires, per spec.md §3/§4.1.
type Boundary string

const (
	// BoundaryAny fires on the 0→>0 and >0→0 transitions of the relevant
	// connected set.
	BoundaryAny Boundary = "any"
	// BoundaryAll fires on the <n→n and n→<n transitions of the relevant
	// connected set.
	BoundaryAll Boundary = "all"
)

// StatusEvent is the event passed to a ConnectionStatus callback.
type StatusEvent string

const (
	StatusEventConnected    StatusEvent = "connected"
	StatusEventDisconnected StatusEvent = "disconnected"
	StatusEventFailed       StatusEvent = "failed"
	StatusEventTimeout      StatusEvent = "timeout"
)

// ConnectionStatusCallback receives the watcher's id, the event that
// fired it, and the identities of the relevant (possibly filtered)
// broker set at fire time.
type ConnectionStatusCallback func(watcherID string, event StatusEvent, identities []string)

// ConnectionStatusOptions configures a ConnectionStatus watcher
// registration, per spec.md §3.
type ConnectionStatusOptions struct {
	Boundary Boundary
	// Brokers restricts the watcher to this identity set; nil means
	// unfiltered (the whole broker set).
	Brokers []string
	// OneOff, if non-zero, makes the watcher fire at most once: either on
	// the first qualifying transition, or on expiry with StatusEventTimeout,
	// whichever comes first.
	OneOff time.Duration
}

type connectionStatusWatcher struct {
	id       string
	opts     ConnectionStatusOptions
	brokers  map[string]bool // nil when unfiltered
	callback ConnectionStatusCallback
	timer    *time.Timer
	fired    bool
}

func newWatcher(opts ConnectionStatusOptions, cb ConnectionStatusCallback) *connectionStatusWatcher {
	w := &connectionStatusWatcher{
		id:       uuid.NewString(),
		opts:     opts,
		callback: cb,
	}
	if len(opts.Brokers) > 0 {
		w.brokers = make(map[string]bool, len(opts.Brokers))
		for _, b := range opts.Brokers {
			w.brokers[b] = true
		}
	}
	return w
}

// matches reports whether identity falls within this watcher's filter.
func (w *connectionStatusWatcher) matches(identity string) bool {
	if w.brokers == nil {
		return true
	}
	return w.brokers[identity]
}

// stopTimer cancels the one-off timer, if any. Safe to call more than
// once.
func (w *connectionStatusWatcher) stopTimer() {
	if w.timer != nil {
		w.timer.Stop()
	}
}
