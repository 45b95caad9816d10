package progress

import (
	"sync"
)

// Reporter receives the completion percentage of the running sub-phase.
type Reporter interface {
	Progress(percent float64)
}

type ReporterFunc func(percent float64)

func (f ReporterFunc) Progress(percent float64) {
	f(percent)
}

// Discard drops every report.
var Discard Reporter = ReporterFunc(func(float64) {})

// Update is what a tracker publishes for observers.
type Update struct {
	Percent     float64
	CurrentStep string
	OverallStep string
}

// Tracker scopes reports to a labelled sub-phase. Within one sub-phase the
// published percentage never decreases and never exceeds 100.
type Tracker struct {
	mu      sync.Mutex
	publish func(Update)
	current Update
}

func NewTracker(publish func(Update)) *Tracker {
	if publish == nil {
		publish = func(Update) {}
	}

	return &Tracker{publish: publish}
}

// Begin starts a new sub-phase at 0%.
func (t *Tracker) Begin(overall, step string) {
	t.mu.Lock()
	t.current = Update{Percent: 0, CurrentStep: step, OverallStep: overall}
	u := t.current
	t.mu.Unlock()

	t.publish(u)
}

func (t *Tracker) Progress(percent float64) {
	if percent > 100 {
		percent = 100
	}

	t.mu.Lock()
	if percent <= t.current.Percent {
		t.mu.Unlock()
		return
	}
	t.current.Percent = percent
	u := t.current
	t.mu.Unlock()

	t.publish(u)
}

// Done closes the running sub-phase at exactly 100%.
func (t *Tracker) Done() {
	t.Progress(100)
}

func (t *Tracker) Current() Update {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.current
}
