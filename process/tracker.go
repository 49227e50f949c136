package process

import (
	"time"

	"askbox/asking"
)

// Tracker holds the prompt's local display state. It is only touched from
// the UI update path and needs no locking.
type Tracker struct {
	state   State
	started time.Time
	now     func() time.Time
}

func NewTracker() *Tracker {
	return &Tracker{now: time.Now}
}

func (t *Tracker) Current() State { return t.state }

func (t *Tracker) Set(s State) {
	if t.state == Idle && s != Idle {
		t.started = t.clock()
	}
	t.state = s
	if s == Idle {
		t.started = time.Time{}
	}
}

func (t *Tracker) Reset() { t.Set(Idle) }

// Sync adopts the state derived from task. A nil task leaves the current
// state alone so a freshly submitted question keeps showing Understanding.
func (t *Tracker) Sync(task *asking.Task) {
	if task == nil {
		return
	}
	t.Set(Derive(task))
}

func (t *Tracker) IsProcessing() bool { return t.state.Busy() }

// Elapsed is the time since the tracker left Idle, zero while idle.
func (t *Tracker) Elapsed() time.Duration {
	if t.started.IsZero() {
		return 0
	}
	return t.clock().Sub(t.started)
}

func (t *Tracker) clock() time.Time {
	if t.now == nil {
		return time.Now()
	}
	return t.now()
}
