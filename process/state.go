// Package process derives the prompt's display state from an asking task.
package process

import "askbox/asking"

type State int

const (
	Idle State = iota
	Understanding
	Searching
	Generating
	Finished
	NoResult
	Failed
)

var stateNames = [...]string{
	Idle:          "idle",
	Understanding: "understanding",
	Searching:     "searching",
	Generating:    "generating",
	Finished:      "finished",
	NoResult:      "no_result",
	Failed:        "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Busy reports whether the state shows the busy indicator.
func (s State) Busy() bool {
	return s == Understanding || s == Searching || s == Generating
}

// Derive maps a task snapshot to a display state. Correcting is shown as
// generating, and a finished TEXT_TO_SQL task without candidates is NoResult.
func Derive(task *asking.Task) State {
	if task == nil {
		return Idle
	}
	if task.Error != nil {
		return Failed
	}
	switch task.Status {
	case asking.StatusUnderstanding:
		return Understanding
	case asking.StatusSearching:
		return Searching
	case asking.StatusGenerating, asking.StatusCorrecting:
		return Generating
	case asking.StatusFinished:
		if task.Type == asking.TypeTextToSQL && len(task.Candidates) == 0 {
			return NoResult
		}
		return Finished
	case asking.StatusFailed:
		return Failed
	case asking.StatusStopped, asking.StatusUnknown:
		return Idle
	}
	return Idle
}
