package asking

import (
	"errors"
	"fmt"
	"strings"

	"askbox/log"
)

// ErrTerminal is returned by Poll when the task ended in failed or stopped.
var ErrTerminal = errors.New("asking task ended without result")

type Status int

const (
	StatusUnknown Status = iota
	StatusUnderstanding
	StatusSearching
	StatusGenerating
	StatusCorrecting
	StatusFinished
	StatusFailed
	StatusStopped
)

var statusNames = [...]string{
	StatusUnknown:       "unknown",
	StatusUnderstanding: "understanding",
	StatusSearching:     "searching",
	StatusGenerating:    "generating",
	StatusCorrecting:    "correcting",
	StatusFinished:      "finished",
	StatusFailed:        "failed",
	StatusStopped:       "stopped",
}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return statusNames[StatusUnknown]
	}
	return statusNames[s]
}

// Terminal reports whether the service will not update the task any further.
func (s Status) Terminal() bool {
	return s == StatusFinished || s == StatusFailed || s == StatusStopped
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText accepts the service's status names in any case. A name the
// client does not know decodes to StatusUnknown, which is not terminal.
func (s *Status) UnmarshalText(b []byte) error {
	name := strings.ToLower(string(b))
	for i, known := range statusNames {
		if known == name {
			*s = Status(i)
			return nil
		}
	}
	log.Warnf("unknown asking status %q", string(b))
	*s = StatusUnknown
	return nil
}

type Type string

const (
	TypeGeneral    Type = "GENERAL"
	TypeTextToSQL  Type = "TEXT_TO_SQL"
	TypeMisleading Type = "MISLEADING_QUERY"
)

// Candidate is one proposed answer attached to a finished task. A candidate
// backed by a saved view carries a non-zero ViewID.
type Candidate struct {
	Type     string `json:"type"`
	SQL      string `json:"sql"`
	ViewID   int    `json:"viewId,omitempty"`
	ViewName string `json:"viewName,omitempty"`
}

type TaskError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *TaskError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return e.Code + ": " + e.Message
}

// Task is a snapshot of a backend asking task.
type Task struct {
	QueryID           string      `json:"query_id"`
	Status            Status      `json:"status"`
	Type              Type        `json:"type"`
	Candidates        []Candidate `json:"response"`
	Error             *TaskError  `json:"error,omitempty"`
	RephrasedQuestion string      `json:"rephrased_question,omitempty"`
}

// History is the previous question and its chosen SQL, sent with the next
// ask so follow-up questions can build on it.
type History struct {
	Question string       `json:"question,omitempty"`
	SQL      string       `json:"sql"`
	Steps    []DetailStep `json:"steps,omitempty"`
}

type Timezone struct {
	Name      string `json:"name"`
	UTCOffset string `json:"utc_offset"`
}

// Configurations are the per-client answer preferences sent with every job.
type Configurations struct {
	Language string    `json:"language,omitempty"`
	Timezone *Timezone `json:"timezone,omitempty"`
}

// DetailStep is one stage of a broken-down SQL answer. Later steps refer to
// earlier ones by CTEName.
type DetailStep struct {
	SQL     string `json:"sql"`
	Summary string `json:"summary"`
	CTEName string `json:"cte_name"`
}

type Details struct {
	Description string       `json:"description"`
	Steps       []DetailStep `json:"steps"`
}

// StepSQL returns step i as a runnable statement, with the earlier steps
// prepended as common table expressions.
func (d *Details) StepSQL(i int) string {
	if i < 0 || i >= len(d.Steps) {
		return ""
	}
	var ctes []string
	for _, step := range d.Steps[:i] {
		if step.CTEName == "" {
			continue
		}
		ctes = append(ctes, fmt.Sprintf("%s AS ( %s )", step.CTEName, step.SQL))
	}
	if len(ctes) == 0 {
		return d.Steps[i].SQL
	}
	return "WITH " + strings.Join(ctes, ",\n") + "\n\n" + d.Steps[i].SQL
}

// DetailTask is a snapshot of an ask-details job.
type DetailTask struct {
	QueryID  string     `json:"query_id"`
	Status   Status     `json:"status"`
	Response *Details   `json:"response,omitempty"`
	Error    *TaskError `json:"error,omitempty"`
}

type RecommendedQuestion struct {
	Question string `json:"question"`
	Category string `json:"category"`
	SQL      string `json:"sql"`
}

type RecommendedQuestions struct {
	Status    Status                `json:"status"`
	Questions []RecommendedQuestion `json:"questions"`
	Error     *TaskError            `json:"error,omitempty"`
}
