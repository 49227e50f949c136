// Package prompt implements the question prompt: input text, the local
// process state and the relay between the asking task and the parent.
//
// The parent owns the asking task and passes snapshots in through SetProps.
// User actions flow back out through the Parent callbacks. Instead of
// calling into the prompt directly, other goroutines send Command values
// (SetText, Submit, Close) that the owner applies with Handle on its update
// path.
package prompt

import (
	"strings"

	"askbox/asking"
	"askbox/process"
)

// Parent receives the prompt's outbound actions.
type Parent interface {
	OnSubmit(question string)
	OnSelect(payload SelectPayload)
	OnSelectQuestion(q asking.RecommendedQuestion)
	OnStop()
	OnStopPolling()
	OnStopStreaming()
	OnStopRecommend()
}

// Props is the data the parent passes down on every update.
type Props struct {
	OriginalQuestion     string
	AskingTask           *asking.Task
	AskingStreamTask     string
	RecommendedQuestions *asking.RecommendedQuestions
	Loading              bool
}

type Prompt struct {
	parent  Parent
	tracker *process.Tracker
	value   string
	props   Props
}

func New(parent Parent) *Prompt {
	return &Prompt{parent: parent, tracker: process.NewTracker()}
}

func (p *Prompt) Value() string { return p.value }

func (p *Prompt) State() process.State { return p.tracker.Current() }

func (p *Prompt) Tracker() *process.Tracker { return p.tracker }

// Processing is true while a question is in flight or the parent is loading.
func (p *Prompt) Processing() bool {
	return p.tracker.IsProcessing() || p.props.Loading
}

func (p *Prompt) SetValue(text string) {
	p.value = text
}

// Submit hands the trimmed input to the parent. Empty input and submits
// while processing are ignored.
func (p *Prompt) Submit() {
	question := strings.TrimSpace(p.value)
	if p.Processing() || question == "" {
		return
	}
	p.tracker.Set(process.Understanding)
	p.parent.OnSubmit(question)
}

// Close returns the prompt to idle and asks the parent to stop any
// polling, streaming and recommendation work.
func (p *Prompt) Close() {
	p.tracker.Reset()
	p.value = ""
	p.parent.OnStopPolling()
	p.parent.OnStopStreaming()
	p.parent.OnStopRecommend()
}

// StopProcess cancels the in-flight task.
func (p *Prompt) StopProcess() {
	p.tracker.Reset()
	p.parent.OnStop()
}

// SelectResult forwards a chosen candidate. The state shows Generating while
// the parent's follow-up runs, then the prompt closes.
func (p *Prompt) SelectResult(sel Selection) {
	payload, ok := buildPayload(sel)
	if !ok {
		return
	}
	p.tracker.Set(process.Generating)
	p.parent.OnSelect(payload)
	p.Close()
}

func (p *Prompt) SelectQuestion(q asking.RecommendedQuestion) {
	p.parent.OnSelectQuestion(q)
	p.Close()
}

// SetProps stores a new snapshot from the parent. A changed task is mapped
// onto the local state; an unchanged one is left alone so exit actions are
// not undone by a stale snapshot.
func (p *Prompt) SetProps(props Props) {
	changed := props.AskingTask != p.props.AskingTask
	p.props = props
	if changed {
		p.tracker.Sync(props.AskingTask)
	}
}

// Result bundles what the result view needs for the current snapshot.
func (p *Prompt) Result() ResultBundle {
	b := ResultBundle{
		State:            p.tracker.Current(),
		OriginalQuestion: p.props.OriginalQuestion,
		StreamAnswer:     p.props.AskingStreamTask,
	}
	if task := p.props.AskingTask; task != nil {
		b.Type = task.Type
		b.Candidates = task.Candidates
		b.Error = task.Error
	}
	if rq := p.props.RecommendedQuestions; rq != nil {
		b.RecommendedQuestions = rq.Questions
	}
	return b
}
