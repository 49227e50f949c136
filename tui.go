package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"askbox/asking"
	"askbox/beep"
	"askbox/clipboard"
	"askbox/log"
	"askbox/process"
	"askbox/prompt"
	"askbox/shutdown"
	"askbox/voice"
)

// TUI message types
type askedMsg struct {
	gen     int
	queryID string
	err     error
}
type taskMsg struct {
	gen  int
	task *asking.Task
	err  error
}
type pollTickMsg struct{ gen int }

// streamChunkMsg carries one chunk plus the command that waits for the
// next one.
type streamChunkMsg struct {
	gen   int
	chunk string
	next  tea.Cmd
}
type streamDoneMsg struct {
	gen int
	err error
}
type recommendMsg struct {
	gen  int
	recs *asking.RecommendedQuestions
	err  error
}
type detailMsg struct {
	gen     int
	details *asking.Details
	err     error
}
type stoppedMsg struct{ err error }
type voiceCmdMsg struct{ cmd prompt.Command }
type voiceDoneMsg struct{ err error }
type recordingMsg struct{ on bool }
type transcribingMsg struct{}
type levelMsg struct{ level float64 }

// model is the prompt's parent: it owns the asking task and feeds snapshots
// to the prompt. Parent callbacks queue commands in pending, which Update
// returns once the message is handled.
type model struct {
	ctx      context.Context
	src      asking.Source
	interval time.Duration
	prompt   *prompt.Prompt
	recorder *voice.Recorder
	beep     bool

	// send delivers messages from voice goroutines; set once the program
	// exists.
	send func(tea.Msg)

	input   textinput.Model
	spinner spinner.Model

	question string
	queryID  string
	task     *asking.Task
	stream   string
	recs     *asking.RecommendedQuestions
	loading  bool

	// history is sent with the next ask; it is set when a candidate is
	// picked. following is true while the picked SQL is being explained.
	history   *asking.History
	details   *asking.Details
	following bool

	// gen is bumped whenever in-flight work is abandoned; messages from an
	// older generation are dropped.
	gen          int
	pollCtx      context.Context
	pollCancel   context.CancelFunc
	streamCancel context.CancelFunc
	recCancel    context.CancelFunc
	detailGen    int
	detailCancel context.CancelFunc

	cursor       int
	picked       *prompt.SelectPayload
	status       string
	recording    bool
	transcribing bool
	recStop      chan struct{}
	level        float64
	asked        int
	width        int

	pending []tea.Cmd
}

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	stateStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	recStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	sqlStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("4"))
	cursorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("212")).Bold(true)
	answerStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	selectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	helpStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("239"))
	helpKeyStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("239")).Bold(true)
)

func newModel(ctx context.Context, d *deps) *model {
	in := textinput.New()
	in.Placeholder = d.voice.Placeholder
	if in.Placeholder == "" {
		in.Placeholder = "Ask a question about your data"
	}
	in.Prompt = "› "
	in.CharLimit = 0
	in.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("63"))

	m := &model{
		ctx:      ctx,
		src:      d.src,
		interval: pollInterval(d.cfg),
		input:    in,
		spinner:  sp,
		beep:     d.voice.Beep,
		send:     func(tea.Msg) {},
	}
	if d.audio != nil {
		m.recorder = voice.NewRecorder(d.audio, d.tr, d.voice, tuiEvents{m: m})
	}
	m.prompt = prompt.New(m)
	return m
}

func runTUI(ctx context.Context, d *deps) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m := newModel(ctx, d)
	p := tea.NewProgram(m)
	m.send = p.Send

	sigChan := make(chan os.Signal, 1)
	shutdown.Notify(sigChan)
	go func() {
		select {
		case <-sigChan:
			p.Quit()
		case <-ctx.Done():
		}
	}()

	_, err := p.Run()
	log.SessionEnd(m.asked)
	return err
}

// prompt.Parent

func (m *model) OnSubmit(question string) {
	m.abandon()
	m.question = question
	m.task = nil
	m.stream = ""
	m.recs = nil
	m.picked = nil
	m.details = nil
	m.status = ""
	m.cursor = 0
	m.loading = true
	m.asked++

	gen, src, ctx, history := m.gen, m.src, m.ctx, m.history
	m.queue(func() tea.Msg {
		id, err := src.Ask(ctx, question, history)
		return askedMsg{gen: gen, queryID: id, err: err}
	})
}

// OnSelect remembers the pick as history for the next question and asks
// the service to explain its SQL. The prompt closes right after this
// returns, so the follow-up keeps the parent loading on its own flag.
func (m *model) OnSelect(payload prompt.SelectPayload) {
	m.picked = &payload
	m.details = nil
	sql := payload.SQL
	if payload.IsView() {
		log.Info(fmt.Sprintf("selected view %d for %q", payload.ViewID, payload.Question))
		if m.task != nil {
			sql = viewSQL(m.task.Candidates, payload.ViewID)
		}
	} else {
		log.Info(fmt.Sprintf("selected sql for %q", payload.Question))
	}
	if sql == "" {
		return
	}
	m.history = &asking.History{Question: payload.Question, SQL: sql}

	ctx, cancel := context.WithCancel(m.ctx)
	m.detailCancel = cancel
	m.following = true
	gen, src, q, interval := m.detailGen, m.src, payload.Question, m.interval
	m.queue(func() tea.Msg {
		details, err := fetchDetails(ctx, src, q, sql, interval)
		return detailMsg{gen: gen, details: details, err: err}
	})
}

func (m *model) OnSelectQuestion(q asking.RecommendedQuestion) {
	m.picked = &prompt.SelectPayload{SQL: q.SQL, Question: q.Question}
	m.details = nil
	log.Info("selected recommended question: " + q.Question)
}

func (m *model) OnStop() {
	id := m.queryID
	m.abandon()
	m.queryID = ""
	m.loading = false
	if id == "" {
		return
	}
	src, ctx := m.src, m.ctx
	m.queue(func() tea.Msg {
		return stoppedMsg{err: src.Stop(ctx, id)}
	})
}

func (m *model) OnStopPolling() {
	if m.pollCancel != nil {
		m.pollCancel()
		m.pollCancel = nil
	}
	m.gen++
	m.task = nil
	m.queryID = ""
	m.loading = false
}

func (m *model) OnStopStreaming() {
	if m.streamCancel != nil {
		m.streamCancel()
		m.streamCancel = nil
	}
	m.stream = ""
}

func (m *model) OnStopRecommend() {
	if m.recCancel != nil {
		m.recCancel()
		m.recCancel = nil
	}
	m.recs = nil
	m.cursor = 0
}

// abandon cancels everything tied to the current question, including the
// explanation of a picked answer.
func (m *model) abandon() {
	m.gen++
	m.detailGen++
	for _, c := range []context.CancelFunc{m.pollCancel, m.streamCancel, m.recCancel, m.detailCancel} {
		if c != nil {
			c()
		}
	}
	m.pollCancel, m.streamCancel, m.recCancel, m.detailCancel = nil, nil, nil, nil
	m.following = false
}

// endPoll releases the polling context once the task has settled.
func (m *model) endPoll() {
	if m.pollCancel != nil {
		m.pollCancel()
		m.pollCancel = nil
	}
}

func (m *model) queue(cmd tea.Cmd) {
	m.pending = append(m.pending, cmd)
}

func (m *model) props() prompt.Props {
	return prompt.Props{
		OriginalQuestion:     m.question,
		AskingTask:           m.task,
		AskingStreamTask:     m.stream,
		RecommendedQuestions: m.recs,
		Loading:              m.loading || m.following,
	}
}

func (m *model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick)
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.input.Width = max(msg.Width-4, 10)

	case tea.KeyMsg:
		cmd = m.handleKey(msg)

	case spinner.TickMsg:
		m.spinner, cmd = m.spinner.Update(msg)

	case askedMsg:
		m.handleAsked(msg)

	case pollTickMsg:
		if msg.gen == m.gen && m.queryID != "" {
			m.fetch()
		}

	case taskMsg:
		m.handleTask(msg)

	case streamChunkMsg:
		if msg.gen == m.gen {
			m.stream += msg.chunk
			cmd = msg.next
		}

	case streamDoneMsg:
		if msg.gen == m.gen {
			m.streamCancel = nil
			if msg.err != nil && !errors.Is(msg.err, context.Canceled) {
				log.Errorf("stream error: %v", msg.err)
				m.status = "stream: " + msg.err.Error()
			}
		}

	case recommendMsg:
		if msg.gen == m.gen {
			m.recCancel = nil
			if msg.err != nil && !errors.Is(msg.err, context.Canceled) {
				log.Warnf("recommendation error: %v", msg.err)
			}
			if msg.recs != nil && len(msg.recs.Questions) > 0 {
				m.recs = msg.recs
				m.cursor = 0
			}
		}

	case detailMsg:
		if msg.gen == m.detailGen {
			m.following = false
			if m.detailCancel != nil {
				m.detailCancel()
				m.detailCancel = nil
			}
			switch {
			case msg.err != nil && !errors.Is(msg.err, context.Canceled):
				log.Warnf("ask details error: %v", msg.err)
				m.status = "details: " + msg.err.Error()
			case msg.details != nil:
				m.details = msg.details
				if m.history != nil {
					m.history.Steps = msg.details.Steps
				}
			}
		}

	case stoppedMsg:
		if msg.err != nil {
			log.Errorf("stop error: %v", msg.err)
			m.status = "stop: " + msg.err.Error()
		}

	case voiceCmdMsg:
		m.prompt.Handle(msg.cmd)

	case recordingMsg:
		m.recording = msg.on
		m.level = 0

	case transcribingMsg:
		m.transcribing = true

	case levelMsg:
		m.level = m.level*0.6 + msg.level*0.4

	case voiceDoneMsg:
		m.recording = false
		m.transcribing = false
		m.recStop = nil
		if msg.err != nil && !errors.Is(msg.err, context.Canceled) {
			m.status = "voice: " + msg.err.Error()
			if m.beep {
				beep.PlayError()
			}
		}
	}

	m.prompt.SetProps(m.props())
	if m.input.Value() != m.prompt.Value() {
		m.input.SetValue(m.prompt.Value())
	}

	if cmd != nil {
		m.pending = append(m.pending, cmd)
	}
	cmds := m.pending
	m.pending = nil
	return m, tea.Batch(cmds...)
}

func (m *model) handleKey(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "ctrl+c":
		m.abandon()
		m.stopRecording()
		return tea.Quit

	case "esc":
		if m.recording {
			m.stopRecording()
			return nil
		}
		if m.prompt.Processing() {
			m.prompt.StopProcess()
		} else {
			m.prompt.Close()
		}
		return nil

	case "enter":
		// with a list on screen and the question unchanged, enter picks
		text := strings.TrimSpace(m.input.Value())
		if m.listLen() > 0 && (text == "" || text == m.question) {
			m.selectCursor()
			return nil
		}
		m.prompt.SetValue(m.input.Value())
		m.prompt.Submit()
		return nil

	case "up":
		if m.cursor > 0 {
			m.cursor--
		}
		return nil

	case "down":
		if m.cursor < m.listLen()-1 {
			m.cursor++
		}
		return nil

	case "ctrl+r":
		m.toggleRecording()
		return nil

	case "ctrl+y":
		m.copyCandidate()
		return nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	m.prompt.SetValue(m.input.Value())
	return cmd
}

func (m *model) handleAsked(msg askedMsg) {
	if msg.gen != m.gen {
		return
	}
	m.loading = false
	if msg.err != nil {
		if errors.Is(msg.err, context.Canceled) {
			return
		}
		log.Errorf("ask error: %v", msg.err)
		m.task = &asking.Task{Status: asking.StatusFailed, Error: &asking.TaskError{Message: msg.err.Error()}}
		return
	}
	m.queryID = msg.queryID
	log.Question(msg.queryID, m.question)

	ctx, cancel := context.WithCancel(m.ctx)
	m.pollCancel = cancel
	m.pollCtx = ctx
	m.fetch()
}

// fetch requests one snapshot of the current task.
func (m *model) fetch() {
	gen, src, ctx, id := m.gen, m.src, m.pollCtx, m.queryID
	m.queue(func() tea.Msg {
		task, err := src.Result(ctx, id)
		return taskMsg{gen: gen, task: task, err: err}
	})
}

func (m *model) handleTask(msg taskMsg) {
	if msg.gen != m.gen {
		return
	}
	if msg.err != nil {
		if errors.Is(msg.err, context.Canceled) {
			return
		}
		log.Errorf("poll error: %v", msg.err)
		m.task = &asking.Task{QueryID: m.queryID, Status: asking.StatusFailed, Error: &asking.TaskError{Message: msg.err.Error()}}
		m.endPoll()
		return
	}

	m.task = msg.task
	log.TaskStatus(m.queryID, msg.task.Status.String(), m.prompt.Tracker().Elapsed())

	if !msg.task.Status.Terminal() {
		gen := m.gen
		m.queue(tea.Tick(m.interval, func(time.Time) tea.Msg { return pollTickMsg{gen: gen} }))
		return
	}
	m.endPoll()

	switch {
	case msg.task.Status == asking.StatusFinished && msg.task.Type == asking.TypeGeneral:
		m.startStream()
	case process.Derive(msg.task) == process.NoResult, msg.task.Type == asking.TypeMisleading:
		m.startRecommend()
	}
}

// startStream reads a GENERAL answer chunk by chunk. The goroutine feeds a
// channel that waitChunk drains one message at a time.
func (m *model) startStream() {
	ctx, cancel := context.WithCancel(m.ctx)
	m.streamCancel = cancel
	gen, src, id := m.gen, m.src, m.queryID

	chunks := make(chan string, 16)
	errc := make(chan error, 1)
	go func() {
		defer close(chunks)
		errc <- src.Stream(ctx, id, func(chunk string) {
			select {
			case chunks <- chunk:
			case <-ctx.Done():
			}
		})
	}()
	m.queue(waitChunk(gen, chunks, errc))
}

func waitChunk(gen int, chunks <-chan string, errc <-chan error) tea.Cmd {
	return func() tea.Msg {
		chunk, ok := <-chunks
		if !ok {
			return streamDoneMsg{gen: gen, err: <-errc}
		}
		return streamChunkMsg{gen: gen, chunk: chunk, next: waitChunk(gen, chunks, errc)}
	}
}

func (m *model) startRecommend() {
	ctx, cancel := context.WithCancel(m.ctx)
	m.recCancel = cancel
	gen, src, q, interval := m.gen, m.src, m.question, m.interval
	m.queue(func() tea.Msg {
		id, err := src.Recommend(ctx, q)
		if err != nil {
			return recommendMsg{gen: gen, err: err}
		}
		recs, err := asking.PollRecommendations(ctx, src, id, interval)
		return recommendMsg{gen: gen, recs: recs, err: err}
	})
}

func (m *model) candidates() []asking.Candidate {
	if m.prompt.State() != process.Finished {
		return nil
	}
	return m.prompt.Result().Candidates
}

func (m *model) recommended() []asking.RecommendedQuestion {
	return m.prompt.Result().RecommendedQuestions
}

func (m *model) listLen() int {
	if c := m.candidates(); len(c) > 0 {
		return len(c)
	}
	return len(m.recommended())
}

func (m *model) selectCursor() {
	if c := m.candidates(); len(c) > 0 {
		if m.cursor < len(c) {
			m.prompt.SelectResult(prompt.SelectionFor(c[m.cursor], m.question))
		}
		return
	}
	if r := m.recommended(); m.cursor < len(r) {
		m.prompt.SelectQuestion(r[m.cursor])
	}
}

func (m *model) copyCandidate() {
	c := m.candidates()
	if m.cursor >= len(c) {
		return
	}
	if err := clipboard.Copy(c[m.cursor].SQL); err != nil {
		m.status = "copy: " + err.Error()
		return
	}
	m.status = "SQL copied to clipboard"
}

func (m *model) toggleRecording() {
	if m.recording {
		m.stopRecording()
		return
	}
	if m.recorder == nil {
		m.status = "no microphone available"
		return
	}
	if m.prompt.Processing() || m.transcribing {
		return
	}
	m.recording = true
	m.status = ""
	stop := make(chan struct{})
	m.recStop = stop
	rec, ctx, send := m.recorder, m.ctx, m.send
	m.queue(func() tea.Msg {
		err := rec.Run(ctx, stop, func(c prompt.Command) { send(voiceCmdMsg{cmd: c}) })
		return voiceDoneMsg{err: err}
	})
}

func (m *model) stopRecording() {
	if m.recStop != nil {
		close(m.recStop)
		m.recStop = nil
	}
}

// tuiEvents forwards recorder progress into the program.
type tuiEvents struct{ m *model }

func (e tuiEvents) RecordingStart()                { e.m.send(recordingMsg{on: true}) }
func (e tuiEvents) RecordingStop(voice.StopReason) { e.m.send(recordingMsg{on: false}) }
func (e tuiEvents) AudioLevel(level float64)       { e.m.send(levelMsg{level: level}) }
func (e tuiEvents) Transcribing()                  { e.m.send(transcribingMsg{}) }

func (m *model) View() string {
	var b strings.Builder
	width := m.width
	if width <= 0 {
		width = 80
	}

	b.WriteString(titleStyle.Render("askbox") + "  " + m.stateLine() + "\n\n")
	b.WriteString(m.input.View() + "\n")
	if m.status != "" {
		b.WriteString(dimStyle.Render(m.status) + "\n")
	}
	b.WriteString("\n")

	res := m.prompt.Result()
	if m.task != nil && m.task.RephrasedQuestion != "" && m.task.RephrasedQuestion != m.question {
		b.WriteString(dimStyle.Render("Understood as: "+m.task.RephrasedQuestion) + "\n\n")
	}

	switch res.State {
	case process.Failed:
		msg := "The question could not be answered."
		if res.Error != nil {
			msg = res.Error.Message
		}
		b.WriteString(errorStyle.Render(msg) + "\n")
	case process.NoResult:
		b.WriteString(errorStyle.Render("No results for this question.") + "\n")
	case process.Finished:
		if res.Type == asking.TypeMisleading {
			b.WriteString(errorStyle.Render("This question does not seem to be about your data.") + "\n")
		}
		if res.Type == asking.TypeGeneral {
			for _, line := range wrapText(res.StreamAnswer, width-2) {
				b.WriteString(answerStyle.Render(line) + "\n")
			}
		}
		for i, c := range res.Candidates {
			b.WriteString(m.renderCandidate(i, c, width) + "\n")
		}
	}

	if len(res.RecommendedQuestions) > 0 && len(m.candidates()) == 0 {
		b.WriteString("\n" + dimStyle.Render("Try one of these:") + "\n")
		for i, q := range res.RecommendedQuestions {
			b.WriteString(m.marker(i) + q.Question + dimStyle.Render("  "+q.Category) + "\n")
		}
	}

	if m.picked != nil && res.State == process.Idle {
		b.WriteString(selectedStyle.Render(pickedText(*m.picked)) + "\n")
		if m.details != nil {
			b.WriteString(m.renderDetails(width))
		}
	}

	b.WriteString("\n" + m.helpLine() + "\n")
	return b.String()
}

func (m *model) stateLine() string {
	switch {
	case m.recording:
		bars := int(m.level * 200)
		return recStyle.Render("● REC ") + dimStyle.Render(strings.Repeat("▮", min(bars, 20)))
	case m.transcribing:
		return m.spinner.View() + stateStyle.Render(" transcribing")
	case m.prompt.Processing():
		state := m.prompt.State()
		label := state.String()
		switch {
		case m.following:
			label = "explaining"
		case state == process.Idle:
			label = "asking"
		}
		return m.spinner.View() + stateStyle.Render(fmt.Sprintf(" %s %.0fs", label, m.prompt.Tracker().Elapsed().Seconds()))
	default:
		return stateStyle.Render(m.prompt.State().String())
	}
}

func (m *model) marker(i int) string {
	if i == m.cursor {
		return cursorStyle.Render("› ")
	}
	return "  "
}

func (m *model) renderCandidate(i int, c asking.Candidate, width int) string {
	var b strings.Builder
	b.WriteString(m.marker(i))
	if c.ViewID != 0 {
		name := c.ViewName
		if name == "" {
			name = fmt.Sprintf("#%d", c.ViewID)
		}
		b.WriteString(dimStyle.Render("view "+name) + "\n  ")
	}
	lines := wrapText(c.SQL, width-4)
	for j, line := range lines {
		if j > 0 {
			b.WriteString("\n  ")
		}
		b.WriteString(sqlStyle.Render(line))
	}
	return b.String()
}

func (m *model) renderDetails(width int) string {
	var b strings.Builder
	if m.details.Description != "" {
		for _, line := range wrapText(m.details.Description, width-2) {
			b.WriteString(answerStyle.Render(line) + "\n")
		}
	}
	for i, step := range m.details.Steps {
		b.WriteString(dimStyle.Render(fmt.Sprintf("Step %d: ", i+1)) + step.Summary + "\n")
		for _, line := range wrapText(m.details.StepSQL(i), width-4) {
			b.WriteString("  " + sqlStyle.Render(line) + "\n")
		}
	}
	return b.String()
}

func pickedText(p prompt.SelectPayload) string {
	if p.IsView() {
		return fmt.Sprintf("✓ view #%d selected for %q", p.ViewID, p.Question)
	}
	if p.SQL == "" {
		return fmt.Sprintf("✓ %s", p.Question)
	}
	return fmt.Sprintf("✓ %s\n  %s", p.Question, p.SQL)
}

func (m *model) helpLine() string {
	keys := []struct{ key, desc string }{
		{"enter", "ask/select"},
		{"↑/↓", "choose"},
		{"ctrl+r", "speak"},
		{"ctrl+y", "copy SQL"},
		{"esc", "stop/close"},
		{"ctrl+c", "quit"},
	}
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = helpKeyStyle.Render(k.key) + helpStyle.Render(" "+k.desc)
	}
	return strings.Join(parts, helpStyle.Render(" · "))
}

// wrapText breaks text into lines of at most width terminal cells, at
// spaces where it can and inside long words where it must.
func wrapText(text string, width int) []string {
	if text == "" {
		return nil
	}
	width = max(width, 1)
	lines := strings.Split(ansi.Wrap(text, width, ""), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " ")
	}
	return lines
}
