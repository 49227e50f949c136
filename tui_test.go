package main

import (
	"context"
	"encoding/binary"
	"math"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/x/ansi"

	"askbox/asking"
	"askbox/audio"
	"askbox/encoder"
	"askbox/process"
	"askbox/prompt"
	"askbox/transcriber"
	"askbox/voice"
)

// harness runs commands synchronously and feeds their messages back into
// the model, the way the program loop would. Only askbox messages are fed
// back so cursor blinks do not loop forever.
type harness struct {
	t    *testing.T
	m    *model
	sent chan tea.Msg
}

func newHarness(t *testing.T, d *deps) *harness {
	t.Helper()
	h := &harness{t: t, m: newModel(context.Background(), d), sent: make(chan tea.Msg, 4096)}
	h.m.send = func(msg tea.Msg) { h.sent <- msg }
	return h
}

func (h *harness) do(msg tea.Msg) {
	h.t.Helper()
	queue := []tea.Msg{msg}
	for steps := 0; len(queue) > 0; steps++ {
		if steps > 10000 {
			h.t.Fatal("message loop did not settle")
		}
		next := queue[0]
		queue = queue[1:]
		_, cmd := h.m.Update(next)
		msgs := collect(cmd)
		// messages sent while a command ran arrive before its result
	drain:
		for {
			select {
			case s := <-h.sent:
				queue = append(queue, s)
			default:
				break drain
			}
		}
		queue = append(queue, msgs...)
	}
}

func collect(cmd tea.Cmd) []tea.Msg {
	if cmd == nil {
		return nil
	}
	switch msg := cmd().(type) {
	case tea.BatchMsg:
		var out []tea.Msg
		for _, c := range msg {
			out = append(out, collect(c)...)
		}
		return out
	case askedMsg, taskMsg, pollTickMsg, streamChunkMsg, streamDoneMsg, recommendMsg, detailMsg, stoppedMsg,
		voiceCmdMsg, voiceDoneMsg, recordingMsg, transcribingMsg, levelMsg:
		return []tea.Msg{msg}
	default:
		return nil
	}
}

func (h *harness) ask(question string) {
	h.t.Helper()
	h.do(voiceCmdMsg{cmd: prompt.SetText{Text: question}})
	h.do(tea.KeyMsg{Type: tea.KeyEnter})
}

func TestTUIAskAndSelectView(t *testing.T) {
	h := newHarness(t, testDeps(offlineSource()))
	h.ask("orders per month")

	m := h.m
	if m.prompt.State() != process.Finished {
		t.Fatalf("State = %v, want finished", m.prompt.State())
	}
	if got := len(m.candidates()); got != 2 {
		t.Fatalf("candidates = %d, want 2", got)
	}
	if !strings.Contains(m.View(), "monthly_orders") {
		t.Errorf("view missing candidate:\n%s", m.View())
	}

	h.do(tea.KeyMsg{Type: tea.KeyDown})
	h.do(tea.KeyMsg{Type: tea.KeyEnter})

	if m.picked == nil || !m.picked.IsView() || m.picked.ViewID != 1 {
		t.Fatalf("picked = %+v, want view 1", m.picked)
	}
	if m.prompt.State() != process.Idle || m.input.Value() != "" {
		t.Errorf("after select: state=%v input=%q", m.prompt.State(), m.input.Value())
	}
	if m.task != nil {
		t.Error("task should be dropped after close")
	}
	if m.following || m.details == nil || len(m.details.Steps) != 1 {
		t.Fatalf("following=%v details=%+v", m.following, m.details)
	}
	if !strings.Contains(m.View(), "Step 1:") {
		t.Errorf("view missing details:\n%s", m.View())
	}
}

func TestTUIPickedAnswerBecomesHistory(t *testing.T) {
	src := offlineSource()
	h := newHarness(t, testDeps(src))
	h.ask("orders per month")
	h.do(tea.KeyMsg{Type: tea.KeyEnter})
	h.ask("and per week?")

	histories := src.Histories()
	if len(histories) != 2 || histories[0] != nil {
		t.Fatalf("histories = %+v", histories)
	}
	got := histories[1]
	if got == nil || got.Question != "orders per month" || !strings.HasPrefix(got.SQL, "SELECT date_trunc") {
		t.Fatalf("history = %+v", got)
	}
	if len(got.Steps) != 1 {
		t.Errorf("history steps = %+v", got.Steps)
	}
	if h.m.details != nil {
		t.Error("details should be cleared by the next question")
	}
}

func TestTUIFollowUpKeepsLoadingUntilExplained(t *testing.T) {
	h := newHarness(t, testDeps(offlineSource()))
	h.ask("orders per month")

	m := h.m
	m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if !m.following || !m.prompt.Processing() {
		t.Fatalf("following=%v processing=%v, want busy during follow-up", m.following, m.prompt.Processing())
	}
	if !strings.Contains(m.stateLine(), "explaining") {
		t.Errorf("state line = %q", m.stateLine())
	}

	m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	if m.following || m.prompt.Processing() {
		t.Errorf("esc should cancel the follow-up")
	}
	// a late answer from the cancelled follow-up is ignored
	m.Update(detailMsg{gen: m.detailGen - 1, details: &asking.Details{Description: "late"}})
	if m.details != nil {
		t.Errorf("details = %+v, want nil", m.details)
	}
}

func TestTUIFinishedTaskReleasesPollContext(t *testing.T) {
	h := newHarness(t, testDeps(offlineSource()))
	h.ask("orders per month")
	if h.m.pollCtx == nil || h.m.pollCtx.Err() == nil {
		t.Error("poll context still live after the task finished")
	}
	if h.m.pollCancel != nil {
		t.Error("pollCancel not cleared")
	}
}

func TestTUIGeneralAnswerStreams(t *testing.T) {
	src := asking.NewFake(asking.TypeGeneral, nil)
	src.Answer = "Revenue lives in the payments table."
	h := newHarness(t, testDeps(src))
	h.ask("where is revenue")

	res := h.m.prompt.Result()
	if res.State != process.Finished || res.Type != asking.TypeGeneral {
		t.Fatalf("result = %+v", res)
	}
	if strings.TrimSpace(res.StreamAnswer) != "Revenue lives in the payments table." {
		t.Errorf("StreamAnswer = %q", res.StreamAnswer)
	}
}

func TestTUINoResultOffersRecommendations(t *testing.T) {
	src := asking.NewFake(asking.TypeTextToSQL, nil)
	src.Recommended = []asking.RecommendedQuestion{
		{Question: "Orders per day?", Category: "trend"},
		{Question: "Top customers?", Category: "ranking", SQL: "select 1"},
	}
	h := newHarness(t, testDeps(src))
	h.ask("orders yesterday")

	m := h.m
	if m.prompt.State() != process.NoResult {
		t.Fatalf("State = %v, want no_result", m.prompt.State())
	}
	if len(m.recommended()) != 2 {
		t.Fatalf("recommended = %+v", m.recommended())
	}

	h.do(tea.KeyMsg{Type: tea.KeyDown})
	h.do(tea.KeyMsg{Type: tea.KeyEnter})
	if m.picked == nil || m.picked.Question != "Top customers?" || m.picked.SQL != "select 1" {
		t.Errorf("picked = %+v", m.picked)
	}
	if m.recs != nil {
		t.Error("recommendations should be cleared after close")
	}
}

func TestTUIFailedShowsError(t *testing.T) {
	src := asking.NewFake(asking.TypeTextToSQL, nil)
	src.Err = &asking.TaskError{Code: "NO_RELEVANT_DATA", Message: "nothing relevant found"}
	h := newHarness(t, testDeps(src))
	h.ask("weather")

	if h.m.prompt.State() != process.Failed {
		t.Fatalf("State = %v, want failed", h.m.prompt.State())
	}
	if !strings.Contains(h.m.View(), "nothing relevant found") {
		t.Errorf("view missing error:\n%s", h.m.View())
	}
}

func TestTUIStopWhileProcessing(t *testing.T) {
	src := offlineSource()
	h := newHarness(t, testDeps(src))
	m := h.m

	h.do(voiceCmdMsg{cmd: prompt.SetText{Text: "slow question"}})
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	msgs := collect(cmd)
	if len(msgs) != 1 {
		t.Fatalf("expected one ask message, got %v", msgs)
	}
	asked := msgs[0].(askedMsg)
	m.Update(asked) // fetch queued but not run
	if !m.prompt.Processing() {
		t.Fatal("expected processing after ask")
	}

	h.do(tea.KeyMsg{Type: tea.KeyEsc})
	if m.prompt.State() != process.Idle || m.loading {
		t.Errorf("after esc: state=%v loading=%v", m.prompt.State(), m.loading)
	}
	task, err := src.Result(context.Background(), asked.queryID)
	if err != nil {
		t.Fatal(err)
	}
	if task.Status != asking.StatusStopped {
		t.Errorf("backend status = %v, want stopped", task.Status)
	}

	// a late snapshot from the abandoned poll is ignored
	m.Update(taskMsg{gen: asked.gen, task: &asking.Task{Status: asking.StatusSearching}})
	if m.prompt.State() != process.Idle {
		t.Errorf("stale snapshot changed state to %v", m.prompt.State())
	}
}

func TestTUISubmitIgnoredWhileProcessing(t *testing.T) {
	h := newHarness(t, testDeps(offlineSource()))
	m := h.m
	h.do(voiceCmdMsg{cmd: prompt.SetText{Text: "first"}})
	m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	h.do(voiceCmdMsg{cmd: prompt.SetText{Text: "second"}})
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if msgs := collect(cmd); len(msgs) != 0 {
		t.Errorf("second submit produced %v", msgs)
	}
	if m.asked != 1 {
		t.Errorf("asked = %d, want 1", m.asked)
	}
}

func TestTUIVoiceQuestion(t *testing.T) {
	n := encoder.SampleRate / 2
	pcm := make([]byte, n*2)
	for i := 0; i < n; i++ {
		s := int16(0.3 * 32767 * math.Sin(2*math.Pi*440*float64(i)/encoder.SampleRate))
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
	}
	d := testDeps(offlineSource())
	d.audio = audio.NewFakeContext(pcm, false)
	d.tr = transcriber.NewFake("orders per month", nil)
	d.voice = voice.Config{Format: encoder.FormatWAV, AutoSubmit: true}

	h := newHarness(t, d)
	h.do(tea.KeyMsg{Type: tea.KeyCtrlR})

	m := h.m
	if m.recording || m.transcribing {
		t.Errorf("recording=%v transcribing=%v after run", m.recording, m.transcribing)
	}
	if m.question != "orders per month" {
		t.Errorf("question = %q", m.question)
	}
	if m.prompt.State() != process.Finished {
		t.Errorf("State = %v, want finished", m.prompt.State())
	}
}

func TestTUIVoiceWithoutMicrophone(t *testing.T) {
	h := newHarness(t, testDeps(offlineSource()))
	h.do(tea.KeyMsg{Type: tea.KeyCtrlR})
	if h.m.status != "no microphone available" {
		t.Errorf("status = %q", h.m.status)
	}
}

func TestWrapText(t *testing.T) {
	got := wrapText("select a from b where c", 10)
	want := []string{"select a", "from b", "where c"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("wrapText = %q, want %q", got, want)
	}
	if wrapText("", 10) != nil {
		t.Error("empty text should give no lines")
	}
	if got := wrapText("a\nb", 10); len(got) != 2 {
		t.Errorf("newline split = %q", got)
	}
}

func TestWrapTextMultibyte(t *testing.T) {
	in := "每个月的订单数量是多少"
	got := wrapText(in, 10)
	if len(got) < 2 {
		t.Fatalf("wrapText = %q, want several lines", got)
	}
	for _, line := range got {
		if !utf8.ValidString(line) {
			t.Errorf("line %q is not valid UTF-8", line)
		}
		if w := ansi.StringWidth(line); w > 10 {
			t.Errorf("line %q is %d cells wide", line, w)
		}
	}
	if strings.Join(got, "") != in {
		t.Errorf("wrapped text lost characters: %q", got)
	}

	mixed := wrapText("Umsätze für Köln und Zürich", 12)
	for _, line := range mixed {
		if !utf8.ValidString(line) || ansi.StringWidth(line) > 12 {
			t.Errorf("bad line %q", line)
		}
	}
	if strings.Join(mixed, " ") != "Umsätze für Köln und Zürich" {
		t.Errorf("wrapText = %q", mixed)
	}
}

func TestPollTickInterval(t *testing.T) {
	d := testDeps(offlineSource())
	if got := newModel(context.Background(), d).interval; got != time.Millisecond {
		t.Errorf("interval = %v", got)
	}
}
