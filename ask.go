package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"askbox/asking"
	"askbox/clipboard"
	"askbox/log"
	"askbox/process"
	"askbox/prompt"
	"askbox/shutdown"
)

type askOptions struct {
	pick int // 1-based candidate to select, 0 for none
	copy bool
}

// headless is the prompt's parent for the ask command. Submit records the
// question; run does the asking synchronously.
type headless struct {
	ctx    context.Context
	src    asking.Source
	out    io.Writer
	opts   askOptions
	cancel context.CancelFunc

	question   string
	queryID    string
	candidates []asking.Candidate
	interval   time.Duration
}

func (h *headless) OnSubmit(q string) { h.question = q }

// OnSelect runs the follow-up for the chosen candidate before returning,
// so the prompt stays in its generating state until the details are in.
func (h *headless) OnSelect(p prompt.SelectPayload) {
	sql := p.SQL
	if p.IsView() {
		fmt.Fprintf(h.out, "selected view #%d\n", p.ViewID)
		sql = viewSQL(h.candidates, p.ViewID)
	} else {
		fmt.Fprintf(h.out, "selected: %s\n", p.SQL)
	}
	if sql == "" {
		return
	}
	if h.opts.copy {
		if err := clipboard.Copy(sql); err != nil {
			fmt.Fprintf(h.out, "copy failed: %v\n", err)
		} else {
			fmt.Fprintln(h.out, "copied to clipboard")
		}
	}

	details, err := fetchDetails(h.ctx, h.src, p.Question, sql, h.interval)
	if err != nil {
		log.Warnf("ask details error: %v", err)
		fmt.Fprintf(h.out, "details unavailable: %v\n", err)
		return
	}
	printDetails(h.out, details)
}

func (h *headless) OnSelectQuestion(q asking.RecommendedQuestion) {
	fmt.Fprintf(h.out, "selected question: %s\n", q.Question)
}

func (h *headless) OnStop() {
	if h.queryID == "" {
		return
	}
	// the caller's context may already be done
	if err := h.src.Stop(context.Background(), h.queryID); err != nil {
		log.Errorf("stop error: %v", err)
	}
}

func (h *headless) OnStopPolling() {
	if h.cancel != nil {
		h.cancel()
	}
}

func (h *headless) OnStopStreaming() {}
func (h *headless) OnStopRecommend() {}

func runAsk(ctx context.Context, out io.Writer, d *deps, question string, opts askOptions) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	h := &headless{ctx: ctx, src: d.src, out: out, opts: opts, cancel: cancel, interval: pollInterval(d.cfg)}
	p := prompt.New(h)
	p.SetValue(question)
	p.Submit()
	if h.question == "" {
		return errors.New("empty question")
	}

	sigChan := make(chan os.Signal, 1)
	shutdown.Notify(sigChan)
	interrupted := make(chan struct{})
	go func() {
		select {
		case <-sigChan:
			close(interrupted)
			cancel()
		case <-ctx.Done():
		}
	}()

	id, err := d.src.Ask(ctx, h.question, nil)
	if err != nil {
		return fmt.Errorf("asking: %w", err)
	}
	h.queryID = id
	log.Question(id, h.question)

	last := p.State()
	final, err := asking.Poll(ctx, d.src, id, pollInterval(d.cfg), func(task *asking.Task) {
		p.SetProps(prompt.Props{OriginalQuestion: h.question, AskingTask: task})
		if s := p.State(); s != last {
			fmt.Fprintf(out, "%s...\n", s)
			log.TaskStatus(id, task.Status.String(), p.Tracker().Elapsed())
			last = s
		}
	})
	select {
	case <-interrupted:
		p.StopProcess()
		return errors.New("interrupted")
	default:
	}
	if err != nil && !errors.Is(err, asking.ErrTerminal) {
		return fmt.Errorf("polling: %w", err)
	}

	props := prompt.Props{OriginalQuestion: h.question, AskingTask: final}
	if final.Status == asking.StatusFinished && final.Type == asking.TypeGeneral {
		var answer []byte
		if err := d.src.Stream(ctx, id, func(chunk string) {
			answer = append(answer, chunk...)
			fmt.Fprint(out, chunk)
		}); err != nil {
			return fmt.Errorf("streaming: %w", err)
		}
		fmt.Fprintln(out)
		props.AskingStreamTask = string(answer)
	}
	p.SetProps(props)
	return report(ctx, out, d, h, p)
}

func report(ctx context.Context, out io.Writer, d *deps, h *headless, p *prompt.Prompt) error {
	res := p.Result()
	switch res.State {
	case process.Failed:
		msg := "failed"
		if res.Error != nil {
			msg = res.Error.Error()
		}
		return fmt.Errorf("question failed: %s", msg)

	case process.Idle:
		fmt.Fprintln(out, "stopped")
		return nil

	case process.NoResult:
		fmt.Fprintln(out, "no results")
		printRecommendations(ctx, out, d, h.question)
		return nil
	}

	if res.Type == asking.TypeMisleading {
		fmt.Fprintln(out, "this question does not seem to be about your data")
		printRecommendations(ctx, out, d, h.question)
		return nil
	}
	for i, c := range res.Candidates {
		label := ""
		if c.ViewID != 0 {
			label = " (view " + c.ViewName + ")"
		}
		fmt.Fprintf(out, "[%d]%s %s\n", i+1, label, c.SQL)
	}

	h.candidates = res.Candidates
	if h.opts.pick > 0 {
		if h.opts.pick > len(res.Candidates) {
			return fmt.Errorf("no candidate %d (have %d)", h.opts.pick, len(res.Candidates))
		}
		p.SelectResult(prompt.SelectionFor(res.Candidates[h.opts.pick-1], h.question))
	}
	return nil
}

func printRecommendations(ctx context.Context, out io.Writer, d *deps, question string) {
	id, err := d.src.Recommend(ctx, question)
	if err != nil {
		log.Warnf("recommendation error: %v", err)
		return
	}
	recs, err := asking.PollRecommendations(ctx, d.src, id, pollInterval(d.cfg))
	if err != nil {
		log.Warnf("recommendation error: %v", err)
		return
	}
	if len(recs.Questions) == 0 {
		return
	}
	fmt.Fprintln(out, "try instead:")
	for _, q := range recs.Questions {
		fmt.Fprintf(out, "  - %s\n", q.Question)
	}
}

func viewSQL(candidates []asking.Candidate, viewID int) string {
	for _, c := range candidates {
		if c.ViewID == viewID {
			return c.SQL
		}
	}
	return ""
}

// fetchDetails asks the service to explain sql step by step and waits for
// the answer.
func fetchDetails(ctx context.Context, src asking.Source, question, sql string, interval time.Duration) (*asking.Details, error) {
	id, err := src.Detail(ctx, question, sql)
	if err != nil {
		return nil, err
	}
	task, err := asking.PollDetails(ctx, src, id, interval)
	if err != nil {
		if task != nil && task.Error != nil {
			return nil, task.Error
		}
		return nil, err
	}
	return task.Response, nil
}

func printDetails(out io.Writer, d *asking.Details) {
	if d.Description != "" {
		fmt.Fprintf(out, "description: %s\n", d.Description)
	}
	for i, step := range d.Steps {
		fmt.Fprintf(out, "step %d: %s\n  %s\n", i+1, step.Summary, strings.ReplaceAll(d.StepSQL(i), "\n", "\n  "))
	}
}
