package transcriber

import (
	"context"
	"fmt"
	"sync"
)

type FakeTranscriber struct {
	text string
	err  error

	mu    sync.Mutex
	clips []Clip
}

func NewFake(text string, err error) *FakeTranscriber {
	return &FakeTranscriber{text: text, err: err}
}

func (f *FakeTranscriber) Name() string { return "fake" }

func (f *FakeTranscriber) Transcribe(ctx context.Context, clip Clip) (Result, error) {
	f.mu.Lock()
	f.clips = append(f.clips, clip)
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if f.err != nil {
		return Result{}, fmt.Errorf("fake transcriber error: %w", f.err)
	}
	return Result{
		Text:    f.text,
		HasText: f.text != "",
		Metrics: &NetworkMetrics{},
	}, nil
}

// Clips returns every clip received so far.
func (f *FakeTranscriber) Clips() []Clip {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Clip(nil), f.clips...)
}
