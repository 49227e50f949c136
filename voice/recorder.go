package voice

import (
	"context"
	"sync"

	"askbox/audio"
)

type StopReason int

const (
	StopManual StopReason = iota
	StopSilence
	StopNoSpeech
	StopCancelled
)

func (r StopReason) String() string {
	switch r {
	case StopSilence:
		return "silence"
	case StopNoSpeech:
		return "no_speech"
	case StopCancelled:
		return "cancelled"
	default:
		return "manual"
	}
}

// record captures PCM until stop fires, ctx is done or the silence monitor
// ends the take. The capture is always stopped and its callback cleared
// before record returns.
func record(ctx context.Context, capture audio.CaptureDevice, stop <-chan struct{}, mon *silenceMonitor, events Events) ([]byte, StopReason, error) {
	var mu sync.Mutex
	var pcm []byte
	var stopped bool
	reason := StopManual

	done := make(chan struct{})
	var closeOnce sync.Once
	finish := func(r StopReason) {
		closeOnce.Do(func() {
			mu.Lock()
			reason = r
			mu.Unlock()
			close(done)
		})
	}

	capture.SetCallback(func(data []byte, _ uint32) {
		mu.Lock()
		if stopped {
			mu.Unlock()
			return
		}
		pcm = append(pcm, data...)
		ev, level := mon.Feed(data)
		mu.Unlock()

		events.AudioLevel(level)
		switch ev {
		case SilenceAutoStop:
			finish(StopSilence)
		case SilenceNoSpeech:
			finish(StopNoSpeech)
		}
	})

	cleanup := func() {
		capture.Stop()
		capture.ClearCallback()
		mu.Lock()
		stopped = true
		mu.Unlock()
	}

	if err := capture.Start(); err != nil {
		capture.ClearCallback()
		return nil, StopManual, err
	}

	select {
	case <-done:
	case <-stop:
		finish(StopManual)
	case <-ctx.Done():
		finish(StopCancelled)
	}
	cleanup()

	mu.Lock()
	defer mu.Unlock()
	return pcm, reason, nil
}
