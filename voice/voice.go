// Package voice turns a spoken question into prompt commands: it records
// from the microphone until the speaker falls silent, uploads the clip for
// transcription and fills the prompt with the result.
package voice

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"askbox/audio"
	"askbox/beep"
	"askbox/encoder"
	"askbox/log"
	"askbox/prompt"
	"askbox/transcriber"
)

// minClipFrames is 100ms; shorter takes are treated as empty.
const minClipFrames = encoder.SampleRate / 10

type Config struct {
	Device           *audio.DeviceInfo
	Format           string
	SilenceThreshold float64
	SilenceHold      time.Duration
	MaxWait          time.Duration
	Placeholder      string
	AutoSubmit       bool
	Beep             bool
	Gain             int
}

// Events receives progress for display. Calls come from the capture
// goroutine.
type Events interface {
	RecordingStart()
	RecordingStop(reason StopReason)
	AudioLevel(level float64)
	Transcribing()
}

type nopEvents struct{}

func (nopEvents) RecordingStart()          {}
func (nopEvents) RecordingStop(StopReason) {}
func (nopEvents) AudioLevel(float64)       {}
func (nopEvents) Transcribing()            {}

type Recorder struct {
	audio       audio.Context
	transcriber transcriber.Transcriber
	cfg         Config
	events      Events
}

func NewRecorder(ctx audio.Context, t transcriber.Transcriber, cfg Config, events Events) *Recorder {
	if cfg.SilenceThreshold <= 0 {
		cfg.SilenceThreshold = defaultSilenceThreshold
	}
	if cfg.SilenceHold <= 0 {
		cfg.SilenceHold = defaultSilenceHold
	}
	if cfg.MaxWait < 0 {
		cfg.MaxWait = defaultMaxWait
	}
	if events == nil {
		events = nopEvents{}
	}
	return &Recorder{audio: ctx, transcriber: t, cfg: cfg, events: events}
}

// Run records one question and sends the resulting commands to send. A
// non-empty transcription becomes SetText followed by Submit (unless auto
// submit is off); an empty one resets the text to the placeholder.
// Failures are logged and returned but never sent to the prompt.
func (r *Recorder) Run(ctx context.Context, stop <-chan struct{}, send func(prompt.Command)) error {
	capture, err := r.audio.NewCapture(r.cfg.Device, audio.CaptureConfig{
		SampleRate: encoder.SampleRate,
		Channels:   encoder.Channels,
		Gain:       r.cfg.Gain,
	})
	if err != nil {
		log.Errorf("capture init error: %v", err)
		return fmt.Errorf("opening microphone: %w", err)
	}
	defer capture.Close()

	log.Info("recording_device: " + capture.DeviceName())
	r.events.RecordingStart()
	if r.cfg.Beep {
		beep.PlayStart()
	}

	mon := newSilenceMonitor(r.cfg.SilenceThreshold, r.cfg.SilenceHold, r.cfg.MaxWait)
	pcm, reason, err := record(ctx, capture, stop, mon, r.events)
	r.events.RecordingStop(reason)
	if r.cfg.Beep {
		beep.PlayEnd()
	}
	if err != nil {
		log.Errorf("recording error: %v", err)
		return fmt.Errorf("recording: %w", err)
	}
	log.Info("recording_stop: " + reason.String())
	if reason == StopCancelled {
		return ctx.Err()
	}

	frames := len(pcm) / 2
	if frames < minClipFrames || reason == StopNoSpeech {
		send(prompt.SetText{Text: r.cfg.Placeholder})
		return nil
	}

	clip, err := r.encode(pcm)
	if err != nil {
		log.Errorf("encode error: %v", err)
		return fmt.Errorf("encoding clip: %w", err)
	}

	r.events.Transcribing()
	start := time.Now()
	res, err := r.transcriber.Transcribe(ctx, clip)
	if err != nil {
		log.Errorf("transcription error: %v", err)
		return fmt.Errorf("transcribing: %w", err)
	}
	log.Transcription(log.TranscriptionData{
		Provider:  r.transcriber.Name(),
		Format:    clip.Format,
		RequestID: res.RequestID,
		AudioS:    float64(frames) / encoder.SampleRate,
		ClipKB:    float64(len(clip.Data)) / 1024,
		TotalMs:   float64(time.Since(start).Milliseconds()),
		Metrics:   res.Metrics,
		HasText:   res.HasText,
	})

	if !res.HasText {
		send(prompt.SetText{Text: r.cfg.Placeholder})
		return nil
	}
	send(prompt.SetText{Text: res.Text})
	if r.cfg.AutoSubmit {
		send(prompt.Submit{})
	}
	return nil
}

func (r *Recorder) encode(pcm []byte) (transcriber.Clip, error) {
	enc, err := encoder.New(r.cfg.Format)
	if err != nil {
		return transcriber.Clip{}, err
	}
	start := time.Now()
	block := make([]int16, 0, encoder.BlockSize)
	for i := 0; i+1 < len(pcm); i += 2 {
		block = append(block, int16(binary.LittleEndian.Uint16(pcm[i:])))
		if len(block) == encoder.BlockSize {
			if err := enc.EncodeBlock(block); err != nil {
				return transcriber.Clip{}, err
			}
			block = block[:0]
		}
	}
	if len(block) > 0 {
		if err := enc.EncodeBlock(block); err != nil {
			return transcriber.Clip{}, err
		}
	}
	if err := enc.Close(); err != nil {
		return transcriber.Clip{}, err
	}
	enc.AddEncodeTime(time.Since(start))

	format := r.cfg.Format
	if format == "" {
		format = encoder.FormatWAV
	}
	return transcriber.Clip{Data: enc.Bytes(), Format: format}, nil
}
