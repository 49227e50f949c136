package voice

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"math"
	"reflect"
	"testing"
	"time"

	"askbox/audio"
	"askbox/encoder"
	"askbox/prompt"
	"askbox/transcriber"
)

// speech returns d of a 440 Hz tone at 30% amplitude.
func speech(d time.Duration) []byte {
	n := int(d.Seconds() * encoder.SampleRate)
	buf := make([]byte, n*2)
	for i := 0; i < n; i++ {
		s := int16(0.3 * 32767 * math.Sin(2*math.Pi*440*float64(i)/encoder.SampleRate))
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

type collected struct {
	cmds []prompt.Command
}

func (c *collected) send(cmd prompt.Command) { c.cmds = append(c.cmds, cmd) }

type countingEvents struct {
	starts, stops, transcribing int
	reason                      StopReason
	levels                      int
}

func (e *countingEvents) RecordingStart()            { e.starts++ }
func (e *countingEvents) RecordingStop(r StopReason) { e.stops++; e.reason = r }
func (e *countingEvents) AudioLevel(float64)         { e.levels++ }
func (e *countingEvents) Transcribing()              { e.transcribing++ }

func testConfig() Config {
	return Config{
		Format:      encoder.FormatWAV,
		Placeholder: "Ask a question",
		AutoSubmit:  true,
	}
}

func TestRunTranscribesAndSubmits(t *testing.T) {
	actx := audio.NewFakeContext(speech(500*time.Millisecond), false)
	tr := transcriber.NewFake("top customers by revenue", nil)
	events := &countingEvents{}
	r := NewRecorder(actx, tr, testConfig(), events)

	var out collected
	if err := r.Run(context.Background(), nil, out.send); err != nil {
		t.Fatal(err)
	}

	want := []prompt.Command{prompt.SetText{Text: "top customers by revenue"}, prompt.Submit{}}
	if !reflect.DeepEqual(out.cmds, want) {
		t.Errorf("commands = %#v, want %#v", out.cmds, want)
	}
	if events.reason != StopSilence {
		t.Errorf("stop reason = %v, want silence", events.reason)
	}
	if events.starts != 1 || events.stops != 1 || events.transcribing != 1 || events.levels == 0 {
		t.Errorf("events = %+v", events)
	}

	clips := tr.Clips()
	if len(clips) != 1 {
		t.Fatalf("got %d clips, want 1", len(clips))
	}
	if clips[0].Format != encoder.FormatWAV || !bytes.HasPrefix(clips[0].Data, []byte("RIFF")) {
		t.Errorf("clip format=%q prefix=%q", clips[0].Format, clips[0].Data[:4])
	}

	c := actx.Last()
	if c.Stops() == 0 || c.Callback() {
		t.Errorf("capture not cleaned up: stops=%d callback=%v", c.Stops(), c.Callback())
	}
}

func TestRunWithoutAutoSubmit(t *testing.T) {
	cfg := testConfig()
	cfg.AutoSubmit = false
	r := NewRecorder(audio.NewFakeContext(speech(300*time.Millisecond), false), transcriber.NewFake("orders today", nil), cfg, nil)

	var out collected
	if err := r.Run(context.Background(), nil, out.send); err != nil {
		t.Fatal(err)
	}
	want := []prompt.Command{prompt.SetText{Text: "orders today"}}
	if !reflect.DeepEqual(out.cmds, want) {
		t.Errorf("commands = %#v, want %#v", out.cmds, want)
	}
}

func TestRunEmptyTranscriptionSetsPlaceholder(t *testing.T) {
	r := NewRecorder(audio.NewFakeContext(speech(300*time.Millisecond), false), transcriber.NewFake("", nil), testConfig(), nil)

	var out collected
	if err := r.Run(context.Background(), nil, out.send); err != nil {
		t.Fatal(err)
	}
	want := []prompt.Command{prompt.SetText{Text: "Ask a question"}}
	if !reflect.DeepEqual(out.cmds, want) {
		t.Errorf("commands = %#v, want %#v", out.cmds, want)
	}
}

func TestRunNoSpeechSkipsTranscription(t *testing.T) {
	cfg := testConfig()
	cfg.MaxWait = time.Second
	tr := transcriber.NewFake("never", nil)
	events := &countingEvents{}
	r := NewRecorder(audio.NewFakeContext(nil, false), tr, cfg, events)

	var out collected
	if err := r.Run(context.Background(), nil, out.send); err != nil {
		t.Fatal(err)
	}
	if len(tr.Clips()) != 0 {
		t.Errorf("transcriber called %d times, want 0", len(tr.Clips()))
	}
	if events.reason != StopNoSpeech {
		t.Errorf("stop reason = %v, want no_speech", events.reason)
	}
	want := []prompt.Command{prompt.SetText{Text: "Ask a question"}}
	if !reflect.DeepEqual(out.cmds, want) {
		t.Errorf("commands = %#v, want %#v", out.cmds, want)
	}
}

func TestRunTranscriptionErrorSendsNothing(t *testing.T) {
	boom := errors.New("upstream down")
	actx := audio.NewFakeContext(speech(300*time.Millisecond), false)
	r := NewRecorder(actx, transcriber.NewFake("", boom), testConfig(), nil)

	var out collected
	err := r.Run(context.Background(), nil, out.send)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapping %v", err, boom)
	}
	if len(out.cmds) != 0 {
		t.Errorf("commands = %#v, want none", out.cmds)
	}
	if actx.Last().Callback() {
		t.Error("callback still installed after failure")
	}
}

func TestRunCancelled(t *testing.T) {
	cfg := testConfig()
	cfg.SilenceHold = time.Hour
	cfg.MaxWait = 0
	actx := audio.NewFakeContext(speech(100*time.Millisecond), false)
	tr := transcriber.NewFake("x", nil)
	r := NewRecorder(actx, tr, cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out collected
	if err := r.Run(ctx, nil, out.send); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(out.cmds) != 0 || len(tr.Clips()) != 0 {
		t.Errorf("cancelled run produced commands=%v clips=%d", out.cmds, len(tr.Clips()))
	}
	if c := actx.Last(); c.Stops() != 1 || c.Callback() {
		t.Errorf("capture not cleaned up: stops=%d callback=%v", c.Stops(), c.Callback())
	}
}

func TestRunManualStop(t *testing.T) {
	cfg := testConfig()
	cfg.SilenceHold = time.Hour
	cfg.MaxWait = 0
	actx := audio.NewFakeContext(speech(200*time.Millisecond), true)
	tr := transcriber.NewFake("stopped by key", nil)
	events := &countingEvents{}
	r := NewRecorder(actx, tr, cfg, events)

	stop := make(chan struct{})
	go func() {
		time.Sleep(400 * time.Millisecond)
		close(stop)
	}()

	var out collected
	if err := r.Run(context.Background(), stop, out.send); err != nil {
		t.Fatal(err)
	}
	if events.reason != StopManual {
		t.Errorf("stop reason = %v, want manual", events.reason)
	}
	want := []prompt.Command{prompt.SetText{Text: "stopped by key"}, prompt.Submit{}}
	if !reflect.DeepEqual(out.cmds, want) {
		t.Errorf("commands = %#v, want %#v", out.cmds, want)
	}
}

func TestEncodeFLAC(t *testing.T) {
	cfg := testConfig()
	cfg.Format = encoder.FormatFLAC
	r := NewRecorder(nil, nil, cfg, nil)
	clip, err := r.encode(speech(300 * time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	if clip.Format != encoder.FormatFLAC || !bytes.HasPrefix(clip.Data, []byte("fLaC")) {
		t.Errorf("clip format=%q prefix=%q", clip.Format, clip.Data[:4])
	}
}
