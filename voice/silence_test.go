package voice

import (
	"encoding/binary"
	"math"
	"testing"
	"time"
)

func genTone(amplitude float64, durationMs int) []byte {
	n := 16000 * durationMs / 1000
	buf := make([]byte, n*2)
	for i := 0; i < n; i++ {
		sample := int16(amplitude * 32767 * math.Sin(2*math.Pi*440*float64(i)/16000))
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(sample))
	}
	return buf
}

func genSilence(durationMs int) []byte {
	return make([]byte, 16000*durationMs/1000*2)
}

func feedChunks(m *silenceMonitor, pcm []byte, chunkMs int) []SilenceEvent {
	var events []SilenceEvent
	step := 16000 * chunkMs / 1000 * 2
	for i := 0; i < len(pcm); i += step {
		end := min(i+step, len(pcm))
		if ev, _ := m.Feed(pcm[i:end]); ev != SilenceNone {
			events = append(events, ev)
		}
	}
	return events
}

func TestRMS(t *testing.T) {
	if got := rms(genSilence(100)); got != 0 {
		t.Errorf("rms(silence) = %v, want 0", got)
	}
	// sine RMS is amplitude/sqrt(2)
	got := rms(genTone(0.5, 100))
	if math.Abs(got-0.5/math.Sqrt2) > 0.01 {
		t.Errorf("rms(tone) = %v, want ~%v", got, 0.5/math.Sqrt2)
	}
	if got := rms(nil); got != 0 {
		t.Errorf("rms(nil) = %v", got)
	}
}

func TestSilenceAutoStopAfterSpeech(t *testing.T) {
	m := newSilenceMonitor(defaultSilenceThreshold, time.Second, 8*time.Second)
	events := feedChunks(m, genTone(0.3, 500), 20)
	if len(events) != 1 || events[0] != SilenceSpeech {
		t.Fatalf("speech events = %v, want [SilenceSpeech]", events)
	}
	// 900ms of silence: still recording
	if events := feedChunks(m, genSilence(900), 20); len(events) != 0 {
		t.Fatalf("unexpected events before hold elapsed: %v", events)
	}
	events = feedChunks(m, genSilence(200), 20)
	if len(events) != 1 || events[0] != SilenceAutoStop {
		t.Fatalf("events = %v, want [SilenceAutoStop]", events)
	}
	// monitor is finished
	if events := feedChunks(m, genSilence(2000), 20); len(events) != 0 {
		t.Errorf("events after auto-stop: %v", events)
	}
}

func TestSilenceSpeechResetsHold(t *testing.T) {
	m := newSilenceMonitor(defaultSilenceThreshold, time.Second, 0)
	pcm := append(genTone(0.3, 200), genSilence(800)...)
	pcm = append(pcm, genTone(0.3, 200)...)
	pcm = append(pcm, genSilence(800)...)
	for _, ev := range feedChunks(m, pcm, 20) {
		if ev == SilenceAutoStop {
			t.Fatal("auto-stop fired although silence never reached the hold time")
		}
	}
}

func TestSilenceNoSpeechTimeout(t *testing.T) {
	m := newSilenceMonitor(defaultSilenceThreshold, time.Second, 2*time.Second)
	events := feedChunks(m, genSilence(3000), 20)
	if len(events) != 1 || events[0] != SilenceNoSpeech {
		t.Fatalf("events = %v, want [SilenceNoSpeech]", events)
	}
}

func TestSilenceQuietNoiseBelowThreshold(t *testing.T) {
	m := newSilenceMonitor(0.05, time.Second, 0)
	if events := feedChunks(m, genTone(0.01, 3000), 20); len(events) != 0 {
		t.Errorf("events = %v for noise below threshold", events)
	}
}
