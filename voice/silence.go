package voice

import (
	"encoding/binary"
	"math"
	"time"

	"askbox/encoder"
)

const (
	defaultSilenceThreshold = 0.01
	defaultSilenceHold      = 1500 * time.Millisecond
	defaultMaxWait          = 8 * time.Second
)

type SilenceEvent int

const (
	SilenceNone     SilenceEvent = iota
	SilenceSpeech                // first chunk above the threshold
	SilenceAutoStop              // speech was heard, then silence for the hold time
	SilenceNoSpeech              // nothing above the threshold within max wait
)

// silenceMonitor measures time in samples, so it behaves the same whether
// audio arrives in real time or as fast as a fake can push it.
type silenceMonitor struct {
	threshold   float64
	holdFrames  uint64
	waitFrames  uint64
	heard       bool
	silentRun   uint64
	totalFrames uint64
	done        bool
}

func newSilenceMonitor(threshold float64, hold, maxWait time.Duration) *silenceMonitor {
	return &silenceMonitor{
		threshold:  threshold,
		holdFrames: durationFrames(hold),
		waitFrames: durationFrames(maxWait),
	}
}

func durationFrames(d time.Duration) uint64 {
	return uint64(d.Seconds() * encoder.SampleRate)
}

// rms returns the root mean square of a PCM16 chunk, normalised to [0, 1].
func rms(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sumSquares float64
	for i := 0; i+1 < len(pcm); i += 2 {
		sample := int16(binary.LittleEndian.Uint16(pcm[i:]))
		normalized := float64(sample) / 32768.0
		sumSquares += normalized * normalized
	}
	return math.Sqrt(sumSquares / float64(n))
}

// Feed classifies one chunk and returns at most one event. After an
// auto-stop event the monitor stays quiet.
func (m *silenceMonitor) Feed(pcm []byte) (SilenceEvent, float64) {
	level := rms(pcm)
	if m.done {
		return SilenceNone, level
	}
	frames := uint64(len(pcm) / 2)
	m.totalFrames += frames

	if level >= m.threshold {
		m.silentRun = 0
		if !m.heard {
			m.heard = true
			return SilenceSpeech, level
		}
		return SilenceNone, level
	}

	m.silentRun += frames
	if m.heard && m.silentRun >= m.holdFrames {
		m.done = true
		return SilenceAutoStop, level
	}
	if !m.heard && m.waitFrames > 0 && m.totalFrames >= m.waitFrames {
		m.done = true
		return SilenceNoSpeech, level
	}
	return SilenceNone, level
}
