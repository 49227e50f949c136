//go:build linux

package beep

import (
	"sync"

	"github.com/jfreymuth/pulse"
	"github.com/jfreymuth/pulse/proto"
)

var (
	startSamples []int16
	endSamples   []int16
	errorSamples []int16
	soundOnce    sync.Once
)

// 200ms tails leave room for the pulse buffer to fill.
func initSound() {
	startSamples = stereo(tone(startFreq, 0.2, startVolume, startDecay))
	endSamples = stereo(tone(endFreq, 0.2, endVolume, endDecay))
	errorSamples = stereo(doubleBeep(errorFreq, 0.08, 0.05, errorVolume, errorDecay))
}

// stereo interleaves mono samples to match the default sink.
func stereo(mono []int16) []int16 {
	out := make([]int16, len(mono)*2)
	for i, s := range mono {
		out[i*2] = s
		out[i*2+1] = s
	}
	return out
}

func playSamples(samples []int16) {
	if len(samples) == 0 {
		return
	}
	c, err := pulse.NewClient()
	if err != nil {
		return
	}
	defer c.Close()

	pos := 0
	reader := pulse.Int16Reader(func(buf []int16) (int, error) {
		if pos >= len(samples) {
			return 0, pulse.EndOfData
		}
		n := copy(buf, samples[pos:])
		pos += n
		return n, nil
	})
	stream, err := c.NewPlayback(reader,
		pulse.PlaybackStereo,
		pulse.PlaybackSampleRate(sampleRate),
		pulse.PlaybackLatency(0.1),
		pulse.PlaybackRawOption(func(p *proto.CreatePlaybackStream) {
			p.ChannelVolumes = proto.ChannelVolumes{uint32(proto.VolumeNorm), uint32(proto.VolumeNorm)}
		}),
	)
	if err != nil {
		return
	}
	stream.Start()
	stream.Drain()
	stream.Stop()
	stream.Close()
}

func Init() {
	soundOnce.Do(initSound)
}

func play(samples *[]int16) {
	if disabled {
		return
	}
	soundOnce.Do(initSound)
	go playSamples(*samples)
}

func PlayStart() { play(&startSamples) }
func PlayEnd()   { play(&endSamples) }
func PlayError() { play(&errorSamples) }
