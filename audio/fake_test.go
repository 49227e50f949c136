package audio

import (
	"sync"
	"testing"
)

func TestFindDevice(t *testing.T) {
	ctx := NewFakeContext(nil, false)
	dev, err := FindDevice(ctx, "fake")
	if err != nil || dev == nil || dev.ID != "fake" {
		t.Fatalf("FindDevice(fake) = %+v, %v", dev, err)
	}
	dev, err = FindDevice(ctx, "missing")
	if err != nil || dev != nil {
		t.Fatalf("FindDevice(missing) = %+v, %v", dev, err)
	}
}

func TestFakeCaptureReplaysThenSilence(t *testing.T) {
	pcm := make([]byte, fakeFrameSize*fakeBytesPerFrame*2+10)
	for i := range pcm {
		pcm[i] = 0x7f
	}
	capture, err := NewFakeContext(pcm, false).NewCapture(nil, CaptureConfig{})
	if err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	var loud, quiet int
	enough := make(chan struct{})
	var once sync.Once
	capture.SetCallback(func(data []byte, frames uint32) {
		mu.Lock()
		defer mu.Unlock()
		if data[0] != 0 {
			loud += len(data)
		} else {
			quiet++
		}
		if quiet >= 3 {
			once.Do(func() { close(enough) })
		}
	})
	if err := capture.Start(); err != nil {
		t.Fatal(err)
	}
	<-enough
	capture.Stop()
	capture.ClearCallback()

	mu.Lock()
	defer mu.Unlock()
	if loud != len(pcm) {
		t.Errorf("replayed %d bytes, want %d", loud, len(pcm))
	}
	fc := capture.(*FakeCapture)
	if fc.Stops() != 1 || fc.Callback() {
		t.Errorf("stops=%d callback=%v", fc.Stops(), fc.Callback())
	}
}
