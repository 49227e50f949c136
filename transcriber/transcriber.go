package transcriber

import (
	"context"
	"errors"
	"time"
)

var ErrEmptyClip = errors.New("empty audio clip")

type NetworkMetrics struct {
	DNS         time.Duration
	ConnWait    time.Duration
	TCP         time.Duration
	TLS         time.Duration
	ReqHeaders  time.Duration
	ReqBody     time.Duration
	TTFB        time.Duration
	Download    time.Duration
	Total       time.Duration
	ConnReused  bool
	TLSProtocol string
}

func (m *NetworkMetrics) Sum() time.Duration {
	return m.ConnWait + m.DNS + m.TCP + m.TLS + m.ReqHeaders + m.ReqBody + m.TTFB + m.Download
}

// Clip is an encoded recording ready for upload.
type Clip struct {
	Data   []byte
	Format string // "wav" or "flac"
}

type Result struct {
	Text      string
	HasText   bool
	RequestID string
	Metrics   *NetworkMetrics
}

type Transcriber interface {
	Name() string
	Transcribe(ctx context.Context, clip Clip) (Result, error)
}
