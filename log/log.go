// Package log writes the diagnostics log and the question history. Every
// helper is a no-op until Init succeeds.
package log

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"askbox/transcriber"
)

var (
	diagLog      zerolog.Logger
	diagFile     *os.File
	questionFile *os.File
	logMu        sync.Mutex
	logReady     bool
	pid          int
	dir          string
)

func ResolveDir(flagPath string) (string, error) {
	// Priority 1: --logpath flag
	if flagPath != "" {
		if !filepath.IsAbs(flagPath) {
			wd, err := os.Getwd()
			if err != nil {
				return "", err
			}
			return filepath.Join(wd, flagPath), nil
		}
		return flagPath, nil
	}

	// Priority 2: ASKBOX_LOG_PATH environment variable
	envPath := os.Getenv("ASKBOX_LOG_PATH")
	if envPath != "" {
		if !filepath.IsAbs(envPath) {
			wd, err := os.Getwd()
			if err != nil {
				return "", err
			}
			return filepath.Join(wd, envPath), nil
		}
		return envPath, nil
	}

	// Priority 3: Default OS-specific location
	return getDefaultDir()
}

func SetDir(d string) {
	dir = d
}

func Dir() string {
	return dir
}

func EnsureDir() error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	return nil
}

func Init() error {
	logMu.Lock()
	defer logMu.Unlock()

	if err := EnsureDir(); err != nil {
		return err
	}

	pid = os.Getpid()

	var err error

	diagPath := filepath.Join(dir, "diagnostics_log.txt")
	diagFile, err = os.OpenFile(diagPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	questionPath := filepath.Join(dir, "questions_log.txt")
	questionFile, err = os.OpenFile(questionPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		diagFile.Close()
		return err
	}

	consoleWriter := zerolog.ConsoleWriter{
		Out:        diagFile,
		TimeFormat: "2006-01-02 15:04:05",
		NoColor:    true,
	}
	diagLog = zerolog.New(consoleWriter).With().Timestamp().Int("pid", pid).Logger()

	logReady = true
	return nil
}

func Close() {
	logMu.Lock()
	defer logMu.Unlock()
	if diagFile != nil {
		diagFile.Close()
		diagFile = nil
	}
	if questionFile != nil {
		questionFile.Close()
		questionFile = nil
	}
	logReady = false
}

func Info(msg string) {
	if logReady {
		diagLog.Info().Msg(msg)
	}
}

func Error(msg string) {
	if logReady {
		diagLog.Error().Msg(msg)
	}
}

func Errorf(format string, args ...any) {
	if logReady {
		diagLog.Error().Msg(fmt.Sprintf(format, args...))
	}
}

func Warn(msg string) {
	if logReady {
		diagLog.Warn().Msg(msg)
	}
}

func Warnf(format string, args ...any) {
	if logReady {
		diagLog.Warn().Msg(fmt.Sprintf(format, args...))
	}
}

type TranscriptionData struct {
	Provider  string
	Format    string
	RequestID string
	AudioS    float64
	ClipKB    float64
	TotalMs   float64
	Metrics   *transcriber.NetworkMetrics
	HasText   bool
}

func Transcription(d TranscriptionData) {
	if !logReady {
		return
	}
	ev := diagLog.Info().
		Str("provider", d.Provider).
		Str("format", d.Format).
		Str("request_id", d.RequestID).
		Float64("audio_s", d.AudioS).
		Float64("clip_kb", d.ClipKB).
		Float64("total_ms", d.TotalMs).
		Bool("has_text", d.HasText)
	if m := d.Metrics; m != nil {
		conn := "new"
		if m.ConnReused {
			conn = "reused"
		}
		ev = ev.Str("conn", conn).
			Float64("dns_ms", ms(m.DNS)).
			Float64("tls_ms", ms(m.TLS)).
			Float64("ttfb_ms", ms(m.TTFB))
		if m.TLSProtocol != "" {
			ev = ev.Str("tls_proto", m.TLSProtocol)
		}
	}
	ev.Msg("transcription")
}

func ms(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

// Question appends a submitted question to questions_log.txt.
func Question(queryID, text string) {
	if !logReady {
		return
	}
	logMu.Lock()
	defer logMu.Unlock()
	line := fmt.Sprintf("%s\t[%d]\t%s\t%s\n", time.Now().Format("2006-01-02 15:04:05"), pid, queryID, text)
	questionFile.WriteString(line)
}

func TaskStatus(queryID, status string, elapsed time.Duration) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("query_id", queryID).
		Str("status", status).
		Float64("elapsed_s", elapsed.Seconds()).
		Msg("task_status")
}

func SessionStart(baseURL, transcription string, offline bool) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("asking", baseURL).
		Str("transcription", transcription).
		Bool("offline", offline).
		Msg("session_start")
}

func SessionEnd(questions int) {
	if !logReady {
		return
	}
	diagLog.Info().
		Int("questions", questions).
		Msg("session_end")
}
