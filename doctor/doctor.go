// Package doctor runs interactive checks of everything askbox talks to: the
// asking service, the microphone, the transcription endpoint and the
// clipboard.
package doctor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"askbox/audio"
	"askbox/clipboard"
	"askbox/prompt"
	"askbox/transcriber"
	"askbox/voice"
)

type Doctor struct {
	Out io.Writer
	In  io.Reader

	AskingURL   string
	Audio       audio.Context
	Transcriber transcriber.Transcriber
	Voice       voice.Config

	HTTP *http.Client
}

// Run executes the checks and returns an exit code (0=all pass, 1=any fail).
func (d *Doctor) Run(ctx context.Context) int {
	resetTerminal()
	setupInterruptHandler()

	fmt.Fprintln(d.Out, "askbox doctor - system diagnostics")
	fmt.Fprintln(d.Out, "==================================")

	reader := bufio.NewReader(d.In)
	allPass := d.checkAsking(ctx)
	if !d.checkVoice(ctx, reader) {
		allPass = false
	}
	d.checkClipboard()

	fmt.Fprintln(d.Out)
	if allPass {
		fmt.Fprintln(d.Out, "All checks passed!")
		return 0
	}
	fmt.Fprintln(d.Out, "Some checks failed. See details above.")
	return 1
}

func (d *Doctor) client() *http.Client {
	if d.HTTP != nil {
		return d.HTTP
	}
	return &http.Client{Timeout: 5 * time.Second}
}

// checkAsking only verifies the service answers HTTP; any status counts.
func (d *Doctor) checkAsking(ctx context.Context) bool {
	fmt.Fprintln(d.Out)
	fmt.Fprintln(d.Out, "[1/3] Asking service")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.AskingURL, nil)
	if err != nil {
		fmt.Fprintf(d.Out, "  FAIL: bad base_url %q: %v\n", d.AskingURL, err)
		return false
	}
	start := time.Now()
	resp, err := d.client().Do(req)
	if err != nil {
		fmt.Fprintf(d.Out, "  FAIL: %s unreachable: %v\n", d.AskingURL, err)
		return false
	}
	resp.Body.Close()
	fmt.Fprintf(d.Out, "  PASS: %s answered %d in %dms\n", d.AskingURL, resp.StatusCode, time.Since(start).Milliseconds())
	return true
}

func (d *Doctor) checkVoice(ctx context.Context, reader *bufio.Reader) bool {
	fmt.Fprintln(d.Out)
	fmt.Fprintln(d.Out, "[2/3] Microphone and transcription")

	if d.Audio == nil {
		fmt.Fprintln(d.Out, "  FAIL: no audio backend")
		return false
	}
	devices, err := d.Audio.Devices()
	if err != nil {
		fmt.Fprintf(d.Out, "  FAIL: cannot list devices: %v\n", err)
		return false
	}
	if len(devices) == 0 {
		fmt.Fprintln(d.Out, "  FAIL: no capture devices found")
		return false
	}
	if d.Voice.Device != nil {
		fmt.Fprintf(d.Out, "Using device: %s\n", d.Voice.Device.Name)
	} else {
		fmt.Fprintln(d.Out, "Using device: system default")
	}

	fmt.Fprint(d.Out, "Press Enter, then ask a question out loud...")
	reader.ReadString('\n')

	cfg := d.Voice
	cfg.AutoSubmit = false
	cfg.Placeholder = ""
	var text string
	rec := voice.NewRecorder(d.Audio, d.Transcriber, cfg, nil)
	err = rec.Run(ctx, nil, func(cmd prompt.Command) {
		if c, ok := cmd.(prompt.SetText); ok {
			text = c.Text
		}
	})
	fmt.Fprintln(d.Out)
	if err != nil {
		fmt.Fprintf(d.Out, "  FAIL: %v\n", err)
		return false
	}
	if text == "" {
		fmt.Fprintln(d.Out, "  FAIL: no speech detected")
		return false
	}

	fmt.Fprintf(d.Out, "  Transcribed text: %s\n\n", text)
	fmt.Fprint(d.Out, "Is this correct? [y/n]: ")
	confirm, _ := reader.ReadString('\n')
	confirm = strings.TrimSpace(strings.ToLower(confirm))
	if confirm == "y" || confirm == "yes" {
		fmt.Fprintln(d.Out, "  PASS: transcription verified by user")
		return true
	}
	fmt.Fprintln(d.Out, "  FAIL: transcription not confirmed")
	return false
}

// checkClipboard is advisory: copying SQL is optional.
func (d *Doctor) checkClipboard() bool {
	fmt.Fprintln(d.Out)
	fmt.Fprintln(d.Out, "[3/3] Clipboard")

	if !clipboard.Available() {
		fmt.Fprintf(d.Out, "  WARN: %v\n", clipboard.ErrUnsupported)
		return false
	}
	const sentinel = "askbox-doctor-test"
	if err := clipboard.Copy(sentinel); err != nil {
		fmt.Fprintf(d.Out, "  WARN: copy failed: %v\n", err)
		return false
	}
	got, err := clipboard.Read()
	if err != nil {
		fmt.Fprintf(d.Out, "  WARN: read failed: %v\n", err)
		return false
	}
	if got != sentinel {
		fmt.Fprintf(d.Out, "  WARN: clipboard returned %q, want %q\n", got, sentinel)
		return false
	}
	fmt.Fprintln(d.Out, "  PASS: copy and read back")
	return true
}
