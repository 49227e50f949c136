package transcriber

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// HTTP uploads clips to a speech-to-text endpoint as the multipart field
// "audio" and reads the transcription from the JSON "result" field.
type HTTP struct {
	client   *TracedClient
	endpoint string
	token    string
	timeout  time.Duration
}

func NewHTTP(endpoint, token string, timeout time.Duration) *HTTP {
	return &HTTP{
		client:   NewTracedClient(),
		endpoint: endpoint,
		token:    token,
		timeout:  timeout,
	}
}

func (h *HTTP) Name() string { return "http" }

type transcribeResponse struct {
	Result *string `json:"result"`
}

func (h *HTTP) Transcribe(ctx context.Context, clip Clip) (Result, error) {
	if len(clip.Data) == 0 {
		return Result{}, ErrEmptyClip
	}
	format := clip.Format
	if format == "" {
		format = "wav"
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("audio", "audio."+format)
	if err != nil {
		return Result{}, err
	}
	if _, err := part.Write(clip.Data); err != nil {
		return Result{}, err
	}
	if err := writer.Close(); err != nil {
		return Result{}, err
	}

	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, &body)
	if err != nil {
		return Result{}, err
	}
	requestID := uuid.NewString()
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("X-Request-ID", requestID)
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return Result{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{}, fmt.Errorf("transcription API error %d: %s", resp.StatusCode, string(resp.Body))
	}

	var tr transcribeResponse
	if err := json.Unmarshal(resp.Body, &tr); err != nil {
		return Result{}, fmt.Errorf("transcription response parse error: %w", err)
	}

	var text string
	if tr.Result != nil {
		text = strings.TrimSpace(*tr.Result)
	}
	return Result{
		Text:      text,
		HasText:   text != "",
		RequestID: requestID,
		Metrics:   resp.Metrics,
	}, nil
}
