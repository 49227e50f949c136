package asking

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Source is the asking service as seen by the prompt's parent.
type Source interface {
	Ask(ctx context.Context, question string, history *History) (string, error)
	Result(ctx context.Context, queryID string) (*Task, error)
	Stop(ctx context.Context, queryID string) error
	Stream(ctx context.Context, queryID string, fn func(chunk string)) error
	Recommend(ctx context.Context, question string) (string, error)
	Recommendations(ctx context.Context, id string) (*RecommendedQuestions, error)
	Detail(ctx context.Context, question, sql string) (string, error)
	DetailResult(ctx context.Context, id string) (*DetailTask, error)
}

type Client struct {
	// Configurations is sent with every ask and ask-details job.
	Configurations Configurations

	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

type askRequest struct {
	Query          string         `json:"query"`
	History        *History       `json:"history,omitempty"`
	Configurations Configurations `json:"configurations"`
}

type askResponse struct {
	QueryID string `json:"query_id"`
}

// Ask starts an asking task. history, when set, is the previous question
// and the SQL the user settled on.
func (c *Client) Ask(ctx context.Context, question string, history *History) (string, error) {
	var resp askResponse
	req := askRequest{Query: question, History: history, Configurations: c.Configurations}
	if err := c.do(ctx, http.MethodPost, "/v1/asks", req, &resp); err != nil {
		return "", err
	}
	if resp.QueryID == "" {
		return "", fmt.Errorf("asking service returned empty query_id")
	}
	return resp.QueryID, nil
}

func (c *Client) Result(ctx context.Context, queryID string) (*Task, error) {
	var task Task
	if err := c.do(ctx, http.MethodGet, "/v1/asks/"+queryID+"/result", nil, &task); err != nil {
		return nil, err
	}
	if task.QueryID == "" {
		task.QueryID = queryID
	}
	return &task, nil
}

func (c *Client) Stop(ctx context.Context, queryID string) error {
	body := map[string]string{"status": "stopped"}
	return c.do(ctx, http.MethodPatch, "/v1/asks/"+queryID, body, nil)
}

type recommendRequest struct {
	PreviousQuestions []string `json:"previous_questions"`
}

type recommendResponse struct {
	ID string `json:"id"`
}

type recommendationsResult struct {
	Status   Status `json:"status"`
	Response *struct {
		Questions []RecommendedQuestion `json:"questions"`
	} `json:"response"`
	Error *TaskError `json:"error,omitempty"`
}

// Recommend starts generating follow-up questions related to question.
func (c *Client) Recommend(ctx context.Context, question string) (string, error) {
	var resp recommendResponse
	req := recommendRequest{PreviousQuestions: []string{question}}
	if err := c.do(ctx, http.MethodPost, "/v1/question-recommendations", req, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", fmt.Errorf("asking service returned empty recommendation id")
	}
	return resp.ID, nil
}

func (c *Client) Recommendations(ctx context.Context, id string) (*RecommendedQuestions, error) {
	var res recommendationsResult
	if err := c.do(ctx, http.MethodGet, "/v1/question-recommendations/"+id, nil, &res); err != nil {
		return nil, err
	}
	rq := &RecommendedQuestions{Status: res.Status, Error: res.Error}
	if res.Response != nil {
		rq.Questions = res.Response.Questions
	}
	return rq, nil
}

type detailRequest struct {
	Query          string         `json:"query"`
	SQL            string         `json:"sql"`
	Configurations Configurations `json:"configurations"`
}

// Detail asks the service to break sql down into described steps.
func (c *Client) Detail(ctx context.Context, question, sql string) (string, error) {
	var resp askResponse
	req := detailRequest{Query: question, SQL: sql, Configurations: c.Configurations}
	if err := c.do(ctx, http.MethodPost, "/v1/ask-details", req, &resp); err != nil {
		return "", err
	}
	if resp.QueryID == "" {
		return "", fmt.Errorf("asking service returned empty query_id")
	}
	return resp.QueryID, nil
}

func (c *Client) DetailResult(ctx context.Context, id string) (*DetailTask, error) {
	var task DetailTask
	if err := c.do(ctx, http.MethodGet, "/v1/ask-details/"+id+"/result", nil, &task); err != nil {
		return nil, err
	}
	if task.QueryID == "" {
		task.QueryID = id
	}
	return &task, nil
}

// Stream reads the server-sent events of a GENERAL answer and calls fn with
// each message chunk until the stream ends.
func (c *Client) Stream(ctx context.Context, queryID string, fn func(chunk string)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/asks/"+queryID+"/streaming-result", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	// The stream outlives the per-request timeout.
	streamClient := &http.Client{Transport: c.http.Transport}
	resp, err := streamClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("asking stream error %d: %s", resp.StatusCode, string(b))
	}
	return readEvents(resp.Body, fn)
}

type streamEvent struct {
	Message string `json:"message"`
}

func readEvents(r io.Reader, fn func(string)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}
		var ev streamEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return fmt.Errorf("asking stream parse error: %w", err)
		}
		fn(ev.Message)
	}
	return scanner.Err()
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("asking API error %d: %s", resp.StatusCode, string(raw))
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("asking response parse error: %w", err)
	}
	return nil
}

// Poll fetches the task every interval and hands each snapshot to fn until
// the task reaches a terminal status. A failed or stopped task returns the
// last snapshot together with ErrTerminal.
func Poll(ctx context.Context, src Source, queryID string, interval time.Duration, fn func(*Task)) (*Task, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		task, err := src.Result(ctx, queryID)
		if err != nil {
			return nil, err
		}
		fn(task)
		if task.Status.Terminal() {
			if task.Status != StatusFinished {
				return task, ErrTerminal
			}
			return task, nil
		}
		select {
		case <-ctx.Done():
			return task, ctx.Err()
		case <-ticker.C:
		}
	}
}

// PollRecommendations waits for a recommendation job to settle.
func PollRecommendations(ctx context.Context, src Source, id string, interval time.Duration) (*RecommendedQuestions, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		rq, err := src.Recommendations(ctx, id)
		if err != nil {
			return nil, err
		}
		if rq.Status.Terminal() {
			if rq.Status != StatusFinished {
				return rq, ErrTerminal
			}
			return rq, nil
		}
		select {
		case <-ctx.Done():
			return rq, ctx.Err()
		case <-ticker.C:
		}
	}
}

// PollDetails waits for an ask-details job to settle.
func PollDetails(ctx context.Context, src Source, id string, interval time.Duration) (*DetailTask, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		task, err := src.DetailResult(ctx, id)
		if err != nil {
			return nil, err
		}
		if task.Status.Terminal() {
			if task.Status != StatusFinished || task.Response == nil {
				return task, ErrTerminal
			}
			return task, nil
		}
		select {
		case <-ctx.Done():
			return task, ctx.Err()
		case <-ticker.C:
		}
	}
}
