package asking

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

var fakeProgress = []Status{
	StatusUnderstanding,
	StatusSearching,
	StatusGenerating,
	StatusFinished,
}

// FakeSource walks every question through the usual status progression, one
// step per Result call. It backs offline mode and tests.
type FakeSource struct {
	Type       Type
	Candidates []Candidate
	Answer     string
	Err        *TaskError

	// Recommended is returned, finished, for every recommendation job.
	Recommended []RecommendedQuestion

	// Details answers every ask-details job. When nil the chosen SQL comes
	// back as a single step.
	Details   *Details
	DetailErr *TaskError

	mu        sync.Mutex
	tasks     map[string]*fakeTask
	recs      map[string]bool
	details   map[string]*fakeDetail
	histories []*History
}

type fakeDetail struct {
	question string
	sql      string
	polled   bool
}

type fakeTask struct {
	question string
	step     int
	stopped  bool
}

func NewFake(typ Type, candidates []Candidate) *FakeSource {
	return &FakeSource{Type: typ, Candidates: candidates, tasks: map[string]*fakeTask{}}
}

func (f *FakeSource) Ask(_ context.Context, question string, history *History) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tasks == nil {
		f.tasks = map[string]*fakeTask{}
	}
	f.histories = append(f.histories, history)
	id := uuid.NewString()
	f.tasks[id] = &fakeTask{question: question}
	return id, nil
}

func (f *FakeSource) Result(_ context.Context, queryID string) (*Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[queryID]
	if !ok {
		return nil, fmt.Errorf("query %s not found", queryID)
	}
	task := &Task{QueryID: queryID, Type: f.Type, RephrasedQuestion: t.question}
	if t.stopped {
		task.Status = StatusStopped
		return task, nil
	}
	task.Status = fakeProgress[min(t.step, len(fakeProgress)-1)]
	t.step++
	if task.Status == StatusFinished {
		if f.Err != nil {
			task.Status = StatusFailed
			task.Error = f.Err
			return task, nil
		}
		task.Candidates = append([]Candidate(nil), f.Candidates...)
	}
	return task, nil
}

func (f *FakeSource) Stop(_ context.Context, queryID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[queryID]
	if !ok {
		return fmt.Errorf("query %s not found", queryID)
	}
	t.stopped = true
	return nil
}

func (f *FakeSource) Stream(ctx context.Context, _ string, fn func(string)) error {
	for _, word := range strings.Fields(f.Answer) {
		if err := ctx.Err(); err != nil {
			return err
		}
		fn(word + " ")
	}
	return nil
}

func (f *FakeSource) Recommend(_ context.Context, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recs == nil {
		f.recs = map[string]bool{}
	}
	id := uuid.NewString()
	f.recs[id] = true
	return id, nil
}

func (f *FakeSource) Recommendations(_ context.Context, id string) (*RecommendedQuestions, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.recs[id] {
		return nil, fmt.Errorf("recommendation %s not found", id)
	}
	return &RecommendedQuestions{
		Status:    StatusFinished,
		Questions: append([]RecommendedQuestion(nil), f.Recommended...),
	}, nil
}

// Histories returns the history sent with each Ask, in order.
func (f *FakeSource) Histories() []*History {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*History(nil), f.histories...)
}

func (f *FakeSource) Detail(_ context.Context, question, sql string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.details == nil {
		f.details = map[string]*fakeDetail{}
	}
	id := uuid.NewString()
	f.details[id] = &fakeDetail{question: question, sql: sql}
	return id, nil
}

// DetailResult reports the job as generating once, then settles it.
func (f *FakeSource) DetailResult(_ context.Context, id string) (*DetailTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.details[id]
	if !ok {
		return nil, fmt.Errorf("detail %s not found", id)
	}
	task := &DetailTask{QueryID: id, Status: StatusGenerating}
	if !d.polled {
		d.polled = true
		return task, nil
	}
	if f.DetailErr != nil {
		task.Status = StatusFailed
		task.Error = f.DetailErr
		return task, nil
	}
	task.Status = StatusFinished
	if f.Details != nil {
		details := *f.Details
		task.Response = &details
		return task, nil
	}
	task.Response = &Details{
		Description: d.question,
		Steps:       []DetailStep{{SQL: d.sql, Summary: "Run the selected query."}},
	}
	return task, nil
}
