package prompt

import (
	"askbox/asking"
	"askbox/process"
)

// Selection is what the result view reports when the user picks a candidate.
type Selection struct {
	SQL      string
	ViewID   int
	Question string
}

// SelectPayload is sent to the parent: either a saved-view reference or a
// SQL statement, together with the question it answers.
type SelectPayload struct {
	ViewID   int
	SQL      string
	Question string
}

func (p SelectPayload) IsView() bool { return p.ViewID != 0 }

func buildPayload(sel Selection) (SelectPayload, bool) {
	if sel.ViewID != 0 {
		return SelectPayload{ViewID: sel.ViewID, Question: sel.Question}, true
	}
	if sel.SQL != "" && sel.Question != "" {
		return SelectPayload{SQL: sel.SQL, Question: sel.Question}, true
	}
	return SelectPayload{}, false
}

// SelectionFor turns a candidate into a Selection for the given question.
func SelectionFor(c asking.Candidate, question string) Selection {
	return Selection{SQL: c.SQL, ViewID: c.ViewID, Question: question}
}

type ResultBundle struct {
	State                process.State
	Type                 asking.Type
	OriginalQuestion     string
	Candidates           []asking.Candidate
	StreamAnswer         string
	RecommendedQuestions []asking.RecommendedQuestion
	Error                *asking.TaskError
}
