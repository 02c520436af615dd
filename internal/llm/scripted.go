package llm

import (
	"context"
	"errors"
	"sync"
)

// Scripted is a Client test double that replays canned completions in order.
// It records every request so tests can assert on prompts.
type Scripted struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	calls     []Request
}

// NewScripted builds a double that returns the given completions one by one.
func NewScripted(responses ...string) *Scripted {
	return &Scripted{responses: responses}
}

// Push appends another canned completion.
func (s *Scripted) Push(response string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, response)
}

// PushError appends a canned failure; it is consumed in sequence with
// responses (errors drain first).
func (s *Scripted) PushError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, err)
}

// Complete replays the next canned error or completion.
func (s *Scripted) Complete(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, req)

	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return "", err
	}
	if len(s.responses) == 0 {
		return "", errors.New("llm: scripted client exhausted")
	}
	resp := s.responses[0]
	s.responses = s.responses[1:]
	return resp, nil
}

// Calls returns a copy of the recorded requests.
func (s *Scripted) Calls() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.calls))
	copy(out, s.calls)
	return out
}
