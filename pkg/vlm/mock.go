package vlm

import (
	"context"
	"sync"
)

// Mock replays canned answers in order, falling back to a default once the
// script runs out. Calls are recorded for assertions.
type Mock struct {
	mu       sync.Mutex
	Script   []string
	Default  string
	Requests []Request
}

func NewMock(script ...string) *Mock {
	return &Mock{Script: script, Default: "{}"}
}

func (m *Mock) Model() string { return "mock" }
func (m *Mock) Close() error  { return nil }

func (m *Mock) Complete(_ context.Context, req Request) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Requests = append(m.Requests, req)
	if len(m.Script) > 0 {
		answer := m.Script[0]
		m.Script = m.Script[1:]
		return answer, nil
	}
	return m.Default, nil
}

var _ VLM = (*Mock)(nil)
