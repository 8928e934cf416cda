package journal

import (
	"context"
	"sync"

	"github.com/hazyhaar/applyflow/page"
)

// Memory keeps records in process. Used by tests and by the control
// server's recent-activity view.
type Memory struct {
	mu         sync.RWMutex
	errors     []ErrorRecord
	navigation []page.NavigationEvent
	fills      []FillRecord
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) WriteError(_ context.Context, rec ErrorRecord) error {
	m.mu.Lock()
	m.errors = append(m.errors, rec)
	m.mu.Unlock()
	return nil
}

func (m *Memory) WriteNavigation(_ context.Context, ev page.NavigationEvent) error {
	m.mu.Lock()
	m.navigation = append(m.navigation, ev)
	m.mu.Unlock()
	return nil
}

func (m *Memory) WriteFill(_ context.Context, rec FillRecord) error {
	m.mu.Lock()
	m.fills = append(m.fills, rec)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Close() error { return nil }

// Errors returns the error records for jobID, or all when jobID is empty.
func (m *Memory) Errors(jobID string) []ErrorRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ErrorRecord
	for _, r := range m.errors {
		if jobID == "" || r.JobID == jobID {
			out = append(out, r)
		}
	}
	return out
}

// Navigation returns the events for jobID, or all when jobID is empty.
func (m *Memory) Navigation(jobID string) []page.NavigationEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []page.NavigationEvent
	for _, e := range m.navigation {
		if jobID == "" || e.JobID == jobID {
			out = append(out, e)
		}
	}
	return out
}

// Fills returns the fill records for jobID, or all when jobID is empty.
func (m *Memory) Fills(jobID string) []FillRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []FillRecord
	for _, f := range m.fills {
		if jobID == "" || f.JobID == jobID {
			out = append(out, f)
		}
	}
	return out
}

func (m *Memory) Stats(context.Context) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st := Stats{Errors: make(map[FailureKind]int), Navigation: len(m.navigation), Fills: len(m.fills)}
	for _, r := range m.errors {
		st.Errors[r.Kind]++
	}
	return st, nil
}
