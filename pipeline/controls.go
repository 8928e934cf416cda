package pipeline

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/hazyhaar/applyflow/navigator"
)

// Control errors.
var (
	ErrUnknownJob     = errors.New("pipeline: job not running")
	ErrNotParked      = errors.New("pipeline: job not parked")
	ErrAlreadyRunning = errors.New("pipeline: job already running")
)

// Stage names where a running job is.
type Stage string

const (
	StageNavigate Stage = "navigate"
	StageExtract  Stage = "extract"
	StageMap      Stage = "map"
	StageFill     Stage = "fill"
	StageGate     Stage = "gate"
)

// JobState is a running job as the operator sees it.
type JobState struct {
	JobID     string          `json:"job_id"`
	URL       string          `json:"url"`
	Stage     Stage           `json:"stage"`
	State     navigator.State `json:"navigation_state"`
	Parked    bool            `json:"parked"`
	StartedAt time.Time       `json:"started_at"`
}

type handle struct {
	url     string
	cancel  context.CancelFunc
	started time.Time

	mu      sync.Mutex
	stage   Stage
	tracker *navigator.Tracker
}

func (h *handle) setStage(s Stage) {
	h.mu.Lock()
	h.stage = s
	h.mu.Unlock()
}

// Controls is the registry of running jobs. Operators resume parked jobs
// and cancel stuck ones through it.
type Controls struct {
	mu   sync.Mutex
	jobs map[string]*handle
}

// NewControls creates an empty registry.
func NewControls() *Controls {
	return &Controls{jobs: make(map[string]*handle)}
}

// register claims jobID for one run. A second run of a job that is still
// running is refused.
func (c *Controls) register(jobID, url string, cancel context.CancelFunc) (*handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.jobs[jobID]; ok {
		return nil, ErrAlreadyRunning
	}
	h := &handle{url: url, cancel: cancel, started: time.Now().UTC(), stage: StageNavigate}
	c.jobs[jobID] = h
	return h, nil
}

func (c *Controls) unregister(jobID string, h *handle) {
	c.mu.Lock()
	if c.jobs[jobID] == h {
		delete(c.jobs, jobID)
	}
	c.mu.Unlock()
}

func (c *Controls) get(jobID string) (*handle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.jobs[jobID]
	return h, ok
}

// Resume wakes the job's tracker when it is parked on a login wall.
func (c *Controls) Resume(jobID string) error {
	h, ok := c.get(jobID)
	if !ok {
		return ErrUnknownJob
	}
	h.mu.Lock()
	tr := h.tracker
	h.mu.Unlock()
	if tr == nil || !tr.Resume() {
		return ErrNotParked
	}
	return nil
}

// Cancel aborts the job at its next suspension point.
func (c *Controls) Cancel(jobID string) error {
	h, ok := c.get(jobID)
	if !ok {
		return ErrUnknownJob
	}
	h.cancel()
	return nil
}

// List returns the running jobs ordered by start time.
func (c *Controls) List() []JobState {
	c.mu.Lock()
	out := make([]JobState, 0, len(c.jobs))
	for id, h := range c.jobs {
		h.mu.Lock()
		st := JobState{JobID: id, URL: h.url, Stage: h.stage, StartedAt: h.started}
		if h.tracker != nil {
			st.State = h.tracker.State()
			st.Parked = h.tracker.Parked()
		}
		h.mu.Unlock()
		out = append(out, st)
	}
	c.mu.Unlock()
	slices.SortFunc(out, func(a, b JobState) int {
		if c := a.StartedAt.Compare(b.StartedAt); c != 0 {
			return c
		}
		if a.JobID < b.JobID {
			return -1
		}
		return 1
	})
	return out
}
