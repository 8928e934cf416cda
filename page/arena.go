package page

import (
	"sync"
	"time"

	"github.com/hazyhaar/applyflow/idgen"
)

// Arena is one job's append-only context history. The last appended
// context is the attended one. Each job owns its own Arena.
type Arena struct {
	mu       sync.RWMutex
	jobID    string
	contexts []Context
	newID    idgen.Generator
	now      func() time.Time
}

// ArenaOption configures an Arena.
type ArenaOption func(*Arena)

// WithIDGenerator overrides context ID generation (tests).
func WithIDGenerator(g idgen.Generator) ArenaOption { return func(a *Arena) { a.newID = g } }

// WithClock overrides the timestamp source (tests).
func WithClock(fn func() time.Time) ArenaOption { return func(a *Arena) { a.now = fn } }

// NewArena creates an empty arena for jobID.
func NewArena(jobID string, opts ...ArenaOption) *Arena {
	a := &Arena{jobID: jobID, newID: idgen.Context, now: time.Now}
	for _, o := range opts {
		o(a)
	}
	return a
}

// JobID returns the owning job.
func (a *Arena) JobID() string { return a.jobID }

// Append stores a copy of c with a fresh ID, job ID and timestamp and
// returns it. Any ID or timestamp on c is ignored.
func (a *Arena) Append(c Context) Context {
	a.mu.Lock()
	defer a.mu.Unlock()
	c.ID = a.newID()
	c.JobID = a.jobID
	c.Timestamp = a.now().UTC()
	if c.Domain == "" {
		c.Domain = DomainOf(c.URL)
	}
	if c.Class == "" {
		c.Class = Unknown
	}
	c.FrameChain = append([]string(nil), c.FrameChain...)
	a.contexts = append(a.contexts, c)
	return c
}

// Supersede appends a successor of the current context with a new
// classification. It returns the zero Context if the arena is empty.
func (a *Arena) Supersede(class Classification, confidence float64) Context {
	cur, ok := a.Current()
	if !ok {
		return Context{}
	}
	cur.Class = class
	cur.Confidence = confidence
	return a.Append(cur)
}

// Current returns the attended context.
func (a *Arena) Current() (Context, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if len(a.contexts) == 0 {
		return Context{}, false
	}
	return a.contexts[len(a.contexts)-1], true
}

// Get returns the context with id.
func (a *Arena) Get(id string) (Context, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for i := len(a.contexts) - 1; i >= 0; i-- {
		if a.contexts[i].ID == id {
			return a.contexts[i], true
		}
	}
	return Context{}, false
}

// History returns a copy of every context in append order.
func (a *Arena) History() []Context {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]Context, len(a.contexts))
	copy(out, a.contexts)
	return out
}

// Len returns the number of contexts appended so far.
func (a *Arena) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.contexts)
}
