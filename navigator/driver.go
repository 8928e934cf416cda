package navigator

import (
	"context"

	"github.com/hazyhaar/applyflow/cta"
	"github.com/hazyhaar/applyflow/page"
)

// Surface is a browsing surface the driver can read and act on.
type Surface struct {
	Kind page.SurfaceKind
	// Ref is the driver's handle: a target ID for tabs, a frame ID for
	// frames.
	Ref        string
	URL        string
	FrameChain []string
}

// Frame is an embedded frame visible on a surface.
type Frame struct {
	Ref string
	URL string
}

// Snapshot is one read of a surface.
type Snapshot struct {
	URL        string
	Signals    page.Signals
	Candidates []cta.Candidate
	Frames     []Frame
	// Fingerprint changes whenever the document changes materially (new
	// form, replaced main region). Equal fingerprints mean "no change".
	Fingerprint string
}

// Driver is the browser as the tracker sees it. The tracker is its only
// caller.
type Driver interface {
	// Open loads url in the job's top-level surface.
	Open(ctx context.Context, url string) (Surface, error)
	Snapshot(ctx context.Context, s Surface) (Snapshot, error)
	Click(ctx context.Context, s Surface, selector string) error
	// NewSurface returns a tab or window opened since the last call, if any.
	NewSurface(ctx context.Context) (Surface, bool, error)
	// EnterFrame scopes a surface to one of its frames.
	EnterFrame(ctx context.Context, parent Surface, f Frame) (Surface, error)
	// Screenshot captures s and returns a reference to the stored image.
	Screenshot(ctx context.Context, s Surface, name string) (string, error)
}
