package pipeline

import (
	"context"

	"github.com/hazyhaar/applyflow/browser"
	"github.com/hazyhaar/applyflow/navigator"
)

// BrowserSessions opens job sessions on a shared browser.
type BrowserSessions struct {
	Manager *browser.Manager
}

func (b BrowserSessions) NewSession(ctx context.Context, jobID string) (Session, error) {
	s, err := b.Manager.NewSession(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return browserSession{s}, nil
}

type browserSession struct {
	*browser.Session
}

func (s browserSession) Form(_ context.Context, sf navigator.Surface) (Form, error) {
	f, err := s.Session.Form(sf)
	if err != nil {
		return nil, err
	}
	return f, nil
}
