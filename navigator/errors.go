package navigator

import (
	"errors"
	"fmt"

	"github.com/hazyhaar/applyflow/page"
)

// Halting conditions. Run wraps them in *HaltError.
var (
	ErrCaptcha                 = errors.New("navigator: captcha detected")
	ErrLoginRequired           = errors.New("navigator: login required")
	ErrCtaUnreliable           = errors.New("navigator: no reliable call to action")
	ErrNavigationTimeout       = errors.New("navigator: navigation timeout")
	ErrClassificationAmbiguous = errors.New("navigator: classification ambiguous")
)

// HaltError is returned when the tracker stops short of a form.
type HaltError struct {
	Err     error
	Detail  string
	Context page.Context
	// ScreenshotRef is set when a capture of the halting surface succeeded.
	ScreenshotRef string
}

func (e *HaltError) Error() string {
	if e.Detail == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %s", e.Err, e.Detail)
}

func (e *HaltError) Unwrap() error { return e.Err }
