package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-rod/rod"

	"github.com/hazyhaar/applyflow/fields"
	"github.com/hazyhaar/applyflow/fill"
	"github.com/hazyhaar/applyflow/navigator"
)

// Form is the live form on one surface. It implements fields.Source and
// fill.Page.
type Form struct {
	s       *Session
	p       *rod.Page
	surface navigator.Surface
}

// Controls serialises the document with invisible controls marked hidden
// and extracts raw controls from that snapshot.
func (f *Form) Controls(ctx context.Context) ([]fields.RawControl, error) {
	res, err := f.p.Context(ctx).Eval(documentJS)
	if err != nil {
		return nil, fmt.Errorf("browser: read document: %w", err)
	}
	src, err := fields.FromHTML(res.Value.Str())
	if err != nil {
		return nil, err
	}
	return src.Controls(ctx)
}

// Count implements fill.Page.
func (f *Form) Count(ctx context.Context, selector string) (int, error) {
	els, err := f.p.Context(ctx).Elements(selector)
	if err != nil {
		return 0, fmt.Errorf("browser: query %s: %w", selector, err)
	}
	return len(els), nil
}

// Options implements fill.Page.
func (f *Form) Options(ctx context.Context, selector string) ([]string, error) {
	var opts []string
	if err := evalJSON(ctx, f.p, &opts, optionsJS, selector); err != nil {
		return nil, fmt.Errorf("browser: options %s: %w", selector, err)
	}
	return opts, nil
}

// Write implements fill.Page.
func (f *Form) Write(ctx context.Context, selector string, ct fields.ControlType, value string) error {
	el, err := only(ctx, f.p, selector)
	if err != nil {
		return err
	}
	el = el.Context(ctx)
	switch ct {
	case fields.File:
		err = el.SetFiles([]string{value})
	case fields.Select:
		var native bool
		if native, err = isNativeSelect(el); err == nil {
			if native {
				err = el.Select([]string{value}, true, rod.SelectorTypeText)
			} else {
				err = f.choose(ctx, comboJS, selector, value)
			}
		}
	case fields.Radio, fields.Checkbox:
		err = f.choose(ctx, chooseJS, selector, value)
	case fields.Date:
		_, err = f.p.Context(ctx).Eval(setValueJS, selector, value)
	default:
		if err = el.SelectAllText(); err == nil {
			err = el.Input(value)
		} else {
			// Some masked inputs refuse selection.
			_, err = f.p.Context(ctx).Eval(setValueJS, selector, value)
		}
	}
	if err != nil {
		return fmt.Errorf("browser: write %s: %w", selector, err)
	}
	return nil
}

// choose runs a script that answers {ok, error}.
func (f *Form) choose(ctx context.Context, js, selector, value string) error {
	var reply struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
	}
	if err := evalJSON(ctx, f.p, &reply, js, selector, value); err != nil {
		return err
	}
	if !reply.OK {
		return errors.New(reply.Error)
	}
	return nil
}

func isNativeSelect(el *rod.Element) (bool, error) {
	tag, err := el.Property("tagName")
	if err != nil {
		return false, err
	}
	return strings.EqualFold(tag.Str(), "select"), nil
}

// Validate implements fill.Page.
func (f *Form) Validate(ctx context.Context, selector string) (fill.State, error) {
	var st struct {
		Value   string `json:"value"`
		Valid   bool   `json:"valid"`
		Message string `json:"message"`
	}
	if err := evalJSON(ctx, f.p, &st, validateJS, selector); err != nil {
		return fill.State{}, fmt.Errorf("browser: validate %s: %w", selector, err)
	}
	return fill.State{Value: st.Value, Valid: st.Valid, Message: st.Message}, nil
}

// Fragment implements fill.Page.
func (f *Form) Fragment(ctx context.Context, selector string) (string, error) {
	res, err := f.p.Context(ctx).Eval(fragmentJS, selector)
	if err != nil {
		return "", fmt.Errorf("browser: fragment %s: %w", selector, err)
	}
	return res.Value.Str(), nil
}

// Screenshot implements fill.Page.
func (f *Form) Screenshot(ctx context.Context, name string) (string, error) {
	return f.s.Screenshot(ctx, f.surface, name)
}

var (
	_ fields.Source = (*Form)(nil)
	_ fill.Page     = (*Form)(nil)
)
