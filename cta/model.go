package cta

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/hazyhaar/applyflow/llm"
)

const rankSchema = `{"ranking":[{"index":<int>,"confidence":<0..1>}]}`

const rankSystem = `You pick the control that opens a job application form.
Rank only candidates that plausibly start an application. Never rank login,
sign-up, cookie or navigation links. Confidence reflects how sure you are that
clicking the candidate leads to the application form.`

// ModelRanker asks a language model to rank candidates. Its output only
// sets ModelRank and ModelConfidence; the threshold gate stays in Resolver.
type ModelRanker struct {
	Completer llm.Completer
	// MaxCandidates bounds the prompt. Default: 25.
	MaxCandidates int
	Logger        *zap.Logger
}

type rankReply struct {
	Ranking []struct {
		Index      int     `json:"index"`
		Confidence float64 `json:"confidence"`
	} `json:"ranking"`
}

// Annotate returns a copy of cands with model rank fields set. On any model
// or parse failure it returns the unannotated copy and the error, and the
// caller proceeds on heuristics alone.
func (m *ModelRanker) Annotate(ctx context.Context, pageTitle string, cands []Candidate) ([]Candidate, error) {
	out := append([]Candidate(nil), cands...)
	if m == nil || m.Completer == nil || len(out) == 0 {
		return out, nil
	}
	limit := m.MaxCandidates
	if limit <= 0 {
		limit = 25
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Page: %s\nCandidates:\n", pageTitle)
	for i, c := range out {
		if i >= limit {
			break
		}
		fmt.Fprintf(&b, "%d. text=%q aria=%q action=%q href=%q prominence=%.2f\n",
			i, trim(c.Text, 80), trim(c.AriaLabel, 60), c.DataAction, trim(c.Href, 120), c.Prominence)
	}

	resp, err := m.Completer.Complete(ctx, llm.Request{
		System:     rankSystem,
		Prompt:     b.String(),
		SchemaHint: rankSchema,
		Purpose:    "rank_cta",
	})
	if err != nil {
		return out, fmt.Errorf("cta: rank: %w", err)
	}
	raw, err := llm.RepairJSON(resp.Text)
	if err != nil {
		return out, fmt.Errorf("cta: rank: repair: %w", err)
	}
	var reply rankReply
	if err := json.Unmarshal([]byte(raw), &reply); err != nil {
		return out, fmt.Errorf("cta: rank: decode: %w", err)
	}

	rank := 1
	for _, r := range reply.Ranking {
		if r.Index < 0 || r.Index >= len(out) || r.Index >= limit || out[r.Index].ModelRank != 0 {
			continue
		}
		conf := r.Confidence
		if conf < 0 {
			conf = 0
		} else if conf > 1 {
			conf = 1
		}
		out[r.Index].ModelRank = rank
		out[r.Index].ModelConfidence = conf
		rank++
	}
	if m.Logger != nil {
		m.Logger.Debug("cta: model ranked", zap.Int("ranked", rank-1), zap.Int("candidates", len(out)))
	}
	return out, nil
}

// trim cuts s to at most n bytes on a rune boundary.
func trim(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
