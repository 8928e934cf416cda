// Package mapper turns field descriptors into fill instructions.
//
// Descriptors are sent to the language model in one batch when the form is
// small and in independent chunks otherwise. A chunk whose answer is
// malformed is asked again once; if it is still malformed, or the model call
// fails, the chunk falls back to a rule-based matcher over a synonym table.
// Every descriptor comes back with exactly one Mapping.
package mapper

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/applyflow/candidate"
	"github.com/hazyhaar/applyflow/fields"
	"github.com/hazyhaar/applyflow/llm"
)

// Source says where a mapping came from.
type Source string

const (
	SourceLLM        Source = "llm"
	SourceFallback   Source = "fallback-rule"
	SourceUnresolved Source = "unresolved"
)

// ErrMalformed marks a model answer that is not usable structured output.
var ErrMalformed = errors.New("mapper: malformed model output")

// Mapping is the fill instruction for one descriptor.
type Mapping struct {
	Selector    string             `json:"selector"`
	SemanticKey string             `json:"semantic_key,omitempty"`
	ControlType fields.ControlType `json:"control_type"`
	Value       string             `json:"value,omitempty"`
	Confidence  float64            `json:"confidence"`
	Source      Source             `json:"source"`
	Required    bool               `json:"required"`
	Label       string             `json:"label,omitempty"`
	Chunk       int                `json:"chunk"`
}

// Resolved reports whether the mapping carries a value to write.
func (m Mapping) Resolved() bool { return m.Source != SourceUnresolved && m.Value != "" }

// Job identifies the posting, for prompt context.
type Job struct {
	Title   string
	Company string
}

// Input is one page's mapping request.
type Input struct {
	Fields    []fields.Descriptor
	Candidate *candidate.Surface
	Document  *candidate.Document
	Job       Job
	// Synonyms adds site-specific phrases per semantic key to the fallback
	// table for this call.
	Synonyms map[string][]string
}

// ChunkFailure records a chunk that fell back to rules.
type ChunkFailure struct {
	Chunk     int      `json:"chunk"`
	Kind      string   `json:"kind"` // "malformed" or "llm-error"
	Selectors []string `json:"selectors"`
	Err       string   `json:"error"`
}

// Collision records a selector answered twice by the model.
type Collision struct {
	Selector string
	Kept     float64
	Dropped  float64
}

// Result is the mapper output for one page.
type Result struct {
	// Mappings follow the order of Input.Fields.
	Mappings   []Mapping
	Chunks     int
	Retries    int
	Failures   []ChunkFailure
	Collisions []Collision
	// InputTokens is the estimated prompt size summed over all requests.
	InputTokens int
}

// Unresolved returns the unresolved mappings.
func (r Result) Unresolved() []Mapping {
	var out []Mapping
	for _, m := range r.Mappings {
		if m.Source == SourceUnresolved {
			out = append(out, m)
		}
	}
	return out
}

// Config tunes the mapper.
type Config struct {
	// SingleBatchMax is the largest form mapped in one request. Default: 30.
	SingleBatchMax int
	// ChunkSize bounds each request above SingleBatchMax. Default: 20.
	ChunkSize int
	// MaxInputTokens is the prompt budget per request. Default: 6000.
	MaxInputTokens int
	// MalformedRetries is how many times a malformed chunk is asked again.
	// Default: 1. Negative disables retries.
	MalformedRetries int
	// FallbackConfidence is assigned to every rule-based mapping. Default: 0.7.
	FallbackConfidence float64
	// DocumentExcerpt caps the résumé text sent with each request.
	// Default: 2000 bytes.
	DocumentExcerpt int
	// Synonyms extends the built-in table for every call.
	Synonyms map[string][]string
	Logger   *zap.Logger
}

func (c *Config) defaults() {
	if c.SingleBatchMax <= 0 {
		c.SingleBatchMax = 30
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = 20
	}
	if c.MaxInputTokens <= 0 {
		c.MaxInputTokens = 6000
	}
	if c.MalformedRetries == 0 {
		c.MalformedRetries = 1
	} else if c.MalformedRetries < 0 {
		c.MalformedRetries = 0
	}
	if c.FallbackConfidence <= 0 {
		c.FallbackConfidence = 0.7
	}
	if c.DocumentExcerpt <= 0 {
		c.DocumentExcerpt = 2000
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// Mapper maps descriptors with a model and a rule-based fallback.
type Mapper struct {
	llm    llm.Completer
	cfg    Config
	tokens *counter
}

// New creates a Mapper. c is normally the shared governor.
func New(c llm.Completer, cfg Config) *Mapper {
	cfg.defaults()
	return &Mapper{llm: c, cfg: cfg, tokens: newCounter()}
}

// Partition splits descriptors into request batches: one batch up to
// singleMax fields, otherwise chunks of at most size.
func Partition(descs []fields.Descriptor, singleMax, size int) [][]fields.Descriptor {
	if len(descs) == 0 {
		return nil
	}
	if len(descs) <= singleMax {
		return [][]fields.Descriptor{descs}
	}
	var out [][]fields.Descriptor
	for i := 0; i < len(descs); i += size {
		end := min(i+size, len(descs))
		out = append(out, descs[i:end])
	}
	return out
}

type chunkResult struct {
	entries []modelEntry
	retries int
	tokens  int
	failure *ChunkFailure
}

// Map maps every descriptor in in.Fields. It only fails when ctx is done;
// model problems degrade to the rule-based fallback.
func (m *Mapper) Map(ctx context.Context, in Input) (Result, error) {
	chunks := Partition(in.Fields, m.cfg.SingleBatchMax, m.cfg.ChunkSize)
	res := Result{Chunks: len(chunks)}
	if len(chunks) == 0 {
		return res, nil
	}

	pageSelectors := make(map[string]bool, len(in.Fields))
	for _, d := range in.Fields {
		pageSelectors[d.Selector] = true
	}

	results := make([]chunkResult, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	for i, chunk := range chunks {
		g.Go(func() error {
			cr, err := m.mapChunk(gctx, i, chunk, in, pageSelectors)
			if err != nil {
				return err
			}
			results[i] = cr
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, fmt.Errorf("mapper: %w", err)
	}

	// Merge: straight union keyed by selector, higher confidence wins a
	// duplicate.
	merged := map[string]modelEntry{}
	chunkOf := map[string]int{}
	for i, cr := range results {
		res.Retries += cr.retries
		res.InputTokens += cr.tokens
		if cr.failure != nil {
			res.Failures = append(res.Failures, *cr.failure)
		}
		for _, e := range cr.entries {
			prev, dup := merged[e.Selector]
			if !dup {
				merged[e.Selector] = e
				chunkOf[e.Selector] = i
				continue
			}
			kept, dropped := prev, e
			if e.Confidence > prev.Confidence {
				kept, dropped = e, prev
				chunkOf[e.Selector] = i
			}
			merged[e.Selector] = kept
			res.Collisions = append(res.Collisions, Collision{
				Selector: e.Selector, Kept: kept.Confidence, Dropped: dropped.Confidence,
			})
			m.cfg.Logger.Warn("mapper: selector collision",
				zap.String("selector", e.Selector),
				zap.Float64("kept", kept.Confidence),
				zap.Float64("dropped", dropped.Confidence))
		}
	}

	matcher := newMatcher(m.cfg.Synonyms, in.Synonyms)
	chunkIndex := map[string]int{}
	for i, chunk := range chunks {
		for _, d := range chunk {
			chunkIndex[d.Selector] = i
		}
	}
	for _, d := range in.Fields {
		mp := Mapping{
			Selector:    d.Selector,
			ControlType: d.ControlType,
			Required:    d.Required,
			Label:       d.DisplayName(),
			Chunk:       chunkIndex[d.Selector],
		}
		e, answered := merged[d.Selector]
		if answered && e.Value != "" {
			mp.SemanticKey = e.SemanticKey
			mp.Value = e.Value
			mp.Confidence = e.Confidence
			mp.Source = SourceLLM
			mp.Chunk = chunkOf[d.Selector]
		} else if key, val, ok := matcher.match(d, in.Candidate); ok {
			mp.SemanticKey = key
			mp.Value = val
			mp.Confidence = m.cfg.FallbackConfidence
			mp.Source = SourceFallback
		} else {
			mp.Source = SourceUnresolved
			mp.SemanticKey = e.SemanticKey
		}
		res.Mappings = append(res.Mappings, mp)
	}

	m.cfg.Logger.Info("mapper: mapped page",
		zap.Int("fields", len(in.Fields)),
		zap.Int("chunks", res.Chunks),
		zap.Int("retries", res.Retries),
		zap.Int("fallback_chunks", len(res.Failures)),
		zap.Int("unresolved", len(res.Unresolved())))
	return res, nil
}

// mapChunk asks the model for one chunk, retrying malformed answers.
func (m *Mapper) mapChunk(ctx context.Context, idx int, chunk []fields.Descriptor, in Input, page map[string]bool) (chunkResult, error) {
	var cr chunkResult
	req, tokens := m.buildRequest(chunk, in)
	cr.tokens = tokens

	selectors := make([]string, len(chunk))
	for i, d := range chunk {
		selectors[i] = d.Selector
	}
	fail := func(kind string, err error) chunkResult {
		cr.failure = &ChunkFailure{Chunk: idx, Kind: kind, Selectors: selectors, Err: err.Error()}
		return cr
	}

	for attempt := 0; ; attempt++ {
		resp, err := m.llm.Complete(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return cr, ctx.Err()
			}
			m.cfg.Logger.Warn("mapper: model call failed, using rules",
				zap.Int("chunk", idx), zap.Error(err))
			return fail("llm-error", err), nil
		}
		entries, err := parseReply(resp, page)
		if err == nil {
			cr.entries = entries
			return cr, nil
		}
		if attempt >= m.cfg.MalformedRetries {
			m.cfg.Logger.Warn("mapper: malformed output after retry, using rules",
				zap.Int("chunk", idx), zap.Error(err))
			return fail("malformed", err), nil
		}
		cr.retries++
		m.cfg.Logger.Info("mapper: malformed output, retrying",
			zap.Int("chunk", idx), zap.Int("attempt", attempt+1), zap.Error(err))
		req.Prompt = req.Prompt + retryNote
	}
}
