package cta_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hazyhaar/applyflow/cta"
	"github.com/hazyhaar/applyflow/llm"
)

func TestResolve_SingleApplyNow(t *testing.T) {
	r := cta.NewResolver(cta.Config{})
	d := r.Resolve([]cta.Candidate{{Text: "Apply Now", Tag: "button", Selector: "#apply"}})
	require.NotNil(t, d.Chosen)
	assert.False(t, d.Escalate)
	assert.Equal(t, "#apply", d.Chosen.Selector)
	assert.InDelta(t, 0.9, d.Chosen.Confidence, 0.001)
	assert.Equal(t, cta.TierText, d.Chosen.Tier)
	assert.Equal(t, 1, d.Chosen.Rank)
}

func TestResolve_TierOrdering(t *testing.T) {
	r := cta.NewResolver(cta.Config{})
	ranked := r.Rank([]cta.Candidate{
		{Text: "Learn more", Selector: "a", Order: 0},
		{Text: "Continue", Href: "https://x.test/jobs/1/apply", Selector: "url", Order: 1},
		{Text: "Go", AriaLabel: "Apply to this role", Selector: "aria", Order: 2},
		{Text: "Apply for this job", Selector: "text", Order: 3},
	})
	var order []string
	for _, c := range ranked {
		order = append(order, c.Selector)
	}
	assert.Equal(t, []string{"text", "aria", "url", "a"}, order)
	assert.Equal(t, cta.TierNone, ranked[3].Tier)
	assert.Zero(t, ranked[3].Confidence)
}

func TestResolve_ExclusionsRemoved(t *testing.T) {
	r := cta.NewResolver(cta.Config{})
	ranked := r.Rank([]cta.Candidate{
		{Text: "Sign in to apply"},
		{Text: "Accept cookies"},
		{Text: "Privacy policy"},
		{Text: "Register and apply"},
	})
	assert.Empty(t, ranked)
}

func TestResolve_EscalatesBelowThreshold(t *testing.T) {
	tests := []struct {
		name  string
		cands []cta.Candidate
	}{
		{"none", nil},
		{"unrelated", []cta.Candidate{{Text: "Read our blog"}, {Text: "Share"}}},
		{"dominant only", []cta.Candidate{
			{Text: "Continue", Prominence: 0.9, Isolated: true},
			{Text: "Back", Prominence: 0.2},
		}},
		{"model says unlikely", []cta.Candidate{{Text: "Apply", ModelRank: 1, ModelConfidence: 0.4}}},
	}
	r := cta.NewResolver(cta.Config{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := r.Resolve(tt.cands)
			assert.True(t, d.Escalate)
			assert.Nil(t, d.Chosen)
			assert.NotEmpty(t, d.Reason)
		})
	}
}

func TestResolve_ModelRankFirst(t *testing.T) {
	r := cta.NewResolver(cta.Config{})
	d := r.Resolve([]cta.Candidate{
		{Text: "Apply", Selector: "heuristic-best"},
		{Text: "I'm ready", Selector: "model-pick", ModelRank: 1, ModelConfidence: 0.85},
	})
	require.NotNil(t, d.Chosen)
	assert.Equal(t, "model-pick", d.Chosen.Selector)
	assert.Equal(t, 0.85, d.Chosen.Confidence)
}

func TestResolve_ConfigurableThreshold(t *testing.T) {
	r := cta.NewResolver(cta.Config{MinConfidence: 0.95})
	d := r.Resolve([]cta.Candidate{{Text: "Apply now"}})
	assert.True(t, d.Escalate)
	assert.Equal(t, 0.95, r.MinConfidence())
}

func TestResolve_LocalizedAndCustomVocabulary(t *testing.T) {
	r := cta.NewResolver(cta.Config{ApplyVocabulary: []string{"Join the team"}})
	for _, text := range []string{"Postuler", "Jetzt bewerben", "Join the team"} {
		d := r.Resolve([]cta.Candidate{{Text: text}})
		require.NotNil(t, d.Chosen, text)
		assert.GreaterOrEqual(t, d.Chosen.Confidence, 0.6)
	}
}

func TestResolve_ProminenceBreaksTies(t *testing.T) {
	r := cta.NewResolver(cta.Config{})
	ranked := r.Rank([]cta.Candidate{
		{Text: "Apply", Selector: "small", Prominence: 0.2, Order: 0},
		{Text: "Apply", Selector: "big", Prominence: 0.8, Isolated: true, Order: 1},
	})
	assert.Equal(t, "big", ranked[0].Selector)
}

func TestModelRanker_Annotate(t *testing.T) {
	fake := llm.CompleterFunc(func(_ context.Context, req llm.Request) (llm.Completion, error) {
		assert.Equal(t, "rank_cta", req.Purpose)
		assert.Contains(t, req.Prompt, `text="Start"`)
		return llm.Completion{Text: "```json\n{\"ranking\":[{\"index\":1,\"confidence\":0.92},{\"index\":7,\"confidence\":1}]}\n```"}, nil
	})
	m := &cta.ModelRanker{Completer: fake}
	in := []cta.Candidate{{Text: "Home"}, {Text: "Start"}}
	out, err := m.Annotate(context.Background(), "Job", in)
	require.NoError(t, err)
	assert.Equal(t, 1, out[1].ModelRank)
	assert.Equal(t, 0.92, out[1].ModelConfidence)
	assert.Zero(t, out[0].ModelRank)
	// Input untouched.
	assert.Zero(t, in[1].ModelRank)
}

func TestModelRanker_FailureKeepsHeuristics(t *testing.T) {
	fake := llm.CompleterFunc(func(context.Context, llm.Request) (llm.Completion, error) {
		return llm.Completion{}, errors.New("unavailable")
	})
	m := &cta.ModelRanker{Completer: fake}
	in := []cta.Candidate{{Text: "Apply"}}
	out, err := m.Annotate(context.Background(), "Job", in)
	assert.Error(t, err)
	assert.Equal(t, in, out)
}

func TestResolve_ReasonKeepsRunes(t *testing.T) {
	r := cta.NewResolver(cta.Config{})
	d := r.Resolve([]cta.Candidate{{Text: "a" + strings.Repeat("é", 40)}})
	require.True(t, d.Escalate)
	assert.True(t, utf8.ValidString(d.Reason), d.Reason)
	assert.Contains(t, d.Reason, "...")
}
