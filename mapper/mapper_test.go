package mapper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"unicode/utf8"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hazyhaar/applyflow/candidate"
	"github.com/hazyhaar/applyflow/fields"
	"github.com/hazyhaar/applyflow/llm"
)

// promptFields recovers the field payload from a rendered prompt.
func promptFields(t *testing.T, prompt string) []promptField {
	t.Helper()
	lines := strings.Split(prompt, "\n")
	for i, l := range lines {
		if strings.HasPrefix(l, "FIELDS (") && i+1 < len(lines) {
			var pf []promptField
			require.NoError(t, json.Unmarshal([]byte(lines[i+1]), &pf))
			return pf
		}
	}
	t.Fatalf("no FIELDS section in prompt")
	return nil
}

// echoModel answers every field with value "v:<name>" at confidence 0.9.
func echoModel(t *testing.T, calls *atomic.Int32) llm.Completer {
	return llm.CompleterFunc(func(_ context.Context, req llm.Request) (llm.Completion, error) {
		calls.Add(1)
		var entries []map[string]any
		for _, f := range promptFields(t, req.Prompt) {
			entries = append(entries, map[string]any{
				"selector": f.Selector, "semantic_key": f.Name,
				"control_type": f.Type, "value": "v:" + f.Name, "confidence": 0.9,
			})
		}
		b, _ := json.Marshal(map[string]any{"mappings": entries})
		return llm.Completion{Text: string(b)}, nil
	})
}

func makeFields(n int) []fields.Descriptor {
	out := make([]fields.Descriptor, n)
	for i := range out {
		out[i] = fields.Descriptor{
			Selector:    fmt.Sprintf("#f-%d", i),
			Name:        fmt.Sprintf("q%d", i),
			Label:       fmt.Sprintf("Question %d", i),
			ControlType: fields.Text,
			Required:    i%2 == 0,
		}
	}
	return out
}

func surface() *candidate.Surface {
	return candidate.NewSurface(map[string]string{
		candidate.FirstName: "Ada", candidate.LastName: "Lovelace",
		candidate.FullName: "Ada Lovelace", candidate.Email: "ada@example.com",
		candidate.Phone: "+44 20 7946 0000", candidate.CurrentCompany: "Analytical Engines",
		candidate.LinkedInURL: "https://linkedin.com/in/ada", candidate.Resume: "/data/ada.pdf",
		candidate.City: "London",
	})
}

func TestPartition(t *testing.T) {
	sizes := func(chunks [][]fields.Descriptor) []int {
		var out []int
		for _, c := range chunks {
			out = append(out, len(c))
		}
		return out
	}
	assert.Nil(t, Partition(nil, 30, 20))
	assert.Equal(t, []int{30}, sizes(Partition(makeFields(30), 30, 20)))
	assert.Equal(t, []int{20, 11}, sizes(Partition(makeFields(31), 30, 20)))
	assert.Equal(t, []int{20, 20, 5}, sizes(Partition(makeFields(45), 30, 20)))
}

func TestMap_ChunkingEquivalence(t *testing.T) {
	in := Input{Fields: makeFields(45), Candidate: surface()}

	var chunkedCalls, singleCalls atomic.Int32
	chunked, err := New(echoModel(t, &chunkedCalls), Config{}).Map(context.Background(), in)
	require.NoError(t, err)
	single, err := New(echoModel(t, &singleCalls), Config{SingleBatchMax: 100}).Map(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, int32(3), chunkedCalls.Load())
	assert.Equal(t, int32(1), singleCalls.Load())
	assert.Equal(t, 3, chunked.Chunks)

	bySelector := func(r Result) map[string]Mapping {
		out := map[string]Mapping{}
		for _, m := range r.Mappings {
			_, dup := out[m.Selector]
			require.False(t, dup, "duplicate selector %s", m.Selector)
			out[m.Selector] = m
		}
		return out
	}
	a, b := bySelector(chunked), bySelector(single)
	require.Len(t, a, 45)
	if diff := cmp.Diff(a, b,
		cmpopts.IgnoreFields(Mapping{}, "Chunk"),
		cmpopts.EquateApprox(0, 0.001)); diff != "" {
		t.Fatalf("chunked and single-batch results differ:\n%s", diff)
	}
	for _, d := range in.Fields {
		assert.Equal(t, SourceLLM, a[d.Selector].Source)
	}
}

// Malformed once, valid on retry: source llm, one retry, no failure.
func TestMap_MalformedThenValid(t *testing.T) {
	var calls atomic.Int32
	valid := echoModel(t, &atomic.Int32{})
	model := llm.CompleterFunc(func(ctx context.Context, req llm.Request) (llm.Completion, error) {
		if calls.Add(1) == 1 {
			return llm.Completion{Text: `Sure! Here are the mappings: {"mappings": [{"selector": "#f-0", "value": `}, nil
		}
		assert.Contains(t, req.Prompt, "not valid JSON")
		return valid.Complete(ctx, req)
	})

	res, err := New(model, Config{}).Map(context.Background(), Input{Fields: makeFields(3), Candidate: surface()})
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, 1, res.Retries)
	assert.Empty(t, res.Failures)
	for _, m := range res.Mappings {
		assert.Equal(t, SourceLLM, m.Source)
	}
}

func TestMap_MalformedTwiceFallsBack(t *testing.T) {
	var calls atomic.Int32
	model := llm.CompleterFunc(func(context.Context, llm.Request) (llm.Completion, error) {
		calls.Add(1)
		return llm.Completion{Text: "I am unable to comply."}, nil
	})
	descs := []fields.Descriptor{
		{Selector: "#fn", Label: "First Name", ControlType: fields.Text, Required: true},
		{Selector: "#mail", Name: "candidate_email", ControlType: fields.Email, Required: true},
		{Selector: "#cv", Label: "Resume/CV", ControlType: fields.File, Required: true},
		{Selector: "#essay", Label: "Describe a hard problem", ControlType: fields.Textarea, Required: true},
		{Selector: "#opt", Label: "Anything else?", ControlType: fields.Textarea},
	}
	res, err := New(model, Config{}).Map(context.Background(), Input{Fields: descs, Candidate: surface()})
	require.NoError(t, err)

	assert.Equal(t, int32(2), calls.Load(), "one retry, no more")
	assert.Equal(t, 1, res.Retries)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "malformed", res.Failures[0].Kind)
	assert.Len(t, res.Failures[0].Selectors, 5)

	require.Len(t, res.Mappings, 5)
	want := []struct {
		src Source
		key string
		val string
	}{
		{SourceFallback, candidate.FirstName, "Ada"},
		{SourceFallback, candidate.Email, "ada@example.com"},
		{SourceFallback, candidate.Resume, "/data/ada.pdf"},
		{SourceUnresolved, "", ""},
		{SourceUnresolved, "", ""},
	}
	for i, w := range want {
		m := res.Mappings[i]
		assert.Equal(t, w.src, m.Source, m.Selector)
		assert.Equal(t, w.key, m.SemanticKey, m.Selector)
		assert.Equal(t, w.val, m.Value, m.Selector)
		if w.src == SourceFallback {
			assert.Equal(t, 0.7, m.Confidence)
		}
	}
	assert.Len(t, res.Unresolved(), 2)
	assert.True(t, res.Mappings[3].Required)
}

func TestMap_TruncatedIsMalformed(t *testing.T) {
	var calls atomic.Int32
	model := llm.CompleterFunc(func(context.Context, llm.Request) (llm.Completion, error) {
		calls.Add(1)
		return llm.Completion{Text: `{"mappings":[]}`, Truncated: true}, nil
	})
	res, err := New(model, Config{}).Map(context.Background(), Input{Fields: makeFields(2)})
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	require.Len(t, res.Failures, 1)
	assert.Contains(t, res.Failures[0].Err, "truncated")
}

func TestMap_ModelErrorFallsBackWithoutRetry(t *testing.T) {
	var calls atomic.Int32
	model := llm.CompleterFunc(func(context.Context, llm.Request) (llm.Completion, error) {
		calls.Add(1)
		return llm.Completion{}, errors.New("governor: circuit open")
	})
	res, err := New(model, Config{}).Map(context.Background(), Input{
		Fields:    []fields.Descriptor{{Selector: "#e", Label: "Email", ControlType: fields.Email}},
		Candidate: surface(),
	})
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, "llm-error", res.Failures[0].Kind)
	assert.Equal(t, SourceFallback, res.Mappings[0].Source)
}

func TestMap_EmptyValueForRequiredFieldFallsBack(t *testing.T) {
	model := llm.CompleterFunc(func(context.Context, llm.Request) (llm.Completion, error) {
		return llm.Completion{Text: `{"mappings":[
			{"selector":"#e","semantic_key":"email","value":"","confidence":0.3},
			{"selector":"#n","semantic_key":"first_name","value":"Ada","confidence":0.95},
			{"selector":"#c","semantic_key":"consent","value":true,"confidence":0.9},
		]}`}, nil
	})
	res, err := New(model, Config{}).Map(context.Background(), Input{
		Fields: []fields.Descriptor{
			{Selector: "#e", Label: "Email", ControlType: fields.Email, Required: true},
			{Selector: "#n", Label: "First name", ControlType: fields.Text, Required: true},
			{Selector: "#c", Label: "I agree", ControlType: fields.Checkbox, Required: true},
		},
		Candidate: surface(),
	})
	require.NoError(t, err)
	assert.Empty(t, res.Failures)
	assert.Equal(t, SourceFallback, res.Mappings[0].Source)
	assert.Equal(t, "ada@example.com", res.Mappings[0].Value)
	assert.Equal(t, SourceLLM, res.Mappings[1].Source)
	assert.Equal(t, "true", res.Mappings[2].Value)
}

func TestMap_CollisionKeepsHigherConfidence(t *testing.T) {
	var mu sync.Mutex
	model := llm.CompleterFunc(func(_ context.Context, req llm.Request) (llm.Completion, error) {
		mu.Lock()
		defer mu.Unlock()
		pf := promptFields(t, req.Prompt)
		var entries []map[string]any
		for _, f := range pf {
			entries = append(entries, map[string]any{"selector": f.Selector, "semantic_key": f.Name, "value": "own", "confidence": 0.8})
		}
		if pf[0].Selector == "#f-0" {
			// The first chunk also answers a field of the second chunk.
			entries = append(entries, map[string]any{"selector": "#f-25", "semantic_key": "x", "value": "foreign", "confidence": 0.99})
		}
		b, _ := json.Marshal(map[string]any{"mappings": entries})
		return llm.Completion{Text: string(b)}, nil
	})
	res, err := New(model, Config{}).Map(context.Background(), Input{Fields: makeFields(40)})
	require.NoError(t, err)
	require.Len(t, res.Collisions, 1)
	assert.Equal(t, "#f-25", res.Collisions[0].Selector)
	assert.Equal(t, 0.99, res.Collisions[0].Kept)
	assert.Equal(t, "foreign", res.Mappings[25].Value)
	assert.Equal(t, 0, res.Mappings[25].Chunk)
	assert.Len(t, res.Mappings, 40)
}

func TestMap_PromptBudget(t *testing.T) {
	var prompt string
	model := llm.CompleterFunc(func(_ context.Context, req llm.Request) (llm.Completion, error) {
		prompt = req.Prompt
		return llm.Completion{Text: `{"mappings":[]}`}, nil
	})
	descs := makeFields(5)
	for i := range descs {
		descs[i].NearbyText = strings.Repeat("surrounding words ", 20)
	}
	doc := &candidate.Document{Text: strings.Repeat("resume text ", 500)}

	res, err := New(model, Config{MaxInputTokens: 300}).Map(context.Background(),
		Input{Fields: descs, Candidate: surface(), Document: doc})
	require.NoError(t, err)
	assert.NotContains(t, prompt, "RESUME EXCERPT")
	assert.NotContains(t, prompt, "surrounding words")
	assert.NotContains(t, prompt, "<")
	assert.Positive(t, res.InputTokens)

	_, err = New(model, Config{}).Map(context.Background(),
		Input{Fields: descs, Candidate: surface(), Document: doc})
	require.NoError(t, err)
	assert.Contains(t, prompt, "RESUME EXCERPT")
	assert.Contains(t, prompt, "surrounding words")
}

func TestMap_ForeignSelectorsOnlyIsMalformed(t *testing.T) {
	var calls atomic.Int32
	model := llm.CompleterFunc(func(context.Context, llm.Request) (llm.Completion, error) {
		calls.Add(1)
		return llm.Completion{Text: `[{"selector":"#nope","value":"x","confidence":0.9}]`}, nil
	})
	res, err := New(model, Config{}).Map(context.Background(), Input{Fields: makeFields(1)})
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	assert.Len(t, res.Failures, 1)
}

func TestMap_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	model := llm.CompleterFunc(func(ctx context.Context, _ llm.Request) (llm.Completion, error) {
		cancel()
		return llm.Completion{}, ctx.Err()
	})
	_, err := New(model, Config{}).Map(ctx, Input{Fields: makeFields(2)})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMatcher(t *testing.T) {
	m := newMatcher(map[string][]string{"basic_qualifications": {"qualifications"}})
	s := candidate.NewSurface(map[string]string{
		candidate.FirstName: "Ada", candidate.LastName: "Lovelace", candidate.FullName: "Ada Lovelace",
		candidate.State: "CA", candidate.CurrentCompany: "AE", candidate.LinkedInURL: "li",
		candidate.Resume: "/cv.pdf", "basic_qualifications": "Yes",
	})
	tests := []struct {
		d    fields.Descriptor
		want string
	}{
		{fields.Descriptor{Label: "First Name"}, candidate.FirstName},
		{fields.Descriptor{Name: "job_application[last_name]"}, candidate.LastName},
		{fields.Descriptor{Label: "Name"}, candidate.FullName},
		{fields.Descriptor{Label: "Company name"}, candidate.CurrentCompany},
		{fields.Descriptor{Label: "LinkedIn URL"}, candidate.LinkedInURL},
		{fields.Descriptor{Label: "Basic Qualifications"}, "basic_qualifications"},
		{fields.Descriptor{Label: "State"}, candidate.State},
		{fields.Descriptor{Label: "Personal statement"}, ""},
		{fields.Descriptor{Label: "Resume/CV", ControlType: fields.File}, candidate.Resume},
		{fields.Descriptor{Label: "Resume summary", ControlType: fields.Textarea}, ""},
		{fields.Descriptor{Selector: "#firstname"}, candidate.FirstName},
		{fields.Descriptor{NearbyText: "Your first name as on your passport"}, candidate.FirstName},
	}
	for _, tt := range tests {
		key, _, ok := m.match(tt.d, s)
		if tt.want == "" {
			assert.False(t, ok, "%+v matched %s", tt.d, key)
			continue
		}
		assert.True(t, ok, "%+v", tt.d)
		assert.Equal(t, tt.want, key, "%+v", tt.d)
	}
}

func TestCut(t *testing.T) {
	s := "a" + strings.Repeat("é", 50)
	got := cut(s, 80)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, "a"+strings.Repeat("é", 39), got)
	assert.Equal(t, "short", cut("short", 80))
}
