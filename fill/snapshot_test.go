package fill_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hazyhaar/applyflow/fields"
	"github.com/hazyhaar/applyflow/fill"
	"github.com/hazyhaar/applyflow/mapper"
)

const groupedForm = `<html><body><form>
 <fieldset>
   <legend>Are you legally authorized to work in the US?</legend>
   <label><input type="radio" name="auth" value="yes" required> Yes</label>
   <label><input type="radio" name="auth" value="no"> No</label>
 </fieldset>
 <div role="radiogroup" aria-label="Will you require sponsorship?">
   <div role="radio" aria-checked="false">Yes</div>
   <div role="radio" aria-checked="false">No</div>
 </div>
 <label for="state">State</label>
 <div id="state" role="combobox" aria-controls="state-list" aria-required="true"></div>
 <ul id="state-list" role="listbox">
   <li role="option">Pennsylvania</li>
   <li role="option">New York</li>
 </ul>
 <label for="country">Country</label>
 <select id="country" name="country" required>
   <option value="">Choose</option><option value="us">United States</option><option value="ca">Canada</option>
 </select>
</form></body></html>`

func extractGrouped(t *testing.T) (*fields.HTMLSource, map[string]fields.Descriptor) {
	t.Helper()
	src, err := fields.FromHTML(groupedForm)
	require.NoError(t, err)
	ds, err := fields.NewExtractor(fields.Config{}).Extract(context.Background(), src)
	require.NoError(t, err)
	require.Len(t, ds, 4)
	byLabel := map[string]fields.Descriptor{}
	for _, d := range ds {
		byLabel[d.DisplayName()] = d
	}
	return src, byLabel
}

func TestSnapshot_RadioGroupBehindContainer(t *testing.T) {
	ctx := context.Background()
	src, ds := extractGrouped(t)
	auth := ds["Are you legally authorized to work in the US?"]
	require.Equal(t, fields.Radio, auth.ControlType)
	assert.True(t, auth.Required)

	page := fill.NewSnapshot(src)
	n, err := page.Count(ctx, auth.Selector)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	opts, err := page.Options(ctx, auth.Selector)
	require.NoError(t, err)
	assert.Equal(t, []string{"Yes", "No"}, opts)

	st, err := page.Validate(ctx, auth.Selector)
	require.NoError(t, err)
	assert.False(t, st.Valid, "required group with nothing checked")

	require.NoError(t, page.Write(ctx, auth.Selector, fields.Radio, "Yes"))
	st, err = page.Validate(ctx, auth.Selector)
	require.NoError(t, err)
	assert.True(t, st.Valid)
	assert.Equal(t, "Yes", st.Value)
}

func TestSnapshot_ApplyGroupedControls(t *testing.T) {
	ctx := context.Background()
	src, ds := extractGrouped(t)
	page := fill.NewSnapshot(src)
	f, mem := setup(page)

	choice := func(d fields.Descriptor, v string) mapper.Mapping {
		return mapper.Mapping{Selector: d.Selector, SemanticKey: "k", ControlType: d.ControlType, Value: v,
			Confidence: 0.9, Source: mapper.SourceLLM, Required: d.Required, Label: d.DisplayName()}
	}
	auth := ds["Are you legally authorized to work in the US?"]
	sponsor := ds["Will you require sponsorship?"]
	state := ds["State"]
	country := ds["Country"]

	rep, err := f.Apply(ctx, target, []mapper.Mapping{
		choice(auth, "yes"),
		choice(sponsor, "false"),
		choice(state, "NY"),
		choice(country, "USA"),
	})
	require.NoError(t, err)
	assert.Len(t, rep.Filled, 4)
	assert.Empty(t, rep.Skipped)
	assert.Empty(t, mem.Errors(""))

	ready, unresolved := f.Gate(ctx, target, rep)
	assert.True(t, ready)
	assert.Empty(t, unresolved)

	for sel, want := range map[string]string{
		auth.Selector:    "Yes",
		sponsor.Selector: "No",
		state.Selector:   "New York",
		country.Selector: "United States",
	} {
		st, err := page.Validate(ctx, sel)
		require.NoError(t, err)
		assert.Equal(t, want, st.Value, sel)
	}
}

func TestSnapshot_UnknownOptionRejected(t *testing.T) {
	ctx := context.Background()
	src, ds := extractGrouped(t)
	page := fill.NewSnapshot(src)
	state := ds["State"]

	assert.Error(t, page.Write(ctx, state.Selector, fields.Select, "Texas"))
	st, err := page.Validate(ctx, state.Selector)
	require.NoError(t, err)
	assert.False(t, st.Valid)
}
