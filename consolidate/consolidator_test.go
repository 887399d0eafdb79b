package consolidate

import (
	"errors"
	"testing"

	"github.com/poiesic/attrcat/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rec(feed string, line int, fields map[string]string) core.SourceRecord {
	return core.SourceRecord{Feed: feed, Line: line, Fields: fields}
}

func feedA(records ...core.SourceRecord) Feed {
	return Feed{
		Spec: FeedSpec{
			ID:               "A",
			IdentifierFields: []string{"attributename", "name"},
			Fields:           map[string]string{"description": "description"},
			Tags:             map[string]string{"domain": "domain", "criticality": "criticality"},
		},
		Records: records,
	}
}

func feedB(records ...core.SourceRecord) Feed {
	return Feed{
		Spec: FeedSpec{
			ID:               "B",
			IdentifierFields: []string{"attribute_name"},
			Fields:           map[string]string{"desc": "description"},
			Tags:             map[string]string{"business_domain": "domain"},
			Rules:            []string{"data_quality_rule"},
		},
		Records: records,
	}
}

func newTestConsolidator(t *testing.T) *Consolidator {
	t.Helper()
	c, err := New()
	require.NoError(t, err)
	return c
}

func TestConsolidate_EndToEndScenario(t *testing.T) {
	c := newTestConsolidator(t)

	res, err := c.Consolidate([]Feed{
		feedA(rec("A", 1, map[string]string{"attributename": "Customer", "domain": "Retail"})),
		feedB(rec("B", 1, map[string]string{"attribute_name": "customer", "data_quality_rule": "must have account_number"})),
	})
	require.NoError(t, err)

	require.Len(t, res.Entities, 1)
	e := res.Get("customer")
	require.NotNil(t, e)
	assert.Equal(t, "customer", e.Key)
	assert.Equal(t, "Customer", e.DisplayName)
	assert.Equal(t, "Retail", e.Tags["domain"])
	assert.Equal(t, core.DefaultCriticality, e.Tags["criticality"])
	assert.Equal(t, []string{"must have account_number"}, e.Rules)
	assert.Equal(t, []string{"A", "B"}, e.Provenance)
	assert.Empty(t, res.Rejected)
	assert.Empty(t, res.Diagnostics)
	assert.Equal(t, 2, res.Records)
}

func TestConsolidate_Precedence(t *testing.T) {
	c := newTestConsolidator(t)

	t.Run("earlier feed scalar is never overwritten", func(t *testing.T) {
		res, err := c.Consolidate([]Feed{
			feedA(rec("A", 1, map[string]string{"attributename": "Customer", "domain": "Retail", "description": "from A"})),
			feedB(rec("B", 1, map[string]string{"attribute_name": "CUSTOMER", "business_domain": "Finance", "desc": "from B"})),
		})
		require.NoError(t, err)

		e := res.Get("customer")
		require.NotNil(t, e)
		assert.Equal(t, "Retail", e.Tags["domain"])
		assert.Equal(t, "from A", e.Fields["description"])
		assert.Equal(t, "Customer", e.DisplayName)
	})

	t.Run("later feed fills fields missing in the earlier one", func(t *testing.T) {
		res, err := c.Consolidate([]Feed{
			feedA(rec("A", 1, map[string]string{"attributename": "Customer", "description": "  "})),
			feedB(rec("B", 1, map[string]string{"attribute_name": "customer", "business_domain": "Finance", "desc": "from B"})),
		})
		require.NoError(t, err)

		e := res.Get("customer")
		require.NotNil(t, e)
		assert.Equal(t, "Finance", e.Tags["domain"])
		assert.Equal(t, "from B", e.Fields["description"])
	})

	t.Run("first record wins within one feed", func(t *testing.T) {
		res, err := c.Consolidate([]Feed{
			feedA(
				rec("A", 1, map[string]string{"attributename": "Customer", "domain": "Retail"}),
				rec("A", 2, map[string]string{"attributename": "customer ", "domain": "Finance"}),
			),
		})
		require.NoError(t, err)
		assert.Equal(t, "Retail", res.Get("customer").Tags["domain"])
	})
}

func TestConsolidate_Idempotent(t *testing.T) {
	c := newTestConsolidator(t)
	input := func() []Feed {
		return []Feed{
			feedA(
				rec("A", 1, map[string]string{"attributename": "Customer", "domain": "Retail"}),
				rec("A", 2, map[string]string{"name": "Order Id", "criticality": "High"}),
			),
			feedB(
				rec("B", 1, map[string]string{"attribute_name": "customer", "data_quality_rule": "must have account_number"}),
				rec("B", 2, map[string]string{"attribute_name": "customer", "data_quality_rule": "must have account_number"}),
				rec("B", 3, map[string]string{"attribute_name": "Ship Date", "data_quality_rule": "not in the future"}),
			),
		}
	}

	first, err := c.Consolidate(input())
	require.NoError(t, err)
	second, err := c.Consolidate(input())
	require.NoError(t, err)

	assert.Equal(t, first.Entities, second.Entities)
	assert.Equal(t, []string{"must have account_number"}, first.Get("customer").Rules)
}

func TestConsolidate_Rules(t *testing.T) {
	c := newTestConsolidator(t)

	t.Run("concatenated in arrival order and deduplicated by exact match", func(t *testing.T) {
		res, err := c.Consolidate([]Feed{
			feedB(
				rec("B", 1, map[string]string{"attribute_name": "customer", "data_quality_rule": "must be unique"}),
				rec("B", 2, map[string]string{"attribute_name": "customer", "data_quality_rule": "Must Be Unique"}),
				rec("B", 3, map[string]string{"attribute_name": "customer", "data_quality_rule": "must be unique"}),
				rec("B", 4, map[string]string{"attribute_name": "customer", "data_quality_rule": ""}),
			),
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"must be unique", "Must Be Unique"}, res.Get("customer").Rules)
	})

	t.Run("separator splits one field into several rules", func(t *testing.T) {
		f := feedB(rec("B", 1, map[string]string{"attribute_name": "customer", "data_quality_rule": "not null; unique ;;not null"}))
		f.Spec.RuleSeparator = ";"

		res, err := c.Consolidate([]Feed{f})
		require.NoError(t, err)
		assert.Equal(t, []string{"not null", "unique"}, res.Get("customer").Rules)
	})
}

func TestConsolidate_TagDefaults(t *testing.T) {
	t.Run("defaults applied only when no source supplies the tag", func(t *testing.T) {
		c := newTestConsolidator(t)
		res, err := c.Consolidate([]Feed{
			feedA(rec("A", 1, map[string]string{"attributename": "Customer"})),
			feedB(rec("B", 1, map[string]string{"attribute_name": "customer", "business_domain": "Retail"})),
		})
		require.NoError(t, err)

		e := res.Get("customer")
		assert.Equal(t, "Retail", e.Tags["domain"])
		assert.Equal(t, core.DefaultCriticality, e.Tags["criticality"])
	})

	t.Run("custom defaults", func(t *testing.T) {
		c, err := New(WithDefaultTags(map[string]string{"steward": "Unassigned"}))
		require.NoError(t, err)

		res, err := c.Consolidate([]Feed{feedA(rec("A", 1, map[string]string{"attributename": "Customer"}))})
		require.NoError(t, err)

		e := res.Get("customer")
		assert.Equal(t, "Unassigned", e.Tags["steward"])
		assert.NotContains(t, e.Tags, "domain")
	})
}

func TestConsolidate_RejectsRecordsWithoutIdentifier(t *testing.T) {
	c := newTestConsolidator(t)

	res, err := c.Consolidate([]Feed{
		feedA(
			rec("A", 1, map[string]string{"domain": "Retail"}),
			rec("A", 2, map[string]string{"attributename": "   ", "name": ""}),
			rec("A", 3, map[string]string{"name": "Customer"}),
		),
	})
	require.NoError(t, err)

	require.Len(t, res.Rejected, 2)
	assert.Equal(t, 1, res.Rejected[0].Line)
	assert.Equal(t, 2, res.Rejected[1].Line)
	assert.True(t, errors.Is(res.Rejected[0], core.ErrRecord))
	assert.True(t, errors.Is(res.Rejected[0], core.ErrMissingIdentifier))
	require.Len(t, res.Entities, 1)
	assert.Equal(t, "customer", res.Entities[0].Key)
}

func TestConsolidate_DiagnosticForLowerPrecedenceKey(t *testing.T) {
	c := newTestConsolidator(t)

	res, err := c.Consolidate([]Feed{
		feedA(rec("A", 1, map[string]string{"attributename": "Customer"})),
		feedB(rec("B", 7, map[string]string{"attribute_name": "Invoice Total", "desc": "sum of lines"})),
	})
	require.NoError(t, err)

	require.Len(t, res.Diagnostics, 1)
	assert.Equal(t, Diagnostic{
		Key:     "invoice total",
		Feed:    "B",
		Line:    7,
		Message: "key not present in any higher-precedence feed",
	}, res.Diagnostics[0])

	e := res.Get("Invoice  Total")
	require.NotNil(t, e)
	assert.Equal(t, core.DefaultDomain, e.Tags["domain"])
	assert.Equal(t, "sum of lines", e.Fields["description"])
	assert.Equal(t, []string{"B"}, e.Provenance)
}

func TestConsolidate_KeepUnmapped(t *testing.T) {
	c := newTestConsolidator(t)
	f := feedA(rec("A", 1, map[string]string{"attributename": "Customer", "data_type": "string", "domain": "Retail"}))
	f.Spec.KeepUnmapped = true

	res, err := c.Consolidate([]Feed{f})
	require.NoError(t, err)

	e := res.Get("customer")
	assert.Equal(t, "string", e.Fields["data_type"])
	assert.NotContains(t, e.Fields, "attributename")
	assert.NotContains(t, e.Fields, "domain")
}

func TestConsolidate_SortedOutput(t *testing.T) {
	c := newTestConsolidator(t)
	res, err := c.Consolidate([]Feed{
		feedA(
			rec("A", 1, map[string]string{"attributename": "zip"}),
			rec("A", 2, map[string]string{"attributename": "Amount"}),
			rec("A", 3, map[string]string{"attributename": "name"}),
		),
	})
	require.NoError(t, err)

	keys := make([]string, len(res.Entities))
	for i, e := range res.Entities {
		keys[i] = e.Key
	}
	assert.Equal(t, []string{"amount", "name", "zip"}, keys)
}

func TestConsolidate_InvalidFeedSpecs(t *testing.T) {
	c := newTestConsolidator(t)

	tests := []struct {
		name    string
		feeds   []Feed
		wantErr error
	}{
		{name: "missing feed id", feeds: []Feed{{Spec: FeedSpec{IdentifierFields: []string{"name"}}}}, wantErr: ErrFeedIDRequired},
		{name: "no identifier fields", feeds: []Feed{{Spec: FeedSpec{ID: "A"}}}, wantErr: ErrIdentifierFieldsRequired},
		{name: "duplicate feed", feeds: []Feed{feedA(), feedA()}, wantErr: ErrDuplicateFeed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := c.Consolidate(tt.feeds)
			require.Error(t, err)
			assert.Nil(t, res)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.ErrorIs(t, err, core.ErrConfiguration)
		})
	}
}
