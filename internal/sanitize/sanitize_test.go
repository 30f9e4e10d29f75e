package sanitize

import (
	"log/slog"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/insightlabs/insight/internal/plan"
	"github.com/insightlabs/insight/internal/schema"
)

func newTestSanitizer(t *testing.T, force ...string) *Sanitizer {
	t.Helper()
	s, err := New(&Config{Logger: slog.Default(), ForceConvertCollections: force})
	require.NoError(t, err)
	return s
}

func mustPipeline(t *testing.T, src string) []*plan.Doc {
	t.Helper()
	p, err := plan.DecodePipeline([]byte(src))
	require.NoError(t, err)
	return p
}

func dateSet(names ...string) DateFieldSet {
	set := make(DateFieldSet)
	for _, n := range names {
		set.Add(n)
	}
	return set
}

func TestSanitize_RemovesDeadConversion(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "dateFromString over date field",
			in:   `[{"$group":{"_id":{"$month":{"$dateFromString":{"dateString":"$orderDate"}}}}}]`,
			want: `[{"$group":{"_id":{"$month":"$orderDate"}}}]`,
		},
		{
			name: "toDate over date field",
			in:   `[{"$addFields":{"m":{"$year":{"$toDate":"$orderDate"}}}}]`,
			want: `[{"$addFields":{"m":{"$year":"$orderDate"}}}]`,
		},
		{
			name: "toDate over toString of date field",
			in:   `[{"$addFields":{"d":{"$toDate":{"$toString":"$orderDate"}}}}]`,
			want: `[{"$addFields":{"d":"$orderDate"}}]`,
		},
		{
			name: "dateFromString with bare reference operand",
			in:   `[{"$addFields":{"d":{"$dateFromString":"$orderDate"}}}]`,
			want: `[{"$addFields":{"d":"$orderDate"}}]`,
		},
		{
			name: "conversion nested in array operand",
			in:   `[{"$project":{"diff":{"$subtract":[{"$toDate":"$orderDate"},"$shipDate"]}}}]`,
			want: `[{"$project":{"diff":{"$subtract":["$orderDate","$shipDate"]}}}]`,
		},
	}

	s := newTestSanitizer(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, report, err := s.Sanitize(mustPipeline(t, tt.in), dateSet("orderDate", "shipDate"), "orders")
			require.NoError(t, err)
			assert.Equal(t, tt.want, plan.MarshalPipeline(out))
			assert.Equal(t, 1, report.Rewrites)
			assert.Empty(t, report.Diagnostics)
		})
	}
}

func TestSanitize_KeepsConversionOfNonDateField(t *testing.T) {
	s := newTestSanitizer(t)
	in := `[{"$addFields":{"d":{"$toDate":"$orderDateString"}}}]`

	out, report, err := s.Sanitize(mustPipeline(t, in), dateSet(), "orders")
	require.NoError(t, err)
	assert.Equal(t, in, plan.MarshalPipeline(out))
	assert.Zero(t, report.Rewrites)
}

func TestSanitize_ForceConvertCollection(t *testing.T) {
	in := `[{"$addFields":{"d":{"$toDate":"$someField"}}}]`

	// On a force-listed collection the conversion is removed even though
	// someField is not tracked as a date.
	s := newTestSanitizer(t, "legacy_events")
	out, report, err := s.Sanitize(mustPipeline(t, in), dateSet(), "legacy_events")
	require.NoError(t, err)
	assert.Equal(t, `[{"$addFields":{"d":"$someField"}}]`, plan.MarshalPipeline(out))
	assert.Equal(t, 1, report.Rewrites)

	// Other collections are unaffected by the policy.
	out, report, err = s.Sanitize(mustPipeline(t, in), dateSet(), "orders")
	require.NoError(t, err)
	assert.Equal(t, in, plan.MarshalPipeline(out))
	assert.Zero(t, report.Rewrites)
}

func TestSanitize_DiagnosesExtractionOfNonDate(t *testing.T) {
	s := newTestSanitizer(t)
	in := `[{"$group":{"_id":{"$month":"$customerName"}}}]`

	out, report, err := s.Sanitize(mustPipeline(t, in), dateSet("orderDate"), "orders")
	require.NoError(t, err)

	// The pipeline is left untouched; the mismatch is surfaced, not healed.
	assert.Equal(t, in, plan.MarshalPipeline(out))
	require.Len(t, report.Diagnostics, 1)
	d := report.Diagnostics[0]
	assert.Equal(t, 0, d.Stage)
	assert.Equal(t, "$month", d.Operator)
	assert.Equal(t, "customerName", d.Field)
	assert.Contains(t, d.Message, "not a known date field")
}

func TestSanitize_DateToStringOperand(t *testing.T) {
	s := newTestSanitizer(t)

	ok := `[{"$project":{"day":{"$dateToString":{"format":"%Y-%m-%d","date":"$orderDate"}}}}]`
	_, report, err := s.Sanitize(mustPipeline(t, ok), dateSet("orderDate"), "orders")
	require.NoError(t, err)
	assert.Empty(t, report.Diagnostics)

	bad := `[{"$project":{"day":{"$dateToString":{"format":"%Y-%m-%d","date":"$total"}}}}]`
	_, report, err = s.Sanitize(mustPipeline(t, bad), dateSet("orderDate"), "orders")
	require.NoError(t, err)
	require.Len(t, report.Diagnostics, 1)
	assert.Equal(t, "$dateToString", report.Diagnostics[0].Operator)
	assert.Equal(t, "total", report.Diagnostics[0].Field)
}

func TestSanitize_PropagatesDateKnowledgeForward(t *testing.T) {
	s := newTestSanitizer(t)

	// Stage 0 defines parsedDate from a string field; stage 1 extracts from
	// it. No diagnostic: the propagated knowledge makes stage 1 valid.
	in := `[{"$addFields":{"parsedDate":{"$toDate":"$rawDate"}}},{"$group":{"_id":{"$month":"$parsedDate"}}}]`
	_, report, err := s.Sanitize(mustPipeline(t, in), dateSet(), "orders")
	require.NoError(t, err)
	assert.Empty(t, report.Diagnostics)
	assert.Zero(t, report.Rewrites)
}

func TestSanitize_PropagationIsForwardOnly(t *testing.T) {
	s := newTestSanitizer(t)

	// The extraction runs before the field is defined, so it is diagnosed.
	in := `[{"$group":{"_id":{"$month":"$parsedDate"}}},{"$addFields":{"parsedDate":{"$toDate":"$rawDate"}}}]`
	_, report, err := s.Sanitize(mustPipeline(t, in), dateSet(), "orders")
	require.NoError(t, err)
	require.Len(t, report.Diagnostics, 1)
	assert.Equal(t, "parsedDate", report.Diagnostics[0].Field)
}

func TestSanitize_RedefinitionDropsDateTracking(t *testing.T) {
	s := newTestSanitizer(t)

	// orderDate is redefined as a month number in stage 0; extracting from it
	// in stage 1 is a mismatch.
	in := `[{"$addFields":{"orderDate":{"$month":"$orderDate"}}},{"$addFields":{"y":{"$year":"$orderDate"}}}]`
	_, report, err := s.Sanitize(mustPipeline(t, in), dateSet("orderDate"), "orders")
	require.NoError(t, err)
	require.Len(t, report.Diagnostics, 1)
	assert.Equal(t, "$year", report.Diagnostics[0].Operator)
}

func TestSanitize_ProjectionFlags(t *testing.T) {
	s := newTestSanitizer(t)

	// An inclusion flag keeps the date type; an exclusion flag drops the
	// field entirely.
	in := `[{"$project":{"orderDate":1,"shipDate":0}},{"$addFields":{"a":{"$year":"$orderDate"},"b":{"$year":"$shipDate"}}}]`
	_, report, err := s.Sanitize(mustPipeline(t, in), dateSet("orderDate", "shipDate"), "orders")
	require.NoError(t, err)
	require.Len(t, report.Diagnostics, 1)
	assert.Equal(t, "shipDate", report.Diagnostics[0].Field)
}

func TestSanitize_GroupPropagation(t *testing.T) {
	s := newTestSanitizer(t)

	tests := []struct {
		name        string
		in          string
		diagnostics int
	}{
		{
			name:        "first accumulator passes date through",
			in:          `[{"$group":{"_id":"$region","earliest":{"$first":"$orderDate"}}},{"$addFields":{"y":{"$year":"$earliest"}}}]`,
			diagnostics: 0,
		},
		{
			name:        "min accumulator passes date through",
			in:          `[{"$group":{"_id":"$region","earliest":{"$min":"$orderDate"}}},{"$addFields":{"y":{"$year":"$earliest"}}}]`,
			diagnostics: 0,
		},
		{
			name:        "sum accumulator does not",
			in:          `[{"$group":{"_id":"$region","n":{"$sum":1}}},{"$addFields":{"y":{"$year":"$n"}}}]`,
			diagnostics: 1,
		},
		{
			name:        "compound group key fields become outputs",
			in:          `[{"$group":{"_id":{"day":{"$dateTrunc":{"date":"$orderDate","unit":"day"}},"region":"$region"}}},{"$addFields":{"y":{"$year":"$day"}}}]`,
			diagnostics: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, report, err := s.Sanitize(mustPipeline(t, tt.in), dateSet("orderDate"), "orders")
			require.NoError(t, err)
			assert.Len(t, report.Diagnostics, tt.diagnostics)
		})
	}
}

func TestSanitize_ConditionalProvesDate(t *testing.T) {
	s := newTestSanitizer(t)

	tests := []struct {
		name        string
		in          string
		diagnostics int
	}{
		{
			name:        "ifNull with date branch",
			in:          `[{"$addFields":{"d":{"$ifNull":["$orderDate","$fallback"]}}},{"$addFields":{"y":{"$year":"$d"}}}]`,
			diagnostics: 0,
		},
		{
			name:        "ifNull with no date branch",
			in:          `[{"$addFields":{"d":{"$ifNull":["$name","unknown"]}}},{"$addFields":{"y":{"$year":"$d"}}}]`,
			diagnostics: 1,
		},
		{
			name:        "cond array form with date else branch",
			in:          `[{"$addFields":{"d":{"$cond":["$flag","$name","$orderDate"]}}},{"$addFields":{"y":{"$year":"$d"}}}]`,
			diagnostics: 0,
		},
		{
			name:        "cond document form with date then branch",
			in:          `[{"$addFields":{"d":{"$cond":{"if":"$flag","then":"$orderDate","else":"$name"}}}},{"$addFields":{"y":{"$year":"$d"}}}]`,
			diagnostics: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, report, err := s.Sanitize(mustPipeline(t, tt.in), dateSet("orderDate"), "orders")
			require.NoError(t, err)
			assert.Len(t, report.Diagnostics, tt.diagnostics)
		})
	}
}

func TestSanitize_InputPipelineUnmodified(t *testing.T) {
	s := newTestSanitizer(t)
	src := `[{"$group":{"_id":{"$month":{"$dateFromString":{"dateString":"$orderDate"}}}}}]`
	in := mustPipeline(t, src)

	_, _, err := s.Sanitize(in, dateSet("orderDate"), "orders")
	require.NoError(t, err)
	assert.Equal(t, src, plan.MarshalPipeline(in))
}

func TestSanitize_Idempotent(t *testing.T) {
	s := newTestSanitizer(t)
	in := mustPipeline(t, `[{"$match":{"status":"shipped"}},{"$addFields":{"d":{"$toDate":"$orderDate"},"bad":{"$month":"$total"}}},{"$group":{"_id":{"$month":"$d"},"n":{"$sum":1}}}]`)

	once, report1, err := s.Sanitize(in, dateSet("orderDate"), "orders")
	require.NoError(t, err)
	twice, report2, err := s.Sanitize(once, dateSet("orderDate"), "orders")
	require.NoError(t, err)

	if diff := cmp.Diff(plan.MarshalPipeline(once), plan.MarshalPipeline(twice)); diff != "" {
		t.Fatalf("second pass changed the pipeline (-once +twice):\n%s", diff)
	}
	assert.Equal(t, 1, report1.Rewrites)
	assert.Zero(t, report2.Rewrites)
	assert.Equal(t, len(report1.Diagnostics), len(report2.Diagnostics))
}

func TestSeedDateFields(t *testing.T) {
	snap := schema.New("orders")
	snap.Set("orderDate", schema.TypeDate)
	snap.Set("total", schema.TypeNumber)

	set := SeedDateFields(snap)
	assert.True(t, set.Has("orderDate"))
	assert.False(t, set.Has("total"))

	assert.NotNil(t, SeedDateFields(nil))
}
