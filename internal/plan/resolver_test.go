package plan

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/insightlabs/insight/internal/schema"
)

// mockLLM returns a canned response and records the prompts it was given.
type mockLLM struct {
	response     string
	err          error
	systemPrompt string
	userPrompt   string
}

func (m *mockLLM) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	m.systemPrompt = systemPrompt
	m.userPrompt = userPrompt
	return m.response, m.err
}

func testSchemas() map[string]*schema.Snapshot {
	orders := schema.New("orders")
	orders.Set("orderDate", schema.TypeDate)
	orders.Set("total", schema.TypeNumber)
	customers := schema.New("customers")
	customers.Set("name", schema.TypeString)
	return map[string]*schema.Snapshot{"orders": orders, "customers": customers}
}

func newTestResolver(t *testing.T, llm LLMClient) *Resolver {
	t.Helper()
	r, err := NewResolver(&ResolverConfig{
		Logger:  slog.Default(),
		LLM:     llm,
		Prompts: &Prompts{Plan: "plan prompt", Summarize: "summarize prompt"},
	})
	require.NoError(t, err)
	return r
}

func TestResolver_Resolve(t *testing.T) {
	llm := &mockLLM{response: `Here is your plan:
` + "```json" + `
{
  "interpretation": "Total sales by month",
  "primary_collection": "orders",
  "requires_analysis": true,
  "pipeline": [{"$group": {"_id": {"$month": "$orderDate"}, "total": {"$sum": "$total"}}}],
  "visualization_recommended_by_ai": true,
  "visualization": {"type": "bar", "title": "Sales by month"}
}
` + "```"}

	r := newTestResolver(t, llm)
	draft, err := r.Resolve(context.Background(), "total sales by month?", testSchemas())
	require.NoError(t, err)

	assert.Equal(t, "Total sales by month", draft.Interpretation)
	assert.Equal(t, "orders", draft.PrimaryCollection)
	assert.True(t, draft.RequiresAnalysis)
	assert.True(t, draft.VisualizationRecommended)
	require.Len(t, draft.Pipeline, 1)
	require.NotNil(t, draft.Visualization)
	assert.Equal(t, "bar", draft.Visualization.Type)

	// Prompt carries the question and every candidate schema, in name order.
	assert.Equal(t, "plan prompt", llm.systemPrompt)
	assert.Contains(t, llm.userPrompt, "total sales by month?")
	assert.Contains(t, llm.userPrompt, "orders:")
	assert.Contains(t, llm.userPrompt, "customers:")
	assert.Less(t, strings.Index(llm.userPrompt, "customers:"), strings.Index(llm.userPrompt, "orders:"))
}

func TestResolver_NormalizesShellLiterals(t *testing.T) {
	llm := &mockLLM{response: `{
  "interpretation": "Orders this year",
  "primary_collection": "orders",
  "pipeline": [{"$match": {"orderDate": {"$gte": ISODate("2026-01-01T00:00:00Z")}}}, {"$limit": NumberLong("10")}]
}`}

	r := newTestResolver(t, llm)
	draft, err := r.Resolve(context.Background(), "orders this year", testSchemas())
	require.NoError(t, err)
	require.Len(t, draft.Pipeline, 2)
}

func TestResolver_NoJSONIsParseError(t *testing.T) {
	llm := &mockLLM{response: "I am unable to construct a query for that."}

	r := newTestResolver(t, llm)
	_, err := r.Resolve(context.Background(), "q", testSchemas())
	require.Error(t, err)

	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Contains(t, parseErr.Reason, "no balanced JSON object")
}

func TestResolver_InvalidJSONIsParseError(t *testing.T) {
	llm := &mockLLM{response: `{"interpretation": "x", "pipeline": [}`}

	r := newTestResolver(t, llm)
	_, err := r.Resolve(context.Background(), "q", testSchemas())
	require.Error(t, err)

	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
}

func TestResolver_ShapeErrors(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     string
	}{
		{
			name:     "missing pipeline",
			response: `{"interpretation": "x", "primary_collection": "orders"}`,
			want:     "no pipeline",
		},
		{
			name:     "missing primary collection",
			response: `{"interpretation": "x", "pipeline": []}`,
			want:     "no primary_collection",
		},
		{
			name:     "unknown primary collection",
			response: `{"interpretation": "x", "primary_collection": "ghosts", "pipeline": []}`,
			want:     "not a known collection",
		},
		{
			name:     "pipeline not an array",
			response: `{"interpretation": "x", "primary_collection": "orders", "pipeline": {"$match": {}}}`,
			want:     "invalid pipeline",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestResolver(t, &mockLLM{response: tt.response})
			_, err := r.Resolve(context.Background(), "q", testSchemas())
			require.Error(t, err)

			var shapeErr *ShapeError
			require.ErrorAs(t, err, &shapeErr)
			assert.Contains(t, shapeErr.Reason, tt.want)
		})
	}
}

func TestResolver_LLMErrorPassesThrough(t *testing.T) {
	llm := &mockLLM{err: errors.New("rate limited")}

	r := newTestResolver(t, llm)
	_, err := r.Resolve(context.Background(), "q", testSchemas())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")

	var parseErr *ParseError
	assert.False(t, errors.As(err, &parseErr))
}

func TestResolver_NoSchemas(t *testing.T) {
	r := newTestResolver(t, &mockLLM{})
	_, err := r.Resolve(context.Background(), "q", nil)
	require.Error(t, err)
}
