package server

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/insightlabs/insight/internal/answer"
	"github.com/insightlabs/insight/internal/plan"
	"github.com/insightlabs/insight/internal/reco"
	"github.com/insightlabs/insight/internal/schema"
)

const (
	testPlanPrompt      = "plan system prompt"
	testSummarizePrompt = "summarize system prompt"
)

type stubLLM struct {
	planResponse      string
	summarizeResponse string
}

func (s *stubLLM) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if systemPrompt == testPlanPrompt {
		return s.planResponse, nil
	}
	return s.summarizeResponse, nil
}

type stubStore struct {
	results answer.ResultSet
}

func (s *stubStore) Collections(ctx context.Context) ([]string, error) {
	return []string{"orders"}, nil
}

func (s *stubStore) SampleSchema(ctx context.Context, collection string) (*schema.Snapshot, error) {
	snap := schema.New(collection)
	snap.Set("orderDate", schema.TypeDate)
	snap.Set("region", schema.TypeString)
	snap.Set("total", schema.TypeNumber)
	return snap, nil
}

func (s *stubStore) Aggregate(ctx context.Context, collection string, pipeline []*plan.Doc) (answer.ResultSet, error) {
	return s.results, nil
}

func newTestServer(t *testing.T) (*Server, *reco.Cache) {
	t.Helper()

	llm := &stubLLM{
		planResponse: `{
  "interpretation": "Total sales by region",
  "primary_collection": "orders",
  "pipeline": [{"$group": {"_id": "$region", "totalSales": {"$sum": "$total"}}}],
  "visualization_recommended_by_ai": true,
  "visualization": {"type": "bar", "dimensions": ["_id", "totalSales"]}
}`,
		summarizeResponse: "EMEA leads in sales.",
	}
	store := &stubStore{
		results: answer.ResultSet{
			Columns: []string{"_id", "totalSales"},
			Rows:    []map[string]any{{"_id": "emea", "totalSales": 300.0}},
			Count:   1,
		},
	}

	cache, err := reco.New(&reco.Config{Logger: slog.Default()})
	require.NoError(t, err)

	svc, err := answer.New(&answer.Config{
		Logger:  slog.Default(),
		LLM:     llm,
		Store:   store,
		Prompts: &plan.Prompts{Plan: testPlanPrompt, Summarize: testSummarizePrompt},
	})
	require.NoError(t, err)

	srv, err := New(&Config{
		Logger:          slog.Default(),
		Service:         svc,
		Recommendations: cache,
	})
	require.NoError(t, err)
	return srv, cache
}

func TestHandleHealthz(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestHandleCollections(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/collections", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Collections []string `json:"collections"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []string{"orders"}, resp.Collections)
}

func TestHandleAsk(t *testing.T) {
	srv, _ := newTestServer(t)

	body, _ := json.Marshal(AskRequest{Question: "sales by region?"})
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/ask", bytes.NewReader(body)))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "orders", resp["primaryCollection"])
	assert.Equal(t, "EMEA leads in sales.", resp["narrativeAnswer"])
	assert.Equal(t, true, resp["canVisualize"])
	assert.NotNil(t, resp["chartSpec"])
}

func TestHandleAsk_BadRequests(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/ask", bytes.NewReader([]byte("not json"))))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body, _ := json.Marshal(AskRequest{Question: "   "})
	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/ask", bytes.NewReader(body)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleAsk_UnknownCollectionIs404(t *testing.T) {
	srv, _ := newTestServer(t)

	body, _ := json.Marshal(AskRequest{Question: "q", Collections: []string{"ghosts"}})
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/ask", bytes.NewReader(body)))

	require.Equal(t, http.StatusNotFound, rec.Code)
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "collection_not_found", resp.Kind)
}

func TestHandleRecommend(t *testing.T) {
	srv, cache := newTestServer(t)

	body, _ := json.Marshal(RecommendRequest{
		Interpretation: "sales by region",
		Columns:        []string{"_id", "region", "totalSales"},
		Rows:           []map[string]any{{"region": "emea", "totalSales": 300.0}},
	})
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/visualize/recommend", bytes.NewReader(body)))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Recommendations []RecommendedVisualization `json:"recommendations"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Recommendations, 3)

	kinds := make([]string, 0, 3)
	for _, r := range resp.Recommendations {
		kinds = append(kinds, r.Hint.Type)
		// Every recommendation is retrievable by its id.
		hint, ok := cache.Get(r.ID)
		require.True(t, ok)
		assert.Equal(t, []string{"region", "totalSales"}, hint.Dimensions)
	}
	assert.Equal(t, []string{"bar", "line", "pie"}, kinds)
}

func TestHandleRecommend_BadRequest(t *testing.T) {
	srv, _ := newTestServer(t)

	body, _ := json.Marshal(RecommendRequest{Interpretation: "x"})
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/visualize/recommend", bytes.NewReader(body)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		kind   string
	}{
		{"not found", &answer.CollectionNotFoundError{Collections: []string{"x"}}, http.StatusNotFound, "collection_not_found"},
		{"parse", &plan.ParseError{Reason: "r"}, http.StatusBadGateway, "plan_parse"},
		{"shape", &plan.ShapeError{Reason: "r"}, http.StatusBadGateway, "plan_shape"},
		{"execution", &answer.ExecutionError{Collection: "c"}, http.StatusBadGateway, "execution"},
		{"timeout", &answer.TimeoutError{Stage: "s"}, http.StatusGatewayTimeout, "timeout"},
		{"other", assert.AnError, http.StatusInternalServerError, "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, kind := classifyError(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.kind, kind)
		})
	}
}
