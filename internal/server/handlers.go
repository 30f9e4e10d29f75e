package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/insightlabs/insight/internal/answer"
	"github.com/insightlabs/insight/internal/plan"
)

// AskRequest is the incoming question.
type AskRequest struct {
	Question         string   `json:"question"`
	Collections      []string `json:"collections,omitempty"`
	RecommendationID string   `json:"recommendationId,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCollections(w http.ResponseWriter, r *http.Request) {
	names, err := s.cfg.Service.Collections(r.Context())
	if err != nil {
		s.log.Error("server: failed to list collections", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to list collections"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"collections": names})
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "question is required"})
		return
	}

	ans, err := s.cfg.Service.AnswerQuery(r.Context(), req.Question, &answer.Options{
		Collections:      req.Collections,
		RecommendationID: req.RecommendationID,
	})
	if err != nil {
		status, kind := classifyError(err)
		s.log.Error("server: query failed", "kind", kind, "error", err)
		writeJSON(w, status, errorResponse{Error: err.Error(), Kind: kind})
		return
	}

	writeJSON(w, http.StatusOK, ans)
}

// RecommendRequest asks for visualization alternatives for an existing
// result set.
type RecommendRequest struct {
	Interpretation string           `json:"interpretation"`
	Columns        []string         `json:"columns"`
	Rows           []map[string]any `json:"rows"`
}

// RecommendedVisualization pairs a cached hint with its selection id.
type RecommendedVisualization struct {
	ID   string                  `json:"id"`
	Hint *plan.VisualizationHint `json:"hint"`
}

func (s *Server) handleRecommend(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Recommendations == nil {
		writeJSON(w, http.StatusNotImplemented, errorResponse{Error: "recommendations are not enabled"})
		return
	}

	var req RecommendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if len(req.Rows) == 0 || len(req.Columns) == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "columns and rows are required"})
		return
	}

	hints := candidateHints(req)
	out := make([]RecommendedVisualization, 0, len(hints))
	for _, hint := range hints {
		out = append(out, RecommendedVisualization{
			ID:   s.cfg.Recommendations.Put(hint),
			Hint: hint,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"recommendations": out})
}

// candidateHints proposes chart kinds that fit the result shape: label
// plus value supports bar, line, and pie; label-only supports bar counts.
func candidateHints(req RecommendRequest) []*plan.VisualizationHint {
	dims := make([]string, 0, 2)
	for _, col := range req.Columns {
		if col == "_id" {
			continue
		}
		dims = append(dims, col)
		if len(dims) == 2 {
			break
		}
	}
	if len(dims) == 0 {
		return nil
	}

	kinds := []string{"bar"}
	if len(dims) == 2 {
		kinds = append(kinds, "line", "pie")
	}

	out := make([]*plan.VisualizationHint, 0, len(kinds))
	for _, kind := range kinds {
		out = append(out, &plan.VisualizationHint{
			Type:       kind,
			Title:      req.Interpretation,
			XAxis:      plan.AxisHint{Type: "category"},
			YAxis:      plan.AxisHint{Type: "value"},
			Dimensions: dims,
			Series:     []plan.SeriesHint{{Type: kind}},
		})
	}
	return out
}

func classifyError(err error) (int, string) {
	var parseErr *plan.ParseError
	var shapeErr *plan.ShapeError
	var notFound *answer.CollectionNotFoundError
	var execErr *answer.ExecutionError
	var timeoutErr *answer.TimeoutError
	switch {
	case errors.As(err, &notFound):
		return http.StatusNotFound, "collection_not_found"
	case errors.As(err, &parseErr):
		return http.StatusBadGateway, "plan_parse"
	case errors.As(err, &shapeErr):
		return http.StatusBadGateway, "plan_shape"
	case errors.As(err, &execErr):
		return http.StatusBadGateway, "execution"
	case errors.As(err, &timeoutErr):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
