package plan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/insightlabs/insight/internal/schema"
)

// LLMClient is the interface for the generative model collaborator.
type LLMClient interface {
	// Complete sends a prompt and returns the response text.
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// ResolverConfig holds the resolver's collaborators.
type ResolverConfig struct {
	Logger  *slog.Logger
	LLM     LLMClient
	Prompts *Prompts
}

func (c *ResolverConfig) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.LLM == nil {
		return errors.New("LLM client is required")
	}
	if c.Prompts == nil {
		return errors.New("prompts are required")
	}
	return nil
}

// Resolver asks the model for a draft plan and parses the response. It does
// not retry: a malformed response is surfaced as a typed error and retry
// policy stays with the caller.
type Resolver struct {
	cfg *ResolverConfig
	log *slog.Logger
}

func NewResolver(cfg *ResolverConfig) (*Resolver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Resolver{cfg: cfg, log: cfg.Logger}, nil
}

// rawPlan mirrors the JSON object the model is instructed to produce.
type rawPlan struct {
	Interpretation           string             `json:"interpretation"`
	PrimaryCollection        string             `json:"primary_collection"`
	RequiresAnalysis         bool               `json:"requires_analysis"`
	Pipeline                 json.RawMessage    `json:"pipeline"`
	VisualizationRecommended bool               `json:"visualization_recommended_by_ai"`
	Visualization            *VisualizationHint `json:"visualization"`
}

// Resolve builds one model request from the question and every candidate
// schema, then parses the textual response into a DraftPlan.
func (r *Resolver) Resolve(ctx context.Context, query string, schemas map[string]*schema.Snapshot) (*DraftPlan, error) {
	if len(schemas) == 0 {
		return nil, errors.New("at least one schema snapshot is required")
	}

	userPrompt := buildPlanPrompt(query, schemas)

	response, err := r.cfg.LLM.Complete(ctx, r.cfg.Prompts.Plan, userPrompt)
	if err != nil {
		return nil, fmt.Errorf("LLM completion failed: %w", err)
	}

	jsonStr := ExtractJSON(response)
	if jsonStr == "" {
		r.log.Warn("resolver: no JSON object in model output", "outputLen", len(response))
		return nil, &ParseError{Reason: "no balanced JSON object in model output", Output: truncate(response, 500)}
	}
	jsonStr = NormalizeLiterals(jsonStr)

	var raw rawPlan
	if err := json.Unmarshal([]byte(jsonStr), &raw); err != nil {
		return nil, &ParseError{Reason: fmt.Sprintf("invalid JSON: %v", err), Output: truncate(jsonStr, 500)}
	}

	if len(raw.Pipeline) == 0 {
		return nil, &ShapeError{Reason: "plan has no pipeline array"}
	}
	if raw.PrimaryCollection == "" {
		return nil, &ShapeError{Reason: "plan has no primary_collection"}
	}
	if _, ok := schemas[raw.PrimaryCollection]; !ok {
		return nil, &ShapeError{Reason: fmt.Sprintf("primary_collection %q is not a known collection", raw.PrimaryCollection)}
	}

	pipeline, err := DecodePipeline(raw.Pipeline)
	if err != nil {
		return nil, &ShapeError{Reason: fmt.Sprintf("invalid pipeline: %v", err)}
	}

	r.log.Debug("resolver: plan parsed",
		"collection", raw.PrimaryCollection,
		"stages", len(pipeline),
		"visualization", raw.VisualizationRecommended)

	return &DraftPlan{
		Interpretation:           raw.Interpretation,
		PrimaryCollection:        raw.PrimaryCollection,
		RequiresAnalysis:         raw.RequiresAnalysis,
		Pipeline:                 pipeline,
		VisualizationRecommended: raw.VisualizationRecommended,
		Visualization:            raw.Visualization,
	}, nil
}

// buildPlanPrompt embeds the question and every candidate schema in a
// single request. Schemas are emitted in name order for stable prompts.
func buildPlanPrompt(query string, schemas map[string]*schema.Snapshot) string {
	names := make([]string, 0, len(schemas))
	for name := range schemas {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	sb.WriteString("Available collections:\n\n")
	for _, name := range names {
		sb.WriteString(schemas[name].PromptText())
		sb.WriteString("\n")
	}
	sb.WriteString("Question: ")
	sb.WriteString(query)
	return sb.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
