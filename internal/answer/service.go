// Package answer orchestrates the full question-answering flow: resolve a
// draft plan, sanitize it against the live schema, execute it, reconcile a
// chart spec, and summarize the results. Stages run in strict sequence per
// request; the service holds no per-request state and is safe to use
// concurrently.
package answer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/insightlabs/insight/internal/chart"
	"github.com/insightlabs/insight/internal/metrics"
	"github.com/insightlabs/insight/internal/plan"
	"github.com/insightlabs/insight/internal/reco"
	"github.com/insightlabs/insight/internal/sanitize"
	"github.com/insightlabs/insight/internal/schema"
)

const defaultQueryTimeout = 60 * time.Second

// ResultSet holds the rows produced by one pipeline execution. Columns
// preserve the field order of the first row.
type ResultSet struct {
	Columns []string         `json:"columns"`
	Rows    []map[string]any `json:"rows"`
	Count   int              `json:"count"`
}

// DocumentStore is the document database collaborator: collection listing,
// one-document schema sampling, and aggregation execution.
type DocumentStore interface {
	Collections(ctx context.Context) ([]string, error)
	SampleSchema(ctx context.Context, collection string) (*schema.Snapshot, error)
	Aggregate(ctx context.Context, collection string, pipeline []*plan.Doc) (ResultSet, error)
}

// Config holds the service's collaborators and policy.
type Config struct {
	Logger  *slog.Logger
	LLM     plan.LLMClient
	Store   DocumentStore
	Prompts *plan.Prompts

	// Recommendations is the optional visualization recommendation cache.
	Recommendations *reco.Cache

	// ForceConvertCollections is forwarded to the sanitizer; see
	// sanitize.Config.
	ForceConvertCollections []string

	// QueryTimeout bounds each request when the caller's context carries
	// no deadline.
	QueryTimeout time.Duration
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.LLM == nil {
		return errors.New("LLM client is required")
	}
	if c.Store == nil {
		return errors.New("document store is required")
	}
	if c.Prompts == nil {
		return errors.New("prompts are required")
	}
	if c.QueryTimeout == 0 {
		c.QueryTimeout = defaultQueryTimeout
	}
	return nil
}

// Service is the public entry point of the core.
type Service struct {
	cfg        *Config
	log        *slog.Logger
	resolver   *plan.Resolver
	sanitizer  *sanitize.Sanitizer
	reconciler *chart.Reconciler
}

func New(cfg *Config) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	resolver, err := plan.NewResolver(&plan.ResolverConfig{
		Logger:  cfg.Logger,
		LLM:     cfg.LLM,
		Prompts: cfg.Prompts,
	})
	if err != nil {
		return nil, err
	}
	sanitizer, err := sanitize.New(&sanitize.Config{
		Logger:                  cfg.Logger,
		ForceConvertCollections: cfg.ForceConvertCollections,
	})
	if err != nil {
		return nil, err
	}
	reconciler, err := chart.NewReconciler(&chart.ReconcilerConfig{Logger: cfg.Logger})
	if err != nil {
		return nil, err
	}

	return &Service{
		cfg:        cfg,
		log:        cfg.Logger,
		resolver:   resolver,
		sanitizer:  sanitizer,
		reconciler: reconciler,
	}, nil
}

// Options narrows one query to explicit target collections and optionally
// selects a cached visualization recommendation.
type Options struct {
	Collections      []string
	RecommendationID string
}

// Answer is the full result of one answered query.
type Answer struct {
	Interpretation    string                `json:"interpretation"`
	PrimaryCollection string                `json:"primaryCollection"`
	Pipeline          []*plan.Doc           `json:"pipeline"`
	Results           ResultSet             `json:"results"`
	Chart             *chart.Spec           `json:"chartSpec,omitempty"`
	NarrativeAnswer   string                `json:"narrativeAnswer"`
	CanVisualize      bool                  `json:"canVisualize"`
	Diagnostics       []sanitize.Diagnostic `json:"diagnostics,omitempty"`
}

// AnswerQuery answers one natural-language question. Errors from plan
// resolution and execution abort the request as typed failures; only the
// summarizer degrades locally to a templated answer.
func (s *Service) AnswerQuery(ctx context.Context, query string, opts *Options) (*Answer, error) {
	if opts == nil {
		opts = &Options{}
	}
	start := time.Now()
	defer func() { metrics.AnswerDuration.Observe(time.Since(start).Seconds()) }()

	if _, ok := ctx.Deadline(); !ok && s.cfg.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.QueryTimeout)
		defer cancel()
	}

	snapshots, err := s.snapshots(ctx, opts.Collections)
	if err != nil {
		metrics.AnswerTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	draft, err := s.resolver.Resolve(ctx, query, snapshots)
	if err != nil {
		metrics.AnswerTotal.WithLabelValues("error").Inc()
		metrics.PlanFailuresTotal.WithLabelValues(planFailureKind(err)).Inc()
		return nil, s.wrapTimeout(ctx, "plan resolution", err)
	}

	dates := sanitize.SeedDateFields(snapshots[draft.PrimaryCollection])
	sanitized, report, err := s.sanitizer.Sanitize(draft.Pipeline, dates, draft.PrimaryCollection)
	if err != nil {
		metrics.AnswerTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.SanitizerRewritesTotal.Add(float64(report.Rewrites))
	metrics.SanitizerDiagnosticsTotal.Add(float64(len(report.Diagnostics)))

	results, err := s.cfg.Store.Aggregate(ctx, draft.PrimaryCollection, sanitized)
	if err != nil {
		metrics.AnswerTotal.WithLabelValues("error").Inc()
		metrics.ExecutionFailuresTotal.Inc()
		if wrapped := s.wrapTimeout(ctx, "pipeline execution", err); wrapped != err {
			return nil, wrapped
		}
		return nil, &ExecutionError{
			Collection: draft.PrimaryCollection,
			Pipeline:   plan.MarshalPipeline(sanitized),
			Err:        err,
		}
	}

	var spec *chart.Spec
	if draft.VisualizationRecommended && results.Count > 0 {
		hint := s.resolveHint(draft, opts.RecommendationID)
		if hint == nil {
			// Visualization was recommended without a hint object; let the
			// reconciler derive everything from the result columns.
			hint = &plan.VisualizationHint{}
		}
		spec = s.reconciler.Reconcile(hint, draft.Interpretation, results.Columns, results.Rows)
	}

	narrative := s.summarize(ctx, query, draft, results)

	metrics.AnswerTotal.WithLabelValues("ok").Inc()
	s.log.Info("answer: query completed",
		"collection", draft.PrimaryCollection,
		"stages", len(sanitized),
		"rows", results.Count,
		"visualized", spec != nil,
		"duration", time.Since(start))

	return &Answer{
		Interpretation:    draft.Interpretation,
		PrimaryCollection: draft.PrimaryCollection,
		Pipeline:          sanitized,
		Results:           results,
		Chart:             spec,
		NarrativeAnswer:   narrative,
		CanVisualize:      spec != nil,
		Diagnostics:       report.Diagnostics,
	}, nil
}

// Collections lists the collections available to query.
func (s *Service) Collections(ctx context.Context) ([]string, error) {
	return s.cfg.Store.Collections(ctx)
}

// snapshots samples a schema for every target collection. When explicit
// targets were requested, missing ones are dropped with a log; the request
// fails only if none of them exist.
func (s *Service) snapshots(ctx context.Context, targets []string) (map[string]*schema.Snapshot, error) {
	available, err := s.cfg.Store.Collections(ctx)
	if err != nil {
		return nil, s.wrapTimeout(ctx, "collection listing", err)
	}
	known := make(map[string]bool, len(available))
	for _, name := range available {
		known[name] = true
	}

	selected := available
	if len(targets) > 0 {
		selected = nil
		var missing []string
		for _, name := range targets {
			if known[name] {
				selected = append(selected, name)
			} else {
				missing = append(missing, name)
			}
		}
		if len(missing) > 0 {
			s.log.Warn("answer: requested collections not found", "missing", missing)
		}
		if len(selected) == 0 {
			return nil, &CollectionNotFoundError{Collections: missing}
		}
	}

	out := make(map[string]*schema.Snapshot, len(selected))
	for _, name := range selected {
		snap, err := s.cfg.Store.SampleSchema(ctx, name)
		if err != nil {
			return nil, s.wrapTimeout(ctx, "schema sampling", err)
		}
		out[name] = snap
	}
	return out, nil
}

// resolveHint returns the cached recommendation when one was selected and
// still exists, falling back to the draft's own hint. An unknown id is a
// diagnostic only.
func (s *Service) resolveHint(draft *plan.DraftPlan, recommendationID string) *plan.VisualizationHint {
	if recommendationID == "" {
		return draft.Visualization
	}
	if s.cfg.Recommendations == nil {
		s.log.Warn("answer: recommendation selected but no cache configured", "id", recommendationID)
		return draft.Visualization
	}
	hint, ok := s.cfg.Recommendations.Get(recommendationID)
	if !ok {
		s.log.Warn("answer: selected recommendation not found", "id", recommendationID)
		return draft.Visualization
	}
	return hint
}

// wrapTimeout converts a failure caused by the request deadline into a
// typed timeout error; other errors pass through unchanged.
func (s *Service) wrapTimeout(ctx context.Context, stage string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Stage: stage, Err: err}
	}
	return err
}

func planFailureKind(err error) string {
	var parseErr *plan.ParseError
	var shapeErr *plan.ShapeError
	switch {
	case errors.As(err, &parseErr):
		return "parse"
	case errors.As(err, &shapeErr):
		return "shape"
	default:
		return "llm"
	}
}
