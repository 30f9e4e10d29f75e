// Package plan turns a natural-language question into a draft aggregation
// plan by prompting a generative model and parsing its response. The draft
// is unvalidated: type-checking it against the live schema is the
// sanitizer's job.
package plan

// DraftPlan is the model's proposed answer strategy for one question. It
// is produced once per request and read-only afterward.
type DraftPlan struct {
	Interpretation           string
	PrimaryCollection        string
	RequiresAnalysis         bool
	Pipeline                 []*Doc
	VisualizationRecommended bool
	Visualization            *VisualizationHint
}

// VisualizationHint is the model's advisory chart suggestion. The
// reconciler may override any of it when it disagrees with the actual
// result shape.
type VisualizationHint struct {
	Type       string       `json:"type"`
	Title      string       `json:"title"`
	XAxis      AxisHint     `json:"xAxis"`
	YAxis      AxisHint     `json:"yAxis"`
	Dimensions []string     `json:"dimensions"`
	Series     []SeriesHint `json:"series"`
}

// AxisHint carries the suggested type ("category" or "value") for one axis.
type AxisHint struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

// SeriesHint is one suggested series. Encode mappings from the hint are
// not trusted; the reconciler rewrites them from the resolved axis roles.
type SeriesHint struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

// ParseError reports that no parseable JSON plan was found in the model
// output.
type ParseError struct {
	Reason string
	Output string
}

func (e *ParseError) Error() string {
	return "plan parse error: " + e.Reason
}

// ShapeError reports that the parsed plan is missing required structure:
// a pipeline array, a primary collection, or a primary collection that
// matches a known schema.
type ShapeError struct {
	Reason string
}

func (e *ShapeError) Error() string {
	return "plan shape error: " + e.Reason
}
