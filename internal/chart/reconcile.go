package chart

import (
	"errors"
	"log/slog"

	"github.com/insightlabs/insight/internal/plan"
)

// dataZoomThreshold is the category count above which a slider range
// selector is attached, initially spanning roughly this many entries.
const dataZoomThreshold = 10

// defaultPalette is the fixed categorical palette applied when the hint
// supplies none.
var defaultPalette = []string{
	"#5470c6", "#91cc75", "#fac858", "#ee6666", "#73c0de",
	"#3ba272", "#fc8452", "#9a60b4", "#ea7ccc",
}

// ReconcilerConfig holds the reconciler's collaborators.
type ReconcilerConfig struct {
	Logger *slog.Logger
}

func (c *ReconcilerConfig) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	return nil
}

// Reconciler turns an advisory visualization hint plus actual result rows
// into a complete, internally consistent chart spec. The hint is never
// trusted blindly: axis roles and series encodings are rederived from the
// result shape.
type Reconciler struct {
	log *slog.Logger
}

func NewReconciler(cfg *ReconcilerConfig) (*Reconciler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Reconciler{log: cfg.Logger}, nil
}

// Reconcile returns nil when no visualization was requested (nil hint) or
// when there are no result rows to chart.
func (r *Reconciler) Reconcile(hint *plan.VisualizationHint, interpretation string, columns []string, rows []map[string]any) *Spec {
	if hint == nil || len(rows) == 0 {
		return nil
	}

	dims := r.resolveDimensions(hint, columns)
	if len(dims) == 0 {
		r.log.Warn("reconcile: no usable dimensions, skipping visualization")
		return nil
	}

	chartKind := hint.Type
	if chartKind == "" {
		chartKind = "bar"
	}
	xType := hint.XAxis.Type
	if xType == "" {
		xType = "category"
	}
	yType := hint.YAxis.Type
	if yType == "" {
		yType = "value"
	}

	// The one deliberately asymmetric rule: a bar chart declaring a
	// category y-axis and a value x-axis renders as a horizontal bar, with
	// axis roles swapped but the dimension-to-field mapping unchanged.
	// Other chart kinds keep the default assignment even with a category
	// y-axis; widening the swap needs product clarification first.
	horizontal := chartKind == "bar" && yType == "category" && xType == "value"

	catField := dims[0]
	valField := ""
	if len(dims) > 1 {
		valField = dims[1]
	}
	catLabel := FormatLabel(catField)
	valLabel := FormatLabel(valField)

	categoryData := make([]any, 0, len(rows))
	distinct := make(map[any]struct{})
	for _, row := range rows {
		v := row[catField]
		// Result order already reflects any requested sort; duplicates are
		// preserved.
		categoryData = append(categoryData, v)
		distinct[normalizeKey(v)] = struct{}{}
	}
	zoomed := len(distinct) > dataZoomThreshold

	categoryAxis := &Axis{Type: "category", Name: catLabel, Data: categoryData}
	valueAxis := &Axis{Type: "value", Name: valLabel}

	spec := &Spec{
		Horizontal: horizontal,
		Color:      defaultPalette,
		Title:      &Title{Text: r.resolveTitle(hint, interpretation)},
		Tooltip:    &Tooltip{Trigger: "axis", CategoryLabel: catLabel, ValueLabel: valLabel},
		Dataset:    &Dataset{Source: rows, Dimensions: dims},
		Grid:       &Grid{ContainLabel: true},
	}

	if horizontal {
		spec.YAxis = categoryAxis
		spec.XAxis = valueAxis
	} else {
		spec.XAxis = categoryAxis
		spec.YAxis = valueAxis
		if zoomed {
			// Rotated labels need extra grid padding below the axis.
			categoryAxis.AxisLabel = &AxisLabel{Rotate: 30}
			spec.Grid.Bottom = "80"
		}
	}

	if zoomed {
		spec.DataZoom = []DataZoom{r.buildDataZoom(horizontal, len(distinct))}
	}

	spec.Series = r.buildSeries(hint, chartKind, horizontal, catField, valField)

	r.log.Debug("reconcile: chart spec built",
		"kind", chartKind,
		"horizontal", horizontal,
		"dimensions", dims,
		"categories", len(distinct),
		"zoom", zoomed)
	return spec
}

// resolveDimensions prefers the hint's dimensions, falling back to the
// result columns minus the internal identifier. At most two dimensions are
// supported (category, value); extras are truncated with a warning.
func (r *Reconciler) resolveDimensions(hint *plan.VisualizationHint, columns []string) []string {
	dims := hint.Dimensions
	if len(dims) == 0 {
		for _, col := range columns {
			if col == "_id" {
				continue
			}
			dims = append(dims, col)
		}
	}
	if len(dims) > 2 {
		r.log.Warn("reconcile: truncating dimensions to category and value", "requested", dims)
		dims = dims[:2]
	}
	return dims
}

// buildSeries synthesizes series when the hint supplies none, and rewrites
// the hint's series encodings from the resolved axis roles when it does.
// A hint that disagrees with itself must not survive into the output.
func (r *Reconciler) buildSeries(hint *plan.VisualizationHint, chartKind string, horizontal bool, catField, valField string) []Series {
	encode := map[string]string{}
	if horizontal {
		encode["y"] = catField
		if valField != "" {
			encode["x"] = valField
		}
	} else {
		encode["x"] = catField
		if valField != "" {
			encode["y"] = valField
		}
	}

	if len(hint.Series) == 0 {
		return []Series{{Type: chartKind, Encode: encode}}
	}

	out := make([]Series, 0, len(hint.Series))
	for _, sh := range hint.Series {
		st := sh.Type
		if st == "" {
			st = chartKind
		}
		out = append(out, Series{Type: st, Name: sh.Name, Encode: encode})
	}
	return out
}

// buildDataZoom attaches a slider along the edge adjacent to the category
// axis, defaulting to the first ~10 entries' proportional span.
func (r *Reconciler) buildDataZoom(horizontal bool, categories int) DataZoom {
	end := float64(dataZoomThreshold) / float64(categories) * 100
	if end > 100 {
		end = 100
	}
	zoom := DataZoom{Type: "slider", Start: 0, End: end}
	if horizontal {
		zoom.YAxisIndex = []int{0}
		zoom.Right = "0"
	} else {
		zoom.XAxisIndex = []int{0}
		zoom.Bottom = "0"
	}
	return zoom
}

func (r *Reconciler) resolveTitle(hint *plan.VisualizationHint, interpretation string) string {
	if hint.Title != "" {
		return FormatLabel(hint.Title)
	}
	if interpretation != "" {
		return FormatLabel(interpretation)
	}
	return "Query Results"
}

// normalizeKey makes category values usable as map keys for the distinct
// count; non-comparable values collapse to their string form.
func normalizeKey(v any) any {
	switch v.(type) {
	case string, bool, int, int32, int64, float32, float64, nil:
		return v
	default:
		return FormatValue(v)
	}
}
