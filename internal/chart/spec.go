// Package chart derives a renderer-agnostic (ECharts-shaped) chart
// specification from a visualization hint and actual result rows.
package chart

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
)

// Spec is the fully resolved chart description: axes, series, dataset, and
// interaction behavior. Built once, immutable, returned to the caller.
type Spec struct {
	Title    *Title     `json:"title,omitempty"`
	Color    []string   `json:"color,omitempty"`
	Tooltip  *Tooltip   `json:"tooltip,omitempty"`
	Grid     *Grid      `json:"grid,omitempty"`
	XAxis    *Axis      `json:"xAxis,omitempty"`
	YAxis    *Axis      `json:"yAxis,omitempty"`
	Series   []Series   `json:"series"`
	Dataset  *Dataset   `json:"dataset,omitempty"`
	DataZoom []DataZoom `json:"dataZoom,omitempty"`

	// Horizontal marks the horizontal-bar layout, where the category
	// binds to Y and the value to X.
	Horizontal bool `json:"-"`
}

type Title struct {
	Text string `json:"text"`
}

type Axis struct {
	Type      string     `json:"type"`
	Name      string     `json:"name,omitempty"`
	Data      []any      `json:"data,omitempty"`
	AxisLabel *AxisLabel `json:"axisLabel,omitempty"`
}

type AxisLabel struct {
	Rotate int `json:"rotate,omitempty"`
}

type Series struct {
	Type   string            `json:"type"`
	Name   string            `json:"name,omitempty"`
	Encode map[string]string `json:"encode,omitempty"`
}

type Dataset struct {
	Source     []map[string]any `json:"source"`
	Dimensions []string         `json:"dimensions,omitempty"`
}

type Grid struct {
	Left         string `json:"left,omitempty"`
	Right        string `json:"right,omitempty"`
	Top          string `json:"top,omitempty"`
	Bottom       string `json:"bottom,omitempty"`
	ContainLabel bool   `json:"containLabel,omitempty"`
}

type DataZoom struct {
	Type       string  `json:"type"`
	XAxisIndex []int   `json:"xAxisIndex,omitempty"`
	YAxisIndex []int   `json:"yAxisIndex,omitempty"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Bottom     string  `json:"bottom,omitempty"`
	Right      string  `json:"right,omitempty"`
}

// Tooltip is axis-triggered. CategoryLabel and ValueLabel feed the
// rendering contract implemented by FormatLines; they are not part of the
// serialized spec.
type Tooltip struct {
	Trigger string `json:"trigger"`

	CategoryLabel string `json:"-"`
	ValueLabel    string `json:"-"`
}

// Point is one hovered series value handed to the tooltip formatter.
type Point struct {
	Marker     string
	SeriesName string
	Value      any
}

// FormatLines renders the tooltip for one hovered category: a heading line
// of "<category label>: <category value>" followed by one line per series.
// Numeric values get locale thousands separators.
func (t *Tooltip) FormatLines(category any, points []Point) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%s: %v", t.CategoryLabel, category))
	for _, p := range points {
		name := p.SeriesName
		if name == "" {
			name = t.ValueLabel
		}
		sb.WriteString(fmt.Sprintf("\n%s %s (%s): %s", p.Marker, name, t.ValueLabel, FormatValue(p.Value)))
	}
	return sb.String()
}

// FormatValue renders a value for display, adding thousands separators to
// numbers. Non-numeric values pass through unchanged.
func FormatValue(v any) string {
	switch n := v.(type) {
	case int:
		return humanize.Comma(int64(n))
	case int32:
		return humanize.Comma(int64(n))
	case int64:
		return humanize.Comma(n)
	case float64:
		if n == float64(int64(n)) {
			return humanize.Comma(int64(n))
		}
		return humanize.CommafWithDigits(n, 2)
	case float32:
		return FormatValue(float64(n))
	default:
		return fmt.Sprintf("%v", v)
	}
}
