// Package sanitize type-checks and heals draft aggregation pipelines
// against a schema snapshot. Generative models routinely emit pipelines
// that re-convert fields which are already native dates, or extract date
// components from fields that never held dates; the sanitizer removes the
// former and surfaces the latter.
package sanitize

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/insightlabs/insight/internal/plan"
)

// stringToDateOps are conversion operators that parse a value into a date.
var stringToDateOps = map[string]bool{
	"$dateFromString": true,
	"$toDate":         true,
}

// dateExtractOps read a date component (or format a date) from an operand
// that must already be a date.
var dateExtractOps = map[string]bool{
	"$year":         true,
	"$month":        true,
	"$week":         true,
	"$isoWeek":      true,
	"$isoWeekYear":  true,
	"$dayOfMonth":   true,
	"$dayOfWeek":    true,
	"$dayOfYear":    true,
	"$hour":         true,
	"$minute":       true,
	"$second":       true,
	"$millisecond":  true,
	"$dateToString": true,
}

// dateProducingOps provably yield a date value.
var dateProducingOps = map[string]bool{
	"$dateFromString": true,
	"$toDate":         true,
	"$dateFromParts":  true,
	"$dateAdd":        true,
	"$dateSubtract":   true,
	"$dateTrunc":      true,
}

// passThroughAccums yield whatever type their operand has.
var passThroughAccums = map[string]bool{
	"$first": true,
	"$last":  true,
	"$min":   true,
	"$max":   true,
}

// Diagnostic records a likely defect in the draft plan that was surfaced
// rather than auto-fixed. Diagnostics never alter control flow.
type Diagnostic struct {
	Stage    int
	Operator string
	Field    string
	Message  string
}

// Report is the side channel of one sanitization pass.
type Report struct {
	Diagnostics []Diagnostic
	Rewrites    int
}

// StructureError reports a stage tree that is not a valid nested key/value
// structure. Unlike diagnostics this is fatal: the pipeline cannot be
// walked.
type StructureError struct {
	Stage  int
	Reason string
}

func (e *StructureError) Error() string {
	return fmt.Sprintf("sanitize: stage %d: %s", e.Stage, e.Reason)
}

// Config holds sanitizer policy.
type Config struct {
	Logger *slog.Logger

	// ForceConvertCollections lists collections whose schema inference is
	// known to be unreliable; for these, dead-conversion removal applies
	// even when the referenced field is not tracked as a date. This is a
	// policy knob, not an invariant.
	ForceConvertCollections []string
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	return nil
}

// Sanitizer rewrites draft pipelines. It is stateless across calls and safe
// for concurrent use.
type Sanitizer struct {
	log   *slog.Logger
	force map[string]bool
}

func New(cfg *Config) (*Sanitizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	force := make(map[string]bool, len(cfg.ForceConvertCollections))
	for _, name := range cfg.ForceConvertCollections {
		force[name] = true
	}
	return &Sanitizer{log: cfg.Logger, force: force}, nil
}

// walkState threads per-pass context through the tree rewrite.
type walkState struct {
	dates  DateFieldSet
	force  bool
	stage  int
	report *Report
}

// Sanitize walks the pipeline stage-by-stage in declaration order and
// returns a new, corrected pipeline plus a report of what it found. It is
// a forward-propagating type-inference pass, not a pure function: dates is
// mutated so each stage sees the field-type knowledge produced by the
// stages before it. The input pipeline is never modified and shares no
// nodes with the output.
//
// Three rules apply per stage:
//   - dead conversion removal: a string-to-date conversion of a field that
//     already holds a date collapses to a direct field reference;
//   - mismatch detection: a date-component extraction of a non-date field
//     is recorded as a diagnostic but left untouched, since auto-wrapping
//     it in a conversion is a correctness risk;
//   - field-type propagation: fields newly defined by the stage are added
//     to (or removed from) dates after the stage's own rewrite, so only
//     later stages see the change.
func (s *Sanitizer) Sanitize(pipeline []*plan.Doc, dates DateFieldSet, primaryCollection string) ([]*plan.Doc, *Report, error) {
	report := &Report{}
	out := make([]*plan.Doc, 0, len(pipeline))

	for i, stage := range pipeline {
		if stage == nil {
			return nil, nil, &StructureError{Stage: i, Reason: "stage is not an object"}
		}

		st := &walkState{
			dates:  dates,
			force:  s.force[primaryCollection],
			stage:  i,
			report: report,
		}
		rewritten := s.rewriteExpr(stage, st)
		stageDoc, ok := rewritten.(*plan.Doc)
		if !ok {
			return nil, nil, &StructureError{Stage: i, Reason: "stage rewrote to a non-object"}
		}

		propagateFieldTypes(stageDoc, dates)
		out = append(out, stageDoc)
	}

	if report.Rewrites > 0 || len(report.Diagnostics) > 0 {
		s.log.Debug("sanitize: pipeline processed",
			"collection", primaryCollection,
			"stages", len(pipeline),
			"rewrites", report.Rewrites,
			"diagnostics", len(report.Diagnostics))
	}
	return out, report, nil
}

// rewriteExpr produces a new tree for one node, applying conversion removal
// and mismatch detection on the way down.
func (s *Sanitizer) rewriteExpr(e plan.Expr, st *walkState) plan.Expr {
	switch n := e.(type) {
	case plan.Scalar, plan.FieldRef:
		return n
	case *plan.Array:
		out := &plan.Array{Items: make([]plan.Expr, len(n.Items))}
		for i, item := range n.Items {
			out.Items[i] = s.rewriteExpr(item, st)
		}
		return out
	case *plan.Doc:
		// A single-key operator document that converts an already-date
		// field collapses to the field reference itself.
		if len(n.Entries) == 1 && stringToDateOps[n.Entries[0].Key] {
			if field, ok := conversionOperandField(n.Entries[0].Key, n.Entries[0].Value); ok {
				if st.force || st.dates.Has(field) {
					st.report.Rewrites++
					s.log.Debug("sanitize: removed dead date conversion",
						"stage", st.stage, "operator", n.Entries[0].Key, "field", field)
					return plan.FieldRef{Name: field}
				}
			}
		}

		out := &plan.Doc{Entries: make([]plan.Entry, len(n.Entries))}
		for i, entry := range n.Entries {
			value := s.rewriteExpr(entry.Value, st)

			if dateExtractOps[entry.Key] {
				s.checkExtractOperand(entry.Key, value, st)
			}

			out.Entries[i] = plan.Entry{Key: entry.Key, Value: value}
		}
		return out
	default:
		return e
	}
}

// checkExtractOperand records a diagnostic when a date-component extraction
// is applied to a field reference that is not tracked as a date. Nested
// operands were already rewritten (and checked) recursively.
func (s *Sanitizer) checkExtractOperand(op string, operand plan.Expr, st *walkState) {
	ref, ok := extractOperandRef(op, operand)
	if !ok || st.dates.Has(ref.Name) {
		return
	}
	st.report.Diagnostics = append(st.report.Diagnostics, Diagnostic{
		Stage:    st.stage,
		Operator: op,
		Field:    ref.Name,
		Message:  fmt.Sprintf("%s applied to field %q which is not a known date field", op, ref.Name),
	})
	s.log.Warn("sanitize: date operator applied to non-date field",
		"stage", st.stage, "operator", op, "field", ref.Name)
}

// extractOperandRef resolves the date operand of an extraction operator to
// a direct field reference, when it is one. $dateToString takes its operand
// from the "date" key of its argument document.
func extractOperandRef(op string, operand plan.Expr) (plan.FieldRef, bool) {
	if op == "$dateToString" {
		doc, ok := operand.(*plan.Doc)
		if !ok {
			return plan.FieldRef{}, false
		}
		inner, ok := doc.Get("date")
		if !ok {
			return plan.FieldRef{}, false
		}
		operand = inner
	}
	ref, ok := operand.(plan.FieldRef)
	return ref, ok
}

// conversionOperandField resolves a string-to-date conversion's operand to
// the underlying field name. The operand may be the field reference itself,
// a $dateFromString argument document, or either of those behind a single
// $toString wrapper.
func conversionOperandField(op string, operand plan.Expr) (string, bool) {
	if op == "$dateFromString" {
		doc, ok := operand.(*plan.Doc)
		if !ok {
			// Tolerate a bare reference even though the operator formally
			// takes a document.
			return unwrapFieldRef(operand)
		}
		inner, ok := doc.Get("dateString")
		if !ok {
			return "", false
		}
		return unwrapFieldRef(inner)
	}
	return unwrapFieldRef(operand)
}

// unwrapFieldRef returns the field name behind e, looking through at most
// one level of $toString.
func unwrapFieldRef(e plan.Expr) (string, bool) {
	if ref, ok := e.(plan.FieldRef); ok {
		return ref.Name, true
	}
	doc, ok := e.(*plan.Doc)
	if !ok || len(doc.Entries) != 1 || doc.Entries[0].Key != "$toString" {
		return "", false
	}
	ref, ok := doc.Entries[0].Value.(plan.FieldRef)
	if !ok {
		return "", false
	}
	return ref.Name, true
}

// propagateFieldTypes updates the date-field set with fields the stage
// newly defines. This runs strictly after the stage's own rewrite so
// earlier stages are unaffected by the new knowledge.
func propagateFieldTypes(stage *plan.Doc, dates DateFieldSet) {
	for _, e := range stage.Entries {
		switch e.Key {
		case "$addFields", "$set", "$project":
			doc, ok := e.Value.(*plan.Doc)
			if !ok {
				continue
			}
			for _, f := range doc.Entries {
				if strings.HasPrefix(f.Key, "$") {
					continue
				}
				trackDefinedField(f.Key, f.Value, dates)
			}
		case "$group":
			doc, ok := e.Value.(*plan.Doc)
			if !ok {
				continue
			}
			for _, f := range doc.Entries {
				if f.Key == "_id" {
					if keyDoc, ok := f.Value.(*plan.Doc); ok && !isOperatorDoc(keyDoc) {
						// Compound group key: each subfield becomes an
						// output field.
						for _, k := range keyDoc.Entries {
							trackDefinedField(k.Key, k.Value, dates)
						}
						continue
					}
				}
				trackDefinedField(f.Key, f.Value, dates)
			}
		}
	}
}

// trackDefinedField adds name to dates when its defining expression
// provably produces a date, and un-tracks it when a redefinition does not.
// Projection inclusion flags (1/true) keep the existing type; exclusion
// flags (0/false) drop the field.
func trackDefinedField(name string, def plan.Expr, dates DateFieldSet) {
	if sc, ok := def.(plan.Scalar); ok {
		if isInclusionFlag(sc) {
			return
		}
		if isExclusionFlag(sc) {
			dates.Remove(name)
			return
		}
	}
	if provesDate(def, dates) {
		dates.Add(name)
	} else {
		dates.Remove(name)
	}
}

// provesDate reports whether an expression provably produces a date value:
// a reference to a tracked date field, an explicit date construction or
// conversion, a $ifNull where any branch proves, a $cond where either
// branch proves, or a pass-through accumulator over a proving operand.
func provesDate(e plan.Expr, dates DateFieldSet) bool {
	switch n := e.(type) {
	case plan.FieldRef:
		return dates.Has(n.Name)
	case *plan.Doc:
		if len(n.Entries) != 1 {
			return false
		}
		key, val := n.Entries[0].Key, n.Entries[0].Value
		switch {
		case dateProducingOps[key]:
			return true
		case key == "$ifNull":
			arr, ok := val.(*plan.Array)
			if !ok {
				return false
			}
			for _, item := range arr.Items {
				if provesDate(item, dates) {
					return true
				}
			}
			return false
		case key == "$cond":
			if arr, ok := val.(*plan.Array); ok && len(arr.Items) == 3 {
				return provesDate(arr.Items[1], dates) || provesDate(arr.Items[2], dates)
			}
			if doc, ok := val.(*plan.Doc); ok {
				thenE, _ := doc.Get("then")
				elseE, _ := doc.Get("else")
				return (thenE != nil && provesDate(thenE, dates)) ||
					(elseE != nil && provesDate(elseE, dates))
			}
			return false
		case passThroughAccums[key]:
			return provesDate(val, dates)
		}
		return false
	default:
		return false
	}
}

func isOperatorDoc(d *plan.Doc) bool {
	return len(d.Entries) > 0 && strings.HasPrefix(d.Entries[0].Key, "$")
}

func isInclusionFlag(s plan.Scalar) bool {
	switch v := s.Value.(type) {
	case bool:
		return v
	default:
		return numericValue(s) == 1
	}
}

func isExclusionFlag(s plan.Scalar) bool {
	switch v := s.Value.(type) {
	case bool:
		return !v
	default:
		return numericValue(s) == 0 && isNumeric(s)
	}
}

func numericValue(s plan.Scalar) float64 {
	switch v := s.Value.(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	if num, ok := s.Value.(interface{ Float64() (float64, error) }); ok {
		if f, err := num.Float64(); err == nil {
			return f
		}
	}
	return -1
}

func isNumeric(s plan.Scalar) bool {
	switch s.Value.(type) {
	case float64, int, int64:
		return true
	}
	_, ok := s.Value.(interface{ Float64() (float64, error) })
	return ok
}
