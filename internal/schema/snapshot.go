// Package schema builds per-collection field type snapshots by sampling
// documents from the store. A snapshot is immutable for the lifetime of a
// request and is the ground truth the sanitizer checks draft pipelines
// against.
package schema

import (
	"encoding/json"
	"strings"
	"time"
)

// PrimitiveType is the inferred type of a sampled field.
type PrimitiveType string

const (
	TypeString  PrimitiveType = "string"
	TypeNumber  PrimitiveType = "number"
	TypeBool    PrimitiveType = "boolean"
	TypeDate    PrimitiveType = "date"
	TypeArray   PrimitiveType = "array"
	TypeNull    PrimitiveType = "null"
	TypeUnknown PrimitiveType = "unknown"
)

// Snapshot maps field names of one collection to their inferred types.
// FieldOrder preserves the order fields appeared in the sampled document
// so prompt output stays stable across requests.
type Snapshot struct {
	Collection string
	Fields     map[string]PrimitiveType
	FieldOrder []string
}

// New returns an empty snapshot for a collection. An empty snapshot is
// valid: it is what sampling an empty collection produces.
func New(collection string) *Snapshot {
	return &Snapshot{
		Collection: collection,
		Fields:     make(map[string]PrimitiveType),
	}
}

// Set records a field's inferred type. The first Set for a name fixes its
// position in FieldOrder.
func (s *Snapshot) Set(name string, t PrimitiveType) {
	if _, ok := s.Fields[name]; !ok {
		s.FieldOrder = append(s.FieldOrder, name)
	}
	s.Fields[name] = t
}

// Type returns the inferred type for a field, or TypeUnknown if the field
// was not present in the sampled document.
func (s *Snapshot) Type(name string) PrimitiveType {
	if t, ok := s.Fields[name]; ok {
		return t
	}
	return TypeUnknown
}

// Has reports whether the field was present in the sampled document.
func (s *Snapshot) Has(name string) bool {
	_, ok := s.Fields[name]
	return ok
}

// IsDate reports whether a field's declared type names a date or timestamp.
// The substring check mirrors how loosely typed stores report temporal
// columns ("date", "datetime", "timestamp").
func (s *Snapshot) IsDate(name string) bool {
	t := strings.ToLower(string(s.Type(name)))
	return strings.Contains(t, "date") || strings.Contains(t, "timestamp")
}

// DateFields returns the names of all date-typed fields in sampled order.
func (s *Snapshot) DateFields() []string {
	var out []string
	for _, name := range s.FieldOrder {
		if s.IsDate(name) {
			out = append(out, name)
		}
	}
	return out
}

// PromptText renders the snapshot as a compact field list for embedding in
// a model prompt.
func (s *Snapshot) PromptText() string {
	var sb strings.Builder
	sb.WriteString(s.Collection + ":\n")
	if len(s.FieldOrder) == 0 {
		sb.WriteString("  (no sampled documents)\n")
		return sb.String()
	}
	for _, name := range s.FieldOrder {
		sb.WriteString("  - " + name + " (" + string(s.Fields[name]) + ")\n")
	}
	return sb.String()
}

// InferType maps a sampled Go value to a primitive type. Store adapters
// convert driver-specific values (BSON dates, object ids) before calling
// this; anything unrecognized, including nested documents, is unknown.
func InferType(v any) PrimitiveType {
	switch v.(type) {
	case nil:
		return TypeNull
	case bool:
		return TypeBool
	case string:
		return TypeString
	case int, int32, int64, float32, float64, json.Number:
		return TypeNumber
	case time.Time:
		return TypeDate
	case []any:
		return TypeArray
	default:
		return TypeUnknown
	}
}
