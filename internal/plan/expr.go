package plan

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Expr is one node of an aggregation stage expression tree. The variants
// are closed: Scalar, FieldRef, *Doc, and *Array. Draft pipelines arrive as
// untyped JSON; decoding into this tree lets the sanitizer pattern-match
// exhaustively instead of inspecting raw maps, and keeps key order intact.
type Expr interface {
	exprNode()
}

// Scalar is a literal leaf: string, number (json.Number), bool, or null.
type Scalar struct {
	Value any
}

// FieldRef is a "$field" reference. Name holds the field path without the
// leading dollar sign.
type FieldRef struct {
	Name string
}

// Entry is one key/value pair of a Doc. Keys starting with "$" are
// operators; other keys are field names.
type Entry struct {
	Key   string
	Value Expr
}

// Doc is an ordered keyed object node. Order is preserved from the source
// JSON because stage semantics (sort specs, compound group keys) depend
// on it.
type Doc struct {
	Entries []Entry
}

// Array is an ordered list node.
type Array struct {
	Items []Expr
}

func (Scalar) exprNode()   {}
func (FieldRef) exprNode() {}
func (*Doc) exprNode()     {}
func (*Array) exprNode()   {}

// Get returns the value for a key, if present.
func (d *Doc) Get(key string) (Expr, bool) {
	for _, e := range d.Entries {
		if e.Key == key {
			return e.Value, true
		}
	}
	return nil, false
}

// Set replaces the value for an existing key or appends a new entry.
func (d *Doc) Set(key string, v Expr) {
	for i, e := range d.Entries {
		if e.Key == key {
			d.Entries[i].Value = v
			return
		}
	}
	d.Entries = append(d.Entries, Entry{Key: key, Value: v})
}

// CloneExpr deep-copies a tree. The sanitizer rewrites into fresh nodes so
// the draft plan's tree is never aliased by the corrected pipeline.
func CloneExpr(e Expr) Expr {
	switch n := e.(type) {
	case Scalar:
		return n
	case FieldRef:
		return n
	case *Doc:
		out := &Doc{Entries: make([]Entry, len(n.Entries))}
		for i, entry := range n.Entries {
			out.Entries[i] = Entry{Key: entry.Key, Value: CloneExpr(entry.Value)}
		}
		return out
	case *Array:
		out := &Array{Items: make([]Expr, len(n.Items))}
		for i, item := range n.Items {
			out.Items[i] = CloneExpr(item)
		}
		return out
	default:
		return nil
	}
}

// DecodeExpr parses JSON into an expression tree, preserving document key
// order. Strings with a single leading "$" become FieldRefs; "$$" system
// variables stay scalars.
func DecodeExpr(data []byte) (Expr, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	e, err := decodeValue(dec)
	if err != nil {
		return nil, err
	}
	// Trailing garbage after the value is a malformed tree.
	if dec.More() {
		return nil, fmt.Errorf("unexpected trailing data after expression")
	}
	return e, nil
}

// DecodePipeline parses a JSON array of stage objects.
func DecodePipeline(data []byte) ([]*Doc, error) {
	e, err := DecodeExpr(data)
	if err != nil {
		return nil, err
	}
	arr, ok := e.(*Array)
	if !ok {
		return nil, fmt.Errorf("pipeline is not an array")
	}
	stages := make([]*Doc, 0, len(arr.Items))
	for i, item := range arr.Items {
		doc, ok := item.(*Doc)
		if !ok {
			return nil, fmt.Errorf("pipeline stage %d is not an object", i)
		}
		stages = append(stages, doc)
	}
	return stages, nil
}

func decodeValue(dec *json.Decoder) (Expr, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	return decodeFromToken(dec, tok)
}

func decodeFromToken(dec *json.Decoder, tok json.Token) (Expr, error) {
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			doc := &Doc{}
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return nil, fmt.Errorf("object key is not a string")
				}
				val, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				doc.Entries = append(doc.Entries, Entry{Key: key, Value: val})
			}
			if _, err := dec.Token(); err != nil { // consume '}'
				return nil, err
			}
			return doc, nil
		case '[':
			arr := &Array{}
			for dec.More() {
				item, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				arr.Items = append(arr.Items, item)
			}
			if _, err := dec.Token(); err != nil { // consume ']'
				return nil, err
			}
			return arr, nil
		default:
			return nil, fmt.Errorf("unexpected delimiter %q", t)
		}
	case string:
		if strings.HasPrefix(t, "$") && !strings.HasPrefix(t, "$$") {
			return FieldRef{Name: strings.TrimPrefix(t, "$")}, nil
		}
		return Scalar{Value: t}, nil
	default:
		// json.Number, bool, or nil.
		return Scalar{Value: t}, nil
	}
}

// MarshalJSON renders the node back to plain JSON.
func (s Scalar) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Value)
}

func (f FieldRef) MarshalJSON() ([]byte, error) {
	return json.Marshal("$" + f.Name)
}

func (d *Doc) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range d.Entries {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(e.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(e.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (a *Array) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, item := range a.Items {
		if i > 0 {
			buf.WriteByte(',')
		}
		val, err := json.Marshal(item)
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// MarshalPipeline serializes a pipeline for diagnostics and API responses.
func MarshalPipeline(stages []*Doc) string {
	arr := &Array{Items: make([]Expr, len(stages))}
	for i, s := range stages {
		arr.Items[i] = s
	}
	data, err := json.Marshal(arr)
	if err != nil {
		return "[]"
	}
	return string(data)
}
