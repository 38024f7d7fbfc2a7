// Package advisor proposes compound indexes for query shapes using the
// Equality, Sort, Range ordering rule.
package advisor

import (
	"strings"

	"github.com/ppiankov/shapespectre/internal/shape"
)

// EqualityTag marks a field compared by equality in a simplified filter.
const EqualityTag = shape.String("$eq")

// FieldTag is a field of a simplified filter and the tag it was reduced to.
type FieldTag struct {
	Field string
	Tag   shape.Value
}

func isLogical(key string) bool {
	return key == "$and" || key == "$or"
}

// SimplifyFilter reduces a filter to a skeleton where each compared field maps
// to its operator. Placeholders become $eq. A field with several operators,
// such as {$gt: x, $lt: y}, keeps only the first one.
func SimplifyFilter(filter shape.Value) shape.Value {
	switch f := filter.(type) {
	case shape.Document:
		out := make(shape.Document, 0, len(f))
		for _, field := range f {
			out = append(out, shape.Field{Key: field.Key, Value: simplifyField(field.Key, field.Value)})
		}
		return out
	case shape.Array:
		out := make(shape.Array, len(f))
		for i, item := range f {
			out[i] = SimplifyFilter(item)
		}
		return out
	default:
		return filter
	}
}

func simplifyField(key string, value shape.Value) shape.Value {
	if isLogical(key) {
		return SimplifyFilter(value)
	}
	if doc, ok := value.(shape.Document); ok {
		if op, ok := firstOperator(doc); ok {
			return shape.String(op)
		}
	}
	if _, ok := shape.IsPlaceholder(value); ok {
		return EqualityTag
	}
	return SimplifyFilter(value)
}

func firstOperator(doc shape.Document) (string, bool) {
	for _, f := range doc {
		if strings.HasPrefix(f.Key, "$") {
			return f.Key, true
		}
	}
	return "", false
}

// ExtractFields flattens a simplified filter into field/tag pairs in document
// order. $and and $or are not fields themselves but their branches are read.
func ExtractFields(simplified shape.Value) []FieldTag {
	var fields []FieldTag
	switch v := simplified.(type) {
	case shape.Document:
		for _, f := range v {
			if !isLogical(f.Key) {
				fields = append(fields, FieldTag{Field: f.Key, Tag: f.Value})
			}
			fields = append(fields, ExtractFields(f.Value)...)
		}
	case shape.Array:
		for _, item := range v {
			fields = append(fields, ExtractFields(item)...)
		}
	}
	return fields
}

// MatchFilter returns the filter of the first $match stage of a pipeline.
func MatchFilter(pipeline shape.Array) (shape.Value, bool) {
	for _, stage := range pipeline {
		doc, ok := stage.(shape.Document)
		if !ok {
			continue
		}
		if match, ok := doc.Get("$match"); ok {
			return match, true
		}
	}
	return nil, false
}
