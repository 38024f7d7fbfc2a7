package advisor

import (
	"strconv"
	"strings"

	"github.com/ppiankov/shapespectre/internal/shape"
)

// KeyField is an ordered index key element.
type KeyField struct {
	Field     string `json:"field"`
	Direction int    `json:"direction"`
}

// IndexKeySpec is an ordered index key pattern. Order is the contract.
type IndexKeySpec []KeyField

// Fields returns the key field names in order.
func (s IndexKeySpec) Fields() []string {
	fields := make([]string, 0, len(s))
	for _, k := range s {
		fields = append(fields, k.Field)
	}
	return fields
}

// Document renders the key pattern as {field: direction, ...}.
func (s IndexKeySpec) Document() shape.Document {
	doc := make(shape.Document, 0, len(s))
	for _, k := range s {
		doc = append(doc, shape.Field{Key: k.Field, Value: shape.Int(k.Direction)})
	}
	return doc
}

// String renders the key pattern the way the shell prints it.
func (s IndexKeySpec) String() string {
	parts := make([]string, 0, len(s))
	for _, k := range s {
		parts = append(parts, k.Field+": "+strconv.Itoa(k.Direction))
	}
	return "{ " + strings.Join(parts, ", ") + " }"
}

// SuggestIndex proposes an index key order for filter and sort: equality
// fields, then sort fields, then range fields, all ascending.
func SuggestIndex(filter shape.Value, sort shape.Document) IndexKeySpec {
	var equality, ranged []string
	seen := map[string]bool{}
	for _, ft := range ExtractFields(SimplifyFilter(filter)) {
		if seen[ft.Field] {
			continue
		}
		seen[ft.Field] = true
		if ft.Tag == EqualityTag {
			equality = append(equality, ft.Field)
		} else {
			ranged = append(ranged, ft.Field)
		}
	}

	var sortFields []string
	for _, f := range sort {
		if !seen[f.Key] {
			seen[f.Key] = true
			sortFields = append(sortFields, f.Key)
		}
	}

	spec := IndexKeySpec{}
	for _, group := range [][]string{equality, sortFields, ranged} {
		for _, field := range group {
			spec = append(spec, KeyField{Field: field, Direction: 1})
		}
	}
	return spec
}
