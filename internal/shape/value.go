// Package shape models the JSON-like documents that query telemetry is made of:
// query shapes, filters, pipelines, explain plans and query settings records.
package shape

import "strings"

// Value is a node in a shape tree. The concrete types are Document, Array,
// String, Int, Double, Bool and Null.
type Value interface {
	isValue()
}

// Field is a single key/value entry of a Document.
type Field struct {
	Key   string
	Value Value
}

// Document is an ordered set of uniquely keyed fields.
// Key order only matters for rendering and for first-seen semantics.
type Document []Field

// Array is an ordered sequence of values.
type Array []Value

// String is a string scalar. Strings starting with "?" are placeholders.
type String string

// Int is an integral number scalar.
type Int int64

// Double is a floating point number scalar.
type Double float64

// Bool is a boolean scalar.
type Bool bool

// Null is the null scalar.
type Null struct{}

func (Document) isValue() {}
func (Array) isValue()    {}
func (String) isValue()   {}
func (Int) isValue()      {}
func (Double) isValue()   {}
func (Bool) isValue()     {}
func (Null) isValue()     {}

// PlaceholderPrefix marks a redacted literal in a captured query shape.
const PlaceholderPrefix = "?"

// IsPlaceholder reports whether v is a placeholder scalar and returns its token.
func IsPlaceholder(v Value) (string, bool) {
	s, ok := v.(String)
	if !ok || !strings.HasPrefix(string(s), PlaceholderPrefix) {
		return "", false
	}
	return string(s), true
}

// TypeName returns the runtime type name of v.
func TypeName(v Value) string {
	switch v.(type) {
	case Document:
		return "object"
	case Array:
		return "array"
	case String:
		return "string"
	case Int:
		return "int"
	case Double:
		return "double"
	case Bool:
		return "bool"
	case Null, nil:
		return "null"
	default:
		return "unknown"
	}
}

// Get returns the value stored under key.
func (d Document) Get(key string) (Value, bool) {
	for _, f := range d {
		if f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}

// Has reports whether key is present.
func (d Document) Has(key string) bool {
	_, ok := d.Get(key)
	return ok
}

// Keys returns the keys in document order.
func (d Document) Keys() []string {
	keys := make([]string, 0, len(d))
	for _, f := range d {
		keys = append(keys, f.Key)
	}
	return keys
}

// With returns a copy of d with key set to v. An existing key keeps its position.
func (d Document) With(key string, v Value) Document {
	out := make(Document, 0, len(d)+1)
	replaced := false
	for _, f := range d {
		if f.Key == key {
			out = append(out, Field{Key: key, Value: v})
			replaced = true
			continue
		}
		out = append(out, f)
	}
	if !replaced {
		out = append(out, Field{Key: key, Value: v})
	}
	return out
}

// String returns the string stored under key, or "" when absent or not a string.
func (d Document) String(key string) string {
	v, _ := d.Get(key)
	s, _ := v.(String)
	return string(s)
}

// Document returns the sub-document stored under key.
func (d Document) Document(key string) (Document, bool) {
	v, _ := d.Get(key)
	sub, ok := v.(Document)
	return sub, ok
}

// Array returns the array stored under key.
func (d Document) Array(key string) (Array, bool) {
	v, _ := d.Get(key)
	arr, ok := v.(Array)
	return arr, ok
}

// Lookup follows a path of document keys starting at v.
func Lookup(v Value, path ...string) (Value, bool) {
	cur := v
	for _, key := range path {
		doc, ok := cur.(Document)
		if !ok {
			return nil, false
		}
		if cur, ok = doc.Get(key); !ok {
			return nil, false
		}
	}
	return cur, true
}

// Truthy mirrors the loose truthiness used when reading settings flags.
func Truthy(v Value) bool {
	switch x := v.(type) {
	case Bool:
		return bool(x)
	case Int:
		return x != 0
	case Double:
		return x != 0
	case String:
		return x != ""
	case Document:
		return len(x) > 0
	case Array:
		return len(x) > 0
	default:
		return false
	}
}
