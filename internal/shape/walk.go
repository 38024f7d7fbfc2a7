package shape

// Rewriter inspects a node before traversal. It returns a replacement and true
// to stop descending into that node, or false to let Map recurse.
type Rewriter func(v Value) (Value, bool)

// Map rebuilds v bottom-up, consulting fn at every node first. Documents keep
// their key order and arrays keep their element order. v is never modified.
func Map(v Value, fn Rewriter) Value {
	if out, ok := fn(v); ok {
		return out
	}
	switch x := v.(type) {
	case Document:
		out := make(Document, len(x))
		for i, f := range x {
			out[i] = Field{Key: f.Key, Value: Map(f.Value, fn)}
		}
		return out
	case Array:
		out := make(Array, len(x))
		for i, item := range x {
			out[i] = Map(item, fn)
		}
		return out
	default:
		return v
	}
}

// Walk visits every node of v in document order. Returning false from fn
// skips the children of that node.
func Walk(v Value, fn func(v Value) bool) {
	if !fn(v) {
		return
	}
	switch x := v.(type) {
	case Document:
		for _, f := range x {
			Walk(f.Value, fn)
		}
	case Array:
		for _, item := range x {
			Walk(item, fn)
		}
	}
}
