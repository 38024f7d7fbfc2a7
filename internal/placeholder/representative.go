// Package placeholder expands the typed placeholders of a captured query shape
// ("?number", "?array<?string>", ...) into concrete representative literals.
package placeholder

import "github.com/ppiankov/shapespectre/internal/shape"

// Representative date, object id and timestamp used for expanded placeholders.
const (
	RepresentativeDate     = "2024-01-01T00:00:00.000Z"
	RepresentativeObjectID = "000000000000000000000000"
)

type constructor func() shape.Value

// scalars are the element types allowed inside ?array<...>.
var scalars = map[string]constructor{
	"?number": func() shape.Value { return shape.Int(1) },
	"?string": func() shape.Value { return shape.String("a") },
	"?date": func() shape.Value {
		return shape.Document{{Key: "$date", Value: shape.String(RepresentativeDate)}}
	},
	"?objectId": func() shape.Value {
		return shape.Document{{Key: "$oid", Value: shape.String(RepresentativeObjectID)}}
	},
	"?bool": func() shape.Value { return shape.Bool(true) },
	"?null": func() shape.Value { return shape.Null{} },
	"?object": func() shape.Value {
		return shape.Document{{Key: "a", Value: shape.Int(1)}}
	},
	"?binData": func() shape.Value {
		return shape.Document{{Key: "$binary", Value: shape.Document{
			{Key: "base64", Value: shape.String("YQ==")},
			{Key: "subType", Value: shape.String("00")},
		}}}
	},
	"?timestamp": func() shape.Value {
		return shape.Document{{Key: "$timestamp", Value: shape.Document{
			{Key: "t", Value: shape.Int(1677749825)},
			{Key: "i", Value: shape.Int(20)},
		}}}
	},
	"?minKey": func() shape.Value {
		return shape.Document{{Key: "$minKey", Value: shape.Int(1)}}
	},
	"?maxKey": func() shape.Value {
		return shape.Document{{Key: "$maxKey", Value: shape.Int(1)}}
	},
}

var grammar = buildGrammar()

func buildGrammar() map[string]constructor {
	g := make(map[string]constructor, 2*len(scalars)+1)
	g["?array<>"] = func() shape.Value {
		return shape.Array{shape.String("a"), shape.Int(1)}
	}
	for token, elem := range scalars {
		g[token] = elem
		g["?array<"+token+">"] = func() shape.Value { return shape.Array{elem()} }
	}
	return g
}

// Lookup returns the representative literal for a placeholder token.
func Lookup(token string) (shape.Value, bool) {
	c, ok := grammar[token]
	if !ok {
		return nil, false
	}
	return c(), true
}

// Tokens returns the number of placeholder tokens understood by Lookup.
func Tokens() int {
	return len(grammar)
}

// Representative returns a copy of v with every known placeholder replaced by
// its representative literal. Unknown placeholders are kept verbatim.
func Representative(v shape.Value) shape.Value {
	return shape.Map(v, func(node shape.Value) (shape.Value, bool) {
		token, ok := shape.IsPlaceholder(node)
		if !ok {
			return nil, false
		}
		if rep, ok := Lookup(token); ok {
			return rep, true
		}
		return node, true
	})
}
