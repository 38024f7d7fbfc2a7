// Package fingerprint correlates query shapes from independent sources by a
// digest of their structure and placeholder types.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/ppiankov/shapespectre/internal/shape"
)

// Skeleton keeps the structure of v and erases literal values: documents get
// sorted keys, placeholders stay verbatim and other scalars become their type name.
func Skeleton(v shape.Value) shape.Value {
	switch x := v.(type) {
	case shape.Document:
		keys := x.Keys()
		sort.Strings(keys)
		out := make(shape.Document, 0, len(keys))
		for _, k := range keys {
			val, _ := x.Get(k)
			out = append(out, shape.Field{Key: k, Value: Skeleton(val)})
		}
		return out
	case shape.Array:
		out := make(shape.Array, len(x))
		for i, item := range x {
			out[i] = Skeleton(item)
		}
		return out
	}
	if _, ok := shape.IsPlaceholder(v); ok {
		return v
	}
	return shape.String(shape.TypeName(v))
}

// Hash returns the lowercase hex SHA-256 of the canonical BSON encoding of
// Skeleton(v).
func Hash(v shape.Value) string {
	sum := sha256.Sum256(canonicalBytes(Skeleton(v)))
	return hex.EncodeToString(sum[:])
}

func canonicalBytes(skeleton shape.Value) []byte {
	data, err := bson.Marshal(bson.D{{Key: "shape", Value: skeletonBSON(skeleton)}})
	if err == nil {
		return data
	}
	// Keys with NUL bytes cannot be encoded as BSON.
	data, _ = json.Marshal(skeleton)
	return data
}

func skeletonBSON(v shape.Value) any {
	switch x := v.(type) {
	case shape.Document:
		d := make(bson.D, 0, len(x))
		for _, f := range x {
			d = append(d, bson.E{Key: f.Key, Value: skeletonBSON(f.Value)})
		}
		return d
	case shape.Array:
		a := make(bson.A, 0, len(x))
		for _, item := range x {
			a = append(a, skeletonBSON(item))
		}
		return a
	case shape.String:
		return string(x)
	default:
		return shape.TypeName(v)
	}
}
