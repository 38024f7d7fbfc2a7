package shape

import (
	"encoding/base64"
	"fmt"
	"sort"
	"strconv"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// ISODateLayout is the millisecond precision UTC layout used by extended JSON dates.
const ISODateLayout = "2006-01-02T15:04:05.000Z07:00"

// FromBSON converts a decoded driver value into a Value. BSON-only types are
// expressed in their relaxed extended JSON document form ({"$date": ...}).
func FromBSON(v any) Value {
	switch x := v.(type) {
	case nil, bson.Null, bson.Undefined:
		return Null{}
	case Value:
		return x
	case bson.D:
		doc := make(Document, 0, len(x))
		for _, e := range x {
			doc = append(doc, Field{Key: e.Key, Value: FromBSON(e.Value)})
		}
		return doc
	case bson.M:
		return fromMap(x)
	case map[string]any:
		return fromMap(x)
	case bson.A:
		return fromSlice(x)
	case []any:
		return fromSlice(x)
	case bson.Raw:
		var d bson.D
		if err := bson.Unmarshal(x, &d); err != nil {
			return Null{}
		}
		return FromBSON(d)
	case string:
		return String(x)
	case bool:
		return Bool(x)
	case int:
		return Int(x)
	case int32:
		return Int(x)
	case int64:
		return Int(x)
	case uint32:
		return Int(x)
	case float32:
		return Double(x)
	case float64:
		return Double(x)
	case bson.DateTime:
		return dateDoc(x.Time())
	case time.Time:
		return dateDoc(x)
	case bson.ObjectID:
		return Document{{Key: "$oid", Value: String(x.Hex())}}
	case bson.Binary:
		return Document{{Key: "$binary", Value: Document{
			{Key: "base64", Value: String(base64.StdEncoding.EncodeToString(x.Data))},
			{Key: "subType", Value: String(fmt.Sprintf("%02x", x.Subtype))},
		}}}
	case bson.Timestamp:
		return Document{{Key: "$timestamp", Value: Document{
			{Key: "t", Value: Int(x.T)},
			{Key: "i", Value: Int(x.I)},
		}}}
	case bson.MinKey:
		return Document{{Key: "$minKey", Value: Int(1)}}
	case bson.MaxKey:
		return Document{{Key: "$maxKey", Value: Int(1)}}
	case bson.Decimal128:
		return Document{{Key: "$numberDecimal", Value: String(x.String())}}
	case bson.Regex:
		return Document{{Key: "$regularExpression", Value: Document{
			{Key: "pattern", Value: String(x.Pattern)},
			{Key: "options", Value: String(x.Options)},
		}}}
	default:
		return String(fmt.Sprint(x))
	}
}

func dateDoc(t time.Time) Document {
	return Document{{Key: "$date", Value: String(t.UTC().Format(ISODateLayout))}}
}

func fromMap(m map[string]any) Document {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	doc := make(Document, 0, len(keys))
	for _, k := range keys {
		doc = append(doc, Field{Key: k, Value: FromBSON(m[k])})
	}
	return doc
}

func fromSlice(s []any) Array {
	arr := make(Array, 0, len(s))
	for _, item := range s {
		arr = append(arr, FromBSON(item))
	}
	return arr
}

// ToBSON converts v into driver values suitable for sending as a command.
// Extended JSON wrappers ($date, $oid, $binary, $timestamp, $minKey, $maxKey)
// become native BSON values; malformed wrappers are sent as plain documents.
func ToBSON(v Value) any {
	switch x := v.(type) {
	case Document:
		if native, ok := extendedToNative(x); ok {
			return native
		}
		d := make(bson.D, 0, len(x))
		for _, f := range x {
			d = append(d, bson.E{Key: f.Key, Value: ToBSON(f.Value)})
		}
		return d
	case Array:
		a := make(bson.A, 0, len(x))
		for _, item := range x {
			a = append(a, ToBSON(item))
		}
		return a
	case String:
		return string(x)
	case Int:
		return int64(x)
	case Double:
		return float64(x)
	case Bool:
		return bool(x)
	default:
		return nil
	}
}

func extendedToNative(doc Document) (any, bool) {
	if len(doc) != 1 {
		return nil, false
	}
	key, val := doc[0].Key, doc[0].Value
	switch key {
	case "$date":
		s, ok := val.(String)
		if !ok {
			return nil, false
		}
		t, err := time.Parse(time.RFC3339Nano, string(s))
		if err != nil {
			return nil, false
		}
		return bson.NewDateTimeFromTime(t), true
	case "$oid":
		s, ok := val.(String)
		if !ok {
			return nil, false
		}
		oid, err := bson.ObjectIDFromHex(string(s))
		if err != nil {
			return nil, false
		}
		return oid, true
	case "$binary":
		inner, ok := val.(Document)
		if !ok {
			return nil, false
		}
		data, err := base64.StdEncoding.DecodeString(inner.String("base64"))
		if err != nil {
			return nil, false
		}
		subType, err := strconv.ParseUint(inner.String("subType"), 16, 8)
		if err != nil {
			return nil, false
		}
		return bson.Binary{Subtype: byte(subType), Data: data}, true
	case "$timestamp":
		inner, ok := val.(Document)
		if !ok {
			return nil, false
		}
		t, tok := inner.Get("t")
		i, iok := inner.Get("i")
		ti, tInt := t.(Int)
		ii, iInt := i.(Int)
		if !tok || !iok || !tInt || !iInt {
			return nil, false
		}
		return bson.Timestamp{T: uint32(ti), I: uint32(ii)}, true
	case "$minKey":
		return bson.MinKey{}, true
	case "$maxKey":
		return bson.MaxKey{}, true
	}
	return nil, false
}
