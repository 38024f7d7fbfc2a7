// Package mongosh renders shape values as mongo shell literals.
package mongosh

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ppiankov/shapespectre/internal/shape"
)

// Transform replaces extended JSON leaves with shell constructor tokens:
// {$date: X} becomes ISODate("X"), {$oid: X} ObjectId("X"),
// {$binary: {base64: B, subType: S}} BinData(0xS, "B"),
// {$timestamp: {t: T, i: I}} Timestamp(T, I), and {$minKey: 1} / {$maxKey: 1}
// MinKey() / MaxKey(). Everything else is copied unchanged.
func Transform(v shape.Value) shape.Value {
	return shape.Map(v, func(node shape.Value) (shape.Value, bool) {
		doc, ok := node.(shape.Document)
		if !ok || len(doc) != 1 {
			return nil, false
		}
		token, ok := constructorToken(doc[0].Key, doc[0].Value)
		if !ok {
			return nil, false
		}
		return shape.String(token), true
	})
}

func constructorToken(key string, val shape.Value) (string, bool) {
	switch key {
	case "$date":
		if s, ok := val.(shape.String); ok {
			return "ISODate(" + quote(string(s)) + ")", true
		}
	case "$oid":
		if s, ok := val.(shape.String); ok {
			return "ObjectId(" + quote(string(s)) + ")", true
		}
	case "$binary":
		inner, ok := val.(shape.Document)
		if !ok {
			return "", false
		}
		data, hasData := inner.Get("base64")
		b64, isString := data.(shape.String)
		if !hasData || !isString {
			return "", false
		}
		subType, err := strconv.ParseUint(strings.TrimPrefix(inner.String("subType"), "0x"), 16, 8)
		if err != nil {
			return "", false
		}
		return fmt.Sprintf("BinData(0x%x, %s)", subType, quote(string(b64))), true
	case "$timestamp":
		inner, ok := val.(shape.Document)
		if !ok {
			return "", false
		}
		t, tok := inner.Get("t")
		i, iok := inner.Get("i")
		if !tok || !iok {
			return "", false
		}
		return "Timestamp(" + scalar(t) + ", " + scalar(i) + ")", true
	case "$minKey":
		return minKeyToken, true
	case "$maxKey":
		return maxKeyToken, true
	}
	return "", false
}
