package mongosh

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/ppiankov/shapespectre/internal/shape"
)

const (
	indentUnit  = "  "
	minKeyToken = "MinKey()"
	maxKeyToken = "MaxKey()"
)

var constructorPrefixes = []string{"ISODate(", "ObjectId(", "BinData(", "Timestamp("}

// IsConstructorToken reports whether s is emitted unquoted by Serialize.
func IsConstructorToken(s string) bool {
	if s == minKeyToken || s == maxKeyToken {
		return true
	}
	for _, p := range constructorPrefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// Serialize renders v as shell literal text with two-space indentation.
// Keys are JSON quoted; constructor tokens produced by Transform are not.
func Serialize(v shape.Value) string {
	var b strings.Builder
	write(&b, v, 0)
	return b.String()
}

func write(b *strings.Builder, v shape.Value, depth int) {
	switch x := v.(type) {
	case shape.Document:
		if len(x) == 0 {
			b.WriteString("{}")
			return
		}
		b.WriteString("{\n")
		for i, f := range x {
			b.WriteString(strings.Repeat(indentUnit, depth+1))
			b.WriteString(quote(f.Key))
			b.WriteString(": ")
			write(b, f.Value, depth+1)
			if i < len(x)-1 {
				b.WriteByte(',')
			}
			b.WriteByte('\n')
		}
		b.WriteString(strings.Repeat(indentUnit, depth))
		b.WriteByte('}')
	case shape.Array:
		if len(x) == 0 {
			b.WriteString("[]")
			return
		}
		b.WriteString("[\n")
		for i, item := range x {
			b.WriteString(strings.Repeat(indentUnit, depth+1))
			write(b, item, depth+1)
			if i < len(x)-1 {
				b.WriteByte(',')
			}
			b.WriteByte('\n')
		}
		b.WriteString(strings.Repeat(indentUnit, depth))
		b.WriteByte(']')
	default:
		b.WriteString(scalar(v))
	}
}

func scalar(v shape.Value) string {
	switch x := v.(type) {
	case shape.String:
		if IsConstructorToken(string(x)) {
			return string(x)
		}
		return quote(string(x))
	case shape.Bool:
		return strconv.FormatBool(bool(x))
	case shape.Int:
		return strconv.FormatInt(int64(x), 10)
	case shape.Double:
		return formatDouble(float64(x))
	case shape.Document, shape.Array:
		return Serialize(v)
	default:
		return "null"
	}
}

func formatDouble(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	case math.IsNaN(f):
		return "NaN"
	}
	format := byte('f')
	if abs := math.Abs(f); abs != 0 && (abs < 1e-6 || abs >= 1e21) {
		format = 'g'
	}
	s := strconv.FormatFloat(f, format, -1, 64)
	if !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	return s
}

func quote(s string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return strconv.Quote(s)
	}
	return strings.TrimSuffix(buf.String(), "\n")
}
