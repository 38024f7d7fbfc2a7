package advisor

import (
	"strings"

	"github.com/ppiankov/shapespectre/internal/querystats"
	"github.com/ppiankov/shapespectre/internal/shape"
)

// maxBranches bounds the $or expansion. Larger filters are reported as not covered.
const maxBranches = 64

// Branches expands $or and $and into disjunctive normal form: each branch is
// a conjunction of field conditions. ok is false for $nor, for top-level
// operators an index cannot answer ($expr, $text, $where) and for expansions
// over maxBranches.
func Branches(filter shape.Value) ([]shape.Document, bool) {
	if filter == nil {
		return []shape.Document{{}}, true
	}
	doc, ok := filter.(shape.Document)
	if !ok {
		return nil, false
	}
	return branches(doc)
}

func branches(doc shape.Document) ([]shape.Document, bool) {
	out := []shape.Document{{}}
	for _, f := range doc {
		var alts []shape.Document
		switch f.Key {
		case "$or":
			items, ok := f.Value.(shape.Array)
			if !ok || len(items) == 0 {
				return nil, false
			}
			for _, item := range items {
				sub, ok := subBranches(item)
				if !ok {
					return nil, false
				}
				alts = append(alts, sub...)
			}
			if len(alts) > maxBranches {
				return nil, false
			}
		case "$and":
			items, ok := f.Value.(shape.Array)
			if !ok {
				return nil, false
			}
			alts = []shape.Document{{}}
			for _, item := range items {
				sub, ok := subBranches(item)
				if !ok {
					return nil, false
				}
				if alts, ok = cross(alts, sub); !ok {
					return nil, false
				}
			}
		default:
			if strings.HasPrefix(f.Key, "$") {
				return nil, false
			}
			alts = []shape.Document{{f}}
		}
		var ok bool
		if out, ok = cross(out, alts); !ok {
			return nil, false
		}
	}
	return out, true
}

func subBranches(v shape.Value) ([]shape.Document, bool) {
	doc, ok := v.(shape.Document)
	if !ok {
		return nil, false
	}
	return branches(doc)
}

func cross(left, right []shape.Document) ([]shape.Document, bool) {
	if len(left)*len(right) > maxBranches {
		return nil, false
	}
	out := make([]shape.Document, 0, len(left)*len(right))
	for _, l := range left {
		for _, r := range right {
			b := make(shape.Document, 0, len(l)+len(r))
			b = append(b, l...)
			b = append(b, r...)
			out = append(out, b)
		}
	}
	return out, true
}

// predicates splits the fields of one branch. A field compared by equality in
// any condition of the branch is an equality field.
type predicates struct {
	equality map[string]bool
	ranged   map[string]bool
}

func classify(branch shape.Document) predicates {
	p := predicates{equality: map[string]bool{}, ranged: map[string]bool{}}
	for _, f := range branch {
		if isEqualityCondition(f.Value) {
			p.equality[f.Key] = true
		} else {
			p.ranged[f.Key] = true
		}
	}
	for field := range p.equality {
		delete(p.ranged, field)
	}
	return p
}

// isEqualityCondition is true for a literal, a placeholder, an embedded
// document, or an operator document that only uses $eq and $in.
func isEqualityCondition(v shape.Value) bool {
	doc, ok := v.(shape.Document)
	if !ok {
		return true
	}
	if _, ok := firstOperator(doc); !ok {
		return true
	}
	for _, f := range doc {
		if f.Key != "$eq" && f.Key != "$in" {
			return false
		}
	}
	return true
}

// keySpec reads a key pattern. Non-numeric directions such as "hashed" or
// "2dsphere" become 0.
func keySpec(key shape.Document) IndexKeySpec {
	spec := make(IndexKeySpec, 0, len(key))
	for _, f := range key {
		spec = append(spec, KeyField{Field: f.Key, Direction: direction(f.Value)})
	}
	return spec
}

func direction(v shape.Value) int {
	var n float64
	switch x := v.(type) {
	case shape.Int:
		n = float64(x)
	case shape.Double:
		n = float64(x)
	}
	switch {
	case n > 0:
		return 1
	case n < 0:
		return -1
	default:
		return 0
	}
}

// serves checks one branch against one index:
//   - equality fields fill the leading index fields, in any order;
//   - sort fields follow in order, all forward or all reversed, and a reversed
//     sort cannot share a field with a range predicate;
//   - range fields appear somewhere in the index.
func serves(p predicates, sort, key IndexKeySpec) bool {
	pos := 0
	for pos < len(key) && p.equality[key[pos].Field] {
		pos++
	}
	if pos != len(p.equality) {
		return false
	}

	traversal := 0
	for _, s := range sort {
		if p.equality[s.Field] {
			continue
		}
		if pos >= len(key) || key[pos].Field != s.Field || key[pos].Direction == 0 {
			return false
		}
		d := 1
		if key[pos].Direction != s.Direction {
			d = -1
		}
		if traversal == 0 {
			traversal = d
		} else if traversal != d {
			return false
		}
		if d == -1 && p.ranged[s.Field] {
			return false
		}
		pos++
	}

	for field := range p.ranged {
		if !hasOrderedField(key, field) {
			return false
		}
	}
	return true
}

func hasOrderedField(key IndexKeySpec, field string) bool {
	for _, k := range key {
		if k.Field == field {
			return k.Direction != 0
		}
	}
	return false
}

func sortSpec(sort shape.Document) (IndexKeySpec, bool) {
	spec := keySpec(sort)
	for _, k := range spec {
		if k.Direction == 0 {
			return nil, false
		}
	}
	return spec, true
}

// Covers reports whether the index with key pattern key serves every branch
// of filter together with sort.
func Covers(filter shape.Value, sort shape.Document, key shape.Document) bool {
	bs, ok := Branches(filter)
	if !ok {
		return false
	}
	sortKeys, ok := sortSpec(sort)
	if !ok {
		return false
	}
	idx := keySpec(key)
	for _, b := range bs {
		if !serves(classify(b), sortKeys, idx) {
			return false
		}
	}
	return true
}

// CoveringIndexes returns the names of existing indexes that serve filter and
// sort. Each $or branch may be served by a different index; ok is false when
// some branch is served by none.
func CoveringIndexes(filter shape.Value, sort shape.Document, indexes []querystats.IndexEntry) ([]string, bool) {
	bs, ok := Branches(filter)
	if !ok || len(indexes) == 0 {
		return nil, false
	}
	sortKeys, ok := sortSpec(sort)
	if !ok {
		return nil, false
	}

	var names []string
	used := map[string]bool{}
	for _, b := range bs {
		p := classify(b)
		found := false
		for _, idx := range indexes {
			if serves(p, sortKeys, keySpec(idx.Key)) {
				if !used[idx.Name] {
					used[idx.Name] = true
					names = append(names, idx.Name)
				}
				found = true
				break
			}
		}
		if !found {
			return nil, false
		}
	}
	return names, true
}
