package analyzer

import (
	"bufio"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// IgnoreFileName is read from the working directory by LoadIgnoreFile.
const IgnoreFileName = ".shapespectreignore"

// IgnoreRule matches findings to suppress.
type IgnoreRule struct {
	Type       string // glob over the finding type
	Database   string // glob over the database name
	Collection string // glob over the collection name
	Shape      string // shape hash prefix, empty for any
}

// IgnoreList holds parsed ignore rules.
type IgnoreList struct {
	Rules []IgnoreRule
}

// LoadIgnoreFile reads the ignore file from the given directory.
// Returns an empty list if the file doesn't exist.
func LoadIgnoreFile(dir string) (IgnoreList, error) {
	f, err := os.Open(filepath.Join(dir, IgnoreFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return IgnoreList{}, nil
		}
		return IgnoreList{}, err
	}
	defer func() { _ = f.Close() }()

	var rules []IgnoreRule
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if rule, ok := parseIgnoreRule(line); ok {
			rules = append(rules, rule)
		}
	}
	return IgnoreList{Rules: rules}, sc.Err()
}

// parseIgnoreRule parses a single ignore rule line.
// Format: TYPE db.collection[@shapehash]
// Examples:
//
//	COLLSCAN_QUERY app.audit_logs
//	* app.sessions@3f2a9c
//	SUGGESTED_INDEX reports
//	EXPLAIN_FAILED app.tmp_*
func parseIgnoreRule(line string) (IgnoreRule, bool) {
	parts := strings.Fields(line)
	if len(parts) < 2 {
		return IgnoreRule{}, false
	}

	rule := IgnoreRule{Type: parts[0]}
	target, hash, _ := strings.Cut(parts[1], "@")
	rule.Shape = hash

	// Collection names may contain dots; only the first one splits.
	db, coll, ok := strings.Cut(target, ".")
	if ok {
		rule.Database = db
		rule.Collection = coll
	} else {
		rule.Database = "*"
		rule.Collection = target
	}
	return rule, true
}

// Matches checks if a finding should be suppressed by this rule.
func (r IgnoreRule) Matches(f Finding) bool {
	if !matchGlob(r.Type, string(f.Type)) {
		return false
	}
	if r.Database != "" && !matchGlob(r.Database, f.Database) {
		return false
	}
	if !matchGlob(r.Collection, f.Collection) {
		return false
	}
	if r.Shape != "" && !strings.HasPrefix(f.Shape, r.Shape) {
		return false
	}
	return true
}

// Filter removes findings that match any ignore rule.
// Returns the filtered list and the count of suppressed findings.
func (il IgnoreList) Filter(findings []Finding) ([]Finding, int) {
	if len(il.Rules) == 0 {
		return findings, 0
	}

	var filtered []Finding
	suppressed := 0
	for _, f := range findings {
		if il.matches(f) {
			suppressed++
		} else {
			filtered = append(filtered, f)
		}
	}
	return filtered, suppressed
}

func (il IgnoreList) matches(f Finding) bool {
	for _, r := range il.Rules {
		if r.Matches(f) {
			return true
		}
	}
	return false
}

// matchGlob reports whether value matches a path.Match pattern. A malformed
// pattern matches nothing.
func matchGlob(pattern, value string) bool {
	ok, err := path.Match(pattern, value)
	return err == nil && ok
}
