package analyzer

import (
	"encoding/json"
	"fmt"
	"os"
)

// BaselineStatus indicates whether a finding is new, resolved, or unchanged.
type BaselineStatus string

const (
	StatusNew       BaselineStatus = "new"
	StatusResolved  BaselineStatus = "resolved"
	StatusUnchanged BaselineStatus = "unchanged"
)

// BaselineFinding wraps a Finding with a diff status against a baseline.
type BaselineFinding struct {
	Finding
	Status BaselineStatus `json:"status"`
}

// baselineReport is the part of a previous JSON report needed for a diff.
type baselineReport struct {
	Findings []Finding `json:"findings"`
}

// LoadBaseline reads a previous JSON report file and returns its findings.
func LoadBaseline(path string) ([]Finding, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var report baselineReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("parse baseline %s: %w", path, err)
	}
	return report.Findings, nil
}

// DiffBaseline compares current findings against baseline findings.
// Current findings come first, new or unchanged, then resolved ones.
func DiffBaseline(current, baseline []Finding) []BaselineFinding {
	baselineSet := make(map[string]bool, len(baseline))
	for i := range baseline {
		baselineSet[findingKey(&baseline[i])] = true
	}

	currentSet := make(map[string]bool, len(current))
	for i := range current {
		currentSet[findingKey(&current[i])] = true
	}

	var result []BaselineFinding
	for _, f := range current {
		status := StatusNew
		if baselineSet[findingKey(&f)] {
			status = StatusUnchanged
		}
		result = append(result, BaselineFinding{Finding: f, Status: status})
	}
	for _, f := range baseline {
		if !currentSet[findingKey(&f)] {
			result = append(result, BaselineFinding{Finding: f, Status: StatusResolved})
		}
	}
	return result
}

// findingKey identifies a finding by type, namespace and shape. The shape hash
// is stable across runs, so a finding keeps its identity while the query
// keeps its shape.
func findingKey(f *Finding) string {
	key := string(f.Type) + "|" + f.Database + "|" + f.Collection + "|" + f.Shape
	if f.Index != "" {
		key += "|" + f.Index
	}
	return key
}
