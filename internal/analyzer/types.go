package analyzer

import (
	"github.com/ppiankov/shapespectre/internal/advisor"
	"github.com/ppiankov/shapespectre/internal/querystats"
	"github.com/ppiankov/shapespectre/internal/shape"
)

// Severity indicates the risk level of a finding.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
	SeverityInfo   Severity = "info"
)

// FindingType identifies the category of shape finding.
type FindingType string

const (
	FindingCollScanQuery      FindingType = "COLLSCAN_QUERY"
	FindingSuggestedIndex     FindingType = "SUGGESTED_INDEX"
	FindingRejectedShape      FindingType = "REJECTED_SHAPE"
	FindingUnsupportedCommand FindingType = "UNSUPPORTED_COMMAND"
	FindingExplainFailed      FindingType = "EXPLAIN_FAILED"
)

// Finding represents a single detection result for a query shape.
type Finding struct {
	Type       FindingType `json:"type"`
	Severity   Severity    `json:"severity"`
	Database   string      `json:"database"`
	Collection string      `json:"collection"`
	Shape      string      `json:"shape,omitempty"`
	Index      string      `json:"index,omitempty"`
	Message    string      `json:"message"`
}

// ShapeAnalysis is everything derived for one sampled query shape.
type ShapeAnalysis struct {
	Namespace      querystats.Namespace       `json:"namespace"`
	Command        string                     `json:"command"`
	Hash           string                     `json:"hash,omitempty"`
	ExecCount      int64                      `json:"exec_count"`
	Stages         []string                   `json:"stages,omitempty"`
	CollScan       bool                       `json:"collscan"`
	SuggestedIndex advisor.IndexKeySpec       `json:"suggested_index,omitempty"`
	Representative shape.Value                `json:"representative,omitempty"`
	RejectCommand  string                     `json:"reject_command,omitempty"`
	Setting        *querystats.SettingsRecord `json:"setting,omitempty"`
	ExplainError   string                     `json:"explain_error,omitempty"`
}

// Supported reports whether the shape's command is find or aggregate.
func (a ShapeAnalysis) Supported() bool {
	return a.Command == querystats.CommandFind || a.Command == querystats.CommandAggregate
}

// MaxSeverity returns the highest severity found in a list of findings.
// Returns SeverityInfo if the list is empty.
func MaxSeverity(findings []Finding) Severity {
	order := map[Severity]int{
		SeverityInfo:   0,
		SeverityLow:    1,
		SeverityMedium: 2,
		SeverityHigh:   3,
	}
	max := SeverityInfo
	for _, f := range findings {
		if order[f.Severity] > order[max] {
			max = f.Severity
		}
	}
	return max
}

// ExitCode maps severity to a process exit code.
func ExitCode(s Severity) int {
	switch s {
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	default:
		return 0
	}
}
