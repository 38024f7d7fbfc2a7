package reporter

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ppiankov/shapespectre/internal/analyzer"
	"github.com/ppiankov/shapespectre/internal/querystats"
)

// Format specifies the output format.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// shortHashLen is how much of a shape hash text output shows.
const shortHashLen = 12

// Report holds the structured analysis output.
type Report struct {
	Metadata    Metadata                 `json:"metadata"`
	Shapes      []analyzer.ShapeAnalysis `json:"shapes"`
	Findings    []analyzer.Finding       `json:"findings"`
	MaxSeverity analyzer.Severity        `json:"maxSeverity"`
	Summary     Summary                  `json:"summary"`
}

// Metadata describes the run that produced a report.
type Metadata struct {
	Version           string    `json:"version,omitempty"`
	Source            string    `json:"source,omitempty"` // "live" or the stats file path
	ServerVersion     string    `json:"serverVersion,omitempty"`
	RejectionsEnabled bool      `json:"rejectionsEnabled"`
	Timestamp         time.Time `json:"timestamp"`
}

// Summary counts findings by severity.
type Summary struct {
	Total      int `json:"total"`
	High       int `json:"high"`
	Medium     int `json:"medium"`
	Low        int `json:"low"`
	Info       int `json:"info"`
	Shapes     int `json:"shapes"`
	Suppressed int `json:"suppressed,omitempty"`
}

// NewReport builds a report from an analysis result.
func NewReport(result analyzer.Result) Report {
	s := Summary{Shapes: len(result.Shapes)}
	for _, f := range result.Findings {
		s.Total++
		switch f.Severity {
		case analyzer.SeverityHigh:
			s.High++
		case analyzer.SeverityMedium:
			s.Medium++
		case analyzer.SeverityLow:
			s.Low++
		case analyzer.SeverityInfo:
			s.Info++
		}
	}
	return Report{
		Metadata:    Metadata{RejectionsEnabled: result.RejectionsEnabled},
		Shapes:      result.Shapes,
		Findings:    result.Findings,
		MaxSeverity: analyzer.MaxSeverity(result.Findings),
		Summary:     s,
	}
}

// Write outputs the report in the given format.
func Write(w io.Writer, report *Report, format Format) error {
	switch format {
	case FormatJSON:
		return writeJSON(w, report)
	case FormatSARIF:
		return writeSARIF(w, report)
	default:
		return writeText(w, report)
	}
}

// ParseFormat validates a --format value.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatText, FormatJSON, FormatSARIF:
		return f, nil
	default:
		return "", fmt.Errorf("unknown format %q (want text, json or sarif)", s)
	}
}

func writeJSON(w io.Writer, report *Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func writeText(w io.Writer, report *Report) error {
	writeShapes(w, report.Shapes)

	if report.Summary.Total == 0 {
		_, err := fmt.Fprintln(w, "No findings.")
		return err
	}

	severityLabel := map[analyzer.Severity]string{
		analyzer.SeverityHigh:   "HIGH",
		analyzer.SeverityMedium: "MEDIUM",
		analyzer.SeverityLow:    "LOW",
		analyzer.SeverityInfo:   "INFO",
	}

	for _, f := range report.Findings {
		fmt.Fprintf(w, "[%s] %s: %s (%s)\n", severityLabel[f.Severity], f.Type, f.Message, location(f))
	}

	fmt.Fprintf(w, "\nSummary: %d findings across %d shapes (high=%d medium=%d low=%d info=%d)\n",
		report.Summary.Total, report.Summary.Shapes, report.Summary.High, report.Summary.Medium,
		report.Summary.Low, report.Summary.Info)
	if report.Summary.Suppressed > 0 {
		fmt.Fprintf(w, "Suppressed: %d findings matched ignore rules\n", report.Summary.Suppressed)
	}
	return nil
}

func writeShapes(w io.Writer, shapes []analyzer.ShapeAnalysis) {
	var current querystats.Namespace
	for i, sa := range shapes {
		if i == 0 || sa.Namespace != current {
			current = sa.Namespace
			fmt.Fprintf(w, "%s\n", current)
		}
		fmt.Fprintf(w, "  %s %s executions=%d\n", sa.Command, shortHash(sa.Hash), sa.ExecCount)
		if len(sa.Stages) > 0 {
			fmt.Fprintf(w, "    stages:  %s\n", strings.Join(sa.Stages, " -> "))
		}
		if sa.ExplainError != "" {
			fmt.Fprintf(w, "    explain: %s\n", sa.ExplainError)
		}
		if len(sa.SuggestedIndex) > 0 {
			fmt.Fprintf(w, "    index:   %s\n", sa.SuggestedIndex)
		}
		if sa.Setting != nil {
			fmt.Fprintf(w, "    setting: reject=%t\n", sa.Setting.Reject)
		}
		if sa.RejectCommand != "" {
			fmt.Fprintln(w, "    reject:")
			for _, line := range strings.Split(sa.RejectCommand, "\n") {
				fmt.Fprintf(w, "      %s\n", line)
			}
		}
	}
	if len(shapes) > 0 {
		fmt.Fprintln(w)
	}
}

func shortHash(h string) string {
	if h == "" {
		return "-"
	}
	if len(h) > shortHashLen {
		return h[:shortHashLen]
	}
	return h
}

func location(f analyzer.Finding) string {
	loc := f.Database + "." + f.Collection
	if f.Shape != "" {
		loc += "@" + shortHash(f.Shape)
	}
	return loc
}

// WriteBaselineDiff prints counts and the new and resolved findings of a
// baseline comparison. Unchanged findings are only counted.
func WriteBaselineDiff(w io.Writer, diff []analyzer.BaselineFinding) {
	counts := map[analyzer.BaselineStatus]int{}
	for _, d := range diff {
		counts[d.Status]++
	}
	fmt.Fprintf(w, "Baseline: %d new, %d resolved, %d unchanged\n",
		counts[analyzer.StatusNew], counts[analyzer.StatusResolved], counts[analyzer.StatusUnchanged])

	for _, d := range diff {
		var marker string
		switch d.Status {
		case analyzer.StatusNew:
			marker = "+"
		case analyzer.StatusResolved:
			marker = "-"
		default:
			continue
		}
		fmt.Fprintf(w, "  %s %s (%s)\n", marker, d.Type, location(d.Finding))
	}
}
