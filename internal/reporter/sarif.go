package reporter

import (
	"encoding/json"
	"io"

	"github.com/ppiankov/shapespectre/internal/analyzer"
)

// FormatSARIF is the SARIF output format constant.
const FormatSARIF Format = "sarif"

// SARIF v2.1.0 types, the subset GitHub code scanning reads.

type sarifLog struct {
	Schema  string     `json:"$schema"`
	Version string     `json:"version"`
	Runs    []sarifRun `json:"runs"`
}

type sarifRun struct {
	Tool    sarifTool     `json:"tool"`
	Results []sarifResult `json:"results"`
}

type sarifTool struct {
	Driver sarifDriver `json:"driver"`
}

type sarifDriver struct {
	Name           string                     `json:"name"`
	Version        string                     `json:"version,omitempty"`
	InformationURI string                     `json:"informationUri,omitempty"`
	Rules          []sarifReportingDescriptor `json:"rules,omitempty"`
}

type sarifReportingDescriptor struct {
	ID               string             `json:"id"`
	ShortDescription sarifMessage       `json:"shortDescription"`
	DefaultConfig    sarifDefaultConfig `json:"defaultConfiguration,omitempty"`
}

type sarifDefaultConfig struct {
	Level string `json:"level"`
}

type sarifMessage struct {
	Text string `json:"text"`
}

type sarifResult struct {
	RuleID    string          `json:"ruleId"`
	Level     string          `json:"level"`
	Message   sarifMessage    `json:"message"`
	Locations []sarifLocation `json:"locations,omitempty"`

	// PartialFingerprints lets code scanning track a shape across runs.
	PartialFingerprints map[string]string `json:"partialFingerprints,omitempty"`
}

type sarifLocation struct {
	LogicalLocations []sarifLogicalLocation `json:"logicalLocations"`
}

type sarifLogicalLocation struct {
	FullyQualifiedName string `json:"fullyQualifiedName"`
	Kind               string `json:"kind,omitempty"`
}

// ruleDescriptions lists finding types in the order rules are emitted.
var ruleDescriptions = []struct {
	typ      analyzer.FindingType
	severity analyzer.Severity
	text     string
}{
	{analyzer.FindingCollScanQuery, analyzer.SeverityHigh, "Sampled query shape is answered by a collection scan"},
	{analyzer.FindingSuggestedIndex, analyzer.SeverityMedium, "Compound index in equality, sort, range order would serve the shape"},
	{analyzer.FindingExplainFailed, analyzer.SeverityLow, "Explain of the representative query failed"},
	{analyzer.FindingRejectedShape, analyzer.SeverityInfo, "Query settings reject this shape"},
	{analyzer.FindingUnsupportedCommand, analyzer.SeverityInfo, "Shape command is neither find nor aggregate"},
}

func usedRules(findings []analyzer.Finding) []sarifReportingDescriptor {
	seen := make(map[analyzer.FindingType]bool, len(findings))
	for _, f := range findings {
		seen[f.Type] = true
	}
	var rules []sarifReportingDescriptor
	for _, d := range ruleDescriptions {
		if !seen[d.typ] {
			continue
		}
		rules = append(rules, sarifReportingDescriptor{
			ID:               string(d.typ),
			ShortDescription: sarifMessage{Text: d.text},
			DefaultConfig:    sarifDefaultConfig{Level: severityToSARIFLevel(d.severity)},
		})
	}
	return rules
}

func writeSARIF(w io.Writer, report *Report) error {
	results := make([]sarifResult, 0, len(report.Findings))
	for _, f := range report.Findings {
		r := sarifResult{
			RuleID:  string(f.Type),
			Level:   severityToSARIFLevel(f.Severity),
			Message: sarifMessage{Text: f.Message},
			Locations: []sarifLocation{{LogicalLocations: []sarifLogicalLocation{{
				FullyQualifiedName: logicalName(f),
				Kind:               "object",
			}}}},
		}
		if f.Shape != "" {
			r.PartialFingerprints = map[string]string{"shapeHash/v1": f.Shape}
		}
		results = append(results, r)
	}

	log := sarifLog{
		Schema:  "https://raw.githubusercontent.com/oasis-tcs/sarif-spec/main/sarif-2.1/schema/sarif-schema-2.1.0.json",
		Version: "2.1.0",
		Runs: []sarifRun{{
			Tool: sarifTool{
				Driver: sarifDriver{
					Name:           "shapespectre",
					Version:        report.Metadata.Version,
					InformationURI: "https://github.com/ppiankov/shapespectre",
					Rules:          usedRules(report.Findings),
				},
			},
			Results: results,
		}},
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(log)
}

func severityToSARIFLevel(s analyzer.Severity) string {
	switch s {
	case analyzer.SeverityHigh:
		return "error"
	case analyzer.SeverityMedium:
		return "warning"
	case analyzer.SeverityLow:
		return "note"
	default:
		return "none"
	}
}

// logicalName is db.collection, with the full shape hash when known.
func logicalName(f analyzer.Finding) string {
	name := f.Database + "." + f.Collection
	if f.Shape != "" {
		name += "@" + f.Shape
	}
	return name
}
