package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ppiankov/shapespectre/internal/advisor"
	"github.com/ppiankov/shapespectre/internal/fingerprint"
	"github.com/ppiankov/shapespectre/internal/plan"
	"github.com/ppiankov/shapespectre/internal/querysettings"
	"github.com/ppiankov/shapespectre/internal/querystats"
	"github.com/ppiankov/shapespectre/internal/reporter"
	"github.com/ppiankov/shapespectre/internal/shape"
)

func newStagesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stages <explain.json>",
		Short: "Flatten an explain document into its plan stages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			explain, err := readShapeFile(cmd, args[0])
			if err != nil {
				return err
			}
			stages := plan.Stages(explain)
			if len(stages) == 0 {
				return fmt.Errorf("no plan stages found in %s", args[0])
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), strings.Join(stages, " -> "))
			if plan.HasCollScan(stages) {
				_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "warning: plan contains a collection scan")
			}
			return nil
		},
	}
}

func newSuggestCmd() *cobra.Command {
	var filterJSON, sortJSON string

	cmd := &cobra.Command{
		Use:   "suggest",
		Short: "Suggest an index key order for a filter (or pipeline) and sort",
		Example: `  shapespectre suggest --filter '{"status": "?string", "age": {"$gt": "?number"}}' --sort '{"name": 1}'
  shapespectre suggest --filter '[{"$match": {"type": "?string"}}]'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := parseShapeFlag("filter", filterJSON)
			if err != nil {
				return err
			}
			if filter == nil {
				return fmt.Errorf("--filter is required")
			}
			if pipeline, ok := filter.(shape.Array); ok {
				match, found := advisor.MatchFilter(pipeline)
				if !found {
					return fmt.Errorf("pipeline has no $match stage")
				}
				filter = match
			}

			sortValue, err := parseShapeFlag("sort", sortJSON)
			if err != nil {
				return err
			}
			sortDoc, _ := sortValue.(shape.Document)
			if sortValue != nil && sortDoc == nil {
				return fmt.Errorf("invalid --sort: want a JSON object")
			}

			spec := advisor.SuggestIndex(filter, sortDoc)
			if len(spec) == 0 {
				return fmt.Errorf("filter has no indexable fields")
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), spec.String())
			return nil
		},
	}

	cmd.Flags().StringVar(&filterJSON, "filter", "", "query filter or aggregation pipeline as JSON")
	cmd.Flags().StringVar(&sortJSON, "sort", "", "sort document as JSON")

	return cmd
}

func newRejectCmd() *cobra.Command {
	var (
		shapeFile    string
		ns           string
		command      string
		filterJSON   string
		pipelineJSON string
		sortJSON     string
	)

	cmd := &cobra.Command{
		Use:   "reject",
		Short: "Render the setQuerySettings command that rejects a query shape",
		Long: "Builds an adminCommand for mongosh that rejects a query shape. The shape comes from " +
			"--shape (a queryShape document or a $queryStats record) or from --ns with --filter, --pipeline and --sort.",
		RunE: func(cmd *cobra.Command, args []string) error {
			var key querystats.Key
			if shapeFile != "" {
				v, err := readShapeFile(cmd, shapeFile)
				if err != nil {
					return err
				}
				key = keyFromDocument(v)
			} else {
				var err error
				key, err = keyFromFlags(ns, command, filterJSON, pipelineJSON, sortJSON)
				if err != nil {
					return err
				}
			}
			if !key.Supported() {
				_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "warning: %q shapes cannot be explained; command rendered as-is\n", key.Command)
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), querysettings.RejectForKey(key))
			return nil
		},
	}

	cmd.Flags().StringVar(&shapeFile, "shape", "", "JSON file holding a queryShape or a $queryStats record (- for stdin)")
	cmd.Flags().StringVar(&ns, "ns", "", "namespace as db.collection")
	cmd.Flags().StringVar(&command, "command", querystats.CommandFind, "shape command: find or aggregate")
	cmd.Flags().StringVar(&filterJSON, "filter", "", "find filter shape as JSON")
	cmd.Flags().StringVar(&pipelineJSON, "pipeline", "", "aggregate pipeline shape as JSON")
	cmd.Flags().StringVar(&sortJSON, "sort", "", "sort shape as JSON")

	return cmd
}

// keyFromDocument accepts a bare queryShape or a full $queryStats record.
func keyFromDocument(v shape.Value) querystats.Key {
	if _, ok := shape.Lookup(v, "key", "queryShape"); ok {
		return querystats.ParseStatsRecord(v).Key
	}
	return querystats.ParseKey(v)
}

func keyFromFlags(ns, command, filterJSON, pipelineJSON, sortJSON string) (querystats.Key, error) {
	db, coll, ok := strings.Cut(ns, ".")
	if !ok || db == "" || coll == "" {
		return querystats.Key{}, fmt.Errorf("--ns must be db.collection, got %q", ns)
	}
	key := querystats.Key{
		Command:   command,
		Namespace: querystats.Namespace{DB: db, Collection: coll},
	}

	filter, err := parseShapeFlag("filter", filterJSON)
	if err != nil {
		return key, err
	}
	pipeline, err := parseShapeFlag("pipeline", pipelineJSON)
	if err != nil {
		return key, err
	}
	sortValue, err := parseShapeFlag("sort", sortJSON)
	if err != nil {
		return key, err
	}

	switch command {
	case querystats.CommandFind:
		key.Filter, _ = filter.(shape.Document)
		if key.Filter == nil {
			key.Filter = shape.Document{}
		}
	case querystats.CommandAggregate:
		key.Pipeline, _ = pipeline.(shape.Array)
		if key.Pipeline == nil {
			key.Pipeline = shape.Array{}
		}
	}
	key.Sort, _ = sortValue.(shape.Document)
	return key, nil
}

// correlation is one line of correlate output.
type correlation struct {
	Namespace string `json:"namespace"`
	Command   string `json:"command"`
	Hash      string `json:"hash"`
	Matched   bool   `json:"matched"`
	Reject    bool   `json:"reject"`
}

func newCorrelateCmd() *cobra.Command {
	var statsFile, settingsFile, format string

	cmd := &cobra.Command{
		Use:   "correlate",
		Short: "Match $queryStats records to $querySettings records by shape hash",
		RunE: func(cmd *cobra.Command, args []string) error {
			outFormat, err := validateFormat(format, reporter.FormatText, reporter.FormatJSON)
			if err != nil {
				return err
			}
			if statsFile == "" || settingsFile == "" {
				return fmt.Errorf("--stats and --settings are required")
			}

			sv, err := readShapeFile(cmd, statsFile)
			if err != nil {
				return err
			}
			tv, err := readShapeFile(cmd, settingsFile)
			if err != nil {
				return err
			}

			pairs := fingerprint.Correlate(querystats.ParseSettingsRecords(tv), querystats.ParseStatsRecords(sv))
			rows := make([]correlation, 0, len(pairs))
			for _, p := range pairs {
				row := correlation{
					Namespace: p.Stat.Key.Namespace.String(),
					Command:   p.Stat.Key.Command,
					Hash:      p.Hash,
					Matched:   p.Matched(),
				}
				if p.Setting != nil {
					row.Reject = p.Setting.Reject
				}
				rows = append(rows, row)
			}

			if outFormat == reporter.FormatJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(rows)
			}

			matched := 0
			for _, r := range rows {
				state := "unmatched"
				if r.Matched {
					state = "matched"
					matched++
				}
				if r.Reject {
					state += " reject"
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%-30s %-9s %s %s\n", r.Namespace, r.Command, r.Hash, state)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%d of %d shapes have query settings\n", matched, len(rows))
			return nil
		},
	}

	cmd.Flags().StringVar(&statsFile, "stats", "", "JSON export of $queryStats")
	cmd.Flags().StringVar(&settingsFile, "settings", "", "JSON export of $querySettings with showDebugQueryShape")
	cmd.Flags().StringVarP(&format, "format", "f", "text", "output format: text or json")

	return cmd
}
