package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ppiankov/shapespectre/internal/analyzer"
	"github.com/ppiankov/shapespectre/internal/querystats"
	"github.com/ppiankov/shapespectre/internal/reporter"
)

func newAnalyzeCmd() *cobra.Command {
	var (
		statsFile    string
		settingsFile string
		format       string
		workers      int
		suggestAll   bool
		noIgnore     bool
		baseline     string
	)

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Analyze sampled query shapes from a live server or exported telemetry",
		Long: "Reads $queryStats from --uri (or a JSON export given with --stats), explains each " +
			"find and aggregate shape, suggests indexes for collection scans and renders reject commands.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("format") {
				format = cfg.Defaults.Format
			}
			outFormat, err := validateFormat(format, reporter.FormatText, reporter.FormatJSON, reporter.FormatSARIF)
			if err != nil {
				return err
			}
			if statsFile == "" && uri == "" {
				return fmt.Errorf("--uri or --stats is required (or set MONGODB_URI)")
			}
			if !cmd.Flags().Changed("workers") {
				workers = cfg.Analysis.Workers
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			opts := analyzer.Options{
				Workers:          workers,
				SuggestAll:       suggestAll || cfg.Analysis.SuggestAll,
				MinRejectVersion: cfg.Analysis.MinRejectVersion,
				Logger:           logger,
			}
			meta := reporter.Metadata{Version: version}

			var in analyzer.Input
			if statsFile != "" {
				in, err = loadOfflineInput(cmd, statsFile, settingsFile)
				if err != nil {
					return err
				}
				meta.Source = statsFile
			} else {
				insp, info, err := connect(ctx, cmd)
				if err != nil {
					return err
				}
				defer func() { _ = insp.Close(ctx) }()

				in, err = loadLiveInput(ctx, cmd, insp)
				if err != nil {
					return err
				}
				in.ServerMajor = info.Major
				opts.Explainer = insp
				meta.Source = "live"
				meta.ServerVersion = info.Version
			}

			result, err := analyzer.Analyze(ctx, in, opts)
			if err != nil {
				return err
			}

			var suppressed int
			if !noIgnore {
				il, ilErr := analyzer.LoadIgnoreFile(workDir)
				if ilErr != nil {
					_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", ilErr)
				}
				result.Findings, suppressed = il.Filter(result.Findings)
				if suppressed > 0 {
					logger.Debug("findings suppressed", zap.Int("count", suppressed), zap.String("file", analyzer.IgnoreFileName))
				}
			}

			if baseline != "" {
				previous, err := analyzer.LoadBaseline(baseline)
				if err != nil {
					return fmt.Errorf("load baseline: %w", err)
				}
				reporter.WriteBaselineDiff(cmd.ErrOrStderr(), analyzer.DiffBaseline(result.Findings, previous))
			}

			report := reporter.NewReport(result)
			meta.RejectionsEnabled = result.RejectionsEnabled
			meta.Timestamp = time.Now().UTC()
			report.Metadata = meta
			report.Summary.Suppressed = suppressed

			if err := reporter.Write(cmd.OutOrStdout(), &report, outFormat); err != nil {
				return fmt.Errorf("write report: %w", err)
			}

			if code := analyzer.ExitCode(report.MaxSeverity); code != 0 {
				return &ExitError{Code: code}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&statsFile, "stats", "", "analyze a JSON export of $queryStats instead of a live server (- for stdin)")
	cmd.Flags().StringVar(&settingsFile, "settings", "", "JSON export of $querySettings with showDebugQueryShape, used with --stats")
	cmd.Flags().StringVarP(&format, "format", "f", "text", "output format: text, json or sarif")
	cmd.Flags().IntVar(&workers, "workers", analyzer.DefaultWorkers, "concurrent explain calls")
	cmd.Flags().BoolVar(&suggestAll, "suggest-all", false, "suggest an index for every shape, not only collection scans")
	cmd.Flags().BoolVar(&noIgnore, "no-ignore", false, "bypass "+analyzer.IgnoreFileName)
	cmd.Flags().StringVar(&baseline, "baseline", "", "previous JSON report; new and resolved findings are printed to stderr")

	return cmd
}

func loadOfflineInput(cmd *cobra.Command, statsFile, settingsFile string) (analyzer.Input, error) {
	v, err := readShapeFile(cmd, statsFile)
	if err != nil {
		return analyzer.Input{}, err
	}

	var in analyzer.Input
	groups := querystats.GroupByNamespace(querystats.ParseStatsRecords(v), cfg.Exclude.Databases)
	for _, g := range groups {
		in.Stats = append(in.Stats, g.Records...)
	}

	if settingsFile != "" {
		sv, err := readShapeFile(cmd, settingsFile)
		if err != nil {
			return analyzer.Input{}, err
		}
		in.Settings = querystats.ParseSettingsRecords(sv)
	}

	_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Read %d query shapes across %d namespaces from %s\n",
		len(in.Stats), len(groups), statsFile)
	return in, nil
}

func loadLiveInput(ctx context.Context, cmd *cobra.Command, insp inspector) (analyzer.Input, error) {
	if limit, err := insp.QueryStatsRateLimit(ctx); err != nil {
		logger.Debug("query stats rate limit unavailable", zap.Error(err))
	} else if limit == 0 {
		_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "warning: query stats sampling is disabled (internalQueryStatsRateLimit is 0)")
	}

	stats, err := insp.QueryStats(ctx)
	if err != nil {
		return analyzer.Input{}, fmt.Errorf("query stats: %w", err)
	}

	settings, err := insp.AllQuerySettings(ctx, stats)
	if err != nil {
		_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "warning: query settings unavailable: %v\n", err)
		settings = nil
	}

	indexes, err := insp.IndexesFor(ctx, stats)
	if err != nil {
		for _, e := range unwrapJoined(err) {
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "warning: index coverage not checked: %v\n", e)
		}
	}

	_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Read %d query shapes and %d query settings\n", len(stats), len(settings))
	return analyzer.Input{
		Stats:    stats,
		Settings: settings,
		Indexes:  indexes,
	}, nil
}

// unwrapJoined splits an errors.Join result into its parts.
func unwrapJoined(err error) []error {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		return joined.Unwrap()
	}
	return []error{err}
}
