package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ppiankov/shapespectre/internal/config"
)

var (
	uri     string
	verbose bool
	timeout time.Duration
	version string

	// workDir holds the config and ignore files; resolved once by setup.
	workDir string

	cfg    = config.DefaultConfig()
	logger = zap.NewNop()
)

// BuildInfo is the version metadata stamped into the binary at link time.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"goVersion"`
}

// ExitError asks the caller to exit with Code without printing an error.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

func newRootCmd(info BuildInfo) *cobra.Command {
	version = info.Version

	root := &cobra.Command{
		Use:   "shapespectre",
		Short: "MongoDB query shape analyzer",
		Long: "Reads $queryStats and $querySettings telemetry, flattens explain plans, suggests indexes " +
			"for collection scans and renders setQuerySettings commands that reject a query shape.",
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setup(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = logger.Sync()
		},
	}

	root.PersistentFlags().StringVar(&uri, "uri", "", "MongoDB connection URI (or set MONGODB_URI)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "overall timeout for server and API calls")

	root.AddCommand(newVersionCmd(info))
	root.AddCommand(newInitCmd())
	root.AddCommand(newAnalyzeCmd())
	root.AddCommand(newStagesCmd())
	root.AddCommand(newSuggestCmd())
	root.AddCommand(newRejectCmd())
	root.AddCommand(newCorrelateCmd())
	root.AddCommand(newRateLimitCmd())
	root.AddCommand(newFederationCmd())

	return root
}

// setup loads the config file and builds the logger. Flags win over the
// environment, which wins over the config file.
func setup(cmd *cobra.Command) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getwd: %w", err)
	}
	workDir = cwd
	loaded, err := config.Load(cwd)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg = loaded

	if uri == "" {
		uri = os.Getenv("MONGODB_URI")
	}
	if uri == "" {
		uri = cfg.URI
	}
	if !cmd.Flags().Changed("timeout") {
		timeout = cfg.TimeoutDuration()
	}
	if !cmd.Flags().Changed("verbose") && cfg.Defaults.Verbose {
		verbose = true
	}

	logger = newLogger(cmd.ErrOrStderr(), verbose)
	return nil
}

func newLogger(w io.Writer, debug bool) *zap.Logger {
	zc := zap.NewProductionConfig()
	if debug {
		zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	core := zapcore.NewCore(zapcore.NewJSONEncoder(zc.EncoderConfig), zapcore.AddSync(w), zc.Level)
	return zap.New(core)
}

func newVersionCmd(info BuildInfo) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		RunE: func(cmd *cobra.Command, args []string) error {
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(info)
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "shapespectre %s (commit %s, built %s, %s)\n",
				info.Version, info.Commit, info.Date, info.GoVersion)
			return err
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print build info as JSON")

	return cmd
}

// Execute runs the root command. An *ExitError is returned untouched so the
// caller can exit with its code; other errors are printed first.
func Execute(info BuildInfo) error {
	err := newRootCmd(info).Execute()
	var exitErr *ExitError
	if err != nil && !errors.As(err, &exitErr) {
		_, _ = fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return err
}
