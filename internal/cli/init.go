package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ppiankov/shapespectre/internal/analyzer"
	"github.com/ppiankov/shapespectre/internal/config"
)

func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create starter " + config.FileName + " and " + analyzer.IgnoreFileName + " in the current directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			wrote := 0
			for _, f := range initFiles {
				path := filepath.Join(workDir, f.name)
				if _, err := os.Stat(path); err == nil {
					_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "skip: %s already exists\n", f.name)
					continue
				}
				if err := os.WriteFile(path, []byte(f.content), 0o600); err != nil {
					return fmt.Errorf("write %s: %w", f.name, err)
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "created %s\n", f.name)
				wrote++
			}

			if wrote == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Nothing to do, all config files already exist.")
			}
			return nil
		},
	}
	return cmd
}

type initFile struct {
	name    string
	content string
}

var initFiles = []initFile{
	{
		name: config.FileName,
		content: `# shapespectre configuration

# MongoDB connection URI (overridden by --uri flag or MONGODB_URI env var)
# uri: mongodb://localhost:27017

exclude:
  databases: [admin, config, local]

analysis:
  # setQuerySettings needs MongoDB 8.0 or newer
  min_reject_version: 8
  workers: 4
  suggest_all: false

defaults:
  format: text
  verbose: false
  timeout: 30s

# Atlas Admin API (keys come from MONGODB_ATLAS_PUBLIC_KEY / MONGODB_ATLAS_PRIVATE_KEY)
atlas:
  # base_url: https://cloud.mongodb.com
  rate_limit_ms: 250
`,
	},
	{
		name: analyzer.IgnoreFileName,
		content: `# shapespectre ignore rules
# Format: TYPE db.collection[@shapehash]
#   TYPE, db and collection accept * ? and [...] globs
#   shapehash  optional shape hash prefix
#
# Examples:
# COLLSCAN_QUERY app.audit_logs
# * app.sessions@3f2a9c
# SUGGESTED_INDEX *.tmp_*
# *_QUERY reports.daily_?
`,
	},
}
