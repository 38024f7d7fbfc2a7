package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ppiankov/shapespectre/internal/atlas"
	mongoinspect "github.com/ppiankov/shapespectre/internal/mongo"
	"github.com/ppiankov/shapespectre/internal/querystats"
	"github.com/ppiankov/shapespectre/internal/reporter"
	"github.com/ppiankov/shapespectre/internal/shape"
)

type inspector interface {
	Close(ctx context.Context) error
	ServerVersion(ctx context.Context) (mongoinspect.ServerInfo, error)
	QueryStats(ctx context.Context) ([]querystats.StatsRecord, error)
	AllQuerySettings(ctx context.Context, stats []querystats.StatsRecord) ([]querystats.SettingsRecord, error)
	IndexesFor(ctx context.Context, stats []querystats.StatsRecord) (map[querystats.Namespace][]querystats.IndexEntry, error)
	Explain(ctx context.Context, key querystats.Key) (shape.Value, error)
	QueryStatsRateLimit(ctx context.Context) (int64, error)
	SetQueryStatsRateLimit(ctx context.Context, limit int64) error
}

type atlasClient interface {
	GetCluster(ctx context.Context, projectID, clusterName string) (atlas.Cluster, error)
	GetFederatedInstance(ctx context.Context, projectID, tenant string) (atlas.FederatedInstance, error)
	Retarget(ctx context.Context, projectID, tenant, clusterName string) (atlas.FederatedInstance, error)
}

var (
	newInspector = func(ctx context.Context, cfg mongoinspect.Config) (inspector, error) {
		return mongoinspect.NewInspector(ctx, cfg)
	}
	newAtlasClient = func(cfg atlas.Config) (atlasClient, error) {
		return atlas.NewClient(cfg)
	}
)

func validateFormat(format string, allowed ...reporter.Format) (reporter.Format, error) {
	f, err := reporter.ParseFormat(format)
	if err == nil {
		for _, v := range allowed {
			if f == v {
				return f, nil
			}
		}
	}
	names := make([]string, len(allowed))
	for i, v := range allowed {
		names[i] = string(v)
	}
	return "", fmt.Errorf("invalid --format %q (allowed: %s)", format, strings.Join(names, ", "))
}

// connect opens an inspector on the --uri server and reads its version.
func connect(ctx context.Context, cmd *cobra.Command) (inspector, mongoinspect.ServerInfo, error) {
	if uri == "" {
		return nil, mongoinspect.ServerInfo{}, fmt.Errorf("--uri is required (or set MONGODB_URI)")
	}

	insp, err := newInspector(ctx, mongoinspect.Config{
		URI:              uri,
		ExcludeDatabases: cfg.Exclude.Databases,
	})
	if err != nil {
		return nil, mongoinspect.ServerInfo{}, fmt.Errorf("connect: %w", err)
	}

	info, err := insp.ServerVersion(ctx)
	if err != nil {
		_ = insp.Close(ctx)
		return nil, mongoinspect.ServerInfo{}, fmt.Errorf("server info: %w", err)
	}
	_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Connected to MongoDB %s\n", info.Version)
	return insp, info, nil
}

// readShapeFile parses a JSON file into a shape value. "-" reads stdin.
func readShapeFile(cmd *cobra.Command, path string) (shape.Value, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	v, err := shape.ParseJSON(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return v, nil
}

// parseShapeFlag parses the JSON value of a flag. An empty flag yields nil.
func parseShapeFlag(name, value string) (shape.Value, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	v, err := shape.ParseJSON([]byte(value))
	if err != nil {
		return nil, fmt.Errorf("invalid --%s: %w", name, err)
	}
	return v, nil
}
