package analyzer

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/shapespectre/internal/advisor"
	"github.com/ppiankov/shapespectre/internal/fingerprint"
	"github.com/ppiankov/shapespectre/internal/placeholder"
	"github.com/ppiankov/shapespectre/internal/plan"
	"github.com/ppiankov/shapespectre/internal/querysettings"
	"github.com/ppiankov/shapespectre/internal/querystats"
	"github.com/ppiankov/shapespectre/internal/shape"
)

const (
	DefaultWorkers          = 4
	DefaultMinRejectVersion = 8

	// explainField holds a captured plan next to an offline stats record.
	explainField = "explain"
)

// Explainer runs explain for the representative query of a shape.
type Explainer interface {
	Explain(ctx context.Context, key querystats.Key) (shape.Value, error)
}

// Input is one batch of telemetry.
type Input struct {
	Stats    []querystats.StatsRecord
	Settings []querystats.SettingsRecord
	// Indexes are the existing indexes per namespace. A suggestion already
	// covered by one of them is not reported.
	Indexes map[querystats.Namespace][]querystats.IndexEntry
	// ServerMajor is the server major version, 0 for offline input.
	ServerMajor int
}

// Options control Analyze.
type Options struct {
	// Explainer is nil for offline input; plans are then read from the
	// "explain" field of each raw stats record when present.
	Explainer        Explainer
	Workers          int
	SuggestAll       bool
	MinRejectVersion int
	Logger           *zap.Logger
}

// Result holds one analysis per stats record, in input order, and the findings.
type Result struct {
	Shapes            []ShapeAnalysis `json:"shapes"`
	Findings          []Finding       `json:"findings"`
	RejectionsEnabled bool            `json:"rejections_enabled"`
}

// RejectionsEnabled reports whether setQuerySettings is available on a server
// of the given major version. Offline input (major 0) is never gated.
func RejectionsEnabled(serverMajor, minVersion int) bool {
	if minVersion <= 0 {
		minVersion = DefaultMinRejectVersion
	}
	return serverMajor == 0 || serverMajor >= minVersion
}

// Analyze runs per-shape analysis over every stats record with a bounded
// number of workers. Explain failures become findings; only context
// cancellation aborts the batch.
func Analyze(ctx context.Context, in Input, opts Options) (Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}

	a := &batch{
		in:         in,
		opts:       opts,
		logger:     logger,
		byHash:     fingerprint.Index(in.Settings),
		rejections: RejectionsEnabled(in.ServerMajor, opts.MinRejectVersion),
	}

	shapes := make([]ShapeAnalysis, len(in.Stats))
	findings := make([][]Finding, len(in.Stats))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range in.Stats {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			shapes[i], findings[i] = a.record(gctx, in.Stats[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, fmt.Errorf("analyze query shapes: %w", err)
	}

	res := Result{Shapes: shapes, RejectionsEnabled: a.rejections}
	for _, f := range findings {
		res.Findings = append(res.Findings, f...)
	}
	logger.Debug("analysis complete",
		zap.Int("shapes", len(shapes)),
		zap.Int("findings", len(res.Findings)),
		zap.Bool("rejections", a.rejections))
	return res, nil
}

type batch struct {
	in         Input
	opts       Options
	logger     *zap.Logger
	byHash     map[string]*querystats.SettingsRecord
	rejections bool
}

func (b *batch) record(ctx context.Context, rec querystats.StatsRecord) (ShapeAnalysis, []Finding) {
	key := rec.Key
	sa := ShapeAnalysis{
		Namespace: key.Namespace,
		Command:   key.Command,
		ExecCount: rec.ExecCount(),
	}
	if q, ok := fingerprint.StatsQuery(key); ok {
		sa.Hash = fingerprint.Hash(q)
		sa.Setting = b.byHash[sa.Hash]
	}
	if q := key.Query(); q != nil {
		sa.Representative = placeholder.Representative(q)
	}
	if b.rejections {
		sa.RejectCommand = querysettings.RenderReject(key, sa.Representative)
	}

	newFinding := func(t FindingType, sev Severity, msg string) Finding {
		return Finding{
			Type:       t,
			Severity:   sev,
			Database:   key.Namespace.DB,
			Collection: key.Namespace.Collection,
			Shape:      sa.Hash,
			Message:    msg,
		}
	}

	var findings []Finding
	if sa.Setting != nil && sa.Setting.Reject {
		findings = append(findings, newFinding(FindingRejectedShape, SeverityInfo,
			"shape is rejected by query settings"))
	}
	if !sa.Supported() {
		b.logger.Debug("skipping unsupported command",
			zap.String("namespace", key.Namespace.String()),
			zap.String("command", key.Command))
		return sa, append(findings, newFinding(FindingUnsupportedCommand, SeverityInfo,
			fmt.Sprintf("command %q has no explain or index advice", key.Command)))
	}

	explain, err := b.explain(ctx, rec)
	if err != nil {
		sa.ExplainError = err.Error()
		b.logger.Warn("explain failed",
			zap.String("namespace", key.Namespace.String()),
			zap.Error(err))
		findings = append(findings, newFinding(FindingExplainFailed, SeverityLow,
			fmt.Sprintf("explain failed: %v", err)))
	}
	if explain != nil {
		sa.Stages = plan.Stages(explain)
		sa.CollScan = plan.HasCollScan(sa.Stages)
	}
	if sa.CollScan {
		findings = append(findings, newFinding(FindingCollScanQuery, SeverityHigh,
			fmt.Sprintf("winning plan scans the whole collection (%d executions)", sa.ExecCount)))
	}

	if sa.CollScan || b.opts.SuggestAll {
		filter := adviceFilter(key)
		sa.SuggestedIndex = advisor.SuggestIndex(filter, key.Sort)
		if len(sa.SuggestedIndex) > 0 {
			if covering, ok := advisor.CoveringIndexes(filter, key.Sort, b.in.Indexes[key.Namespace]); ok {
				b.logger.Debug("suggestion already covered",
					zap.String("namespace", key.Namespace.String()),
					zap.Strings("indexes", covering))
			} else {
				f := newFinding(FindingSuggestedIndex, SeverityMedium,
					fmt.Sprintf("create index %s", sa.SuggestedIndex))
				f.Index = sa.SuggestedIndex.String()
				findings = append(findings, f)
			}
		}
	}
	return sa, findings
}

func (b *batch) explain(ctx context.Context, rec querystats.StatsRecord) (shape.Value, error) {
	if b.opts.Explainer == nil {
		v, _ := rec.Raw.Get(explainField)
		return v, nil
	}
	return b.opts.Explainer.Explain(ctx, rec.Key)
}

// adviceFilter picks the filter used for index advice: the filter of a find,
// the first $match of an aggregate pipeline.
func adviceFilter(key querystats.Key) shape.Value {
	switch key.Command {
	case querystats.CommandFind:
		return key.Filter
	case querystats.CommandAggregate:
		filter, _ := advisor.MatchFilter(key.Pipeline)
		return filter
	default:
		return nil
	}
}
