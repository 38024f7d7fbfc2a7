package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/ppiankov/shapespectre/internal/placeholder"
	"github.com/ppiankov/shapespectre/internal/querystats"
	"github.com/ppiankov/shapespectre/internal/shape"
)

const adminDB = "admin"

// dbClient abstracts the MongoDB client operations for testability.
type dbClient interface {
	Ping(ctx context.Context) error
	Disconnect(ctx context.Context) error
	RunCommand(ctx context.Context, dbName string, cmd any) *mongo.SingleResult
	ListIndexSpecs(ctx context.Context, dbName, collName string) ([]mongo.IndexSpecification, error)
	AggregateDB(ctx context.Context, dbName string, pipeline any) (*mongo.Cursor, error)
}

// mongoDBClient wraps the real mongo.Client to implement dbClient.
type mongoDBClient struct {
	client *mongo.Client
}

func (m *mongoDBClient) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, nil)
}

func (m *mongoDBClient) Disconnect(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

func (m *mongoDBClient) RunCommand(ctx context.Context, dbName string, cmd any) *mongo.SingleResult {
	return m.client.Database(dbName).RunCommand(ctx, cmd)
}

func (m *mongoDBClient) ListIndexSpecs(ctx context.Context, dbName, collName string) ([]mongo.IndexSpecification, error) {
	return m.client.Database(dbName).Collection(collName).Indexes().ListSpecifications(ctx)
}

func (m *mongoDBClient) AggregateDB(ctx context.Context, dbName string, pipeline any) (*mongo.Cursor, error) {
	return m.client.Database(dbName).Aggregate(ctx, pipeline)
}

// Inspector reads query shape telemetry from a MongoDB deployment.
type Inspector struct {
	db      dbClient
	exclude []string
}

// NewInspector connects to MongoDB and verifies the connection.
// The context deadline is used to bound connection and server selection time.
func NewInspector(ctx context.Context, cfg Config) (*Inspector, error) {
	opts := options.Client().ApplyURI(cfg.URI)

	// Derive connection timeouts from context deadline so unreachable hosts
	// don't hang for the OS-level TCP timeout (~2 min).
	if deadline, ok := ctx.Deadline(); ok {
		d := time.Until(deadline)
		opts.SetConnectTimeout(d)
		opts.SetServerSelectionTimeout(d)
	}

	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	dbc := &mongoDBClient{client: client}
	if err := dbc.Ping(ctx); err != nil {
		_ = dbc.Disconnect(ctx)
		return nil, fmt.Errorf("ping: %w", err)
	}

	return newInspector(dbc, cfg), nil
}

func newInspector(db dbClient, cfg Config) *Inspector {
	exclude := cfg.ExcludeDatabases
	if exclude == nil {
		exclude = querystats.SystemDatabases
	}
	return &Inspector{db: db, exclude: exclude}
}

// Close disconnects from MongoDB.
func (i *Inspector) Close(ctx context.Context) error {
	return i.db.Disconnect(ctx)
}

// ServerVersion returns the server version string and its major component.
func (i *Inspector) ServerVersion(ctx context.Context) (ServerInfo, error) {
	result := i.db.RunCommand(ctx, adminDB, bson.D{{Key: "buildInfo", Value: 1}})
	var raw bson.M
	if err := result.Decode(&raw); err != nil {
		return ServerInfo{}, fmt.Errorf("buildInfo: %w", err)
	}
	v, _ := raw["version"].(string)
	return ServerInfo{Version: v, Major: majorVersion(v)}, nil
}

// QueryStats reads sampled query shapes from $queryStats, skipping excluded
// databases, ordered by database then collection.
func (i *Inspector) QueryStats(ctx context.Context) ([]querystats.StatsRecord, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$queryStats", Value: bson.D{}}},
		{{Key: "$match", Value: bson.D{
			{Key: "key.queryShape.cmdNs.db", Value: bson.D{{Key: "$nin", Value: i.exclude}}},
		}}},
		{{Key: "$sort", Value: bson.D{
			{Key: "key.queryShape.cmdNs.db", Value: 1},
			{Key: "key.queryShape.cmdNs.coll", Value: 1},
		}}},
	}
	docs, err := i.aggregate(ctx, adminDB, pipeline)
	if err != nil {
		return nil, fmt.Errorf("$queryStats: %w", err)
	}
	records := make([]querystats.StatsRecord, 0, len(docs))
	for _, d := range docs {
		records = append(records, querystats.ParseStatsRecord(d))
	}
	return records, nil
}

// QuerySettings reads the query settings registered for one collection,
// including their debug query shapes.
func (i *Inspector) QuerySettings(ctx context.Context, ns querystats.Namespace) ([]querystats.SettingsRecord, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$querySettings", Value: bson.D{{Key: "showDebugQueryShape", Value: true}}}},
		{{Key: "$match", Value: bson.D{
			{Key: "debugQueryShape.cmdNs.db", Value: ns.DB},
			{Key: "debugQueryShape.cmdNs.coll", Value: ns.Collection},
		}}},
	}
	docs, err := i.aggregate(ctx, adminDB, pipeline)
	if err != nil {
		return nil, fmt.Errorf("$querySettings %s: %w", ns, err)
	}
	records := make([]querystats.SettingsRecord, 0, len(docs))
	for _, d := range docs {
		records = append(records, querystats.ParseSettingsRecord(d))
	}
	return records, nil
}

// AllQuerySettings reads query settings for every namespace present in stats.
func (i *Inspector) AllQuerySettings(ctx context.Context, stats []querystats.StatsRecord) ([]querystats.SettingsRecord, error) {
	var all []querystats.SettingsRecord
	for _, group := range querystats.GroupByNamespace(stats, nil) {
		recs, err := i.QuerySettings(ctx, group.Namespace)
		if err != nil {
			return nil, err
		}
		all = append(all, recs...)
	}
	return all, nil
}

// Explain returns the explain output of the shape's representative query.
func (i *Inspector) Explain(ctx context.Context, key querystats.Key) (shape.Value, error) {
	ns := key.Namespace
	var cmd bson.D
	switch key.Command {
	case querystats.CommandFind:
		find := bson.D{
			{Key: "find", Value: ns.Collection},
			{Key: "filter", Value: shape.ToBSON(placeholder.Representative(key.Filter))},
		}
		if key.Sort != nil {
			find = append(find, bson.E{Key: "sort", Value: shape.ToBSON(key.Sort)})
		}
		cmd = bson.D{
			{Key: "explain", Value: find},
			{Key: "verbosity", Value: "queryPlanner"},
		}
	case querystats.CommandAggregate:
		cmd = bson.D{
			{Key: "aggregate", Value: ns.Collection},
			{Key: "pipeline", Value: shape.ToBSON(placeholder.Representative(key.Pipeline))},
			{Key: "explain", Value: true},
		}
	default:
		return nil, fmt.Errorf("explain %s %s: %w", key.Command, ns, ErrUnsupportedCommand)
	}

	raw, err := i.db.RunCommand(ctx, ns.DB, cmd).Raw()
	if err != nil {
		return nil, fmt.Errorf("explain %s %s: %w", key.Command, ns, err)
	}
	return shape.FromBSON(raw), nil
}

// ListIndexes returns the index definitions of a collection as reported by the server.
func (i *Inspector) ListIndexes(ctx context.Context, ns querystats.Namespace) ([]querystats.IndexEntry, error) {
	specs, err := i.db.ListIndexSpecs(ctx, ns.DB, ns.Collection)
	if err != nil {
		return nil, fmt.Errorf("list indexes %s: %w", ns, err)
	}

	indexes := make([]querystats.IndexEntry, 0, len(specs))
	for _, spec := range specs {
		key, _ := shape.FromBSON(spec.KeysDocument).(shape.Document)
		idx := querystats.IndexEntry{Name: spec.Name, Key: key}
		if spec.Unique != nil {
			idx.Unique = *spec.Unique
		}
		if spec.Sparse != nil {
			idx.Sparse = *spec.Sparse
		}
		indexes = append(indexes, idx)
	}
	return indexes, nil
}

// IndexesFor lists indexes for every namespace present in stats. Collections
// whose indexes cannot be read are left out of the map and reported in the
// joined error, one wrapped error per namespace.
func (i *Inspector) IndexesFor(ctx context.Context, stats []querystats.StatsRecord) (map[querystats.Namespace][]querystats.IndexEntry, error) {
	out := map[querystats.Namespace][]querystats.IndexEntry{}
	var errs []error
	for _, group := range querystats.GroupByNamespace(stats, nil) {
		idx, err := i.ListIndexes(ctx, group.Namespace)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out[group.Namespace] = idx
	}
	return out, errors.Join(errs...)
}

// QueryStatsRateLimit returns the current internalQueryStatsRateLimit. Zero
// means $queryStats sampling is disabled.
func (i *Inspector) QueryStatsRateLimit(ctx context.Context) (int64, error) {
	result := i.db.RunCommand(ctx, adminDB, bson.D{
		{Key: "getParameter", Value: 1},
		{Key: RateLimitParameter, Value: 1},
	})
	var raw bson.M
	if err := result.Decode(&raw); err != nil {
		return 0, fmt.Errorf("getParameter %s: %w", RateLimitParameter, err)
	}
	v, ok := raw[RateLimitParameter]
	if !ok {
		return 0, fmt.Errorf("getParameter %s: missing from response", RateLimitParameter)
	}
	return toInt64(v), nil
}

// SetQueryStatsRateLimit sets internalQueryStatsRateLimit.
func (i *Inspector) SetQueryStatsRateLimit(ctx context.Context, limit int64) error {
	if limit < 0 {
		return fmt.Errorf("setParameter %s: limit must not be negative, got %d", RateLimitParameter, limit)
	}
	result := i.db.RunCommand(ctx, adminDB, bson.D{
		{Key: "setParameter", Value: 1},
		{Key: RateLimitParameter, Value: limit},
	})
	if err := result.Err(); err != nil {
		return fmt.Errorf("setParameter %s: %w", RateLimitParameter, err)
	}
	return nil
}

func (i *Inspector) aggregate(ctx context.Context, dbName string, pipeline mongo.Pipeline) ([]shape.Value, error) {
	cursor, err := i.db.AggregateDB(ctx, dbName, pipeline)
	if err != nil {
		return nil, err
	}
	defer func() { _ = cursor.Close(ctx) }()

	var docs []shape.Value
	for cursor.Next(ctx) {
		docs = append(docs, shape.FromBSON(cursor.Current))
	}
	if err := cursor.Err(); err != nil {
		return nil, err
	}
	return docs, nil
}

// toInt64 converts a BSON numeric value to int64.
func toInt64(v any) int64 {
	switch n := v.(type) {
	case int32:
		return int64(n)
	case int64:
		return n
	case float64:
		return int64(n)
	default:
		return 0
	}
}
