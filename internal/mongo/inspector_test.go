package mongo

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/ppiankov/shapespectre/internal/plan"
	"github.com/ppiankov/shapespectre/internal/querystats"
	"github.com/ppiankov/shapespectre/internal/shape"
)

// mockClient implements dbClient for unit tests.
type mockClient struct {
	pingErr       error
	disconnectErr error
	runCmdResult  bson.Raw
	runCmdErr     error
	runCmdHook    func(dbName string, cmd any) (bson.Raw, error)
	indexSpecs    []mongo.IndexSpecification
	indexSpecsErr error
	indexHook     func(dbName, collName string) ([]mongo.IndexSpecification, error)
	aggregateErr  error
	aggregateData []bson.D
	aggregateDB   string
	pipeline      any
	commands      []any
}

func (m *mockClient) Ping(ctx context.Context) error {
	return m.pingErr
}

func (m *mockClient) Disconnect(ctx context.Context) error {
	return m.disconnectErr
}

func (m *mockClient) RunCommand(ctx context.Context, dbName string, cmd any) *mongo.SingleResult {
	m.commands = append(m.commands, cmd)
	if m.runCmdHook != nil {
		raw, err := m.runCmdHook(dbName, cmd)
		if err != nil {
			return mongo.NewSingleResultFromDocument(bson.D{}, err, nil)
		}
		return mongo.NewSingleResultFromDocument(raw, nil, nil)
	}

	if m.runCmdErr != nil || m.runCmdResult == nil {
		// Return a SingleResult that will error on Decode.
		return mongo.NewSingleResultFromDocument(bson.D{}, m.runCmdErr, nil)
	}
	return mongo.NewSingleResultFromDocument(m.runCmdResult, nil, nil)
}

func (m *mockClient) ListIndexSpecs(ctx context.Context, dbName, collName string) ([]mongo.IndexSpecification, error) {
	if m.indexHook != nil {
		return m.indexHook(dbName, collName)
	}
	return m.indexSpecs, m.indexSpecsErr
}

func (m *mockClient) AggregateDB(ctx context.Context, dbName string, pipeline any) (*mongo.Cursor, error) {
	m.aggregateDB = dbName
	m.pipeline = pipeline
	if m.aggregateErr != nil {
		return nil, m.aggregateErr
	}
	docs := make([]any, len(m.aggregateData))
	for i, d := range m.aggregateData {
		docs[i] = d
	}
	return mongo.NewCursorFromDocuments(docs, nil, nil)
}

func mustMarshalRaw(t *testing.T, v any) bson.Raw {
	t.Helper()
	raw, err := bson.Marshal(v)
	if err != nil {
		t.Fatalf("marshal bson: %v", err)
	}
	return raw
}

func lookupBSONValue(doc bson.D, key string) any {
	for _, elem := range doc {
		if elem.Key == key {
			return elem.Value
		}
	}
	return nil
}

func TestToInt64(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want int64
	}{
		{"int32", int32(42), 42},
		{"int64", int64(100), 100},
		{"float64", float64(3.14), 3},
		{"nil", nil, 0},
		{"string", "nope", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := toInt64(tt.in); got != tt.want {
				t.Errorf("toInt64(%v) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestMajorVersion(t *testing.T) {
	tests := map[string]int{"8.0.4": 8, "7.0.5": 7, "10": 10, "": 0, "x.1": 0}
	for in, want := range tests {
		if got := majorVersion(in); got != want {
			t.Errorf("majorVersion(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestNewInspector_InvalidURI(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	_, err := NewInspector(ctx, Config{URI: "mongodb://localhost:1/"})
	if err == nil {
		t.Fatal("expected connection error for unreachable host")
	}
}

func TestNewInspector_DefaultExclusions(t *testing.T) {
	insp := newInspector(&mockClient{}, Config{})
	if diff := cmp.Diff(querystats.SystemDatabases, insp.exclude); diff != "" {
		t.Errorf("exclude mismatch:\n%s", diff)
	}
}

func TestServerVersion(t *testing.T) {
	mc := &mockClient{runCmdResult: mustMarshalRaw(t, bson.M{"version": "8.0.4"})}
	insp := newInspector(mc, Config{})
	info, err := insp.ServerVersion(context.TODO())
	if err != nil {
		t.Fatal(err)
	}
	if info.Version != "8.0.4" || info.Major != 8 {
		t.Errorf("info = %+v, want 8.0.4 / 8", info)
	}
}

func TestServerVersion_Error(t *testing.T) {
	mc := &mockClient{runCmdErr: errors.New("unauthorized")}
	_, err := newInspector(mc, Config{}).ServerVersion(context.TODO())
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestQueryStats(t *testing.T) {
	mc := &mockClient{aggregateData: []bson.D{
		{
			{Key: "key", Value: bson.D{{Key: "queryShape", Value: bson.D{
				{Key: "cmdNs", Value: bson.D{{Key: "db", Value: "app"}, {Key: "coll", Value: "users"}}},
				{Key: "command", Value: "find"},
				{Key: "filter", Value: bson.D{{Key: "status", Value: "?string"}}},
			}}}},
			{Key: "metrics", Value: bson.D{{Key: "execCount", Value: int64(12)}}},
		},
	}}
	insp := newInspector(mc, Config{ExcludeDatabases: []string{"admin", "internal"}})
	records, err := insp.QueryStats(context.TODO())
	if err != nil {
		t.Fatal(err)
	}
	if mc.aggregateDB != "admin" {
		t.Errorf("aggregate db = %q, want admin", mc.aggregateDB)
	}
	if len(records) != 1 {
		t.Fatalf("records = %d, want 1", len(records))
	}
	r := records[0]
	if r.Key.Namespace != (querystats.Namespace{DB: "app", Collection: "users"}) {
		t.Errorf("namespace = %+v", r.Key.Namespace)
	}
	if r.Key.Filter.String("status") != "?string" {
		t.Errorf("filter = %v", r.Key.Filter)
	}
	if r.ExecCount() != 12 {
		t.Errorf("ExecCount = %d, want 12", r.ExecCount())
	}

	pipeline := mc.pipeline.(mongo.Pipeline)
	if len(pipeline) != 3 {
		t.Fatalf("pipeline stages = %d, want 3", len(pipeline))
	}
	match := lookupBSONValue(pipeline[1], "$match").(bson.D)
	nin := lookupBSONValue(lookupBSONValue(match, "key.queryShape.cmdNs.db").(bson.D), "$nin")
	if diff := cmp.Diff([]string{"admin", "internal"}, nin); diff != "" {
		t.Errorf("$nin mismatch:\n%s", diff)
	}
}

func TestQueryStats_Error(t *testing.T) {
	mc := &mockClient{aggregateErr: errors.New("not authorized")}
	_, err := newInspector(mc, Config{}).QueryStats(context.TODO())
	if err == nil || !strings.Contains(err.Error(), "$queryStats") {
		t.Fatalf("err = %v, want wrapped $queryStats error", err)
	}
	if !errors.Is(err, mc.aggregateErr) {
		t.Errorf("error should wrap cause: %v", err)
	}
}

func TestQuerySettings(t *testing.T) {
	mc := &mockClient{aggregateData: []bson.D{
		{
			{Key: "debugQueryShape", Value: bson.D{
				{Key: "cmdNs", Value: bson.D{{Key: "db", Value: "app"}, {Key: "coll", Value: "users"}}},
				{Key: "filter", Value: bson.D{{Key: "a", Value: "?number"}}},
			}},
			{Key: "settings", Value: bson.D{{Key: "reject", Value: true}}},
		},
	}}
	ns := querystats.Namespace{DB: "app", Collection: "users"}
	records, err := newInspector(mc, Config{}).QuerySettings(context.TODO(), ns)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || !records[0].Reject || records[0].Namespace != ns {
		t.Errorf("records = %+v", records)
	}
	pipeline := mc.pipeline.(mongo.Pipeline)
	qs := lookupBSONValue(pipeline[0], "$querySettings").(bson.D)
	if lookupBSONValue(qs, "showDebugQueryShape") != true {
		t.Errorf("$querySettings = %v", qs)
	}
	match := lookupBSONValue(pipeline[1], "$match").(bson.D)
	if lookupBSONValue(match, "debugQueryShape.cmdNs.coll") != "users" {
		t.Errorf("$match = %v", match)
	}
}

func TestExplain_Find(t *testing.T) {
	var gotDB string
	var gotCmd bson.D
	mc := &mockClient{runCmdHook: func(dbName string, cmd any) (bson.Raw, error) {
		gotDB = dbName
		gotCmd = cmd.(bson.D)
		return bson.Marshal(bson.D{{Key: "queryPlanner", Value: bson.D{
			{Key: "winningPlan", Value: bson.D{{Key: "stage", Value: "COLLSCAN"}}},
		}}})
	}}
	key := querystats.ParseKey(shape.MustParse(`{
		"cmdNs": {"db": "app", "coll": "users"},
		"command": "find",
		"filter": {"createdAt": {"$gt": "?date"}},
		"sort": {"createdAt": -1}
	}`))
	explain, err := newInspector(mc, Config{}).Explain(context.TODO(), key)
	if err != nil {
		t.Fatal(err)
	}
	if gotDB != "app" {
		t.Errorf("db = %q, want app", gotDB)
	}
	if !plan.HasCollScan(plan.Stages(explain)) {
		t.Errorf("expected COLLSCAN in %v", explain)
	}

	find := lookupBSONValue(gotCmd, "explain").(bson.D)
	if lookupBSONValue(find, "find") != "users" {
		t.Errorf("find = %v", find)
	}
	filter := lookupBSONValue(find, "filter").(bson.D)
	gt := lookupBSONValue(lookupBSONValue(filter, "createdAt").(bson.D), "$gt")
	if _, ok := gt.(bson.DateTime); !ok {
		t.Errorf("$gt = %T, want representative bson.DateTime", gt)
	}
	if lookupBSONValue(find, "sort") == nil {
		t.Error("sort not forwarded")
	}
	if lookupBSONValue(gotCmd, "verbosity") != "queryPlanner" {
		t.Errorf("verbosity = %v", lookupBSONValue(gotCmd, "verbosity"))
	}
}

func TestExplain_Aggregate(t *testing.T) {
	var gotCmd bson.D
	mc := &mockClient{runCmdHook: func(dbName string, cmd any) (bson.Raw, error) {
		gotCmd = cmd.(bson.D)
		return bson.Marshal(bson.D{{Key: "ok", Value: 1}})
	}}
	key := querystats.ParseKey(shape.MustParse(`{
		"cmdNs": {"db": "app", "coll": "events"},
		"command": "aggregate",
		"pipeline": [{"$match": {"type": "?string"}}]
	}`))
	if _, err := newInspector(mc, Config{}).Explain(context.TODO(), key); err != nil {
		t.Fatal(err)
	}
	if gotCmd[0].Key != "aggregate" || gotCmd[0].Value != "events" {
		t.Errorf("cmd[0] = %+v", gotCmd[0])
	}
	if lookupBSONValue(gotCmd, "explain") != true {
		t.Error("explain flag not set")
	}
	pipeline := lookupBSONValue(gotCmd, "pipeline").(bson.A)
	match := lookupBSONValue(pipeline[0].(bson.D), "$match").(bson.D)
	if lookupBSONValue(match, "type") != "a" {
		t.Errorf("$match = %v, want representative literal", match)
	}
}

func TestExplain_Unsupported(t *testing.T) {
	key := querystats.Key{Command: "distinct", Namespace: querystats.Namespace{DB: "a", Collection: "b"}}
	_, err := newInspector(&mockClient{}, Config{}).Explain(context.TODO(), key)
	if !errors.Is(err, ErrUnsupportedCommand) {
		t.Errorf("err = %v, want ErrUnsupportedCommand", err)
	}
}

func TestExplain_Error(t *testing.T) {
	mc := &mockClient{runCmdErr: errors.New("ns not found")}
	key := querystats.Key{Command: "find", Namespace: querystats.Namespace{DB: "a", Collection: "b"}, Filter: shape.Document{}}
	if _, err := newInspector(mc, Config{}).Explain(context.TODO(), key); err == nil {
		t.Fatal("expected error")
	}
}

func TestListIndexes(t *testing.T) {
	keyDoc := mustMarshalRaw(t, bson.D{{Key: "status", Value: 1}, {Key: "name", Value: -1}})
	unique := true
	mc := &mockClient{indexSpecs: []mongo.IndexSpecification{
		{Name: "status_1_name_-1", KeysDocument: keyDoc, Unique: &unique},
	}}
	indexes, err := newInspector(mc, Config{}).ListIndexes(context.TODO(), querystats.Namespace{DB: "app", Collection: "users"})
	if err != nil {
		t.Fatal(err)
	}
	if len(indexes) != 1 {
		t.Fatalf("expected 1, got %d", len(indexes))
	}
	idx := indexes[0]
	if idx.Name != "status_1_name_-1" || !idx.Unique || idx.Sparse {
		t.Errorf("index = %+v", idx)
	}
	if diff := cmp.Diff([]string{"status", "name"}, idx.Fields()); diff != "" {
		t.Errorf("fields mismatch:\n%s", diff)
	}
}

func TestListIndexes_Error(t *testing.T) {
	mc := &mockClient{indexSpecsErr: errors.New("fail")}
	if _, err := newInspector(mc, Config{}).ListIndexes(context.TODO(), querystats.Namespace{DB: "a", Collection: "b"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestQueryStatsRateLimit(t *testing.T) {
	mc := &mockClient{runCmdResult: mustMarshalRaw(t, bson.M{RateLimitParameter: int32(0), "ok": 1})}
	limit, err := newInspector(mc, Config{}).QueryStatsRateLimit(context.TODO())
	if err != nil {
		t.Fatal(err)
	}
	if limit != 0 {
		t.Errorf("limit = %d, want 0", limit)
	}
}

func TestQueryStatsRateLimit_Missing(t *testing.T) {
	mc := &mockClient{runCmdResult: mustMarshalRaw(t, bson.M{"ok": 1})}
	if _, err := newInspector(mc, Config{}).QueryStatsRateLimit(context.TODO()); err == nil {
		t.Fatal("expected error for missing parameter")
	}
}

func TestSetQueryStatsRateLimit(t *testing.T) {
	mc := &mockClient{runCmdResult: mustMarshalRaw(t, bson.M{"ok": 1})}
	if err := newInspector(mc, Config{}).SetQueryStatsRateLimit(context.TODO(), 100); err != nil {
		t.Fatal(err)
	}
	cmd := mc.commands[0].(bson.D)
	if cmd[0].Key != "setParameter" || lookupBSONValue(cmd, RateLimitParameter) != int64(100) {
		t.Errorf("cmd = %v", cmd)
	}
}

func TestSetQueryStatsRateLimit_Negative(t *testing.T) {
	mc := &mockClient{}
	if err := newInspector(mc, Config{}).SetQueryStatsRateLimit(context.TODO(), -1); err == nil {
		t.Fatal("expected error")
	}
	if len(mc.commands) != 0 {
		t.Errorf("no command should be sent, got %d", len(mc.commands))
	}
}

func TestClose(t *testing.T) {
	if err := newInspector(&mockClient{}, Config{}).Close(context.TODO()); err != nil {
		t.Fatal(err)
	}
}

func TestClose_Error(t *testing.T) {
	mc := &mockClient{disconnectErr: errors.New("disconnect fail")}
	if err := newInspector(mc, Config{}).Close(context.TODO()); err == nil {
		t.Fatal("expected error")
	}
}

func TestIndexesFor_ReportsFailedNamespaces(t *testing.T) {
	keyDoc := mustMarshalRaw(t, bson.D{{Key: "status", Value: 1}})
	mc := &mockClient{indexHook: func(dbName, collName string) ([]mongo.IndexSpecification, error) {
		if collName == "orders" {
			return nil, errors.New("not authorized")
		}
		return []mongo.IndexSpecification{{Name: "status_1", KeysDocument: keyDoc}}, nil
	}}
	stats := []querystats.StatsRecord{
		{Key: querystats.Key{Namespace: querystats.Namespace{DB: "shop", Collection: "orders"}, Command: querystats.CommandFind}},
		{Key: querystats.Key{Namespace: querystats.Namespace{DB: "shop", Collection: "users"}, Command: querystats.CommandFind}},
	}

	indexes, err := newInspector(mc, Config{}).IndexesFor(context.TODO(), stats)
	if err == nil {
		t.Fatal("expected error for shop.orders")
	}
	if !strings.Contains(err.Error(), "list indexes shop.orders: not authorized") {
		t.Errorf("error = %v", err)
	}
	joined, ok := err.(interface{ Unwrap() []error })
	if !ok || len(joined.Unwrap()) != 1 {
		t.Errorf("error = %#v, want one joined error", err)
	}
	if _, ok := indexes[querystats.Namespace{DB: "shop", Collection: "orders"}]; ok {
		t.Error("failed namespace should be left out")
	}
	if got := indexes[querystats.Namespace{DB: "shop", Collection: "users"}]; len(got) != 1 || got[0].Name != "status_1" {
		t.Errorf("users indexes = %+v", got)
	}
}

func TestIndexesFor_NoErrors(t *testing.T) {
	mc := &mockClient{}
	stats := []querystats.StatsRecord{
		{Key: querystats.Key{Namespace: querystats.Namespace{DB: "shop", Collection: "users"}, Command: querystats.CommandFind}},
	}
	if _, err := newInspector(mc, Config{}).IndexesFor(context.TODO(), stats); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
