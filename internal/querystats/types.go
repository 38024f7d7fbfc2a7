// Package querystats holds the telemetry records read from $queryStats and
// $querySettings and the query shape key they carry.
package querystats

import (
	"sort"

	"github.com/ppiankov/shapespectre/internal/shape"
)

// Commands with a known shape layout.
const (
	CommandFind      = "find"
	CommandAggregate = "aggregate"
)

// SystemDatabases are excluded from query stats by default.
var SystemDatabases = []string{"admin", "config", "local"}

// Namespace identifies a collection.
type Namespace struct {
	DB         string `json:"db"`
	Collection string `json:"coll"`
}

func (n Namespace) String() string {
	return n.DB + "." + n.Collection
}

// Key is the query shape of a sampled query. Command decides whether Filter
// or Pipeline is populated; never both.
type Key struct {
	Command   string         `json:"command"`
	Namespace Namespace      `json:"cmdNs"`
	Filter    shape.Document `json:"filter,omitempty"`
	Pipeline  shape.Array    `json:"pipeline,omitempty"`
	Sort      shape.Document `json:"sort,omitempty"`
}

// Supported reports whether the command is find or aggregate.
func (k Key) Supported() bool {
	return k.Command == CommandFind || k.Command == CommandAggregate
}

// Query returns the filter or pipeline of the shape, nil when neither is set.
func (k Key) Query() shape.Value {
	if k.Pipeline != nil {
		return k.Pipeline
	}
	if k.Filter != nil {
		return k.Filter
	}
	return nil
}

// ParseKey reads a queryShape document. Missing parts are left empty.
func ParseKey(queryShape shape.Value) Key {
	doc, _ := queryShape.(shape.Document)
	ns, _ := doc.Document("cmdNs")
	key := Key{
		Command:   doc.String("command"),
		Namespace: Namespace{DB: ns.String("db"), Collection: ns.String("coll")},
	}
	if sortDoc, ok := doc.Document("sort"); ok && len(sortDoc) > 0 {
		key.Sort = sortDoc
	}

	filter, hasFilter := doc.Document("filter")
	pipeline, hasPipeline := doc.Array("pipeline")
	switch key.Command {
	case CommandFind:
		key.Filter = orEmptyDocument(filter)
	case CommandAggregate:
		key.Pipeline = orEmptyArray(pipeline)
	default:
		if hasFilter {
			key.Filter = filter
		} else if hasPipeline {
			key.Pipeline = pipeline
		}
	}
	return key
}

func orEmptyDocument(d shape.Document) shape.Document {
	if d == nil {
		return shape.Document{}
	}
	return d
}

func orEmptyArray(a shape.Array) shape.Array {
	if a == nil {
		return shape.Array{}
	}
	return a
}

// StatsRecord is one $queryStats entry.
type StatsRecord struct {
	Key     Key            `json:"key"`
	Client  shape.Document `json:"client,omitempty"`
	Metrics shape.Document `json:"metrics,omitempty"`
	Raw     shape.Document `json:"-"`
}

// ParseStatsRecord reads {key: {queryShape, client}, metrics}.
func ParseStatsRecord(v shape.Value) StatsRecord {
	doc, _ := v.(shape.Document)
	qs, _ := shape.Lookup(doc, "key", "queryShape")
	client, _ := shape.Lookup(doc, "key", "client")
	clientDoc, _ := client.(shape.Document)
	metrics, _ := doc.Document("metrics")
	return StatsRecord{
		Key:     ParseKey(qs),
		Client:  clientDoc,
		Metrics: metrics,
		Raw:     doc,
	}
}

// ExecCount returns metrics.execCount, or 0.
func (r StatsRecord) ExecCount() int64 {
	v, _ := r.Metrics.Get("execCount")
	switch n := v.(type) {
	case shape.Int:
		return int64(n)
	case shape.Double:
		return int64(n)
	default:
		return 0
	}
}

// SettingsRecord is one $querySettings entry read with showDebugQueryShape.
type SettingsRecord struct {
	Namespace Namespace      `json:"cmdNs"`
	Filter    shape.Document `json:"filter,omitempty"`
	Pipeline  shape.Array    `json:"pipeline,omitempty"`
	Reject    bool           `json:"reject"`
	Raw       shape.Document `json:"-"`
}

// ParseSettingsRecord reads {debugQueryShape: {filter|pipeline, cmdNs}, settings}.
func ParseSettingsRecord(v shape.Value) SettingsRecord {
	doc, _ := v.(shape.Document)
	debug, _ := doc.Document("debugQueryShape")
	ns, _ := debug.Document("cmdNs")
	rec := SettingsRecord{
		Namespace: Namespace{DB: ns.String("db"), Collection: ns.String("coll")},
		Raw:       doc,
	}
	if filter, ok := debug.Document("filter"); ok {
		rec.Filter = filter
	} else if pipeline, ok := debug.Array("pipeline"); ok {
		rec.Pipeline = pipeline
	}
	if reject, ok := shape.Lookup(doc, "settings", "reject"); ok {
		rec.Reject = shape.Truthy(reject)
	}
	return rec
}

// Query returns the filter or pipeline of the debug shape.
func (r SettingsRecord) Query() shape.Value {
	if r.Filter != nil {
		return r.Filter
	}
	if r.Pipeline != nil {
		return r.Pipeline
	}
	return nil
}

// IndexEntry is a listIndexes entry, displayed as returned.
type IndexEntry struct {
	Name   string         `json:"name"`
	Key    shape.Document `json:"key"`
	Unique bool           `json:"unique,omitempty"`
	Sparse bool           `json:"sparse,omitempty"`
}

// Fields returns the key field names in order.
func (e IndexEntry) Fields() []string {
	return e.Key.Keys()
}

// ParseIndexEntry reads {name, key, unique?, sparse?}.
func ParseIndexEntry(v shape.Value) IndexEntry {
	doc, _ := v.(shape.Document)
	key, _ := doc.Document("key")
	unique, _ := doc.Get("unique")
	sparse, _ := doc.Get("sparse")
	return IndexEntry{
		Name:   doc.String("name"),
		Key:    key,
		Unique: shape.Truthy(unique),
		Sparse: shape.Truthy(sparse),
	}
}

// ParseStatsRecords reads an array of records, or a single record document.
func ParseStatsRecords(v shape.Value) []StatsRecord {
	var out []StatsRecord
	for _, item := range asList(v) {
		out = append(out, ParseStatsRecord(item))
	}
	return out
}

// ParseSettingsRecords reads an array of records, or a single record document.
func ParseSettingsRecords(v shape.Value) []SettingsRecord {
	var out []SettingsRecord
	for _, item := range asList(v) {
		out = append(out, ParseSettingsRecord(item))
	}
	return out
}

func asList(v shape.Value) shape.Array {
	switch x := v.(type) {
	case shape.Array:
		return x
	case shape.Document:
		return shape.Array{x}
	default:
		return nil
	}
}

// NamespaceGroup is the stats records of one collection.
type NamespaceGroup struct {
	Namespace Namespace
	Records   []StatsRecord
}

// GroupByNamespace groups records by namespace, dropping excluded databases,
// ordered by database then collection. Record order within a group is kept.
func GroupByNamespace(records []StatsRecord, excludeDBs []string) []NamespaceGroup {
	excluded := make(map[string]bool, len(excludeDBs))
	for _, db := range excludeDBs {
		excluded[db] = true
	}

	index := map[Namespace]int{}
	var groups []NamespaceGroup
	for _, r := range records {
		ns := r.Key.Namespace
		if excluded[ns.DB] {
			continue
		}
		i, ok := index[ns]
		if !ok {
			i = len(groups)
			index[ns] = i
			groups = append(groups, NamespaceGroup{Namespace: ns})
		}
		groups[i].Records = append(groups[i].Records, r)
	}

	sort.SliceStable(groups, func(i, j int) bool {
		if groups[i].Namespace.DB == groups[j].Namespace.DB {
			return groups[i].Namespace.Collection < groups[j].Namespace.Collection
		}
		return groups[i].Namespace.DB < groups[j].Namespace.DB
	})
	return groups
}
