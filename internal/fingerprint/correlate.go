package fingerprint

import (
	"github.com/ppiankov/shapespectre/internal/querystats"
	"github.com/ppiankov/shapespectre/internal/shape"
)

// Pair is a stats record and the settings record sharing its shape hash, if any.
type Pair struct {
	Stat    querystats.StatsRecord
	Setting *querystats.SettingsRecord
	Hash    string
}

// Matched reports whether a settings record was found.
func (p Pair) Matched() bool {
	return p.Setting != nil
}

// StatsQuery returns the part of a stats shape that is hashed for correlation:
// the filter of a find, the pipeline of an aggregate.
func StatsQuery(k querystats.Key) (shape.Value, bool) {
	switch k.Command {
	case querystats.CommandFind:
		return k.Filter, true
	case querystats.CommandAggregate:
		return k.Pipeline, true
	default:
		return nil, false
	}
}

// Index maps shape hashes to settings records. The first record wins on collision.
func Index(settings []querystats.SettingsRecord) map[string]*querystats.SettingsRecord {
	byHash := make(map[string]*querystats.SettingsRecord, len(settings))
	for i := range settings {
		q := settings[i].Query()
		if q == nil {
			continue
		}
		h := Hash(q)
		if _, dup := byHash[h]; !dup {
			byHash[h] = &settings[i]
		}
	}
	return byHash
}

// Correlate pairs each stats record with the settings record of the same
// shape. Stats records whose command is neither find nor aggregate are left
// out; all others appear once, in input order, matched or not.
func Correlate(settings []querystats.SettingsRecord, stats []querystats.StatsRecord) []Pair {
	byHash := Index(settings)
	pairs := make([]Pair, 0, len(stats))
	for _, st := range stats {
		q, ok := StatsQuery(st.Key)
		if !ok {
			continue
		}
		h := Hash(q)
		pairs = append(pairs, Pair{Stat: st, Setting: byHash[h], Hash: h})
	}
	return pairs
}
