package catalog

import (
	"cmp"
	"math"
	"slices"
)

// MergeStats reports what a merge changed.
type MergeStats struct {
	// New counts incoming keys absent from the existing rows.
	New int `json:"new"`
	// Updated counts incoming keys present in the existing rows with a
	// different case cost or a newer price date.
	Updated int `json:"updated"`
}

// Merge folds incoming into existing and returns one record per natural key.
//
// The record with the most recent price date wins; a missing date loses to
// any date. Between records with the same key and the same date, the one later
// in existing followed by incoming wins, so re-merging a batch is idempotent.
// The result is ordered by natural key.
func Merge(existing, incoming []Record) ([]Record, MergeStats) {
	stats := mergeStats(dedupe(existing), dedupe(incoming))
	all := make([]Record, 0, len(existing)+len(incoming))
	all = append(all, existing...)
	all = append(all, incoming...)
	return dedupe(all), stats
}

// dedupe keeps the winning record of every natural key, ordered by key.
func dedupe(recs []Record) []Record {
	type entry struct {
		key string
		seq int
		rec *Record
	}
	es := make([]entry, len(recs))
	for i := range recs {
		es[i] = entry{key: recs[i].key(), seq: i, rec: &recs[i]}
	}
	slices.SortFunc(es, func(a, b entry) int {
		if c := cmp.Compare(a.key, b.key); c != 0 {
			return c
		}
		// Newest date first, missing last.
		if c := b.rec.PriceDate.Compare(a.rec.PriceDate); c != 0 {
			return c
		}
		// Later input first.
		return cmp.Compare(b.seq, a.seq)
	})
	out := make([]Record, 0, len(es))
	for i, e := range es {
		if i > 0 && es[i-1].key == e.key {
			continue
		}
		out = append(out, *e.rec)
	}
	return out
}

func mergeStats(existing, incoming []Record) MergeStats {
	old := make(map[string]*Record, len(existing))
	for i := range existing {
		old[existing[i].key()] = &existing[i]
	}
	var s MergeStats
	for i := range incoming {
		n := &incoming[i]
		o, ok := old[n.key()]
		if !ok {
			s.New++
			continue
		}
		if round4(n.CaseCost) != round4(o.CaseCost) || n.PriceDate.Compare(o.PriceDate) > 0 {
			s.Updated++
		}
	}
	return s
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
