// Package catalog maintains one deduplicated price catalog per vendor.
//
// Uploads are normalized, validated and merged into catalogs/<vendor>.csv under
// the table's lock, keeping the most recent price per (vendor, item number).
// Rejected rows are recorded in the exception log.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/maruel/kitchenstore/internal/exceptions"
	"github.com/maruel/kitchenstore/internal/models"
	"github.com/maruel/kitchenstore/internal/paths"
	"github.com/maruel/kitchenstore/internal/tabledb"
)

// ExceptionSource tags exceptions raised by uploads.
const ExceptionSource = "catalog_upload"

// DefaultVendors is offered when no catalog exists yet.
var DefaultVendors = []string{"PFG", "Sysco", "Produce", "Other"}

// Reject is an upload row that was not merged.
type Reject struct {
	// Row is the 1-based data row number in the upload.
	Row    int    `json:"row"`
	Code   string `json:"code"`
	Reason string `json:"reason"`
	Record Record `json:"record"`
}

// Result reports the outcome of an upload.
type Result struct {
	Path string `json:"path"`
	MergeStats
	// Rows is the number of rows in the catalog after the merge.
	Rows     int      `json:"rows"`
	Accepted int      `json:"accepted"`
	Rejected []Reject `json:"rejected,omitempty"`
	// MissingDate counts accepted rows without a usable price date.
	MissingDate int `json:"missing_date"`
}

// Merger merges uploads into vendor catalogs.
type Merger struct {
	store *tabledb.Store
	exlog *exceptions.Log
	loc   *time.Location
	log   *slog.Logger
}

// NewMerger returns a Merger. exlog may be nil, in which case rejected rows are
// only logged.
func NewMerger(store *tabledb.Store, exlog *exceptions.Log, loc *time.Location, logger *slog.Logger) *Merger {
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Merger{store: store, exlog: exlog, loc: loc, log: logger}
}

// TableName returns the logical name of vendor's catalog.
func TableName(vendor string) string {
	return path.Join(paths.CatalogsDir, paths.VendorFilename(vendor, ""))
}

// Normalize maps the columns of batch to catalog columns and parses every
// row. Rows with an empty vendor get vendor. Rows missing the item number or a
// positive case cost are returned as rejects.
func (m *Merger) Normalize(batch *tabledb.Table, vendor string) ([]Record, []Reject) {
	cols := canonicalColumns(batch)
	var recs []Record
	var rejects []Reject
	for i, cells := range batch.Rows {
		r, rerr := parseRow(cols, cells, vendor, m.loc)
		if rerr != nil {
			rejects = append(rejects, Reject{Row: i + 1, Code: rerr.code, Reason: rerr.reason, Record: r})
			continue
		}
		recs = append(recs, r)
	}
	return recs, rejects
}

// stored parses the rows already in a catalog. Unlike Normalize it drops
// nothing: rows without a valid case cost still take part in the merge, and
// rows without an item number have no key and are returned apart, unchanged.
func (m *Merger) stored(cur *tabledb.Table, vendor string) (keyed, unkeyed []Record) {
	cols := canonicalColumns(cur)
	for _, cells := range cur.Rows {
		r, rerr := parseRow(cols, cells, vendor, m.loc)
		if rerr != nil && rerr.code == "MISSING_ITEM_NUMBER" {
			unkeyed = append(unkeyed, r)
			continue
		}
		keyed = append(keyed, r)
	}
	return keyed, unkeyed
}

// Upload merges batch into vendor's catalog.
//
// Rejected rows and rows without a price date are recorded in the exception
// log before the merge. An upload with no acceptable row is a validation error
// and leaves the catalog untouched.
func (m *Merger) Upload(ctx context.Context, vendor string, batch *tabledb.Table) (*Result, error) {
	vendor = strings.Join(strings.Fields(vendor), " ")
	if vendor == "" {
		return nil, models.MissingField("vendor")
	}
	incoming, rejects := m.Normalize(batch, vendor)
	res := &Result{Accepted: len(incoming), Rejected: rejects}
	var issues []exceptions.Record
	for _, rj := range rejects {
		issues = append(issues, issue(rj.Code, exceptions.SeverityWarning, rj.Reason, &rj.Record))
	}
	for i := range incoming {
		if incoming[i].PriceDate.IsZero() {
			res.MissingDate++
			issues = append(issues, issue("MISSING_PRICE_DATE", exceptions.SeverityInfo, "missing price_date", &incoming[i]))
		}
	}
	if len(rejects) > 0 {
		m.log.WarnContext(ctx, "catalog rows rejected", "vendor", vendor, "rejected", len(rejects))
	}
	if len(issues) > 0 && m.exlog != nil {
		if _, err := m.exlog.LogMany(ctx, issues); err != nil {
			return nil, err
		}
	}
	if len(incoming) == 0 {
		return res, models.Validation(fmt.Sprintf("no valid rows for vendor %s", vendor)).
			WithDetail("rejected", len(rejects))
	}

	name := TableName(vendor)
	p, err := m.store.Modify(ctx, name, func(cur *tabledb.Table) (*tabledb.Table, error) {
		existing, unkeyed := m.stored(cur, vendor)
		merged, stats := Merge(existing, incoming)
		merged = append(merged, unkeyed...)
		res.MergeStats = stats
		res.Rows = len(merged)
		return tabledb.Marshal(merged)
	})
	if err != nil {
		return res, err
	}
	res.Path = p
	m.log.InfoContext(ctx, "catalog merged", "vendor", vendor, "new", res.New, "updated", res.Updated, "rows", res.Rows)
	return res, nil
}

// LoadAll returns the records of every vendor catalog. A catalog without a
// vendor column takes its vendor from the file name. When a key appears more
// than once, the last occurrence in file name order wins.
func (m *Merger) LoadAll(ctx context.Context) ([]Record, error) {
	infos, err := m.store.List(paths.CatalogsDir)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(infos, func(a, b tabledb.SnapshotInfo) int { return strings.Compare(a.Name, b.Name) })
	var all []Record
	for _, info := range infos {
		t, err := m.store.Read(ctx, info.Name)
		if err != nil {
			return nil, err
		}
		stem := strings.TrimSuffix(path.Base(info.Name), path.Ext(info.Name))
		cols := canonicalColumns(t)
		for _, cells := range t.Rows {
			r, rerr := parseRow(cols, cells, stem, m.loc)
			if rerr != nil && rerr.code != "MISSING_CASE_COST" {
				continue
			}
			all = append(all, r)
		}
	}
	last := make(map[string]int, len(all))
	for i := range all {
		last[all[i].key()] = i
	}
	out := all[:0]
	for i := range all {
		if last[all[i].key()] == i {
			out = append(out, all[i])
		}
	}
	return out, nil
}

// Vendors returns the vendor names found in the catalogs, unique
// case-insensitively and sorted, or defaults when there are none.
func (m *Merger) Vendors(ctx context.Context, defaults []string) ([]string, error) {
	recs, err := m.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	seen := map[string]string{}
	for _, r := range recs {
		k := VendorKey(r.Vendor)
		if _, ok := seen[k]; !ok && k != "" {
			seen[k] = strings.Join(strings.Fields(r.Vendor), " ")
		}
	}
	if len(seen) == 0 {
		return slices.Clone(defaults), nil
	}
	out := make([]string, 0, len(seen))
	for _, v := range seen {
		out = append(out, v)
	}
	slices.SortFunc(out, func(a, b string) int { return strings.Compare(VendorKey(a), VendorKey(b)) })
	return out, nil
}

func issue(code string, sev exceptions.Severity, reason string, r *Record) exceptions.Record {
	return exceptions.Record{
		Code:     code,
		Severity: sev,
		Message:  reason,
		Source:   ExceptionSource,
		Context:  fmt.Sprintf("vendor=%s item_number=%s description=%s", r.Vendor, r.ItemNumber, r.Description),
	}
}
