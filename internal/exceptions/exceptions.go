// Package exceptions records data quality issues in an append-only table.
//
// Exceptions are never rewritten. Resolving one appends a row to a separate
// resolutions table and List joins both.
package exceptions

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/maruel/ksid"

	"github.com/maruel/kitchenstore/internal/models"
	"github.com/maruel/kitchenstore/internal/paths"
	"github.com/maruel/kitchenstore/internal/tabledb"
)

// Logical table names.
const (
	Table            = paths.ExceptionsDir + "/exceptions"
	ResolutionsTable = paths.ExceptionsDir + "/resolutions"
)

// Severity of an exception.
type Severity string

// Severities.
const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Validate returns an error if the severity is not known.
func (s Severity) Validate() error {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityError:
		return nil
	}
	return models.Validation(fmt.Sprintf("invalid severity %q", s)).WithDetail("severity", string(s))
}

// Record is one logged exception.
type Record struct {
	ID         ksid.ID    `json:"id" jsonschema:"description=Time sortable identifier"`
	LoggedAt   time.Time  `json:"logged_at"`
	Code       string     `json:"code" jsonschema:"description=Short machine readable kind"`
	Severity   Severity   `json:"severity"`
	Message    string     `json:"message,omitempty"`
	Source     string     `json:"source,omitempty" jsonschema:"description=Table or feature that raised it"`
	Context    string     `json:"context,omitempty" jsonschema:"description=Free text details"`
	Resolved   bool       `json:"resolved,omitempty"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy string     `json:"resolved_by,omitempty"`
}

// Resolution marks an exception as handled.
type Resolution struct {
	ID         ksid.ID   `json:"id"`
	ResolvedAt time.Time `json:"resolved_at"`
	ResolvedBy string    `json:"resolved_by,omitempty"`
}

// Filter selects records in List. Zero fields match everything.
type Filter struct {
	Code       string
	Severity   Severity
	Source     string
	Unresolved bool
	Since      time.Time
}

func (f *Filter) match(r *Record) bool {
	switch {
	case f.Code != "" && !strings.EqualFold(f.Code, r.Code):
		return false
	case f.Severity != "" && f.Severity != r.Severity:
		return false
	case f.Source != "" && !strings.EqualFold(f.Source, r.Source):
		return false
	case f.Unresolved && r.Resolved:
		return false
	case !f.Since.IsZero() && r.LoggedAt.Before(f.Since):
		return false
	}
	return true
}

// Log appends exceptions through a table store.
type Log struct {
	store *tabledb.Store
	loc   *time.Location
	now   func() time.Time
}

// New returns a Log writing through store. Timestamps are in loc.
func New(store *tabledb.Store, loc *time.Location) *Log {
	if loc == nil {
		loc = time.Local
	}
	return &Log{store: store, loc: loc, now: time.Now}
}

// Log appends one record and returns it as stored.
func (l *Log) Log(ctx context.Context, rec Record) (Record, error) {
	out, err := l.LogMany(ctx, []Record{rec})
	if err != nil {
		return Record{}, err
	}
	return out[0], nil
}

// LogMany appends records in a single critical section.
//
// Missing IDs, timestamps and severities are filled in. The resolution fields
// of the input are ignored.
func (l *Log) LogMany(ctx context.Context, recs []Record) ([]Record, error) {
	if len(recs) == 0 {
		return nil, nil
	}
	out := make([]Record, len(recs))
	now := l.now().In(l.loc)
	for i, r := range recs {
		r.Code = strings.TrimSpace(r.Code)
		if r.Code == "" {
			return nil, models.MissingField("code")
		}
		if r.Severity == "" {
			r.Severity = SeverityWarning
		}
		if err := r.Severity.Validate(); err != nil {
			return nil, err
		}
		if r.ID.IsZero() {
			r.ID = ksid.NewID()
		}
		if r.LoggedAt.IsZero() {
			r.LoggedAt = now
		}
		r.Resolved, r.ResolvedAt, r.ResolvedBy = false, nil, ""
		out[i] = r
	}
	t, err := tabledb.Marshal(out)
	if err != nil {
		return nil, err
	}
	if _, err := l.store.Append(ctx, Table, t); err != nil {
		return nil, fmt.Errorf("failed to log exceptions: %w", err)
	}
	return out, nil
}

// List returns the matching records, newest first, with their resolution
// state.
func (l *Log) List(ctx context.Context, f Filter) ([]Record, error) {
	t, err := l.store.Read(ctx, Table)
	if err != nil {
		return nil, err
	}
	recs, err := tabledb.Unmarshal[Record](t)
	if err != nil {
		return nil, err
	}
	res, err := l.resolutions(ctx)
	if err != nil {
		return nil, err
	}
	out := recs[:0]
	for _, r := range recs {
		if v, ok := res[r.ID]; ok {
			at := v.ResolvedAt
			r.Resolved, r.ResolvedAt, r.ResolvedBy = true, &at, v.ResolvedBy
		}
		if f.match(&r) {
			out = append(out, r)
		}
	}
	slices.SortStableFunc(out, func(a, b Record) int {
		if c := b.LoggedAt.Compare(a.LoggedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return out, nil
}

// Resolve marks the exceptions ids as resolved by by and returns how many
// were newly resolved. Unknown ids are a validation error and nothing is
// written. Already resolved ids are skipped.
func (l *Log) Resolve(ctx context.Context, ids []ksid.ID, by string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	t, err := l.store.Read(ctx, Table)
	if err != nil {
		return 0, err
	}
	recs, err := tabledb.Unmarshal[Record](t)
	if err != nil {
		return 0, err
	}
	known := make(map[ksid.ID]bool, len(recs))
	for _, r := range recs {
		known[r.ID] = true
	}
	for _, id := range ids {
		if !known[id] {
			return 0, models.Validation(fmt.Sprintf("unknown exception %s", id)).WithDetail("id", id.String())
		}
	}
	now := l.now().In(l.loc)
	n := 0
	_, err = l.store.Modify(ctx, ResolutionsTable, func(cur *tabledb.Table) (*tabledb.Table, error) {
		done, err := tabledb.Unmarshal[Resolution](cur)
		if err != nil {
			return nil, err
		}
		seen := make(map[ksid.ID]bool, len(done)+len(ids))
		for _, d := range done {
			seen[d.ID] = true
		}
		var add []Resolution
		for _, id := range ids {
			if seen[id] {
				continue
			}
			seen[id] = true
			add = append(add, Resolution{ID: id, ResolvedAt: now, ResolvedBy: strings.TrimSpace(by)})
		}
		if len(add) == 0 {
			return nil, nil
		}
		n = len(add)
		next, err := tabledb.Marshal(add)
		if err != nil {
			return nil, err
		}
		if cur.Empty() {
			return next, nil
		}
		return cur.Concat(next), nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to resolve exceptions: %w", err)
	}
	return n, nil
}

// resolutions returns the first resolution of every resolved id.
func (l *Log) resolutions(ctx context.Context) (map[ksid.ID]Resolution, error) {
	t, err := l.store.Read(ctx, ResolutionsTable)
	if err != nil {
		return nil, err
	}
	rs, err := tabledb.Unmarshal[Resolution](t)
	if err != nil {
		return nil, err
	}
	m := make(map[ksid.ID]Resolution, len(rs))
	for _, r := range rs {
		if _, ok := m[r.ID]; !ok {
			m[r.ID] = r
		}
	}
	return m, nil
}
