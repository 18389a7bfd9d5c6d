package catalog

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/maruel/kitchenstore/internal/exceptions"
	"github.com/maruel/kitchenstore/internal/lock"
	"github.com/maruel/kitchenstore/internal/models"
	"github.com/maruel/kitchenstore/internal/paths"
	"github.com/maruel/kitchenstore/internal/tabledb"
)

func day(y int, m time.Month, d int) Date {
	return NewDate(time.Date(y, m, d, 0, 0, 0, 0, time.UTC))
}

func newTestMerger(t *testing.T) (*Merger, *tabledb.Store, *exceptions.Log) {
	t.Helper()
	r, err := paths.NewResolver(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	s, err := tabledb.New(r, &tabledb.Options{Locker: lock.NewSentinel(2*time.Second, 5*time.Millisecond, nil)})
	if err != nil {
		t.Fatal(err)
	}
	exlog := exceptions.New(s, time.UTC)
	return NewMerger(s, exlog, time.UTC, nil), s, exlog
}

func TestMerge(t *testing.T) {
	opt := cmp.AllowUnexported(Date{})
	tests := []struct {
		name      string
		existing  []Record
		incoming  []Record
		want      []Record
		wantStats MergeStats
	}{
		{
			name:      "newer date wins",
			existing:  []Record{{Vendor: "VendorA", ItemNumber: "123", PriceDate: day(2024, 1, 1), CaseCost: 10}},
			incoming:  []Record{{Vendor: "VendorA", ItemNumber: "123", PriceDate: day(2024, 2, 1), CaseCost: 12}},
			want:      []Record{{Vendor: "VendorA", ItemNumber: "123", PriceDate: day(2024, 2, 1), CaseCost: 12}},
			wantStats: MergeStats{Updated: 1},
		},
		{
			name:      "older incoming loses",
			existing:  []Record{{Vendor: "VendorA", ItemNumber: "123", PriceDate: day(2024, 2, 1), CaseCost: 12}},
			incoming:  []Record{{Vendor: "vendora", ItemNumber: "123", PriceDate: day(2024, 1, 1), CaseCost: 10}},
			want:      []Record{{Vendor: "VendorA", ItemNumber: "123", PriceDate: day(2024, 2, 1), CaseCost: 12}},
			wantStats: MergeStats{Updated: 1},
		},
		{
			name:      "same date later input wins",
			existing:  []Record{{Vendor: "VendorA", ItemNumber: "1", PriceDate: day(2024, 1, 1), CaseCost: 10}},
			incoming:  []Record{{Vendor: "VendorA", ItemNumber: "1", PriceDate: day(2024, 1, 1), CaseCost: 11}},
			want:      []Record{{Vendor: "VendorA", ItemNumber: "1", PriceDate: day(2024, 1, 1), CaseCost: 11}},
			wantStats: MergeStats{Updated: 1},
		},
		{
			name:     "missing date loses to any date",
			existing: []Record{{Vendor: "VendorA", ItemNumber: "1", PriceDate: day(2020, 1, 1), CaseCost: 10}},
			incoming: []Record{{Vendor: "VendorA", ItemNumber: "1", CaseCost: 11}},
			want:     []Record{{Vendor: "VendorA", ItemNumber: "1", PriceDate: day(2020, 1, 1), CaseCost: 10}},
			// The cost differs even though the existing row is kept.
			wantStats: MergeStats{Updated: 1},
		},
		{
			name:     "new keys sorted",
			existing: []Record{{Vendor: "B", ItemNumber: "1", CaseCost: 1}},
			incoming: []Record{
				{Vendor: "A", ItemNumber: "2", CaseCost: 2},
				{Vendor: "A", ItemNumber: "2", CaseCost: 3},
				{Vendor: "B", ItemNumber: "1", CaseCost: 1.00001},
			},
			want: []Record{
				{Vendor: "A", ItemNumber: "2", CaseCost: 3},
				{Vendor: "B", ItemNumber: "1", CaseCost: 1.00001},
			},
			wantStats: MergeStats{New: 1},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, stats := Merge(tt.existing, tt.incoming)
			if diff := cmp.Diff(tt.want, got, opt); diff != "" {
				t.Errorf("Merge() mismatch (-want +got):\n%s", diff)
			}
			if stats != tt.wantStats {
				t.Errorf("Merge() stats = %+v, want %+v", stats, tt.wantStats)
			}
		})
	}

	t.Run("idempotent", func(t *testing.T) {
		batch := []Record{
			{Vendor: "A", ItemNumber: "1", PriceDate: day(2024, 1, 1), CaseCost: 1},
			{Vendor: "A", ItemNumber: "2", CaseCost: 2},
		}
		once, _ := Merge(nil, batch)
		twice, stats := Merge(once, batch)
		if diff := cmp.Diff(once, twice, opt); diff != "" {
			t.Errorf("Merge() mismatch (-want +got):\n%s", diff)
		}
		if stats != (MergeStats{}) {
			t.Errorf("Merge() stats = %+v, want zero", stats)
		}
	})
}

func TestUpload(t *testing.T) {
	m, s, exlog := newTestMerger(t)
	ctx := t.Context()
	batch := &tabledb.Table{
		Columns: []string{"Item No", "Description", "Case Price", "Price Date"},
		Rows: [][]string{
			{"123", "Onion", "$10.00", "2024-01-01"},
			{"", "Nameless", "5", "2024-01-01"},
			{"124", "Leek", "", "2024-01-01"},
			{"125", "Garlic", "3.5", ""},
		},
	}
	res, err := m.Upload(ctx, " VendorA ", batch)
	if err != nil {
		t.Fatalf("Upload() failed: %v", err)
	}
	if res.Accepted != 2 || res.New != 2 || res.Updated != 0 || res.Rows != 2 || res.MissingDate != 1 {
		t.Errorf("Upload() = %+v", res)
	}
	var codes []string
	for _, rj := range res.Rejected {
		codes = append(codes, rj.Code)
	}
	if diff := cmp.Diff([]string{"MISSING_ITEM_NUMBER", "MISSING_CASE_COST"}, codes); diff != "" {
		t.Errorf("rejects mismatch (-want +got):\n%s", diff)
	}

	t.Run("exceptions logged", func(t *testing.T) {
		got, err := exlog.List(ctx, exceptions.Filter{Source: ExceptionSource})
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 3 {
			t.Fatalf("List() = %d records, want 3", len(got))
		}
		info, _ := exlog.List(ctx, exceptions.Filter{Code: "MISSING_PRICE_DATE", Severity: exceptions.SeverityInfo})
		if len(info) != 1 || info[0].Context != "vendor=VendorA item_number=125 description=Garlic" {
			t.Errorf("missing date exception = %+v", info)
		}
	})

	t.Run("stored", func(t *testing.T) {
		tbl, err := s.Read(ctx, TableName("VendorA"))
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(Columns, tbl.Columns); diff != "" {
			t.Errorf("columns mismatch (-want +got):\n%s", diff)
		}
		if tbl.Len() != 2 || tbl.Get(0, "item_number") != "123" || tbl.Get(0, "case_cost") != "10" || tbl.Get(0, "price_date") != "2024-01-01" {
			t.Errorf("stored table = %+v", tbl)
		}
	})

	t.Run("newer price", func(t *testing.T) {
		next := &tabledb.Table{
			Columns: []string{"sku", "cost", "effective_date"},
			Rows:    [][]string{{"123", "12", "02/01/2024"}},
		}
		res, err := m.Upload(ctx, "vendora", next)
		if err != nil {
			t.Fatalf("Upload() failed: %v", err)
		}
		if res.New != 0 || res.Updated != 1 || res.Rows != 2 {
			t.Errorf("Upload() = %+v", res)
		}
		tbl, _ := s.Read(ctx, TableName("VendorA"))
		if got := tbl.Get(0, "case_cost"); got != "12" {
			t.Errorf("case_cost = %q, want 12", got)
		}
		if got := tbl.Get(0, "description"); got != "" {
			t.Errorf("description = %q, want the newer row as is", got)
		}
	})

	t.Run("reupload changes nothing", func(t *testing.T) {
		before, _ := s.Read(ctx, TableName("VendorA"))
		res, err := m.Upload(ctx, "vendora", &tabledb.Table{
			Columns: []string{"item_number", "case_cost", "price_date"},
			Rows:    [][]string{{"123", "12", "2024-02-01"}},
		})
		if err != nil {
			t.Fatal(err)
		}
		if res.New != 0 || res.Updated != 0 {
			t.Errorf("Upload() = %+v, want no change", res)
		}
		after, _ := s.Read(ctx, TableName("VendorA"))
		if diff := cmp.Diff(before.Rows, after.Rows); diff != "" {
			t.Errorf("rows mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestUploadValidation(t *testing.T) {
	m, s, _ := newTestMerger(t)
	ctx := t.Context()
	ok := &tabledb.Table{Columns: []string{"item_number", "case_cost"}, Rows: [][]string{{"1", "2"}}}
	if _, err := m.Upload(ctx, "  ", ok); !errors.Is(err, models.ErrValidation) {
		t.Errorf("Upload(empty vendor) error = %v, want validation error", err)
	}
	bad := &tabledb.Table{Columns: []string{"item_number", "case_cost"}, Rows: [][]string{{"1", "0"}, {"2", "free"}}}
	res, err := m.Upload(ctx, "PFG", bad)
	if !errors.Is(err, models.ErrValidation) {
		t.Fatalf("Upload(all rejected) error = %v, want validation error", err)
	}
	if len(res.Rejected) != 2 {
		t.Errorf("Rejected = %d, want 2", len(res.Rejected))
	}
	tbl, err := s.Read(ctx, TableName("PFG"))
	if err != nil {
		t.Fatal(err)
	}
	if !tbl.Empty() {
		t.Errorf("catalog written: %+v", tbl)
	}
}

func TestUploadKeepsStoredRows(t *testing.T) {
	m, s, _ := newTestMerger(t)
	ctx := t.Context()
	stored := &tabledb.Table{
		Columns: []string{"vendor", "item_number", "description", "case_cost", "price_date"},
		Rows: [][]string{
			{"PFG", "1", "Flour", "10", "2024-01-01"},
			{"PFG", "2", "Sugar", "", "2024-01-01"},
			{"PFG", "", "Loose note", "1", ""},
		},
	}
	if _, err := s.Write(ctx, TableName("PFG"), stored); err != nil {
		t.Fatal(err)
	}
	batch := &tabledb.Table{
		Columns: []string{"item_number", "description", "case_cost", "price_date"},
		Rows:    [][]string{{"3", "Salt", "4", "2024-02-01"}},
	}
	res, err := m.Upload(ctx, "PFG", batch)
	if err != nil {
		t.Fatal(err)
	}
	if res.New != 1 || res.Rows != 4 {
		t.Errorf("Upload() = %+v", res)
	}
	tbl, err := s.Read(ctx, TableName("PFG"))
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for rec := range tbl.Records() {
		got = append(got, rec["item_number"]+":"+rec["description"])
	}
	want := []string{"1:Flour", "2:Sugar", "3:Salt", ":Loose note"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadAll(t *testing.T) {
	m, s, _ := newTestMerger(t)
	ctx := t.Context()

	vendors, err := m.Vendors(ctx, DefaultVendors)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(DefaultVendors, vendors); diff != "" {
		t.Errorf("Vendors() mismatch (-want +got):\n%s", diff)
	}

	if _, err := m.Upload(ctx, "PFG", &tabledb.Table{
		Columns: []string{"item_number", "case_cost"},
		Rows:    [][]string{{"1", "2"}, {"2", "3"}},
	}); err != nil {
		t.Fatal(err)
	}
	// Hand written catalog without a vendor column.
	if _, err := s.Write(ctx, "catalogs/sysco", &tabledb.Table{
		Columns: []string{"SUPC", "Price"},
		Rows:    [][]string{{"9", "4.5"}},
	}); err != nil {
		t.Fatal(err)
	}

	recs, err := m.LoadAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, r := range recs {
		got = append(got, r.Vendor+"/"+r.ItemNumber)
	}
	if diff := cmp.Diff([]string{"PFG/1", "PFG/2", "sysco/9"}, got); diff != "" {
		t.Errorf("LoadAll() mismatch (-want +got):\n%s", diff)
	}

	vendors, err = m.Vendors(ctx, DefaultVendors)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"PFG", "sysco"}, vendors); diff != "" {
		t.Errorf("Vendors() mismatch (-want +got):\n%s", diff)
	}
}
