package tabledb

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/maruel/kitchenstore/internal/models"
)

type countRow struct {
	Item     string     `json:"item" jsonschema:"description=Ingredient name"`
	Qty      float64    `json:"qty"`
	Counted  bool       `json:"counted,omitempty"`
	At       *time.Time `json:"at,omitempty"`
	Tags     []string   `json:"tags,omitempty"`
	Location string     `json:"location,omitempty"`
}

func TestSchemaOf(t *testing.T) {
	got, err := SchemaOf[countRow]()
	if err != nil {
		t.Fatal(err)
	}
	want := []Column{
		{Name: "item", Type: ColumnTypeText, Required: true, Description: "Ingredient name"},
		{Name: "qty", Type: ColumnTypeNumber, Required: true},
		{Name: "counted", Type: ColumnTypeBool},
		{Name: "at", Type: ColumnTypeDate},
		{Name: "tags", Type: ColumnTypeJSON},
		{Name: "location", Type: ColumnTypeText},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("SchemaOf() mismatch (-want +got):\n%s", diff)
	}
	if _, err := SchemaOf[int](); err == nil {
		t.Error("SchemaOf[int]() succeeded")
	}
}

func TestMarshal(t *testing.T) {
	at := time.Date(2024, 2, 1, 9, 30, 0, 0, time.UTC)
	rows := []countRow{
		{Item: "Onion", Qty: 12.5, Counted: true, At: &at, Tags: []string{"veg"}},
		{Item: "Salt", Qty: 3},
	}
	tbl, err := Marshal(rows)
	if err != nil {
		t.Fatal(err)
	}
	want := &Table{
		Columns: []string{"item", "qty", "counted", "at", "tags", "location"},
		Rows: [][]string{
			{"Onion", "12.5", "true", "2024-02-01T09:30:00Z", `["veg"]`, ""},
			{"Salt", "3", "", "", "", ""},
		},
	}
	if diff := cmp.Diff(want, tbl); diff != "" {
		t.Fatalf("Marshal() mismatch (-want +got):\n%s", diff)
	}

	back, err := Unmarshal[countRow](tbl)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(rows, back); diff != "" {
		t.Errorf("Unmarshal() mismatch (-want +got):\n%s", diff)
	}
}

func TestUnmarshal(t *testing.T) {
	t.Run("extra and missing columns", func(t *testing.T) {
		tbl := &Table{Columns: []string{"qty", "item", "unknown"}, Rows: [][]string{{" 4 ", "Leek", "x"}}}
		got, err := Unmarshal[countRow](tbl)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff([]countRow{{Item: "Leek", Qty: 4}}, got); diff != "" {
			t.Errorf("mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("invalid number", func(t *testing.T) {
		tbl := &Table{Columns: []string{"item", "qty"}, Rows: [][]string{{"Leek", "four"}}}
		_, err := Unmarshal[countRow](tbl)
		if !errors.Is(err, models.ErrValidation) {
			t.Fatalf("Unmarshal() error = %v, want validation error", err)
		}
		var se *models.StoreError
		if errors.As(err, &se) && se.Details()["column"] != "qty" {
			t.Errorf("column detail = %v", se.Details()["column"])
		}
	})

	t.Run("CheckRequired", func(t *testing.T) {
		if err := CheckRequired[countRow](NewTable("item", "qty")); err != nil {
			t.Errorf("CheckRequired() = %v", err)
		}
		err := CheckRequired[countRow](NewTable("item"))
		var se *models.StoreError
		if !errors.As(err, &se) || se.Code() != models.ErrorCodeMissingField || se.Details()["field"] != "qty" {
			t.Errorf("CheckRequired() = %v, want missing qty", err)
		}
	})
}
