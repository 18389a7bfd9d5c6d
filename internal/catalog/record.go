package catalog

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/maruel/kitchenstore/internal/tabledb"
)

// DateLayout is the stored format of price dates.
const DateLayout = "2006-01-02"

// Date is a calendar day in the store's timezone. The zero Date means the
// price date is missing.
type Date struct {
	t time.Time
}

// NewDate returns the calendar day of t in t's location.
func NewDate(t time.Time) Date {
	y, m, d := t.Date()
	return Date{t: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// IsZero reports whether the date is missing.
func (d Date) IsZero() bool {
	return d.t.IsZero()
}

// Compare returns -1, 0 or +1. A missing date sorts before any date.
func (d Date) Compare(o Date) int {
	return d.t.Compare(o.t)
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.t.Format(DateLayout)
}

// MarshalText implements encoding.TextMarshaler.
func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Date) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*d = Date{}
		return nil
	}
	t, err := time.Parse(DateLayout, string(b))
	if err != nil {
		return err
	}
	*d = Date{t: t}
	return nil
}

// Record is one vendor catalog line. The natural key is (Vendor, ItemNumber),
// case-insensitive on Vendor.
type Record struct {
	Vendor       string  `json:"vendor"`
	ItemNumber   string  `json:"item_number" jsonschema:"description=Vendor item number"`
	Description  string  `json:"description,omitempty"`
	UOM          string  `json:"uom,omitempty" jsonschema:"description=Unit of measure"`
	CaseCost     float64 `json:"case_cost"`
	PriceDate    Date    `json:"price_date" jsonschema:"description=Day the case cost was quoted; empty when unknown"`
	PackSize     string  `json:"pack_size,omitempty"`
	PackQuantity float64 `json:"pack_quantity,omitempty"`
	UnitCost     float64 `json:"unit_cost,omitempty"`
	Brand        string  `json:"brand,omitempty"`
	Category     string  `json:"category,omitempty"`
	Barcode      string  `json:"barcode,omitempty"`
}

// Columns is the header of a stored catalog.
var Columns = tabledb.ColumnNames[Record]()

// key returns the natural key of r.
func (r *Record) key() string {
	return VendorKey(r.Vendor) + "\x00" + r.ItemNumber
}

// VendorKey returns the case-insensitive, whitespace-collapsed form of a vendor
// name used for comparisons.
func VendorKey(vendor string) string {
	return strings.ToLower(strings.Join(strings.Fields(vendor), " "))
}

var canonicalRe = regexp.MustCompile(`[^a-z0-9]+`)

func canonicalName(column string) string {
	return canonicalRe.ReplaceAllString(strings.ToLower(strings.TrimSpace(column)), "")
}

// aliases maps canonical source column names to Record columns.
var aliases = func() map[string]string {
	m := map[string]string{}
	for target, names := range map[string][]string{
		"vendor":        {"vendor", "preferred_vendor", "primary_vendor", "supplier"},
		"item_number":   {"item_number", "item no", "item#", "sku", "vendor_sku", "vendor item", "itemid", "id", "supc"},
		"description":   {"description", "item_description", "product_description", "name", "itemname"},
		"uom":           {"uom", "unit", "count_uom", "case_uom", "pack_uom"},
		"pack_size":     {"pack_size", "pack", "case_pack", "case qty", "case quantity"},
		"pack_quantity": {"pack_quantity", "packqty"},
		"case_cost":     {"case_cost", "case_price", "price", "cost", "last_cost"},
		"unit_cost":     {"unit_cost", "each_cost"},
		"price_date":    {"price_date", "cost_date", "effective_date", "last_updated"},
		"brand":         {"brand"},
		"category":      {"category", "department"},
		"barcode":       {"barcode", "upc"},
	} {
		for _, n := range names {
			m[canonicalName(n)] = target
		}
	}
	return m
}()

// canonicalColumns maps each column of t to a Record column, or "" when it
// has none. When several columns map to the same target, the first wins.
func canonicalColumns(t *tabledb.Table) []string {
	out := make([]string, len(t.Columns))
	used := map[string]bool{}
	for i, c := range t.Columns {
		target := aliases[canonicalName(c)]
		if target == "" || used[target] {
			continue
		}
		used[target] = true
		out[i] = target
	}
	return out
}

var moneyRe = regexp.MustCompile(`[^0-9.]+`)

// ParseMoney parses a price such as "$1,234.50". ok is false when nothing
// numeric is left.
func ParseMoney(s string) (float64, bool) {
	s = moneyRe.ReplaceAllString(strings.TrimSpace(s), "")
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

var dateLayouts = []string{
	DateLayout,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
	time.RFC3339Nano,
	"2006/01/02",
	"01/02/2006",
	"1/2/2006",
	"01/02/06",
	"1/2/06",
	"01-02-2006",
	"20060102",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 Jan 2006",
}

// ParseDate parses a price date in any accepted layout. Values without a zone
// are interpreted in loc; values with one are converted to loc before taking
// the day. ok is false for empty or unparsable input.
func ParseDate(s string, loc *time.Location) (Date, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Date{}, false
	}
	for _, layout := range dateLayouts {
		t, err := time.ParseInLocation(layout, s, loc)
		if err == nil {
			return NewDate(t.In(loc)), true
		}
	}
	return Date{}, false
}

// rowError describes why a row was rejected.
type rowError struct {
	code   string
	reason string
}

func (e *rowError) Error() string {
	return e.reason
}

// parseRow converts one source row. cells is indexed like cols. Rows with an
// empty vendor get vendor.
func parseRow(cols, cells []string, vendor string, loc *time.Location) (Record, *rowError) {
	var r Record
	var rawCost, rawDate string
	for i, target := range cols {
		if target == "" || i >= len(cells) {
			continue
		}
		v := strings.TrimSpace(cells[i])
		switch target {
		case "vendor":
			r.Vendor = v
		case "item_number":
			r.ItemNumber = v
		case "description":
			r.Description = v
		case "uom":
			r.UOM = v
		case "pack_size":
			r.PackSize = v
		case "pack_quantity":
			r.PackQuantity, _ = ParseMoney(v)
		case "case_cost":
			rawCost = v
		case "unit_cost":
			r.UnitCost, _ = ParseMoney(v)
		case "price_date":
			rawDate = v
		case "brand":
			r.Brand = v
		case "category":
			r.Category = v
		case "barcode":
			r.Barcode = v
		}
	}
	if r.Vendor == "" {
		r.Vendor = strings.TrimSpace(vendor)
	}
	r.PriceDate, _ = ParseDate(rawDate, loc)
	cost, ok := ParseMoney(rawCost)
	if ok {
		r.CaseCost = cost
	}
	switch {
	case VendorKey(r.Vendor) == "":
		return r, &rowError{"MISSING_VENDOR", "missing vendor"}
	case r.ItemNumber == "":
		return r, &rowError{"MISSING_ITEM_NUMBER", "missing item_number"}
	case !ok || cost <= 0:
		return r, &rowError{"MISSING_CASE_COST", fmt.Sprintf("missing or invalid case_cost %q", rawCost)}
	}
	return r, nil
}
