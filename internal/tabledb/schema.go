// Handles column definitions of typed records and their conversion to and from
// tables.

package tabledb

import (
	"bytes"
	"encoding"
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/invopop/jsonschema"

	"github.com/maruel/kitchenstore/internal/models"
)

// ColumnType is the value type of a column of a typed record.
type ColumnType string

// Column types.
const (
	ColumnTypeText   ColumnType = "text"
	ColumnTypeNumber ColumnType = "number"
	ColumnTypeBool   ColumnType = "bool"
	ColumnTypeDate   ColumnType = "date"
	ColumnTypeJSON   ColumnType = "json"
)

// Column describes one column of a typed record.
type Column struct {
	Name        string     `json:"name"`
	Type        ColumnType `json:"type"`
	Required    bool       `json:"required,omitempty"`
	Description string     `json:"description,omitempty"`
}

// SchemaOf returns the columns of struct type T in field order.
//
// Names come from json tags. A field is required unless its tag has
// omitempty. Descriptions come from `jsonschema:"description=..."` tags.
func SchemaOf[T any]() ([]Column, error) {
	t := reflect.TypeFor[T]()
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("type must be a struct or pointer to struct, got %s", t.Kind())
	}

	r := jsonschema.Reflector{Anonymous: true, DoNotReference: true}
	schema := r.ReflectFromType(t)

	required := make(map[string]bool, len(schema.Required))
	for _, name := range schema.Required {
		required[name] = true
	}

	var columns []Column
	for pair := schema.Properties.Oldest(); pair != nil; pair = pair.Next() {
		colType := ColumnTypeText
		for i := range t.NumField() {
			field := t.Field(i)
			if jsonFieldName(&field) == pair.Key {
				colType = goTypeToColumnType(field.Type)
				break
			}
		}
		columns = append(columns, Column{
			Name:        pair.Key,
			Type:        colType,
			Required:    required[pair.Key],
			Description: pair.Value.Description,
		})
	}
	return columns, nil
}

// ColumnNames returns the column names of T.
func ColumnNames[T any]() []string {
	cols, err := SchemaOf[T]()
	if err != nil {
		panic(err)
	}
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return names
}

// CheckRequired returns a MISSING_FIELD error naming the first required
// column of T that t's header lacks.
func CheckRequired[T any](t *Table) error {
	cols, err := SchemaOf[T]()
	if err != nil {
		return err
	}
	for _, c := range cols {
		if c.Required && t.Index(c.Name) < 0 {
			return models.MissingField(c.Name)
		}
	}
	return nil
}

// Marshal converts records into a table whose header is T's columns.
func Marshal[T any](records []T) (*Table, error) {
	cols, err := SchemaOf[T]()
	if err != nil {
		return nil, err
	}
	out := &Table{Columns: make([]string, len(cols))}
	for i, c := range cols {
		out.Columns[i] = c.Name
	}
	for _, rec := range records {
		b, err := json.Marshal(rec)
		if err != nil {
			return nil, err
		}
		d := json.NewDecoder(bytes.NewReader(b))
		d.UseNumber()
		var m map[string]any
		if err := d.Decode(&m); err != nil {
			return nil, err
		}
		row := make([]string, len(cols))
		for i, c := range cols {
			row[i], err = cellString(m[c.Name])
			if err != nil {
				return nil, fmt.Errorf("column %s: %w", c.Name, err)
			}
		}
		out.Rows = append(out.Rows, row)
	}
	return out, nil
}

// Unmarshal converts the rows of t into records of type T.
//
// Columns of t that T does not declare are ignored and columns T declares but
// t lacks keep their zero value. Empty cells are zero values. A cell that does
// not parse as its column type is a validation error.
func Unmarshal[T any](t *Table) ([]T, error) {
	cols, err := SchemaOf[T]()
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, t.Len())
	for i := range t.Rows {
		m := make(map[string]any, len(cols))
		for _, c := range cols {
			v := t.Get(i, c.Name)
			if v == "" {
				continue
			}
			if m[c.Name], err = parseCell(c.Type, v); err != nil {
				return nil, models.Validation(fmt.Sprintf("row %d column %s: %v", i+1, c.Name, err)).
					WithDetail("row", i+1).
					WithDetail("column", c.Name)
			}
		}
		b, err := json.Marshal(m)
		if err != nil {
			return nil, err
		}
		var rec T
		if err := json.Unmarshal(b, &rec); err != nil {
			return nil, models.Validation(fmt.Sprintf("row %d: %v", i+1, err)).WithDetail("row", i+1)
		}
		out = append(out, rec)
	}
	return out, nil
}

func cellString(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", nil
	case string:
		return x, nil
	case json.Number:
		return x.String(), nil
	case bool:
		return strconv.FormatBool(x), nil
	default:
		b, err := json.Marshal(x)
		return string(b), err
	}
}

func parseCell(t ColumnType, v string) (any, error) {
	switch t {
	case ColumnTypeNumber:
		if _, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err != nil {
			return nil, fmt.Errorf("invalid number %q", v)
		}
		return json.Number(strings.TrimSpace(v)), nil
	case ColumnTypeBool:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return nil, fmt.Errorf("invalid bool %q", v)
		}
		return b, nil
	case ColumnTypeJSON:
		if !json.Valid([]byte(v)) {
			return nil, fmt.Errorf("invalid JSON %q", v)
		}
		return json.RawMessage(v), nil
	case ColumnTypeText, ColumnTypeDate:
		return v, nil
	}
	return v, nil
}

var textMarshaler = reflect.TypeFor[encoding.TextMarshaler]()

// jsonFieldName returns the JSON field name for a struct field.
func jsonFieldName(field *reflect.StructField) string {
	tag := field.Tag.Get("json")
	if tag == "" || tag == "-" {
		return field.Name
	}
	if name, _, _ := strings.Cut(tag, ","); name != "" {
		return name
	}
	return field.Name
}

func goTypeToColumnType(t reflect.Type) ColumnType {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == reflect.TypeFor[time.Time]() {
		return ColumnTypeDate
	}
	// Identifiers and other text-encoded scalars.
	if t.Implements(textMarshaler) || reflect.PointerTo(t).Implements(textMarshaler) {
		return ColumnTypeText
	}
	switch t.Kind() {
	case reflect.Bool:
		return ColumnTypeBool
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return ColumnTypeNumber
	case reflect.Struct, reflect.Slice, reflect.Array, reflect.Map:
		return ColumnTypeJSON
	default:
		return ColumnTypeText
	}
}
