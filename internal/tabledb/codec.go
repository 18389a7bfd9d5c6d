package tabledb

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Decode parses comma separated UTF-8 text with a header row.
//
// Empty input yields an empty table. Rows shorter than the header are padded;
// rows longer than the header are an error.
func Decode(r io.Reader) (*Table, error) {
	br := bufio.NewReader(r)
	if b, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(b, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}
	cr := csv.NewReader(br)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = false
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return &Table{}, nil
	}
	if err != nil {
		return nil, err
	}
	t := &Table{Columns: header}
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(rec) > len(header) {
			line, _ := cr.FieldPos(0)
			return nil, fmt.Errorf("line %d: %d fields, header has %d", line, len(rec), len(header))
		}
		t.Rows = append(t.Rows, rec)
	}
	t.pad()
	return t, nil
}

// Encode writes t as comma separated text with a header row. A table without
// columns encodes to nothing.
func Encode(w io.Writer, t *Table) error {
	if t == nil || len(t.Columns) == 0 {
		return nil
	}
	cw := csv.NewWriter(w)
	write := func(rec []string) error {
		if len(rec) != 1 || rec[0] != "" {
			return cw.Write(rec)
		}
		// csv.Writer emits a lone empty field as a blank line, which readers
		// skip.
		cw.Flush()
		if err := cw.Error(); err != nil {
			return err
		}
		_, err := io.WriteString(w, "\"\"\n")
		return err
	}
	if err := write(t.Columns); err != nil {
		return err
	}
	row := make([]string, len(t.Columns))
	for _, r := range t.Rows {
		clear(row)
		copy(row, r)
		if err := write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
