package protocol

import (
	"fmt"

	"github.com/pkg/errors"
)

// Markers terminating the rows of a Rows response. RowsPart indicates that
// further rows follow in a subsequent Rows response.
const (
	RowsDone uint64 = 0xffffffffffffffff
	RowsPart uint64 = 0xeeeeeeeeeeeeeeee
)

// Rows is a fully materialized result set: named columns, and an ordered
// sequence of rows each holding one value per column.
type Rows struct {
	Columns []string
	Values  [][]interface{}
}

// Len returns the number of rows.
func (r *Rows) Len() int { return len(r.Values) }

// rowHeaderLength is the padded length of a row header of |n| columns,
// which packs one 4-bit ColumnType per column.
func rowHeaderLength(n int) int {
	var l = (n + 1) / 2
	if r := l % 8; r != 0 {
		l += 8 - r
	}
	return l
}

// PutRows appends a Rows response body: the column count, column names,
// each row, and a terminating marker (RowsPart if |more|, else RowsDone).
func (m *Message) PutRows(columns []string, values [][]interface{}, more bool) error {
	var n = len(columns)

	m.PutUint64(uint64(n))
	for _, c := range columns {
		m.PutText(c)
	}
	for r, row := range values {
		if len(row) != n {
			return errors.Errorf("row %d has %d values (expected %d)", r, len(row), n)
		}
		var hdr = m.grow(rowHeaderLength(n))
		var types = make([]ColumnType, n)

		for i, v := range row {
			var t, err = TypeOf(v)
			if err != nil {
				return errors.WithMessagef(err, "row %d column %d", r, i)
			}
			types[i] = t

			if i%2 == 0 {
				hdr[i/2] |= byte(t) & 0x0f
			} else {
				hdr[i/2] |= byte(t) << 4
			}
		}
		for i, v := range row {
			if err := m.PutValue(types[i], v); err != nil {
				return errors.WithMessagef(err, "row %d column %d", r, i)
			}
		}
	}
	if more {
		m.PutUint64(RowsPart)
	} else {
		m.PutUint64(RowsDone)
	}
	return nil
}

// DecodeRows reads a Rows response body, appending its rows to |rows|. It
// returns true if the body ended with RowsPart, and further rows are to be
// read from a subsequent Rows response.
func DecodeRows(m *Message, rows *Rows) (more bool, err error) {
	var count = m.Uint64()
	if count > uint64(m.Remaining()/8) {
		return false, &ProtocolError{Type: ResponseRows, Reason: "column count exceeds body"}
	}
	var n = int(count)
	var columns = make([]string, 0, n)
	for i := 0; i != n && m.err == nil; i++ {
		columns = append(columns, m.Text())
	}
	if m.err != nil {
		return false, errors.WithMessage(m.err, "decoding Rows columns")
	}

	if rows.Columns == nil {
		rows.Columns = columns
	} else if len(rows.Columns) != n {
		return false, &ProtocolError{Type: ResponseRows, Reason: fmt.Sprintf(
			"rows part has %d columns (expected %d)", n, len(rows.Columns))}
	}

	for {
		var marker, ok = m.peekUint64()
		if !ok {
			return false, &ProtocolError{Type: ResponseRows, Reason: "rows not terminated by a marker"}
		} else if marker == RowsDone || marker == RowsPart {
			m.Uint64()
			more = marker == RowsPart
			break
		} else if n == 0 {
			return false, &ProtocolError{Type: ResponseRows, Reason: "row of zero columns"}
		}

		var hdr = m.next(rowHeaderLength(n))
		if hdr == nil {
			return false, errors.WithMessage(m.err, "decoding row header")
		}
		var row = make([]interface{}, n)

		for i := 0; i != n; i++ {
			var t ColumnType
			if i%2 == 0 {
				t = ColumnType(hdr[i/2] & 0x0f)
			} else {
				t = ColumnType(hdr[i/2] >> 4)
			}
			if row[i], err = m.Value(t); err != nil {
				return false, errors.WithMessagef(err, "decoding row %d column %d", len(rows.Values), i)
			}
		}
		rows.Values = append(rows.Values, row)
	}
	return more, m.finish("Rows")
}
