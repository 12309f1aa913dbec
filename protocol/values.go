package protocol

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// ColumnType is the wire type code of a SQL value.
type ColumnType uint8

// Column type codes. These match the SQLite fundamental datatypes, extended
// with codes for timestamps and booleans.
const (
	Integer  ColumnType = 1
	Float    ColumnType = 2
	Text     ColumnType = 3
	Blob     ColumnType = 4
	Null     ColumnType = 5
	UnixTime ColumnType = 9
	ISO8601  ColumnType = 10
	Boolean  ColumnType = 11
)

func (t ColumnType) String() string {
	switch t {
	case Integer:
		return "INTEGER"
	case Float:
		return "FLOAT"
	case Text:
		return "TEXT"
	case Blob:
		return "BLOB"
	case Null:
		return "NULL"
	case UnixTime:
		return "UNIXTIME"
	case ISO8601:
		return "ISO8601"
	case Boolean:
		return "BOOLEAN"
	}
	return fmt.Sprintf("TYPE(%d)", uint8(t))
}

// TimestampFormats are accepted when decoding ISO8601 values. The first is
// used when encoding.
var TimestampFormats = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04",
	"2006-01-02",
}

// TypeOf maps a Go value to its wire ColumnType. Supported values are nil,
// the integer kinds, float32/64, bool, string, []byte and time.Time.
func TypeOf(v interface{}) (ColumnType, error) {
	switch v.(type) {
	case nil:
		return Null, nil
	case int, int8, int16, int32, int64, uint8, uint16, uint32:
		return Integer, nil
	case float32, float64:
		return Float, nil
	case bool:
		return Boolean, nil
	case string:
		return Text, nil
	case []byte:
		return Blob, nil
	case time.Time:
		return ISO8601, nil
	}
	return 0, errors.Errorf("unsupported value type %T", v)
}

// PutValue appends the encoding of |v| as type |t|.
func (m *Message) PutValue(t ColumnType, v interface{}) error {
	switch t {
	case Integer, UnixTime:
		var i, err = toInt64(v)
		if err != nil {
			return err
		}
		m.PutInt64(i)
	case Float:
		switch f := v.(type) {
		case float64:
			m.PutFloat64(f)
		case float32:
			m.PutFloat64(float64(f))
		default:
			return errors.Errorf("cannot encode %T as %s", v, t)
		}
	case Boolean:
		var b, ok = v.(bool)
		if !ok {
			return errors.Errorf("cannot encode %T as %s", v, t)
		} else if b {
			m.PutUint64(1)
		} else {
			m.PutUint64(0)
		}
	case Text:
		var s, ok = v.(string)
		if !ok {
			return errors.Errorf("cannot encode %T as %s", v, t)
		}
		m.PutText(s)
	case ISO8601:
		switch tv := v.(type) {
		case time.Time:
			m.PutText(tv.Format(TimestampFormats[0]))
		case string:
			m.PutText(tv)
		default:
			return errors.Errorf("cannot encode %T as %s", v, t)
		}
	case Blob:
		var b, ok = v.([]byte)
		if !ok {
			return errors.Errorf("cannot encode %T as %s", v, t)
		}
		m.PutBlob(b)
	case Null:
		m.PutUint64(0)
	default:
		return errors.Errorf("unknown column type %d", t)
	}
	return nil
}

// Value reads a value of type |t|.
func (m *Message) Value(t ColumnType) (interface{}, error) {
	var v interface{}

	switch t {
	case Integer:
		v = m.Int64()
	case UnixTime:
		v = time.Unix(m.Int64(), 0)
	case Float:
		v = m.Float64()
	case Boolean:
		v = m.Uint64() != 0
	case Text:
		v = m.Text()
	case ISO8601:
		var s = m.Text()
		if m.err == nil {
			if s == "" {
				v = nil
			} else if ts, err := parseTimestamp(s); err != nil {
				return nil, err
			} else {
				v = ts
			}
		}
	case Blob:
		v = m.Blob()
	case Null:
		m.Uint64()
	default:
		return nil, &ProtocolError{Reason: fmt.Sprintf("unknown column type %d", t)}
	}
	return v, m.err
}

func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSuffix(s, "Z")
	for _, format := range TimestampFormats {
		if ts, err := time.ParseInLocation(format, s, time.UTC); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, &ProtocolError{Reason: fmt.Sprintf("cannot parse timestamp %q", s)}
}

func toInt64(v interface{}) (int64, error) {
	switch i := v.(type) {
	case int:
		return int64(i), nil
	case int8:
		return int64(i), nil
	case int16:
		return int64(i), nil
	case int32:
		return int64(i), nil
	case int64:
		return i, nil
	case uint8:
		return int64(i), nil
	case uint16:
		return int64(i), nil
	case uint32:
		return int64(i), nil
	case time.Time:
		return i.Unix(), nil
	}
	return 0, errors.Errorf("cannot encode %T as an integer", v)
}

// PutNamedValues appends statement parameters as a tuple: a one-byte count,
// one type byte per value, padding, and then each encoded value.
func (m *Message) PutNamedValues(args []interface{}) error {
	if len(args) > 255 {
		return errors.Errorf("too many parameters (%d; max 255)", len(args))
	}
	var types = make([]ColumnType, len(args))
	for i, arg := range args {
		var t, err = TypeOf(arg)
		if err != nil {
			return errors.WithMessagef(err, "parameter %d", i+1)
		}
		types[i] = t
	}

	m.PutUint8(uint8(len(args)))
	for _, t := range types {
		m.PutUint8(uint8(t))
	}
	m.pad()

	for i, arg := range args {
		if err := m.PutValue(types[i], arg); err != nil {
			return errors.WithMessagef(err, "parameter %d", i+1)
		}
	}
	return nil
}

// NamedValues reads a parameter tuple written by PutNamedValues.
func (m *Message) NamedValues() ([]interface{}, error) {
	var n = int(m.Uint8())
	var types = make([]ColumnType, n)
	for i := range types {
		types[i] = ColumnType(m.Uint8())
	}
	m.skipPad()

	if n == 0 {
		return nil, m.err
	}
	var out = make([]interface{}, n)
	for i, t := range types {
		var v, err = m.Value(t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, m.err
}
