package store

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Row is one result row: column names in select order with values decoded
// to int64, float64, string, bool, time.Time or nil.
type Row struct {
	cols []string
	vals []any
}

// NewRow pairs columns with values, normalizing driver-specific types.
func NewRow(cols []string, vals []any) Row {
	r := Row{cols: make([]string, len(cols)), vals: make([]any, len(cols))}
	copy(r.cols, cols)
	for i := range cols {
		if i < len(vals) {
			r.vals[i] = Normalize(vals[i])
		}
	}
	return r
}

// Normalize converts a scanned value to one of the Row value types.
func Normalize(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case []byte:
		return string(x)
	case string, int64, float64, bool, time.Time:
		return x
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		return int64(x)
	case float32:
		return float64(x)
	case *string:
		if x == nil {
			return nil
		}
		return *x
	case fmt.Stringer:
		return x.String()
	default:
		return x
	}
}

func (r Row) Columns() []string { return r.cols }

func (r Row) Len() int { return len(r.cols) }

// Value looks up a column by name, ignoring case.
func (r Row) Value(col string) (any, bool) {
	for i, c := range r.cols {
		if strings.EqualFold(c, col) {
			return r.vals[i], true
		}
	}
	return nil, false
}

// String renders the column as text. Missing columns and NULL give "".
func (r Row) String(col string) string {
	v, _ := r.Value(col)
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return x.Format(time.RFC3339)
	default:
		return fmt.Sprint(x)
	}
}

// Int64 reads an integer column; text columns are parsed.
func (r Row) Int64(col string) int64 {
	v, _ := r.Value(col)
	switch x := v.(type) {
	case int64:
		return x
	case float64:
		return int64(x)
	case string:
		n, _ := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		return n
	default:
		return 0
	}
}

// Float64 reads a numeric column; text columns are parsed.
func (r Row) Float64(col string) float64 {
	v, _ := r.Value(col)
	switch x := v.(type) {
	case float64:
		return x
	case int64:
		return float64(x)
	case string:
		f, _ := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f
	default:
		return 0
	}
}

// MarshalJSON keeps select order.
func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, c := range r.cols {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(c)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(r.vals[i])
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// ScanRows drains a database/sql cursor into Rows and closes it.
func ScanRows(rows *sql.Rows) ([]Row, error) {
	defer rows.Close()
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}
	var out []Row
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out = append(out, NewRow(cols, vals))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iter rows: %w", err)
	}
	return out, nil
}
