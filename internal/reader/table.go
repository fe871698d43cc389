// Package reader implements the read side of a run file: metadata access,
// whole-table and column loads guarded by a memory limit, and lazy
// chunk/row/group cursors that never materialize the full table.
package reader

import (
	"fmt"
	"time"

	everrors "github.com/pixelstream/evstore/internal/errors"
)

// Table is an in-memory slice of a stored table: ordered columns and the
// rows of one load or one chunk.
type Table struct {
	cols []string
	rows [][]any
}

// Columns returns the column names in table order.
func (t *Table) Columns() []string {
	return t.cols
}

// NumRows returns the number of rows.
func (t *Table) NumRows() int {
	return len(t.rows)
}

// Value returns the raw value at (row, column), or nil when out of range.
func (t *Table) Value(row int, column string) any {
	idx := t.colIndex(column)
	if idx < 0 || row < 0 || row >= len(t.rows) {
		return nil
	}
	return t.rows[row][idx]
}

// Float64s returns the column as float64 values, widening reduced-precision
// storage transparently.
func (t *Table) Float64s(column string) ([]float64, error) {
	idx := t.colIndex(column)
	if idx < 0 {
		return nil, fmt.Errorf("%s: %w", column, everrors.ErrColumnNotFound)
	}
	out := make([]float64, len(t.rows))
	for i, row := range t.rows {
		switch v := row[idx].(type) {
		case float64:
			out[i] = v
		case float32:
			out[i] = float64(v)
		case nil:
			out[i] = 0
		default:
			return nil, fmt.Errorf("column %s row %d: unexpected type %T", column, i, v)
		}
	}
	return out, nil
}

// Uint64s returns the column as uint64 values.
func (t *Table) Uint64s(column string) ([]uint64, error) {
	idx := t.colIndex(column)
	if idx < 0 {
		return nil, fmt.Errorf("%s: %w", column, everrors.ErrColumnNotFound)
	}
	out := make([]uint64, len(t.rows))
	for i, row := range t.rows {
		u, err := asUint64(row[idx])
		if err != nil {
			return nil, fmt.Errorf("column %s row %d: %w", column, i, err)
		}
		out[i] = u
	}
	return out, nil
}

// Uint32s returns the column as uint32 values.
func (t *Table) Uint32s(column string) ([]uint32, error) {
	wide, err := t.Uint64s(column)
	if err != nil {
		return nil, err
	}
	out := make([]uint32, len(wide))
	for i, u := range wide {
		out[i] = uint32(u)
	}
	return out, nil
}

// Times returns the column as timestamps.
func (t *Table) Times(column string) ([]time.Time, error) {
	idx := t.colIndex(column)
	if idx < 0 {
		return nil, fmt.Errorf("%s: %w", column, everrors.ErrColumnNotFound)
	}
	out := make([]time.Time, len(t.rows))
	for i, row := range t.rows {
		ts, ok := row[idx].(time.Time)
		if !ok {
			return nil, fmt.Errorf("column %s row %d: unexpected type %T", column, i, row[idx])
		}
		out[i] = ts
	}
	return out, nil
}

func (t *Table) colIndex(name string) int {
	for i, c := range t.cols {
		if c == name {
			return i
		}
	}
	return -1
}

func asUint64(v any) (uint64, error) {
	switch n := v.(type) {
	case uint8:
		return uint64(n), nil
	case uint16:
		return uint64(n), nil
	case uint32:
		return uint64(n), nil
	case uint64:
		return n, nil
	case int32:
		return uint64(n), nil
	case int64:
		return uint64(n), nil
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}
