package store

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// ColumnType enumerates the storable column types.
type ColumnType int

const (
	// Uint8 is an unsigned 8-bit integer column (module ids).
	Uint8 ColumnType = iota
	// Uint16 is an unsigned 16-bit integer column (first-cell ids).
	Uint16
	// Uint32 is an unsigned 32-bit integer column (event, pixel, cycle).
	Uint32
	// Uint64 is an unsigned 64-bit integer column (hardware counters).
	Uint64
	// Float32 is a reduced-precision floating column.
	Float32
	// Float64 is a full-precision floating column.
	Float64
	// Timestamp is a wall-clock timestamp column.
	Timestamp
)

// String returns the DuckDB type name.
func (t ColumnType) String() string {
	switch t {
	case Uint8:
		return "UTINYINT"
	case Uint16:
		return "USMALLINT"
	case Uint32:
		return "UINTEGER"
	case Uint64:
		return "UBIGINT"
	case Float32:
		return "REAL"
	case Float64:
		return "DOUBLE"
	case Timestamp:
		return "TIMESTAMP"
	default:
		return "DOUBLE"
	}
}

// Width returns the in-memory byte width of one value, used for the
// writer's flush-threshold estimate and the reader's chunk sizing.
func (t ColumnType) Width() int {
	switch t {
	case Uint8:
		return 1
	case Uint16:
		return 2
	case Uint32, Float32:
		return 4
	default:
		return 8
	}
}

// ColumnDef declares one column of a table schema.
type ColumnDef struct {
	Name string
	Type ColumnType

	// Default back-fills the column in rows (or earlier batches) that do
	// not carry it. nil means NULL.
	Default any
}

// Schema is an ordered set of column definitions.
type Schema []ColumnDef

// Column returns the definition of the named column.
func (s Schema) Column(name string) (ColumnDef, bool) {
	for _, c := range s {
		if c.Name == name {
			return c, true
		}
	}
	return ColumnDef{}, false
}

// RowWidth returns the summed byte width of one row.
func (s Schema) RowWidth() int {
	w := 0
	for _, c := range s {
		w += c.Type.Width()
	}
	return w
}

// Row is one table row keyed by column name. Missing columns take the
// schema default at append time.
type Row map[string]any

// createTableSQL builds the CREATE TABLE statement for a schema.
func createTableSQL(table string, schema Schema) string {
	cols := make([]string, len(schema))
	for i, c := range schema {
		cols[i] = fmt.Sprintf("%s %s", quoteIdent(c.Name), c.Type)
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(table), strings.Join(cols, ", "))
}

// addColumnSQL builds the ALTER TABLE statement that introduces a column
// mid-run, back-filling earlier rows with its default.
func addColumnSQL(table string, col ColumnDef) string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s DEFAULT %s",
		quoteIdent(table), quoteIdent(col.Name), col.Type, defaultLiteral(col))
}

// defaultLiteral renders a column default as a SQL literal.
func defaultLiteral(col ColumnDef) string {
	if col.Default == nil {
		return "NULL"
	}
	switch v := col.Default.(type) {
	case float64:
		if math.IsNaN(v) {
			return fmt.Sprintf("CAST('NaN' AS %s)", col.Type)
		}
		return fmt.Sprintf("%g", v)
	case time.Time:
		return fmt.Sprintf("TIMESTAMP '%s'", v.UTC().Format("2006-01-02 15:04:05.999999"))
	default:
		return fmt.Sprintf("%v", v)
	}
}

// quoteIdent quotes a SQL identifier.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// coerceValue converts a row value to the exact Go type the appender
// expects for the column type. nil values pass through as NULL.
func coerceValue(t ColumnType, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch t {
	case Uint8:
		u, err := toUint64(v)
		return uint8(u), err
	case Uint16:
		u, err := toUint64(v)
		return uint16(u), err
	case Uint32:
		u, err := toUint64(v)
		return uint32(u), err
	case Uint64:
		return toUint64(v)
	case Float32:
		f, err := toFloat64(v)
		return float32(f), err
	case Float64:
		return toFloat64(v)
	case Timestamp:
		ts, ok := v.(time.Time)
		if !ok {
			return nil, fmt.Errorf("expected time.Time, got %T", v)
		}
		return ts, nil
	default:
		return v, nil
	}
}

func toUint64(v any) (uint64, error) {
	switch n := v.(type) {
	case uint8:
		return uint64(n), nil
	case uint16:
		return uint64(n), nil
	case uint32:
		return uint64(n), nil
	case uint64:
		return n, nil
	case uint:
		return uint64(n), nil
	case int:
		return uint64(n), nil
	case int32:
		return uint64(n), nil
	case int64:
		return uint64(n), nil
	case float64:
		return uint64(n), nil
	default:
		return 0, fmt.Errorf("cannot coerce %T to unsigned integer", v)
	}
}

func toFloat64(v any) (float64, error) {
	switch n := v.(type) {
	case float32:
		return float64(n), nil
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("cannot coerce %T to float", v)
	}
}
