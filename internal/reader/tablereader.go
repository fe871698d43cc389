package reader

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/pixelstream/evstore/internal/config"
	everrors "github.com/pixelstream/evstore/internal/errors"
	"github.com/pixelstream/evstore/internal/logging"
	"github.com/pixelstream/evstore/internal/store"
)

// TableReader exposes one stored table. It is parameterized by a
// rows-per-logical-group value taken from the table's metadata (pixels per
// event for the data table, modules per cycle for the monitor table), so
// the same reader serves both grouping granularities.
type TableReader struct {
	db    *sql.DB
	table string
	log   *slog.Logger

	meta         map[string]any
	rowsPerGroup int

	guardBytes       int64
	targetChunkBytes int64
}

// newTableReader loads the table's attribute dictionary and wires the
// memory heuristics from the configuration.
func newTableReader(ctx context.Context, s *store.Store, table string, rowsPerGroupKey string, cfg *config.Config) (*TableReader, error) {
	meta, err := s.Metadata(ctx, table)
	if err != nil {
		return nil, err
	}

	rowsPerGroup := int(metaInt64(meta, rowsPerGroupKey))

	return &TableReader{
		db:               s.DB(),
		table:            table,
		log:              logging.Component("reader").With("table", table),
		meta:             meta,
		rowsPerGroup:     rowsPerGroup,
		guardBytes:       cfg.Memory.GuardBytes,
		targetChunkBytes: cfg.Memory.TargetChunkBytes,
	}, nil
}

// Metadata returns the table's attribute dictionary, written at finalize
// time by the writer.
func (r *TableReader) Metadata() map[string]any {
	return r.meta
}

// Columns returns the column names in table order.
func (r *TableReader) Columns(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT column_name FROM information_schema.columns WHERE table_name = ? ORDER BY ordinal_position",
		r.table)
	if err != nil {
		return nil, fmt.Errorf("columns of %s: %w", r.table, err)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		cols = append(cols, name)
	}
	return cols, rows.Err()
}

// RowCount returns the stored row count.
func (r *TableReader) RowCount(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT count(*) FROM %q", r.table)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("row count of %s: %w", r.table, err)
	}
	return n, nil
}

// ByteCount returns the byte total the writer recorded at finalize time.
func (r *TableReader) ByteCount() int64 {
	return metaInt64(r.meta, "n_bytes")
}

// RowsPerGroup returns the logical group size (pixels per event, modules
// per cycle).
func (r *TableReader) RowsPerGroup() int {
	return r.rowsPerGroup
}

// LoadAll materializes the entire table. Tables whose recorded byte count
// exceeds the memory guard are refused unless force is set.
func (r *TableReader) LoadAll(ctx context.Context, force bool) (*Table, error) {
	if n := r.ByteCount(); n > r.guardBytes {
		if !force {
			return nil, fmt.Errorf("table %s is %d bytes (guard %d): %w",
				r.table, n, r.guardBytes, everrors.ErrTableTooLarge)
		}
		r.log.Warn("loading table beyond the memory guard", "bytes", n, "guard", r.guardBytes)
	}

	return r.queryTable(ctx, fmt.Sprintf("SELECT * FROM %q ORDER BY rowid", r.table))
}

// SelectColumn returns a single column without loading the others.
func (r *TableReader) SelectColumn(ctx context.Context, name string) (*Table, error) {
	return r.SelectColumns(ctx, name)
}

// SelectColumns returns a column-oriented load of only the named columns.
func (r *TableReader) SelectColumns(ctx context.Context, names ...string) (*Table, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("no columns requested: %w", everrors.ErrColumnNotFound)
	}

	existing, err := r.Columns(ctx)
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(existing))
	for _, c := range existing {
		known[c] = true
	}

	quoted := make([]string, len(names))
	for i, name := range names {
		if !known[name] {
			return nil, fmt.Errorf("table %s column %s: %w", r.table, name, everrors.ErrColumnNotFound)
		}
		quoted[i] = fmt.Sprintf("%q", name)
	}

	return r.queryTable(ctx, fmt.Sprintf("SELECT %s FROM %q ORDER BY rowid",
		strings.Join(quoted, ", "), r.table))
}

// Chunks returns a lazy, finite, forward-only cursor over the table in
// sub-tables of chunkSize rows. chunkSize <= 0 derives a size targeting
// the configured resident bytes per chunk.
func (r *TableReader) Chunks(ctx context.Context, chunkSize int) (*ChunkCursor, error) {
	if chunkSize <= 0 {
		size, err := r.defaultChunkSize(ctx)
		if err != nil {
			return nil, err
		}
		chunkSize = size
	}

	rows, err := r.db.QueryContext(ctx,
		fmt.Sprintf("SELECT * FROM %q ORDER BY rowid", r.table))
	if err != nil {
		return nil, fmt.Errorf("iterate %s: %w", r.table, err)
	}

	cols, err := rows.Columns()
	if err != nil {
		rows.Close()
		return nil, err
	}

	return &ChunkCursor{rows: rows, cols: cols, chunkSize: chunkSize}, nil
}

// Rows specializes Chunks to one row per step.
func (r *TableReader) Rows(ctx context.Context) (*ChunkCursor, error) {
	return r.Chunks(ctx, 1)
}

// Groups iterates one logical group at a time: one event of the data
// table, one polling cycle of the monitor table. Groups occupy exactly
// rowsPerGroup contiguous rows by construction of the write path.
func (r *TableReader) Groups(ctx context.Context) (*ChunkCursor, error) {
	if r.rowsPerGroup <= 0 {
		return nil, fmt.Errorf("table %s has no group size in its metadata: %w",
			r.table, everrors.ErrTableNotFound)
	}
	return r.Chunks(ctx, r.rowsPerGroup)
}

// defaultChunkSize targets the configured resident bytes per chunk, based
// on the recorded totals.
func (r *TableReader) defaultChunkSize(ctx context.Context) (int, error) {
	rowCount, err := r.RowCount(ctx)
	if err != nil {
		return 0, err
	}
	byteCount := r.ByteCount()
	if rowCount == 0 || byteCount == 0 {
		return 1 << 16, nil
	}

	size := int(float64(rowCount) / float64(byteCount) * float64(r.targetChunkBytes))
	if size < 1 {
		size = 1
	}
	if int64(size) > rowCount {
		size = int(rowCount)
	}
	return size, nil
}

// queryTable runs a query and scans the full result into a Table.
func (r *TableReader) queryTable(ctx context.Context, query string) (*Table, error) {
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", r.table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	t := &Table{cols: cols}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		t.rows = append(t.rows, values)
	}
	return t, rows.Err()
}

// ChunkCursor is a lazy, single-pass cursor over one streaming query. It
// is not restartable; Close releases the query early.
type ChunkCursor struct {
	rows      *sql.Rows
	cols      []string
	chunkSize int
	done      bool
}

// Next returns the next sub-table, or io.EOF when the table is exhausted.
func (c *ChunkCursor) Next() (*Table, error) {
	if c.done {
		return nil, io.EOF
	}

	t := &Table{cols: c.cols}
	for len(t.rows) < c.chunkSize {
		if !c.rows.Next() {
			if err := c.rows.Err(); err != nil {
				return nil, err
			}
			c.done = true
			_ = c.rows.Close()
			break
		}
		values := make([]any, len(c.cols))
		ptrs := make([]any, len(c.cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := c.rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		t.rows = append(t.rows, values)
	}

	if len(t.rows) == 0 {
		return nil, io.EOF
	}
	return t, nil
}

// Close releases the underlying query before exhaustion.
func (c *ChunkCursor) Close() error {
	if c.done {
		return nil
	}
	c.done = true
	return c.rows.Close()
}

// metaInt64 reads an integer attribute; JSON decoding yields float64.
func metaInt64(meta map[string]any, key string) int64 {
	switch v := meta[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}
