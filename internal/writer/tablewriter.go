// Package writer implements the buffered write path of a run: the
// threshold-flushed table writers for the "data" and "monitor" tables, and
// the run-level Writer that ties them to the telemetry aligner.
package writer

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"

	everrors "github.com/pixelstream/evstore/internal/errors"
	"github.com/pixelstream/evstore/internal/logging"
	"github.com/pixelstream/evstore/internal/store"
)

// Column declares one column of a table writer. Float columns marked Auto
// have their on-disk width resolved at their first flush: REAL when every
// buffered value survives a float32 round trip, DOUBLE otherwise. The
// resolution is sticky for the rest of the run.
type Column struct {
	Name    string
	Type    store.ColumnType
	Auto    bool
	Default any
}

// TableWriter accumulates row batches in memory and flushes them to one
// store table when the buffered byte estimate crosses the threshold. Flush
// is synchronous; the caller blocks until the rows are appended.
type TableWriter struct {
	store     *store.Store
	table     string
	log       *slog.Logger
	threshold int64

	// columns is the declared column set, growing as batches introduce
	// new feature keys. resolved pins Auto float widths after their
	// first flush.
	columns  []Column
	resolved map[string]store.ColumnType

	// sortRows orders the combined batch before it hits the store.
	// nil keeps arrival order.
	sortRows func([]store.Row)

	pending      [][]store.Row
	pendingBytes int64

	totalBytes int64
	totalRows  int64
}

// NewTableWriter creates a writer for one table. threshold is the flush
// trigger in estimated buffered bytes.
func NewTableWriter(s *store.Store, table string, columns []Column, threshold int64, sortRows func([]store.Row)) *TableWriter {
	return &TableWriter{
		store:     s,
		table:     table,
		log:       logging.Component("writer").With("table", table),
		threshold: threshold,
		columns:   append([]Column(nil), columns...),
		resolved:  make(map[string]store.ColumnType),
		sortRows:  sortRows,
	}
}

// Append buffers one batch and flushes synchronously once the byte
// estimate reaches the threshold. Row keys outside the declared columns
// become additional Auto float columns, defaulting to zero.
func (w *TableWriter) Append(ctx context.Context, rows []store.Row) error {
	if len(rows) == 0 {
		return nil
	}

	w.adoptNewColumns(rows)

	w.pending = append(w.pending, rows)
	w.pendingBytes += int64(len(rows)) * int64(w.rowEstimate())

	if w.pendingBytes >= w.threshold {
		return w.Flush(ctx)
	}
	return nil
}

// Flush concatenates the buffered batches, resolves pending float widths,
// orders the rows, and appends everything to the store in one batch.
func (w *TableWriter) Flush(ctx context.Context) error {
	if len(w.pending) == 0 {
		return nil
	}

	n := 0
	for _, batch := range w.pending {
		n += len(batch)
	}
	combined := make([]store.Row, 0, n)
	for _, batch := range w.pending {
		combined = append(combined, batch...)
	}

	schema := w.resolveSchema(combined)

	if w.sortRows != nil {
		w.sortRows(combined)
	}

	if err := w.store.AppendBatch(ctx, w.table, schema, combined); err != nil {
		return fmt.Errorf("flush %s: %w", w.table, err)
	}

	flushedBytes := int64(len(combined)) * int64(schema.RowWidth())
	w.totalBytes += flushedBytes
	w.totalRows += int64(len(combined))
	w.pending = nil
	w.pendingBytes = 0

	w.log.Debug("flushed", "rows", len(combined), "bytes", flushedBytes)
	return nil
}

// Close forces a final flush and writes the table's attribute dictionary:
// the accumulated byte and row totals merged with the caller's attributes.
func (w *TableWriter) Close(ctx context.Context, attrs map[string]any) error {
	if err := w.Flush(ctx); err != nil {
		return err
	}

	merged := make(map[string]any, len(attrs)+2)
	for k, v := range attrs {
		merged[k] = v
	}
	merged["n_bytes"] = w.totalBytes
	merged["n_rows"] = w.totalRows

	if err := w.store.SetMetadata(ctx, w.table, merged); err != nil {
		return fmt.Errorf("finalize %s metadata: %w", w.table, err)
	}
	return nil
}

// BytesWritten returns the estimated byte total flushed so far.
func (w *TableWriter) BytesWritten() int64 {
	return w.totalBytes
}

// RowsWritten returns the row total flushed so far.
func (w *TableWriter) RowsWritten() int64 {
	return w.totalRows
}

// adoptNewColumns grows the declared column set with feature keys this
// batch introduces.
func (w *TableWriter) adoptNewColumns(rows []store.Row) {
	known := make(map[string]bool, len(w.columns))
	for _, c := range w.columns {
		known[c.Name] = true
	}

	var fresh []string
	for _, row := range rows {
		for key := range row {
			if !known[key] {
				known[key] = true
				fresh = append(fresh, key)
			}
		}
	}
	// Map iteration order is random; keep the on-disk layout stable.
	sort.Strings(fresh)

	for _, name := range fresh {
		w.columns = append(w.columns, Column{
			Name:    name,
			Type:    store.Float64,
			Auto:    true,
			Default: 0.0,
		})
	}
}

// rowEstimate is the in-memory byte width of one buffered row. Unresolved
// float columns count at full width, matching their buffered
// representation.
func (w *TableWriter) rowEstimate() int {
	width := 0
	for _, c := range w.columns {
		if t, ok := w.resolved[c.Name]; ok {
			width += t.Width()
			continue
		}
		width += c.Type.Width()
	}
	return width
}

// resolveSchema pins the width of any Auto float column seeing its first
// flush, then renders the declared columns as a store schema.
func (w *TableWriter) resolveSchema(rows []store.Row) store.Schema {
	schema := make(store.Schema, 0, len(w.columns))
	for _, c := range w.columns {
		t := c.Type
		if c.Auto {
			if pinned, ok := w.resolved[c.Name]; ok {
				t = pinned
			} else {
				t = store.Float64
				if downcastable(rows, c.Name, c.Default) {
					t = store.Float32
				}
				w.resolved[c.Name] = t
			}
		}
		schema = append(schema, store.ColumnDef{Name: c.Name, Type: t, Default: c.Default})
	}
	return schema
}

// downcastable reports whether every value of the column (including the
// default for rows lacking it) survives a float32 round trip. NaN counts
// as representable.
func downcastable(rows []store.Row, name string, def any) bool {
	check := func(v any) bool {
		f, ok := v.(float64)
		if !ok {
			if f32, ok32 := v.(float32); ok32 {
				f = float64(f32)
			} else {
				return false
			}
		}
		if math.IsNaN(f) {
			return true
		}
		return float64(float32(f)) == f
	}

	if def != nil && !check(def) {
		return false
	}
	for _, row := range rows {
		v, ok := row[name]
		if !ok || v == nil {
			continue
		}
		if !check(v) {
			return false
		}
	}
	return true
}

// errClosed is returned by the run-level writer after Close.
var errClosed = everrors.ErrWriterClosed
