package writer

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/pixelstream/evstore/internal/config"
	"github.com/pixelstream/evstore/internal/logging"
	"github.com/pixelstream/evstore/internal/monitor"
	"github.com/pixelstream/evstore/internal/record"
	"github.com/pixelstream/evstore/internal/store"
)

// Writer is the open-for-write surface of a run file. It owns the store,
// the buffered table writers for both tables, and (when a telemetry log is
// supplied) the monitor stream aligner. All operations are synchronous and
// single-threaded; Append must be called in event order.
type Writer struct {
	cfg   *config.Config
	log   *slog.Logger
	store *store.Store

	data *TableWriter
	mon  *TableWriter

	aligner *monitor.Aligner

	expectedRows int64
	nEvents      int64
	startTime    time.Time
	endTime      time.Time
	stats        *RunStats

	meta   map[string]any
	closed bool
}

// Open creates the run file at path. expectedRows sizes the metadata
// only; it does not preallocate. monitorPath may be empty, in which case
// the file is written without a monitor table and without the
// monitor_index column.
func Open(path string, expectedRows int64, monitorPath string, cfg *config.Config) (*Writer, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	s, err := store.Open(path, store.ModeWrite, cfg)
	if err != nil {
		return nil, err
	}

	w := &Writer{
		cfg:          cfg,
		log:          logging.Component("writer"),
		store:        s,
		expectedRows: expectedRows,
		stats:        NewRunStats(),
		meta:         make(map[string]any),
	}

	w.data = NewTableWriter(s, store.TableData,
		dataColumns(monitorPath != ""), cfg.Flush.ThresholdBytes, sortByEventPixel)

	if monitorPath != "" {
		w.mon = NewTableWriter(s, store.TableMonitor,
			monitorColumns(), cfg.Flush.ThresholdBytes, nil)

		sink := monitorSink{tw: w.mon}
		reader, err := monitor.NewReader(monitorPath,
			cfg.Camera.Modules, cfg.Camera.PixelsPerModule, cfg.Monitor.TimestampOffset, sink)
		if err != nil {
			s.Close()
			return nil, err
		}

		w.aligner, err = monitor.NewAligner(reader,
			sink, cfg.Camera.Modules, cfg.Camera.PixelsPerModule)
		if err != nil {
			reader.Close()
			s.Close()
			return nil, err
		}
	}

	w.log.Info("created run file", "path", path, "expected_rows", expectedRows,
		"monitor", monitorPath != "")
	return w, nil
}

// Append consumes one data event batch: the aligner stamps every record
// with its monitor index, run statistics are accumulated, and the rows are
// buffered toward the next flush.
func (w *Writer) Append(ctx context.Context, ev *record.DataEventBatch) error {
	if w.closed {
		return errClosed
	}

	if w.aligner != nil {
		if err := w.aligner.Match(ev); err != nil {
			return fmt.Errorf("align event %d: %w", ev.Event, err)
		}
	}

	w.stats.Observe(ev)

	if w.nEvents == 0 {
		w.startTime = ev.TCpu
	}
	w.endTime = ev.TCpu
	w.nEvents++

	return w.data.Append(ctx, dataRows(ev, w.aligner != nil))
}

// AddMetadata attaches a run-level attribute to the data table. Values
// accumulate across calls and are written once, at Close.
func (w *Writer) AddMetadata(key string, value any) {
	w.meta[key] = value
}

// Close drains the telemetry stream so unmatched cycles still reach the
// monitor table, force-flushes both table writers, writes both attribute
// dictionaries, and closes the store.
func (w *Writer) Close(ctx context.Context) error {
	if w.closed {
		return nil
	}
	w.closed = true

	if w.aligner != nil {
		if err := w.aligner.Drain(); err != nil {
			return fmt.Errorf("drain monitor stream: %w", err)
		}
	}

	attrs := make(map[string]any, len(w.meta)+8)
	for k, v := range w.meta {
		attrs[k] = v
	}
	attrs["expected_rows"] = w.expectedRows
	attrs["n_events"] = w.nEvents
	attrs["n_pixels"] = int64(w.cfg.Camera.Pixels())
	attrs["n_modules"] = int64(w.cfg.Camera.Modules)
	attrs["n_tmpix"] = int64(w.cfg.Camera.PixelsPerModule)
	if w.nEvents > 0 {
		attrs["start_time"] = w.startTime.UTC().Format(time.RFC3339Nano)
		attrs["end_time"] = w.endTime.UTC().Format(time.RFC3339Nano)
	}
	w.stats.Fill(attrs)

	if err := w.data.Close(ctx, attrs); err != nil {
		return err
	}

	if w.mon != nil {
		if err := w.mon.Close(ctx, w.aligner.Metadata()); err != nil {
			return err
		}
		if err := w.aligner.Close(); err != nil {
			return err
		}
	}

	w.log.Info("finalized run file", "path", w.store.Path(),
		"events", w.nEvents, "rows", w.data.RowsWritten(), "bytes", w.data.BytesWritten())
	return w.store.Close()
}

// dataColumns declares the fixed layout of the data table. The enumerated
// feature columns are Auto floats defaulting to zero; the monitor_index
// column exists only when a telemetry log was supplied.
func dataColumns(withMonitor bool) []Column {
	cols := []Column{
		{Name: "iev", Type: store.Uint32},
		{Name: "pixel", Type: store.Uint32},
		{Name: "first_cell_id", Type: store.Uint16},
		{Name: "t_tack", Type: store.Uint64},
		{Name: "t_cpu", Type: store.Timestamp},
	}
	if withMonitor {
		cols = append(cols, Column{Name: "monitor_index", Type: store.Uint32})
	}
	for _, name := range record.DefaultFeatureColumns {
		cols = append(cols, Column{Name: name, Type: store.Float64, Auto: true, Default: 0.0})
	}
	return cols
}

// monitorColumns declares the fixed layout of the monitor table. Readings
// default to NaN: a module the log never reported stays not-a-number.
func monitorColumns() []Column {
	cols := []Column{
		{Name: "imon", Type: store.Uint32},
		{Name: "t_cpu", Type: store.Timestamp},
		{Name: "module", Type: store.Uint8},
	}
	for _, name := range record.SupportedReadings {
		cols = append(cols, Column{Name: name, Type: store.Float64, Auto: true, Default: math.NaN()})
	}
	return cols
}

// dataRows converts one event batch into store rows.
func dataRows(ev *record.DataEventBatch, withMonitor bool) []store.Row {
	rows := make([]store.Row, len(ev.Records))
	for i := range ev.Records {
		rec := &ev.Records[i]
		row := store.Row{
			"iev":           rec.Event,
			"pixel":         rec.Pixel,
			"first_cell_id": rec.FirstCellID,
			"t_tack":        rec.TTack,
			"t_cpu":         rec.TCpu,
		}
		if withMonitor {
			row["monitor_index"] = rec.MonitorIndex
		}
		for name, value := range rec.Features {
			row[name] = value
		}
		rows[i] = row
	}
	return rows
}

// monitorRows converts one monitor batch into store rows.
func monitorRows(b *record.MonitorEventBatch) []store.Row {
	rows := make([]store.Row, len(b.Snapshots))
	for i := range b.Snapshots {
		snap := &b.Snapshots[i]
		row := store.Row{
			"imon":   snap.Cycle,
			"t_cpu":  snap.TCpu,
			"module": snap.Module,
		}
		for name, value := range snap.Readings {
			row[name] = value
		}
		rows[i] = row
	}
	return rows
}

// sortByEventPixel orders a combined flush batch by (event, pixel),
// keeping range scans by event contiguous on disk.
func sortByEventPixel(rows []store.Row) {
	sort.Slice(rows, func(i, j int) bool {
		ei, ej := rows[i]["iev"].(uint32), rows[j]["iev"].(uint32)
		if ei != ej {
			return ei < ej
		}
		return rows[i]["pixel"].(uint32) < rows[j]["pixel"].(uint32)
	})
}

// monitorSink feeds parsed and terminal monitor batches into the monitor
// table writer. The write path is single-threaded, so a background context
// is sufficient here.
type monitorSink struct {
	tw *TableWriter
}

func (s monitorSink) AppendMonitor(b *record.MonitorEventBatch) error {
	return s.tw.Append(context.Background(), monitorRows(b))
}

var _ monitor.Sink = monitorSink{}
