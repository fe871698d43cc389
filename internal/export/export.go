// Package export converts a finished run file into Parquet, one file per
// table, for downstream analysis tooling that speaks Parquet rather than
// the run format. Both tables are exported concurrently; each export
// streams through the chunk cursor, so memory stays bounded.
package export

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"
	"golang.org/x/sync/errgroup"

	"github.com/pixelstream/evstore/internal/reader"
)

// Options configures the Parquet export.
type Options struct {
	// Compression algorithm
	Compression CompressionType
}

// CompressionType represents a Parquet compression algorithm.
type CompressionType int

const (
	CompressionNone CompressionType = iota
	CompressionSnappy
	CompressionZstd
	CompressionLZ4
	CompressionGzip
)

// DefaultOptions returns default export options.
func DefaultOptions() Options {
	return Options{Compression: CompressionZstd}
}

// ParseCompressionType parses a compression type string.
func ParseCompressionType(s string) CompressionType {
	switch s {
	case "snappy":
		return CompressionSnappy
	case "zstd":
		return CompressionZstd
	case "lz4":
		return CompressionLZ4
	case "gzip":
		return CompressionGzip
	case "none", "":
		return CompressionNone
	default:
		return CompressionZstd
	}
}

// getCompression returns the parquet-go compression codec.
func getCompression(ct CompressionType) compress.Codec {
	switch ct {
	case CompressionSnappy:
		return &parquet.Snappy
	case CompressionZstd:
		return &parquet.Zstd
	case CompressionLZ4:
		return &parquet.Lz4Raw
	case CompressionGzip:
		return &parquet.Gzip
	default:
		return &parquet.Uncompressed
	}
}

// DataRow is one data-table record in Parquet form. The canonical feature
// set is exported; run-specific extra columns stay in the run file.
type DataRow struct {
	Event             uint32  `parquet:"iev"`
	Pixel             uint32  `parquet:"pixel"`
	FirstCellID       uint32  `parquet:"first_cell_id"`
	TTack             uint64  `parquet:"t_tack"`
	TCpuUs            int64   `parquet:"t_cpu_us"`
	MonitorIndex      uint32  `parquet:"monitor_index,optional"`
	TEvent            float64 `parquet:"t_event"`
	TPulse            float64 `parquet:"t_pulse"`
	AmpPulse          float64 `parquet:"amp_pulse"`
	Charge            float64 `parquet:"charge"`
	FWHM              float64 `parquet:"fwhm"`
	TR                float64 `parquet:"tr"`
	BaselineStartMean float64 `parquet:"baseline_start_mean"`
	BaselineStartRMS  float64 `parquet:"baseline_start_rms"`
	BaselineEndMean   float64 `parquet:"baseline_end_mean"`
	BaselineEndRMS    float64 `parquet:"baseline_end_rms"`
	BaselineSubbed    float64 `parquet:"baseline_subtracted"`
	WaveformMean      float64 `parquet:"waveform_mean"`
	WaveformRMS       float64 `parquet:"waveform_rms"`
	SaturationCoeff   float64 `parquet:"saturation_coeff"`
}

// MonitorRow is one monitor-table snapshot in Parquet form.
type MonitorRow struct {
	Cycle  uint32  `parquet:"imon"`
	TCpuUs int64   `parquet:"t_cpu_us"`
	Module uint32  `parquet:"module"`
	TPri   float64 `parquet:"TM_T_PRI"`
	TAux   float64 `parquet:"TM_T_AUX"`
	TPsu   float64 `parquet:"TM_T_PSU"`
	TSipm  float64 `parquet:"TM_T_SIPM"`
}

// Run exports every table of the run to <dir>/data.parquet and, when the
// run carries telemetry, <dir>/monitor.parquet.
func Run(ctx context.Context, r *reader.Reader, dir string, opts Options) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create export directory: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return exportData(ctx, r.Data, filepath.Join(dir, "data.parquet"), opts)
	})
	if r.Monitor != nil {
		g.Go(func() error {
			return exportMonitor(ctx, r.Monitor, filepath.Join(dir, "monitor.parquet"), opts)
		})
	}

	return g.Wait()
}

func exportData(ctx context.Context, tr *reader.TableReader, path string, opts Options) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}

	w := parquet.NewGenericWriter[DataRow](f,
		parquet.Compression(getCompression(opts.Compression)))

	cursor, err := tr.Chunks(ctx, 0)
	if err != nil {
		f.Close()
		return err
	}
	defer cursor.Close()

	for {
		chunk, err := cursor.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			f.Close()
			return err
		}

		rows := make([]DataRow, chunk.NumRows())
		for i := range rows {
			rows[i] = DataRow{
				Event:             cellUint32(chunk, i, "iev"),
				Pixel:             cellUint32(chunk, i, "pixel"),
				FirstCellID:       cellUint32(chunk, i, "first_cell_id"),
				TTack:             cellUint64(chunk, i, "t_tack"),
				TCpuUs:            cellTimeUs(chunk, i, "t_cpu"),
				MonitorIndex:      cellUint32(chunk, i, "monitor_index"),
				TEvent:            cellFloat64(chunk, i, "t_event"),
				TPulse:            cellFloat64(chunk, i, "t_pulse"),
				AmpPulse:          cellFloat64(chunk, i, "amp_pulse"),
				Charge:            cellFloat64(chunk, i, "charge"),
				FWHM:              cellFloat64(chunk, i, "fwhm"),
				TR:                cellFloat64(chunk, i, "tr"),
				BaselineStartMean: cellFloat64(chunk, i, "baseline_start_mean"),
				BaselineStartRMS:  cellFloat64(chunk, i, "baseline_start_rms"),
				BaselineEndMean:   cellFloat64(chunk, i, "baseline_end_mean"),
				BaselineEndRMS:    cellFloat64(chunk, i, "baseline_end_rms"),
				BaselineSubbed:    cellFloat64(chunk, i, "baseline_subtracted"),
				WaveformMean:      cellFloat64(chunk, i, "waveform_mean"),
				WaveformRMS:       cellFloat64(chunk, i, "waveform_rms"),
				SaturationCoeff:   cellFloat64(chunk, i, "saturation_coeff"),
			}
		}

		if _, err := w.Write(rows); err != nil {
			f.Close()
			return fmt.Errorf("write rows: %w", err)
		}
	}

	if err := w.Close(); err != nil {
		f.Close()
		return fmt.Errorf("close writer: %w", err)
	}
	return f.Close()
}

func exportMonitor(ctx context.Context, tr *reader.TableReader, path string, opts Options) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}

	w := parquet.NewGenericWriter[MonitorRow](f,
		parquet.Compression(getCompression(opts.Compression)))

	cursor, err := tr.Chunks(ctx, 0)
	if err != nil {
		f.Close()
		return err
	}
	defer cursor.Close()

	for {
		chunk, err := cursor.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			f.Close()
			return err
		}

		rows := make([]MonitorRow, chunk.NumRows())
		for i := range rows {
			rows[i] = MonitorRow{
				Cycle:  cellUint32(chunk, i, "imon"),
				TCpuUs: cellTimeUs(chunk, i, "t_cpu"),
				Module: cellUint32(chunk, i, "module"),
				TPri:   cellFloat64(chunk, i, "TM_T_PRI"),
				TAux:   cellFloat64(chunk, i, "TM_T_AUX"),
				TPsu:   cellFloat64(chunk, i, "TM_T_PSU"),
				TSipm:  cellFloat64(chunk, i, "TM_T_SIPM"),
			}
		}

		if _, err := w.Write(rows); err != nil {
			f.Close()
			return fmt.Errorf("write rows: %w", err)
		}
	}

	if err := w.Close(); err != nil {
		f.Close()
		return fmt.Errorf("close writer: %w", err)
	}
	return f.Close()
}

// Cell accessors tolerant of absent columns (zero value).

func cellUint32(t *reader.Table, row int, col string) uint32 {
	switch v := t.Value(row, col).(type) {
	case uint8:
		return uint32(v)
	case uint16:
		return uint32(v)
	case uint32:
		return v
	case uint64:
		return uint32(v)
	case int64:
		return uint32(v)
	default:
		return 0
	}
}

func cellUint64(t *reader.Table, row int, col string) uint64 {
	switch v := t.Value(row, col).(type) {
	case uint32:
		return uint64(v)
	case uint64:
		return v
	case int64:
		return uint64(v)
	default:
		return 0
	}
}

func cellFloat64(t *reader.Table, row int, col string) float64 {
	switch v := t.Value(row, col).(type) {
	case float32:
		return float64(v)
	case float64:
		return v
	default:
		return 0
	}
}

func cellTimeUs(t *reader.Table, row int, col string) int64 {
	if ts, ok := t.Value(row, col).(time.Time); ok {
		return ts.UnixMicro()
	}
	return 0
}
