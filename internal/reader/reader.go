package reader

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pixelstream/evstore/internal/config"
	everrors "github.com/pixelstream/evstore/internal/errors"
	"github.com/pixelstream/evstore/internal/logging"
	"github.com/pixelstream/evstore/internal/store"
)

// Reader is the open-for-read surface of a finished run file. Data is
// always present; Monitor is nil when the file was written without a
// telemetry log.
type Reader struct {
	store *store.Store
	log   *slog.Logger

	// Data reads the per-pixel event table, grouped by event.
	Data *TableReader

	// Monitor reads the per-module telemetry table, grouped by polling
	// cycle. Nil when the run carried no telemetry.
	Monitor *TableReader
}

// Open opens a run file read-only.
func Open(path string, cfg *config.Config) (*Reader, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	s, err := store.Open(path, store.ModeRead, cfg)
	if err != nil {
		return nil, err
	}

	ctx := context.Background()

	data, err := newTableReader(ctx, s, store.TableData, "n_pixels", cfg)
	if err != nil {
		s.Close()
		return nil, err
	}

	r := &Reader{
		store: s,
		log:   logging.Component("reader"),
		Data:  data,
	}

	hasMonitor, err := s.HasTable(ctx, store.TableMonitor)
	if err != nil {
		s.Close()
		return nil, err
	}
	if hasMonitor {
		r.Monitor, err = newTableReader(ctx, s, store.TableMonitor, "n_modules", cfg)
		if err != nil {
			s.Close()
			return nil, err
		}
	}

	return r, nil
}

// MonitorColumn cross-references data records against the monitor table:
// for each monitor index (as stamped on data rows) it returns the value of
// the named telemetry column. Fails when the file was written without a
// monitor table.
func (r *Reader) MonitorColumn(ctx context.Context, indices []uint32, column string) ([]float64, error) {
	if r.Monitor == nil {
		return nil, fmt.Errorf("column %s: %w", column, everrors.ErrNoMonitorTable)
	}

	t, err := r.Monitor.SelectColumn(ctx, column)
	if err != nil {
		return nil, err
	}
	values, err := t.Float64s(column)
	if err != nil {
		return nil, err
	}

	out := make([]float64, len(indices))
	for i, idx := range indices {
		if int(idx) >= len(values) {
			return nil, fmt.Errorf("monitor index %d out of range (%d rows)", idx, len(values))
		}
		out[i] = values[idx]
	}
	return out, nil
}

// Close releases the underlying store.
func (r *Reader) Close() error {
	return r.store.Close()
}
