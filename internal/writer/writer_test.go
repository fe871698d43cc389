package writer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pixelstream/evstore/internal/config"
	everrors "github.com/pixelstream/evstore/internal/errors"
	"github.com/pixelstream/evstore/internal/record"
	"github.com/pixelstream/evstore/internal/store"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Camera.Modules = 2
	cfg.Camera.PixelsPerModule = 2
	cfg.Monitor.TimestampOffset = 0
	return cfg
}

func testEvent(event uint32, sec int) *record.DataEventBatch {
	ts := time.Date(2019, 5, 13, 12, 0, sec, 0, time.UTC)
	records := make([]record.DataRecord, 4)
	for p := range records {
		records[p] = record.DataRecord{
			Pixel:       uint32(p),
			FirstCellID: uint16(10 + p),
			TTack:       uint64(1000 + p),
			Features: map[string]float64{
				"charge":    float64(event*4 + uint32(p)),
				"amp_pulse": 1.5,
			},
		}
	}
	return record.NewDataEventBatch(event, ts, records)
}

func TestWriter_RunWithoutMonitor(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.db")
	ctx := context.Background()

	w, err := Open(path, 8, "", testConfig())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	w.AddMetadata("run_id", "r123")

	for i := 0; i < 2; i++ {
		if err := w.Append(ctx, testEvent(uint32(i), i*5)); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}
	if err := w.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s, err := store.Open(path, store.ModeRead, testConfig())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()

	hasMonitor, err := s.HasTable(ctx, store.TableMonitor)
	if err != nil {
		t.Fatalf("HasTable: %v", err)
	}
	if hasMonitor {
		t.Error("monitor table should not exist without a telemetry log")
	}

	meta, err := s.Metadata(ctx, store.TableData)
	if err != nil {
		t.Fatalf("Metadata: %v", err)
	}
	if meta["run_id"] != "r123" {
		t.Errorf("run_id = %v", meta["run_id"])
	}
	if meta["n_events"] != float64(2) {
		t.Errorf("n_events = %v, want 2", meta["n_events"])
	}
	if meta["expected_rows"] != float64(8) {
		t.Errorf("expected_rows = %v, want 8", meta["expected_rows"])
	}
	if meta["n_rows"] != float64(8) {
		t.Errorf("n_rows = %v, want 8", meta["n_rows"])
	}
	if _, ok := meta["charge_p50"].(float64); !ok {
		t.Errorf("charge_p50 missing from metadata: %v", meta["charge_p50"])
	}
	if _, ok := meta["start_time"].(string); !ok {
		t.Error("start_time missing from metadata")
	}

	// Without a telemetry log there is no monitor_index column.
	var n int64
	err = s.DB().QueryRow(
		"SELECT count(*) FROM information_schema.columns WHERE table_name = 'data' AND column_name = 'monitor_index'").Scan(&n)
	if err != nil {
		t.Fatalf("column lookup: %v", err)
	}
	if n != 0 {
		t.Error("monitor_index column should not exist")
	}
}

func TestWriter_RunWithMonitor(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run.db")
	monPath := filepath.Join(dir, "monitor.log")
	ctx := context.Background()

	log := `2019-05-13 12:00:00 TM T_PRI 0 25.0
2019-05-13 12:00:00 TM T_PRI 1 26.0
2019-05-13 12:00:00 Monitoring Event Done
2019-05-13 12:00:10 TM T_PRI 0 25.5
2019-05-13 12:00:10 TM T_PRI 1 26.5
2019-05-13 12:00:10 Monitoring Event Done
2019-05-13 12:00:20 TM T_PRI 0 27.0
2019-05-13 12:00:20 TM T_PRI 1 28.0
2019-05-13 12:00:20 Monitoring Event Done
`
	if err := os.WriteFile(monPath, []byte(log), 0644); err != nil {
		t.Fatalf("write monitor log: %v", err)
	}

	w, err := Open(path, 8, monPath, testConfig())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	// Events at t=5s and t=15s land in cycles 0 and 1.
	if err := w.Append(ctx, testEvent(0, 5)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := w.Append(ctx, testEvent(1, 15)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := w.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s, err := store.Open(path, store.ModeRead, testConfig())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()

	// All three cycles reach the monitor table, matched or not.
	var n int64
	if err := s.DB().QueryRow(`SELECT count(*) FROM "monitor"`).Scan(&n); err != nil {
		t.Fatalf("monitor count: %v", err)
	}
	if n != 6 {
		t.Errorf("monitor rows = %d, want 6 (3 cycles x 2 modules)", n)
	}

	// index = cycle*modules + pixel/tmpix
	rows, err := s.DB().Query(`SELECT iev, pixel, monitor_index FROM "data" ORDER BY iev, pixel`)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	defer rows.Close()

	want := map[[2]uint32]uint32{
		{0, 0}: 0, {0, 1}: 0, {0, 2}: 1, {0, 3}: 1,
		{1, 0}: 2, {1, 1}: 2, {1, 2}: 3, {1, 3}: 3,
	}
	seen := 0
	for rows.Next() {
		var iev, pixel, idx uint32
		if err := rows.Scan(&iev, &pixel, &idx); err != nil {
			t.Fatalf("scan: %v", err)
		}
		if exp := want[[2]uint32{iev, pixel}]; idx != exp {
			t.Errorf("event %d pixel %d: monitor_index = %d, want %d", iev, pixel, idx, exp)
		}
		seen++
	}
	if seen != 8 {
		t.Errorf("data rows = %d, want 8", seen)
	}

	meta, err := s.Metadata(ctx, store.TableMonitor)
	if err != nil {
		t.Fatalf("monitor metadata: %v", err)
	}
	if meta["n_events"] != float64(3) {
		t.Errorf("monitor n_events = %v, want 3", meta["n_events"])
	}
	if meta["input_path"] != monPath {
		t.Errorf("input_path = %v", meta["input_path"])
	}
}

func TestWriter_MissingMonitorLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.db")

	if _, err := Open(path, 0, filepath.Join(t.TempDir(), "nope.log"), testConfig()); err == nil {
		t.Fatal("expected error for missing monitor log")
	}
}

func TestWriter_EmptyMonitorLog(t *testing.T) {
	dir := t.TempDir()
	monPath := filepath.Join(dir, "monitor.log")
	if err := os.WriteFile(monPath, nil, 0644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	_, err := Open(filepath.Join(dir, "run.db"), 0, monPath, testConfig())
	if !errors.Is(err, everrors.ErrNoMonitorEvents) {
		t.Fatalf("err = %v, want ErrNoMonitorEvents", err)
	}
}

func TestWriter_AppendAfterClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.db")
	ctx := context.Background()

	w, err := Open(path, 0, "", testConfig())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := w.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if err := w.Append(ctx, testEvent(0, 0)); !errors.Is(err, everrors.ErrWriterClosed) {
		t.Errorf("Append after close = %v, want ErrWriterClosed", err)
	}
	// A second Close is a no-op.
	if err := w.Close(ctx); err != nil {
		t.Errorf("second Close = %v", err)
	}
}
