package record

import (
	"math"
	"testing"
	"time"
)

func TestNewDataEventBatch_StampsRecords(t *testing.T) {
	ts := time.Date(2019, 5, 13, 12, 0, 0, 0, time.UTC)

	records := []DataRecord{
		{Pixel: 0, FirstCellID: 10},
		{Pixel: 1, FirstCellID: 11},
	}

	b := NewDataEventBatch(7, ts, records)

	if b.Event != 7 {
		t.Errorf("Event = %d, want 7", b.Event)
	}
	for i, rec := range b.Records {
		if rec.Event != 7 {
			t.Errorf("record %d: Event = %d, want 7", i, rec.Event)
		}
		if !rec.TCpu.Equal(ts) {
			t.Errorf("record %d: TCpu = %v, want %v", i, rec.TCpu, ts)
		}
	}
}

func TestDataRecord_Feature(t *testing.T) {
	rec := DataRecord{Features: map[string]float64{"charge": 42.5}}

	if got := rec.Feature("charge"); got != 42.5 {
		t.Errorf("Feature(charge) = %v, want 42.5", got)
	}
	if got := rec.Feature("fwhm"); got != 0 {
		t.Errorf("Feature(fwhm) = %v, want 0", got)
	}

	var empty DataRecord
	if got := empty.Feature("charge"); got != 0 {
		t.Errorf("Feature on nil map = %v, want 0", got)
	}
}

func TestNewMonitorEventBatch_Seeding(t *testing.T) {
	b := NewMonitorEventBatch(4)

	if len(b.Snapshots) != 4 {
		t.Fatalf("got %d snapshots, want 4", len(b.Snapshots))
	}
	for m, snap := range b.Snapshots {
		if int(snap.Module) != m {
			t.Errorf("snapshot %d: Module = %d", m, snap.Module)
		}
		if len(snap.Readings) != len(SupportedReadings) {
			t.Errorf("snapshot %d: %d readings, want %d", m, len(snap.Readings), len(SupportedReadings))
		}
		for _, key := range SupportedReadings {
			if !math.IsNaN(snap.Readings[key]) {
				t.Errorf("snapshot %d: %s = %v, want NaN", m, key, snap.Readings[key])
			}
		}
	}
	if b.Synthetic {
		t.Error("fresh batch should not be synthetic")
	}
}

func TestMonitorEventBatch_Stamp(t *testing.T) {
	ts := time.Date(2019, 5, 13, 12, 0, 0, 0, time.UTC)

	b := NewMonitorEventBatch(2)
	b.Stamp(3, ts)

	if b.Cycle != 3 {
		t.Errorf("Cycle = %d, want 3", b.Cycle)
	}
	for i, snap := range b.Snapshots {
		if snap.Cycle != 3 {
			t.Errorf("snapshot %d: Cycle = %d, want 3", i, snap.Cycle)
		}
		if !snap.TCpu.Equal(ts) {
			t.Errorf("snapshot %d: TCpu = %v, want %v", i, snap.TCpu, ts)
		}
	}
}

func TestMonitorEventBatch_Set(t *testing.T) {
	b := NewMonitorEventBatch(2)

	b.Set(1, "TM_T_PRI", 25.5)
	if got := b.Snapshots[1].Readings["TM_T_PRI"]; got != 25.5 {
		t.Errorf("reading = %v, want 25.5", got)
	}

	// Out-of-range module ids are ignored, not panicked on.
	b.Set(-1, "TM_T_PRI", 1.0)
	b.Set(2, "TM_T_PRI", 1.0)
	if !math.IsNaN(b.Snapshots[0].Readings["TM_T_PRI"]) {
		t.Error("module 0 should be untouched")
	}
}

func TestMonitorEventBatch_Extrapolated(t *testing.T) {
	ts := time.Date(2019, 5, 13, 12, 0, 0, 0, time.UTC)

	b := NewMonitorEventBatch(2)
	b.Set(0, "TM_T_PRI", 25.5)
	b.Stamp(5, ts)

	next := b.Extrapolated(10 * time.Second)

	if next.Cycle != 6 {
		t.Errorf("Cycle = %d, want 6", next.Cycle)
	}
	if want := ts.Add(10 * time.Second); !next.TCpu.Equal(want) {
		t.Errorf("TCpu = %v, want %v", next.TCpu, want)
	}
	if !next.Synthetic {
		t.Error("extrapolated batch must be synthetic")
	}
	if !math.IsNaN(next.Snapshots[0].Readings["TM_T_PRI"]) {
		t.Error("extrapolated readings must be NaN")
	}
}
