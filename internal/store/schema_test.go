package store

import (
	"math"
	"testing"
	"time"
)

func TestCreateTableSQL(t *testing.T) {
	schema := Schema{
		{Name: "iev", Type: Uint32},
		{Name: "charge", Type: Float32},
	}
	got := createTableSQL("data", schema)
	want := `CREATE TABLE "data" ("iev" UINTEGER, "charge" REAL)`
	if got != want {
		t.Errorf("createTableSQL = %q, want %q", got, want)
	}
}

func TestAddColumnSQL(t *testing.T) {
	got := addColumnSQL("data", ColumnDef{Name: "extra", Type: Float64, Default: 0.0})
	want := `ALTER TABLE "data" ADD COLUMN "extra" DOUBLE DEFAULT 0`
	if got != want {
		t.Errorf("addColumnSQL = %q, want %q", got, want)
	}

	// NaN has no numeric literal; it is rendered as a cast.
	got = addColumnSQL("monitor", ColumnDef{Name: "TM_T_PRI", Type: Float32, Default: math.NaN()})
	want = `ALTER TABLE "monitor" ADD COLUMN "TM_T_PRI" REAL DEFAULT CAST('NaN' AS REAL)`
	if got != want {
		t.Errorf("addColumnSQL NaN = %q, want %q", got, want)
	}
}

func TestCoerceValue(t *testing.T) {
	if v, err := coerceValue(Uint8, uint8(7)); err != nil || v != uint8(7) {
		t.Errorf("Uint8: %v, %v", v, err)
	}
	if v, err := coerceValue(Uint32, uint32(7)); err != nil || v != uint32(7) {
		t.Errorf("Uint32: %v, %v", v, err)
	}
	if v, err := coerceValue(Float32, 1.5); err != nil || v != float32(1.5) {
		t.Errorf("Float32: %v, %v", v, err)
	}
	if v, err := coerceValue(Float64, float32(1.5)); err != nil || v != 1.5 {
		t.Errorf("Float64: %v, %v", v, err)
	}

	ts := time.Now()
	if v, err := coerceValue(Timestamp, ts); err != nil || v != ts {
		t.Errorf("Timestamp: %v, %v", v, err)
	}
	if _, err := coerceValue(Timestamp, "not a time"); err == nil {
		t.Error("Timestamp from string should fail")
	}
	if _, err := coerceValue(Uint32, "seven"); err == nil {
		t.Error("Uint32 from string should fail")
	}

	if v, err := coerceValue(Float64, nil); err != nil || v != nil {
		t.Errorf("nil should pass through, got %v, %v", v, err)
	}
}

func TestSchema_RowWidth(t *testing.T) {
	schema := Schema{
		{Name: "module", Type: Uint8},
		{Name: "first_cell_id", Type: Uint16},
		{Name: "iev", Type: Uint32},
		{Name: "t_tack", Type: Uint64},
		{Name: "charge", Type: Float32},
		{Name: "t_cpu", Type: Timestamp},
	}
	if w := schema.RowWidth(); w != 1+2+4+8+4+8 {
		t.Errorf("RowWidth = %d", w)
	}
}
