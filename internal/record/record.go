// Package record defines the data units flowing through the evstore
// pipeline: per-pixel event records produced by the upstream waveform
// reducer, and per-module monitor snapshots parsed from the telemetry log.
package record

import (
	"math"
	"time"
)

// DefaultFeatureColumns is the enumerated set of waveform-derived feature
// columns. Every data flush back-fills the ones the reducer did not
// produce with zero, so the on-disk schema is identical across runs.
var DefaultFeatureColumns = []string{
	"t_event",
	"t_pulse",
	"amp_pulse",
	"charge",
	"fwhm",
	"tr",
	"baseline_start_mean",
	"baseline_start_rms",
	"baseline_end_mean",
	"baseline_end_rms",
	"baseline_subtracted",
	"waveform_mean",
	"waveform_rms",
	"saturation_coeff",
}

// SupportedReadings is the set of telemetry keys recorded from the monitor
// log. Keys are formed as device + "_" + measurement; anything else in the
// log is ignored.
var SupportedReadings = []string{
	"TM_T_PRI",
	"TM_T_AUX",
	"TM_T_PSU",
	"TM_T_SIPM",
}

// DataRecord is one row of the "data" table: the reduced waveform of one
// pixel in one event.
type DataRecord struct {
	// Event is the event index, monotonic within a run.
	Event uint32

	// Pixel is the camera-wide pixel id.
	Pixel uint32

	// FirstCellID identifies the sampling cell the waveform started at.
	FirstCellID uint16

	// TTack is the hardware timestamp counter.
	TTack uint64

	// TCpu is the wall-clock timestamp of the event.
	TCpu time.Time

	// MonitorIndex is stamped by the stream aligner before the record
	// reaches the writer. Zero until aligned.
	MonitorIndex uint32

	// Features holds the waveform-derived scalars the reducer produced.
	// Keys outside DefaultFeatureColumns become additional table columns.
	Features map[string]float64
}

// Feature returns the named feature, or 0 if the reducer did not produce it.
func (r *DataRecord) Feature(name string) float64 {
	if r.Features == nil {
		return 0
	}
	return r.Features[name]
}

// DataEventBatch is the complete set of DataRecords for one event, one row
// per pixel. It is constructed by the upstream reducer, consumed exactly
// once by the writer, and never mutated after Append.
type DataEventBatch struct {
	// Event is the event index shared by all records.
	Event uint32

	// TCpu is the wall-clock timestamp shared by all records.
	TCpu time.Time

	// Records holds one record per pixel, unique pixel ids.
	Records []DataRecord
}

// NewDataEventBatch builds a batch and stamps the shared event index and
// timestamp onto every record.
func NewDataEventBatch(event uint32, tCpu time.Time, records []DataRecord) *DataEventBatch {
	for i := range records {
		records[i].Event = event
		records[i].TCpu = tCpu
	}
	return &DataEventBatch{Event: event, TCpu: tCpu, Records: records}
}

// MonitorSnapshot is one row of the "monitor" table: the telemetry readings
// of one module during one polling cycle.
type MonitorSnapshot struct {
	// Cycle is the monitor-cycle index, strictly increasing per run.
	Cycle uint32

	// TCpu is the cycle timestamp, shared by all modules of the cycle.
	TCpu time.Time

	// Module is the module id.
	Module uint8

	// Readings holds the supported telemetry values; missing = NaN.
	Readings map[string]float64
}

// MonitorEventBatch is all MonitorSnapshots of one polling cycle, one row
// per module.
type MonitorEventBatch struct {
	// Cycle is the monitor-cycle index.
	Cycle uint32

	// TCpu is the cycle timestamp.
	TCpu time.Time

	// Snapshots holds one snapshot per module, sequential module ids.
	Snapshots []MonitorSnapshot

	// Synthetic marks batches extrapolated past the end of the real
	// telemetry stream.
	Synthetic bool
}

// NewMonitorEventBatch returns a fresh batch with sequential module ids and
// every supported reading seeded to NaN.
func NewMonitorEventBatch(modules int) *MonitorEventBatch {
	b := &MonitorEventBatch{
		Snapshots: make([]MonitorSnapshot, modules),
	}
	for m := range b.Snapshots {
		readings := make(map[string]float64, len(SupportedReadings))
		for _, key := range SupportedReadings {
			readings[key] = math.NaN()
		}
		b.Snapshots[m] = MonitorSnapshot{
			Module:   uint8(m),
			Readings: readings,
		}
	}
	return b
}

// Stamp sets the cycle index and timestamp on the batch and all its
// snapshots. Called once per cycle, when the terminator line is seen.
func (b *MonitorEventBatch) Stamp(cycle uint32, tCpu time.Time) {
	b.Cycle = cycle
	b.TCpu = tCpu
	for i := range b.Snapshots {
		b.Snapshots[i].Cycle = cycle
		b.Snapshots[i].TCpu = tCpu
	}
}

// Set records a telemetry value for one module. Out-of-range module ids
// are ignored, matching the forgiving behavior of the log parser.
func (b *MonitorEventBatch) Set(module int, key string, value float64) {
	if module < 0 || module >= len(b.Snapshots) {
		return
	}
	b.Snapshots[module].Readings[key] = value
}

// Extrapolated returns a synthetic successor batch: next cycle index, the
// timestamp advanced by step, all readings NaN.
func (b *MonitorEventBatch) Extrapolated(step time.Duration) *MonitorEventBatch {
	next := NewMonitorEventBatch(len(b.Snapshots))
	next.Stamp(b.Cycle+1, b.TCpu.Add(step))
	next.Synthetic = true
	return next
}
