package writer

import (
	"fmt"

	"github.com/DataDog/sketches-go/ddsketch"

	"github.com/pixelstream/evstore/internal/record"
)

// statFeatures are the features summarized into run metadata for
// quick-look checks without reopening the full table.
var statFeatures = []string{"charge", "amp_pulse"}

// statQuantiles are the recorded quantiles per summarized feature.
var statQuantiles = []float64{0.50, 0.90, 0.99}

// RunStats accumulates DDSketch quantile summaries over selected features
// while the run is being written.
type RunStats struct {
	sketches map[string]*ddsketch.DDSketch
	counts   map[string]int64
}

// NewRunStats creates the per-run accumulator. Sketch construction only
// fails on invalid accuracy, so a failed feature is simply left out.
func NewRunStats() *RunStats {
	rs := &RunStats{
		sketches: make(map[string]*ddsketch.DDSketch, len(statFeatures)),
		counts:   make(map[string]int64, len(statFeatures)),
	}
	for _, name := range statFeatures {
		sketch, err := ddsketch.NewDefaultDDSketch(0.01)
		if err == nil {
			rs.sketches[name] = sketch
		}
	}
	return rs
}

// Observe folds every record of a batch into the sketches. Records whose
// reducer did not produce a summarized feature are skipped for it.
func (rs *RunStats) Observe(ev *record.DataEventBatch) {
	for i := range ev.Records {
		rec := &ev.Records[i]
		if rec.Features == nil {
			continue
		}
		for name, sketch := range rs.sketches {
			value, ok := rec.Features[name]
			if !ok {
				continue
			}
			if err := sketch.Add(value); err == nil {
				rs.counts[name]++
			}
		}
	}
}

// Fill writes the accumulated quantiles into a metadata attribute map,
// keyed as "<feature>_p<quantile>".
func (rs *RunStats) Fill(attrs map[string]any) {
	for name, sketch := range rs.sketches {
		if rs.counts[name] == 0 {
			continue
		}
		for _, q := range statQuantiles {
			value, err := sketch.GetValueAtQuantile(q)
			if err != nil {
				continue
			}
			attrs[fmt.Sprintf("%s_p%02d", name, int(q*100))] = value
		}
	}
}
