package monitor

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	everrors "github.com/pixelstream/evstore/internal/errors"
	"github.com/pixelstream/evstore/internal/logging"
	"github.com/pixelstream/evstore/internal/record"
)

// Aligner performs the online temporal join between the data-event stream
// and the monitor-cycle stream: each data batch is stamped with the index
// of the monitor cycle valid at its wall-clock time.
//
// The join is a watermark: current and lookahead only ever advance, so the
// caller must present data batches in non-decreasing timestamp order.
// Out-of-order batches are matched against the current watermark as-is; the
// aligner never rewinds.
//
// Once the real telemetry stream is exhausted the aligner keeps
// extrapolating: synthetic cycles continue at the largest gap observed
// between consecutive real cycles, so monitor indices stay defined and
// monotonic for arbitrarily long data streams. The first synthetic cycle a
// data event actually lands in is written to the monitor table once, with
// every reading NaN, marking the tail of the telemetry record.
type Aligner struct {
	reader *Reader
	sink   Sink
	log    *slog.Logger

	modules uint32
	tmpix   uint32

	current     *record.MonitorEventBatch
	lookahead   *record.MonitorEventBatch
	exhausted   bool
	tailEmitted bool
	maxGap      time.Duration
}

// NewAligner pulls the first monitor cycle and primes the watermark with
// it. An empty telemetry log is an error.
func NewAligner(reader *Reader, sink Sink, modules, tmpix int) (*Aligner, error) {
	first, err := reader.Next()
	if err == io.EOF {
		return nil, fmt.Errorf("%s: %w", reader.path, everrors.ErrNoMonitorEvents)
	}
	if err != nil {
		return nil, err
	}

	return &Aligner{
		reader:    reader,
		sink:      sink,
		log:       logging.Component("aligner"),
		modules:   uint32(modules),
		tmpix:     uint32(tmpix),
		current:   first,
		lookahead: first,
	}, nil
}

// Match advances the watermark until the lookahead cycle is no earlier
// than the data batch, then stamps every record with its monitor index:
//
//	index = cycle*modules + pixel/tmpix
func (a *Aligner) Match(ev *record.DataEventBatch) error {
	for ev.TCpu.After(a.lookahead.TCpu) {
		if !a.exhausted {
			next, err := a.reader.Next()
			if err == nil {
				if gap := next.TCpu.Sub(a.lookahead.TCpu); gap > a.maxGap {
					a.maxGap = gap
				}
				a.current = a.lookahead
				a.lookahead = next
				continue
			}
			if err != io.EOF {
				return err
			}
			a.exhausted = true
			a.log.Warn("end of monitor events reached, extrapolating with NaN readings",
				"last_cycle", a.lookahead.Cycle, "max_gap", a.maxGap)
		}

		// Synthetic advance. A zero gap (single-cycle log) would stall
		// the loop, so jump straight to the event timestamp instead.
		step := a.maxGap
		if step <= 0 {
			step = ev.TCpu.Sub(a.lookahead.TCpu)
		}

		a.current = a.lookahead
		a.lookahead = a.current.Extrapolated(step)

		if a.current.Synthetic && !a.tailEmitted {
			a.tailEmitted = true
			if a.sink != nil {
				if err := a.sink.AppendMonitor(a.current); err != nil {
					return fmt.Errorf("append terminal monitor batch: %w", err)
				}
			}
		}
	}

	base := a.current.Cycle * a.modules
	for i := range ev.Records {
		rec := &ev.Records[i]
		rec.MonitorIndex = base + rec.Pixel/a.tmpix
	}
	return nil
}

// Current returns the monitor cycle the watermark points at.
func (a *Aligner) Current() *record.MonitorEventBatch {
	return a.current
}

// MaxGap returns the largest timestamp delta observed between consecutive
// real monitor cycles.
func (a *Aligner) MaxGap() time.Duration {
	return a.maxGap
}

// Drain consumes the rest of the telemetry log so unmatched cycles still
// reach the monitor table, and finalizes the reader's metadata.
func (a *Aligner) Drain() error {
	return a.reader.Drain()
}

// Metadata exposes the reader's aggregate metadata after Drain.
func (a *Aligner) Metadata() map[string]any {
	return a.reader.Metadata()
}

// Close releases the underlying reader.
func (a *Aligner) Close() error {
	return a.reader.Close()
}
