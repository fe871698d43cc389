// Package monitor parses the camera telemetry log into per-cycle monitor
// batches and aligns them against the data-event stream.
//
// The log is an ordered sequence of lines, one polling cycle at a time:
// sample lines ("<date> <time> <device> <measurement> <id> <value> ...")
// followed by a cycle terminator containing "Monitoring Event Done". The
// reader is a single-pass, pull-based cursor; it is advanced only by the
// aligner so that ordering against the data stream is preserved.
package monitor

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	everrors "github.com/pixelstream/evstore/internal/errors"
	"github.com/pixelstream/evstore/internal/logging"
	"github.com/pixelstream/evstore/internal/record"
)

// cycleDoneMarker terminates one polling cycle in the log.
const cycleDoneMarker = "Monitoring Event Done"

// Sink receives every parsed (or synthesized terminal) monitor batch so it
// ends up in the "monitor" table regardless of whether any data event
// matched it.
type Sink interface {
	AppendMonitor(batch *record.MonitorEventBatch) error
}

// Reader lazily parses the telemetry log, one cycle per Next call.
type Reader struct {
	path    string
	file    *os.File
	scanner *bufio.Scanner
	sink    Sink
	log     *slog.Logger

	modules int
	tmpix   int
	offset  time.Duration

	supported map[string]bool

	batch     *record.MonitorEventBatch
	cycle     uint32
	startTime time.Time
	lastTime  time.Time
	done      bool
	meta      map[string]any
}

// NewReader opens the telemetry log. modules and tmpix describe the camera
// topology; offset is added to every parsed timestamp.
func NewReader(path string, modules, tmpix int, offset time.Duration, sink Sink) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open monitor log: %w", err)
	}

	supported := make(map[string]bool, len(record.SupportedReadings))
	for _, key := range record.SupportedReadings {
		supported[key] = true
	}

	return &Reader{
		path:      path,
		file:      f,
		scanner:   bufio.NewScanner(f),
		sink:      sink,
		log:       logging.Component("monitor"),
		modules:   modules,
		tmpix:     tmpix,
		offset:    offset,
		supported: supported,
		batch:     record.NewMonitorEventBatch(modules),
	}, nil
}

// Next parses lines until the next cycle terminator and returns the
// completed batch, also handing it to the sink. It returns io.EOF when the
// log is exhausted; a partial cycle without terminator is discarded.
func (r *Reader) Next() (*record.MonitorEventBatch, error) {
	if r.done {
		return nil, io.EOF
	}

	for r.scanner.Scan() {
		line := r.scanner.Text()
		if line == "" {
			continue
		}

		fields := strings.Split(strings.TrimRight(line, "\n"), " ")
		if len(fields) < 2 {
			continue
		}

		tCpu, err := r.parseTimestamp(fields[0], fields[1])
		if err != nil {
			r.log.Warn("skipping monitor line",
				"line", line, "error", fmt.Errorf("%w: %v", everrors.ErrMalformedLine, err))
			continue
		}
		r.lastTime = tCpu

		if strings.Contains(line, cycleDoneMarker) {
			if r.startTime.IsZero() {
				r.startTime = tCpu
			}
			done := r.batch
			done.Stamp(r.cycle, tCpu)
			r.cycle++
			r.batch = record.NewMonitorEventBatch(r.modules)

			if r.sink != nil {
				if err := r.sink.AppendMonitor(done); err != nil {
					return nil, fmt.Errorf("append monitor batch: %w", err)
				}
			}
			return done, nil
		}

		if len(fields) < 6 {
			continue
		}

		key := fields[2] + "_" + fields[3]
		if !r.supported[key] {
			continue
		}

		module, err := strconv.Atoi(fields[4])
		if err != nil {
			r.log.Warn("skipping monitor line",
				"line", line, "error", fmt.Errorf("%w: %v", everrors.ErrMalformedLine, err))
			continue
		}
		value, err := strconv.ParseFloat(fields[5], 64)
		if err != nil {
			r.log.Warn("skipping monitor line",
				"line", line, "error", fmt.Errorf("%w: %v", everrors.ErrMalformedLine, err))
			continue
		}

		r.batch.Set(module, key, value)
	}

	if err := r.scanner.Err(); err != nil {
		return nil, fmt.Errorf("read monitor log: %w", err)
	}

	r.finish()
	return nil, io.EOF
}

// Drain consumes any remaining cycles so they still reach the sink, then
// records the aggregate metadata.
func (r *Reader) Drain() error {
	for {
		_, err := r.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// Metadata returns the aggregate attributes of the telemetry stream. It is
// complete only after the log has been exhausted.
func (r *Reader) Metadata() map[string]any {
	if r.meta == nil {
		return map[string]any{}
	}
	return r.meta
}

// Cycles returns the number of cycles emitted so far.
func (r *Reader) Cycles() uint32 {
	return r.cycle
}

// Close releases the underlying file.
func (r *Reader) Close() error {
	if r.file == nil {
		return nil
	}
	f := r.file
	r.file = nil
	return f.Close()
}

// finish records stream-level metadata once the log is exhausted.
func (r *Reader) finish() {
	r.done = true
	r.meta = map[string]any{
		"input_path": r.path,
		"n_events":   int64(r.cycle),
		"start_time": r.startTime.UTC().Format(time.RFC3339Nano),
		"end_time":   r.lastTime.UTC().Format(time.RFC3339Nano),
		"n_modules":  int64(r.modules),
		"n_tmpix":    int64(r.tmpix),
	}
	_ = r.Close()
}

// parseTimestamp parses the "<date> <time>" prefix of a monitor line. The
// fractional seconds are colon-separated ("2019-05-13 12:00:00:123456"),
// so the clock field is split manually.
func (r *Reader) parseTimestamp(date, clock string) (time.Time, error) {
	base, frac := clock, ""
	if strings.Count(clock, ":") == 3 {
		idx := strings.LastIndex(clock, ":")
		base, frac = clock[:idx], clock[idx+1:]
	}

	t, err := time.Parse("2006-01-02 15:04:05", date+" "+base)
	if err != nil {
		return time.Time{}, err
	}

	if frac != "" {
		n, err := strconv.Atoi(frac)
		if err != nil {
			return time.Time{}, fmt.Errorf("bad fractional seconds %q", frac)
		}
		for i := len(frac); i < 6; i++ {
			n *= 10
		}
		t = t.Add(time.Duration(n) * time.Microsecond)
	}

	return t.Add(r.offset), nil
}
