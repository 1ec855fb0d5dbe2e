package data

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

const (
	// RunMarker precedes the run number in recording filenames,
	// e.g. "sub-01_task-motor_run-3_eeg.npy".
	RunMarker = "run-"

	RecordingExt = ".npy"
)

var reRunID = regexp.MustCompile(regexp.QuoteMeta(RunMarker) + `(\d+)`)

// WindowPair is one (past, future) training example cut around an event
// onset. Both matrices are (channels, length) and never modified after
// extraction.
type WindowPair struct {
	Past   *mat.Dense
	Future *mat.Dense

	Subject     int
	Run         int
	OnsetSample int
}

type ExtractOptions struct {
	Subject      int
	SamplingRate float64 // Hz
	PastLength   int     // samples
	FutureLength int     // samples
	Compress     bool
	Channels     int // expected channel count; 0 accepts any

	RunColumn   string
	OnsetColumn string

	Logger *logrus.Logger
}

func (o ExtractOptions) validate() error {
	if o.SamplingRate <= 0 {
		return fmt.Errorf("sampling rate must be positive, got %v", o.SamplingRate)
	}
	if o.PastLength <= 0 || o.FutureLength <= 0 {
		return fmt.Errorf("window lengths must be positive, got past=%d future=%d", o.PastLength, o.FutureLength)
	}
	return nil
}

func (o ExtractOptions) logger() *logrus.Logger {
	if o.Logger == nil {
		return logrus.StandardLogger()
	}
	return o.Logger
}

func (o ExtractOptions) columns() (string, string) {
	run, onset := o.RunColumn, o.OnsetColumn
	if run == "" {
		run = "run"
	}
	if onset == "" {
		onset = "onset"
	}
	return run, onset
}

// RunIDFromFilename extracts the digits following RunMarker.
func RunIDFromFilename(name string) (int, bool) {
	m := reRunID.FindStringSubmatch(filepath.Base(name))
	if m == nil {
		return 0, false
	}
	run, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return run, true
}

// OnsetSample converts an onset in seconds to a sample index, rounding half
// away from zero. ok is false when the index is not finite or does not fit
// in an int.
func OnsetSample(onsetSeconds, samplingRate float64) (sample int, ok bool) {
	v := math.Round(onsetSeconds * samplingRate)
	if math.IsNaN(v) || v < math.MinInt || v >= math.MaxInt {
		return 0, false
	}
	return int(v), true
}

// ExtractSubject cuts window pairs for every well-formed event of every
// recording in dir. Recordings are visited in filename order.
func ExtractSubject(dir string, events *EventTable, opts ExtractOptions) ([]WindowPair, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	log := opts.logger().WithField("subject", opts.Subject)

	runCol, onsetCol := opts.columns()
	all, err := events.Events(runCol, onsetCol)
	if err != nil {
		return nil, fmt.Errorf("subject %d: %w", opts.Subject, err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("subject %d: list recordings: %w", opts.Subject, err)
	}

	var pairs []WindowPair
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(name), RecordingExt) {
			continue
		}
		run, ok := RunIDFromFilename(name)
		if !ok {
			log.WithField("file", name).Warn("skipping recording: no run id in filename")
			continue
		}

		rec, err := LoadRecording(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("subject %d: %w", opts.Subject, err)
		}
		if opts.Channels > 0 {
			if r, _ := rec.Dims(); r != opts.Channels {
				return nil, fmt.Errorf("subject %d: %s: %w: %d channels, want %d",
					opts.Subject, name, ErrShapeMismatch, r, opts.Channels)
			}
		}

		pairs = append(pairs, ExtractRecording(rec, run, FilterRun(all, run), opts)...)
	}
	return pairs, nil
}

// ExtractRecording applies the windowing rules to one loaded recording.
// Events without an onset or whose windows leave the recording are
// skipped with a diagnostic.
func ExtractRecording(rec *mat.Dense, run int, events []Event, opts ExtractOptions) []WindowPair {
	if err := opts.validate(); err != nil {
		panic(err)
	}
	log := opts.logger().WithFields(logrus.Fields{"subject": opts.Subject, "run": run})
	channels, total := rec.Dims()

	var pairs []WindowPair
	for _, ev := range events {
		if !ev.HasOnset {
			log.WithField("row", ev.Row).Info("skipping event without onset")
			continue
		}
		s, ok := OnsetSample(ev.Onset, opts.SamplingRate)
		if !ok {
			log.WithFields(logrus.Fields{
				"row":   ev.Row,
				"onset": ev.Onset,
			}).Warn("skipping event: onset is not a representable sample index")
			continue
		}
		if s < opts.PastLength || s > total-opts.FutureLength {
			log.WithFields(logrus.Fields{
				"row":     ev.Row,
				"sample":  s,
				"samples": total,
			}).Warn("skipping event: window out of bounds")
			continue
		}

		past := mat.DenseCopyOf(rec.Slice(0, channels, s-opts.PastLength, s))
		future := mat.DenseCopyOf(rec.Slice(0, channels, s, s+opts.FutureLength))
		if opts.Compress {
			CompressInPlace(past)
			CompressInPlace(future)
		}
		pairs = append(pairs, WindowPair{
			Past:        past,
			Future:      future,
			Subject:     opts.Subject,
			Run:         run,
			OnsetSample: s,
		})
	}
	return pairs
}

// IsMalformed reports whether err came from an unreadable input file.
func IsMalformed(err error) bool {
	return errors.Is(err, ErrMalformedRecording) || errors.Is(err, ErrMalformedEvents)
}
