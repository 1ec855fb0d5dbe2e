package data

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
)

var ErrMalformedEvents = errors.New("malformed event table")

// EventTable is a column-named table of per-trial events, as written by
// pandas' DataFrame.to_json(orient="split").
type EventTable struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"data"`
}

// Event is one row reduced to the fields the extractor needs.
type Event struct {
	Row      int
	Run      int
	Onset    float64 // seconds
	HasOnset bool
}

func LoadEvents(path string) (*EventTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read events %s: %w", path, err)
	}
	var t EventTable
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedEvents, path, err)
	}
	if len(t.Columns) == 0 {
		return nil, fmt.Errorf("%w: %s: no columns", ErrMalformedEvents, path)
	}
	for i, row := range t.Rows {
		if len(row) != len(t.Columns) {
			return nil, fmt.Errorf("%w: %s: row %d has %d values for %d columns",
				ErrMalformedEvents, path, i, len(row), len(t.Columns))
		}
	}
	return &t, nil
}

func (t *EventTable) Column(name string) (int, error) {
	for i, c := range t.Columns {
		if c == name {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w: missing column %q", ErrMalformedEvents, name)
}

// Events parses the run and onset columns of every row. A run id that is
// not integer-castable is an error; an absent onset is not.
func (t *EventTable) Events(runColumn, onsetColumn string) ([]Event, error) {
	runIdx, err := t.Column(runColumn)
	if err != nil {
		return nil, err
	}
	onsetIdx, err := t.Column(onsetColumn)
	if err != nil {
		return nil, err
	}

	events := make([]Event, 0, len(t.Rows))
	for i, row := range t.Rows {
		run, err := asInt(row[runIdx])
		if err != nil {
			return nil, fmt.Errorf("%w: row %d column %q: %v", ErrMalformedEvents, i, runColumn, err)
		}
		onset, ok, err := asOptionalFloat(row[onsetIdx])
		if err != nil {
			return nil, fmt.Errorf("%w: row %d column %q: %v", ErrMalformedEvents, i, onsetColumn, err)
		}
		events = append(events, Event{Row: i, Run: run, Onset: onset, HasOnset: ok})
	}
	return events, nil
}

// FilterRun keeps the events belonging to one run, preserving row order.
func FilterRun(events []Event, run int) []Event {
	var out []Event
	for _, e := range events {
		if e.Run == run {
			out = append(out, e)
		}
	}
	return out
}

func asInt(v any) (int, error) {
	switch x := v.(type) {
	case float64:
		if x != math.Trunc(x) || math.IsInf(x, 0) || math.IsNaN(x) {
			return 0, fmt.Errorf("%v is not an integer", x)
		}
		return int(x), nil
	case string:
		s := strings.TrimSpace(x)
		if n, err := strconv.Atoi(s); err == nil {
			return n, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || f != math.Trunc(f) {
			return 0, fmt.Errorf("%q is not an integer", x)
		}
		return int(f), nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	case nil:
		return 0, errors.New("null run id")
	default:
		return 0, fmt.Errorf("unsupported value %v (%T)", v, v)
	}
}

// asOptionalFloat treats null, NaN, "" and "n/a" as absent.
func asOptionalFloat(v any) (float64, bool, error) {
	switch x := v.(type) {
	case nil:
		return 0, false, nil
	case float64:
		if math.IsNaN(x) {
			return 0, false, nil
		}
		return x, true, nil
	case string:
		s := strings.TrimSpace(x)
		if s == "" || strings.EqualFold(s, "n/a") || strings.EqualFold(s, "nan") {
			return 0, false, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false, fmt.Errorf("%q is not a number", x)
		}
		return f, true, nil
	default:
		return 0, false, fmt.Errorf("unsupported value %v (%T)", v, v)
	}
}
