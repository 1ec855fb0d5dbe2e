package data

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"gonum.org/v1/gonum/mat"
)

// rampRecording has value c*samples + t at (c, t), so slices are easy to
// check.
func rampRecording(channels, samples int) *mat.Dense {
	m := mat.NewDense(channels, samples, nil)
	for c := 0; c < channels; c++ {
		for t := 0; t < samples; t++ {
			m.Set(c, t, float64(c*samples+t))
		}
	}
	return m
}

func writeRecording(t *testing.T, dir, name string, m mat.Matrix) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := SaveRecording(filepath.Join(dir, name), m); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func writeEvents(t *testing.T, path string, table EventTable) {
	t.Helper()
	raw, err := json.Marshal(table)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatal(err)
	}
}

func recordingLogger() (*logrus.Logger, *test.Hook) {
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	log.SetOutput(io.Discard)
	return log, hook
}

func countLevel(hook *test.Hook, level logrus.Level) int {
	n := 0
	for _, e := range hook.AllEntries() {
		if e.Level == level {
			n++
		}
	}
	return n
}

func eegOptions(log *logrus.Logger) ExtractOptions {
	return ExtractOptions{
		Subject:      1,
		SamplingRate: 500,
		PastLength:   1000,
		FutureLength: 1000,
		Channels:     14,
		Logger:       log,
	}
}
