package data

import (
	"errors"
	"fmt"
	"os"

	"github.com/sbinet/npyio"
	"gonum.org/v1/gonum/mat"
)

var (
	ErrMalformedRecording = errors.New("malformed recording")
	ErrShapeMismatch      = errors.New("shape mismatch")
)

// LoadRecording reads a 2-D (channels, samples) NumPy array. float32 and
// float64 payloads in either memory order are accepted.
func LoadRecording(path string) (*mat.Dense, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open recording %s: %w", path, err)
	}
	defer f.Close()

	r, err := npyio.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedRecording, path, err)
	}

	shape := r.Header.Descr.Shape
	if len(shape) != 2 || shape[0] <= 0 || shape[1] <= 0 {
		return nil, fmt.Errorf("%w: %s: want 2-D (channels, samples), got shape %v", ErrMalformedRecording, path, shape)
	}
	rows, cols := shape[0], shape[1]

	var values []float64
	switch r.Header.Descr.Type {
	case "<f8", "f8", "float64":
		if err := r.Read(&values); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedRecording, path, err)
		}
	case "<f4", "f4", "float32":
		var f32 []float32
		if err := r.Read(&f32); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedRecording, path, err)
		}
		values = make([]float64, len(f32))
		for i, v := range f32 {
			values[i] = float64(v)
		}
	default:
		return nil, fmt.Errorf("%w: %s: unsupported dtype %q", ErrMalformedRecording, path, r.Header.Descr.Type)
	}
	if len(values) != rows*cols {
		return nil, fmt.Errorf("%w: %s: %d values for shape %v", ErrMalformedRecording, path, len(values), shape)
	}

	if r.Header.Descr.Fortran {
		colMajor := mat.NewDense(cols, rows, values)
		return mat.DenseCopyOf(colMajor.T()), nil
	}
	return mat.NewDense(rows, cols, values), nil
}

// SaveRecording writes m as a NumPy array.
func SaveRecording(path string, m mat.Matrix) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := npyio.Write(f, m); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
