// Package scores reduces per-frame model output into one score per class.
package scores

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Mode selects how frames are collapsed into a single score vector.
type Mode int

const (
	// Mean averages each class over all frames. Used for whole clips, where
	// sustained signals should win over transient noise.
	Mean Mode = iota
	// Max keeps each class's peak frame. Used for short streaming chunks so a
	// single loud frame is not diluted by the silence around it.
	Max
)

func (m Mode) String() string {
	switch m {
	case Mean:
		return "mean"
	case Max:
		return "max"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode maps "mean" or "max" to a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mean":
		return Mean, nil
	case "max":
		return Max, nil
	default:
		return 0, fmt.Errorf("unknown aggregation mode %q", s)
	}
}

// Aggregate reduces a frames × classes matrix to one value per class.
func Aggregate(m *mat.Dense, mode Mode) []float64 {
	rows, cols := m.Dims()
	out := make([]float64, cols)

	if rows == 1 {
		mat.Row(out, 0, m)
		return out
	}

	col := make([]float64, rows)
	for j := 0; j < cols; j++ {
		mat.Col(col, j, m)
		switch mode {
		case Max:
			out[j] = floats.Max(col)
		default:
			out[j] = stat.Mean(col, nil)
		}
	}
	return out
}

// NewMatrix wraps raw row-major scorer output as a frames × classes matrix.
func NewMatrix(frames, classes int, data []float32) (*mat.Dense, error) {
	if frames <= 0 || classes <= 0 {
		return nil, fmt.Errorf("score matrix has no data (%d frames, %d classes)", frames, classes)
	}
	if len(data) != frames*classes {
		return nil, fmt.Errorf("score matrix shape %dx%d does not match %d values", frames, classes, len(data))
	}

	values := make([]float64, len(data))
	for i, v := range data {
		values[i] = float64(v)
	}
	return mat.NewDense(frames, classes, values), nil
}
