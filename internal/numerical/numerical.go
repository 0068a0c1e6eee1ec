package numerical

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

func SuppressNaN(num float64) float64 {
	if math.IsNaN(num) {
		return 0
	}
	return num
}

// Transpose rearranges a row-major `rows` x `cols` matrix stored in
// `data` into column-major order, in place.
func Transpose(data []float64, rows, cols int) error {
	if rows*cols != len(data) {
		return fmt.Errorf("numerical: cannot transpose %d values as %dx%d", len(data), rows, cols)
	}
	if rows == 0 || cols == 0 {
		return nil
	}
	var t mat.Dense
	t.CloneFrom(mat.NewDense(rows, cols, data).T())
	copy(data, t.RawMatrix().Data)
	return nil
}

// Stats accumulates the mean and variance of a stream of samples
// delivered in chunks.
type Stats struct {
	Count int64
	mean  float64
	m2    float64
}

// Add folds one chunk of samples into the running totals.
func (s *Stats) Add(data []float64) {
	if len(data) == 0 {
		return
	}
	n := float64(len(data))
	mean, m2 := data[0], 0.0
	if len(data) > 1 {
		var variance float64
		mean, variance = stat.MeanVariance(data, nil)
		m2 = variance * (n - 1)
	}
	if s.Count == 0 {
		s.Count, s.mean, s.m2 = int64(len(data)), mean, m2
		return
	}
	total := float64(s.Count) + n
	delta := mean - s.mean
	s.mean += delta * n / total
	s.m2 += m2 + delta*delta*float64(s.Count)*n/total
	s.Count += int64(len(data))
}

func (s *Stats) Mean() float64 {
	return s.mean
}

// StdDev is the sample standard deviation of everything added so far.
func (s *Stats) StdDev() float64 {
	if s.Count < 2 {
		return 0
	}
	return math.Sqrt(s.m2 / float64(s.Count-1))
}
