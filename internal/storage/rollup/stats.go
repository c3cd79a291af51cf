package rollup

import (
	"math"

	"github.com/DataDog/sketches-go/ddsketch"
)

// FieldStats maintains running statistics for one optional sensor field
// within a bucket. Variance uses Welford's online algorithm so a single
// pass over the readings is enough.
type FieldStats struct {
	count int64
	mean  float64
	m2    float64
	min   float64
	max   float64

	// DDSketch for percentiles (nil if disabled)
	sketch *ddsketch.DDSketch
}

// NewFieldStats creates field statistics. A non-positive accuracy
// disables percentile tracking.
func NewFieldStats(accuracy float64) *FieldStats {
	s := &FieldStats{
		min: math.MaxFloat64,
		max: -math.MaxFloat64,
	}

	if accuracy > 0 {
		sketch, err := ddsketch.NewDefaultDDSketch(accuracy)
		if err == nil {
			s.sketch = sketch
		}
	}

	return s
}

// Add adds a value.
func (s *FieldStats) Add(v float64) {
	s.count++

	delta := v - s.mean
	s.mean += delta / float64(s.count)
	s.m2 += delta * (v - s.mean)

	if v < s.min {
		s.min = v
	}
	if v > s.max {
		s.max = v
	}

	if s.sketch != nil {
		s.sketch.Add(v)
	}
}

// Count returns the number of values added.
func (s *FieldStats) Count() int64 {
	return s.count
}

// Avg returns the mean, or nil when no values were added.
func (s *FieldStats) Avg() *float64 {
	if s.count == 0 {
		return nil
	}
	v := s.mean
	return &v
}

// Min returns the minimum, or nil when no values were added.
func (s *FieldStats) Min() *float64 {
	if s.count == 0 {
		return nil
	}
	v := s.min
	return &v
}

// Max returns the maximum, or nil when no values were added.
func (s *FieldStats) Max() *float64 {
	if s.count == 0 {
		return nil
	}
	v := s.max
	return &v
}

// Stddev returns the sample standard deviation, or nil when fewer than
// two values were added.
func (s *FieldStats) Stddev() *float64 {
	if s.count < 2 {
		return nil
	}
	v := math.Sqrt(s.m2 / float64(s.count-1))
	return &v
}

// Percentile returns the q-quantile (0 < q < 1), or nil when percentile
// tracking is disabled or no values were added.
func (s *FieldStats) Percentile(q float64) *float64 {
	if s.sketch == nil || s.count == 0 {
		return nil
	}

	v, err := s.sketch.GetValueAtQuantile(q)
	if err != nil {
		return nil
	}
	return &v
}
