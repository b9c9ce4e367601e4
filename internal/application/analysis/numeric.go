package analysis

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/stat"
)

const (
	mAhPerCoulomb = 1 / 3.6
	mWhPerJoule   = 1 / 3.6
)

type pairs struct{ x, y []float64 }

func (p pairs) Len() int           { return len(p.x) }
func (p pairs) Less(i, j int) bool { return p.x[i] < p.x[j] }
func (p pairs) Swap(i, j int) {
	p.x[i], p.x[j] = p.x[j], p.x[i]
	p.y[i], p.y[j] = p.y[j], p.y[i]
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// finitePairs copies the (x, y) pairs where both values are finite
func finitePairs(x, y []float64) ([]float64, []float64) {
	n := len(x)
	if len(y) < n {
		n = len(y)
	}
	xs := make([]float64, 0, n)
	ys := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		if finite(x[i]) && finite(y[i]) {
			xs = append(xs, x[i])
			ys = append(ys, y[i])
		}
	}
	return xs, ys
}

// finiteValues copies the finite values
func finiteValues(values []float64) []float64 {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if finite(v) {
			out = append(out, v)
		}
	}
	return out
}

// trapezoid integrates y over x with the trapezoidal rule, ignoring
// non-finite samples. Unsorted x is sorted first.
func trapezoid(x, y []float64) float64 {
	xs, ys := finitePairs(x, y)
	if len(xs) < 2 {
		return 0
	}
	if !sort.Float64sAreSorted(xs) {
		sort.Stable(pairs{xs, ys})
	}
	return integrate.Trapezoidal(xs, ys)
}

// describe returns mean, min and max of the finite values
func describe(values []float64) (mean, lo, hi float64, ok bool) {
	v := finiteValues(values)
	if len(v) == 0 {
		return 0, 0, 0, false
	}
	lo, hi = v[0], v[0]
	for _, x := range v[1:] {
		lo = math.Min(lo, x)
		hi = math.Max(hi, x)
	}
	return stat.Mean(v, nil), lo, hi, true
}

// median returns the median of the finite values, or 0 when there are none
func median(values []float64) float64 {
	v := finiteValues(values)
	if len(v) == 0 {
		return 0
	}
	sort.Float64s(v)
	return stat.Quantile(0.5, stat.Empirical, v, nil)
}

// clip maps a value to zero when it is not finite, keeping JSON output valid
func clip(v float64) float64 {
	if !finite(v) {
		return 0
	}
	return v
}

func positivePart(values []float64) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = math.Max(v, 0)
	}
	return out
}

func negativePart(values []float64) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = math.Max(-v, 0)
	}
	return out
}

func product(a, b []float64) []float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = a[i] * b[i]
	}
	return out
}
