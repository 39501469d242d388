package nn

import (
	"math"
	"math/rand"
	"time"
)

// RandSource is the randomness stochastic layers and initialisers draw from.
// *rand.Rand satisfies it.
type RandSource interface {
	Float32() float32
	Float64() float64
	NormFloat64() float64
}

func newDefaultRand() RandSource {
	return rand.New(rand.NewSource(time.Now().UnixNano()))
}

// MaxAbsDiff calculates the maximum absolute difference between two slices
func MaxAbsDiff(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	m := 0.0
	for i := 0; i < n; i++ {
		d := math.Abs(float64(a[i] - b[i]))
		if d > m {
			m = d
		}
	}
	return m
}

// MaxAbs returns the largest magnitude in a slice (the L-infinity norm)
func MaxAbs(v []float32) float32 {
	m := float32(0)
	for _, x := range v {
		if x < 0 {
			x = -x
		}
		if x > m {
			m = x
		}
	}
	return m
}

// Add returns a + b elementwise
func Add(a, b []float32) []float32 {
	out := make([]float32, len(a))
	for i := range a {
		out[i] = a[i] + b[i]
	}
	return out
}

// Sub returns a - b elementwise
func Sub(a, b []float32) []float32 {
	out := make([]float32, len(a))
	for i := range a {
		out[i] = a[i] - b[i]
	}
	return out
}

// Scale returns v * factor
func Scale(v []float32, factor float32) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x * factor
	}
	return out
}

// Sign returns the elementwise sign (-1, 0 or 1)
func Sign(v []float32) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		switch {
		case x > 0:
			out[i] = 1
		case x < 0:
			out[i] = -1
		}
	}
	return out
}

// Clone returns a copy of v
func Clone(v []float32) []float32 {
	if v == nil {
		return nil
	}
	out := make([]float32, len(v))
	copy(out, v)
	return out
}

func accumulate(dst, src []float32) {
	for i := range src {
		dst[i] += src[i]
	}
}
