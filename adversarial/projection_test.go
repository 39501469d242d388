package adversarial

import (
	"errors"
	"math"
	"testing"

	"github.com/openfluke/yopo/nn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestProjectLinfIsClamp verifies Linf projection is an elementwise clamp
func TestProjectLinfIsClamp(t *testing.T) {
	eta := []float32{-0.5, -0.1, 0, 0.03, 0.1, 0.7}
	out, err := Project(eta, 2, NormLinf, 0.1)
	require.NoError(t, err)
	assert.Equal(t, []float32{-0.1, -0.1, 0, 0.03, 0.1, 0.1}, out)
}

func TestProjectLinfConcrete(t *testing.T) {
	out, err := Project([]float32{0.05, -0.2}, 1, NormLinf, 0.1)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.05, -0.1}, f64(out), 1e-7)
}

func TestProjectL2Concrete(t *testing.T) {
	out, err := Project([]float32{3, 4}, 1, NormL2, 1)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.6, 0.8}, f64(out), 1e-6)
	assert.InDelta(t, 1.0, l2(out), 1e-6)
}

func TestProjectInsideBallIsUnchanged(t *testing.T) {
	eta := []float32{0.1, -0.2, 0.05, 0.3, 0, -0.1}
	for _, norm := range []Norm{NormL1, NormL2} {
		out, err := Project(eta, 2, norm, 1)
		require.NoError(t, err)
		assert.Equal(t, eta, out, norm.String())
	}
}

// TestProjectL2ShrinksPerSample verifies each sample is rescaled onto the
// sphere independently and keeps its direction.
func TestProjectL2ShrinksPerSample(t *testing.T) {
	eta := []float32{
		3, 4, 0, // norm 5
		0.1, 0, 0, // inside
		-6, 0, 8, // norm 10
	}
	out, err := Project(eta, 3, NormL2, 2)
	require.NoError(t, err)

	assert.InDelta(t, 2.0, l2(out[0:3]), 1e-5)
	assert.Equal(t, eta[3:6], out[3:6])
	assert.InDelta(t, 2.0, l2(out[6:9]), 1e-5)

	// parallel: out = c * eta with c > 0
	for _, b := range []int{0, 2} {
		row, src := out[b*3:b*3+3], eta[b*3:b*3+3]
		c := float64(row[0]) / float64(src[0])
		assert.Greater(t, c, 0.0)
		for i := range row {
			assert.InDelta(t, c*float64(src[i]), float64(row[i]), 1e-6)
		}
	}
}

func TestProjectL1(t *testing.T) {
	out, err := Project([]float32{1, -3}, 1, NormL1, 2)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.5, -1.5}, f64(out), 1e-6)
}

func TestProjectZeroBudget(t *testing.T) {
	for _, norm := range []Norm{NormLinf, NormL1, NormL2} {
		out, err := Project([]float32{0.2, -0.4}, 1, norm, 0)
		require.NoError(t, err)
		assert.Equal(t, []float32{0, 0}, out, norm.String())
	}
}

func TestProjectMinEpsilonStaysFinite(t *testing.T) {
	for _, norm := range []Norm{NormLinf, NormL1, NormL2} {
		out, err := Project([]float32{3, -4}, 1, norm, MinEpsilon)
		require.NoError(t, err)
		for _, v := range out {
			assert.False(t, math.IsNaN(float64(v)) || math.IsInf(float64(v), 0), norm.String())
			assert.LessOrEqual(t, math.Abs(float64(v)), float64(MinEpsilon), norm.String())
		}
	}
}

func TestProjectIsIdempotent(t *testing.T) {
	eta := []float32{0.9, -2.5, 0.3, 1.7, 4, -0.01, 0.2, 0.2}
	for _, norm := range []Norm{NormLinf, NormL1, NormL2} {
		once, err := Project(eta, 2, norm, 0.5)
		require.NoError(t, err)
		twice, err := Project(once, 2, norm, 0.5)
		require.NoError(t, err)
		assert.InDeltaSlice(t, f64(once), f64(twice), 1e-6, norm.String())
	}
}

func TestProjectRejectsBadArguments(t *testing.T) {
	_, err := Project([]float32{1}, 1, Norm(7), 1)
	assert.True(t, errors.Is(err, ErrInvalidArgument), "unknown norm")

	_, err = Project([]float32{1}, 1, NormL2, -1)
	assert.True(t, errors.Is(err, ErrInvalidArgument), "negative epsilon")

	_, err = Project([]float32{1, 2, 3}, 2, NormL2, 1)
	assert.True(t, errors.Is(err, ErrInvalidArgument), "ragged batch")

	_, err = Project([]float32{1, 2}, 0, NormLinf, 1)
	assert.True(t, errors.Is(err, ErrInvalidArgument), "zero batch")
}

func TestParseNorm(t *testing.T) {
	cases := map[string]Norm{"1": NormL1, "L2": NormL2, "inf": NormLinf, " linf ": NormLinf}
	for in, want := range cases {
		got, err := ParseNorm(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseNorm("3")
	assert.True(t, errors.Is(err, ErrInvalidArgument))
}

func TestAdmissibleKeepsInputInRange(t *testing.T) {
	p := NewProjector(nn.DeviceCPU)
	data := []float32{0, 0.5, 0.98}
	x, eta, err := p.Admissible(data, []float32{-0.1, 0.05, 0.1}, UnitRange)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0, 0.55, 1}, f64(x), 1e-6)
	assert.InDeltaSlice(t, []float64{0, 0.05, 0.02}, f64(eta), 1e-6)

	_, _, err = p.Admissible(data, []float32{0}, UnitRange)
	assert.True(t, errors.Is(err, ErrInvalidArgument))

	_, err = p.ClampRange(data, Range{Min: 1, Max: 0})
	assert.True(t, errors.Is(err, ErrInvalidArgument))
}

func TestBudgetValidate(t *testing.T) {
	assert.NoError(t, Budget{Epsilon: 0.1, Sigma: 0.01, Iterations: 3}.Validate())
	assert.Error(t, Budget{Epsilon: 0.1, Sigma: -1}.Validate())
	assert.Error(t, Budget{Epsilon: 0.1, Iterations: -1}.Validate())
	assert.Error(t, Budget{Epsilon: float32(math.NaN())}.Validate())
}
