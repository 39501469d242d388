package adversarial

import (
	"errors"
	"testing"

	"github.com/openfluke/yopo/nn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func adjoint(n int) []float32 {
	p := make([]float32, n)
	for i := range p {
		p[i] = float32(i%5)*0.2 - 0.4
	}
	return p
}

func TestHamiltonianInputGradient(t *testing.T) {
	net := newTestNetwork(t, nn.ActivationTanh)
	x, _ := newBatch(2, 21)
	h := NewHamiltonian(net, 0, adjoint(16))

	grad, err := h.InputGradient(x)
	require.NoError(t, err)
	require.Len(t, grad, len(x))

	const step = 1e-2
	for _, i := range []int{0, 7, 16, 31} {
		plus, minus := nn.Clone(x), nn.Clone(x)
		plus[i] += step
		minus[i] -= step
		hp, err := h.Value(plus)
		require.NoError(t, err)
		hm, err := h.Value(minus)
		require.NoError(t, err)
		assert.InDelta(t, (hp-hm)/(2*step), float64(grad[i]), 2e-3, "input %d", i)
	}

	for i := range net.Layers {
		assert.Zero(t, nn.MaxAbs(net.KernelGradients()[i]), "dH/dx must not touch parameters")
	}
}

func TestHamiltonianBackwardNegative(t *testing.T) {
	net := newTestNetwork(t, nn.ActivationTanh)
	x, _ := newBatch(2, 22)
	h := NewHamiltonian(net, 0, adjoint(16))

	value, err := h.Value(x)
	require.NoError(t, err)
	neg, err := h.BackwardNegative(x)
	require.NoError(t, err)
	assert.InDelta(t, -value, neg, 1e-9)

	assert.NotZero(t, nn.MaxAbs(net.KernelGradients()[0]))
	assert.Zero(t, nn.MaxAbs(net.KernelGradients()[1]), "only the refined layer accumulates")
}

func TestHamiltonianCopiesAdjoint(t *testing.T) {
	net := newTestNetwork(t, nn.ActivationTanh)
	x, _ := newBatch(1, 23)
	p := adjoint(8)
	h := NewHamiltonian(net, 0, p)

	before, err := h.Value(x)
	require.NoError(t, err)
	p[0] += 100
	after, err := h.Value(x)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.NotEqual(t, p, h.Adjoint())
}

func TestHamiltonianRejectsWrongAdjoint(t *testing.T) {
	net := newTestNetwork(t, nn.ActivationTanh)
	x, _ := newBatch(1, 24)
	_, err := NewHamiltonian(net, 0, adjoint(5)).Value(x)
	assert.True(t, errors.Is(err, ErrInvalidArgument))
}
