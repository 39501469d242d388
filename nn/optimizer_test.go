package nn

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// linearNet is a single dense 2->1 layer with kernel [1, 2] and zero bias
func linearNet(t *testing.T) *Network {
	t.Helper()
	net := NewNetwork(2, DeviceCPU)
	layer, err := InitDenseLayer(2, 1, ActivationNone, seeded())
	require.NoError(t, err)
	copy(layer.Kernel, []float32{1, 2})
	require.NoError(t, net.AddLayer(layer))
	return net
}

// backwardOnes leaves kernel gradients [1, 1] and bias gradient [1]
func backwardOnes(t *testing.T, net *Network) {
	t.Helper()
	_, err := net.Forward([]float32{1, 1})
	require.NoError(t, err)
	_, err = net.Backward([]float32{1})
	require.NoError(t, err)
}

func TestSGDMomentum(t *testing.T) {
	net := linearNet(t)
	opt, err := NewSGDOptimizer(net, net.AllLayers(), SGDConfig{LearningRate: 0.1, Momentum: 0.9})
	require.NoError(t, err)

	backwardOnes(t, net)
	opt.Step()
	assert.InDeltaSlice(t, []float64{0.9, 1.9}, toF64(net.Layers[0].Kernel), 1e-6)

	// Gradients are still [1, 1]: v = 0.9 * 1 + 1 = 1.9
	opt.Step()
	assert.InDeltaSlice(t, []float64{0.71, 1.71}, toF64(net.Layers[0].Kernel), 1e-6)
	assert.InDelta(t, -0.29, float64(net.Layers[0].Bias[0]), 1e-6)

	opt.ZeroGrad()
	assert.Zero(t, MaxAbs(net.KernelGradients()[0]))
}

func TestSGDWeightDecay(t *testing.T) {
	net := linearNet(t)
	opt, err := NewSGDOptimizer(net, net.AllLayers(), SGDConfig{LearningRate: 0.1, WeightDecay: 0.5})
	require.NoError(t, err)

	backwardOnes(t, net)
	opt.Step()
	// w - lr * (g + wd * w)
	assert.InDeltaSlice(t, []float64{1 - 0.1*1.5, 2 - 0.1*2}, toF64(net.Layers[0].Kernel), 1e-6)
}

func TestOptimizerOnlyTouchesItsParameterSet(t *testing.T) {
	net := tinyNet(t)
	opt, err := NewSGDOptimizer(net, net.FirstLayer(), SGDConfig{LearningRate: 0.1})
	require.NoError(t, err)

	before := Clone(net.Layers[1].Kernel)
	_, err = net.Forward(randomInput(16, seeded()))
	require.NoError(t, err)
	_, err = net.Backward([]float32{1, 1})
	require.NoError(t, err)

	opt.Step()
	assert.Equal(t, before, net.Layers[1].Kernel)

	opt.ZeroGrad()
	assert.Zero(t, MaxAbs(net.KernelGradients()[0]))
	assert.NotZero(t, MaxAbs(net.KernelGradients()[1]), "other layers keep their gradients")
}

func TestOptimizerValidation(t *testing.T) {
	net := linearNet(t)
	_, err := NewSGDOptimizer(net, ParameterSet{3}, SGDConfig{LearningRate: 0.1})
	assert.True(t, errors.Is(err, ErrInvalidArgument))

	_, err = NewSGDOptimizer(net, net.AllLayers(), SGDConfig{})
	assert.True(t, errors.Is(err, ErrInvalidArgument))

	_, err = NewSGDOptimizer(net, net.AllLayers(), SGDConfig{LearningRate: 0.1, Nesterov: true})
	assert.True(t, errors.Is(err, ErrInvalidArgument))

	_, err = NewAdamWOptimizer(net, net.AllLayers(), AdamWConfig{LearningRate: 0.1, Beta1: 1})
	assert.True(t, errors.Is(err, ErrInvalidArgument))
}

func TestAdamWMovesAgainstGradient(t *testing.T) {
	net := linearNet(t)
	cfg := DefaultAdamWConfig(0.01)
	cfg.WeightDecay = 0
	opt, err := NewAdamWOptimizer(net, net.AllLayers(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "AdamW", opt.Name())

	backwardOnes(t, net)
	opt.Step()
	// First bias-corrected step is lr * sign(g)
	assert.InDeltaSlice(t, []float64{0.99, 1.99}, toF64(net.Layers[0].Kernel), 1e-5)
}
