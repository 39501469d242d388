package adversarial

import (
	"math/rand"
	"testing"

	"github.com/openfluke/yopo/metrics"
	"github.com/openfluke/yopo/nn"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingOptimizer wraps an optimizer and snapshots the refined layer's
// gradients whenever Step is called.
type recordingOptimizer struct {
	nn.Optimizer
	net       *nn.Network
	steps     int
	zeroGrads int
	layerGrad []float32
	layerBias []float32
}

func (o *recordingOptimizer) Step() {
	o.steps++
	o.layerGrad = nn.Clone(o.net.KernelGradients()[0])
	o.layerBias = nn.Clone(o.net.BiasGradients()[0])
	o.Optimizer.Step()
}

func (o *recordingOptimizer) ZeroGrad() {
	o.zeroGrads++
	o.Optimizer.ZeroGrad()
}

// failingBackward reports a disconnected graph on every full backward pass
type failingBackward struct {
	*nn.Network
}

func (failingBackward) Backward([]float32) ([]float32, error) {
	return nil, errors.Wrap(nn.ErrComputation, "no gradient for the input")
}

type yopoFixture struct {
	net     *nn.Network
	opt     *recordingOptimizer
	refiner *Refiner
	clean   *metrics.AverageMeter
	robust  *metrics.AverageMeter
	events  *stepRecorder
}

func newYOPOFixture(t *testing.T, n2 int) *yopoFixture {
	t.Helper()
	net := newTestNetwork(t, nn.ActivationReLU)
	sgd, err := nn.NewSGDOptimizer(net, net.AllLayers(), nn.SGDConfig{LearningRate: 0.05, Momentum: 0.9})
	require.NoError(t, err)
	events := &stepRecorder{}
	return &yopoFixture{
		net:     net,
		opt:     &recordingOptimizer{Optimizer: sgd, net: net},
		refiner: newTestRefiner(t, net, n2, events),
		clean:   metrics.NewAverageMeter("clean"),
		robust:  metrics.NewAverageMeter("robust"),
		events:  events,
	}
}

func (f *yopoFixture) trainer(t *testing.T, model LayeredModel, k int) *YOPOTrainer {
	t.Helper()
	tr, err := NewYOPOTrainer(model, f.opt, f.refiner, YOPOConfig{
		K:              k,
		Epsilon:        0.05,
		Rand:           rand.New(rand.NewSource(41)),
		CleanAccuracy:  f.clean,
		RobustAccuracy: f.robust,
	})
	require.NoError(t, err)
	return tr
}

// TestYOPOSingleIterationReportsBoth verifies that with K=1 the first and
// last outer iteration coincide, so both accuracies are recorded once.
func TestYOPOSingleIterationReportsBoth(t *testing.T) {
	f := newYOPOFixture(t, 1)
	tr := f.trainer(t, f.net, 1)
	data, labels := newBatch(1, 42)

	require.NoError(t, tr.TrainBatch(data, labels))
	assert.Equal(t, int64(1), f.clean.Count())
	assert.Equal(t, int64(1), f.robust.Count())
	assert.Equal(t, f.clean.Count(), f.robust.Count())
}

func TestYOPOTrainBatch(t *testing.T) {
	f := newYOPOFixture(t, 3)
	tr := f.trainer(t, f.net, 4)
	data, labels := newBatch(3, 43)
	before := nn.Clone(f.net.Layers[1].Kernel)

	require.NoError(t, tr.TrainBatch(data, labels))

	assert.Equal(t, int64(1), f.clean.Count(), "clean accuracy once per batch")
	assert.Equal(t, int64(1), f.robust.Count(), "robust accuracy once per batch")

	assert.Equal(t, 1, f.opt.steps)
	assert.Equal(t, 2, f.opt.zeroGrads)
	assert.NotZero(t, nn.MaxAbs(f.opt.layerGrad), "first layer gradient comes from -H")
	assert.NotEqual(t, before, f.net.Layers[1].Kernel)

	for i := range f.net.Layers {
		assert.Zero(t, nn.MaxAbs(f.net.KernelGradients()[i]), "layer %d gradients cleared", i)
	}
	assert.True(t, f.net.RequiresGrad(0), "first layer unfrozen after the batch")

	require.Len(t, f.events.events, 12)
	for i, e := range f.events.events {
		assert.Equal(t, i/3, e.Outer)
		assert.Equal(t, i%3, e.Inner)
		assert.LessOrEqual(t, float64(e.LinfNorm()), 0.05+1e-6)
	}
}

// TestYOPOFirstLayerGradientMatchesPlainBackward checks the adjoint. With one
// outer iteration, no inner steps and an input away from the range edges,
// -H backpropagated with p = -dL/dy0 must give layer one exactly the gradient
// an ordinary backward pass of the loss would, and the frozen full backward
// must add nothing on top.
func TestYOPOFirstLayerGradientMatchesPlainBackward(t *testing.T) {
	const (
		eps  = 0.01
		seed = 47
	)
	f := newYOPOFixture(t, 0)
	tr, err := NewYOPOTrainer(f.net, f.opt, f.refiner, YOPOConfig{
		K:       1,
		Epsilon: eps,
		Rand:    rand.New(rand.NewSource(seed)),
	})
	require.NoError(t, err)

	data, labels := newBatch(3, 46)
	for i := range data {
		data[i] = 0.3 + 0.4*data[i]
	}

	// same weights, same starting perturbation
	ref := newTestNetwork(t, nn.ActivationReLU)
	eta := uniformNoise(rand.New(rand.NewSource(seed)), len(data), eps)
	_, _, gradLogits, err := lossGradient(ref, nn.Add(data, eta), labels)
	require.NoError(t, err)
	_, err = ref.Backward(gradLogits)
	require.NoError(t, err)
	wantKernel := ref.KernelGradients()[0]
	wantBias := ref.BiasGradients()[0]
	require.NotZero(t, nn.MaxAbs(wantKernel))

	require.NoError(t, tr.TrainBatch(data, labels))
	require.Equal(t, 1, f.opt.steps)

	require.Len(t, f.opt.layerGrad, len(wantKernel))
	for i := range wantKernel {
		assert.InDelta(t, float64(wantKernel[i]), float64(f.opt.layerGrad[i]), 1e-5, "kernel %d", i)
	}
	require.Len(t, f.opt.layerBias, len(wantBias))
	for i := range wantBias {
		assert.InDelta(t, float64(wantBias[i]), float64(f.opt.layerBias[i]), 1e-5, "bias %d", i)
	}
}

func TestYOPOAccumulatesAcrossBatches(t *testing.T) {
	f := newYOPOFixture(t, 2)
	tr := f.trainer(t, f.net, 2)
	for seed := int64(0); seed < 3; seed++ {
		data, labels := newBatch(2, 50+seed)
		require.NoError(t, tr.TrainBatch(data, labels))
	}
	assert.Equal(t, int64(3), f.clean.Count())
	assert.Equal(t, int64(3), f.robust.Count())

	tr.ResetAccuracies()
	clean, robust := tr.Accuracies()
	assert.Zero(t, clean)
	assert.Zero(t, robust)
}

func TestYOPORestoresLayerOnFailure(t *testing.T) {
	f := newYOPOFixture(t, 1)
	tr := f.trainer(t, failingBackward{f.net}, 2)
	data, labels := newBatch(1, 44)

	err := tr.TrainBatch(data, labels)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrComputation))
	assert.True(t, f.net.RequiresGrad(0))
	assert.Zero(t, f.opt.steps, "failed batch must not step")
	assert.Zero(t, f.clean.Count())
}

func TestYOPORejectsBadInput(t *testing.T) {
	f := newYOPOFixture(t, 1)
	_, err := NewYOPOTrainer(f.net, f.opt, f.refiner, YOPOConfig{K: 0, Epsilon: 0.1})
	assert.True(t, errors.Is(err, ErrInvalidArgument))

	_, err = NewYOPOTrainer(f.net, f.opt, f.refiner, YOPOConfig{K: 1, Epsilon: -0.1})
	assert.True(t, errors.Is(err, ErrInvalidArgument))

	tr := f.trainer(t, f.net, 1)
	data, labels := newBatch(2, 45)
	err = tr.TrainBatch(data[:sampleSize], labels)
	assert.True(t, errors.Is(err, ErrInvalidArgument))
	assert.Equal(t, "yopo", tr.Name())
	assert.Same(t, f.refiner, tr.Refiner())
}
