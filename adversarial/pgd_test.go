package adversarial

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/openfluke/yopo/nn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPGD(t *testing.T, observer StepObserver) *PGDAttacker {
	t.Helper()
	a, err := NewPGDAttacker(PGDConfig{
		Epsilon:    0.1,
		Sigma:      0.03,
		Iterations: 5,
		Rand:       rand.New(rand.NewSource(5)),
		Observer:   observer,
	})
	require.NoError(t, err)
	return a
}

// TestPGDStaysInBallEveryStep verifies the Linf budget holds after every iteration
func TestPGDStaysInBallEveryStep(t *testing.T) {
	rec := &stepRecorder{}
	net := newTestNetwork(t, nn.ActivationReLU)
	a := newTestPGD(t, rec)
	data, labels := newBatch(3, 1)

	adv, err := a.Generate(net, data, labels)
	require.NoError(t, err)
	require.Len(t, adv, len(data))

	require.Len(t, rec.events, 5)
	for i, e := range rec.events {
		assert.Equal(t, PhasePGD, e.Phase)
		assert.Equal(t, i, e.Inner)
		assert.Equal(t, 3, e.BatchSize)
		assert.LessOrEqual(t, e.LinfNorm(), float32(0.1), "iteration %d", i)
	}

	for i := range adv {
		assert.GreaterOrEqual(t, adv[i], float32(0))
		assert.LessOrEqual(t, adv[i], float32(1))
		assert.LessOrEqual(t, float64(adv[i]-data[i]), 0.1+1e-6)
		assert.GreaterOrEqual(t, float64(adv[i]-data[i]), -0.1-1e-6)
	}
}

func TestPGDIncreasesLoss(t *testing.T) {
	net := newTestNetwork(t, nn.ActivationReLU)
	a := newTestPGD(t, nil)
	data, labels := newBatch(4, 2)

	_, cleanLoss, _, err := lossGradient(net, data, labels)
	require.NoError(t, err)
	adv, err := a.Perturb(net, data, labels, make([]float32, len(data)))
	require.NoError(t, err)
	_, advLoss, _, err := lossGradient(net, adv, labels)
	require.NoError(t, err)
	assert.Greater(t, advLoss, cleanLoss)
}

func TestPGDRunsInEvalModeAndRestores(t *testing.T) {
	spy := &modeSpy{Network: newTestNetwork(t, nn.ActivationReLU)}
	spy.SetMode(nn.ModeTrain)
	a := newTestPGD(t, nil)
	data, labels := newBatch(2, 3)

	_, err := a.Generate(spy, data, labels)
	require.NoError(t, err)

	require.NotEmpty(t, spy.modes)
	for _, m := range spy.modes {
		assert.Equal(t, nn.ModeEval, m)
	}
	assert.Equal(t, nn.ModeTrain, spy.Mode())
}

func TestPGDLeavesParameterGradientsAlone(t *testing.T) {
	net := newTestNetwork(t, nn.ActivationReLU)
	a := newTestPGD(t, nil)
	data, labels := newBatch(2, 4)

	_, err := a.Generate(net, data, labels)
	require.NoError(t, err)
	for i := range net.Layers {
		assert.Zero(t, nn.MaxAbs(net.KernelGradients()[i]), "layer %d", i)
	}
}

func TestPGDRejectsMismatchedShapes(t *testing.T) {
	net := newTestNetwork(t, nn.ActivationReLU)
	a := newTestPGD(t, nil)
	data, labels := newBatch(2, 5)

	_, err := a.Perturb(net, data, labels, make([]float32, len(data)-1))
	assert.True(t, errors.Is(err, ErrInvalidArgument), "eta shorter than input")

	_, err = a.Generate(net, data[:20], labels)
	assert.True(t, errors.Is(err, ErrInvalidArgument), "input not a whole batch")

	_, err = a.Generate(net, data, nil)
	assert.True(t, errors.Is(err, ErrInvalidArgument), "no labels")
}

func TestPGDRestoresModeOnError(t *testing.T) {
	net := newTestNetwork(t, nn.ActivationReLU)
	a := newTestPGD(t, nil)
	data, _ := newBatch(1, 6)

	_, err := a.Generate(net, data, []int{9})
	assert.True(t, errors.Is(err, ErrInvalidArgument), "label outside the classes")
	assert.Equal(t, nn.ModeTrain, net.Mode())
}

func TestNewPGDAttackerValidates(t *testing.T) {
	_, err := NewPGDAttacker(PGDConfig{Epsilon: -0.1, Sigma: 0.01, Iterations: 1})
	assert.True(t, errors.Is(err, ErrInvalidArgument))

	_, err = NewPGDAttacker(PGDConfig{Epsilon: 0.1, Sigma: 0.01, Iterations: 1, DataRange: Range{Min: 2, Max: 1}})
	assert.True(t, errors.Is(err, ErrInvalidArgument))

	a, err := NewPGDAttacker(DefaultPGDConfig())
	require.NoError(t, err)
	assert.True(t, a.Enabled())
	assert.Equal(t, "pgd", a.Name())
	assert.Equal(t, 20, a.Budget().Iterations)
}

func TestNoAttack(t *testing.T) {
	var a Attacker = NoAttack{}
	assert.False(t, a.Enabled())
	assert.Equal(t, "none", a.Name())

	_, err := a.Generate(newTestNetwork(t, nn.ActivationReLU), nil, nil)
	assert.True(t, errors.Is(err, ErrInvalidArgument))
}
