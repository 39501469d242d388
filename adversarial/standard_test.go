package adversarial

import (
	"testing"

	"github.com/openfluke/yopo/metrics"
	"github.com/openfluke/yopo/nn"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStandard(t *testing.T, net *nn.Network, attacker Attacker) (*StandardTrainer, *metrics.AverageMeter, *metrics.AverageMeter) {
	t.Helper()
	opt, err := nn.NewSGDOptimizer(net, net.AllLayers(), nn.SGDConfig{LearningRate: 0.05})
	require.NoError(t, err)
	clean, adv := metrics.NewAverageMeter("clean"), metrics.NewAverageMeter("adv")
	tr, err := NewStandardTrainer(net, opt, StandardConfig{
		Attacker:            attacker,
		WeightPenalty:       1e-4,
		CleanAccuracy:       clean,
		AdversarialAccuracy: adv,
	})
	require.NoError(t, err)
	return tr, clean, adv
}

func TestStandardTrainerClean(t *testing.T) {
	net := newTestNetwork(t, nn.ActivationReLU)
	tr, clean, adv := newStandard(t, net, nil)
	data, labels := newBatch(4, 61)
	before := nn.Clone(net.Layers[0].Kernel)

	require.NoError(t, tr.TrainBatch(data, labels))
	assert.Equal(t, "standard", tr.Name())
	assert.Equal(t, int64(1), clean.Count())
	assert.Zero(t, adv.Count())
	assert.NotEqual(t, before, net.Layers[0].Kernel)
}

func TestStandardTrainerLearns(t *testing.T) {
	net := newTestNetwork(t, nn.ActivationReLU)
	tr, _, _ := newStandard(t, net, nil)
	data, labels := newBatch(8, 62)

	_, first, _, err := lossGradient(net, data, labels)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		require.NoError(t, tr.TrainBatch(data, labels))
	}
	_, last, _, err := lossGradient(net, data, labels)
	require.NoError(t, err)
	assert.Less(t, last, first)
}

func TestStandardTrainerAdversarial(t *testing.T) {
	net := newTestNetwork(t, nn.ActivationReLU)
	spy := &modeSpy{Network: net}
	pgd := newTestPGD(t, nil)
	opt, err := nn.NewSGDOptimizer(net, net.AllLayers(), nn.SGDConfig{LearningRate: 0.05})
	require.NoError(t, err)
	clean, adv := metrics.NewAverageMeter("clean"), metrics.NewAverageMeter("adv")
	tr, err := NewStandardTrainer(spy, opt, StandardConfig{Attacker: pgd, CleanAccuracy: clean, AdversarialAccuracy: adv})
	require.NoError(t, err)
	data, labels := newBatch(2, 63)
	net.SetMode(nn.ModeEval)

	require.NoError(t, tr.TrainBatch(data, labels))
	assert.Equal(t, nn.ModeEval, net.Mode(), "caller mode restored")
	assert.Equal(t, "pgd", tr.Name())
	assert.Equal(t, int64(1), clean.Count())
	assert.Equal(t, int64(1), adv.Count())

	// attack iterations in eval, then the adversarial and clean passes in train
	n := len(spy.modes)
	require.Equal(t, 5+2, n)
	assert.Equal(t, nn.ModeTrain, spy.modes[n-2])
	assert.Equal(t, nn.ModeTrain, spy.modes[n-1])
}

func TestStandardTrainerCleanPassRunsInTrainMode(t *testing.T) {
	net := newTestNetwork(t, nn.ActivationReLU)
	spy := &modeSpy{Network: net}
	opt, err := nn.NewSGDOptimizer(net, net.AllLayers(), nn.SGDConfig{LearningRate: 0.05})
	require.NoError(t, err)
	tr, err := NewStandardTrainer(spy, opt, StandardConfig{})
	require.NoError(t, err)
	data, labels := newBatch(2, 65)

	for _, mode := range []nn.Mode{nn.ModeEval, nn.ModeTrain} {
		spy.modes = nil
		net.SetMode(mode)
		require.NoError(t, tr.TrainBatch(data, labels))
		assert.Equal(t, []nn.Mode{nn.ModeTrain}, spy.modes)
		assert.Equal(t, mode, net.Mode())
	}
}

func TestStandardTrainerPropagatesErrors(t *testing.T) {
	net := newTestNetwork(t, nn.ActivationReLU)
	opt, err := nn.NewSGDOptimizer(net, net.AllLayers(), nn.SGDConfig{LearningRate: 0.05})
	require.NoError(t, err)
	tr, err := NewStandardTrainer(failingBackward{net}, opt, StandardConfig{})
	require.NoError(t, err)

	data, labels := newBatch(1, 64)
	net.SetMode(nn.ModeEval)
	err = tr.TrainBatch(data, labels)
	assert.True(t, errors.Is(err, ErrComputation))
	assert.Equal(t, nn.ModeEval, net.Mode(), "mode restored on failure")

	_, err = NewStandardTrainer(net, opt, StandardConfig{WeightPenalty: -1})
	assert.True(t, errors.Is(err, ErrInvalidArgument))
}
