package experiment

import (
	"math/rand"

	"github.com/openfluke/yopo/adversarial"
	"github.com/openfluke/yopo/data"
	"github.com/openfluke/yopo/gpu"
	"github.com/openfluke/yopo/metrics"
	"github.com/openfluke/yopo/nn"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Metric kinds reported by an experiment
const (
	KindTrainClean       = "train_clean"
	KindTrainAdversarial = "train_adversarial"
	KindEvalClean        = "eval_clean"
	KindEvalAdversarial  = "eval_adversarial"
)

const syntheticSamples = 512

// Components is everything a Runner drives
type Components struct {
	Network   *nn.Network
	Optimizer nn.Optimizer
	Scheduler nn.LRScheduler
	Trainer   adversarial.Trainer
	Evaluator *adversarial.Evaluator
	Train     *data.Loader
	Test      *data.Loader
}

// Build loads data and constructs the network, trainer and evaluator for cfg.
// With nil collectors the accuracies are kept in plain average meters.
func Build(cfg Config, collectors *metrics.Collectors, logger logrus.FieldLogger) (*Components, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if device, _ := nn.ParseDevice(cfg.Device); device == nn.DeviceGPU {
		if err := gpu.EnsureGPU(); err != nil {
			return nil, errors.Wrap(err, "gpu device unavailable")
		}
	}
	trainSet, testSet, err := LoadData(cfg)
	if err != nil {
		return nil, err
	}

	net, err := NewNetwork(cfg, trainSet)
	if err != nil {
		return nil, err
	}
	sink := func(kind string) metrics.Sink {
		if collectors == nil {
			return metrics.NewAverageMeter(kind)
		}
		return collectors.Sink(kind)
	}

	opt, err := NewOptimizer(cfg, net)
	if err != nil {
		return nil, err
	}
	sched, err := nn.NewScheduler(cfg.Schedule())
	if err != nil {
		return nil, err
	}
	trainer, err := NewTrainer(cfg, net, opt, sink(KindTrainClean), sink(KindTrainAdversarial), logger)
	if err != nil {
		return nil, err
	}
	evalAttacker, err := newPGD(cfg, cfg.Seed+2)
	if err != nil {
		return nil, err
	}
	evaluator := adversarial.NewEvaluator(evalAttacker, sink(KindEvalClean), sink(KindEvalAdversarial))

	train, err := data.NewLoader(trainSet, data.LoaderConfig{BatchSize: cfg.BatchSize, Shuffle: true, Seed: cfg.Seed})
	if err != nil {
		return nil, err
	}
	test, err := data.NewLoader(testSet, data.LoaderConfig{BatchSize: cfg.BatchSize})
	if err != nil {
		return nil, err
	}

	return &Components{
		Network:   net,
		Optimizer: opt,
		Scheduler: sched,
		Trainer:   trainer,
		Evaluator: evaluator,
		Train:     train,
		Test:      test,
	}, nil
}

// LoadData returns the training and test datasets named by cfg
func LoadData(cfg Config) (*data.Dataset, *data.Dataset, error) {
	if cfg.Dataset == "synthetic" {
		n := cfg.MaxSamples
		if n == 0 {
			n = syntheticSamples
		}
		train, err := data.Synthetic(n, 1, 28, 28, 10, cfg.Seed)
		if err != nil {
			return nil, nil, err
		}
		test, err := data.Synthetic(n/4+1, 1, 28, 28, 10, cfg.Seed+1)
		return train, test, err
	}

	train, err := data.LoadMNIST(cfg.DataDir, data.SplitTrain, cfg.MaxSamples)
	if err != nil {
		return nil, nil, errors.Wrap(err, "load training set")
	}
	testDir := cfg.TestDir
	if testDir == "" {
		testDir = cfg.DataDir
	}
	test, err := data.LoadMNIST(testDir, data.SplitTest, cfg.MaxSamples)
	if err != nil {
		return nil, nil, errors.Wrap(err, "load test set")
	}
	return train, test, nil
}

// NewNetwork builds the small CNN sized for ds
func NewNetwork(cfg Config, ds *data.Dataset) (*nn.Network, error) {
	device, err := nn.ParseDevice(cfg.Device)
	if err != nil {
		return nil, err
	}
	return nn.NewSmallCNN(nn.SmallCNNConfig{
		Channels: ds.Channels,
		Height:   ds.Height,
		Width:    ds.Width,
		Classes:  ds.Classes,
		DropRate: cfg.DropRate,
		Device:   device,
		Rand:     rand.New(rand.NewSource(cfg.Seed)),
	})
}

// NewOptimizer builds the whole-network optimizer
func NewOptimizer(cfg Config, net *nn.Network) (nn.Optimizer, error) {
	if cfg.Optimizer == "adamw" {
		ac := nn.DefaultAdamWConfig(cfg.LearningRate)
		ac.WeightDecay = cfg.WeightDecay
		return nn.NewAdamWOptimizer(net, net.AllLayers(), ac)
	}
	return nn.NewSGDOptimizer(net, net.AllLayers(), nn.SGDConfig{
		LearningRate: cfg.LearningRate,
		Momentum:     cfg.Momentum,
		WeightDecay:  cfg.WeightDecay,
	})
}

// NewTrainer builds the trainer named by cfg.Trainer around the
// whole-network optimizer opt
func NewTrainer(cfg Config, net *nn.Network, opt nn.Optimizer, clean, adv metrics.Sink, logger logrus.FieldLogger) (adversarial.Trainer, error) {
	device, err := nn.ParseDevice(cfg.Device)
	if err != nil {
		return nil, err
	}

	switch cfg.Trainer {
	case TrainerStandard, TrainerPGD:
		var attacker adversarial.Attacker = adversarial.NoAttack{}
		if cfg.Trainer == TrainerPGD {
			if attacker, err = newPGD(cfg, cfg.Seed+1); err != nil {
				return nil, err
			}
		}
		return adversarial.NewStandardTrainer(net, opt, adversarial.StandardConfig{
			Attacker:            attacker,
			WeightPenalty:       cfg.WeightPenalty,
			CleanAccuracy:       clean,
			AdversarialAccuracy: adv,
			Logger:              logger,
		})

	case TrainerYOPO:
		refiner, err := adversarial.NewNetworkRefiner(net, nn.SGDConfig{
			LearningRate: cfg.LayerLearningRate,
			Momentum:     cfg.LayerMomentum,
			WeightDecay:  cfg.LayerWeightDecay,
		}, adversarial.RefinerConfig{
			Sigma:      cfg.InnerSigma,
			Epsilon:    cfg.Epsilon,
			Iterations: cfg.N2,
			Device:     device,
		})
		if err != nil {
			return nil, err
		}
		return adversarial.NewYOPOTrainer(net, opt, refiner, adversarial.YOPOConfig{
			K:              cfg.K,
			Epsilon:        cfg.Epsilon,
			Rand:           rand.New(rand.NewSource(cfg.Seed + 1)),
			CleanAccuracy:  clean,
			RobustAccuracy: adv,
			Logger:         logger,
		})
	}
	return nil, errors.Wrapf(adversarial.ErrInvalidArgument, "unknown trainer %q", cfg.Trainer)
}

func newPGD(cfg Config, seed int64) (*adversarial.PGDAttacker, error) {
	device, err := nn.ParseDevice(cfg.Device)
	if err != nil {
		return nil, err
	}
	return adversarial.NewPGDAttacker(adversarial.PGDConfig{
		Epsilon:    cfg.Epsilon,
		Sigma:      cfg.Sigma,
		Iterations: cfg.PGDIterations,
		Device:     device,
		Rand:       rand.New(rand.NewSource(seed)),
	})
}
