package adversarial

import (
	"github.com/openfluke/yopo/metrics"
	"github.com/openfluke/yopo/nn"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// StandardConfig configures a StandardTrainer
type StandardConfig struct {
	// Attacker generates the adversarial half of each batch. nil means NoAttack.
	Attacker Attacker

	// WeightPenalty adds 0.5 * penalty * ||W||^2 over all kernels when the
	// model supports it.
	WeightPenalty float32

	CleanAccuracy       metrics.Sink
	AdversarialAccuracy metrics.Sink
	Logger              logrus.FieldLogger
}

// Penalizer is implemented by models that can add an L2 weight penalty to
// their accumulated gradients.
type Penalizer interface {
	WeightPenalty(penalty float32) float64
}

// StandardTrainer is the baseline: an optional adversarial backward pass,
// a clean backward pass, then a single optimizer step.
type StandardTrainer struct {
	model     Model
	optimizer nn.Optimizer
	attacker  Attacker
	penalty   float32
	clean     metrics.Sink
	adv       metrics.Sink
	log       logrus.FieldLogger
}

// NewStandardTrainer builds the baseline trainer
func NewStandardTrainer(model Model, optimizer nn.Optimizer, cfg StandardConfig) (*StandardTrainer, error) {
	if model == nil || optimizer == nil {
		return nil, invalidArgument("standard trainer needs a model and an optimizer")
	}
	if cfg.Attacker == nil {
		cfg.Attacker = NoAttack{}
	}
	if cfg.WeightPenalty < 0 {
		return nil, invalidArgument("weight penalty must be non-negative, got %v", cfg.WeightPenalty)
	}
	return &StandardTrainer{
		model:     model,
		optimizer: optimizer,
		attacker:  cfg.Attacker,
		penalty:   cfg.WeightPenalty,
		clean:     defaultSink(cfg.CleanAccuracy, "clean accuracy"),
		adv:       defaultSink(cfg.AdversarialAccuracy, "adversarial accuracy"),
		log:       defaultLogger(cfg.Logger),
	}, nil
}

func (t *StandardTrainer) Name() string {
	if t.attacker.Enabled() {
		return t.attacker.Name()
	}
	return "standard"
}

func (t *StandardTrainer) Accuracies() (float64, float64) {
	return t.clean.Mean(), t.adv.Mean()
}

func (t *StandardTrainer) ResetAccuracies() {
	t.clean.Reset()
	t.adv.Reset()
}

// TrainBatch runs the optional adversarial pass and the clean pass in
// train mode, then steps the optimizer once. The caller's mode is restored.
func (t *StandardTrainer) TrainBatch(data []float32, labels []int) error {
	if err := checkBatch(t.model, data, labels); err != nil {
		return err
	}
	t.optimizer.ZeroGrad()

	var adv []float32
	if t.attacker.Enabled() {
		var err error
		if adv, err = t.attacker.Generate(t.model, data, labels); err != nil {
			return errors.Wrap(err, "generate adversarial batch")
		}
		t.optimizer.ZeroGrad()
	}
	return withMode(t.model, nn.ModeTrain, func() error {
		return t.trainPasses(data, adv, labels)
	})
}

func (t *StandardTrainer) trainPasses(data, adv []float32, labels []int) error {
	classes := t.model.NumClasses()
	if adv != nil {
		pred, loss, grad, err := lossGradient(t.model, adv, labels)
		if err != nil {
			return err
		}
		if _, err := t.model.Backward(grad); err != nil {
			return computationError(err, "adversarial backward")
		}
		if _, err := recordAccuracy(t.adv, pred, labels, classes); err != nil {
			return err
		}
		t.log.WithField("loss", loss).Debug("adversarial loss")
	}

	pred, loss, grad, err := lossGradient(t.model, data, labels)
	if err != nil {
		return err
	}
	if _, err := t.model.Backward(grad); err != nil {
		return computationError(err, "clean backward")
	}
	if p, ok := t.model.(Penalizer); ok && t.penalty > 0 {
		loss += p.WeightPenalty(t.penalty)
	}
	t.optimizer.Step()

	if _, err := recordAccuracy(t.clean, pred, labels, classes); err != nil {
		return err
	}
	t.log.WithField("loss", loss).Debug("clean loss")
	return nil
}
