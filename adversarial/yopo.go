package adversarial

import (
	"math/rand"
	"time"

	"github.com/openfluke/yopo/metrics"
	"github.com/openfluke/yopo/nn"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// YOPOConfig configures a YOPOTrainer
type YOPOConfig struct {
	K       int     // outer iterations per batch
	Epsilon float32 // range of the initial uniform perturbation

	Rand           nn.RandSource
	CleanAccuracy  metrics.Sink
	RobustAccuracy metrics.Sink
	Logger         logrus.FieldLogger
}

// YOPOTrainer is the outer loop of YOPO-K-N2 training. Each outer iteration
// runs one full forward and backward pass to obtain the adjoint p at the
// refined layer's output, then hands p to the refiner for N2 inner steps.
type YOPOTrainer struct {
	model     LayeredModel
	optimizer nn.Optimizer
	refiner   *Refiner
	k         int
	epsilon   float32
	rng       nn.RandSource
	clean     metrics.Sink
	robust    metrics.Sink
	log       logrus.FieldLogger
}

// NewYOPOTrainer builds the trainer. optimizer covers the whole network,
// refiner owns the layer-scoped optimizer. Both step once per batch.
func NewYOPOTrainer(model LayeredModel, optimizer nn.Optimizer, refiner *Refiner, cfg YOPOConfig) (*YOPOTrainer, error) {
	if model == nil || optimizer == nil || refiner == nil {
		return nil, invalidArgument("yopo trainer needs a model, an optimizer and a refiner")
	}
	if cfg.K < 1 {
		return nil, invalidArgument("K must be at least 1, got %d", cfg.K)
	}
	if err := checkEpsilon(cfg.Epsilon); err != nil {
		return nil, err
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &YOPOTrainer{
		model:     model,
		optimizer: optimizer,
		refiner:   refiner,
		k:         cfg.K,
		epsilon:   cfg.Epsilon,
		rng:       cfg.Rand,
		clean:     defaultSink(cfg.CleanAccuracy, "clean accuracy"),
		robust:    defaultSink(cfg.RobustAccuracy, "yopo accuracy"),
		log:       defaultLogger(cfg.Logger),
	}, nil
}

func (t *YOPOTrainer) Name() string { return "yopo" }

// Refiner returns the inner refiner
func (t *YOPOTrainer) Refiner() *Refiner { return t.refiner }

func (t *YOPOTrainer) Accuracies() (float64, float64) {
	return t.clean.Mean(), t.robust.Mean()
}

func (t *YOPOTrainer) ResetAccuracies() {
	t.clean.Reset()
	t.robust.Reset()
}

// TrainBatch runs K outer iterations of N2 inner iterations each, then
// steps the network optimizer and the layer optimizer once.
func (t *YOPOTrainer) TrainBatch(data []float32, labels []int) error {
	if err := checkBatch(t.model, data, labels); err != nil {
		return err
	}
	layer := t.refiner.layer
	classes := t.model.NumClasses()

	eta := uniformNoise(t.rng, len(data), t.epsilon)

	t.optimizer.ZeroGrad()
	t.refiner.ZeroGradLayer()

	for j := 0; j < t.k; j++ {
		pred, loss, gradLogits, err := lossGradient(t.model, nn.Add(data, eta), labels)
		if err != nil {
			return errors.Wrapf(err, "outer iteration %d", j)
		}

		// The refined layer's parameters get their gradient from -H only
		err = withFrozenLayer(t.model, layer, func() error {
			_, err := t.model.Backward(gradLogits)
			return err
		})
		if err != nil {
			return computationError(err, "outer iteration %d backward", j)
		}

		grad, err := t.model.OutputGradient(layer)
		if err != nil {
			return computationError(err, "outer iteration %d adjoint", j)
		}
		p := nn.Scale(grad, -1)

		var yopoInput []float32
		yopoInput, eta, err = t.refiner.step(j, data, p, eta)
		if err != nil {
			return errors.Wrapf(err, "outer iteration %d refinement", j)
		}

		if j == 0 {
			if _, err := recordAccuracy(t.clean, pred, labels, classes); err != nil {
				return err
			}
		}
		if j == t.k-1 {
			logits, err := t.model.Forward(yopoInput)
			if err != nil {
				return errors.Wrap(err, "robust accuracy forward")
			}
			if _, err := recordAccuracy(t.robust, logits, labels, classes); err != nil {
				return err
			}
		}

		t.log.WithFields(logrus.Fields{"outer": j, "loss": loss}).Debug("yopo outer iteration")
	}

	t.optimizer.Step()
	t.refiner.StepLayer()
	t.optimizer.ZeroGrad()
	t.refiner.ZeroGradLayer()
	return nil
}
