package adversarial

import (
	"math/rand"
	"time"

	"github.com/openfluke/yopo/nn"
)

// PGDConfig configures a PGDAttacker
type PGDConfig struct {
	Epsilon    float32 // L-infinity budget
	Sigma      float32 // step size
	Iterations int
	Device     nn.Device
	DataRange  Range // zero value means UnitRange
	Rand       nn.RandSource
	Observer   StepObserver
}

// DefaultPGDConfig returns epsilon 6/255, sigma 3/255 and 20 iterations
func DefaultPGDConfig() PGDConfig {
	return PGDConfig{Epsilon: 6.0 / 255.0, Sigma: 3.0 / 255.0, Iterations: 20}
}

// PGDAttacker runs projected sign-gradient ascent on the loss inside an
// L-infinity ball around the input.
type PGDAttacker struct {
	budget    Budget
	dataRange Range
	projector *Projector
	rng       nn.RandSource
	observer  StepObserver
}

// NewPGDAttacker validates cfg and builds the attacker
func NewPGDAttacker(cfg PGDConfig) (*PGDAttacker, error) {
	budget := Budget{Epsilon: cfg.Epsilon, Sigma: cfg.Sigma, Iterations: cfg.Iterations, Norm: NormLinf}
	if err := budget.Validate(); err != nil {
		return nil, err
	}
	if cfg.DataRange == (Range{}) {
		cfg.DataRange = UnitRange
	}
	if err := cfg.DataRange.validate(); err != nil {
		return nil, err
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &PGDAttacker{
		budget:    budget,
		dataRange: cfg.DataRange,
		projector: NewProjector(cfg.Device),
		rng:       cfg.Rand,
		observer:  cfg.Observer,
	}, nil
}

func (a *PGDAttacker) Enabled() bool { return true }
func (a *PGDAttacker) Name() string  { return "pgd" }
func (a *PGDAttacker) attacker()     {}

// Budget returns the attack budget
func (a *PGDAttacker) Budget() Budget { return a.budget }

// SetObserver replaces the step observer
func (a *PGDAttacker) SetObserver(o StepObserver) { a.observer = o }

// Generate starts from uniform noise in [-epsilon, epsilon] and returns the
// adversarial input clamped to the data range. The model runs in eval mode
// and its previous mode is restored before returning.
func (a *PGDAttacker) Generate(model Model, input []float32, labels []int) ([]float32, error) {
	eta := uniformNoise(a.rng, len(input), a.budget.Epsilon)
	return a.Perturb(model, input, labels, eta)
}

// Perturb runs the attack from a caller-supplied starting perturbation
func (a *PGDAttacker) Perturb(model Model, input []float32, labels []int, eta []float32) ([]float32, error) {
	if err := checkBatch(model, input, labels); err != nil {
		return nil, err
	}
	if len(eta) != len(input) {
		return nil, invalidArgument("perturbation length %d does not match input length %d", len(eta), len(input))
	}

	var adv []float32
	err := withMode(model, nn.ModeEval, func() error {
		cur := nn.Clone(eta)
		for i := 0; i < a.budget.Iterations; i++ {
			next, err := a.step(model, input, labels, cur)
			if err != nil {
				return err
			}
			cur = next
			notify(a.observer, StepEvent{Phase: PhasePGD, Inner: i, BatchSize: len(labels), Eta: cur})
		}

		var err error
		adv, err = a.projector.ClampRange(nn.Add(input, cur), a.dataRange)
		return err
	})
	if err != nil {
		return nil, err
	}
	return adv, nil
}

// step performs one ascent step and returns the new perturbation
func (a *PGDAttacker) step(model Model, input []float32, labels []int, eta []float32) ([]float32, error) {
	if len(eta) != len(input) {
		return nil, invalidArgument("perturbation length %d does not match input length %d", len(eta), len(input))
	}

	adv := nn.Add(input, eta)
	_, _, gradLogits, err := lossGradient(model, adv, labels)
	if err != nil {
		return nil, err
	}
	grad, err := model.InputGradient(gradLogits)
	if err != nil {
		return nil, computationError(err, "loss gradient with respect to the adversarial input")
	}
	if len(grad) != len(adv) {
		return nil, computationError(nil, "input gradient has length %d, adversarial input has %d", len(grad), len(adv))
	}

	sign := nn.Sign(grad)
	for i := range adv {
		adv[i] += sign[i] * a.budget.Sigma
	}
	adv, err = a.projector.ClampRange(adv, a.dataRange)
	if err != nil {
		return nil, err
	}
	return a.projector.Project(nn.Sub(adv, input), len(labels), NormLinf, a.budget.Epsilon)
}
