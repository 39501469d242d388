package adversarial

import (
	"github.com/openfluke/yopo/nn"
)

// RefinerConfig configures the inner single-layer perturbation refinement
type RefinerConfig struct {
	Sigma      float32 // inner step size
	Epsilon    float32 // L-infinity budget
	Iterations int     // N2
	Layer      int     // refined layer, 0 for the first layer
	Device     nn.Device
	DataRange  Range // zero value means UnitRange
	Observer   StepObserver
}

// DefaultLayerOptimizer is the SGD configuration of the refiner's layer optimizer
var DefaultLayerOptimizer = nn.SGDConfig{LearningRate: 0.005, Momentum: 0.9, WeightDecay: 5e-4}

// Refiner refines a perturbation with sign steps on the Hamiltonian of one
// layer, touching no other layer. It owns an optimizer scoped to that
// layer's parameters.
type Refiner struct {
	model     LayeredModel
	optimizer nn.Optimizer
	budget    Budget
	layer     int
	dataRange Range
	projector *Projector
	observer  StepObserver
}

// NewRefiner builds a refiner over model. optimizer must cover only the
// refined layer and must not be shared.
func NewRefiner(model LayeredModel, optimizer nn.Optimizer, cfg RefinerConfig) (*Refiner, error) {
	if model == nil || optimizer == nil {
		return nil, invalidArgument("refiner needs a model and a layer optimizer")
	}
	budget := Budget{Epsilon: cfg.Epsilon, Sigma: cfg.Sigma, Iterations: cfg.Iterations, Norm: NormLinf}
	if err := budget.Validate(); err != nil {
		return nil, err
	}
	if cfg.Layer < 0 {
		return nil, invalidArgument("layer must be non-negative, got %d", cfg.Layer)
	}
	if cfg.DataRange == (Range{}) {
		cfg.DataRange = UnitRange
	}
	if err := cfg.DataRange.validate(); err != nil {
		return nil, err
	}
	return &Refiner{
		model:     model,
		optimizer: optimizer,
		budget:    budget,
		layer:     cfg.Layer,
		dataRange: cfg.DataRange,
		projector: NewProjector(cfg.Device),
		observer:  cfg.Observer,
	}, nil
}

// NewNetworkRefiner builds a refiner over the first layer of net with a
// dedicated SGD optimizer configured by layerOpt.
func NewNetworkRefiner(net *nn.Network, layerOpt nn.SGDConfig, cfg RefinerConfig) (*Refiner, error) {
	cfg.Layer = 0
	opt, err := nn.NewSGDOptimizer(net, net.FirstLayer(), layerOpt)
	if err != nil {
		return nil, err
	}
	return NewRefiner(net, opt, cfg)
}

// SetObserver replaces the step observer
func (r *Refiner) SetObserver(o StepObserver) { r.observer = o }

// Budget returns the inner budget
func (r *Refiner) Budget() Budget { return r.budget }

// ZeroGradLayer clears the refined layer's gradients
func (r *Refiner) ZeroGradLayer() { r.optimizer.ZeroGrad() }

// StepLayer applies the refined layer's accumulated gradients
func (r *Refiner) StepLayer() { r.optimizer.Step() }

// Step runs N2 sign-descent steps on H(clamp(data + eta), p) with respect to
// eta, then backpropagates -H(yopoInput, p) into the layer's parameters.
// It returns the admissible input yopoInput = clamp(data + eta) and the
// refined eta. It never steps the optimizer.
func (r *Refiner) Step(data, p, eta []float32) ([]float32, []float32, error) {
	return r.step(0, data, p, eta)
}

func (r *Refiner) step(outer int, data, p, eta []float32) ([]float32, []float32, error) {
	if len(data) != len(eta) {
		return nil, nil, invalidArgument("data length %d and perturbation length %d differ", len(data), len(eta))
	}
	batchSize := r.batchSize(data)
	if batchSize < 1 {
		return nil, nil, invalidArgument("data length %d is not a whole number of samples of size %d",
			len(data), r.model.SampleSize())
	}

	h := NewHamiltonian(r.model, r.layer, p)
	eta = nn.Clone(eta)

	for i := 0; i < r.budget.Iterations; i++ {
		x, err := r.projector.ClampRange(nn.Add(data, eta), r.dataRange)
		if err != nil {
			return nil, nil, err
		}
		gradX, err := h.InputGradient(x)
		if err != nil {
			return nil, nil, err
		}

		// Gradient through the clamp reaches eta only where data+eta lies inside the range
		sign := nn.Sign(r.throughClamp(gradX, data, eta))
		for j := range eta {
			eta[j] -= sign[j] * r.budget.Sigma
		}

		if eta, err = r.projector.Project(eta, batchSize, NormLinf, r.budget.Epsilon); err != nil {
			return nil, nil, err
		}
		if _, eta, err = r.projector.Admissible(data, eta, r.dataRange); err != nil {
			return nil, nil, err
		}
		notify(r.observer, StepEvent{Phase: PhaseYOPO, Outer: outer, Inner: i, BatchSize: batchSize, Eta: eta})
	}

	yopoInput, err := r.projector.ClampRange(nn.Add(eta, data), r.dataRange)
	if err != nil {
		return nil, nil, err
	}
	if _, err := h.BackwardNegative(yopoInput); err != nil {
		return nil, nil, err
	}
	return yopoInput, eta, nil
}

func (r *Refiner) throughClamp(gradX, data, eta []float32) []float32 {
	out := make([]float32, len(gradX))
	for i, g := range gradX {
		v := data[i] + eta[i]
		if v >= r.dataRange.Min && v <= r.dataRange.Max {
			out[i] = g
		}
	}
	return out
}

func (r *Refiner) batchSize(data []float32) int {
	size := r.model.SampleSize()
	if size < 1 || len(data) == 0 || len(data)%size != 0 {
		return 0
	}
	return len(data) / size
}
