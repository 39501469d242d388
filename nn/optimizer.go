package nn

import (
	"fmt"
	"math"
)

// ParameterSet names the layers whose parameters an optimizer owns
type ParameterSet []int

// Optimizer updates the parameters of one ParameterSet of a network
// from the gradients accumulated by backward passes.
type Optimizer interface {
	// ZeroGrad clears the accumulated gradients of the owned parameters
	ZeroGrad()

	// Step applies the accumulated gradients to the owned parameters
	Step()

	// Reset clears optimizer state (momentum, moments)
	Reset()

	// LearningRate and SetLearningRate expose the step size to schedulers
	LearningRate() float32
	SetLearningRate(lr float32)

	// Name returns the optimizer name
	Name() string
}

// ============================================================================
// SGD Optimizer (Stochastic Gradient Descent with optional momentum)
// ============================================================================

// SGDConfig holds SGD hyperparameters
type SGDConfig struct {
	LearningRate float32
	Momentum     float32
	Dampening    float32
	Nesterov     bool
	WeightDecay  float32
}

type SGDOptimizer struct {
	network    *Network
	params     ParameterSet
	config     SGDConfig
	velocities map[string][]float32 // Momentum buffers
}

// NewSGDOptimizer creates an SGD optimizer over params of network
func NewSGDOptimizer(network *Network, params ParameterSet, config SGDConfig) (*SGDOptimizer, error) {
	if network == nil {
		return nil, invalidArgument("optimizer needs a network")
	}
	if config.LearningRate <= 0 {
		return nil, invalidArgument("learning rate must be positive, got %v", config.LearningRate)
	}
	if config.Momentum < 0 || config.WeightDecay < 0 {
		return nil, invalidArgument("momentum and weight decay must be non-negative")
	}
	if config.Nesterov && (config.Momentum == 0 || config.Dampening != 0) {
		return nil, invalidArgument("nesterov momentum requires momentum > 0 and zero dampening")
	}
	if err := network.checkParameterSet(params); err != nil {
		return nil, err
	}
	return &SGDOptimizer{
		network:    network,
		params:     append(ParameterSet(nil), params...),
		config:     config,
		velocities: make(map[string][]float32),
	}, nil
}

func (opt *SGDOptimizer) ZeroGrad() {
	opt.network.zeroGradients(opt.params)
}

func (opt *SGDOptimizer) Step() {
	for _, i := range opt.params {
		layer := &opt.network.Layers[i]
		opt.update(fmt.Sprintf("kernel_%d", i), layer.Kernel, opt.network.kernelGradients[i])
		opt.update(fmt.Sprintf("bias_%d", i), layer.Bias, opt.network.biasGradients[i])
	}
}

// update: g = grad + wd*w; v = momentum*v + (1-dampening)*g (v = g on the first step);
// w = w - lr*v, or w - lr*(g + momentum*v) for Nesterov.
func (opt *SGDOptimizer) update(key string, weights, grads []float32) {
	if len(weights) == 0 || len(grads) != len(weights) {
		return
	}
	c := opt.config

	v, seen := opt.velocities[key]
	if c.Momentum != 0 && !seen {
		v = make([]float32, len(weights))
		opt.velocities[key] = v
	}

	for j := range weights {
		g := grads[j] + c.WeightDecay*weights[j]
		if c.Momentum != 0 {
			if seen {
				v[j] = c.Momentum*v[j] + (1-c.Dampening)*g
			} else {
				v[j] = g
			}
			if c.Nesterov {
				g += c.Momentum * v[j]
			} else {
				g = v[j]
			}
		}
		weights[j] -= c.LearningRate * g
	}
}

func (opt *SGDOptimizer) LearningRate() float32 { return opt.config.LearningRate }

func (opt *SGDOptimizer) SetLearningRate(lr float32) { opt.config.LearningRate = lr }

func (opt *SGDOptimizer) Reset() {
	opt.velocities = make(map[string][]float32)
}

func (opt *SGDOptimizer) Name() string {
	if opt.config.Momentum > 0 {
		if opt.config.Nesterov {
			return "SGD (Nesterov momentum)"
		}
		return "SGD (momentum)"
	}
	return "SGD"
}

// ============================================================================
// AdamW Optimizer (Adam with decoupled weight decay)
// ============================================================================

// AdamWConfig holds AdamW hyperparameters
type AdamWConfig struct {
	LearningRate float32
	Beta1        float32
	Beta2        float32
	Epsilon      float32
	WeightDecay  float32
}

// DefaultAdamWConfig returns the usual AdamW defaults for a learning rate
func DefaultAdamWConfig(learningRate float32) AdamWConfig {
	return AdamWConfig{LearningRate: learningRate, Beta1: 0.9, Beta2: 0.999, Epsilon: 1e-8, WeightDecay: 0.01}
}

type AdamWOptimizer struct {
	network *Network
	params  ParameterSet
	config  AdamWConfig
	step    int

	// First moment estimates (momentum)
	m map[string][]float32

	// Second moment estimates (variance)
	v map[string][]float32
}

// NewAdamWOptimizer creates an AdamW optimizer over params of network
func NewAdamWOptimizer(network *Network, params ParameterSet, config AdamWConfig) (*AdamWOptimizer, error) {
	if network == nil {
		return nil, invalidArgument("optimizer needs a network")
	}
	if config.LearningRate <= 0 {
		return nil, invalidArgument("learning rate must be positive, got %v", config.LearningRate)
	}
	if config.Beta1 < 0 || config.Beta1 >= 1 || config.Beta2 < 0 || config.Beta2 >= 1 {
		return nil, invalidArgument("betas must be in [0, 1), got %v, %v", config.Beta1, config.Beta2)
	}
	if err := network.checkParameterSet(params); err != nil {
		return nil, err
	}
	return &AdamWOptimizer{
		network: network,
		params:  append(ParameterSet(nil), params...),
		config:  config,
		m:       make(map[string][]float32),
		v:       make(map[string][]float32),
	}, nil
}

func (opt *AdamWOptimizer) ZeroGrad() {
	opt.network.zeroGradients(opt.params)
}

func (opt *AdamWOptimizer) Step() {
	opt.step++

	// Bias correction factors
	c := opt.config
	biasCorrection1 := 1.0 - float32(math.Pow(float64(c.Beta1), float64(opt.step)))
	biasCorrection2 := 1.0 - float32(math.Pow(float64(c.Beta2), float64(opt.step)))

	for _, i := range opt.params {
		layer := &opt.network.Layers[i]
		opt.update(fmt.Sprintf("kernel_%d", i), layer.Kernel, opt.network.kernelGradients[i], biasCorrection1, biasCorrection2)
		opt.update(fmt.Sprintf("bias_%d", i), layer.Bias, opt.network.biasGradients[i], biasCorrection1, biasCorrection2)
	}
}

func (opt *AdamWOptimizer) update(key string, weights, grads []float32, bc1, bc2 float32) {
	if len(weights) == 0 || len(grads) != len(weights) {
		return
	}
	c := opt.config
	if opt.m[key] == nil {
		opt.m[key] = make([]float32, len(weights))
		opt.v[key] = make([]float32, len(weights))
	}
	m, v := opt.m[key], opt.v[key]

	for j := range weights {
		grad := grads[j]
		m[j] = c.Beta1*m[j] + (1-c.Beta1)*grad
		v[j] = c.Beta2*v[j] + (1-c.Beta2)*grad*grad

		mHat := m[j] / bc1
		vHat := v[j] / bc2

		// Decoupled weight decay
		weights[j] -= c.LearningRate * (mHat/(float32(math.Sqrt(float64(vHat)))+c.Epsilon) + c.WeightDecay*weights[j])
	}
}

func (opt *AdamWOptimizer) LearningRate() float32 { return opt.config.LearningRate }

func (opt *AdamWOptimizer) SetLearningRate(lr float32) { opt.config.LearningRate = lr }

func (opt *AdamWOptimizer) Reset() {
	opt.step = 0
	opt.m = make(map[string][]float32)
	opt.v = make(map[string][]float32)
}

func (opt *AdamWOptimizer) Name() string {
	return "AdamW"
}

func (n *Network) checkParameterSet(params ParameterSet) error {
	if len(params) == 0 {
		return invalidArgument("empty parameter set")
	}
	for _, i := range params {
		if i < 0 || i >= len(n.Layers) {
			return invalidArgument("parameter set names layer %d, network has %d layers", i, len(n.Layers))
		}
	}
	return nil
}
