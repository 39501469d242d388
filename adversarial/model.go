package adversarial

import "github.com/openfluke/yopo/nn"

// Model is the full-network capability the attackers and trainers drive.
// *nn.Network implements it.
type Model interface {
	Forward(input []float32) ([]float32, error)
	Backward(gradOutput []float32) ([]float32, error)
	InputGradient(gradOutput []float32) ([]float32, error)
	Mode() nn.Mode
	SetMode(m nn.Mode)
	SampleSize() int
	NumClasses() int
}

// LayeredModel adds access to individual layers, the first of which is
// refined by YOPO.
type LayeredModel interface {
	Model
	ForwardLayer(layer int, input []float32) (*nn.LayerTape, error)
	BackwardLayer(tape *nn.LayerTape, gradOutput []float32, accumulateParams bool) ([]float32, error)
	OutputGradient(layer int) ([]float32, error)
	RequiresGrad(layer int) bool
	SetRequiresGrad(layer int, requiresGrad bool)
}

var _ LayeredModel = (*nn.Network)(nil)

// withMode switches m to mode for the duration of fn and restores the
// previous mode on every exit path.
func withMode(m Model, mode nn.Mode, fn func() error) error {
	prev := m.Mode()
	m.SetMode(mode)
	defer m.SetMode(prev)
	return fn()
}

// withFrozenLayer disables parameter gradient accumulation on one layer for
// the duration of fn and restores the previous flag on every exit path.
func withFrozenLayer(m LayeredModel, layer int, fn func() error) error {
	prev := m.RequiresGrad(layer)
	m.SetRequiresGrad(layer, false)
	defer m.SetRequiresGrad(layer, prev)
	return fn()
}

func checkBatch(m Model, input []float32, labels []int) error {
	if len(labels) == 0 {
		return invalidArgument("empty label batch")
	}
	if want := len(labels) * m.SampleSize(); len(input) != want {
		return invalidArgument("input length %d does not match %d samples of size %d",
			len(input), len(labels), m.SampleSize())
	}
	return nil
}

// lossGradient runs a forward pass on x and returns the logits, the
// cross-entropy loss and dLoss/dlogits.
func lossGradient(m Model, x []float32, labels []int) ([]float32, float64, []float32, error) {
	logits, err := m.Forward(x)
	if err != nil {
		return nil, 0, nil, err
	}
	loss, grad, err := nn.CrossEntropy(logits, labels, m.NumClasses())
	if err != nil {
		return nil, 0, nil, err
	}
	return logits, loss, grad, nil
}
