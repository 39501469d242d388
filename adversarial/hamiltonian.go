package adversarial

import "github.com/openfluke/yopo/nn"

// Hamiltonian is H(x, p) = sum(layer(x) * p) for a fixed adjoint p.
// p is copied at construction so later changes by the caller cannot leak
// into the functional, and no gradient ever flows into it.
type Hamiltonian struct {
	model LayeredModel
	layer int
	p     []float32
}

// NewHamiltonian pairs layer of model with the adjoint p
func NewHamiltonian(model LayeredModel, layer int, p []float32) *Hamiltonian {
	return &Hamiltonian{model: model, layer: layer, p: nn.Clone(p)}
}

// Adjoint returns a copy of p
func (h *Hamiltonian) Adjoint() []float32 {
	return nn.Clone(h.p)
}

// Value returns H(x, p)
func (h *Hamiltonian) Value(x []float32) (float64, error) {
	tape, err := h.forward(x)
	if err != nil {
		return 0, err
	}
	return h.sum(tape.Output()), nil
}

// InputGradient returns dH/dx without touching parameter gradients
func (h *Hamiltonian) InputGradient(x []float32) ([]float32, error) {
	tape, err := h.forward(x)
	if err != nil {
		return nil, err
	}
	grad, err := h.model.BackwardLayer(tape, h.p, false)
	if err != nil {
		return nil, computationError(err, "dH/dx")
	}
	if len(grad) != len(x) {
		return nil, computationError(nil, "dH/dx has length %d, input has %d", len(grad), len(x))
	}
	return grad, nil
}

// BackwardNegative evaluates -H(x, p) and accumulates its gradient into the
// layer's parameters. It returns -H.
func (h *Hamiltonian) BackwardNegative(x []float32) (float64, error) {
	tape, err := h.forward(x)
	if err != nil {
		return 0, err
	}
	if _, err := h.model.BackwardLayer(tape, nn.Scale(h.p, -1), true); err != nil {
		return 0, computationError(err, "-H backward")
	}
	return -h.sum(tape.Output()), nil
}

func (h *Hamiltonian) forward(x []float32) (*nn.LayerTape, error) {
	tape, err := h.model.ForwardLayer(h.layer, x)
	if err != nil {
		return nil, err
	}
	if len(tape.Output()) != len(h.p) {
		return nil, invalidArgument("adjoint length %d does not match layer %d output length %d",
			len(h.p), h.layer, len(tape.Output()))
	}
	return tape, nil
}

func (h *Hamiltonian) sum(y []float32) float64 {
	total := 0.0
	for i, v := range y {
		total += float64(v) * float64(h.p[i])
	}
	return total
}
