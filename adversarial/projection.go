package adversarial

import (
	"github.com/openfluke/yopo/gpu"
	"github.com/openfluke/yopo/nn"
	"gonum.org/v1/gonum/floats"
)

// Range is the admissible interval for input values
type Range struct {
	Min float32
	Max float32
}

// UnitRange is the [0, 1] pixel range
var UnitRange = Range{Min: 0, Max: 1}

func (r Range) validate() error {
	if r.Min > r.Max || isNaN(r.Min) || isNaN(r.Max) {
		return invalidArgument("empty data range [%v, %v]", r.Min, r.Max)
	}
	return nil
}

// Projector maps perturbations onto epsilon-balls and inputs onto the data
// range. With nn.DeviceGPU the elementwise box clamps run on WebGPU; the
// per-sample L1/L2 reductions always run on the CPU.
type Projector struct {
	device nn.Device
}

// NewProjector creates a projector bound to device
func NewProjector(device nn.Device) *Projector {
	return &Projector{device: device}
}

// Device returns the device the projector runs box clamps on
func (p *Projector) Device() nn.Device {
	return p.device
}

// Project returns eta projected onto the epsilon-ball of norm. eta holds
// batchSize samples; L1 and L2 norms are taken per sample over all
// remaining dimensions. Samples already inside the ball are unchanged.
func (p *Projector) Project(eta []float32, batchSize int, norm Norm, epsilon float32) ([]float32, error) {
	if !norm.valid() {
		return nil, invalidArgument("unknown norm %v, want one of l1, l2, linf", norm)
	}
	if err := checkEpsilon(epsilon); err != nil {
		return nil, err
	}
	if batchSize < 1 || len(eta)%batchSize != 0 {
		return nil, invalidArgument("perturbation length %d is not divisible into %d samples", len(eta), batchSize)
	}

	if norm == NormLinf {
		return p.box(eta, -epsilon, epsilon)
	}

	order := 2.0
	if norm == NormL1 {
		order = 1.0
	}

	out := make([]float32, len(eta))
	sampleSize := len(eta) / batchSize
	sample := make([]float64, sampleSize)
	eps := float64(epsilon)
	for b := 0; b < batchSize; b++ {
		row := eta[b*sampleSize : (b+1)*sampleSize]
		for i, v := range row {
			sample[i] = float64(v)
		}
		// Floor at epsilon so the factor is finite; a zero budget maps to the origin
		n := floats.Norm(sample, order)
		if n < eps {
			n = eps
		}
		factor := 0.0
		if n > 0 {
			factor = eps / n
			if factor > 1 {
				factor = 1
			}
		}
		dst := out[b*sampleSize : (b+1)*sampleSize]
		for i, v := range row {
			dst[i] = float32(float64(v) * factor)
		}
	}
	return out, nil
}

// ClampRange returns v clamped elementwise into r
func (p *Projector) ClampRange(v []float32, r Range) ([]float32, error) {
	if err := r.validate(); err != nil {
		return nil, err
	}
	return p.box(v, r.Min, r.Max)
}

// Admissible returns the perturbation that remains after clamping data+eta
// into r: clamp(data + eta) - data.
func (p *Projector) Admissible(data, eta []float32, r Range) ([]float32, []float32, error) {
	if len(data) != len(eta) {
		return nil, nil, invalidArgument("data length %d and perturbation length %d differ", len(data), len(eta))
	}
	x, err := p.ClampRange(nn.Add(data, eta), r)
	if err != nil {
		return nil, nil, err
	}
	return x, nn.Sub(x, data), nil
}

func (p *Projector) box(v []float32, lo, hi float32) ([]float32, error) {
	if p.device == nn.DeviceGPU {
		out, err := gpu.BoxClamp(v, lo, hi)
		if err != nil {
			return nil, computationError(err, "gpu clamp")
		}
		return out, nil
	}
	out := make([]float32, len(v))
	for i, x := range v {
		switch {
		case x < lo:
			out[i] = lo
		case x > hi:
			out[i] = hi
		default:
			out[i] = x
		}
	}
	return out, nil
}

// Project is Projector.Project on the CPU
func Project(eta []float32, batchSize int, norm Norm, epsilon float32) ([]float32, error) {
	return cpuProjector.Project(eta, batchSize, norm, epsilon)
}

var cpuProjector = NewProjector(nn.DeviceCPU)
