package adversarial

import "github.com/openfluke/yopo/nn"

// Attacker produces adversarial inputs for a batch. The set of
// implementations is closed: NoAttack and *PGDAttacker.
type Attacker interface {
	// Generate returns an adversarial version of input for labels
	Generate(model Model, input []float32, labels []int) ([]float32, error)

	// Enabled reports whether Generate produces anything
	Enabled() bool

	// Name returns the attack name
	Name() string

	attacker()
}

// NoAttack is the attacker that never attacks
type NoAttack struct{}

func (NoAttack) Generate(Model, []float32, []int) ([]float32, error) {
	return nil, invalidArgument("cannot produce an attack with %s", NoAttack{}.Name())
}

func (NoAttack) Enabled() bool { return false }
func (NoAttack) Name() string  { return "none" }
func (NoAttack) attacker()     {}

// uniformNoise returns n values drawn uniformly from [-epsilon, epsilon]
func uniformNoise(rng nn.RandSource, n int, epsilon float32) []float32 {
	eta := make([]float32, n)
	for i := range eta {
		eta[i] = (rng.Float32() - 0.5) * 2 * epsilon
	}
	return eta
}
