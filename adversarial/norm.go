package adversarial

import (
	"fmt"
	"math"
	"strings"
)

// Norm selects the geometry of the perturbation ball
type Norm int

const (
	NormLinf Norm = iota
	NormL1
	NormL2
)

func (n Norm) String() string {
	switch n {
	case NormLinf:
		return "linf"
	case NormL1:
		return "l1"
	case NormL2:
		return "l2"
	default:
		return fmt.Sprintf("norm(%d)", int(n))
	}
}

func (n Norm) valid() bool {
	return n == NormLinf || n == NormL1 || n == NormL2
}

// ParseNorm accepts "1", "2", "inf" and their l-prefixed spellings
func ParseNorm(s string) (Norm, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "l1":
		return NormL1, nil
	case "2", "l2":
		return NormL2, nil
	case "i", "inf", "linf", "l-inf", "l_inf":
		return NormLinf, nil
	}
	return 0, invalidArgument("unknown norm %q, want one of l1, l2, linf", s)
}

// MinEpsilon is the smallest positive radius, exported for callers that need
// a floor for an otherwise zero budget. Nothing in this package applies it.
const MinEpsilon = math.SmallestNonzeroFloat32

// Budget describes a perturbation search
type Budget struct {
	Epsilon    float32 // ball radius
	Sigma      float32 // step size
	Iterations int     // PGD iterations or N2
	Norm       Norm
}

// Validate checks epsilon >= 0, sigma >= 0, iterations >= 0 and a known norm
func (b Budget) Validate() error {
	if err := checkEpsilon(b.Epsilon); err != nil {
		return err
	}
	if b.Sigma < 0 || isNaN(b.Sigma) {
		return invalidArgument("sigma must be non-negative, got %v", b.Sigma)
	}
	if b.Iterations < 0 {
		return invalidArgument("iterations must be non-negative, got %d", b.Iterations)
	}
	if !b.Norm.valid() {
		return invalidArgument("unknown norm %v", b.Norm)
	}
	return nil
}

func checkEpsilon(eps float32) error {
	if eps < 0 || isNaN(eps) {
		return invalidArgument("epsilon must be non-negative, got %v", eps)
	}
	return nil
}

func isNaN(v float32) bool {
	return v != v
}
