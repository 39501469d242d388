package nn

import (
	"math"
)

// activateCPU applies the activation function on CPU
func activateCPU(v float32, activation ActivationType) float32 {
	switch activation {
	case ActivationReLU:
		if v < 0 {
			return 0
		}
		return v
	case ActivationLeakyReLU:
		if v < 0 {
			v = v * 0.1
		}
		return v
	case ActivationSigmoid:
		return 1.0 / (1.0 + float32(math.Exp(float64(-v))))
	case ActivationTanh:
		return float32(math.Tanh(float64(v)))
	default:
		return v
	}
}

// activateDerivativeCPU computes the derivative of the activation function
// Note: This computes the derivative with respect to the PRE-activation value
func activateDerivativeCPU(preActivation float32, activation ActivationType) float32 {
	switch activation {
	case ActivationReLU:
		// d/dv max(0, v) = 1 if v > 0, else 0
		if preActivation > 0 {
			return 1
		}
		return 0
	case ActivationLeakyReLU:
		if preActivation >= 0 {
			return 1.0
		}
		return 0.1
	case ActivationSigmoid:
		sig := 1.0 / (1.0 + float32(math.Exp(float64(-preActivation))))
		return sig * (1.0 - sig)
	case ActivationTanh:
		t := float32(math.Tanh(float64(preActivation)))
		return 1.0 - t*t
	default:
		return 1.0
	}
}

// ActivationName returns the serialized name of an activation
func ActivationName(a ActivationType) string {
	switch a {
	case ActivationReLU:
		return "relu"
	case ActivationLeakyReLU:
		return "leaky_relu"
	case ActivationSigmoid:
		return "sigmoid"
	case ActivationTanh:
		return "tanh"
	default:
		return "none"
	}
}

// ParseActivation is the inverse of ActivationName
func ParseActivation(name string) (ActivationType, error) {
	switch name {
	case "none", "":
		return ActivationNone, nil
	case "relu":
		return ActivationReLU, nil
	case "leaky_relu":
		return ActivationLeakyReLU, nil
	case "sigmoid":
		return ActivationSigmoid, nil
	case "tanh":
		return ActivationTanh, nil
	}
	return ActivationNone, invalidArgument("unknown activation %q", name)
}
