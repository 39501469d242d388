package nn

import (
	"math"
)

// InitDenseLayer initializes a dense (fully-connected) layer with He-normal weights
func InitDenseLayer(inputSize, outputSize int, activation ActivationType, rng RandSource) (LayerConfig, error) {
	if inputSize < 1 || outputSize < 1 {
		return LayerConfig{}, invalidArgument("dense sizing must be positive: %d -> %d", inputSize, outputSize)
	}

	stddev := math.Sqrt(2.0 / float64(inputSize))
	weights := make([]float32, inputSize*outputSize)
	for i := range weights {
		weights[i] = float32(rng.NormFloat64() * stddev)
	}

	return LayerConfig{
		Type:         LayerDense,
		Activation:   activation,
		InputSize:    inputSize,
		OutputSize:   outputSize,
		Kernel:       weights, // [inputSize * outputSize]
		Bias:         make([]float32, outputSize),
		RequiresGrad: true,
	}, nil
}

// ZeroParameters sets every weight and bias of the layer to zero
func (c *LayerConfig) ZeroParameters() {
	for i := range c.Kernel {
		c.Kernel[i] = 0
	}
	for i := range c.Bias {
		c.Bias[i] = 0
	}
}

// denseForwardCPU performs forward pass for dense layer
// input: [batchSize * inputSize]
// weights: [inputSize * outputSize]
// output: [batchSize * outputSize]
func denseForwardCPU(input []float32, config *LayerConfig, batchSize int) ([]float32, []float32) {
	inputSize := config.InputSize
	outputSize := config.OutputSize
	weights := config.Kernel
	bias := config.Bias

	preAct := make([]float32, batchSize*outputSize)
	postAct := make([]float32, batchSize*outputSize)

	for b := 0; b < batchSize; b++ {
		row := input[b*inputSize : (b+1)*inputSize]
		out := preAct[b*outputSize : (b+1)*outputSize]
		copy(out, bias)
		for i, x := range row {
			if x == 0 {
				continue
			}
			w := weights[i*outputSize : (i+1)*outputSize]
			for o := range out {
				out[o] += x * w[o]
			}
		}
		for o := range out {
			postAct[b*outputSize+o] = activateCPU(out[o], config.Activation)
		}
	}

	return preAct, postAct
}

// denseBackwardCPU performs backward pass for dense layer
func denseBackwardCPU(gradOutput, input, preAct []float32, config *LayerConfig, batchSize int) ([]float32, []float32, []float32) {
	inputSize := config.InputSize
	outputSize := config.OutputSize
	weights := config.Kernel

	gradInput := make([]float32, batchSize*inputSize)
	gradWeights := make([]float32, inputSize*outputSize)
	gradBias := make([]float32, outputSize)

	gradPreAct := make([]float32, len(gradOutput))
	for i := range gradOutput {
		gradPreAct[i] = gradOutput[i] * activateDerivativeCPU(preAct[i], config.Activation)
	}

	for b := 0; b < batchSize; b++ {
		g := gradPreAct[b*outputSize : (b+1)*outputSize]
		for o, v := range g {
			gradBias[o] += v
		}
		for i := 0; i < inputSize; i++ {
			x := input[b*inputSize+i]
			w := weights[i*outputSize : (i+1)*outputSize]
			gw := gradWeights[i*outputSize : (i+1)*outputSize]
			var gi float32
			for o, v := range g {
				gw[o] += x * v
				gi += w[o] * v
			}
			gradInput[b*inputSize+i] = gi
		}
	}

	return gradInput, gradWeights, gradBias
}
