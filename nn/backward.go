package nn

// Backward backpropagates gradOutput (dL/dlogits) through the tape recorded
// by the last Forward. Parameter gradients accumulate into every layer whose
// RequiresGrad is set, and the gradient at each layer output is retained for
// OutputGradient. The tape is consumed. Returns dL/dinput.
func (n *Network) Backward(gradOutput []float32) ([]float32, error) {
	return n.backward(gradOutput, true)
}

// InputGradient returns dL/dinput for the last Forward without touching
// parameter gradients or retained output gradients. The tape is consumed.
func (n *Network) InputGradient(gradOutput []float32) ([]float32, error) {
	return n.backward(gradOutput, false)
}

// OutputGradient returns the gradient retained at the output of layer by the
// last Backward. It fails with ErrComputation when no backward pass has
// reached that layer since the last Forward.
func (n *Network) OutputGradient(layer int) ([]float32, error) {
	if layer < 0 || layer >= len(n.outputGradients) {
		return nil, invalidArgument("layer %d out of range [0, %d)", layer, len(n.outputGradients))
	}
	g := n.outputGradients[layer]
	if g == nil {
		return nil, computationError("no gradient retained at output of layer %d", layer)
	}
	return Clone(g), nil
}

func (n *Network) backward(gradOutput []float32, retain bool) ([]float32, error) {
	tape := n.tape
	if tape == nil {
		return nil, computationError("backward called without a recorded forward pass")
	}
	want := len(tape.activations[len(n.Layers)])
	if len(gradOutput) != want {
		return nil, invalidArgument("gradient length %d does not match network output length %d", len(gradOutput), want)
	}
	n.tape = nil

	grad := Clone(gradOutput)
	for i := len(n.Layers) - 1; i >= 0; i-- {
		config := &n.Layers[i]
		if retain {
			n.outputGradients[i] = Clone(grad)
		}

		gradInput, gradKernel, gradBias := n.backwardLayer(config, grad,
			tape.activations[i], tape.preActivations[i], tape.aux[i], tape.batchSize)

		if retain && config.RequiresGrad && config.HasParameters() {
			accumulate(n.kernelGradients[i], gradKernel)
			accumulate(n.biasGradients[i], gradBias)
		}
		grad = gradInput
	}
	return grad, nil
}

// BackwardLayer backpropagates gradOutput through a single-layer tape and
// returns the gradient with respect to the tape's input. With
// accumulateParams the layer's parameter gradients accumulate, subject to
// its RequiresGrad flag.
func (n *Network) BackwardLayer(tape *LayerTape, gradOutput []float32, accumulateParams bool) ([]float32, error) {
	if tape == nil {
		return nil, computationError("backward called with a nil layer tape")
	}
	config := n.GetLayer(tape.layer)
	if config == nil {
		return nil, invalidArgument("layer %d out of range", tape.layer)
	}
	if len(gradOutput) != len(tape.output) {
		return nil, invalidArgument("gradient length %d does not match layer %d output length %d",
			len(gradOutput), tape.layer, len(tape.output))
	}

	gradInput, gradKernel, gradBias := n.backwardLayer(config, gradOutput, tape.input, tape.preAct, tape.aux, tape.batchSize)
	if accumulateParams && config.RequiresGrad && config.HasParameters() {
		accumulate(n.kernelGradients[tape.layer], gradKernel)
		accumulate(n.biasGradients[tape.layer], gradBias)
	}
	return gradInput, nil
}

func (n *Network) backwardLayer(config *LayerConfig, grad, input, preAct []float32, aux []int, batchSize int) ([]float32, []float32, []float32) {
	switch config.Type {
	case LayerConv2D:
		return conv2DBackwardCPU(grad, input, preAct, config, batchSize)
	case LayerMaxPool2D:
		return maxPool2DBackwardCPU(grad, aux, len(input)), nil, nil
	case LayerDropout:
		gradInput := make([]float32, len(grad))
		for j := range grad {
			gradInput[j] = grad[j] * preAct[j]
		}
		return gradInput, nil, nil
	default:
		return denseBackwardCPU(grad, input, preAct, config, batchSize)
	}
}

// ZeroGradients clears the accumulated parameter gradients of every layer
func (n *Network) ZeroGradients() {
	n.zeroGradients(n.AllLayers())
}

func (n *Network) zeroGradients(set ParameterSet) {
	for _, i := range set {
		if i < 0 || i >= len(n.Layers) {
			continue
		}
		for j := range n.kernelGradients[i] {
			n.kernelGradients[i][j] = 0
		}
		for j := range n.biasGradients[i] {
			n.biasGradients[i][j] = 0
		}
	}
}
