package nn

// Forward runs the full network on a batch and records a fresh tape for
// Backward. input is batch-major: len(input) must be a multiple of InputSize.
// Gradients retained by a previous backward pass are discarded.
func (n *Network) Forward(input []float32) ([]float32, error) {
	batchSize, err := n.batchSizeOf(input)
	if err != nil {
		return nil, err
	}

	tape := &forwardTape{
		batchSize:      batchSize,
		activations:    make([][]float32, len(n.Layers)+1),
		preActivations: make([][]float32, len(n.Layers)),
		aux:            make([][]int, len(n.Layers)),
	}
	tape.activations[0] = Clone(input)

	data := tape.activations[0]
	for i := range n.Layers {
		pre, post, aux := n.forwardLayer(&n.Layers[i], data, batchSize)
		tape.preActivations[i] = pre
		tape.aux[i] = aux
		tape.activations[i+1] = post
		data = post
	}

	n.tape = tape
	for i := range n.outputGradients {
		n.outputGradients[i] = nil
	}
	return Clone(data), nil
}

// LayerTape records one single-layer forward pass
type LayerTape struct {
	layer     int
	batchSize int
	input     []float32
	preAct    []float32
	output    []float32
	aux       []int
}

// Output returns the layer output recorded on the tape
func (t *LayerTape) Output() []float32 {
	return t.output
}

// Layer returns the index of the layer the tape belongs to
func (t *LayerTape) Layer() int {
	return t.layer
}

// ForwardLayer runs a single layer on its own input without touching the
// full-network tape.
func (n *Network) ForwardLayer(layer int, input []float32) (*LayerTape, error) {
	config := n.GetLayer(layer)
	if config == nil {
		return nil, invalidArgument("layer %d out of range [0, %d)", layer, len(n.Layers))
	}
	if len(input) == 0 || len(input)%config.InSize() != 0 {
		return nil, invalidArgument("layer %d input length %d is not a multiple of %d",
			layer, len(input), config.InSize())
	}
	batchSize := len(input) / config.InSize()

	in := Clone(input)
	pre, post, aux := n.forwardLayer(config, in, batchSize)
	return &LayerTape{
		layer:     layer,
		batchSize: batchSize,
		input:     in,
		preAct:    pre,
		output:    post,
		aux:       aux,
	}, nil
}

// forwardLayer routes to the layer implementation.
// For dropout the returned preActivation holds the applied mask.
func (n *Network) forwardLayer(config *LayerConfig, input []float32, batchSize int) ([]float32, []float32, []int) {
	switch config.Type {
	case LayerConv2D:
		pre, post := conv2DForwardCPU(input, config, batchSize)
		return pre, post, nil
	case LayerMaxPool2D:
		out, argmax := maxPool2DForwardCPU(input, config, batchSize)
		return nil, out, argmax
	case LayerDropout:
		out, mask := dropoutForwardCPU(input, config, n.mode, n.rng)
		return mask, out, nil
	default:
		pre, post := denseForwardCPU(input, config, batchSize)
		return pre, post, nil
	}
}

func (n *Network) batchSizeOf(input []float32) (int, error) {
	if n.InputSize < 1 {
		return 0, invalidArgument("network input size must be positive, got %d", n.InputSize)
	}
	if len(input) == 0 || len(input)%n.InputSize != 0 {
		return 0, invalidArgument("input length %d is not a positive multiple of %d", len(input), n.InputSize)
	}
	return len(input) / n.InputSize, nil
}
