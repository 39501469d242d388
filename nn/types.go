package nn

// ActivationType defines the activation function used in a layer
type ActivationType int

const (
	ActivationNone      ActivationType = 0 // identity
	ActivationReLU      ActivationType = 1 // max(0, v)
	ActivationLeakyReLU ActivationType = 2 // v if v >= 0, else v * 0.1
	ActivationSigmoid   ActivationType = 3 // 1 / (1 + exp(-v))
	ActivationTanh      ActivationType = 4 // tanh(v)
)

// LayerType defines the type of neural network layer
type LayerType int

const (
	LayerDense     LayerType = 0 // Fully-connected layer
	LayerConv2D    LayerType = 1 // 2D convolution, NCHW
	LayerMaxPool2D LayerType = 2 // Non-overlapping max pooling, NCHW
	LayerDropout   LayerType = 3 // Inverted dropout, identity in eval mode
)

// Mode selects between training and evaluation behaviour of stochastic layers
type Mode int

const (
	ModeTrain Mode = iota
	ModeEval
)

func (m Mode) String() string {
	if m == ModeEval {
		return "eval"
	}
	return "train"
}

// LayerConfig holds configuration and parameters for one layer
type LayerConfig struct {
	Type       LayerType
	Activation ActivationType

	// Conv2D / pooling parameters
	KernelSize int // Size of convolution or pooling window (e.g., 3 for 3x3)
	Stride     int
	Padding    int
	Filters    int // Output channels

	// Parameters. Conv2D: [filters][inChannels][kH][kW]. Dense: [inputSize][outputSize].
	Kernel []float32
	Bias   []float32

	// Shape information (per sample)
	InputHeight   int
	InputWidth    int
	InputChannels int
	OutputHeight  int
	OutputWidth   int

	// Dense sizes
	InputSize  int
	OutputSize int

	// Dropout probability of zeroing an element
	DropRate float32

	// RequiresGrad gates parameter gradient accumulation. Input gradients
	// always flow through regardless.
	RequiresGrad bool
}

// InSize returns the per-sample input length of the layer
func (c *LayerConfig) InSize() int {
	if c.Type == LayerDense {
		return c.InputSize
	}
	return c.InputChannels * c.InputHeight * c.InputWidth
}

// OutSize returns the per-sample output length of the layer
func (c *LayerConfig) OutSize() int {
	switch c.Type {
	case LayerDense:
		return c.OutputSize
	case LayerConv2D:
		return c.Filters * c.OutputHeight * c.OutputWidth
	case LayerMaxPool2D:
		return c.InputChannels * c.OutputHeight * c.OutputWidth
	default:
		return c.InSize()
	}
}

// HasParameters reports whether the layer owns trainable weights
func (c *LayerConfig) HasParameters() bool {
	return len(c.Kernel) > 0 || len(c.Bias) > 0
}

// Network is a sequential stack of layers.
// Data flows layer 0 → layer N-1; layer 0 is the distinguished first layer.
type Network struct {
	InputSize int // Per-sample input length
	Classes   int // Per-sample output length (logits)
	Device    Device

	Layers []LayerConfig

	mode Mode
	rng  RandSource

	// Tape of the most recent full forward pass.
	// activations[0] = input, activations[i+1] = output of layer i.
	tape *forwardTape

	// Gradient retained at each layer output by the last full backward pass
	outputGradients [][]float32

	// Accumulated parameter gradients, zeroed by ZeroGrad
	kernelGradients [][]float32
	biasGradients   [][]float32
}

// forwardTape records what backward needs. It is consumed by one backward pass.
type forwardTape struct {
	batchSize      int
	activations    [][]float32
	preActivations [][]float32
	aux            [][]int // max-pool argmax indices
}

// NewNetwork creates an empty network taking inputSize values per sample
func NewNetwork(inputSize int, device Device) *Network {
	return &Network{
		InputSize: inputSize,
		Device:    device,
		mode:      ModeTrain,
		rng:       newDefaultRand(),
	}
}

// AddLayer appends a layer. Shape compatibility is checked against the previous layer.
func (n *Network) AddLayer(config LayerConfig) error {
	prevOut := n.InputSize
	if len(n.Layers) > 0 {
		prevOut = n.Layers[len(n.Layers)-1].OutSize()
	}
	if config.InSize() != prevOut {
		return invalidArgument("layer %d expects %d inputs per sample, previous layer produces %d",
			len(n.Layers), config.InSize(), prevOut)
	}
	n.Layers = append(n.Layers, config)
	n.kernelGradients = append(n.kernelGradients, make([]float32, len(config.Kernel)))
	n.biasGradients = append(n.biasGradients, make([]float32, len(config.Bias)))
	n.outputGradients = append(n.outputGradients, nil)
	n.Classes = config.OutSize()
	return nil
}

// TotalLayers returns the number of layers
func (n *Network) TotalLayers() int {
	return len(n.Layers)
}

// GetLayer returns the layer configuration at idx, or nil if out of range
func (n *Network) GetLayer(idx int) *LayerConfig {
	if idx >= 0 && idx < len(n.Layers) {
		return &n.Layers[idx]
	}
	return nil
}

// Mode returns the current train/eval mode
func (n *Network) Mode() Mode {
	return n.mode
}

// SetMode switches between training and evaluation behaviour
func (n *Network) SetMode(m Mode) {
	n.mode = m
}

// SetRand replaces the random source used by stochastic layers
func (n *Network) SetRand(r RandSource) {
	n.rng = r
}

// SetRequiresGrad toggles parameter gradient accumulation for one layer
func (n *Network) SetRequiresGrad(layer int, requiresGrad bool) {
	if l := n.GetLayer(layer); l != nil {
		l.RequiresGrad = requiresGrad
	}
}

// RequiresGrad reports whether a layer accumulates parameter gradients
func (n *Network) RequiresGrad(layer int) bool {
	if l := n.GetLayer(layer); l != nil {
		return l.RequiresGrad
	}
	return false
}

// KernelGradients returns the accumulated kernel gradients for all layers
func (n *Network) KernelGradients() [][]float32 {
	return n.kernelGradients
}

// BiasGradients returns the accumulated bias gradients for all layers
func (n *Network) BiasGradients() [][]float32 {
	return n.biasGradients
}

// AllLayers returns the parameter set covering every layer
func (n *Network) AllLayers() ParameterSet {
	set := make(ParameterSet, len(n.Layers))
	for i := range n.Layers {
		set[i] = i
	}
	return set
}

// FirstLayer returns the parameter set covering only layer 0
func (n *Network) FirstLayer() ParameterSet {
	return ParameterSet{0}
}

// SampleSize returns the per-sample input length
func (n *Network) SampleSize() int {
	return n.InputSize
}

// NumClasses returns the per-sample output length
func (n *Network) NumClasses() int {
	return n.Classes
}
