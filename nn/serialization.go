package nn

import (
	"encoding/base64"
	"encoding/json"
	"os"

	"github.com/pkg/errors"
)

const bundleType = "yopo/bundle"

// ModelBundle represents a collection of saved models
type ModelBundle struct {
	Type    string       `json:"type"`
	Version int          `json:"version"`
	Models  []SavedModel `json:"models"`
}

// SavedModel represents a single saved model with config and weights
type SavedModel struct {
	ID      string         `json:"id"`
	Config  NetworkConfig  `json:"cfg"`
	Weights EncodedWeights `json:"weights"`
}

// NetworkConfig represents the network architecture
type NetworkConfig struct {
	ID        string            `json:"id"`
	InputSize int               `json:"input_size"`
	Device    string            `json:"device"`
	Layers    []LayerDefinition `json:"layers"`
}

// LayerDefinition defines a single layer's configuration
type LayerDefinition struct {
	Type       string `json:"type"`
	Activation string `json:"activation"`

	// Dense
	InputSize  int `json:"input_size,omitempty"`
	OutputSize int `json:"output_size,omitempty"`

	// Conv2D / MaxPool2D
	InputChannels int `json:"input_channels,omitempty"`
	Filters       int `json:"filters,omitempty"`
	KernelSize    int `json:"kernel_size,omitempty"`
	Stride        int `json:"stride,omitempty"`
	Padding       int `json:"padding,omitempty"`
	InputHeight   int `json:"input_height,omitempty"`
	InputWidth    int `json:"input_width,omitempty"`

	// Dropout
	DropRate float32 `json:"drop_rate,omitempty"`
}

// EncodedWeights stores weights in base64-encoded JSON format
type EncodedWeights struct {
	Format string `json:"fmt"`
	Data   string `json:"data"`
}

// WeightsData represents the actual weight values
type WeightsData struct {
	Type   string         `json:"type"`
	Layers []LayerWeights `json:"layers"`
}

// LayerWeights stores weights for a single layer
type LayerWeights struct {
	Kernel []float32 `json:"kernel,omitempty"`
	Biases []float32 `json:"biases,omitempty"`
}

// SaveModel saves a single model to a file
func (n *Network) SaveModel(filename string, modelID string) error {
	data, err := n.MarshalBundle(modelID)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filename, data, 0644); err != nil {
		return errors.Wrap(err, "failed to write file")
	}
	return nil
}

// MarshalBundle encodes the network as a single-model bundle
func (n *Network) MarshalBundle(modelID string) ([]byte, error) {
	saved, err := n.SerializeModel(modelID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to serialize model")
	}
	bundle := ModelBundle{Type: bundleType, Version: 1, Models: []SavedModel{saved}}
	data, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal bundle")
	}
	return data, nil
}

// SerializeModel captures architecture and weights of the network
func (n *Network) SerializeModel(modelID string) (SavedModel, error) {
	config := NetworkConfig{
		ID:        modelID,
		InputSize: n.InputSize,
		Device:    n.Device.String(),
		Layers:    make([]LayerDefinition, 0, len(n.Layers)),
	}
	weights := WeightsData{Type: "float32", Layers: make([]LayerWeights, 0, len(n.Layers))}

	for i := range n.Layers {
		l := &n.Layers[i]
		def := LayerDefinition{
			Type:       layerTypeToString(l.Type),
			Activation: ActivationName(l.Activation),
		}
		switch l.Type {
		case LayerDense:
			def.InputSize = l.InputSize
			def.OutputSize = l.OutputSize
		case LayerConv2D:
			def.InputChannels = l.InputChannels
			def.Filters = l.Filters
			def.KernelSize = l.KernelSize
			def.Stride = l.Stride
			def.Padding = l.Padding
			def.InputHeight = l.InputHeight
			def.InputWidth = l.InputWidth
		case LayerMaxPool2D:
			def.InputChannels = l.InputChannels
			def.KernelSize = l.KernelSize
			def.InputHeight = l.InputHeight
			def.InputWidth = l.InputWidth
		case LayerDropout:
			def.InputSize = l.InputSize
			def.DropRate = l.DropRate
		default:
			return SavedModel{}, invalidArgument("cannot serialize layer %d of type %d", i, l.Type)
		}
		config.Layers = append(config.Layers, def)
		weights.Layers = append(weights.Layers, LayerWeights{Kernel: l.Kernel, Biases: l.Bias})
	}

	raw, err := json.Marshal(weights)
	if err != nil {
		return SavedModel{}, errors.Wrap(err, "failed to marshal weights")
	}
	return SavedModel{
		ID:     modelID,
		Config: config,
		Weights: EncodedWeights{
			Format: "jsonModelB64",
			Data:   base64.StdEncoding.EncodeToString(raw),
		},
	}, nil
}

// LoadModel loads the model with modelID from a bundle file
func LoadModel(filename string, modelID string) (*Network, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read file")
	}
	return UnmarshalBundle(data, modelID)
}

// UnmarshalBundle decodes the model with modelID from bundle JSON
func UnmarshalBundle(data []byte, modelID string) (*Network, error) {
	var bundle ModelBundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal bundle")
	}
	if bundle.Type != bundleType {
		return nil, invalidArgument("invalid bundle type: %s", bundle.Type)
	}
	for _, saved := range bundle.Models {
		if saved.ID == modelID {
			return DeserializeModel(saved)
		}
	}
	return nil, invalidArgument("model %s not found in bundle", modelID)
}

// DeserializeModel creates a Network from a SavedModel
func DeserializeModel(saved SavedModel) (*Network, error) {
	config := saved.Config
	device, err := ParseDevice(config.Device)
	if err != nil {
		return nil, err
	}

	raw, err := base64.StdEncoding.DecodeString(saved.Weights.Data)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode weights")
	}
	var weights WeightsData
	if err := json.Unmarshal(raw, &weights); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal weights")
	}
	if len(weights.Layers) != len(config.Layers) {
		return nil, invalidArgument("bundle has %d layer definitions but %d weight entries",
			len(config.Layers), len(weights.Layers))
	}

	network := NewNetwork(config.InputSize, device)
	for i, def := range config.Layers {
		layer, err := buildLayerConfig(def)
		if err != nil {
			return nil, errors.Wrapf(err, "layer %d", i)
		}
		w := weights.Layers[i]
		if len(w.Kernel) != len(layer.Kernel) || len(w.Biases) != len(layer.Bias) {
			return nil, invalidArgument("layer %d weight shapes do not match its definition", i)
		}
		copy(layer.Kernel, w.Kernel)
		copy(layer.Bias, w.Biases)
		if err := network.AddLayer(layer); err != nil {
			return nil, err
		}
	}
	return network, nil
}

func buildLayerConfig(def LayerDefinition) (LayerConfig, error) {
	act, err := ParseActivation(def.Activation)
	if err != nil {
		return LayerConfig{}, err
	}
	// Weights are overwritten after construction
	rng := zeroRand{}
	switch def.Type {
	case "dense":
		return InitDenseLayer(def.InputSize, def.OutputSize, act, rng)
	case "conv2d":
		return InitConv2DLayer(def.InputHeight, def.InputWidth, def.InputChannels,
			def.KernelSize, def.Stride, def.Padding, def.Filters, act, rng)
	case "maxpool2d":
		return InitMaxPool2DLayer(def.InputHeight, def.InputWidth, def.InputChannels, def.KernelSize)
	case "dropout":
		return InitDropoutLayer(def.InputSize, def.DropRate)
	}
	return LayerConfig{}, invalidArgument("unknown layer type %q", def.Type)
}

func layerTypeToString(lt LayerType) string {
	switch lt {
	case LayerDense:
		return "dense"
	case LayerConv2D:
		return "conv2d"
	case LayerMaxPool2D:
		return "maxpool2d"
	case LayerDropout:
		return "dropout"
	default:
		return "unknown"
	}
}

type zeroRand struct{}

func (zeroRand) Float32() float32     { return 0 }
func (zeroRand) Float64() float64     { return 0 }
func (zeroRand) NormFloat64() float64 { return 0 }
