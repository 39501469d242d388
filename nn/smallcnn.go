package nn

// SmallCNNConfig sizes the small MNIST convolutional classifier
type SmallCNNConfig struct {
	Channels int // default 1
	Height   int // default 28
	Width    int // default 28
	Classes  int // default 10
	DropRate float32
	Device   Device
	Rand     RandSource // nil uses a time-seeded source
}

// DefaultSmallCNNConfig returns the MNIST sizing with dropout 0.5
func DefaultSmallCNNConfig() SmallCNNConfig {
	return SmallCNNConfig{Channels: 1, Height: 28, Width: 28, Classes: 10, DropRate: 0.5}
}

// NewSmallCNN builds the classifier:
//
//	layer 0:  conv 3x3 C->32 + ReLU (the distinguished first layer)
//	layer 1:  conv 3x3 32->32 + ReLU
//	layer 2:  maxpool 2
//	layer 3:  conv 3x3 32->64 + ReLU
//	layer 4:  conv 3x3 64->64 + ReLU
//	layer 5:  maxpool 2
//	layer 6:  dense 64*h*w -> 200 + ReLU
//	layer 7:  dropout
//	layer 8:  dense 200 -> 200 + ReLU
//	layer 9:  dense 200 -> classes (zero-initialised)
func NewSmallCNN(cfg SmallCNNConfig) (*Network, error) {
	if cfg.Rand == nil {
		cfg.Rand = newDefaultRand()
	}
	if cfg.Channels < 1 || cfg.Height < 1 || cfg.Width < 1 || cfg.Classes < 1 {
		return nil, invalidArgument("small cnn sizing must be positive: %dx%dx%d classes=%d",
			cfg.Channels, cfg.Height, cfg.Width, cfg.Classes)
	}

	net := NewNetwork(cfg.Channels*cfg.Height*cfg.Width, cfg.Device)
	net.SetRand(cfg.Rand)

	h, w, c := cfg.Height, cfg.Width, cfg.Channels
	add := func(l LayerConfig, err error) error {
		if err != nil {
			return err
		}
		if err := net.AddLayer(l); err != nil {
			return err
		}
		last := net.GetLayer(net.TotalLayers() - 1)
		switch last.Type {
		case LayerConv2D:
			h, w, c = last.OutputHeight, last.OutputWidth, last.Filters
		case LayerMaxPool2D:
			h, w = last.OutputHeight, last.OutputWidth
		}
		return nil
	}

	steps := []func() error{
		func() error { return add(InitConv2DLayer(h, w, c, 3, 1, 0, 32, ActivationReLU, cfg.Rand)) },
		func() error { return add(InitConv2DLayer(h, w, c, 3, 1, 0, 32, ActivationReLU, cfg.Rand)) },
		func() error { return add(InitMaxPool2DLayer(h, w, c, 2)) },
		func() error { return add(InitConv2DLayer(h, w, c, 3, 1, 0, 64, ActivationReLU, cfg.Rand)) },
		func() error { return add(InitConv2DLayer(h, w, c, 3, 1, 0, 64, ActivationReLU, cfg.Rand)) },
		func() error { return add(InitMaxPool2DLayer(h, w, c, 2)) },
		func() error { return add(InitDenseLayer(c*h*w, 200, ActivationReLU, cfg.Rand)) },
		func() error { return add(InitDropoutLayer(200, cfg.DropRate)) },
		func() error { return add(InitDenseLayer(200, 200, ActivationReLU, cfg.Rand)) },
		func() error { return add(InitDenseLayer(200, cfg.Classes, ActivationNone, cfg.Rand)) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return nil, err
		}
	}

	net.GetLayer(net.TotalLayers() - 1).ZeroParameters()
	return net, nil
}
