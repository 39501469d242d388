package nn

// InitDropoutLayer creates an inverted-dropout layer over size values per sample
func InitDropoutLayer(size int, rate float32) (LayerConfig, error) {
	if size < 1 {
		return LayerConfig{}, invalidArgument("dropout size must be positive, got %d", size)
	}
	if rate < 0 || rate >= 1 {
		return LayerConfig{}, invalidArgument("dropout rate must be in [0, 1), got %v", rate)
	}
	return LayerConfig{
		Type:      LayerDropout,
		InputSize: size,
		DropRate:  rate,
		// InSize/OutSize of non-dense layers derive from the CHW fields
		InputChannels: size,
		InputHeight:   1,
		InputWidth:    1,
	}, nil
}

// dropoutForwardCPU returns the output and the per-element scale applied to it.
// In eval mode the scale is all ones.
func dropoutForwardCPU(input []float32, config *LayerConfig, mode Mode, rng RandSource) ([]float32, []float32) {
	output := make([]float32, len(input))
	mask := make([]float32, len(input))
	if mode == ModeEval || config.DropRate == 0 {
		copy(output, input)
		for i := range mask {
			mask[i] = 1
		}
		return output, mask
	}

	keep := 1 - config.DropRate
	for i, v := range input {
		if rng.Float32() < keep {
			mask[i] = 1 / keep
			output[i] = v * mask[i]
		}
	}
	return output, mask
}
