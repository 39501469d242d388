package nn

// InitMaxPool2DLayer creates a max pooling layer over size x size windows with stride size
func InitMaxPool2DLayer(inputHeight, inputWidth, channels, size int) (LayerConfig, error) {
	if inputHeight < 1 || inputWidth < 1 || channels < 1 || size < 1 {
		return LayerConfig{}, invalidArgument("maxpool sizing must be positive: in=%dx%dx%d size=%d",
			channels, inputHeight, inputWidth, size)
	}
	if inputHeight < size || inputWidth < size {
		return LayerConfig{}, invalidArgument("maxpool window %d larger than input %dx%d", size, inputHeight, inputWidth)
	}
	return LayerConfig{
		Type:          LayerMaxPool2D,
		KernelSize:    size,
		Stride:        size,
		InputHeight:   inputHeight,
		InputWidth:    inputWidth,
		InputChannels: channels,
		OutputHeight:  inputHeight / size,
		OutputWidth:   inputWidth / size,
	}, nil
}

// maxPool2DForwardCPU returns the pooled output and, for every output element,
// the flat input index that produced it.
func maxPool2DForwardCPU(input []float32, config *LayerConfig, batchSize int) ([]float32, []int) {
	inH, inW, c := config.InputHeight, config.InputWidth, config.InputChannels
	outH, outW, k := config.OutputHeight, config.OutputWidth, config.KernelSize

	output := make([]float32, batchSize*c*outH*outW)
	argmax := make([]int, len(output))

	for b := 0; b < batchSize; b++ {
		for ch := 0; ch < c; ch++ {
			plane := b*c*inH*inW + ch*inH*inW
			for oh := 0; oh < outH; oh++ {
				for ow := 0; ow < outW; ow++ {
					best := plane + (oh*k)*inW + ow*k
					for kh := 0; kh < k; kh++ {
						for kw := 0; kw < k; kw++ {
							idx := plane + (oh*k+kh)*inW + ow*k + kw
							if input[idx] > input[best] {
								best = idx
							}
						}
					}
					outIdx := b*c*outH*outW + ch*outH*outW + oh*outW + ow
					output[outIdx] = input[best]
					argmax[outIdx] = best
				}
			}
		}
	}
	return output, argmax
}

// maxPool2DBackwardCPU routes each output gradient to its argmax input
func maxPool2DBackwardCPU(gradOutput []float32, argmax []int, inputLen int) []float32 {
	gradInput := make([]float32, inputLen)
	for i, g := range gradOutput {
		gradInput[argmax[i]] += g
	}
	return gradInput
}
