// Package nn provides a small sequential neural network with explicit
// forward and backward tapes.
//
// Tensors are flat []float32 slices in batch-major (NCHW) order. Every call
// to Forward records a fresh tape; Backward and InputGradient consume it, so
// a gradient graph never spans more than one forward pass.
//
// Parameter gradients accumulate across backward passes until an optimizer
// clears them with ZeroGrad. Layers with RequiresGrad unset still propagate
// input gradients but do not accumulate parameter gradients.
//
// Example usage:
//
//	net, _ := nn.NewSmallCNN(nn.DefaultSmallCNNConfig())
//	opt, _ := nn.NewSGDOptimizer(net, net.AllLayers(), nn.SGDConfig{LearningRate: 0.01})
//
//	logits, _ := net.Forward(batch)
//	loss, grad, _ := nn.CrossEntropy(logits, labels, net.Classes)
//	net.Backward(grad)
//	opt.Step()
//	opt.ZeroGrad()
package nn
