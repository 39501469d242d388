package nn

import "math"

// CrossEntropy computes the mean softmax cross-entropy of a batch of logits
// against integer labels. It returns the loss and dLoss/dlogits.
// logits is [batch * classes] with batch = len(labels).
func CrossEntropy(logits []float32, labels []int, classes int) (float64, []float32, error) {
	if err := checkLogits(logits, labels, classes); err != nil {
		return 0, nil, err
	}
	batchSize := len(labels)

	grad := make([]float32, len(logits))
	loss := 0.0
	for b, label := range labels {
		row := logits[b*classes : (b+1)*classes]
		g := grad[b*classes : (b+1)*classes]

		// Stabilise with the row max
		maxVal := row[0]
		for _, v := range row[1:] {
			if v > maxVal {
				maxVal = v
			}
		}
		sum := 0.0
		for c, v := range row {
			e := math.Exp(float64(v - maxVal))
			g[c] = float32(e)
			sum += e
		}
		for c := range g {
			g[c] = float32(float64(g[c]) / sum)
		}

		loss += -math.Log(math.Max(float64(g[label]), 1e-12))
		g[label] -= 1
		for c := range g {
			g[c] /= float32(batchSize)
		}
	}

	return loss / float64(batchSize), grad, nil
}

// Predictions returns the argmax class of each row of logits
func Predictions(logits []float32, classes int) []int {
	if classes < 1 {
		return nil
	}
	preds := make([]int, len(logits)/classes)
	for b := range preds {
		row := logits[b*classes : (b+1)*classes]
		best := 0
		for c, v := range row {
			if v > row[best] {
				best = c
			}
		}
		preds[b] = best
	}
	return preds
}

// Accuracy returns the top-1 accuracy of logits against labels, in percent
func Accuracy(logits []float32, labels []int, classes int) (float64, error) {
	if err := checkLogits(logits, labels, classes); err != nil {
		return 0, err
	}
	correct := 0
	for b, p := range Predictions(logits, classes) {
		if p == labels[b] {
			correct++
		}
	}
	return 100 * float64(correct) / float64(len(labels)), nil
}

func checkLogits(logits []float32, labels []int, classes int) error {
	if classes < 1 {
		return invalidArgument("class count must be positive, got %d", classes)
	}
	if len(labels) == 0 {
		return invalidArgument("empty label batch")
	}
	if len(logits) != len(labels)*classes {
		return invalidArgument("logits length %d does not match %d labels x %d classes",
			len(logits), len(labels), classes)
	}
	for i, l := range labels {
		if l < 0 || l >= classes {
			return invalidArgument("label %d at index %d outside [0, %d)", l, i, classes)
		}
	}
	return nil
}

// WeightPenalty returns 0.5 * penalty * sum of squared kernel weights over
// every layer that requires gradients, and accumulates penalty * W into the
// kernel gradients of those layers.
func (n *Network) WeightPenalty(penalty float32) float64 {
	if penalty == 0 {
		return 0
	}
	total := 0.0
	for i := range n.Layers {
		l := &n.Layers[i]
		if !l.RequiresGrad || len(l.Kernel) == 0 {
			continue
		}
		g := n.kernelGradients[i]
		for j, w := range l.Kernel {
			total += float64(w) * float64(w)
			g[j] += penalty * w
		}
	}
	return 0.5 * float64(penalty) * total
}
