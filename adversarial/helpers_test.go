package adversarial

import (
	"math"
	"math/rand"
	"testing"

	"github.com/openfluke/yopo/nn"
	"github.com/stretchr/testify/require"
)

const sampleSize = 16 // 1x4x4

// newTestNetwork builds conv(1->2, k3) on 4x4 followed by dense 8->3
func newTestNetwork(t *testing.T, act nn.ActivationType) *nn.Network {
	t.Helper()
	rng := rand.New(rand.NewSource(11))
	net := nn.NewNetwork(sampleSize, nn.DeviceCPU)
	net.SetRand(rng)

	conv, err := nn.InitConv2DLayer(4, 4, 1, 3, 1, 0, 2, act, rng)
	require.NoError(t, err)
	require.NoError(t, net.AddLayer(conv))

	dense, err := nn.InitDenseLayer(8, 3, nn.ActivationNone, rng)
	require.NoError(t, err)
	require.NoError(t, net.AddLayer(dense))
	return net
}

func newBatch(n int, seed int64) ([]float32, []int) {
	rng := rand.New(rand.NewSource(seed))
	data := make([]float32, n*sampleSize)
	for i := range data {
		data[i] = rng.Float32()
	}
	labels := make([]int, n)
	for i := range labels {
		labels[i] = rng.Intn(3)
	}
	return data, labels
}

func f64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

func l2(v []float32) float64 {
	s := 0.0
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

// modeSpy records the network mode seen by every forward pass
type modeSpy struct {
	*nn.Network
	modes []nn.Mode
}

func (s *modeSpy) Forward(x []float32) ([]float32, error) {
	s.modes = append(s.modes, s.Network.Mode())
	return s.Network.Forward(x)
}

// stepRecorder collects every observed step
type stepRecorder struct {
	events []StepEvent
}

func (r *stepRecorder) OnStep(e StepEvent) {
	r.events = append(r.events, e)
}
