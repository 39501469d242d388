package gpu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClamper(t *testing.T) *BoxClamper {
	t.Helper()
	if err := EnsureGPU(); err != nil {
		t.Skipf("no WebGPU adapter: %v", err)
	}
	b, err := NewBoxClamper()
	require.NoError(t, err)
	t.Cleanup(b.Release)
	return b
}

func TestBoxClamperReusesBuffers(t *testing.T) {
	b := newClamper(t)

	out, err := b.Clamp([]float32{-2, -0.5, 0, 0.5, 2, 3}, -1, 1)
	require.NoError(t, err)
	assert.Equal(t, []float32{-1, -0.5, 0, 0.5, 1, 1}, out)
	assert.Equal(t, 6, b.Capacity())

	// a shorter call reuses the buffers and ignores stale tail elements
	out, err = b.Clamp([]float32{0.3, -0.3}, 0, 0.1)
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0}, out)
	assert.Equal(t, 6, b.Capacity())

	long := make([]float32, 1000)
	for i := range long {
		long[i] = float32(i) - 500
	}
	out, err = b.Clamp(long, -10, 10)
	require.NoError(t, err)
	require.Len(t, out, 1000)
	assert.Equal(t, float32(-10), out[0])
	assert.Equal(t, float32(3), out[503])
	assert.Equal(t, float32(10), out[999])
	assert.Equal(t, 1000, b.Capacity())
}

func TestBoxClamperRejectsEmptyBox(t *testing.T) {
	b := &BoxClamper{}
	_, err := b.Clamp([]float32{1}, 1, 0)
	assert.Error(t, err)

	out, err := b.Clamp(nil, 0, 1)
	require.NoError(t, err)
	assert.Empty(t, out)
}
