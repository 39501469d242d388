package metrics

import (
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAverageMeter(t *testing.T) {
	m := NewAverageMeter("acc")
	assert.Equal(t, "acc", m.Name())
	assert.Zero(t, m.Mean(), "mean before any update")

	m.Update(50)
	m.Update(100)
	m.UpdateN(20, 2)
	m.UpdateN(1000, 0)

	assert.Equal(t, int64(4), m.Count())
	assert.InDelta(t, 190.0, m.Sum(), 1e-9)
	assert.InDelta(t, 47.5, m.Mean(), 1e-9)

	m.Reset()
	assert.Zero(t, m.Count())
	assert.Zero(t, m.Mean())
}

func TestAverageMeterConcurrentUpdates(t *testing.T) {
	m := NewAverageMeter("acc")
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.Update(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(800), m.Count())
	assert.InDelta(t, 1.0, m.Mean(), 1e-12)
}

// gather returns the value of the metric family name with label kind
func gather(t *testing.T, reg *prometheus.Registry, name, kind string) (float64, bool) {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, m := range fam.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "kind" && lp.GetValue() == kind {
					if g := m.GetGauge(); g != nil {
						return g.GetValue(), true
					}
					return m.GetCounter().GetValue(), true
				}
			}
		}
	}
	return 0, false
}

func TestPrometheusSink(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollectors(reg)
	require.NoError(t, err)

	var s Sink = c.Sink("train_clean")
	s.Update(40)
	s.Update(60)
	assert.InDelta(t, 50.0, s.Mean(), 1e-9)
	assert.Equal(t, int64(2), s.Count())

	acc, ok := gather(t, reg, "yopo_accuracy_percent", "train_clean")
	require.True(t, ok)
	assert.InDelta(t, 50.0, acc, 1e-9)
	batches, ok := gather(t, reg, "yopo_batches_total", "train_clean")
	require.True(t, ok)
	assert.Equal(t, 2.0, batches)

	s.Reset()
	acc, _ = gather(t, reg, "yopo_accuracy_percent", "train_clean")
	assert.Zero(t, acc)
	batches, _ = gather(t, reg, "yopo_batches_total", "train_clean")
	assert.Equal(t, 2.0, batches, "batch counter survives a reset")
}

func TestCollectorsRegisterOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewCollectors(reg)
	require.NoError(t, err)
	_, err = NewCollectors(reg)
	assert.Error(t, err)

	c, err := NewCollectors(nil)
	require.NoError(t, err)
	c.Sink("eval_clean").Update(1)
}
