// Package metrics holds the accuracy sinks trainers report to.
package metrics

import "sync"

// Sink receives per-batch scalar values and keeps their running mean
type Sink interface {
	Update(value float64)
	Mean() float64
	Count() int64
	Reset()
}

// AverageMeter keeps a running sum, count and mean. Safe for concurrent use.
type AverageMeter struct {
	name string

	mu    sync.Mutex
	sum   float64
	count int64
}

// NewAverageMeter creates an empty meter
func NewAverageMeter(name string) *AverageMeter {
	return &AverageMeter{name: name}
}

// Name returns the meter name
func (m *AverageMeter) Name() string { return m.name }

// Update adds one observation
func (m *AverageMeter) Update(value float64) {
	m.UpdateN(value, 1)
}

// UpdateN adds value with weight n
func (m *AverageMeter) UpdateN(value float64, n int64) {
	if n <= 0 {
		return
	}
	m.mu.Lock()
	m.sum += value * float64(n)
	m.count += n
	m.mu.Unlock()
}

// Mean returns the running mean, 0 before the first update
func (m *AverageMeter) Mean() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.count == 0 {
		return 0
	}
	return m.sum / float64(m.count)
}

// Sum returns the weighted sum of all observations
func (m *AverageMeter) Sum() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sum
}

func (m *AverageMeter) Count() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count
}

func (m *AverageMeter) Reset() {
	m.mu.Lock()
	m.sum, m.count = 0, 0
	m.mu.Unlock()
}
