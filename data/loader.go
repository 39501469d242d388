package data

import (
	"math/rand"

	"github.com/pkg/errors"
)

// Batch is one minibatch in batch-major order
type Batch struct {
	Data   []float32
	Labels []int
}

// Size returns the number of samples in the batch
func (b Batch) Size() int { return len(b.Labels) }

// Source is a finite, restartable sequence of batches
type Source interface {
	// Iterate starts a new pass over the data
	Iterate() *Iterator
	SampleSize() int
}

// LoaderConfig configures a Loader
type LoaderConfig struct {
	BatchSize int
	Shuffle   bool
	DropLast  bool  // skip a final partial batch
	Seed      int64 // shuffle seed; each pass draws a new permutation
}

// Loader serves a Dataset in batches
type Loader struct {
	dataset *Dataset
	cfg     LoaderConfig
	rng     *rand.Rand
}

// NewLoader creates a loader over ds
func NewLoader(ds *Dataset, cfg LoaderConfig) (*Loader, error) {
	if ds == nil || ds.Len() == 0 {
		return nil, errors.New("loader needs a non-empty dataset")
	}
	if cfg.BatchSize < 1 {
		return nil, errors.Errorf("batch size must be positive, got %d", cfg.BatchSize)
	}
	return &Loader{dataset: ds, cfg: cfg, rng: rand.New(rand.NewSource(cfg.Seed))}, nil
}

// SampleSize returns the per-sample input length
func (l *Loader) SampleSize() int { return l.dataset.SampleSize() }

// Dataset returns the underlying dataset
func (l *Loader) Dataset() *Dataset { return l.dataset }

// NumBatches returns the number of batches in one pass
func (l *Loader) NumBatches() int {
	n := l.dataset.Len() / l.cfg.BatchSize
	if !l.cfg.DropLast && l.dataset.Len()%l.cfg.BatchSize != 0 {
		n++
	}
	return n
}

// Iterate starts a new pass, reshuffling when configured
func (l *Loader) Iterate() *Iterator {
	order := make([]int, l.dataset.Len())
	for i := range order {
		order[i] = i
	}
	if l.cfg.Shuffle {
		l.rng.Shuffle(len(order), func(i, j int) {
			order[i], order[j] = order[j], order[i]
		})
	}
	return &Iterator{dataset: l.dataset, order: order, batchSize: l.cfg.BatchSize, dropLast: l.cfg.DropLast}
}

// Iterator walks one pass of a Loader
type Iterator struct {
	dataset   *Dataset
	order     []int
	pos       int
	batchSize int
	dropLast  bool
}

// Next returns the next batch, or false once the pass is exhausted
func (it *Iterator) Next() (Batch, bool) {
	remaining := len(it.order) - it.pos
	if remaining <= 0 || (it.dropLast && remaining < it.batchSize) {
		return Batch{}, false
	}
	n := it.batchSize
	if remaining < n {
		n = remaining
	}

	size := it.dataset.SampleSize()
	b := Batch{Data: make([]float32, n*size), Labels: make([]int, n)}
	for i := 0; i < n; i++ {
		img, label := it.dataset.Sample(it.order[it.pos+i])
		copy(b.Data[i*size:], img)
		b.Labels[i] = label
	}
	it.pos += n
	return b, true
}
