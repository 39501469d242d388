package data

import (
	"math/rand"

	"github.com/pkg/errors"
)

// Dataset is an in-memory labelled image set. Images holds Len() samples
// of SampleSize() values each, in CHW order.
type Dataset struct {
	Images   []float32
	Labels   []int
	Channels int
	Height   int
	Width    int
	Classes  int
}

// Len returns the number of samples
func (d *Dataset) Len() int { return len(d.Labels) }

// SampleSize returns the number of values per sample
func (d *Dataset) SampleSize() int { return d.Channels * d.Height * d.Width }

// Sample returns the image and label at i
func (d *Dataset) Sample(i int) ([]float32, int) {
	n := d.SampleSize()
	return d.Images[i*n : (i+1)*n], d.Labels[i]
}

// Validate checks that images, labels and shape agree
func (d *Dataset) Validate() error {
	if d.Channels < 1 || d.Height < 1 || d.Width < 1 {
		return errors.Errorf("bad sample shape %dx%dx%d", d.Channels, d.Height, d.Width)
	}
	if len(d.Images) != d.Len()*d.SampleSize() {
		return errors.Errorf("%d image values for %d samples of size %d", len(d.Images), d.Len(), d.SampleSize())
	}
	for i, l := range d.Labels {
		if l < 0 || l >= d.Classes {
			return errors.Errorf("label %d at index %d outside [0, %d)", l, i, d.Classes)
		}
	}
	return nil
}

// Subset returns the samples in [from, to) sharing storage with d
func (d *Dataset) Subset(from, to int) *Dataset {
	if from < 0 {
		from = 0
	}
	if to > d.Len() {
		to = d.Len()
	}
	if to < from {
		to = from
	}
	n := d.SampleSize()
	sub := *d
	sub.Images = d.Images[from*n : to*n]
	sub.Labels = d.Labels[from:to]
	return &sub
}

// Synthetic builds a random dataset whose label is a noisy function of the
// mean intensity of each image, so small networks can learn it quickly.
func Synthetic(n, channels, height, width, classes int, seed int64) (*Dataset, error) {
	if n < 1 || classes < 1 {
		return nil, errors.Errorf("synthetic dataset needs samples and classes, got %d and %d", n, classes)
	}
	ds := &Dataset{Channels: channels, Height: height, Width: width, Classes: classes}
	size := ds.SampleSize()
	if size < 1 {
		return nil, errors.Errorf("bad sample shape %dx%dx%d", channels, height, width)
	}

	rng := rand.New(rand.NewSource(seed))
	ds.Images = make([]float32, n*size)
	ds.Labels = make([]int, n)
	for i := 0; i < n; i++ {
		label := rng.Intn(classes)
		level := (float32(label) + 0.5) / float32(classes)
		img := ds.Images[i*size : (i+1)*size]
		for j := range img {
			v := level + (rng.Float32()-0.5)*0.2
			if v < 0 {
				v = 0
			} else if v > 1 {
				v = 1
			}
			img[j] = v
		}
		ds.Labels[i] = label
	}
	return ds, nil
}
