// Package data loads image datasets and serves them as shuffled batches.
package data

import (
	"bufio"
	"compress/gzip"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

const (
	idxImagesMagic = 2051
	idxLabelsMagic = 2049
)

// MNIST file names inside a data directory. A ".gz" suffix is also accepted.
const (
	MnistTrainImagesFile = "train-images-idx3-ubyte"
	MnistTrainLabelsFile = "train-labels-idx1-ubyte"
	MnistTestImagesFile  = "t10k-images-idx3-ubyte"
	MnistTestLabelsFile  = "t10k-labels-idx1-ubyte"
)

// Split selects the training or test portion of a dataset
type Split string

const (
	SplitTrain Split = "train"
	SplitTest  Split = "test"
)

// LoadMNIST reads the IDX image and label files of split from dir.
// maxCount > 0 truncates the dataset.
func LoadMNIST(dir string, split Split, maxCount int) (*Dataset, error) {
	imageName, labelName := MnistTrainImagesFile, MnistTrainLabelsFile
	switch split {
	case SplitTrain:
	case SplitTest:
		imageName, labelName = MnistTestImagesFile, MnistTestLabelsFile
	default:
		return nil, errors.Errorf("unknown split %q", split)
	}

	imgR, closeImg, err := openIDX(filepath.Join(dir, imageName))
	if err != nil {
		return nil, err
	}
	defer closeImg()
	lblR, closeLbl, err := openIDX(filepath.Join(dir, labelName))
	if err != nil {
		return nil, err
	}
	defer closeLbl()

	return ReadIDX(imgR, lblR, maxCount)
}

// ReadIDX decodes an IDX3 image stream and IDX1 label stream. Pixels are
// scaled from bytes to [0, 1].
func ReadIDX(images, labels io.Reader, maxCount int) (*Dataset, error) {
	var header [4]int32
	if err := binary.Read(images, binary.BigEndian, &header); err != nil {
		return nil, errors.Wrap(err, "read image header")
	}
	magic, numImgs, rows, cols := header[0], header[1], header[2], header[3]
	if magic != idxImagesMagic {
		return nil, errors.Errorf("bad image magic %d", magic)
	}
	if numImgs < 0 || rows < 1 || cols < 1 {
		return nil, errors.Errorf("bad image dimensions %d x %d x %d", numImgs, rows, cols)
	}

	var lHeader [2]int32
	if err := binary.Read(labels, binary.BigEndian, &lHeader); err != nil {
		return nil, errors.Wrap(err, "read label header")
	}
	if lHeader[0] != idxLabelsMagic {
		return nil, errors.Errorf("bad label magic %d", lHeader[0])
	}
	if lHeader[1] != numImgs {
		return nil, errors.Errorf("%d images but %d labels", numImgs, lHeader[1])
	}

	count := int(numImgs)
	if maxCount > 0 && maxCount < count {
		count = maxCount
	}
	imgSize := int(rows * cols)

	pixels := make([]byte, count*imgSize)
	if _, err := io.ReadFull(images, pixels); err != nil {
		return nil, errors.Wrap(err, "read pixels")
	}
	raw := make([]byte, count)
	if _, err := io.ReadFull(labels, raw); err != nil {
		return nil, errors.Wrap(err, "read labels")
	}

	ds := &Dataset{
		Images:   make([]float32, len(pixels)),
		Labels:   make([]int, count),
		Channels: 1,
		Height:   int(rows),
		Width:    int(cols),
		Classes:  10,
	}
	for i, b := range pixels {
		ds.Images[i] = float32(b) / 255.0
	}
	for i, l := range raw {
		ds.Labels[i] = int(l)
	}
	return ds, ds.Validate()
}

// openIDX opens path, falling back to path+".gz", and transparently
// decompresses gzip files.
func openIDX(path string) (io.Reader, func(), error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) && !strings.HasSuffix(path, ".gz") {
		path += ".gz"
		f, err = os.Open(path)
	}
	if err != nil {
		return nil, nil, errors.Wrapf(err, "open %s", path)
	}
	if !strings.HasSuffix(path, ".gz") {
		return bufio.NewReader(f), func() { f.Close() }, nil
	}
	gz, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, nil, errors.Wrapf(err, "gunzip %s", path)
	}
	return gz, func() { gz.Close(); f.Close() }, nil
}
