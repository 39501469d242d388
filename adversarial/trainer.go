package adversarial

import (
	"github.com/openfluke/yopo/metrics"
	"github.com/openfluke/yopo/nn"
	"github.com/sirupsen/logrus"
)

// Trainer trains a model one batch at a time
type Trainer interface {
	// TrainBatch runs one optimization step on a batch. A failed batch
	// leaves no retry state; the caller decides whether to continue.
	TrainBatch(data []float32, labels []int) error

	// Accuracies returns the running clean and adversarial accuracy in percent
	Accuracies() (clean, adversarial float64)

	// ResetAccuracies clears the running accuracies
	ResetAccuracies()

	Name() string
}

func defaultSink(s metrics.Sink, name string) metrics.Sink {
	if s != nil {
		return s
	}
	return metrics.NewAverageMeter(name)
}

func defaultLogger(l logrus.FieldLogger) logrus.FieldLogger {
	if l != nil {
		return l
	}
	return logrus.StandardLogger()
}

func recordAccuracy(sink metrics.Sink, logits []float32, labels []int, classes int) (float64, error) {
	acc, err := nn.Accuracy(logits, labels, classes)
	if err != nil {
		return 0, err
	}
	sink.Update(acc)
	return acc, nil
}

var (
	_ Trainer = (*YOPOTrainer)(nil)
	_ Trainer = (*StandardTrainer)(nil)
)
