package adversarial

import (
	"github.com/openfluke/yopo/metrics"
	"github.com/openfluke/yopo/nn"
	"github.com/pkg/errors"
)

// Evaluator measures clean accuracy and accuracy under an attacker
type Evaluator struct {
	attacker Attacker
	clean    metrics.Sink
	adv      metrics.Sink
}

// NewEvaluator builds an evaluator. A nil attacker means NoAttack and nil
// sinks get fresh average meters.
func NewEvaluator(attacker Attacker, clean, adv metrics.Sink) *Evaluator {
	if attacker == nil {
		attacker = NoAttack{}
	}
	return &Evaluator{
		attacker: attacker,
		clean:    defaultSink(clean, "clean accuracy"),
		adv:      defaultSink(adv, "adversarial accuracy"),
	}
}

// EvaluateBatch records the accuracy of one batch in eval mode and restores
// the model's previous mode.
func (e *Evaluator) EvaluateBatch(model Model, data []float32, labels []int) error {
	if err := checkBatch(model, data, labels); err != nil {
		return err
	}
	classes := model.NumClasses()

	return withMode(model, nn.ModeEval, func() error {
		logits, err := model.Forward(data)
		if err != nil {
			return err
		}
		if _, err := recordAccuracy(e.clean, logits, labels, classes); err != nil {
			return err
		}

		if !e.attacker.Enabled() {
			return nil
		}
		adv, err := e.attacker.Generate(model, data, labels)
		if err != nil {
			return errors.Wrap(err, "generate adversarial batch")
		}
		advLogits, err := model.Forward(adv)
		if err != nil {
			return err
		}
		_, err = recordAccuracy(e.adv, advLogits, labels, classes)
		return err
	})
}

// Accuracies returns the clean and adversarial running means in percent
func (e *Evaluator) Accuracies() (float64, float64) {
	return e.clean.Mean(), e.adv.Mean()
}

// Reset clears both sinks
func (e *Evaluator) Reset() {
	e.clean.Reset()
	e.adv.Reset()
}
