package adversarial

import (
	"github.com/openfluke/yopo/nn"
	"github.com/sirupsen/logrus"
)

// Phase names the loop a StepEvent comes from
type Phase string

const (
	PhasePGD  Phase = "pgd"
	PhaseYOPO Phase = "yopo"
)

// StepEvent is emitted after every PGD iteration and every YOPO inner iteration
type StepEvent struct {
	Phase     Phase
	Outer     int       // YOPO outer iteration, 0 for PGD
	Inner     int       // PGD iteration or YOPO inner iteration
	BatchSize int
	Eta       []float32 // copy of the perturbation after projection
}

// LinfNorm returns the largest perturbation magnitude in the event
func (e StepEvent) LinfNorm() float32 {
	return nn.MaxAbs(e.Eta)
}

// StepObserver receives perturbation updates
type StepObserver interface {
	OnStep(event StepEvent)
}

// StepObserverFunc adapts a function to StepObserver
type StepObserverFunc func(event StepEvent)

func (f StepObserverFunc) OnStep(event StepEvent) { f(event) }

// LogObserver logs each step at debug level
type LogObserver struct {
	Logger logrus.FieldLogger
}

func (o *LogObserver) OnStep(event StepEvent) {
	o.Logger.WithFields(logrus.Fields{
		"phase": event.Phase,
		"outer": event.Outer,
		"inner": event.Inner,
		"linf":  event.LinfNorm(),
	}).Debug("perturbation step")
}

func notify(o StepObserver, event StepEvent) {
	if o == nil {
		return
	}
	event.Eta = nn.Clone(event.Eta)
	o.OnStep(event)
}
