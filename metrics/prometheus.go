package metrics

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// Collectors are the Prometheus series the sinks publish to
type Collectors struct {
	Accuracy *prometheus.GaugeVec
	Batches  *prometheus.CounterVec
}

// NewCollectors creates the accuracy gauge and batch counter and registers
// them with reg. A nil reg leaves them unregistered.
func NewCollectors(reg prometheus.Registerer) (*Collectors, error) {
	c := &Collectors{
		Accuracy: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Namespace: "yopo", Name: "accuracy_percent", Help: "Running mean accuracy in percent by kind."},
			[]string{"kind"},
		),
		Batches: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: "yopo", Name: "batches_total", Help: "Batches reported by kind."},
			[]string{"kind"},
		),
	}
	if reg == nil {
		return c, nil
	}
	for _, col := range []prometheus.Collector{c.Accuracy, c.Batches} {
		if err := reg.Register(col); err != nil {
			return nil, errors.Wrap(err, "register collector")
		}
	}
	return c, nil
}

// Sink returns a PrometheusSink reporting under kind
func (c *Collectors) Sink(kind string) *PrometheusSink {
	return &PrometheusSink{
		meter:   NewAverageMeter(kind),
		gauge:   c.Accuracy.WithLabelValues(kind),
		batches: c.Batches.WithLabelValues(kind),
	}
}

// PrometheusSink is an AverageMeter that mirrors its running mean into a gauge
type PrometheusSink struct {
	meter   *AverageMeter
	gauge   prometheus.Gauge
	batches prometheus.Counter
}

func (s *PrometheusSink) Update(value float64) {
	s.meter.Update(value)
	s.batches.Inc()
	s.gauge.Set(s.meter.Mean())
}

func (s *PrometheusSink) Mean() float64 { return s.meter.Mean() }

func (s *PrometheusSink) Count() int64 { return s.meter.Count() }

// Reset clears the running mean; the batch counter keeps counting
func (s *PrometheusSink) Reset() {
	s.meter.Reset()
	s.gauge.Set(0)
}
