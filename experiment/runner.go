package experiment

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/openfluke/yopo/data"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/openfluke/yopo/experiment"

// EpochResult summarises one epoch
type EpochResult struct {
	Epoch            int
	LearningRate     float32
	TrainClean       float64
	TrainAdversarial float64
	Evaluated        bool
	EvalClean        float64
	EvalAdversarial  float64
	Duration         time.Duration
	Checkpoint       string
}

// Result summarises a run
type Result struct {
	RunID           string
	Epochs          []EpochResult
	EvalClean       float64
	EvalAdversarial float64
}

// Runner trains for a number of epochs, evaluating every EvalEvery epochs
// and once more at the end.
type Runner struct {
	cfg    Config
	comp   *Components
	log    logrus.FieldLogger
	tracer trace.Tracer
	runID  uuid.UUID
}

// NewRunner creates a runner with a fresh run identifier
func NewRunner(cfg Config, comp *Components, logger logrus.FieldLogger) *Runner {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	id := uuid.New()
	return &Runner{
		cfg:    cfg,
		comp:   comp,
		log:    logger.WithFields(logrus.Fields{"run": id.String(), "experiment": cfg.Name}),
		tracer: otel.Tracer(tracerName),
		runID:  id,
	}
}

// RunID returns the run identifier used in logs and checkpoint names
func (r *Runner) RunID() string { return r.runID.String() }

// Run executes the experiment. A failed batch aborts the run.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	ctx, span := r.tracer.Start(ctx, "experiment",
		trace.WithAttributes(attribute.String("run_id", r.RunID()), attribute.String("trainer", r.comp.Trainer.Name())))
	defer span.End()

	r.log.WithFields(logrus.Fields{"trainer": r.comp.Trainer.Name(), "epochs": r.cfg.Epochs}).Info("beginning experiment")
	start := time.Now()

	res := &Result{RunID: r.RunID()}
	for epoch := 1; epoch <= r.cfg.Epochs; epoch++ {
		er, err := r.runEpoch(ctx, epoch)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return res, err
		}
		res.Epochs = append(res.Epochs, er)
		if er.Evaluated {
			res.EvalClean, res.EvalAdversarial = er.EvalClean, er.EvalAdversarial
		}
	}

	if n := len(res.Epochs); n == 0 || !res.Epochs[n-1].Evaluated {
		clean, adv, err := r.Evaluate(ctx)
		if err != nil {
			return res, err
		}
		res.EvalClean, res.EvalAdversarial = clean, adv
	}

	r.log.WithFields(logrus.Fields{
		"clean":       res.EvalClean,
		"adversarial": res.EvalAdversarial,
		"elapsed":     time.Since(start).Round(time.Millisecond),
	}).Info("ending experiment")
	return res, nil
}

func (r *Runner) runEpoch(ctx context.Context, epoch int) (EpochResult, error) {
	ctx, span := r.tracer.Start(ctx, "epoch", trace.WithAttributes(attribute.Int("epoch", epoch)))
	defer span.End()

	start := time.Now()
	log := r.log.WithField("epoch", epoch)
	er := EpochResult{Epoch: epoch}
	if opt := r.comp.Optimizer; opt != nil {
		if r.comp.Scheduler != nil {
			opt.SetLearningRate(r.comp.Scheduler.GetLR(epoch - 1))
		}
		er.LearningRate = opt.LearningRate()
		span.SetAttributes(attribute.Float64("learning_rate", float64(er.LearningRate)))
	}
	log.WithField("lr", er.LearningRate).Info("beginning epoch")

	trainer := r.comp.Trainer
	trainer.ResetAccuracies()
	if err := r.forEachBatch(ctx, r.comp.Train, func(ctx context.Context, i int, b data.Batch) error {
		_, bspan := r.tracer.Start(ctx, "train_batch", trace.WithAttributes(attribute.Int("batch", i), attribute.Int("size", b.Size())))
		defer bspan.End()
		if err := trainer.TrainBatch(b.Data, b.Labels); err != nil {
			bspan.RecordError(err)
			bspan.SetStatus(codes.Error, err.Error())
			return errors.Wrapf(err, "epoch %d batch %d", epoch, i)
		}
		return nil
	}); err != nil {
		return er, err
	}

	er.TrainClean, er.TrainAdversarial = trainer.Accuracies()
	log.WithFields(logrus.Fields{"clean": er.TrainClean, "adversarial": er.TrainAdversarial}).Info("training accuracy")

	if r.cfg.EvalEvery > 0 && epoch%r.cfg.EvalEvery == 0 {
		clean, adv, err := r.Evaluate(ctx)
		if err != nil {
			return er, err
		}
		er.Evaluated, er.EvalClean, er.EvalAdversarial = true, clean, adv
	}

	if r.cfg.CheckpointDir != "" {
		path, err := r.checkpoint(epoch)
		if err != nil {
			return er, err
		}
		er.Checkpoint = path
	}

	er.Duration = time.Since(start)
	log.WithField("elapsed", er.Duration.Round(time.Millisecond)).Info("ending epoch")
	return er, nil
}

// Evaluate runs the evaluator over the test set in eval mode
func (r *Runner) Evaluate(ctx context.Context) (float64, float64, error) {
	ctx, span := r.tracer.Start(ctx, "evaluate")
	defer span.End()

	ev := r.comp.Evaluator
	ev.Reset()
	net := r.comp.Network
	err := r.forEachBatch(ctx, r.comp.Test, func(_ context.Context, i int, b data.Batch) error {
		return errors.Wrapf(ev.EvaluateBatch(net, b.Data, b.Labels), "eval batch %d", i)
	})
	if err != nil {
		span.RecordError(err)
		return 0, 0, err
	}

	clean, adv := ev.Accuracies()
	r.log.WithFields(logrus.Fields{"clean": clean, "adversarial": adv}).Info("evaluation accuracy")
	return clean, adv, nil
}

func (r *Runner) forEachBatch(ctx context.Context, src data.Source, fn func(context.Context, int, data.Batch) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	i := 0
	for b := range data.Prefetch(ctx, src.Iterate(), r.cfg.Prefetch) {
		if err := fn(ctx, i, b); err != nil {
			return err
		}
		i++
	}
	return ctx.Err()
}

func (r *Runner) checkpoint(epoch int) (string, error) {
	if err := os.MkdirAll(r.cfg.CheckpointDir, 0755); err != nil {
		return "", errors.Wrap(err, "create checkpoint dir")
	}
	path := filepath.Join(r.cfg.CheckpointDir, fmt.Sprintf("%s-epoch%03d.json", r.RunID(), epoch))
	if err := r.comp.Network.SaveModel(path, r.cfg.Name); err != nil {
		return "", errors.Wrap(err, "save checkpoint")
	}
	r.log.WithField("path", path).Info("saved checkpoint")
	return path, nil
}
