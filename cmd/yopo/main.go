// Command yopo trains the small MNIST CNN with YOPO, PGD or standard
// training and reports clean and adversarial accuracy.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/openfluke/yopo/experiment"
	"github.com/openfluke/yopo/gpu"
	"github.com/openfluke/yopo/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if err := run(log); err != nil {
		log.WithError(err).Fatal("experiment failed")
	}
}

func run(log *logrus.Logger) error {
	configPath := flag.String("config", "", "YAML config file")
	trainer := flag.String("trainer", "", "trainer: standard, pgd or yopo")
	dataDir := flag.String("data", "", "directory with MNIST IDX files")
	dataset := flag.String("dataset", "", "dataset: mnist or synthetic")
	epochs := flag.Int("epochs", 0, "number of epochs")
	batchSize := flag.Int("batch-size", 0, "batch size")
	device := flag.String("device", "", "perturbation device: cpu or gpu")
	schedule := flag.String("lr-schedule", "", "learning rate schedule: constant, step or cosine")
	metricsAddr := flag.String("metrics-addr", "", "serve Prometheus metrics on this address")
	checkpointDir := flag.String("checkpoint-dir", "", "save a checkpoint after every epoch")
	logLevel := flag.String("log-level", "", "log level")
	flag.Parse()

	cfg, err := experiment.LoadConfig(*configPath)
	if err != nil {
		return err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return err
	}

	// Flags take precedence over file and environment
	setString(&cfg.Trainer, *trainer)
	setString(&cfg.DataDir, *dataDir)
	setString(&cfg.Dataset, *dataset)
	setString(&cfg.Device, *device)
	setString(&cfg.LRSchedule, *schedule)
	setString(&cfg.MetricsAddr, *metricsAddr)
	setString(&cfg.CheckpointDir, *checkpointDir)
	setString(&cfg.LogLevel, *logLevel)
	if *epochs > 0 {
		cfg.Epochs = *epochs
	}
	if *batchSize > 0 {
		cfg.BatchSize = *batchSize
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	log.SetLevel(level)
	gpu.Logger = log

	reg := prometheus.NewRegistry()
	collectors, err := metrics.NewCollectors(reg)
	if err != nil {
		return err
	}

	comp, err := experiment.Build(cfg, collectors, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsAddr != "" {
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsHandler(reg), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			log.WithField("addr", cfg.MetricsAddr).Info("serving metrics")
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.WithError(err).Error("metrics server stopped")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	runner := experiment.NewRunner(cfg, comp, log)
	res, err := runner.Run(ctx)
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"run":         res.RunID,
		"clean":       res.EvalClean,
		"adversarial": res.EvalAdversarial,
	}).Info("final accuracy")
	return nil
}

func metricsHandler(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return mux
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
