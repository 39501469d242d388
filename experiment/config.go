// Package experiment wires a network, a trainer and data sources into an
// epoch loop with periodic adversarial evaluation.
package experiment

import (
	"os"
	"strconv"
	"strings"

	"github.com/openfluke/yopo/adversarial"
	"github.com/openfluke/yopo/nn"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Trainer kinds
const (
	TrainerStandard = "standard"
	TrainerPGD      = "pgd"
	TrainerYOPO     = "yopo"
)

// Config describes one experiment
type Config struct {
	Name string `yaml:"name"`

	// Data
	Dataset    string `yaml:"dataset"` // "mnist" or "synthetic"
	DataDir    string `yaml:"data_dir"`
	MaxSamples int    `yaml:"max_samples"`
	TestDir    string `yaml:"test_dir"` // defaults to DataDir
	Prefetch   int    `yaml:"prefetch"`

	// Training
	Trainer      string  `yaml:"trainer"`
	Epochs       int     `yaml:"epochs"`
	BatchSize    int     `yaml:"batch_size"`
	EvalEvery    int     `yaml:"eval_every"`
	Seed         int64   `yaml:"seed"`
	Device       string  `yaml:"device"`
	DropRate     float32 `yaml:"drop_rate"`
	Optimizer    string  `yaml:"optimizer"` // "sgd" or "adamw"
	LearningRate float32 `yaml:"learning_rate"`
	Momentum     float32 `yaml:"momentum"`
	WeightDecay  float32 `yaml:"weight_decay"`

	// Learning rate schedule over epochs: "constant", "step" or "cosine"
	LRSchedule      string  `yaml:"lr_schedule"`
	LRDecay         float32 `yaml:"lr_decay"`
	LRStepEpochs    int     `yaml:"lr_step_epochs"`
	MinLearningRate float32 `yaml:"min_learning_rate"`

	// WeightPenalty adds 0.5 * penalty * ||W||^2 in the standard and pgd trainers
	WeightPenalty float32 `yaml:"weight_penalty"`

	// Perturbation budget shared by PGD and YOPO
	Epsilon       float32 `yaml:"epsilon"`
	Sigma         float32 `yaml:"sigma"`
	PGDIterations int     `yaml:"pgd_iterations"`

	// YOPO
	K                 int     `yaml:"k"`
	N2                int     `yaml:"n2"`
	InnerSigma        float32 `yaml:"inner_sigma"`
	LayerLearningRate float32 `yaml:"layer_learning_rate"`
	LayerMomentum     float32 `yaml:"layer_momentum"`
	LayerWeightDecay  float32 `yaml:"layer_weight_decay"`

	// Outputs
	CheckpointDir string `yaml:"checkpoint_dir"`
	MetricsAddr   string `yaml:"metrics_addr"`
	LogLevel      string `yaml:"log_level"`
}

// DefaultConfig returns YOPO-5-10 on MNIST with epsilon 6/255
func DefaultConfig() Config {
	return Config{
		Name:              "yopo-mnist",
		Dataset:           "mnist",
		DataDir:           "data",
		Prefetch:          2,
		Trainer:           TrainerYOPO,
		Epochs:            40,
		BatchSize:         128,
		EvalEvery:         10,
		Seed:              1,
		Device:            "cpu",
		DropRate:          0.5,
		Optimizer:         "sgd",
		LearningRate:      0.05,
		Momentum:          0.9,
		WeightDecay:       5e-4,
		LRSchedule:        "constant",
		LRDecay:           0.1,
		LRStepEpochs:      15,
		Epsilon:           6.0 / 255.0,
		Sigma:             3.0 / 255.0,
		PGDIterations:     20,
		K:                 5,
		N2:                10,
		InnerSigma:        3.0 / 255.0,
		LayerLearningRate: adversarial.DefaultLayerOptimizer.LearningRate,
		LayerMomentum:     adversarial.DefaultLayerOptimizer.Momentum,
		LayerWeightDecay:  adversarial.DefaultLayerOptimizer.WeightDecay,
		LogLevel:          "info",
	}
}

// LoadConfig reads a YAML file over the defaults. An empty path returns the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrap(err, "read config")
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parse config %s", path)
	}
	return cfg, nil
}

// Get returns an environment variable or default value.
func Get(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// ApplyEnv overrides fields from YOPO_* environment variables
func (c *Config) ApplyEnv() error {
	return c.applyEnv(func(key string) string { return Get(key, "") })
}

func (c *Config) applyEnv(getenv func(string) string) error {
	strs := map[string]*string{
		"YOPO_NAME":           &c.Name,
		"YOPO_DATASET":        &c.Dataset,
		"YOPO_DATA_DIR":       &c.DataDir,
		"YOPO_TEST_DIR":       &c.TestDir,
		"YOPO_TRAINER":        &c.Trainer,
		"YOPO_DEVICE":         &c.Device,
		"YOPO_OPTIMIZER":      &c.Optimizer,
		"YOPO_LR_SCHEDULE":    &c.LRSchedule,
		"YOPO_CHECKPOINT_DIR": &c.CheckpointDir,
		"YOPO_METRICS_ADDR":   &c.MetricsAddr,
		"YOPO_LOG_LEVEL":      &c.LogLevel,
	}
	ints := map[string]*int{
		"YOPO_MAX_SAMPLES":    &c.MaxSamples,
		"YOPO_PREFETCH":       &c.Prefetch,
		"YOPO_EPOCHS":         &c.Epochs,
		"YOPO_BATCH_SIZE":     &c.BatchSize,
		"YOPO_EVAL_EVERY":     &c.EvalEvery,
		"YOPO_PGD_ITERATIONS": &c.PGDIterations,
		"YOPO_LR_STEP_EPOCHS": &c.LRStepEpochs,
		"YOPO_K":              &c.K,
		"YOPO_N2":             &c.N2,
	}
	floats := map[string]*float32{
		"YOPO_DROP_RATE":           &c.DropRate,
		"YOPO_LEARNING_RATE":       &c.LearningRate,
		"YOPO_MOMENTUM":            &c.Momentum,
		"YOPO_WEIGHT_DECAY":        &c.WeightDecay,
		"YOPO_LR_DECAY":            &c.LRDecay,
		"YOPO_MIN_LEARNING_RATE":   &c.MinLearningRate,
		"YOPO_WEIGHT_PENALTY":      &c.WeightPenalty,
		"YOPO_EPSILON":             &c.Epsilon,
		"YOPO_SIGMA":               &c.Sigma,
		"YOPO_INNER_SIGMA":         &c.InnerSigma,
		"YOPO_LAYER_LEARNING_RATE": &c.LayerLearningRate,
		"YOPO_LAYER_MOMENTUM":      &c.LayerMomentum,
		"YOPO_LAYER_WEIGHT_DECAY":  &c.LayerWeightDecay,
	}

	for key, dst := range strs {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	for key, dst := range ints {
		if v := getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return errors.Wrapf(adversarial.ErrInvalidArgument, "%s=%q is not an integer", key, v)
			}
			*dst = n
		}
	}
	for key, dst := range floats {
		if v := getenv(key); v != "" {
			f, err := parseFraction(v)
			if err != nil {
				return errors.Wrapf(adversarial.ErrInvalidArgument, "%s=%q is not a number", key, v)
			}
			*dst = f
		}
	}
	if v := getenv("YOPO_SEED"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return errors.Wrapf(adversarial.ErrInvalidArgument, "YOPO_SEED=%q is not an integer", v)
		}
		c.Seed = n
	}
	return nil
}

// Schedule returns the learning rate schedule of the whole-network optimizer
func (c Config) Schedule() nn.ScheduleConfig {
	return nn.ScheduleConfig{
		Kind:        c.LRSchedule,
		InitialLR:   c.LearningRate,
		MinLR:       c.MinLearningRate,
		DecayFactor: c.LRDecay,
		StepSize:    c.LRStepEpochs,
		TotalEpochs: c.Epochs,
	}
}

// parseFraction accepts plain numbers and fractions such as "8/255"
func parseFraction(s string) (float32, error) {
	if num, den, ok := strings.Cut(s, "/"); ok {
		n, err := strconv.ParseFloat(strings.TrimSpace(num), 32)
		if err != nil {
			return 0, err
		}
		d, err := strconv.ParseFloat(strings.TrimSpace(den), 32)
		if err != nil {
			return 0, err
		}
		if d == 0 {
			return 0, errors.New("division by zero")
		}
		return float32(n / d), nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 32)
	return float32(f), err
}

// Validate rejects configurations no trainer can run
func (c Config) Validate() error {
	bad := func(format string, args ...interface{}) error {
		return errors.Wrapf(adversarial.ErrInvalidArgument, format, args...)
	}
	switch c.Trainer {
	case TrainerStandard, TrainerPGD, TrainerYOPO:
	default:
		return bad("unknown trainer %q", c.Trainer)
	}
	switch c.Dataset {
	case "mnist", "synthetic":
	default:
		return bad("unknown dataset %q", c.Dataset)
	}
	switch c.Optimizer {
	case "sgd", "adamw":
	default:
		return bad("unknown optimizer %q", c.Optimizer)
	}
	if _, err := nn.ParseDevice(c.Device); err != nil {
		return err
	}
	if c.Epochs < 1 || c.BatchSize < 1 {
		return bad("epochs and batch size must be positive, got %d and %d", c.Epochs, c.BatchSize)
	}
	if c.EvalEvery < 0 || c.MaxSamples < 0 || c.Prefetch < 0 {
		return bad("eval_every, max_samples and prefetch must be non-negative")
	}
	if c.LearningRate <= 0 {
		return bad("learning rate must be positive, got %v", c.LearningRate)
	}
	if _, err := nn.NewScheduler(c.Schedule()); err != nil {
		return err
	}
	if c.DropRate < 0 || c.DropRate >= 1 {
		return bad("drop rate must be in [0, 1), got %v", c.DropRate)
	}
	if c.WeightPenalty < 0 {
		return bad("weight penalty must be non-negative, got %v", c.WeightPenalty)
	}
	budget := adversarial.Budget{Epsilon: c.Epsilon, Sigma: c.Sigma, Iterations: c.PGDIterations, Norm: adversarial.NormLinf}
	if err := budget.Validate(); err != nil {
		return err
	}
	if c.Trainer == TrainerYOPO {
		if c.K < 1 || c.N2 < 0 {
			return bad("yopo needs K >= 1 and N2 >= 0, got K=%d N2=%d", c.K, c.N2)
		}
		if c.InnerSigma < 0 || c.LayerLearningRate <= 0 {
			return bad("inner sigma must be non-negative and layer learning rate positive")
		}
	}
	return nil
}
