package nn

import (
	"math"
	"strings"
)

// LRScheduler maps an epoch index (0-based) to a learning rate
type LRScheduler interface {
	// GetLR returns the learning rate for the given epoch
	GetLR(epoch int) float32

	// Name returns the scheduler name
	Name() string
}

// ============================================================================
// Constant Scheduler - Fixed learning rate
// ============================================================================

type ConstantScheduler struct {
	baseLR float32
}

func NewConstantScheduler(baseLR float32) *ConstantScheduler {
	return &ConstantScheduler{baseLR: baseLR}
}

func (s *ConstantScheduler) GetLR(epoch int) float32 {
	return s.baseLR
}

func (s *ConstantScheduler) Name() string {
	return "Constant"
}

// ============================================================================
// Step Decay Scheduler - multiply by decayFactor every stepSize epochs
// ============================================================================

type StepDecayScheduler struct {
	initialLR   float32
	decayFactor float32
	stepSize    int
}

func NewStepDecayScheduler(initialLR, decayFactor float32, stepSize int) (*StepDecayScheduler, error) {
	if stepSize < 1 {
		return nil, invalidArgument("step decay needs a positive step size, got %d", stepSize)
	}
	if decayFactor <= 0 || decayFactor > 1 {
		return nil, invalidArgument("decay factor must be in (0, 1], got %v", decayFactor)
	}
	return &StepDecayScheduler{
		initialLR:   initialLR,
		decayFactor: decayFactor,
		stepSize:    stepSize,
	}, nil
}

func (s *StepDecayScheduler) GetLR(epoch int) float32 {
	// lr = initialLR * decayFactor^(epoch / stepSize)
	numDecays := epoch / s.stepSize
	return s.initialLR * float32(math.Pow(float64(s.decayFactor), float64(numDecays)))
}

func (s *StepDecayScheduler) Name() string {
	return "StepDecay"
}

// ============================================================================
// Cosine Annealing Scheduler
// ============================================================================

type CosineAnnealingScheduler struct {
	initialLR   float32
	minLR       float32
	totalEpochs int
}

func NewCosineAnnealingScheduler(initialLR, minLR float32, totalEpochs int) (*CosineAnnealingScheduler, error) {
	if totalEpochs < 1 {
		return nil, invalidArgument("cosine annealing needs a positive epoch count, got %d", totalEpochs)
	}
	if minLR < 0 || minLR > initialLR {
		return nil, invalidArgument("min learning rate %v outside [0, %v]", minLR, initialLR)
	}
	return &CosineAnnealingScheduler{initialLR: initialLR, minLR: minLR, totalEpochs: totalEpochs}, nil
}

func (s *CosineAnnealingScheduler) GetLR(epoch int) float32 {
	if epoch >= s.totalEpochs {
		return s.minLR
	}
	progress := float64(epoch) / float64(s.totalEpochs)

	// lr = minLR + (initialLR - minLR) * (1 + cos(pi * progress)) / 2
	cosineDecay := float32((1.0 + math.Cos(math.Pi*progress)) / 2.0)
	return s.minLR + (s.initialLR-s.minLR)*cosineDecay
}

func (s *CosineAnnealingScheduler) Name() string {
	return "CosineAnnealing"
}

// ScheduleConfig selects and parameterises a scheduler by name
type ScheduleConfig struct {
	Kind        string // "constant", "step" or "cosine"
	InitialLR   float32
	MinLR       float32 // cosine floor
	DecayFactor float32 // step
	StepSize    int     // step, in epochs
	TotalEpochs int     // cosine
}

// NewScheduler builds the scheduler named by cfg.Kind. An empty kind is constant.
func NewScheduler(cfg ScheduleConfig) (LRScheduler, error) {
	if cfg.InitialLR <= 0 {
		return nil, invalidArgument("initial learning rate must be positive, got %v", cfg.InitialLR)
	}
	switch strings.ToLower(cfg.Kind) {
	case "", "constant":
		return NewConstantScheduler(cfg.InitialLR), nil
	case "step":
		return NewStepDecayScheduler(cfg.InitialLR, cfg.DecayFactor, cfg.StepSize)
	case "cosine":
		return NewCosineAnnealingScheduler(cfg.InitialLR, cfg.MinLR, cfg.TotalEpochs)
	}
	return nil, invalidArgument("unknown learning rate schedule %q", cfg.Kind)
}
