package adaptation

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/GoSim-25-26J-441/burst-adaptation/internal/metrics"
	"github.com/GoSim-25-26J-441/burst-adaptation/pkg/logger"
	"github.com/GoSim-25-26J-441/burst-adaptation/pkg/models"
	"github.com/GoSim-25-26J-441/burst-adaptation/pkg/utils"
)

// Evaluator runs one network simulation at the given synaptic weight.
// Implementations must not carry state over between calls.
type Evaluator interface {
	Evaluate(ctx context.Context, weight float64) (*models.SpikeTrain, error)
}

// EvaluatorFunc adapts a function to the Evaluator interface
type EvaluatorFunc func(ctx context.Context, weight float64) (*models.SpikeTrain, error)

func (f EvaluatorFunc) Evaluate(ctx context.Context, weight float64) (*models.SpikeTrain, error) {
	return f(ctx, weight)
}

// RateEstimator turns a spike train into a burst rate in Hz
type RateEstimator interface {
	Estimate(train *models.SpikeTrain) (float64, error)
}

// ProgressFunc is called after every evaluated step
type ProgressFunc func(step models.AdaptationStep)

// LoopConfig holds the search parameters of an adaptation run
type LoopConfig struct {
	TargetRateHz  float64
	AccuracyHz    float64
	MaxIterations int
	InitialWeight float64
	LeftX         float64
	RightX        float64
	LowerY        float64
	UpperY        float64
}

// DefaultLoopConfig returns the search parameters used for the CHA network
func DefaultLoopConfig() LoopConfig {
	return LoopConfig{
		TargetRateHz:  0.1,
		AccuracyHz:    0.01,
		MaxIterations: 100,
		InitialWeight: 8.0,
		LeftX:         0,
		RightX:        1000,
		LowerY:        0,
		UpperY:        1000,
	}
}

// Validate checks that the configuration describes a runnable search
func (c LoopConfig) Validate() error {
	switch {
	case c.MaxIterations <= 0:
		return &InvalidConfigError{Reason: fmt.Sprintf("max iterations must be positive, got %d", c.MaxIterations)}
	case c.AccuracyHz < 0 || !utils.IsFinite(c.AccuracyHz):
		return &InvalidConfigError{Reason: fmt.Sprintf("accuracy must be a non-negative number, got %v", c.AccuracyHz)}
	case !utils.IsFinite(c.TargetRateHz):
		return &InvalidConfigError{Reason: "target rate must be finite"}
	case !utils.IsFinite(c.InitialWeight):
		return &InvalidConfigError{Reason: "initial weight must be finite"}
	case !(c.LeftX <= c.RightX):
		return &InvalidConfigError{Reason: fmt.Sprintf("bracket [%v, %v] is empty", c.LeftX, c.RightX)}
	case !(c.LowerY <= c.UpperY):
		return &InvalidConfigError{Reason: fmt.Sprintf("value bracket [%v, %v] is empty", c.LowerY, c.UpperY)}
	}
	return nil
}

// Loop drives a RootFinder with a network evaluator until the measured
// burst rate is close enough to the target or the iteration cap is hit
type Loop struct {
	config      LoopConfig
	evaluator   Evaluator
	estimator   RateEstimator
	convergence ConvergenceStrategy
	collector   *metrics.Collector
	labels      map[string]string
	progress    ProgressFunc
	log         *slog.Logger
}

// NewLoop creates an adaptation loop
func NewLoop(config LoopConfig, evaluator Evaluator, estimator RateEstimator) (*Loop, error) {
	if evaluator == nil {
		return nil, &InvalidConfigError{Reason: "evaluator is required"}
	}
	if estimator == nil {
		return nil, &InvalidConfigError{Reason: "estimator is required"}
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Loop{
		config:      config,
		evaluator:   evaluator,
		estimator:   estimator,
		convergence: NewAccuracyStrategy(config.AccuracyHz),
	}, nil
}

// WithConvergence replaces the default accuracy test
func (l *Loop) WithConvergence(strategy ConvergenceStrategy) *Loop {
	if strategy != nil {
		l.convergence = strategy
	}
	return l
}

// WithCollector records per-iteration metrics under the given labels
func (l *Loop) WithCollector(collector *metrics.Collector, labels map[string]string) *Loop {
	l.collector = collector
	l.labels = labels
	return l
}

// WithProgress registers a callback invoked after each evaluated step
func (l *Loop) WithProgress(fn ProgressFunc) *Loop {
	l.progress = fn
	return l
}

// WithLogger sets the logger; the package default is used otherwise
func (l *Loop) WithLogger(log *slog.Logger) *Loop {
	l.log = log
	return l
}

func (l *Loop) logOrDefault() *slog.Logger {
	if l.log != nil {
		return l.log
	}
	return logger.Default
}

// Run executes the search. When the iteration cap is reached the partial
// result is returned together with a *TerminationError.
func (l *Loop) Run(ctx context.Context) (*models.AdaptationResult, error) {
	cfg := l.config
	finder := NewRootFinder(cfg.LeftX, cfg.RightX, cfg.LowerY, cfg.UpperY, cfg.InitialWeight, cfg.TargetRateHz)
	log := l.logOrDefault()

	// NaN never passes the accuracy test
	weight := finder.Next(math.NaN())
	result := &models.AdaptationResult{}

	log.Info("adaptation started",
		"target_rate_hz", cfg.TargetRateHz,
		"accuracy_hz", cfg.AccuracyHz,
		"initial_weight", cfg.InitialWeight,
		"max_iterations", cfg.MaxIterations)

	var rate float64
	for iteration := 1; iteration <= cfg.MaxIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		bracket := finder.Bracket()
		started := time.Now()
		train, err := l.evaluator.Evaluate(ctx, weight)
		if err != nil {
			return result, fmt.Errorf("iteration %d: evaluate weight %g: %w", iteration, weight, err)
		}
		elapsed := time.Since(started)

		rate, err = l.estimator.Estimate(train)
		if err != nil {
			return result, fmt.Errorf("iteration %d: estimate burst rate: %w", iteration, err)
		}

		step := models.AdaptationStep{
			Iteration: iteration,
			Weight:    weight,
			RateHz:    rate,
			Stage:     finder.LastStage().String(),
			LeftX:     bracket.LeftX,
			RightX:    bracket.RightX,
		}
		result.Steps = append(result.Steps, step)
		result.Iterations = iteration
		result.Weight = weight
		result.RateHz = rate
		l.record(step, bracket, cfg.TargetRateHz, train, elapsed)

		log.Info("adaptation step",
			"iteration", iteration,
			"stage", step.Stage,
			"weight", weight,
			"rate_hz", rate,
			"spikes", train.Len())
		if l.progress != nil {
			l.progress(step)
		}

		if converged, reason := l.convergence.CheckConvergence(cfg.TargetRateHz, result.Steps); converged {
			result.Converged = true
			result.Reason = reason
			log.Info("adaptation converged", "iterations", iteration, "weight", weight, "rate_hz", rate, "reason", reason)
			return result, nil
		}

		weight = finder.Next(rate)
	}

	result.Reason = "max iterations reached"
	return result, &TerminationError{
		Iterations: cfg.MaxIterations,
		LastX:      result.Weight,
		LastY:      rate,
		TargetY:    cfg.TargetRateHz,
	}
}

func (l *Loop) record(step models.AdaptationStep, bracket Bracket, target float64, train *models.SpikeTrain, elapsed time.Duration) {
	if l.collector == nil {
		return
	}
	now := time.Now()
	metrics.RecordWeight(l.collector, step.Weight, now, l.labels)
	metrics.RecordBurstRate(l.collector, step.RateHz, now, l.labels)
	metrics.RecordRateError(l.collector, step.RateHz-target, now, l.labels)
	metrics.RecordBracketWidth(l.collector, bracket.Width(), now, l.labels)
	metrics.RecordEvaluationTime(l.collector, elapsed, now, l.labels)
	metrics.RecordSpikeCount(l.collector, train.Len(), now, l.labels)
}
