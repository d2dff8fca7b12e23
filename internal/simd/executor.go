package simd

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/GoSim-25-26J-441/burst-adaptation/internal/adaptation"
	"github.com/GoSim-25-26J-441/burst-adaptation/internal/archive"
	"github.com/GoSim-25-26J-441/burst-adaptation/internal/burst"
	"github.com/GoSim-25-26J-441/burst-adaptation/internal/metrics"
	"github.com/GoSim-25-26J-441/burst-adaptation/internal/network"
	"github.com/GoSim-25-26J-441/burst-adaptation/pkg/config"
	"github.com/GoSim-25-26J-441/burst-adaptation/pkg/logger"
	"github.com/GoSim-25-26J-441/burst-adaptation/pkg/models"
	"github.com/GoSim-25-26J-441/burst-adaptation/pkg/utils"
)

var (
	ErrRunNotFound  = errors.New("run not found")
	ErrRunTerminal  = errors.New("run is terminal")
	ErrRunIDMissing = errors.New("run_id is required")
	ErrInvalidInput = errors.New("invalid run input")
)

// Archiver persists finished runs
type Archiver interface {
	SaveRun(ctx context.Context, rec archive.Record) error
}

// runPlan is a parsed and validated RunInput
type runPlan struct {
	config    *config.Config
	simulator *network.Simulator
}

// ValidateInput reports whether a run input can be executed
func ValidateInput(input RunInput) error {
	_, err := prepareRun(input)
	return err
}

func prepareRun(input RunInput) (*runPlan, error) {
	cfg := config.DefaultConfig()
	if input.ConfigYAML != "" {
		parsed, err := config.ParseConfigYAMLString(input.ConfigYAML)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		cfg = parsed
	}
	if input.TopologyYAML == "" {
		return nil, fmt.Errorf("%w: topology_yaml is required", ErrInvalidInput)
	}
	topology, err := config.ParseTopologyYAML([]byte(input.TopologyYAML))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if input.CallbackURL != "" {
		if err := ValidateCallbackURL(input.CallbackURL); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
	}
	sim, err := network.NewSimulator(topology, cfg.Network, cfg.Simulation.AdaptationDurationMs, cfg.Simulation.Seed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return &runPlan{config: cfg, simulator: sim}, nil
}

// RunExecutor manages asynchronous adaptation runs and per-run cancellation
type RunExecutor struct {
	store    *RunStore
	archive  Archiver
	notifier *Notifier

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

func NewRunExecutor(store *RunStore) *RunExecutor {
	return &RunExecutor{
		store:   store,
		cancels: make(map[string]context.CancelFunc),
	}
}

// WithArchive saves every run that reaches a terminal status
func (e *RunExecutor) WithArchive(a Archiver) *RunExecutor {
	e.archive = a
	return e
}

// WithNotifier delivers completion callbacks for runs that ask for one
func (e *RunExecutor) WithNotifier(n *Notifier) *RunExecutor {
	e.notifier = n
	return e
}

// Start begins executing a run asynchronously and returns it in RUNNING state
func (e *RunExecutor) Start(runID string) (*RunRecord, error) {
	if runID == "" {
		return nil, ErrRunIDMissing
	}

	rec, ok := e.store.Get(runID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	switch {
	case rec.Run.Status == models.RunStatusRunning:
		return rec, nil
	case rec.Run.Status.IsTerminal():
		return nil, fmt.Errorf("%w: %s", ErrRunTerminal, runID)
	}

	// the cancel func is visible to Stop before the run is marked running
	ctx, cancel := context.WithCancel(context.Background())
	e.mu.Lock()
	if _, exists := e.cancels[runID]; exists {
		e.mu.Unlock()
		cancel()
		return e.current(runID)
	}
	e.cancels[runID] = cancel
	e.mu.Unlock()

	updated, started, err := e.store.markRunning(runID)
	if err != nil || !started {
		e.cleanup(runID)
		if err != nil {
			return nil, err
		}
		return updated, nil
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.runAdaptation(ctx, runID)
	}()
	return updated, nil
}

// Stop cancels a pending or running run
func (e *RunExecutor) Stop(runID string) (*RunRecord, error) {
	if runID == "" {
		return nil, ErrRunIDMissing
	}

	updated, previous, err := e.store.cancelActive(runID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	cancel, running := e.cancels[runID]
	e.mu.Unlock()
	if running {
		cancel()
	}

	// a started adaptation finalizes itself once it observes the cancellation
	if previous == models.RunStatusPending {
		e.finalize(updated)
	}
	return updated, nil
}

func (e *RunExecutor) current(runID string) (*RunRecord, error) {
	rec, ok := e.store.Get(runID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return rec, nil
}

// Shutdown cancels every active run and waits for them to finish or for ctx
func (e *RunExecutor) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	ids := make([]string, 0, len(e.cancels))
	for id := range e.cancels {
		ids = append(ids, id)
	}
	e.mu.Unlock()
	for _, id := range ids {
		if _, err := e.Stop(id); err != nil && !errors.Is(err, ErrRunTerminal) {
			logger.Warn("failed to stop run during shutdown", "run_id", id, "error", err)
		}
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		if e.notifier != nil {
			e.notifier.Wait()
		}
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *RunExecutor) cleanup(runID string) {
	e.mu.Lock()
	if cancel, ok := e.cancels[runID]; ok {
		cancel()
		delete(e.cancels, runID)
	}
	e.mu.Unlock()
}

func (e *RunExecutor) runAdaptation(ctx context.Context, runID string) {
	defer e.cleanup(runID)

	rec, ok := e.store.Get(runID)
	if !ok {
		logger.Error("run not found", "run_id", runID)
		return
	}

	plan, err := prepareRun(rec.Input)
	if err != nil {
		logger.Error("failed to prepare run", "run_id", runID, "error", err)
		e.fail(runID, err.Error(), nil)
		return
	}

	collector := metrics.NewCollector()
	collector.Start()
	if err := e.store.SetCollector(runID, collector); err != nil {
		logger.Error("failed to store collector", "run_id", runID, "error", err)
	}

	cfg := plan.config
	estimator := burst.NewEstimator(cfg.Burst.BinWidthMs, cfg.Burst.ActivityThreshold)
	loop, err := adaptation.NewLoopFromSettings(cfg.Adaptation, plan.simulator, estimator)
	if err != nil {
		collector.Stop()
		e.fail(runID, err.Error(), nil)
		return
	}
	runLog := logger.With("run_id", runID)
	loop.WithCollector(collector, nil).
		WithLogger(runLog).
		WithProgress(func(step models.AdaptationStep) {
			if err := e.store.AppendStep(runID, step); err != nil {
				runLog.Warn("failed to record step", "error", err)
			}
		})

	started := time.Now()
	result, err := loop.Run(ctx)
	collector.Stop()

	status, msg := models.RunStatusCompleted, ""
	switch {
	case ctx.Err() != nil:
		runLog.Info("adaptation cancelled", "iterations", result.Iterations)
	case err != nil:
		status, msg = models.RunStatusFailed, err.Error()
		runLog.Error("adaptation failed", "error", err, "iterations", result.Iterations)
	default:
		runLog.Info("adaptation completed",
			"weight", result.Weight,
			"rate_hz", result.RateHz,
			"iterations", result.Iterations,
			"elapsed", utils.FormatDuration(time.Since(started)))
	}

	e.complete(runID, status, msg, result)
}

func (e *RunExecutor) fail(runID, msg string, result *models.AdaptationResult) {
	e.complete(runID, models.RunStatusFailed, msg, result)
}

// complete records the outcome of a started run. A run stopped in the
// meantime stays cancelled and only keeps the result.
func (e *RunExecutor) complete(runID string, status models.RunStatus, msg string, result *models.AdaptationResult) {
	if done, ok := e.store.finish(runID, status, msg, result); ok {
		e.finalize(done)
		return
	}
	if result != nil {
		if err := e.store.SetResult(runID, result); err != nil {
			logger.Error("failed to store partial result", "run_id", runID, "error", err)
		}
	}
	if rec, ok := e.store.Get(runID); ok {
		e.finalize(rec)
	}
}

// finalize archives a terminal run and fires its callback
func (e *RunExecutor) finalize(rec *RunRecord) {
	if e.archive != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := e.archive.SaveRun(ctx, archive.Record{
			Run:        rec.Run,
			ConfigYAML: rec.Input.ConfigYAML,
			Result:     rec.Result,
		})
		cancel()
		if err != nil {
			logger.Error("failed to archive run", "run_id", rec.Run.ID, "error", err)
		}
	}
	if e.notifier != nil {
		e.notifier.Notify(rec.Input.CallbackURL, rec.Input.CallbackSecret, rec)
	}
}
