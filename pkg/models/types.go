package models

import (
	"time"
)

// RunStatus represents the status of an adaptation run
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// IsTerminal reports whether no further transitions are expected from the status
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled:
		return true
	}
	return false
}

// Run is the lifecycle record of one adaptation run
type Run struct {
	ID              string    `json:"id"`
	Status          RunStatus `json:"status"`
	CreatedAtUnixMs int64     `json:"created_at_unix_ms"`
	StartedAtUnixMs int64     `json:"started_at_unix_ms,omitempty"`
	EndedAtUnixMs   int64     `json:"ended_at_unix_ms,omitempty"`
	Error           string    `json:"error,omitempty"`
}

// SpikeTrain is the raw event stream produced by one network evaluation.
// TimesMs is non-decreasing and Senders[i] is the 0-based id of the neuron
// that fired at TimesMs[i].
type SpikeTrain struct {
	TimesMs        []float64 `json:"times_ms"`
	Senders        []int     `json:"senders"`
	PopulationSize int       `json:"population_size"`
	DurationMs     float64   `json:"duration_ms"`
}

// Len returns the number of spikes in the train
func (s *SpikeTrain) Len() int {
	if s == nil {
		return 0
	}
	return len(s.TimesMs)
}

// MeanFiringRateHz returns the average single-cell firing rate over the train
func (s *SpikeTrain) MeanFiringRateHz() float64 {
	if s == nil || s.PopulationSize <= 0 || s.DurationMs <= 0 {
		return 0
	}
	return 1000.0 * float64(len(s.TimesMs)) / (s.DurationMs * float64(s.PopulationSize))
}

// AdaptationStep is one evaluated point of an adaptation run
type AdaptationStep struct {
	Iteration int     `json:"iteration"`
	Weight    float64 `json:"weight"`
	RateHz    float64 `json:"rate_hz"`
	Stage     string  `json:"stage"`
	LeftX     float64 `json:"left_x"`
	RightX    float64 `json:"right_x"`
}

// AdaptationResult summarizes a finished adaptation run
type AdaptationResult struct {
	Weight     float64          `json:"weight"`
	RateHz     float64          `json:"rate_hz"`
	Iterations int              `json:"iterations"`
	Converged  bool             `json:"converged"`
	Reason     string           `json:"reason,omitempty"`
	Steps      []AdaptationStep `json:"steps"`
}

// MetricPoint represents a single metric data point
type MetricPoint struct {
	Timestamp time.Time         `json:"timestamp"`
	Name      string            `json:"name"`
	Value     float64           `json:"value"`
	Labels    map[string]string `json:"labels,omitempty"`
}

// Aggregation represents aggregated statistics for a metric
type Aggregation struct {
	Count int64   `json:"count"`
	Sum   float64 `json:"sum"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Mean  float64 `json:"mean"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
}

// MetricsSummary is a snapshot of every metric recorded for a run
type MetricsSummary struct {
	StartTime    time.Time               `json:"start_time"`
	EndTime      time.Time               `json:"end_time"`
	Duration     time.Duration           `json:"duration"`
	Metrics      map[string][]float64    `json:"metrics"`
	Aggregations map[string]*Aggregation `json:"aggregations"`
}
