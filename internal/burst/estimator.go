package burst

import (
	"errors"
	"fmt"
	"math"

	"github.com/GoSim-25-26J-441/burst-adaptation/pkg/logger"
	"github.com/GoSim-25-26J-441/burst-adaptation/pkg/models"
	"github.com/GoSim-25-26J-441/burst-adaptation/pkg/utils"
)

const (
	// DefaultBinWidthMs is the width of one activity bin
	DefaultBinWidthMs = 50.0
	// DefaultActivityThreshold is the fraction of the population that must
	// fire within one bin for the bin to count as bursting
	DefaultActivityThreshold = 0.4
)

// ErrInvalidInput is returned when the spike stream violates the input contract
var ErrInvalidInput = errors.New("invalid burst detection input")

// Analysis holds the intermediate signals of a burst-rate estimate
type Analysis struct {
	// ActiveCounts is the number of distinct senders per bin
	ActiveCounts []int `json:"active_counts"`
	// Bursting flags bins whose active fraction exceeds the threshold
	Bursting []bool `json:"bursting"`
	// Intervals are inter-burst intervals in bins
	Intervals []int `json:"intervals"`
	// UniqueSenders is the number of distinct senders in the whole stream
	UniqueSenders int `json:"unique_senders"`
	// SingleCellRateHz is the mean firing rate per cell over the observation
	SingleCellRateHz float64 `json:"single_cell_rate_hz"`
	// RateHz is the burst rate
	RateHz float64 `json:"rate_hz"`
}

// Bursts returns the number of quiet-to-bursting transitions
func (a *Analysis) Bursts() int {
	n := 0
	for s := 1; s < len(a.Bursting); s++ {
		if a.Bursting[s] && !a.Bursting[s-1] {
			n++
		}
	}
	return n
}

// EstimateRate converts a spike stream into a burst rate in Hz.
// timesMs must be non-decreasing and the same length as senders.
func EstimateRate(timesMs []float64, senders []int, totalDurationMs float64, populationSize int, binWidthMs, activityThreshold float64) (float64, error) {
	a, err := Analyze(timesMs, senders, totalDurationMs, populationSize, binWidthMs, activityThreshold)
	if err != nil {
		return 0, err
	}
	return a.RateHz, nil
}

// Analyze runs the full estimation and returns every intermediate signal
func Analyze(timesMs []float64, senders []int, totalDurationMs float64, populationSize int, binWidthMs, activityThreshold float64) (*Analysis, error) {
	if len(timesMs) != len(senders) {
		return nil, fmt.Errorf("%w: %d timestamps but %d sender ids", ErrInvalidInput, len(timesMs), len(senders))
	}
	if len(timesMs) == 0 {
		logger.Debug("no spikes recorded")
		return &Analysis{}, nil
	}
	if populationSize <= 0 {
		return nil, fmt.Errorf("%w: population size must be positive, got %d", ErrInvalidInput, populationSize)
	}
	if !(binWidthMs > 0) || math.IsInf(binWidthMs, 0) {
		return nil, fmt.Errorf("%w: bin width must be positive and finite, got %v", ErrInvalidInput, binWidthMs)
	}
	for i := 1; i < len(timesMs); i++ {
		if timesMs[i] < timesMs[i-1] {
			return nil, fmt.Errorf("%w: timestamps decrease at index %d (%v after %v)", ErrInvalidInput, i, timesMs[i], timesMs[i-1])
		}
	}

	a := &Analysis{
		UniqueSenders: countUnique(senders),
	}
	if totalDurationMs > 0 {
		a.SingleCellRateHz = 1000.0 * float64(len(timesMs)) / (totalDurationMs * float64(populationSize))
	}

	a.ActiveCounts = activeCounts(timesMs, senders, binWidthMs)
	a.Bursting = make([]bool, len(a.ActiveCounts))
	for s, n := range a.ActiveCounts {
		a.Bursting[s] = float64(n)/float64(populationSize) > activityThreshold
	}
	a.Intervals = interBurstIntervals(a.Bursting)
	a.RateHz = rateFromIntervals(a.Intervals, binWidthMs)

	logger.Debug("burst rate estimated",
		"spikes", len(timesMs),
		"unique_senders", a.UniqueSenders,
		"population", populationSize,
		"single_cell_rate_hz", a.SingleCellRateHz,
		"bins", len(a.Bursting),
		"bursts", a.Bursts(),
		"rate_hz", a.RateHz)
	return a, nil
}

// activeCounts returns the number of distinct senders in each bin
// [s*w, (s+1)*w]. The bins are filled in one forward pass: end only ever
// advances, so every spike is visited once regardless of the bin count.
func activeCounts(timesMs []float64, senders []int, binWidthMs float64) []int {
	binCount := int(math.Floor(timesMs[len(timesMs)-1] / binWidthMs))
	if binCount <= 0 {
		return nil
	}

	counts := make([]int, binCount)
	seen := make(map[int]struct{})
	end := 0
	for s := 0; s < binCount; s++ {
		rightEdge := float64(s+1) * binWidthMs
		start := end
		for end < len(timesMs) && timesMs[end] <= rightEdge {
			end++
		}
		if start == end {
			continue
		}
		clear(seen)
		for _, id := range senders[start:end] {
			seen[id] = struct{}{}
		}
		counts[s] = len(seen)
	}
	return counts
}

// interBurstIntervals measures the quiet runs that end in a burst onset.
// Bins are read as (previous, current) pairs starting from an implicit quiet
// bin; only a quiet-quiet pair lengthens the run, so the first quiet bin
// after a burst is not counted. A signal that starts bursting has no onset
// for its first burst. A trailing quiet run counts only once at least one
// onset has been seen.
func interBurstIntervals(bursting []bool) []int {
	var intervals []int
	quiet := 0
	previous := false
	for s, active := range bursting {
		switch {
		case !previous && !active:
			quiet++
		case !previous && active:
			if s > 0 {
				intervals = append(intervals, quiet)
			}
			quiet = 0
		}
		previous = active
	}
	if quiet > 0 && len(intervals) > 0 {
		intervals = append(intervals, quiet)
	}
	return intervals
}

func rateFromIntervals(intervals []int, binWidthMs float64) float64 {
	if len(intervals) == 0 {
		return 0
	}
	meanBins := utils.MeanInt(intervals)
	if meanBins <= 0 {
		return 0
	}
	return 1.0 / (binWidthMs / 1000.0 * meanBins)
}

func countUnique(ids []int) int {
	seen := make(map[int]struct{}, len(ids))
	for _, id := range ids {
		seen[id] = struct{}{}
	}
	return len(seen)
}

// Estimator bundles the detection parameters so callers holding a
// models.SpikeTrain don't repeat them
type Estimator struct {
	BinWidthMs        float64
	ActivityThreshold float64
}

// NewEstimator returns an Estimator. A non-positive bin width or a negative
// threshold selects the default.
func NewEstimator(binWidthMs, activityThreshold float64) *Estimator {
	if binWidthMs <= 0 {
		binWidthMs = DefaultBinWidthMs
	}
	if activityThreshold < 0 {
		activityThreshold = DefaultActivityThreshold
	}
	return &Estimator{BinWidthMs: binWidthMs, ActivityThreshold: activityThreshold}
}

// Estimate returns the burst rate of a spike train
func (e *Estimator) Estimate(train *models.SpikeTrain) (float64, error) {
	a, err := e.Analyze(train)
	if err != nil {
		return 0, err
	}
	return a.RateHz, nil
}

// Analyze returns the full analysis of a spike train
func (e *Estimator) Analyze(train *models.SpikeTrain) (*Analysis, error) {
	if train == nil {
		return nil, fmt.Errorf("%w: spike train is nil", ErrInvalidInput)
	}
	return Analyze(train.TimesMs, train.Senders, train.DurationMs, train.PopulationSize, e.BinWidthMs, e.ActivityThreshold)
}
