package metrics

import (
	"strconv"
	"time"

	"github.com/GoSim-25-26J-441/burst-adaptation/pkg/utils"
)

// Metric names recorded by the adaptation loop
const (
	MetricWeight         = "weight"
	MetricBurstRateHz    = "burst_rate_hz"
	MetricRateErrorHz    = "rate_error_hz"
	MetricBracketWidth   = "bracket_width"
	MetricEvaluationTime = "evaluation_ms"
	MetricSpikeCount     = "spike_count"
)

// RecordWeight records the synaptic weight evaluated in one iteration
func RecordWeight(collector *Collector, weight float64, timestamp time.Time, labels map[string]string) {
	collector.Record(MetricWeight, weight, timestamp, labels)
}

// RecordBurstRate records the burst rate measured in one iteration
func RecordBurstRate(collector *Collector, rateHz float64, timestamp time.Time, labels map[string]string) {
	collector.Record(MetricBurstRateHz, rateHz, timestamp, labels)
}

// RecordRateError records the signed distance between measured and target rate
func RecordRateError(collector *Collector, errHz float64, timestamp time.Time, labels map[string]string) {
	collector.Record(MetricRateErrorHz, errHz, timestamp, labels)
}

// RecordBracketWidth records the width of the weight bracket
func RecordBracketWidth(collector *Collector, width float64, timestamp time.Time, labels map[string]string) {
	collector.Record(MetricBracketWidth, width, timestamp, labels)
}

// RecordEvaluationTime records the wall-clock cost of one network evaluation
func RecordEvaluationTime(collector *Collector, d time.Duration, timestamp time.Time, labels map[string]string) {
	collector.Record(MetricEvaluationTime, utils.DurationToMs(d), timestamp, labels)
}

// RecordSpikeCount records the number of spikes produced by one evaluation
func RecordSpikeCount(collector *Collector, count int, timestamp time.Time, labels map[string]string) {
	collector.Record(MetricSpikeCount, float64(count), timestamp, labels)
}

// CreateRunLabels creates a labels map for an adaptation run
func CreateRunLabels(runID string) map[string]string {
	return map[string]string{
		"run": runID,
	}
}

// CreateIterationLabels creates a labels map for one iteration of a run
func CreateIterationLabels(runID string, iteration int) map[string]string {
	return map[string]string{
		"run":       runID,
		"iteration": strconv.Itoa(iteration),
	}
}
