package models

import "testing"

func TestRunStatusIsTerminal(t *testing.T) {
	tests := []struct {
		status   RunStatus
		terminal bool
	}{
		{RunStatusPending, false},
		{RunStatusRunning, false},
		{RunStatusCompleted, true},
		{RunStatusFailed, true},
		{RunStatusCancelled, true},
	}
	for _, tt := range tests {
		if got := tt.status.IsTerminal(); got != tt.terminal {
			t.Errorf("%s: expected terminal=%v, got %v", tt.status, tt.terminal, got)
		}
	}
}

func TestSpikeTrainLen(t *testing.T) {
	var nilTrain *SpikeTrain
	if nilTrain.Len() != 0 {
		t.Fatalf("expected 0 spikes for nil train")
	}

	train := &SpikeTrain{TimesMs: []float64{1, 2, 3}, Senders: []int{0, 1, 0}}
	if train.Len() != 3 {
		t.Fatalf("expected 3 spikes, got %d", train.Len())
	}
}

func TestSpikeTrainMeanFiringRate(t *testing.T) {
	train := &SpikeTrain{
		TimesMs:        make([]float64, 40),
		Senders:        make([]int, 40),
		PopulationSize: 10,
		DurationMs:     2000,
	}
	// 40 spikes / (10 cells * 2 s)
	if got := train.MeanFiringRateHz(); got != 2.0 {
		t.Fatalf("expected 2 Hz, got %f", got)
	}

	train.DurationMs = 0
	if got := train.MeanFiringRateHz(); got != 0 {
		t.Fatalf("expected 0 Hz for zero duration, got %f", got)
	}
}
