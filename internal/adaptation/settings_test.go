package adaptation

import (
	"testing"

	"github.com/GoSim-25-26J-441/burst-adaptation/pkg/config"
)

func TestLoopConfigFromSettings(t *testing.T) {
	a := config.DefaultConfig().Adaptation
	a.WeightLower = 1
	a.WeightUpper = 50
	a.RateLowerHz = 0.01
	a.RateUpperHz = 3

	got := LoopConfigFromSettings(a)
	want := LoopConfig{
		TargetRateHz:  a.TargetRateHz,
		AccuracyHz:    a.AccuracyHz,
		MaxIterations: a.MaxIterations,
		InitialWeight: a.InitialWeight,
		LeftX:         1,
		RightX:        50,
		LowerY:        0.01,
		UpperY:        3,
	}
	if got != want {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
}

func TestNewLoopFromSettingsConvergence(t *testing.T) {
	net := &syntheticNetwork{f: func(w float64) float64 { return w }}
	a := config.DefaultConfig().Adaptation

	loop, err := NewLoopFromSettings(a, net, net)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loop.convergence.Name() != "accuracy" {
		t.Fatalf("expected accuracy strategy, got %s", loop.convergence.Name())
	}

	a.MinBracketWidth = 0.5
	loop, err = NewLoopFromSettings(a, net, net)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loop.convergence.Name() != "combined" {
		t.Fatalf("expected combined strategy, got %s", loop.convergence.Name())
	}
}

func TestNewLoopFromSettingsInvalid(t *testing.T) {
	net := &syntheticNetwork{f: func(w float64) float64 { return w }}
	a := config.DefaultConfig().Adaptation
	a.MaxIterations = 0

	if _, err := NewLoopFromSettings(a, net, net); err == nil {
		t.Fatalf("expected error for zero iterations")
	}
}
