package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/GoSim-25-26J-441/burst-adaptation/internal/burst"
	"github.com/GoSim-25-26J-441/burst-adaptation/pkg/logger"
	"github.com/GoSim-25-26J-441/burst-adaptation/pkg/models"
)

// NewEstimateCommand creates the estimate command
func NewEstimateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "estimate",
		Short: "Estimate the burst rate of recorded spike files",
		Long: `Estimate the network burst rate from a spike times file and a neuron
index file as written by "burstadapt adapt".

When --size is 0 the population is taken as the largest index plus one, and
when --duration-ms is 0 the observation ends at the last spike.

Example:
  burstadapt estimate --spike-times times.dat --spike-indices indices.dat --size 100`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runEstimate(cmd, rootOpts)
		},
	}

	cmd.Flags().String("spike-times", "", "spike times file, ms, one per line (required)")
	cmd.Flags().String("spike-indices", "", "neuron index file, one per line (required)")
	cmd.Flags().Int("size", 0, "number of neurons in the network")
	cmd.Flags().Float64("duration-ms", 0, "observed duration in ms")
	cmd.Flags().Float64("bin-width-ms", burst.DefaultBinWidthMs, "burst detection bin width in ms")
	cmd.Flags().Float64("threshold", burst.DefaultActivityThreshold, "fraction of neurons that must fire within a bin")

	return cmd
}

type estimateOutput struct {
	Spikes            int            `json:"spikes"`
	PopulationSize    int            `json:"population_size"`
	DurationMs        float64        `json:"duration_ms"`
	BinWidthMs        float64        `json:"bin_width_ms"`
	ActivityThreshold float64        `json:"activity_threshold"`
	RateHz            float64        `json:"rate_hz"`
	Bursts            int            `json:"bursts"`
	Analysis          *burst.Analysis `json:"analysis"`
}

func runEstimate(cmd *cobra.Command, opts *RootOptions) error {
	timesPath, err := opts.requireString("spike-times")
	if err != nil {
		return err
	}
	indicesPath, err := opts.requireString("spike-indices")
	if err != nil {
		return err
	}
	times, senders, err := readSpikeFiles(timesPath, indicesPath)
	if err != nil {
		return err
	}

	train := &models.SpikeTrain{
		TimesMs:        times,
		Senders:        senders,
		PopulationSize: opts.v.GetInt("size"),
		DurationMs:     opts.v.GetFloat64("duration-ms"),
	}
	if train.PopulationSize <= 0 {
		for _, s := range senders {
			train.PopulationSize = max(train.PopulationSize, s+1)
		}
		logger.Debug("population size derived from indices", "size", train.PopulationSize)
	}
	if train.DurationMs <= 0 && len(times) > 0 {
		train.DurationMs = times[len(times)-1]
	}

	est := burst.NewEstimator(opts.v.GetFloat64("bin-width-ms"), opts.v.GetFloat64("threshold"))
	analysis, err := est.Analyze(train)
	if err != nil {
		return err
	}

	out := estimateOutput{
		Spikes:            train.Len(),
		PopulationSize:    train.PopulationSize,
		DurationMs:        train.DurationMs,
		BinWidthMs:        est.BinWidthMs,
		ActivityThreshold: est.ActivityThreshold,
		RateHz:            analysis.RateHz,
		Bursts:            analysis.Bursts(),
		Analysis:          analysis,
	}
	w := cmd.OutOrStdout()
	if opts.jsonOutput() {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	fmt.Fprintf(w, "spikes:      %d\n", out.Spikes)
	fmt.Fprintf(w, "neurons:     %d\n", out.PopulationSize)
	fmt.Fprintf(w, "cells fired: %d\n", analysis.UniqueSenders)
	fmt.Fprintf(w, "mean rate:   %.2f Hz\n", analysis.SingleCellRateHz)
	fmt.Fprintf(w, "bursts:      %d\n", out.Bursts)
	fmt.Fprintf(w, "burst rate:  %.4f Hz\n", out.RateHz)
	return nil
}
