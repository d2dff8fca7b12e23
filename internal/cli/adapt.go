package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/GoSim-25-26J-441/burst-adaptation/internal/adaptation"
	"github.com/GoSim-25-26J-441/burst-adaptation/internal/burst"
	"github.com/GoSim-25-26J-441/burst-adaptation/internal/network"
	"github.com/GoSim-25-26J-441/burst-adaptation/pkg/config"
	"github.com/GoSim-25-26J-441/burst-adaptation/pkg/logger"
	"github.com/GoSim-25-26J-441/burst-adaptation/pkg/models"
	"github.com/GoSim-25-26J-441/burst-adaptation/pkg/utils"
)

// NewAdaptCommand creates the adapt command
func NewAdaptCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "adapt",
		Short: "Find the weight that gives the target burst rate and record spikes",
		Long: `Search the recurrent synaptic weight until the simulated network bursts at
the target rate, then simulate the final duration at that weight and write
the recorded spikes.

The spike files hold one value per line: spike times in ms and the 0-based
index of the neuron that fired.

Example:
  burstadapt adapt --topology topology.yaml --config config.yaml \
    --spike-times times.dat --spike-indices indices.dat`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAdapt(cmd, rootOpts)
		},
	}

	cmd.Flags().String("config", "", "run configuration file (.yaml or .toml); defaults when empty")
	cmd.Flags().String("topology", "", "topology file (required)")
	cmd.Flags().String("spike-times", "", "output file for spike times (required)")
	cmd.Flags().String("spike-indices", "", "output file for neuron indices (required)")
	cmd.Flags().Int64("seed", 0, "noise seed; overrides simulation.seed when non-zero")
	cmd.Flags().Bool("allow-unconverged", false, "record the final simulation even if the search hits its iteration cap")

	return cmd
}

func runAdapt(cmd *cobra.Command, opts *RootOptions) error {
	topologyPath, err := opts.requireString("topology")
	if err != nil {
		return err
	}
	timesPath, err := opts.requireString("spike-times")
	if err != nil {
		return err
	}
	indicesPath, err := opts.requireString("spike-indices")
	if err != nil {
		return err
	}

	cfg, err := loadRunConfig(opts.v.GetString("config"), opts.v.GetInt64("seed"))
	if err != nil {
		return err
	}
	if !opts.logLevelExplicit(cmd) {
		logger.SetDefault(logger.NewWithFormat(cfg.LogFormat, cfg.LogLevel, cmd.ErrOrStderr()))
	}
	topology, err := config.LoadTopology(topologyPath)
	if err != nil {
		return err
	}

	outcome, err := runAdaptJob(cmd.Context(), adaptJob{
		Config:           cfg,
		Topology:         topology,
		TimesPath:        timesPath,
		IndicesPath:      indicesPath,
		AllowUnconverged: opts.v.GetBool("allow-unconverged"),
		Logger:           logger.Default,
	})
	if err != nil {
		return err
	}
	return outcome.print(cmd.OutOrStdout(), opts.jsonOutput())
}

// logLevelExplicit reports whether the log level came from the command line
// or the environment rather than from the run configuration
func (o *RootOptions) logLevelExplicit(cmd *cobra.Command) bool {
	if f := cmd.Flags().Lookup("log-level"); f != nil && f.Changed {
		return true
	}
	_, ok := os.LookupEnv(envName("log-level"))
	return ok
}

// adaptJob is one adaptation followed by the long recording
type adaptJob struct {
	Config           *config.Config
	Topology         *config.Topology
	TimesPath        string
	IndicesPath      string
	AllowUnconverged bool
	Logger           *slog.Logger
}

// adaptOutcome is what an adaptJob produced
type adaptOutcome struct {
	Result *models.AdaptationResult `json:"result"`
	// Final describes the long recording at the chosen weight
	Final *finalRecording `json:"final,omitempty"`
}

type finalRecording struct {
	DurationMs       float64 `json:"duration_ms"`
	Spikes           int     `json:"spikes"`
	Neurons          int     `json:"neurons"`
	MeanFiringRateHz float64 `json:"mean_firing_rate_hz"`
	BurstRateHz      float64 `json:"burst_rate_hz"`
	Bursts           int     `json:"bursts"`
	TimesPath        string  `json:"spike_times"`
	IndicesPath      string  `json:"spike_indices"`
}

// runAdaptJob searches the weight, then simulates the final duration at it
// and writes the spike files. The partial result is returned with any error.
func runAdaptJob(ctx context.Context, job adaptJob) (*adaptOutcome, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := job.Config
	log := job.Logger
	if log == nil {
		log = logger.Default
	}

	sim, err := network.NewSimulator(job.Topology, cfg.Network, cfg.Simulation.AdaptationDurationMs, cfg.Simulation.Seed)
	if err != nil {
		return nil, fmt.Errorf("create simulator: %w", err)
	}
	sim.SetLogger(log)
	est := burst.NewEstimator(cfg.Burst.BinWidthMs, cfg.Burst.ActivityThreshold)

	loop, err := adaptation.NewLoopFromSettings(cfg.Adaptation, sim, est)
	if err != nil {
		return nil, err
	}
	loop.WithLogger(log)

	result, err := loop.Run(ctx)
	outcome := &adaptOutcome{Result: result}
	if err != nil {
		if !job.AllowUnconverged || !errors.Is(err, adaptation.ErrTermination) {
			return outcome, err
		}
		log.Warn("recording at the last weight without convergence", "error", err)
	}

	final := sim
	if cfg.Simulation.FinalDurationMs > 0 {
		final = sim.WithDuration(cfg.Simulation.FinalDurationMs)
	}
	log.Info("final simulation started",
		"weight", result.Weight,
		"simulated", utils.FormatDuration(utils.MsToDuration(final.DurationMs())))
	train, err := final.Evaluate(ctx, result.Weight)
	if err != nil {
		return outcome, fmt.Errorf("final simulation: %w", err)
	}
	analysis, err := est.Analyze(train)
	if err != nil {
		return outcome, fmt.Errorf("analyze final simulation: %w", err)
	}
	if err := writeSpikeFiles(job.TimesPath, job.IndicesPath, train); err != nil {
		return outcome, err
	}

	outcome.Final = &finalRecording{
		DurationMs:       train.DurationMs,
		Spikes:           train.Len(),
		Neurons:          train.PopulationSize,
		MeanFiringRateHz: train.MeanFiringRateHz(),
		BurstRateHz:      analysis.RateHz,
		Bursts:           analysis.Bursts(),
		TimesPath:        job.TimesPath,
		IndicesPath:      job.IndicesPath,
	}
	log.Info("spikes saved",
		"spikes", train.Len(),
		"mean_rate_hz", outcome.Final.MeanFiringRateHz,
		"burst_rate_hz", analysis.RateHz,
		"times", job.TimesPath,
		"indices", job.IndicesPath)
	return outcome, nil
}

func (o *adaptOutcome) print(w io.Writer, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(o)
	}
	r := o.Result
	fmt.Fprintf(w, "weight:       %g\n", r.Weight)
	fmt.Fprintf(w, "burst rate:   %.4f Hz\n", r.RateHz)
	fmt.Fprintf(w, "iterations:   %d\n", r.Iterations)
	fmt.Fprintf(w, "converged:    %t\n", r.Converged)
	if f := o.Final; f != nil {
		fmt.Fprintf(w, "neurons:      %d\n", f.Neurons)
		fmt.Fprintf(w, "spikes:       %d\n", f.Spikes)
		fmt.Fprintf(w, "mean rate:    %.2f Hz\n", f.MeanFiringRateHz)
		fmt.Fprintf(w, "final bursts: %d (%.4f Hz)\n", f.Bursts, f.BurstRateHz)
	}
	return nil
}
