package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/GoSim-25-26J-441/burst-adaptation/internal/network"
	"github.com/GoSim-25-26J-441/burst-adaptation/pkg/config"
	"github.com/GoSim-25-26J-441/burst-adaptation/pkg/logger"
)

// NewTopologyCommand creates the topology command
func NewTopologyCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "topology",
		Short: "Generate a random network topology",
		Long: `Generate an Erdős–Rényi topology in which every ordered pair of distinct
neurons is connected with probability --p. Without --output the YAML is
written to stdout.

Example:
  burstadapt topology --size 100 --p 0.2 --seed 1 --output topology_Size100_CC02.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTopology(cmd, rootOpts)
		},
	}

	cmd.Flags().Int("size", 100, "number of neurons")
	cmd.Flags().Float64("p", 0.1, "connection probability")
	cmd.Flags().Int64("seed", 0, "random seed; 0 picks a time-based seed")
	cmd.Flags().String("output", "", "output file; stdout when empty")

	return cmd
}

func runTopology(cmd *cobra.Command, opts *RootOptions) error {
	size := opts.v.GetInt("size")
	if size <= 0 {
		return fmt.Errorf("--size must be positive, got %d", size)
	}
	p := opts.v.GetFloat64("p")
	if p < 0 || p > 1 {
		return fmt.Errorf("--p must be within [0, 1], got %g", p)
	}

	topology := network.RandomTopology(size, p, opts.v.GetInt64("seed"))
	topology.CreatedAt = time.Now().UTC().Format(time.DateTime)

	output := opts.v.GetString("output")
	if output == "" {
		data, err := topology.ToYAML()
		if err != nil {
			return fmt.Errorf("encode topology: %w", err)
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	}
	if err := config.SaveTopology(output, topology); err != nil {
		return err
	}
	logger.Info("topology written", "path", output, "size", topology.Size, "cons", topology.Cons)
	return nil
}
