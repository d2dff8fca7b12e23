// Package cli implements the burstadapt command line.
package cli

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/GoSim-25-26J-441/burst-adaptation/pkg/config"
	"github.com/GoSim-25-26J-441/burst-adaptation/pkg/logger"
)

// EnvPrefix prefixes every environment variable read by the CLI, e.g.
// BURSTADAPT_TOPOLOGY for --topology
const EnvPrefix = "BURSTADAPT"

// ValidFormats are the accepted --format values
var ValidFormats = []string{"text", "json"}

// RootOptions holds global flags and the viper instance every command reads
// its settings from
type RootOptions struct {
	v *viper.Viper
}

// NewRootCommand creates the burstadapt command tree
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{v: viper.New()}

	cmd := &cobra.Command{
		Use:   "burstadapt",
		Short: "Tune a spiking network to a target burst rate",
		Long: `burstadapt searches the recurrent synaptic weight of a simulated network
until its burst rate matches a target, then records a long simulation at that
weight. It also estimates burst rates from recorded spike files and serves
adaptation runs over HTTP and gRPC.

Every flag can also be set through the environment: --spike-times is read
from BURSTADAPT_SPIKE_TIMES, --log-level from BURSTADAPT_LOG_LEVEL.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := opts.bind(cmd.Flags()); err != nil {
				return err
			}
			if format := opts.v.GetString("format"); !slices.Contains(ValidFormats, format) {
				return fmt.Errorf("invalid format %q: must be one of %v", format, ValidFormats)
			}
			logger.SetDefault(logger.NewWithFormat(
				opts.v.GetString("log-format"),
				opts.v.GetString("log-level"),
				cmd.ErrOrStderr(),
			))
			return nil
		},
	}

	cmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", "text", "log format (text, json)")
	cmd.PersistentFlags().String("format", "text", "output format (text, json)")

	cmd.AddCommand(NewAdaptCommand(opts))
	cmd.AddCommand(NewEstimateCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewBatchCommand(opts))
	cmd.AddCommand(NewTopologyCommand(opts))

	return cmd
}

// Execute runs the command line with os.Args
func Execute() error {
	return NewRootCommand().Execute()
}

// bind exposes the flags of the running command through viper. Binding
// happens per invocation because several commands share flag names.
func (o *RootOptions) bind(flags *pflag.FlagSet) error {
	o.v.SetEnvPrefix(EnvPrefix)
	o.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	o.v.AutomaticEnv()
	if err := o.v.BindPFlags(flags); err != nil {
		return fmt.Errorf("bind flags: %w", err)
	}
	return nil
}

// requireString returns a setting that must come from a flag or the environment
func (o *RootOptions) requireString(key string) (string, error) {
	value := o.v.GetString(key)
	if value == "" {
		return "", fmt.Errorf("--%s is required (or set %s)", key, envName(key))
	}
	return value, nil
}

func (o *RootOptions) jsonOutput() bool {
	return o.v.GetString("format") == "json"
}

func envName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(key))
}

// loadRunConfig loads a YAML or TOML run configuration; an empty path gives
// the defaults
func loadRunConfig(path string, seed int64) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if path != "" {
		loaded, err := config.LoadConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if seed != 0 {
		cfg.Simulation.Seed = seed
	}
	return cfg, nil
}
