package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LoadConfig loads and parses a configuration file. Files ending in .toml are
// decoded as TOML, everything else as YAML.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg *Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		cfg, err = ParseConfigTOML(data)
	} else {
		cfg, err = ParseConfigYAML(data)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration
func (c *Config) Validate() error {
	return validateConfig(c)
}

// validateConfig performs validation on the configuration
func validateConfig(cfg *Config) error {
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[cfg.LogLevel] {
		return fmt.Errorf("invalid log_level: %s (must be debug, info, warn, or error)", cfg.LogLevel)
	}
	if cfg.LogFormat != "" && cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return fmt.Errorf("invalid log_format: %s (must be json or text)", cfg.LogFormat)
	}

	if err := validateAdaptation(&cfg.Adaptation); err != nil {
		return fmt.Errorf("adaptation validation failed: %w", err)
	}
	if err := validateBurst(&cfg.Burst); err != nil {
		return fmt.Errorf("burst validation failed: %w", err)
	}
	if err := validateNetwork(&cfg.Network); err != nil {
		return fmt.Errorf("network validation failed: %w", err)
	}
	if err := validateSimulation(&cfg.Simulation); err != nil {
		return fmt.Errorf("simulation validation failed: %w", err)
	}
	return nil
}

func validateAdaptation(a *AdaptationConfig) error {
	if a.MaxIterations <= 0 {
		return fmt.Errorf("max_iterations must be positive, got %d", a.MaxIterations)
	}
	if a.AccuracyHz < 0 {
		return fmt.Errorf("accuracy_hz cannot be negative, got %f", a.AccuracyHz)
	}
	if a.TargetRateHz <= 0 {
		return fmt.Errorf("target_rate_hz must be positive, got %f", a.TargetRateHz)
	}
	if a.InitialWeight <= 0 {
		return fmt.Errorf("initial_weight must be positive, got %f", a.InitialWeight)
	}
	if a.WeightLower > a.WeightUpper {
		return fmt.Errorf("weight_lower %f is above weight_upper %f", a.WeightLower, a.WeightUpper)
	}
	if a.InitialWeight < a.WeightLower || a.InitialWeight > a.WeightUpper {
		return fmt.Errorf("initial_weight %f is outside [%f, %f]", a.InitialWeight, a.WeightLower, a.WeightUpper)
	}
	if a.RateLowerHz > a.RateUpperHz {
		return fmt.Errorf("rate_lower_hz %f is above rate_upper_hz %f", a.RateLowerHz, a.RateUpperHz)
	}
	if a.MinBracketWidth < 0 {
		return fmt.Errorf("min_bracket_width cannot be negative, got %f", a.MinBracketWidth)
	}
	return nil
}

func validateBurst(b *BurstConfig) error {
	if b.BinWidthMs <= 0 {
		return fmt.Errorf("bin_width_ms must be positive, got %f", b.BinWidthMs)
	}
	if b.ActivityThreshold < 0 || b.ActivityThreshold >= 1 {
		return fmt.Errorf("activity_threshold must be in [0, 1), got %f", b.ActivityThreshold)
	}
	return nil
}

func validateNetwork(n *NetworkConfig) error {
	if n.NoiseRateHz < 0 {
		return fmt.Errorf("noise_rate_hz cannot be negative, got %f", n.NoiseRateHz)
	}
	if n.FractionOfConnections < 0 || n.FractionOfConnections > 1 {
		return fmt.Errorf("fraction_of_connections must be between 0 and 1, got %f", n.FractionOfConnections)
	}

	p := n.Neuron
	if p.CapacitancePF <= 0 {
		return fmt.Errorf("neuron capacitance_pf must be positive, got %f", p.CapacitancePF)
	}
	if p.TauMembraneMs <= 0 {
		return fmt.Errorf("neuron tau_membrane_ms must be positive, got %f", p.TauMembraneMs)
	}
	if p.TauSynapseMs <= 0 {
		return fmt.Errorf("neuron tau_synapse_ms must be positive, got %f", p.TauSynapseMs)
	}
	if p.RefractoryMs < 0 {
		return fmt.Errorf("neuron refractory_ms cannot be negative, got %f", p.RefractoryMs)
	}
	if p.ThresholdMV <= p.ResetMV {
		return fmt.Errorf("neuron threshold_mv %f must be above reset_mv %f", p.ThresholdMV, p.ResetMV)
	}
	if p.ThresholdMV <= p.RestingMV {
		return fmt.Errorf("neuron threshold_mv %f must be above resting_mv %f", p.ThresholdMV, p.RestingMV)
	}

	s := n.Synapse
	if s.DelayMs <= 0 {
		return fmt.Errorf("synapse delay_ms must be positive, got %f", s.DelayMs)
	}
	if s.TauRecMs <= 0 {
		return fmt.Errorf("synapse tau_rec_ms must be positive, got %f", s.TauRecMs)
	}
	if s.U <= 0 || s.U > 1 {
		return fmt.Errorf("synapse u must be in (0, 1], got %f", s.U)
	}
	return nil
}

func validateSimulation(s *SimulationConfig) error {
	if s.AdaptationDurationMs <= 0 {
		return fmt.Errorf("adaptation_duration_ms must be positive, got %f", s.AdaptationDurationMs)
	}
	if s.FinalDurationMs < 0 {
		return fmt.Errorf("final_duration_ms cannot be negative, got %f", s.FinalDurationMs)
	}
	return nil
}
