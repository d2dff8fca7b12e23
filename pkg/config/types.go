package config

// Config represents the adaptation run configuration
type Config struct {
	LogLevel   string           `yaml:"log_level" toml:"log_level"`
	LogFormat  string           `yaml:"log_format" toml:"log_format"`
	Adaptation AdaptationConfig `yaml:"adaptation" toml:"adaptation"`
	Burst      BurstConfig      `yaml:"burst" toml:"burst"`
	Network    NetworkConfig    `yaml:"network" toml:"network"`
	Simulation SimulationConfig `yaml:"simulation" toml:"simulation"`
}

// AdaptationConfig holds the weight search parameters
type AdaptationConfig struct {
	TargetRateHz  float64 `yaml:"target_rate_hz" toml:"target_rate_hz"`
	AccuracyHz    float64 `yaml:"accuracy_hz" toml:"accuracy_hz"`
	MaxIterations int     `yaml:"max_iterations" toml:"max_iterations"`
	InitialWeight float64 `yaml:"initial_weight" toml:"initial_weight"`
	WeightLower   float64 `yaml:"weight_lower" toml:"weight_lower"`
	WeightUpper   float64 `yaml:"weight_upper" toml:"weight_upper"`
	RateLowerHz   float64 `yaml:"rate_lower_hz" toml:"rate_lower_hz"`
	RateUpperHz   float64 `yaml:"rate_upper_hz" toml:"rate_upper_hz"`
	// MinBracketWidth stops the search once the weight bracket is narrower; 0 disables it
	MinBracketWidth float64 `yaml:"min_bracket_width,omitempty" toml:"min_bracket_width,omitempty"`
}

// BurstConfig holds the burst detection parameters
type BurstConfig struct {
	BinWidthMs        float64 `yaml:"bin_width_ms" toml:"bin_width_ms"`
	ActivityThreshold float64 `yaml:"activity_threshold" toml:"activity_threshold"`
}

// NetworkConfig describes how a topology is turned into a simulated network
type NetworkConfig struct {
	NoiseWeight           float64 `yaml:"noise_weight" toml:"noise_weight"`
	NoiseRateHz           float64 `yaml:"noise_rate_hz" toml:"noise_rate_hz"`
	FractionOfConnections float64 `yaml:"fraction_of_connections" toml:"fraction_of_connections"`
	// Subset restricts the network to nodes with this subset index; negative means all
	Subset          int           `yaml:"subset" toml:"subset"`
	BlockExcitatory bool          `yaml:"block_excitatory" toml:"block_excitatory"`
	BlockInhibitory bool          `yaml:"block_inhibitory" toml:"block_inhibitory"`
	Neuron          NeuronParams  `yaml:"neuron" toml:"neuron"`
	Synapse         SynapseParams `yaml:"synapse" toml:"synapse"`
}

// NeuronParams are leaky integrate-and-fire parameters
type NeuronParams struct {
	CapacitancePF float64 `yaml:"capacitance_pf" toml:"capacitance_pf"`
	TauMembraneMs float64 `yaml:"tau_membrane_ms" toml:"tau_membrane_ms"`
	TauSynapseMs  float64 `yaml:"tau_synapse_ms" toml:"tau_synapse_ms"`
	RefractoryMs  float64 `yaml:"refractory_ms" toml:"refractory_ms"`
	RestingMV     float64 `yaml:"resting_mv" toml:"resting_mv"`
	ThresholdMV   float64 `yaml:"threshold_mv" toml:"threshold_mv"`
	ResetMV       float64 `yaml:"reset_mv" toml:"reset_mv"`
}

// SynapseParams are the parameters of the depressing recurrent synapses
type SynapseParams struct {
	DelayMs  float64 `yaml:"delay_ms" toml:"delay_ms"`
	TauRecMs float64 `yaml:"tau_rec_ms" toml:"tau_rec_ms"`
	U        float64 `yaml:"u" toml:"u"`
}

// SimulationConfig holds simulation lengths and the noise seed
type SimulationConfig struct {
	AdaptationDurationMs float64 `yaml:"adaptation_duration_ms" toml:"adaptation_duration_ms"`
	FinalDurationMs      float64 `yaml:"final_duration_ms" toml:"final_duration_ms"`
	// Seed fixes the noise of every evaluation; 0 picks a time-based seed
	Seed int64 `yaml:"seed" toml:"seed"`
}

// DefaultConfig returns the configuration of the CHA bursting network
func DefaultConfig() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "json",
		Adaptation: AdaptationConfig{
			TargetRateHz:  0.1,
			AccuracyHz:    0.01,
			MaxIterations: 100,
			InitialWeight: 8.0,
			WeightLower:   0,
			WeightUpper:   1000,
			RateLowerHz:   0,
			RateUpperHz:   1000,
		},
		Burst: BurstConfig{
			BinWidthMs:        50,
			ActivityThreshold: 0.4,
		},
		Network: NetworkConfig{
			NoiseWeight:           2 * 0.28 * 20.0,
			NoiseRateHz:           0.2,
			FractionOfConnections: 1.0,
			Subset:                -1,
			Neuron: NeuronParams{
				CapacitancePF: 1.0,
				TauMembraneMs: 20.0,
				TauSynapseMs:  2.0,
				RefractoryMs:  2.0,
				RestingMV:     -70.0,
				ThresholdMV:   -50.0,
				ResetMV:       -70.0,
			},
			Synapse: SynapseParams{
				DelayMs:  1.5,
				TauRecMs: 500.0,
				U:        0.3,
			},
		},
		Simulation: SimulationConfig{
			AdaptationDurationMs: 200 * 1000,
			FinalDurationMs:      60 * 60 * 1000,
		},
	}
}
