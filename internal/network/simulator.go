package network

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/GoSim-25-26J-441/burst-adaptation/pkg/config"
	"github.com/GoSim-25-26J-441/burst-adaptation/pkg/logger"
	"github.com/GoSim-25-26J-441/burst-adaptation/pkg/models"
	"github.com/GoSim-25-26J-441/burst-adaptation/pkg/utils"
)

// ErrInvalidWeight is returned for weights that cannot be simulated
var ErrInvalidWeight = errors.New("invalid synaptic weight")

// ctxCheckInterval is the number of events processed between context checks
const ctxCheckInterval = 4096

// Simulator evaluates a topology as a network of leaky integrate-and-fire
// neurons with depressing recurrent synapses and Poisson external drive.
// Each call starts from rest; nothing carries over between evaluations.
type Simulator struct {
	topology   *config.Topology
	cfg        config.NetworkConfig
	durationMs float64
	seed       int64
	logger     *slog.Logger
}

// NewSimulator creates a simulator that runs for durationMs per evaluation.
// A non-zero seed makes every evaluation use the same noise realisation.
func NewSimulator(topology *config.Topology, cfg config.NetworkConfig, durationMs float64, seed int64) (*Simulator, error) {
	if topology == nil {
		return nil, fmt.Errorf("topology is required")
	}
	if durationMs <= 0 {
		return nil, fmt.Errorf("duration must be positive, got %v", durationMs)
	}
	if cfg.Subset >= 0 {
		if _, _, err := topology.SubsetRange(cfg.Subset); err != nil {
			return nil, fmt.Errorf("select subnetwork: %w", err)
		}
	}
	return &Simulator{
		topology:   topology,
		cfg:        cfg,
		durationMs: durationMs,
		seed:       seed,
		logger:     logger.Default,
	}, nil
}

// SetLogger sets the simulator's logger
func (s *Simulator) SetLogger(l *slog.Logger) {
	s.logger = l
}

// WithDuration returns a copy of the simulator with another run length
func (s *Simulator) WithDuration(durationMs float64) *Simulator {
	c := *s
	c.durationMs = durationMs
	return &c
}

// DurationMs returns the simulated time per evaluation
func (s *Simulator) DurationMs() float64 {
	return s.durationMs
}

// Evaluate simulates the network at the given recurrent weight
func (s *Simulator) Evaluate(ctx context.Context, weight float64) (*models.SpikeTrain, error) {
	if !utils.IsFinite(weight) || weight <= 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWeight, weight)
	}

	rng := utils.NewRandSource(s.seed)
	net, err := Build(s.topology, s.cfg, weight, rng)
	if err != nil {
		return nil, err
	}

	run := newRun(net, s.cfg, rng)
	if err := run.simulate(ctx, s.durationMs); err != nil {
		return nil, err
	}

	train := &models.SpikeTrain{
		TimesMs:        run.times,
		Senders:        run.senders,
		PopulationSize: net.Size,
		DurationMs:     s.durationMs,
	}
	s.logger.Debug("evaluation finished",
		"weight", weight,
		"neurons", net.Size,
		"synapses", net.Added,
		"spikes", train.Len(),
		"events", run.processed,
		"mean_rate_hz", train.MeanFiringRateHz())
	return train, nil
}

// run holds the mutable state of one simulation
type run struct {
	net *Network
	cfg config.NetworkConfig
	rng *utils.RandSource

	queue *EventQueue

	v          []float64
	lastUpdate []float64
	refractory []float64

	// depression resources of each presynaptic neuron
	resources []float64
	lastSpike []float64

	pspScale    float64
	noiseLambda float64

	times     []float64
	senders   []int
	processed int
}

func newRun(net *Network, cfg config.NetworkConfig, rng *utils.RandSource) *run {
	r := &run{
		net:        net,
		cfg:        cfg,
		rng:        rng,
		queue:      NewEventQueue(),
		v:          make([]float64, net.Size),
		lastUpdate: make([]float64, net.Size),
		refractory: make([]float64, net.Size),
		resources:  make([]float64, net.Size),
		lastSpike:  make([]float64, net.Size),
		// peak charge of an alpha-shaped current of unit amplitude, as a voltage step
		pspScale:    math.E * cfg.Neuron.TauSynapseMs / cfg.Neuron.CapacitancePF,
		noiseLambda: cfg.NoiseRateHz / 1000.0,
	}
	for i := range r.v {
		r.v[i] = cfg.Neuron.RestingMV
		r.resources[i] = 1
		r.lastSpike[i] = math.Inf(-1)
	}
	return r
}

func (r *run) simulate(ctx context.Context, durationMs float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.noiseLambda > 0 {
		for i := 0; i < r.net.Size; i++ {
			r.scheduleNoise(i, 0)
		}
	}

	for {
		event := r.queue.Next()
		if event == nil || event.TimeMs > durationMs {
			return nil
		}
		r.processed++
		if r.processed%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}

		if event.Type == EventTypeNoise {
			r.scheduleNoise(event.Target, event.TimeMs)
		}
		r.deliver(event.Target, event.TimeMs, event.Amplitude)
	}
}

func (r *run) scheduleNoise(target int, now float64) {
	r.queue.Schedule(&Event{
		TimeMs:    now + r.rng.ExpFloat64(r.noiseLambda),
		Type:      EventTypeNoise,
		Target:    target,
		Amplitude: r.cfg.NoiseWeight,
	})
}

// deliver applies one input to a neuron and fires it when it crosses threshold
func (r *run) deliver(i int, t, amplitude float64) {
	if t < r.refractory[i] {
		return
	}
	p := r.cfg.Neuron
	dt := t - r.lastUpdate[i]
	if dt > 0 {
		r.v[i] = p.RestingMV + (r.v[i]-p.RestingMV)*math.Exp(-dt/p.TauMembraneMs)
	}
	r.lastUpdate[i] = t
	r.v[i] += amplitude * r.pspScale

	if r.v[i] >= p.ThresholdMV {
		r.fire(i, t)
	}
}

func (r *run) fire(i int, t float64) {
	p := r.cfg.Neuron
	r.times = append(r.times, t)
	r.senders = append(r.senders, i)

	r.v[i] = p.ResetMV
	r.refractory[i] = t + p.RefractoryMs
	r.lastUpdate[i] = r.refractory[i]

	// recover resources since the last spike, then use a fraction U
	syn := r.cfg.Synapse
	x := 1 - (1-r.resources[i])*math.Exp(-(t-r.lastSpike[i])/syn.TauRecMs)
	used := syn.U * x
	r.resources[i] = x - used
	r.lastSpike[i] = t

	for _, s := range r.net.Outgoing[i] {
		r.queue.Schedule(&Event{
			TimeMs:    t + syn.DelayMs,
			Type:      EventTypeSpikeDelivery,
			Target:    s.Target,
			Amplitude: s.Weight * used,
		})
	}
}
