package network

import (
	"fmt"

	"github.com/GoSim-25-26J-441/burst-adaptation/pkg/config"
	"github.com/GoSim-25-26J-441/burst-adaptation/pkg/logger"
	"github.com/GoSim-25-26J-441/burst-adaptation/pkg/utils"
)

// Synapse is one recurrent connection leaving a neuron
type Synapse struct {
	Target int
	Weight float64
}

// Network is the connectivity of one evaluation: 0-based neurons and their
// outgoing synapses with the synaptic weight already applied
type Network struct {
	Size     int
	Offset   int
	Outgoing [][]Synapse
	// Added is the number of synapses created
	Added int
	// Listed is the number of connections in the topology file
	Listed int
}

// Build creates the connectivity for a topology at the given weight. Every
// listed connection is kept with probability FractionOfConnections, scaled
// by the per-connection factor from the topology and dropped when its sign
// is blocked or its target lies outside the (sub)network.
func Build(topology *config.Topology, cfg config.NetworkConfig, weight float64, rng *utils.RandSource) (*Network, error) {
	if topology == nil {
		return nil, fmt.Errorf("topology is nil")
	}

	offset, size := 0, topology.Size
	if cfg.Subset >= 0 {
		var err error
		offset, size, err = topology.SubsetRange(cfg.Subset)
		if err != nil {
			return nil, fmt.Errorf("select subnetwork: %w", err)
		}
	}

	net := &Network{
		Size:     size,
		Offset:   offset,
		Outgoing: make([][]Synapse, size),
		Listed:   topology.Cons,
	}

	for _, node := range topology.Nodes {
		if cfg.Subset >= 0 && !node.InSubset(cfg.Subset) {
			continue
		}
		from := node.ID - 1 - offset
		for j, id := range node.ConnectedTo {
			if rng.Float64() > cfg.FractionOfConnections {
				continue
			}
			w := weight
			if len(node.Weights) > 0 {
				w *= node.Weights[j]
			}
			to := id - 1 - offset
			if to < 0 || to >= size {
				continue
			}
			if (w > 0 && !cfg.BlockExcitatory) || (w < 0 && !cfg.BlockInhibitory) {
				net.Outgoing[from] = append(net.Outgoing[from], Synapse{Target: to, Weight: w})
				net.Added++
			}
		}
	}

	logger.Debug("network built",
		"size", net.Size,
		"offset", net.Offset,
		"synapses", net.Added,
		"listed", net.Listed,
		"block_excitatory", cfg.BlockExcitatory,
		"block_inhibitory", cfg.BlockInhibitory)
	return net, nil
}

// RandomTopology generates an Erdős–Rényi topology with connection
// probability p and no self-connections
func RandomTopology(size int, p float64, seed int64) *config.Topology {
	rng := utils.NewRandSource(seed)
	topology := &config.Topology{
		Size:  size,
		Notes: fmt.Sprintf("random topology, p=%g", p),
		Nodes: make([]config.TopologyNode, size),
	}
	for i := range topology.Nodes {
		node := config.TopologyNode{ID: i + 1}
		for j := 1; j <= size; j++ {
			if j != i+1 && rng.BernoulliBool(p) {
				node.ConnectedTo = append(node.ConnectedTo, j)
			}
		}
		topology.Cons += len(node.ConnectedTo)
		topology.Nodes[i] = node
	}
	return topology
}
