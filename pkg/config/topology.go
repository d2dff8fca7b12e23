package config

import (
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// Topology is a network description: nodes with 1-based ids and their
// outgoing connections
type Topology struct {
	Size      int            `yaml:"size"`
	Cons      int            `yaml:"cons"`
	Notes     string         `yaml:"notes,omitempty"`
	CreatedAt string         `yaml:"createdAt,omitempty"`
	Nodes     []TopologyNode `yaml:"nodes"`
}

// TopologyNode is one neuron of a topology
type TopologyNode struct {
	ID          int       `yaml:"id"`
	ConnectedTo []int     `yaml:"connectedTo,omitempty"`
	Weights     []float64 `yaml:"weights,omitempty"`
	Subset      *int      `yaml:"subset,omitempty"`
}

// InSubset reports whether the node carries the given subset index
func (n TopologyNode) InSubset(subset int) bool {
	return n.Subset != nil && *n.Subset == subset
}

// SubsetRange returns the 0-based index of the first node in the subset and
// the number of nodes in it. The subset must be a contiguous run of nodes.
func (t *Topology) SubsetRange(subset int) (offset, size int, err error) {
	var indices []int
	for i, node := range t.Nodes {
		if node.InSubset(subset) {
			indices = append(indices, i)
		}
	}
	if len(indices) == 0 {
		return 0, 0, fmt.Errorf("subset %d has no nodes", subset)
	}
	first, last := indices[0], indices[len(indices)-1]
	if last-first+1 != len(indices) {
		return 0, 0, fmt.Errorf("subset %d is not a contiguous range of node ids", subset)
	}
	return first, len(indices), nil
}

// Subsets returns the distinct subset indices in ascending order
func (t *Topology) Subsets() []int {
	var subsets []int
	for _, node := range t.Nodes {
		if node.Subset != nil && !slices.Contains(subsets, *node.Subset) {
			subsets = append(subsets, *node.Subset)
		}
	}
	slices.Sort(subsets)
	return subsets
}

// LoadTopology loads and parses a topology file
func LoadTopology(path string) (*Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read topology file %s: %w", path, err)
	}
	topology, err := ParseTopologyYAML(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse topology file %s: %w", path, err)
	}
	return topology, nil
}

// ParseTopologyYAML parses a Topology from YAML bytes and validates it
func ParseTopologyYAML(data []byte) (*Topology, error) {
	var topology Topology
	if err := yaml.Unmarshal(data, &topology); err != nil {
		return nil, fmt.Errorf("failed to parse topology yaml: %w", err)
	}
	if topology.Size == 0 {
		topology.Size = len(topology.Nodes)
	}
	if err := validateTopology(&topology); err != nil {
		return nil, fmt.Errorf("invalid topology: %w", err)
	}
	return &topology, nil
}

// ToYAML renders the topology in the format read by ParseTopologyYAML
func (t *Topology) ToYAML() ([]byte, error) {
	return yaml.Marshal(t)
}

// SaveTopology writes a topology file
func SaveTopology(path string, t *Topology) error {
	if err := validateTopology(t); err != nil {
		return fmt.Errorf("invalid topology: %w", err)
	}
	data, err := t.ToYAML()
	if err != nil {
		return fmt.Errorf("failed to encode topology: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write topology file %s: %w", path, err)
	}
	return nil
}

// validateTopology checks node ordering and per-node weight lists
func validateTopology(t *Topology) error {
	if len(t.Nodes) == 0 {
		return fmt.Errorf("topology must have at least one node")
	}
	if t.Size < len(t.Nodes) {
		return fmt.Errorf("size %d is smaller than the number of nodes %d", t.Size, len(t.Nodes))
	}
	for i, node := range t.Nodes {
		if node.ID != i+1 {
			return fmt.Errorf("node %d: expected id %d, nodes must be numbered 1..n in order", i, i+1)
		}
		if len(node.Weights) > 0 && len(node.Weights) != len(node.ConnectedTo) {
			return fmt.Errorf("node %d: %d weights for %d connections", node.ID, len(node.Weights), len(node.ConnectedTo))
		}
	}
	return nil
}
