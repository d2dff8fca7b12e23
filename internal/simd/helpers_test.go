package simd

import (
	"context"
	"testing"
	"time"

	"github.com/GoSim-25-26J-441/burst-adaptation/pkg/models"
)

const testTopologyYAML = `
notes: two neurons wired to each other
nodes:
  - id: 1
    connectedTo: [2]
  - id: 2
    connectedTo: [1]
`

// without noise the network never fires, so the measured rate is 0 and
// a 1 Hz accuracy around 0.1 Hz accepts the first evaluation
const convergingConfigYAML = `
log_level: info
adaptation:
  target_rate_hz: 0.1
  accuracy_hz: 1
  max_iterations: 5
network:
  noise_rate_hz: 0
simulation:
  adaptation_duration_ms: 100
`

const cappedConfigYAML = `
log_level: info
adaptation:
  target_rate_hz: 0.1
  accuracy_hz: 0
  max_iterations: 2
network:
  noise_rate_hz: 0
simulation:
  adaptation_duration_ms: 100
`

// long enough that a test always stops it first
const slowConfigYAML = `
log_level: info
adaptation:
  target_rate_hz: 0.1
  accuracy_hz: 0
  max_iterations: 100
network:
  noise_rate_hz: 10
simulation:
  adaptation_duration_ms: 1000000000
`

func testInput(configYAML string) RunInput {
	return RunInput{ConfigYAML: configYAML, TopologyYAML: testTopologyYAML}
}

func waitForStatus(t *testing.T, store *RunStore, runID string, want models.RunStatus) *RunRecord {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		rec, ok := store.Get(runID)
		if !ok {
			t.Fatalf("run %s disappeared", runID)
		}
		if rec.Run.Status == want {
			return rec
		}
		time.Sleep(10 * time.Millisecond)
	}
	rec, _ := store.Get(runID)
	t.Fatalf("run %s did not reach %s, last status %s", runID, want, rec.Run.Status)
	return nil
}

func shutdownExecutor(t *testing.T, e *RunExecutor) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}
