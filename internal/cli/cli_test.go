package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoSim-25-26J-441/burst-adaptation/pkg/config"
)

const testTopologyYAML = `
nodes:
  - id: 1
    connectedTo: [2]
  - id: 2
    connectedTo: [1]
`

// without noise nothing fires: the rate is 0 and the first step is within
// 1 Hz of the target
const convergingConfigYAML = `
log_level: error
adaptation:
  target_rate_hz: 0.1
  accuracy_hz: 1
  max_iterations: 5
network:
  noise_rate_hz: 0
simulation:
  adaptation_duration_ms: 100
  final_duration_ms: 200
`

const cappedConfigYAML = `
log_level: error
adaptation:
  target_rate_hz: 0.1
  accuracy_hz: 0
  max_iterations: 2
network:
  noise_rate_hz: 0
simulation:
  adaptation_duration_ms: 100
  final_duration_ms: 200
`

// executeCommand runs the root command with args and returns its stdout
func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return executeCommandContext(t, context.Background(), args...)
}

func executeCommandContext(t *testing.T, ctx context.Context, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	return buf.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "burstadapt", cmd.Use)
	assert.Contains(t, cmd.Long, "BURSTADAPT_SPIKE_TIMES")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"adapt", "estimate", "serve", "batch", "topology"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()
	for flag, def := range map[string]string{"log-level": "info", "log-format": "text", "format": "text"} {
		f := cmd.PersistentFlags().Lookup(flag)
		require.NotNil(t, f, flag)
		assert.Equal(t, def, f.DefValue, flag)
	}
}

func TestInvalidFormat(t *testing.T) {
	_, err := executeCommand(t, "topology", "--size", "3", "--format", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestEnvName(t *testing.T) {
	assert.Equal(t, "BURSTADAPT_SPIKE_TIMES", envName("spike-times"))
	assert.Equal(t, "BURSTADAPT_LOG_LEVEL", envName("log-level"))
}

func TestTopologyCommandStdout(t *testing.T) {
	out, err := executeCommand(t, "topology", "--size", "5", "--p", "1", "--seed", "3")
	require.NoError(t, err)

	topology, err := config.ParseTopologyYAML([]byte(out))
	require.NoError(t, err)
	assert.Equal(t, 5, topology.Size)
	assert.Equal(t, 20, topology.Cons)
	assert.NotEmpty(t, topology.CreatedAt)
}

func TestTopologyCommandFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "topology_test.yaml")
	_, err := executeCommand(t, "topology", "--size", "4", "--p", "0", "--output", path)
	require.NoError(t, err)

	topology, err := config.LoadTopology(path)
	require.NoError(t, err)
	assert.Len(t, topology.Nodes, 4)
	assert.Equal(t, 0, topology.Cons)
}

func TestTopologyCommandRejectsBadArguments(t *testing.T) {
	_, err := executeCommand(t, "topology", "--size", "0")
	assert.Error(t, err)
	_, err = executeCommand(t, "topology", "--p", "1.5")
	assert.Error(t, err)
}

func TestEstimateCommand(t *testing.T) {
	dir := t.TempDir()
	// bins [quiet, burst, quiet, quiet, burst] of 50 ms: intervals [1, 1]
	times := writeFile(t, dir, "times.dat", "75\n75\n225\n225\n250\n")
	indices := writeFile(t, dir, "indices.dat", "0\n1\n0\n1\n0\n")

	out, err := executeCommand(t, "estimate", "--spike-times", times, "--spike-indices", indices, "--size", "4", "--format", "json")
	require.NoError(t, err)

	var got estimateOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.InDelta(t, 20.0, got.RateHz, 1e-9)
	assert.Equal(t, 2, got.Bursts)
	assert.Equal(t, 5, got.Spikes)
	assert.Equal(t, 250.0, got.DurationMs)

	out, err = executeCommand(t, "estimate", "--spike-times", times, "--spike-indices", indices, "--size", "4")
	require.NoError(t, err)
	assert.Contains(t, out, "burst rate:  20.0000 Hz")
}

func TestEstimateCommandFromEnvironment(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("BURSTADAPT_SPIKE_TIMES", writeFile(t, dir, "times.dat", "75\n75\n225\n225\n250\n"))
	t.Setenv("BURSTADAPT_SPIKE_INDICES", writeFile(t, dir, "indices.dat", "0\n1\n0\n1\n0\n"))
	t.Setenv("BURSTADAPT_SIZE", "4")
	t.Setenv("BURSTADAPT_THRESHOLD", "0.5")

	out, err := executeCommand(t, "estimate", "--format", "json")
	require.NoError(t, err)

	var got estimateOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, 0.5, got.ActivityThreshold)
	assert.Equal(t, 0.0, got.RateHz)
}

func TestEstimateCommandDerivesPopulation(t *testing.T) {
	dir := t.TempDir()
	times := writeFile(t, dir, "times.dat", "10\n20\n")
	indices := writeFile(t, dir, "indices.dat", "0\n6\n")

	out, err := executeCommand(t, "estimate", "--spike-times", times, "--spike-indices", indices, "--format", "json")
	require.NoError(t, err)
	var got estimateOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, 7, got.PopulationSize)
}

func TestEstimateCommandErrors(t *testing.T) {
	_, err := executeCommand(t, "estimate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--spike-times is required")

	dir := t.TempDir()
	times := writeFile(t, dir, "times.dat", "10\n5\n")
	indices := writeFile(t, dir, "indices.dat", "0\n1\n")
	_, err = executeCommand(t, "estimate", "--spike-times", times, "--spike-indices", indices, "--size", "2")
	assert.Error(t, err)
}

func TestAdaptCommand(t *testing.T) {
	dir := t.TempDir()
	cfg := writeFile(t, dir, "config.yaml", convergingConfigYAML)
	topology := writeFile(t, dir, "topology.yaml", testTopologyYAML)
	times := filepath.Join(dir, "times.dat")
	indices := filepath.Join(dir, "indices.dat")

	out, err := executeCommand(t, "adapt",
		"--config", cfg,
		"--topology", topology,
		"--spike-times", times,
		"--spike-indices", indices,
		"--format", "json")
	require.NoError(t, err)

	var got adaptOutcome
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.NotNil(t, got.Result)
	assert.True(t, got.Result.Converged)
	assert.Equal(t, 8.0, got.Result.Weight)
	require.NotNil(t, got.Final)
	assert.Equal(t, 200.0, got.Final.DurationMs)
	assert.Equal(t, 2, got.Final.Neurons)
	assert.FileExists(t, times)
	assert.FileExists(t, indices)
}

func TestAdaptCommandRequiresFlags(t *testing.T) {
	_, err := executeCommand(t, "adapt", "--spike-times", "t", "--spike-indices", "i")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--topology is required")
}

func TestAdaptCommandIterationCap(t *testing.T) {
	dir := t.TempDir()
	cfg := writeFile(t, dir, "config.yaml", cappedConfigYAML)
	topology := writeFile(t, dir, "topology.yaml", testTopologyYAML)
	times := filepath.Join(dir, "times.dat")
	indices := filepath.Join(dir, "indices.dat")
	args := []string{"adapt", "--config", cfg, "--topology", topology, "--spike-times", times, "--spike-indices", indices}

	_, err := executeCommand(t, args...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "did not converge after 2 iterations")
	assert.NoFileExists(t, times)

	out, err := executeCommand(t, append(args, "--allow-unconverged")...)
	require.NoError(t, err)
	assert.Contains(t, out, "converged:    false")
	assert.FileExists(t, times)
}

func TestBatchCommand(t *testing.T) {
	dir := t.TempDir()
	topologies := filepath.Join(dir, "topologies")
	require.NoError(t, os.Mkdir(topologies, 0o755))
	writeFile(t, topologies, "topology_a.yaml", testTopologyYAML)
	writeFile(t, topologies, "topology_b.yaml", testTopologyYAML)
	cfg := writeFile(t, dir, "config.yaml", convergingConfigYAML)
	outDir := filepath.Join(dir, "spikes")

	out, err := executeCommand(t, "batch",
		"--topologies", filepath.Join(topologies, "topology_*.yaml"),
		"--config", cfg,
		"--out-dir", outDir,
		"--parallel", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "JOB")

	for _, id := range []string{"a", "b"} {
		assert.FileExists(t, filepath.Join(outDir, "times_"+id+".dat"))
		assert.FileExists(t, filepath.Join(outDir, "indices_"+id+".dat"))

		data, err := os.ReadFile(filepath.Join(outDir, "status_"+id+".txt"))
		require.NoError(t, err)
		var status batchResult
		require.NoError(t, json.Unmarshal(data, &status))
		assert.Equal(t, id, status.Job.ID)
		assert.Empty(t, status.Error)
		require.NotNil(t, status.Outcome)
		assert.True(t, status.Outcome.Result.Converged)
	}
}

func TestBatchCommandReportsFailedJobs(t *testing.T) {
	dir := t.TempDir()
	good := writeFile(t, dir, "topology_good.yaml", testTopologyYAML)
	bad := writeFile(t, dir, "topology_bad.yaml", "nodes:\n  - id: 2\n")
	cfg := writeFile(t, dir, "config.yaml", convergingConfigYAML)
	outDir := filepath.Join(dir, "out")

	out, err := executeCommand(t, "batch", good, bad, "--config", cfg, "--out-dir", outDir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 jobs failed")
	assert.Contains(t, out, "failed:")
	assert.FileExists(t, filepath.Join(outDir, "times_good.dat"))
	assert.FileExists(t, filepath.Join(outDir, "status_bad.txt"))
}

func TestBatchCommandDryRun(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "topology_x.yaml", testTopologyYAML)
	outDir := filepath.Join(dir, "never")

	out, err := executeCommand(t, "batch", "--topologies", filepath.Join(dir, "*.yaml"), "--out-dir", outDir, "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "x: ")
	assert.NoDirExists(t, outDir)
}

func TestPlanBatch(t *testing.T) {
	_, err := planBatch("", nil, "out")
	assert.Error(t, err)

	jobs, err := planBatch("", []string{"b/topology_2.yaml", "a/topology_1.yaml", "a/topology_1.yaml"}, "out")
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "1", jobs[0].ID)
	assert.Equal(t, filepath.Join("out", "times_1.dat"), jobs[0].TimesPath)

	_, err = planBatch("", []string{"a/topology_1.yaml", "b/topology_1.yaml"}, "out")
	assert.Error(t, err)
}

func TestJobID(t *testing.T) {
	assert.Equal(t, "iNet1_Size50_CC01", jobID("topologies/topology_iNet1_Size50_CC01.yaml"))
	assert.Equal(t, "net", jobID("net.yml"))
}

func TestServeCommandShutsDownOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(200*time.Millisecond, cancel)

	_, err := executeCommandContext(t, ctx, "serve",
		"--http-addr", "127.0.0.1:0",
		"--grpc-addr", "127.0.0.1:0",
		"--db", filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
}

func TestServeCommandListenError(t *testing.T) {
	_, err := executeCommand(t, "serve", "--http-addr", "127.0.0.1:0", "--grpc-addr", "not-an-address")
	assert.Error(t, err)
}

func TestEstimateCommandTextGolden(t *testing.T) {
	dir := t.TempDir()
	times := writeFile(t, dir, "times.dat", "75\n75\n225\n225\n250\n")
	indices := writeFile(t, dir, "indices.dat", "0\n1\n0\n1\n0\n")

	out, err := executeCommand(t, "estimate", "--spike-times", times, "--spike-indices", indices, "--size", "4")
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "estimate_text", []byte(out))
}
