package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync/atomic"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/GoSim-25-26J-441/burst-adaptation/pkg/config"
	"github.com/GoSim-25-26J-441/burst-adaptation/pkg/logger"
)

// NewBatchCommand creates the batch command
func NewBatchCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch [topology files...]",
		Short: "Run adapt over many topologies in parallel",
		Long: `Run the adapt command for every topology matched by --topologies or
given as arguments. For a topology file topology_<id>.yaml the job writes
times_<id>.dat, indices_<id>.dat and status_<id>.txt to --out-dir.

Jobs are independent: a failing job is reported in its status file and in
the summary, and the others keep running.

Example:
  burstadapt batch --topologies 'topologies/topology_*.yaml' --out-dir spikes --parallel 4`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(cmd, rootOpts, args)
		},
	}

	cmd.Flags().String("topologies", "", "glob of topology files")
	cmd.Flags().String("config", "", "run configuration file shared by every job")
	cmd.Flags().String("out-dir", "spikes", "directory for spike and status files")
	cmd.Flags().Int("parallel", runtime.NumCPU(), "maximum number of concurrent jobs")
	cmd.Flags().Int64("seed", 0, "noise seed; overrides simulation.seed when non-zero")
	cmd.Flags().Bool("allow-unconverged", false, "record the final simulation even if a search hits its iteration cap")
	cmd.Flags().Bool("dry-run", false, "print the planned jobs without running them")

	return cmd
}

// batchJob is one topology of a batch
type batchJob struct {
	ID           string `json:"id"`
	TopologyPath string `json:"topology"`
	TimesPath    string `json:"spike_times"`
	IndicesPath  string `json:"spike_indices"`
	StatusPath   string `json:"status"`
}

type batchResult struct {
	Job     batchJob      `json:"job"`
	Outcome *adaptOutcome `json:"outcome,omitempty"`
	Error   string        `json:"error,omitempty"`
}

// jobID strips the directory, the extension and a "topology_" prefix
func jobID(path string) string {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return strings.TrimPrefix(base, "topology_")
}

func planBatch(pattern string, args []string, outDir string) ([]batchJob, error) {
	paths := append([]string(nil), args...)
	if pattern != "" {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid --topologies pattern: %w", err)
		}
		paths = append(paths, matches...)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no topology files: pass --topologies or file arguments")
	}
	sort.Strings(paths)

	jobs := make([]batchJob, 0, len(paths))
	seen := make(map[string]string, len(paths))
	for _, path := range paths {
		id := jobID(path)
		if prev, ok := seen[id]; ok {
			if prev == path {
				continue
			}
			return nil, fmt.Errorf("topologies %s and %s map to the same job id %q", prev, path, id)
		}
		seen[id] = path
		jobs = append(jobs, batchJob{
			ID:           id,
			TopologyPath: path,
			TimesPath:    filepath.Join(outDir, "times_"+id+".dat"),
			IndicesPath:  filepath.Join(outDir, "indices_"+id+".dat"),
			StatusPath:   filepath.Join(outDir, "status_"+id+".txt"),
		})
	}
	return jobs, nil
}

func runBatch(cmd *cobra.Command, opts *RootOptions, args []string) error {
	outDir := opts.v.GetString("out-dir")
	jobs, err := planBatch(opts.v.GetString("topologies"), args, outDir)
	if err != nil {
		return err
	}
	cfg, err := loadRunConfig(opts.v.GetString("config"), opts.v.GetInt64("seed"))
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if opts.v.GetBool("dry-run") {
		for _, job := range jobs {
			fmt.Fprintf(w, "%s: %s -> %s, %s\n", job.ID, job.TopologyPath, job.TimesPath, job.IndicesPath)
		}
		return nil
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	parallel := opts.v.GetInt("parallel")
	if parallel <= 0 {
		parallel = 1
	}
	allowUnconverged := opts.v.GetBool("allow-unconverged")

	results := make([]batchResult, len(jobs))
	var failed atomic.Int32
	var g errgroup.Group
	g.SetLimit(parallel)
	logger.Info("batch started", "jobs", len(jobs), "parallel", parallel, "out_dir", outDir)

	for i, job := range jobs {
		i, job := i, job
		g.Go(func() error {
			results[i] = runBatchJob(ctx, job, cfg, allowUnconverged)
			if results[i].Error != "" {
				failed.Add(1)
			}
			return writeStatus(job.StatusPath, results[i])
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := printBatch(w, results, opts.jsonOutput()); err != nil {
		return err
	}
	if n := failed.Load(); n > 0 {
		return fmt.Errorf("%d of %d jobs failed", n, len(jobs))
	}
	return nil
}

func runBatchJob(ctx context.Context, job batchJob, cfg *config.Config, allowUnconverged bool) batchResult {
	log := logger.With("job", job.ID)
	res := batchResult{Job: job}

	topology, err := config.LoadTopology(job.TopologyPath)
	if err != nil {
		res.Error = err.Error()
		log.Error("job failed", "error", err)
		return res
	}
	outcome, err := runAdaptJob(ctx, adaptJob{
		Config:           cfg,
		Topology:         topology,
		TimesPath:        job.TimesPath,
		IndicesPath:      job.IndicesPath,
		AllowUnconverged: allowUnconverged,
		Logger:           log,
	})
	res.Outcome = outcome
	if err != nil {
		res.Error = err.Error()
		log.Error("job failed", "error", err)
		return res
	}
	log.Info("job finished", "weight", outcome.Result.Weight, "rate_hz", outcome.Result.RateHz)
	return res
}

func writeStatus(path string, res batchResult) error {
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("encode status of %s: %w", res.Job.ID, err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write status of %s: %w", res.Job.ID, err)
	}
	return nil
}

func printBatch(w io.Writer, results []batchResult, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "JOB\tWEIGHT\tRATE (Hz)\tITERATIONS\tSTATUS")
	for _, r := range results {
		status := "ok"
		if r.Error != "" {
			status = "failed: " + r.Error
		}
		if r.Outcome == nil || r.Outcome.Result == nil {
			fmt.Fprintf(tw, "%s\t-\t-\t-\t%s\n", r.Job.ID, status)
			continue
		}
		res := r.Outcome.Result
		fmt.Fprintf(tw, "%s\t%g\t%.4f\t%d\t%s\n", r.Job.ID, res.Weight, res.RateHz, res.Iterations, status)
	}
	return tw.Flush()
}
