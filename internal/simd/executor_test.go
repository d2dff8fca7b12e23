package simd

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/GoSim-25-26J-441/burst-adaptation/internal/archive"
	"github.com/GoSim-25-26J-441/burst-adaptation/internal/metrics"
	"github.com/GoSim-25-26J-441/burst-adaptation/pkg/models"
	"github.com/GoSim-25-26J-441/burst-adaptation/pkg/utils"
)

func TestRunExecutorCompletesConvergingRun(t *testing.T) {
	store := NewRunStore()
	executor := NewRunExecutor(store)
	defer shutdownExecutor(t, executor)

	rec, err := store.Create("run-1", testInput(convergingConfigYAML))
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	started, err := executor.Start(rec.Run.ID)
	if err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if started.Run.Status != models.RunStatusRunning {
		t.Fatalf("expected running, got %s", started.Run.Status)
	}

	done := waitForStatus(t, store, "run-1", models.RunStatusCompleted)
	if done.Result == nil || !done.Result.Converged {
		t.Fatalf("expected converged result, got %+v", done.Result)
	}
	if done.Result.Iterations != 1 || done.Result.Weight != 8 {
		t.Fatalf("expected convergence at the initial weight, got %+v", done.Result)
	}
	if len(done.Steps) != 1 {
		t.Fatalf("expected 1 recorded step, got %d", len(done.Steps))
	}
	if done.Run.StartedAtUnixMs == 0 || done.Run.EndedAtUnixMs == 0 {
		t.Fatalf("expected start and end timestamps, got %+v", done.Run)
	}

	collector, ok := store.GetCollector("run-1")
	if !ok {
		t.Fatalf("expected collector")
	}
	if got := collector.Values(metrics.MetricWeight, nil); len(got) != 1 || got[0] != 8 {
		t.Fatalf("expected weight series [8], got %v", got)
	}
}

func TestRunExecutorFailsAtIterationCap(t *testing.T) {
	store := NewRunStore()
	executor := NewRunExecutor(store)
	defer shutdownExecutor(t, executor)

	if _, err := store.Create("capped", testInput(cappedConfigYAML)); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if _, err := executor.Start("capped"); err != nil {
		t.Fatalf("Start error: %v", err)
	}

	rec := waitForStatus(t, store, "capped", models.RunStatusFailed)
	if !strings.Contains(rec.Run.Error, "did not converge after 2 iterations") {
		t.Fatalf("unexpected error message: %q", rec.Run.Error)
	}
	if rec.Result == nil || rec.Result.Iterations != 2 || rec.Result.Converged {
		t.Fatalf("expected partial result of 2 iterations, got %+v", rec.Result)
	}
}

func TestRunExecutorFailsOnInvalidInput(t *testing.T) {
	store := NewRunStore()
	executor := NewRunExecutor(store)
	defer shutdownExecutor(t, executor)

	input := RunInput{ConfigYAML: convergingConfigYAML, TopologyYAML: "nodes:\n  - id: 2\n"}
	if _, err := store.Create("bad", input); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if _, err := executor.Start("bad"); err != nil {
		t.Fatalf("Start error: %v", err)
	}

	rec := waitForStatus(t, store, "bad", models.RunStatusFailed)
	if !strings.Contains(rec.Run.Error, "invalid run input") {
		t.Fatalf("unexpected error message: %q", rec.Run.Error)
	}
}

func TestRunExecutorStartErrors(t *testing.T) {
	store := NewRunStore()
	executor := NewRunExecutor(store)
	defer shutdownExecutor(t, executor)

	if _, err := executor.Start(""); !errors.Is(err, ErrRunIDMissing) {
		t.Fatalf("expected ErrRunIDMissing, got %v", err)
	}
	if _, err := executor.Start("missing"); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}

	if _, err := store.Create("done", testInput(convergingConfigYAML)); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if _, err := store.SetStatus("done", models.RunStatusCompleted, ""); err != nil {
		t.Fatalf("SetStatus error: %v", err)
	}
	if _, err := executor.Start("done"); !errors.Is(err, ErrRunTerminal) {
		t.Fatalf("expected ErrRunTerminal, got %v", err)
	}
}

func TestRunExecutorStartTwiceReturnsRunningRun(t *testing.T) {
	store := NewRunStore()
	executor := NewRunExecutor(store)
	defer shutdownExecutor(t, executor)

	if _, err := store.Create("slow", testInput(slowConfigYAML)); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	first, err := executor.Start("slow")
	if err != nil {
		t.Fatalf("Start error: %v", err)
	}
	second, err := executor.Start("slow")
	if err != nil {
		t.Fatalf("second Start error: %v", err)
	}
	if second.Run.Status != models.RunStatusRunning || second.Run.StartedAtUnixMs != first.Run.StartedAtUnixMs {
		t.Fatalf("expected the same running run, got %+v", second.Run)
	}
}

func TestRunExecutorStopRunningRun(t *testing.T) {
	store := NewRunStore()
	executor := NewRunExecutor(store)

	if _, err := store.Create("slow", testInput(slowConfigYAML)); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if _, err := executor.Start("slow"); err != nil {
		t.Fatalf("Start error: %v", err)
	}

	stopped, err := executor.Stop("slow")
	if err != nil {
		t.Fatalf("Stop error: %v", err)
	}
	if stopped.Run.Status != models.RunStatusCancelled {
		t.Fatalf("expected cancelled, got %s", stopped.Run.Status)
	}

	shutdownExecutor(t, executor)
	rec, _ := store.Get("slow")
	if rec.Run.Status != models.RunStatusCancelled {
		t.Fatalf("expected run to stay cancelled, got %s", rec.Run.Status)
	}
	if rec.Result == nil || rec.Result.Converged {
		t.Fatalf("expected an unconverged partial result, got %+v", rec.Result)
	}

	if _, err := executor.Stop("slow"); !errors.Is(err, ErrRunTerminal) {
		t.Fatalf("expected ErrRunTerminal on second stop, got %v", err)
	}
}

func TestRunExecutorStopErrors(t *testing.T) {
	executor := NewRunExecutor(NewRunStore())
	if _, err := executor.Stop(""); !errors.Is(err, ErrRunIDMissing) {
		t.Fatalf("expected ErrRunIDMissing, got %v", err)
	}
	if _, err := executor.Stop("missing"); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
}

func TestRunExecutorArchivesTerminalRuns(t *testing.T) {
	db, err := archive.Open(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	defer db.Close()

	store := NewRunStore()
	executor := NewRunExecutor(store).WithArchive(db)

	if _, err := store.Create("done", testInput(convergingConfigYAML)); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if _, err := store.Create("never-started", testInput(convergingConfigYAML)); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if _, err := executor.Start("done"); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	waitForStatus(t, store, "done", models.RunStatusCompleted)
	if _, err := executor.Stop("never-started"); err != nil {
		t.Fatalf("Stop error: %v", err)
	}
	shutdownExecutor(t, executor)

	got, err := db.GetRun(context.Background(), "done")
	if err != nil {
		t.Fatalf("GetRun error: %v", err)
	}
	if got.Run.Status != models.RunStatusCompleted || got.Result == nil || !got.Result.Converged {
		t.Fatalf("unexpected archived run: %+v", got)
	}
	if got.ConfigYAML != convergingConfigYAML {
		t.Fatalf("expected config to be archived")
	}

	got, err = db.GetRun(context.Background(), "never-started")
	if err != nil {
		t.Fatalf("GetRun error: %v", err)
	}
	if got.Run.Status != models.RunStatusCancelled || got.Result != nil {
		t.Fatalf("unexpected archived cancelled run: %+v", got)
	}
}

func TestRunExecutorNotifiesCallback(t *testing.T) {
	payloads := make(chan NotificationPayload, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p NotificationPayload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		if r.URL.Path != "/hooks/notified" {
			t.Errorf("expected run id substituted in path, got %s", r.URL.Path)
		}
		payloads <- p
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	notifier := NewNotifier()
	notifier.backoff = utils.NewExponentialBackoff(0, 0, 2, false)
	store := NewRunStore()
	executor := NewRunExecutor(store).WithNotifier(notifier)

	input := testInput(convergingConfigYAML)
	input.CallbackURL = srv.URL + "/hooks/{run_id}"
	if _, err := store.Create("notified", input); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if _, err := executor.Start("notified"); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	// shutting down earlier would cancel the run before it converges
	waitForStatus(t, store, "notified", models.RunStatusCompleted)
	shutdownExecutor(t, executor)

	select {
	case p := <-payloads:
		if p.Run.ID != "notified" || p.Run.Status != models.RunStatusCompleted {
			t.Fatalf("unexpected payload run: %+v", p.Run)
		}
		if p.Result == nil || !p.Result.Converged {
			t.Fatalf("expected converged result in payload")
		}
	default:
		t.Fatalf("expected a notification")
	}
}

func TestValidateInput(t *testing.T) {
	tests := []struct {
		name    string
		input   RunInput
		wantErr bool
	}{
		{"defaults with topology", RunInput{TopologyYAML: testTopologyYAML}, false},
		{"custom config", testInput(convergingConfigYAML), false},
		{"missing topology", RunInput{ConfigYAML: convergingConfigYAML}, true},
		{"bad config", RunInput{ConfigYAML: "adaptation:\n  max_iterations: 0\n", TopologyYAML: testTopologyYAML}, true},
		{"bad subset", RunInput{ConfigYAML: "network:\n  subset: 7\n", TopologyYAML: testTopologyYAML}, true},
		{"metadata callback", RunInput{TopologyYAML: testTopologyYAML, CallbackURL: "http://169.254.169.254/x"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateInput(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateInput() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}
