package simd

import (
	"errors"
	"testing"

	"github.com/GoSim-25-26J-441/burst-adaptation/pkg/models"
)

func TestRunStoreCreateAndGet(t *testing.T) {
	store := NewRunStore()

	rec, err := store.Create("", RunInput{TopologyYAML: testTopologyYAML})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if rec.Run.ID == "" {
		t.Fatalf("expected generated run id")
	}
	if rec.Run.Status != models.RunStatusPending {
		t.Fatalf("expected status pending, got %v", rec.Run.Status)
	}
	if rec.Run.CreatedAtUnixMs == 0 {
		t.Fatalf("expected created_at_unix_ms to be set")
	}

	got, ok := store.Get(rec.Run.ID)
	if !ok {
		t.Fatalf("expected run to exist")
	}
	if got.Run.ID != rec.Run.ID || got.Input.TopologyYAML != testTopologyYAML {
		t.Fatalf("unexpected record %+v", got)
	}
}

func TestRunStoreCreateDuplicate(t *testing.T) {
	store := NewRunStore()
	if _, err := store.Create("run-1", RunInput{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err := store.Create("run-1", RunInput{})
	if !errors.Is(err, ErrRunExists) {
		t.Fatalf("expected ErrRunExists, got %v", err)
	}
}

func TestRunStoreCreateRejectsReservedCharacters(t *testing.T) {
	store := NewRunStore()
	for _, id := range []string{"a/b", "a:stop"} {
		if _, err := store.Create(id, RunInput{}); !errors.Is(err, ErrInvalidRunID) {
			t.Fatalf("expected ErrInvalidRunID for %q, got %v", id, err)
		}
	}
}

func TestRunStoreSetStatusSetsTimestamps(t *testing.T) {
	store := NewRunStore()
	rec, err := store.Create("run-1", RunInput{})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if rec.Run.StartedAtUnixMs != 0 || rec.Run.EndedAtUnixMs != 0 {
		t.Fatalf("expected timestamps not set initially")
	}

	rec, err = store.SetStatus("run-1", models.RunStatusRunning, "")
	if err != nil {
		t.Fatalf("SetStatus running error: %v", err)
	}
	if rec.Run.StartedAtUnixMs == 0 {
		t.Fatalf("expected started_at_unix_ms set")
	}
	if rec.Run.EndedAtUnixMs != 0 {
		t.Fatalf("did not expect ended_at_unix_ms set for running")
	}

	rec, err = store.SetStatus("run-1", models.RunStatusFailed, "boom")
	if err != nil {
		t.Fatalf("SetStatus failed error: %v", err)
	}
	if rec.Run.EndedAtUnixMs == 0 || rec.Run.Error != "boom" {
		t.Fatalf("expected end time and error, got %+v", rec.Run)
	}

	if _, err := store.SetStatus("missing", models.RunStatusRunning, ""); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
}

func TestRunStoreReturnsCopies(t *testing.T) {
	store := NewRunStore()
	if _, err := store.Create("run-1", RunInput{}); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if err := store.AppendStep("run-1", models.AdaptationStep{Iteration: 1, Weight: 8}); err != nil {
		t.Fatalf("AppendStep error: %v", err)
	}

	rec, _ := store.Get("run-1")
	rec.Run.Status = models.RunStatusCompleted
	rec.Steps[0].Weight = 99

	again, _ := store.Get("run-1")
	if again.Run.Status != models.RunStatusPending || again.Steps[0].Weight != 8 {
		t.Fatalf("store state changed through a returned record: %+v", again)
	}
}

func TestRunStoreTransitions(t *testing.T) {
	store := NewRunStore()
	if _, err := store.Create("run-1", RunInput{}); err != nil {
		t.Fatalf("Create error: %v", err)
	}

	if _, ok := store.finish("run-1", models.RunStatusCompleted, "", nil); ok {
		t.Fatalf("finish must not complete a pending run")
	}

	_, started, err := store.markRunning("run-1")
	if err != nil || !started {
		t.Fatalf("markRunning: started=%v err=%v", started, err)
	}
	_, started, err = store.markRunning("run-1")
	if err != nil || started {
		t.Fatalf("second markRunning: started=%v err=%v", started, err)
	}

	rec, previous, err := store.cancelActive("run-1")
	if err != nil {
		t.Fatalf("cancelActive error: %v", err)
	}
	if previous != models.RunStatusRunning || rec.Run.Status != models.RunStatusCancelled {
		t.Fatalf("unexpected cancel transition %s -> %s", previous, rec.Run.Status)
	}

	if _, ok := store.finish("run-1", models.RunStatusCompleted, "", nil); ok {
		t.Fatalf("finish must not override a cancelled run")
	}
	if _, _, err := store.cancelActive("run-1"); !errors.Is(err, ErrRunTerminal) {
		t.Fatalf("expected ErrRunTerminal, got %v", err)
	}
	if _, _, err := store.markRunning("run-1"); !errors.Is(err, ErrRunTerminal) {
		t.Fatalf("expected ErrRunTerminal, got %v", err)
	}
}

func TestRunStoreListFiltered(t *testing.T) {
	store := NewRunStore()
	for _, id := range []string{"a", "b", "c", "d"} {
		if _, err := store.Create(id, RunInput{}); err != nil {
			t.Fatalf("Create error: %v", err)
		}
	}
	if _, err := store.SetStatus("b", models.RunStatusRunning, ""); err != nil {
		t.Fatalf("SetStatus error: %v", err)
	}

	if got := store.List(0); len(got) != 4 {
		t.Fatalf("expected 4 runs, got %d", len(got))
	}
	if got := store.List(2); len(got) != 2 {
		t.Fatalf("expected 2 runs with limit, got %d", len(got))
	}
	if got := store.ListFiltered(10, 3, ""); len(got) != 1 {
		t.Fatalf("expected 1 run after offset 3, got %d", len(got))
	}
	if got := store.ListFiltered(10, 10, ""); len(got) != 0 {
		t.Fatalf("expected no runs past the end, got %d", len(got))
	}

	running := store.ListFiltered(10, 0, models.RunStatusRunning)
	if len(running) != 1 || running[0].Run.ID != "b" {
		t.Fatalf("expected only run b, got %+v", running)
	}
}

func TestRunStoreCollector(t *testing.T) {
	store := NewRunStore()
	if err := store.SetCollector("missing", nil); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
	if _, ok := store.GetCollector("missing"); ok {
		t.Fatalf("expected no collector")
	}
}
