package simd

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/GoSim-25-26J-441/burst-adaptation/internal/metrics"
	"github.com/GoSim-25-26J-441/burst-adaptation/pkg/models"
)

var (
	ErrRunExists    = errors.New("run already exists")
	ErrInvalidRunID = errors.New("run id cannot contain '/' or ':'")
)

// RunInput is what a client submits to start an adaptation run
type RunInput struct {
	// ConfigYAML overrides the default configuration; empty means defaults
	ConfigYAML   string `json:"config_yaml,omitempty"`
	TopologyYAML string `json:"topology_yaml"`
	// CallbackURL receives a POST when the run reaches a terminal status.
	// "{run_id}" in the URL is replaced by the run id.
	CallbackURL    string `json:"callback_url,omitempty"`
	CallbackSecret string `json:"callback_secret,omitempty"`
}

// RunRecord is a snapshot of a run held by the store
type RunRecord struct {
	Run    models.Run
	Input  RunInput
	Steps  []models.AdaptationStep
	Result *models.AdaptationResult
}

func (r *RunRecord) clone() *RunRecord {
	out := *r
	out.Steps = append([]models.AdaptationStep(nil), r.Steps...)
	if r.Result != nil {
		res := *r.Result
		res.Steps = append([]models.AdaptationStep(nil), r.Result.Steps...)
		out.Result = &res
	}
	return &out
}

// RunStore keeps run state in memory. Every accessor returns a copy.
type RunStore struct {
	mu         sync.RWMutex
	runs       map[string]*RunRecord
	collectors map[string]*metrics.Collector
}

func NewRunStore() *RunStore {
	return &RunStore{
		runs:       make(map[string]*RunRecord),
		collectors: make(map[string]*metrics.Collector),
	}
}

func nowUnixMs() int64 {
	return time.Now().UTC().UnixMilli()
}

// Create registers a pending run. An empty runID gets a generated UUID.
func (s *RunStore) Create(runID string, input RunInput) (*RunRecord, error) {
	if strings.ContainsAny(runID, "/:") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRunID, runID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if runID == "" {
		runID = uuid.NewString()
	}
	if _, exists := s.runs[runID]; exists {
		return nil, fmt.Errorf("%w: %s", ErrRunExists, runID)
	}

	rec := &RunRecord{
		Run: models.Run{
			ID:              runID,
			Status:          models.RunStatusPending,
			CreatedAtUnixMs: nowUnixMs(),
		},
		Input: input,
	}
	s.runs[runID] = rec
	return rec.clone(), nil
}

func (s *RunStore) Get(runID string) (*RunRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.runs[runID]
	if !ok {
		return nil, false
	}
	return rec.clone(), true
}

// List returns up to limit runs, newest first
func (s *RunStore) List(limit int) []*RunRecord {
	return s.ListFiltered(limit, 0, "")
}

// ListFiltered pages through runs newest first. An empty status matches all.
func (s *RunStore) ListFiltered(limit, offset int, status models.RunStatus) []*RunRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	matched := make([]*RunRecord, 0, len(s.runs))
	for _, rec := range s.runs {
		if status != "" && rec.Run.Status != status {
			continue
		}
		matched = append(matched, rec)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Run.CreatedAtUnixMs != matched[j].Run.CreatedAtUnixMs {
			return matched[i].Run.CreatedAtUnixMs > matched[j].Run.CreatedAtUnixMs
		}
		return matched[i].Run.ID < matched[j].Run.ID
	})

	if offset >= len(matched) {
		return []*RunRecord{}
	}
	matched = matched[offset:minInt(offset+limit, len(matched))]
	out := make([]*RunRecord, len(matched))
	for i, rec := range matched {
		out[i] = rec.clone()
	}
	return out
}

// SetStatus moves a run to status and stamps start and end times
func (s *RunStore) SetStatus(runID string, status models.RunStatus, errMsg string) (*RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.runs[runID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}

	rec.Run.Status = status
	if errMsg != "" {
		rec.Run.Error = errMsg
	}

	switch {
	case status == models.RunStatusRunning:
		if rec.Run.StartedAtUnixMs == 0 {
			rec.Run.StartedAtUnixMs = nowUnixMs()
		}
	case status.IsTerminal():
		rec.Run.EndedAtUnixMs = nowUnixMs()
	}
	return rec.clone(), nil
}

// markRunning moves a pending run to running. started is false when the run
// was already running.
func (s *RunStore) markRunning(runID string) (rec *RunRecord, started bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.runs[runID]
	if !ok {
		return nil, false, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	switch {
	case r.Run.Status == models.RunStatusRunning:
		return r.clone(), false, nil
	case r.Run.Status.IsTerminal():
		return nil, false, fmt.Errorf("%w: %s", ErrRunTerminal, runID)
	}
	r.Run.Status = models.RunStatusRunning
	r.Run.StartedAtUnixMs = nowUnixMs()
	return r.clone(), true, nil
}

// cancelActive marks a pending or running run cancelled and returns the
// status it had before
func (s *RunStore) cancelActive(runID string) (*RunRecord, models.RunStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.runs[runID]
	if !ok {
		return nil, "", fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	previous := r.Run.Status
	if previous.IsTerminal() {
		return nil, previous, fmt.Errorf("%w: %s", ErrRunTerminal, runID)
	}
	r.Run.Status = models.RunStatusCancelled
	r.Run.EndedAtUnixMs = nowUnixMs()
	return r.clone(), previous, nil
}

// finish moves a running run to a terminal status. It reports false and
// leaves the run untouched when the run already left the running state.
func (s *RunStore) finish(runID string, status models.RunStatus, errMsg string, result *models.AdaptationResult) (*RunRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.runs[runID]
	if !ok || rec.Run.Status != models.RunStatusRunning {
		return nil, false
	}
	rec.Run.Status = status
	rec.Run.Error = errMsg
	rec.Run.EndedAtUnixMs = nowUnixMs()
	rec.Result = result
	return rec.clone(), true
}

// AppendStep records live progress of a running adaptation
func (s *RunStore) AppendStep(runID string, step models.AdaptationStep) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	rec.Steps = append(rec.Steps, step)
	return nil
}

func (s *RunStore) SetResult(runID string, result *models.AdaptationResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	rec.Result = result
	return nil
}

func (s *RunStore) SetCollector(runID string, collector *metrics.Collector) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[runID]; !ok {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	s.collectors[runID] = collector
	return nil
}

func (s *RunStore) GetCollector(runID string) (*metrics.Collector, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collectors[runID]
	return c, ok
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
