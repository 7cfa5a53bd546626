// Package pipeline simulates ELT demo-pipeline runs in memory. A run
// walks the steps declared in the content catalog on a clock and
// publishes pipeline_update events through the broadcast hub as it
// progresses. Nothing is persisted; run state lives for the life of the
// process.
package pipeline

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/jelf-alter/personal-site/internal/content"
	"github.com/jelf-alter/personal-site/internal/errors"
	"github.com/jelf-alter/personal-site/internal/metrics"
)

// Publisher is the hub-facing side of the simulator.
type Publisher interface {
	BroadcastPipelineUpdate(pipelineID string, data map[string]any)
}

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	StatusQueued    RunStatus = "queued"
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
)

// StepResult records one finished step of a run.
type StepResult struct {
	Name    string `json:"name"`
	Kind    string `json:"kind"`
	Records int    `json:"records"`
}

// Run is a snapshot of one pipeline execution.
type Run struct {
	ID          string       `json:"runId"`
	PipelineID  string       `json:"pipelineId"`
	Status      RunStatus    `json:"status"`
	CurrentStep string       `json:"currentStep,omitempty"`
	Progress    int          `json:"progress"`
	Steps       []StepResult `json:"steps"`
	StartedAt   time.Time    `json:"startedAt"`
	FinishedAt  *time.Time   `json:"finishedAt,omitempty"`
}

// Simulator starts and tracks demo pipeline runs.
type Simulator struct {
	clock     clockwork.Clock
	publisher Publisher
	catalog   *content.Catalog

	mu     sync.Mutex
	runs   map[string]*Run
	active map[string]string // pipeline id -> active run id
}

func NewSimulator(catalog *content.Catalog, publisher Publisher, clock clockwork.Clock) *Simulator {
	return &Simulator{
		clock:     clock,
		publisher: publisher,
		catalog:   catalog,
		runs:      make(map[string]*Run),
		active:    make(map[string]string),
	}
}

// StartRun begins a new run of the named pipeline and returns its
// initial snapshot. A pipeline can have one run in flight at a time.
func (s *Simulator) StartRun(pipelineID string) (Run, error) {
	demo := s.catalog.DemoByID(pipelineID)
	if demo == nil || demo.Pipeline == nil {
		return Run{}, errors.NotFoundError("unknown pipeline").WithField("pipeline_id", pipelineID)
	}

	s.mu.Lock()
	if runID, busy := s.active[pipelineID]; busy {
		s.mu.Unlock()
		return Run{}, errors.ConflictError("pipeline already running").
			WithField("pipeline_id", pipelineID).
			WithField("run_id", runID)
	}

	run := &Run{
		ID:         uuid.NewString(),
		PipelineID: pipelineID,
		Status:     StatusQueued,
		StartedAt:  s.clock.Now(),
	}
	s.runs[run.ID] = run
	s.active[pipelineID] = run.ID
	snapshot := *run
	s.mu.Unlock()

	s.publisher.BroadcastPipelineUpdate(pipelineID, map[string]any{
		"runId":  run.ID,
		"status": string(StatusQueued),
	})

	go s.execute(run.ID, pipelineID, demo.Pipeline)

	slog.Info("pipeline run started", "pipeline_id", pipelineID, "run_id", run.ID)
	return snapshot, nil
}

// Run returns a snapshot of a run by id.
func (s *Simulator) Run(runID string) (Run, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return Run{}, false
	}
	return cloneRun(run), true
}

func (s *Simulator) execute(runID, pipelineID string, spec *content.PipelineSpec) {
	total := len(spec.Steps)
	for i, step := range spec.Steps {
		s.mu.Lock()
		run := s.runs[runID]
		run.Status = StatusRunning
		run.CurrentStep = step.Name
		s.mu.Unlock()

		s.publisher.BroadcastPipelineUpdate(pipelineID, map[string]any{
			"runId":    runID,
			"status":   string(StatusRunning),
			"step":     step.Name,
			"kind":     step.Kind,
			"progress": i * 100 / total,
		})

		s.clock.Sleep(time.Duration(step.Duration) * time.Millisecond)

		s.mu.Lock()
		run.Progress = (i + 1) * 100 / total
		run.Steps = append(run.Steps, StepResult{Name: step.Name, Kind: step.Kind, Records: step.Records})
		s.mu.Unlock()
	}

	now := s.clock.Now()
	s.mu.Lock()
	run := s.runs[runID]
	run.Status = StatusCompleted
	run.CurrentStep = ""
	run.Progress = 100
	run.FinishedAt = &now
	records := 0
	if n := len(run.Steps); n > 0 {
		records = run.Steps[n-1].Records
	}
	delete(s.active, pipelineID)
	s.mu.Unlock()

	s.publisher.BroadcastPipelineUpdate(pipelineID, map[string]any{
		"runId":    runID,
		"status":   string(StatusCompleted),
		"progress": 100,
		"records":  records,
	})
	metrics.PipelineRunsTotal.WithLabelValues(string(StatusCompleted)).Inc()

	slog.Info("pipeline run completed", "pipeline_id", pipelineID, "run_id", runID)
}

func cloneRun(run *Run) Run {
	out := *run
	out.Steps = make([]StepResult, len(run.Steps))
	copy(out.Steps, run.Steps)
	return out
}
