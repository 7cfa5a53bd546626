// Package testlab simulates test-suite executions for the testing
// dashboard. A run walks the suite's cases on a clock, publishes
// test_update events through the broadcast hub, and retains the most
// recent result per suite in memory.
package testlab

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

// Publisher is the hub-facing side of the runner.
type Publisher interface {
	BroadcastTestUpdate(testSuiteID string, data map[string]any)
}

// CaseStatus is the outcome of one executed case.
type CaseStatus string

const (
	CasePassed CaseStatus = "passed"
	CaseFailed CaseStatus = "failed"
)

// CaseResult records one executed case.
type CaseResult struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	Status   CaseStatus `json:"status"`
	Duration int        `json:"durationMs"`
}

// SuiteResult is a snapshot of one suite execution.
type SuiteResult struct {
	RunID      string       `json:"runId"`
	SuiteID    string       `json:"suiteId"`
	Status     string       `json:"status"` // running, passed, failed
	Passed     int          `json:"passed"`
	Failed     int          `json:"failed"`
	Total      int          `json:"total"`
	Cases      []CaseResult `json:"cases"`
	StartedAt  time.Time    `json:"startedAt"`
	FinishedAt *time.Time   `json:"finishedAt,omitempty"`
}

// Runner executes suites and keeps the latest result per suite.
type Runner struct {
	clock     clockwork.Clock
	publisher Publisher
	catalog   *content.Catalog

	mu      sync.Mutex
	results map[string]*SuiteResult // suite id -> latest run
	running map[string]bool
}

func NewRunner(catalog *content.Catalog, publisher Publisher, clock clockwork.Clock) *Runner {
	return &Runner{
		clock:     clock,
		publisher: publisher,
		catalog:   catalog,
		results:   make(map[string]*SuiteResult),
		running:   make(map[string]bool),
	}
}

// RunSuite starts an execution of the named suite and returns its
// initial snapshot. One execution per suite at a time.
func (r *Runner) RunSuite(suiteID string) (SuiteResult, error) {
	suite := r.catalog.SuiteByID(suiteID)
	if suite == nil {
		return SuiteResult{}, errors.NotFoundError("unknown test suite").WithField("suite_id", suiteID)
	}

	r.mu.Lock()
	if r.running[suiteID] {
		r.mu.Unlock()
		return SuiteResult{}, errors.ConflictError("suite already running").WithField("suite_id", suiteID)
	}
	result := &SuiteResult{
		RunID:     uuid.NewString(),
		SuiteID:   suiteID,
		Status:    "running",
		Total:     len(suite.Cases),
		StartedAt: r.clock.Now(),
	}
	r.results[suiteID] = result
	r.running[suiteID] = true
	snapshot := cloneResult(result)
	r.mu.Unlock()

	r.publisher.BroadcastTestUpdate(suiteID, map[string]any{
		"runId":  result.RunID,
		"status": "started",
		"total":  result.Total,
	})

	go r.execute(suiteID, suite)

	slog.Info("test suite run started", "suite_id", suiteID, "run_id", result.RunID)
	return snapshot, nil
}

// Result returns the latest result for a suite.
func (r *Runner) Result(suiteID string) (SuiteResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	result, ok := r.results[suiteID]
	if !ok {
		return SuiteResult{}, false
	}
	return cloneResult(result), true
}

func (r *Runner) execute(suiteID string, suite *content.TestSuite) {
	for _, tc := range suite.Cases {
		r.clock.Sleep(time.Duration(tc.Duration) * time.Millisecond)

		status := CasePassed
		if tc.Failing {
			status = CaseFailed
		}

		r.mu.Lock()
		result := r.results[suiteID]
		result.Cases = append(result.Cases, CaseResult{
			ID:       tc.ID,
			Name:     tc.Name,
			Status:   status,
			Duration: tc.Duration,
		})
		if status == CasePassed {
			result.Passed++
		} else {
			result.Failed++
		}
		runID, passed, failed := result.RunID, result.Passed, result.Failed
		r.mu.Unlock()

		r.publisher.BroadcastTestUpdate(suiteID, map[string]any{
			"runId":      runID,
			"status":     "case_completed",
			"case":       tc.Name,
			"caseStatus": string(status),
			"passed":     passed,
			"failed":     failed,
			"total":      len(suite.Cases),
		})
	}

	now := r.clock.Now()
	r.mu.Lock()
	result := r.results[suiteID]
	if result.Failed > 0 {
		result.Status = "failed"
	} else {
		result.Status = "passed"
	}
	result.FinishedAt = &now
	finalStatus := result.Status
	runID := result.RunID
	passed, failed := result.Passed, result.Failed
	delete(r.running, suiteID)
	r.mu.Unlock()

	r.publisher.BroadcastTestUpdate(suiteID, map[string]any{
		"runId":  runID,
		"status": finalStatus,
		"passed": passed,
		"failed": failed,
		"total":  len(suite.Cases),
	})
	metrics.TestSuiteRunsTotal.WithLabelValues(finalStatus).Inc()

	slog.Info("test suite run finished", "suite_id", suiteID, "run_id", runID, "result", finalStatus)
}

func cloneResult(result *SuiteResult) SuiteResult {
	out := *result
	out.Cases = make([]CaseResult, len(result.Cases))
	copy(out.Cases, result.Cases)
	return out
}
