// Package pipeline orchestrates the scrape, load, transform and enrich
// stages as one strictly sequential run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/addisanalytics/medtel-warehouse/internal/metrics"
	"github.com/addisanalytics/medtel-warehouse/internal/publisher"
)

// Stage is one unit of the pipeline. Execute blocks until the stage is
// finished or the context is cancelled.
type Stage interface {
	Name() string
	Execute(ctx context.Context) error
}

// StageFunc adapts a function to the Stage interface.
type StageFunc struct {
	StageName string
	Fn        func(ctx context.Context) error
}

// Name returns the stage name.
func (s StageFunc) Name() string { return s.StageName }

// Execute runs the wrapped function.
func (s StageFunc) Execute(ctx context.Context) error { return s.Fn(ctx) }

// Status is the lifecycle state of a run.
type Status string

// Run lifecycle states.
const (
	StatusIdle    Status = "idle"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// ErrRunInProgress is returned when a run is requested while one is active.
var ErrRunInProgress = errors.New("pipeline run already in progress")

// Snapshot is a point-in-time view of the runner for the status endpoint.
type Snapshot struct {
	RunID        string     `json:"run_id,omitempty"`
	Status       Status     `json:"status"`
	CurrentStage string     `json:"current_stage,omitempty"`
	FailedStage  string     `json:"failed_stage,omitempty"`
	Error        string     `json:"error,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// RunCompleted is the event payload published after every run.
type RunCompleted struct {
	RunID           string  `json:"run_id"`
	Status          Status  `json:"status"`
	FailedStage     string  `json:"failed_stage,omitempty"`
	Error           string  `json:"error,omitempty"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// IDGenerator mints run IDs.
type IDGenerator interface {
	NewID() string
}

// Runner executes the configured stages in order. The first stage error
// fails the run; the remaining stages are skipped. At most one run is
// active at a time.
type Runner struct {
	stages []Stage
	logger *zap.Logger
	clock  Clock
	ids    IDGenerator
	pub    publisher.Publisher
	topic  string

	mu      sync.Mutex
	running bool
	snap    Snapshot
}

// NewRunner builds a Runner over the given stages.
func NewRunner(stages []Stage, logger *zap.Logger, clock Clock, ids IDGenerator, pub publisher.Publisher, topic string) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pub == nil {
		pub = publisher.NoOp{}
	}
	metrics.Init()
	return &Runner{
		stages: stages,
		logger: logger.Named("pipeline"),
		clock:  clock,
		ids:    ids,
		pub:    pub,
		topic:  topic,
		snap:   Snapshot{Status: StatusIdle},
	}
}

// Snapshot returns the current run state.
func (r *Runner) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snap
}

// Start launches a run in the background and returns its ID, or
// ErrRunInProgress when one is already active.
func (r *Runner) Start(ctx context.Context) (string, error) {
	runID, err := r.begin()
	if err != nil {
		return "", err
	}
	go func() {
		_ = r.execute(ctx, runID)
	}()
	return runID, nil
}

// Run executes the pipeline synchronously. It returns ErrRunInProgress when
// another run is active, otherwise the first stage error, if any.
func (r *Runner) Run(ctx context.Context) error {
	runID, err := r.begin()
	if err != nil {
		return err
	}
	return r.execute(ctx, runID)
}

func (r *Runner) begin() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return "", ErrRunInProgress
	}
	runID := r.ids.NewID()
	started := r.clock.Now()
	r.running = true
	r.snap = Snapshot{
		RunID:     runID,
		Status:    StatusRunning,
		StartedAt: &started,
	}
	return runID, nil
}

func (r *Runner) execute(ctx context.Context, runID string) error {
	started := r.clock.Now()
	r.logger.Info("pipeline run started", zap.String("run_id", runID), zap.Int("stages", len(r.stages)))

	var runErr error
	var failedStage string
	for _, stage := range r.stages {
		r.setCurrentStage(stage.Name())
		stageStart := r.clock.Now()
		err := stage.Execute(ctx)
		metrics.ObserveStage(stage.Name(), r.clock.Now().Sub(stageStart), err != nil)
		if err != nil {
			runErr = fmt.Errorf("stage %s: %w", stage.Name(), err)
			failedStage = stage.Name()
			r.logger.Error("stage failed, aborting run",
				zap.String("run_id", runID),
				zap.String("stage", stage.Name()),
				zap.Error(err),
			)
			break
		}
		r.logger.Info("stage completed",
			zap.String("run_id", runID),
			zap.String("stage", stage.Name()),
			zap.Duration("took", r.clock.Now().Sub(stageStart)),
		)
	}

	finished := r.clock.Now()
	status := StatusDone
	if runErr != nil {
		status = StatusFailed
	}
	metrics.ObserveRun(string(status))

	r.mu.Lock()
	r.running = false
	r.snap.Status = status
	r.snap.CurrentStage = ""
	r.snap.FinishedAt = &finished
	if runErr != nil {
		r.snap.FailedStage = failedStage
		r.snap.Error = runErr.Error()
	}
	r.mu.Unlock()

	event := RunCompleted{
		RunID:           runID,
		Status:          status,
		FailedStage:     failedStage,
		DurationSeconds: finished.Sub(started).Seconds(),
	}
	if runErr != nil {
		event.Error = runErr.Error()
	}
	if _, err := r.pub.Publish(ctx, r.topic, event); err != nil {
		r.logger.Warn("publish run-completed event", zap.String("run_id", runID), zap.Error(err))
	}

	r.logger.Info("pipeline run finished",
		zap.String("run_id", runID),
		zap.String("status", string(status)),
		zap.Duration("took", finished.Sub(started)),
	)
	return runErr
}

func (r *Runner) setCurrentStage(name string) {
	r.mu.Lock()
	r.snap.CurrentStage = name
	r.mu.Unlock()
}
