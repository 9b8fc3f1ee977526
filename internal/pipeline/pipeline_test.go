package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/addisanalytics/medtel-warehouse/internal/publisher/memory"
)

type fakeClock struct{}

func (fakeClock) Now() time.Time { return time.Now().UTC() }

type fakeIDs struct{ id string }

func (f fakeIDs) NewID() string { return f.id }

type recordingStage struct {
	name  string
	err   error
	calls *[]string
	block chan struct{}
}

func (s *recordingStage) Name() string { return s.name }

func (s *recordingStage) Execute(context.Context) error {
	if s.calls != nil {
		*s.calls = append(*s.calls, s.name)
	}
	if s.block != nil {
		<-s.block
	}
	return s.err
}

func TestRunExecutesStagesInOrder(t *testing.T) {
	t.Parallel()

	var calls []string
	pub := memory.New()
	runner := NewRunner([]Stage{
		&recordingStage{name: "scrape", calls: &calls},
		&recordingStage{name: "load", calls: &calls},
		&recordingStage{name: "transform", calls: &calls},
		&recordingStage{name: "enrich", calls: &calls},
	}, nil, fakeClock{}, fakeIDs{id: "run-1"}, pub, "runs")

	if err := runner.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := []string{"scrape", "load", "transform", "enrich"}
	if len(calls) != len(want) {
		t.Fatalf("calls = %v, want %v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Fatalf("calls = %v, want %v", calls, want)
		}
	}

	snap := runner.Snapshot()
	if snap.Status != StatusDone {
		t.Fatalf("status = %s, want done", snap.Status)
	}
	if snap.RunID != "run-1" {
		t.Fatalf("run id = %s", snap.RunID)
	}
	if snap.FinishedAt == nil {
		t.Fatal("finished timestamp missing")
	}

	events := pub.Events()
	if len(events) != 1 {
		t.Fatalf("expected one published event, got %d", len(events))
	}
	var event RunCompleted
	if err := json.Unmarshal(events[0].Data, &event); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if event.Status != StatusDone || event.RunID != "run-1" {
		t.Fatalf("unexpected event: %+v", event)
	}
}

func TestRunHaltsOnFirstFailure(t *testing.T) {
	t.Parallel()

	var calls []string
	pub := memory.New()
	runner := NewRunner([]Stage{
		&recordingStage{name: "scrape", calls: &calls},
		&recordingStage{name: "load", calls: &calls},
		&recordingStage{name: "transform", calls: &calls, err: errors.New("exit status 1: dbt compilation error")},
		&recordingStage{name: "enrich", calls: &calls},
	}, nil, fakeClock{}, fakeIDs{id: "run-2"}, pub, "runs")

	err := runner.Run(context.Background())
	if err == nil {
		t.Fatal("expected run failure")
	}
	if got := err.Error(); got != "stage transform: exit status 1: dbt compilation error" {
		t.Fatalf("error = %q", got)
	}

	for _, c := range calls {
		if c == "enrich" {
			t.Fatal("enrich must not run after transform fails")
		}
	}

	snap := runner.Snapshot()
	if snap.Status != StatusFailed || snap.FailedStage != "transform" {
		t.Fatalf("snapshot = %+v", snap)
	}

	var event RunCompleted
	if err := json.Unmarshal(pub.Events()[0].Data, &event); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if event.Status != StatusFailed || event.FailedStage != "transform" {
		t.Fatalf("unexpected event: %+v", event)
	}
}

func TestStartRejectsConcurrentRun(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	runner := NewRunner([]Stage{
		&recordingStage{name: "scrape", block: block},
	}, nil, fakeClock{}, fakeIDs{id: "run-3"}, nil, "runs")

	runID, err := runner.Start(context.Background())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if runID != "run-3" {
		t.Fatalf("run id = %s", runID)
	}

	if _, err := runner.Start(context.Background()); !errors.Is(err, ErrRunInProgress) {
		t.Fatalf("second Start() error = %v, want ErrRunInProgress", err)
	}
	if err := runner.Run(context.Background()); !errors.Is(err, ErrRunInProgress) {
		t.Fatalf("Run() during active run error = %v, want ErrRunInProgress", err)
	}

	close(block)

	deadline := time.After(2 * time.Second)
	for runner.Snapshot().Status == StatusRunning {
		select {
		case <-deadline:
			t.Fatal("run did not finish")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if runner.Snapshot().Status != StatusDone {
		t.Fatalf("status = %s", runner.Snapshot().Status)
	}
}

func TestSnapshotIdleBeforeFirstRun(t *testing.T) {
	t.Parallel()

	runner := NewRunner(nil, nil, fakeClock{}, fakeIDs{id: "x"}, nil, "runs")
	if snap := runner.Snapshot(); snap.Status != StatusIdle {
		t.Fatalf("status = %s, want idle", snap.Status)
	}
}
