package memory

import (
	"context"
	"encoding/json"
	"testing"
)

func TestPublishRecordsEncodedEvents(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "pipeline-runs", struct {
		RunID  string `json:"run_id"`
		Status string `json:"status"`
	}{RunID: "run-1", Status: "done"})
	if err != nil || id1 != "memory-1" {
		t.Fatalf("unexpected publish result id=%s err=%v", id1, err)
	}
	id2, err := pub.Publish(context.Background(), "pipeline-runs", map[string]string{"status": "failed"})
	if err != nil || id2 != "memory-2" {
		t.Fatalf("unexpected publish result id=%s err=%v", id2, err)
	}

	events := pub.Events()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Topic != "pipeline-runs" {
		t.Fatalf("topic not recorded: %+v", events[0])
	}

	var decoded map[string]string
	if err := json.Unmarshal(events[0].Data, &decoded); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if decoded["run_id"] != "run-1" || decoded["status"] != "done" {
		t.Fatalf("decoded event = %v", decoded)
	}

	events[0].Topic = "modified"
	if pub.Events()[0].Topic == "modified" {
		t.Fatal("expected Events() to return a copy")
	}
}

func TestPublishRejectsUnencodablePayload(t *testing.T) {
	t.Parallel()

	pub := New()
	if _, err := pub.Publish(context.Background(), "pipeline-runs", make(chan int)); err == nil {
		t.Fatal("expected marshal failure")
	}
	if len(pub.Events()) != 0 {
		t.Fatal("failed publish must not be recorded")
	}
}
