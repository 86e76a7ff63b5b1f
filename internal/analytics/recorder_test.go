package analytics

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/mcpay/gateway/internal/catalog"
)

func TestRecordWritesUsageEvent(t *testing.T) {
	repo := catalog.NewMemoryRepository()
	recorder := New(repo, nil)

	recorder.Record(context.Background(), Event{
		ServerID:       "SRV",
		ToolID:         "t1",
		ToolName:       "myTool",
		UserID:         "u1",
		ResponseStatus: 200,
		Elapsed:        1500 * time.Millisecond,
		IPAddress:      "203.0.113.9",
		UserAgent:      "curl/8.0",
		RequestBody:    []byte(`{"jsonrpc":"2.0","method":"tools/call"}`),
		ResponseBody:   []byte(`{"result":"ok"}`),
	})

	events := repo.UsageEvents()
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	e := events[0]
	if e.ToolID != "t1" || e.ServerID != "SRV" || e.UserID != "u1" {
		t.Errorf("event = %+v", e)
	}
	if e.ExecutionTimeMs != 1500 {
		t.Errorf("elapsed = %d ms", e.ExecutionTimeMs)
	}
	if !json.Valid(e.RequestSnapshot) || !json.Valid(e.ResultSnapshot) {
		t.Error("snapshots must be valid JSON")
	}
}

func TestNonJSONResponseIsWrapped(t *testing.T) {
	repo := catalog.NewMemoryRepository()
	recorder := New(repo, nil)

	recorder.Record(context.Background(), Event{
		ServerID:       "SRV",
		ResponseStatus: 502,
		ResponseBody:   []byte("upstream exploded"),
	})

	events := repo.UsageEvents()
	if len(events) != 1 {
		t.Fatal("expected one event")
	}
	var wrapped map[string]string
	if err := json.Unmarshal(events[0].ResultSnapshot, &wrapped); err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if wrapped["response"] != "upstream exploded" {
		t.Errorf("wrapped = %+v", wrapped)
	}
}

func TestStreamingResponseHasNoResultSnapshot(t *testing.T) {
	repo := catalog.NewMemoryRepository()
	recorder := New(repo, nil)

	recorder.Record(context.Background(), Event{
		ServerID:       "SRV",
		ResponseStatus: 200,
		ResponseBody:   nil,
	})

	events := repo.UsageEvents()
	if len(events) != 1 {
		t.Fatal("expected one event")
	}
	if events[0].ResultSnapshot != nil {
		t.Error("streaming responses must not be captured")
	}
}
