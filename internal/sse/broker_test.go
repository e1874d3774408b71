package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/starford/kodebase/internal/artifact"
	"github.com/starford/kodebase/internal/cascade"
)

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients")
	}
	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}
	b.Unsubscribe(ch)
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after unsub")
	}
}

func TestPublishDelivery(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.Publish(Event{Type: TypeArtifactCreated, Data: ArtifactChange{ID: "A.1", Path: "A/A.1.yml"}})

	select {
	case msg := <-ch:
		s := string(msg)
		if !strings.Contains(s, "event: artifact.created") {
			t.Errorf("missing event type in %q", s)
		}
		if !strings.Contains(s, `{"id":"A.1","path":"A/A.1.yml"}`) {
			t.Errorf("missing data in %q", s)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func drain(ch chan []byte) []string {
	var out []string
	for {
		select {
		case msg := <-ch:
			out = append(out, string(msg))
		default:
			return out
		}
	}
}

func TestPublishArtifactEvent_GraphThrottle(t *testing.T) {
	b := NewBroker(500 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	// First event should trigger graph.updated.
	b.PublishArtifactEvent("created", "A.1", "A/A.1.yml")
	// Second event immediately should NOT trigger another graph.updated.
	b.PublishArtifactEvent("updated", "A.2", "A/A.2.yml")
	// Unknown kinds are dropped.
	b.PublishArtifactEvent("renamed", "A.3", "A/A.3.yml")

	time.Sleep(50 * time.Millisecond)
	graphCount := 0
	artifactCount := 0
	for _, s := range drain(ch) {
		if strings.Contains(s, "graph.updated") {
			graphCount++
		} else {
			artifactCount++
		}
	}

	if artifactCount != 2 {
		t.Errorf("artifact events = %d, want 2", artifactCount)
	}
	if graphCount != 1 {
		t.Errorf("graph events = %d, want 1 (throttled)", graphCount)
	}
}

func TestPublishCascade(t *testing.T) {
	b := NewBroker(time.Hour)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.PublishCascade(cascade.Result{})
	b.PublishCascade(cascade.Result{
		RunID:            "run-1",
		UpdatedArtifacts: []*artifact.Artifact{{ID: "A.1.2"}},
		Events: []cascade.EventRecord{{
			ArtifactID: "A.1.2", Event: artifact.StateReady,
			Trigger: artifact.TriggerDependenciesMet, Actor: cascade.DefaultActor,
		}},
	})

	time.Sleep(50 * time.Millisecond)
	msgs := drain(ch)
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want cascade.applied + graph.updated: %q", len(msgs), msgs)
	}
	if !strings.Contains(msgs[0], "event: cascade.applied") {
		t.Errorf("first message = %q", msgs[0])
	}
	if !strings.Contains(msgs[0], `"run_id":"run-1","updated":["A.1.2"]`) {
		t.Errorf("payload = %q", msgs[0])
	}
	if !strings.Contains(msgs[0], `"trigger":"dependencies_met"`) {
		t.Errorf("payload missing event record: %q", msgs[0])
	}
}

func TestSSEHandler(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()

	// Start handler in background.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req = req.WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()

	// Give handler time to subscribe.
	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client from handler")
	}

	b.PublishArtifactEvent("updated", "B", "B.yml")
	time.Sleep(50 * time.Millisecond)

	// Cancel context to disconnect.
	cancel()
	<-done

	body := w.Body.String()
	if !strings.Contains(body, "event: artifact.updated") {
		t.Errorf("handler output missing event: %q", body)
	}

	// Client should be cleaned up.
	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 0 {
		t.Errorf("client not cleaned up after disconnect")
	}
}

func TestPublishDropsOnFullBuffer(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	// Fill buffer (capacity 64) and then one more should not block.
	for i := 0; i < 70; i++ {
		b.Publish(Event{Type: "test", Data: map[string]string{"i": "x"}})
	}
	// If we reach here without deadlock, the test passes.
}

func TestCloseClosesSubscribersAndStopsOperations(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}

	b.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected subscriber channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}

	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after close")
	}

	// Should be safe no-op after close.
	b.Publish(Event{Type: TypeArtifactUpdated, Data: ArtifactChange{ID: "B"}})
	b.PublishArtifactEvent("updated", "B", "B.yml")
	b.PublishCascade(cascade.Result{RunID: "r", Events: []cascade.EventRecord{{ArtifactID: "B"}}})
}
