package audit

import (
	"context"
	"testing"
	"time"
)

func TestInMemoryRoundtrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewInMemory(4)
	events, err := q.Consume(ctx)
	if err != nil {
		t.Fatalf("Consume() error = %v", err)
	}

	want := Event{ID: "evt-1", Level: LevelInfo, Category: "scan", Message: "qr code scanned"}
	if err := q.Publish(ctx, want); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case got := <-events:
		if got.ID != want.ID || got.Level != want.Level || got.Message != want.Message {
			t.Errorf("got %+v, want %+v", got, want)
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestInMemoryConsumeStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	q := NewInMemory(1)
	events, err := q.Consume(ctx)
	if err != nil {
		t.Fatalf("Consume() error = %v", err)
	}

	cancel()

	select {
	case _, ok := <-events:
		if ok {
			t.Error("received an event after cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("consume channel not closed after cancel")
	}
}

func TestInMemoryPublishRespectsContext(t *testing.T) {
	q := NewInMemory(1)
	ctx := context.Background()

	if err := q.Publish(ctx, Event{ID: "evt-1"}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	// Queue is full and nobody is consuming; publish must give up with the
	// context instead of blocking forever.
	ctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if err := q.Publish(ctx, Event{ID: "evt-2"}); err == nil {
		t.Error("Publish() on a full queue returned nil, want context error")
	}
}

func TestRecorderNilSafe(t *testing.T) {
	ctx := context.Background()

	var r *Recorder
	r.Publish(ctx, LevelInfo, "scan", "message", "")

	NewRecorder(nil).Publish(ctx, LevelInfo, "scan", "message", "")
}

func TestRecorderFillsEventFields(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewInMemory(1)
	events, err := q.Consume(ctx)
	if err != nil {
		t.Fatalf("Consume() error = %v", err)
	}

	NewRecorder(q).Publish(ctx, LevelWarning, "checkin", "session rejected", "session: abc")

	select {
	case got := <-events:
		if got.ID == "" {
			t.Error("event id not generated")
		}
		if got.CreatedAt.IsZero() {
			t.Error("created_at not set")
		}
		if got.Level != LevelWarning || got.Category != "checkin" {
			t.Errorf("got %+v, want warning/checkin", got)
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}
