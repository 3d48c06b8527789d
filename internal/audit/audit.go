// Package audit provides the queue-backed audit trail. Handlers and services
// publish events; the worker drains them into the audit_logs table.
package audit

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
)

// Event levels.
const (
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelError   = "error"
)

// Event is a single audit trail entry.
type Event struct {
	ID        string    `json:"id"`
	Level     string    `json:"level"`
	Category  string    `json:"category"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Publisher records audit events.
type Publisher interface {
	Publish(ctx context.Context, level, category, message, details string)
}

// Recorder publishes events to a queue, best-effort. A publish failure is
// logged and never fails the request that produced the event.
type Recorder struct {
	queue Queue
}

// NewRecorder creates a Recorder over the given queue.
func NewRecorder(q Queue) *Recorder {
	return &Recorder{queue: q}
}

// Publish enqueues an audit event.
func (r *Recorder) Publish(ctx context.Context, level, category, message, details string) {
	if r == nil || r.queue == nil {
		return
	}
	evt := Event{
		ID:        uuid.NewString(),
		Level:     level,
		Category:  category,
		Message:   message,
		Details:   details,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.queue.Publish(ctx, evt); err != nil {
		log.Printf("audit publish failed: %v", err)
	}
}
