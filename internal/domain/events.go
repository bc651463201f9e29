package domain

import (
	"context"
	"time"
)

// Stage is a step in the life of a job.
type Stage string

const (
	StageQueued       Stage = "queued"
	StageConverting   Stage = "converting"
	StageTranscribing Stage = "transcribing"
	StageDone         Stage = "done"
	StageFailed       Stage = "failed"
)

// Event reports the progress of one job of a batch.
type Event struct {
	BatchID string    `json:"batch_id"`
	File    string    `json:"file"`
	Stage   Stage     `json:"stage"`
	Error   string    `json:"error,omitempty"`
	Time    time.Time `json:"time"`
}

// EventBus defines the contract for broadcasting job progress.
// It decouples the runners from the transport that delivers events to clients (Redis, in-process).
type EventBus interface {
	// Publish broadcasts a single event to every subscriber.
	Publish(ctx context.Context, ev Event) error

	// Subscribe returns a channel streaming all events published after the call.
	// The channel is closed once ctx is done.
	Subscribe(ctx context.Context) (<-chan Event, error)

	// Close releases the underlying connection.
	Close() error
}
