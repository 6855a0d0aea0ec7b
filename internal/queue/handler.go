// Package queue provides the durable SQL-backed job queue
package queue

import (
	"context"
	"encoding/json"
)

// ProgressFunc reports handler progress as done-out-of-total milestones.
type ProgressFunc func(done, total int)

// Handler processes jobs of a single type. ValidateAndParse gates
// enqueue: payloads it rejects are never written to the queue.
type Handler interface {
	// Type returns the job type this handler owns.
	Type() string

	// ValidateAndParse validates a payload before enqueue and returns
	// the parsed form.
	ValidateAndParse(data json.RawMessage) (any, error)

	// Process executes the job. Returned errors route the job through
	// the queue's retry policy.
	Process(ctx context.Context, jobID string, data json.RawMessage, progress ProgressFunc) error
}

// ErrorHook is implemented by handlers that want a callback after a
// processing failure has been recorded.
type ErrorHook interface {
	OnError(ctx context.Context, jobID string, err error)
}
