// Package metrics provides observability for the entity store and pipeline
package metrics

import (
	"net/http"
	"time"
)

// Metrics provides observability for the entity store and embedding pipeline
type Metrics interface {
	// Entity store metrics
	RecordWrite(operation string, entityType string, duration time.Duration) // create, update, upsert, delete
	RecordRead(operation string, duration time.Duration)                     // get, list, count
	RecordWriteError(operation string, errorType string)

	// Queue metrics
	RecordEnqueue(jobType string)
	RecordJob(status string, duration time.Duration) // completed, failed, retried
	UpdateQueueDepth(depth int)
	RecordStuckReset(count int)

	// Worker metrics
	UpdateActiveWorkers(count int)

	// Embedding metrics
	RecordEmbedding(outcome string, duration time.Duration) // generated, stale, missing, failed
	RecordCacheOperation(operation string)                  // hit, miss, eviction

	// Search metrics
	RecordSearch(duration time.Duration, results int)

	// HTTP handler for Prometheus scraping
	HTTPHandler() http.Handler
}

// NoOpMetrics provides a no-op implementation for testing/disabled monitoring
type NoOpMetrics struct{}

// NewNoOpMetrics creates a new no-op metrics instance
func NewNoOpMetrics() *NoOpMetrics {
	return &NoOpMetrics{}
}

func (n *NoOpMetrics) RecordWrite(operation, entityType string, duration time.Duration) {}
func (n *NoOpMetrics) RecordRead(operation string, duration time.Duration)              {}
func (n *NoOpMetrics) RecordWriteError(operation string, errorType string)              {}
func (n *NoOpMetrics) RecordEnqueue(jobType string)                                     {}
func (n *NoOpMetrics) RecordJob(status string, duration time.Duration)                  {}
func (n *NoOpMetrics) UpdateQueueDepth(depth int)                                       {}
func (n *NoOpMetrics) RecordStuckReset(count int)                                       {}
func (n *NoOpMetrics) UpdateActiveWorkers(count int)                                    {}
func (n *NoOpMetrics) RecordEmbedding(outcome string, duration time.Duration)           {}
func (n *NoOpMetrics) RecordCacheOperation(operation string)                            {}
func (n *NoOpMetrics) RecordSearch(duration time.Duration, results int)                 {}

// HTTPHandler returns a no-op handler
func (n *NoOpMetrics) HTTPHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("# NoOp metrics - monitoring disabled\n"))
	})
}
