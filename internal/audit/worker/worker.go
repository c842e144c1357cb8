// Package worker drains in-process domain events into the recorder, so
// collaborators that do not need the fail-closed synchronous path can emit
// without blocking on the append protocol.
package worker

import (
	"context"
	"log/slog"

	"custodia/internal/audit/models"
)

// Recorder is the slice of the audit service the worker needs.
type Recorder interface {
	Record(ctx context.Context, event models.Event) (models.Entry, error)
}

// Worker consumes audit events from a channel and appends them. A failed
// append is logged and the stream keeps draining; callers that cannot
// tolerate a dropped record must use Recorder.Record directly and handle the
// error themselves.
type Worker struct {
	recorder Recorder
	inbox    <-chan models.Event
	logger   *slog.Logger
}

func New(recorder Recorder, inbox <-chan models.Event, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{recorder: recorder, inbox: inbox, logger: logger}
}

func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event := <-w.inbox:
			if _, err := w.recorder.Record(ctx, event); err != nil {
				w.logger.ErrorContext(ctx, "background append failed",
					"tenant_id", event.TenantID,
					"event_type", event.EventType,
					"error", err,
				)
			}
		}
	}
}
