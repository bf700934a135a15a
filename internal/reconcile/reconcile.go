// Package reconcile journals backend resources left behind or lost by
// multi-step operations that failed part way, so an operator can repair them.
package reconcile

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jun/gophdav/internal/adapter"
	"github.com/jun/gophdav/internal/logger"
)

// Orphan is a backend resource a request left behind, or deleted for an
// overwrite it then failed to complete.
type Orphan struct {
	ID          string           `dynamodbav:"id"`
	Resource    adapter.Identity `dynamodbav:"resource"`
	Name        string           `dynamodbav:"name"`
	Operation   string           `dynamodbav:"operation"`
	Step        string           `dynamodbav:"step"`
	Source      string           `dynamodbav:"source"`
	Destination string           `dynamodbav:"destination"`
	Reason      string           `dynamodbav:"reason"`
	RecordedAt  time.Time        `dynamodbav:"recorded_at"`
	ExpiresAt   int64            `dynamodbav:"expires_at,omitempty"`
}

// Recorder persists orphans.
type Recorder interface {
	Record(ctx context.Context, o Orphan) error
}

// stamp fills the journal id and time when unset.
func stamp(o *Orphan) {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.RecordedAt.IsZero() {
		o.RecordedAt = time.Now().UTC()
	}
}

// LogRecorder writes orphans to the error log only.
type LogRecorder struct{}

func (LogRecorder) Record(_ context.Context, o Orphan) error {
	stamp(&o)
	logger.Error("orphaned backend resource",
		"journal_id", o.ID,
		"workspace_id", o.Resource.WorkspaceID,
		"file_id", o.Resource.FileID,
		"name", o.Name,
		"operation", o.Operation,
		"step", o.Step,
		"source", o.Source,
		"destination", o.Destination,
		"reason", o.Reason,
	)
	return nil
}
