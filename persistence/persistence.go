package persistence

import (
	"context"
	"fmt"

	"github.com/tidehq/tide/model"
)

// StorageLayerError marks any storage I/O failure. The runner treats it as
// transient: the run aborts without mutating further keys and the scheduler
// retries with backoff.
type StorageLayerError struct {
	Message string
}

func (e StorageLayerError) Error() string {
	return fmt.Sprintf("storage layer error %s", e.Message)
}

// Storage is the durable state store behind every workflow: watermarks,
// dedup keys, webhook deliveries, escalation records and run history.
//
// Callers for the same workflow are serialized by the scheduler's overlap
// prevention; each individual operation must still be atomic per key so that
// concurrent workflows and webhook retries never double-process.
type Storage interface {
	GetWatermark(ctx context.Context, workflowName string) (string, bool, error)
	// SetWatermark must only be called after the item at this cursor has
	// been durably handled.
	SetWatermark(ctx context.Context, workflowName string, cursor string) error

	IsHandled(ctx context.Context, dedupKey string) (bool, error)
	MarkHandled(ctx context.Context, dedupKey string) error

	// RecordDelivery atomically records a webhook delivery id and reports
	// whether it had been seen before.
	RecordDelivery(ctx context.Context, deliveryId string) (bool, error)

	// GetEscalation returns nil when no record exists for the key.
	GetEscalation(ctx context.Context, key string) (*model.EscalationRecord, error)
	SaveEscalation(ctx context.Context, record model.EscalationRecord) error

	SaveRun(ctx context.Context, run model.Run) error
	// ListRuns returns runs newest first. An empty workflowName lists runs
	// for all workflows.
	ListRuns(ctx context.Context, workflowName string, limit int) ([]model.Run, error)
	PruneRuns(ctx context.Context, keep int) error

	Close() error
}
