package inmem

import (
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/tidehq/tide/model"
	"github.com/tidehq/tide/persistence"
)

type Config struct {
	DedupWindow    time.Duration
	DeliveryWindow time.Duration
}

var _ persistence.Storage = new(inMemStorage)

// inMemStorage backs the "memory" storage type and the test suites. The
// dedup and delivery windows expire through go-cache TTLs, mirroring the
// redis backend's key expiry.
type inMemStorage struct {
	mu          sync.RWMutex
	watermarks  map[string]string
	escalations map[string]model.EscalationRecord
	runs        []model.Run
	handled     *gocache.Cache
	deliveries  *gocache.Cache
}

func NewInMemStorage(conf Config) *inMemStorage {
	dedupWindow := conf.DedupWindow
	if dedupWindow == 0 {
		dedupWindow = gocache.NoExpiration
	}
	deliveryWindow := conf.DeliveryWindow
	if deliveryWindow == 0 {
		deliveryWindow = gocache.NoExpiration
	}
	return &inMemStorage{
		watermarks:  make(map[string]string),
		escalations: make(map[string]model.EscalationRecord),
		handled:     gocache.New(dedupWindow, 10*time.Minute),
		deliveries:  gocache.New(deliveryWindow, 10*time.Minute),
	}
}

func (ms *inMemStorage) GetWatermark(ctx context.Context, workflowName string) (string, bool, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	cursor, ok := ms.watermarks[workflowName]
	return cursor, ok, nil
}

func (ms *inMemStorage) SetWatermark(ctx context.Context, workflowName string, cursor string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.watermarks[workflowName] = cursor
	return nil
}

func (ms *inMemStorage) IsHandled(ctx context.Context, dedupKey string) (bool, error) {
	_, found := ms.handled.Get(dedupKey)
	return found, nil
}

func (ms *inMemStorage) MarkHandled(ctx context.Context, dedupKey string) error {
	ms.handled.Set(dedupKey, time.Now(), gocache.DefaultExpiration)
	return nil
}

func (ms *inMemStorage) RecordDelivery(ctx context.Context, deliveryId string) (bool, error) {
	// Add is atomic under the cache lock, so concurrent redeliveries of the
	// same id see exactly one "not seen" result.
	err := ms.deliveries.Add(deliveryId, time.Now(), gocache.DefaultExpiration)
	return err != nil, nil
}

func (ms *inMemStorage) GetEscalation(ctx context.Context, key string) (*model.EscalationRecord, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	record, ok := ms.escalations[key]
	if !ok {
		return nil, nil
	}
	return &record, nil
}

func (ms *inMemStorage) SaveEscalation(ctx context.Context, record model.EscalationRecord) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.escalations[record.Key] = record
	return nil
}

func (ms *inMemStorage) SaveRun(ctx context.Context, run model.Run) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.runs = append(ms.runs, run)
	return nil
}

func (ms *inMemStorage) ListRuns(ctx context.Context, workflowName string, limit int) ([]model.Run, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	runs := make([]model.Run, 0, limit)
	for i := len(ms.runs) - 1; i >= 0; i-- {
		run := ms.runs[i]
		if workflowName != "" && run.WorkflowName != workflowName {
			continue
		}
		runs = append(runs, run)
		if limit > 0 && len(runs) >= limit {
			break
		}
	}
	return runs, nil
}

func (ms *inMemStorage) PruneRuns(ctx context.Context, keep int) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if len(ms.runs) > keep {
		ms.runs = append([]model.Run(nil), ms.runs[len(ms.runs)-keep:]...)
	}
	return nil
}

func (ms *inMemStorage) Close() error {
	return nil
}
