package flow

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/tidehq/tide/logger"
	"github.com/tidehq/tide/model"
	"github.com/tidehq/tide/persistence"
	"github.com/tidehq/tide/util"
	"go.uber.org/zap"
)

// Tracker is the escalation state machine: it maps a logical escalation key
// to at most one open external task. Transitions:
//
//	none     -> open      create external task
//	open     -> open      update the existing task, never create another
//	open     -> resolved  condition cleared or task externally done
//	resolved -> open      condition recurred, new task; the closed record
//	                      is archived as superseded, never reused
type Tracker struct {
	storage persistence.Storage

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewTracker(storage persistence.Storage) *Tracker {
	return &Tracker{
		storage: storage,
		locks:   make(map[string]*sync.Mutex),
	}
}

// keyLock serializes escalation calls per key so that concurrent triggers
// for the same condition produce exactly one task creation.
func (t *Tracker) keyLock(key string) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	lock, ok := t.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		t.locks[key] = lock
	}
	return lock
}

func archiveKey(key string, taskId string) string {
	return key + "#" + taskId
}

func detailsHash(details model.EscalationDetails) string {
	fields, _ := json.Marshal(details.Fields)
	return util.ContentHash(details.Title, details.Description, string(fields))
}

// Escalate performs the none->open, open->open or resolved->open transition
// for the key and returns the external task id.
func (t *Tracker) Escalate(ctx context.Context, escalator Escalator, key string, details model.EscalationDetails) (string, error) {
	lock := t.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	record, err := t.storage.GetEscalation(ctx, key)
	if err != nil {
		return "", err
	}
	hash := detailsHash(details)

	if record != nil && record.Status == model.ESCALATION_OPEN {
		if record.DetailsHash == hash {
			// nothing changed since the last escalation
			logger.Debug("escalation unchanged", zap.String("key", key), zap.String("taskId", record.TaskId))
			return record.TaskId, nil
		}
		taskId, err := escalator.Upsert(ctx, key, record.TaskId, details)
		if err != nil {
			return "", err
		}
		record.TaskId = taskId
		record.DetailsHash = hash
		record.UpdatedAt = time.Now()
		record.Count++
		if err := t.storage.SaveEscalation(ctx, *record); err != nil {
			return "", err
		}
		logger.Info("updated open escalation", zap.String("key", key), zap.String("taskId", taskId), zap.Int("count", record.Count))
		return taskId, nil
	}

	// no record, or the previous one is resolved: a new task is created
	if record != nil {
		// the closed record moves to a versioned key so the audit trail
		// of prior tasks for this condition survives
		archived := *record
		archived.Key = archiveKey(key, record.TaskId)
		archived.Status = model.ESCALATION_SUPERSEDED
		archived.UpdatedAt = time.Now()
		if err := t.storage.SaveEscalation(ctx, archived); err != nil {
			return "", err
		}
	}
	taskId, err := escalator.Upsert(ctx, key, "", details)
	if err != nil {
		return "", err
	}
	newRecord := model.EscalationRecord{
		Key:         key,
		TaskId:      taskId,
		Status:      model.ESCALATION_OPEN,
		DetailsHash: hash,
		UpdatedAt:   time.Now(),
		Count:       1,
	}
	if err := t.storage.SaveEscalation(ctx, newRecord); err != nil {
		return "", err
	}
	logger.Info("opened escalation", zap.String("key", key), zap.String("taskId", taskId))
	return taskId, nil
}

// Resolve marks an open escalation resolved after its condition cleared.
// Resolving a missing or already resolved key is a no-op.
func (t *Tracker) Resolve(ctx context.Context, key string) error {
	lock := t.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	record, err := t.storage.GetEscalation(ctx, key)
	if err != nil {
		return err
	}
	if record == nil || record.Status != model.ESCALATION_OPEN {
		return nil
	}
	record.Status = model.ESCALATION_RESOLVED
	record.UpdatedAt = time.Now()
	if err := t.storage.SaveEscalation(ctx, *record); err != nil {
		return err
	}
	logger.Info("resolved escalation", zap.String("key", key), zap.String("taskId", record.TaskId))
	return nil
}

// SyncResolved checks whether the external task behind an open escalation
// was marked done by a human and, if so, resolves the record.
func (t *Tracker) SyncResolved(ctx context.Context, escalator Escalator, key string) error {
	lock := t.keyLock(key)
	lock.Lock()

	record, err := t.storage.GetEscalation(ctx, key)
	if err != nil || record == nil || record.Status != model.ESCALATION_OPEN {
		lock.Unlock()
		return err
	}
	taskId := record.TaskId
	lock.Unlock()

	done, err := escalator.IsResolved(ctx, taskId)
	if err != nil {
		return err
	}
	if !done {
		return nil
	}
	return t.Resolve(ctx, key)
}
