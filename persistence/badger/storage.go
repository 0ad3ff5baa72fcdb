package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	bd "github.com/dgraph-io/badger/v3"
	"github.com/tidehq/tide/logger"
	"github.com/tidehq/tide/model"
	"github.com/tidehq/tide/persistence"
	"go.uber.org/zap"
)

type Config struct {
	Path           string
	InMemory       bool
	DedupWindow    time.Duration
	DeliveryWindow time.Duration
}

const watermarkPrefix = "wm:"
const dedupPrefix = "dedup:"
const deliveryPrefix = "delivery:"
const escalationPrefix = "esc:"
const runPrefix = "run:"

// conflictRetries bounds optimistic-transaction retries on concurrent
// writes to the same key.
const conflictRetries = 5

var _ persistence.Storage = new(badgerStorage)

type badgerStorage struct {
	db   *bd.DB
	conf Config
}

func NewBadgerStorage(conf Config) (*badgerStorage, error) {
	opts := bd.DefaultOptions(conf.Path).WithLogger(nil)
	if conf.InMemory {
		opts = opts.WithInMemory(true)
	}
	db, err := bd.Open(opts)
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return &badgerStorage{
		db:   db,
		conf: conf,
	}, nil
}

func (bs *badgerStorage) get(key string) ([]byte, bool, error) {
	var value []byte
	err := bs.db.View(func(txn *bd.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if errors.Is(err, bd.ErrKeyNotFound) {
			return nil, false, nil
		}
		return nil, false, persistence.StorageLayerError{Message: err.Error()}
	}
	return value, true, nil
}

func (bs *badgerStorage) set(key string, value []byte, ttl time.Duration) error {
	err := bs.db.Update(func(txn *bd.Txn) error {
		entry := bd.NewEntry([]byte(key), value)
		if ttl > 0 {
			entry = entry.WithTTL(ttl)
		}
		return txn.SetEntry(entry)
	})
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (bs *badgerStorage) GetWatermark(ctx context.Context, workflowName string) (string, bool, error) {
	value, found, err := bs.get(watermarkPrefix + workflowName)
	if err != nil || !found {
		return "", false, err
	}
	return string(value), true, nil
}

func (bs *badgerStorage) SetWatermark(ctx context.Context, workflowName string, cursor string) error {
	return bs.set(watermarkPrefix+workflowName, []byte(cursor), 0)
}

func (bs *badgerStorage) IsHandled(ctx context.Context, dedupKey string) (bool, error) {
	_, found, err := bs.get(dedupPrefix + dedupKey)
	return found, err
}

func (bs *badgerStorage) MarkHandled(ctx context.Context, dedupKey string) error {
	ts := fmt.Sprintf("%d", time.Now().UnixMilli())
	return bs.set(dedupPrefix+dedupKey, []byte(ts), bs.conf.DedupWindow)
}

func (bs *badgerStorage) RecordDelivery(ctx context.Context, deliveryId string) (bool, error) {
	key := []byte(deliveryPrefix + deliveryId)
	seen := false
	for attempt := 0; attempt < conflictRetries; attempt++ {
		err := bs.db.Update(func(txn *bd.Txn) error {
			_, err := txn.Get(key)
			if err == nil {
				seen = true
				return nil
			}
			if !errors.Is(err, bd.ErrKeyNotFound) {
				return err
			}
			seen = false
			ts := fmt.Sprintf("%d", time.Now().UnixMilli())
			entry := bd.NewEntry(key, []byte(ts))
			if bs.conf.DeliveryWindow > 0 {
				entry = entry.WithTTL(bs.conf.DeliveryWindow)
			}
			return txn.SetEntry(entry)
		})
		if err == nil {
			return seen, nil
		}
		if !errors.Is(err, bd.ErrConflict) {
			return false, persistence.StorageLayerError{Message: err.Error()}
		}
		// lost the race, another delivery with the same id committed first
	}
	return true, nil
}

func (bs *badgerStorage) GetEscalation(ctx context.Context, escalationKey string) (*model.EscalationRecord, error) {
	value, found, err := bs.get(escalationPrefix + escalationKey)
	if err != nil || !found {
		return nil, err
	}
	record, err := persistence.DecodeRecord[model.EscalationRecord](value)
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return record, nil
}

func (bs *badgerStorage) SaveEscalation(ctx context.Context, record model.EscalationRecord) error {
	data, err := persistence.EncodeRecord(record)
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return bs.set(escalationPrefix+record.Key, data, 0)
}

func (bs *badgerStorage) SaveRun(ctx context.Context, run model.Run) error {
	data, err := persistence.EncodeRecord(run)
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	key := fmt.Sprintf("%s%020d:%s", runPrefix, run.EndedAt.UnixNano(), run.Id)
	return bs.set(key, data, 0)
}

func (bs *badgerStorage) ListRuns(ctx context.Context, workflowName string, limit int) ([]model.Run, error) {
	runs := make([]model.Run, 0, limit)
	err := bs.db.View(func(txn *bd.Txn) error {
		opts := bd.DefaultIteratorOptions
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(runPrefix)
		// seek past the last run key to walk newest first
		seek := append(append([]byte{}, prefix...), 0xFF)
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			value, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			run, err := persistence.DecodeRecord[model.Run](value)
			if err != nil {
				logger.Error("skipping undecodable run entry", zap.Error(err))
				continue
			}
			if workflowName != "" && run.WorkflowName != workflowName {
				continue
			}
			runs = append(runs, *run)
			if limit > 0 && len(runs) >= limit {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return runs, nil
}

func (bs *badgerStorage) PruneRuns(ctx context.Context, keep int) error {
	var keys [][]byte
	err := bs.db.View(func(txn *bd.Txn) error {
		opts := bd.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(runPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	if len(keys) <= keep {
		return nil
	}
	// keys are time ordered, oldest first
	stale := keys[:len(keys)-keep]
	err = bs.db.Update(func(txn *bd.Txn) error {
		for _, key := range stale {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (bs *badgerStorage) Close() error {
	return bs.db.Close()
}
