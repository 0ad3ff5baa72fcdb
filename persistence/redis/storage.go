package redis

import (
	"context"
	"errors"
	"time"

	rd "github.com/go-redis/redis/v9"
	"github.com/tidehq/tide/logger"
	"github.com/tidehq/tide/model"
	"github.com/tidehq/tide/persistence"
	"go.uber.org/zap"
)

const WATERMARK_KEY string = "WATERMARK"
const DEDUP_KEY string = "DEDUP"
const DELIVERY_KEY string = "DELIVERY"
const ESCALATION_KEY string = "ESCALATION"
const RUNS_KEY string = "RUNS"

var _ persistence.Storage = new(redisStorage)

type redisStorage struct {
	baseDao
	conf Config
}

func NewRedisStorage(conf Config) *redisStorage {
	return &redisStorage{
		baseDao: *newBaseDao(conf),
		conf:    conf,
	}
}

func (rs *redisStorage) GetWatermark(ctx context.Context, workflowName string) (string, bool, error) {
	key := rs.getNamespaceKey(WATERMARK_KEY)
	cursor, err := rs.redisClient.HGet(ctx, key, workflowName).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return "", false, nil
		}
		logger.Error("error reading watermark", zap.String("workflow", workflowName), zap.Error(err))
		return "", false, persistence.StorageLayerError{Message: err.Error()}
	}
	return cursor, true, nil
}

func (rs *redisStorage) SetWatermark(ctx context.Context, workflowName string, cursor string) error {
	key := rs.getNamespaceKey(WATERMARK_KEY)
	if err := rs.redisClient.HSet(ctx, key, workflowName, cursor).Err(); err != nil {
		logger.Error("error saving watermark", zap.String("workflow", workflowName), zap.Error(err))
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (rs *redisStorage) IsHandled(ctx context.Context, dedupKey string) (bool, error) {
	key := rs.getNamespaceKey(DEDUP_KEY, dedupKey)
	n, err := rs.redisClient.Exists(ctx, key).Result()
	if err != nil {
		return false, persistence.StorageLayerError{Message: err.Error()}
	}
	return n > 0, nil
}

func (rs *redisStorage) MarkHandled(ctx context.Context, dedupKey string) error {
	key := rs.getNamespaceKey(DEDUP_KEY, dedupKey)
	ts := time.Now().UnixMilli()
	if err := rs.redisClient.Set(ctx, key, ts, rs.conf.DedupWindow).Err(); err != nil {
		logger.Error("error marking item handled", zap.String("dedupKey", dedupKey), zap.Error(err))
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (rs *redisStorage) RecordDelivery(ctx context.Context, deliveryId string) (bool, error) {
	key := rs.getNamespaceKey(DELIVERY_KEY, deliveryId)
	ts := time.Now().UnixMilli()
	set, err := rs.redisClient.SetNX(ctx, key, ts, rs.conf.DeliveryWindow).Result()
	if err != nil {
		logger.Error("error recording delivery", zap.String("deliveryId", deliveryId), zap.Error(err))
		return false, persistence.StorageLayerError{Message: err.Error()}
	}
	return !set, nil
}

func (rs *redisStorage) GetEscalation(ctx context.Context, escalationKey string) (*model.EscalationRecord, error) {
	key := rs.getNamespaceKey(ESCALATION_KEY)
	data, err := rs.redisClient.HGet(ctx, key, escalationKey).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, nil
		}
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	record, err := persistence.DecodeRecord[model.EscalationRecord]([]byte(data))
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return record, nil
}

func (rs *redisStorage) SaveEscalation(ctx context.Context, record model.EscalationRecord) error {
	key := rs.getNamespaceKey(ESCALATION_KEY)
	data, err := persistence.EncodeRecord(record)
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	if err := rs.redisClient.HSet(ctx, key, record.Key, string(data)).Err(); err != nil {
		logger.Error("error saving escalation record", zap.String("key", record.Key), zap.Error(err))
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (rs *redisStorage) SaveRun(ctx context.Context, run model.Run) error {
	key := rs.getNamespaceKey(RUNS_KEY)
	data, err := persistence.EncodeRecord(run)
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	pipe := rs.redisClient.Pipeline()
	pipe.LPush(ctx, key, string(data))
	if rs.conf.RunRetention > 0 {
		pipe.LTrim(ctx, key, 0, int64(rs.conf.RunRetention)-1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		logger.Error("error saving run", zap.String("workflow", run.WorkflowName), zap.Error(err))
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (rs *redisStorage) ListRuns(ctx context.Context, workflowName string, limit int) ([]model.Run, error) {
	key := rs.getNamespaceKey(RUNS_KEY)
	stop := int64(-1)
	if rs.conf.RunRetention > 0 {
		stop = int64(rs.conf.RunRetention) - 1
	}
	entries, err := rs.redisClient.LRange(ctx, key, 0, stop).Result()
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	runs := make([]model.Run, 0, limit)
	for _, entry := range entries {
		run, err := persistence.DecodeRecord[model.Run]([]byte(entry))
		if err != nil {
			logger.Error("skipping undecodable run entry", zap.Error(err))
			continue
		}
		if workflowName != "" && run.WorkflowName != workflowName {
			continue
		}
		runs = append(runs, *run)
		if limit > 0 && len(runs) >= limit {
			break
		}
	}
	return runs, nil
}

func (rs *redisStorage) PruneRuns(ctx context.Context, keep int) error {
	key := rs.getNamespaceKey(RUNS_KEY)
	if err := rs.redisClient.LTrim(ctx, key, 0, int64(keep)-1).Err(); err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (rs *redisStorage) Close() error {
	return rs.redisClient.Close()
}
