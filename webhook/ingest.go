package webhook

import (
	"context"
	"net/http"

	"github.com/tidehq/tide/flow"
	"github.com/tidehq/tide/logger"
	"github.com/tidehq/tide/persistence"
	"go.uber.org/zap"
)

// Ack is the HTTP-style acknowledgement returned to the sender. The ack is
// deliberately decoupled from internal validity: a delivery failing
// signature verification is acknowledged as accepted so the sender's retry
// loop does not hammer the endpoint, and logged as rejected internally.
type Ack struct {
	Status  int    `json:"-"`
	Message string `json:"message"`
}

// Ingestor turns an authenticated, deduplicated inbound push into a job
// runner invocation on the same execution path as a scheduled tick.
type Ingestor struct {
	storage    persistence.Storage
	dispatcher flow.Dispatcher
	sources    map[string]Source
}

func NewIngestor(storage persistence.Storage, dispatcher flow.Dispatcher, sources map[string]Source) *Ingestor {
	return &Ingestor{
		storage:    storage,
		dispatcher: dispatcher,
		sources:    sources,
	}
}

func (in *Ingestor) Ingest(ctx context.Context, sourceId string, body []byte, headers http.Header) Ack {
	source, ok := in.sources[sourceId]
	if !ok {
		logger.Warn("delivery for unconfigured webhook source", zap.String("source", sourceId))
		return Ack{Status: http.StatusNotFound, Message: "unknown source"}
	}

	if !source.Verify(body, headers) {
		logger.Warn("authentication-failure: webhook signature invalid, dropping delivery",
			zap.String("source", sourceId))
		return Ack{Status: http.StatusAccepted, Message: "accepted"}
	}

	deliveryId := source.DeliveryID(body, headers)
	seen, err := in.storage.RecordDelivery(ctx, deliveryId)
	if err != nil {
		// storage failure: nothing recorded, let the sender retry
		logger.Error("error recording delivery", zap.String("source", sourceId), zap.Error(err))
		return Ack{Status: http.StatusInternalServerError, Message: "storage unavailable"}
	}
	if seen {
		logger.Debug("duplicate delivery", zap.String("source", sourceId), zap.String("deliveryId", deliveryId))
		return Ack{Status: http.StatusAccepted, Message: "duplicate"}
	}

	trigger, err := source.MapToTrigger(body, headers)
	if err != nil {
		// malformed payloads never parse on retry either
		logger.Error("error mapping delivery to trigger", zap.String("source", sourceId), zap.Error(err))
		return Ack{Status: http.StatusAccepted, Message: "accepted"}
	}
	if trigger == nil {
		// unmapped event types are fine, the source may add new ones
		logger.Debug("delivery matched no workflow trigger", zap.String("source", sourceId))
		return Ack{Status: http.StatusAccepted, Message: "accepted"}
	}

	if err := in.dispatcher.Trigger(trigger.WorkflowName, trigger.Item); err != nil {
		logger.Error("error dispatching webhook trigger",
			zap.String("source", sourceId),
			zap.String("workflow", trigger.WorkflowName),
			zap.Error(err))
		return Ack{Status: http.StatusServiceUnavailable, Message: "not dispatched"}
	}
	logger.Info("webhook delivery dispatched",
		zap.String("source", sourceId),
		zap.String("workflow", trigger.WorkflowName),
		zap.String("deliveryId", deliveryId))
	return Ack{Status: http.StatusAccepted, Message: "accepted"}
}
