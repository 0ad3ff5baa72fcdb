package flow

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/tidehq/tide/logger"
	"github.com/tidehq/tide/model"
	"github.com/tidehq/tide/persistence"
	"github.com/tidehq/tide/util"
	"go.uber.org/zap"
)

// Runner executes one workflow pipeline instance for one scheduled tick or
// one webhook-derived trigger. It holds no state between runs: retry timing
// lives in the scheduler, durable progress lives in storage.
type Runner struct {
	storage persistence.Storage
	tracker *Tracker
}

func NewRunner(storage persistence.Storage, tracker *Tracker) *Runner {
	return &Runner{
		storage: storage,
		tracker: tracker,
	}
}

func (r *Runner) Tracker() *Tracker {
	return r.tracker
}

// RunScheduled executes one collect -> filter -> act-or-escalate -> record
// pass for a scheduled tick.
func (r *Runner) RunScheduled(ctx context.Context, wf *Workflow) model.Run {
	return r.run(ctx, wf, model.TRIGGER_SCHEDULE, nil)
}

// RunTriggered executes the same pipeline with the webhook-derived item
// substituted for the collector's output, so every idempotence and
// escalation guarantee applies uniformly.
func (r *Runner) RunTriggered(ctx context.Context, wf *Workflow, item model.Item) model.Run {
	return r.run(ctx, wf, model.TRIGGER_WEBHOOK, &item)
}

func (r *Runner) run(ctx context.Context, wf *Workflow, trigger model.RunTrigger, triggerItem *model.Item) model.Run {
	run := model.Run{
		Id:           uuid.New().String(),
		WorkflowName: wf.Name,
		Trigger:      trigger,
		StartedAt:    time.Now(),
	}

	var items []model.Item
	if triggerItem != nil {
		items = []model.Item{*triggerItem}
	} else {
		cursor, _, err := r.storage.GetWatermark(ctx, wf.Name)
		if err != nil {
			return r.seal(ctx, run, model.RUN_ERROR, err)
		}
		items, err = wf.Collector.FetchSince(ctx, cursor)
		if err != nil {
			logger.Error("collector failed", zap.String("workflow", wf.Name), zap.Error(err))
			return r.seal(ctx, run, model.RUN_ERROR, err)
		}
	}

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			// shutdown or timeout mid-run; the unhandled remainder is
			// picked up from the watermark on the next tick
			return r.seal(ctx, run, model.RUN_ERROR, TransientError{Err: err})
		}

		dedupKey := util.ContentHash(wf.Name, item.Id)
		handled, err := r.storage.IsHandled(ctx, dedupKey)
		if err != nil {
			return r.seal(ctx, run, model.RUN_ERROR, err)
		}
		if handled {
			logger.Debug("item already handled", zap.String("workflow", wf.Name), zap.String("item", item.Id))
			continue
		}
		run.Processed++

		accepted, current, err := r.applyFilters(ctx, wf, item)
		if err == nil && accepted {
			err = r.terminal(ctx, wf, current, &run)
		}

		switch {
		case err == nil:
			// handled: published, escalated, or filter-rejected; rejected
			// items are marked too so they are not re-filtered forever
		case IsEscalationRequired(err):
			if escErr := r.escalate(ctx, wf, current); escErr != nil {
				return r.seal(ctx, run, model.RUN_ERROR, escErr)
			}
			run.Escalated++
		case IsPermanent(err):
			logger.Error("dropping item after permanent failure",
				zap.String("workflow", wf.Name), zap.String("item", item.Id), zap.Error(err))
			run.Failed++
			run.Error = err.Error()
		default:
			// transient: abort without advancing past the failing item
			return r.seal(ctx, run, model.RUN_ERROR, err)
		}

		if err := r.storage.MarkHandled(ctx, dedupKey); err != nil {
			return r.seal(ctx, run, model.RUN_ERROR, err)
		}
		if item.Cursor != "" {
			if err := r.storage.SetWatermark(ctx, wf.Name, item.Cursor); err != nil {
				return r.seal(ctx, run, model.RUN_ERROR, err)
			}
		}
	}

	outcome := model.RUN_SUCCESS
	if run.Failed > 0 {
		outcome = model.RUN_PARTIAL
	}
	return r.seal(ctx, run, outcome, nil)
}

// applyFilters runs the chain in order, short-circuiting on the first
// reject. Filter errors carry the same taxonomy as terminal errors.
func (r *Runner) applyFilters(ctx context.Context, wf *Workflow, item model.Item) (bool, model.Item, error) {
	current := item
	for _, filter := range wf.Filters {
		decision, next, err := filter.Evaluate(ctx, current)
		if err != nil {
			return false, current, err
		}
		if decision == REJECT {
			logger.Debug("item rejected by filter", zap.String("workflow", wf.Name), zap.String("item", item.Id))
			return false, current, nil
		}
		current = next
	}
	return true, current, nil
}

func (r *Runner) terminal(ctx context.Context, wf *Workflow, item model.Item, run *model.Run) error {
	if wf.Publisher == nil {
		if err := r.escalate(ctx, wf, item); err != nil {
			return err
		}
		run.Escalated++
		return nil
	}
	return wf.Publisher.Emit(ctx, item)
}

func (r *Runner) escalate(ctx context.Context, wf *Workflow, item model.Item) error {
	_, err := r.tracker.Escalate(ctx, wf.Escalator, wf.escalationKey(item), wf.escalationDetails(item))
	return err
}

func (r *Runner) seal(ctx context.Context, run model.Run, outcome model.RunOutcome, err error) model.Run {
	run.EndedAt = time.Now()
	run.Outcome = outcome
	if err != nil {
		run.Error = err.Error()
	}
	// saving history must not mask the run outcome; a failure here only
	// loses one history entry
	if saveErr := r.storage.SaveRun(context.WithoutCancel(ctx), run); saveErr != nil {
		logger.Error("error saving run record", zap.String("workflow", run.WorkflowName), zap.Error(saveErr))
	}
	logger.Info("run sealed",
		zap.String("workflow", run.WorkflowName),
		zap.String("outcome", string(run.Outcome)),
		zap.Int("processed", run.Processed),
		zap.Int("escalated", run.Escalated),
		zap.Int("failed", run.Failed))
	return run
}
