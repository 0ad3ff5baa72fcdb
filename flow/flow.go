package flow

import (
	"context"
	"fmt"

	"github.com/tidehq/tide/model"
)

// Collector produces the items that appeared upstream after the given
// cursor, in order, restartable from the same cursor. Errors are classified
// with TransientError/PermanentError.
type Collector interface {
	FetchSince(ctx context.Context, cursor string) ([]model.Item, error)
}

type Decision int

const (
	ACCEPT Decision = iota
	REJECT
)

// Filter accepts, rejects or transforms an item. The returned item replaces
// the input for the rest of the pipeline when the decision is ACCEPT.
type Filter interface {
	Evaluate(ctx context.Context, item model.Item) (Decision, model.Item, error)
}

// Publisher emits an item to an external system.
type Publisher interface {
	Emit(ctx context.Context, item model.Item) error
}

// Escalator creates or updates a human-facing task in an external tracker.
// An empty taskId means create; otherwise the existing task is updated.
// The escalation tracker, not the escalator, decides which applies.
type Escalator interface {
	Upsert(ctx context.Context, key string, taskId string, details model.EscalationDetails) (string, error)
	IsResolved(ctx context.Context, taskId string) (bool, error)
}

// Dispatcher funnels a webhook-derived item into a workflow run on the same
// execution path as a scheduled tick. Implemented by the scheduler.
type Dispatcher interface {
	Trigger(workflowName string, item model.Item) error
}

// Workflow is a statically registered automation unit: a recurrence rule or
// a trigger binding, one collector, a filter chain and a publisher-or-
// escalator terminal step. Immutable after the agent starts.
type Workflow struct {
	Name       string
	Recurrence model.Recurrence
	Trigger    *model.TriggerBinding

	Collector Collector
	Filters   []Filter

	// Terminal step. Publisher when set; otherwise every accepted item is
	// escalated. Escalator must also be set on publisher workflows whose
	// filters or publisher can demand escalation.
	Publisher Publisher
	Escalator Escalator

	// EscalationKey derives the stable escalation key for an item. The key
	// must identify the underlying condition, not the run that observed it.
	// Defaults to workflow name + item id.
	EscalationKey func(item model.Item) string

	// EscalationDetails builds the human-facing task content for an item.
	EscalationDetails func(item model.Item) model.EscalationDetails
}

func (wf *Workflow) Validate() error {
	if wf.Name == "" {
		return fmt.Errorf("workflow name can not be empty")
	}
	if wf.Recurrence.IsZero() && wf.Trigger == nil {
		return fmt.Errorf("workflow %s has neither a recurrence rule nor a trigger binding", wf.Name)
	}
	if !wf.Recurrence.IsZero() && wf.Collector == nil {
		return fmt.Errorf("workflow %s has a recurrence rule but no collector", wf.Name)
	}
	if wf.Publisher == nil && wf.Escalator == nil {
		return fmt.Errorf("workflow %s has no terminal step", wf.Name)
	}
	return nil
}

func (wf *Workflow) escalationKey(item model.Item) string {
	if wf.EscalationKey != nil {
		return wf.EscalationKey(item)
	}
	return wf.Name + "/" + item.Id
}

func (wf *Workflow) escalationDetails(item model.Item) model.EscalationDetails {
	if wf.EscalationDetails != nil {
		return wf.EscalationDetails(item)
	}
	return model.EscalationDetails{
		Title:  fmt.Sprintf("[%s] manual action required for %s", wf.Name, item.Id),
		Fields: item.Payload,
	}
}
