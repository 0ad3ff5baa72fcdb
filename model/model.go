package model

import "time"

// Item is a single unit of upstream state produced by a collector or derived
// from a webhook payload. Cursor is the item's position in the collector's
// stream; it is empty for webhook-derived items, which have no position.
type Item struct {
	Id      string         `json:"id"`
	Cursor  string         `json:"cursor,omitempty"`
	Payload map[string]any `json:"payload"`
}

type RunOutcome string

const (
	RUN_SUCCESS RunOutcome = "success"
	RUN_PARTIAL RunOutcome = "partial"
	RUN_ERROR   RunOutcome = "error"
)

type RunTrigger string

const (
	TRIGGER_SCHEDULE RunTrigger = "schedule"
	TRIGGER_WEBHOOK  RunTrigger = "webhook"
)

// Run is one sealed execution of a workflow pipeline. It is never mutated
// after EndedAt is set.
type Run struct {
	Id           string     `json:"id"`
	WorkflowName string     `json:"workflowName"`
	Trigger      RunTrigger `json:"trigger"`
	StartedAt    time.Time  `json:"startedAt"`
	EndedAt      time.Time  `json:"endedAt"`
	Outcome      RunOutcome `json:"outcome"`
	Processed    int        `json:"processed"`
	Escalated    int        `json:"escalated"`
	Failed       int        `json:"failed"`
	Error        string     `json:"error,omitempty"`
}

type EscalationStatus string

const (
	ESCALATION_OPEN       EscalationStatus = "open"
	ESCALATION_RESOLVED   EscalationStatus = "resolved"
	ESCALATION_SUPERSEDED EscalationStatus = "superseded"
)

// EscalationRecord links a logical escalation key to at most one open
// external task. DetailsHash lets an unchanged re-escalation skip the
// external update call. When a resolved condition recurs, the closed
// record is archived as superseded and a fresh one takes over the key.
type EscalationRecord struct {
	Key         string           `json:"key"`
	TaskId      string           `json:"taskId"`
	Status      EscalationStatus `json:"status"`
	DetailsHash string           `json:"detailsHash"`
	UpdatedAt   time.Time        `json:"updatedAt"`
	Count       int              `json:"count"`
}

// EscalationDetails is the human-facing content handed to the escalator.
type EscalationDetails struct {
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Fields      map[string]any `json:"fields,omitempty"`
}

// Recurrence is a workflow's schedule: a fixed interval measured from the
// last completion, or a cron expression matched against the wall clock.
// Exactly one should be set; a zero Recurrence means trigger-only.
type Recurrence struct {
	Interval time.Duration `json:"interval,omitempty"`
	Cron     string        `json:"cron,omitempty"`
}

func (r Recurrence) IsZero() bool {
	return r.Interval == 0 && r.Cron == ""
}

// TriggerBinding maps a webhook source and event type to a workflow.
type TriggerBinding struct {
	Source string `json:"source"`
	Event  string `json:"event"`
}
