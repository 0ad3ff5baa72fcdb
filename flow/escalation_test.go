package flow

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tidehq/tide/model"
	"github.com/tidehq/tide/persistence/inmem"
)

func TestEscalationTracker(t *testing.T) {
	for scenario, fn := range map[string]func(t *testing.T, tracker *Tracker, escalator *fakeEscalator){
		"test open update resolve lifecycle":      testEscalationLifecycle,
		"test at most one open task when racing":  testEscalationConcurrent,
		"test unchanged details skip the update":  testEscalationUnchangedSkip,
		"test recurrence after resolve is new":    testEscalationRecurrence,
		"test sync resolved from external state":  testEscalationSyncResolved,
		"test resolve without record is harmless": testEscalationResolveMissing,
	} {
		t.Run(scenario, func(t *testing.T) {
			storage := inmem.NewInMemStorage(inmem.Config{})
			tracker := NewTracker(storage)
			escalator := &fakeEscalator{resolved: make(map[string]bool)}
			fn(t, tracker, escalator)
		})
	}
}

func details(n int) model.EscalationDetails {
	return model.EscalationDetails{
		Title:       "disk filling up",
		Description: fmt.Sprintf("observed %d times", n),
	}
}

func testEscalationLifecycle(t *testing.T, tracker *Tracker, escalator *fakeEscalator) {
	ctx := context.Background()

	// run 1: condition detected, task created
	taskId, err := tracker.Escalate(ctx, escalator, "cond1", details(1))
	require.NoError(t, err)
	require.Equal(t, 1, escalator.creates)

	// run 2: still failing, existing task updated, no duplicate created
	taskId2, err := tracker.Escalate(ctx, escalator, "cond1", details(2))
	require.NoError(t, err)
	require.Equal(t, taskId, taskId2)
	require.Equal(t, 1, escalator.creates)
	require.Equal(t, 1, escalator.updates)

	// run 3: condition cleared
	require.NoError(t, tracker.Resolve(ctx, "cond1"))
	record, err := tracker.storage.GetEscalation(ctx, "cond1")
	require.NoError(t, err)
	require.Equal(t, model.ESCALATION_RESOLVED, record.Status)
}

func testEscalationConcurrent(t *testing.T, tracker *Tracker, escalator *fakeEscalator) {
	ctx := context.Background()
	const triggers = 16

	var wg sync.WaitGroup
	for i := 0; i < triggers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := tracker.Escalate(ctx, escalator, "cond1", details(i))
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Equal(t, 1, escalator.creates)
	// the details differ per trigger, so every loser updates the open task
	require.Equal(t, triggers-1, escalator.updates)

	record, err := tracker.storage.GetEscalation(ctx, "cond1")
	require.NoError(t, err)
	require.Equal(t, model.ESCALATION_OPEN, record.Status)
}

func testEscalationUnchangedSkip(t *testing.T, tracker *Tracker, escalator *fakeEscalator) {
	ctx := context.Background()

	_, err := tracker.Escalate(ctx, escalator, "cond1", details(1))
	require.NoError(t, err)

	// identical details: no external call at all
	_, err = tracker.Escalate(ctx, escalator, "cond1", details(1))
	require.NoError(t, err)
	require.Equal(t, 1, escalator.creates)
	require.Equal(t, 0, escalator.updates)
}

func testEscalationRecurrence(t *testing.T, tracker *Tracker, escalator *fakeEscalator) {
	ctx := context.Background()

	taskId, err := tracker.Escalate(ctx, escalator, "cond1", details(1))
	require.NoError(t, err)
	require.NoError(t, tracker.Resolve(ctx, "cond1"))

	// the prior task is closed, so a recurrence opens a fresh one
	taskId2, err := tracker.Escalate(ctx, escalator, "cond1", details(2))
	require.NoError(t, err)
	require.NotEqual(t, taskId, taskId2)
	require.Equal(t, 2, escalator.creates)
	require.Equal(t, 0, escalator.updates)

	// the live key carries the new open record
	record, err := tracker.storage.GetEscalation(ctx, "cond1")
	require.NoError(t, err)
	require.Equal(t, model.ESCALATION_OPEN, record.Status)
	require.Equal(t, taskId2, record.TaskId)

	// the closed record is retained for audit under a versioned key
	archived, err := tracker.storage.GetEscalation(ctx, archiveKey("cond1", taskId))
	require.NoError(t, err)
	require.NotNil(t, archived)
	require.Equal(t, model.ESCALATION_SUPERSEDED, archived.Status)
	require.Equal(t, taskId, archived.TaskId)
}

func testEscalationSyncResolved(t *testing.T, tracker *Tracker, escalator *fakeEscalator) {
	ctx := context.Background()

	taskId, err := tracker.Escalate(ctx, escalator, "cond1", details(1))
	require.NoError(t, err)

	// not done yet
	require.NoError(t, tracker.SyncResolved(ctx, escalator, "cond1"))
	record, err := tracker.storage.GetEscalation(ctx, "cond1")
	require.NoError(t, err)
	require.Equal(t, model.ESCALATION_OPEN, record.Status)

	// human closed the task in the external tracker
	escalator.mu.Lock()
	escalator.resolved[taskId] = true
	escalator.mu.Unlock()
	require.NoError(t, tracker.SyncResolved(ctx, escalator, "cond1"))
	record, err = tracker.storage.GetEscalation(ctx, "cond1")
	require.NoError(t, err)
	require.Equal(t, model.ESCALATION_RESOLVED, record.Status)
}

func testEscalationResolveMissing(t *testing.T, tracker *Tracker, escalator *fakeEscalator) {
	ctx := context.Background()
	require.NoError(t, tracker.Resolve(ctx, "never-escalated"))
}
