package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/floridafirst/sopflow/internal/store"
	"github.com/floridafirst/sopflow/pkg/schema"
)

// mockAppender records appended events for assertions.
type mockAppender struct {
	mu     sync.Mutex
	events []*store.Event
}

func (m *mockAppender) AppendEvent(_ context.Context, event *store.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *mockAppender) Types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.events))
	for i, e := range m.events {
		out[i] = e.Type
	}
	return out
}

// failAppender always returns an error.
type failAppender struct{}

func (failAppender) AppendEvent(_ context.Context, _ *store.Event) error {
	return errors.New("store unavailable")
}

// --- InstanceFSM ---

func TestInstanceFSM_ValidTransitions(t *testing.T) {
	app := &mockAppender{}
	fsm := NewInstanceFSM(app)
	ctx := context.Background()

	require.NoError(t, fsm.Transition(ctx, "wf-1", schema.InstanceStatusActive, schema.InstanceStatusPaused, nil))
	require.NoError(t, fsm.Transition(ctx, "wf-1", schema.InstanceStatusPaused, schema.InstanceStatusActive, nil))
	require.NoError(t, fsm.Transition(ctx, "wf-1", schema.InstanceStatusActive, schema.InstanceStatusCompleted,
		map[string]any{"completed_steps": 3}))

	assert.Equal(t, []string{
		schema.EventInstancePaused,
		schema.EventInstanceResumed,
		schema.EventInstanceCompleted,
	}, app.Types())

	var payload map[string]any
	require.NoError(t, json.Unmarshal(app.events[2].Payload, &payload))
	assert.Equal(t, float64(3), payload["completed_steps"])
	assert.Nil(t, app.events[0].Payload)
}

func TestInstanceFSM_InvalidTransition(t *testing.T) {
	app := &mockAppender{}
	fsm := NewInstanceFSM(app)

	tests := []struct {
		from, to schema.InstanceStatus
	}{
		{schema.InstanceStatusCompleted, schema.InstanceStatusActive},
		{schema.InstanceStatusCancelled, schema.InstanceStatusPaused},
		{schema.InstanceStatusPaused, schema.InstanceStatusCompleted},
		{schema.InstanceStatusPaused, schema.InstanceStatusPaused},
	}
	for _, tt := range tests {
		err := fsm.Transition(context.Background(), "wf-1", tt.from, tt.to, nil)
		require.Error(t, err, "%s -> %s", tt.from, tt.to)
		assert.Equal(t, schema.ErrCodeInvalidTransition, schema.CodeOf(err))
	}
	assert.Empty(t, app.Types(), "rejected transitions emit nothing")
}

func TestInstanceFSM_AppendFailure(t *testing.T) {
	fsm := NewInstanceFSM(failAppender{})
	err := fsm.Transition(context.Background(), "wf-1", schema.InstanceStatusActive, schema.InstanceStatusPaused, nil)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeStore, schema.CodeOf(err))
}

// --- ExecutionFSM ---

func TestExecutionFSM_ForwardOnly(t *testing.T) {
	app := &mockAppender{}
	fsm := NewExecutionFSM(app)
	ctx := context.Background()

	require.NoError(t, fsm.Transition(ctx, "wf-1", "a", schema.ExecutionStatusPending, schema.ExecutionStatusRunning, nil))
	require.NoError(t, fsm.Transition(ctx, "wf-1", "a", schema.ExecutionStatusRunning, schema.ExecutionStatusFailed, nil))

	backwards := [][2]schema.ExecutionStatus{
		{schema.ExecutionStatusRunning, schema.ExecutionStatusPending},
		{schema.ExecutionStatusCompleted, schema.ExecutionStatusRunning},
		{schema.ExecutionStatusFailed, schema.ExecutionStatusPending},
		{schema.ExecutionStatusSkipped, schema.ExecutionStatusRunning},
		{schema.ExecutionStatusPending, schema.ExecutionStatusCompleted},
	}
	for _, tr := range backwards {
		err := fsm.Transition(ctx, "wf-1", "a", tr[0], tr[1], nil)
		require.Error(t, err, "%s -> %s", tr[0], tr[1])

		var se *schema.SOPError
		require.True(t, errors.As(err, &se))
		assert.Equal(t, "a", se.StepID)
	}

	assert.Equal(t, []string{schema.EventStepStarted, schema.EventStepFailed}, app.Types())
	assert.Equal(t, "a", app.events[0].StepID)
}

// --- Cancel cascade ---

func TestCancelInstance_SkipsNonTerminal(t *testing.T) {
	app := &mockAppender{}
	instFSM := NewInstanceFSM(app)
	execFSM := NewExecutionFSM(app)

	inst := &schema.WorkflowInstance{ID: "wf-1", Status: schema.InstanceStatusPaused}
	execs := []*schema.WorkflowExecution{
		{StepID: "a", Status: schema.ExecutionStatusCompleted},
		{StepID: "b", Status: schema.ExecutionStatusRunning},
		{StepID: "c", Status: schema.ExecutionStatusPending},
		{StepID: "d", Status: schema.ExecutionStatusFailed},
	}

	skipped, err := CancelInstance(context.Background(), instFSM, execFSM, inst, execs, "customer withdrew")
	require.NoError(t, err)

	assert.Equal(t, schema.InstanceStatusCancelled, inst.Status)
	require.Len(t, skipped, 2)
	assert.Equal(t, "b", skipped[0].StepID)
	assert.Equal(t, "c", skipped[1].StepID)
	assert.Equal(t, schema.ExecutionStatusCompleted, execs[0].Status)
	assert.Equal(t, schema.ExecutionStatusSkipped, execs[1].Status)
	assert.Equal(t, schema.ExecutionStatusFailed, execs[3].Status)

	assert.Equal(t, []string{
		schema.EventInstanceCancelled,
		schema.EventStepSkipped,
		schema.EventStepSkipped,
	}, app.Types())
}

func TestCancelInstance_TerminalInstanceRejected(t *testing.T) {
	app := &mockAppender{}
	inst := &schema.WorkflowInstance{ID: "wf-1", Status: schema.InstanceStatusCompleted}

	_, err := CancelInstance(context.Background(), NewInstanceFSM(app), NewExecutionFSM(app), inst, nil, "late")
	require.Error(t, err)
	assert.Equal(t, schema.InstanceStatusCompleted, inst.Status)
	assert.Empty(t, app.Types())
}
