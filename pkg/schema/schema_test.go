package schema

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSOPError_IsMatchesByCode(t *testing.T) {
	err := NewErrorf(ErrCodeNotRunning, "step %s is pending", "s1").WithStep("s1")

	assert.True(t, errors.Is(err, ErrNotRunning))
	assert.False(t, errors.Is(err, ErrNotFound))

	wrapped := fmt.Errorf("complete: %w", err)
	assert.True(t, errors.Is(wrapped, ErrNotRunning))
	assert.Equal(t, ErrCodeNotRunning, CodeOf(wrapped))
	assert.Equal(t, "", CodeOf(errors.New("plain")))
}

func TestSOPError_Format(t *testing.T) {
	assert.Equal(t, "[NOT_FOUND] instance x", NewError(ErrCodeNotFound, "instance x").Error())
	assert.Equal(t, "[EXECUTION_ERROR] step s1: boom",
		NewError(ErrCodeExecution, "boom").WithStep("s1").Error())

	cause := errors.New("disk full")
	err := NewError(ErrCodeStore, "save").WithCause(cause)
	assert.ErrorIs(t, err, cause)
}

func TestDueCalculation_HoursFor(t *testing.T) {
	d := DueCalculation{Hours: map[Urgency]float64{UrgencyMedium: 4, UrgencyHigh: 2}}

	assert.Equal(t, 2.0, d.HoursFor(UrgencyHigh))
	assert.Equal(t, 4.0, d.HoursFor(UrgencyEmergency), "missing urgency falls back to medium")
	assert.Equal(t, 4.0, d.HoursFor(Urgency("unknown")))
	assert.Equal(t, 0.0, DueCalculation{}.HoursFor(UrgencyLow))
}

func TestPriorityFor(t *testing.T) {
	tests := []struct {
		urgency Urgency
		want    Priority
	}{
		{UrgencyEmergency, PriorityCritical},
		{UrgencyHigh, PriorityHigh},
		{UrgencyMedium, PriorityMedium},
		{UrgencyLow, PriorityLow},
		{Urgency(""), PriorityLow},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, PriorityFor(tt.urgency), "urgency %q", tt.urgency)
	}
	assert.Greater(t, PriorityCritical.Rank(), PriorityHigh.Rank())
	assert.Greater(t, PriorityLow.Rank(), Priority("bogus").Rank())
}

func TestCompletionMultiplier(t *testing.T) {
	assert.Equal(t, 0.25, CompletionMultiplier(UrgencyEmergency))
	assert.Equal(t, 0.5, CompletionMultiplier(UrgencyHigh))
	assert.Equal(t, 1.0, CompletionMultiplier(UrgencyMedium))
	assert.Equal(t, 2.0, CompletionMultiplier(UrgencyLow))
	assert.Equal(t, 1.0, CompletionMultiplier(Urgency("weird")))
}

func TestDefinition_StepNavigation(t *testing.T) {
	def := &WorkflowDefinition{Steps: []WorkflowStep{{ID: "a"}, {ID: "b"}, {ID: "c"}}}

	assert.Equal(t, "a", def.FirstStep().ID)
	assert.Equal(t, "b", def.NextStep("a").ID)
	assert.Nil(t, def.NextStep("c"))
	assert.Nil(t, def.NextStep("missing"))

	s, ok := def.Step("b")
	require.True(t, ok)
	assert.Equal(t, "b", s.ID)

	assert.Nil(t, (&WorkflowDefinition{}).FirstStep())
}

func TestInstanceClone_IsDeep(t *testing.T) {
	done := time.Now()
	inst := &WorkflowInstance{
		ID:             "wf-1",
		CompletedSteps: []string{"a"},
		AssignedTeam:   map[string]string{"sales_rep": "rep@example.com"},
		Context: InstanceContext{
			Variables: map[string]any{"county": "brevard"},
		},
		ActualCompletionAt: &done,
	}

	cp := inst.Clone()
	cp.CompletedSteps = append(cp.CompletedSteps, "b")
	cp.AssignedTeam["sales_rep"] = "other"
	cp.Context.Variables["county"] = "orange"

	assert.Equal(t, []string{"a"}, inst.CompletedSteps)
	assert.Equal(t, "rep@example.com", inst.AssignedTeam["sales_rep"])
	assert.Equal(t, "brevard", inst.Context.Variables["county"])
	assert.True(t, inst.HasCompleted("a"))
	assert.False(t, inst.HasCompleted("b"))
}

func TestValidationResult_ToErrorKeepsFirstCode(t *testing.T) {
	r := &ValidationResult{}
	assert.Nil(t, r.ToError())

	r.AddWarning("steps[0]", ErrCodeValidation, "just a warning")
	assert.Nil(t, r.ToError())

	r.AddError("steps[1].id", ErrCodeDuplicateStepID, `duplicate step id "a"`)
	r.AddError("steps[2].dependencies", ErrCodeInvalidDependency, "bad dep")

	err := r.ToError()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDuplicateStepID))

	var se *SOPError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, 2, se.Details["error_count"])
	assert.Contains(t, se.Message, "1 more")
}

func TestStatusTerminal(t *testing.T) {
	assert.False(t, InstanceStatusActive.Terminal())
	assert.False(t, InstanceStatusPaused.Terminal())
	assert.True(t, InstanceStatusCompleted.Terminal())
	assert.True(t, InstanceStatusCancelled.Terminal())

	assert.False(t, ExecutionStatusRunning.Terminal())
	assert.True(t, ExecutionStatusSkipped.Terminal())
	assert.True(t, StepTypeIntegration.Valid())
	assert.False(t, StepType("loop").Valid())
}
