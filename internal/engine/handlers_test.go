package engine

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/floridafirst/sopflow/internal/integrations"
	"github.com/floridafirst/sopflow/internal/store"
	"github.com/floridafirst/sopflow/pkg/schema"
)

// eventlessStore rejects every event append.
type eventlessStore struct {
	store.Store
}

func (eventlessStore) AppendEvent(context.Context, *store.Event) error {
	return errors.New("events table locked")
}

func TestIntegrationHandler_LogsLostAuditEntry(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	integ := integrations.NewRegistry(logger)
	ran := 0
	require.NoError(t, integ.Register(integrations.KindExternal, "crm-sync",
		integrations.HandlerFunc(func(context.Context, map[string]any) error { ran++; return nil })))

	h := &integrationHandler{
		adapter: integ,
		events:  &eventRecorder{store: eventlessStore{store.NewMemoryStore()}, now: t0Clock, logger: logger},
	}
	run := StepRun{
		Instance:  &schema.WorkflowInstance{ID: "WF-1"},
		Execution: &schema.WorkflowExecution{InstanceID: "WF-1", StepID: "sync"},
		Step: &schema.WorkflowStep{ID: "sync", Type: schema.StepTypeIntegration,
			Integrations: schema.IntegrationManifest{External: []string{"crm-sync"}}},
	}

	res, err := h.Handle(context.Background(), run)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Equal(t, 1, ran)

	out := buf.String()
	assert.Contains(t, out, "level=WARN")
	assert.Contains(t, out, "record integration run failed")
	assert.Contains(t, out, "events table locked")
}

func t0Clock() time.Time { return t0 }
