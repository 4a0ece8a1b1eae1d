package definitions

import (
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/floridafirst/sopflow/internal/expressions"
	"github.com/floridafirst/sopflow/internal/registry"
	"github.com/floridafirst/sopflow/internal/validation"
	"github.com/floridafirst/sopflow/pkg/schema"
)

func newValidator(t *testing.T) *validation.WorkflowValidator {
	t.Helper()
	cel, err := expressions.NewCELEngine()
	require.NoError(t, err)
	v, err := validation.NewWorkflowValidator(expressions.NewExprEngine(), cel)
	require.NoError(t, err)
	return v
}

func TestStandard_LoadsAndRegisters(t *testing.T) {
	v := newValidator(t)
	defs, err := Standard(v)
	require.NoError(t, err)
	require.Len(t, defs, 2)

	r := registry.New(v)
	for _, d := range defs {
		require.NoError(t, r.Register(d), d.ID)
	}

	intake, ok := r.Get("SOP-001-LEAD-INTAKE")
	require.True(t, ok)
	assert.Len(t, intake.Steps, 4)
	assert.Equal(t, 120.0, intake.Metadata.EstimatedTotalMinutes)
	assert.Equal(t, schema.StepTypeManual, intake.Steps[2].Type)
	assert.Equal(t, 24.0, intake.Steps[2].Due.HoursFor(schema.UrgencyMedium))
	assert.True(t, intake.Steps[2].Due.BusinessHoursOnly)
	assert.Equal(t, "website", intake.Triggers[0].Conditions["leadSource"])

	emergency, ok := r.Get("SOP-010-EMERGENCY-RESPONSE")
	require.True(t, ok)
	assert.Equal(t, schema.PriorityCritical, emergency.Triggers[0].Priority)
	assert.Equal(t, true, emergency.Variables[1].DefaultValue)
	assert.Equal(t, "dispatch-emergency-team", emergency.Steps[1].Action)
}

func TestLoad_SkipsNonJSONAndSorts(t *testing.T) {
	fsys := fstest.MapFS{
		"b.json":    {Data: []byte(`{"id":"B","name":"b","steps":[{"id":"s","title":"S","type":"manual"}]}`)},
		"a.json":    {Data: []byte(`{"id":"A","name":"a","steps":[{"id":"s","title":"S","type":"automated"}]}`)},
		"README.md": {Data: []byte("ignored")},
	}

	defs, err := Load(fsys, newValidator(t))
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, "A", defs[0].ID)
	assert.Equal(t, "B", defs[1].ID)
}

func TestLoad_ReportsFileOnSchemaError(t *testing.T) {
	fsys := fstest.MapFS{
		"broken.json": {Data: []byte(`{"id":"X","name":"x","steps":[{"id":"s","title":"S","type":"loop"}]}`)},
	}

	_, err := Load(fsys, newValidator(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken.json")
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
}

func TestParse_WithoutValidator(t *testing.T) {
	def, err := Parse([]byte(`{"id":"X","name":"x","steps":[]}`), nil)
	require.NoError(t, err)
	assert.Equal(t, "X", def.ID)

	_, err = Parse([]byte(`{`), nil)
	assert.Error(t, err)
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	doc := `{"id":"CUSTOM","name":"custom","steps":[{"id":"s","title":"S","type":"notification"}]}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "custom.json"), []byte(doc), 0o644))

	defs, err := LoadDir(dir, newValidator(t))
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "CUSTOM", defs[0].ID)

	_, err = LoadDir(filepath.Join(dir, "missing"), nil)
	assert.Error(t, err)
}
