package diagram

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertPNG(t *testing.T, png []byte) {
	t.Helper()
	require.Greater(t, len(png), 8)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, png[:4])
}

func TestRenderImageDefinition(t *testing.T) {
	model, err := Build(inspectionSOP(), nil, nil)
	require.NoError(t, err)

	png, err := RenderImage(context.Background(), model)
	require.NoError(t, err)
	assertPNG(t, png)
}

func TestRenderImageWithStatus(t *testing.T) {
	inst, execs := inspectionRun()
	model, err := Build(inspectionSOP(), inst, execs)
	require.NoError(t, err)

	png, err := RenderImage(context.Background(), model)
	require.NoError(t, err)
	assertPNG(t, png)
}
