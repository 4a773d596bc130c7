package render

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1 "github.com/foofork/orchflow/pkg/api/v1"
)

func TestRenderIncludesDescriptionAndFiles(t *testing.T) {
	r, err := NewTemplateRenderer()
	require.NoError(t, err)

	task := &v1.Task{
		Type:        v1.TaskTypeCode,
		Description: `add a "quick" fix`,
		Parameters:  map[string]any{"files": []string{"main.go"}},
	}

	cmd, err := r.Render(task)
	require.NoError(t, err)
	assert.Contains(t, cmd, "orchflow-agent code")
	assert.Contains(t, cmd, `--description "add a \"quick\" fix"`)
	assert.Contains(t, cmd, "main.go")
}

func TestRenderFallsBackForUnknownType(t *testing.T) {
	r, err := NewTemplateRenderer()
	require.NoError(t, err)

	task := &v1.Task{Type: "unknown", Description: "do something"}
	cmd, err := r.Render(task)
	require.NoError(t, err)
	assert.Contains(t, cmd, "orchflow-agent run")
}
