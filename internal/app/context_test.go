package app

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"phasegate/internal/config"
)

func TestResolveProject(t *testing.T) {
	ctx := context.Background()
	w, err := Open(t.TempDir(), nil)
	require.NoError(t, err)
	defer w.Close()

	_, _, err = w.ResolveProjectAndConfig(ctx, "")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "no project"), err.Error())

	cfg := config.Default("alpha")
	cfg.Workflow.MaxTotalIterations = 12
	_, err = w.Engine.InitProject(ctx, "alpha", "", "tester", cfg)
	require.NoError(t, err)

	id, got, err := w.ResolveProjectAndConfig(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "alpha", id)
	assert.Equal(t, 12, got.Workflow.MaxTotalIterations)
	assert.Same(t, got, w.Engine.Config)

	_, err = w.Engine.InitProject(ctx, "beta", "", "tester", nil)
	require.NoError(t, err)
	_, _, err = w.ResolveProjectAndConfig(ctx, "")
	assert.Error(t, err)

	id, _, err = w.ResolveProjectAndConfig(ctx, "beta")
	require.NoError(t, err)
	assert.Equal(t, "beta", id)

	_, _, err = w.ResolveProjectAndConfig(ctx, "gamma")
	assert.Error(t, err)
}
