package condition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluate_GateConditionRoutesToBranch(t *testing.T) {
	e := NewEvaluator()

	// gate with condition: score > 50 -> "flag"
	hit, err := e.Evaluate(`row.score > 50`, map[string]any{"id": 2, "score": 90}, nil)
	require.NoError(t, err)
	assert.True(t, hit)

	miss, err := e.Evaluate(`row.score > 50`, map[string]any{"id": 1, "score": 10}, nil)
	require.NoError(t, err)
	assert.False(t, miss)
}

func TestEvaluate_UsesCache(t *testing.T) {
	e := NewEvaluator()
	_, err := e.Evaluate(`row.score > 50`, map[string]any{"score": 1}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, e.CacheSize())

	_, err = e.Evaluate(`row.score > 50`, map[string]any{"score": 2}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, e.CacheSize(), "same expression should reuse the cached program")

	e.ClearCache()
	assert.Equal(t, 0, e.CacheSize())
}

func TestEvaluate_NonBooleanResultErrors(t *testing.T) {
	e := NewEvaluator()
	_, err := e.Evaluate(`row.score`, map[string]any{"score": 5}, nil)
	assert.Error(t, err)
}

func TestEvaluate_CompileErrorSurfaces(t *testing.T) {
	e := NewEvaluator()
	_, err := e.Evaluate(`row.score >`, map[string]any{"score": 5}, nil)
	assert.Error(t, err)
}
