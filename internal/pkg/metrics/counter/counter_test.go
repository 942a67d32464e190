package counter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCounter(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCounter()

	require.NoError(t, c.Add(ctx, OutcomeSuccess, "copy"))
	require.NoError(t, c.Add(ctx, OutcomeSuccess, "copy"))
	require.NoError(t, c.Add(ctx, OutcomeError, "video"))

	snap, err := c.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), snap[OutcomeSuccess]["copy"])
	assert.Equal(t, int64(1), snap[OutcomeError]["video"])
	assert.Empty(t, snap[OutcomeUnbilled])

	// snapshots are copies
	snap[OutcomeSuccess]["copy"] = 100
	again, _ := c.Snapshot(ctx)
	assert.Equal(t, int64(2), again[OutcomeSuccess]["copy"])
}
