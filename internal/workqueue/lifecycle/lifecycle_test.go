package lifecycle

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatic(t *testing.T) {
	ctx := context.Background()
	tracker := NewStatic("r1")

	ok, err := tracker.IsArchivable(ctx, "r1")
	assert.NoError(t, err)
	assert.True(t, ok)

	ok, _ = tracker.IsArchivable(ctx, "r2")
	assert.False(t, ok)
	tracker.MarkArchivable("r2")
	ok, _ = tracker.IsArchivable(ctx, "r2")
	assert.True(t, ok)

	ok, _ = NewAlwaysArchivable().IsArchivable(ctx, "anything")
	assert.True(t, ok)
}
