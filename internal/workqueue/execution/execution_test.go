package execution

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armadaproject/workqueue/internal/common/wqerrors"
	"github.com/armadaproject/workqueue/internal/workqueue/element"
)

func TestMemory_SubscribeAndProgress(t *testing.T) {
	ctx := context.Background()
	layer := NewMemory()

	id, err := layer.Subscribe(ctx, &element.Element{Id: "e1"}, "A")
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	progress, err := layer.Progress(ctx, id)
	require.NoError(t, err)
	assert.False(t, progress.Finished)

	require.NoError(t, layer.SetProgress("e1", Progress{PercentComplete: 100, PercentSuccess: 95, Finished: true}))
	progress, err = layer.Progress(ctx, id)
	require.NoError(t, err)
	assert.True(t, progress.Finished)
	assert.Equal(t, float64(95), progress.PercentSuccess)

	subs := layer.Subscriptions()
	require.Len(t, subs, 1)
	assert.Equal(t, "A", subs[0].Site)

	_, err = layer.Progress(ctx, "unknown")
	assert.True(t, wqerrors.IsNotFound(err))
	assert.Error(t, layer.SetProgress("unknown", Progress{}))
}

func TestMemory_FailSubscriptions(t *testing.T) {
	layer := NewMemory()
	layer.FailSubscriptions(errors.New("site down"), "e1")
	_, err := layer.Subscribe(context.Background(), &element.Element{Id: "e1"}, "A")
	assert.EqualError(t, err, "site down")
	_, err = layer.Subscribe(context.Background(), &element.Element{Id: "e2"}, "A")
	assert.NoError(t, err)
}
