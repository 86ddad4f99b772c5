package queuecontext

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	log := logrus.NewEntry(logrus.New()).WithField("foo", "bar")
	ctx := New(context.Background(), log)
	require.Equal(t, log, ctx.Log)
	require.Equal(t, context.Background(), ctx.Context)
}

func TestWithLogFields(t *testing.T) {
	ctx := WithLogField(Background(), "queue", "global")
	ctx = WithLogFields(ctx, logrus.Fields{"request": "r1"})
	assert.Equal(t, logrus.Fields{"queue": "global", "request": "r1"}, ctx.Log.Data)
}

func TestWithTimeout(t *testing.T) {
	ctx, cancel := WithTimeout(Background(), 50*time.Millisecond)
	defer cancel()
	_, ok := ctx.Deadline()
	require.True(t, ok)
	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("context was not cancelled")
	}
}

func TestErrGroup(t *testing.T) {
	group, ctx := ErrGroup(Background())
	group.Go(func() error { return errors.New("boom") })
	group.Go(func() error {
		<-ctx.Done()
		return nil
	})
	assert.EqualError(t, group.Wait(), "boom")
}
