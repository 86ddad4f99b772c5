package config

import (
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armadaproject/workqueue/internal/workqueue/element"
	"github.com/armadaproject/workqueue/internal/workqueue/spec"
)

type testConfig struct {
	Name     string `validate:"required"`
	Interval time.Duration
	Retries  int `validate:"gte=1"`
}

func TestValidate(t *testing.T) {
	require.NoError(t, Validate(testConfig{Name: "global", Retries: 3}))
	assert.Error(t, Validate(testConfig{Retries: 3}))
	assert.Error(t, Validate(testConfig{Name: "global"}))
}

func TestStripPrefix(t *testing.T) {
	assert.Equal(t, "Queue.Name", stripPrefix("Configuration.Queue.Name"))
	assert.Equal(t, "Name", stripPrefix("Name"))
}

func TestStatusHookFunc(t *testing.T) {
	hook := StatusHookFunc()
	out, err := hook(reflect.TypeOf(""), reflect.TypeOf(element.Available), "Running")
	require.NoError(t, err)
	assert.Equal(t, element.Running, out)

	_, err = hook(reflect.TypeOf(""), reflect.TypeOf(element.Available), "Sleeping")
	assert.Error(t, err)

	out, err = hook(reflect.TypeOf(""), reflect.TypeOf(""), "Running")
	require.NoError(t, err)
	assert.Equal(t, "Running", out)
}

func TestSliceTypeHookFunc(t *testing.T) {
	hook := SliceTypeHookFunc()
	out, err := hook(reflect.TypeOf(""), reflect.TypeOf(spec.SliceByFiles), "events")
	require.NoError(t, err)
	assert.Equal(t, spec.SliceByEvents, out)
}
