package workqueue

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/armadaproject/workqueue/internal/common/queuecontext"
	"github.com/armadaproject/workqueue/internal/workqueue/backend"
	"github.com/armadaproject/workqueue/internal/workqueue/configuration"
	"github.com/armadaproject/workqueue/internal/workqueue/element"
	"github.com/armadaproject/workqueue/internal/workqueue/execution"
	"github.com/armadaproject/workqueue/internal/workqueue/lifecycle"
	"github.com/armadaproject/workqueue/internal/workqueue/location"
	"github.com/armadaproject/workqueue/internal/workqueue/queue"
	"github.com/armadaproject/workqueue/internal/workqueue/spec"
)

type agentFixture struct {
	specs     *spec.MemoryStore
	locations *location.StaticService
	execution *execution.Memory
	clock     *testingclock.FakeClock
}

func newAgentFixture(blocks int) *agentFixture {
	f := &agentFixture{
		specs:     spec.NewMemoryStore(),
		locations: location.NewStaticService(),
		execution: execution.NewMemory(),
		clock:     testingclock.NewFakeClock(time.Date(2022, 11, 1, 12, 0, 0, 0, time.UTC)),
	}
	for i := 0; i < blocks; i++ {
		f.locations.AddBlocks(location.Block{
			Name:     fmt.Sprintf("/D/RAW#%d", i),
			Dataset:  "/D/RAW",
			NumFiles: 1,
			Sites:    []string{"A"},
		})
	}
	return f
}

func (f *agentFixture) newQueue(t *testing.T, url string, parent backend.Backend) (*queue.Queue, backend.Backend) {
	db, err := backend.NewMemDb()
	require.NoError(t, err)
	config := queue.Config{QueueURL: url}
	if parent != nil {
		config.ParentQueueURL = "global"
	}
	return queue.New(config, db, parent, queue.Dependencies{
		Specs:        f.specs,
		Locations:    f.locations,
		Resubmission: f.locations,
		Execution:    f.execution,
		Lifecycle:    lifecycle.NewStatic(),
		Clock:        f.clock,
	}), db
}

func (f *agentFixture) specification(t *testing.T, algorithm string) *spec.Specification {
	s, err := spec.Parse([]byte(`
requestName: R
version: 1
tasks:
  - name: /R/Task
    inputDataset: /D/RAW
    splitting: {algorithm: ` + algorithm + `}`))
	require.NoError(t, err)
	require.NoError(t, f.specs.Put(context.Background(), s))
	return s
}

var testCycle = configuration.CycleConfig{Period: time.Second, CleanupPeriod: time.Minute}

func statuses(t *testing.T, db backend.Backend) map[element.Status]int {
	elements, err := db.ListElements(context.Background(), backend.Filter{})
	require.NoError(t, err)
	counts := map[element.Status]int{}
	for _, el := range elements {
		counts[el.Status]++
	}
	return counts
}

func TestAgent_TopLevelCycle(t *testing.T) {
	f := newAgentFixture(2)
	q, db := f.newQueue(t, "global", nil)
	s := f.specification(t, "Block")
	agent := NewAgent(q, []*spec.Specification{s}, configuration.OfferConfig{Slots: map[string]int{"A": 1}}, testCycle, f.clock)
	ctx := queuecontext.Background()

	require.NoError(t, agent.QueueSpecifications(ctx))
	require.NoError(t, agent.QueueSpecifications(ctx))
	require.NoError(t, agent.RunCycle(ctx))
	assert.Equal(t, map[element.Status]int{element.Available: 1, element.Running: 1}, statuses(t, db))

	subscriptions := f.execution.Subscriptions()
	require.Len(t, subscriptions, 1)
	require.NoError(t, f.execution.SetProgress(subscriptions[0].ElementId, execution.Progress{PercentComplete: 100, Finished: true}))

	f.clock.Step(testCycle.Period)
	require.NoError(t, agent.RunCycle(ctx))
	assert.Equal(t, map[element.Status]int{element.Running: 2}, statuses(t, db), "cleanup waits for its period")

	f.clock.Step(testCycle.CleanupPeriod)
	require.NoError(t, agent.RunCycle(ctx))
	assert.Equal(t, map[element.Status]int{element.Running: 1, element.Done: 1}, statuses(t, db))
}

func TestAgent_ChildPullsSplitsAndAdmitsInOneCycle(t *testing.T) {
	f := newAgentFixture(3)
	global, globalDb := f.newQueue(t, "global", nil)
	local, localDb := f.newQueue(t, "local", globalDb)
	s := f.specification(t, "Dataset")
	ctx := queuecontext.Background()

	require.NoError(t, NewAgent(global, []*spec.Specification{s}, configuration.OfferConfig{}, testCycle, f.clock).QueueSpecifications(ctx))
	assert.Equal(t, map[element.Status]int{element.Available: 1}, statuses(t, globalDb))

	agent := NewAgent(local, nil, configuration.OfferConfig{Slots: map[string]int{"A": 10}}, testCycle, f.clock)
	require.NoError(t, agent.RunCycle(ctx))
	assert.Equal(t, map[element.Status]int{element.Running: 3}, statuses(t, localDb))

	// The next cycle reports the local progress to the global element.
	require.NoError(t, agent.RunCycle(ctx))
	assert.Equal(t, map[element.Status]int{element.Running: 1}, statuses(t, globalDb))
}

func TestAgent_RunStopsWhenCancelled(t *testing.T) {
	f := newAgentFixture(1)
	q, db := f.newQueue(t, "global", nil)
	s := f.specification(t, "Block")
	agent := NewAgent(q, []*spec.Specification{s}, configuration.OfferConfig{}, testCycle, f.clock)

	ctx, cancel := queuecontext.WithCancel(queuecontext.Background())
	done := make(chan error)
	go func() { done <- agent.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("agent did not stop")
	}
	assert.Equal(t, map[element.Status]int{element.Available: 1}, statuses(t, db))
}
