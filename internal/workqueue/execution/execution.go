// Package execution defines the layer that turns admitted elements into running jobs.
package execution

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/armadaproject/workqueue/internal/common/util"
	"github.com/armadaproject/workqueue/internal/common/wqerrors"
	"github.com/armadaproject/workqueue/internal/workqueue/element"
)

// Progress of the jobs created for an element.
type Progress struct {
	PercentComplete float64
	PercentSuccess  float64
	// True once no job of the element is pending or running.
	Finished bool
}

type Layer interface {
	// Subscribe hands el to the execution layer to run at site and returns a handle for
	// following its progress.
	Subscribe(ctx context.Context, el *element.Element, site string) (string, error)
	Progress(ctx context.Context, subscriptionId string) (Progress, error)
}

// Subscription is what the in-memory layer knows about a handed over element.
type Subscription struct {
	Id        string
	ElementId string
	Site      string
	Progress  Progress
}

// Memory is a Layer that only records subscriptions. Progress is reported through
// SetProgress. It is used when the queue runs standalone and in tests.
type Memory struct {
	mu            sync.Mutex
	subscriptions map[string]*Subscription
	byElement     map[string]string
	failing       map[string]error
}

func NewMemory() *Memory {
	return &Memory{
		subscriptions: map[string]*Subscription{},
		byElement:     map[string]string{},
		failing:       map[string]error{},
	}
}

func (m *Memory) Subscribe(_ context.Context, el *element.Element, site string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.failing[el.Id]; ok {
		return "", err
	}
	sub := &Subscription{Id: util.NewULID(), ElementId: el.Id, Site: site}
	m.subscriptions[sub.Id] = sub
	m.byElement[el.Id] = sub.Id
	return sub.Id, nil
}

func (m *Memory) Progress(_ context.Context, subscriptionId string) (Progress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subscriptions[subscriptionId]
	if !ok {
		return Progress{}, errors.WithStack(&wqerrors.ErrNotFound{Table: "subscriptions", Id: subscriptionId})
	}
	return sub.Progress, nil
}

// SetProgress records progress for the subscription of an element.
func (m *Memory) SetProgress(elementId string, progress Progress) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byElement[elementId]
	if !ok {
		return errors.WithStack(&wqerrors.ErrNotFound{Table: "subscriptions", Id: elementId})
	}
	m.subscriptions[id].Progress = progress
	return nil
}

// FailSubscriptions makes Subscribe return err for the given elements.
func (m *Memory) FailSubscriptions(err error, elementIds ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range elementIds {
		m.failing[id] = err
	}
}

// Subscriptions returns a copy of every subscription made so far.
func (m *Memory) Subscriptions() []Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]Subscription, 0, len(m.subscriptions))
	for _, sub := range m.subscriptions {
		result = append(result, *sub)
	}
	return result
}
