// Package queue implements a work queue instance: one node of the tree of queues through
// which work elements flow from the top, where requests are split, to the bottom, where
// elements are handed to the execution layer.
//
// A Queue owns the records of its own backend. Below the top it also reads and writes the
// records of its parent's backend, to claim elements and to report their progress.
// All writes are compare-and-swap; a Queue holds no locks of its own, and any number of
// Queue values may act on the same backends concurrently.
package queue

import (
	"strings"

	"github.com/pkg/errors"
	"k8s.io/utils/clock"

	"github.com/armadaproject/workqueue/internal/common/queuecontext"
	"github.com/armadaproject/workqueue/internal/workqueue/admission"
	"github.com/armadaproject/workqueue/internal/workqueue/backend"
	"github.com/armadaproject/workqueue/internal/workqueue/element"
	"github.com/armadaproject/workqueue/internal/workqueue/execution"
	"github.com/armadaproject/workqueue/internal/workqueue/lifecycle"
	"github.com/armadaproject/workqueue/internal/workqueue/location"
	"github.com/armadaproject/workqueue/internal/workqueue/monitor"
	"github.com/armadaproject/workqueue/internal/workqueue/spec"
)

type Config struct {
	// Name of this instance. Elements it claims from its parent carry it as ChildQueueURL.
	QueueURL string
	// Name of the parent instance. Empty at the top.
	ParentQueueURL string
	// Maximum number of elements admitted or pulled per call. Zero means no limit.
	MaxElements int
}

// Dependencies are the collaborators of a Queue. Counters may be nil.
type Dependencies struct {
	Specs        spec.Store
	Locations    location.Service
	Resubmission location.ResubmissionService
	Execution    execution.Layer
	Lifecycle    lifecycle.Tracker
	Gate         admission.PriorityGate
	Clock        clock.Clock
	Counters     *monitor.Counters
}

type Queue struct {
	config  Config
	db      backend.Backend
	parent  backend.Backend
	deps    Dependencies
	matcher *admission.Matcher
}

// New returns a queue instance storing its records in db. parent is the backend of the
// parent instance, or nil at the top of the tree.
func New(config Config, db backend.Backend, parent backend.Backend, deps Dependencies) *Queue {
	if deps.Clock == nil {
		deps.Clock = clock.RealClock{}
	}
	if deps.Gate == nil {
		deps.Gate = admission.ReservationGate{}
	}
	return &Queue{
		config:  config,
		db:      db,
		parent:  parent,
		deps:    deps,
		matcher: &admission.Matcher{Gate: deps.Gate, MaxElements: config.MaxElements},
	}
}

func (q *Queue) URL() string {
	return q.config.QueueURL
}

// IsTop returns true for the instance at the top of the tree, which splits requests.
func (q *Queue) IsTop() bool {
	return q.parent == nil
}

func (q *Queue) logContext(ctx *queuecontext.Context) *queuecontext.Context {
	return queuecontext.WithLogField(ctx, "queue", q.config.QueueURL)
}

// The processed inputs of a top-level inbox cover every task of the request, so they are
// recorded as task|input.
const processedSeparator = "|"

func processedKey(task, input string) string {
	return task + processedSeparator + input
}

func processedForTask(processed []string, task string) []string {
	prefix := task + processedSeparator
	var result []string
	for _, p := range processed {
		if strings.HasPrefix(p, prefix) {
			result = append(result, strings.TrimPrefix(p, prefix))
		}
	}
	return result
}

func processedKeys(task string, inputs []string) []string {
	result := make([]string, 0, len(inputs))
	for _, input := range inputs {
		result = append(result, processedKey(task, input))
	}
	return result
}

// requestRecords returns every inbox record and element of a request held by this instance.
func (q *Queue) requestRecords(ctx *queuecontext.Context, requestName string) ([]*element.Inbox, []*element.Element, error) {
	filter := backend.Filter{RequestName: requestName}
	inboxes, err := q.db.ListInbox(ctx, filter)
	if err != nil {
		return nil, nil, err
	}
	elements, err := q.db.ListElements(ctx, filter)
	if err != nil {
		return nil, nil, err
	}
	return inboxes, elements, nil
}

// elementsOf returns the elements split from an inbox record.
func (q *Queue) elementsOf(ctx *queuecontext.Context, inbox *element.Inbox) ([]*element.Element, error) {
	if inbox.IsStub() {
		return q.db.ListElements(ctx, backend.Filter{RequestName: inbox.RequestName, ParentElementId: inbox.Id})
	}
	return q.db.ListElements(ctx, backend.Filter{RequestName: inbox.RequestName})
}

func (q *Queue) loadSpec(ctx *queuecontext.Context, ref string) (*spec.Specification, error) {
	s, err := q.deps.Specs.Get(ctx, ref)
	if err != nil {
		return nil, errors.WithMessagef(err, "error loading specification %s", ref)
	}
	return s, nil
}

func (q *Queue) countCreated(n int) {
	if q.deps.Counters != nil && n > 0 {
		q.deps.Counters.Created.WithLabelValues(q.config.QueueURL).Add(float64(n))
	}
}

func (q *Queue) countCanceled(n int) {
	if q.deps.Counters != nil && n > 0 {
		q.deps.Counters.Canceled.WithLabelValues(q.config.QueueURL).Add(float64(n))
	}
}
