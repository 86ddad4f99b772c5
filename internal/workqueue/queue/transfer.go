package queue

import (
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/armadaproject/workqueue/internal/common/queuecontext"
	"github.com/armadaproject/workqueue/internal/workqueue/backend"
	"github.com/armadaproject/workqueue/internal/workqueue/element"
	"github.com/armadaproject/workqueue/internal/workqueue/splitting"
)

// GetWork admits Available elements into the offered slots and hands them to the
// execution layer. Admitted elements move to Running. An element the execution layer
// refuses is returned to Available and its error collected; the admitted elements are
// returned alongside any errors.
func (q *Queue) GetWork(ctx *queuecontext.Context, slots map[string]int, runningByPriority map[string]map[int32]int) ([]*element.Element, error) {
	ctx = q.logContext(ctx)
	candidates, err := q.db.ListElements(ctx, backend.Filter{Statuses: []element.Status{element.Available}})
	if err != nil {
		return nil, err
	}
	match := q.matcher.Match(candidates, slots, runningByPriority)
	for id, reason := range match.Unmatched {
		ctx.Log.WithField("element", id).Debugf("Not admitted: %s", reason)
	}

	var result *multierror.Error
	admitted := make([]*element.Element, 0, len(match.Assignments))
	for _, assignment := range match.Assignments {
		el, err := q.admit(ctx, assignment.Element.Id, assignment.Site)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		if el != nil {
			admitted = append(admitted, el)
			if q.deps.Counters != nil {
				q.deps.Counters.Admitted.WithLabelValues(q.config.QueueURL, assignment.Site).Inc()
			}
		}
	}
	if len(admitted) > 0 {
		ctx.Log.Infof("Admitted %d elements", len(admitted))
	}
	return admitted, result.ErrorOrNil()
}

// admit claims one element and subscribes it. It returns nil if another caller claimed
// the element first.
func (q *Queue) admit(ctx *queuecontext.Context, id string, site string) (*element.Element, error) {
	ctx = queuecontext.WithLogField(ctx, "element", id)
	claimed := false
	el, err := backend.UpdateElement(ctx, q.db, id, func(el *element.Element) error {
		claimed = false
		if el.Status != element.Available {
			return backend.ErrSkip
		}
		claimed = true
		el.UpdateTime = q.deps.Clock.Now()
		return el.SetStatus(element.Running)
	})
	if err != nil || !claimed {
		return nil, err
	}

	subscriptionId, err := q.deps.Execution.Subscribe(ctx, el, site)
	if err != nil {
		ctx.Log.WithError(err).Warnf("Execution layer refused element at %s, returning it to Available", site)
		if _, resetErr := backend.UpdateElement(ctx, q.db, id, func(el *element.Element) error {
			if !el.Reset() {
				return backend.ErrSkip
			}
			return nil
		}); resetErr != nil {
			err = multierror.Append(err, resetErr)
		}
		return nil, errors.WithMessagef(err, "error subscribing element %s at %s", id, site)
	}

	return backend.UpdateElement(ctx, q.db, id, func(el *element.Element) error {
		el.SubscriptionId = subscriptionId
		return nil
	})
}

// PullWork claims Available elements of the parent instance for the offered slots and
// records an inbox stub in Negotiating for each. Stubs are confirmed by the next Sync.
// It returns the number of elements claimed.
func (q *Queue) PullWork(ctx *queuecontext.Context, slots map[string]int, runningByPriority map[string]map[int32]int) (int, error) {
	if q.IsTop() {
		return 0, errors.Errorf("queue %s has no parent to pull work from", q.config.QueueURL)
	}
	ctx = q.logContext(ctx)
	candidates, err := q.parent.ListElements(ctx, backend.Filter{Statuses: []element.Status{element.Available}})
	if err != nil {
		return 0, errors.WithMessage(err, "error listing parent elements")
	}
	match := q.matcher.Match(candidates, slots, runningByPriority)

	var result *multierror.Error
	pulled := 0
	for _, assignment := range match.Assignments {
		ok, err := q.pull(ctx, assignment.Element.Id)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		if ok {
			pulled++
			if q.deps.Counters != nil {
				q.deps.Counters.Pulled.WithLabelValues(q.config.QueueURL, assignment.Site).Inc()
			}
		}
	}
	if pulled > 0 {
		ctx.Log.Infof("Pulled %d elements from %s", pulled, q.config.ParentQueueURL)
	}
	return pulled, result.ErrorOrNil()
}

func (q *Queue) pull(ctx *queuecontext.Context, id string) (bool, error) {
	ctx = queuecontext.WithLogField(ctx, "element", id)
	now := q.deps.Clock.Now()
	claimed := false
	parentEl, err := backend.UpdateElement(ctx, q.parent, id, func(el *element.Element) error {
		claimed = false
		if el.Status != element.Available {
			return backend.ErrSkip
		}
		claimed = true
		el.ChildQueueURL = q.config.QueueURL
		el.UpdateTime = now
		return el.SetStatus(element.Acquired)
	})
	if err != nil || !claimed {
		return false, err
	}

	recorded, err := q.recordStub(ctx, element.StubFromElement(parentEl, q.config.ParentQueueURL, now))
	if err == nil && recorded {
		return true, nil
	}
	if err != nil {
		ctx.Log.WithError(err).Warn("Could not record pulled element, releasing it")
	} else {
		ctx.Log.Info("Earlier work on this element is still being cancelled, releasing it")
	}
	if _, releaseErr := backend.UpdateElement(ctx, q.parent, id, func(el *element.Element) error {
		if el.ChildQueueURL != q.config.QueueURL || !el.Reset() {
			return backend.ErrSkip
		}
		return nil
	}); releaseErr != nil {
		err = multierror.Append(err, releaseErr)
	}
	if err != nil {
		return false, errors.WithMessagef(err, "error recording pulled element %s", id)
	}
	return false, nil
}

// recordStub stores the stub of a freshly claimed parent element. A stub left over from
// an earlier claim of the same element is kept while it is still live. Once it and its
// elements are finished it is replaced, and its elements deleted, so the element is split
// again from scratch. It returns false if the earlier work has not finished cancelling.
func (q *Queue) recordStub(ctx *queuecontext.Context, stub *element.Inbox) (bool, error) {
	inserted, err := q.db.InsertInbox(ctx, stub)
	if err != nil || inserted {
		return inserted, err
	}
	existing, err := q.db.GetInbox(ctx, stub.Id)
	if err != nil {
		return false, err
	}
	if !existing.Status.IsTerminal() && !existing.Status.IsCancelling() {
		return true, nil
	}
	elements, err := q.elementsOf(ctx, existing)
	if err != nil {
		return false, err
	}
	ids := make([]string, 0, len(elements))
	for _, el := range elements {
		if !el.Status.IsTerminal() {
			return false, nil
		}
		ids = append(ids, el.Id)
	}
	if err := q.db.DeleteElements(ctx, ids...); err != nil {
		return false, err
	}
	stub.Revision = existing.Revision
	if _, err := q.db.SwapInbox(ctx, stub); err != nil {
		return false, err
	}
	ctx.Log.Infof("Replaced stub from an earlier claim, dropping %d finished elements", len(ids))
	return true, nil
}

// ProcessInboundWork splits every confirmed inbox stub into local elements, restricted to
// the stub's input and skipping inputs already split. Processed stubs move to Running.
// It returns the number of elements created.
func (q *Queue) ProcessInboundWork(ctx *queuecontext.Context) (int, error) {
	ctx = q.logContext(ctx)
	stubs, err := q.db.ListInbox(ctx, backend.Filter{Statuses: []element.Status{element.Acquired}})
	if err != nil {
		return 0, err
	}
	var result *multierror.Error
	created := 0
	for _, stub := range stubs {
		if !stub.IsStub() {
			continue
		}
		n, err := q.processStub(queuecontext.WithLogFields(ctx, map[string]interface{}{
			"request": stub.RequestName,
			"element": stub.Id,
		}), stub)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		created += n
	}
	q.countCreated(created)
	return created, result.ErrorOrNil()
}

func (q *Queue) processStub(ctx *queuecontext.Context, stub *element.Inbox) (int, error) {
	s, err := q.loadSpec(ctx, stub.SpecRef)
	if err != nil {
		return 0, err
	}
	task := s.Task(stub.TaskName)
	if task == nil {
		return 0, errors.Errorf("specification %s has no task %s", stub.SpecRef, stub.TaskName)
	}
	split, err := splitting.Split(ctx, &splitting.Request{
		Spec:            s,
		Task:            task,
		Locations:       q.deps.Locations,
		Resubmission:    q.deps.Resubmission,
		ProcessedInputs: stub.ProcessedInputs,
		Restriction:     splitting.RestrictionFromInbox(stub),
	})
	if err != nil {
		return 0, errors.WithMessagef(err, "error splitting pulled element %s", stub.Id)
	}
	if split.NoWork {
		ctx.Log.Infof("No work: %s", split.Reason)
	}

	now := q.deps.Clock.Now()
	for _, el := range split.Elements {
		el.ParentQueueURL = stub.ParentQueueURL
		el.Priority = stub.Priority
		el.SiteWhitelist = stub.SiteWhitelist
		el.SiteBlacklist = stub.SiteBlacklist
		el.InsertTime = now
		el.UpdateTime = now
	}
	inserted, err := q.db.InsertElements(ctx, split.Elements...)
	if err != nil {
		return 0, err
	}
	_, err = backend.UpdateInbox(ctx, q.db, stub.Id, func(inbox *element.Inbox) error {
		if inbox.Status != element.Acquired {
			return backend.ErrSkip
		}
		inbox.AddProcessedInputs(split.ProcessedInputs...)
		inbox.UpdateTime = now
		return inbox.SetStatus(element.Running)
	})
	if err != nil {
		return 0, err
	}
	ctx.Log.Infof("Split pulled element into %d elements", len(inserted))
	return len(inserted), nil
}
