package queue

import (
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/armadaproject/workqueue/internal/common/queuecontext"
	"github.com/armadaproject/workqueue/internal/common/wqerrors"
	"github.com/armadaproject/workqueue/internal/workqueue/backend"
	"github.com/armadaproject/workqueue/internal/workqueue/conflict"
	"github.com/armadaproject/workqueue/internal/workqueue/element"
)

// Sync runs one synchronization round with the parent instance:
//
//  1. stubs whose parent element is still claimed by this instance are confirmed; stubs
//     whose parent element was reset, claimed by another instance or deleted are
//     cancelled along with their elements
//  2. cancellation and priority changes of parent elements are applied to the stubs and
//     their elements
//  3. cancel-requested elements that no child instance has claimed are cancelled
//  4. progress is rolled up into the inbox records and, for stubs, reported to the
//     parent element
//
// At the top of the tree only steps 3 and 4 apply. Running Sync bottom-up across the tree
// once after a cancellation leaves every record of the request Canceled.
func (q *Queue) Sync(ctx *queuecontext.Context) error {
	ctx = q.logContext(ctx)
	var result *multierror.Error
	if !q.IsTop() {
		result = multierror.Append(result, q.syncFromParent(ctx))
	}
	result = multierror.Append(result, q.cancelUnclaimed(ctx))
	result = multierror.Append(result, q.rollup(ctx))
	if !q.IsTop() {
		result = multierror.Append(result, q.reportToParent(ctx))
	}
	return result.ErrorOrNil()
}

// Stubs are independent of each other, so they are synced in parallel.
const syncParallelism = 8

func (q *Queue) syncFromParent(ctx *queuecontext.Context) error {
	stubs, err := q.db.ListInbox(ctx, backend.Filter{})
	if err != nil {
		return err
	}
	g, groupCtx := queuecontext.ErrGroup(ctx)
	g.SetLimit(syncParallelism)
	for _, stub := range stubs {
		if !stub.IsStub() || stub.Status.IsTerminal() {
			continue
		}
		stub := stub
		g.Go(func() error {
			stubCtx := queuecontext.WithLogFields(groupCtx, map[string]interface{}{"request": stub.RequestName, "element": stub.Id})
			return q.syncStub(stubCtx, stub)
		})
	}
	return g.Wait()
}

// owns returns true if parentEl is claimed by this instance.
func (q *Queue) owns(parentEl *element.Element) bool {
	return parentEl != nil && parentEl.ChildQueueURL == q.config.QueueURL && parentEl.Status != element.Available
}

func (q *Queue) parentElement(ctx *queuecontext.Context, id string) (*element.Element, error) {
	parentEl, err := q.parent.GetElement(ctx, id)
	if wqerrors.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.WithMessagef(err, "error reading parent element %s", id)
	}
	return parentEl, nil
}

func (q *Queue) syncStub(ctx *queuecontext.Context, stub *element.Inbox) error {
	parentEl, err := q.parentElement(ctx, stub.ParentElementId)
	if err != nil {
		return err
	}

	if !q.owns(parentEl) {
		ctx.Log.Warn("Parent element is no longer claimed by this queue, cancelling its local work")
		return q.cancelStub(ctx, stub.Id)
	}

	if stub.Status == element.Negotiating {
		if _, err := backend.UpdateInbox(ctx, q.db, stub.Id, func(inbox *element.Inbox) error {
			if inbox.Status != element.Negotiating {
				return backend.ErrSkip
			}
			inbox.UpdateTime = q.deps.Clock.Now()
			return inbox.SetStatus(element.Acquired)
		}); err != nil {
			return err
		}
	}

	if parentEl.Status.IsCancelling() {
		if err := q.cancelStub(ctx, stub.Id); err != nil {
			return err
		}
	}
	if parentEl.Priority != stub.Priority {
		if err := q.setStubPriority(ctx, stub.Id, parentEl.Priority); err != nil {
			return err
		}
	}
	return nil
}

// cancelStub requests cancellation of a stub and of the elements split from it. A stub
// whose elements have all completed keeps its completion.
func (q *Queue) cancelStub(ctx *queuecontext.Context, id string) error {
	current, err := q.db.GetInbox(ctx, id)
	if err != nil {
		return err
	}
	elements, err := q.elementsOf(ctx, current)
	if err != nil {
		return err
	}
	if allDone(elements) {
		ctx.Log.Info("Ignoring cancellation of completed work")
		return nil
	}
	if _, err := backend.UpdateInbox(ctx, q.db, id, func(inbox *element.Inbox) error {
		if inbox.Status.IsTerminal() || inbox.Status.IsCancelling() {
			return backend.ErrSkip
		}
		inbox.UpdateTime = q.deps.Clock.Now()
		return inbox.SetStatus(element.CancelRequested)
	}); err != nil {
		return err
	}
	_, err = q.requestCancel(ctx, elements)
	return err
}

func allDone(elements []*element.Element) bool {
	for _, el := range elements {
		if el.Status != element.Done {
			return false
		}
	}
	return len(elements) > 0
}

func (q *Queue) setStubPriority(ctx *queuecontext.Context, id string, priority int32) error {
	stub, err := backend.UpdateInbox(ctx, q.db, id, func(inbox *element.Inbox) error {
		inbox.Priority = priority
		return nil
	})
	if err != nil {
		return err
	}
	elements, err := q.elementsOf(ctx, stub)
	if err != nil {
		return err
	}
	return q.setElementPriority(ctx, elements, priority)
}

// requestCancel moves elements that are neither terminal nor already cancelling to
// CancelRequested, returning those it moved.
func (q *Queue) requestCancel(ctx *queuecontext.Context, elements []*element.Element) ([]*element.Element, error) {
	var result *multierror.Error
	cancelled := make([]*element.Element, 0, len(elements))
	for _, el := range elements {
		if el.Status.IsTerminal() || el.Status.IsCancelling() {
			continue
		}
		moved := false
		updated, err := backend.UpdateElement(ctx, q.db, el.Id, func(el *element.Element) error {
			moved = false
			if el.Status.IsTerminal() || el.Status.IsCancelling() {
				return backend.ErrSkip
			}
			moved = true
			el.UpdateTime = q.deps.Clock.Now()
			return el.SetStatus(element.CancelRequested)
		})
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		if moved {
			cancelled = append(cancelled, updated)
		}
	}
	return cancelled, result.ErrorOrNil()
}

func (q *Queue) setElementPriority(ctx *queuecontext.Context, elements []*element.Element, priority int32) error {
	var result *multierror.Error
	for _, el := range elements {
		if el.Priority == priority {
			continue
		}
		_, err := backend.UpdateElement(ctx, q.db, el.Id, func(el *element.Element) error {
			if el.Priority == priority {
				return backend.ErrSkip
			}
			el.Priority = priority
			el.UpdateTime = q.deps.Clock.Now()
			return nil
		})
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// cancelUnclaimed cancels every cancel-requested element that is not claimed by a child
// instance. Elements already handed to the execution layer are cancelled too; stopping
// their jobs is up to that layer.
func (q *Queue) cancelUnclaimed(ctx *queuecontext.Context) error {
	elements, err := q.db.ListElements(ctx, backend.Filter{Statuses: []element.Status{element.CancelRequested}})
	if err != nil {
		return err
	}
	var result *multierror.Error
	cancelled := 0
	for _, el := range elements {
		if el.ChildQueueURL != "" {
			continue
		}
		_, err := backend.UpdateElement(ctx, q.db, el.Id, func(el *element.Element) error {
			if el.Status != element.CancelRequested || el.ChildQueueURL != "" {
				return backend.ErrSkip
			}
			el.UpdateTime = q.deps.Clock.Now()
			return el.SetStatus(element.Canceled)
		})
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		cancelled++
	}
	q.countCanceled(cancelled)
	return result.ErrorOrNil()
}

// rollup derives the status and progress of every active inbox record from its elements.
func (q *Queue) rollup(ctx *queuecontext.Context) error {
	inboxes, err := q.db.ListInbox(ctx, backend.Filter{Statuses: []element.Status{element.Running, element.CancelRequested}})
	if err != nil {
		return err
	}
	var result *multierror.Error
	for _, inbox := range inboxes {
		elements, err := q.elementsOf(ctx, inbox)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		progress := rolledUpProgress(inbox, elements)
		_, err = backend.UpdateInbox(ctx, q.db, inbox.Id, func(current *element.Inbox) error {
			merged, changed := conflict.ResolveInbox(current, progress)
			if !changed {
				return backend.ErrSkip
			}
			merged.UpdateTime = q.deps.Clock.Now()
			*current = *merged
			return nil
		})
		if err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// rolledUpProgress computes what the elements of an inbox say about it. Percentages are
// averaged, weighted by estimated jobs. Once every element is terminal, any Done element
// makes the inbox Done, even if a cancellation arrived later.
func rolledUpProgress(inbox *element.Inbox, elements []*element.Element) conflict.Progress {
	progress := conflict.Progress{Status: inbox.Status}
	allTerminal := true
	anyDone := false
	var jobs, complete, success float64
	for _, el := range elements {
		allTerminal = allTerminal && el.Status.IsTerminal()
		anyDone = anyDone || el.Status == element.Done
		weight := float64(el.EstimatedJobs())
		jobs += weight
		complete += weight * el.PercentComplete
		success += weight * el.PercentSuccess
	}
	if jobs > 0 {
		progress.PercentComplete = complete / jobs
		progress.PercentSuccess = success / jobs
	}
	switch {
	case !allTerminal:
	case inbox.Status == element.CancelRequested && anyDone:
		progress.Status = element.Done
	case inbox.Status == element.CancelRequested:
		progress.Status = element.Canceled
	case inbox.OpenForNewData:
	case anyDone || len(elements) == 0:
		progress.Status = element.Done
	default:
		progress.Status = element.Canceled
	}
	return progress
}

// reportToParent merges the progress of every stub into its parent element, while the
// parent element is still claimed by this instance.
func (q *Queue) reportToParent(ctx *queuecontext.Context) error {
	stubs, err := q.db.ListInbox(ctx, backend.Filter{})
	if err != nil {
		return err
	}
	var result *multierror.Error
	for _, stub := range stubs {
		if !stub.IsStub() {
			continue
		}
		reported := &element.Element{
			Id:              stub.ParentElementId,
			Status:          stub.Status,
			PercentComplete: stub.PercentComplete,
			PercentSuccess:  stub.PercentSuccess,
		}
		_, err := backend.UpdateElement(ctx, q.parent, stub.ParentElementId, func(parentEl *element.Element) error {
			if !q.owns(parentEl) {
				return backend.ErrSkip
			}
			merged, changed := conflict.ResolveElement(parentEl, reported)
			if !changed {
				return backend.ErrSkip
			}
			merged.UpdateTime = q.deps.Clock.Now()
			*parentEl = *merged
			return nil
		})
		if err != nil && !wqerrors.IsNotFound(err) {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
