package queue

import (
	"sort"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/armadaproject/workqueue/internal/common/queuecontext"
	"github.com/armadaproject/workqueue/internal/common/wqerrors"
	"github.com/armadaproject/workqueue/internal/workqueue/backend"
	"github.com/armadaproject/workqueue/internal/workqueue/element"
	"github.com/armadaproject/workqueue/internal/workqueue/monitor"
)

// CancelWork requests cancellation of the given elements. Elements that are terminal or
// already cancelling are left alone. It returns the elements it moved to CancelRequested.
func (q *Queue) CancelWork(ctx *queuecontext.Context, ids ...string) ([]*element.Element, error) {
	ctx = q.logContext(ctx)
	elements, err := q.db.ListElements(ctx, backend.Filter{Ids: ids})
	if err != nil {
		return nil, err
	}
	cancelled, err := q.requestCancel(ctx, elements)
	if len(cancelled) > 0 {
		ctx.Log.Infof("Requested cancellation of %d elements", len(cancelled))
	}
	return cancelled, err
}

// CancelRequest requests cancellation of every record of a request held by this instance.
// Cancellation of elements claimed by child instances is completed by their Sync.
func (q *Queue) CancelRequest(ctx *queuecontext.Context, requestName string) error {
	ctx = queuecontext.WithLogField(q.logContext(ctx), "request", requestName)
	inboxes, elements, err := q.requestRecords(ctx, requestName)
	if err != nil {
		return err
	}
	if len(inboxes) == 0 && len(elements) == 0 {
		return &wqerrors.ErrUnknownRequest{Request: requestName, Queue: q.config.QueueURL}
	}

	var result *multierror.Error
	for _, inbox := range inboxes {
		_, err := backend.UpdateInbox(ctx, q.db, inbox.Id, func(inbox *element.Inbox) error {
			if inbox.Status.IsTerminal() || inbox.Status.IsCancelling() {
				return backend.ErrSkip
			}
			inbox.UpdateTime = q.deps.Clock.Now()
			return inbox.SetStatus(element.CancelRequested)
		})
		result = multierror.Append(result, err)
	}
	cancelled, err := q.requestCancel(ctx, elements)
	result = multierror.Append(result, err)
	ctx.Log.Infof("Requested cancellation of %d elements", len(cancelled))
	return result.ErrorOrNil()
}

// SetPriority changes the priority of every record of a request held by this instance.
// Child instances pick the change up on their next Sync. An unknown request changes nothing.
func (q *Queue) SetPriority(ctx *queuecontext.Context, requestName string, priority int32) error {
	ctx = queuecontext.WithLogField(q.logContext(ctx), "request", requestName)
	inboxes, elements, err := q.requestRecords(ctx, requestName)
	if err != nil {
		return err
	}
	if len(inboxes) == 0 && len(elements) == 0 {
		return &wqerrors.ErrUnknownRequest{Request: requestName, Queue: q.config.QueueURL}
	}

	var result *multierror.Error
	for _, inbox := range inboxes {
		_, err := backend.UpdateInbox(ctx, q.db, inbox.Id, func(inbox *element.Inbox) error {
			if inbox.Priority == priority {
				return backend.ErrSkip
			}
			inbox.Priority = priority
			inbox.UpdateTime = q.deps.Clock.Now()
			return nil
		})
		result = multierror.Append(result, err)
	}
	result = multierror.Append(result, q.setElementPriority(ctx, elements, priority))
	ctx.Log.Infof("Priority set to %d", priority)
	return result.ErrorOrNil()
}

// ResetWork returns the given claimed elements to Available so they can be admitted or
// pulled again. A child instance holding a stub for a reset element treats the stub as an
// orphan on its next Sync. Terminal elements are left alone. It returns the elements reset.
func (q *Queue) ResetWork(ctx *queuecontext.Context, ids ...string) ([]*element.Element, error) {
	ctx = q.logContext(ctx)
	var result *multierror.Error
	var reset []*element.Element
	for _, id := range ids {
		wasReset := false
		el, err := backend.UpdateElement(ctx, q.db, id, func(el *element.Element) error {
			wasReset = el.Reset()
			if !wasReset {
				return backend.ErrSkip
			}
			el.UpdateTime = q.deps.Clock.Now()
			return nil
		})
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		if wasReset {
			reset = append(reset, el)
		}
	}
	if len(reset) > 0 {
		ctx.Log.Warnf("Reset %d elements to Available", len(reset))
	}
	return reset, result.ErrorOrNil()
}

// GetInjectionStatus returns true once every input of the request has been split and
// every element has been handed on, i.e. nothing of the request is waiting at this
// instance. Open inbox records keep it false.
func (q *Queue) GetInjectionStatus(ctx *queuecontext.Context, requestName string) (bool, error) {
	inboxes, elements, err := q.requestRecords(ctx, requestName)
	if err != nil {
		return false, err
	}
	if len(inboxes) == 0 {
		return false, &wqerrors.ErrUnknownRequest{Request: requestName, Queue: q.config.QueueURL}
	}
	return injected(inboxes, elements), nil
}

// GetAllInjectionStatus returns the injection status of every request known to this instance.
func (q *Queue) GetAllInjectionStatus(ctx *queuecontext.Context) (map[string]bool, error) {
	inboxes, err := q.db.ListInbox(ctx, backend.Filter{})
	if err != nil {
		return nil, err
	}
	elements, err := q.db.ListElements(ctx, backend.Filter{})
	if err != nil {
		return nil, err
	}
	inboxesByRequest := map[string][]*element.Inbox{}
	for _, inbox := range inboxes {
		inboxesByRequest[inbox.RequestName] = append(inboxesByRequest[inbox.RequestName], inbox)
	}
	elementsByRequest := map[string][]*element.Element{}
	for _, el := range elements {
		elementsByRequest[el.RequestName] = append(elementsByRequest[el.RequestName], el)
	}
	result := make(map[string]bool, len(inboxesByRequest))
	for name, inboxes := range inboxesByRequest {
		result[name] = injected(inboxes, elementsByRequest[name])
	}
	return result, nil
}

func injected(inboxes []*element.Inbox, elements []*element.Element) bool {
	for _, inbox := range inboxes {
		if inbox.OpenForNewData && !inbox.Status.IsTerminal() {
			return false
		}
		if inbox.Status < element.Running {
			return false
		}
	}
	for _, el := range elements {
		if el.Status < element.Running {
			return false
		}
	}
	return true
}

// DeleteWorkflows removes every record of the named requests. A request can only be
// removed once all its records here are terminal and its lifecycle says it is archivable.
// It returns the names of the requests removed.
func (q *Queue) DeleteWorkflows(ctx *queuecontext.Context, requestNames ...string) ([]string, error) {
	ctx = q.logContext(ctx)
	var result *multierror.Error
	var deleted []string
	for _, name := range requestNames {
		if err := q.deleteRequest(queuecontext.WithLogField(ctx, "request", name), name, true); err != nil {
			result = multierror.Append(result, err)
			continue
		}
		deleted = append(deleted, name)
	}
	return deleted, result.ErrorOrNil()
}

// deleteRequest removes the records of a request. Elements go first, so an interrupted
// deletion leaves an inbox record behind and is retried.
func (q *Queue) deleteRequest(ctx *queuecontext.Context, name string, failIfUnknown bool) error {
	inboxes, elements, err := q.requestRecords(ctx, name)
	if err != nil {
		return err
	}
	if len(inboxes) == 0 && len(elements) == 0 {
		if failIfUnknown {
			return &wqerrors.ErrUnknownRequest{Request: name, Queue: q.config.QueueURL}
		}
		return nil
	}
	if !allTerminal(inboxes, elements) {
		return &wqerrors.ErrNotArchivable{Request: name, Message: "request still has active records"}
	}
	archivable, err := q.deps.Lifecycle.IsArchivable(ctx, name)
	if err != nil {
		return errors.WithMessagef(err, "error checking lifecycle of request %s", name)
	}
	if !archivable {
		return &wqerrors.ErrNotArchivable{Request: name, Message: "request is not archivable yet"}
	}

	elementIds := make([]string, 0, len(elements))
	for _, el := range elements {
		elementIds = append(elementIds, el.Id)
	}
	if err := q.db.DeleteElements(ctx, elementIds...); err != nil {
		return err
	}
	inboxIds := make([]string, 0, len(inboxes))
	for _, inbox := range inboxes {
		inboxIds = append(inboxIds, inbox.Id)
	}
	if err := q.db.DeleteInbox(ctx, inboxIds...); err != nil {
		return err
	}
	ctx.Log.Infof("Deleted %d elements and %d inbox records", len(elementIds), len(inboxIds))
	return nil
}

func allTerminal(inboxes []*element.Inbox, elements []*element.Element) bool {
	for _, inbox := range inboxes {
		if !inbox.Status.IsTerminal() {
			return false
		}
	}
	for _, el := range elements {
		if !el.Status.IsTerminal() {
			return false
		}
	}
	return true
}

// MonitorWorkQueue summarises the elements of this instance in the given statuses, or in
// every status if none are given.
func (q *Queue) MonitorWorkQueue(ctx *queuecontext.Context, statuses ...element.Status) (*monitor.Summary, error) {
	elements, err := q.db.ListElements(ctx, backend.Filter{Statuses: statuses})
	if err != nil {
		return nil, err
	}
	return monitor.Summarise(elements), nil
}

// RequestNames returns the sorted names of the requests known to this instance.
func (q *Queue) RequestNames(ctx *queuecontext.Context) ([]string, error) {
	inboxes, err := q.db.ListInbox(ctx, backend.Filter{})
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var names []string
	for _, inbox := range inboxes {
		if !seen[inbox.RequestName] {
			seen[inbox.RequestName] = true
			names = append(names, inbox.RequestName)
		}
	}
	sort.Strings(names)
	return names, nil
}
