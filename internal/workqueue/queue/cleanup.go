package queue

import (
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/armadaproject/workqueue/internal/common/queuecontext"
	"github.com/armadaproject/workqueue/internal/common/wqerrors"
	"github.com/armadaproject/workqueue/internal/workqueue/backend"
	"github.com/armadaproject/workqueue/internal/workqueue/element"
	"github.com/armadaproject/workqueue/internal/workqueue/splitting"
)

// PerformQueueCleanupActions runs the periodic housekeeping of an instance:
//   - unless skipExecutionCheck is set, progress of subscribed elements is read from the
//     execution layer and finished elements are marked Done
//   - open inbox records are split again to pick up new input, and closed once no new
//     input has arrived for longer than the request's open running timeout
//   - progress is rolled up into the inbox records
//   - requests whose records are all terminal and whose lifecycle allows it are deleted
//
// Every step runs even if an earlier one fails; the errors are returned together.
func (q *Queue) PerformQueueCleanupActions(ctx *queuecontext.Context, skipExecutionCheck bool) error {
	ctx = q.logContext(ctx)
	var result *multierror.Error
	if !skipExecutionCheck {
		result = multierror.Append(result, q.pollExecution(ctx))
	}
	if q.IsTop() {
		result = multierror.Append(result, q.splitOpenInboxes(ctx))
	}
	result = multierror.Append(result, q.rollup(ctx))
	result = multierror.Append(result, q.purge(ctx))
	return result.ErrorOrNil()
}

func (q *Queue) pollExecution(ctx *queuecontext.Context) error {
	elements, err := q.db.ListElements(ctx, backend.Filter{Statuses: []element.Status{element.Running}})
	if err != nil {
		return err
	}
	var result *multierror.Error
	finished := 0
	for _, el := range elements {
		if el.SubscriptionId == "" || el.ChildQueueURL != "" {
			continue
		}
		elCtx := queuecontext.WithLogField(ctx, "element", el.Id)
		progress, err := q.deps.Execution.Progress(elCtx, el.SubscriptionId)
		if wqerrors.IsNotFound(err) {
			elCtx.Log.Warnf("Execution layer has no subscription %s", el.SubscriptionId)
			continue
		}
		if err != nil {
			result = multierror.Append(result, errors.WithMessagef(err, "error reading progress of element %s", el.Id))
			continue
		}
		_, err = backend.UpdateElement(elCtx, q.db, el.Id, func(el *element.Element) error {
			if el.Status != element.Running {
				return backend.ErrSkip
			}
			el.PercentComplete = progress.PercentComplete
			el.PercentSuccess = progress.PercentSuccess
			el.UpdateTime = q.deps.Clock.Now()
			if progress.Finished {
				return el.SetStatus(element.Done)
			}
			return nil
		})
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		if progress.Finished {
			finished++
		}
	}
	if finished > 0 {
		ctx.Log.Infof("%d elements finished", finished)
	}
	return result.ErrorOrNil()
}

func (q *Queue) splitOpenInboxes(ctx *queuecontext.Context) error {
	inboxes, err := q.db.ListInbox(ctx, backend.Filter{Statuses: []element.Status{element.Running}})
	if err != nil {
		return err
	}
	var result *multierror.Error
	for _, inbox := range inboxes {
		if inbox.IsStub() || !inbox.OpenForNewData {
			continue
		}
		inboxCtx := queuecontext.WithLogField(ctx, "request", inbox.RequestName)
		if err := q.splitOpenInbox(inboxCtx, inbox); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// splitOpenInbox splits the open tasks of a request again, skipping processed input.
func (q *Queue) splitOpenInbox(ctx *queuecontext.Context, inbox *element.Inbox) error {
	s, err := q.loadSpec(ctx, inbox.SpecRef)
	if err != nil {
		return err
	}
	var elements []*element.Element
	var processed []string
	var timeout time.Duration
	for _, task := range s.Tasks {
		if !isOpen(task) {
			continue
		}
		if task.OpenRunningTimeout > timeout {
			timeout = task.OpenRunningTimeout
		}
		split, err := splitting.Split(ctx, &splitting.Request{
			Spec:            s,
			Task:            task,
			Locations:       q.deps.Locations,
			Resubmission:    q.deps.Resubmission,
			ProcessedInputs: processedForTask(inbox.ProcessedInputs, task.Name),
		})
		if err != nil {
			return errors.WithMessagef(err, "error splitting task %s", task.Name)
		}
		elements = append(elements, split.Elements...)
		processed = append(processed, processedKeys(task.Name, split.ProcessedInputs)...)
	}

	now := q.deps.Clock.Now()
	for _, el := range elements {
		el.Priority = inbox.Priority
		el.InsertTime = now
		el.UpdateTime = now
	}
	inserted, err := q.db.InsertElements(ctx, elements...)
	if err != nil {
		return err
	}
	q.countCreated(len(inserted))

	_, err = backend.UpdateInbox(ctx, q.db, inbox.Id, func(inbox *element.Inbox) error {
		if !inbox.OpenForNewData || inbox.Status != element.Running {
			return backend.ErrSkip
		}
		inbox.AddProcessedInputs(processed...)
		for _, el := range inserted {
			inbox.Jobs += el.EstimatedJobs()
		}
		if len(inserted) > 0 {
			inbox.LastNewDataTime = now
		} else if now.Sub(inbox.LastNewDataTime) > timeout {
			inbox.OpenForNewData = false
			ctx.Log.Infof("No new input for %s, closing request for new data", now.Sub(inbox.LastNewDataTime))
		}
		inbox.UpdateTime = now
		return nil
	})
	if err != nil {
		return err
	}
	if len(inserted) > 0 {
		ctx.Log.Infof("Queued %d elements for new input", len(inserted))
	}
	return nil
}

// CloseRequest stops an open request from picking up new input.
func (q *Queue) CloseRequest(ctx *queuecontext.Context, requestName string) error {
	inbox, err := q.db.GetInbox(ctx, element.RequestInboxId(requestName))
	if wqerrors.IsNotFound(err) {
		return &wqerrors.ErrUnknownRequest{Request: requestName, Queue: q.config.QueueURL}
	}
	if err != nil {
		return err
	}
	_, err = backend.UpdateInbox(ctx, q.db, inbox.Id, func(inbox *element.Inbox) error {
		if !inbox.OpenForNewData {
			return backend.ErrSkip
		}
		inbox.OpenForNewData = false
		inbox.UpdateTime = q.deps.Clock.Now()
		return nil
	})
	return err
}

func (q *Queue) purge(ctx *queuecontext.Context) error {
	inboxes, err := q.db.ListInbox(ctx, backend.Filter{Statuses: []element.Status{element.Done, element.Canceled}})
	if err != nil {
		return err
	}
	seen := map[string]bool{}
	var result *multierror.Error
	for _, inbox := range inboxes {
		if seen[inbox.RequestName] {
			continue
		}
		seen[inbox.RequestName] = true
		requestCtx := queuecontext.WithLogField(ctx, "request", inbox.RequestName)
		err := q.deleteRequest(requestCtx, inbox.RequestName, false)
		var notArchivable *wqerrors.ErrNotArchivable
		if errors.As(err, &notArchivable) {
			requestCtx.Log.Debugf("Not purged: %s", err)
			continue
		}
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}
