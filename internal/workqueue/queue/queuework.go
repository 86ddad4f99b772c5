package queue

import (
	"github.com/pkg/errors"

	"github.com/armadaproject/workqueue/internal/common/queuecontext"
	"github.com/armadaproject/workqueue/internal/common/wqerrors"
	"github.com/armadaproject/workqueue/internal/workqueue/element"
	"github.com/armadaproject/workqueue/internal/workqueue/spec"
	"github.com/armadaproject/workqueue/internal/workqueue/splitting"
)

// QueueWork splits the request identified by specRef and stores its elements and inbox
// record. It returns the number of elements created. Queueing a request that already has
// an inbox record does nothing. If any task fails validation nothing is stored.
func (q *Queue) QueueWork(ctx *queuecontext.Context, specRef string) (int, error) {
	if !q.IsTop() {
		return 0, errors.Errorf("queue %s has a parent; requests are queued at the top of the tree", q.config.QueueURL)
	}
	s, err := q.loadSpec(ctx, specRef)
	if err != nil {
		return 0, err
	}
	ctx = queuecontext.WithLogField(q.logContext(ctx), "request", s.RequestName)

	inboxId := element.RequestInboxId(s.RequestName)
	if _, err := q.db.GetInbox(ctx, inboxId); err == nil {
		ctx.Log.Infof("Request already queued, ignoring")
		return 0, nil
	} else if !wqerrors.IsNotFound(err) {
		return 0, err
	}

	var elements []*element.Element
	var processed []string
	open := false
	for _, task := range s.Tasks {
		result, err := splitting.Split(ctx, &splitting.Request{
			Spec:         s,
			Task:         task,
			Locations:    q.deps.Locations,
			Resubmission: q.deps.Resubmission,
		})
		if err != nil {
			return 0, errors.WithMessagef(err, "error splitting task %s", task.Name)
		}
		if result.NoWork {
			ctx.Log.WithField("task", task.Name).Infof("No work: %s", result.Reason)
		}
		elements = append(elements, result.Elements...)
		processed = append(processed, processedKeys(task.Name, result.ProcessedInputs)...)
		open = open || isOpen(task)
	}

	now := q.deps.Clock.Now()
	for _, el := range elements {
		el.InsertTime = now
		el.UpdateTime = now
	}
	inserted, err := q.db.InsertElements(ctx, elements...)
	if err != nil {
		return 0, err
	}

	inbox := &element.Inbox{
		Id:              inboxId,
		RequestName:     s.RequestName,
		SpecRef:         s.Ref(),
		Status:          element.Running,
		Priority:        s.Priority,
		SiteWhitelist:   s.SiteWhitelist,
		SiteBlacklist:   s.SiteBlacklist,
		OpenForNewData:  open,
		LastNewDataTime: now,
		InsertTime:      now,
		UpdateTime:      now,
	}
	inbox.AddProcessedInputs(processed...)
	for _, el := range elements {
		inbox.Jobs += el.EstimatedJobs()
	}
	if len(elements) == 0 && !open {
		inbox.Status = element.Done
	}
	if _, err := q.db.InsertInbox(ctx, inbox); err != nil {
		return 0, err
	}
	q.countCreated(len(inserted))
	ctx.Log.Infof("Queued %d elements", len(inserted))
	return len(inserted), nil
}

// isOpen returns true for tasks whose input dataset is watched for new blocks.
func isOpen(task *spec.Task) bool {
	if task.OpenRunningTimeout <= 0 || task.Splitting == nil {
		return false
	}
	switch task.Splitting.Algorithm() {
	case spec.BlockAlgorithm, spec.DatasetAlgorithm, spec.DatasetBlockAlgorithm:
		return true
	default:
		return false
	}
}
