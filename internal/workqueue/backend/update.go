package backend

import (
	"context"
	"time"

	"github.com/avast/retry-go"
	"github.com/pkg/errors"

	"github.com/armadaproject/workqueue/internal/common/wqerrors"
	"github.com/armadaproject/workqueue/internal/workqueue/element"
)

// ErrSkip may be returned by a mutator to abandon an update. The update then returns the
// unchanged record and no error.
var ErrSkip = errors.New("update skipped")

const (
	updateAttempts = 5
	updateDelay    = 10 * time.Millisecond
	updateMaxDelay = 500 * time.Millisecond
)

// retryOnConflict runs action until it succeeds, fails with something other than a
// conflict, or ctx is done. Conflicts are retried in rounds of updateAttempts with
// backoff; only cancelling ctx makes a conflict surface to the caller.
func retryOnConflict(ctx context.Context, action func() error) error {
	for {
		err := retry.Do(
			action,
			retry.Context(ctx),
			retry.Attempts(updateAttempts),
			retry.Delay(updateDelay),
			retry.MaxDelay(updateMaxDelay),
			retry.DelayType(retry.BackOffDelay),
			retry.RetryIf(wqerrors.IsConflict),
			retry.LastErrorOnly(true),
		)
		if !wqerrors.IsConflict(err) {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return errors.WithMessage(err, ctxErr.Error())
		}
	}
}

// UpdateElement reads the element, applies mutate to a copy and swaps it in, re-reading
// and re-applying mutate if another writer got there first.
func UpdateElement(ctx context.Context, db Backend, id string, mutate func(el *element.Element) error) (*element.Element, error) {
	var result *element.Element
	err := retryOnConflict(ctx, func() error {
		el, err := db.GetElement(ctx, id)
		if err != nil {
			return err
		}
		if err := mutate(el); err != nil {
			if errors.Is(err, ErrSkip) {
				result = el
				return nil
			}
			return err
		}
		swapped, err := db.SwapElement(ctx, el)
		if err != nil {
			return err
		}
		result = swapped
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// UpdateInbox is UpdateElement for inbox records.
func UpdateInbox(ctx context.Context, db Backend, id string, mutate func(inbox *element.Inbox) error) (*element.Inbox, error) {
	var result *element.Inbox
	err := retryOnConflict(ctx, func() error {
		inbox, err := db.GetInbox(ctx, id)
		if err != nil {
			return err
		}
		if err := mutate(inbox); err != nil {
			if errors.Is(err, ErrSkip) {
				result = inbox
				return nil
			}
			return err
		}
		swapped, err := db.SwapInbox(ctx, inbox)
		if err != nil {
			return err
		}
		result = swapped
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
