// Package backend stores the element and inbox records of one queue instance.
//
// Every record carries a revision. Writes other than inserts are compare-and-swap on that
// revision, which is how queue instances sharing a backend agree on who owns an element:
// the loser of a race gets an *wqerrors.ErrConflict and re-reads.
//
// Records returned by a Backend are copies owned by the caller.
package backend

import (
	"context"

	"github.com/armadaproject/workqueue/internal/common/util"
	"github.com/armadaproject/workqueue/internal/workqueue/element"
)

const (
	elementsTable = "elements"
	inboxTable    = "inbox"
)

type Backend interface {
	// InsertElements stores the elements that do not exist yet and returns them.
	// Existing elements are left untouched.
	InsertElements(ctx context.Context, elements ...*element.Element) ([]*element.Element, error)
	GetElement(ctx context.Context, id string) (*element.Element, error)
	ListElements(ctx context.Context, filter Filter) ([]*element.Element, error)
	// SwapElement replaces the stored element if its revision equals el.Revision and
	// returns the stored copy with the incremented revision.
	SwapElement(ctx context.Context, el *element.Element) (*element.Element, error)
	DeleteElements(ctx context.Context, ids ...string) error

	// InsertInbox stores inbox unless a record with its id exists, returning whether it did.
	InsertInbox(ctx context.Context, inbox *element.Inbox) (bool, error)
	GetInbox(ctx context.Context, id string) (*element.Inbox, error)
	ListInbox(ctx context.Context, filter Filter) ([]*element.Inbox, error)
	SwapInbox(ctx context.Context, inbox *element.Inbox) (*element.Inbox, error)
	DeleteInbox(ctx context.Context, ids ...string) error
}

// Filter selects records. Empty fields match everything.
type Filter struct {
	Ids             []string
	RequestName     string
	Statuses        []element.Status
	ChildQueueURL   string
	ParentElementId string
}

func (f Filter) matchesStatus(status element.Status) bool {
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if s == status {
			return true
		}
	}
	return false
}

func (f Filter) MatchesElement(el *element.Element) bool {
	return (len(f.Ids) == 0 || util.ContainsString(f.Ids, el.Id)) &&
		(f.RequestName == "" || f.RequestName == el.RequestName) &&
		(f.ChildQueueURL == "" || f.ChildQueueURL == el.ChildQueueURL) &&
		(f.ParentElementId == "" || f.ParentElementId == el.ParentElementId) &&
		f.matchesStatus(el.Status)
}

func (f Filter) MatchesInbox(inbox *element.Inbox) bool {
	return (len(f.Ids) == 0 || util.ContainsString(f.Ids, inbox.Id)) &&
		(f.RequestName == "" || f.RequestName == inbox.RequestName) &&
		f.ChildQueueURL == "" &&
		(f.ParentElementId == "" || f.ParentElementId == inbox.ParentElementId) &&
		f.matchesStatus(inbox.Status)
}
