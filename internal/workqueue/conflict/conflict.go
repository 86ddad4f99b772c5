// Package conflict merges divergent copies of a record.
//
// Progress only moves forward, so the merge of two copies takes the furthest status and
// the highest percentages. The merge is associative, commutative and idempotent: copies
// can be merged in any order, any number of times, and converge to the same record.
package conflict

import (
	"github.com/armadaproject/workqueue/internal/workqueue/element"
)

// Progress holds the fields of a record that are merged.
type Progress struct {
	Status          element.Status
	PercentComplete float64
	PercentSuccess  float64
}

func ElementProgress(el *element.Element) Progress {
	return Progress{Status: el.Status, PercentComplete: el.PercentComplete, PercentSuccess: el.PercentSuccess}
}

func InboxProgress(inbox *element.Inbox) Progress {
	return Progress{Status: inbox.Status, PercentComplete: inbox.PercentComplete, PercentSuccess: inbox.PercentSuccess}
}

// MergeProgress returns the furthest progress of a and b. Status is compared by rank,
// in which Done outranks Canceled and Canceled outranks CancelRequested.
func MergeProgress(a, b Progress) Progress {
	merged := a
	if b.Status > merged.Status {
		merged.Status = b.Status
	}
	if b.PercentComplete > merged.PercentComplete {
		merged.PercentComplete = b.PercentComplete
	}
	if b.PercentSuccess > merged.PercentSuccess {
		merged.PercentSuccess = b.PercentSuccess
	}
	return merged
}

// ResolveElement merges the progress reported for an element, e.g. by the child queue
// that claimed it, into the current copy. The claimant and subscription are filled in
// if the current copy has none. It returns the merged copy and whether it differs from
// current. current is not modified.
//
// The result is written without checking the state machine.
func ResolveElement(current, reported *element.Element) (*element.Element, bool) {
	merged := current.DeepCopy()
	p := MergeProgress(ElementProgress(current), ElementProgress(reported))
	merged.Status = p.Status
	merged.PercentComplete = p.PercentComplete
	merged.PercentSuccess = p.PercentSuccess
	if merged.ChildQueueURL == "" {
		merged.ChildQueueURL = reported.ChildQueueURL
	}
	if merged.SubscriptionId == "" {
		merged.SubscriptionId = reported.SubscriptionId
	}
	changed := ElementProgress(merged) != ElementProgress(current) ||
		merged.ChildQueueURL != current.ChildQueueURL ||
		merged.SubscriptionId != current.SubscriptionId
	return merged, changed
}

// ResolveInbox merges reported progress into an inbox record, with the same rules as
// ResolveElement.
func ResolveInbox(current *element.Inbox, reported Progress) (*element.Inbox, bool) {
	merged := current.DeepCopy()
	p := MergeProgress(InboxProgress(current), reported)
	merged.Status = p.Status
	merged.PercentComplete = p.PercentComplete
	merged.PercentSuccess = p.PercentSuccess
	return merged, p != InboxProgress(current)
}
