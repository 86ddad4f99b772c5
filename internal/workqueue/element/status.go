package element

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
)

// Status is the position of an element or inbox record in the work queue state machine.
//
//	Available -> Negotiating -> Acquired -> Running -> Done
//	{Available|Negotiating|Acquired|Running} -> CancelRequested -> Canceled
//
// The numeric values double as the rank used to resolve conflicting replicas: a replica
// with a higher-ranked status has progressed further and wins.
type Status int

const (
	Available Status = iota
	Negotiating
	Acquired
	Running
	CancelRequested
	Canceled
	Done
)

var statusNames = map[Status]string{
	Available:       "Available",
	Negotiating:     "Negotiating",
	Acquired:        "Acquired",
	Running:         "Running",
	CancelRequested: "CancelRequested",
	Canceled:        "Canceled",
	Done:            "Done",
}

// AllStatuses lists every status in rank order.
var AllStatuses = []Status{Available, Negotiating, Acquired, Running, CancelRequested, Canceled, Done}

var transitions = map[Status][]Status{
	Available:       {Negotiating, Acquired, Running, CancelRequested},
	Negotiating:     {Available, Acquired, CancelRequested},
	Acquired:        {Running, Done, CancelRequested},
	Running:         {Done, CancelRequested},
	CancelRequested: {Canceled, Done},
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "Unknown"
}

// ParseStatus converts a status name (case-insensitive) into a Status.
func ParseStatus(s string) (Status, error) {
	for status, name := range statusNames {
		if strings.EqualFold(name, s) {
			return status, nil
		}
	}
	return Available, errors.Errorf("unknown status %q", s)
}

// IsTerminal returns true for Done and Canceled.
func (s Status) IsTerminal() bool {
	return s == Done || s == Canceled
}

// IsCancelling returns true if cancellation has been requested or completed.
func (s Status) IsCancelling() bool {
	return s == CancelRequested || s == Canceled
}

// IsClaimed returns true for the statuses in which a record may be owned by a child queue.
func (s Status) IsClaimed() bool {
	return s == Acquired || s == Running || s == Done || s == Canceled || s == CancelRequested
}

// CanTransitionTo reports whether the state machine allows moving directly from s to next.
// Staying in the same status is always allowed.
func (s Status) CanTransitionTo(next Status) bool {
	if s == next {
		return true
	}
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return errors.WithStack(err)
	}
	parsed, err := ParseStatus(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
