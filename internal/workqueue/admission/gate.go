package admission

import (
	"strings"

	"github.com/pkg/errors"
)

// PriorityGate decides whether work of a given priority may take a free slot at a site,
// given what is already running there.
type PriorityGate interface {
	Admit(site string, priority int32, freeSlots int, runningByPriority map[int32]int) bool
}

// ReservationGate holds back a share of the free slots for higher-priority work: the slots
// used by work running at a strictly higher priority, times ReservedFraction, are not
// available to lower priorities. With a fraction of zero it admits whenever a slot is free.
type ReservationGate struct {
	ReservedFraction float64
}

func (g ReservationGate) Admit(_ string, priority int32, freeSlots int, runningByPriority map[int32]int) bool {
	if freeSlots <= 0 {
		return false
	}
	higher := 0
	for p, running := range runningByPriority {
		if p > priority {
			higher += running
		}
	}
	return float64(freeSlots) > g.ReservedFraction*float64(higher)
}

// FifoGate admits any work while slots are free.
type FifoGate struct{}

func (FifoGate) Admit(_ string, _ int32, freeSlots int, _ map[int32]int) bool {
	return freeSlots > 0
}

const (
	ReservationGateName = "reservation"
	FifoGateName        = "fifo"
)

// NewGate returns the gate with the given name, as used in configuration.
func NewGate(name string, reservedFraction float64) (PriorityGate, error) {
	switch strings.ToLower(name) {
	case "", ReservationGateName:
		return ReservationGate{ReservedFraction: reservedFraction}, nil
	case FifoGateName:
		return FifoGate{}, nil
	default:
		return nil, errors.Errorf("unknown priority gate %q; valid gates are %s and %s", name, ReservationGateName, FifoGateName)
	}
}
