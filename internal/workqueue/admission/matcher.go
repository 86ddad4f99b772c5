// Package admission matches available work elements to the slots offered by sites.
package admission

import (
	"fmt"
	"sort"

	"golang.org/x/exp/maps"

	"github.com/armadaproject/workqueue/internal/workqueue/element"
)

// Assignment is an element admitted at a site.
type Assignment struct {
	Element *element.Element
	Site    string
}

// Matcher assigns elements to offered slots.
type Matcher struct {
	Gate PriorityGate
	// Maximum number of elements per call. Zero means no limit.
	MaxElements int
}

// Result of a match. Unmatched maps the id of each candidate that was not admitted to the reason.
type Result struct {
	Assignments []Assignment
	Unmatched   map[string]string
}

// Match admits candidates in priority order, highest first, then in insertion order.
// An element may be admitted at a site it can run at while that site has slots left; its
// estimated jobs are taken from the eligible site with the most slots left. Offers are
// not modified.
func (m *Matcher) Match(candidates []*element.Element, slots map[string]int, runningByPriority map[string]map[int32]int) *Result {
	gate := m.Gate
	if gate == nil {
		gate = FifoGate{}
	}
	remaining := make(map[string]int, len(slots))
	for site, n := range slots {
		remaining[site] = n
	}
	sites := maps.Keys(remaining)
	sort.Strings(sites)

	ordered := append([]*element.Element{}, candidates...)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.InsertTime.Equal(b.InsertTime) {
			return a.InsertTime.Before(b.InsertTime)
		}
		return a.Id < b.Id
	})

	result := &Result{Unmatched: map[string]string{}}
	for _, el := range ordered {
		if m.MaxElements > 0 && len(result.Assignments) >= m.MaxElements {
			result.Unmatched[el.Id] = fmt.Sprintf("limit of %d elements reached", m.MaxElements)
			continue
		}
		best := ""
		reason := "no offered site matches"
		for _, site := range el.PossibleSites(sites...) {
			if remaining[site] <= 0 {
				reason = "no slots left at matching sites"
				continue
			}
			if !gate.Admit(site, el.Priority, remaining[site], runningByPriority[site]) {
				reason = "slots reserved for higher priority work"
				continue
			}
			if best == "" || remaining[site] > remaining[best] {
				best = site
			}
		}
		if best == "" {
			result.Unmatched[el.Id] = reason
			continue
		}
		remaining[best] -= int(el.EstimatedJobs())
		result.Assignments = append(result.Assignments, Assignment{Element: el, Site: best})
	}
	return result
}
