// Package monitor aggregates the elements of a queue instance into job counts.
package monitor

import (
	"strconv"

	"github.com/armadaproject/workqueue/internal/workqueue/element"
)

// Summary counts estimated jobs. Elements count as their estimated jobs, at least one.
type Summary struct {
	Elements             int
	JobsByStatus         map[element.Status]int64
	JobsByStatusPriority map[element.Status]map[int32]int64
	// Jobs of claimed elements by the queue that claimed them.
	JobsByChildQueue map[string]int64
	// Jobs that can run at exactly one site, by that site.
	UniqueJobsPerSite map[string]int64
	// Jobs that can run at a site, by site. An element counts at every site it can run at.
	PossibleJobsPerSite map[string]int64
}

// Summarise builds the summary of elements. Sites restricts the site counts to the given
// sites; without any, the sites holding each element's data are used.
func Summarise(elements []*element.Element, sites ...string) *Summary {
	s := &Summary{
		Elements:             len(elements),
		JobsByStatus:         map[element.Status]int64{},
		JobsByStatusPriority: map[element.Status]map[int32]int64{},
		JobsByChildQueue:     map[string]int64{},
		UniqueJobsPerSite:    map[string]int64{},
		PossibleJobsPerSite:  map[string]int64{},
	}
	for _, el := range elements {
		jobs := el.EstimatedJobs()
		s.JobsByStatus[el.Status] += jobs
		if s.JobsByStatusPriority[el.Status] == nil {
			s.JobsByStatusPriority[el.Status] = map[int32]int64{}
		}
		s.JobsByStatusPriority[el.Status][el.Priority] += jobs
		if el.ChildQueueURL != "" {
			s.JobsByChildQueue[el.ChildQueueURL] += jobs
		}

		possible := el.PossibleSites(sites...)
		for _, site := range possible {
			s.PossibleJobsPerSite[site] += jobs
		}
		if len(possible) == 1 {
			s.UniqueJobsPerSite[possible[0]] += jobs
		}
	}
	return s
}

func formatPriority(priority int32) string {
	return strconv.FormatInt(int64(priority), 10)
}
