package monitor

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"golang.org/x/exp/maps"

	"github.com/armadaproject/workqueue/internal/workqueue/element"
)

// WriteSummary prints s as an aligned table.
func WriteSummary(out io.Writer, s *Summary) error {
	w := tabwriter.NewWriter(out, 1, 1, 2, ' ', 0)
	fmt.Fprintf(w, "Elements:\t%d\n", s.Elements)
	fmt.Fprintln(w, "Status\tPriority\tJobs")
	for _, status := range element.AllStatuses {
		byPriority := s.JobsByStatusPriority[status]
		priorities := maps.Keys(byPriority)
		sort.Slice(priorities, func(i, j int) bool { return priorities[i] > priorities[j] })
		for _, priority := range priorities {
			fmt.Fprintf(w, "%s\t%s\t%d\n", status, formatPriority(priority), byPriority[priority])
		}
	}
	writeCounts(w, "Child queue", s.JobsByChildQueue)
	fmt.Fprintln(w, "Site\tUnique jobs\tPossible jobs")
	sites := maps.Keys(s.PossibleJobsPerSite)
	sort.Strings(sites)
	for _, site := range sites {
		fmt.Fprintf(w, "%s\t%d\t%d\n", site, s.UniqueJobsPerSite[site], s.PossibleJobsPerSite[site])
	}
	return w.Flush()
}

func writeCounts(w io.Writer, title string, counts map[string]int64) {
	if len(counts) == 0 {
		return
	}
	fmt.Fprintf(w, "%s\tJobs\n", title)
	keys := maps.Keys(counts)
	sort.Strings(keys)
	for _, key := range keys {
		fmt.Fprintf(w, "%s\t%d\n", key, counts[key])
	}
}
