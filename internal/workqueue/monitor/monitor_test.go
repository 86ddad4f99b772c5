package monitor

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armadaproject/workqueue/internal/workqueue/element"
)

func testElements() []*element.Element {
	return []*element.Element{
		{Id: "e1", Status: element.Available, Priority: 1, Jobs: 3, InputKind: element.BlockInput, Inputs: map[string][]string{"b1": {"A"}}},
		{Id: "e2", Status: element.Available, Priority: 2, Jobs: 2, InputKind: element.BlockInput, Inputs: map[string][]string{"b2": {"A", "B"}}},
		{Id: "e3", Status: element.Acquired, Priority: 1, Jobs: 0, InputKind: element.BlockInput, Inputs: map[string][]string{"b3": {"B"}}, ChildQueueURL: "local-1"},
		{Id: "e4", Status: element.Available, Priority: 1, Jobs: 5, InputKind: element.BlockInput, Inputs: map[string][]string{"b4": {"A", "B"}}, SiteBlacklist: []string{"A"}},
	}
}

func TestSummarise(t *testing.T) {
	s := Summarise(testElements())
	assert.Equal(t, 4, s.Elements)
	assert.Equal(t, map[element.Status]int64{element.Available: 10, element.Acquired: 1}, s.JobsByStatus)
	assert.Equal(t, map[element.Status]map[int32]int64{
		element.Available: {1: 8, 2: 2},
		element.Acquired:  {1: 1},
	}, s.JobsByStatusPriority)
	assert.Equal(t, map[string]int64{"local-1": 1}, s.JobsByChildQueue)
	assert.Equal(t, map[string]int64{"A": 3, "B": 6}, s.UniqueJobsPerSite)
	assert.Equal(t, map[string]int64{"A": 5, "B": 8}, s.PossibleJobsPerSite)
}

func TestSummarise_RestrictedSites(t *testing.T) {
	s := Summarise(testElements(), "A")
	assert.Equal(t, map[string]int64{"A": 5}, s.PossibleJobsPerSite)
	assert.Equal(t, map[string]int64{"A": 5}, s.UniqueJobsPerSite)
}

func TestSummarise_Empty(t *testing.T) {
	s := Summarise(nil)
	assert.Equal(t, 0, s.Elements)
	assert.Empty(t, s.JobsByStatus)
}

func TestCollector(t *testing.T) {
	collector := NewCollector("global", func(ctx context.Context) (*Summary, error) {
		return Summarise(testElements()), nil
	})
	// 3 status/priority pairs, 1 child queue, 2 unique sites, 2 possible sites.
	assert.Equal(t, 8, testutil.CollectAndCount(collector))
}

func TestCollector_SourceError(t *testing.T) {
	collector := NewCollector("global", func(ctx context.Context) (*Summary, error) {
		return nil, errors.New("backend down")
	})
	registry := prometheus.NewPedanticRegistry()
	require.NoError(t, registry.Register(collector))
	_, err := registry.Gather()
	assert.Error(t, err)
}

func TestCounters(t *testing.T) {
	counters := NewCounters()
	registry := prometheus.NewRegistry()
	require.NoError(t, counters.Register(registry))
	assert.Error(t, counters.Register(registry))

	counters.Admitted.WithLabelValues("local", "A").Add(2)
	assert.Equal(t, float64(2), testutil.ToFloat64(counters.Admitted.WithLabelValues("local", "A")))
}

func TestWriteSummary(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, WriteSummary(&out, Summarise(testElements())))

	var rows []string
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		rows = append(rows, strings.Join(strings.Fields(line), " "))
	}
	assert.Equal(t, []string{
		"Elements: 4",
		"Status Priority Jobs",
		"Available 2 2",
		"Available 1 8",
		"Acquired 1 1",
		"Child queue Jobs",
		"local-1 1",
		"Site Unique jobs Possible jobs",
		"A 3 5",
		"B 6 8",
	}, rows)
}
