package monitor

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
)

const MetricPrefix = "workqueue_"

// Source returns the current summary of a queue instance.
type Source func(ctx context.Context) (*Summary, error)

// Collector exports a queue's Summary as gauges, computed on every scrape.
type Collector struct {
	queue  string
	source Source
}

func NewCollector(queue string, source Source) *Collector {
	return &Collector{queue: queue, source: source}
}

var jobsByStatusDesc = prometheus.NewDesc(
	MetricPrefix+"jobs",
	"Estimated jobs of the queue's elements",
	[]string{"queue", "status", "priority"},
	nil,
)

var jobsByChildQueueDesc = prometheus.NewDesc(
	MetricPrefix+"child_queue_jobs",
	"Estimated jobs of elements claimed by a child queue",
	[]string{"queue", "childQueue"},
	nil,
)

var uniqueJobsDesc = prometheus.NewDesc(
	MetricPrefix+"site_unique_jobs",
	"Estimated jobs that can only run at the site",
	[]string{"queue", "site"},
	nil,
)

var possibleJobsDesc = prometheus.NewDesc(
	MetricPrefix+"site_possible_jobs",
	"Estimated jobs that can run at the site",
	[]string{"queue", "site"},
	nil,
)

func (c *Collector) Describe(desc chan<- *prometheus.Desc) {
	desc <- jobsByStatusDesc
	desc <- jobsByChildQueueDesc
	desc <- uniqueJobsDesc
	desc <- possibleJobsDesc
}

func (c *Collector) Collect(metrics chan<- prometheus.Metric) {
	summary, err := c.source(context.Background())
	if err != nil {
		log.WithError(err).Error("Error while getting work queue metrics")
		recordInvalidMetrics(metrics, err)
		return
	}

	for status, byPriority := range summary.JobsByStatusPriority {
		for priority, jobs := range byPriority {
			metrics <- prometheus.MustNewConstMetric(jobsByStatusDesc, prometheus.GaugeValue, float64(jobs),
				c.queue, status.String(), formatPriority(priority))
		}
	}
	for child, jobs := range summary.JobsByChildQueue {
		metrics <- prometheus.MustNewConstMetric(jobsByChildQueueDesc, prometheus.GaugeValue, float64(jobs), c.queue, child)
	}
	for site, jobs := range summary.UniqueJobsPerSite {
		metrics <- prometheus.MustNewConstMetric(uniqueJobsDesc, prometheus.GaugeValue, float64(jobs), c.queue, site)
	}
	for site, jobs := range summary.PossibleJobsPerSite {
		metrics <- prometheus.MustNewConstMetric(possibleJobsDesc, prometheus.GaugeValue, float64(jobs), c.queue, site)
	}
}

func recordInvalidMetrics(metrics chan<- prometheus.Metric, e error) {
	metrics <- prometheus.NewInvalidMetric(jobsByStatusDesc, e)
	metrics <- prometheus.NewInvalidMetric(jobsByChildQueueDesc, e)
	metrics <- prometheus.NewInvalidMetric(uniqueJobsDesc, e)
	metrics <- prometheus.NewInvalidMetric(possibleJobsDesc, e)
}

// Counters of queue operations.
type Counters struct {
	Created  *prometheus.CounterVec
	Admitted *prometheus.CounterVec
	Pulled   *prometheus.CounterVec
	Canceled *prometheus.CounterVec
}

func NewCounters() *Counters {
	return &Counters{
		Created: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricPrefix + "elements_created_total",
			Help: "Number of elements created by splitting",
		}, []string{"queue"}),
		Admitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricPrefix + "elements_admitted_total",
			Help: "Number of elements handed to the execution layer",
		}, []string{"queue", "site"}),
		Pulled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricPrefix + "elements_pulled_total",
			Help: "Number of elements claimed from the parent queue",
		}, []string{"queue", "site"}),
		Canceled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricPrefix + "elements_canceled_total",
			Help: "Number of elements that reached Canceled",
		}, []string{"queue"}),
	}
}

// Register registers the counters with registerer.
func (c *Counters) Register(registerer prometheus.Registerer) error {
	for _, collector := range []prometheus.Collector{c.Created, c.Admitted, c.Pulled, c.Canceled} {
		if err := registerer.Register(collector); err != nil {
			return err
		}
	}
	return nil
}
