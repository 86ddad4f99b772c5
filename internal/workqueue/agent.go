package workqueue

import (
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/armadaproject/workqueue/internal/common"
	"github.com/armadaproject/workqueue/internal/common/app"
	"github.com/armadaproject/workqueue/internal/common/queuecontext"
	"github.com/armadaproject/workqueue/internal/common/wqerrors"
	"github.com/armadaproject/workqueue/internal/workqueue/configuration"
	"github.com/armadaproject/workqueue/internal/workqueue/queue"
	"github.com/armadaproject/workqueue/internal/workqueue/spec"
)

// Agent drives one queue instance. Every cycle it:
//  1. pulls work from the parent instance into the offered slots
//  2. synchronizes with the parent instance
//  3. splits newly pulled work
//  4. hands work to the execution layer for the offered slots
//  5. runs cleanup, at most once per cleanup period
//
// Steps 1 and 3 only apply below the top of the tree; steps 1 and 4 only when slots are
// offered.
type Agent struct {
	queue          *queue.Queue
	specifications []*spec.Specification
	offer          configuration.OfferConfig
	cycle          configuration.CycleConfig
	clock          clock.WithTicker
	lastCleanup    time.Time
}

func NewAgent(
	q *queue.Queue,
	specifications []*spec.Specification,
	offer configuration.OfferConfig,
	cycle configuration.CycleConfig,
	clock clock.WithTicker,
) *Agent {
	return &Agent{
		queue:          q,
		specifications: specifications,
		offer:          offer,
		cycle:          cycle,
		clock:          clock,
	}
}

// Run queues the agent's specifications, if this is the top of the tree, then runs a
// cycle every period until ctx is cancelled.
func (a *Agent) Run(ctx *queuecontext.Context) error {
	if err := a.QueueSpecifications(ctx); err != nil {
		return err
	}
	ticker := a.clock.NewTicker(a.cycle.Period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			start := a.clock.Now()
			if err := a.RunCycle(ctx); err != nil {
				for _, e := range wqerrors.Errors(err) {
					ctx.Log.WithError(e).Error("Error in queue cycle")
				}
			}
			ctx.Log.Debugf("Completed queue cycle in %s", a.clock.Since(start))
		}
	}
}

// QueueSpecifications queues every specification of the agent. Requests already queued
// are left alone.
func (a *Agent) QueueSpecifications(ctx *queuecontext.Context) error {
	if !a.queue.IsTop() {
		return nil
	}
	var result *multierror.Error
	for _, s := range a.specifications {
		if _, err := a.queue.QueueWork(ctx, s.Ref()); err != nil {
			result = multierror.Append(result, errors.WithMessagef(err, "error queueing %s", s.Ref()))
		}
	}
	return result.ErrorOrNil()
}

// RunCycle runs a single cycle. A failing step doesn't stop the steps after it.
func (a *Agent) RunCycle(ctx *queuecontext.Context) error {
	var result *multierror.Error
	offered := len(a.offer.Slots) > 0
	if !a.queue.IsTop() && offered {
		_, err := a.queue.PullWork(ctx, a.offer.Slots, a.offer.RunningByPriority)
		result = multierror.Append(result, err)
	}
	result = multierror.Append(result, a.queue.Sync(ctx))
	if !a.queue.IsTop() {
		_, err := a.queue.ProcessInboundWork(ctx)
		result = multierror.Append(result, err)
	}
	if offered {
		_, err := a.queue.GetWork(ctx, a.offer.Slots, a.offer.RunningByPriority)
		result = multierror.Append(result, err)
	}
	if now := a.clock.Now(); a.lastCleanup.IsZero() || now.Sub(a.lastCleanup) >= a.cycle.CleanupPeriod {
		a.lastCleanup = now
		result = multierror.Append(result, a.queue.PerformQueueCleanupActions(ctx, a.cycle.SkipExecutionCheck))
	}
	return result.ErrorOrNil()
}

// Run builds the queue instance described by config and runs its agent until SIGINT or
// SIGTERM is received.
func Run(config configuration.Configuration) error {
	if err := common.ConfigureLogLevel(config.LogLevel); err != nil {
		return err
	}
	instance, err := NewInstance(config)
	if err != nil {
		return err
	}
	defer instance.Close()

	if config.Metrics.Port > 0 {
		if err := instance.RegisterMetrics(prometheus.DefaultRegisterer, config.Metrics.Statuses...); err != nil {
			return errors.WithMessage(err, "error registering metrics")
		}
		shutdownMetricServer := common.ServeMetrics(config.Metrics.Port)
		defer shutdownMetricServer()
	}

	ctx := queuecontext.WithLogField(app.CreateContextWithShutdown(), "queue", config.QueueURL)
	log.Infof("Starting queue %s", config.QueueURL)
	agent := NewAgent(instance.Queue, instance.Specifications, config.Offer, config.Cycle, clock.RealClock{})
	return agent.Run(ctx)
}
