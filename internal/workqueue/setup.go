// Package workqueue wires a queue instance from its configuration and runs the agent loop
// that moves work through it.
package workqueue

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/armadaproject/workqueue/internal/common/queuecontext"
	"github.com/armadaproject/workqueue/internal/workqueue/admission"
	"github.com/armadaproject/workqueue/internal/workqueue/backend"
	"github.com/armadaproject/workqueue/internal/workqueue/configuration"
	"github.com/armadaproject/workqueue/internal/workqueue/element"
	"github.com/armadaproject/workqueue/internal/workqueue/execution"
	"github.com/armadaproject/workqueue/internal/workqueue/lifecycle"
	"github.com/armadaproject/workqueue/internal/workqueue/location"
	"github.com/armadaproject/workqueue/internal/workqueue/monitor"
	"github.com/armadaproject/workqueue/internal/workqueue/queue"
	"github.com/armadaproject/workqueue/internal/workqueue/spec"
)

// archiveAll in ArchivableRequests makes every request archivable.
const archiveAll = "*"

// Instance is a queue built from configuration together with the collaborators the agent
// loop and the command line need direct access to.
type Instance struct {
	Queue *queue.Queue
	Specs spec.Store
	// Specifications read from the specification directory, in file name order.
	Specifications []*spec.Specification
	Execution      *execution.Memory
	Counters       *monitor.Counters
	closers        []func() error
}

// Close releases the backend connections of the instance.
func (i *Instance) Close() {
	for _, closer := range i.closers {
		if err := closer(); err != nil {
			log.WithError(errors.WithStack(err)).Warn("Backend connection didn't close down cleanly")
		}
	}
}

// NewInstance builds the queue instance described by config.
func NewInstance(config configuration.Configuration) (*Instance, error) {
	instance := &Instance{Execution: execution.NewMemory(), Counters: monitor.NewCounters()}

	db, closer, err := NewBackend(config.Backend, config.BackendInstance())
	if err != nil {
		return nil, errors.WithMessage(err, "error creating backend")
	}
	instance.closers = append(instance.closers, closer)

	var parent backend.Backend
	if config.Parent != nil {
		if config.Parent.Type == configuration.MemDbBackend {
			instance.Close()
			return nil, errors.Errorf("parent backend of %s must be shared; memdb records are private to a process", config.QueueURL)
		}
		parent, closer, err = NewBackend(*config.Parent, config.ParentInstance())
		if err != nil {
			instance.Close()
			return nil, errors.WithMessage(err, "error creating parent backend")
		}
		instance.closers = append(instance.closers, closer)
	}

	store, err := spec.NewCachingStore(spec.NewMemoryStore(), config.SpecificationCacheSize)
	if err != nil {
		instance.Close()
		return nil, err
	}
	instance.Specs = store
	if config.SpecificationDir != "" {
		instance.Specifications, err = LoadSpecifications(context.Background(), config.SpecificationDir, store)
		if err != nil {
			instance.Close()
			return nil, err
		}
	}

	static := location.NewStaticService()
	if config.LocationsFile != "" {
		static, err = location.LoadStatic(config.LocationsFile)
		if err != nil {
			instance.Close()
			return nil, err
		}
	}
	var locations location.Service = static
	if config.LocationCacheTTL > 0 {
		locations = location.NewCachingService(static, config.LocationCacheTTL)
	}

	gate, err := admission.NewGate(config.Admission.Gate, config.Admission.ReservedFraction)
	if err != nil {
		instance.Close()
		return nil, err
	}

	instance.Queue = queue.New(
		queue.Config{
			QueueURL:       config.QueueURL,
			ParentQueueURL: config.ParentQueueURL,
			MaxElements:    config.Admission.MaxElements,
		},
		db,
		parent,
		queue.Dependencies{
			Specs:        store,
			Locations:    locations,
			Resubmission: static,
			Execution:    instance.Execution,
			Lifecycle:    NewLifecycle(config.ArchivableRequests),
			Gate:         gate,
			Counters:     instance.Counters,
		})
	return instance, nil
}

// NewBackend connects to the record store described by config. The returned function
// closes the connection.
func NewBackend(config configuration.BackendConfig, instance string) (backend.Backend, func() error, error) {
	switch config.Type {
	case configuration.MemDbBackend:
		db, err := backend.NewMemDb()
		return db, func() error { return nil }, err
	case configuration.RedisBackend:
		client := redis.NewClient(&redis.Options{
			Addr:     config.Redis.Addr,
			Password: config.Redis.Password,
			DB:       config.Redis.DB,
		})
		if err := client.Ping().Err(); err != nil {
			_ = client.Close()
			return nil, nil, errors.Wrapf(err, "error connecting to redis at %s", config.Redis.Addr)
		}
		return backend.NewRedis(client, instance), client.Close, nil
	default:
		return nil, nil, errors.Errorf("unknown backend type %q", config.Type)
	}
}

// NewLifecycle returns the tracker for the configured archivable requests.
func NewLifecycle(archivable []string) lifecycle.Tracker {
	for _, name := range archivable {
		if name == archiveAll {
			return lifecycle.NewAlwaysArchivable()
		}
	}
	return lifecycle.NewStatic(archivable...)
}

// LoadSpecifications stores every specification file found in dir and returns them in
// file name order.
func LoadSpecifications(ctx context.Context, dir string, store spec.Store) ([]*spec.Specification, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	var specs []*spec.Specification
	for _, entry := range entries {
		if entry.IsDir() || !isSpecificationFile(entry.Name()) {
			continue
		}
		s, err := spec.LoadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		if err := store.Put(ctx, s); err != nil {
			return nil, err
		}
		specs = append(specs, s)
	}
	log.Infof("Loaded %d specifications from %s", len(specs), dir)
	return specs, nil
}

func isSpecificationFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml", ".json":
		return true
	default:
		return false
	}
}

// RegisterMetrics registers the instance's counters and a collector summarising its
// elements in the given statuses.
func (i *Instance) RegisterMetrics(registerer prometheus.Registerer, statuses ...element.Status) error {
	if err := i.Counters.Register(registerer); err != nil {
		return errors.WithStack(err)
	}
	collector := monitor.NewCollector(i.Queue.URL(), func(ctx context.Context) (*monitor.Summary, error) {
		return i.Queue.MonitorWorkQueue(queuecontext.New(ctx, log.NewEntry(log.StandardLogger())), statuses...)
	})
	return errors.WithStack(registerer.Register(collector))
}
