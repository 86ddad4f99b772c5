package configuration

import (
	"time"

	commonconfig "github.com/armadaproject/workqueue/internal/common/config"
	"github.com/armadaproject/workqueue/internal/workqueue/element"
)

const (
	MemDbBackend = "memdb"
	RedisBackend = "redis"
)

type Configuration struct {
	// Name under which this instance claims elements from its parent. Must be unique in the tree.
	QueueURL string `validate:"required"`
	// Records of this instance.
	Backend BackendConfig
	// Records of the parent instance. Nil at the top of the tree.
	Parent *BackendConfig
	// Name of the parent instance. Required with Parent.
	ParentQueueURL string `validate:"required_with=Parent"`
	// Directory of specification files to serve. Every *.yaml, *.yml and *.json file is loaded.
	SpecificationDir string
	// Number of specifications kept in memory.
	SpecificationCacheSize int `validate:"gte=1"`
	// Block and resubmission data served to the splitting policies.
	LocationsFile string
	// How long site lookups are cached.
	LocationCacheTTL time.Duration
	Admission        AdmissionConfig
	// Slots offered to GetWork, per site, every cycle. Empty disables GetWork.
	Offer OfferConfig
	Cycle CycleConfig
	// Requests whose records may be purged once terminal. "*" allows every request.
	ArchivableRequests []string
	Metrics            MetricsConfig
	LogLevel           string
}

type BackendConfig struct {
	Type string `validate:"oneof=memdb redis"`
	// Records are kept under wq:{Instance}: in redis. Defaults to the queue URL.
	Instance string
	Redis    RedisConfig
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type AdmissionConfig struct {
	// reservation or fifo
	Gate string `validate:"omitempty,oneof=reservation fifo RESERVATION FIFO"`
	// Share of the slots used by higher priority work that is kept free for it.
	ReservedFraction float64 `validate:"gte=0,lte=1"`
	// Maximum number of elements admitted or pulled per call. Zero means no limit.
	MaxElements int `validate:"gte=0"`
}

type OfferConfig struct {
	Slots             map[string]int
	RunningByPriority map[string]map[int32]int
}

type CycleConfig struct {
	// How often the agent loop runs.
	Period time.Duration `validate:"required"`
	// How often cleanup runs. It is skipped in cycles that come sooner.
	CleanupPeriod time.Duration `validate:"required"`
	// Skip polling the execution layer during cleanup.
	SkipExecutionCheck bool
}

type MetricsConfig struct {
	// Zero disables the metrics endpoint.
	Port uint16
	// Statuses included in the job gauges. Empty means all.
	Statuses []element.Status
}

func (c Configuration) Validate() error {
	return commonconfig.Validate(c)
}

// BackendInstance returns the name under which the records of this instance are kept.
func (c Configuration) BackendInstance() string {
	if c.Backend.Instance != "" {
		return c.Backend.Instance
	}
	return c.QueueURL
}

// ParentInstance returns the name under which the records of the parent instance are kept.
func (c Configuration) ParentInstance() string {
	if c.Parent != nil && c.Parent.Instance != "" {
		return c.Parent.Instance
	}
	return c.ParentQueueURL
}
