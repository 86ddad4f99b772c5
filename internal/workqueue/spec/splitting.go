package spec

import (
	"encoding/json"
	"math"
	"strings"

	"github.com/pkg/errors"
)

// Algorithm names a splitting policy.
type Algorithm string

const (
	BlockAlgorithm         Algorithm = "Block"
	DatasetAlgorithm       Algorithm = "Dataset"
	DatasetBlockAlgorithm  Algorithm = "DatasetBlock"
	MonteCarloAlgorithm    Algorithm = "MonteCarlo"
	ResubmitBlockAlgorithm Algorithm = "ResubmitBlock"
)

// SliceType is the unit used to estimate how many jobs a region produces.
type SliceType string

const (
	SliceByFiles  SliceType = "files"
	SliceByEvents SliceType = "events"
	SliceByLumis  SliceType = "lumis"
)

func ParseSliceType(s string) (SliceType, error) {
	switch SliceType(strings.ToLower(s)) {
	case SliceByFiles:
		return SliceByFiles, nil
	case SliceByEvents:
		return SliceByEvents, nil
	case SliceByLumis:
		return SliceByLumis, nil
	default:
		return SliceByFiles, errors.Errorf("unknown slice type %q; valid types are files, events and lumis", s)
	}
}

// SplittingConfig is the configuration of one splitting policy. Each variant carries only
// the parameters of its own policy.
type SplittingConfig interface {
	Algorithm() Algorithm
	Validate() error
	isSplittingConfig()
}

// Slicing estimates jobs per region: one job per SliceSize units of SliceType.
type Slicing struct {
	SliceType SliceType `json:"sliceType"`
	SliceSize int64     `json:"sliceSize"`
}

func (s Slicing) validate() error {
	if _, err := ParseSliceType(string(s.SliceType)); err != nil {
		return err
	}
	if s.SliceSize <= 0 {
		return errors.Errorf("sliceSize must be positive, got %d", s.SliceSize)
	}
	return nil
}

// BlockSplitting produces one element per block. Blocks estimated at more than
// MaxJobsPerElement jobs are cut into file ranges. Zero means no limit.
type BlockSplitting struct {
	Slicing
	MaxJobsPerElement int64 `json:"maxJobsPerElement,omitempty"`
}

func (BlockSplitting) Algorithm() Algorithm { return BlockAlgorithm }
func (BlockSplitting) isSplittingConfig()   {}
func (c BlockSplitting) Validate() error {
	if c.MaxJobsPerElement < 0 {
		return errors.Errorf("maxJobsPerElement must not be negative, got %d", c.MaxJobsPerElement)
	}
	return c.Slicing.validate()
}

// DatasetSplitting produces one element per dataset covering every block not yet processed.
type DatasetSplitting struct {
	Slicing
}

func (DatasetSplitting) Algorithm() Algorithm { return DatasetAlgorithm }
func (DatasetSplitting) isSplittingConfig()   {}
func (c DatasetSplitting) Validate() error    { return c.Slicing.validate() }

// DatasetBlockSplitting splits like DatasetSplitting but records the constituent blocks,
// so a lower level can split again per block.
type DatasetBlockSplitting struct {
	Slicing
}

func (DatasetBlockSplitting) Algorithm() Algorithm { return DatasetBlockAlgorithm }
func (DatasetBlockSplitting) isSplittingConfig()   {}
func (c DatasetBlockSplitting) Validate() error    { return c.Slicing.validate() }

// MonteCarloSplitting slices a requested number of generated events.
type MonteCarloSplitting struct {
	EventsPerJob      int64 `json:"eventsPerJob"`
	MaxJobsPerElement int64 `json:"maxJobsPerElement"`
}

func (MonteCarloSplitting) Algorithm() Algorithm { return MonteCarloAlgorithm }
func (MonteCarloSplitting) isSplittingConfig()   {}
func (c MonteCarloSplitting) Validate() error {
	if c.EventsPerJob <= 0 {
		return errors.Errorf("eventsPerJob must be positive, got %d", c.EventsPerJob)
	}
	if c.MaxJobsPerElement <= 0 {
		return errors.Errorf("maxJobsPerElement must be positive, got %d", c.MaxJobsPerElement)
	}
	if c.EventsPerJob > math.MaxInt64/c.MaxJobsPerElement {
		return errors.Errorf("eventsPerJob %d times maxJobsPerElement %d overflows", c.EventsPerJob, c.MaxJobsPerElement)
	}
	return nil
}

// ResubmitBlockSplitting splits a resubmission record into chunks of ChunkSize files.
type ResubmitBlockSplitting struct {
	Slicing
	ChunkSize int64 `json:"chunkSize"`
}

func (ResubmitBlockSplitting) Algorithm() Algorithm { return ResubmitBlockAlgorithm }
func (ResubmitBlockSplitting) isSplittingConfig()   {}
func (c ResubmitBlockSplitting) Validate() error {
	if c.ChunkSize <= 0 {
		return errors.Errorf("chunkSize must be positive, got %d", c.ChunkSize)
	}
	return c.Slicing.validate()
}

// splittingEnvelope is the serialised form of a SplittingConfig.
type splittingEnvelope struct {
	Algorithm         Algorithm `json:"algorithm"`
	SliceType         SliceType `json:"sliceType,omitempty"`
	SliceSize         int64     `json:"sliceSize,omitempty"`
	MaxJobsPerElement int64     `json:"maxJobsPerElement,omitempty"`
	EventsPerJob      int64     `json:"eventsPerJob,omitempty"`
	ChunkSize         int64     `json:"chunkSize,omitempty"`
}

func (e splittingEnvelope) config() (SplittingConfig, error) {
	slicing := Slicing{SliceType: SliceByFiles, SliceSize: e.SliceSize}
	if e.SliceType != "" {
		sliceType, err := ParseSliceType(string(e.SliceType))
		if err != nil {
			return nil, err
		}
		slicing.SliceType = sliceType
	}
	if slicing.SliceSize == 0 {
		slicing.SliceSize = 1
	}
	var config SplittingConfig
	switch e.Algorithm {
	case BlockAlgorithm:
		config = BlockSplitting{Slicing: slicing, MaxJobsPerElement: e.MaxJobsPerElement}
	case DatasetAlgorithm:
		config = DatasetSplitting{Slicing: slicing}
	case DatasetBlockAlgorithm:
		config = DatasetBlockSplitting{Slicing: slicing}
	case MonteCarloAlgorithm:
		config = MonteCarloSplitting{EventsPerJob: e.EventsPerJob, MaxJobsPerElement: e.MaxJobsPerElement}
	case ResubmitBlockAlgorithm:
		config = ResubmitBlockSplitting{Slicing: slicing, ChunkSize: e.ChunkSize}
	default:
		return nil, errors.Errorf("unknown splitting algorithm %q", e.Algorithm)
	}
	if err := config.Validate(); err != nil {
		return nil, errors.WithMessagef(err, "invalid %s splitting", e.Algorithm)
	}
	return config, nil
}

func envelopeOf(config SplittingConfig) splittingEnvelope {
	switch c := config.(type) {
	case BlockSplitting:
		return splittingEnvelope{Algorithm: BlockAlgorithm, SliceType: c.SliceType, SliceSize: c.SliceSize, MaxJobsPerElement: c.MaxJobsPerElement}
	case DatasetSplitting:
		return splittingEnvelope{Algorithm: DatasetAlgorithm, SliceType: c.SliceType, SliceSize: c.SliceSize}
	case DatasetBlockSplitting:
		return splittingEnvelope{Algorithm: DatasetBlockAlgorithm, SliceType: c.SliceType, SliceSize: c.SliceSize}
	case MonteCarloSplitting:
		return splittingEnvelope{Algorithm: MonteCarloAlgorithm, EventsPerJob: c.EventsPerJob, MaxJobsPerElement: c.MaxJobsPerElement}
	case ResubmitBlockSplitting:
		return splittingEnvelope{Algorithm: ResubmitBlockAlgorithm, SliceType: c.SliceType, SliceSize: c.SliceSize, ChunkSize: c.ChunkSize}
	default:
		return splittingEnvelope{}
	}
}

// UnmarshalSplitting decodes and validates a serialised SplittingConfig.
func UnmarshalSplitting(data []byte) (SplittingConfig, error) {
	var envelope splittingEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, errors.WithStack(err)
	}
	return envelope.config()
}
