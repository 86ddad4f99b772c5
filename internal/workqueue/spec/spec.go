// Package spec holds the processing specification: what runs, over which input, with
// which splitting policy and site constraints. A specification is immutable once queued
// and is addressed by its Ref, the request name plus version.
package spec

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"sigs.k8s.io/yaml"

	"github.com/armadaproject/workqueue/internal/common/wqerrors"
)

type Specification struct {
	// Globally unique.
	RequestName   string   `json:"requestName"`
	Version       int      `json:"version"`
	Priority      int32    `json:"priority"`
	SiteWhitelist []string `json:"siteWhitelist,omitempty"`
	SiteBlacklist []string `json:"siteBlacklist,omitempty"`
	Tasks         []*Task  `json:"tasks"`
}

// ResubmissionRecord identifies the failed or partial processing to redo.
type ResubmissionRecord struct {
	Server     string `json:"server"`
	Collection string `json:"collection"`
	Fileset    string `json:"fileset"`
}

type Task struct {
	// Task path, e.g. /Request/Task.
	Name string `json:"name"`
	// Empty for tasks that generate their own input.
	InputDataset string `json:"inputDataset,omitempty"`
	// URL of the data location service for InputDataset.
	LocationService string              `json:"locationService,omitempty"`
	RunWhitelist    []int64             `json:"runWhitelist,omitempty"`
	RunBlacklist    []int64             `json:"runBlacklist,omitempty"`
	BlockWhitelist  []string            `json:"blockWhitelist,omitempty"`
	BlockBlacklist  []string            `json:"blockBlacklist,omitempty"`
	Splitting       SplittingConfig     `json:"-"`
	IncludeParents  bool                `json:"includeParents,omitempty"`
	TotalEvents     int64               `json:"totalEvents,omitempty"`
	Resubmission    *ResubmissionRecord `json:"resubmission,omitempty"`
	// Greater than zero keeps the input open for new blocks until this long passes
	// without any new data.
	OpenRunningTimeout time.Duration `json:"openRunningTimeout,omitempty"`
}

type taskAlias Task

type taskJSON struct {
	*taskAlias
	Splitting          json.RawMessage `json:"splitting"`
	OpenRunningTimeout string          `json:"openRunningTimeout,omitempty"`
}

func (t *Task) UnmarshalJSON(data []byte) error {
	raw := taskJSON{taskAlias: (*taskAlias)(t)}
	if err := json.Unmarshal(data, &raw); err != nil {
		return errors.WithStack(err)
	}
	if len(raw.Splitting) > 0 {
		config, err := UnmarshalSplitting(raw.Splitting)
		if err != nil {
			return errors.WithMessagef(err, "task %s", t.Name)
		}
		t.Splitting = config
	}
	if raw.OpenRunningTimeout != "" {
		d, err := time.ParseDuration(raw.OpenRunningTimeout)
		if err != nil {
			return errors.WithMessagef(err, "task %s openRunningTimeout", t.Name)
		}
		t.OpenRunningTimeout = d
	}
	return nil
}

func (t *Task) MarshalJSON() ([]byte, error) {
	raw := taskJSON{taskAlias: (*taskAlias)(t)}
	if t.Splitting != nil {
		data, err := json.Marshal(envelopeOf(t.Splitting))
		if err != nil {
			return nil, errors.WithStack(err)
		}
		raw.Splitting = data
	}
	if t.OpenRunningTimeout > 0 {
		raw.OpenRunningTimeout = t.OpenRunningTimeout.String()
	}
	return json.Marshal(raw)
}

// Ref is the stable reference under which the specification is stored and cached.
func (s *Specification) Ref() string {
	return fmt.Sprintf("%s@%d", s.RequestName, s.Version)
}

// ParseRef splits a reference produced by Ref into request name and version.
func ParseRef(ref string) (string, int, error) {
	idx := strings.LastIndex(ref, "@")
	if idx <= 0 {
		return "", 0, errors.Errorf("malformed specification reference %q", ref)
	}
	var version int
	if _, err := fmt.Sscanf(ref[idx+1:], "%d", &version); err != nil {
		return "", 0, errors.Wrapf(err, "malformed specification reference %q", ref)
	}
	return ref[:idx], version, nil
}

// Task returns the task with the given name or nil.
func (s *Specification) Task(name string) *Task {
	for _, t := range s.Tasks {
		if t.Name == name {
			return t
		}
	}
	return nil
}

// Validate checks the structure of the specification. Checks that need location data are
// made by the splitting package before splitting.
func (s *Specification) Validate() error {
	if s.RequestName == "" {
		return &wqerrors.ErrSpecRejected{Field: "RequestName", Value: "", Message: "request name is required"}
	}
	if len(s.Tasks) == 0 {
		return &wqerrors.ErrSpecRejected{Request: s.RequestName, Field: "Tasks", Value: 0, Message: "at least one task is required"}
	}
	seen := map[string]bool{}
	for _, task := range s.Tasks {
		if task.Name == "" {
			return &wqerrors.ErrSpecRejected{Request: s.RequestName, Field: "Tasks.Name", Value: "", Message: "task name is required"}
		}
		if seen[task.Name] {
			return &wqerrors.ErrSpecRejected{Request: s.RequestName, Field: "Tasks.Name", Value: task.Name, Message: "duplicate task"}
		}
		seen[task.Name] = true
		if err := task.validate(s.RequestName); err != nil {
			return err
		}
	}
	return nil
}

func (t *Task) validate(request string) error {
	if t.Splitting == nil {
		return &wqerrors.ErrSpecRejected{Request: request, Field: "Splitting", Value: t.Name, Message: "task has no splitting configuration"}
	}
	if err := t.Splitting.Validate(); err != nil {
		return &wqerrors.ErrSpecRejected{Request: request, Field: "Splitting", Value: t.Splitting.Algorithm(), Message: err.Error()}
	}
	switch t.Splitting.Algorithm() {
	case MonteCarloAlgorithm:
		if t.InputDataset != "" {
			return &wqerrors.ErrSpecRejected{Request: request, Field: "InputDataset", Value: t.InputDataset, Message: "MonteCarlo splitting takes no input dataset"}
		}
	case ResubmitBlockAlgorithm:
		if t.Resubmission == nil || t.Resubmission.Collection == "" || t.Resubmission.Fileset == "" {
			return &wqerrors.ErrSpecRejected{Request: request, Field: "Resubmission", Value: t.Resubmission, Message: "ResubmitBlock splitting needs a collection and fileset"}
		}
	default:
		if t.InputDataset == "" {
			return &wqerrors.ErrSpecRejected{Request: request, Field: "InputDataset", Value: "", Message: fmt.Sprintf("%s splitting needs an input dataset", t.Splitting.Algorithm())}
		}
	}
	if t.OpenRunningTimeout < 0 {
		return &wqerrors.ErrSpecRejected{Request: request, Field: "OpenRunningTimeout", Value: t.OpenRunningTimeout, Message: "must not be negative"}
	}
	return nil
}

// Parse decodes and validates a YAML or JSON specification.
func Parse(data []byte) (*Specification, error) {
	s := &Specification{}
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, errors.WithStack(err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// LoadFile reads a specification from a YAML or JSON file.
func LoadFile(path string) (*Specification, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, errors.WithMessagef(err, "error loading specification from %s", path)
	}
	return s, nil
}
