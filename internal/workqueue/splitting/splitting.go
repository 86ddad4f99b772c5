// Package splitting turns a task of a specification into work elements.
//
// Policies are pure: they read the specification and the location collaborators and
// return the elements to create. Persisting them, and recording which inputs have been
// split, is the caller's job.
package splitting

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/armadaproject/workqueue/internal/workqueue/element"
	"github.com/armadaproject/workqueue/internal/workqueue/location"
	"github.com/armadaproject/workqueue/internal/workqueue/spec"
)

// Policy splits one task.
type Policy interface {
	Algorithm() spec.Algorithm
	Split(ctx context.Context, req *Request) (*Result, error)
}

// Restriction limits a split to the input of a pulled parent element.
type Restriction struct {
	ParentElementId string
	Inputs          map[string][]string
	InputKind       element.InputKind
	Blocks          []string
	Mask            *element.Mask
	Jobs            int64
	ParentFlag      bool
}

// RestrictionFromInbox returns the restriction for re-splitting an inbox stub.
// Top-level inbox records have no restriction.
func RestrictionFromInbox(inbox *element.Inbox) *Restriction {
	if !inbox.IsStub() {
		return nil
	}
	return &Restriction{
		ParentElementId: inbox.ParentElementId,
		Inputs:          inbox.Inputs,
		InputKind:       inbox.InputKind,
		Blocks:          inbox.Blocks,
		Mask:            inbox.Mask,
		Jobs:            inbox.Jobs,
		ParentFlag:      inbox.ParentFlag,
	}
}

type Request struct {
	Spec            *spec.Specification
	Task            *spec.Task
	Locations       location.Service
	Resubmission    location.ResubmissionService
	ProcessedInputs []string
	Restriction     *Restriction
}

func (r *Request) isProcessed(input string) bool {
	for _, p := range r.ProcessedInputs {
		if p == input {
			return true
		}
	}
	return false
}

func (r *Request) parentElementId() string {
	if r.Restriction == nil {
		return ""
	}
	return r.Restriction.ParentElementId
}

// newElement fills the fields every policy sets the same way.
func (r *Request) newElement(inputs map[string][]string, kind element.InputKind, idInputs []string, mask *element.Mask) *element.Element {
	return &element.Element{
		Id:              element.NewId(r.Spec.RequestName, r.Task.Name, r.parentElementId(), idInputs, mask),
		RequestName:     r.Spec.RequestName,
		TaskName:        r.Task.Name,
		SpecRef:         r.Spec.Ref(),
		Inputs:          inputs,
		InputKind:       kind,
		Mask:            mask,
		ParentElementId: r.parentElementId(),
		Status:          element.Available,
		Priority:        r.Spec.Priority,
		SiteWhitelist:   append([]string{}, r.Spec.SiteWhitelist...),
		SiteBlacklist:   append([]string{}, r.Spec.SiteBlacklist...),
	}
}

// Result is the outcome of a split. NoWork is set, with a reason, when the task has
// nothing (left) to split; that is not an error.
type Result struct {
	Elements []*element.Element
	// Inputs split by this call, to be added to the inbox's processed inputs.
	ProcessedInputs []string
	NoWork          bool
	Reason          string
}

func noWork(format string, args ...interface{}) *Result {
	return &Result{NoWork: true, Reason: fmt.Sprintf(format, args...)}
}

// New returns the policy implementing algorithm.
func New(algorithm spec.Algorithm) (Policy, error) {
	switch algorithm {
	case spec.BlockAlgorithm:
		return &Block{}, nil
	case spec.DatasetAlgorithm:
		return &Dataset{}, nil
	case spec.DatasetBlockAlgorithm:
		return &Dataset{perBlockInputs: true}, nil
	case spec.MonteCarloAlgorithm:
		return &MonteCarlo{}, nil
	case spec.ResubmitBlockAlgorithm:
		return &ResubmitBlock{}, nil
	default:
		return nil, errors.Errorf("no splitting policy for algorithm %q", algorithm)
	}
}

// LocalAlgorithm returns the algorithm used below the top of the tree to split elements
// pulled from a parent queue that were split with algorithm.
func LocalAlgorithm(algorithm spec.Algorithm) spec.Algorithm {
	switch algorithm {
	case spec.DatasetAlgorithm, spec.DatasetBlockAlgorithm, spec.BlockAlgorithm:
		return spec.BlockAlgorithm
	default:
		return algorithm
	}
}

// ForRequest returns the policy for req: the task's own algorithm at the top of the tree,
// the local algorithm when re-splitting a pulled element.
func ForRequest(req *Request) (Policy, error) {
	algorithm := req.Task.Splitting.Algorithm()
	if req.Restriction != nil {
		algorithm = LocalAlgorithm(algorithm)
	}
	return New(algorithm)
}

// Split validates req and runs the policy chosen for it.
func Split(ctx context.Context, req *Request) (*Result, error) {
	if err := Validate(ctx, req.Spec, req.Task, req.Locations); err != nil {
		return nil, err
	}
	policy, err := ForRequest(req)
	if err != nil {
		return nil, err
	}
	return policy.Split(ctx, req)
}

func slicingOf(config spec.SplittingConfig) spec.Slicing {
	switch c := config.(type) {
	case spec.BlockSplitting:
		return c.Slicing
	case spec.DatasetSplitting:
		return c.Slicing
	case spec.DatasetBlockSplitting:
		return c.Slicing
	case spec.ResubmitBlockSplitting:
		return c.Slicing
	default:
		return spec.Slicing{SliceType: spec.SliceByFiles, SliceSize: 1}
	}
}

// estimateJobs returns ceil(units / slice size), at least one.
func estimateJobs(slicing spec.Slicing, files, events, lumis int64) int64 {
	units := files
	switch slicing.SliceType {
	case spec.SliceByEvents:
		units = events
	case spec.SliceByLumis:
		units = lumis
	}
	size := slicing.SliceSize
	if size <= 0 {
		size = 1
	}
	jobs := (units + size - 1) / size
	if jobs < 1 {
		return 1
	}
	return jobs
}

// restrictedElement re-creates the single element described by a restriction, for
// pulled elements that need no further splitting.
func restrictedElement(req *Request) *Result {
	r := req.Restriction
	names := make([]string, 0, len(r.Inputs))
	inputs := make(map[string][]string, len(r.Inputs))
	for name, sites := range r.Inputs {
		if req.isProcessed(name) {
			continue
		}
		names = append(names, name)
		inputs[name] = append([]string{}, sites...)
	}
	if len(names) == 0 {
		return noWork("inputs of %s already split", r.ParentElementId)
	}
	el := req.newElement(inputs, r.InputKind, names, r.Mask.DeepCopy())
	el.Blocks = append([]string{}, r.Blocks...)
	el.Jobs = r.Jobs
	if el.Jobs < 1 {
		el.Jobs = 1
	}
	el.NumberOfEvents = r.Mask.Events()
	el.ParentFlag = r.ParentFlag
	return &Result{Elements: []*element.Element{el}, ProcessedInputs: names}
}
