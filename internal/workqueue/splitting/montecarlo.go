package splitting

import (
	"context"

	"github.com/pkg/errors"

	"github.com/armadaproject/workqueue/internal/workqueue/element"
	"github.com/armadaproject/workqueue/internal/workqueue/spec"
)

// MonteCarlo slices a number of events to generate into elements of at most
// EventsPerJob * MaxJobsPerElement events, each carrying its event range as a mask.
// Events are numbered from one.
type MonteCarlo struct{}

func (p *MonteCarlo) Algorithm() spec.Algorithm {
	return spec.MonteCarloAlgorithm
}

func (p *MonteCarlo) Split(_ context.Context, req *Request) (*Result, error) {
	config, ok := req.Task.Splitting.(spec.MonteCarloSplitting)
	if !ok {
		return nil, &splittingMismatch{task: req.Task.Name, want: spec.MonteCarloAlgorithm}
	}
	first, last := int64(1), req.Task.TotalEvents
	if r := req.Restriction; r != nil && r.Mask != nil {
		first, last = r.Mask.FirstEvent, r.Mask.LastEvent
	}
	if last < first {
		return noWork("task %s requests no events", req.Task.Name), nil
	}
	input := req.Task.Name
	if req.isProcessed(input) {
		return noWork("events of %s already split", req.Task.Name), nil
	}

	if err := config.Validate(); err != nil {
		return nil, errors.WithMessagef(err, "task %s", req.Task.Name)
	}

	perElement := config.EventsPerJob * config.MaxJobsPerElement
	result := &Result{ProcessedInputs: []string{input}}
	for start := first; ; {
		end := last
		if last-start >= perElement {
			end = start + perElement - 1
		}
		mask := &element.Mask{FirstEvent: start, LastEvent: end}
		el := req.newElement(map[string][]string{input: nil}, element.EventsInput, []string{input}, mask)
		el.NumberOfEvents = mask.Events()
		el.Jobs = (el.NumberOfEvents-1)/config.EventsPerJob + 1
		result.Elements = append(result.Elements, el)
		if end == last {
			break
		}
		start = end + 1
	}
	return result, nil
}
