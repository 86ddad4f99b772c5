package splitting

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/armadaproject/workqueue/internal/common/util"
	"github.com/armadaproject/workqueue/internal/workqueue/element"
	"github.com/armadaproject/workqueue/internal/workqueue/spec"
)

// ResubmitBlock creates one element per chunk of a resubmission record. Chunks are
// addressed as fileset#offset.
type ResubmitBlock struct{}

func (p *ResubmitBlock) Algorithm() spec.Algorithm {
	return spec.ResubmitBlockAlgorithm
}

func (p *ResubmitBlock) Split(ctx context.Context, req *Request) (*Result, error) {
	if req.Restriction != nil {
		return restrictedElement(req), nil
	}
	config, ok := req.Task.Splitting.(spec.ResubmitBlockSplitting)
	if !ok {
		return nil, &splittingMismatch{task: req.Task.Name, want: spec.ResubmitBlockAlgorithm}
	}
	record := req.Task.Resubmission
	chunks, err := req.Resubmission.ChunkFileset(ctx, record.Collection, record.Fileset, config.ChunkSize)
	if err != nil {
		return nil, errors.WithMessagef(err, "error chunking %s/%s", record.Collection, record.Fileset)
	}

	result := &Result{}
	for _, c := range chunks {
		input := fmt.Sprintf("%s#%s", record.Fileset, c.Name)
		if req.isProcessed(input) {
			continue
		}
		var mask *element.Mask
		if c.NumFiles > 0 {
			mask = &element.Mask{FirstFile: c.Offset, LastFile: c.Offset + c.NumFiles - 1}
		}
		el := req.newElement(map[string][]string{input: util.SortedUnion(c.Sites)}, element.ResubmissionInput, []string{input}, mask)
		el.Jobs = estimateJobs(config.Slicing, c.NumFiles, c.NumEvents, c.NumLumis)
		el.NumberOfFiles = c.NumFiles
		el.NumberOfEvents = c.NumEvents
		el.NumberOfLumis = c.NumLumis
		el.ParentFlag = c.Parents
		result.Elements = append(result.Elements, el)
		result.ProcessedInputs = append(result.ProcessedInputs, input)
	}
	if len(result.Elements) == 0 {
		return noWork("no unprocessed chunks in %s/%s", record.Collection, record.Fileset), nil
	}
	return result, nil
}

type splittingMismatch struct {
	task string
	want spec.Algorithm
}

func (e *splittingMismatch) Error() string {
	return fmt.Sprintf("task %s is not configured for %s splitting", e.task, e.want)
}
