package splitting

import (
	"context"

	"github.com/armadaproject/workqueue/internal/common/util"
	"github.com/armadaproject/workqueue/internal/workqueue/element"
	"github.com/armadaproject/workqueue/internal/workqueue/spec"
)

// Dataset creates a single element covering every block of the input dataset not yet
// split. Each call picks up blocks added since the previous one, which is how open
// datasets grow. The element lists its blocks so that a lower level can split per block.
//
// With perBlockInputs (the DatasetBlock algorithm) the element's inputs are the blocks
// themselves rather than the dataset, so site matching considers every block.
type Dataset struct {
	perBlockInputs bool
}

func (p *Dataset) Algorithm() spec.Algorithm {
	if p.perBlockInputs {
		return spec.DatasetBlockAlgorithm
	}
	return spec.DatasetAlgorithm
}

func (p *Dataset) Split(ctx context.Context, req *Request) (*Result, error) {
	if req.Restriction != nil {
		return restrictedElement(req), nil
	}
	blocks, err := candidateBlocks(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(blocks) == 0 {
		return noWork("no unprocessed blocks in %s", req.Task.InputDataset), nil
	}

	slicing := slicingOf(req.Task.Splitting)
	names := make([]string, 0, len(blocks))
	siteLists := make([][]string, 0, len(blocks))
	perBlock := make(map[string][]string, len(blocks))
	var jobs, files, events, lumis int64
	parentFlag := false
	for _, b := range blocks {
		names = append(names, b.Name)
		siteLists = append(siteLists, b.Sites)
		perBlock[b.Name] = util.SortedUnion(b.Sites)
		jobs += estimateJobs(slicing, b.NumFiles, b.NumEvents, b.NumLumis)
		files += b.NumFiles
		events += b.NumEvents
		lumis += b.NumLumis
		parentFlag = parentFlag || (req.Task.IncludeParents && len(b.Parents) > 0)
	}

	var el *element.Element
	if p.perBlockInputs {
		el = req.newElement(perBlock, element.BlockInput, names, nil)
	} else {
		inputs := map[string][]string{req.Task.InputDataset: util.SortedIntersection(siteLists...)}
		el = req.newElement(inputs, element.DatasetInput, append([]string{req.Task.InputDataset}, names...), nil)
	}
	el.Blocks = util.SortedUnion(names)
	el.Jobs = jobs
	el.NumberOfFiles = files
	el.NumberOfEvents = events
	el.NumberOfLumis = lumis
	el.ParentFlag = parentFlag
	return &Result{Elements: []*element.Element{el}, ProcessedInputs: names}, nil
}
