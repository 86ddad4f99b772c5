package splitting

import (
	"context"

	"github.com/pkg/errors"

	"github.com/armadaproject/workqueue/internal/common/util"
	"github.com/armadaproject/workqueue/internal/workqueue/element"
	"github.com/armadaproject/workqueue/internal/workqueue/location"
	"github.com/armadaproject/workqueue/internal/workqueue/spec"
)

// Block creates one element per block of the input dataset. It is also the policy used
// to split pulled dataset-level elements below the top of the tree.
type Block struct{}

func (p *Block) Algorithm() spec.Algorithm {
	return spec.BlockAlgorithm
}

func (p *Block) Split(ctx context.Context, req *Request) (*Result, error) {
	if req.Restriction != nil && req.Restriction.Mask != nil {
		return restrictedElement(req), nil
	}
	blocks, err := candidateBlocks(ctx, req)
	if err != nil {
		return nil, err
	}
	var maxJobs int64
	if c, ok := req.Task.Splitting.(spec.BlockSplitting); ok {
		maxJobs = c.MaxJobsPerElement
	}
	slicing := slicingOf(req.Task.Splitting)
	result := &Result{}
	for _, b := range blocks {
		result.Elements = append(result.Elements, blockElements(req, b, slicing, maxJobs)...)
		result.ProcessedInputs = append(result.ProcessedInputs, b.Name)
	}
	if len(result.Elements) == 0 {
		return noWork("no unprocessed blocks in %s", req.Task.InputDataset), nil
	}
	return result, nil
}

// candidateBlocks returns the blocks a split may turn into elements: those of the
// restriction, or the whole dataset, after the task's filters and minus processed ones.
func candidateBlocks(ctx context.Context, req *Request) ([]location.Block, error) {
	var blocks []location.Block
	r := req.Restriction
	switch {
	case r != nil && len(r.Blocks) > 0:
		for _, name := range r.Blocks {
			b, err := lookupBlock(ctx, req.Locations, name)
			if err != nil {
				return nil, err
			}
			blocks = append(blocks, b)
		}
	case r != nil && r.InputKind == element.BlockInput:
		for _, name := range util.SortedUnion(keys(r.Inputs)) {
			b, err := lookupBlock(ctx, req.Locations, name)
			if err != nil {
				return nil, err
			}
			blocks = append(blocks, b)
		}
	default:
		all, err := req.Locations.ListBlocks(ctx, req.Task.InputDataset)
		if err != nil {
			return nil, errors.WithMessagef(err, "error listing blocks of %s", req.Task.InputDataset)
		}
		blocks = all
	}
	return util.Filter(blocks, func(b location.Block) bool {
		return !req.isProcessed(b.Name) && acceptBlock(req.Task, b)
	}), nil
}

// lookupBlock returns a block of a pulled element with its current sites, which may have
// changed since the level above split it.
func lookupBlock(ctx context.Context, locations location.Service, name string) (location.Block, error) {
	b, err := locations.GetBlock(ctx, name)
	if err != nil {
		return location.Block{}, errors.WithMessagef(err, "error looking up block %s", name)
	}
	sites, err := locations.BlockLocations(ctx, name)
	if err != nil {
		return location.Block{}, errors.WithMessagef(err, "error looking up sites of block %s", name)
	}
	b.Sites = sites
	return b, nil
}

func acceptBlock(task *spec.Task, b location.Block) bool {
	if util.ContainsString(task.BlockBlacklist, b.Name) {
		return false
	}
	if len(task.BlockWhitelist) > 0 && !util.ContainsString(task.BlockWhitelist, b.Name) {
		return false
	}
	if len(task.RunWhitelist) > 0 && !anyRunIn(b.Runs, task.RunWhitelist) {
		return false
	}
	if len(task.RunBlacklist) > 0 && len(b.Runs) > 0 && allRunsIn(b.Runs, task.RunBlacklist) {
		return false
	}
	return true
}

func anyRunIn(runs, list []int64) bool {
	for _, run := range runs {
		if containsRun(list, run) {
			return true
		}
	}
	return false
}

func allRunsIn(runs, list []int64) bool {
	for _, run := range runs {
		if !containsRun(list, run) {
			return false
		}
	}
	return true
}

func containsRun(list []int64, run int64) bool {
	for _, r := range list {
		if r == run {
			return true
		}
	}
	return false
}

func keys(m map[string][]string) []string {
	result := make([]string, 0, len(m))
	for k := range m {
		result = append(result, k)
	}
	return result
}

// blockElements returns the elements for one block. A block estimated at more than
// maxJobs jobs is cut into consecutive file ranges; a block with no files or events
// still gives one element.
func blockElements(req *Request, b location.Block, slicing spec.Slicing, maxJobs int64) []*element.Element {
	jobs := estimateJobs(slicing, b.NumFiles, b.NumEvents, b.NumLumis)
	parentFlag := req.Task.IncludeParents && len(b.Parents) > 0
	if maxJobs <= 0 || jobs <= maxJobs || b.NumFiles <= 1 {
		el := req.newElement(map[string][]string{b.Name: util.SortedUnion(b.Sites)}, element.BlockInput, []string{b.Name}, nil)
		el.Jobs = jobs
		el.NumberOfFiles = b.NumFiles
		el.NumberOfEvents = b.NumEvents
		el.NumberOfLumis = b.NumLumis
		el.ParentFlag = parentFlag
		return []*element.Element{el}
	}

	filesPerElement := b.NumFiles * maxJobs / jobs
	if filesPerElement < 1 {
		filesPerElement = 1
	}
	var elements []*element.Element
	for first := int64(0); first < b.NumFiles; first += filesPerElement {
		last := first + filesPerElement - 1
		if last >= b.NumFiles {
			last = b.NumFiles - 1
		}
		files := last - first + 1
		mask := &element.Mask{FirstFile: first, LastFile: last}
		el := req.newElement(map[string][]string{b.Name: util.SortedUnion(b.Sites)}, element.BlockInput, []string{b.Name}, mask)
		el.NumberOfFiles = files
		el.NumberOfEvents = b.NumEvents * files / b.NumFiles
		el.NumberOfLumis = b.NumLumis * files / b.NumFiles
		el.Jobs = (jobs*files + b.NumFiles - 1) / b.NumFiles
		el.ParentFlag = parentFlag
		elements = append(elements, el)
	}
	return elements
}
