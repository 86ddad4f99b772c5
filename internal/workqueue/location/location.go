// Package location defines the data collaborators of the work queue: where blocks and
// datasets are held, what they contain, and what is left to redo from a failed
// processing. Resolution itself lives outside the queue; StaticService serves fixed data.
package location

import (
	"context"
)

// Block describes one block of a dataset.
type Block struct {
	Name      string   `json:"name"`
	Dataset   string   `json:"dataset"`
	NumFiles  int64    `json:"numFiles"`
	NumEvents int64    `json:"numEvents"`
	NumLumis  int64    `json:"numLumis"`
	Runs      []int64  `json:"runs,omitempty"`
	Sites     []string `json:"sites,omitempty"`
	// Parent blocks, used when parent files are processed too.
	Parents []string `json:"parents,omitempty"`
}

// Service answers dataset and block questions for the splitting policies.
type Service interface {
	// ListBlocks returns the current blocks of dataset. Unknown datasets are an ErrNotFound.
	ListBlocks(ctx context.Context, dataset string) ([]Block, error)
	GetBlock(ctx context.Context, name string) (Block, error)
	BlockLocations(ctx context.Context, block string) ([]string, error)
	DatasetLocations(ctx context.Context, dataset string) ([]string, error)
}

// Chunk is a slice of a resubmission record.
type Chunk struct {
	Name      string   `json:"name"`
	Offset    int64    `json:"offset"`
	NumFiles  int64    `json:"numFiles"`
	NumEvents int64    `json:"numEvents"`
	NumLumis  int64    `json:"numLumis"`
	Sites     []string `json:"sites,omitempty"`
	Parents   bool     `json:"parents,omitempty"`
}

// ResubmissionService reads the record of a failed or partial processing.
type ResubmissionService interface {
	ChunkFileset(ctx context.Context, collection, fileset string, chunkSize int64) ([]Chunk, error)
}
