package rechunk

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/TuSKan/rechunk-gomlx/chunkgrid"
	"github.com/TuSKan/rechunk-gomlx/dataset"
	"github.com/TuSKan/rechunk-gomlx/pattern"
)

// Opener resolves an OpenSpec into an in-memory fragment, applying any
// subset slicing the spec carries.
type Opener interface {
	Open(ctx context.Context, spec pattern.OpenSpec) (*dataset.Fragment, error)
}

// ChunkStore persists assembled destination chunks. variable is the merged
// variable the chunk belongs to ("" when the pattern has no merge
// dimensions); coords maps each split dimension to its chunk ordinal.
type ChunkStore interface {
	WriteChunk(ctx context.Context, variable string, coords map[string]int, frag *dataset.Fragment) error
}

// Plan describes one rechunking run: which files, how to open them, and
// the chunk layout to write.
type Plan struct {
	Pattern *pattern.FilePattern
	Opener  Opener
	Target  map[string]chunkgrid.Dim
	Store   ChunkStore
	// Workers bounds the parallel open+split stage. Default 4.
	Workers int
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Rechunk runs the full pipeline: iterate the pattern, open each fragment,
// split it against the target grid, regroup pieces into destination
// chunks, and write each chunk once complete. Fragments are opened and
// split concurrently; combining and writing happen on a single goroutine,
// so the ChunkStore never sees concurrent writes.
func Rechunk(ctx context.Context, plan Plan) error {
	if plan.Pattern == nil || plan.Opener == nil || plan.Store == nil || len(plan.Target) == 0 {
		return fmt.Errorf("plan needs a pattern, an opener, a store, and a target spec: %w",
			pattern.ErrConstruction)
	}
	if plan.Workers <= 0 {
		plan.Workers = 4
	}
	logger := plan.Logger
	if logger == nil {
		logger = slog.Default()
	}
	combiner, err := NewCombiner(plan.Target)
	if err != nil {
		return err
	}

	nfiles := 1
	for _, n := range plan.Pattern.Shape() {
		nfiles *= n
	}
	logger.Info("rechunk started", "files", nfiles, "workers", plan.Workers)

	g, gctx := errgroup.WithContext(ctx)
	pieces := make(chan FragmentPiece)

	// Combine and write stage.
	g.Go(func() error {
		written := 0
		for p := range pieces {
			chunk, err := combiner.Add(p)
			if err != nil {
				return err
			}
			if chunk == nil {
				continue
			}
			variable := mergeVariable(plan.Pattern, chunk.Index)
			coords := make(map[string]int, len(chunk.Key))
			for _, ref := range chunk.Key {
				coords[ref.Dim] = ref.Chunk
			}
			if err := plan.Store.WriteChunk(gctx, variable, coords, chunk.Data); err != nil {
				return fmt.Errorf("write chunk %s: %w", chunk.Key, err)
			}
			written++
			logger.Debug("wrote chunk", "key", chunk.Key.String(), "variable", variable)
		}
		if pend := combiner.Pending(); len(pend) > 0 {
			return fmt.Errorf("%d chunks never completed (first: %s): %w",
				len(pend), pend[0], ErrIncomplete)
		}
		logger.Info("rechunk finished", "chunks", written)
		return nil
	})

	// Open and split stage.
	g.Go(func() error {
		defer close(pieces)
		workers, wctx := errgroup.WithContext(gctx)
		workers.SetLimit(plan.Workers)
		for key, spec := range plan.Pattern.Items() {
			workers.Go(func() error {
				ix, err := plan.Pattern.FragmentIndex(key)
				if err != nil {
					return err
				}
				frag, err := plan.Opener.Open(wctx, spec)
				if err != nil {
					return fmt.Errorf("open %q: %w", spec.FName, err)
				}
				split, err := SplitFragment(ix, frag, plan.Target)
				if err != nil {
					return fmt.Errorf("split %q: %w", spec.FName, err)
				}
				logger.Debug("split fragment", "file", spec.FName, "pieces", len(split))
				for _, piece := range split {
					select {
					case pieces <- piece:
					case <-wctx.Done():
						return wctx.Err()
					}
				}
				return nil
			})
		}
		return workers.Wait()
	})

	return g.Wait()
}

// mergeVariable names the merged variable an index belongs to by joining
// the merge-dimension key values in declaration order.
func mergeVariable(p *pattern.FilePattern, ix pattern.Index) string {
	var parts []string
	for _, d := range p.CombineDims() {
		md, ok := d.(pattern.MergeDim)
		if !ok {
			continue
		}
		dv, ok := ix[pattern.DimKey{Name: md.Name, Op: pattern.OpMerge}]
		if !ok || dv.Index < 0 || dv.Index >= len(md.Keys) {
			continue
		}
		parts = append(parts, md.Keys[dv.Index])
	}
	return strings.Join(parts, "/")
}
