// Package reclass builds the per-dataset binary forest masks on the common
// target grid: every catalog dataset is fetched, composited, aligned and
// reclassified, and the result is checked against the target grid.
package reclass

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/paulmach/orb"
	"golang.org/x/sync/errgroup"

	"forestagree/internal/catalog"
	"forestagree/internal/provider"
	"forestagree/internal/raster"
	"forestagree/internal/types"
)

// DefaultConcurrency bounds parallel dataset fetches.
const DefaultConcurrency = 4

// Mask is the binary forest mask of one dataset.
type Mask struct {
	ID     string
	Raster *raster.Raster
}

// Options configures a Reclassifier.
type Options struct {
	// Method is the resampling used for every dataset of the run.
	Method      types.ResamplingMethod
	Concurrency int
	Logger      *slog.Logger
}

// Reclassifier turns catalog datasets into aligned binary masks.
type Reclassifier struct {
	catalog  *catalog.Catalog
	provider provider.Provider
	method   types.ResamplingMethod
	limit    int
	logger   *slog.Logger
}

// New creates a Reclassifier.
func New(cat *catalog.Catalog, prov provider.Provider, opts Options) *Reclassifier {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	limit := opts.Concurrency
	if limit <= 0 {
		limit = DefaultConcurrency
	}
	method := opts.Method
	if method == "" {
		method = types.ResampleNearest
	}
	return &Reclassifier{
		catalog:  cat,
		provider: prov,
		method:   method,
		limit:    limit,
		logger:   logger,
	}
}

// Build returns one mask per catalog dataset, in catalog order, each on
// grid. roi is the geographic region handed to the provider. Any failure
// aborts the build: a missing dataset would change what the score means.
func (r *Reclassifier) Build(ctx context.Context, roi orb.Bound, grid raster.Grid) ([]Mask, error) {
	ids := r.catalog.IDs()
	masks := make([]Mask, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.limit)
	for i, id := range ids {
		g.Go(func() error {
			m, err := r.buildOne(gctx, id, roi, grid)
			if err != nil {
				return err
			}
			masks[i] = Mask{ID: id, Raster: m}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return masks, nil
}

func (r *Reclassifier) buildOne(ctx context.Context, id string, roi orb.Bound, grid raster.Grid) (*raster.Raster, error) {
	spec, err := r.catalog.Spec(id)
	if err != nil {
		return nil, err
	}

	var src *raster.Raster
	switch spec.Composite {
	case types.CompositeLabelMode:
		src, err = r.provider.FetchLabelModeComposite(ctx, id, roi, spec.DateRange)
	default:
		src, err = r.provider.Fetch(ctx, id, roi, spec.DateRange)
	}
	if err != nil {
		return nil, withDataset(err, id)
	}

	aligned, err := raster.Align(src, grid, r.method)
	if err != nil {
		return nil, withDataset(err, id)
	}
	mask := raster.Reclassify(aligned, spec.Rule)

	if !mask.Aligned(grid) {
		return nil, types.NewAppErrorWithDetails(types.ErrCodeInternalUnalignedRaster,
			fmt.Sprintf("mask of %s is not on the target grid", id), nil,
			map[string]any{"dataset": id, "expected": grid.String(), "actual": mask.Grid.String()})
	}

	r.logger.InfoContext(ctx, "dataset reclassified",
		"dataset", id,
		"source_crs", src.CRS,
		"forest_pixels", raster.Count(mask, func(v float64) bool { return v == 1 }),
	)
	return mask, nil
}

func withDataset(err error, id string) error {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		return appErr.WithDetails(map[string]any{"dataset": id})
	}
	return fmt.Errorf("dataset %s: %w", id, err)
}

// Rasters returns the mask rasters in order.
func Rasters(masks []Mask) []*raster.Raster {
	out := make([]*raster.Raster, len(masks))
	for i, m := range masks {
		out[i] = m.Raster
	}
	return out
}
