// Package export writes the filtered agreement raster out per cluster or per
// ROI tile, each piece in the UTM zone that fits it best.
package export

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/paulmach/orb"
	"golang.org/x/sync/errgroup"

	"forestagree/internal/geostats"
	"forestagree/internal/raster"
	"forestagree/internal/storage"
	"forestagree/internal/types"
)

// DefaultConcurrency bounds the number of units exported at once.
const DefaultConcurrency = 4

// RasterWriter stores one exported raster.
type RasterWriter interface {
	WriteRaster(ctx context.Context, p storage.RasterPayload, target storage.Target) (string, error)
}

// UnitHook observes every finished unit.
type UnitHook func(ctx context.Context, u types.UnitResult)

// Options configures an Exporter.
type Options struct {
	Target      storage.Target
	ResolutionM float64
	// MaxScore is the highest agreement score; it selects the pixel type.
	MaxScore int
	// MaxUnitPixels bounds the pixels of one unit before and after
	// projection. Zero disables the bound.
	MaxUnitPixels int
	// NamePrefix is prepended to every file stem.
	NamePrefix  string
	Concurrency int
	OnUnit      UnitHook
	Logger      *slog.Logger
}

// Exporter partitions an agreement raster into units and writes each one.
type Exporter struct {
	writer RasterWriter
	opts   Options
	logger *slog.Logger
}

// New creates an Exporter.
func New(writer RasterWriter, opts Options) *Exporter {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{writer: writer, opts: opts, logger: logger}
}

// Export writes every unit of r and returns one result per unit, in unit
// order. Units are isolated: an empty unit is skipped with a warning and a
// failing unit is recorded without affecting the others.
func (e *Exporter) Export(ctx context.Context, r *raster.Raster, units []Unit) []types.UnitResult {
	logger := types.LoggerFromContext(ctx, e.logger)
	results := make([]types.UnitResult, len(units))
	var mu sync.Mutex

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Concurrency)

	for i, u := range units {
		g.Go(func() error {
			res, err := e.exportUnit(types.WithUnitID(gCtx, u.ID), r, u)
			if err != nil {
				res = types.UnitFromError(u.ID, u.Kind, err)
				if res.Status == types.UnitSkipped {
					logger.WarnContext(ctx, "export unit skipped",
						"unit_id", u.ID, "kind", u.Kind, "reason", err)
				} else {
					logger.ErrorContext(ctx, "export unit failed",
						"unit_id", u.ID, "kind", u.Kind, "code", res.Code, "error", err)
				}
			}
			mu.Lock()
			results[i] = res
			mu.Unlock()
			if e.opts.OnUnit != nil {
				e.opts.OnUnit(ctx, res)
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (e *Exporter) exportUnit(ctx context.Context, r *raster.Raster, u Unit) (types.UnitResult, error) {
	if err := ctx.Err(); err != nil {
		return types.UnitResult{}, err
	}

	sub, ok := raster.Subset(r, u.Bound)
	if !ok {
		return types.UnitResult{}, emptyRegion(u, "covers no pixel")
	}
	if err := e.checkBudget(u, sub.Len()); err != nil {
		return types.UnitResult{}, err
	}
	if u.Geometry != nil {
		sub = maskOutside(sub, u.Geometry)
	}
	if raster.Count(sub, func(v float64) bool { return v != 0 }) == 0 {
		return types.UnitResult{}, emptyRegion(u, "has no non-zero pixel")
	}

	crs, err := e.bestCRS(u)
	if err != nil {
		return types.UnitResult{}, err
	}

	ir, err := raster.ToInt(sub, raster.PixelTypeFor(e.opts.MaxScore))
	if err != nil {
		return types.UnitResult{}, err
	}
	dst, err := raster.UTMGrid(sub.Grid, crs, e.opts.ResolutionM)
	if err != nil {
		return types.UnitResult{}, err
	}
	if err := e.checkBudget(u, dst.Len()); err != nil {
		return types.UnitResult{}, err
	}
	warped, err := raster.WarpInt(ir, dst)
	if err != nil {
		return types.UnitResult{}, err
	}

	location, err := e.writer.WriteRaster(ctx, storage.RasterPayload{
		Name:        e.opts.NamePrefix + u.ID,
		Raster:      warped,
		ResolutionM: e.opts.ResolutionM,
	}, e.opts.Target)
	if err != nil {
		return types.UnitResult{}, err
	}

	return types.UnitResult{
		ID:       u.ID,
		Kind:     u.Kind,
		Status:   types.UnitOK,
		Location: location,
		CRS:      crs,
	}, nil
}

// bestCRS picks the zone of the unit's geometry when it has one, of its
// bound otherwise.
func (e *Exporter) bestCRS(u Unit) (string, error) {
	if u.Geometry != nil {
		return geostats.BestUTM(u.Geometry)
	}
	return geostats.BestUTMForBound(u.Bound)
}

func (e *Exporter) checkBudget(u Unit, pixels int) error {
	if e.opts.MaxUnitPixels <= 0 || pixels <= e.opts.MaxUnitPixels {
		return nil
	}
	return types.NewAppErrorWithDetails(types.ErrCodeLimitUnitBudget,
		fmt.Sprintf("%s %s spans %d pixels, budget is %d", u.Kind, u.ID, pixels, e.opts.MaxUnitPixels), nil,
		map[string]any{"pixels": pixels, "max_pixels": e.opts.MaxUnitPixels})
}

func emptyRegion(u Unit, why string) error {
	return types.NewAppError(types.ErrCodeWarningEmptyRegion,
		fmt.Sprintf("%s %s %s", u.Kind, u.ID, why), nil)
}

// maskOutside sets pixels whose centers fall outside g to nodata.
func maskOutside(r *raster.Raster, g orb.Geometry) *raster.Raster {
	out := r.Clone()
	for row := 0; row < r.Rows; row++ {
		for col := 0; col < r.Cols; col++ {
			x, y := r.PixelCenter(col, row)
			if !geostats.Contains(g, orb.Point{x, y}) {
				out.Data[r.Index(col, row)] = math.NaN()
			}
		}
	}
	return out
}
