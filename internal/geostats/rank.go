package geostats

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"forestagree/internal/raster"
	"forestagree/internal/types"
)

// DefaultConcurrency bounds the number of layers evaluated at once.
const DefaultConcurrency = 4

// Layer is one named binary mask.
type Layer struct {
	ID   string
	Mask *raster.Raster
}

// RankDatasets assigns every row rank 1 + the number of rows with a strictly
// greater Forest_pct_total, so equal percentages share a rank ([50, 50, 30]
// ranks [1, 1, 3]). The result is sorted by percentage, descending; rows with
// equal percentages keep their input order.
func RankDatasets(rows []types.StatsRow) []types.StatsRow {
	out := make([]types.StatsRow, len(rows))
	copy(out, rows)
	for i := range out {
		rank := 1
		for _, other := range rows {
			if other.ForestPctTotal > out[i].ForestPctTotal {
				rank++
			}
		}
		out[i].Rank = rank
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ForestPctTotal > out[j].ForestPctTotal
	})
	return out
}

// ExtentOptions configures ExtentRanking.
type ExtentOptions struct {
	Concurrency int
	MaxPixels   int
	Logger      *slog.Logger
}

// ExtentRanking computes the forest area of every layer inside roi and ranks
// the layers. Each layer is an independent unit: a failing layer is reported
// in the returned units and left out of the ranking without affecting its
// siblings.
func ExtentRanking(ctx context.Context, layers []Layer, roi *types.AnalysisGeometry, opts ExtentOptions) ([]types.StatsRow, []types.UnitResult) {
	logger := types.LoggerFromContext(ctx, opts.Logger)
	limit := opts.Concurrency
	if limit <= 0 {
		limit = DefaultConcurrency
	}

	var mu sync.Mutex
	rows := make([]*types.StatsRow, len(layers))
	units := make([]types.UnitResult, len(layers))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i, layer := range layers {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				mu.Lock()
				units[i] = types.UnitFromError(layer.ID, types.UnitDataset, err)
				mu.Unlock()
				return nil
			}

			z, err := ZonalStats(layer.Mask, roi, Equals(1), opts.MaxPixels)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				// Isolated: the remaining layers are still ranked.
				logger.WarnContext(ctx, "dataset extent failed",
					"dataset", layer.ID, "code", types.CodeOf(err), "error", err)
				units[i] = types.UnitFromError(layer.ID, types.UnitDataset, err)
				return nil
			}
			rows[i] = &types.StatsRow{ID: layer.ID, ForestAreaHa: z.AreaHa, ForestPctTotal: z.Pct}
			units[i] = types.UnitResult{ID: layer.ID, Kind: types.UnitDataset, Status: types.UnitOK}
			return nil
		})
	}
	_ = g.Wait()

	ok := make([]types.StatsRow, 0, len(rows))
	for _, r := range rows {
		if r != nil {
			ok = append(ok, *r)
		}
	}
	return RankDatasets(ok), units
}
