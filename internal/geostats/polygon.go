package geostats

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"forestagree/internal/raster"
	"forestagree/internal/types"
)

// Area check values of the per-polygon table.
const (
	AreaCheckOK          = "ok"
	AreaCheckUnavailable = "unavailable"
)

// PolygonOptions configures PolygonAgreement.
type PolygonOptions struct {
	// MinAreaHa is the minimum polygon area for a reliable percentage.
	MinAreaHa float64
	// Threshold and MaxScore bound the agreement scores counted as forest.
	Threshold   int
	MaxScore    int
	Concurrency int
	MaxPixels   int
	Logger      *slog.Logger
}

// BelowMinimumLabel is the area_check value of flagged polygons, e.g.
// "below 0.5ha".
func BelowMinimumLabel(minAreaHa float64) string {
	return fmt.Sprintf("below %gha", minAreaHa)
}

// BelowMinimumArea reports whether a polygon is too small for a reliable
// agreement percentage. The area rule and the pixel rule (the pixels the
// polygon could hold against the pixel equivalent of the minimum) divide both
// sides by the same nominal pixel area, so on a grid of uniform nominal
// resolution they coincide and one comparison decides both.
func BelowMinimumArea(areaHa, minAreaHa float64) bool {
	return areaHa < minAreaHa
}

// PolygonAgreement builds one row per geometry, in input order. Polygons
// below the minimum area are flagged and carry no forestagree value; the
// others get the share of their area whose score lies in
// [Threshold, MaxScore]. A polygon whose statistics fail is reported as a
// unit failure and its row is marked unavailable.
func PolygonAgreement(ctx context.Context, agreement *raster.Raster, geoms []*types.AnalysisGeometry, opts PolygonOptions) ([]types.PolygonAgreementRow, []types.UnitResult) {
	logger := types.LoggerFromContext(ctx, opts.Logger)
	limit := opts.Concurrency
	if limit <= 0 {
		limit = DefaultConcurrency
	}
	pred := Between(float64(opts.Threshold), float64(opts.MaxScore))

	rows := make([]types.PolygonAgreementRow, len(geoms))
	var mu sync.Mutex
	var failures []types.UnitResult

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i, geom := range geoms {
		row := types.PolygonAgreementRow{
			ID:         geom.ID,
			Geometry:   geom.Geometry,
			Properties: geom.Properties,
			AreaHa:     geom.AreaHa(),
		}
		if BelowMinimumArea(row.AreaHa, opts.MinAreaHa) {
			row.AreaCheck = BelowMinimumLabel(opts.MinAreaHa)
			rows[i] = row
			continue
		}

		g.Go(func() error {
			var z Zonal
			err := gCtx.Err()
			if err == nil {
				z, err = ZonalStats(agreement, geom, pred, opts.MaxPixels)
			}
			if err != nil {
				logger.WarnContext(ctx, "polygon agreement failed",
					"geometry_id", geom.ID, "code", types.CodeOf(err), "error", err)
				row.AreaCheck = AreaCheckUnavailable
				mu.Lock()
				failures = append(failures, types.UnitFromError(geom.ID, types.UnitPolygon, err))
				mu.Unlock()
			} else {
				pct := z.Pct
				row.AreaCheck = AreaCheckOK
				row.ForestAgree = &pct
			}
			rows[i] = row
			return nil
		})
	}
	_ = g.Wait()

	return rows, failures
}
