package report

import (
	"context"
	"errors"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"forestagree/internal/storage"
	"forestagree/internal/types"
)

type mockTableWriter struct {
	mock.Mock
}

func (m *mockTableWriter) WriteTable(ctx context.Context, t *storage.Table, format types.TableFormat, target storage.Target) (string, error) {
	args := m.Called(ctx, t, format, target)
	return args.String(0), args.Error(1)
}

func TestExtentTable(t *testing.T) {
	table := ExtentTable([]types.StatsRow{
		{ID: "esa_worldcover_2020", ForestAreaHa: 120.5, ForestPctTotal: 60.25, Rank: 1},
		{ID: "jaxa_fnf_2020", ForestAreaHa: 80, ForestPctTotal: 40, Rank: 2},
	})

	assert.Equal(t, ExtentTableName, table.Name)
	assert.Equal(t, []string{"Layer", "Forest_area_ha", "Forest_pct_total", "Rank"}, table.Columns)
	require.Len(t, table.Rows, 2)
	assert.Equal(t, "esa_worldcover_2020", table.Rows[0].Values[ColLayer])
	assert.Equal(t, 60.25, table.Rows[0].Values[ColForestPctTotal])
	assert.Equal(t, 2, table.Rows[1].Values[ColRank])
	assert.Nil(t, table.Rows[0].Geometry)
}

func TestPolygonTable(t *testing.T) {
	pct := 42.5
	square := orb.Polygon{{{0, 0}, {1, 0}, {1, 1}, {0, 1}, {0, 0}}}
	rows := []types.PolygonAgreementRow{
		{
			ID:          "a",
			Geometry:    square,
			Properties:  map[string]any{"name": "plot a", "owner": "x"},
			AreaHa:      12.3,
			AreaCheck:   "ok",
			ForestAgree: &pct,
		},
		{
			ID:         "b",
			Geometry:   square,
			Properties: map[string]any{"name": "plot b", "area_ha": 99.0},
			AreaHa:     0.2,
			AreaCheck:  "below 0.5ha",
		},
	}

	table := PolygonTable(rows)
	assert.Equal(t, PolygonTableName, table.Name)
	assert.Equal(t, []string{"name", "owner", "area_ha", "area_check", "forestagree"}, table.Columns)
	require.Len(t, table.Rows, 2)

	assert.Equal(t, "plot a", table.Rows[0].Values["name"])
	assert.Equal(t, &pct, table.Rows[0].Values[ColForestAgree])
	assert.Equal(t, square, table.Rows[0].Geometry)

	// The computed area replaces the input property of the same name.
	assert.Equal(t, 0.2, table.Rows[1].Values[ColAreaHa])
	assert.Nil(t, table.Rows[1].Values["owner"])
	assert.Nil(t, table.Rows[1].Values[ColForestAgree].(*float64))
}

func TestSummaryTable(t *testing.T) {
	units := []types.UnitResult{
		{ID: "esa_worldcover_2020", Kind: types.UnitDataset, Status: types.UnitOK},
		{ID: "cluster-0", Kind: types.UnitCluster, Status: types.UnitOK, Location: "/out/cluster-0.tif", CRS: "EPSG:32632"},
		{ID: "cluster-1", Kind: types.UnitCluster, Status: types.UnitSkipped, Code: types.ErrCodeWarningEmptyRegion, Message: "empty"},
		{ID: "cluster-2", Kind: types.UnitCluster, Status: types.UnitFailed, Code: types.ErrCodeLimitUnitBudget, Message: "too big"},
	}

	table := SummaryTable(units)
	assert.Equal(t, SummaryTableName, table.Name)
	require.Len(t, table.Rows, 3)
	assert.Equal(t, "cluster-2", table.Rows[0].Values["id"])
	assert.Equal(t, "failed", table.Rows[0].Values["status"])
	assert.Equal(t, "limit_unit_budget_exceeded", table.Rows[0].Values["code"])
	assert.Equal(t, "cluster-1", table.Rows[1].Values["id"])
	assert.Equal(t, "cluster-0", table.Rows[2].Values["id"])
	assert.Equal(t, "EPSG:32632", table.Rows[2].Values["crs"])
}

func TestHistogramTable(t *testing.T) {
	table := HistogramTable([]int{10, 5, 3}, []int{12, 6})
	require.Len(t, table.Rows, 3)
	assert.Equal(t, 2, table.Rows[2].Values[ColScore])
	assert.Equal(t, 3, table.Rows[2].Values[ColRawPixels])
	assert.Equal(t, 0, table.Rows[2].Values[ColFilteredPixels])
}

func TestCount(t *testing.T) {
	c := Count([]types.UnitResult{
		{Status: types.UnitOK}, {Status: types.UnitOK}, {Status: types.UnitSkipped}, {Status: types.UnitFailed},
	})
	assert.Equal(t, Counts{OK: 2, Skipped: 1, Failed: 1}, c)
}

func TestReporter_Write(t *testing.T) {
	target := storage.Target{Kind: storage.TargetLocal, Path: "/out"}
	named := func(name string) any {
		return mock.MatchedBy(func(t *storage.Table) bool { return t.Name == name })
	}

	t.Run("writes every table", func(t *testing.T) {
		w := new(mockTableWriter)
		for _, name := range []string{ExtentTableName, PolygonTableName, HistogramTableName, SummaryTableName} {
			w.On("WriteTable", mock.Anything, named(name), types.TableCSV, target).Return("/out/"+name+".csv", nil).Once()
		}

		r := NewReporter(w, types.TableCSV, target, nil)
		locs, err := r.Write(context.Background(), Input{
			Extent:       []types.StatsRow{{ID: "a", Rank: 1}},
			RawHist:      []int{1, 2},
			FilteredHist: []int{1, 2},
			PolygonMode:  true,
		})
		require.NoError(t, err)
		assert.Len(t, locs, 4)
		assert.Equal(t, "/out/run_summary.csv", locs[SummaryTableName])
		w.AssertExpectations(t)
	})

	t.Run("summary is written after a failure", func(t *testing.T) {
		w := new(mockTableWriter)
		failure := types.NewAppError(types.ErrCodeUpstreamStorage, "disk full", errors.New("ENOSPC"))
		w.On("WriteTable", mock.Anything, named(ExtentTableName), types.TableGeoJSON, target).Return("", failure).Once()
		w.On("WriteTable", mock.Anything, named(SummaryTableName), types.TableGeoJSON, target).Return("/out/run_summary.geojson", nil).Once()

		r := NewReporter(w, types.TableGeoJSON, target, nil)
		locs, err := r.Write(context.Background(), Input{})
		require.Error(t, err)
		assert.Equal(t, types.ErrCodeUpstreamStorage, types.CodeOf(err))
		assert.Equal(t, map[string]string{SummaryTableName: "/out/run_summary.geojson"}, locs)
		w.AssertExpectations(t)
	})
}
