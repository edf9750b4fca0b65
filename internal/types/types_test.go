package types

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorCode_Classification(t *testing.T) {
	tests := []struct {
		code      ErrorCode
		fatal     bool
		retryable bool
	}{
		{ErrCodeConfigPlaceholderPath, true, false},
		{ErrCodeConfigUnsupportedGeom, true, false},
		{ErrCodeValidationGeometryMismatch, true, false},
		{ErrCodeNotFoundDataset, true, false},
		{ErrCodeInternalUnalignedRaster, true, false},
		{ErrCodeWarningEmptyRegion, false, false},
		{ErrCodeLimitUnitBudget, false, false},
		{ErrCodeInternalCorruptChunk, false, false},
		{ErrCodeUpstreamProvider, false, true},
		{ErrCodeUpstreamStorage, false, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.fatal, tt.code.IsFatal())
			assert.Equal(t, tt.retryable, tt.code.IsRetryable())
		})
	}
}

func TestAppError_WrapAndUnwrap(t *testing.T) {
	root := errors.New("connection reset")
	err := fmt.Errorf("fetch chunk: %w", NewAppError(ErrCodeUpstreamProvider, "provider unavailable", root))

	assert.True(t, errors.Is(err, root))
	assert.Equal(t, ErrCodeUpstreamProvider, CodeOf(err))
	assert.True(t, IsRetryable(err))
	assert.False(t, IsFatal(err))
	assert.Contains(t, err.Error(), "upstream_provider_unavailable: provider unavailable")
}

func TestCodeOf_PlainError(t *testing.T) {
	assert.Equal(t, ErrCodeInternalUnexpected, CodeOf(errors.New("boom")))
	assert.False(t, IsRetryable(errors.New("boom")))
	assert.False(t, IsFatal(nil))
}

func TestAppError_WithDetailsDoesNotMutate(t *testing.T) {
	base := NewAppErrorWithDetails(ErrCodeNotFoundDataset, "unknown", nil, map[string]any{"id": "x"})
	extended := base.WithDetails(map[string]any{"known": []string{"a"}})

	assert.Len(t, base.Details, 1)
	assert.Len(t, extended.Details, 2)
	assert.Equal(t, "x", extended.Details["id"])
}

func TestParseGeometryKind(t *testing.T) {
	k, err := ParseGeometryKind("point")
	require.NoError(t, err)
	assert.Equal(t, GeometryPoint, k)

	_, err = ParseGeometryKind("linestring")
	require.Error(t, err)
	assert.Equal(t, ErrCodeConfigUnsupportedGeom, CodeOf(err))
	assert.True(t, IsFatal(err))
}

func TestTableFormatExtension(t *testing.T) {
	assert.Equal(t, "csv", TableCSV.Extension())
	assert.Equal(t, "geojson", TableGeoJSON.Extension())
	assert.Equal(t, "kmz", TableKMZ.Extension())
}

func TestClassRule_CodeSet(t *testing.T) {
	r := CodeSet(10, 2, 95)

	assert.False(t, r.IsRange())
	assert.Equal(t, []int{2, 10, 95}, r.Codes())
	assert.True(t, r.Contains(10))
	assert.False(t, r.Contains(10.5))
	assert.False(t, r.Contains(11))
	assert.False(t, r.Contains(math.NaN()))
	assert.Equal(t, "[2 10 95]", r.String())
}

func TestClassRule_ValueRangeIsHalfOpen(t *testing.T) {
	r := ValueRange(5, 255)

	assert.True(t, r.IsRange())
	assert.Nil(t, r.Codes())
	assert.True(t, r.Contains(5))
	assert.True(t, r.Contains(254.99))
	assert.False(t, r.Contains(255))
	assert.False(t, r.Contains(4.99))
	assert.Equal(t, "[5, 255)", r.String())

	lo, hi := r.Bounds()
	assert.Equal(t, 5.0, lo)
	assert.Equal(t, 255.0, hi)
}

func TestCodeRange(t *testing.T) {
	assert.Equal(t, []int{25, 26, 27}, CodeRange(25, 27))
	assert.Len(t, CodeRange(125, 148), 24)
	assert.Nil(t, CodeRange(3, 2))
}

func TestDateRange(t *testing.T) {
	y := Year(2020)

	assert.True(t, y.Contains(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)))
	assert.True(t, y.Contains(time.Date(2020, 12, 31, 23, 59, 59, 0, time.UTC)))
	assert.False(t, y.Contains(time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)))
	assert.False(t, y.Contains(time.Date(2019, 12, 31, 0, 0, 0, 0, time.UTC)))
}

func TestAnalysisGeometry_AreaHa(t *testing.T) {
	// ~0.001 x 0.001 degree square near the equator, roughly 1.23 ha.
	g := &AnalysisGeometry{
		ID:   "sq",
		Kind: GeometryPolygon,
		Geometry: orb.Polygon{{
			{0, 0}, {0.001, 0}, {0.001, 0.001}, {0, 0.001}, {0, 0},
		}},
	}

	a := g.AreaHa()
	assert.InDelta(t, 1.237, a, 0.01)
	assert.Equal(t, a, g.AreaHa())
}

func TestUnitFromError(t *testing.T) {
	skipped := UnitFromError("c1", UnitCluster, NewAppError(ErrCodeWarningEmptyRegion, "no pixels", nil))
	assert.Equal(t, UnitSkipped, skipped.Status)
	assert.Equal(t, ErrCodeWarningEmptyRegion, skipped.Code)

	failed := UnitFromError("t0", UnitTile, errors.New("disk full"))
	assert.Equal(t, UnitFailed, failed.Status)
	assert.Equal(t, ErrCodeInternalUnexpected, failed.Code)
	assert.Equal(t, "disk full", failed.Message)
}

func TestLoggerFromContext(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))

	ctx := WithRunID(context.Background(), "run-1")
	ctx = WithUnitID(ctx, "cluster-0")
	ctx = WithLogger(ctx, base)

	assert.Equal(t, "run-1", GetRunID(ctx))
	assert.Equal(t, "cluster-0", GetUnitID(ctx))

	LoggerFromContext(ctx, nil).Info("hello")
	assert.Contains(t, buf.String(), `"run_id":"run-1"`)
	assert.Contains(t, buf.String(), `"unit_id":"cluster-0"`)

	assert.NotNil(t, LoggerFromContext(context.Background(), nil))
}
