package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forestagree/internal/pipeline"
	"forestagree/internal/types"
)

type fakeRunner struct {
	got pipeline.Request
	res *pipeline.Result
	err error
}

func (f *fakeRunner) Run(_ context.Context, req pipeline.Request) (*pipeline.Result, error) {
	f.got = req
	return f.res, f.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHandler_Success(t *testing.T) {
	r := &fakeRunner{res: &pipeline.Result{
		RunID:     "run-1",
		MMUPixels: 6,
		Units: []types.UnitResult{
			{ID: "cluster_1", Status: types.UnitOK},
			{ID: "cluster_2", Status: types.UnitSkipped},
			{ID: "cluster_3", Status: types.UnitFailed, Code: types.ErrCodeLimitUnitBudget},
		},
		Outputs: map[string]string{"agreement": "s3://out/agreement.tif"},
	}}
	h := newHandler(r, discardLogger())

	resp, err := h(t.Context(), pipeline.Request{RunID: "run-1", Name: "plots", Kind: "point"})
	require.NoError(t, err)
	assert.Equal(t, "plots", r.got.Name)
	assert.Equal(t, "run-1", resp.RunID)
	assert.Equal(t, 6, resp.MMUPixels)
	assert.Equal(t, 1, resp.Units.OK)
	assert.Equal(t, 1, resp.Units.Skipped)
	assert.Equal(t, 1, resp.Units.Failed)
	assert.Equal(t, []string{"cluster_3"}, resp.Failed)
	assert.Equal(t, "s3://out/agreement.tif", resp.Outputs["agreement"])
}

func TestHandler_FatalError(t *testing.T) {
	runErr := types.NewAppError(types.ErrCodeConfigMissingPath, "no geometries", nil)
	h := newHandler(&fakeRunner{err: runErr}, discardLogger())

	resp, err := h(t.Context(), pipeline.Request{Kind: "polygon"})
	assert.Nil(t, resp)
	require.Error(t, err)
	assert.True(t, errors.Is(err, runErr))
	assert.Equal(t, types.ErrCodeConfigMissingPath, types.CodeOf(err))
}
