package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forestagree/internal/catalog"
)

// resetFlags clears the package-level flag values a previous test set.
func resetFlags(t *testing.T) {
	t.Helper()
	t.Cleanup(func() {
		logLevel, geometriesPath, geometryKind, roiPath = "", "", "", ""
		exportMode, manifestPath, runName = "", "", ""
		exportTarget, tableTarget, tableFormat = "", "", ""
		bufferRadiusM = 0
		forestHeightMinM = catalog.DefaultForestHeightMinM
		utmLon, utmLat = 0, 0
	})
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(t)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func writeManifest(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestReadManifest(t *testing.T) {
	path := writeManifest(t, `
name: plots
kind: point
geometries: /data/plots.geojson
buffer_radius_m: 50
mode: cluster
export_target: s3://results/rasters
table_target: /tmp/tables
table_format: geojson
`)
	req, err := readManifest(path)
	require.NoError(t, err)
	assert.Equal(t, "plots", req.Name)
	assert.Equal(t, "point", req.Kind)
	assert.Equal(t, "/data/plots.geojson", req.GeometriesPath)
	assert.Equal(t, 50.0, req.BufferRadiusM)
	assert.Equal(t, "cluster", req.Mode)
	assert.Equal(t, "s3://results/rasters", req.ExportTarget)
	assert.Equal(t, "/tmp/tables", req.TableTarget)
	assert.Equal(t, "geojson", req.TableFormat)
}

func TestReadManifest_UnknownField(t *testing.T) {
	path := writeManifest(t, "name: plots\nbuffer: 50\n")
	_, err := readManifest(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing manifest")
}

func TestReadManifest_Missing(t *testing.T) {
	_, err := readManifest(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading manifest")
}

func TestBuildRequest_FlagsOverrideManifest(t *testing.T) {
	resetFlags(t)
	manifestPath = writeManifest(t, "name: plots\nroi: /data/roi.geojson\nmode: roi\ntable_format: csv\n")
	exportMode = "cluster"
	tableFormat = "kml"
	bufferRadiusM = 25

	req, err := buildRequest()
	require.NoError(t, err)
	assert.Equal(t, "plots", req.Name)
	assert.Equal(t, "/data/roi.geojson", req.ROIPath)
	assert.Equal(t, "cluster", req.Mode)
	assert.Equal(t, "kml", req.TableFormat)
	assert.Equal(t, 25.0, req.BufferRadiusM)
}

func TestUTMCommand(t *testing.T) {
	out, err := execute(t, "utm", "--lon", "11", "--lat", "52")
	require.NoError(t, err)
	assert.Equal(t, "EPSG:32632\n", out)

	out, err = execute(t, "utm", "--lon", "-70", "--lat", "-33")
	require.NoError(t, err)
	assert.Equal(t, "EPSG:32719\n", out)
}

func TestUTMCommand_InvalidLatitude(t *testing.T) {
	_, err := execute(t, "utm", "--lon", "0", "--lat", "95")
	require.Error(t, err)
}

func TestDatasetsCommand(t *testing.T) {
	out, err := execute(t, "datasets")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 1+catalog.New(catalog.DefaultForestHeightMinM).Len())
	assert.True(t, strings.HasPrefix(lines[0], "ID"))
	assert.Contains(t, out, catalog.ESAWorldCover2020)
	assert.Contains(t, out, "[5, ")
}

func TestDatasetsCommand_HeightThreshold(t *testing.T) {
	out, err := execute(t, "datasets", "--forest-height-min", "10")
	require.NoError(t, err)
	assert.Contains(t, out, "[10, ")
}

func TestNewLogger(t *testing.T) {
	assert.True(t, newLogger("debug").Enabled(t.Context(), -4))
	assert.False(t, newLogger("warn").Enabled(t.Context(), 0))
	assert.True(t, newLogger("bogus").Enabled(t.Context(), 0))
}
