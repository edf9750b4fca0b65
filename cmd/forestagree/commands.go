package main

import (
	"github.com/spf13/cobra"

	"forestagree/internal/catalog"
)

// --- Global Command Variables ---
var (
	logLevel string

	geometriesPath string
	geometryKind   string
	bufferRadiusM  float64
	roiPath        string
	exportMode     string
	manifestPath   string
	runName        string
	exportTarget   string
	tableTarget    string
	tableFormat    string

	forestHeightMinM float64
	utmLon           float64
	utmLat           float64

	rootCmd = &cobra.Command{
		Use:   "forestagree",
		Short: "Compute forest agreement across nine global forest datasets",
		Long: `forestagree reclassifies nine forest datasets into binary masks on a
common grid, sums them into an agreement score and exports the filtered
result with per-geometry statistics.`,
		SilenceUsage: true,
	}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the agreement pipeline for geometries or a region of interest",
		Args:  cobra.NoArgs,
		RunE:  runPipeline, // Defined in cmd_run.go
	}

	datasetsCmd = &cobra.Command{
		Use:   "datasets",
		Short: "List the catalog datasets and their forest class rules",
		Args:  cobra.NoArgs,
		RunE:  listDatasets, // Defined in cmd_inspect.go
	}

	utmCmd = &cobra.Command{
		Use:   "utm",
		Short: "Print the best UTM zone for a longitude and latitude",
		Args:  cobra.NoArgs,
		RunE:  printUTM,
	}

	assetsCmd = &cobra.Command{
		Use:   "assets [catalog-id]",
		Short: "List the raster assets registered under a catalog",
		Args:  cobra.ExactArgs(1),
		RunE:  listAssets,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); defaults to LOG_LEVEL")

	runCmd.Flags().StringVar(&manifestPath, "manifest", "", "YAML run manifest; flags override its fields")
	runCmd.Flags().StringVar(&geometriesPath, "geometries", "", "GeoJSON file of points or polygons")
	runCmd.Flags().StringVar(&geometryKind, "kind", "", "Geometry kind of --geometries (point or polygon)")
	runCmd.Flags().Float64Var(&bufferRadiusM, "buffer-m", 0, "Buffer radius in meters for point geometries")
	runCmd.Flags().StringVar(&roiPath, "roi", "", "GeoJSON file of the region of interest")
	runCmd.Flags().StringVar(&exportMode, "mode", "", "Export mode (cluster or roi); defaults to EXPORT_MODE")
	runCmd.Flags().StringVar(&runName, "name", "", "Name prefix of exported rasters and tables")
	runCmd.Flags().StringVar(&exportTarget, "export-target", "", "Raster export target; defaults to EXPORT_TARGET")
	runCmd.Flags().StringVar(&tableTarget, "table-target", "", "Table export target; defaults to TABLE_TARGET")
	runCmd.Flags().StringVar(&tableFormat, "format", "", "Table format (csv, geojson, kml, kmz, shp); defaults to TABLE_FORMAT")

	datasetsCmd.Flags().Float64Var(&forestHeightMinM, "forest-height-min", catalog.DefaultForestHeightMinM, "Canopy height in meters from which a pixel counts as forest")

	utmCmd.Flags().Float64Var(&utmLon, "lon", 0, "Longitude in degrees")
	utmCmd.Flags().Float64Var(&utmLat, "lat", 0, "Latitude in degrees")
	_ = utmCmd.MarkFlagRequired("lon")
	_ = utmCmd.MarkFlagRequired("lat")

	rootCmd.AddCommand(runCmd, datasetsCmd, utmCmd, assetsCmd)
}
