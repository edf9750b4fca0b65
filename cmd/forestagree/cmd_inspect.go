package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/paulmach/orb"
	"github.com/spf13/cobra"

	"forestagree/internal/catalog"
	"forestagree/internal/db"
	"forestagree/internal/geostats"
	"forestagree/internal/pipeline"
)

func listDatasets(cmd *cobra.Command, _ []string) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tFOREST CLASSES\tRESOLUTION (M)\tCOMPOSITE\tDATES")
	for _, spec := range catalog.New(forestHeightMinM).Specs() {
		dates := "-"
		if spec.DateRange != nil {
			dates = spec.DateRange.Start.Format("2006-01-02") + ".." + spec.DateRange.End.Format("2006-01-02")
		}
		composite := string(spec.Composite)
		if composite == "" {
			composite = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%g\t%s\t%s\n", spec.ID, spec.Rule.String(), spec.NativeResolutionM, composite, dates)
	}
	return w.Flush()
}

func printUTM(cmd *cobra.Command, _ []string) error {
	crs, err := geostats.BestUTM(orb.Point{utmLon, utmLat})
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), crs)
	return nil
}

func listAssets(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	if cfg.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required to list assets")
	}
	pool, err := pipeline.OpenCatalog(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()

	assets, err := db.NewRasterAssetRepository(pool).List(ctx, args[0])
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tCRS\tSIZE\tTYPE\tRUN\tLOCATION")
	for _, a := range assets {
		fmt.Fprintf(w, "%s\t%s\t%dx%d\t%s\t%s\t%s\n", a.Name, a.CRS, a.Cols, a.Rows, a.PixelType, a.RunID, a.Location)
	}
	return w.Flush()
}
