// Package report assembles the tabular outputs of a run and hands them to
// storage.
package report

import (
	"context"
	"log/slog"
	"slices"

	"forestagree/internal/storage"
	"forestagree/internal/types"
)

// Table names, also used as file stems.
const (
	ExtentTableName    = "dataset_extent"
	PolygonTableName   = "polygon_agreement"
	SummaryTableName   = "run_summary"
	HistogramTableName = "agreement_histogram"
)

// Column names of the generated tables.
const (
	ColLayer          = "Layer"
	ColForestAreaHa   = "Forest_area_ha"
	ColForestPctTotal = "Forest_pct_total"
	ColRank           = "Rank"

	ColAreaHa      = "area_ha"
	ColAreaCheck   = "area_check"
	ColForestAgree = "forestagree"

	ColScore          = "score"
	ColRawPixels      = "raw_pixels"
	ColFilteredPixels = "filtered_pixels"
)

var summaryColumns = []string{"id", "kind", "status", "code", "message", "location", "crs"}

// ExtentTable renders the ranked dataset extent rows.
func ExtentTable(rows []types.StatsRow) *storage.Table {
	t := &storage.Table{
		Name:    ExtentTableName,
		Columns: []string{ColLayer, ColForestAreaHa, ColForestPctTotal, ColRank},
		Rows:    make([]storage.Row, len(rows)),
	}
	for i, r := range rows {
		t.Rows[i] = storage.Row{Values: map[string]any{
			ColLayer:          r.ID,
			ColForestAreaHa:   r.ForestAreaHa,
			ColForestPctTotal: r.ForestPctTotal,
			ColRank:           r.Rank,
		}}
	}
	return t
}

// PolygonTable renders the per-polygon agreement rows. The input properties
// come first, sorted by name, followed by the computed columns; a property
// named like a computed column is overwritten.
func PolygonTable(rows []types.PolygonAgreementRow) *storage.Table {
	computed := []string{ColAreaHa, ColAreaCheck, ColForestAgree}

	var props []string
	seen := map[string]bool{}
	for _, c := range computed {
		seen[c] = true
	}
	for _, r := range rows {
		for k := range r.Properties {
			if !seen[k] {
				seen[k] = true
				props = append(props, k)
			}
		}
	}
	slices.Sort(props)

	t := &storage.Table{
		Name:    PolygonTableName,
		Columns: append(props, computed...),
		Rows:    make([]storage.Row, len(rows)),
	}
	for i, r := range rows {
		values := make(map[string]any, len(t.Columns))
		for _, k := range props {
			values[k] = r.Properties[k]
		}
		values[ColAreaHa] = r.AreaHa
		values[ColAreaCheck] = r.AreaCheck
		values[ColForestAgree] = r.ForestAgree
		t.Rows[i] = storage.Row{Values: values, Geometry: r.Geometry}
	}
	return t
}

// SummaryTable lists every unit that did not succeed, then the successful
// exports with their locations.
func SummaryTable(units []types.UnitResult) *storage.Table {
	t := &storage.Table{Name: SummaryTableName, Columns: summaryColumns}
	ordered := slices.Clone(units)
	slices.SortStableFunc(ordered, func(a, b types.UnitResult) int {
		return statusOrder(a.Status) - statusOrder(b.Status)
	})
	for _, u := range ordered {
		if u.Status == types.UnitOK && u.Location == "" {
			continue
		}
		t.Rows = append(t.Rows, storage.Row{Values: map[string]any{
			"id":       u.ID,
			"kind":     string(u.Kind),
			"status":   string(u.Status),
			"code":     string(u.Code),
			"message":  u.Message,
			"location": u.Location,
			"crs":      u.CRS,
		}})
	}
	return t
}

func statusOrder(s types.UnitStatus) int {
	switch s {
	case types.UnitFailed:
		return 0
	case types.UnitSkipped:
		return 1
	}
	return 2
}

// HistogramTable renders the pixel count of every score before and after
// the sieve. Either histogram may be shorter than the other.
func HistogramTable(raw, filtered []int) *storage.Table {
	n := max(len(raw), len(filtered))
	t := &storage.Table{
		Name:    HistogramTableName,
		Columns: []string{ColScore, ColRawPixels, ColFilteredPixels},
		Rows:    make([]storage.Row, n),
	}
	at := func(h []int, i int) int {
		if i < len(h) {
			return h[i]
		}
		return 0
	}
	for i := range n {
		t.Rows[i] = storage.Row{Values: map[string]any{
			ColScore:          i,
			ColRawPixels:      at(raw, i),
			ColFilteredPixels: at(filtered, i),
		}}
	}
	return t
}

// Counts tallies unit outcomes.
type Counts struct {
	OK      int `json:"ok"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// Count tallies units by status.
func Count(units []types.UnitResult) Counts {
	var c Counts
	for _, u := range units {
		switch u.Status {
		case types.UnitOK:
			c.OK++
		case types.UnitSkipped:
			c.Skipped++
		case types.UnitFailed:
			c.Failed++
		}
	}
	return c
}

// TableWriter stores one table.
type TableWriter interface {
	WriteTable(ctx context.Context, t *storage.Table, format types.TableFormat, target storage.Target) (string, error)
}

// Input is everything a run reports.
type Input struct {
	Extent       []types.StatsRow
	Polygons     []types.PolygonAgreementRow
	Units        []types.UnitResult
	RawHist      []int
	FilteredHist []int

	// PolygonMode adds the per-polygon table.
	PolygonMode bool
}

// Reporter writes the tables of a run.
type Reporter struct {
	writer TableWriter
	format types.TableFormat
	target storage.Target
	logger *slog.Logger
}

// NewReporter creates a Reporter writing in format to target.
func NewReporter(writer TableWriter, format types.TableFormat, target storage.Target, logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{writer: writer, format: format, target: target, logger: logger}
}

// Write stores every table of in and returns the location of each, keyed by
// table name. The summary table is written even when another table fails;
// the first error is returned.
func (r *Reporter) Write(ctx context.Context, in Input) (map[string]string, error) {
	logger := types.LoggerFromContext(ctx, r.logger)

	tables := []*storage.Table{ExtentTable(in.Extent)}
	if in.PolygonMode {
		tables = append(tables, PolygonTable(in.Polygons))
	}
	if len(in.RawHist) > 0 || len(in.FilteredHist) > 0 {
		tables = append(tables, HistogramTable(in.RawHist, in.FilteredHist))
	}
	tables = append(tables, SummaryTable(in.Units))

	locations := make(map[string]string, len(tables))
	var firstErr error
	for _, t := range tables {
		loc, err := r.writer.WriteTable(ctx, t, r.format, r.target)
		if err != nil {
			logger.ErrorContext(ctx, "failed to write table",
				"table", t.Name, "code", types.CodeOf(err), "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		locations[t.Name] = loc
	}

	c := Count(in.Units)
	logger.InfoContext(ctx, "run summary",
		"units_ok", c.OK,
		"units_skipped", c.Skipped,
		"units_failed", c.Failed,
		"tables", len(locations),
	)
	return locations, firstErr
}
