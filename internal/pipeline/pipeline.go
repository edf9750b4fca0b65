// Package pipeline sequences one agreement run: region resolution, mask
// building, combination, sieving, statistics, export and reporting.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"

	"forestagree/internal/agreement"
	"forestagree/internal/catalog"
	"forestagree/internal/config"
	"forestagree/internal/export"
	"forestagree/internal/geostats"
	"forestagree/internal/provider"
	"forestagree/internal/queue"
	"forestagree/internal/raster"
	"forestagree/internal/reclass"
	"forestagree/internal/region"
	"forestagree/internal/report"
	"forestagree/internal/storage"
	"forestagree/internal/telemetry"
	"forestagree/internal/types"
)

// Request describes one run. Geometries and ROI may be given inline (Lambda
// events) or as file paths (CLI and manifests); inline values win. Empty
// overrides fall back to the configuration.
type Request struct {
	RunID string `json:"run_id,omitempty" yaml:"run_id"`
	Name  string `json:"name,omitempty" yaml:"name"`

	// Kind is the declared geometry kind: polygon or point.
	Kind           string          `json:"kind,omitempty" yaml:"kind"`
	GeometriesPath string          `json:"geometries_path,omitempty" yaml:"geometries"`
	Geometries     json.RawMessage `json:"geometries,omitempty" yaml:"-"`
	BufferRadiusM  float64         `json:"buffer_radius_m,omitempty" yaml:"buffer_radius_m"`

	ROIPath string          `json:"roi_path,omitempty" yaml:"roi"`
	ROI     json.RawMessage `json:"roi,omitempty" yaml:"-"`

	Mode         string `json:"mode,omitempty" yaml:"mode"`
	ExportTarget string `json:"export_target,omitempty" yaml:"export_target"`
	TableTarget  string `json:"table_target,omitempty" yaml:"table_target"`
	TableFormat  string `json:"table_format,omitempty" yaml:"table_format"`
}

// Result holds everything a run produced.
type Result struct {
	RunID      string
	Resolution *region.Resolution
	Masks      []reclass.Mask
	// Raw is the combined score before the sieve; Filtered is exported.
	Raw          *raster.Raster
	Filtered     *raster.Raster
	MMUPixels    int
	Extent       []types.StatsRow
	Polygons     []types.PolygonAgreementRow
	Units        []types.UnitResult
	RawHist      []int
	FilteredHist []int
	// Outputs maps table names to their stored location.
	Outputs map[string]string
}

// Counts tallies the unit outcomes of the run.
func (r *Result) Counts() report.Counts {
	return report.Count(r.Units)
}

// Writer stores rasters and tables.
type Writer interface {
	export.RasterWriter
	report.TableWriter
}

// Config is the subset of the process configuration a run reads.
type Config struct {
	Analysis config.AnalysisConfig
	Export   config.ExportConfig
}

// Deps are the collaborators of a Pipeline. Notifier and Metrics may be nil.
type Deps struct {
	Catalog  *catalog.Catalog
	Provider provider.Provider
	Writer   Writer
	Notifier queue.Notifier
	Metrics  telemetry.Metrics
	Logger   *slog.Logger
}

// Pipeline runs agreement requests. It is safe for sequential reuse across
// Lambda invocations.
type Pipeline struct {
	cfg      Config
	catalog  *catalog.Catalog
	provider provider.Provider
	writer   Writer
	notifier queue.Notifier
	metrics  telemetry.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a Pipeline.
func New(cfg Config, deps Deps) *Pipeline {
	p := &Pipeline{
		cfg:      cfg,
		catalog:  deps.Catalog,
		provider: deps.Provider,
		writer:   deps.Writer,
		notifier: deps.Notifier,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
		now:      time.Now,
	}
	if p.catalog == nil {
		p.catalog = catalog.New(cfg.Analysis.ForestHeightMinM)
	}
	if p.notifier == nil {
		p.notifier = queue.NoopNotifier{}
	}
	if p.metrics == nil {
		p.metrics = telemetry.NoopMetrics{}
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// Run executes one request. Fatal errors abort the run and are returned;
// per-unit failures are recorded in Result.Units. The run outcome is
// announced and measured either way.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	runID := req.RunID
	if runID == "" {
		runID = uuid.New().String()
	}
	ctx = types.WithRunID(ctx, runID)
	logger := types.LoggerFromContext(ctx, p.logger)
	start := p.now()

	mode := types.ExportMode(firstNonEmpty(req.Mode, p.cfg.Export.Mode))
	res, err := p.run(ctx, logger, runID, mode, req)
	if err != nil {
		logger.ErrorContext(ctx, "run failed", "code", types.CodeOf(err), "error", err)
		p.metrics.RecordRunFailure(ctx, types.CodeOf(err))
		p.notify(ctx, logger, queue.RunSummary{Err: err})
		return res, err
	}

	elapsed := p.now().Sub(start)
	p.metrics.RecordRunDuration(ctx, mode, elapsed)
	p.notify(ctx, logger, queue.RunSummary{Outputs: res.Outputs})
	logger.InfoContext(ctx, "run finished", "duration_ms", elapsed.Milliseconds())
	return res, nil
}

func (p *Pipeline) run(ctx context.Context, logger *slog.Logger, runID string, mode types.ExportMode, req Request) (*Result, error) {
	a := p.cfg.Analysis
	result := &Result{RunID: runID}

	// Inputs and targets are checked before any dataset is fetched.
	plan, err := p.plan(mode, req)
	if err != nil {
		return nil, err
	}

	resolver := region.NewResolver(region.Options{
		JoinDistanceM: a.ClusterJoinDistanceM,
		MinAreaHa:     a.MinPolygonAreaHa,
	}, logger)
	res, err := resolver.Resolve(ctx, plan.input)
	if err != nil {
		return nil, err
	}
	result.Resolution = res

	grid, err := raster.TargetGrid(res.ROI, a.ResolutionM)
	if err != nil {
		return nil, err
	}
	logger.InfoContext(ctx, "target grid", "grid", grid.String(), "pixels", grid.Len())

	builder := reclass.New(p.catalog, p.provider, reclass.Options{
		Method:      a.ResamplingMethod(),
		Concurrency: a.Concurrency,
		Logger:      logger,
	})
	masks, err := builder.Build(ctx, res.ROI, grid)
	if err != nil {
		return nil, err
	}
	result.Masks = masks

	combined, err := agreement.Combine(reclass.Rasters(masks))
	if err != nil {
		return nil, err
	}
	raw := raster.ClipToBounds(combined, res.ClusterBounds())
	result.Raw = raw

	maxScore := p.catalog.Len()
	result.MMUPixels = a.MMUPixels
	if result.MMUPixels == 0 {
		result.MMUPixels = agreement.MMUPixels(a.MMUAreaHa, a.ResolutionM)
	}
	result.Filtered = agreement.SieveFilter(raw, result.MMUPixels, a.NeighborhoodRadius)
	result.RawHist = agreement.Histogram(raw, maxScore)
	result.FilteredHist = agreement.Histogram(result.Filtered, maxScore)

	agreeing := raster.Count(result.Filtered, func(v float64) bool { return v >= float64(a.AgreementThreshold) })
	p.metrics.RecordAgreementPixels(ctx, agreeing)
	logger.InfoContext(ctx, "agreement computed",
		"datasets", maxScore,
		"mmu_pixels", result.MMUPixels,
		"agreeing_pixels", agreeing,
	)

	layers := make([]geostats.Layer, len(masks))
	for i, m := range masks {
		layers[i] = geostats.Layer{ID: m.ID, Mask: m.Raster}
	}
	extent, extentUnits := geostats.ExtentRanking(ctx, layers, res.ROIGeometry, geostats.ExtentOptions{
		Concurrency: a.Concurrency,
		MaxPixels:   a.MaxUnitPixels,
		Logger:      p.logger,
	})
	result.Extent = extent
	result.Units = append(result.Units, failedOnly(extentUnits)...)

	polygonMode := !res.ROIMode
	if polygonMode {
		rows, polyUnits := geostats.PolygonAgreement(ctx, result.Filtered, res.Geometries, geostats.PolygonOptions{
			MinAreaHa:   a.MinPolygonAreaHa,
			Threshold:   a.AgreementThreshold,
			MaxScore:    maxScore,
			Concurrency: a.Concurrency,
			MaxPixels:   a.MaxUnitPixels,
			Logger:      p.logger,
		})
		result.Polygons = rows
		result.Units = append(result.Units, polyUnits...)
	}

	units, err := exportUnits(mode, res, p.cfg.Export)
	if err != nil {
		return nil, err
	}
	exporter := export.New(p.writer, export.Options{
		Target:        plan.rasterTarget,
		ResolutionM:   a.ResolutionM,
		MaxScore:      maxScore,
		MaxUnitPixels: a.MaxUnitPixels,
		NamePrefix:    namePrefix(req.Name),
		Concurrency:   a.Concurrency,
		OnUnit:        p.onUnit,
		Logger:        p.logger,
	})
	result.Units = append(result.Units, exporter.Export(ctx, result.Filtered, units)...)

	reporter := report.NewReporter(p.writer, plan.format, plan.tableTarget, p.logger)
	outputs, err := reporter.Write(ctx, report.Input{
		Extent:       result.Extent,
		Polygons:     result.Polygons,
		Units:        result.Units,
		RawHist:      result.RawHist,
		FilteredHist: result.FilteredHist,
		PolygonMode:  polygonMode,
	})
	result.Outputs = outputs
	if err != nil {
		return result, err
	}
	return result, nil
}

// runPlan is a request checked against the configuration.
type runPlan struct {
	input        region.Input
	rasterTarget storage.Target
	tableTarget  storage.Target
	format       types.TableFormat
}

func (p *Pipeline) plan(mode types.ExportMode, req Request) (*runPlan, error) {
	switch mode {
	case types.ExportByCluster, types.ExportByTile:
	default:
		return nil, types.NewAppError(types.ErrCodeConfigInvalidParameter,
			fmt.Sprintf("unsupported export mode %q", mode), nil)
	}

	format := types.TableFormat(firstNonEmpty(req.TableFormat, p.cfg.Export.TableFormat))
	switch format {
	case types.TableCSV, types.TableGeoJSON, types.TableKML, types.TableKMZ, types.TableSHP:
	default:
		return nil, types.NewAppError(types.ErrCodeConfigUnsupportedFormat,
			fmt.Sprintf("unsupported table format %q", format), nil)
	}

	rasterTarget, err := parseTarget("export target", firstNonEmpty(req.ExportTarget, p.cfg.Export.Target))
	if err != nil {
		return nil, err
	}
	tableTarget, err := parseTarget("table target", firstNonEmpty(req.TableTarget, p.cfg.Export.TableTarget))
	if err != nil {
		return nil, err
	}

	input, err := regionInput(req)
	if err != nil {
		return nil, err
	}
	return &runPlan{
		input:        input,
		rasterTarget: rasterTarget,
		tableTarget:  tableTarget,
		format:       format,
	}, nil
}

func parseTarget(name, s string) (storage.Target, error) {
	if err := region.CheckPath(name, s); err != nil {
		return storage.Target{}, err
	}
	return storage.ParseTarget(s)
}

// regionInput loads the geometries of a request. Geometries take precedence
// over a region of interest.
func regionInput(req Request) (region.Input, error) {
	in := region.Input{Kind: req.Kind, BufferRadiusM: req.BufferRadiusM}

	var err error
	switch {
	case len(req.Geometries) > 0:
		in.Features, err = region.ParseFeatureCollection(req.Geometries)
	case req.GeometriesPath != "":
		if err = region.CheckPath("geometries", req.GeometriesPath); err == nil {
			in.Features, err = region.LoadFeatureCollection(req.GeometriesPath)
		}
	case len(req.ROI) > 0:
		in.ROI, err = region.ParseGeometry(req.ROI)
	case req.ROIPath != "":
		if err = region.CheckPath("roi", req.ROIPath); err == nil {
			in.ROI, err = region.LoadGeometry(req.ROIPath)
		}
	}
	if err != nil {
		return region.Input{}, err
	}
	// A declared kind without geometries is a missing input, not an ROI run.
	if in.Features == nil && in.ROI == nil && in.Kind != "" {
		return region.Input{}, types.NewAppError(types.ErrCodeConfigMissingPath,
			"geometries are required when a geometry kind is declared", nil)
	}
	return in, nil
}

func exportUnits(mode types.ExportMode, res *region.Resolution, cfg config.ExportConfig) ([]export.Unit, error) {
	if mode == types.ExportByTile {
		var roi orb.Geometry = res.ROI
		if res.ROIGeometry != nil {
			roi = res.ROIGeometry.Geometry
		}
		return export.TileUnits(roi, cfg.TileRows, cfg.TileCols)
	}
	return export.ClusterUnits(res.Clusters), nil
}

func (p *Pipeline) onUnit(ctx context.Context, u types.UnitResult) {
	p.metrics.RecordUnit(ctx, u)
	if err := p.notifier.NotifyUnit(ctx, u); err != nil {
		types.LoggerFromContext(ctx, p.logger).WarnContext(ctx, "failed to announce unit", "error", err)
	}
}

func (p *Pipeline) notify(ctx context.Context, logger *slog.Logger, s queue.RunSummary) {
	if err := p.notifier.NotifyRun(ctx, s); err != nil {
		logger.WarnContext(ctx, "failed to announce run", "error", err)
	}
}

// failedOnly drops successful statistics units; only problems are
// reported for them.
func failedOnly(units []types.UnitResult) []types.UnitResult {
	var out []types.UnitResult
	for _, u := range units {
		if u.Status != types.UnitOK {
			out = append(out, u)
		}
	}
	return out
}

func namePrefix(name string) string {
	if name == "" {
		return ""
	}
	return name + "-"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
