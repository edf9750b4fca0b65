// Package provider implements the dataset provider: it reads the source
// land-cover products, stored as chunked Zarr v2 style arrays with one array
// per scene, and composites the scenes covering a region into one raster in
// the product's native CRS and resolution.
//
// Store layout, relative to the source root:
//
//	{dataset}/scenes.json          scene manifest (CRS, georeference, dates)
//	{dataset}/{scene}/.zarray      array metadata
//	{dataset}/{scene}/{row}.{col}  zstd-compressed chunks
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"time"

	"github.com/paulmach/orb"

	"forestagree/internal/raster"
	"forestagree/internal/types"
)

// Provider fetches source datasets for a region.
type Provider interface {
	// Fetch returns the mosaic of the scenes covering roi (first valid scene
	// wins), after keeping only scenes acquired inside dates when given.
	Fetch(ctx context.Context, datasetID string, roi orb.Bound, dates *types.DateRange) (*raster.Raster, error)

	// FetchLabelModeComposite reduces the scenes covering roi to the
	// per-pixel most frequent class code.
	FetchLabelModeComposite(ctx context.Context, datasetID string, roi orb.Bound, dates *types.DateRange) (*raster.Raster, error)
}

// Manifest lists the scenes of a dataset.
type Manifest struct {
	Dataset string  `json:"dataset"`
	CRS     string  `json:"crs"`
	Scenes  []Scene `json:"scenes"`
}

// Scene is one georeferenced array of a dataset.
type Scene struct {
	ID         string    `json:"id"`
	Path       string    `json:"path,omitempty"`
	Acquired   time.Time `json:"acquired"`
	CRS        string    `json:"crs,omitempty"`
	OriginX    float64   `json:"origin_x"`
	OriginY    float64   `json:"origin_y"`
	PixelSizeX float64   `json:"pixel_size_x"`
	PixelSizeY float64   `json:"pixel_size_y"`
}

func (s Scene) path() string {
	if s.Path != "" {
		return s.Path
	}
	return s.ID
}

// Options configures a ZarrProvider.
type Options struct {
	// MaxPixels bounds the pixels read from one scene; zero disables it.
	MaxPixels int
	Logger    *slog.Logger
}

// ZarrProvider implements Provider over an ObjectSource.
type ZarrProvider struct {
	source   ObjectSource
	opts     Options
	logger   *slog.Logger
	decoders *decoderPool
}

var _ Provider = (*ZarrProvider)(nil)

// NewZarrProvider creates a provider reading from source.
func NewZarrProvider(source ObjectSource, opts Options) *ZarrProvider {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ZarrProvider{
		source:   source,
		opts:     opts,
		logger:   logger,
		decoders: newDecoderPool(),
	}
}

// Fetch implements Provider.
func (p *ZarrProvider) Fetch(ctx context.Context, datasetID string, roi orb.Bound, dates *types.DateRange) (*raster.Raster, error) {
	windows, err := p.readScenes(ctx, datasetID, roi, dates)
	if err != nil {
		return nil, err
	}
	return mosaic(windows)
}

// FetchLabelModeComposite implements Provider.
func (p *ZarrProvider) FetchLabelModeComposite(ctx context.Context, datasetID string, roi orb.Bound, dates *types.DateRange) (*raster.Raster, error) {
	windows, err := p.readScenes(ctx, datasetID, roi, dates)
	if err != nil {
		return nil, err
	}
	return labelMode(windows)
}

// LoadManifest reads and validates the scene manifest of a dataset.
func (p *ZarrProvider) LoadManifest(ctx context.Context, datasetID string) (*Manifest, error) {
	data, err := p.read(ctx, datasetID+"/scenes.json")
	if err != nil {
		if types.CodeOf(err) == types.ErrCodeNotFoundObject {
			return nil, types.NewAppError(types.ErrCodeNotFoundObject,
				fmt.Sprintf("dataset %s has no scene manifest", datasetID), err)
		}
		return nil, err
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalCorruptChunk,
			fmt.Sprintf("invalid scene manifest for %s", datasetID), err)
	}
	for i := range m.Scenes {
		if m.Scenes[i].CRS == "" {
			m.Scenes[i].CRS = m.CRS
		}
		if m.Scenes[i].PixelSizeX <= 0 || m.Scenes[i].PixelSizeY <= 0 {
			return nil, types.NewAppError(types.ErrCodeInternalCorruptChunk,
				fmt.Sprintf("scene %s of %s has no pixel size", m.Scenes[i].ID, datasetID), nil)
		}
	}
	return &m, nil
}

// readScenes reads the window over roi of every scene that passes the date
// filter and overlaps roi, in manifest order.
func (p *ZarrProvider) readScenes(ctx context.Context, datasetID string, roi orb.Bound, dates *types.DateRange) ([]*raster.Raster, error) {
	m, err := p.LoadManifest(ctx, datasetID)
	if err != nil {
		return nil, err
	}

	var windows []*raster.Raster
	for _, scene := range m.Scenes {
		if dates != nil && !dates.Contains(scene.Acquired) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		w, ok, err := p.readScene(ctx, datasetID, scene, roi)
		if err != nil {
			return nil, err
		}
		if ok {
			windows = append(windows, w)
		}
	}

	if len(windows) == 0 {
		return nil, types.NewAppErrorWithDetails(types.ErrCodeNotFoundObject,
			fmt.Sprintf("no scene of %s covers the region", datasetID), nil,
			map[string]any{"dataset": datasetID, "scenes": len(m.Scenes)})
	}
	p.logger.DebugContext(ctx, "scenes read", "dataset", datasetID, "scenes", len(windows))
	return windows, nil
}

func (p *ZarrProvider) readScene(ctx context.Context, datasetID string, scene Scene, roi orb.Bound) (*raster.Raster, bool, error) {
	info, err := raster.ParseCRS(scene.CRS)
	if err != nil {
		return nil, false, err
	}
	prefix := datasetID + "/" + scene.path()

	metaBytes, err := p.read(ctx, prefix+"/.zarray")
	if err != nil {
		return nil, false, err
	}
	meta, err := parseArrayMeta(metaBytes)
	if err != nil {
		return nil, false, types.NewAppError(types.ErrCodeInternalCorruptChunk,
			fmt.Sprintf("scene %s of %s", scene.ID, datasetID), err)
	}
	dt, _ := parseDType(meta.DType)

	sceneGrid := raster.Grid{
		CRS:        scene.CRS,
		OriginX:    scene.OriginX,
		OriginY:    scene.OriginY,
		PixelSizeX: scene.PixelSizeX,
		PixelSizeY: scene.PixelSizeY,
		Cols:       meta.Shape[1],
		Rows:       meta.Shape[0],
	}

	// Scenes of a UTM zone only hold data inside that zone.
	zoneROI, ok := raster.ClampToZone(roi, info)
	if !ok {
		return nil, false, nil
	}
	region, err := raster.ProjectBound(zoneROI, info)
	if err != nil {
		return nil, false, types.NewAppErrorWithDetails(types.ErrCodeInternalUnexpected,
			fmt.Sprintf("failed to project region into scene %s of %s", scene.ID, datasetID), err,
			map[string]any{"dataset": datasetID, "scene": scene.ID, "crs": scene.CRS})
	}
	// One pixel of margin so resampling at the region edge has neighbors.
	region.Min = orb.Point{region.Min.X() - scene.PixelSizeX, region.Min.Y() - scene.PixelSizeY}
	region.Max = orb.Point{region.Max.X() + scene.PixelSizeX, region.Max.Y() + scene.PixelSizeY}

	sub, colOff, rowOff, ok := sceneGrid.SubGrid(region)
	if !ok {
		return nil, false, nil
	}
	if p.opts.MaxPixels > 0 && sub.Len() > p.opts.MaxPixels {
		return nil, false, types.NewAppErrorWithDetails(types.ErrCodeLimitUnitBudget,
			fmt.Sprintf("scene %s of %s needs %d pixels, budget is %d", scene.ID, datasetID, sub.Len(), p.opts.MaxPixels), nil,
			map[string]any{"dataset": datasetID, "pixels": sub.Len()})
	}

	out := raster.New(sub)
	cr, cc := meta.Chunks[0], meta.Chunks[1]
	for chunkRow := rowOff / cr; chunkRow <= (rowOff+sub.Rows-1)/cr; chunkRow++ {
		for chunkCol := colOff / cc; chunkCol <= (colOff+sub.Cols-1)/cc; chunkCol++ {
			values, err := p.readChunk(ctx, prefix, chunkRow, chunkCol, meta, dt)
			if err != nil {
				return nil, false, err
			}
			if values == nil {
				continue
			}
			copyChunk(out, values, chunkRow*cr-rowOff, chunkCol*cc-colOff, cr, cc)
		}
	}
	return out, true, nil
}

// readChunk fetches and decodes one chunk. A missing chunk is entirely fill
// value and yields nil.
func (p *ZarrProvider) readChunk(ctx context.Context, prefix string, row, col int, meta *ArrayMeta, dt dtype) ([]float64, error) {
	key := chunkKey(prefix, row, col)
	data, err := p.read(ctx, key)
	if err != nil {
		if types.CodeOf(err) == types.ErrCodeNotFoundObject {
			return nil, nil
		}
		return nil, err
	}

	if meta.Compressor != nil {
		if data, err = p.decoders.decode(data); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalCorruptChunk,
				fmt.Sprintf("failed to decompress chunk %s", key), err)
		}
	}

	values, err := decodeValues(data, dt, meta.FillValue)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalCorruptChunk,
			fmt.Sprintf("failed to parse chunk %s", key), err)
	}
	if want := meta.Chunks[0] * meta.Chunks[1]; len(values) != want {
		return nil, types.NewAppError(types.ErrCodeInternalCorruptChunk,
			fmt.Sprintf("chunk %s holds %d values, expected %d", key, len(values), want), nil)
	}
	return values, nil
}

// copyChunk writes the part of a chunk that overlaps out. rowShift/colShift
// are the chunk origin in out's pixel coordinates.
func copyChunk(out *raster.Raster, values []float64, rowShift, colShift, chunkRows, chunkCols int) {
	for r := max(0, -rowShift); r < chunkRows; r++ {
		dr := rowShift + r
		if dr >= out.Rows {
			break
		}
		for c := max(0, -colShift); c < chunkCols; c++ {
			dc := colShift + c
			if dc >= out.Cols {
				break
			}
			out.Set(dc, dr, values[r*chunkCols+c])
		}
	}
}

func (p *ZarrProvider) read(ctx context.Context, key string) ([]byte, error) {
	body, err := p.source.GetObject(ctx, key)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamProvider,
			fmt.Sprintf("failed to read %s", key), err)
	}
	return data, nil
}

// compositeGrid is the grid on the first window's lattice that covers every
// window.
func compositeGrid(windows []*raster.Raster) raster.Grid {
	b := windows[0].Bound()
	for _, w := range windows[1:] {
		b = b.Union(w.Bound())
	}
	return windows[0].Window(b)
}

// onLattice resamples every window onto g by nearest neighbor. Scenes of a
// dataset share a CRS.
func onLattice(windows []*raster.Raster, g raster.Grid) ([]*raster.Raster, error) {
	out := make([]*raster.Raster, len(windows))
	for i, w := range windows {
		if w.CRS != g.CRS {
			return nil, types.NewAppError(types.ErrCodeInternalCorruptChunk,
				fmt.Sprintf("scenes mix CRS %s and %s", g.CRS, w.CRS), nil)
		}
		a, err := raster.Align(w, g, types.ResampleNearest)
		if err != nil {
			return nil, err
		}
		out[i] = a
	}
	return out, nil
}

// mosaic keeps, per pixel, the first valid value in scene order.
func mosaic(windows []*raster.Raster) (*raster.Raster, error) {
	g := compositeGrid(windows)
	aligned, err := onLattice(windows, g)
	if err != nil {
		return nil, err
	}
	out := raster.New(g)
	for i := range out.Data {
		for _, a := range aligned {
			if v := a.Data[i]; !math.IsNaN(v) {
				out.Data[i] = v
				break
			}
		}
	}
	return out, nil
}

// labelMode keeps, per pixel, the most frequent valid value across scenes;
// ties go to the lowest value.
func labelMode(windows []*raster.Raster) (*raster.Raster, error) {
	g := compositeGrid(windows)
	aligned, err := onLattice(windows, g)
	if err != nil {
		return nil, err
	}
	out := raster.New(g)
	counts := make(map[float64]int, len(aligned))
	for i := range out.Data {
		clear(counts)
		for _, a := range aligned {
			if v := a.Data[i]; !math.IsNaN(v) {
				counts[v]++
			}
		}
		best, mode := 0, math.NaN()
		for v, n := range counts {
			if n > best || (n == best && v < mode) {
				best, mode = n, v
			}
		}
		out.Data[i] = mode
	}
	return out, nil
}
