package storage

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"forestagree/internal/db"
	"forestagree/internal/raster"
	"forestagree/internal/types"
)

// RasterPayload is one raster handed to storage.
type RasterPayload struct {
	// Name is the file stem, e.g. "cluster-1".
	Name        string
	Raster      *raster.IntRaster
	ResolutionM float64
}

// TableRepository stores tables of catalog targets.
type TableRepository interface {
	Put(ctx context.Context, t *db.CatalogTable) error
}

// AssetRepository registers rasters of catalog targets.
type AssetRepository interface {
	Register(ctx context.Context, a *db.RasterAsset) error
}

// Options configures a Writer. S3, AssetBucket and the repositories are
// only required by the targets that use them.
type Options struct {
	S3          S3PutAPI
	AssetBucket string
	Tables      TableRepository
	Assets      AssetRepository
	Logger      *slog.Logger
}

// Writer writes pipeline outputs to any supported target.
type Writer struct {
	s3          S3PutAPI
	assetBucket string
	tables      TableRepository
	assets      AssetRepository
	logger      *slog.Logger
}

// NewWriter creates a Writer.
func NewWriter(opts Options) *Writer {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		s3:          opts.S3,
		assetBucket: opts.AssetBucket,
		tables:      opts.Tables,
		assets:      opts.Assets,
		logger:      logger,
	}
}

// WriteRaster stores p as GeoTIFF plus sidecars and returns the location of
// the image.
func (w *Writer) WriteRaster(ctx context.Context, p RasterPayload, target Target) (string, error) {
	gt, err := EncodeGeoTIFF(p.Raster)
	if err != nil {
		return "", err
	}

	store, err := w.rasterStore(target)
	if err != nil {
		return "", err
	}

	name := p.Name + ".tif"
	location, err := store.Put(ctx, name, gt.Image, "image/tiff")
	if err != nil {
		return "", err
	}
	if _, err := store.Put(ctx, worldName(name), gt.World, "text/plain"); err != nil {
		return "", err
	}
	if _, err := store.Put(ctx, auxName(name), gt.Aux, "application/xml"); err != nil {
		return "", err
	}

	if target.Kind == TargetCatalog {
		err := w.assets.Register(ctx, &db.RasterAsset{
			CatalogID:  target.CatalogID,
			Name:       p.Name,
			Location:   location,
			CRS:        p.Raster.CRS,
			Cols:       p.Raster.Cols,
			Rows:       p.Raster.Rows,
			PixelSizeM: p.ResolutionM,
			PixelType:  string(p.Raster.Type),
			RunID:      types.GetRunID(ctx),
		})
		if err != nil {
			return "", err
		}
	}

	w.logger.InfoContext(ctx, "raster written",
		"name", p.Name,
		"location", location,
		"crs", p.Raster.CRS,
		"cols", p.Raster.Cols,
		"rows", p.Raster.Rows,
	)
	return location, nil
}

func (w *Writer) rasterStore(target Target) (ObjectStore, error) {
	switch target.Kind {
	case TargetLocal:
		return NewFileStore(target.Path), nil
	case TargetS3:
		if w.s3 == nil {
			return nil, missingDependency("an S3 client", target)
		}
		return NewS3Store(w.s3, target.Bucket, target.Prefix), nil
	case TargetCatalog:
		if w.s3 == nil || w.assetBucket == "" || w.assets == nil {
			return nil, missingDependency("ASSET_BUCKET, an S3 client and a database", target)
		}
		return NewS3Store(w.s3, w.assetBucket, target.CatalogID), nil
	}
	return nil, types.NewAppError(types.ErrCodeConfigUnsupportedTarget,
		fmt.Sprintf("unsupported target kind %q", target.Kind), nil)
}

// WriteTable stores t in format and returns its location. Catalog targets
// ignore format and store the rows as JSONB.
func (w *Writer) WriteTable(ctx context.Context, t *Table, format types.TableFormat, target Target) (string, error) {
	var location string
	var err error
	switch target.Kind {
	case TargetCatalog:
		location, err = w.writeCatalogTable(ctx, t, target)
	case TargetLocal:
		location, err = w.writeLocalTable(ctx, t, format, target)
	case TargetS3:
		if w.s3 == nil {
			return "", missingDependency("an S3 client", target)
		}
		location, err = w.writeObjectTable(ctx, NewS3Store(w.s3, target.Bucket, target.Prefix), t, format)
	default:
		err = types.NewAppError(types.ErrCodeConfigUnsupportedTarget,
			fmt.Sprintf("unsupported target kind %q", target.Kind), nil)
	}
	if err != nil {
		return "", err
	}

	w.logger.InfoContext(ctx, "table written",
		"name", t.Name,
		"format", format,
		"rows", len(t.Rows),
		"location", location,
	)
	return location, nil
}

func (w *Writer) writeCatalogTable(ctx context.Context, t *Table, target Target) (string, error) {
	if w.tables == nil {
		return "", missingDependency("a database", target)
	}
	err := w.tables.Put(ctx, &db.CatalogTable{
		CatalogID: target.CatalogID,
		Name:      t.Name,
		Columns:   t.Columns,
		Rows:      RowMaps(t),
		RunID:     types.GetRunID(ctx),
	})
	if err != nil {
		return "", err
	}
	return target.String() + "/" + t.Name, nil
}

func (w *Writer) writeLocalTable(ctx context.Context, t *Table, format types.TableFormat, target Target) (string, error) {
	if format == types.TableSHP {
		path, err := WriteShapefile(t, target.Path, t.Name)
		if err != nil {
			return "", types.NewAppError(types.ErrCodeUpstreamStorage,
				fmt.Sprintf("failed to write shapefile %s", filepath.Join(target.Path, t.Name)), err)
		}
		return path, nil
	}
	return w.writeObjectTable(ctx, NewFileStore(target.Path), t, format)
}

func (w *Writer) writeObjectTable(ctx context.Context, store ObjectStore, t *Table, format types.TableFormat) (string, error) {
	data, err := EncodeTable(t, format)
	if err != nil {
		if types.CodeOf(err) == types.ErrCodeConfigUnsupportedFormat {
			return "", err
		}
		return "", types.NewAppError(types.ErrCodeInternalUnexpected,
			fmt.Sprintf("failed to encode table %s as %s", t.Name, format), err)
	}
	key := t.Name + "." + format.Extension()
	if format == types.TableSHP {
		key = t.Name + ".shp.zip"
	}
	return store.Put(ctx, key, data, ContentType(format))
}

func missingDependency(what string, target Target) error {
	return types.NewAppError(types.ErrCodeConfigInvalidParameter,
		fmt.Sprintf("target %s requires %s", target, what), nil)
}
