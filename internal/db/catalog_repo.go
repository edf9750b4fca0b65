package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"forestagree/internal/types"
)

// CatalogTable is a tabular output stored under a catalog id.
type CatalogTable struct {
	CatalogID string
	Name      string
	Columns   []string
	Rows      []map[string]any
	RunID     string
	UpdatedAt time.Time
}

// CatalogTableRepository stores tables in catalog_tables.
type CatalogTableRepository struct {
	db DBTX
}

// NewCatalogTableRepository creates a repository backed by db.
func NewCatalogTableRepository(db DBTX) *CatalogTableRepository {
	return &CatalogTableRepository{db: db}
}

// Put inserts a table or replaces the one with the same catalog id and name.
func (r *CatalogTableRepository) Put(ctx context.Context, t *CatalogTable) error {
	rows, err := json.Marshal(t.Rows)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected,
			fmt.Sprintf("failed to encode rows of %s/%s", t.CatalogID, t.Name), err)
	}

	_, err = r.db.Exec(ctx,
		`INSERT INTO catalog_tables (catalog_id, name, columns, rows, run_id, updated_at)
		 VALUES ($1, $2, $3, $4, $5, NOW())
		 ON CONFLICT (catalog_id, name) DO UPDATE
		 SET columns = EXCLUDED.columns,
		     rows = EXCLUDED.rows,
		     run_id = EXCLUDED.run_id,
		     updated_at = NOW()`,
		t.CatalogID, t.Name, t.Columns, rows, t.RunID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeUpstreamStorage,
			fmt.Sprintf("failed to store table %s/%s", t.CatalogID, t.Name), err)
	}
	return nil
}

// Get returns a stored table.
func (r *CatalogTableRepository) Get(ctx context.Context, catalogID, name string) (*CatalogTable, error) {
	t := &CatalogTable{CatalogID: catalogID, Name: name}
	var rows []byte
	err := r.db.QueryRow(ctx,
		`SELECT columns, rows, run_id, updated_at
		 FROM catalog_tables
		 WHERE catalog_id = $1 AND name = $2`,
		catalogID, name,
	).Scan(&t.Columns, &rows, &t.RunID, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundObject,
				fmt.Sprintf("table %s/%s does not exist", catalogID, name), nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB,
			fmt.Sprintf("failed to load table %s/%s", catalogID, name), err)
	}
	if err := json.Unmarshal(rows, &t.Rows); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB,
			fmt.Sprintf("failed to decode rows of %s/%s", catalogID, name), err)
	}
	return t, nil
}

// RasterAsset is an exported raster registered under a catalog id.
type RasterAsset struct {
	CatalogID  string
	Name       string
	Location   string
	CRS        string
	Cols       int
	Rows       int
	PixelSizeM float64
	PixelType  string
	RunID      string
	UpdatedAt  time.Time
}

// RasterAssetRepository stores raster registrations in raster_assets.
type RasterAssetRepository struct {
	db DBTX
}

// NewRasterAssetRepository creates a repository backed by db.
func NewRasterAssetRepository(db DBTX) *RasterAssetRepository {
	return &RasterAssetRepository{db: db}
}

// Register inserts or replaces an asset registration.
func (r *RasterAssetRepository) Register(ctx context.Context, a *RasterAsset) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO raster_assets (catalog_id, name, location, crs, cols, rows, pixel_size_m, pixel_type, run_id, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		 ON CONFLICT (catalog_id, name) DO UPDATE
		 SET location = EXCLUDED.location,
		     crs = EXCLUDED.crs,
		     cols = EXCLUDED.cols,
		     rows = EXCLUDED.rows,
		     pixel_size_m = EXCLUDED.pixel_size_m,
		     pixel_type = EXCLUDED.pixel_type,
		     run_id = EXCLUDED.run_id,
		     updated_at = NOW()`,
		a.CatalogID, a.Name, a.Location, a.CRS, a.Cols, a.Rows, a.PixelSizeM, a.PixelType, a.RunID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeUpstreamStorage,
			fmt.Sprintf("failed to register raster %s/%s", a.CatalogID, a.Name), err)
	}
	return nil
}

// List returns the assets of a catalog id ordered by name.
func (r *RasterAssetRepository) List(ctx context.Context, catalogID string) ([]RasterAsset, error) {
	rows, err := r.db.Query(ctx,
		`SELECT name, location, crs, cols, rows, pixel_size_m, pixel_type, run_id, updated_at
		 FROM raster_assets
		 WHERE catalog_id = $1
		 ORDER BY name`,
		catalogID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list raster assets", err)
	}
	defer rows.Close()

	var out []RasterAsset
	for rows.Next() {
		a := RasterAsset{CatalogID: catalogID}
		if err := rows.Scan(&a.Name, &a.Location, &a.CRS, &a.Cols, &a.Rows, &a.PixelSizeM, &a.PixelType, &a.RunID, &a.UpdatedAt); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan raster asset row", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating raster asset rows", err)
	}
	return out, nil
}
