// Package db provides the PostgreSQL-backed catalog repositories. Catalog
// targets store exported tables as JSONB rows and register exported raster
// assets. All repositories accept a DBTX interface that is satisfied by
// both *pgxpool.Pool and pgx.Tx.
package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"forestagree/internal/types"
)

// DBTX is the minimal interface shared by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// schema creates the catalog tables when missing.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS catalog_tables (
		catalog_id TEXT NOT NULL,
		name       TEXT NOT NULL,
		columns    TEXT[] NOT NULL,
		rows       JSONB NOT NULL,
		run_id     TEXT NOT NULL DEFAULT '',
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (catalog_id, name)
	)`,
	`CREATE TABLE IF NOT EXISTS raster_assets (
		catalog_id   TEXT NOT NULL,
		name         TEXT NOT NULL,
		location     TEXT NOT NULL,
		crs          TEXT NOT NULL,
		cols         INTEGER NOT NULL,
		rows         INTEGER NOT NULL,
		pixel_size_m DOUBLE PRECISION NOT NULL,
		pixel_type   TEXT NOT NULL,
		run_id       TEXT NOT NULL DEFAULT '',
		updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (catalog_id, name)
	)`,
}

// EnsureSchema creates the catalog tables if they do not exist.
func EnsureSchema(ctx context.Context, db DBTX) error {
	for _, stmt := range schema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return types.NewAppError(types.ErrCodeInternalDB, "failed to create catalog schema", err)
		}
	}
	return nil
}
