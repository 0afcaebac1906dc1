package db

import (
	"context"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS runners (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		device_id TEXT NOT NULL,
		password_hash TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS runner_refresh_tokens (
		id TEXT PRIMARY KEY,
		runner_id TEXT NOT NULL REFERENCES runners(id),
		token TEXT NOT NULL UNIQUE,
		expires_at TIMESTAMPTZ NOT NULL,
		revoked_at TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS sealed_paths (
		id TEXT PRIMARY KEY,
		device_id TEXT NOT NULL,
		distance_km DOUBLE PRECISION NOT NULL,
		fix_count INTEGER NOT NULL,
		fixes JSONB NOT NULL,
		sealed_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS sealed_paths_device_sealed_at ON sealed_paths (device_id, sealed_at DESC)`,
	`CREATE TABLE IF NOT EXISTS storage_objects (
		id TEXT PRIMARY KEY,
		device_id TEXT NOT NULL,
		path_id TEXT NOT NULL,
		url TEXT NOT NULL,
		kind TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

// Migrate creates the tables the service writes to. Statements are idempotent.
func Migrate(ctx context.Context, q Querier) error {
	for _, stmt := range schema {
		if _, err := q.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
