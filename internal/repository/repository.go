// Package repository provides the document-store accessors backing the
// pipeline: an append-only lake of raw listing pages, the job-postings table
// that deduplicates dispatches between T1 and E2, and the enriched-jobs
// table written by T2.
//
// All writes are create-or-update by key; the pipeline never deletes.
package repository

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// Connect opens a pgx pool against the document store.
func Connect(ctx context.Context, url string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("repository: parse postgres url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("repository: connect: %w", err)
	}
	return pool, nil
}

// EnsureSchema creates the pipeline's tables when they do not exist yet.
// Safe to run from every worker at startup.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("repository: ensure schema: %w", err)
	}
	return nil
}
