package repository

import (
	"bytes"
	"compress/zlib"
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

const rawSource = "handshake"

// RawListings is the append-only lake of fetched search-result pages. Pages
// are stored zlib-compressed; nothing reads them back on the hot path.
type RawListings struct {
	pool *pgxpool.Pool
}

// NewRawListings constructs a RawListings repository.
func NewRawListings(pool *pgxpool.Pool) *RawListings {
	return &RawListings{pool: pool}
}

// Insert appends one raw page document and returns its id.
func (r *RawListings) Insert(ctx context.Context, url, html string) (uuid.UUID, error) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write([]byte(html)); err != nil {
		return uuid.Nil, fmt.Errorf("repository: compress raw page: %w", err)
	}
	if err := w.Close(); err != nil {
		return uuid.Nil, fmt.Errorf("repository: compress raw page: %w", err)
	}

	id := uuid.New()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO raw_job_listings (id, source, created_at, url, codec, payload)
		 VALUES ($1, $2, $3, $4, 'zlib', $5)`,
		id, rawSource, time.Now().UTC(), url, buf.Bytes(),
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("repository: insert raw page: %w", err)
	}
	return id, nil
}
