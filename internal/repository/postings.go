package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Posting is one (job_id, role, url) triple extracted from a listing page.
type Posting struct {
	JobID int
	Role  string
	URL   string
}

// Postings tracks every job posting the pipeline has seen. The job_id key is
// the pipeline's idempotence lever: T1 only dispatches postings whose upsert
// actually inserted.
type Postings struct {
	pool *pgxpool.Pool
}

// NewPostings constructs a Postings repository.
func NewPostings(pool *pgxpool.Pool) *Postings {
	return &Postings{pool: pool}
}

// UpsertMany bulk-upserts the triples keyed by job_id inside one transaction
// and returns the indices of the triples that were newly inserted (not
// updated). On insert created_at and job_id are set; role and url are always
// set.
func (p *Postings) UpsertMany(ctx context.Context, postings []Posting) ([]int, error) {
	if len(postings) == 0 {
		return nil, nil
	}
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("repository: upsert postings: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	batch := &pgx.Batch{}
	for _, posting := range postings {
		// xmax = 0 distinguishes a fresh insert from a conflict update.
		batch.Queue(
			`INSERT INTO job_postings (url, job_id, role, created_at)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (job_id) DO UPDATE SET role = EXCLUDED.role, url = EXCLUDED.url
			 RETURNING (xmax = 0)`,
			posting.URL, posting.JobID, posting.Role, now,
		)
	}
	results := tx.SendBatch(ctx, batch)

	var fresh []int
	for i := range postings {
		var inserted bool
		if err := results.QueryRow().Scan(&inserted); err != nil {
			results.Close()
			return nil, fmt.Errorf("repository: upsert posting %d: %w", postings[i].JobID, err)
		}
		if inserted {
			fresh = append(fresh, i)
		}
	}
	if err := results.Close(); err != nil {
		return nil, fmt.Errorf("repository: upsert postings: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("repository: upsert postings: %w", err)
	}
	return fresh, nil
}

// SetE2Success records the outcome of a detail-page fetch, upserting by url.
func (p *Postings) SetE2Success(ctx context.Context, url string, success bool) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO job_postings (url, e2_success)
		 VALUES ($1, $2)
		 ON CONFLICT (url) DO UPDATE SET e2_success = EXCLUDED.e2_success`,
		url, success,
	)
	if err != nil {
		return fmt.Errorf("repository: set e2_success for %s: %w", url, err)
	}
	return nil
}
