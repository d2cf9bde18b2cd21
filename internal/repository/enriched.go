package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jerling2/scrawler/internal/codec"
)

// ErrInvalidRecord rejects an enriched record that fails schema validation.
// Validation failure is fatal for the message that produced the record.
var ErrInvalidRecord = errors.New("repository: invalid enriched record")

// Enriched stores the canonical cleaned job records, one per url.
type Enriched struct {
	pool *pgxpool.Pool
}

// NewEnriched constructs an Enriched repository.
func NewEnriched(pool *pgxpool.Pool) *Enriched {
	return &Enriched{pool: pool}
}

// Upsert validates the record and writes it keyed by url.
func (e *Enriched) Upsert(ctx context.Context, rec *codec.Loader1Record) error {
	if err := ValidateRecord(rec); err != nil {
		return err
	}
	doc, err := json.Marshal(enrichedDocument(rec))
	if err != nil {
		return fmt.Errorf("repository: marshal enriched record: %w", err)
	}
	_, err = e.pool.Exec(ctx,
		`INSERT INTO enriched_jobs (url, document, updated_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (url) DO UPDATE SET document = EXCLUDED.document, updated_at = EXCLUDED.updated_at`,
		rec.URL, doc, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("repository: upsert enriched %s: %w", rec.URL, err)
	}
	return nil
}

// ValidateRecord checks the documented shape: url present, list fields
// non-nil, apply_type restricted to its enum, wage ordered.
func ValidateRecord(rec *codec.Loader1Record) error {
	if rec == nil {
		return fmt.Errorf("%w: nil record", ErrInvalidRecord)
	}
	if rec.URL == "" {
		return fmt.Errorf("%w: url is required", ErrInvalidRecord)
	}
	if rec.Documents == nil {
		return fmt.Errorf("%w: documents must be a list", ErrInvalidRecord)
	}
	if rec.LocationType == nil {
		return fmt.Errorf("%w: location_type must be a list", ErrInvalidRecord)
	}
	for _, lt := range rec.LocationType {
		switch lt {
		case "onsite", "remote", "hybrid":
		default:
			return fmt.Errorf("%w: unknown location_type %q", ErrInvalidRecord, lt)
		}
	}
	if rec.ApplyType != nil {
		switch *rec.ApplyType {
		case "internal", "external":
		default:
			return fmt.Errorf("%w: unknown apply_type %q", ErrInvalidRecord, *rec.ApplyType)
		}
	}
	if rec.Wage != nil && rec.Wage[0] > rec.Wage[1] {
		return fmt.Errorf("%w: wage range [%d, %d] is inverted", ErrInvalidRecord, rec.Wage[0], rec.Wage[1])
	}
	return nil
}

// enrichedDocument flattens the record into the stored JSON document. Times
// are kept as RFC 3339 strings so the stored form matches the wire form.
func enrichedDocument(rec *codec.Loader1Record) map[string]any {
	formatTime := func(t *time.Time) any {
		if t == nil {
			return nil
		}
		return t.Format(time.RFC3339Nano)
	}
	return map[string]any{
		"about":           rec.About,
		"apply_by":        formatTime(rec.ApplyBy),
		"apply_type":      rec.ApplyType,
		"company":         rec.Company,
		"documents":       rec.Documents,
		"employment_type": rec.EmploymentType,
		"industry":        rec.Industry,
		"job_type":        rec.JobType,
		"location":        rec.Location,
		"location_type":   rec.LocationType,
		"position":        rec.Position,
		"posted_at":       formatTime(rec.PostedAt),
		"url":             rec.URL,
		"wage":            rec.Wage,
	}
}
