package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fmuoria/cv-triage/internal/models"
)

// Schema creates the candidates table. Migrate applies it.
const Schema = `
CREATE TABLE IF NOT EXISTS candidates (
	id                uuid PRIMARY KEY,
	processing_status text        NOT NULL DEFAULT 'pending',
	extracted_fields  jsonb,
	source_email      text        NOT NULL DEFAULT '',
	received_at       timestamptz,
	uploaded_at       timestamptz NOT NULL DEFAULT NOW(),
	tags              text[]      NOT NULL DEFAULT '{}',
	candidate_status  text        NOT NULL DEFAULT 'new',
	file_name         text        NOT NULL DEFAULT '',
	failure_reason    text        NOT NULL DEFAULT '',
	updated_at        timestamptz NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS candidates_received_idx
	ON candidates ((COALESCE(received_at, uploaded_at)) DESC);
CREATE INDEX IF NOT EXISTS candidates_processing_idx
	ON candidates (processing_status);
`

const selectColumns = `id::text, processing_status, extracted_fields, source_email, received_at,
	uploaded_at, tags, candidate_status, file_name, failure_reason`

// PostgresStore persists records in PostgreSQL
type PostgresStore struct {
	pool *pgxpool.Pool
}

// Connect establishes a connection pool to the database
func Connect(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// Close closes the connection pool
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Migrate creates the schema if it does not exist
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

// List returns records ordered by received date desc, then id
func (s *PostgresStore) List(ctx context.Context, opts ListOptions) ([]models.CandidateRecord, error) {
	var (
		query strings.Builder
		args  []any
	)
	query.WriteString("SELECT " + selectColumns + " FROM candidates")
	if opts.Status != "" {
		args = append(args, string(opts.Status))
		fmt.Fprintf(&query, " WHERE processing_status = $%d", len(args))
	}
	query.WriteString(" ORDER BY COALESCE(received_at, uploaded_at) DESC, id")
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		fmt.Fprintf(&query, " LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list candidates: %w", err)
	}
	defer rows.Close()

	records := make([]models.CandidateRecord, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate candidates: %w", err)
	}
	return records, nil
}

// Get retrieves a record by id
func (s *PostgresStore) Get(ctx context.Context, id string) (models.CandidateRecord, error) {
	row := s.pool.QueryRow(ctx, "SELECT "+selectColumns+" FROM candidates WHERE id::text = $1", id)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.CandidateRecord{}, ErrNotFound
	}
	return rec, err
}

// Create inserts a new record
func (s *PostgresStore) Create(ctx context.Context, rec models.CandidateRecord) (models.CandidateRecord, error) {
	rec = prepareNew(rec, time.Now())

	fields, err := encodeFields(rec.ExtractedFields)
	if err != nil {
		return models.CandidateRecord{}, err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO candidates (id, processing_status, extracted_fields, source_email, received_at,
		 uploaded_at, tags, candidate_status, file_name, failure_reason)
		 VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rec.ID, string(rec.ProcessingStatus), fields, rec.SourceEmail, nullTime(rec.ReceivedAt),
		rec.UploadedAt, rec.Tags, string(rec.CandidateStatus), rec.FileName, rec.FailureReason,
	)
	if err != nil {
		return models.CandidateRecord{}, fmt.Errorf("failed to create candidate: %w", err)
	}
	return rec, nil
}

// SetProcessing claims a pending record for extraction
func (s *PostgresStore) SetProcessing(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE candidates SET processing_status = $1, updated_at = NOW()
		 WHERE id::text = $2 AND processing_status = $3`,
		string(models.ProcessingInProgress), id, string(models.ProcessingPending),
	)
	if err != nil {
		return fmt.Errorf("failed to claim candidate %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return err
		}
		return ErrNotPending
	}
	return nil
}

// Release returns a claimed record to pending
func (s *PostgresStore) Release(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE candidates SET processing_status = $1, updated_at = NOW()
		 WHERE id::text = $2 AND processing_status = $3`,
		string(models.ProcessingPending), id, string(models.ProcessingInProgress),
	)
	if err != nil {
		return fmt.Errorf("failed to release candidate %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		_, err := s.Get(ctx, id)
		return err
	}
	return nil
}

// Complete stores extracted fields and marks the record completed
func (s *PostgresStore) Complete(ctx context.Context, id string, fields models.ExtractedFields) error {
	data, err := encodeFields(&fields)
	if err != nil {
		return err
	}
	return s.exec(ctx, "complete",
		`UPDATE candidates SET processing_status = $1, extracted_fields = $2, failure_reason = '',
		 updated_at = NOW() WHERE id::text = $3`,
		string(models.ProcessingCompleted), data, id,
	)
}

// Fail marks the record as failed with a reason
func (s *PostgresStore) Fail(ctx context.Context, id string, reason string) error {
	return s.exec(ctx, "fail",
		`UPDATE candidates SET processing_status = $1, failure_reason = $2, updated_at = NOW()
		 WHERE id::text = $3`,
		string(models.ProcessingError), reason, id,
	)
}

// UpdateStatus sets the recruiter stage
func (s *PostgresStore) UpdateStatus(ctx context.Context, id string, status models.CandidateStatus) error {
	if !status.Valid() {
		return fmt.Errorf("failed to update status: unknown status %q", status)
	}
	return s.exec(ctx, "update status of",
		`UPDATE candidates SET candidate_status = $1, updated_at = NOW() WHERE id::text = $2`,
		string(status), id,
	)
}

// SetTags replaces the record's tags
func (s *PostgresStore) SetTags(ctx context.Context, id string, tags []string) error {
	return s.exec(ctx, "tag",
		`UPDATE candidates SET tags = $1, updated_at = NOW() WHERE id::text = $2`,
		CleanTags(tags), id,
	)
}

func (s *PostgresStore) exec(ctx context.Context, action, sql string, args ...any) error {
	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("failed to %s candidate: %w", action, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanRecord(row pgx.Row) (models.CandidateRecord, error) {
	var (
		rec        models.CandidateRecord
		status     string
		fields     []byte
		receivedAt *time.Time
		candStatus string
	)
	err := row.Scan(&rec.ID, &status, &fields, &rec.SourceEmail, &receivedAt,
		&rec.UploadedAt, &rec.Tags, &candStatus, &rec.FileName, &rec.FailureReason)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return rec, err
		}
		return rec, fmt.Errorf("failed to scan candidate: %w", err)
	}

	rec.ProcessingStatus = models.ProcessingStatus(status)
	rec.CandidateStatus = models.CandidateStatus(candStatus)
	if receivedAt != nil {
		rec.ReceivedAt = receivedAt.UTC()
	}
	rec.UploadedAt = rec.UploadedAt.UTC()
	if len(fields) > 0 {
		var f models.ExtractedFields
		if err := json.Unmarshal(fields, &f); err != nil {
			return rec, fmt.Errorf("failed to decode extracted fields of %s: %w", rec.ID, err)
		}
		rec.ExtractedFields = &f
	}
	return rec, nil
}

func encodeFields(f *models.ExtractedFields) ([]byte, error) {
	if f == nil {
		return nil, nil
	}
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal extracted fields: %w", err)
	}
	return data, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
