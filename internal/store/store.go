// Package store provides candidate record persistence: a Postgres store for
// deployments and a file-backed memory store for local use and tests.
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fmuoria/cv-triage/internal/models"
)

var (
	// ErrNotFound is returned when no record has the requested id
	ErrNotFound = errors.New("candidate record not found")
	// ErrNotPending is returned when claiming a record that is not pending
	ErrNotPending = errors.New("candidate record is not pending")
)

// ListOptions narrows a List call. Zero values do not filter.
type ListOptions struct {
	Limit  int
	Status models.ProcessingStatus
}

// Source lists candidate records, most recently received first
type Source interface {
	List(ctx context.Context, opts ListOptions) ([]models.CandidateRecord, error)
}

// Store is a Source that also records extraction progress and recruiter edits
type Store interface {
	Source
	Get(ctx context.Context, id string) (models.CandidateRecord, error)
	Create(ctx context.Context, rec models.CandidateRecord) (models.CandidateRecord, error)
	SetProcessing(ctx context.Context, id string) error
	Release(ctx context.Context, id string) error
	Complete(ctx context.Context, id string, fields models.ExtractedFields) error
	Fail(ctx context.Context, id string, reason string) error
	UpdateStatus(ctx context.Context, id string, status models.CandidateStatus) error
	SetTags(ctx context.Context, id string, tags []string) error
	Close()
}

// prepareNew fills the defaults of a record about to be created
func prepareNew(rec models.CandidateRecord, now time.Time) models.CandidateRecord {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.ProcessingStatus == "" {
		rec.ProcessingStatus = models.ProcessingPending
	}
	if rec.CandidateStatus == "" {
		rec.CandidateStatus = models.StatusNew
	}
	if rec.UploadedAt.IsZero() {
		rec.UploadedAt = now.UTC()
	}
	rec.Tags = CleanTags(rec.Tags)
	return rec
}

// CleanTags trims tags and drops empties and repeats, keeping first-seen order
func CleanTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		key := strings.ToLower(tag)
		if tag == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, tag)
	}
	return out
}

// receivedOrder is the effective timestamp records are listed by
func receivedOrder(rec models.CandidateRecord) time.Time {
	if !rec.ReceivedAt.IsZero() {
		return rec.ReceivedAt
	}
	return rec.UploadedAt
}
