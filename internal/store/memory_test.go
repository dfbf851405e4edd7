package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fmuoria/cv-triage/internal/models"
)

func TestMemoryStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	rec, err := s.Create(ctx, models.CandidateRecord{
		SourceEmail: "jobs@acme.com",
		FileName:    "alice.pdf",
		Tags:        []string{" urgent ", "", "Urgent"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, models.ProcessingPending, rec.ProcessingStatus)
	assert.Equal(t, models.StatusNew, rec.CandidateStatus)
	assert.False(t, rec.UploadedAt.IsZero())
	assert.Equal(t, []string{"urgent"}, rec.Tags)

	require.NoError(t, s.SetProcessing(ctx, rec.ID))
	assert.ErrorIs(t, s.SetProcessing(ctx, rec.ID), ErrNotPending)

	fields := models.ExtractedFields{CandidateName: "Alice Smith", Email: "a@x.com", Score: "8"}
	require.NoError(t, s.Complete(ctx, rec.ID, fields))

	got, err := s.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProcessingCompleted, got.ProcessingStatus)
	require.NotNil(t, got.ExtractedFields)
	assert.Equal(t, "Alice Smith", got.ExtractedFields.CandidateName)

	require.NoError(t, s.UpdateStatus(ctx, rec.ID, models.StatusShortlisted))
	assert.Error(t, s.UpdateStatus(ctx, rec.ID, "archived"))

	require.NoError(t, s.SetTags(ctx, rec.ID, []string{"maths", "maths", "senior"}))
	got, err = s.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusShortlisted, got.CandidateStatus)
	assert.Equal(t, []string{"maths", "senior"}, got.Tags)
}

func TestMemoryStoreFail(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(models.CandidateRecord{ID: "r1"})

	require.NoError(t, s.Fail(ctx, "r1", "unsupported file type"))
	got, err := s.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, models.ProcessingError, got.ProcessingStatus)
	assert.Equal(t, "unsupported file type", got.FailureReason)
}

func TestMemoryStoreRelease(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(models.CandidateRecord{ID: "r1"}, models.CandidateRecord{ID: "r2"})

	require.NoError(t, s.SetProcessing(ctx, "r1"))
	require.NoError(t, s.Release(ctx, "r1"))
	got, err := s.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, models.ProcessingPending, got.ProcessingStatus)
	require.NoError(t, s.SetProcessing(ctx, "r1"), "released record can be claimed again")

	require.NoError(t, s.Fail(ctx, "r2", "bad file"))
	require.NoError(t, s.Release(ctx, "r2"))
	got, err = s.Get(ctx, "r2")
	require.NoError(t, err)
	assert.Equal(t, models.ProcessingError, got.ProcessingStatus)

	assert.ErrorIs(t, s.Release(ctx, "missing"), ErrNotFound)
}

func TestLoadMemoryStoreKeepsRecords(t *testing.T) {
	ctx := context.Background()
	s := LoadMemoryStore(
		models.CandidateRecord{ID: "a", Tags: []string{" maths ", "maths"}},
		models.CandidateRecord{FileName: "b.pdf"},
	)

	got, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, got.ProcessingStatus)
	assert.Empty(t, got.CandidateStatus)
	assert.True(t, got.UploadedAt.IsZero())
	assert.Equal(t, []string{" maths ", "maths"}, got.Tags)

	all, err := s.List(ctx, ListOptions{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	for _, rec := range all {
		assert.NotEmpty(t, rec.ID)
		assert.True(t, rec.UploadedAt.IsZero())
	}
}

func TestMemoryStoreNotFound(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.SetProcessing(ctx, "missing"), ErrNotFound)
	assert.ErrorIs(t, s.Complete(ctx, "missing", models.ExtractedFields{}), ErrNotFound)
	assert.ErrorIs(t, s.Fail(ctx, "missing", "x"), ErrNotFound)
	assert.ErrorIs(t, s.UpdateStatus(ctx, "missing", models.StatusHired), ErrNotFound)
	assert.ErrorIs(t, s.SetTags(ctx, "missing", nil), ErrNotFound)
}

func TestMemoryStoreListOrderAndOptions(t *testing.T) {
	ctx := context.Background()
	day := func(d int) time.Time { return time.Date(2024, 1, d, 9, 0, 0, 0, time.UTC) }

	s := NewMemoryStore(
		models.CandidateRecord{ID: "old", ReceivedAt: day(1), ProcessingStatus: models.ProcessingCompleted},
		models.CandidateRecord{ID: "new", ReceivedAt: day(5), ProcessingStatus: models.ProcessingCompleted},
		models.CandidateRecord{ID: "uploaded", UploadedAt: day(3)},
	)

	all, err := s.List(ctx, ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"new", "uploaded", "old"}, recordIDs(all))

	limited, err := s.List(ctx, ListOptions{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"new", "uploaded"}, recordIDs(limited))

	pending, err := s.List(ctx, ListOptions{Status: models.ProcessingPending})
	require.NoError(t, err)
	assert.Equal(t, []string{"uploaded"}, recordIDs(pending))
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(models.CandidateRecord{ID: "r1", Tags: []string{"a"}})

	got, err := s.Get(ctx, "r1")
	require.NoError(t, err)
	got.Tags[0] = "changed"

	again, err := s.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, again.Tags)
}

func TestFileStorePersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "data", "candidates.json")

	s, err := OpenFileStore(path)
	require.NoError(t, err)

	rec, err := s.Create(ctx, models.CandidateRecord{FileName: "cv.pdf"})
	require.NoError(t, err)
	require.NoError(t, s.Complete(ctx, rec.ID, models.ExtractedFields{
		Email:  "a@x.com",
		Skills: models.ListOf("Go"),
	}))

	reopened, err := OpenFileStore(path)
	require.NoError(t, err)
	got, err := reopened.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProcessingCompleted, got.ProcessingStatus)
	assert.Equal(t, []string{"Go"}, got.ExtractedFields.Skills.Items)
}

func TestReadRecordsFile(t *testing.T) {
	dir := t.TempDir()

	arrayPath := filepath.Join(dir, "array.json")
	require.NoError(t, os.WriteFile(arrayPath, []byte(`[
		{"id":"a","processing_status":"completed","extracted_fields":{"email":"a@x.com","score":85,"skills":"Go, SQL"}}
	]`), 0644))

	records, err := ReadRecordsFile(arrayPath)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "85", records[0].ExtractedFields.Score)

	objectPath := filepath.Join(dir, "object.json")
	require.NoError(t, os.WriteFile(objectPath, []byte(`{"candidates":[{"id":"b"},{"id":"c"}]}`), 0644))

	records, err = ReadRecordsFile(objectPath)
	require.NoError(t, err)
	assert.Len(t, records, 2)

	badPath := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(badPath, []byte(`{"rows":[]}`), 0644))
	_, err = ReadRecordsFile(badPath)
	assert.Error(t, err)

	_, err = ReadRecordsFile(filepath.Join(dir, "missing.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestCleanTags(t *testing.T) {
	assert.Equal(t, []string{"a", "B"}, CleanTags([]string{" a ", "B", "b", "", "A"}))
	assert.Equal(t, []string{}, CleanTags(nil))
}

func recordIDs(records []models.CandidateRecord) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}
