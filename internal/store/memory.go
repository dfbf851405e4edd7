package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/fmuoria/cv-triage/internal/models"
)

// MemoryStore keeps records in memory. When opened on a file every change is
// written back to it.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]models.CandidateRecord
	path    string
	now     func() time.Time
}

// NewMemoryStore creates a store holding copies of records
func NewMemoryStore(records ...models.CandidateRecord) *MemoryStore {
	s := &MemoryStore{
		records: make(map[string]models.CandidateRecord, len(records)),
		now:     time.Now,
	}
	for _, rec := range records {
		rec = prepareNew(rec, s.now())
		s.records[rec.ID] = rec
	}
	return s
}

// LoadMemoryStore creates a store holding records exactly as given, for
// reading an exported file. Only a missing id is filled in.
func LoadMemoryStore(records ...models.CandidateRecord) *MemoryStore {
	s := &MemoryStore{
		records: make(map[string]models.CandidateRecord, len(records)),
		now:     time.Now,
	}
	for _, rec := range records {
		if rec.ID == "" {
			rec.ID = uuid.NewString()
		}
		s.records[rec.ID] = clone(rec)
	}
	return s
}

// OpenFileStore loads records from a JSON file, which may hold either an
// array of records or an object with a "candidates" array. A missing file
// starts an empty store that will be created on first write.
func OpenFileStore(path string) (*MemoryStore, error) {
	records, err := ReadRecordsFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	s := NewMemoryStore(records...)
	s.path = path
	return s, nil
}

// ReadRecordsFile decodes a records file without opening a store
func ReadRecordsFile(path string) ([]models.CandidateRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read records file: %w", err)
	}

	raw := data
	if doc := gjson.ParseBytes(data); doc.IsObject() {
		list := doc.Get("candidates")
		if !list.IsArray() {
			return nil, fmt.Errorf("failed to parse records file: expected a candidates array")
		}
		raw = []byte(list.Raw)
	}

	var records []models.CandidateRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("failed to parse records file: %w", err)
	}
	return records, nil
}

// List returns copies ordered by received date desc, then id
func (s *MemoryStore) List(ctx context.Context, opts ListOptions) ([]models.CandidateRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]models.CandidateRecord, 0, len(s.records))
	for _, rec := range s.records {
		if opts.Status != "" && rec.ProcessingStatus != opts.Status {
			continue
		}
		out = append(out, clone(rec))
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		ti, tj := receivedOrder(out[i]), receivedOrder(out[j])
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return out[i].ID < out[j].ID
	})
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// Get returns a copy of one record
func (s *MemoryStore) Get(ctx context.Context, id string) (models.CandidateRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return models.CandidateRecord{}, ErrNotFound
	}
	return clone(rec), nil
}

// Create stores a new record, assigning an id and upload time when unset
func (s *MemoryStore) Create(ctx context.Context, rec models.CandidateRecord) (models.CandidateRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec = prepareNew(rec, s.now())
	if _, exists := s.records[rec.ID]; exists {
		return models.CandidateRecord{}, fmt.Errorf("failed to create record: id %s already exists", rec.ID)
	}
	s.records[rec.ID] = clone(rec)
	if err := s.persistLocked(); err != nil {
		delete(s.records, rec.ID)
		return models.CandidateRecord{}, err
	}
	return rec, nil
}

// SetProcessing claims a pending record for extraction
func (s *MemoryStore) SetProcessing(ctx context.Context, id string) error {
	return s.update(id, func(rec *models.CandidateRecord) error {
		if rec.ProcessingStatus != models.ProcessingPending {
			return ErrNotPending
		}
		rec.ProcessingStatus = models.ProcessingInProgress
		return nil
	})
}

// Release returns a claimed record to pending. Records in any other state
// are left alone.
func (s *MemoryStore) Release(ctx context.Context, id string) error {
	return s.update(id, func(rec *models.CandidateRecord) error {
		if rec.ProcessingStatus == models.ProcessingInProgress {
			rec.ProcessingStatus = models.ProcessingPending
		}
		return nil
	})
}

// Complete stores extracted fields and marks the record completed
func (s *MemoryStore) Complete(ctx context.Context, id string, fields models.ExtractedFields) error {
	return s.update(id, func(rec *models.CandidateRecord) error {
		f := fields
		rec.ExtractedFields = &f
		rec.ProcessingStatus = models.ProcessingCompleted
		rec.FailureReason = ""
		return nil
	})
}

// Fail marks the record as failed with a reason
func (s *MemoryStore) Fail(ctx context.Context, id string, reason string) error {
	return s.update(id, func(rec *models.CandidateRecord) error {
		rec.ProcessingStatus = models.ProcessingError
		rec.FailureReason = reason
		return nil
	})
}

// UpdateStatus sets the recruiter stage
func (s *MemoryStore) UpdateStatus(ctx context.Context, id string, status models.CandidateStatus) error {
	if !status.Valid() {
		return fmt.Errorf("failed to update status: unknown status %q", status)
	}
	return s.update(id, func(rec *models.CandidateRecord) error {
		rec.CandidateStatus = status
		return nil
	})
}

// SetTags replaces the record's tags
func (s *MemoryStore) SetTags(ctx context.Context, id string, tags []string) error {
	return s.update(id, func(rec *models.CandidateRecord) error {
		rec.Tags = CleanTags(tags)
		return nil
	})
}

// Close is a no-op
func (s *MemoryStore) Close() {}

func (s *MemoryStore) update(id string, mutate func(*models.CandidateRecord) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}
	previous := rec
	rec = clone(rec)
	if err := mutate(&rec); err != nil {
		return err
	}
	s.records[id] = rec
	if err := s.persistLocked(); err != nil {
		s.records[id] = previous
		return err
	}
	return nil
}

// persistLocked writes all records to the backing file, if any
func (s *MemoryStore) persistLocked() error {
	if s.path == "" {
		return nil
	}
	records := make([]models.CandidateRecord, 0, len(s.records))
	for _, rec := range s.records {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal records: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create records directory: %w", err)
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write records file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace records file: %w", err)
	}
	return nil
}

// clone copies the slices and pointers a caller could otherwise share
func clone(rec models.CandidateRecord) models.CandidateRecord {
	if rec.Tags != nil {
		rec.Tags = append([]string{}, rec.Tags...)
	}
	if rec.ExtractedFields != nil {
		f := *rec.ExtractedFields
		f.Skills.Items = append([]string(nil), f.Skills.Items...)
		f.Countries.Items = append([]string(nil), f.Countries.Items...)
		rec.ExtractedFields = &f
	}
	return rec
}
