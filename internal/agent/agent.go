package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/fmuoria/cv-triage/internal/extraction"
	"github.com/fmuoria/cv-triage/internal/filters"
	"github.com/fmuoria/cv-triage/internal/ingestion"
	"github.com/fmuoria/cv-triage/internal/models"
	"github.com/fmuoria/cv-triage/internal/notify"
	"github.com/fmuoria/cv-triage/internal/store"
)

const (
	// requestDelay spaces model calls per worker to stay under the quota
	requestDelay = 4 * time.Second
	// maxRetries is the number of attempts for a rate-limited model call
	maxRetries = 3
	// retryBackoff is the base wait after a rate-limit error, doubled per attempt
	retryBackoff = 10 * time.Second
	// DefaultWorkers bounds concurrent extractions
	DefaultWorkers = 2
	// releaseTimeout bounds returning a claimed record to pending
	releaseTimeout = 5 * time.Second
)

// ProgressCallback is called to report progress during processing
type ProgressCallback func(current, total int, message string)

// Inbox delivers CV attachments from a mailbox
type Inbox interface {
	Address() string
	FetchAttachments(ctx context.Context, query string, sink func(ingestion.Attachment) error) (int, error)
}

// Agent ingests CVs, extracts their fields and serves filtered candidate views
type Agent struct {
	store      store.Store
	pipeline   *filters.Pipeline
	files      *ingestion.FileHandler
	extractor  *extraction.Extractor
	notifier   notify.Notifier
	inbox      Inbox
	workers    int
	fetchLimit int
	delay      time.Duration
	backoff    time.Duration
	mu         sync.RWMutex
	progressCb ProgressCallback
}

// Option configures an Agent
type Option func(*Agent)

// WithNotifier publishes record changes on n
func WithNotifier(n notify.Notifier) Option {
	return func(a *Agent) { a.notifier = n }
}

// WithInbox enables IngestInbox
func WithInbox(inbox Inbox) Option {
	return func(a *Agent) { a.inbox = inbox }
}

// WithWorkers sets the number of concurrent extractions
func WithWorkers(n int) Option {
	return func(a *Agent) {
		if n > 0 {
			a.workers = n
		}
	}
}

// WithFetchLimit caps how many records a candidate query reads from the store
func WithFetchLimit(n int) Option {
	return func(a *Agent) { a.fetchLimit = n }
}

// WithPacing overrides the delay between model calls and the rate-limit backoff
func WithPacing(delay, backoff time.Duration) Option {
	return func(a *Agent) {
		a.delay = delay
		a.backoff = backoff
	}
}

// New creates an agent
func New(st store.Store, pipeline *filters.Pipeline, files *ingestion.FileHandler, extractor *extraction.Extractor, opts ...Option) *Agent {
	a := &Agent{
		store:     st,
		pipeline:  pipeline,
		files:     files,
		extractor: extractor,
		notifier:  notify.Noop{},
		workers:   DefaultWorkers,
		delay:     requestDelay,
		backoff:   retryBackoff,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Store is the record store the agent writes to
func (a *Agent) Store() store.Store {
	return a.store
}

// Pipeline is the filtering pipeline candidate queries run through
func (a *Agent) Pipeline() *filters.Pipeline {
	return a.pipeline
}

// SetProgressCallback sets the progress callback function
func (a *Agent) SetProgressCallback(cb ProgressCallback) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.progressCb = cb
}

// reportProgress calls the progress callback if set
func (a *Agent) reportProgress(current, total int, message string) {
	a.mu.RLock()
	cb := a.progressCb
	a.mu.RUnlock()

	if cb != nil {
		cb(current, total, message)
	}
}

// Ingest stores an uploaded CV and creates its pending record
func (a *Agent) Ingest(ctx context.Context, filename string, content io.Reader, sourceEmail string, receivedAt time.Time) (models.CandidateRecord, error) {
	if !ingestion.IsSupported(filename) {
		return models.CandidateRecord{}, fmt.Errorf("%w: %s", ingestion.ErrUnsupportedType, filename)
	}

	id := uuid.NewString()
	if _, err := a.files.SaveUploadedFile(id, filename, content); err != nil {
		return models.CandidateRecord{}, fmt.Errorf("failed to save %s: %w", filename, err)
	}

	rec, err := a.store.Create(ctx, models.CandidateRecord{
		ID:          id,
		FileName:    filename,
		SourceEmail: strings.ToLower(strings.TrimSpace(sourceEmail)),
		ReceivedAt:  receivedAt.UTC(),
	})
	if err != nil {
		if rmErr := a.files.Remove(id, filename); rmErr != nil {
			log.Warn().Err(rmErr).Str("id", id).Msg("Failed to remove orphaned upload")
		}
		return models.CandidateRecord{}, fmt.Errorf("failed to create record: %w", err)
	}

	a.publish(ctx, notify.Created(rec.ID))
	log.Info().Str("id", rec.ID).Str("file", filename).Msg("Ingested CV")
	return rec, nil
}

// IngestInbox turns every CV attachment matching query into a pending record
func (a *Agent) IngestInbox(ctx context.Context, query string) ([]models.CandidateRecord, error) {
	if a.inbox == nil {
		return nil, fmt.Errorf("no inbox configured")
	}

	a.reportProgress(0, 0, "Fetching emails...")
	var records []models.CandidateRecord
	_, err := a.inbox.FetchAttachments(ctx, query, func(att ingestion.Attachment) error {
		rec, err := a.Ingest(ctx, att.Filename, strings.NewReader(string(att.Data)), a.inbox.Address(), att.ReceivedAt)
		if err != nil {
			return err
		}
		records = append(records, rec)
		a.reportProgress(len(records), 0, fmt.Sprintf("Downloaded %s", att.Filename))
		return nil
	})
	if err != nil {
		return records, fmt.Errorf("failed to fetch inbox attachments: %w", err)
	}

	log.Info().Int("count", len(records)).Str("inbox", a.inbox.Address()).Msg("Ingested inbox attachments")
	return records, nil
}

// ProcessSummary counts the outcome of a ProcessPending run
type ProcessSummary struct {
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// ProcessPending extracts the fields of every pending record. Each record is
// claimed before extraction, so concurrent runs never process one twice.
func (a *Agent) ProcessPending(ctx context.Context) (ProcessSummary, error) {
	pending, err := a.store.List(ctx, store.ListOptions{Status: models.ProcessingPending})
	if err != nil {
		return ProcessSummary{}, fmt.Errorf("failed to list pending records: %w", err)
	}

	total := len(pending)
	log.Info().Int("count", total).Msg("Processing pending records")
	a.reportProgress(0, total, fmt.Sprintf("Processing %d CVs...", total))

	var completed, failed, skipped, done atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)

	for _, rec := range pending {
		g.Go(func() error {
			outcome, err := a.processRecord(gctx, rec)
			if err != nil {
				return err
			}
			switch outcome {
			case outcomeCompleted:
				completed.Add(1)
			case outcomeFailed:
				failed.Add(1)
			default:
				skipped.Add(1)
			}
			n := int(done.Add(1))
			a.reportProgress(n, total, fmt.Sprintf("Processed %s", displayName(rec)))
			return nil
		})
	}

	err = g.Wait()
	summary := ProcessSummary{
		Completed: int(completed.Load()),
		Failed:    int(failed.Load()),
		Skipped:   int(skipped.Load()),
	}
	if err != nil {
		return summary, err
	}

	log.Info().
		Int("completed", summary.Completed).
		Int("failed", summary.Failed).
		Int("skipped", summary.Skipped).
		Msg("Processing finished")
	return summary, nil
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeCompleted
	outcomeFailed
)

// processRecord runs one record through extraction. Only context
// cancellation and store failures are returned as errors; extraction
// failures mark the record as errored.
func (a *Agent) processRecord(ctx context.Context, rec models.CandidateRecord) (outcome, error) {
	if err := a.store.SetProcessing(ctx, rec.ID); err != nil {
		if errors.Is(err, store.ErrNotPending) || errors.Is(err, store.ErrNotFound) {
			return outcomeSkipped, nil
		}
		return outcomeSkipped, fmt.Errorf("failed to claim record %s: %w", rec.ID, err)
	}
	a.publish(ctx, notify.Updated(rec.ID))

	fields, err := a.extract(ctx, rec)
	if err != nil {
		if ctx.Err() != nil {
			a.release(ctx, rec.ID)
			return outcomeSkipped, ctx.Err()
		}
		log.Warn().Err(err).Str("id", rec.ID).Str("file", rec.FileName).Msg("Extraction failed")
		if err := a.store.Fail(ctx, rec.ID, err.Error()); err != nil {
			a.release(ctx, rec.ID)
			return outcomeFailed, fmt.Errorf("failed to mark record %s as failed: %w", rec.ID, err)
		}
		a.publish(ctx, notify.Updated(rec.ID))
		return outcomeFailed, nil
	}

	if err := a.store.Complete(ctx, rec.ID, fields); err != nil {
		a.release(ctx, rec.ID)
		return outcomeFailed, fmt.Errorf("failed to complete record %s: %w", rec.ID, err)
	}
	a.publish(ctx, notify.Updated(rec.ID))
	log.Debug().Str("id", rec.ID).Str("score", fields.Score).Msg("Extracted candidate")
	return outcomeCompleted, nil
}

// release puts a claimed record back to pending so a later run picks it up.
// It runs after cancellation, so it gets its own deadline.
func (a *Agent) release(ctx context.Context, id string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	if err := a.store.Release(ctx, id); err != nil {
		log.Error().Err(err).Str("id", id).Msg("Failed to release record, it stays in processing")
		return
	}
	a.publish(ctx, notify.Updated(id))
}

// extract reads the stored file and asks the extractor for its fields,
// retrying rate-limited model calls
func (a *Agent) extract(ctx context.Context, rec models.CandidateRecord) (models.ExtractedFields, error) {
	text, err := ingestion.ExtractText(ctx, a.files.PathFor(rec.ID, rec.FileName))
	if err != nil {
		return models.ExtractedFields{}, err
	}

	if !a.extractor.HasModel() {
		return a.extractor.Extract(ctx, text)
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		wait := a.delay
		if attempt > 0 {
			wait = a.backoff * time.Duration(1<<(attempt-1))
			log.Warn().Err(lastErr).Str("id", rec.ID).Int("attempt", attempt+1).Dur("wait", wait).Msg("Rate limited, retrying")
		}
		if err := sleep(ctx, wait); err != nil {
			return models.ExtractedFields{}, err
		}

		fields, err := a.extractor.Extract(ctx, text)
		if err == nil {
			return fields, nil
		}
		if ctx.Err() != nil {
			return models.ExtractedFields{}, ctx.Err()
		}
		if !isRateLimitError(err) {
			log.Warn().Err(err).Str("id", rec.ID).Msg("Model call failed, using pattern extraction")
			return extraction.Fallback(text), nil
		}
		lastErr = err
	}
	return models.ExtractedFields{}, fmt.Errorf("model rate limit persisted after %d attempts: %w", maxRetries, lastErr)
}

// Candidates runs a filtered view over the stored records
func (a *Agent) Candidates(ctx context.Context, q filters.Query) (filters.Result, error) {
	records, err := a.store.List(ctx, store.ListOptions{Limit: a.fetchLimit})
	if err != nil {
		return filters.Result{}, fmt.Errorf("failed to list records: %w", err)
	}
	return a.pipeline.Run(records, q), nil
}

// Explain reports how one stored record fares in a view
func (a *Agent) Explain(ctx context.Context, id string, view filters.View, sel filters.Selection) (models.Candidate, filters.RejectReason, error) {
	rec, err := a.store.Get(ctx, id)
	if err != nil {
		return models.Candidate{}, filters.ReasonNone, err
	}
	c, reason := a.pipeline.Explain(rec, view, sel)
	return c, reason, nil
}

// UpdateStatus sets the recruiter stage of a record
func (a *Agent) UpdateStatus(ctx context.Context, id string, status models.CandidateStatus) error {
	if err := a.store.UpdateStatus(ctx, id, status); err != nil {
		return err
	}
	a.publish(ctx, notify.Updated(id))
	return nil
}

// SetTags replaces the tags of a record
func (a *Agent) SetTags(ctx context.Context, id string, tags []string) error {
	if err := a.store.SetTags(ctx, id, tags); err != nil {
		return err
	}
	a.publish(ctx, notify.Updated(id))
	return nil
}

// Watch calls onChange for every record change published on the notifier
func (a *Agent) Watch(ctx context.Context, onChange func(notify.Event)) (notify.Subscription, error) {
	return a.notifier.Subscribe(ctx, func(e notify.Event) error {
		onChange(e)
		return nil
	})
}

// Close releases the notifier and the store
func (a *Agent) Close() {
	a.notifier.Close()
	a.store.Close()
}

func (a *Agent) publish(ctx context.Context, e notify.Event) {
	if err := a.notifier.Publish(ctx, e); err != nil {
		log.Warn().Err(err).Str("id", e.RecordID).Str("event", string(e.Type)).Msg("Failed to publish change")
	}
}

// isRateLimitError checks if an error is due to rate limiting
func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "resourceexhausted") ||
		strings.Contains(msg, "resource exhausted") ||
		strings.Contains(msg, "429") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "quota")
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func displayName(rec models.CandidateRecord) string {
	if name := rec.ExtractedFields.FullName(); name != "" {
		return name
	}
	return rec.FileName
}
