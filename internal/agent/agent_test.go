package agent

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fmuoria/cv-triage/internal/extraction"
	"github.com/fmuoria/cv-triage/internal/filters"
	"github.com/fmuoria/cv-triage/internal/ingestion"
	"github.com/fmuoria/cv-triage/internal/llm"
	"github.com/fmuoria/cv-triage/internal/models"
	"github.com/fmuoria/cv-triage/internal/notify"
	"github.com/fmuoria/cv-triage/internal/store"
)

// TestIsRateLimitError tests the rate limit error detection
func TestIsRateLimitError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "Nil error",
			err:      nil,
			expected: false,
		},
		{
			name:     "ResourceExhausted error",
			err:      errors.New("rpc error: code = ResourceExhausted desc = Resource exhausted"),
			expected: true,
		},
		{
			name:     "HTTP 429 error",
			err:      errors.New("HTTP 429: Too Many Requests"),
			expected: true,
		},
		{
			name:     "Rate limit error",
			err:      errors.New("rate limit exceeded"),
			expected: true,
		},
		{
			name:     "Quota error",
			err:      errors.New("quota exceeded for this project"),
			expected: true,
		},
		{
			name:     "Wrapped quota error",
			err:      errors.New("failed to get LLM response: googleapi: Error 429: Quota exceeded"),
			expected: true,
		},
		{
			name:     "Other error",
			err:      errors.New("connection timeout"),
			expected: false,
		},
		{
			name:     "Invalid JSON error",
			err:      errors.New("failed to parse JSON"),
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := isRateLimitError(tt.err)
			if result != tt.expected {
				t.Errorf("isRateLimitError(%v) = %v, want %v", tt.err, result, tt.expected)
			}
		})
	}
}

// TestRateLimitConstants tests that rate limit constants are set correctly
func TestRateLimitConstants(t *testing.T) {
	// Verify that the constants are set to reasonable values
	if requestDelay.Seconds() != 4 {
		t.Errorf("requestDelay = %v, want 4 seconds", requestDelay)
	}

	if maxRetries != 3 {
		t.Errorf("maxRetries = %d, want 3", maxRetries)
	}

	if retryBackoff.Seconds() != 10 {
		t.Errorf("retryBackoff = %v, want 10 seconds", retryBackoff)
	}
}

type recordingNotifier struct {
	notify.Noop
	mu     sync.Mutex
	events []notify.Event
}

func (n *recordingNotifier) Publish(_ context.Context, e notify.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
	return nil
}

func (n *recordingNotifier) count(t notify.EventType) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, e := range n.events {
		if e.Type == t {
			c++
		}
	}
	return c
}

type scriptedGenerator struct {
	mu      sync.Mutex
	replies map[string][]reply
	calls   int
}

type reply struct {
	text string
	err  error
}

// GenerateContent answers with the next scripted reply for the first key
// found in the prompt
func (g *scriptedGenerator) GenerateContent(_ context.Context, prompt string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	for key, queue := range g.replies {
		if !strings.Contains(prompt, key) || len(queue) == 0 {
			continue
		}
		next := queue[0]
		if len(queue) > 1 {
			g.replies[key] = queue[1:]
		}
		return next.text, next.err
	}
	return "", errors.New("unexpected prompt")
}

type fakeInbox struct {
	attachments []ingestion.Attachment
}

func (f *fakeInbox) Address() string { return "jobs@example.com" }

func (f *fakeInbox) FetchAttachments(_ context.Context, _ string, sink func(ingestion.Attachment) error) (int, error) {
	for i, a := range f.attachments {
		if err := sink(a); err != nil {
			return i, err
		}
	}
	return len(f.attachments), nil
}

const graceCV = `Grace Wanjiru
grace@example.com
Head of Mathematics at Starehe Girls Centre, 2015-2021. B.Ed Mathematics.`

const otienoCV = `Peter Otieno
peter@example.com
Accountant at Kilimo Sacco since 2019. CPA Section 4.`

func newTestAgent(t *testing.T, gen *scriptedGenerator, opts ...Option) (*Agent, *recordingNotifier) {
	t.Helper()
	n := &recordingNotifier{}
	var extractor *extraction.Extractor
	if gen != nil {
		extractor = extraction.NewExtractor(gen)
	} else {
		extractor = extraction.NewExtractor(nil)
	}
	opts = append([]Option{WithNotifier(n), WithPacing(0, time.Millisecond)}, opts...)
	a := New(
		store.NewMemoryStore(),
		filters.NewPipeline(nil),
		ingestion.NewFileHandler(t.TempDir()),
		extractor,
		opts...,
	)
	return a, n
}

func TestIngestCreatesPendingRecord(t *testing.T) {
	a, n := newTestAgent(t, nil)
	ctx := context.Background()
	received := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	rec, err := a.Ingest(ctx, "Grace CV.txt", strings.NewReader(graceCV), " Jobs@Example.com ", received)
	require.NoError(t, err)

	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, models.ProcessingPending, rec.ProcessingStatus)
	assert.Equal(t, models.StatusNew, rec.CandidateStatus)
	assert.Equal(t, "jobs@example.com", rec.SourceEmail)
	assert.Equal(t, received, rec.ReceivedAt)
	assert.Equal(t, 1, n.count(notify.EventCreated))

	data, err := os.ReadFile(a.files.PathFor(rec.ID, rec.FileName))
	require.NoError(t, err)
	assert.Equal(t, graceCV, string(data))
}

func TestIngestRejectsUnsupported(t *testing.T) {
	a, n := newTestAgent(t, nil)

	_, err := a.Ingest(context.Background(), "photo.png", strings.NewReader("png"), "", time.Now())
	assert.ErrorIs(t, err, ingestion.ErrUnsupportedType)
	assert.Equal(t, 0, n.count(notify.EventCreated))

	entries, _ := os.ReadDir(a.files.Dir())
	assert.Empty(t, entries)
}

func TestProcessPendingWithModel(t *testing.T) {
	gen := &scriptedGenerator{replies: map[string][]reply{
		"Grace Wanjiru": {{text: `{"candidate_name":"Grace Wanjiru","email":"grace@example.com","score":"9","current_employment":"Head of Mathematics"}`}},
		"Peter Otieno":  {{text: `{"candidate_name":"Peter Otieno","email":"peter@example.com","score":4}`}},
	}}
	a, n := newTestAgent(t, gen)
	ctx := context.Background()

	_, err := a.Ingest(ctx, "grace.txt", strings.NewReader(graceCV), "", time.Now())
	require.NoError(t, err)
	_, err = a.Ingest(ctx, "peter.txt", strings.NewReader(otienoCV), "", time.Now())
	require.NoError(t, err)

	var progress []int
	var mu sync.Mutex
	a.SetProgressCallback(func(current, total int, _ string) {
		mu.Lock()
		defer mu.Unlock()
		progress = append(progress, current)
	})

	summary, err := a.ProcessPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, ProcessSummary{Completed: 2}, summary)
	assert.Contains(t, progress, 2)
	// claimed and completed
	assert.Equal(t, 4, n.count(notify.EventUpdated))

	res, err := a.Candidates(ctx, filters.Query{View: filters.ViewQualified})
	require.NoError(t, err)
	require.Len(t, res.Candidates, 1)
	assert.Equal(t, "Grace Wanjiru", res.Candidates[0].Name)
	assert.Equal(t, 9, res.Candidates[0].Score)

	all, err := a.Candidates(ctx, filters.Query{View: filters.ViewAll})
	require.NoError(t, err)
	assert.Len(t, all.Candidates, 2)

	// nothing left to do
	summary, err = a.ProcessPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, ProcessSummary{}, summary)
}

func TestProcessPendingRetriesRateLimit(t *testing.T) {
	gen := &scriptedGenerator{replies: map[string][]reply{
		"Grace Wanjiru": {
			{err: errors.New("rpc error: code = ResourceExhausted desc = quota")},
			{text: `{"candidate_name":"Grace Wanjiru","score":8}`},
		},
	}}
	a, _ := newTestAgent(t, gen)
	ctx := context.Background()

	rec, err := a.Ingest(ctx, "grace.txt", strings.NewReader(graceCV), "", time.Now())
	require.NoError(t, err)

	summary, err := a.ProcessPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Completed)
	assert.Equal(t, 2, gen.calls)

	got, err := a.Store().Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProcessingCompleted, got.ProcessingStatus)
	assert.Equal(t, "8", got.ExtractedFields.Score)
}

func TestProcessPendingGivesUpAfterRetries(t *testing.T) {
	gen := &scriptedGenerator{replies: map[string][]reply{
		"Grace Wanjiru": {{err: errors.New("HTTP 429: Too Many Requests")}},
	}}
	a, _ := newTestAgent(t, gen)
	ctx := context.Background()

	rec, err := a.Ingest(ctx, "grace.txt", strings.NewReader(graceCV), "", time.Now())
	require.NoError(t, err)

	summary, err := a.ProcessPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, maxRetries, gen.calls)

	got, err := a.Store().Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProcessingError, got.ProcessingStatus)
	assert.Contains(t, got.FailureReason, "rate limit")
}

func TestProcessPendingFallsBackOnModelError(t *testing.T) {
	gen := &scriptedGenerator{replies: map[string][]reply{
		"Grace Wanjiru": {{err: errors.New("connection reset by peer")}},
	}}
	a, _ := newTestAgent(t, gen)
	ctx := context.Background()

	rec, err := a.Ingest(ctx, "grace.txt", strings.NewReader(graceCV), "", time.Now())
	require.NoError(t, err)

	summary, err := a.ProcessPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Completed)

	got, err := a.Store().Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "grace@example.com", got.ExtractedFields.Email)
	assert.Equal(t, extraction.FallbackJustification, got.ExtractedFields.Justification)
}

func TestProcessPendingMarksUnreadableFileAsError(t *testing.T) {
	a, _ := newTestAgent(t, nil)
	ctx := context.Background()

	rec, err := a.Ingest(ctx, "short.txt", strings.NewReader("too short"), "", time.Now())
	require.NoError(t, err)

	summary, err := a.ProcessPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)

	got, err := a.Store().Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProcessingError, got.ProcessingStatus)
	assert.NotEmpty(t, got.FailureReason)
}

func TestProcessPendingSkipsClaimedRecords(t *testing.T) {
	a, _ := newTestAgent(t, nil)
	ctx := context.Background()

	rec, err := a.Ingest(ctx, "grace.txt", strings.NewReader(graceCV), "", time.Now())
	require.NoError(t, err)
	require.NoError(t, a.Store().SetProcessing(ctx, rec.ID))

	out, err := a.processRecord(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, outcomeSkipped, out)
}

// blockingGenerator holds every call until the context ends
type blockingGenerator struct{}

func (blockingGenerator) GenerateContent(ctx context.Context, _ string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

// contextStore refuses writes once the caller's context is done, the way
// a database driver does
type contextStore struct {
	*store.MemoryStore
	failWrites bool
}

func (s *contextStore) Complete(ctx context.Context, id string, fields models.ExtractedFields) error {
	if err := s.writeErr(ctx); err != nil {
		return err
	}
	return s.MemoryStore.Complete(ctx, id, fields)
}

func (s *contextStore) Fail(ctx context.Context, id string, reason string) error {
	if err := s.writeErr(ctx); err != nil {
		return err
	}
	return s.MemoryStore.Fail(ctx, id, reason)
}

func (s *contextStore) writeErr(ctx context.Context) error {
	if s.failWrites {
		return errors.New("connection refused")
	}
	return ctx.Err()
}

func newStoreAgent(t *testing.T, st store.Store, files *ingestion.FileHandler, gen llm.Generator) *Agent {
	t.Helper()
	return New(st, filters.NewPipeline(nil), files, extraction.NewExtractor(gen),
		WithNotifier(&recordingNotifier{}), WithPacing(0, time.Millisecond))
}

func TestProcessPendingReleasesRecordOnCancel(t *testing.T) {
	st := &contextStore{MemoryStore: store.NewMemoryStore()}
	files := ingestion.NewFileHandler(t.TempDir())
	a := newStoreAgent(t, st, files, blockingGenerator{})

	rec, err := a.Ingest(context.Background(), "grace.txt", strings.NewReader(graceCV), "", time.Now())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err = a.ProcessPending(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	got, err := st.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProcessingPending, got.ProcessingStatus)
	assert.Nil(t, got.ExtractedFields, "no pattern fields after cancellation")

	gen := &scriptedGenerator{replies: map[string][]reply{
		"Grace Wanjiru": {{text: `{"candidate_name":"Grace Wanjiru","score":8}`}},
	}}
	summary, err := newStoreAgent(t, st, files, gen).ProcessPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Completed)
}

func TestProcessPendingReleasesRecordWhenStoreWriteFails(t *testing.T) {
	st := &contextStore{MemoryStore: store.NewMemoryStore(), failWrites: true}
	a := newStoreAgent(t, st, ingestion.NewFileHandler(t.TempDir()), nil)
	ctx := context.Background()

	rec, err := a.Ingest(ctx, "grace.txt", strings.NewReader(graceCV), "", time.Now())
	require.NoError(t, err)

	_, err = a.ProcessPending(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")

	got, err := st.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProcessingPending, got.ProcessingStatus)
}

func TestIngestInbox(t *testing.T) {
	received := time.Date(2024, 5, 2, 8, 30, 0, 0, time.UTC)
	inbox := &fakeInbox{attachments: []ingestion.Attachment{
		{MessageID: "m1", Filename: "grace.txt", Data: []byte(graceCV), From: "grace@example.com", ReceivedAt: received},
		{MessageID: "m2", Filename: "peter.txt", Data: []byte(otienoCV), From: "peter@example.com", ReceivedAt: received},
	}}
	a, n := newTestAgent(t, nil, WithInbox(inbox))

	records, err := a.IngestInbox(context.Background(), "subject:application")
	require.NoError(t, err)
	require.Len(t, records, 2)
	for _, rec := range records {
		assert.Equal(t, "jobs@example.com", rec.SourceEmail)
		assert.Equal(t, received, rec.ReceivedAt)
	}
	assert.Equal(t, 2, n.count(notify.EventCreated))
}

func TestIngestInboxWithoutInbox(t *testing.T) {
	a, _ := newTestAgent(t, nil)
	_, err := a.IngestInbox(context.Background(), "")
	assert.Error(t, err)
}

func TestStatusAndTagsPublishUpdates(t *testing.T) {
	a, n := newTestAgent(t, nil)
	ctx := context.Background()

	rec, err := a.Ingest(ctx, "grace.txt", strings.NewReader(graceCV), "", time.Now())
	require.NoError(t, err)

	require.NoError(t, a.UpdateStatus(ctx, rec.ID, models.StatusShortlisted))
	require.NoError(t, a.SetTags(ctx, rec.ID, []string{"maths", " Maths ", "senior"}))
	assert.Equal(t, 2, n.count(notify.EventUpdated))

	got, err := a.Store().Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusShortlisted, got.CandidateStatus)
	assert.Equal(t, []string{"maths", "senior"}, got.Tags)

	assert.ErrorIs(t, a.UpdateStatus(ctx, "missing", models.StatusHired), store.ErrNotFound)
}

func TestExplain(t *testing.T) {
	a, _ := newTestAgent(t, nil)
	ctx := context.Background()

	rec, err := a.Ingest(ctx, "grace.txt", strings.NewReader(graceCV), "", time.Now())
	require.NoError(t, err)

	_, reason, err := a.Explain(ctx, rec.ID, filters.ViewQualified, filters.Off())
	require.NoError(t, err)
	assert.Equal(t, filters.ReasonNotCompleted, reason)

	_, _, err = a.Explain(ctx, "missing", filters.ViewQualified, filters.Off())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestWatchWithEmbeddedNats(t *testing.T) {
	nats, err := notify.NewInMemoryNats()
	require.NoError(t, err)

	a := New(
		store.NewMemoryStore(),
		filters.NewPipeline(nil),
		ingestion.NewFileHandler(filepath.Join(t.TempDir(), "uploads")),
		extraction.NewExtractor(nil),
		WithNotifier(nats),
	)
	defer a.Close()

	changes := make(chan notify.Event, 1)
	sub, err := a.Watch(context.Background(), func(e notify.Event) { changes <- e })
	require.NoError(t, err)
	defer sub.Unsubscribe()

	rec, err := a.Ingest(context.Background(), "grace.txt", strings.NewReader(graceCV), "", time.Now())
	require.NoError(t, err)

	select {
	case e := <-changes:
		assert.Equal(t, notify.EventCreated, e.Type)
		assert.Equal(t, rec.ID, e.RecordID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change event")
	}
}
