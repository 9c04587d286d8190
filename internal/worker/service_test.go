package worker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"homefeed/internal/config"
	"homefeed/internal/events"
	"homefeed/internal/extraction"
	"homefeed/internal/intake"
	"homefeed/internal/listing"
	"homefeed/internal/logger"
	"homefeed/pkg/errors"
)

// memMessageRepo mirrors the mongo claim semantics in memory: the whole
// claim (eligibility check + state flip + attempt increment) happens under
// one lock, like FindOneAndUpdate.
type memMessageRepo struct {
	mu   sync.Mutex
	docs map[string]*intake.RawMessage
	// claimErr, when set, fails ClaimNext to simulate a store outage.
	claimErr error
}

func newMemMessageRepo() *memMessageRepo {
	return &memMessageRepo{docs: make(map[string]*intake.RawMessage)}
}

func (m *memMessageRepo) add(key, text string, firstSeen time.Time) {
	m.docs[key] = &intake.RawMessage{
		DedupeKey:   key,
		Text:        text,
		FirstSeenAt: firstSeen,
		Processing:  intake.ProcessingState{Status: intake.StatusPending},
	}
}

func (m *memMessageRepo) Upsert(context.Context, intake.NormalizedMessage, time.Time) (intake.UpsertResult, error) {
	return intake.UpsertResult{}, nil
}

func (m *memMessageRepo) ClaimNext(_ context.Context, batchID string, maxAttempts int, claimTimeout time.Duration, now time.Time) (*intake.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.claimErr != nil {
		return nil, m.claimErr
	}

	staleBefore := now.Add(-claimTimeout)
	var keys []string
	for key := range m.docs {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		return m.docs[keys[i]].FirstSeenAt.Before(m.docs[keys[j]].FirstSeenAt)
	})

	for _, key := range keys {
		doc := m.docs[key]
		if doc.Processing.Attempts >= maxAttempts {
			continue
		}
		eligible := doc.Processing.Status == intake.StatusPending ||
			(doc.Processing.Status == intake.StatusProcessing &&
				doc.Processing.HeartbeatAt != nil && doc.Processing.HeartbeatAt.Before(staleBefore))
		if !eligible {
			continue
		}
		doc.Processing.Status = intake.StatusProcessing
		doc.Processing.Attempts++
		doc.Processing.ClaimedAt = &now
		doc.Processing.HeartbeatAt = &now
		doc.Processing.WorkerBatchID = batchID
		claimed := *doc
		return &claimed, nil
	}
	return nil, nil
}

func (m *memMessageRepo) Heartbeat(_ context.Context, key string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if doc, ok := m.docs[key]; ok && doc.Processing.Status == intake.StatusProcessing {
		doc.Processing.HeartbeatAt = &now
	}
	return nil
}

func (m *memMessageRepo) MarkProcessed(_ context.Context, key string, listingCount int, usage intake.TokenUsage, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc := m.docs[key]
	doc.Processing.Status = intake.StatusProcessed
	doc.Processing.ProcessedAt = &now
	doc.Processing.ListingCount = listingCount
	doc.Processing.TokenUsage = usage
	doc.Processing.ClaimedAt = nil
	doc.Processing.HeartbeatAt = nil
	return nil
}

func (m *memMessageRepo) MarkRetry(_ context.Context, key string, cause string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc := m.docs[key]
	doc.Processing.Status = intake.StatusPending
	doc.Processing.LastError = cause
	doc.Processing.ClaimedAt = nil
	doc.Processing.HeartbeatAt = nil
	doc.Processing.WorkerBatchID = ""
	return nil
}

func (m *memMessageRepo) MarkFailed(_ context.Context, key string, cause string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc := m.docs[key]
	doc.Processing.Status = intake.StatusFailed
	doc.Processing.LastError = cause
	doc.Processing.ProcessedAt = &now
	doc.Processing.ClaimedAt = nil
	doc.Processing.HeartbeatAt = nil
	return nil
}

func (m *memMessageRepo) CountPending(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var count int64
	for _, doc := range m.docs {
		if doc.Processing.Status == intake.StatusPending {
			count++
		}
	}
	return count, nil
}

func (m *memMessageRepo) Get(_ context.Context, key string) (*intake.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.docs[key], nil
}

type memListingRepo struct {
	mu   sync.Mutex
	docs map[string]listing.ListingRecord
	fail error
}

func newMemListingRepo() *memListingRepo {
	return &memListingRepo{docs: make(map[string]listing.ListingRecord)}
}

func (m *memListingRepo) Upsert(_ context.Context, rec listing.ListingRecord, _ string, _ time.Time) (listing.UpsertOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return "", m.fail
	}
	_, exists := m.docs[rec.ID]
	m.docs[rec.ID] = rec
	if exists {
		return listing.OutcomeUpdated, nil
	}
	return listing.OutcomeCreated, nil
}

func (m *memListingRepo) Search(context.Context, listing.SearchFilter) (*listing.SearchResult, error) {
	return &listing.SearchResult{}, nil
}

func (m *memListingRepo) Get(context.Context, string) (*listing.ListingRecord, error) {
	return nil, nil
}

type memAuditRepo struct {
	mu      sync.Mutex
	batches []ProcessingBatch
}

func (m *memAuditRepo) Record(_ context.Context, batch ProcessingBatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = append(m.batches, batch)
	return nil
}

func (m *memAuditRepo) Recent(context.Context, int) ([]ProcessingBatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.batches, nil
}

type scriptedExtractor struct {
	mu      sync.Mutex
	results map[string]*extraction.Result
	errs    map[string]error
	calls   int
}

func (s *scriptedExtractor) Extract(_ context.Context, _ string, opts extraction.ExtractOptions) (*extraction.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if err, ok := s.errs[opts.MessageID]; ok {
		return nil, err
	}
	if res, ok := s.results[opts.MessageID]; ok {
		return res, nil
	}
	return &extraction.Result{}, nil
}

func testService(messages *memMessageRepo, listings *memListingRepo, extractor extraction.Extractor) (*Service, *memAuditRepo) {
	audit := &memAuditRepo{}
	svc := NewService(messages, listings, extractor, audit, events.NopPublisher{}, config.WorkerConfig{
		BatchSize:           5,
		MaxAttempts:         3,
		ClaimTimeoutSeconds: 600,
	}, logger.NopLogger())
	return svc, audit
}

func oneListing(bedrooms int, area string, amount float64) *extraction.Result {
	return &extraction.Result{
		Listings: []extraction.Candidate{{
			Property: extraction.CandidateProperty{Bedrooms: &bedrooms},
			Address:  extraction.CandidateAddress{Area: &area},
			Deal: extraction.CandidateDeal{
				Price: extraction.CandidatePrice{Amount: &amount},
			},
		}},
		PromptTokens:     100,
		CompletionTokens: 50,
		TotalTokens:      150,
	}
}

// Scenario: one text message flows from pending to processed with one
// listing created from its dedupe key and ordinal 1.
func TestProcessPendingBatch_SingleMessageHappyPath(t *testing.T) {
	messages := newMemMessageRepo()
	messages.add("wa:wamid.1", "2 bedroom flat, Lekki, ₦1.2m/year", time.Now().UTC())
	listings := newMemListingRepo()
	extractor := &scriptedExtractor{
		results: map[string]*extraction.Result{
			"wa:wamid.1": oneListing(2, "Lekki", 1200000),
		},
	}
	svc, audit := testService(messages, listings, extractor)

	result, err := svc.ProcessPendingBatch(context.Background(), BatchOptions{BatchSize: 5})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Claimed)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 1, result.ListingsCreated)
	assert.Equal(t, 150, result.TokenUsage.Total)
	assert.Equal(t, int64(0), result.RemainingPending)

	msg, _ := messages.Get(context.Background(), "wa:wamid.1")
	assert.Equal(t, intake.StatusProcessed, msg.Processing.Status)
	assert.Equal(t, 1, msg.Processing.ListingCount)

	rec, ok := listings.docs["wa:wamid.1#1"]
	require.True(t, ok)
	assert.Equal(t, 2, *rec.Property.Bedrooms)
	assert.Equal(t, "Lekki", rec.Address.Area)
	assert.Equal(t, "NGN", rec.Deal.Price.Currency)

	batches, _ := audit.Recent(context.Background(), 10)
	require.Len(t, batches, 1)
	assert.Equal(t, 1, batches[0].Processed)
}

func TestProcessPendingBatch_EmptyTextSkipsExtraction(t *testing.T) {
	messages := newMemMessageRepo()
	messages.add("wa:media-only", "   ", time.Now().UTC())
	extractor := &scriptedExtractor{}
	svc, _ := testService(messages, newMemListingRepo(), extractor)

	result, err := svc.ProcessPendingBatch(context.Background(), BatchOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 0, extractor.calls)

	msg, _ := messages.Get(context.Background(), "wa:media-only")
	assert.Equal(t, intake.StatusProcessed, msg.Processing.Status)
	assert.Equal(t, 0, msg.Processing.ListingCount)
}

// Non-breaking spaces and other unicode whitespace are still "no text":
// the message takes the zero-listing skip path, never terminal failure.
func TestProcessPendingBatch_UnicodeWhitespaceSkipsExtraction(t *testing.T) {
	messages := newMemMessageRepo()
	messages.add("wa:nbsp-only", "\u00a0\u2003\u3000", time.Now().UTC())
	extractor := &scriptedExtractor{}
	svc, _ := testService(messages, newMemListingRepo(), extractor)

	result, err := svc.ProcessPendingBatch(context.Background(), BatchOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 0, result.Failed)
	assert.Equal(t, 0, extractor.calls)

	msg, _ := messages.Get(context.Background(), "wa:nbsp-only")
	assert.Equal(t, intake.StatusProcessed, msg.Processing.Status)
}

func TestProcessPendingBatch_RetryableFailureReturnsToPending(t *testing.T) {
	messages := newMemMessageRepo()
	messages.add("wa:flaky", "duplex for sale", time.Now().UTC())
	extractor := &scriptedExtractor{
		errs: map[string]error{"wa:flaky": errors.ErrExtraction},
	}
	svc, _ := testService(messages, newMemListingRepo(), extractor)

	result, err := svc.ProcessPendingBatch(context.Background(), BatchOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Retried)
	assert.Equal(t, 0, result.Failed)

	msg, _ := messages.Get(context.Background(), "wa:flaky")
	assert.Equal(t, intake.StatusPending, msg.Processing.Status)
	assert.Equal(t, 1, msg.Processing.Attempts)
	assert.NotEmpty(t, msg.Processing.LastError)
}

func TestProcessPendingBatch_AttemptCapFailsTerminally(t *testing.T) {
	messages := newMemMessageRepo()
	messages.add("wa:doomed", "some listing text", time.Now().UTC())
	extractor := &scriptedExtractor{
		errs: map[string]error{"wa:doomed": errors.ErrExtraction},
	}
	svc, _ := testService(messages, newMemListingRepo(), extractor)

	// Each run claims once (incrementing attempts) and reverts to pending,
	// until the third attempt hits the cap.
	for i := 0; i < 3; i++ {
		_, err := svc.ProcessPendingBatch(context.Background(), BatchOptions{})
		require.NoError(t, err)
	}

	msg, _ := messages.Get(context.Background(), "wa:doomed")
	assert.Equal(t, intake.StatusFailed, msg.Processing.Status)
	assert.Equal(t, 3, msg.Processing.Attempts)

	// A failed message is never claimed again.
	result, err := svc.ProcessPendingBatch(context.Background(), BatchOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Claimed)
}

func TestProcessPendingBatch_FatalErrorDoesNotRetry(t *testing.T) {
	messages := newMemMessageRepo()
	messages.add("wa:bad-input", "text", time.Now().UTC())
	extractor := &scriptedExtractor{
		errs: map[string]error{"wa:bad-input": errors.ErrValidation},
	}
	svc, _ := testService(messages, newMemListingRepo(), extractor)

	result, err := svc.ProcessPendingBatch(context.Background(), BatchOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Failed)
	msg, _ := messages.Get(context.Background(), "wa:bad-input")
	assert.Equal(t, intake.StatusFailed, msg.Processing.Status)
}

func TestProcessPendingBatch_OneFailureDoesNotAbortBatch(t *testing.T) {
	messages := newMemMessageRepo()
	base := time.Now().UTC()
	messages.add("wa:ok-1", "flat one", base)
	messages.add("wa:broken", "flat two", base.Add(time.Second))
	messages.add("wa:ok-2", "flat three", base.Add(2*time.Second))
	extractor := &scriptedExtractor{
		results: map[string]*extraction.Result{
			"wa:ok-1": oneListing(1, "Yaba", 500000),
			"wa:ok-2": oneListing(3, "Ajah", 2500000),
		},
		errs: map[string]error{"wa:broken": errors.ErrExtraction},
	}
	svc, _ := testService(messages, newMemListingRepo(), extractor)

	result, err := svc.ProcessPendingBatch(context.Background(), BatchOptions{BatchSize: 5})
	require.NoError(t, err)

	assert.Equal(t, 3, result.Claimed)
	assert.Equal(t, 2, result.Processed)
	assert.Equal(t, 1, result.Retried)
	assert.Equal(t, 2, result.ListingsCreated)
}

func TestProcessPendingBatch_ClaimStoreErrorAborts(t *testing.T) {
	messages := newMemMessageRepo()
	messages.add("wa:any", "text", time.Now().UTC())
	messages.claimErr = errors.ErrStore
	svc, _ := testService(messages, newMemListingRepo(), &scriptedExtractor{})

	result, err := svc.ProcessPendingBatch(context.Background(), BatchOptions{})
	require.Error(t, err)
	assert.True(t, errors.IsStore(err))
	assert.Equal(t, 0, result.Claimed)
}

func TestProcessPendingBatch_Reprocessing_IsIdempotent(t *testing.T) {
	messages := newMemMessageRepo()
	messages.add("wa:again", "2 bed flat Lekki", time.Now().UTC())
	listings := newMemListingRepo()
	extractor := &scriptedExtractor{
		results: map[string]*extraction.Result{
			"wa:again": oneListing(2, "Lekki", 1200000),
		},
	}
	svc, _ := testService(messages, listings, extractor)

	_, err := svc.ProcessPendingBatch(context.Background(), BatchOptions{})
	require.NoError(t, err)

	// Force the message back to pending as if an operator requeued it.
	require.NoError(t, messages.MarkRetry(context.Background(), "wa:again", "requeue"))

	result, err := svc.ProcessPendingBatch(context.Background(), BatchOptions{})
	require.NoError(t, err)

	assert.Equal(t, 0, result.ListingsCreated)
	assert.Equal(t, 1, result.ListingsUpdated)
	assert.Len(t, listings.docs, 1)
}

func TestProcessPendingBatch_StaleClaimIsReclaimed(t *testing.T) {
	messages := newMemMessageRepo()
	messages.add("wa:stale", "3 bed bungalow Enugu", time.Now().UTC())

	// Simulate a crashed worker: claimed long ago, heartbeat never updated.
	stale := time.Now().UTC().Add(-time.Hour)
	doc := messages.docs["wa:stale"]
	doc.Processing.Status = intake.StatusProcessing
	doc.Processing.Attempts = 1
	doc.Processing.ClaimedAt = &stale
	doc.Processing.HeartbeatAt = &stale
	doc.Processing.WorkerBatchID = "dead-batch"

	extractor := &scriptedExtractor{
		results: map[string]*extraction.Result{
			"wa:stale": oneListing(3, "Enugu", 800000),
		},
	}
	svc, _ := testService(messages, newMemListingRepo(), extractor)

	result, err := svc.ProcessPendingBatch(context.Background(), BatchOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Claimed)
	assert.Equal(t, 1, result.Processed)

	msg, _ := messages.Get(context.Background(), "wa:stale")
	assert.Equal(t, intake.StatusProcessed, msg.Processing.Status)
	assert.Equal(t, 2, msg.Processing.Attempts)
}

func TestProcessPendingBatch_FreshClaimIsNotStolen(t *testing.T) {
	messages := newMemMessageRepo()
	messages.add("wa:busy", "text", time.Now().UTC())

	now := time.Now().UTC()
	doc := messages.docs["wa:busy"]
	doc.Processing.Status = intake.StatusProcessing
	doc.Processing.Attempts = 1
	doc.Processing.ClaimedAt = &now
	doc.Processing.HeartbeatAt = &now

	svc, _ := testService(messages, newMemListingRepo(), &scriptedExtractor{})

	result, err := svc.ProcessPendingBatch(context.Background(), BatchOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Claimed)
}

// Concurrent batches must never process the same message twice; exclusivity
// comes entirely from the atomic claim.
func TestProcessPendingBatch_ConcurrentWorkersClaimExclusively(t *testing.T) {
	messages := newMemMessageRepo()
	base := time.Now().UTC()
	for i := 0; i < 20; i++ {
		messages.add(fmt.Sprintf("wa:wamid.%02d", i), "listing text", base.Add(time.Duration(i)*time.Millisecond))
	}
	listings := newMemListingRepo()
	extractor := &scriptedExtractor{}
	svc, _ := testService(messages, listings, extractor)

	var wg sync.WaitGroup
	results := make([]*BatchResult, 4)
	errs := make([]error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			results[slot], errs[slot] = svc.ProcessPendingBatch(context.Background(), BatchOptions{BatchSize: 10})
		}(i)
	}
	wg.Wait()

	totalClaimed := 0
	for i, res := range results {
		require.NoError(t, errs[i])
		totalClaimed += res.Claimed
	}
	assert.Equal(t, 20, totalClaimed)
	assert.Equal(t, 20, extractor.calls)

	for _, doc := range messages.docs {
		assert.Equal(t, intake.StatusProcessed, doc.Processing.Status)
		assert.Equal(t, 1, doc.Processing.Attempts)
	}
}

func TestProcessPendingBatch_ZeroListingsStillProcessed(t *testing.T) {
	messages := newMemMessageRepo()
	messages.add("wa:chitchat", "good morning everyone", time.Now().UTC())
	extractor := &scriptedExtractor{
		results: map[string]*extraction.Result{
			"wa:chitchat": {TotalTokens: 40},
		},
	}
	svc, _ := testService(messages, newMemListingRepo(), extractor)

	result, err := svc.ProcessPendingBatch(context.Background(), BatchOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Processed)
	msg, _ := messages.Get(context.Background(), "wa:chitchat")
	assert.Equal(t, intake.StatusProcessed, msg.Processing.Status)
	assert.Equal(t, 0, msg.Processing.ListingCount)
}

func TestProcessPendingBatch_UpsertFailureRetriesMessage(t *testing.T) {
	messages := newMemMessageRepo()
	messages.add("wa:store-down", "2 bed flat", time.Now().UTC())
	listings := newMemListingRepo()
	listings.fail = fmt.Errorf("write conflict on properties")
	extractor := &scriptedExtractor{
		results: map[string]*extraction.Result{
			"wa:store-down": oneListing(2, "Ikeja", 900000),
		},
	}
	svc, _ := testService(messages, listings, extractor)

	result, err := svc.ProcessPendingBatch(context.Background(), BatchOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Retried)
	msg, _ := messages.Get(context.Background(), "wa:store-down")
	assert.Equal(t, intake.StatusPending, msg.Processing.Status)
	// The recorded error keeps the underlying upsert failure, not just the
	// generic store code.
	assert.Contains(t, msg.Processing.LastError, "write conflict on properties")
}
