package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/seo-automation/internal/pipeline"
	pubmemory "github.com/JakeFAU/seo-automation/internal/publisher/memory"
	"github.com/JakeFAU/seo-automation/internal/stats"
	"github.com/JakeFAU/seo-automation/internal/storage/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type seqIDs struct{ n atomic.Int64 }

func (s *seqIDs) NewID() (string, error) {
	return fmt.Sprintf("id-%03d", s.n.Add(1)), nil
}

type spyStats struct {
	inner *stats.Aggregator
	calls atomic.Int32
}

func (s *spyStats) Recompute(ctx context.Context, projectID string) (pipeline.ProjectCounters, error) {
	s.calls.Add(1)
	return s.inner.Recompute(ctx, projectID)
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, pipeline.Event) (string, error) {
	return "", errors.New("topic unavailable")
}

type harness struct {
	store  *memory.Store
	svc    *Service
	clock  *fakeClock
	events *pubmemory.Publisher
	stats  *spyStats
}

func newHarness(t *testing.T) harness {
	t.Helper()
	store := memory.NewStore()
	h := harness{
		store:  store,
		clock:  &fakeClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)},
		events: pubmemory.New(),
		stats:  &spyStats{inner: stats.New(store, nil)},
	}
	svc, err := New(Dependencies{
		Store:  store,
		Stats:  h.stats,
		Events: h.events,
		Clock:  h.clock,
		IDs:    &seqIDs{},
	})
	require.NoError(t, err)
	h.svc = svc
	return h
}

func (h harness) project(t *testing.T, id string, status pipeline.ProjectStatus) {
	t.Helper()
	require.NoError(t, h.store.CreateProject(context.Background(), pipeline.Project{
		ID: id, OwnerID: 1, Name: id, URL: "https://" + id + ".com", Status: status, CreatedAt: h.clock.Now(),
	}))
}

// generatedKeyword walks a new keyword to generated under a ready project.
func (h harness) generatedKeyword(t *testing.T, projectID, seed string) pipeline.Keyword {
	t.Helper()
	ctx := context.Background()
	kw, err := h.svc.AddKeyword(ctx, projectID, KeywordInput{SeedKeyword: seed, PriorityScore: 0.8})
	require.NoError(t, err)
	_, err = h.svc.TransitionKeyword(ctx, kw.ID, "", pipeline.KeywordGenerating)
	require.NoError(t, err)
	kw, err = h.svc.TransitionKeyword(ctx, kw.ID, "", pipeline.KeywordGenerated)
	require.NoError(t, err)
	return kw
}

// pageIn creates a page for the keyword and walks it to status.
func (h harness) pageIn(t *testing.T, kw pipeline.Keyword, status pipeline.PageStatus) pipeline.GeneratedPage {
	t.Helper()
	ctx := context.Background()
	page, err := h.svc.AddPage(ctx, kw.ID, PageInput{
		Title:       "Guide to " + kw.SeedKeyword,
		ContentHTML: "<p>Everything about " + kw.SeedKeyword + "</p>",
	})
	require.NoError(t, err)
	for _, next := range []pipeline.PageStatus{pipeline.PageReviewing, pipeline.PageApproved, pipeline.PagePublishing} {
		if page.Status == status {
			break
		}
		page, err = h.svc.TransitionPage(ctx, page.ID, "", next)
		require.NoError(t, err)
	}
	require.Equal(t, status, page.Status)
	return page
}

func TestNewRequiresDependencies(t *testing.T) {
	t.Parallel()

	_, err := New(Dependencies{})
	require.Error(t, err)
}

func TestProjectTransitions(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	h.project(t, "acme", pipeline.ProjectAnalyzing)

	_, err := h.svc.TransitionProject(ctx, "acme", "", pipeline.ProjectActive)
	require.ErrorIs(t, err, pipeline.ErrIllegalTransition)

	p, err := h.svc.TransitionProject(ctx, "acme", pipeline.ProjectAnalyzing, pipeline.ProjectFailed)
	require.NoError(t, err)
	require.Equal(t, pipeline.ProjectFailed, p.Status)

	p, err = h.svc.TransitionProject(ctx, "acme", "", pipeline.ProjectAnalyzing)
	require.NoError(t, err)
	require.Equal(t, pipeline.ProjectAnalyzing, p.Status)

	_, err = h.svc.TransitionProject(ctx, "acme", pipeline.ProjectReady, pipeline.ProjectGenerating)
	require.ErrorIs(t, err, pipeline.ErrStaleState)

	require.Equal(t, []string{"project.failed", "project.analyzing"}, h.events.Kinds())
}

func TestKeywordCannotLeavePendingBeforeProjectReady(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	h.project(t, "acme", pipeline.ProjectReady)
	kw, err := h.svc.AddKeyword(ctx, "acme", KeywordInput{SeedKeyword: "crm software", PriorityScore: 0.9})
	require.NoError(t, err)
	require.Equal(t, pipeline.KeywordPending, kw.Status)

	// The site is reanalyzed while the keyword is still pending.
	_, err = h.svc.TransitionProject(ctx, "acme", "", pipeline.ProjectFailed)
	require.NoError(t, err)
	_, err = h.svc.TransitionProject(ctx, "acme", "", pipeline.ProjectAnalyzing)
	require.NoError(t, err)

	_, err = h.svc.TransitionKeyword(ctx, kw.ID, "", pipeline.KeywordGenerating)
	var te *pipeline.TransitionError
	require.ErrorAs(t, err, &te)
	require.Equal(t, "project is analyzing", te.Reason)

	_, err = h.svc.TransitionProject(ctx, "acme", "", pipeline.ProjectReady)
	require.NoError(t, err)
	kw, err = h.svc.TransitionKeyword(ctx, kw.ID, pipeline.KeywordPending, pipeline.KeywordGenerating)
	require.NoError(t, err)
	require.Equal(t, pipeline.KeywordGenerating, kw.Status)
}

func TestKeywordMayFailFromPendingRegardlessOfProject(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	h.project(t, "acme", pipeline.ProjectAnalyzing)
	require.NoError(t, h.store.CreateKeyword(ctx, pipeline.Keyword{
		ID: "kw", ProjectID: "acme", SeedKeyword: "crm", Status: pipeline.KeywordPending,
	}))

	kw, err := h.svc.TransitionKeyword(ctx, "kw", "", pipeline.KeywordFailed)
	require.NoError(t, err)
	require.Equal(t, pipeline.KeywordFailed, kw.Status)
}

func TestKeywordPublishedRequiresPublishedPage(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.project(t, "acme", pipeline.ProjectReady)
	kw := h.generatedKeyword(t, "acme", "crm")

	_, err := h.svc.TransitionKeyword(context.Background(), kw.ID, "", pipeline.KeywordPublished)
	require.ErrorIs(t, err, pipeline.ErrIllegalTransition)
}

func TestAddKeywordValidation(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.project(t, "acme", pipeline.ProjectReady)
	volume := -1
	cases := map[string]KeywordInput{
		"seed_keyword":   {SeedKeyword: "  "},
		"priority_score": {SeedKeyword: "crm", PriorityScore: 1.5},
		"search_intent":  {SeedKeyword: "crm", SearchIntent: "curious"},
		"search_volume":  {SeedKeyword: "crm", SearchVolume: &volume},
	}
	for field, in := range cases {
		_, err := h.svc.AddKeyword(context.Background(), "acme", in)
		var ve *pipeline.ValidationError
		require.ErrorAs(t, err, &ve, field)
		require.Equal(t, field, ve.Field)
	}

	_, err := h.svc.AddKeyword(context.Background(), "missing", KeywordInput{SeedKeyword: "crm"})
	require.ErrorIs(t, err, pipeline.ErrNotFound)
}

func TestAddKeywordRequiresAnalyzedProject(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	for _, status := range []pipeline.ProjectStatus{pipeline.ProjectAnalyzing, pipeline.ProjectFailed, pipeline.ProjectPaused} {
		id := "site-" + string(status)
		h.project(t, id, status)

		_, err := h.svc.AddKeyword(ctx, id, KeywordInput{SeedKeyword: "crm"})
		var te *pipeline.TransitionError
		require.ErrorAs(t, err, &te, status)
		require.Equal(t, "project is "+string(status), te.Reason)

		keywords, err := h.svc.ListKeywords(ctx, id, KeywordFilter{})
		require.NoError(t, err)
		require.Empty(t, keywords)
	}
}

func TestAddKeywordRecomputesCounters(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	h.project(t, "acme", pipeline.ProjectReady)

	_, err := h.svc.AddKeyword(ctx, "acme", KeywordInput{SeedKeyword: "crm", Variations: []string{" best crm ", ""}})
	require.NoError(t, err)
	p, err := h.store.GetProject(ctx, "acme")
	require.NoError(t, err)
	require.Equal(t, 1, p.KeywordsCount)
}

func TestAddPageDerivesSlugAndRejectsDuplicates(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	h.project(t, "acme", pipeline.ProjectReady)
	k1 := h.generatedKeyword(t, "acme", "crm")
	k2 := h.generatedKeyword(t, "acme", "erp")

	page, err := h.svc.AddPage(ctx, k1.ID, PageInput{Title: "Best CRM Tools 2025", ContentHTML: "<h1>Best</h1> <p>CRM tools</p>"})
	require.NoError(t, err)
	require.Equal(t, "best-crm-tools-2025", page.Slug)
	require.Equal(t, pipeline.PageDraft, page.Status)
	require.Equal(t, 3, page.WordCount)

	_, err = h.svc.AddPage(ctx, k2.ID, PageInput{Title: "Best CRM Tools 2025"})
	require.ErrorIs(t, err, pipeline.ErrDuplicateSlug)

	_, err = h.svc.AddPage(ctx, k1.ID, PageInput{Title: "Another"})
	require.ErrorIs(t, err, pipeline.ErrPageExists)

	_, err = h.svc.AddPage(ctx, k2.ID, PageInput{Title: "ERP", Slug: "Not A Slug"})
	require.ErrorIs(t, err, pipeline.ErrValidation)

	p, err := h.store.GetProject(ctx, "acme")
	require.NoError(t, err)
	require.Equal(t, 1, p.PagesGenerated)
}

func TestAddPageRequiresGeneration(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	h.project(t, "acme", pipeline.ProjectReady)
	kw, err := h.svc.AddKeyword(ctx, "acme", KeywordInput{SeedKeyword: "crm"})
	require.NoError(t, err)

	_, err = h.svc.AddPage(ctx, kw.ID, PageInput{Title: "CRM"})
	require.ErrorIs(t, err, pipeline.ErrIllegalTransition)
}

func TestPageCannotLeaveDraftBeforeKeywordGenerated(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	h.project(t, "acme", pipeline.ProjectReady)
	kw, err := h.svc.AddKeyword(ctx, "acme", KeywordInput{SeedKeyword: "crm"})
	require.NoError(t, err)
	_, err = h.svc.TransitionKeyword(ctx, kw.ID, "", pipeline.KeywordGenerating)
	require.NoError(t, err)

	page, err := h.svc.AddPage(ctx, kw.ID, PageInput{Title: "CRM"})
	require.NoError(t, err)

	_, err = h.svc.TransitionPage(ctx, page.ID, "", pipeline.PageReviewing)
	var te *pipeline.TransitionError
	require.ErrorAs(t, err, &te)
	require.Equal(t, "keyword is generating", te.Reason)

	_, err = h.svc.TransitionPage(ctx, page.ID, "", pipeline.PageFailed)
	require.NoError(t, err)
}

func TestTransitionPageRejectsDirectPublish(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.project(t, "acme", pipeline.ProjectReady)
	page := h.pageIn(t, h.generatedKeyword(t, "acme", "crm"), pipeline.PagePublishing)

	_, err := h.svc.TransitionPage(context.Background(), page.ID, "", pipeline.PagePublished)
	require.ErrorIs(t, err, pipeline.ErrIllegalTransition)
}

func TestPublishPage(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	h.project(t, "acme", pipeline.ProjectActive)
	kw := h.generatedKeyword(t, "acme", "crm")
	page := h.pageIn(t, kw, pipeline.PagePublishing)
	before := h.stats.calls.Load()

	cms := int64(99)
	published, err := h.svc.PublishPage(ctx, page.ID, PublishInput{URL: "https://acme.com/crm/", CMSPostID: &cms})
	require.NoError(t, err)
	require.Equal(t, pipeline.PagePublished, published.Status)
	require.Equal(t, "https://acme.com/crm", published.PublishedURL)
	require.NotNil(t, published.PublishedAt)
	require.Equal(t, h.clock.Now(), *published.PublishedAt)
	require.Equal(t, &cms, published.CMSPostID)

	kw, err = h.store.GetKeyword(ctx, kw.ID)
	require.NoError(t, err)
	require.Equal(t, pipeline.KeywordPublished, kw.Status)

	require.Equal(t, before+1, h.stats.calls.Load())
	p, err := h.store.GetProject(ctx, "acme")
	require.NoError(t, err)
	require.Equal(t, 1, p.PagesPublished)
	require.Equal(t, 100, p.Progress())

	kinds := h.events.Kinds()
	require.Equal(t, []string{"page.published", "keyword.published"}, kinds[len(kinds)-2:])
}

func TestPublishedPageFailingRecomputesCounters(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	page := publishedPage(t, h)
	p, err := h.store.GetProject(ctx, "acme")
	require.NoError(t, err)
	require.Equal(t, 1, p.PagesPublished)
	before := h.stats.calls.Load()

	failed, err := h.svc.TransitionPage(ctx, page.ID, pipeline.PagePublished, pipeline.PageFailed)
	require.NoError(t, err)
	require.Equal(t, pipeline.PageFailed, failed.Status)
	require.Equal(t, before+1, h.stats.calls.Load())

	p, err = h.store.GetProject(ctx, "acme")
	require.NoError(t, err)
	require.Equal(t, 0, p.PagesPublished)
	require.Equal(t, 0, p.Progress())
}

func TestPublishPageValidatesURL(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	_, err := h.svc.PublishPage(context.Background(), "any", PublishInput{URL: "not a url"})
	require.ErrorIs(t, err, pipeline.ErrValidation)
}

func TestPageCannotPublishWhileKeywordPending(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	h.project(t, "acme", pipeline.ProjectReady)
	require.NoError(t, h.store.CreateKeyword(ctx, pipeline.Keyword{
		ID: "kw", ProjectID: "acme", SeedKeyword: "crm", Status: pipeline.KeywordPending,
	}))
	require.NoError(t, h.store.CreatePage(ctx, pipeline.GeneratedPage{
		ID: "pg", KeywordID: "kw", ProjectID: "acme", Title: "CRM", Slug: "crm", Status: pipeline.PagePublishing,
	}))

	_, err := h.svc.PublishPage(ctx, "pg", PublishInput{URL: "https://acme.com/crm"})
	require.ErrorIs(t, err, pipeline.ErrIllegalTransition)

	page, err := h.store.GetPage(ctx, "pg")
	require.NoError(t, err)
	require.Equal(t, pipeline.PagePublishing, page.Status)
	require.Empty(t, page.PublishedURL)
}

func TestConcurrentApproveToPublishingHasOneWinner(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.project(t, "acme", pipeline.ProjectReady)
	page := h.pageIn(t, h.generatedKeyword(t, "acme", "crm"), pipeline.PageApproved)

	const callers = 8
	var (
		wg    sync.WaitGroup
		wins  atomic.Int32
		stale atomic.Int32
		start = make(chan struct{})
	)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := h.svc.TransitionPage(context.Background(), page.ID, pipeline.PageApproved, pipeline.PagePublishing)
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, pipeline.ErrStaleState):
				stale.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	require.Equal(t, int32(1), wins.Load())
	require.Equal(t, int32(callers-1), stale.Load())
	got, err := h.store.GetPage(context.Background(), page.ID)
	require.NoError(t, err)
	require.Equal(t, pipeline.PagePublishing, got.Status)
}

func publishedPage(t *testing.T, h harness) pipeline.GeneratedPage {
	t.Helper()
	h.project(t, "acme", pipeline.ProjectActive)
	page := h.pageIn(t, h.generatedKeyword(t, "acme", "crm"), pipeline.PagePublishing)
	page, err := h.svc.PublishPage(context.Background(), page.ID, PublishInput{URL: "https://acme.com/crm"})
	require.NoError(t, err)
	return page
}

func TestMarkSubmittedIsIdempotent(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	page := publishedPage(t, h)

	first, err := h.svc.MarkSubmitted(ctx, page.ID)
	require.NoError(t, err)
	require.True(t, first.SubmittedToGoogle)
	require.NotNil(t, first.SubmittedAt)

	h.clock.Advance(time.Hour)
	second, err := h.svc.MarkSubmitted(ctx, page.ID)
	require.NoError(t, err)
	require.Equal(t, *first.SubmittedAt, *second.SubmittedAt)
	require.Equal(t, first.ID, second.ID)
}

func TestIndexingRequiresPublishedPage(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.project(t, "acme", pipeline.ProjectReady)
	page := h.pageIn(t, h.generatedKeyword(t, "acme", "crm"), pipeline.PageDraft)

	_, err := h.svc.MarkSubmitted(context.Background(), page.ID)
	require.ErrorIs(t, err, pipeline.ErrIllegalTransition)
	_, err = h.svc.RecordIndexingCheck(context.Background(), page.ID, pipeline.IndexingCheck{Indexed: true})
	require.ErrorIs(t, err, pipeline.ErrIllegalTransition)
}

func TestRecordIndexingCheckRecomputesOnlyOnChange(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	page := publishedPage(t, h)
	base := h.stats.calls.Load()

	rank := 3
	st, err := h.svc.RecordIndexingCheck(ctx, page.ID, pipeline.IndexingCheck{Indexed: true, RankingPosition: &rank})
	require.NoError(t, err)
	require.True(t, st.GoogleIndexed)
	require.NotNil(t, st.CheckedAt)
	require.Equal(t, base+1, h.stats.calls.Load())

	p, err := h.store.GetProject(ctx, "acme")
	require.NoError(t, err)
	require.Equal(t, 1, p.PagesIndexed)

	_, err = h.svc.RecordIndexingCheck(ctx, page.ID, pipeline.IndexingCheck{Indexed: true, Issues: []string{"slow"}})
	require.NoError(t, err)
	require.Equal(t, base+1, h.stats.calls.Load())

	st, err = h.svc.RecordIndexingCheck(ctx, page.ID, pipeline.IndexingCheck{Indexed: false, Issues: []string{"noindex"}})
	require.NoError(t, err)
	require.False(t, st.GoogleIndexed)
	require.Equal(t, []string{"noindex"}, st.IndexingIssues)
	require.Equal(t, base+2, h.stats.calls.Load())

	p, err = h.store.GetProject(ctx, "acme")
	require.NoError(t, err)
	require.Equal(t, 0, p.PagesIndexed)

	view, err := h.svc.Page(ctx, page.ID)
	require.NoError(t, err)
	require.False(t, view.Indexed)
	require.NotNil(t, view.Indexing)
}

func TestRecordIndexingCheckFirstNegativeResultDoesNotRecompute(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	page := publishedPage(t, h)
	base := h.stats.calls.Load()

	_, err := h.svc.RecordIndexingCheck(context.Background(), page.ID, pipeline.IndexingCheck{Indexed: false})
	require.NoError(t, err)
	require.Equal(t, base, h.stats.calls.Load())
}

// interleavingStore runs a hook once, just before the wrapped indexing write.
type interleavingStore struct {
	*memory.Store
	beforeSubmit sync.Once
	beforeResult sync.Once
	onSubmit     func()
	onResult     func()
}

func (s *interleavingStore) MarkIndexingSubmitted(ctx context.Context, seed pipeline.IndexingStatus) (bool, error) {
	if s.onSubmit != nil {
		s.beforeSubmit.Do(s.onSubmit)
	}
	return s.Store.MarkIndexingSubmitted(ctx, seed)
}

func (s *interleavingStore) RecordIndexingResult(ctx context.Context, st pipeline.IndexingStatus, observed bool) error {
	if s.onResult != nil {
		s.beforeResult.Do(s.onResult)
	}
	return s.Store.RecordIndexingResult(ctx, st, observed)
}

func (h harness) serviceOver(t *testing.T, store pipeline.Store) *Service {
	t.Helper()
	svc, err := New(Dependencies{Store: store, Stats: h.stats, Events: h.events, Clock: h.clock, IDs: &seqIDs{}})
	require.NoError(t, err)
	return svc
}

func TestMarkSubmittedKeepsConcurrentCheckResult(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	page := publishedPage(t, h)

	// The check lands after MarkSubmitted has read the row and before it writes.
	store := &interleavingStore{Store: h.store}
	store.onSubmit = func() {
		_, err := h.svc.RecordIndexingCheck(ctx, page.ID, pipeline.IndexingCheck{Indexed: true})
		require.NoError(t, err)
	}
	st, err := h.serviceOver(t, store).MarkSubmitted(ctx, page.ID)
	require.NoError(t, err)
	require.True(t, st.SubmittedToGoogle)
	require.True(t, st.GoogleIndexed)
	require.NotNil(t, st.CheckedAt)

	p, err := h.store.GetProject(ctx, "acme")
	require.NoError(t, err)
	require.Equal(t, 1, p.PagesIndexed)
}

func TestRecordIndexingCheckKeepsSubmission(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	page := publishedPage(t, h)

	store := &interleavingStore{Store: h.store}
	store.onResult = func() {
		_, err := h.svc.MarkSubmitted(ctx, page.ID)
		require.NoError(t, err)
	}
	st, err := h.serviceOver(t, store).RecordIndexingCheck(ctx, page.ID, pipeline.IndexingCheck{Indexed: true})
	require.NoError(t, err)
	require.True(t, st.GoogleIndexed)
	require.True(t, st.SubmittedToGoogle)
	require.NotNil(t, st.SubmittedAt)
}

func TestConcurrentIndexingChecksLoserIsStale(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	page := publishedPage(t, h)

	// Both callers read google_indexed=false; the inner one writes first.
	store := &interleavingStore{Store: h.store}
	store.onResult = func() {
		_, err := h.svc.RecordIndexingCheck(ctx, page.ID, pipeline.IndexingCheck{Indexed: true})
		require.NoError(t, err)
	}
	base := h.stats.calls.Load()
	_, err := h.serviceOver(t, store).RecordIndexingCheck(ctx, page.ID, pipeline.IndexingCheck{Indexed: true})
	require.ErrorIs(t, err, pipeline.ErrStaleState)
	require.Equal(t, base+1, h.stats.calls.Load())

	st, err := h.store.GetIndexing(ctx, page.ID)
	require.NoError(t, err)
	require.True(t, st.GoogleIndexed)
	p, err := h.store.GetProject(ctx, "acme")
	require.NoError(t, err)
	require.Equal(t, 1, p.PagesIndexed)
}

func TestRecordVisibility(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	page := publishedPage(t, h)

	rec, err := h.svc.RecordVisibility(ctx, "acme", pipeline.LlmVisibility{
		PageID: page.ID, Platform: "ChatGPT", TestPrompt: "best crm", BrandMentioned: true,
		Sentiment: pipeline.SentimentPositive, VisibilityScore: 70,
	})
	require.NoError(t, err)
	require.Equal(t, "chatgpt", rec.Platform)
	require.Equal(t, h.clock.Now(), rec.CheckedAt)

	h.clock.Advance(time.Minute)
	_, err = h.svc.RecordVisibility(ctx, "acme", pipeline.LlmVisibility{
		PageID: page.ID, Platform: "chatgpt", TestPrompt: "best crm", VisibilityScore: 30,
	})
	require.NoError(t, err)

	got, err := h.store.GetPage(ctx, page.ID)
	require.NoError(t, err)
	require.InDelta(t, 30.0, got.LLMVisibilityScore, 1e-9)

	summary, err := h.svc.Visibility(ctx, "acme", "CHATGPT")
	require.NoError(t, err)
	require.Len(t, summary.Records, 2)
	require.InDelta(t, 50.0, summary.Average, 1e-9)
	require.InDelta(t, 30.0, summary.Records[0].VisibilityScore, 1e-9)
}

func TestRecordVisibilityValidation(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.project(t, "acme", pipeline.ProjectReady)
	h.project(t, "beta", pipeline.ProjectReady)
	kw := h.generatedKeyword(t, "beta", "erp")
	page := h.pageIn(t, kw, pipeline.PageDraft)

	cases := map[string]pipeline.LlmVisibility{
		"platform":         {TestPrompt: "x"},
		"test_prompt":      {Platform: "gemini"},
		"sentiment":        {Platform: "gemini", TestPrompt: "x", Sentiment: "angry"},
		"visibility_score": {Platform: "gemini", TestPrompt: "x", VisibilityScore: 101},
		"page_id":          {Platform: "gemini", TestPrompt: "x", PageID: page.ID},
	}
	for field, rec := range cases {
		_, err := h.svc.RecordVisibility(context.Background(), "acme", rec)
		var ve *pipeline.ValidationError
		require.ErrorAs(t, err, &ve, field)
		require.Equal(t, field, ve.Field)
	}
}

func TestPublishFailureIsLoggedNotReturned(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.WarnLevel)
	store := memory.NewStore()
	svc, err := New(Dependencies{
		Store:  store,
		Stats:  stats.New(store, nil),
		Events: failingPublisher{},
		Clock:  &fakeClock{now: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)},
		IDs:    &seqIDs{},
		Logger: zap.New(core),
	})
	require.NoError(t, err)
	require.NoError(t, store.CreateProject(context.Background(), pipeline.Project{
		ID: "acme", OwnerID: 1, Name: "acme", URL: "https://acme.com", Status: pipeline.ProjectAnalyzing,
	}))

	p, err := svc.TransitionProject(context.Background(), "acme", "", pipeline.ProjectReady)
	require.NoError(t, err)
	require.Equal(t, pipeline.ProjectReady, p.Status)

	entries := logs.FilterMessage("event publish failed").All()
	require.Len(t, entries, 1)
	require.Equal(t, "acme", entries[0].ContextMap()["project_id"])
}

func TestSoftDeleteAndRestore(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	h.project(t, "acme", pipeline.ProjectReady)
	kw := h.generatedKeyword(t, "acme", "crm")

	require.NoError(t, h.svc.SoftDeleteProject(ctx, "acme"))
	_, err := h.svc.ProjectDetail(ctx, "acme")
	require.ErrorIs(t, err, pipeline.ErrNotFound)
	_, err = h.svc.TransitionKeyword(ctx, kw.ID, "", pipeline.KeywordFailed)
	require.ErrorIs(t, err, pipeline.ErrNotFound)

	p, err := h.svc.RestoreProject(ctx, "acme")
	require.NoError(t, err)
	require.Nil(t, p.DeletedAt)

	detail, err := h.svc.ProjectDetail(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, detail.Keywords, 1)
}

func TestListKeywordsFilters(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	h.project(t, "acme", pipeline.ProjectReady)
	for _, in := range []KeywordInput{
		{SeedKeyword: "buy crm", PriorityScore: 0.9, SearchIntent: pipeline.IntentTransactional},
		{SeedKeyword: "what is crm", PriorityScore: 0.4, SearchIntent: pipeline.IntentInformational},
		{SeedKeyword: "crm pricing", PriorityScore: 0.7, SearchIntent: pipeline.IntentCommercial},
	} {
		_, err := h.svc.AddKeyword(ctx, "acme", in)
		require.NoError(t, err)
	}

	all, err := h.svc.ListKeywords(ctx, "acme", KeywordFilter{})
	require.NoError(t, err)
	require.Equal(t, []string{"buy crm", "crm pricing", "what is crm"}, seeds(all))

	high, err := h.svc.ListKeywords(ctx, "acme", KeywordFilter{HighPriority: true})
	require.NoError(t, err)
	require.Equal(t, []string{"buy crm", "crm pricing"}, seeds(high))

	info, err := h.svc.ListKeywords(ctx, "acme", KeywordFilter{SearchIntent: pipeline.IntentInformational})
	require.NoError(t, err)
	require.Equal(t, []string{"what is crm"}, seeds(info))

	pending, err := h.svc.ListKeywords(ctx, "acme", KeywordFilter{Status: pipeline.KeywordPending})
	require.NoError(t, err)
	require.Len(t, pending, 3)
}

func seeds(keywords []pipeline.Keyword) []string {
	out := make([]string, len(keywords))
	for i, k := range keywords {
		out[i] = k.SeedKeyword
	}
	return out
}
