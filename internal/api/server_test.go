package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/seo-automation/internal/config"
	"github.com/JakeFAU/seo-automation/internal/lifecycle"
	"github.com/JakeFAU/seo-automation/internal/pipeline"
	"github.com/JakeFAU/seo-automation/internal/stats"
	"github.com/JakeFAU/seo-automation/internal/storage/memory"
)

type fakeClock struct{ now time.Time }

func (c fakeClock) Now() time.Time { return c.now }

type seqIDs struct{ n atomic.Int64 }

func (s *seqIDs) NewID() (string, error) {
	return fmt.Sprintf("id-%d", s.n.Add(1)), nil
}

// fakeOnboarder stores a ready project, or returns err with a failed one.
type fakeOnboarder struct {
	store *memory.Store
	err   error
}

func (f *fakeOnboarder) CreateAndAnalyze(ctx context.Context, url string, ownerID int64, name string) (pipeline.Project, error) {
	normalized, err := pipeline.ValidateURL(url)
	if err != nil {
		return pipeline.Project{}, err
	}
	status := pipeline.ProjectReady
	if f.err != nil && errors.Is(f.err, pipeline.ErrCrawlFailed) {
		status = pipeline.ProjectFailed
	} else if f.err != nil {
		return pipeline.Project{}, f.err
	}
	p := pipeline.Project{ID: "proj-new", OwnerID: ownerID, Name: name, URL: normalized, Status: status, BusinessType: "Unknown"}
	if err := f.store.CreateProject(ctx, p); err != nil {
		return pipeline.Project{}, err
	}
	return p, f.err
}

func (f *fakeOnboarder) Reanalyze(ctx context.Context, projectID string) (pipeline.Project, error) {
	return f.store.GetProject(ctx, projectID)
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("connection refused") }

type testServer struct {
	store     *memory.Store
	onboarder *fakeOnboarder
	handler   http.Handler
}

func newTestServer(t *testing.T, auth config.AuthConfig, ready Pinger) testServer {
	t.Helper()
	store := memory.NewStore()
	agg := stats.New(store, nil)
	svc, err := lifecycle.New(lifecycle.Dependencies{
		Store: store,
		Stats: agg,
		Clock: fakeClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)},
		IDs:   &seqIDs{},
	})
	require.NoError(t, err)
	onboarder := &fakeOnboarder{store: store}
	srv, err := NewServer(Dependencies{
		Onboarder: onboarder,
		Lifecycle: svc,
		Stats:     agg,
		Ready:     ready,
	}, auth)
	require.NoError(t, err)
	return testServer{store: store, onboarder: onboarder, handler: srv.Handler()}
}

func (ts testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (ts testServer) seedProject(t *testing.T, id string, status pipeline.ProjectStatus) {
	t.Helper()
	require.NoError(t, ts.store.CreateProject(context.Background(), pipeline.Project{
		ID: id, OwnerID: 1, Name: id, URL: "https://" + id + ".com", Status: status,
	}))
}

func TestNewServerRequiresServices(t *testing.T) {
	t.Parallel()

	_, err := NewServer(Dependencies{}, config.AuthConfig{})
	require.Error(t, err)
}

func TestHealthAndReadiness(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, config.AuthConfig{}, nil)
	rec := ts.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = ts.do(t, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusOK, rec.Code)

	down := newTestServer(t, config.AuthConfig{}, failingPinger{})
	rec = down.do(t, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, config.AuthConfig{}, nil)
	ts.do(t, http.MethodGet, "/healthz", "")
	rec := ts.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestCreateProject(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, config.AuthConfig{}, nil)
	rec := ts.do(t, http.MethodPost, "/v1/projects", `{"url":"acme.com","owner_id":1,"name":"Acme"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	project := decode[pipeline.Project](t, rec)
	require.Equal(t, "https://acme.com", project.URL)
	require.Equal(t, pipeline.ProjectReady, project.Status)

	rec = ts.do(t, http.MethodGet, "/v1/projects?owner_id=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[struct {
		Projects []pipeline.Project `json:"projects"`
		Limit    int                `json:"limit"`
	}](t, rec)
	require.Len(t, list.Projects, 1)
	require.Equal(t, 20, list.Limit)
}

func TestCreateProjectErrors(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, config.AuthConfig{}, nil)

	rec := ts.do(t, http.MethodPost, "/v1/projects", `{invalid`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/v1/projects", `{"url":"not a url","owner_id":1}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "invalid url")

	ts.onboarder.err = &pipeline.CrawlError{URL: "https://acme.com", StatusCode: http.StatusNotFound, Err: errors.New("Not Found")}
	rec = ts.do(t, http.MethodPost, "/v1/projects", `{"url":"acme.com","owner_id":1}`)
	require.Equal(t, http.StatusBadGateway, rec.Code)
	body := decode[struct {
		Error   string           `json:"error"`
		Project pipeline.Project `json:"project"`
	}](t, rec)
	require.Contains(t, body.Error, "status 404")
	require.Equal(t, pipeline.ProjectFailed, body.Project.Status)
}

func TestUnexpectedErrorsAreHidden(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, config.AuthConfig{}, nil)
	ts.onboarder.err = errors.New("pq: connection reset by peer")
	rec := ts.do(t, http.MethodPost, "/v1/projects", `{"url":"acme.com","owner_id":1}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.JSONEq(t, `{"error":"internal server error"}`, rec.Body.String())
}

func TestListProjectsValidatesQuery(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, config.AuthConfig{}, nil)
	require.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/v1/projects", "").Code)
	require.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/v1/projects?owner_id=1&limit=-1", "").Code)
	require.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/v1/projects?owner_id=0", "").Code)
}

func TestProjectTransitionErrors(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, config.AuthConfig{}, nil)
	ts.seedProject(t, "acme", pipeline.ProjectReady)

	rec := ts.do(t, http.MethodPost, "/v1/projects/acme/transition", `{"to":"active"}`)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, http.MethodPost, "/v1/projects/acme/transition", `{"from":"analyzing","to":"failed"}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, rec.Body.String(), "stale state")

	rec = ts.do(t, http.MethodPost, "/v1/projects/missing/transition", `{"to":"failed"}`)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodPost, "/v1/projects/acme/transition", `{"from":"ready","to":"generating"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, pipeline.ProjectGenerating, decode[pipeline.Project](t, rec).Status)
}

func TestPipelineOverHTTP(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, config.AuthConfig{}, nil)
	ts.seedProject(t, "acme", pipeline.ProjectActive)

	rec := ts.do(t, http.MethodPost, "/v1/projects/acme/keywords",
		`{"seed_keyword":"anvil prices","priority_score":0.9,"search_intent":"commercial"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	kw := decode[pipeline.Keyword](t, rec)

	for _, to := range []string{"generating", "generated"} {
		rec = ts.do(t, http.MethodPost, "/v1/keywords/"+kw.ID+"/transition", `{"to":"`+to+`"}`)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	rec = ts.do(t, http.MethodPost, "/v1/keywords/"+kw.ID+"/pages",
		`{"title":"Anvil Prices 2025","content_html":"<p>Anvils are heavy.</p>","schema_markup":{"@type":"Article"}}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	page := decode[pipeline.GeneratedPage](t, rec)
	require.Equal(t, "anvil-prices-2025", page.Slug)
	require.JSONEq(t, `{"@type":"Article"}`, string(page.SchemaMarkup))

	rec = ts.do(t, http.MethodPost, "/v1/pages/"+page.ID+"/publish", `{"published_url":"https://acme.com/anvils"}`)
	require.Equal(t, http.StatusConflict, rec.Code)

	for _, to := range []string{"reviewing", "approved", "publishing"} {
		rec = ts.do(t, http.MethodPost, "/v1/pages/"+page.ID+"/transition", `{"to":"`+to+`"}`)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}
	rec = ts.do(t, http.MethodPost, "/v1/pages/"+page.ID+"/publish", `{"published_url":"https://acme.com/anvils","cms_post_id":12}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, pipeline.PagePublished, decode[pipeline.GeneratedPage](t, rec).Status)

	rec = ts.do(t, http.MethodPost, "/v1/pages/"+page.ID+"/indexing/submit", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = ts.do(t, http.MethodPost, "/v1/pages/"+page.ID+"/indexing/check", `{"google_indexed":true,"ranking_position":4}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodPost, "/v1/projects/acme/visibility",
		`{"page_id":"`+page.ID+`","platform":"Perplexity","test_prompt":"best anvils","brand_mentioned":true,"visibility_score":60}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/v1/pages/"+page.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	view := decode[lifecycle.PageView](t, rec)
	require.True(t, view.Indexed)
	require.Equal(t, "Anvils are heavy.", view.Excerpt)
	require.InDelta(t, 60.0, view.LLMVisibilityScore, 1e-9)

	rec = ts.do(t, http.MethodGet, "/v1/projects/acme/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	st := decode[stats.ProjectStats](t, rec)
	require.Equal(t, 1, st.PagesPublished)
	require.Equal(t, 1, st.PagesIndexed)
	require.Equal(t, 100, st.Progress)
	require.Equal(t, 1, st.BrandMentions)

	rec = ts.do(t, http.MethodGet, "/v1/projects/acme/keywords?high_priority=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "anvil prices")

	rec = ts.do(t, http.MethodGet, "/v1/projects/acme/visibility?platform=perplexity", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.InDelta(t, 60.0, decode[lifecycle.VisibilitySummary](t, rec).Average, 1e-9)

	rec = ts.do(t, http.MethodGet, "/v1/owners/1/dashboard", "")
	require.Equal(t, http.StatusOK, rec.Code)
	dash := decode[stats.Dashboard](t, rec)
	require.Equal(t, 1, dash.TotalProjects)
	require.Equal(t, 1, dash.IndexedPages)
	require.Equal(t, 0, dash.PendingPages)

	rec = ts.do(t, http.MethodGet, "/v1/projects/acme", "")
	require.Equal(t, http.StatusOK, rec.Code)
	detail := decode[pipeline.ProjectDetail](t, rec)
	require.Len(t, detail.Pages, 1)
	require.Equal(t, 100, detail.Progress)
}

func TestDuplicatePageIsConflict(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, config.AuthConfig{}, nil)
	ts.seedProject(t, "acme", pipeline.ProjectReady)
	rec := ts.do(t, http.MethodPost, "/v1/projects/acme/keywords", `{"seed_keyword":"anvils"}`)
	kw := decode[pipeline.Keyword](t, rec)
	ts.do(t, http.MethodPost, "/v1/keywords/"+kw.ID+"/transition", `{"to":"generating"}`)

	rec = ts.do(t, http.MethodPost, "/v1/keywords/"+kw.ID+"/pages", `{"title":"Anvils"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = ts.do(t, http.MethodPost, "/v1/keywords/"+kw.ID+"/pages", `{"title":"More Anvils"}`)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestSoftDeleteAndRestoreOverHTTP(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, config.AuthConfig{}, nil)
	ts.seedProject(t, "acme", pipeline.ProjectReady)

	require.Equal(t, http.StatusNoContent, ts.do(t, http.MethodDelete, "/v1/projects/acme", "").Code)
	require.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/v1/projects/acme", "").Code)
	require.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/v1/projects/acme/stats", "").Code)

	rec := ts.do(t, http.MethodPost, "/v1/projects/acme/restore", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/v1/projects/acme", "").Code)
}

func TestRecomputeStatisticsEndpoint(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, config.AuthConfig{}, nil)
	ts.seedProject(t, "acme", pipeline.ProjectReady)
	require.NoError(t, ts.store.CreateKeyword(context.Background(), pipeline.Keyword{
		ID: "k1", ProjectID: "acme", SeedKeyword: "anvils", Status: pipeline.KeywordPending,
	}))

	rec := ts.do(t, http.MethodPost, "/v1/projects/acme/statistics/recompute", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, decode[pipeline.ProjectCounters](t, rec).KeywordsCount)
}

func TestAPIKeyProtectsV1Only(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, config.AuthConfig{Enabled: true, APIKey: "secret"}, nil)
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/healthz", "").Code)
	require.Equal(t, http.StatusForbidden, ts.do(t, http.MethodGet, "/v1/projects?owner_id=1", "").Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/projects?owner_id=1", strings.NewReader(""))
	req.Header.Set("X-API-Key", "secret")
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestStatusFor(t *testing.T) {
	t.Parallel()

	cases := map[error]int{
		pipeline.Invalid("url", "bad"):                             http.StatusBadRequest,
		fmt.Errorf("get: %w", pipeline.ErrNotFound):                http.StatusNotFound,
		pipeline.ErrStaleState:                                     http.StatusConflict,
		&pipeline.TransitionError{Entity: "page", Reason: "x"}:     http.StatusConflict,
		pipeline.ErrDuplicateSlug:                                  http.StatusConflict,
		pipeline.ErrPageExists:                                     http.StatusConflict,
		&pipeline.CrawlError{URL: "u", Err: errors.New("timeout")}: http.StatusBadGateway,
		errors.New("boom"):                                         http.StatusInternalServerError,
	}
	for err, want := range cases {
		require.Equal(t, want, statusFor(err), err.Error())
	}
}
