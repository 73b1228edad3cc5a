// Package orchestrator runs the onboarding sequence for a website: persist the project,
// crawl the site, extract its signal, analyze it, and mark the project ready. Only a
// crawl failure (or a storage failure) stops the sequence; the project is then left in
// failed so the attempt can be retried with Reanalyze.
package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/seo-automation/internal/analysis"
	"github.com/JakeFAU/seo-automation/internal/extractor"
	"github.com/JakeFAU/seo-automation/internal/metrics"
	"github.com/JakeFAU/seo-automation/internal/pipeline"
	"github.com/JakeFAU/seo-automation/internal/telemetry"
)

// settleTimeout bounds the writes that record how an attempt ended. They run detached
// from the caller's context so a disconnect cannot strand a project in analyzing.
const settleTimeout = 10 * time.Second

// Analyzer produces an analysis for extracted signal. Implementations never fail.
type Analyzer interface {
	Analyze(ctx context.Context, sig extractor.Signal, sourceURL string, fields ...zap.Field) analysis.Outcome
}

// Config controls snapshot placement.
type Config struct {
	SnapshotPrefix string
	ContentType    string
}

// Dependencies are the collaborators an Orchestrator needs. Blobs, Hasher, and Events may be nil.
type Dependencies struct {
	Store    pipeline.Store
	Fetcher  pipeline.Fetcher
	Analyzer Analyzer
	Blobs    pipeline.BlobStore
	Hasher   pipeline.Hasher
	Events   pipeline.Publisher
	Clock    pipeline.Clock
	IDs      pipeline.IDGenerator
	Tracer   trace.Tracer
	Logger   *zap.Logger
}

// Orchestrator runs createAndAnalyze and reanalyze.
type Orchestrator struct {
	store    pipeline.Store
	fetcher  pipeline.Fetcher
	analyzer Analyzer
	blobs    pipeline.BlobStore
	hasher   pipeline.Hasher
	events   pipeline.Publisher
	clock    pipeline.Clock
	ids      pipeline.IDGenerator
	tracer   trace.Tracer
	cfg      Config
	logger   *zap.Logger
}

// New constructs an Orchestrator.
func New(deps Dependencies, cfg Config) (*Orchestrator, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("store is required")
	case deps.Fetcher == nil:
		return nil, errors.New("fetcher is required")
	case deps.Analyzer == nil:
		return nil, errors.New("analyzer is required")
	case deps.Clock == nil:
		return nil, errors.New("clock is required")
	case deps.IDs == nil:
		return nil, errors.New("id generator is required")
	case deps.Blobs != nil && deps.Hasher == nil:
		return nil, errors.New("hasher is required when snapshots are enabled")
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "text/html; charset=utf-8"
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = telemetry.Tracer()
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		store:    deps.Store,
		fetcher:  deps.Fetcher,
		analyzer: deps.Analyzer,
		blobs:    deps.Blobs,
		hasher:   deps.Hasher,
		events:   deps.Events,
		clock:    deps.Clock,
		ids:      deps.IDs,
		tracer:   tracer,
		cfg:      cfg,
		logger:   logger,
	}, nil
}

// CreateAndAnalyze persists a new project for rawURL and analyzes it. An empty name
// defaults to the URL host without www. On a crawl failure the returned project is in
// failed and err is the *pipeline.CrawlError.
func (o *Orchestrator) CreateAndAnalyze(ctx context.Context, rawURL string, ownerID int64, name string) (pipeline.Project, error) {
	normalized, err := pipeline.ValidateURL(rawURL)
	if err != nil {
		return pipeline.Project{}, err
	}
	if ownerID <= 0 {
		return pipeline.Project{}, pipeline.Invalid("owner_id", "must be positive")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = pipeline.DefaultName(normalized)
	}

	ctx, span := o.tracer.Start(ctx, "orchestrator.CreateAndAnalyze",
		trace.WithAttributes(attribute.String("seo.url", normalized)))
	defer span.End()

	id, err := o.ids.NewID()
	if err != nil {
		return pipeline.Project{}, o.spanError(span, fmt.Errorf("new project id: %w", err))
	}
	now := o.clock.Now()
	project := pipeline.Project{
		ID:        id,
		OwnerID:   ownerID,
		Name:      name,
		URL:       normalized,
		Status:    pipeline.ProjectAnalyzing,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := o.store.CreateProject(ctx, project); err != nil {
		return pipeline.Project{}, o.spanError(span, fmt.Errorf("create project: %w", err))
	}
	span.SetAttributes(attribute.String("seo.project_id", id))
	o.announce(ctx, project, pipeline.ProjectAnalyzing)
	o.logger.Info("project created", zap.String("project_id", id), zap.String("url", normalized))

	project, err = o.analyze(ctx, project)
	if err != nil {
		return project, o.spanError(span, err)
	}
	return project, nil
}

// Reanalyze moves a failed project back to analyzing and runs the crawl and analysis again.
func (o *Orchestrator) Reanalyze(ctx context.Context, projectID string) (pipeline.Project, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.Reanalyze",
		trace.WithAttributes(attribute.String("seo.project_id", projectID)))
	defer span.End()

	project, err := o.store.GetProject(ctx, projectID)
	if err != nil {
		return pipeline.Project{}, o.spanError(span, err)
	}
	if err := pipeline.ProjectMachine.Check(projectID, project.Status, pipeline.ProjectAnalyzing); err != nil {
		metrics.ObserveTransition(pipeline.EntityProject, string(pipeline.ProjectAnalyzing), "rejected")
		return pipeline.Project{}, o.spanError(span, err)
	}
	if err := o.store.CompareAndSetProjectStatus(ctx, projectID, project.Status, pipeline.ProjectAnalyzing); err != nil {
		return pipeline.Project{}, o.spanError(span, err)
	}
	metrics.ObserveTransition(pipeline.EntityProject, string(pipeline.ProjectAnalyzing), "ok")
	project.Status = pipeline.ProjectAnalyzing
	o.announce(ctx, project, pipeline.ProjectAnalyzing)

	project, err = o.analyze(ctx, project)
	if err != nil {
		return project, o.spanError(span, err)
	}
	return project, nil
}

// analyze runs crawl, snapshot, extract, and analysis for a project in analyzing.
func (o *Orchestrator) analyze(ctx context.Context, project pipeline.Project) (pipeline.Project, error) {
	fields := []zap.Field{zap.String("project_id", project.ID), zap.String("url", project.URL)}

	resp, err := o.fetcher.Fetch(ctx, pipeline.FetchRequest{URL: project.URL})
	if err != nil {
		o.logger.Error("crawl failed", append(fields, zap.Error(err))...)
		return o.fail(ctx, project, err)
	}
	o.snapshot(ctx, project, resp.Body)

	sig := extractor.Extract(string(resp.Body), project.URL)
	outcome := o.analyzer.Analyze(ctx, sig, project.URL, zap.String("project_id", project.ID))

	ctx, cancel := settle(ctx)
	defer cancel()
	rec := outcome.Record
	if err := o.store.UpdateProjectAnalysis(ctx, project.ID, pipeline.AnalysisFields{
		BusinessType:        rec.BusinessType,
		Industry:            rec.Industry,
		TargetAudience:      rec.TargetAudience,
		BrandVoice:          rec.BrandVoice,
		ContentQualityScore: rec.ContentQualityScore,
		AnalysisData:        outcome.Data,
	}); err != nil {
		o.logger.Error("store analysis failed", append(fields, zap.Error(err))...)
		return o.fail(ctx, project, fmt.Errorf("update analysis: %w", err))
	}
	if err := o.store.CompareAndSetProjectStatus(ctx, project.ID, pipeline.ProjectAnalyzing, pipeline.ProjectReady); err != nil {
		metrics.ObserveTransition(pipeline.EntityProject, string(pipeline.ProjectReady), "stale")
		metrics.ObserveProjectAnalyzed("failed")
		return pipeline.Project{}, fmt.Errorf("mark ready: %w", err)
	}
	metrics.ObserveTransition(pipeline.EntityProject, string(pipeline.ProjectReady), "ok")
	metrics.ObserveProjectAnalyzed("ready")
	o.announce(ctx, project, pipeline.ProjectReady)
	o.logger.Info("project analyzed",
		append(fields, zap.String("source", string(outcome.Source)), zap.Int("word_count", sig.WordCount))...)

	return o.store.GetProject(ctx, project.ID)
}

// fail moves the project to failed and returns it with cause.
func (o *Orchestrator) fail(ctx context.Context, project pipeline.Project, cause error) (pipeline.Project, error) {
	ctx, cancel := settle(ctx)
	defer cancel()
	metrics.ObserveProjectAnalyzed("failed")
	if err := o.store.CompareAndSetProjectStatus(ctx, project.ID, pipeline.ProjectAnalyzing, pipeline.ProjectFailed); err != nil {
		o.logger.Error("mark project failed",
			zap.String("project_id", project.ID),
			zap.Error(err),
		)
		return project, cause
	}
	metrics.ObserveTransition(pipeline.EntityProject, string(pipeline.ProjectFailed), "ok")
	o.announce(ctx, project, pipeline.ProjectFailed)

	failed, err := o.store.GetProject(ctx, project.ID)
	if err != nil {
		project.Status = pipeline.ProjectFailed
		return project, cause
	}
	return failed, cause
}

// settle detaches ctx from its caller's cancellation, keeping its values and span.
func settle(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
}

// snapshot stores the fetched HTML under <prefix>/<project_id>/<sha256>.html.
func (o *Orchestrator) snapshot(ctx context.Context, project pipeline.Project, body []byte) {
	if o.blobs == nil {
		return
	}
	digest, err := o.hasher.Hash(body)
	if err != nil {
		o.logger.Warn("snapshot hash failed", zap.String("project_id", project.ID), zap.Error(err))
		return
	}
	uri, err := o.blobs.PutObject(ctx, o.snapshotPath(project.ID, digest), o.cfg.ContentType, bytes.NewReader(body))
	if err != nil {
		o.logger.Warn("snapshot write failed",
			zap.String("project_id", project.ID),
			zap.String("url", project.URL),
			zap.Error(err),
		)
		return
	}
	o.logger.Debug("snapshot stored", zap.String("project_id", project.ID), zap.String("uri", uri))
}

func (o *Orchestrator) snapshotPath(projectID, digest string) string {
	prefix := strings.Trim(o.cfg.SnapshotPrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s.html", projectID, digest)
	}
	return fmt.Sprintf("%s/%s/%s.html", prefix, projectID, digest)
}

func (o *Orchestrator) announce(ctx context.Context, project pipeline.Project, status pipeline.ProjectStatus) {
	if o.events == nil {
		return
	}
	event := pipeline.Event{
		Kind:      pipeline.EntityProject + "." + string(status),
		ProjectID: project.ID,
		EntityID:  project.ID,
		Status:    string(status),
		At:        o.clock.Now(),
	}
	if _, err := o.events.Publish(ctx, event); err != nil {
		o.logger.Warn("event publish failed",
			zap.String("kind", event.Kind),
			zap.String("project_id", project.ID),
			zap.Error(err),
		)
	}
}

func (o *Orchestrator) spanError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
