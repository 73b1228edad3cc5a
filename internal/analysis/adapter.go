package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/seo-automation/internal/extractor"
	"github.com/JakeFAU/seo-automation/internal/metrics"
	"github.com/JakeFAU/seo-automation/internal/pipeline"
)

// Source says where an Outcome's record came from.
type Source string

// Outcome sources.
const (
	SourceProvider Source = "provider"
	SourceDefault  Source = "default"
)

// Fallback reasons, also used as metric labels.
const (
	ReasonDisabled      = "disabled"
	ReasonTimeout       = "timeout"
	ReasonProviderError = "provider_error"
	ReasonEmptyResponse = "empty_response"
	ReasonParse         = "parse"
)

// Outcome is the result of one analysis. A defaulted outcome carries the cause that
// forced the fallback; the record is always usable.
type Outcome struct {
	Record Record
	// Data is the analysis payload retained verbatim on the project.
	Data   json.RawMessage
	Source Source
	Reason string
	Cause  error
}

// Defaulted reports whether the record is the fixed fallback.
func (o Outcome) Defaulted() bool { return o.Source == SourceDefault }

// Config controls provider calls.
type Config struct {
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

// Adapter wraps a text-generation provider with the fallback policy.
type Adapter struct {
	generator pipeline.Generator
	cfg       Config
	logger    *zap.Logger
}

// New constructs an Adapter. A nil generator always yields the default record.
func New(generator pipeline.Generator, cfg Config, logger *zap.Logger) *Adapter {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4000
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{generator: generator, cfg: cfg, logger: logger}
}

// Analyze asks the provider for an analysis of sig. It never fails: provider errors and
// unparseable answers are logged with fields and degrade to DefaultRecord.
func (a *Adapter) Analyze(ctx context.Context, sig extractor.Signal, sourceURL string, fields ...zap.Field) Outcome {
	if a.generator == nil {
		return a.fallback(sourceURL, ReasonDisabled, errors.New("no analysis provider configured"), fields)
	}

	callCtx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	text, err := a.generator.Generate(callCtx, BuildPrompt(sig, sourceURL), a.cfg.Model, a.cfg.MaxTokens)
	if err != nil {
		reason := ReasonProviderError
		if errors.Is(err, context.DeadlineExceeded) {
			reason = ReasonTimeout
		}
		return a.fallback(sourceURL, reason, fmt.Errorf("generate: %w", err), fields)
	}
	if strings.TrimSpace(text) == "" {
		return a.fallback(sourceURL, ReasonEmptyResponse, errors.New("provider returned no text"), fields)
	}

	rec, data, err := ParseResponse(text)
	if err != nil {
		return a.fallback(sourceURL, ReasonParse, err, fields)
	}
	return Outcome{Record: rec, Data: data, Source: SourceProvider}
}

func (a *Adapter) fallback(sourceURL, reason string, cause error, fields []zap.Field) Outcome {
	metrics.ObserveAnalysisFallback(reason)
	logFields := append([]zap.Field{
		zap.String("url", sourceURL),
		zap.String("reason", reason),
		zap.Error(cause),
	}, fields...)
	a.logger.Warn("analysis degraded to default record", logFields...)

	rec := DefaultRecord()
	data, err := json.Marshal(rec)
	if err != nil {
		data = nil
	}
	return Outcome{Record: rec, Data: data, Source: SourceDefault, Reason: reason, Cause: cause}
}
