// Package analysis runs every backend heuristic over one fetched page and
// gathers their results into a single Report.
package analysis

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/siteprobe-cli/internal/analysis/auth"
	"github.com/xkilldash9x/siteprobe-cli/internal/analysis/core"
	"github.com/xkilldash9x/siteprobe-cli/internal/analysis/endpoints"
	"github.com/xkilldash9x/siteprobe-cli/internal/analysis/headers"
	"github.com/xkilldash9x/siteprobe-cli/internal/analysis/sitemap"
	"github.com/xkilldash9x/siteprobe-cli/internal/analysis/techstack"
	"github.com/xkilldash9x/siteprobe-cli/internal/config"
	"github.com/xkilldash9x/siteprobe-cli/internal/network"
	"github.com/xkilldash9x/siteprobe-cli/internal/page"
)

// ErrNoTarget is wrapped in the AnalysisError returned for an empty URL.
var ErrNoTarget = errors.New("target url is required")

// Input is what a single analysis pass works on. Only URL is required.
// A missing Document is parsed from Response; missing Links are extracted
// from the Document.
type Input struct {
	URL      string
	Response *network.FetchResult
	Document *page.Document
	Links    []string
	RawText  string
}

// Report is the outcome of AnalyzeAll. Each heuristic has its own slot;
// a failed heuristic serializes as {"error": "..."} in that slot.
type Report struct {
	ID              string                               `json:"id"`
	URL             string                               `json:"url"`
	BaseURL         string                               `json:"base_url"`
	AnalyzedAt      time.Time                            `json:"analyzed_at"`
	Technologies    core.Outcome[techstack.Technologies] `json:"technologies"`
	Authentication  core.Outcome[auth.Assessment]        `json:"authentication"`
	APIEndpoints    core.Outcome[[]string]               `json:"api_endpoints"`
	SiteStructure   core.Outcome[sitemap.Tree]           `json:"site_structure"`
	SecurityHeaders core.Outcome[[]core.Observation]     `json:"security_headers"`
}

// Failed lists the slots whose heuristic did not produce a value,
// disabled ones included.
func (r *Report) Failed() []string {
	var failed []string
	for _, slot := range []struct {
		name string
		ok   bool
	}{
		{"technologies", r.Technologies.OK()},
		{"authentication", r.Authentication.OK()},
		{"api_endpoints", r.APIEndpoints.OK()},
		{"site_structure", r.SiteStructure.OK()},
		{"security_headers", r.SecurityHeaders.OK()},
	} {
		if !slot.ok {
			failed = append(failed, slot.name)
		}
	}
	return failed
}

// Analyzer owns one instance of each heuristic.
type Analyzer struct {
	cfg       config.AnalysisConfig
	logger    *zap.Logger
	now       func() time.Time
	tech      *techstack.Analyzer
	auth      *auth.Analyzer
	endpoints *endpoints.Analyzer
	sitemap   *sitemap.Mapper
	headers   *headers.Analyzer
}

// Option customizes an Analyzer.
type Option func(*Analyzer)

// WithTechnology replaces the technology fingerprinter.
func WithTechnology(t *techstack.Analyzer) Option {
	return func(a *Analyzer) { a.tech = t }
}

// WithClock overrides the report timestamp source.
func WithClock(now func() time.Time) Option {
	return func(a *Analyzer) { a.now = now }
}

// New builds an Analyzer. fetcher lets the technology fingerprinter
// retrieve the page itself when AnalyzeAll is given no response.
func New(cfg config.AnalysisConfig, fetcher techstack.Fetcher, logger *zap.Logger, opts ...Option) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Analyzer{
		cfg:       cfg,
		logger:    logger.Named("analysis"),
		now:       time.Now,
		auth:      auth.New(logger),
		endpoints: endpoints.New(endpoints.Options{ScriptLiterals: cfg.JSASTLiterals}, logger),
		sitemap:   sitemap.New(logger),
		headers:   headers.New(logger),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.tech == nil && cfg.Technology {
		a.tech = techstack.New(fetcher, logger)
	}
	return a
}

// AnalyzeAll runs every enabled heuristic. Heuristic failures and panics
// are recorded in their slot and never stop the others. An error is
// returned only when the target URL is unusable.
func (a *Analyzer) AnalyzeAll(ctx context.Context, in Input) (*Report, error) {
	target := strings.TrimSpace(in.URL)
	if target == "" {
		return nil, &core.AnalysisError{URL: in.URL, Err: ErrNoTarget}
	}
	pageURL := target
	if in.Response != nil && in.Response.FinalURL != "" {
		pageURL = in.Response.FinalURL
	}
	baseURL, err := page.BaseURL(pageURL)
	if err != nil {
		return nil, &core.AnalysisError{URL: in.URL, Err: err}
	}

	report := &Report{
		ID:         uuid.NewString(),
		URL:        target,
		BaseURL:    baseURL,
		AnalyzedAt: a.now().UTC(),
	}
	log := a.logger.With(zap.String("report_id", report.ID), zap.String("url", target))
	log.Info("Starting analysis.")

	doc, docErr := a.document(in)
	var respHeaders map[string]string
	if in.Response != nil {
		respHeaders = in.Response.Headers
	}

	if a.cfg.Technology {
		report.Technologies = core.Guard(log, "technologies", func() (techstack.Technologies, error) {
			return a.tech.Identify(ctx, target, in.Response)
		})
	} else {
		report.Technologies = core.Skipped[techstack.Technologies]("technologies")
	}

	if a.cfg.Authentication {
		report.Authentication = core.Guard(log, "authentication", func() (auth.Assessment, error) {
			return a.auth.Assess(doc, respHeaders), nil
		})
	} else {
		report.Authentication = core.Skipped[auth.Assessment]("authentication")
	}

	if a.cfg.APIEndpoints {
		report.APIEndpoints = core.Guard(log, "api_endpoints", func() ([]string, error) {
			if doc == nil && docErr != nil && in.RawText == "" {
				return nil, docErr
			}
			return a.endpoints.Discover(ctx, doc, baseURL, in.RawText)
		})
	} else {
		report.APIEndpoints = core.Skipped[[]string]("api_endpoints")
	}

	if a.cfg.SiteStructure {
		report.SiteStructure = core.Guard(log, "site_structure", func() (sitemap.Tree, error) {
			links := in.Links
			if links == nil && doc != nil {
				extracted, err := page.ExtractLinks(doc, baseURL)
				if err != nil {
					return nil, err
				}
				links = extracted
			}
			return a.sitemap.Map(links, baseURL)
		})
	} else {
		report.SiteStructure = core.Skipped[sitemap.Tree]("site_structure")
	}

	if a.cfg.SecurityHeaders {
		report.SecurityHeaders = core.Guard(log, "security_headers", func() ([]core.Observation, error) {
			if in.Response == nil {
				return nil, errors.New("no response headers to inspect")
			}
			return a.headers.Inspect(respHeaders, strings.HasPrefix(baseURL, "https://")), nil
		})
	} else {
		report.SecurityHeaders = core.Skipped[[]core.Observation]("security_headers")
	}

	log.Info("Analysis complete.", zap.Strings("failed", report.Failed()))
	return report, nil
}

// document returns the supplied document, or parses the response body.
func (a *Analyzer) document(in Input) (*page.Document, error) {
	if in.Document != nil {
		return in.Document, nil
	}
	if in.Response == nil {
		return nil, nil
	}
	doc, err := page.ParseBytes(in.Response.Body)
	if err != nil {
		a.logger.Warn("Could not parse response body.", zap.Error(err))
		return nil, err
	}
	return doc, nil
}
