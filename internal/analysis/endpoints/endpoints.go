// Package endpoints finds candidate API endpoints referenced by a page's
// markup and inline scripts.
package endpoints

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/siteprobe-cli/internal/analysis/core"
	"github.com/xkilldash9x/siteprobe-cli/internal/page"
)

// Pattern is one entry of the discovery table. Group selects the capture
// group holding the candidate path.
type Pattern struct {
	Name  string
	Regex *regexp.Regexp
	Group int
}

// Patterns is the ordered discovery table.
var Patterns = []Pattern{
	{"api-path", regexp.MustCompile(`(?i)["'](/api(?:/[\w\-./{}]+)+)["']`), 1},
	{"rest-path", regexp.MustCompile(`(?i)["'](/rest(?:/[\w\-./{}]+)+)["']`), 1},
	{"graphql-path", regexp.MustCompile(`(?i)["'](/graphql)["']`), 1},
	{"ajax-call", regexp.MustCompile(`(?i)(?:fetch|axios\.get|axios\.post|\$\.ajax|\$\.get|\$\.post)\s*\(\s*["']([^"']+)["']`), 1},
	{"api-variable", regexp.MustCompile(`(?i)(?:apiUrl|apiBaseUrl|endpoint)\s*[:=]\s*["']([^"']+)["']`), 1},
}

// apiMarkers must appear in a resolved candidate for it to be kept.
var apiMarkers = []string{"api", "rest", "graphql"}

// versionMarkers keep a candidate regardless of apiMarkers.
var versionMarkers = []string{"/v1/", "/v2/"}

// anchorMarkers qualify an <a href> as an API link on their own.
var anchorMarkers = []string{"api", "rest", "graphql", "swagger", "openapi"}

// ErrNoBaseURL is returned when discovery has nothing to resolve against.
var ErrNoBaseURL = errors.New("base url is required for endpoint discovery")

// Options tune discovery.
type Options struct {
	// ScriptLiterals adds string literals taken from a JavaScript syntax
	// tree of each inline script to the candidates.
	ScriptLiterals bool
}

// Analyzer discovers API endpoints.
type Analyzer struct {
	core.BaseAnalyzer
	opts Options
}

// New returns an endpoint Analyzer.
func New(opts Options, logger *zap.Logger) *Analyzer {
	return &Analyzer{
		BaseAnalyzer: *core.NewBaseAnalyzer("endpoints", "Discovers candidate API endpoints", core.TypePassive, logger),
		opts:         opts,
	}
}

// Discover searches rawText and the inline scripts of doc (either may be
// empty) and returns sorted, distinct absolute endpoint URLs. Candidates
// that fail to resolve are logged and skipped.
func (a *Analyzer) Discover(ctx context.Context, doc *page.Document, baseURL, rawText string) ([]string, error) {
	base, err := parseBase(baseURL)
	if err != nil {
		return nil, err
	}

	var scripts []string
	if doc != nil {
		scripts = doc.InlineScripts()
	}

	var corpus strings.Builder
	corpus.WriteString(rawText)
	for _, s := range scripts {
		corpus.WriteString(s)
		corpus.WriteByte('\n')
	}
	content := corpus.String()

	found := make(map[string]struct{})
	for _, p := range Patterns {
		for _, m := range p.Regex.FindAllStringSubmatch(content, -1) {
			if p.Group < len(m) {
				a.consider(base, m[p.Group], found)
			}
		}
	}

	if a.opts.ScriptLiterals {
		for i, script := range scripts {
			literals, err := ScriptStringLiterals(ctx, script)
			if err != nil {
				a.Logger.Debug("Skipping script literal pass.", zap.Int("script", i), zap.Error(err))
				continue
			}
			for _, lit := range literals {
				a.consider(base, lit, found)
			}
		}
	}

	if doc != nil {
		for _, anchor := range doc.Find("a", page.HasAttr("href")) {
			href, _ := anchor.Attr("href")
			href = strings.TrimSpace(href)
			if !containsAny(strings.ToLower(href), anchorMarkers) {
				continue
			}
			abs, err := resolve(base, href)
			if err != nil {
				a.Logger.Debug("Could not resolve anchor.", zap.String("href", href), zap.Error(err))
				continue
			}
			if abs.Scheme == "http" || abs.Scheme == "https" {
				found[abs.String()] = struct{}{}
			}
		}
	}

	endpoints := make([]string, 0, len(found))
	for e := range found {
		endpoints = append(endpoints, e)
	}
	sort.Strings(endpoints)
	a.Logger.Info("Endpoint discovery complete.", zap.String("base_url", baseURL), zap.Int("endpoints", len(endpoints)))
	return endpoints, nil
}

// consider applies the trim, resolve and keep rules to one raw match.
func (a *Analyzer) consider(base *url.URL, raw string, found map[string]struct{}) {
	candidate := strings.Trim(raw, "\"\\' ")
	lower := strings.ToLower(candidate)
	if !strings.HasPrefix(candidate, "/") && !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		return
	}

	abs, err := resolve(base, candidate)
	if err != nil {
		a.Logger.Debug("Could not resolve candidate.", zap.String("candidate", candidate), zap.Error(err))
		return
	}
	absStr := abs.String()
	if containsAny(strings.ToLower(absStr), apiMarkers) || containsAny(candidate, versionMarkers) {
		found[absStr] = struct{}{}
	}
}

func parseBase(baseURL string) (*url.URL, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, ErrNoBaseURL
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url %q: %w", baseURL, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", baseURL)
	}
	return base, nil
}

func resolve(base *url.URL, ref string) (*url.URL, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return nil, err
	}
	return base.ResolveReference(u), nil
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
