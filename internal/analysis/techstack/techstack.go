// Package techstack identifies the technologies behind a site from its
// response headers and markup, using the Wappalyzer signature set.
package techstack

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"

	wappalyzer "github.com/projectdiscovery/wappalyzergo"
	"go.uber.org/zap"

	"github.com/xkilldash9x/siteprobe-cli/internal/analysis/core"
	"github.com/xkilldash9x/siteprobe-cli/internal/network"
)

// OtherCategory collects technologies the signature set does not categorize.
const OtherCategory = "Other"

// Engine matches signatures against a response.
type Engine interface {
	FingerprintWithInfo(headers map[string][]string, body []byte) map[string]wappalyzer.AppInfo
}

// Fetcher retrieves the page when the caller has no response at hand.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*network.FetchResult, error)
}

// Technologies maps a category name to the sorted technology names found in it.
type Technologies map[string][]string

// Analyzer fingerprints technologies.
type Analyzer struct {
	core.BaseAnalyzer
	engine  Engine
	fetcher Fetcher
	initErr error
}

// New loads the bundled signature database. A database that fails to load
// does not fail construction; Identify reports the error instead.
func New(fetcher Fetcher, logger *zap.Logger) *Analyzer {
	a := &Analyzer{
		BaseAnalyzer: *core.NewBaseAnalyzer("techstack", "Identifies server and client technologies", core.TypeNetwork, logger),
		fetcher:      fetcher,
	}
	engine, err := wappalyzer.New()
	if err != nil {
		a.initErr = fmt.Errorf("loading fingerprint database: %w", err)
		a.Logger.Error("Fingerprint database unavailable.", zap.Error(err))
		return a
	}
	a.engine = engine
	return a
}

// NewWithEngine builds an Analyzer around a caller supplied engine.
func NewWithEngine(engine Engine, fetcher Fetcher, logger *zap.Logger) *Analyzer {
	return &Analyzer{
		BaseAnalyzer: *core.NewBaseAnalyzer("techstack", "Identifies server and client technologies", core.TypeNetwork, logger),
		engine:       engine,
		fetcher:      fetcher,
	}
}

// Identify fingerprints resp, or fetches rawURL first when resp is nil.
// The result is empty, not nil, when nothing matched.
func (a *Analyzer) Identify(ctx context.Context, rawURL string, resp *network.FetchResult) (Technologies, error) {
	if a.initErr != nil {
		return nil, a.initErr
	}
	if a.engine == nil {
		return nil, errors.New("no fingerprint engine configured")
	}

	if resp == nil {
		if a.fetcher == nil {
			return nil, errors.New("no response supplied and no fetcher configured")
		}
		fetched, err := a.fetcher.Fetch(ctx, rawURL)
		if err != nil {
			return nil, fmt.Errorf("technology lookup for %s: %w", rawURL, err)
		}
		resp = fetched
	}

	apps := a.engine.FingerprintWithInfo(headersOf(resp), resp.Body)
	techs := Group(apps)
	a.Logger.Debug("Fingerprinting complete.", zap.String("url", rawURL), zap.Int("technologies", len(apps)))
	return techs, nil
}

// Group inverts per-technology info into category buckets.
func Group(apps map[string]wappalyzer.AppInfo) Technologies {
	techs := make(Technologies)
	seen := make(map[string]map[string]struct{})
	add := func(category, name string) {
		if seen[category] == nil {
			seen[category] = make(map[string]struct{})
		}
		if _, dup := seen[category][name]; dup {
			return
		}
		seen[category][name] = struct{}{}
		techs[category] = append(techs[category], name)
	}

	for name, info := range apps {
		if len(info.Categories) == 0 {
			add(OtherCategory, name)
			continue
		}
		for _, category := range info.Categories {
			add(category, name)
		}
	}
	for _, names := range techs {
		sort.Strings(names)
	}
	return techs
}

// headersOf prefers the raw header set and falls back to the flattened map.
func headersOf(resp *network.FetchResult) map[string][]string {
	if len(resp.Header) > 0 {
		return resp.Header
	}
	h := make(http.Header, len(resp.Headers))
	for k, v := range resp.Headers {
		h.Set(k, v)
	}
	return h
}
