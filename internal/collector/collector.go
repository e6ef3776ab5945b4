// Package collector fetches a page, extracts its metadata, text and links,
// and persists the result through a store.
package collector

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/siteprobe-cli/internal/config"
	"github.com/xkilldash9x/siteprobe-cli/internal/network"
	"github.com/xkilldash9x/siteprobe-cli/internal/page"
	"github.com/xkilldash9x/siteprobe-cli/internal/store"
)

// TimestampLayout is the local ISO 8601 layout used in collected records.
const TimestampLayout = "2006-01-02T15:04:05.000000"

// Fetcher retrieves pages.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*network.FetchResult, error)
}

// Writer persists collected data.
type Writer interface {
	WriteTabular(records []store.Record, pageURL string) (string, error)
	WriteStructured(data interface{}, pageURL string) (string, error)
}

// Options selects what a collection run extracts and stores.
type Options struct {
	CollectText     bool
	CollectLinks    bool
	StoreTabular    bool
	StoreStructured bool
}

// OptionsFromConfig returns the configured defaults.
func OptionsFromConfig(cfg config.CollectorConfig) Options {
	return Options{
		CollectText:     cfg.CollectText,
		CollectLinks:    cfg.CollectLinks,
		StoreTabular:    cfg.StoreTabular,
		StoreStructured: cfg.StoreStructured,
	}
}

// HTTPInfo records the exchange the data came from.
type HTTPInfo struct {
	RequestHeaders  map[string]string `json:"request_headers"`
	ResponseHeaders map[string]string `json:"response_headers"`
	StatusCode      int               `json:"status_code"`
}

// Result describes one collection run.
type Result struct {
	RunID          string        `json:"run_id"`
	URL            string        `json:"url"`
	FinalURL       string        `json:"final_url"`
	CollectedAt    time.Time     `json:"collected_at"`
	Metadata       page.Metadata `json:"metadata"`
	TextPreview    *string       `json:"text_content_preview"`
	Links          []string      `json:"links"`
	LinkSummary    *LinkSummary  `json:"link_summary,omitempty"`
	HTTP           HTTPInfo      `json:"http_log"`
	TabularPath    string        `json:"tabular_filepath,omitempty"`
	StructuredPath string        `json:"json_filepath,omitempty"`
}

// document is the structured file layout. Absent values serialize as null.
type document struct {
	URL                 string       `json:"url"`
	CollectionTimestamp string       `json:"collection_timestamp"`
	Metadata            metadataDoc  `json:"metadata"`
	HTTPInfo            HTTPInfo     `json:"http_info"`
	Links               []string     `json:"links"`
	LinkSummary         *LinkSummary `json:"link_summary,omitempty"`
	FullText            *string      `json:"full_text"`
}

type metadataDoc struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Keywords    *string `json:"keywords"`
	Author      *string `json:"author"`
}

// Collector runs the fetch, extract, store pipeline for single pages.
type Collector struct {
	fetcher     Fetcher
	writer      Writer
	previewLen  int
	sampleLinks int
	logger      *zap.Logger
	now         func() time.Time
}

// Option customizes a Collector.
type Option func(*Collector)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(c *Collector) { c.now = now }
}

// New returns a Collector. writer may be nil when nothing is stored.
func New(fetcher Fetcher, writer Writer, cfg config.CollectorConfig, logger *zap.Logger, opts ...Option) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		fetcher:     fetcher,
		writer:      writer,
		previewLen:  cfg.TextPreviewLength,
		sampleLinks: cfg.SampleLinks,
		logger:      logger.Named("collector"),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Collect fetches rawURL and extracts and stores what opts asks for. Any
// failure aborts the run; files written before the failure are kept.
func (c *Collector) Collect(ctx context.Context, rawURL string, opts Options) (*Result, error) {
	if (opts.StoreTabular || opts.StoreStructured) && c.writer == nil {
		return nil, errors.New("collector has no writer configured")
	}

	res := &Result{RunID: uuid.NewString(), URL: rawURL}
	log := c.logger.With(zap.String("run_id", res.RunID), zap.String("url", rawURL))
	log.Info("Starting collection.")

	resp, err := c.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		log.Error("Fetch failed.", zap.Error(err))
		return nil, err
	}
	res.FinalURL = resp.FinalURL
	res.HTTP = HTTPInfo{
		RequestHeaders:  resp.RequestHeaders,
		ResponseHeaders: resp.Headers,
		StatusCode:      resp.StatusCode,
	}

	doc, err := page.ParseBytes(resp.Body)
	if err != nil {
		log.Error("Parse failed.", zap.Error(err))
		return nil, err
	}

	res.Metadata = page.ExtractMetadata(doc)
	res.CollectedAt = c.now()
	stamp := res.CollectedAt.Format(TimestampLayout)

	record := store.Record{}
	for _, f := range res.Metadata.Fields() {
		record = append(record, store.Field{Name: f[0], Value: f[1]})
	}
	record = append(record,
		store.Field{Name: "url", Value: rawURL},
		store.Field{Name: "collection_timestamp", Value: stamp},
	)

	var fullText *string
	if opts.CollectText {
		text := page.ExtractText(doc)
		fullText = &text
		preview := Preview(text, c.previewLen)
		res.TextPreview = &preview
		record = append(record, store.Field{Name: "text_preview", Value: preview})
	}

	if opts.CollectLinks {
		pageURL := resp.FinalURL
		if pageURL == "" {
			pageURL = rawURL
		}
		base, err := page.BaseURL(pageURL)
		if err != nil {
			return nil, fmt.Errorf("derive base url: %w", err)
		}
		links, err := page.ExtractLinks(doc, base)
		if err != nil {
			return nil, fmt.Errorf("extract links: %w", err)
		}
		res.Links = links
		if scope, err := NewScope(pageURL); err == nil {
			sum := scope.Summarize(links)
			res.LinkSummary = &sum
		} else {
			log.Debug("No link scope for page.", zap.Error(err))
		}

		sample, err := jsoniter.MarshalToString(firstN(links, c.sampleLinks))
		if err != nil {
			return nil, fmt.Errorf("encode sample links: %w", err)
		}
		record = append(record,
			store.Field{Name: "extracted_links_count", Value: strconv.Itoa(len(links))},
			store.Field{Name: "sample_links", Value: sample},
		)
	}

	if opts.StoreTabular {
		path, err := c.writer.WriteTabular([]store.Record{record}, rawURL)
		if err != nil {
			return nil, err
		}
		res.TabularPath = path
	}

	if opts.StoreStructured {
		out := document{
			URL:                 rawURL,
			CollectionTimestamp: stamp,
			Metadata: metadataDoc{
				Title:       res.Metadata.Title,
				Description: res.Metadata.Description,
				Keywords:    res.Metadata.Keywords,
				Author:      res.Metadata.Author,
			},
			HTTPInfo:    res.HTTP,
			Links:       res.Links,
			LinkSummary: res.LinkSummary,
			FullText:    fullText,
		}
		path, err := c.writer.WriteStructured(out, rawURL)
		if err != nil {
			return nil, err
		}
		res.StructuredPath = path
	}

	log.Info("Collection complete.",
		zap.Int("status", res.HTTP.StatusCode),
		zap.Int("links", len(res.Links)),
		zap.String("tabular", res.TabularPath),
		zap.String("structured", res.StructuredPath),
	)
	return res, nil
}

// Preview returns the first n characters of text followed by "..." when
// text is longer than n. n <= 0 disables truncation.
func Preview(text string, n int) string {
	if n <= 0 || utf8.RuneCountInString(text) <= n {
		return text
	}
	runes := []rune(text)
	return string(runes[:n]) + "..."
}

func firstN(links []string, n int) []string {
	if n < 0 || n >= len(links) {
		if links == nil {
			return []string{}
		}
		return links
	}
	return links[:n]
}
