package collector

import (
	"context"
	"encoding/csv"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/siteprobe-cli/internal/config"
	"github.com/xkilldash9x/siteprobe-cli/internal/network"
	"github.com/xkilldash9x/siteprobe-cli/internal/store"
)

const pageHTML = `<html><head>
<title> Example Shop </title>
<meta name="Description" content="Things for sale">
<meta name="author" content="">
</head><body>
<p>Welcome to the shop.</p>
<script>var hidden = 1;</script>
<a href="/about">About</a>
<a href="/about">About again</a>
<a href="https://cdn.example.org/asset">CDN</a>
<a href="mailto:owner@example.com">Mail</a>
</body></html>`

func clock() time.Time { return time.Date(2024, 5, 6, 7, 8, 9, 123456000, time.UTC) }

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/shop", http.StatusFound)
	})
	mux.HandleFunc("/shop", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(pageHTML))
	})
	mux.HandleFunc("/gone", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func newCollector(t *testing.T) (*Collector, string) {
	t.Helper()
	cfg := config.NewDefaultConfig()
	dir := t.TempDir()
	st, err := store.New(dir, zap.NewNop(), store.WithClock(clock))
	require.NoError(t, err)
	return New(network.NewFetcher(cfg.Network(), zap.NewNop()), st, cfg.Collector(), zap.NewNop(), WithClock(clock)), dir
}

func TestCollect(t *testing.T) {
	t.Parallel()
	server := newServer(t)
	c, dir := newCollector(t)

	res, err := c.Collect(context.Background(), server.URL+"/start", Options{
		CollectText: true, CollectLinks: true, StoreTabular: true, StoreStructured: true,
	})
	require.NoError(t, err)

	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, server.URL+"/shop", res.FinalURL)
	require.NotNil(t, res.Metadata.Title)
	assert.Equal(t, "Example Shop", *res.Metadata.Title)
	assert.Nil(t, res.Metadata.Author)
	assert.Equal(t, []string{server.URL + "/about", "https://cdn.example.org/asset"}, res.Links)
	require.NotNil(t, res.LinkSummary)
	assert.Equal(t, 1, res.LinkSummary.Internal)
	assert.Equal(t, 1, res.LinkSummary.External)
	require.NotNil(t, res.TextPreview)
	assert.NotContains(t, *res.TextPreview, "hidden")
	assert.Equal(t, http.StatusOK, res.HTTP.StatusCode)

	t.Run("tabular file", func(t *testing.T) {
		assert.True(t, strings.HasPrefix(res.TabularPath, dir))
		f, err := os.Open(res.TabularPath)
		require.NoError(t, err)
		defer f.Close()
		rows, err := csv.NewReader(f).ReadAll()
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, []string{
			"title", "description", "keywords", "author", "url", "collection_timestamp",
			"text_preview", "extracted_links_count", "sample_links",
		}, rows[0])
		assert.Equal(t, "Example Shop", rows[1][0])
		assert.Equal(t, "2024-05-06T07:08:09.123456", rows[1][5])
		assert.Equal(t, "2", rows[1][7])
		assert.JSONEq(t, `["`+server.URL+`/about","https://cdn.example.org/asset"]`, rows[1][8])
	})

	t.Run("structured file", func(t *testing.T) {
		raw, err := os.ReadFile(res.StructuredPath)
		require.NoError(t, err)
		var doc map[string]interface{}
		require.NoError(t, jsoniter.Unmarshal(raw, &doc))

		assert.Equal(t, server.URL+"/start", doc["url"])
		md := doc["metadata"].(map[string]interface{})
		assert.Equal(t, "Things for sale", md["description"])
		assert.Contains(t, md, "author")
		assert.Nil(t, md["author"])
		assert.Contains(t, doc["full_text"], "Welcome to the shop.")
		info := doc["http_info"].(map[string]interface{})
		assert.EqualValues(t, 200, info["status_code"])
		assert.Contains(t, string(raw), "\n    \"", "four space indent")
	})
}

func TestCollect_OptionsOff(t *testing.T) {
	t.Parallel()
	server := newServer(t)
	c, dir := newCollector(t)

	res, err := c.Collect(context.Background(), server.URL+"/shop", Options{})
	require.NoError(t, err)
	assert.Nil(t, res.Links)
	assert.Nil(t, res.TextPreview)
	assert.Empty(t, res.TabularPath)
	assert.Empty(t, res.StructuredPath)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCollect_FetchFailure(t *testing.T) {
	t.Parallel()
	server := newServer(t)
	c, _ := newCollector(t)

	_, err := c.Collect(context.Background(), server.URL+"/gone", Options{StoreTabular: true})
	var fe *network.FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, http.StatusGone, fe.StatusCode)
}

func TestCollect_NoWriter(t *testing.T) {
	t.Parallel()
	c := New(nil, nil, config.CollectorConfig{}, nil)
	_, err := c.Collect(context.Background(), "http://example.com", Options{StoreStructured: true})
	assert.Error(t, err)
}

func TestPreview(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "short", Preview("short", 10))
	assert.Equal(t, "abc...", Preview("abcdef", 3))
	assert.Equal(t, "héé...", Preview("hééllo", 3))
	assert.Equal(t, "abcdef", Preview("abcdef", 0))
	assert.Len(t, []rune(Preview(strings.Repeat("x", 600), 500)), 503)
}

func TestScope(t *testing.T) {
	t.Parallel()

	s, err := NewScope("https://shop.example.co.uk/cart")
	require.NoError(t, err)
	assert.Equal(t, "example.co.uk", s.RootDomain())

	for raw, want := range map[string]bool{
		"https://example.co.uk/":          true,
		"https://static.example.co.uk/x":  true,
		"https://EXAMPLE.co.uk/x":         true,
		"https://notexample.co.uk/x":      false,
		"https://example.co.uk.evil.com/": false,
	} {
		u, err := url.Parse(raw)
		require.NoError(t, err)
		assert.Equal(t, want, s.Contains(u), raw)
	}

	local, err := NewScope("http://127.0.0.1:8080/")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", local.RootDomain())

	_, err = NewScope("/relative")
	assert.Error(t, err)

	sum := s.Summarize([]string{"https://a.example.co.uk/", "https://other.com/", "::bad"})
	assert.Equal(t, LinkSummary{RootDomain: "example.co.uk", Internal: 1, External: 2}, sum)
}
