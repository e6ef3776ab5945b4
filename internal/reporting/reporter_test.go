package reporting

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/siteprobe-cli/internal/analysis"
	"github.com/xkilldash9x/siteprobe-cli/internal/analysis/auth"
	"github.com/xkilldash9x/siteprobe-cli/internal/analysis/core"
	"github.com/xkilldash9x/siteprobe-cli/internal/analysis/sitemap"
	"github.com/xkilldash9x/siteprobe-cli/internal/analysis/techstack"
	"github.com/xkilldash9x/siteprobe-cli/internal/collector"
	"github.com/xkilldash9x/siteprobe-cli/internal/keyring"
	"github.com/xkilldash9x/siteprobe-cli/internal/page"
)

// bufferCloser records whether Close was called.
type bufferCloser struct {
	bytes.Buffer
	closed bool
}

func (b *bufferCloser) Close() error {
	b.closed = true
	return nil
}

func strPtr(s string) *string { return &s }

func sampleReport() *analysis.Report {
	tree := sitemap.Tree{}
	tree.Insert([]string{"users"})
	tree.Insert([]string{"users", "profile"})

	missingFrame := core.NewObservation("security_headers", "Missing X-Frame-Options header", core.SeverityMedium,
		"CWE-1021", "The response does not restrict framing.", "", "Set X-Frame-Options to DENY.")
	banner := core.NewObservation("security_headers", "Server version disclosed", core.SeverityLow,
		"CWE-200", "The Server header names the software.", "server: nginx/1.25", "Remove version details.")

	return &analysis.Report{
		ID:           "run-1",
		URL:          "https://shop.example/",
		BaseURL:      "https://shop.example",
		AnalyzedAt:   time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		Technologies: core.Outcome[techstack.Technologies]{Value: techstack.Technologies{"Web servers": {"Nginx"}}},
		Authentication: core.Outcome[auth.Assessment]{Value: auth.Assessment{
			LoginFormsFound: true,
			FormDetails:     []auth.Form{{Action: "/login", Method: "post"}},
		}},
		APIEndpoints:    core.Outcome[[]string]{Value: []string{"https://shop.example/api/v2/data"}},
		SiteStructure:   core.Outcome[sitemap.Tree]{Value: tree},
		SecurityHeaders: core.Outcome[[]core.Observation]{Value: []core.Observation{missingFrame, banner, missingFrame}},
	}
}

func TestNew(t *testing.T) {
	logger := zaptest.NewLogger(t)

	t.Run("unsupported format", func(t *testing.T) {
		_, err := New("yaml", "", "1.0", logger)
		assert.ErrorContains(t, err, "unsupported output format: yaml")
	})

	t.Run("stdout is never closed", func(t *testing.T) {
		r, err := New("JSON", "stdout", "1.0", logger)
		require.NoError(t, err)
		assert.IsType(t, &JSONReporter{}, r)
		assert.NoError(t, r.Close())
	})

	t.Run("file output", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "keys.json")
		r, err := New(FormatJSON, path, "1.0", logger)
		require.NoError(t, err)
		require.NoError(t, r.WriteKeys(nil))
		require.NoError(t, r.Close())

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "[]\n", string(data))
	})

	t.Run("uncreatable file", func(t *testing.T) {
		_, err := New(FormatText, filepath.Join(t.TempDir(), "missing", "out.txt"), "1.0", logger)
		assert.ErrorContains(t, err, "failed to create output file")
	})
}

func TestJSONReporter(t *testing.T) {
	out := &bufferCloser{}
	r, err := NewWithWriter(FormatJSON, out, "1.0", zaptest.NewLogger(t))
	require.NoError(t, err)

	report := sampleReport()
	report.Technologies = core.Skipped[techstack.Technologies]("technologies")
	require.NoError(t, r.WriteAnalysis(report))
	require.NoError(t, r.Close())
	assert.True(t, out.closed)

	var decoded map[string]interface{}
	require.NoError(t, jsoniter.Unmarshal(out.Bytes(), &decoded))
	assert.Equal(t, map[string]interface{}{"error": "technologies: disabled by configuration"}, decoded["technologies"])
	assert.Equal(t, []interface{}{"https://shop.example/api/v2/data"}, decoded["api_endpoints"])
	assert.Contains(t, out.String(), "\n    \"id\": \"run-1\"")
}

func TestTextReporter(t *testing.T) {
	t.Run("analysis", func(t *testing.T) {
		out := &bufferCloser{}
		r, err := NewWithWriter(FormatText, out, "1.0", nil)
		require.NoError(t, err)

		report := sampleReport()
		report.APIEndpoints = core.Outcome[[]string]{Err: errors.New("api_endpoints: base url is required")}
		require.NoError(t, r.WriteAnalysis(report))

		text := out.String()
		assert.Contains(t, text, "Analysis of https://shop.example/")
		assert.Contains(t, text, "  Web servers: Nginx\n")
		assert.Contains(t, text, "  login forms:          yes (1)\n")
		assert.Contains(t, text, "API endpoints\n  error: api_endpoints: base url is required\n")
		assert.Contains(t, text, "  users (page)\n    profile\n")
		assert.Contains(t, text, "  [MEDIUM] Missing X-Frame-Options header\n")
	})

	t.Run("collection", func(t *testing.T) {
		out := &bufferCloser{}
		r, err := NewWithWriter(FormatText, out, "1.0", nil)
		require.NoError(t, err)

		result := &collector.Result{
			URL:         "http://shop.example/start",
			FinalURL:    "http://shop.example/shop",
			Metadata:    page.Metadata{Title: strPtr("Shop")},
			TextPreview: strPtr("Welcome..."),
			Links:       []string{"http://shop.example/about"},
			LinkSummary: &collector.LinkSummary{RootDomain: "shop.example", Internal: 1},
			HTTP:        collector.HTTPInfo{StatusCode: 200},
			TabularPath: "/tmp/out.csv",
		}
		require.NoError(t, r.WriteCollection(result))

		text := out.String()
		assert.Contains(t, text, "  final url:   http://shop.example/shop\n")
		assert.Contains(t, text, "  title:       Shop\n")
		assert.NotContains(t, text, "author:")
		assert.Contains(t, text, "    1 internal, 0 external to shop.example\n")
		assert.Contains(t, text, "  saved:       /tmp/out.csv\n")
	})

	t.Run("keys", func(t *testing.T) {
		out := &bufferCloser{}
		r, err := NewWithWriter(FormatText, out, "1.0", nil)
		require.NoError(t, err)

		require.NoError(t, r.WriteKeys(nil))
		assert.Equal(t, "No keys found.\n", out.String())

		out.Reset()
		require.NoError(t, r.WriteKeys([]keyring.KeyRecord{{
			Fingerprint: "ABCDEF0123456789ABCDEF0123456789ABCDEF01",
			KeyID:       "89ABCDEF01",
			Algorithm:   "rsa",
			Length:      3072,
			CreatedAt:   time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC),
			UserIDs:     []string{"Ada <ada@example.com>"},
			Secret:      true,
		}}))
		assert.Contains(t, out.String(), "sec  rsa3072/89ABCDEF01 2024-05-06\n")
		assert.Contains(t, out.String(), "uid   Ada <ada@example.com>\n")
	})
}

func TestSARIFReporter(t *testing.T) {
	out := &bufferCloser{}
	r := NewSARIFReporter(out, "1.2.3", zaptest.NewLogger(t))

	report := sampleReport()
	require.NoError(t, r.WriteAnalysis(report))
	require.NoError(t, r.Close())
	assert.True(t, out.closed)

	var log struct {
		Version string `json:"version"`
		Runs    []struct {
			Tool struct {
				Driver struct {
					Name    string `json:"name"`
					Version string `json:"version"`
					Rules   []struct {
						ID         string                 `json:"id"`
						Properties map[string]interface{} `json:"properties"`
					} `json:"rules"`
				} `json:"driver"`
			} `json:"tool"`
			Invocations []struct {
				ExecutionSuccessful bool `json:"executionSuccessful"`
			} `json:"invocations"`
			Results []struct {
				RuleID string `json:"ruleId"`
				Level  string `json:"level"`
			} `json:"results"`
		} `json:"runs"`
	}
	require.NoError(t, jsoniter.Unmarshal(out.Bytes(), &log))
	require.Len(t, log.Runs, 1)
	run := log.Runs[0]

	assert.Equal(t, "2.1.0", log.Version)
	assert.Equal(t, "1.2.3", run.Tool.Driver.Version)
	require.Len(t, run.Tool.Driver.Rules, 2, "identical observations share a rule")
	assert.Equal(t, "SITEPROBE-MISSING-X-FRAME-OPTIONS-HEADER", run.Tool.Driver.Rules[0].ID)
	assert.Equal(t, []interface{}{"CWE-1021"}, run.Tool.Driver.Rules[0].Properties["CWE"])

	require.Len(t, run.Results, 3)
	assert.Equal(t, "warning", run.Results[0].Level)
	assert.Equal(t, "SITEPROBE-SERVER-VERSION-DISCLOSED", run.Results[1].RuleID)
	assert.Equal(t, "note", run.Results[1].Level)
	require.Len(t, run.Invocations, 1)
	assert.True(t, run.Invocations[0].ExecutionSuccessful)
}

func TestSARIFReporterRules(t *testing.T) {
	r := NewSARIFReporter(&bufferCloser{}, "dev", nil)

	first := core.Observation{Title: "Weak token", Description: "alg none"}
	second := core.Observation{Title: "Weak token", Description: "short key"}

	assert.Equal(t, "SITEPROBE-WEAK-TOKEN", r.ensureRule(first))
	assert.Equal(t, "SITEPROBE-WEAK-TOKEN-1", r.ensureRule(second))
	assert.Equal(t, "SITEPROBE-WEAK-TOKEN", r.ensureRule(first))

	assert.Equal(t, "UNNAMED-OBSERVATION", sanitizeRuleName(""))
	assert.Equal(t, "UNKNOWN-OBSERVATION", sanitizeRuleName("!!!"))
	assert.Equal(t, "A-B_C.D", sanitizeRuleName("a - b_c.d"))

	assert.ErrorIs(t, r.WriteCollection(&collector.Result{}), ErrUnsupported)
	assert.ErrorIs(t, r.WriteKeys(nil), ErrUnsupported)
}
