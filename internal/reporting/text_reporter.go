package reporting

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/xkilldash9x/siteprobe-cli/internal/analysis"
	"github.com/xkilldash9x/siteprobe-cli/internal/analysis/sitemap"
	"github.com/xkilldash9x/siteprobe-cli/internal/collector"
	"github.com/xkilldash9x/siteprobe-cli/internal/keyring"
)

// TextReporter renders results as a plain summary for a terminal.
type TextReporter struct {
	writer io.WriteCloser
}

func (r *TextReporter) WriteAnalysis(report *analysis.Report) error {
	w := bufio.NewWriter(r.writer)
	fmt.Fprintf(w, "Analysis of %s\n", report.URL)
	fmt.Fprintf(w, "  base url:    %s\n", report.BaseURL)
	fmt.Fprintf(w, "  analyzed at: %s\n\n", report.AnalyzedAt.Format(time.RFC3339))

	section(w, "Technologies", report.Technologies.Error(), func() {
		techs := report.Technologies.Value
		if len(techs) == 0 {
			fmt.Fprintln(w, "  none identified")
			return
		}
		categories := make([]string, 0, len(techs))
		for c := range techs {
			categories = append(categories, c)
		}
		sort.Strings(categories)
		for _, c := range categories {
			fmt.Fprintf(w, "  %s: %s\n", c, strings.Join(techs[c], ", "))
		}
	})

	section(w, "Authentication", report.Authentication.Error(), func() {
		a := report.Authentication.Value
		fmt.Fprintf(w, "  login forms:          %s (%d)\n", yesNo(a.LoginFormsFound), len(a.FormDetails))
		fmt.Fprintf(w, "  cookies used:         %s\n", yesNo(a.CookiesUsed))
		fmt.Fprintf(w, "  session cookies:      %s\n", yesNo(a.SessionCookiesLikely))
		fmt.Fprintf(w, "  http auth headers:    %s\n", yesNo(a.HTTPAuthHeadersPresent))
		if a.AuthHeaderDetails != nil {
			fmt.Fprintf(w, "    %s\n", *a.AuthHeaderDetails)
		}
		fmt.Fprintf(w, "  jwt likely:           %s\n", yesNo(a.JWTLikely))
		if a.Token != nil {
			fmt.Fprintf(w, "    alg=%s claims=%s\n", a.Token.Algorithm, strings.Join(a.Token.ClaimNames, ","))
		}
	})

	section(w, "API endpoints", report.APIEndpoints.Error(), func() {
		if len(report.APIEndpoints.Value) == 0 {
			fmt.Fprintln(w, "  none found")
			return
		}
		for _, e := range report.APIEndpoints.Value {
			fmt.Fprintf(w, "  %s\n", e)
		}
	})

	section(w, "Site structure", report.SiteStructure.Error(), func() {
		if len(report.SiteStructure.Value) == 0 {
			fmt.Fprintln(w, "  no internal links")
			return
		}
		writeTree(w, report.SiteStructure.Value, 1)
	})

	section(w, "Security headers", report.SecurityHeaders.Error(), func() {
		if len(report.SecurityHeaders.Value) == 0 {
			fmt.Fprintln(w, "  no issues")
			return
		}
		for _, o := range report.SecurityHeaders.Value {
			fmt.Fprintf(w, "  [%s] %s\n", strings.ToUpper(string(o.Severity)), o.Title)
		}
	})
	return w.Flush()
}

func (r *TextReporter) WriteCollection(result *collector.Result) error {
	w := bufio.NewWriter(r.writer)
	fmt.Fprintf(w, "Collected %s\n", result.URL)
	if result.FinalURL != "" && result.FinalURL != result.URL {
		fmt.Fprintf(w, "  final url:   %s\n", result.FinalURL)
	}
	fmt.Fprintf(w, "  status:      %d\n", result.HTTP.StatusCode)
	for _, f := range result.Metadata.Fields() {
		if f[1] != "" {
			fmt.Fprintf(w, "  %-12s %s\n", f[0]+":", f[1])
		}
	}
	fmt.Fprintf(w, "  links:       %d\n", len(result.Links))
	if s := result.LinkSummary; s != nil {
		fmt.Fprintf(w, "    %d internal, %d external to %s\n", s.Internal, s.External, s.RootDomain)
	}
	if result.TextPreview != nil {
		fmt.Fprintf(w, "  preview:     %s\n", *result.TextPreview)
	}
	if result.TabularPath != "" {
		fmt.Fprintf(w, "  saved:       %s\n", result.TabularPath)
	}
	if result.StructuredPath != "" {
		fmt.Fprintf(w, "  saved:       %s\n", result.StructuredPath)
	}
	return w.Flush()
}

func (r *TextReporter) WriteKeys(keys []keyring.KeyRecord) error {
	w := bufio.NewWriter(r.writer)
	if len(keys) == 0 {
		fmt.Fprintln(w, "No keys found.")
		return w.Flush()
	}
	for _, k := range keys {
		kind := "pub"
		if k.Secret {
			kind = "sec"
		}
		fmt.Fprintf(w, "%s  %s%d/%s %s", kind, k.Algorithm, k.Length, k.KeyID, k.CreatedAt.Format("2006-01-02"))
		if k.ExpiresAt != nil {
			fmt.Fprintf(w, " [expires: %s]", k.ExpiresAt.Format("2006-01-02"))
		}
		fmt.Fprintf(w, "\n      %s\n", k.Fingerprint)
		for _, uid := range k.UserIDs {
			fmt.Fprintf(w, "uid   %s\n", uid)
		}
		fmt.Fprintln(w)
	}
	return w.Flush()
}

func (r *TextReporter) Close() error { return r.writer.Close() }

func section(w io.Writer, title, errText string, body func()) {
	fmt.Fprintf(w, "%s\n", title)
	if errText != "" {
		fmt.Fprintf(w, "  error: %s\n\n", errText)
		return
	}
	body()
	fmt.Fprintln(w)
}

// writeTree prints one segment per line, indented by depth. Inner segments
// that are also pages are marked.
func writeTree(w io.Writer, tree sitemap.Tree, depth int) {
	for _, key := range tree.Keys() {
		node := tree[key]
		marker := ""
		if !node.IsLeaf() && node.Page {
			marker = " (page)"
		}
		fmt.Fprintf(w, "%s%s%s\n", strings.Repeat("  ", depth), key, marker)
		if !node.IsLeaf() {
			writeTree(w, node.Children, depth+1)
		}
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
