package page

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Metadata holds the descriptive fields of a page. A nil field means the
// page does not declare it.
type Metadata struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Keywords    *string `json:"keywords,omitempty"`
	Author      *string `json:"author,omitempty"`
}

// metaNames are the <meta name=...> tags copied into Metadata.
var metaNames = []string{"description", "keywords", "author"}

// excludedSchemes are href prefixes that never point at a page.
var excludedSchemes = []string{"mailto:", "tel:", "javascript:"}

// ExtractMetadata reads the first <title> and the description, keywords and
// author meta tags. Values are trimmed; blank values count as absent.
func ExtractMetadata(doc *Document) Metadata {
	var md Metadata
	if title, ok := doc.First("title"); ok {
		md.Title = nonEmpty(title.Text())
	}

	for _, name := range metaNames {
		tags := doc.Find("meta", AttrEqualFold("name", name))
		if len(tags) == 0 {
			continue
		}
		content, _ := tags[0].Attr("content")
		value := nonEmpty(content)
		switch name {
		case "description":
			md.Description = value
		case "keywords":
			md.Keywords = value
		case "author":
			md.Author = value
		}
	}
	return md
}

// Fields flattens the metadata into ordered name/value pairs with empty
// strings for absent fields.
func (m Metadata) Fields() [][2]string {
	return [][2]string{
		{"title", deref(m.Title)},
		{"description", deref(m.Description)},
		{"keywords", deref(m.Keywords)},
		{"author", deref(m.Author)},
	}
}

// ExtractLinks resolves every anchor href against baseURL and returns the
// distinct http(s) results in sorted order. mailto:, tel: and javascript:
// hrefs are skipped, as are hrefs that do not parse.
func ExtractLinks(doc *Document, baseURL string) ([]string, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url %q: %w", baseURL, err)
	}

	seen := make(map[string]struct{})
	for _, a := range doc.Find("a", HasAttr("href")) {
		href, _ := a.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || hasExcludedScheme(href) {
			continue
		}
		ref, err := url.Parse(href)
		if err != nil {
			continue
		}
		abs := base.ResolveReference(ref)
		if abs.Scheme != "http" && abs.Scheme != "https" {
			continue
		}
		seen[abs.String()] = struct{}{}
	}

	links := make([]string, 0, len(seen))
	for l := range seen {
		links = append(links, l)
	}
	sort.Strings(links)
	return links, nil
}

// ExtractText returns the visible text of the document.
func ExtractText(doc *Document) string {
	return doc.VisibleText()
}

// BaseURL reduces a page address to scheme://host, the base that relative
// links are resolved against.
func BaseURL(pageURL string) (string, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("url %q is not absolute", pageURL)
	}
	return u.Scheme + "://" + u.Host, nil
}

func hasExcludedScheme(href string) bool {
	lower := strings.ToLower(href)
	for _, prefix := range excludedSchemes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

func nonEmpty(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
