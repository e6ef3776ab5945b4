// Package sitemap arranges the same-origin links of a page into a tree
// keyed by path segment.
package sitemap

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/siteprobe-cli/internal/analysis/core"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	// PageLeaf is how a path that is only a page serializes.
	PageLeaf = "[page]"
	// PageMarker flags a node that is both a page and a prefix of deeper pages.
	PageMarker = "[page_marker]"
)

// ErrNoBaseURL is returned when there is no origin to filter against.
var ErrNoBaseURL = errors.New("base url is required for site structure mapping")

// Node is one path segment. Page is set when the path ending at this
// segment was itself linked.
type Node struct {
	Page     bool
	Children Tree
}

// Tree maps a path segment to its node.
type Tree map[string]*Node

// IsLeaf reports whether the node is a page with nothing beneath it.
func (n *Node) IsLeaf() bool { return len(n.Children) == 0 }

// MarshalJSON renders a leaf as "[page]" and an inner node as an object of
// its children, with "[page_marker]": true when it is also a page.
func (n *Node) MarshalJSON() ([]byte, error) {
	if n.IsLeaf() {
		return json.Marshal(PageLeaf)
	}
	obj := make(map[string]interface{}, len(n.Children)+1)
	for k, v := range n.Children {
		obj[k] = v
	}
	if n.Page {
		obj[PageMarker] = true
	}
	return json.Marshal(obj)
}

// Keys returns the segment names in lexical order.
func (t Tree) Keys() []string {
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Insert adds one page path. The result does not depend on insertion order:
// a page that later gains children keeps its Page flag.
func (t Tree) Insert(segments []string) {
	if len(segments) == 0 {
		return
	}
	current := t
	for i, seg := range segments {
		node, ok := current[seg]
		if !ok {
			node = &Node{}
			current[seg] = node
		}
		if i == len(segments)-1 {
			node.Page = true
			return
		}
		if node.Children == nil {
			node.Children = make(Tree)
		}
		current = node.Children
	}
}

// Mapper builds site trees.
type Mapper struct {
	core.BaseAnalyzer
}

// New returns a Mapper.
func New(logger *zap.Logger) *Mapper {
	return &Mapper{BaseAnalyzer: *core.NewBaseAnalyzer("sitemap", "Maps same-origin links by path segment", core.TypePassive, logger)}
}

// Map keeps the links sharing the scheme and host of baseURL and inserts
// their paths into a Tree. Root and empty paths are ignored; exactly one
// trailing slash is stripped. Links that cannot be parsed are logged and
// skipped.
func (m *Mapper) Map(links []string, baseURL string) (Tree, error) {
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

	tree := make(Tree)
	for _, link := range links {
		u, err := url.Parse(link)
		if err != nil {
			m.Logger.Warn("Skipping malformed link.", zap.String("link", link), zap.Error(err))
			continue
		}
		if !sameOrigin(base, u) {
			continue
		}
		// Escaped so an encoded slash stays inside its segment.
		if segments := Segments(u.EscapedPath()); len(segments) > 0 {
			tree.Insert(segments)
		}
	}
	m.Logger.Debug("Site structure mapped.", zap.String("base_url", baseURL), zap.Int("top_level", len(tree)))
	return tree, nil
}

// Segments normalizes a path by removing one trailing slash and splits it
// into its non-empty segments. The root path yields none.
func Segments(path string) []string {
	if path == "" || path == "/" {
		return nil
	}
	path = strings.TrimSuffix(path, "/")
	var segments []string
	for _, s := range strings.Split(path, "/") {
		if s != "" {
			segments = append(segments, s)
		}
	}
	return segments
}

func sameOrigin(base, u *url.URL) bool {
	return strings.EqualFold(base.Scheme, u.Scheme) && strings.EqualFold(base.Host, u.Host)
}
