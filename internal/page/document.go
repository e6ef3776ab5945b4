// Package page turns raw HTML into a queryable document and pulls the
// metadata, links and visible text out of it.
package page

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// ParseError reports markup that could not be read into a document.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string { return fmt.Sprintf("parse html: %v", e.Err) }
func (e *ParseError) Unwrap() error { return e.Err }

// Document is a read-only view over a parsed HTML tree.
type Document struct {
	doc *goquery.Document
}

// Node is a single element inside a Document.
type Node struct {
	sel *goquery.Selection
}

// Predicate filters nodes during Find. A nil predicate matches everything.
type Predicate func(Node) bool

// Parse reads an HTML document. The tokenizer is lenient, so only read
// failures surface as a *ParseError.
func Parse(r io.Reader) (*Document, error) {
	if r == nil {
		return nil, &ParseError{Err: fmt.Errorf("nil reader")}
	}
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, &ParseError{Err: err}
	}
	return &Document{doc: doc}, nil
}

// ParseBytes is Parse over an in-memory body.
func ParseBytes(body []byte) (*Document, error) {
	return Parse(bytes.NewReader(body))
}

// Find returns the elements named tag, in document order, that satisfy match.
func (d *Document) Find(tag string, match Predicate) []Node {
	return collect(d.doc.Find(tag), match)
}

// First returns the first element named tag.
func (d *Document) First(tag string) (Node, bool) {
	sel := d.doc.Find(tag).First()
	if sel.Length() == 0 {
		return Node{}, false
	}
	return Node{sel: sel}, true
}

// InlineScripts returns the bodies of every <script> element that carries no
// src attribute, in document order.
func (d *Document) InlineScripts() []string {
	var scripts []string
	d.doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		if _, external := s.Attr("src"); external {
			return
		}
		if body := s.Text(); strings.TrimSpace(body) != "" {
			scripts = append(scripts, body)
		}
	})
	return scripts
}

// VisibleText returns the text content with script and style elements
// removed. Each text node is whitespace-collapsed and nodes are joined by a
// single space. The document itself is left untouched.
func (d *Document) VisibleText() string {
	clone := d.doc.Selection.Clone()
	clone.Find("script, style").Remove()

	var parts []string
	for _, n := range clone.Nodes {
		collectText(n, &parts)
	}
	return strings.Join(parts, " ")
}

func collectText(n *html.Node, parts *[]string) {
	if n.Type == html.TextNode {
		if t := strings.Join(strings.Fields(n.Data), " "); t != "" {
			*parts = append(*parts, t)
		}
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, parts)
	}
}

// Attr returns the named attribute and whether it is present.
func (n Node) Attr(name string) (string, bool) {
	if n.sel == nil {
		return "", false
	}
	return n.sel.Attr(name)
}

// AttrOr returns the named attribute or def when absent.
func (n Node) AttrOr(name, def string) string {
	if v, ok := n.Attr(name); ok {
		return v
	}
	return def
}

// Text returns the combined text of the node and its descendants.
func (n Node) Text() string {
	if n.sel == nil {
		return ""
	}
	return n.sel.Text()
}

// Find searches the node's descendants.
func (n Node) Find(tag string, match Predicate) []Node {
	if n.sel == nil {
		return nil
	}
	return collect(n.sel.Find(tag), match)
}

func collect(sel *goquery.Selection, match Predicate) []Node {
	nodes := make([]Node, 0, sel.Length())
	sel.Each(func(_ int, s *goquery.Selection) {
		n := Node{sel: s}
		if match == nil || match(n) {
			nodes = append(nodes, n)
		}
	})
	return nodes
}

// HasAttr matches nodes carrying the attribute, whatever its value.
func HasAttr(name string) Predicate {
	return func(n Node) bool {
		_, ok := n.Attr(name)
		return ok
	}
}

// AttrEqualFold matches nodes whose attribute equals value, ignoring case.
func AttrEqualFold(name, value string) Predicate {
	return func(n Node) bool {
		v, ok := n.Attr(name)
		return ok && strings.EqualFold(strings.TrimSpace(v), value)
	}
}
