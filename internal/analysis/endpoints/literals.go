package endpoints

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
)

// ScriptStringLiterals parses JavaScript source and returns the value of
// every plain string literal and substitution-free template string, in
// source order. Syntax errors do not fail the parse; whatever the parser
// recovered is walked.
func ScriptStringLiterals(ctx context.Context, source string) ([]string, error) {
	if strings.TrimSpace(source) == "" {
		return nil, nil
	}

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(javascript.GetLanguage())

	src := []byte(source)
	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("parse script: %w", err)
	}
	defer tree.Close()

	var literals []string
	walkLiterals(tree.RootNode(), src, &literals)
	return literals, nil
}

func walkLiterals(node *sitter.Node, src []byte, out *[]string) {
	if node == nil {
		return
	}
	switch node.Type() {
	case "string":
		*out = append(*out, unquote(node.Content(src)))
		return
	case "template_string":
		if !hasChildOfType(node, "template_substitution") {
			*out = append(*out, unquote(node.Content(src)))
		}
		return
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		walkLiterals(node.Child(i), src, out)
	}
}

func hasChildOfType(node *sitter.Node, typ string) bool {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		if node.NamedChild(i).Type() == typ {
			return true
		}
	}
	return false
}

func unquote(s string) string {
	if len(s) >= 2 {
		switch s[0] {
		case '"', '\'', '`':
			if s[len(s)-1] == s[0] {
				return s[1 : len(s)-1]
			}
		}
	}
	return s
}
