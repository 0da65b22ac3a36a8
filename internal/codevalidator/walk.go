package codevalidator

import (
	"context"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"
)

// parse parses source with lang and returns its root node, or a syntax
// error reason formatted the way every analyzer in this package reports
// one: "syntax error at line N".
func parse(lang *sitter.Language, source []byte) (*sitter.Node, string, bool) {
	parser := sitter.NewParser()
	parser.SetLanguage(lang)

	tree, err := parser.ParseCtx(context.Background(), nil, source)
	if err != nil {
		return nil, "syntax error at line 1", false
	}

	root := tree.RootNode()
	if root.HasError() {
		line := firstErrorLine(root)
		return nil, fmt.Sprintf("syntax error at line %d", line), false
	}

	return root, "", true
}

// firstErrorLine walks the tree for the first ERROR or MISSING node and
// returns its 1-indexed source line.
func firstErrorLine(root *sitter.Node) int {
	line := 1
	found := false
	walk(root, func(n *sitter.Node) bool {
		if found {
			return false
		}
		if n.IsError() || n.IsMissing() {
			line = int(n.StartPoint().Row) + 1
			found = true
			return false
		}
		return true
	})
	return line
}

// walk visits every node in the tree in pre-order, depth first. fn returns
// whether walk should descend into the node's children; returning false
// skips only that node's subtree, and its siblings are still visited. The
// callers in this package end a walk early by recording the first match in
// a captured variable and returning false for every node after it.
func walk(n *sitter.Node, fn func(*sitter.Node) bool) {
	if n == nil {
		return
	}
	if !fn(n) {
		return
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		walk(n.Child(i), fn)
	}
}

// text extracts a node's source fragment.
func text(n *sitter.Node, source []byte) string {
	if n == nil {
		return ""
	}
	return n.Content(source)
}

// line returns a node's 1-indexed source line, for error messages.
func line(n *sitter.Node) int {
	return int(n.StartPoint().Row) + 1
}
