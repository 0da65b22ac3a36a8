package codevalidator

import (
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// deniedPythonIdentifiers are builtins whose mere reference as a call
// target is refused, regardless of what they are called with.
var deniedPythonIdentifiers = map[string]bool{
	"eval":       true,
	"exec":       true,
	"compile":    true,
	"__import__": true,
}

// deniedPythonModules are modules whose import, or whose attribute access
// without an explicit import, is refused.
var deniedPythonModules = map[string]bool{
	"os":             true,
	"subprocess":     true,
	"socket":         true,
	"shutil":         true,
	"ctypes":         true,
	"multiprocessing": true,
	"sys":            true,
}

type pythonAnalyzer struct {
	lang *sitter.Language
}

func newPythonAnalyzer() *pythonAnalyzer {
	return &pythonAnalyzer{lang: python.GetLanguage()}
}

func (a *pythonAnalyzer) Analyze(source []byte) Result {
	root, reason, ok := parse(a.lang, source)
	if !ok {
		return reject(reason)
	}

	var violation string
	walk(root, func(n *sitter.Node) bool {
		if violation != "" {
			return false
		}

		switch n.Type() {
		case "call":
			if r := a.checkCall(n, source); r != "" {
				violation = r
				return false
			}
		case "import_statement":
			if r := a.checkImport(n, source); r != "" {
				violation = r
				return false
			}
		case "import_from_statement":
			if r := a.checkImportFrom(n, source); r != "" {
				violation = r
				return false
			}
		case "attribute":
			if r := a.checkAttribute(n, source); r != "" {
				violation = r
				return false
			}
		}
		return true
	})

	if violation != "" {
		return reject(violation)
	}
	return accept()
}

func (a *pythonAnalyzer) checkCall(n *sitter.Node, source []byte) string {
	fn := n.ChildByFieldName("function")
	if fn == nil {
		return ""
	}

	if fn.Type() == "identifier" {
		name := text(fn, source)
		if deniedPythonIdentifiers[name] {
			return identifierDenied(name, line(n))
		}
		if name == "open" {
			if isWriteOpen(n, source) {
				return constructDenied("use of \"open\" with a write mode", line(n))
			}
		}
	}
	return ""
}

// isWriteOpen reports whether a call to open() carries a write-capable
// mode, either positionally or via a mode= keyword argument.
func isWriteOpen(call *sitter.Node, source []byte) bool {
	args := call.ChildByFieldName("arguments")
	if args == nil {
		return false
	}

	for i := 0; i < int(args.NamedChildCount()); i++ {
		arg := args.NamedChild(i)
		var modeNode *sitter.Node
		switch arg.Type() {
		case "string":
			if i == 1 {
				modeNode = arg
			}
		case "keyword_argument":
			nameNode := arg.ChildByFieldName("name")
			if nameNode != nil && text(nameNode, source) == "mode" {
				modeNode = arg.ChildByFieldName("value")
			}
		}
		if modeNode == nil {
			continue
		}
		mode := text(modeNode, source)
		if strings.ContainsAny(mode, "waxW+") {
			return true
		}
	}
	return false
}

func (a *pythonAnalyzer) checkImport(n *sitter.Node, source []byte) string {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		name := firstDottedSegment(child, source)
		if deniedPythonModules[name] {
			return moduleDenied(name, line(n))
		}
	}
	return ""
}

func (a *pythonAnalyzer) checkImportFrom(n *sitter.Node, source []byte) string {
	moduleNode := n.ChildByFieldName("module_name")
	name := firstDottedSegment(moduleNode, source)
	if deniedPythonModules[name] {
		return moduleDenied(name, line(n))
	}
	return ""
}

func (a *pythonAnalyzer) checkAttribute(n *sitter.Node, source []byte) string {
	obj := n.ChildByFieldName("object")
	if obj == nil || obj.Type() != "identifier" {
		return ""
	}
	name := text(obj, source)
	if deniedPythonModules[name] {
		return constructDenied(fmt.Sprintf("attribute access on blocked module %q", name), line(n))
	}
	return ""
}

// firstDottedSegment returns the leading identifier of a dotted_name or
// aliased_import node, e.g. "os" from "os.path" or "os as theos".
func firstDottedSegment(n *sitter.Node, source []byte) string {
	if n == nil {
		return ""
	}
	switch n.Type() {
	case "dotted_name":
		if n.NamedChildCount() > 0 {
			return text(n.NamedChild(0), source)
		}
	case "aliased_import":
		return firstDottedSegment(n.ChildByFieldName("name"), source)
	case "identifier":
		return text(n, source)
	}
	return text(n, source)
}
