package codevalidator

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/rust"
)

var deniedRustPathPrefixes = []string{
	"std::process",
	"std::net",
}

var deniedRustFsWriteCalls = map[string]bool{
	"std::fs::write":        true,
	"std::fs::remove_file":  true,
	"std::fs::remove_dir":   true,
	"std::fs::remove_dir_all": true,
	"std::fs::OpenOptions":  true,
}

type rustAnalyzer struct {
	lang *sitter.Language
}

func newRustAnalyzer() *rustAnalyzer {
	return &rustAnalyzer{lang: rust.GetLanguage()}
}

func (a *rustAnalyzer) Analyze(source []byte) Result {
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
		case "unsafe_block":
			violation = constructDenied("\"unsafe\" block", line(n))
			return false
		case "foreign_mod_item":
			violation = constructDenied("\"extern\" block", line(n))
			return false
		case "macro_invocation":
			if r := checkRustMacro(n, source); r != "" {
				violation = r
				return false
			}
		case "scoped_identifier":
			if r := checkRustPath(n, source); r != "" {
				violation = r
				return false
			}
		case "attribute_item":
			if r := checkRustAttribute(n, source); r != "" {
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

func checkRustMacro(n *sitter.Node, source []byte) string {
	macro := n.ChildByFieldName("macro")
	if macro == nil {
		return ""
	}
	if text(macro, source) == "asm" {
		return constructDenied("\"asm!\" macro", line(n))
	}
	return ""
}

func checkRustPath(n *sitter.Node, source []byte) string {
	path := text(n, source)
	for _, prefix := range deniedRustPathPrefixes {
		if strings.HasPrefix(path, prefix) {
			return constructDenied("reference to \""+path+"\"", line(n))
		}
	}
	if deniedRustFsWriteCalls[path] {
		return constructDenied("reference to \""+path+"\"", line(n))
	}
	return ""
}

func checkRustAttribute(n *sitter.Node, source []byte) string {
	content := text(n, source)
	if strings.Contains(content, "no_mangle") || strings.Contains(content, "link") {
		return constructDenied("FFI attribute \""+strings.TrimSpace(content)+"\"", line(n))
	}
	return ""
}
