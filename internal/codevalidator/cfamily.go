package codevalidator

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// deniedCHeaders are headers whose inclusion alone is refused, independent
// of whether anything from them is actually used.
var deniedCHeaders = map[string]bool{
	"unistd.h":       true,
	"sys/socket.h":   true,
	"sys/ptrace.h":   true,
	"netinet/in.h":   true,
	"arpa/inet.h":    true,
	"netdb.h":        true,
	"sys/un.h":       true,
}

// deniedCCalls are function names refused as call targets. isExecFamily
// covers the exec family (execl, execve, execvp, ...).
var deniedCCalls = map[string]bool{
	"system": true,
	"fork":   true,
	"popen":  true,
	"socket": true,
	"ptrace": true,
}

func isExecFamily(name string) bool {
	return strings.HasPrefix(name, "exec") && len(name) > len("exec")
}

// cFamilyAnalyzer implements the shared C/C++ denylist: both grammars use
// the same node type names for includes and calls, so one walker serves
// both languages.
type cFamilyAnalyzer struct {
	lang *sitter.Language
}

func (a cFamilyAnalyzer) Analyze(source []byte) Result {
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
		case "preproc_include":
			if r := checkInclude(n, source); r != "" {
				violation = r
				return false
			}
		case "call_expression":
			if r := checkCCall(n, source); r != "" {
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

func checkInclude(n *sitter.Node, source []byte) string {
	pathNode := n.ChildByFieldName("path")
	if pathNode == nil {
		return ""
	}
	header := strings.Trim(text(pathNode, source), "<>\"")
	if deniedCHeaders[header] {
		return headerDenied(header, line(n))
	}
	return ""
}

func checkCCall(n *sitter.Node, source []byte) string {
	fn := n.ChildByFieldName("function")
	if fn == nil || fn.Type() != "identifier" {
		return ""
	}
	name := text(fn, source)

	if deniedCCalls[name] || isExecFamily(name) {
		return callDenied(name, line(n))
	}

	if name == "mmap" {
		args := n.ChildByFieldName("arguments")
		if args != nil && strings.Contains(text(args, source), "PROT_EXEC") {
			return callDenied("mmap with an executable mapping", line(n))
		}
	}

	return ""
}
