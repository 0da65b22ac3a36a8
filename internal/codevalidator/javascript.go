package codevalidator

import (
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
)

var deniedJSModules = map[string]bool{
	"fs":             true,
	"child_process":  true,
	"net":            true,
	"dgram":          true,
	"cluster":        true,
	"worker_threads": true,
	"os":             true,
}

var deniedJSConstructed = map[string]bool{
	"Function": true,
}

type javaScriptAnalyzer struct {
	lang *sitter.Language
}

func newJavaScriptAnalyzer() *javaScriptAnalyzer {
	return &javaScriptAnalyzer{lang: javascript.GetLanguage()}
}

func (a *javaScriptAnalyzer) Analyze(source []byte) Result {
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
		case "call_expression":
			if r := a.checkCall(n, source); r != "" {
				violation = r
				return false
			}
		case "new_expression":
			if r := a.checkNew(n, source); r != "" {
				violation = r
				return false
			}
		case "member_expression":
			if r := a.checkMember(n, source); r != "" {
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

func (a *javaScriptAnalyzer) checkCall(n *sitter.Node, source []byte) string {
	fn := n.ChildByFieldName("function")
	if fn == nil {
		return ""
	}

	switch fn.Type() {
	case "identifier":
		name := text(fn, source)
		switch name {
		case "eval":
			return identifierDenied(name, line(n))
		case "Function":
			return constructDenied("calling \"Function\" as a constructor", line(n))
		case "require":
			if r := a.checkRequireArg(n, source); r != "" {
				return r
			}
		}
	case "member_expression":
		obj := fn.ChildByFieldName("object")
		prop := fn.ChildByFieldName("property")
		if obj == nil || prop == nil {
			return ""
		}
		objName, propName := text(obj, source), text(prop, source)
		if objName == "process" && propName == "binding" {
			return callDenied("process.binding", line(n))
		}
		if objName == "Reflect" && propName == "construct" {
			if r := a.checkReflectConstructArg(n, source); r != "" {
				return r
			}
		}
	}
	return ""
}

func (a *javaScriptAnalyzer) checkRequireArg(call *sitter.Node, source []byte) string {
	args := call.ChildByFieldName("arguments")
	if args == nil || args.NamedChildCount() == 0 {
		return ""
	}
	arg := args.NamedChild(0)
	if arg.Type() != "string" {
		return ""
	}
	module := stringLiteralValue(text(arg, source))
	if deniedJSModules[module] {
		return moduleDenied(module, line(call))
	}
	return ""
}

func (a *javaScriptAnalyzer) checkReflectConstructArg(call *sitter.Node, source []byte) string {
	args := call.ChildByFieldName("arguments")
	if args == nil || args.NamedChildCount() == 0 {
		return ""
	}
	arg := args.NamedChild(0)
	if arg.Type() != "identifier" {
		return ""
	}
	name := text(arg, source)
	if deniedJSConstructed[name] {
		return constructDenied("Reflect.construct of \""+name+"\"", line(call))
	}
	return ""
}

func (a *javaScriptAnalyzer) checkNew(n *sitter.Node, source []byte) string {
	ctor := n.ChildByFieldName("constructor")
	if ctor == nil || ctor.Type() != "identifier" {
		return ""
	}
	name := text(ctor, source)
	if deniedJSConstructed[name] {
		return constructDenied("\"new "+name+"\"", line(n))
	}
	return ""
}

func (a *javaScriptAnalyzer) checkMember(n *sitter.Node, source []byte) string {
	obj := n.ChildByFieldName("object")
	prop := n.ChildByFieldName("property")
	if obj == nil || prop == nil {
		return ""
	}
	if obj.Type() == "identifier" && text(obj, source) == "globalThis" && text(prop, source) == "process" {
		return constructDenied("access to \"globalThis.process\"", line(n))
	}
	return ""
}

// stringLiteralValue strips the surrounding quote characters tree-sitter
// leaves on a JS string node's raw text.
func stringLiteralValue(raw string) string {
	if len(raw) >= 2 {
		return raw[1 : len(raw)-1]
	}
	return raw
}
