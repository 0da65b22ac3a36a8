// Package codevalidator approves or rejects a source snippet before any
// subprocess is spawned on its behalf. It is a pure dispatcher keyed by
// language: each language analyzer parses the source to a syntax tree and
// refuses it if a construct on that language's denylist appears anywhere in
// the tree.
//
// The checks here are syntactic, not semantic. A local rename defeats a
// denylist entry by design: the sandbox, not this package, is the actual
// enforcement boundary. This package exists to keep casual misuse out of
// the hot path and to surface obviously disallowed intent before a process
// is ever spawned, not to prove a program safe.
package codevalidator

// Result is the outcome of validating one source snippet.
type Result struct {
	Accepted bool
	Reason   string
}

func accept() Result { return Result{Accepted: true} }

func reject(reason string) Result { return Result{Accepted: false, Reason: reason} }

// Analyzer is a single language's source-code checker. Analyze must be a
// pure function of its input: no I/O, no shared mutable state, and
// deterministic across calls with identical bytes.
type Analyzer interface {
	Analyze(source []byte) Result
}

// Validator dispatches to the Analyzer registered for a language tag.
type Validator struct {
	analyzers map[string]Analyzer
}

// New builds a Validator with an analyzer for every supported language.
func New() *Validator {
	return &Validator{
		analyzers: map[string]Analyzer{
			"python":     newPythonAnalyzer(),
			"javascript": newJavaScriptAnalyzer(),
			"c":          newCAnalyzer(),
			"cpp":        newCppAnalyzer(),
			"rust":       newRustAnalyzer(),
		},
	}
}

// Validate approves or rejects source for language. An unrecognized
// language is always rejected; it never reaches an analyzer.
func (v *Validator) Validate(language string, source []byte) Result {
	analyzer, ok := v.analyzers[language]
	if !ok {
		return reject("unsupported language")
	}
	return analyzer.Analyze(source)
}
