package codevalidator

import (
	"github.com/smacker/go-tree-sitter/cpp"
)

func newCppAnalyzer() Analyzer {
	return cFamilyAnalyzer{lang: cpp.GetLanguage()}
}
