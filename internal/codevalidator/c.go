package codevalidator

import (
	"github.com/smacker/go-tree-sitter/c"
)

func newCAnalyzer() Analyzer {
	return cFamilyAnalyzer{lang: c.GetLanguage()}
}
