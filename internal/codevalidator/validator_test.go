package codevalidator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidator_UnsupportedLanguage(t *testing.T) {
	v := New()
	result := v.Validate("cobol", []byte("DISPLAY 'HI'."))
	assert.False(t, result.Accepted)
	assert.Equal(t, "unsupported language", result.Reason)
}

func TestValidator_PythonAccepted(t *testing.T) {
	v := New()
	result := v.Validate("python", []byte(`print("hi")`))
	assert.True(t, result.Accepted)
}

func TestValidator_PythonRejectsOSImportAndSystemCall(t *testing.T) {
	v := New()
	result := v.Validate("python", []byte(`import os
os.system("ls")`))
	assert.False(t, result.Accepted)
	assert.Contains(t, result.Reason, "os")
}

func TestValidator_PythonRejectsEval(t *testing.T) {
	v := New()
	result := v.Validate("python", []byte(`eval("1+1")`))
	assert.False(t, result.Accepted)
	assert.Contains(t, result.Reason, "eval")
}

func TestValidator_PythonRejectsWriteOpen(t *testing.T) {
	v := New()
	result := v.Validate("python", []byte(`open("x.txt", "w")`))
	assert.False(t, result.Accepted)
}

func TestValidator_JavaScriptRejectsRequireChildProcess(t *testing.T) {
	v := New()
	result := v.Validate("javascript", []byte(`const cp = require("child_process")`))
	assert.False(t, result.Accepted)
	assert.Contains(t, result.Reason, "child_process")
}

func TestValidator_JavaScriptAccepted(t *testing.T) {
	v := New()
	result := v.Validate("javascript", []byte(`console.log("hi")`))
	assert.True(t, result.Accepted)
}

func TestValidator_CRejectsSystemCall(t *testing.T) {
	v := New()
	result := v.Validate("c", []byte(`#include <stdio.h>
int main() { system("ls"); return 0; }`))
	assert.False(t, result.Accepted)
	assert.Contains(t, result.Reason, "system")
}

func TestValidator_CAccepted(t *testing.T) {
	v := New()
	result := v.Validate("c", []byte(`#include <stdio.h>
int main() { printf("hi\n"); return 0; }`))
	assert.True(t, result.Accepted)
}

func TestValidator_CppRejectsDeniedHeader(t *testing.T) {
	v := New()
	result := v.Validate("cpp", []byte(`#include <unistd.h>
int main() { return 0; }`))
	assert.False(t, result.Accepted)
}

func TestValidator_RustRejectsUnsafeBlock(t *testing.T) {
	v := New()
	result := v.Validate("rust", []byte(`fn main() { unsafe { } }`))
	assert.False(t, result.Accepted)
	assert.Contains(t, result.Reason, "unsafe")
}

func TestValidator_RustAccepted(t *testing.T) {
	v := New()
	result := v.Validate("rust", []byte(`fn main() { println!("hi"); }`))
	assert.True(t, result.Accepted)
}

func TestValidator_SyntaxError(t *testing.T) {
	v := New()
	result := v.Validate("c", []byte(`int main() {`))
	assert.False(t, result.Accepted)
	assert.Contains(t, result.Reason, "syntax error")
}
