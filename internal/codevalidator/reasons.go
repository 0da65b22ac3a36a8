package codevalidator

import "fmt"

// identifierDenied and moduleDenied produce the human-readable rejection
// reasons shared across every language analyzer, so callers of Validate
// see consistent wording regardless of which language tripped a denylist.

func identifierDenied(name string, ln int) string {
	return fmt.Sprintf("use of %q is not allowed (line %d)", name, ln)
}

func moduleDenied(name string, ln int) string {
	return fmt.Sprintf("import of module %q is not allowed (line %d)", name, ln)
}

func callDenied(name string, ln int) string {
	return fmt.Sprintf("call to %q is not allowed (line %d)", name, ln)
}

func headerDenied(name string, ln int) string {
	return fmt.Sprintf("include of header %q is not allowed (line %d)", name, ln)
}

func constructDenied(desc string, ln int) string {
	return fmt.Sprintf("%s is not allowed (line %d)", desc, ln)
}
