// Package ncm finds NCM classification codes in free text and checks them
// against an immutable registry snapshot built from a reference dataset.
//
// Everything here is synchronous and free of I/O. Loading, storing and
// rendering belong to the callers.
package ncm

import "strings"

// CodeLength is the digit count of a full NCM code.
const CodeLength = 8

// Normalize drops every character that is not an ASCII decimal digit.
// No length rule is applied here.
func Normalize(candidate string) string {
	var b strings.Builder
	b.Grow(len(candidate))
	for _, r := range candidate {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// FormatCode renders an 8-digit code in the 4-2-2 display form (8471.30.19).
// Anything else is returned unchanged.
func FormatCode(code string) string {
	if len(code) != CodeLength || Normalize(code) != code {
		return code
	}
	return code[:4] + "." + code[4:6] + "." + code[6:]
}
