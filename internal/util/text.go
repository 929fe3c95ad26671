package util

import (
	"regexp"
	"strings"
)

var unsafeFileChars = regexp.MustCompile(`[^a-zA-Z0-9_.-]`)

// SafeFileName maps an account handle onto a deterministic file name stem.
// Every character outside [A-Za-z0-9_.-] becomes an underscore.
func SafeFileName(handle string) string {
	return unsafeFileChars.ReplaceAllString(handle, "_")
}

// IsBlank returns true if s contains only whitespace.
func IsBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}

// ContainsFold returns true if needles contains s, ignoring case.
func ContainsFold(needles []string, s string) bool {
	for _, n := range needles {
		if strings.EqualFold(n, s) {
			return true
		}
	}
	return false
}
