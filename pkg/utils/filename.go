package utils

import (
	"path"
	"regexp"
	"strings"
)

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// SanitizeFilename reduces a client-supplied filename to a safe form:
// path separators become word breaks, runs of whitespace collapse to a
// single underscore, and anything outside [A-Za-z0-9_.-] is dropped.
// The result carries no directory components and cannot traverse paths.
// It is stored as display metadata only, never used as a storage path.
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "/", " ")
	name = strings.ReplaceAll(name, "\\", " ")
	name = strings.Join(strings.Fields(name), "_")
	name = unsafeFilenameChars.ReplaceAllString(name, "")
	return strings.Trim(name, "._")
}

// Ext returns the lowercased filename extension including the leading
// dot, or "" when the name has no extension.
func Ext(name string) string {
	return strings.ToLower(path.Ext(name))
}
