// Package pathutil contains the lexical path rules shared by every
// client-facing path field: root-relative, forward slashes, no leading
// separator, no escaping ".." segments.
package pathutil

import (
	"path"
	"strings"
)

// Normalize converts an arbitrary client-supplied path into its clean
// root-relative form. The input is treated as if rooted at "/" before
// cleaning, so ".." segments can never climb above the root; the result
// carries no leading slash. The empty string denotes the root itself.
func Normalize(raw string) string {
	if raw == "" {
		return ""
	}
	return strings.TrimPrefix(path.Clean("/"+raw), "/")
}

// Parent returns the parent of a normalized root-relative path. The second
// return value is false for the root itself, which has no parent; a direct
// child of the root reports "" as its parent.
func Parent(rel string) (string, bool) {
	if rel == "" {
		return "", false
	}
	parent := path.Dir(rel)
	if parent == "." {
		return "", true
	}
	return parent, true
}

// Join appends a name to a root-relative base path and re-normalizes the
// result, keeping listing output in the same form as listing input.
func Join(base, name string) string {
	return Normalize(base + "/" + name)
}

// BaseName reduces a client-supplied name to its final path segment.
// It returns "" when nothing usable remains.
func BaseName(raw string) string {
	base := path.Base(Normalize(raw))
	if base == "." || base == "/" {
		return ""
	}
	return base
}
