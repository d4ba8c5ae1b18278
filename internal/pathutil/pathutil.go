package pathutil

import (
	"strings"
)

// Tokenize splits s on runs of spaces and tabs. Empty tokens are never returned.
func Tokenize(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == '\t'
	})
}

// Parent returns the parent directory of p.
// "/" is its own parent and a path without any slash has parent ".".
func Parent(p string) string {
	if p == "/" {
		return "/"
	}
	if p == "" {
		return "."
	}

	trimmed := strings.TrimSuffix(p, "/")
	if trimmed == "" {
		return "/"
	}

	idx := strings.LastIndex(trimmed, "/")
	var parent string
	switch {
	case idx < 0:
		parent = "."
	case idx == 0:
		parent = "/"
	default:
		parent = trimmed[:idx]
	}

	if parent == p {
		return "."
	}
	return parent
}

// IsFixedPoint reports whether Parent(p) == p.
func IsFixedPoint(p string) bool {
	return p == "/" || p == "."
}

// Join appends name to the directory path dir.
func Join(dir, name string) string {
	if dir == "/" {
		return "/" + name
	}
	return dir + "/" + name
}

// Depth counts the directory levels below the root for p, used to build
// "../" prefixes when rewriting absolute link targets.
func Depth(p string) int {
	n := strings.Count(p, "/") - 1
	if n < 0 {
		return 0
	}
	return n
}
