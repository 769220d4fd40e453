// Package bpath implements path normalization and validation for SUFS,
// spec.md §4.7. The teacher's own bpath package ships only a go.mod in this
// pack (its source wasn't retrieved), but its call site in
// biscuit/src/fd/fd.go ("Canonicalpath" joining Cwd_t.Path with a relative
// Ustr, then calling bpath.Canonicalize) fixes the API shape this package
// follows, and biscuit/src/ustr/ustr.go's Ustr (a byte-slice path type with
// Isdot/Isdotdot/IsAbsolute/Extend) is the model for Path below — the
// normalization algorithm itself is built directly from spec.md §4.7, in
// that idiom, since no teacher implementation of it was retrieved.
package bpath

import "strings"

// Path is a byte-slice path string, matching ustr.Ustr's role in the
// teacher.
type Path string

// Isdot reports whether p is exactly ".".
func (p Path) Isdot() bool { return p == "." }

// Isdotdot reports whether p is exactly "..".
func (p Path) Isdotdot() bool { return p == ".." }

// IsAbsolute reports whether p begins with '/'.
func (p Path) IsAbsolute() bool { return len(p) > 0 && p[0] == '/' }

// FormatPath normalizes src into an absolute canonical form relative to cwd,
// per spec.md §4.7:
//   - an absolute src ignores cwd; a relative src is concatenated to cwd
//     (which must itself be absolute and have no trailing separator, except
//     when it is exactly "/")
//   - "." components are elided
//   - ".." components pop one component from the result, stopping at the root
//   - multiple separators collapse to one
//   - the result has no trailing separator except when it is exactly "/"
//
// It returns the canonical path and the output length, or ("", 0) if the
// result would exceed max bytes — max models the fixed destination buffer
// the teacher's C-derived contract writes into.
func FormatPath(src, cwd Path, max int) (Path, int) {
	full := src
	if !src.IsAbsolute() {
		full = joinRel(cwd, src)
	}

	var out []string
	for _, comp := range strings.Split(string(full), "/") {
		switch {
		case comp == "":
			continue
		case comp == ".":
			continue
		case comp == "..":
			if len(out) > 0 {
				out = out[:len(out)-1]
			}
		default:
			out = append(out, comp)
		}
	}

	result := "/" + strings.Join(out, "/")
	if len(result) > max {
		return "", 0
	}
	return Path(result), len(result)
}

// joinRel concatenates a relative src onto an absolute cwd with exactly one
// separator between them, per spec.md §4.7's cwd preconditions (cwd is
// absolute and has no trailing separator except when it is exactly "/").
func joinRel(cwd, src Path) Path {
	if cwd == "/" {
		return "/" + src
	}
	return cwd + "/" + src
}

// IsValidFilename reports whether name is a legal single path component per
// spec.md §4.7: non-empty, at most max bytes, not "." or "..", and free of
// any byte in forbidden.
func IsValidFilename(name string, forbidden string, max int) bool {
	if name == "" || len(name) > max {
		return false
	}
	if name == "." || name == ".." {
		return false
	}
	for i := 0; i < len(name); i++ {
		if strings.IndexByte(forbidden, name[i]) >= 0 {
			return false
		}
	}
	return true
}

// IsValidPath reports whether path is non-empty and every '/'-separated
// component satisfies IsValidFilename, per spec.md §4.7. The separator
// itself is always allowed even if present in forbidden.
func IsValidPath(path string, forbidden string, maxName int) bool {
	if path == "" {
		return false
	}
	allowedForbidden := strings.ReplaceAll(forbidden, "/", "")
	for _, comp := range strings.Split(path, "/") {
		if comp == "" {
			continue
		}
		if !IsValidFilename(comp, allowedForbidden, maxName) {
			return false
		}
	}
	return true
}
