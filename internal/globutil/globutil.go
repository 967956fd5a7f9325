// Package globutil normalizes paths and compiles glob patterns into a
// single predicate abstraction shared by scan, list, and findUp. The glob
// matching itself is backed by doublestar, the library the teacher already
// depends on for its dev-server watcher.
package globutil

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Normalize returns an absolute, separator-cleaned form of p, resolved
// against root when p is relative. The result has no trailing separator
// (unless it is the filesystem root itself).
func Normalize(root, p string) string {
	if p == "" {
		return root
	}
	p = filepath.FromSlash(p)
	if !filepath.IsAbs(p) {
		p = filepath.Join(root, p)
	}
	p = filepath.Clean(p)
	return p
}

// ToMatchKey converts an absolute, native path into the forward-slash form
// doublestar expects for matching.
func ToMatchKey(absPath string) string {
	return filepath.ToSlash(absPath)
}

const metaChars = "*?[{"

// Split divides a glob pattern into its literal base (the longest
// meta-character-free prefix, truncated back to the preceding separator)
// and its glob tail. isGlobstar reports whether the tail contains "**".
func Split(pattern string) (base, glob string, isGlobstar bool) {
	slashPattern := filepath.ToSlash(pattern)
	isGlobstar = strings.Contains(slashPattern, "**")

	cut := len(slashPattern)
	for i, r := range slashPattern {
		if strings.ContainsRune(metaChars, r) {
			cut = i
			break
		}
	}

	literalPrefix := slashPattern[:cut]
	lastSep := strings.LastIndex(literalPrefix, "/")
	if lastSep < 0 {
		return "", slashPattern, isGlobstar
	}
	return literalPrefix[:lastSep], slashPattern[lastSep+1:], isGlobstar
}

// Depth reports the number of path segments in an absolute base directory
// ("/a/b" is 2; "/" and "" are 0), used to order matchers so the most
// specific wins first.
func Depth(base string) int {
	if base == "" {
		return 0
	}
	clean := strings.Trim(filepath.ToSlash(base), "/")
	if clean == "" {
		return 0
	}
	return strings.Count(clean, "/") + 1
}

// PredicateOptions controls how a compiled predicate treats dotfiles and
// case. The "**"/path-separator restriction findUp/list patterns are
// subject to is enforced earlier, by ValidateNonGlobstarPattern against the
// raw glob tail — a predicate here is never built for a pattern that
// would've been rejected.
type PredicateOptions struct {
	Dot             bool // match leading-dot path segments; default false
	CaseInsensitive bool
}

// Predicate is a compiled matcher: given an absolute path, reports whether
// it satisfies the pattern.
type Predicate func(absPath string) bool

// Compile builds a Predicate for pattern, anchored relative to cwd when
// pattern is not itself absolute.
func Compile(cwd, pattern string, opts PredicateOptions) (Predicate, error) {
	matchPattern := filepath.ToSlash(pattern)
	if !filepath.IsAbs(pattern) {
		matchPattern = ToMatchKey(filepath.Join(cwd, pattern))
	}
	if opts.CaseInsensitive {
		matchPattern = strings.ToLower(matchPattern)
	}

	absCwd := ToMatchKey(cwd)

	return func(absPath string) bool {
		key := ToMatchKey(absPath)
		if opts.CaseInsensitive {
			key = strings.ToLower(key)
		}

		// Non-absolute patterns are scoped: the candidate must share the
		// cwd prefix before the glob is even attempted.
		if !filepath.IsAbs(pattern) && !strings.HasPrefix(key+"/", absCwd+"/") && key != absCwd {
			return false
		}

		if !opts.Dot && hasDotSegment(key) {
			return false
		}

		ok, err := doublestar.Match(matchPattern, key)
		if err != nil {
			return false
		}
		return ok
	}, nil
}

// hasDotSegment reports whether any path segment starts with '.', used to
// implement the dotfile-exclusion default glob libraries conventionally
// apply.
func hasDotSegment(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if strings.HasPrefix(seg, ".") && seg != "." && seg != "" {
			return true
		}
	}
	return false
}

// ValidateNonGlobstarPattern rejects patterns findUp/list must not accept:
// those containing "**" or path separators in their glob tail.
func ValidateNonGlobstarPattern(glob string) bool {
	return !strings.Contains(glob, "**") && !strings.Contains(glob, "/")
}

// Exists reports whether p currently exists on disk (any type).
func Exists(p string) bool {
	_, err := os.Lstat(p)
	return err == nil
}
