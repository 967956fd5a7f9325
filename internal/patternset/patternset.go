// Package patternset is the ordered pattern registry (component C2): an
// ordered collection of compiled matchers, indexed by base-directory depth,
// that answers "is this path of interest?" for the recursive watcher and
// "does this path satisfy the scan/list/findUp glob?" for the facade.
package patternset

import (
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/vormadev/fsgen/internal/globutil"
)

// matchCacheSize bounds the match-result cache, the same role the
// teacher's absent kit/lru package plays for Watcher.matchCache in
// wave/tooling/watcher.go: the positive/negative entry set changes rarely
// relative to how often the recursive watcher re-evaluates the same small
// set of paths across a batch of fsnotify events.
const matchCacheSize = 4096

// Options carries the per-Add flags that apply to every positive pattern
// registered in the call, mirroring the matcher fields in the base spec's
// data model (§3): ignoreEmptyNewFiles and acceptChangeEvents govern how
// the recursive watcher folds events for paths this pattern covers.
type Options struct {
	Cwd                 string
	IgnoreEmptyNewFiles bool
	AcceptChangeEvents  bool
	Dot                 bool
	CaseInsensitive     bool
	// NoGlobstarOrSeparators disables "**" and path separators in the glob
	// tail, the restriction findUp/list predicates apply (§4.1).
	NoGlobstarOrSeparators bool
}

// Entry is one compiled matcher.
type Entry struct {
	Base                string
	Glob                string
	Depth               int
	IsGlobstar          bool
	Predicate           globutil.Predicate
	IgnoreEmptyNewFiles bool
	AcceptChangeEvents  bool
}

// matchResult is one cached Match/EntriesFor outcome for a given path.
type matchResult struct {
	matched bool
	entries []*Entry
}

// Set is the ordered registry of compiled matchers plus the negative
// (ignore) predicates folded out of leading "!" patterns.
type Set struct {
	mu       sync.Mutex
	entries  []*Entry
	negative []globutil.Predicate
	cache    *lru.Cache[string, matchResult]
}

func New() *Set {
	cache, _ := lru.New[string, matchResult](matchCacheSize)
	return &Set{cache: cache}
}

// invalidate drops every cached result; called whenever entries or
// negative change, since either can flip a previously cached outcome.
func (s *Set) invalidate() {
	s.cache.Purge()
}

// Add compiles and inserts each pattern in patterns. A pattern prefixed
// with "!" is stripped and compiled into the negative (ignore) list instead
// of being inserted as a positive matcher; entries are always kept sorted
// by descending depth so the most specific base wins first.
func (s *Set) Add(patterns []string, opts Options) ([]*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var added []*Entry
	for _, raw := range patterns {
		pattern := raw
		negated := false
		if len(pattern) > 0 && pattern[0] == '!' {
			negated = true
			pattern = pattern[1:]
		}

		if opts.NoGlobstarOrSeparators {
			_, glob, _ := globutil.Split(pattern)
			if !globutil.ValidateNonGlobstarPattern(glob) {
				return added, &invalidPatternError{pattern: raw}
			}
		}

		predOpts := globutil.PredicateOptions{
			Dot:             opts.Dot,
			CaseInsensitive: opts.CaseInsensitive,
		}
		pred, err := globutil.Compile(opts.Cwd, pattern, predOpts)
		if err != nil {
			return added, err
		}

		if negated {
			s.negative = append(s.negative, pred)
			continue
		}

		base, glob, isGlobstar := globutil.Split(pattern)
		if base == "" {
			base = opts.Cwd
		} else if !isAbs(base) {
			base = globutil.Normalize(opts.Cwd, base)
		}

		e := &Entry{
			Base:                base,
			Glob:                glob,
			Depth:               globutil.Depth(base),
			IsGlobstar:          isGlobstar,
			Predicate:           pred,
			IgnoreEmptyNewFiles: opts.IgnoreEmptyNewFiles,
			AcceptChangeEvents:  opts.AcceptChangeEvents,
		}
		s.entries = append(s.entries, e)
		added = append(added, e)
	}

	sort.SliceStable(s.entries, func(i, j int) bool {
		return s.entries[i].Depth > s.entries[j].Depth
	})
	s.invalidate()

	return added, nil
}

// AddIgnore compiles each pattern in patterns directly into the negative
// (ignore) list, the entry point for callers that only ever exclude paths
// and have no "!"-prefixed positive/negative mix to parse (fs.Scan's
// default ignore list, in particular).
func (s *Set) AddIgnore(patterns []string, opts Options) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	predOpts := globutil.PredicateOptions{
		Dot:             opts.Dot,
		CaseInsensitive: opts.CaseInsensitive,
	}
	for _, pattern := range patterns {
		pred, err := globutil.Compile(opts.Cwd, pattern, predOpts)
		if err != nil {
			return err
		}
		s.negative = append(s.negative, pred)
	}
	s.invalidate()
	return nil
}

func isAbs(p string) bool {
	return len(p) > 0 && (p[0] == '/' || (len(p) > 1 && p[1] == ':'))
}

// Match reports whether absPath equals any entry's base or satisfies any
// entry's predicate, and is not excluded by a negative pattern.
func (s *Set) Match(absPath string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resultFor(absPath).matched
}

// EntriesFor returns every positive entry that matches absPath (and is not
// excluded by a negative pattern), used by the recursive watcher to apply
// the ignoreEmptyNewFiles/acceptChangeEvents fold across all applicable
// matchers.
func (s *Set) EntriesFor(absPath string) []*Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resultFor(absPath).entries
}

// resultFor computes (or retrieves from the match-result cache) whether
// absPath matches and which entries apply. Must be called with s.mu held.
func (s *Set) resultFor(absPath string) matchResult {
	if cached, ok := s.cache.Get(absPath); ok {
		return cached
	}

	var res matchResult
	if !s.isIgnored(absPath) {
		for _, e := range s.entries {
			if e.Base == absPath || e.Predicate(absPath) {
				res.matched = true
				res.entries = append(res.entries, e)
			}
		}
	}
	s.cache.Add(absPath, res)
	return res
}

func (s *Set) isIgnored(absPath string) bool {
	for _, neg := range s.negative {
		if neg(absPath) {
			return true
		}
	}
	return false
}

// Bases returns the distinct base directories currently registered.
func (s *Set) Bases() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool, len(s.entries))
	var out []string
	for _, e := range s.entries {
		if !seen[e.Base] {
			seen[e.Base] = true
			out = append(out, e.Base)
		}
	}
	return out
}

// ReleaseBase drops every positive entry registered under base. The
// engine's soft reset does not call it, so matchers survive soft resets.
func (s *Set) ReleaseBase(base string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.entries[:0]
	for _, e := range s.entries {
		if e.Base != base {
			kept = append(kept, e)
		}
	}
	s.entries = kept
	s.invalidate()
}

// Clear removes every positive and negative entry (hard reset).
func (s *Set) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
	s.negative = nil
	s.invalidate()
}

type invalidPatternError struct {
	pattern string
}

func (e *invalidPatternError) Error() string {
	return "patternset: pattern " + e.pattern + " may not use ** or path separators here"
}
