package match

import (
	"errors"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Matcher evaluates include/exclude patterns against slash-separated
// paths relative to a staging directory.
//
// A path matches when it matches at least one include, no exclude, and is
// not hidden (unless IncludeHidden is set). The Matcher is safe for
// concurrent use after creation.
type Matcher struct {
	includes      []string
	excludes      []string
	prefixes      []string
	includeHidden bool
}

// Config configures a Matcher.
type Config struct {
	// Includes defaults to "**" (every file) when empty.
	Includes []string

	Excludes []string

	// IncludeHidden also selects dot files and files under dot directories.
	IncludeHidden bool
}

// ErrInvalidPattern is returned when a pattern cannot be compiled.
var ErrInvalidPattern = errors.New("invalid glob pattern")

// PatternError wraps pattern-related errors with context.
type PatternError struct {
	Pattern string
	Err     error
}

func (e *PatternError) Error() string {
	return "pattern " + e.Pattern + ": " + e.Err.Error()
}

func (e *PatternError) Unwrap() error {
	return e.Err
}

// New compiles a Matcher.
func New(cfg Config) (*Matcher, error) {
	includes := cfg.Includes
	if len(includes) == 0 {
		includes = []string{"**"}
	}

	m := &Matcher{includeHidden: cfg.IncludeHidden}
	var err error
	if m.includes, err = compile(includes); err != nil {
		return nil, err
	}
	if m.excludes, err = compile(cfg.Excludes); err != nil {
		return nil, err
	}
	m.prefixes = DerivePrefixes(m.includes)
	return m, nil
}

func compile(raw []string) ([]string, error) {
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		normalized := NormalizePattern(strings.TrimSpace(p))
		if normalized == "" {
			continue
		}
		if !doublestar.ValidatePattern(normalized) {
			return nil, &PatternError{Pattern: p, Err: ErrInvalidPattern}
		}
		out = append(out, normalized)
	}
	return out, nil
}

// Match reports whether path is selected.
func (m *Matcher) Match(path string) bool {
	if !m.includeHidden && IsHidden(path) {
		return false
	}
	if !matchAny(m.includes, path) {
		return false
	}
	return !matchAny(m.excludes, path)
}

// CanDescend reports whether files under dir (a slash path without a
// trailing slash) could match any include pattern.
func (m *Matcher) CanDescend(dir string) bool {
	if dir == "" || dir == "." {
		return true
	}
	if !m.includeHidden && IsHidden(dir) {
		return false
	}
	dir += "/"
	for _, p := range m.prefixes {
		if p == "" || strings.HasPrefix(dir, p) || strings.HasPrefix(p, dir) {
			return true
		}
	}
	return false
}

// Prefixes returns the deduplicated static prefixes of the includes.
func (m *Matcher) Prefixes() []string {
	return m.prefixes
}

func matchAny(patterns []string, path string) bool {
	for _, p := range patterns {
		if ok, err := doublestar.Match(p, path); err == nil && ok {
			return true
		}
	}
	return false
}
