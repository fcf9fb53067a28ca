// Package match selects staging files for upload using doublestar glob
// patterns.
package match

import (
	"sort"
	"strings"
)

// Glob metacharacters that can be escaped with a backslash.
const globEscapable = `*?[]{}\`

// NormalizePattern converts a user pattern to forward-slash form.
//
// Unescaped backslashes become slashes so that Windows-style patterns work;
// escaped metacharacters are preserved.
//
//	"data\2024\file.csv" → "data/2024/file.csv"
//	"data/file\*.txt"  → "data/file\*.txt"
func NormalizePattern(pattern string) string {
	if !strings.ContainsRune(pattern, '\\') {
		return pattern
	}

	var b strings.Builder
	b.Grow(len(pattern))
	runes := []rune(pattern)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r != '\\' {
			b.WriteRune(r)
			continue
		}
		if i+1 < len(runes) && strings.ContainsRune(globEscapable, runes[i+1]) {
			b.WriteRune('\\')
			b.WriteRune(runes[i+1])
			i++
			continue
		}
		b.WriteRune('/')
	}
	return b.String()
}

// IsHidden reports whether any segment of a slash path starts with a dot.
func IsHidden(path string) bool {
	for _, seg := range strings.Split(path, "/") {
		if seg != "" && seg != "." && seg != ".." && strings.HasPrefix(seg, ".") {
			return true
		}
	}
	return false
}

// DerivePrefix returns the static directory prefix of a pattern, i.e. the
// part before the first unescaped metacharacter truncated to the last '/'.
// A pattern without metacharacters is its own prefix.
//
//	"data/2024/**/*.csv" → "data/2024/"
//	"*.json"             → ""
//	"exact/file.txt"     → "exact/file.txt"
func DerivePrefix(pattern string) string {
	pattern = NormalizePattern(pattern)
	meta := firstUnescapedMeta(pattern)
	switch {
	case meta < 0:
		return unescape(pattern)
	case meta == 0:
		return ""
	}
	head := pattern[:meta]
	if slash := strings.LastIndex(head, "/"); slash >= 0 {
		return unescape(head[:slash+1])
	}
	return ""
}

// DerivePrefixes derives the prefix of each pattern and drops prefixes
// subsumed by shorter ones. An empty prefix subsumes everything.
func DerivePrefixes(patterns []string) []string {
	if len(patterns) == 0 {
		return nil
	}
	prefixes := make([]string, 0, len(patterns))
	for _, p := range patterns {
		prefix := DerivePrefix(p)
		if prefix == "" {
			return []string{""}
		}
		prefixes = append(prefixes, prefix)
	}

	sort.Slice(prefixes, func(i, j int) bool { return len(prefixes[i]) < len(prefixes[j]) })
	out := make([]string, 0, len(prefixes))
	for _, candidate := range prefixes {
		subsumed := false
		for _, kept := range out {
			if strings.HasPrefix(candidate, kept) {
				subsumed = true
				break
			}
		}
		if !subsumed {
			out = append(out, candidate)
		}
	}
	sort.Strings(out)
	return out
}

func firstUnescapedMeta(pattern string) int {
	for i := 0; i < len(pattern); i++ {
		switch c := pattern[i]; c {
		case '\\':
			if i+1 < len(pattern) && strings.IndexByte(`*?[{\`, pattern[i+1]) >= 0 {
				i++
			}
		case '*', '?', '[', '{':
			return i
		}
	}
	return -1
}

func unescape(s string) string {
	if !strings.ContainsRune(s, '\\') {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) && strings.IndexByte(globEscapable, s[i+1]) >= 0 {
			i++
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
