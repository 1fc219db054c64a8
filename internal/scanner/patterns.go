package scanner

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// patternSet matches root-relative paths against gitignore-style exclude
// patterns. The last matching pattern wins, so "!keep.md" re-includes a
// path excluded by an earlier pattern.
type patternSet struct {
	rules []patternRule
}

type patternRule struct {
	raw     string
	re      *regexp.Regexp
	negate  bool
	dirOnly bool
}

// compilePatterns compiles exclude patterns. Blank lines and # comments are ignored.
//
// Supported syntax: "*" and "?" within one path segment, "**" across
// segments, [classes], a trailing "/" for directories only, and a leading
// "/" or an inner "/" to anchor the pattern at the root. Unanchored patterns
// match at any depth. A pattern that matches a directory also matches
// everything below it.
func compilePatterns(patterns []string) (*patternSet, error) {
	set := &patternSet{}
	for _, raw := range patterns {
		p := strings.TrimSpace(raw)
		if p == "" || strings.HasPrefix(p, "#") {
			continue
		}

		r := patternRule{raw: p}
		if strings.HasPrefix(p, "!") {
			r.negate = true
			p = p[1:]
		}
		if strings.HasSuffix(p, "/") {
			r.dirOnly = true
			p = strings.TrimRight(p, "/")
		}

		anchored := strings.Contains(p, "/")
		p = strings.TrimPrefix(p, "/")
		if p == "" {
			continue
		}

		prefix := "(?:.*/)?"
		if anchored {
			prefix = ""
		}
		re, err := regexp.Compile("^(" + prefix + globToRegex(p) + ")(/.*)?$")
		if err != nil {
			return nil, fmt.Errorf("exclude pattern %q: %w", raw, err)
		}
		r.re = re
		set.rules = append(set.rules, r)
	}
	return set, nil
}

// Match reports whether rel (relative to a root) is excluded.
func (s *patternSet) Match(rel string, isDir bool) bool {
	if s == nil || len(s.rules) == 0 {
		return false
	}
	rel = filepath.ToSlash(rel)

	excluded := false
	for _, r := range s.rules {
		m := r.re.FindStringSubmatch(rel)
		if m == nil {
			continue
		}
		// m[2] is non-empty when the pattern matched an ancestor directory.
		if r.dirOnly && m[2] == "" && !isDir {
			continue
		}
		excluded = !r.negate
	}
	return excluded
}

// Len returns the number of compiled patterns.
func (s *patternSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.rules)
}

func globToRegex(glob string) string {
	var b strings.Builder
	for i := 0; i < len(glob); i++ {
		c := glob[i]
		switch c {
		case '*':
			if i+1 < len(glob) && glob[i+1] == '*' {
				switch {
				case i+2 < len(glob) && glob[i+2] == '/':
					b.WriteString("(?:.*/)?")
					i += 2
				default:
					b.WriteString(".*")
					i++
				}
				continue
			}
			b.WriteString("[^/]*")
		case '?':
			b.WriteString("[^/]")
		case '[':
			end := strings.IndexByte(glob[i+1:], ']')
			if end < 0 {
				b.WriteString(regexp.QuoteMeta("["))
				continue
			}
			class := glob[i+1 : i+1+end]
			if strings.HasPrefix(class, "!") {
				class = "^" + class[1:]
			}
			b.WriteString("[" + class + "]")
			i += end + 1
		case '\\':
			if i+1 < len(glob) {
				i++
				b.WriteString(regexp.QuoteMeta(string(glob[i])))
			}
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	return b.String()
}
