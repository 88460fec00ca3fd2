package watcher

import (
	"path"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// dirProbe is joined to a directory path to test whether an ignore pattern
// covers everything below it, e.g. "node_modules/**".
const dirProbe = ".devserve-probe"

// PatternSet matches slash-separated paths relative to the watched root.
// A path matches when any watch pattern matches and no ignore pattern does.
type PatternSet struct {
	patterns []string
	ignore   []string
}

// NewPatternSet validates and normalizes the patterns. Leading "./" is
// stripped so "./**/*.html" and "**/*.html" are equivalent.
func NewPatternSet(patterns, ignore []string) (*PatternSet, error) {
	cleaned, err := cleanPatterns(patterns)
	if err != nil {
		return nil, err
	}
	if len(cleaned) == 0 {
		return nil, &ConfigError{Reason: "pattern set is empty", Err: ErrNoPatterns}
	}
	cleanedIgnore, err := cleanPatterns(ignore)
	if err != nil {
		return nil, err
	}
	return &PatternSet{patterns: cleaned, ignore: cleanedIgnore}, nil
}

func cleanPatterns(patterns []string) ([]string, error) {
	cleaned := make([]string, 0, len(patterns))
	for _, raw := range patterns {
		pattern := normalizePattern(raw)
		if pattern == "" {
			continue
		}
		if !doublestar.ValidatePattern(pattern) {
			return nil, &ConfigError{Reason: "invalid glob pattern", Path: raw}
		}
		cleaned = append(cleaned, pattern)
	}
	return cleaned, nil
}

func normalizePattern(raw string) string {
	pattern := filepath.ToSlash(strings.TrimSpace(raw))
	for strings.HasPrefix(pattern, "./") {
		pattern = strings.TrimPrefix(pattern, "./")
	}
	return pattern
}

// Patterns returns the normalized watch patterns in configured order.
func (set *PatternSet) Patterns() []string {
	if set == nil {
		return nil
	}
	return append([]string(nil), set.patterns...)
}

// Match reports whether rel should trigger a reload.
func (set *PatternSet) Match(rel string) bool {
	if set == nil {
		return false
	}
	rel = normalizeRel(rel)
	if rel == "" || set.Ignored(rel) {
		return false
	}
	return matchAny(set.patterns, rel)
}

// Ignored reports whether rel matches an ignore pattern.
func (set *PatternSet) Ignored(rel string) bool {
	if set == nil {
		return false
	}
	return matchAny(set.ignore, normalizeRel(rel))
}

// SkipDir reports whether a directory and everything below it is ignored.
func (set *PatternSet) SkipDir(rel string) bool {
	if set == nil {
		return false
	}
	rel = normalizeRel(rel)
	if rel == "" {
		return false
	}
	return matchAny(set.ignore, rel) || matchAny(set.ignore, path.Join(rel, dirProbe))
}

func matchAny(patterns []string, rel string) bool {
	for _, pattern := range patterns {
		// Patterns are validated up front, so Match cannot fail here.
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

func normalizeRel(rel string) string {
	rel = filepath.ToSlash(rel)
	rel = strings.TrimPrefix(rel, "./")
	if rel == "." {
		return ""
	}
	return rel
}
