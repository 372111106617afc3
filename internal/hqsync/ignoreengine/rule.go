package ignoreengine

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// rule is one compiled line of an ignore file.
type rule struct {
	raw        string
	pattern    string
	negate     bool
	anchored   bool // pattern began with a leading "/"
	dirOnly    bool // pattern ended with a trailing "/"
}

func compileRule(line string) (*rule, bool) {
	line = strings.TrimRight(line, " ")
	if line == "" || strings.HasPrefix(line, "#") {
		return nil, false
	}

	r := &rule{raw: line}

	if strings.HasPrefix(line, "!") {
		r.negate = true
		line = line[1:]
	}

	if strings.HasPrefix(line, "/") {
		r.anchored = true
		line = line[1:]
	}

	if strings.HasSuffix(line, "/") {
		r.dirOnly = true
		line = strings.TrimSuffix(line, "/")
	}

	if line == "" {
		return nil, false
	}

	r.pattern = line
	return r, true
}

// matches reports whether relPath (forward-slash, no leading slash) matches
// this rule, given whether relPath names a directory.
func (r *rule) matches(relPath string, isDir bool) bool {
	candidates := []string{r.pattern}
	if !r.anchored && !strings.Contains(r.pattern, "/") {
		// Unanchored, single-segment patterns match at any depth — mirror
		// gitignore's "matches a basename anywhere" behavior with "**/".
		candidates = append(candidates, "**/"+r.pattern)
	} else if !r.anchored {
		candidates = append(candidates, "**/"+r.pattern)
	}

	for _, pat := range candidates {
		// The bare pattern names the directory (or file) itself, so it
		// only counts as a match when relPath is that same kind of
		// entry: a dirOnly rule must not match a file of the same name.
		if isDir || !r.dirOnly {
			if ok, _ := doublestar.Match(pat, relPath); ok {
				return true
			}
		} else if ok, _ := doublestar.Match(pat, relPath); ok {
			// A file with the directory rule's own name: doublestar lets
			// pat+"/**" match pat itself, so skip the nested check too.
			continue
		}
		// A directory-only or plain directory rule also matches
		// anything nested under a matched directory, file or
		// subdirectory alike — this must run regardless of isDir, or a
		// file nested under an ignored directory would never match.
		if ok, _ := doublestar.Match(pat+"/**", relPath); ok {
			return true
		}
	}
	return false
}
