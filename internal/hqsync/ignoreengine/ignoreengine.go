// Package ignoreengine compiles gitignore-style patterns and evaluates
// them against relative paths, the way the teacher's SyncIgnoreList does
// against syftignore files — except every decision also reports which
// rule (if any) decided it, since callers (and the Status Aggregator's
// testable properties) need the reason, not just the boolean.
package ignoreengine

import (
	"bufio"
	"os"
	"strings"
	"sync"
	"sync/atomic"
)

// defaultPatterns mirrors the teacher's bundled defaults (syftignore's
// defaultIgnoreLines), generalized from "syft" naming to "hq" naming and
// extended with the system-reserved entries spec §4.A calls out by name.
var defaultPatterns = []string{
	// hq-sync reserved
	".hqignore",
	".hq-sync-state.json",
	".hq-trash/",
	"*.tmp",
	"*.hq.tmp.*",
	"*.conflict.*",
	".hqkeep",
	// VCS
	".git/",
	".hg/",
	".svn/",
	// build / artifact directories
	"node_modules/",
	"dist/",
	"build/",
	"__pycache__/",
	"*.py[cod]",
	".venv/",
	"venv/",
	// IDE
	".vscode/",
	".idea/",
	// OS
	".DS_Store",
	"Thumbs.db",
	// misc
	"*.log",
	"logs/",
}

// Decision is the result of evaluating one path against the compiled
// ruleset.
type Decision struct {
	Ignored     bool
	MatchedRule string // raw text of the deciding rule; empty if no rule matched
	Reason      string
}

// ruleset is the atomically-swapped compiled state. Hot reload replaces
// the whole value so in-flight Check calls never observe a half-swapped
// list of rules.
type ruleset struct {
	rules []*rule
}

// Engine evaluates ignore decisions for a single HQ root. It is safe for
// concurrent use; Reload swaps its compiled ruleset atomically.
type Engine struct {
	baseDir string
	current atomic.Pointer[ruleset]
	mu      sync.Mutex // serializes Reload callers; Check never blocks on it
}

// New creates an Engine for baseDir, compiled from the bundled defaults
// only. Call Load or Reload to layer in a .hqignore file.
func New(baseDir string) *Engine {
	e := &Engine{baseDir: baseDir}
	e.current.Store(compile(defaultPatterns, nil))
	return e
}

// Load reads baseDir/.hqignore (if present) and compiles it together with
// the bundled defaults, replacing the active ruleset atomically.
func (e *Engine) Load() error {
	path := e.baseDir + "/.hqignore"
	custom, err := readPatternFile(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return e.Reload(custom)
}

// Reload atomically swaps in a new ruleset compiled from the bundled
// defaults plus extraPatterns (appended, so they take effect as
// last-match-wins per spec §4.A). Safe to call while Check is in flight.
func (e *Engine) Reload(extraPatterns []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.current.Store(compile(defaultPatterns, extraPatterns))
	return nil
}

// Check evaluates relPath against the compiled ruleset. Per spec §4.A,
// the last matching rule wins; a negated match re-includes the path.
func (e *Engine) Check(relPath string, isDir bool) Decision {
	relPath = strings.TrimPrefix(strings.ReplaceAll(relPath, "\\", "/"), "/")

	rs := e.current.Load()
	decision := Decision{Ignored: false, Reason: "no rule matched"}

	for _, r := range rs.rules {
		if !r.matches(relPath, isDir) {
			continue
		}
		if r.negate {
			decision = Decision{Ignored: false, MatchedRule: r.raw, Reason: "re-included by negation rule"}
		} else {
			decision = Decision{Ignored: true, MatchedRule: r.raw, Reason: "matched ignore rule"}
		}
	}

	return decision
}

func compile(defaults []string, extra []string) *ruleset {
	rs := &ruleset{}
	for _, line := range defaults {
		if r, ok := compileRule(line); ok {
			rs.rules = append(rs.rules, r)
		}
	}
	for _, line := range extra {
		if r, ok := compileRule(line); ok {
			rs.rules = append(rs.rules, r)
		}
	}
	return rs
}

func readPatternFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.Contains(line, "\x00") {
			continue
		}
		lines = append(lines, line)
	}
	return lines, scanner.Err()
}
