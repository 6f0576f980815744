package gitops

import (
	"regexp"
	"strings"
)

// autoResolvePatterns lists generated files that are safe to resolve by
// taking the incoming side of a merge. Shell-style globs where * and ? also
// cross directory separators, so *.pyc matches at any depth.
var autoResolvePatterns = []string{
	".coverage",
	".coverage.*",
	"htmlcov/*",
	"*.pyc",
	"*.pyo",
	"__pycache__/*",
	"*.egg-info/*",
	"dist/*",
	"build/*",
	".eggs/*",
	".pytest_cache/*",
	".mypy_cache/*",
	".ruff_cache/*",
	".tox/*",
	".DS_Store",
	"Thumbs.db",
	"*.log",
}

var autoResolveMatchers = compileGlobs(autoResolvePatterns)

// CanAutoResolve reports whether every conflicted file is a generated
// artifact, meaning the whole conflict can be resolved by taking the
// incoming side. One real source file makes the conflict a human problem.
func CanAutoResolve(files []string) bool {
	for _, f := range files {
		if !matchesAnyGlob(f) {
			return false
		}
	}
	return true
}

func matchesAnyGlob(file string) bool {
	for _, m := range autoResolveMatchers {
		if m.MatchString(file) {
			return true
		}
	}
	return false
}

func compileGlobs(patterns []string) []*regexp.Regexp {
	matchers := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		matchers[i] = compileGlob(p)
	}
	return matchers
}

// compileGlob translates a shell glob to an anchored regexp. path.Match
// stops * at separators; these patterns need it to span them.
func compileGlob(pattern string) *regexp.Regexp {
	p := regexp.QuoteMeta(pattern)
	p = strings.ReplaceAll(p, `\*`, `.*`)
	p = strings.ReplaceAll(p, `\?`, `.`)
	return regexp.MustCompile(`^` + p + `$`)
}
