package gitops

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanAutoResolve(t *testing.T) {
	tests := []struct {
		name  string
		files []string
		want  bool
	}{
		{"coverage file", []string{".coverage"}, true},
		{"coverage with suffix", []string{".coverage.worker-3"}, true},
		{"bytecode at any depth", []string{"src/pkg/__pycache__/mod.cpython-311.pyc"}, true},
		{"top-level pycache", []string{"__pycache__/util.cpython-311.pyc"}, true},
		{"build artifacts", []string{"dist/app-1.0.whl", "build/lib/app.py"}, true},
		{"html coverage report", []string{"htmlcov/index.html"}, true},
		{"log files anywhere", []string{"server.log", "logs/worker.log"}, true},
		{"os droppings", []string{".DS_Store", "Thumbs.db"}, true},
		{"egg info", []string{"legatus.egg-info/PKG-INFO"}, true},
		{"tool caches", []string{".pytest_cache/v/cache/lastfailed", ".mypy_cache/3.11/main.meta.json", ".tox/py311/log/1.log"}, true},
		{"artifact plus source file", []string{"dist/app-1.0.whl", "src/main.py"}, false},
		{"single source file", []string{"src/main.py"}, false},
		{"docs", []string{"README.md"}, false},
		{"matching is case sensitive", []string{"thumbs.db"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanAutoResolve(tt.files))
		})
	}
}

func TestCompileGlob(t *testing.T) {
	tests := []struct {
		pattern string
		file    string
		want    bool
	}{
		{"*.pyc", "a/b/c.pyc", true}, // star crosses separators
		{"*.pyc", "c.pyc.bak", false},
		{"dist/*", "dist/sub/file", true},
		{"dist/*", "redist/file", false}, // anchored at the start
		{".coverage", ".coverage", true},
		{".coverage", "x.coverage", false},
		{"?.log", "a.log", true},
		{"?.log", "ab.log", false},
	}
	for _, tt := range tests {
		t.Run(tt.pattern+" vs "+tt.file, func(t *testing.T) {
			assert.Equal(t, tt.want, compileGlob(tt.pattern).MatchString(tt.file))
		})
	}
}
