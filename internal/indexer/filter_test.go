package indexer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/repomem/internal/parser"
)

func TestFileFilter_Allowed(t *testing.T) {
	f := NewFileFilter(parser.DefaultRegistry(), 0)

	cases := map[string]bool{
		"main.go":                   true,
		"src/app.tsx":               true,
		"docs/guide.md":             true,
		"notes.txt":                 true,
		"infra/main.tf":             true,
		"Dockerfile":                true,
		"deploy/Dockerfile.prod":    true,
		".github/workflows/ci.yml":  true,
		".gitlab-ci.yml":            true,
		"LICENSE":                   false,
		"image.png":                 false,
		"node_modules/pkg/index.js": false,
		"web/dist/bundle.js":        false,
		"vendor/github.com/x/y.go":  false,
		".git/config":               false,
		".env":                      false,
		".cache/data.json":          false,
		"package-lock.json":         false,
		"static/app.min.js":         false,
		"../outside.go":             false,
		"src/__pycache__/mod.py":    false,
		"svc/docker-compose.yml":    true,
		"roles/web/tasks/main.yml":  true,
	}
	for path, want := range cases {
		assert.Equal(t, want, f.Allowed(path), path)
	}
	assert.Equal(t, DefaultMaxFileSize, f.MaxFileSize())
}

func TestFileFilter_Walk(t *testing.T) {
	root := t.TempDir()
	for _, p := range []string{"b.py", "a/c.go", "node_modules/x.js", ".hidden/y.py", "README.md", "logo.svg"} {
		full := filepath.Join(root, filepath.FromSlash(p))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte("x"), 0o644))
	}
	require.NoError(t, os.Symlink(filepath.Join(root, "b.py"), filepath.Join(root, "link.py")))

	f := NewFileFilter(parser.DefaultRegistry(), 0)
	files, err := f.Walk(root)
	require.NoError(t, err)
	assert.Equal(t, []string{"README.md", "a/c.go", "b.py"}, files)

	_, err = f.Walk(filepath.Join(root, "missing"))
	assert.Error(t, err)
}

func TestCleanRelPath(t *testing.T) {
	for in, want := range map[string]string{
		"x.py":        "x.py",
		"/a/b.go":     "a/b.go",
		"a/./b/../c":  "a/c",
		" docs/x.md ": "docs/x.md",
	} {
		got, ok := cleanRelPath(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got)
	}
	for _, in := range []string{"", ".", "..", "../x", "a/../../x"} {
		_, ok := cleanRelPath(in)
		assert.False(t, ok, in)
	}
}
