package indexer

import (
	"io/fs"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cloo-solutions/repomem/internal/parser"
)

// DefaultMaxFileSize is the size ceiling above which files are skipped.
const DefaultMaxFileSize int64 = 1 << 20

var skipDirs = map[string]bool{
	".git":             true,
	".svn":             true,
	".hg":              true,
	"node_modules":     true,
	"bower_components": true,
	"vendor":           true,
	"dist":             true,
	"build":            true,
	"out":              true,
	"target":           true,
	"bin":              true,
	"obj":              true,
	"coverage":         true,
	"__pycache__":      true,
	"venv":             true,
	".venv":            true,
	".tox":             true,
	".next":            true,
	".nuxt":            true,
	".terraform":       true,
	".idea":            true,
	".vscode":          true,
}

var skipFiles = map[string]bool{
	"package-lock.json": true,
	"yarn.lock":         true,
	"pnpm-lock.yaml":    true,
	"go.sum":            true,
	"Cargo.lock":        true,
	"poetry.lock":       true,
	"composer.lock":     true,
	"Gemfile.lock":      true,
}

var skipSuffixes = []string{".min.js", ".min.css", ".map", ".pb.go", ".generated.ts"}

// hidden names that are still indexed
var hiddenAllowed = map[string]bool{
	".github":        true,
	".gitlab":        true,
	".circleci":      true,
	".devcontainer":  true,
	".gitlab-ci.yml": true,
}

// plain text formats indexed without a dedicated parser
var textExtensions = map[string]bool{
	".txt":    true,
	".rst":    true,
	".toml":   true,
	".ini":    true,
	".cfg":    true,
	".sql":    true,
	".tfvars": true,
}

// FileFilter decides which repository paths are indexed.
type FileFilter struct {
	extensions  map[string]bool
	registry    *parser.Registry
	maxFileSize int64
}

func NewFileFilter(registry *parser.Registry, maxFileSize int64) *FileFilter {
	if maxFileSize <= 0 {
		maxFileSize = DefaultMaxFileSize
	}
	exts := registry.Extensions()
	for ext := range textExtensions {
		exts[ext] = true
	}
	return &FileFilter{
		extensions:  exts,
		registry:    registry,
		maxFileSize: maxFileSize,
	}
}

func (f *FileFilter) MaxFileSize() int64 {
	return f.maxFileSize
}

// Allowed reports whether a slash-separated repository-relative path passes
// the skip-list and the extension allow-list.
func (f *FileFilter) Allowed(rel string) bool {
	rel = path.Clean(filepath.ToSlash(rel))
	if rel == "." || strings.HasPrefix(rel, "../") || path.IsAbs(rel) {
		return false
	}

	parts := strings.Split(rel, "/")
	for _, dir := range parts[:len(parts)-1] {
		if skippedDir(dir) {
			return false
		}
	}

	name := parts[len(parts)-1]
	if skipFiles[name] {
		return false
	}
	if strings.HasPrefix(name, ".") && !hiddenAllowed[name] {
		return false
	}
	lower := strings.ToLower(name)
	for _, suffix := range skipSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return false
		}
	}

	if f.extensions[strings.ToLower(path.Ext(name))] {
		return true
	}
	return f.registry.MatchesFilename(rel)
}

func skippedDir(name string) bool {
	if skipDirs[name] {
		return true
	}
	return strings.HasPrefix(name, ".") && !hiddenAllowed[name]
}

// Walk lists every allowed regular file below root as sorted, slash-separated
// relative paths. Symlinks are not followed.
func (f *FileFilter) Walk(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == root {
				return err
			}
			return nil
		}
		if p == root {
			return nil
		}
		if d.IsDir() {
			if skippedDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if f.Allowed(rel) {
			files = append(files, rel)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}
