package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelect(t *testing.T) {
	r := DefaultRegistry()

	tests := []struct {
		name    string
		path    string
		hint    string
		content string
		want    string
		found   bool
	}{
		{name: "hint wins over extension", path: "main.py", hint: "go", want: "go", found: true},
		{name: "hint alias", hint: "ts", want: "typescript", found: true},
		{name: "unknown hint falls through to extension", path: "a.py", hint: "cobol", want: "python", found: true},
		{name: "extension", path: "src/app.tsx", want: "typescript", found: true},
		{name: "extension case insensitive", path: "README.MD", want: "markdown", found: true},
		{name: "generic yaml", path: "config/app.yaml", content: "port: 8080\n", want: "yaml", found: true},
		{name: "compose by filename", path: "docker-compose.prod.yml", content: "version: '3'\n", want: "compose", found: true},
		{name: "compose by content", path: "stack.yml", content: "services:\n  web:\n    image: nginx\n", want: "compose", found: true},
		{name: "kubernetes by content", path: "deploy/web.yaml", content: "apiVersion: v1\nkind: Service\n", want: "kubernetes", found: true},
		{name: "ansible by filename", path: "site.yml", content: "- hosts: all\n", want: "ansible", found: true},
		{name: "ansible by role layout", path: "roles/web/tasks/main.yml", content: "- name: x\n  apt: name=y\n", want: "ansible", found: true},
		{name: "ansible by content", path: "deploy.yml", content: "- name: play\n  hosts: all\n", want: "ansible", found: true},
		{name: "dockerfile by filename", path: "build/Dockerfile", want: "dockerfile", found: true},
		{name: "dockerfile variant", path: "Dockerfile.dev", want: "dockerfile", found: true},
		{name: "shell by shebang", path: "bin/deploy", content: "#!/usr/bin/env bash\necho hi\n", want: "shell", found: true},
		{name: "python by shebang", path: "scripts/run", content: "#!/usr/bin/env python3\nprint(1)\n", want: "python", found: true},
		{name: "terraform by content", content: "resource \"aws_s3_bucket\" \"b\" {\n}\n", want: "terraform", found: true},
		{name: "no match", path: "notes.xyz", content: "just words", found: false},
		{name: "no match on empty content", path: "notes", content: "   ", found: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, ok := Select(r, tt.path, tt.hint, tt.content)
			require.Equal(t, tt.found, ok)
			if tt.found {
				assert.Equal(t, tt.want, p.Language())
			}
		})
	}
}

func TestRegistry(t *testing.T) {
	r := DefaultRegistry()

	p, ok := r.Get("PYTHON")
	require.True(t, ok)
	assert.Equal(t, "python", p.Language())

	p, ok = r.ForExtension("tf")
	require.True(t, ok)
	assert.Equal(t, "terraform", p.Language())

	exts := r.Extensions()
	assert.True(t, exts[".go"])
	assert.True(t, exts[".md"])
	assert.False(t, exts[".exe"])

	assert.True(t, r.MatchesFilename("Dockerfile"))
	assert.False(t, r.MatchesFilename("main.c"))

	assert.Equal(t, "compose", r.Detect("docker-compose.yml", ""))
	assert.Equal(t, "", r.Detect("image.png", "\x89PNG"))

	assert.Equal(t, "typescript", r.LanguageForPath("web/src/app.tsx"))
	assert.Equal(t, "dockerfile", r.LanguageForPath("build/Dockerfile.prod"))
	assert.Equal(t, "", r.LanguageForPath("LICENSE"))
}

func TestRegistryReplacesLanguage(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubParser{lang: "stub"})
	replacement := &stubParser{lang: "stub"}
	r.Register(replacement)

	assert.Len(t, r.Parsers(), 1)
	p, ok := r.Get("stub")
	require.True(t, ok)
	assert.Same(t, replacement, p)
}
