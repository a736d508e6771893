package parser

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/repomem/internal/domain"
)

const pythonSample = `"""Inventory helpers."""
import os
import json as j
from typing import List, Optional

DEFAULT_LIMIT = 40
_cache = {}


def load(path):
    """Read a file."""
    with open(path) as fh:
        return fh.read()


async def fetch(url, timeout=10, *args, **kwargs):
    return url


class Store(Base):
    """Keeps items in memory."""

    def __init__(self, limit: int = DEFAULT_LIMIT):
        self.items = []
        self.limit = limit

    @staticmethod
    def _normalize(x: int) -> int:
        return x

    def add(self, item):
        if len(self.items) >= self.limit:
            raise ValueError("full")
        self.items.append(item)


if __name__ == "__main__":
    print(load(os.sys.argv[1]))
`

func chunksByName(chunks []domain.SemanticChunk) map[string]domain.SemanticChunk {
	out := make(map[string]domain.SemanticChunk, len(chunks))
	for _, c := range chunks {
		if _, exists := out[c.Name]; !exists {
			out[c.Name] = c
		}
	}
	return out
}

func chunksOfType(chunks []domain.SemanticChunk, t domain.ChunkType) []domain.SemanticChunk {
	var out []domain.SemanticChunk
	for _, c := range chunks {
		if c.Type == t {
			out = append(out, c)
		}
	}
	return out
}

func TestPythonParserScenario(t *testing.T) {
	res := NewFramework(DefaultRegistry()).Parse(pythonSample, "inventory/store.py", "")
	require.True(t, res.Success)
	require.False(t, res.FallbackUsed)
	assert.Equal(t, "python", res.Language)
	assertCoverage(t, pythonSample, res.Chunks)

	imports := chunksOfType(res.Chunks, domain.ChunkTypeImport)
	require.Len(t, imports, 1)
	assert.Equal(t, 2, imports[0].StartLine)
	assert.Equal(t, 4, imports[0].EndLine)
	assert.Equal(t, []string{"os", "json", "typing"}, imports[0].Metadata.Dependencies)

	functions := chunksOfType(res.Chunks, domain.ChunkTypeFunction)
	require.Len(t, functions, 2)
	byName := chunksByName(res.Chunks)

	load := byName["load"]
	assert.Equal(t, domain.ChunkTypeFunction, load.Type)
	assert.Equal(t, []string{"path"}, load.Metadata.Parameters)
	assert.True(t, strings.HasPrefix(load.Content, "def load(path):"))

	fetch := byName["fetch"]
	assert.True(t, fetch.Metadata.Async)
	assert.Equal(t, []string{"url", "timeout", "args", "kwargs"}, fetch.Metadata.Parameters)

	classes := chunksOfType(res.Chunks, domain.ChunkTypeClass)
	require.Len(t, classes, 1)
	assert.Equal(t, "Store", classes[0].Name)
	assert.Equal(t, []string{"Base"}, classes[0].Metadata.Dependencies)
	assert.Equal(t, []string{"__init__", "add"}, classes[0].Metadata.Exports)

	methods := chunksOfType(res.Chunks, domain.ChunkTypeMethod)
	require.Len(t, methods, 3)
	for _, m := range methods {
		assert.Equal(t, "Store", m.Metadata.Parent)
		assert.True(t, classes[0].Encloses(m))
	}

	normalize := byName["_normalize"]
	assert.Equal(t, domain.VisibilityPrivate, normalize.Metadata.Visibility)
	assert.True(t, normalize.Metadata.Static)
	assert.Equal(t, []string{"staticmethod"}, normalize.Metadata.Decorators)
	assert.Equal(t, []string{"x"}, normalize.Metadata.Parameters)
	assert.Contains(t, normalize.Content, "@staticmethod")

	assert.Equal(t, domain.VisibilityPublic, byName["__init__"].Metadata.Visibility)
	assert.Equal(t, []string{"limit"}, byName["__init__"].Metadata.Parameters)

	assert.Equal(t, domain.ChunkTypeVariable, byName["DEFAULT_LIMIT"].Type)
	assert.Equal(t, domain.VisibilityPrivate, byName["_cache"].Metadata.Visibility)
}

func TestPythonImportNames(t *testing.T) {
	assert.Equal(t, []string{"a.b"}, pythonImportNames("from a.b import c, d"))
	assert.Equal(t, []string{"x", "y.z"}, pythonImportNames("import x, y.z as w"))
	assert.Nil(t, pythonImportNames("print(1)"))
}
