package domain

import (
	"fmt"
	"strings"
)

// ChunkType names the kind of construct a chunk was cut from.
type ChunkType string

const (
	ChunkTypeFunction    ChunkType = "function"
	ChunkTypeClass       ChunkType = "class"
	ChunkTypeMethod      ChunkType = "method"
	ChunkTypeVariable    ChunkType = "variable"
	ChunkTypeInterface   ChunkType = "interface"
	ChunkTypeType        ChunkType = "type"
	ChunkTypeStruct      ChunkType = "struct"
	ChunkTypePackage     ChunkType = "package"
	ChunkTypeImport      ChunkType = "import"
	ChunkTypeModule      ChunkType = "module"
	ChunkTypeResource    ChunkType = "resource"
	ChunkTypeProvider    ChunkType = "provider"
	ChunkTypeOutput      ChunkType = "output"
	ChunkTypeTask        ChunkType = "task"
	ChunkTypePlay        ChunkType = "play"
	ChunkTypeService     ChunkType = "service"
	ChunkTypeStage       ChunkType = "stage"
	ChunkTypeInstruction ChunkType = "instruction"
	ChunkTypeConfig      ChunkType = "config"
	ChunkTypeHeading     ChunkType = "heading"
	ChunkTypeCodeBlock   ChunkType = "code-block"
)

var knownChunkTypes = map[ChunkType]struct{}{
	ChunkTypeFunction: {}, ChunkTypeClass: {}, ChunkTypeMethod: {}, ChunkTypeVariable: {},
	ChunkTypeInterface: {}, ChunkTypeType: {}, ChunkTypeStruct: {}, ChunkTypePackage: {},
	ChunkTypeImport: {}, ChunkTypeModule: {}, ChunkTypeResource: {}, ChunkTypeProvider: {},
	ChunkTypeOutput: {}, ChunkTypeTask: {}, ChunkTypePlay: {}, ChunkTypeService: {},
	ChunkTypeStage: {}, ChunkTypeInstruction: {}, ChunkTypeConfig: {}, ChunkTypeHeading: {},
	ChunkTypeCodeBlock: {},
}

// IsValidChunkType reports whether t belongs to the known chunk type set.
func IsValidChunkType(t ChunkType) bool {
	_, ok := knownChunkTypes[t]
	return ok
}

// Visibility values inferred from naming conventions.
const (
	VisibilityPublic    = "public"
	VisibilityPrivate   = "private"
	VisibilityProtected = "protected"
)

// ChunkMetadata carries language specific facts about a chunk.
type ChunkMetadata struct {
	Language     string   `json:"language,omitempty"`
	Parent       string   `json:"parent,omitempty"`
	Dependencies []string `json:"dependencies,omitempty"`
	Exports      []string `json:"exports,omitempty"`
	Visibility   string   `json:"visibility,omitempty"`
	Async        bool     `json:"async,omitempty"`
	Static       bool     `json:"static,omitempty"`
	Parameters   []string `json:"parameters,omitempty"`
	Decorators   []string `json:"decorators,omitempty"`
}

// SemanticChunk is a named, typed, line-bounded excerpt of one input.
// Lines are 1-based and inclusive.
type SemanticChunk struct {
	Type      ChunkType     `json:"type"`
	Name      string        `json:"name"`
	Content   string        `json:"content"`
	StartLine int           `json:"start_line"`
	EndLine   int           `json:"end_line"`
	Metadata  ChunkMetadata `json:"metadata"`
}

// Validate checks the line range and type of the chunk.
func (c SemanticChunk) Validate() error {
	if c.StartLine < 1 {
		return fmt.Errorf("chunk %q StartLine must be >= 1, got %d", c.Name, c.StartLine)
	}
	if c.EndLine < c.StartLine {
		return fmt.Errorf("chunk %q EndLine %d is before StartLine %d", c.Name, c.EndLine, c.StartLine)
	}
	if !IsValidChunkType(c.Type) {
		return fmt.Errorf("chunk %q has invalid type: %s", c.Name, c.Type)
	}
	return nil
}

// Encloses reports whether other lies within c's line range.
func (c SemanticChunk) Encloses(other SemanticChunk) bool {
	return c.StartLine <= other.StartLine && other.EndLine <= c.EndLine &&
		(c.StartLine != other.StartLine || c.EndLine != other.EndLine)
}

// IsBlank reports whether the chunk holds only whitespace.
func (c SemanticChunk) IsBlank() bool {
	return strings.TrimSpace(c.Content) == ""
}

// ParseResult is the output of parsing one unit of content.
type ParseResult struct {
	Success      bool            `json:"success"`
	Chunks       []SemanticChunk `json:"chunks"`
	Error        string          `json:"error,omitempty"`
	FallbackUsed bool            `json:"fallback_used"`
	Language     string          `json:"language,omitempty"`
}

// ContentType classifies ingested content for filtering.
type ContentType string

const (
	ContentTypeCode          ContentType = "code"
	ContentTypeDocumentation ContentType = "documentation"
	ContentTypeConfiguration ContentType = "configuration"
	ContentTypeText          ContentType = "text"
)

// IsValidContentType reports whether ct is a known content type.
func IsValidContentType(ct ContentType) bool {
	switch ct {
	case ContentTypeCode, ContentTypeDocumentation, ContentTypeConfiguration, ContentTypeText:
		return true
	}
	return false
}

// ContentTypeForLanguage classifies a language tag produced by the parser registry.
func ContentTypeForLanguage(language string) ContentType {
	switch language {
	case "markdown", "text", "rst":
		return ContentTypeDocumentation
	case "yaml", "json", "toml", "dockerfile", "terraform", "compose", "kubernetes", "ansible":
		return ContentTypeConfiguration
	case "":
		return ContentTypeText
	}
	return ContentTypeCode
}
