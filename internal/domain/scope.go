package domain

import "strings"

// Scope partitions stored vectors: "global" or "project:<id>".
type Scope string

const (
	ScopeGlobal        Scope = "global"
	projectScopePrefix       = "project:"
)

// ProjectScope returns the scope owned by a project.
func ProjectScope(projectID string) Scope {
	return Scope(projectScopePrefix + projectID)
}

// ParseScope validates a raw scope string.
func ParseScope(raw string) (Scope, error) {
	switch {
	case raw == string(ScopeGlobal):
		return ScopeGlobal, nil
	case strings.HasPrefix(raw, projectScopePrefix) && len(raw) > len(projectScopePrefix):
		return Scope(raw), nil
	}
	return "", ErrInvalidScope
}

// ResolveScope applies the ingestion precedence: project id, explicit scope, global.
func ResolveScope(projectID string, scope Scope) Scope {
	if projectID != "" {
		return ProjectScope(projectID)
	}
	if scope != "" {
		return scope
	}
	return ScopeGlobal
}

// ProjectID returns the project id of a project scope.
func (s Scope) ProjectID() (string, bool) {
	if !strings.HasPrefix(string(s), projectScopePrefix) {
		return "", false
	}
	return strings.TrimPrefix(string(s), projectScopePrefix), true
}

// IsGlobal reports whether s is the global scope.
func (s Scope) IsGlobal() bool {
	return s == ScopeGlobal
}

// RetrieveMode selects which scopes a retrieval reads from.
type RetrieveMode string

const (
	RetrieveGlobal  RetrieveMode = "global"
	RetrieveProject RetrieveMode = "project"
	RetrieveAll     RetrieveMode = "all"
)

// ScopesFor expands a retrieval mode into the concrete scopes it covers.
func ScopesFor(mode RetrieveMode, projectID string) ([]Scope, error) {
	if mode == "" {
		mode = RetrieveGlobal
		if projectID != "" {
			mode = RetrieveProject
		}
	}
	switch mode {
	case RetrieveGlobal:
		return []Scope{ScopeGlobal}, nil
	case RetrieveProject:
		if projectID == "" {
			return nil, NewDomainError(ErrCodeValidation, "project scope requires a project id")
		}
		return []Scope{ProjectScope(projectID)}, nil
	case RetrieveAll:
		if projectID == "" {
			return []Scope{ScopeGlobal}, nil
		}
		return []Scope{ScopeGlobal, ProjectScope(projectID)}, nil
	}
	return nil, ErrInvalidScope
}
