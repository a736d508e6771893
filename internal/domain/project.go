package domain

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

const DefaultBranch = "main"

// Project is a source repository whose contents are indexed into memory.
type Project struct {
	ID                  string
	Name                string
	RepoURL             string
	DefaultBranch       string
	LastIndexedRevision string
	LastIndexedBranch   string
	LastIndexedAt       *time.Time
	FileCount           int
	VectorCount         int64
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// NewProject creates a new Project instance
func NewProject(id, name, repoURL, branch string, createdAt time.Time) *Project {
	if branch == "" {
		branch = DefaultBranch
	}
	return &Project{
		ID:            id,
		Name:          name,
		RepoURL:       repoURL,
		DefaultBranch: branch,
		CreatedAt:     createdAt,
		UpdatedAt:     createdAt,
	}
}

// HasIndexedRevision reports whether a previous run recorded a revision to diff against.
func (p *Project) HasIndexedRevision() bool {
	return p.LastIndexedRevision != ""
}

// Scope returns the vector scope owned by the project.
func (p *Project) Scope() Scope {
	return ProjectScope(p.ID)
}

// ValidateProject validates a Project instance
func ValidateProject(p *Project) error {
	if p == nil {
		return fmt.Errorf("project cannot be nil")
	}

	if p.ID == "" {
		return fmt.Errorf("project ID is required")
	}

	if strings.ContainsAny(p.ID, ": ") {
		return fmt.Errorf("project ID cannot contain ':' or spaces")
	}

	if p.Name == "" {
		return fmt.Errorf("project Name is required")
	}

	if p.RepoURL == "" {
		return fmt.Errorf("project RepoURL is required")
	}

	if !isCloneableURL(p.RepoURL) {
		return fmt.Errorf("project RepoURL is not a supported git URL: %s", p.RepoURL)
	}

	return nil
}

// ProjectIndexState is the snapshot written after a successful indexing batch.
type ProjectIndexState struct {
	Revision    string
	Branch      string
	FileCount   int
	VectorCount int64
	IndexedAt   time.Time
}

func isCloneableURL(raw string) bool {
	// scp-like syntax: git@host:org/repo.git
	if strings.Contains(raw, "@") && strings.Contains(raw, ":") && !strings.Contains(raw, "://") {
		return true
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	switch u.Scheme {
	case "http", "https", "ssh", "git", "file":
		return true
	}
	return false
}
