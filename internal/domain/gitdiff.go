package domain

// RenamedPath is one rename between two revisions.
type RenamedPath struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// GitDiffResult classifies file changes between two revisions.
// A path appears in at most one list.
type GitDiffResult struct {
	Added    []string      `json:"added"`
	Modified []string      `json:"modified"`
	Deleted  []string      `json:"deleted"`
	Renamed  []RenamedPath `json:"renamed"`
}

// IsEmpty reports whether the diff contains no changes.
func (d GitDiffResult) IsEmpty() bool {
	return len(d.Added) == 0 && len(d.Modified) == 0 && len(d.Deleted) == 0 && len(d.Renamed) == 0
}

// Total returns the number of classified paths.
func (d GitDiffResult) Total() int {
	return len(d.Added) + len(d.Modified) + len(d.Deleted) + len(d.Renamed)
}
