package gitrepo

import (
	"strings"

	"github.com/cloo-solutions/repomem/internal/domain"
)

// ParseNameStatus classifies `git diff --name-status` output. Copies count
// as additions of the new path, type changes and unmerged entries as
// modifications. A path lands in at most one list; later entries for an
// already classified path are ignored.
func ParseNameStatus(output string) domain.GitDiffResult {
	var c classifier
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		c.add(fields[0], fields[1:])
	}
	return c.res
}

// ParseNameStatusZ classifies `git diff --name-status -z` output, where the
// status and every path are NUL terminated and paths are never quoted.
func ParseNameStatusZ(output string) domain.GitDiffResult {
	var c classifier
	tokens := strings.Split(output, "\x00")
	for i := 0; i < len(tokens); {
		status := tokens[i]
		i++
		if status == "" {
			continue
		}
		n := 1
		if status[0] == 'R' || status[0] == 'C' {
			n = 2
		}
		if i+n > len(tokens) {
			break
		}
		c.add(status, tokens[i:i+n])
		i += n
	}
	return c.res
}

type classifier struct {
	res  domain.GitDiffResult
	seen map[string]bool
}

func (c *classifier) claim(paths ...string) bool {
	if c.seen == nil {
		c.seen = make(map[string]bool)
	}
	for _, p := range paths {
		if p == "" || c.seen[p] {
			return false
		}
	}
	for _, p := range paths {
		c.seen[p] = true
	}
	return true
}

func (c *classifier) add(status string, paths []string) {
	if status == "" || len(paths) == 0 {
		return
	}
	switch status[0] {
	case 'A':
		if c.claim(paths[0]) {
			c.res.Added = append(c.res.Added, paths[0])
		}
	case 'M', 'T', 'U':
		if c.claim(paths[0]) {
			c.res.Modified = append(c.res.Modified, paths[0])
		}
	case 'D':
		if c.claim(paths[0]) {
			c.res.Deleted = append(c.res.Deleted, paths[0])
		}
	case 'R':
		if len(paths) < 2 {
			return
		}
		if c.claim(paths[0], paths[1]) {
			c.res.Renamed = append(c.res.Renamed, domain.RenamedPath{From: paths[0], To: paths[1]})
		}
	case 'C':
		if len(paths) < 2 {
			return
		}
		if c.claim(paths[1]) {
			c.res.Added = append(c.res.Added, paths[1])
		}
	}
}
