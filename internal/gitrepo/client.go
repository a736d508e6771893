// Package gitrepo drives git working copies through the git binary.
package gitrepo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/cloo-solutions/repomem/internal/domain"
)

var (
	ErrTimeout        = errors.New("git command timed out")
	ErrBranchNotFound = errors.New("branch not found on remote")
)

// Timeouts bound each class of git invocation.
type Timeouts struct {
	Clone   time.Duration
	Fetch   time.Duration
	Default time.Duration
}

func DefaultTimeouts() Timeouts {
	return Timeouts{
		Clone:   5 * time.Minute,
		Fetch:   2 * time.Minute,
		Default: 30 * time.Second,
	}
}

// CommandError carries the failed invocation and its stderr.
type CommandError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("git %s: %v", strings.Join(e.Args, " "), e.Err)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *CommandError) Unwrap() error { return e.Err }

type Client struct {
	binary   string
	timeouts Timeouts
}

func NewClient(timeouts Timeouts) *Client {
	d := DefaultTimeouts()
	if timeouts.Clone <= 0 {
		timeouts.Clone = d.Clone
	}
	if timeouts.Fetch <= 0 {
		timeouts.Fetch = d.Fetch
	}
	if timeouts.Default <= 0 {
		timeouts.Default = d.Default
	}
	return &Client{binary: "git", timeouts: timeouts}
}

// Available reports whether the git binary can be found.
func Available() bool {
	_, err := exec.LookPath("git")
	return err == nil
}

// IsRepository reports whether dir holds a git working copy.
func IsRepository(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, ".git"))
	return err == nil && info.IsDir()
}

// Clone makes a working copy of branch in dir. depth 0 clones full history.
func (c *Client) Clone(ctx context.Context, repoURL, branch, dir string, depth int) error {
	args := []string{"clone", "--single-branch", "--no-tags"}
	if depth > 0 {
		args = append(args, "--depth", fmt.Sprint(depth))
	}
	if branch != "" {
		args = append(args, "--branch", branch)
	}
	args = append(args, repoURL, dir)
	_, err := c.run(ctx, "", c.timeouts.Clone, args...)
	return err
}

func (c *Client) Fetch(ctx context.Context, dir, branch string) error {
	args := []string{"fetch", "--prune", "origin"}
	if branch != "" {
		args = append(args, fmt.Sprintf("+refs/heads/%s:refs/remotes/origin/%s", branch, branch))
	}
	_, err := c.run(ctx, dir, c.timeouts.Fetch, args...)
	return err
}

// FetchRevision fetches a single commit by id.
func (c *Client) FetchRevision(ctx context.Context, dir, revision string) error {
	_, err := c.run(ctx, dir, c.timeouts.Fetch, "fetch", "origin", revision)
	return err
}

// Checkout switches to branch, creating a tracking branch when needed.
func (c *Client) Checkout(ctx context.Context, dir, branch string) error {
	if _, err := c.run(ctx, dir, c.timeouts.Default, "checkout", branch); err == nil {
		return nil
	}
	_, err := c.run(ctx, dir, c.timeouts.Default, "checkout", "-B", branch, "--track", "origin/"+branch)
	return err
}

func (c *Client) Pull(ctx context.Context, dir, branch string) error {
	_, err := c.run(ctx, dir, c.timeouts.Fetch, "pull", "--ff-only", "--no-tags", "origin", branch)
	return err
}

// Diff classifies the paths changed between two revisions.
func (c *Client) Diff(ctx context.Context, dir, from, to string) (domain.GitDiffResult, error) {
	out, err := c.run(ctx, dir, c.timeouts.Default,
		"diff", "--name-status", "-z", "-M", from, to)
	if err != nil {
		return domain.GitDiffResult{}, err
	}
	return ParseNameStatusZ(out), nil
}

func (c *Client) HeadRevision(ctx context.Context, dir string) (string, error) {
	out, err := c.run(ctx, dir, c.timeouts.Default, "rev-parse", "HEAD")
	return strings.TrimSpace(out), err
}

func (c *Client) CurrentBranch(ctx context.Context, dir string) (string, error) {
	out, err := c.run(ctx, dir, c.timeouts.Default, "rev-parse", "--abbrev-ref", "HEAD")
	return strings.TrimSpace(out), err
}

// HasRevision reports whether the commit exists in the local object store.
func (c *Client) HasRevision(ctx context.Context, dir, revision string) bool {
	_, err := c.run(ctx, dir, c.timeouts.Default, "cat-file", "-e", revision+"^{commit}")
	return err == nil
}

// RemoteHead resolves the tip of branch on the remote without a working copy.
func (c *Client) RemoteHead(ctx context.Context, repoURL, branch string) (string, error) {
	out, err := c.run(ctx, "", c.timeouts.Fetch, "ls-remote", repoURL, "refs/heads/"+branch)
	if err != nil {
		return "", err
	}
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 2 && fields[1] == "refs/heads/"+branch {
			return fields[0], nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrBranchNotFound, branch)
}

func (c *Client) run(ctx context.Context, dir string, timeout time.Duration, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.binary, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0", "LC_ALL=C")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w after %s", ErrTimeout, timeout)
		} else if ctx.Err() != nil {
			err = ctx.Err()
		}
		return "", &CommandError{
			Args:   redactArgs(args),
			Stderr: strings.TrimSpace(stderr.String()),
			Err:    err,
		}
	}
	return stdout.String(), nil
}

// redactArgs strips credentials from URL arguments.
func redactArgs(args []string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = a
		if !strings.Contains(a, "://") {
			continue
		}
		if u, err := url.Parse(a); err == nil && u.User != nil {
			u.User = url.User("redacted")
			out[i] = u.String()
		}
	}
	return out
}
