// Package diff captures the change under review. A provider produces a
// Snapshot: the unified diff text, the changed file list, and the command
// a reviewer agent can run itself to read the change from the repo.
package diff

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
)

// Snapshot is the change a session reviews.
type Snapshot struct {
	// Command is the git command that reproduces the diff, for
	// prompts that let the agent read the change itself. Empty when
	// the diff was supplied directly.
	Command string

	// Patch is the unified diff text.
	Patch string

	// Files lists the changed paths.
	Files []string
}

// Provider produces the snapshot for a session.
type Provider interface {
	Snapshot(ctx context.Context) (*Snapshot, error)
}

// gitRefPattern matches refs made of safe characters only.
var gitRefPattern = regexp.MustCompile(`^[a-zA-Z0-9._/-]+$`)

// validateGitRef checks that a ref is safe to pass to git. exec.Command
// does no shell interpretation, but a ref starting with "-" could still
// be read as a flag.
func validateGitRef(ref string) error {
	if ref == "" {
		return fmt.Errorf("empty ref")
	}
	if strings.HasPrefix(ref, "-") {
		return fmt.Errorf("ref %q starts with dash (could be flag)",
			ref)
	}
	if strings.Contains(ref, "..") {
		return fmt.Errorf("ref %q contains '..'", ref)
	}
	if !gitRefPattern.MatchString(ref) {
		return fmt.Errorf("ref %q contains invalid characters", ref)
	}
	return nil
}

// GitProvider reads the diff from a git repository.
type GitProvider struct {
	// RepoPath is the repository root.
	RepoPath string

	// Branch is the branch under review. Empty means the current
	// HEAD.
	Branch string

	// BaseBranch is the base to diff against. Empty with an empty
	// Branch falls back to the last commit.
	BaseBranch string
}

// rangeArg returns the revision range argument for git diff, mirroring
// what reviewers are told to run.
func (p *GitProvider) rangeArg() string {
	switch {
	case p.Branch != "" && p.BaseBranch != "":
		return fmt.Sprintf("%s...%s", p.BaseBranch, p.Branch)
	case p.BaseBranch != "":
		return fmt.Sprintf("%s...HEAD", p.BaseBranch)
	default:
		return "HEAD~1"
	}
}

// Snapshot captures the diff and changed file list from the repository.
func (p *GitProvider) Snapshot(ctx context.Context) (*Snapshot, error) {
	if p.RepoPath == "" {
		return nil, fmt.Errorf("no repo path")
	}
	if p.Branch != "" {
		if err := validateGitRef(p.Branch); err != nil {
			return nil, fmt.Errorf("invalid branch: %w", err)
		}
	}
	if p.BaseBranch != "" {
		if err := validateGitRef(p.BaseBranch); err != nil {
			return nil, fmt.Errorf("invalid base branch: %w", err)
		}
	}

	rangeArg := p.rangeArg()

	patch, err := p.runGit(ctx, "diff", rangeArg, "--")
	if err != nil {
		return nil, err
	}

	nameOnly, err := p.runGit(ctx, "diff", "--name-only", rangeArg, "--")
	if err != nil {
		return nil, err
	}

	var files []string
	for _, line := range strings.Split(nameOnly, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			files = append(files, line)
		}
	}

	return &Snapshot{
		Command: "git diff " + rangeArg,
		Patch:   patch,
		Files:   files,
	}, nil
}

func (p *GitProvider) runGit(ctx context.Context,
	args ...string) (string, error) {

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = p.RepoPath

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		errMsg := strings.TrimSpace(stderr.String())
		if errMsg == "" {
			errMsg = err.Error()
		}
		return "", fmt.Errorf("git %s: %s", args[0], errMsg)
	}

	return stdout.String(), nil
}

// StaticProvider serves a pre-captured diff, for reviews of patches that
// do not live in a local repository.
type StaticProvider struct {
	// Patch is the unified diff text.
	Patch string
}

// Snapshot returns the static patch with the file list parsed from its
// headers.
func (p *StaticProvider) Snapshot(_ context.Context) (*Snapshot, error) {
	if strings.TrimSpace(p.Patch) == "" {
		return nil, fmt.Errorf("empty patch")
	}

	return &Snapshot{
		Patch: p.Patch,
		Files: parsePatchFiles(p.Patch),
	}, nil
}

// parsePatchFiles extracts changed paths from "+++ b/..." headers.
func parsePatchFiles(patch string) []string {
	var files []string
	for _, line := range strings.Split(patch, "\n") {
		path, ok := strings.CutPrefix(line, "+++ b/")
		if !ok {
			continue
		}
		if path = strings.TrimSpace(path); path != "" {
			files = append(files, path)
		}
	}
	return files
}
