package git

import (
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// WorktreeInfo holds parsed worktree metadata from `git worktree list --porcelain`.
type WorktreeInfo struct {
	Path   string
	Branch string
	HEAD   string
}

// FileChange is one entry from a name-status diff between two commits.
// Status is the single-letter git status code (A, M, D).
type FileChange struct {
	Path   string
	Status string
}

// CommitInfo is a single commit touching a file, oldest first when
// returned from LogFile.
type CommitInfo struct {
	Hash    string
	Subject string
	Date    time.Time
}

// Client defines the VCS capabilities the merge core consumes. All
// methods take a repository path since autoclaude operates on multiple
// worktrees of the same repository.
type Client interface {
	RepoRoot(path string) (string, error)
	CurrentBranch(path string) (string, error)
	IsDirty(path string) (bool, error)

	RevParse(path, ref string) (string, error)
	MergeBase(path, a, b string) (string, error)
	ShowFile(path, commit, file string) (string, error)
	DiffNameStatus(path, from, to string) ([]FileChange, error)
	BinaryChanged(path, from, to string) (map[string]bool, error)
	LogFile(path, from, to, file string) ([]CommitInfo, error)

	BranchExists(path, branch string) (bool, error)
	BranchDelete(path, branch string, force bool) error

	WorktreeAdd(path, wtPath, branch, base string, newBranch bool) error
	WorktreeAddDetached(path, wtPath, commit string) error
	WorktreeRemove(path, wtPath string, force bool) error
	WorktreeList(path string) ([]WorktreeInfo, error)
	WorktreePrune(path string) error

	UpdateRef(path, ref, newValue, oldValue string) error

	MergeFile(current, base, other string) (string, int, error)
	MergeNoCommit(wtPath, branch string) (bool, error)
	MergeAbort(wtPath string) error
	Add(wtPath string, files ...string) error
	Commit(wtPath, message string) (string, error)
}

// RealClient implements Client using real git commands.
type RealClient struct{}

// NewClient returns a new RealClient.
func NewClient() *RealClient {
	return &RealClient{}
}

func gitCmd(path string, args ...string) (string, error) {
	fullArgs := append([]string{"-C", path}, args...)
	out, err := exec.Command("git", fullArgs...).Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return "", fmt.Errorf("git %s: %s", strings.Join(args, " "), strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
	}
	return strings.TrimSpace(string(out)), nil
}

func (c *RealClient) RepoRoot(path string) (string, error) {
	return gitCmd(path, "rev-parse", "--show-toplevel")
}

func (c *RealClient) CurrentBranch(path string) (string, error) {
	return gitCmd(path, "rev-parse", "--abbrev-ref", "HEAD")
}

func (c *RealClient) IsDirty(path string) (bool, error) {
	out, err := gitCmd(path, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return out != "", nil
}

func (c *RealClient) RevParse(path, ref string) (string, error) {
	return gitCmd(path, "rev-parse", "--verify", ref+"^{commit}")
}

func (c *RealClient) MergeBase(path, a, b string) (string, error) {
	return gitCmd(path, "merge-base", a, b)
}

// ShowFile returns the contents of file at commit. A missing path is an
// error; callers that need "absent" check the name-status diff first.
func (c *RealClient) ShowFile(path, commit, file string) (string, error) {
	out, err := exec.Command("git", "-C", path, "show", commit+":"+file).Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return "", fmt.Errorf("git show %s:%s: %s", commit, file, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("git show %s:%s: %w", commit, file, err)
	}
	// No TrimSpace: file contents are returned byte-exact.
	return string(out), nil
}

// DiffNameStatus lists files changed between two commits. Renames are
// disabled so a rename surfaces as a delete plus an add.
func (c *RealClient) DiffNameStatus(path, from, to string) ([]FileChange, error) {
	out, err := gitCmd(path, "diff", "--name-status", "--no-renames", from, to)
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	var changes []FileChange
	for _, line := range strings.Split(out, "\n") {
		parts := strings.SplitN(line, "\t", 2)
		if len(parts) != 2 {
			continue
		}
		changes = append(changes, FileChange{
			Status: strings.TrimSpace(parts[0]),
			Path:   parts[1],
		})
	}
	return changes, nil
}

// BinaryChanged reports which of the files changed between two commits
// git considers binary (numstat prints "-" counts for them).
func (c *RealClient) BinaryChanged(path, from, to string) (map[string]bool, error) {
	out, err := gitCmd(path, "diff", "--numstat", "--no-renames", from, to)
	if err != nil {
		return nil, err
	}
	binary := make(map[string]bool)
	if out == "" {
		return binary, nil
	}
	for _, line := range strings.Split(out, "\n") {
		parts := strings.SplitN(line, "\t", 3)
		if len(parts) != 3 {
			continue
		}
		if parts[0] == "-" || parts[1] == "-" {
			binary[parts[2]] = true
		}
	}
	return binary, nil
}

// LogFile returns the commits in from..to that touched file, oldest
// first. The unit separator keeps subjects containing tabs intact.
func (c *RealClient) LogFile(path, from, to, file string) ([]CommitInfo, error) {
	out, err := gitCmd(path, "log", "--reverse", "--format=%H%x1f%s%x1f%aI", from+".."+to, "--", file)
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	var commits []CommitInfo
	for _, line := range strings.Split(out, "\n") {
		parts := strings.SplitN(line, "\x1f", 3)
		if len(parts) != 3 {
			continue
		}
		ci := CommitInfo{Hash: parts[0], Subject: parts[1]}
		if t, err := time.Parse(time.RFC3339, parts[2]); err == nil {
			ci.Date = t
		}
		commits = append(commits, ci)
	}
	return commits, nil
}

func (c *RealClient) BranchExists(path, branch string) (bool, error) {
	err := exec.Command("git", "-C", path, "show-ref", "--verify", "--quiet", "refs/heads/"+branch).Run()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (c *RealClient) BranchDelete(path, branch string, force bool) error {
	flag := "-d"
	if force {
		flag = "-D"
	}
	_, err := gitCmd(path, "branch", flag, branch)
	return err
}

func (c *RealClient) WorktreeAdd(path, wtPath, branch, base string, newBranch bool) error {
	var args []string
	if newBranch {
		args = []string{"-C", path, "worktree", "add", "-b", branch, wtPath, base}
	} else {
		args = []string{"-C", path, "worktree", "add", wtPath, branch}
	}
	out, err := exec.Command("git", args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("git worktree add: %s", strings.TrimSpace(string(out)))
	}
	return nil
}

// WorktreeAddDetached checks out commit into a new worktree with a
// detached HEAD, leaving every branch free to stay checked out
// elsewhere.
func (c *RealClient) WorktreeAddDetached(path, wtPath, commit string) error {
	out, err := exec.Command("git", "-C", path, "worktree", "add", "--detach", wtPath, commit).CombinedOutput()
	if err != nil {
		return fmt.Errorf("git worktree add --detach: %s", strings.TrimSpace(string(out)))
	}
	return nil
}

// UpdateRef moves ref to newValue only if it currently points at
// oldValue, failing otherwise. This is the compare-and-swap that keeps
// branch updates atomic.
func (c *RealClient) UpdateRef(path, ref, newValue, oldValue string) error {
	_, err := gitCmd(path, "update-ref", ref, newValue, oldValue)
	return err
}

func (c *RealClient) WorktreeRemove(path, wtPath string, force bool) error {
	args := []string{"-C", path, "worktree", "remove"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, wtPath)
	out, err := exec.Command("git", args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("git worktree remove: %s", strings.TrimSpace(string(out)))
	}
	return nil
}

func (c *RealClient) WorktreeList(path string) ([]WorktreeInfo, error) {
	out, err := gitCmd(path, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}
	return ParseWorktreeListPorcelain(out), nil
}

func (c *RealClient) WorktreePrune(path string) error {
	_, err := gitCmd(path, "worktree", "prune")
	return err
}

// MergeFile runs git's native three-way file merge on three extracted
// versions. It returns the merged content (with conflict markers when
// the merge is not clean) and the number of remaining conflicts. The
// exit status of merge-file is the conflict count, so a positive exit
// with output is not an error.
func (c *RealClient) MergeFile(current, base, other string) (string, int, error) {
	out, err := exec.Command("git", "merge-file", "-p", current, base, other).Output()
	if err != nil {
		exitErr, ok := err.(*exec.ExitError)
		if !ok || exitErr.ExitCode() < 0 {
			return "", 0, fmt.Errorf("git merge-file: %w", err)
		}
		return string(out), exitErr.ExitCode(), nil
	}
	return string(out), 0, nil
}

// MergeNoCommit starts a merge in wtPath without committing. It reports
// whether the merge stopped on conflicts.
func (c *RealClient) MergeNoCommit(wtPath, branch string) (bool, error) {
	out, err := exec.Command("git", "-C", wtPath, "merge", "--no-commit", "--no-ff", branch).CombinedOutput()
	if err != nil {
		if strings.Contains(string(out), "CONFLICT") || strings.Contains(string(out), "Automatic merge failed") {
			return true, nil
		}
		return false, fmt.Errorf("git merge: %s", strings.TrimSpace(string(out)))
	}
	return false, nil
}

func (c *RealClient) MergeAbort(wtPath string) error {
	out, err := exec.Command("git", "-C", wtPath, "merge", "--abort").CombinedOutput()
	if err != nil {
		return fmt.Errorf("git merge --abort: %s", strings.TrimSpace(string(out)))
	}
	return nil
}

func (c *RealClient) Add(wtPath string, files ...string) error {
	args := append([]string{"-C", wtPath, "add", "--"}, files...)
	out, err := exec.Command("git", args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("git add: %s", strings.TrimSpace(string(out)))
	}
	return nil
}

func (c *RealClient) Commit(wtPath, message string) (string, error) {
	out, err := exec.Command("git", "-C", wtPath, "commit", "-m", message).CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git commit: %s", strings.TrimSpace(string(out)))
	}
	return gitCmd(wtPath, "rev-parse", "HEAD")
}

// ParseWorktreeListPorcelain parses the output of `git worktree list --porcelain`.
func ParseWorktreeListPorcelain(output string) []WorktreeInfo {
	var worktrees []WorktreeInfo
	var current WorktreeInfo

	for _, line := range strings.Split(output, "\n") {
		switch {
		case strings.HasPrefix(line, "worktree "):
			current.Path = strings.TrimPrefix(line, "worktree ")
		case strings.HasPrefix(line, "HEAD "):
			current.HEAD = strings.TrimPrefix(line, "HEAD ")
		case strings.HasPrefix(line, "branch "):
			branch := strings.TrimPrefix(line, "branch ")
			current.Branch = strings.TrimPrefix(branch, "refs/heads/")
		case line == "":
			if current.Path != "" {
				worktrees = append(worktrees, current)
				current = WorktreeInfo{}
			}
		}
	}
	if current.Path != "" {
		worktrees = append(worktrees, current)
	}
	return worktrees
}
