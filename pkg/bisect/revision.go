package bisect

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// A Revision is one commit inside a RevisionRange, identified by its hash
// and its position in the range.
type Revision struct {
	Hash  string
	Index int
}

// A RevisionRange is the ordered sequence of revisions between two bounds,
// inclusive of both. Index 0 is the newest bound, the last index the oldest,
// and each element is an ancestor of the previous one. Ranges are built once
// per bisection and read-only afterwards.
type RevisionRange struct {
	revisions []Revision
}

// A RangeError reports that a revision range could not be materialized, for
// example because an endpoint is unknown to the VCS or the endpoints are not
// related by ancestry.
type RangeError struct {
	Old, New string
	Reason   string
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("invalid revision range %s..%s: %s", e.Old, e.New, e.Reason)
}

// A CommitLister enumerates the commits of a range. ListCommits returns
// hashes ordered newest first and includes both endpoints exactly once. A
// range whose endpoints are equal is returned as a single hash.
type CommitLister interface {
	ListCommits(oldRev, newRev string) ([]string, error)
}

// CommitInfo holds display metadata of a commit.
type CommitInfo struct {
	Message string
	Date    string
	Author  string
}

// A CommitDescriber can look up display metadata of a commit. Listers may
// optionally implement it to enrich bisection results.
type CommitDescriber interface {
	Describe(hash string) (CommitInfo, error)
}

// NewRevisionRange materializes the range between oldRev and newRev from the
// passed lister.
func NewRevisionRange(lister CommitLister, oldRev, newRev string) (*RevisionRange, error) {
	hashes, err := lister.ListCommits(oldRev, newRev)
	if err != nil {
		return nil, err
	}
	if len(hashes) == 0 {
		return nil, &RangeError{Old: oldRev, New: newRev, Reason: "lister returned no commits"}
	}

	revisions := make([]Revision, len(hashes))
	for i, hash := range hashes {
		revisions[i] = Revision{Hash: hash, Index: i}
	}
	return &RevisionRange{revisions: revisions}, nil
}

// Len returns the number of revisions in the range.
func (r *RevisionRange) Len() int { return len(r.revisions) }

// At returns the revision at the passed index, where index 0 is the newest
// bound.
func (r *RevisionRange) At(i int) Revision { return r.revisions[i] }

// A GitLister enumerates commits of a local git working tree.
type GitLister struct {
	RepoDir string
}

// ListCommits returns the first-parent chain from newRev back to oldRev,
// newest first, with oldRev appended as the oldest bound. Merged-in side
// branches are never walked: the old bound is assumed to sit on the
// first-parent chain of newRev. An old bound reachable only through a second
// parent passes the ancestry check but yields a range whose tail the listed
// chain does not descend from.
func (g *GitLister) ListCommits(oldRev, newRev string) ([]string, error) {
	oldHash, err := g.resolve(oldRev)
	if err != nil {
		return nil, &RangeError{Old: oldRev, New: newRev, Reason: fmt.Sprintf("unknown revision %s", oldRev)}
	}
	newHash, err := g.resolve(newRev)
	if err != nil {
		return nil, &RangeError{Old: oldRev, New: newRev, Reason: fmt.Sprintf("unknown revision %s", newRev)}
	}

	if oldHash == newHash {
		return []string{oldHash}, nil
	}

	cmd := exec.Command("git", "merge-base", "--is-ancestor", oldHash, newHash)
	cmd.Dir = g.RepoDir
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, &RangeError{Old: oldRev, New: newRev, Reason: fmt.Sprintf("%s is not an ancestor of %s", oldRev, newRev)}
		}
		return nil, errors.Join(fmt.Errorf("ancestry check of %s..%s failed", oldRev, newRev), err)
	}

	cmd = exec.Command("git", "rev-list", "--first-parent", "^"+oldHash, newHash)
	cmd.Dir = g.RepoDir
	out, err := cmd.Output()
	if err != nil {
		return nil, errors.Join(fmt.Errorf("failed to get rev-list of new commit %s to old commit %s", newRev, oldRev), err)
	}
	commits := strings.Split(strings.TrimSuffix(string(out), "\n"), "\n")

	// rev-list excludes the old boundary commit, the range includes it
	return append(commits, oldHash), nil
}

// Describe returns message, date and author of a commit.
func (g *GitLister) Describe(hash string) (CommitInfo, error) {
	cmd := exec.Command("git", "--no-pager", "show", "-s", "--format=%B%n%aD%n%an <%ae>", hash)
	cmd.Dir = g.RepoDir
	outBytes, err := cmd.CombinedOutput()
	if err != nil {
		return CommitInfo{}, errors.Join(fmt.Errorf("couldn't get commit info of %s, output: %s", hash, outBytes), err)
	}

	out := string(outBytes)
	if len(out) == 0 || strings.Count(out, "\n") < 3 {
		return CommitInfo{}, fmt.Errorf("git show output is not of the expected format: %q", out)
	}

	out = strings.TrimSuffix(out, "\n")
	authorOffset := strings.LastIndex(out, "\n")
	dateOffset := strings.LastIndex(out[:authorOffset], "\n")

	return CommitInfo{
		Message: strings.TrimSpace(out[:dateOffset]),
		Date:    out[dateOffset+1 : authorOffset],
		Author:  out[authorOffset+1:],
	}, nil
}

func (g *GitLister) resolve(rev string) (string, error) {
	cmd := exec.Command("git", "rev-parse", "--verify", rev+"^{commit}")
	cmd.Dir = g.RepoDir
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSuffix(string(out), "\n"), nil
}
