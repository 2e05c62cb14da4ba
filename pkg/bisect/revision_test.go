package bisect

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewRevisionRange(t *testing.T) {
	lister := &fakeLister{commits: []string{"new", "mid", "old"}}

	rng, err := NewRevisionRange(lister, "old", "new")
	assert.Nil(t, err, "NewRevisionRange returned an error")

	assert.Equal(t, 3, rng.Len(), "Wrong range length")
	assert.Equal(t, Revision{Hash: "new", Index: 0}, rng.At(0), "Index 0 must be the newest bound")
	assert.Equal(t, Revision{Hash: "mid", Index: 1}, rng.At(1), "Wrong revision at index 1")
	assert.Equal(t, Revision{Hash: "old", Index: 2}, rng.At(2), "Index 2 must be the oldest bound")
}

func TestNewRevisionRangeEmpty(t *testing.T) {
	_, err := NewRevisionRange(&fakeLister{}, "old", "new")

	var rangeErr *RangeError
	assert.True(t, errors.As(err, &rangeErr), "Expected a range error for an empty listing")
}

// initTestRepo creates a throwaway git repository with the requested number
// of commits and returns its path plus the commit hashes, newest first.
func initTestRepo(t *testing.T, commits int) (string, []string) {
	t.Helper()

	dir := t.TempDir()
	git := func(args ...string) {
		t.Helper()
		cmd := exec.Command("git", append([]string{"-c", "user.name=test", "-c", "user.email=test@example.com"}, args...)...)
		cmd.Dir = dir
		out, err := cmd.CombinedOutput()
		if err != nil {
			assert.FailNowf(t, "git command failed", "git %v: %s", args, out)
		}
	}

	git("init", "-q")
	hashes := make([]string, 0, commits)
	for i := 0; i < commits; i++ {
		assert.Nil(t, os.WriteFile(dir+"/file", []byte(fmt.Sprintf("revision %d\n", i)), 0644))
		git("add", "file")
		git("commit", "-q", "-m", fmt.Sprintf("commit %d", i))

		cmd := exec.Command("git", "rev-parse", "HEAD")
		cmd.Dir = dir
		out, err := cmd.Output()
		assert.Nil(t, err, "rev-parse failed")
		hashes = append([]string{string(out[:len(out)-1])}, hashes...)
	}
	return dir, hashes
}

func TestGitListerListCommits(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}

	dir, hashes := initTestRepo(t, 5)
	lister := &GitLister{RepoDir: dir}

	got, err := lister.ListCommits(hashes[4], hashes[0])
	assert.Nil(t, err, "ListCommits returned an error")
	assert.Equal(t, hashes, got, "Expected the full chain, newest first, both endpoints included")

	// Interior sub-range
	got, err = lister.ListCommits(hashes[3], hashes[1])
	assert.Nil(t, err, "ListCommits returned an error")
	assert.Equal(t, hashes[1:4], got, "Wrong sub-range")

	// Equal endpoints collapse to a single revision
	got, err = lister.ListCommits(hashes[2], hashes[2])
	assert.Nil(t, err, "ListCommits returned an error")
	assert.Equal(t, []string{hashes[2]}, got, "Equal endpoints must yield one commit")
}

func TestGitListerWalksFirstParentChain(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}

	dir, hashes := initTestRepo(t, 2)
	git := func(args ...string) {
		t.Helper()
		cmd := exec.Command("git", append([]string{"-c", "user.name=test", "-c", "user.email=test@example.com"}, args...)...)
		cmd.Dir = dir
		out, err := cmd.CombinedOutput()
		if err != nil {
			assert.FailNowf(t, "git command failed", "git %v: %s", args, out)
		}
	}
	revParse := func(rev string) string {
		cmd := exec.Command("git", "rev-parse", rev)
		cmd.Dir = dir
		out, err := cmd.Output()
		assert.Nil(t, err, "rev-parse failed")
		return string(out[:len(out)-1])
	}

	// A side branch merged back into the mainline
	git("checkout", "-q", "-b", "side", hashes[1])
	assert.Nil(t, os.WriteFile(dir+"/side-file", []byte("side\n"), 0644))
	git("add", "side-file")
	git("commit", "-q", "-m", "side commit")
	sideHash := revParse("HEAD")

	git("checkout", "-q", "-")
	git("merge", "-q", "--no-ff", "-m", "merge side", "side")
	mergeHash := revParse("HEAD")

	lister := &GitLister{RepoDir: dir}
	got, err := lister.ListCommits(hashes[1], mergeHash)
	assert.Nil(t, err, "ListCommits returned an error")

	// The range follows the mainline through the merge, the side branch
	// commit is not part of it
	assert.Equal(t, []string{mergeHash, hashes[0], hashes[1]}, got, "Expected the first-parent chain")
	assert.NotContains(t, got, sideHash, "Side branch commits are not part of the range")
}

func TestGitListerRejectsBadRanges(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}

	dir, hashes := initTestRepo(t, 3)
	lister := &GitLister{RepoDir: dir}

	var rangeErr *RangeError

	// Unknown revision
	_, err := lister.ListCommits("0000000000000000000000000000000000000000", hashes[0])
	assert.True(t, errors.As(err, &rangeErr), "Expected a range error for an unknown revision")

	// Endpoints swapped, old is not an ancestor of new
	_, err = lister.ListCommits(hashes[0], hashes[2])
	assert.True(t, errors.As(err, &rangeErr), "Expected a range error for swapped endpoints")
}

func TestGitListerDescribe(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}

	dir, hashes := initTestRepo(t, 2)
	lister := &GitLister{RepoDir: dir}

	info, err := lister.Describe(hashes[0])
	assert.Nil(t, err, "Describe returned an error")

	assert.Equal(t, "commit 1", info.Message, "Wrong commit message")
	assert.Equal(t, "test <test@example.com>", info.Author, "Wrong author")
	assert.NotEmpty(t, info.Date, "Expected a commit date")
}
