package workspace

import (
	"errors"
	"fmt"
	"os/exec"
)

// Clone clones the passed repository into dir.
func Clone(repository, dir string) error {
	if err := exec.Command("git", "clone", repository, dir).Run(); err != nil {
		return errors.Join(fmt.Errorf("git clone of repository %s at %s failed", repository, dir), err)
	}
	return nil
}

// Checkout resets the working tree at dir to the passed commit and brings all
// submodules up to date.
func Checkout(dir, commit string) error {
	cmd := exec.Command("sh", "-c", fmt.Sprintf("git add . && git reset --hard %s", commit))
	cmd.Dir = dir
	if out, err := cmd.CombinedOutput(); err != nil {
		return errors.Join(fmt.Errorf("git checkout of %s at %s failed, output: %s", commit, dir, out), err)
	}

	cmd = exec.Command("git", "submodule", "update", "--init", "--recursive")
	cmd.Dir = dir
	if out, err := cmd.CombinedOutput(); err != nil {
		return errors.Join(fmt.Errorf("git submodule update at %s failed, output: %s", dir, out), err)
	}
	return nil
}
