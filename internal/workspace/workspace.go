package workspace

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dchest/uniuri"
)

// EnvWorkspace names the environment variable holding the workspace root in
// which checkouts and build output live.
const EnvWorkspace = "CRASHBISECT_WORKSPACE"

// An EnvironmentError reports that required external state, such as the
// workspace root, is missing.
type EnvironmentError struct {
	Missing string
}

func (e *EnvironmentError) Error() string {
	return fmt.Sprintf("required environment is missing: %s", e.Missing)
}

// A Workspace is the designated directory tree for checked-out sources and
// build artifacts. Storage holds working trees, Out holds the shared build
// output of the current run.
type Workspace struct {
	Root    string
	Storage string
	Out     string
}

// Open resolves the workspace root from the environment and creates the
// storage and out directories if they do not exist yet.
func Open() (*Workspace, error) {
	root := os.Getenv(EnvWorkspace)
	if root == "" {
		return nil, &EnvironmentError{Missing: EnvWorkspace}
	}

	ws := &Workspace{
		Root:    root,
		Storage: filepath.Join(root, "storage"),
		Out:     filepath.Join(root, "out"),
	}
	for _, dir := range []string{ws.Storage, ws.Out} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return ws, nil
}

// Scoped creates a uniquely named temporary directory and returns it together
// with a release function removing it again. The release function is safe on
// every exit path, including failures half way through a run.
func Scoped(prefix string) (string, func(), error) {
	dir, err := os.MkdirTemp("", prefix+"-"+uniuri.New())
	if err != nil {
		return "", nil, err
	}
	return dir, func() { os.RemoveAll(dir) }, nil
}
