package fsops

import (
	"os"
	"sync"

	"github.com/codelet-dev/codelet/internal/safety"
)

var (
	rootsOnce    sync.Once
	absReadRoot  string
	absWriteRoot string
	initRootsErr error
)

// initRoots resolves the sandbox roots from CODELET_READ_ROOT and
// CODELET_WRITE_ROOT, once. The roots fence tool file access away from
// session state under .codelet/.
func initRoots() {
	read := os.Getenv("CODELET_READ_ROOT")
	write := os.Getenv("CODELET_WRITE_ROOT")
	absReadRoot, absWriteRoot, initRootsErr = safety.InitSandboxRoot(read, write)
}

// getRoots returns the cached absolute read/write roots, initialising them once on first use.
func getRoots() (string, string, error) {
	rootsOnce.Do(initRoots)
	return absReadRoot, absWriteRoot, initRootsErr
}
