// Package executable validates the interpreter binaries that workers spawn.
package executable

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/wagiedev/rbridge-go/internal/errors"
)

// Resolve checks that path names an executable file and returns the path
// to run. Bare names such as "Rscript" are searched in PATH; anything
// containing a path separator must exist, be a regular file, and carry an
// execute permission bit.
//
// Returns *errors.ExecutableError on failure.
func Resolve(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", &errors.ExecutableError{Path: path, Err: fmt.Errorf("empty path")}
	}

	if !strings.ContainsRune(path, filepath.Separator) && !strings.ContainsRune(path, '/') {
		found, err := exec.LookPath(path)
		if err != nil {
			return "", &errors.ExecutableError{Path: path, Err: err}
		}

		return found, nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", &errors.ExecutableError{Path: path, Err: err}
	}

	if info.IsDir() {
		return "", &errors.ExecutableError{Path: path, Err: fmt.Errorf("is a directory")}
	}

	if !info.Mode().IsRegular() {
		return "", &errors.ExecutableError{Path: path, Err: fmt.Errorf("not a regular file")}
	}

	// Windows has no execute bit; exec.Cmd decides by extension there.
	if runtime.GOOS != "windows" && info.Mode().Perm()&0o111 == 0 {
		return "", &errors.ExecutableError{Path: path, Err: fmt.Errorf("not executable")}
	}

	return path, nil
}
