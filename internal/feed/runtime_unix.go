//go:build !windows

package feed

import (
	"errors"
	"fmt"
	"os/exec"
)

// FindRuntime resolves an executable in PATH
func FindRuntime(runtime string) (string, error) {
	binPath, err := exec.LookPath(runtime)
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return "", fmt.Errorf("%s: %w", runtime, err)
		}
		return "", err
	}
	return binPath, nil
}
