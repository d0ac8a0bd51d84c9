//go:build windows

package feed

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// FindRuntime resolves an executable shipped in a "bin" directory next to
// the tracker binary or the working directory, falling back to PATH
func FindRuntime(runtime string) (string, error) {
	var lookup []string

	if exePath, err := os.Executable(); err == nil {
		lookup = append(lookup, filepath.Dir(exePath))
	}
	if wd, err := os.Getwd(); err == nil {
		lookup = append(lookup, wd)
	}

	name := runtime
	if !strings.HasSuffix(strings.ToLower(name), ".exe") {
		name += ".exe"
	}

	for _, dir := range lookup {
		binPath := filepath.Join(dir, "bin", name)
		if _, err := os.Stat(binPath); err == nil {
			return binPath, nil
		}
	}

	binPath, err := exec.LookPath(runtime)
	if err != nil {
		return "", fmt.Errorf("failed to find binary '%s': %w", runtime, err)
	}
	return binPath, nil
}
