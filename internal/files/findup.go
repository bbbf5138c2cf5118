package files

import (
	"fmt"
	"os"
	"path/filepath"
)

// FindUp searches for a file with the given name in dir and each of its ancestors, returning
// the empty string if no ancestor contains it.
func FindUp(name, dir string) (string, error) {
	curDir := dir
	for {
		entries, err := os.ReadDir(curDir)
		if err != nil {
			return "", fmt.Errorf("reading dir %q: %w", curDir, err)
		}
		for _, e := range entries {
			if name == e.Name() {
				return filepath.Join(curDir, name), nil
			}
		}
		newDir := filepath.Dir(curDir)
		if newDir == curDir {
			return "", nil
		}
		curDir = newDir
	}
}

// FindAgentBin locates the shellagent binary by searching up from the working directory.
func FindAgentBin() (string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getting wd: %w", err)
	}
	bin, err := FindUp("shellagent", wd)
	if err != nil {
		return "", err
	}
	if bin == "" {
		return "", fmt.Errorf("unable to find shellagent bin above %q", wd)
	}
	return bin, nil
}
