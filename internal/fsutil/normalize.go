package fsutil

import (
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"strings"
)

// CleanFSPath normalizes a request or watcher path for use with fs.FS. Paths
// that would escape the root are rejected.
func CleanFSPath(pathValue string) (string, error) {
	slashPath := filepath.ToSlash(pathValue)
	slashPath = strings.TrimLeft(slashPath, "/")
	if slashPath == "" {
		return ".", nil
	}
	cleaned := path.Clean(slashPath)
	if cleaned == "." {
		return ".", nil
	}
	if !fs.ValidPath(cleaned) {
		return "", fmt.Errorf("invalid fs path: %q", pathValue)
	}
	return cleaned, nil
}
