package group

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// Folder names double as directory names under the IPC root, so they are
// restricted to a conservative allow-list: no separators, no dots, nothing
// that could read as a traversal segment or an absolute path.
var reFolder = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// ValidFolder reports whether s is a safe tenant namespace name.
func ValidFolder(s string) bool {
	return reFolder.MatchString(strings.TrimSpace(s))
}

// ResolveIPCPath returns the canonical namespace directory for folder under
// root. It refuses unsafe folder names before touching the filesystem.
func ResolveIPCPath(root, folder string) (string, error) {
	if !ValidFolder(folder) {
		return "", fmt.Errorf("invalid group folder %q", folder)
	}
	abs, err := filepath.Abs(filepath.Join(root, folder))
	if err != nil {
		return "", fmt.Errorf("resolve ipc path for %q: %w", folder, err)
	}
	return abs, nil
}
