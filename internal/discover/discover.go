// Package discover enumerates data files under a root directory.
package discover

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"sparkify/internal/etlerr"
)

// DefaultPattern matches the JSON-lines data files of both record families.
const DefaultPattern = "*.json"

// Files walks root recursively and returns the absolute path of every regular
// file whose base name matches pattern (filepath.Match syntax).
//
// Ordering:
//   - Paths are returned in lexical walk order (filepath.WalkDir), which is
//     stable for a fixed directory snapshot.
//
// Edge cases:
//   - An empty pattern uses DefaultPattern.
//   - Dot-files are skipped, like a shell glob; dot-directories are still
//     descended into.
//   - A symlink is listed under its own path when its target is a regular
//     file. Symlinked directories are not followed.
//   - No matches returns an empty slice and a nil error.
//
// Errors:
//   - Returns *etlerr.DiscoveryError if root is missing/unreadable or pattern
//     is malformed.
func Files(root, pattern string) ([]string, error) {
	if pattern == "" {
		pattern = DefaultPattern
	}
	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, &etlerr.DiscoveryError{Root: root, Err: err}
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, &etlerr.DiscoveryError{Root: root, Err: err}
	}

	out := []string{}
	err = filepath.WalkDir(abs, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		if strings.HasPrefix(name, ".") {
			return nil
		}
		if ok, _ := filepath.Match(pattern, name); !ok {
			return nil
		}
		if regular, err := isRegular(p, d); err != nil {
			return err
		} else if regular {
			out = append(out, p)
		}
		return nil
	})
	if err != nil {
		return nil, &etlerr.DiscoveryError{Root: root, Err: err}
	}
	return out, nil
}

// isRegular reports whether d is a regular file, resolving a symlink to its
// target. A dangling symlink is not an error; it is skipped.
func isRegular(path string, d fs.DirEntry) (bool, error) {
	if d.Type().IsRegular() {
		return true, nil
	}
	if d.Type()&fs.ModeSymlink == 0 {
		return false, nil
	}
	fi, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return fi.Mode().IsRegular(), nil
}
