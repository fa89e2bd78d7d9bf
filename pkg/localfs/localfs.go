package localfs

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// FileSystem implements api.FileSystem over the host OS, with scratch
// space scoped under the project root so staging and the final
// destination always share a volume (moves stay atomic renames).
type FileSystem struct {
	projectRoot string
	tempRoot    string
}

// New creates a FileSystem rooted at projectRoot. Scratch directories are
// allocated under <projectRoot>/.stash/tmp.
func New(projectRoot string) (*FileSystem, error) {
	tempRoot := filepath.Join(projectRoot, ".stash", "tmp")
	if err := os.MkdirAll(tempRoot, 0755); err != nil {
		return nil, fmt.Errorf("failed to create scratch root: %w", err)
	}
	return &FileSystem{projectRoot: projectRoot, tempRoot: tempRoot}, nil
}

// ProjectRoot returns the root every local path is scoped under.
func (f *FileSystem) ProjectRoot() string { return f.projectRoot }

// Exists reports whether the path exists.
func (f *FileSystem) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// MkdirAll creates the directory and any missing parents.
func (f *FileSystem) MkdirAll(path string) error {
	if err := os.MkdirAll(path, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", path, err)
	}
	return nil
}

// CreateFile creates (or truncates) the file, creating parents as needed.
func (f *FileSystem) CreateFile(path string) (io.WriteCloser, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create parent directory for %s: %w", path, err)
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create file %s: %w", path, err)
	}
	return file, nil
}

// Move renames src to dst, creating dst's parent as needed.
func (f *FileSystem) Move(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("failed to create parent directory for %s: %w", dst, err)
	}
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("failed to move %s to %s: %w", src, dst, err)
	}
	return nil
}

// Delete removes a single file.
func (f *FileSystem) Delete(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete %s: %w", path, err)
	}
	return nil
}

// DeleteDir removes a directory tree.
func (f *FileSystem) DeleteDir(path string) error {
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("failed to delete directory %s: %w", path, err)
	}
	return nil
}

// EnumerateFiles lists every regular file under dir, recursively. A
// missing dir yields an empty list.
func (f *FileSystem) EnumerateFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.Type().IsRegular() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate %s: %w", dir, err)
	}
	return files, nil
}

// TempDir allocates a fresh scratch directory scoped to the project.
func (f *FileSystem) TempDir(prefix string) (string, error) {
	dir, err := os.MkdirTemp(f.tempRoot, prefix)
	if err != nil {
		return "", fmt.Errorf("failed to allocate scratch directory: %w", err)
	}
	return dir, nil
}
