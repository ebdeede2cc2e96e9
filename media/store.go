package media

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/camden-git/albumconverter/logger"
	"go.uber.org/zap"
)

// maxUniqueAttempts bounds the "-N" suffix search for a free file name.
const maxUniqueAttempts = 10000

// Store defines the filesystem operations the album pipeline needs. All
// paths it accepts or returns are absolute and must lie below the store root.
type Store interface {
	// EnsureAlbumDir creates (or reuses) the directory for an album name
	EnsureAlbumDir(name string) (string, error)
	// SaveUnique writes data into dir under filename, adding a "-N" suffix when taken
	SaveUnique(dir, filename string, data io.Reader) (string, error)
	// MoveUnique renames src into dir under filename, adding a "-N" suffix when taken
	MoveUnique(src, dir, filename string) (string, error)
	// Exists reports whether dir/filename is present
	Exists(dir, filename string) bool
	// RemoveAll deletes a path below the root; missing paths are not an error
	RemoveAll(path string) error
	// DirSize sums the sizes of regular files below path
	DirSize(path string) (int64, error)
	// Root returns the absolute root directory
	Root() string
}

// LocalStorage implements the Store interface using the local filesystem
type LocalStorage struct {
	basePath string // absolute albums root
}

// NewLocalStorage creates a new local filesystem store
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	absBasePath, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("invalid base storage path '%s': %w", basePath, err)
	}

	if err := os.MkdirAll(absBasePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base storage directory '%s': %w", absBasePath, err)
	}

	logger.Info("media.store: initialized local storage", zap.String("root", absBasePath))
	return &LocalStorage{basePath: absBasePath}, nil
}

func (ls *LocalStorage) Root() string {
	return ls.basePath
}

// contains reports whether path is strictly below the root.
func (ls *LocalStorage) contains(path string) bool {
	rel, err := filepath.Rel(ls.basePath, filepath.Clean(path))
	if err != nil || rel == "." {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// EnsureAlbumDir creates the directory for the album if it doesn't exist
func (ls *LocalStorage) EnsureAlbumDir(name string) (string, error) {
	clean := strings.TrimSpace(name)
	if clean == "" || clean == "." || clean == ".." || strings.ContainsAny(clean, `/\`) {
		return "", fmt.Errorf("invalid album directory name '%s'", name)
	}

	dirPath := filepath.Join(ls.basePath, clean)
	if !ls.contains(dirPath) {
		return "", fmt.Errorf("album directory '%s' resolves outside base path", name)
	}
	if err := os.MkdirAll(dirPath, 0755); err != nil {
		return "", fmt.Errorf("failed to ensure directory '%s': %w", dirPath, err)
	}
	return dirPath, nil
}

func (ls *LocalStorage) checkDir(dir string) error {
	if !ls.contains(dir) {
		return fmt.Errorf("invalid path: access denied for '%s'", dir)
	}
	return nil
}

// SaveUnique stores data as a new file and returns its full path
func (ls *LocalStorage) SaveUnique(dir, filename string, data io.Reader) (string, error) {
	if err := ls.checkDir(dir); err != nil {
		return "", err
	}

	outFile, fullSavePath, err := createUnique(dir, filename)
	if err != nil {
		return "", err
	}

	if _, err := io.Copy(outFile, data); err != nil {
		outFile.Close()
		os.Remove(fullSavePath)
		return "", fmt.Errorf("failed to write data to '%s': %w", fullSavePath, err)
	}
	if err := outFile.Close(); err != nil {
		os.Remove(fullSavePath)
		return "", fmt.Errorf("failed to close '%s': %w", fullSavePath, err)
	}
	return fullSavePath, nil
}

// MoveUnique renames src into dir and returns the new full path
func (ls *LocalStorage) MoveUnique(src, dir, filename string) (string, error) {
	if err := ls.checkDir(dir); err != nil {
		return "", err
	}

	// reserve the name first so a concurrent writer cannot take it
	placeholder, target, err := createUnique(dir, filename)
	if err != nil {
		return "", err
	}
	placeholder.Close()

	if err := os.Rename(src, target); err != nil {
		os.Remove(target)
		return "", fmt.Errorf("failed to move '%s' to '%s': %w", src, target, err)
	}
	return target, nil
}

func (ls *LocalStorage) Exists(dir, filename string) bool {
	_, err := os.Stat(filepath.Join(dir, filename))
	return err == nil
}

// RemoveAll deletes a file or directory tree below the root
func (ls *LocalStorage) RemoveAll(path string) error {
	if !ls.contains(path) {
		return fmt.Errorf("invalid path: refusing to remove '%s'", path)
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("failed to remove '%s': %w", path, err)
	}
	return nil
}

func (ls *LocalStorage) DirSize(path string) (int64, error) {
	var size int64
	err := filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			size += info.Size()
		}
		return nil
	})
	if err != nil {
		return size, fmt.Errorf("failed to size '%s': %w", path, err)
	}
	return size, nil
}

// createUnique opens a new file named filename in dir, or "<stem>-N<ext>" for
// the first free N when filename is taken.
func createUnique(dir, filename string) (*os.File, string, error) {
	ext := filepath.Ext(filename)
	stem := strings.TrimSuffix(filename, ext)

	candidate := filename
	for n := 1; n <= maxUniqueAttempts; n++ {
		fullPath := filepath.Join(dir, candidate)
		f, err := os.OpenFile(fullPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			return f, fullPath, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, "", fmt.Errorf("failed to create destination file '%s': %w", fullPath, err)
		}
		candidate = fmt.Sprintf("%s-%d%s", stem, n, ext)
	}
	return nil, "", fmt.Errorf("no free file name for '%s' in '%s'", filename, dir)
}
