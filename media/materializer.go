package media

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/camden-git/albumconverter/logger"
	"github.com/camden-git/albumconverter/utils"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Materializer writes uploaded photos and archive contents into an album
// directory of a Store.
type Materializer struct {
	store Store
}

func NewMaterializer(store Store) *Materializer {
	return &Materializer{store: store}
}

// uploadBaseName strips any client-side directory components from name.
func uploadBaseName(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	return strings.TrimSpace(name)
}

// Save stores photos and the images of archive (either may be empty) in the
// directory of albumName. Files whose extension or content is not an image
// are skipped. On error the files stored by this call are removed again.
// When nothing was kept the album directory is removed if it is empty.
func (m *Materializer) Save(albumName string, photos []Upload, archive *Upload) (result SaveResult, err error) {
	dir, err := m.store.EnsureAlbumDir(albumName)
	if err != nil {
		return SaveResult{}, err
	}
	result = SaveResult{Dir: dir}

	defer func() {
		if err != nil {
			for _, name := range result.Files {
				if rmErr := os.Remove(filepath.Join(dir, name)); rmErr != nil && !os.IsNotExist(rmErr) {
					logger.Warn("media.materializer: failed to remove partial upload",
						zap.String("file", name),
						zap.Error(rmErr))
				}
			}
			result.Accepted = 0
			result.Files = nil
		}
		if result.Accepted == 0 {
			// only succeeds when the directory is empty
			os.Remove(dir)
		}
	}()

	for _, photo := range photos {
		stored, err := m.savePhoto(dir, photo)
		if err != nil {
			return result, err
		}
		if stored == "" {
			result.Skipped++
			continue
		}
		result.Accepted++
		result.Files = append(result.Files, filepath.Base(stored))
	}

	if archive != nil {
		if err := m.saveArchive(dir, *archive, &result); err != nil {
			return result, err
		}
	}

	logger.Info("media.materializer: upload stored",
		zap.String("album", albumName),
		zap.Int("accepted", result.Accepted),
		zap.Int("skipped", result.Skipped))
	return result, nil
}

// savePhoto returns the stored path, or "" when the upload was not an image.
func (m *Materializer) savePhoto(dir string, photo Upload) (string, error) {
	name := uploadBaseName(photo.Name)
	if name == "" || !utils.IsRasterImage(name) {
		return "", nil
	}

	rc, err := photo.Open()
	if err != nil {
		return "", fmt.Errorf("failed to open upload %s: %w", name, err)
	}
	defer rc.Close()

	stored, err := m.store.SaveUnique(dir, name, rc)
	if err != nil {
		return "", err
	}

	if _, err := SniffImage(stored); err != nil {
		logger.Warn("media.materializer: skipping upload with non-image content",
			zap.String("file", name),
			zap.Error(err))
		os.Remove(stored)
		return "", nil
	}
	return stored, nil
}

func (m *Materializer) saveArchive(dir string, archive Upload, result *SaveResult) error {
	scratch := filepath.Join(dir, ".extract-"+uuid.NewString())
	defer func() {
		if err := m.store.RemoveAll(scratch); err != nil {
			logger.Warn("media.materializer: failed to remove scratch directory",
				zap.String("dir", scratch),
				zap.Error(err))
		}
	}()

	rc, err := archive.Open()
	if err != nil {
		return fmt.Errorf("failed to open archive upload %s: %w", archive.Name, err)
	}
	extracted, err := utils.ExtractArchive(rc, uploadBaseName(archive.Name), scratch)
	rc.Close()
	if err != nil {
		return err
	}

	for _, path := range extracted {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}
		if _, err := SniffImage(path); err != nil {
			var notImage *NotImageError
			if !errors.As(err, &notImage) {
				return err
			}
			logger.Warn("media.materializer: skipping archive member with non-image content",
				zap.String("file", path))
			result.Skipped++
			continue
		}

		rel, err := filepath.Rel(scratch, path)
		if err != nil {
			return fmt.Errorf("failed to resolve extracted path %s: %w", path, err)
		}
		target := flattenedName(rel, m.store.Exists(dir, filepath.Base(rel)))

		stored, err := m.store.MoveUnique(path, dir, target)
		if err != nil {
			return err
		}
		result.Accepted++
		result.Files = append(result.Files, filepath.Base(stored))
	}
	return nil
}

// flattenedName picks the album-level name for an archive member at rel.
// The base name is used unless it is already taken, in which case the
// member's directory path is folded into a prefix: "trip/day1/a.jpg" becomes
// "trip_day1_a.jpg".
func flattenedName(rel string, baseTaken bool) string {
	base := filepath.Base(rel)
	relDir := filepath.Dir(rel)
	if !baseTaken || relDir == "." {
		return base
	}
	parts := strings.Split(filepath.ToSlash(relDir), "/")
	return strings.Join(append(parts, base), "_")
}
