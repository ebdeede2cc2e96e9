package utils

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/camden-git/albumconverter/logger"
	"github.com/facette/natsort"
	"github.com/klauspost/compress/zip"
	"go.uber.org/zap"
)

// StreamAlbumZip writes a ZIP archive of every regular file below albumDir to
// w, naming entries by their slash-separated path relative to albumDir.
// Returns the number of files written.
func StreamAlbumZip(w io.Writer, albumDir string) (int, error) {
	info, err := os.Stat(albumDir)
	if err != nil {
		return 0, fmt.Errorf("album folder not found: %s: %w", albumDir, err)
	}
	if !info.IsDir() {
		return 0, fmt.Errorf("album path %s is not a directory", albumDir)
	}

	var files []string
	err = filepath.WalkDir(albumDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			rel, err := filepath.Rel(albumDir, path)
			if err != nil {
				return err
			}
			files = append(files, filepath.ToSlash(rel))
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to walk album directory %s: %w", albumDir, err)
	}
	natsort.Sort(files)

	zipWriter := zip.NewWriter(w)
	written := 0
	for _, rel := range files {
		if err := addZipEntry(zipWriter, albumDir, rel); err != nil {
			// the response is already streaming, so a broken entry ends the archive
			zipWriter.Close()
			return written, err
		}
		written++
	}

	if err := zipWriter.Close(); err != nil {
		return written, fmt.Errorf("failed to finalize zip writer for %s: %w", albumDir, err)
	}

	logger.Debug("zipper: album archived",
		zap.String("dir", albumDir),
		zap.Int("files", written))
	return written, nil
}

func addZipEntry(zw *zip.Writer, root, rel string) error {
	fullPath := filepath.Join(root, filepath.FromSlash(rel))
	f, err := os.Open(fullPath)
	if err != nil {
		return fmt.Errorf("failed to open file %s for zipping: %w", fullPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", fullPath, err)
	}

	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("failed to build zip header for %s: %w", rel, err)
	}
	header.Name = rel
	header.Method = zip.Deflate

	writer, err := zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("failed to create entry in zip for %s: %w", rel, err)
	}
	if _, err := io.Copy(writer, f); err != nil {
		return fmt.Errorf("failed to write file %s to zip: %w", rel, err)
	}
	return nil
}
