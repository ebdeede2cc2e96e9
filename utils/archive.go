package utils

import (
	"archive/tar"
	"compress/bzip2"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/camden-git/albumconverter/logger"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"go.uber.org/zap"
)

var (
	// ErrExtraction wraps every failure to read an uploaded archive.
	ErrExtraction = errors.New("archive extraction failed")
	// ErrUnsupportedArchive is wrapped by ErrExtraction when the file name
	// does not match a known archive suffix.
	ErrUnsupportedArchive = errors.New("unsupported archive format")
)

type archiveKind int

const (
	kindUnknown archiveKind = iota
	kindZip
	kindTar
	kindTarGz
	kindTarBz2
)

func detectArchiveKind(filename string) archiveKind {
	name := strings.ToLower(filename)
	switch {
	case strings.HasSuffix(name, ".zip"):
		return kindZip
	case strings.HasSuffix(name, ".tar.gz"), strings.HasSuffix(name, ".tgz"):
		return kindTarGz
	case strings.HasSuffix(name, ".tar.bz2"), strings.HasSuffix(name, ".tbz2"):
		return kindTarBz2
	case strings.HasSuffix(name, ".tar"):
		return kindTar
	default:
		return kindUnknown
	}
}

// IsSupportedArchive reports whether filename has an archive suffix ExtractArchive understands.
func IsSupportedArchive(filename string) bool {
	return detectArchiveKind(filename) != kindUnknown
}

// ExtractArchive copies src to a temporary file inside destDir, then extracts
// every image member into destDir keeping its relative path. Directory
// entries and non-image members are skipped. The raw archive copy is left in
// destDir; callers own cleanup of the whole directory.
func ExtractArchive(src io.Reader, filename, destDir string) ([]string, error) {
	kind := detectArchiveKind(filename)
	if kind == kindUnknown {
		return nil, fmt.Errorf("%w: %w: %s", ErrExtraction, ErrUnsupportedArchive, filename)
	}

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return nil, fmt.Errorf("%w: failed to create %s: %w", ErrExtraction, destDir, err)
	}

	archivePath := filepath.Join(destDir, ".upload-archive-"+uuid.NewString())
	if err := writeFile(archivePath, src); err != nil {
		return nil, fmt.Errorf("%w: failed to store upload: %w", ErrExtraction, err)
	}

	var (
		extracted []string
		err       error
	)
	switch kind {
	case kindZip:
		extracted, err = extractZip(archivePath, destDir)
	default:
		extracted, err = extractTarFile(archivePath, kind, destDir)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExtraction, err)
	}

	logger.Debug("archive extracted",
		zap.String("archive", filename),
		zap.Int("images", len(extracted)))
	return extracted, nil
}

func writeFile(path string, r io.Reader) error {
	out, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		os.Remove(path)
		return err
	}
	return out.Close()
}

func extractZip(archivePath, destDir string) ([]string, error) {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open zip: %w", err)
	}
	defer zr.Close()

	var extracted []string
	seen := make(map[string]bool)
	for _, f := range zr.File {
		if strings.HasSuffix(f.Name, "/") || f.FileInfo().IsDir() {
			continue
		}
		if !IsRasterImage(f.Name) {
			continue
		}

		target, err := SafeJoin(destDir, f.Name)
		if err != nil {
			return nil, err
		}

		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open zip member %s: %w", f.Name, err)
		}
		err = writeMember(target, rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to extract zip member %s: %w", f.Name, err)
		}
		extracted = appendOnce(extracted, seen, target)
	}
	return extracted, nil
}

func extractTarFile(archivePath string, kind archiveKind, destDir string) ([]string, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open tar: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	switch kind {
	case kindTarGz:
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip stream: %w", err)
		}
		defer gz.Close()
		r = gz
	case kindTarBz2:
		r = bzip2.NewReader(f)
	}

	tr := tar.NewReader(r)
	var extracted []string
	seen := make(map[string]bool)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read tar header: %w", err)
		}
		if !hdr.FileInfo().Mode().IsRegular() {
			continue
		}
		if !IsRasterImage(hdr.Name) {
			continue
		}

		target, err := SafeJoin(destDir, hdr.Name)
		if err != nil {
			return nil, err
		}
		if err := writeMember(target, tr); err != nil {
			return nil, fmt.Errorf("failed to extract tar member %s: %w", hdr.Name, err)
		}
		extracted = appendOnce(extracted, seen, target)
	}
	return extracted, nil
}

func writeMember(target string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	return writeFile(target, r)
}

// appendOnce adds target unless an earlier member was written to the same
// path. The later member's content is what remains on disk.
func appendOnce(extracted []string, seen map[string]bool, target string) []string {
	if seen[target] {
		return extracted
	}
	seen[target] = true
	return append(extracted, target)
}
