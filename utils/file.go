package utils

import (
	"path/filepath"
	"strings"
)

// supportedImageExtensions is the one set of extensions treated as images by
// upload, archive extraction and conversion.
var supportedImageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".bmp":  true,
	".tif":  true,
	".tiff": true,
	".webp": true,
}

// IsRasterImage checks if the filename has a common raster image extension
func IsRasterImage(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	return supportedImageExtensions[ext]
}

// SupportedImageExtensions returns the recognised extensions, lower-case with
// the leading dot.
func SupportedImageExtensions() []string {
	exts := make([]string, 0, len(supportedImageExtensions))
	for ext := range supportedImageExtensions {
		exts = append(exts, ext)
	}
	return exts
}

// SafeJoin joins name onto root and fails if the result would leave root.
func SafeJoin(root, name string) (string, error) {
	target := filepath.Join(root, filepath.FromSlash(name))
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", &PathEscapeError{Name: name}
	}
	return target, nil
}

// PathEscapeError reports an archive member or file name that resolves
// outside its destination directory.
type PathEscapeError struct {
	Name string
}

func (e *PathEscapeError) Error() string {
	return "path escapes destination: " + e.Name
}
