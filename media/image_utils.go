package media

import (
	"fmt"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// SniffImage inspects the leading bytes of a file and returns its detected
// MIME type, failing when the content is not an image.
func SniffImage(path string) (string, error) {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to sniff %s: %w", path, err)
	}
	if !strings.HasPrefix(mt.String(), "image/") {
		return mt.String(), &NotImageError{Path: path, MIME: mt.String()}
	}
	return mt.String(), nil
}

// NotImageError reports a file whose name looks like an image but whose
// content does not.
type NotImageError struct {
	Path string
	MIME string
}

func (e *NotImageError) Error() string {
	return fmt.Sprintf("%s is not an image (detected %s)", e.Path, e.MIME)
}
