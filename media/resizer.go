package media

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/camden-git/albumconverter/logger"
	"github.com/camden-git/albumconverter/utils"
	"github.com/disintegration/imaging"
	"github.com/facette/natsort"
	"go.uber.org/zap"
)

const (
	DefaultMaxWidth    = 1920
	DefaultMaxHeight   = 1080
	DefaultJPEGQuality = 90
	OutputExtension    = ".jpg"
)

// Resizer shrinks every image of a directory tree to fit a bounding box and
// re-encodes it as JPEG. The zero value uses the default box and quality.
type Resizer struct {
	MaxWidth  int
	MaxHeight int
	Quality   int
}

func NewResizer(maxWidth, maxHeight, quality int) *Resizer {
	return &Resizer{MaxWidth: maxWidth, MaxHeight: maxHeight, Quality: quality}
}

func (r *Resizer) bounds() (int, int, int) {
	w, h, q := r.MaxWidth, r.MaxHeight, r.Quality
	if w <= 0 {
		w = DefaultMaxWidth
	}
	if h <= 0 {
		h = DefaultMaxHeight
	}
	if q <= 0 || q > 100 {
		q = DefaultJPEGQuality
	}
	return w, h, q
}

// ListImages returns the slash-separated paths, relative to root, of every
// file below root with a recognised image extension, in natural order.
func ListImages(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		if !utils.IsRasterImage(d.Name()) {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list images in %s: %w", root, err)
	}
	natsort.Sort(files)
	return files, nil
}

// ResizeDir converts every image below src into dst. A file that cannot be
// converted is logged and skipped; only an empty source, an unusable
// destination or ctx cancellation end the run early. progress may be nil.
func (r *Resizer) ResizeDir(ctx context.Context, src, dst string, progress ProgressFunc) (ResizeResult, error) {
	var result ResizeResult

	files, err := ListImages(src)
	if err != nil {
		return result, err
	}
	result.Total = len(files)
	if result.Total == 0 {
		return result, fmt.Errorf("%w in %s", ErrNoImages, src)
	}

	if err := os.MkdirAll(dst, 0755); err != nil {
		return result, fmt.Errorf("failed to create output directory %s: %w", dst, err)
	}

	maxW, maxH, quality := r.bounds()
	for i, rel := range files {
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("conversion interrupted after %d of %d files: %w", i, result.Total, err)
		}

		out, err := convertFile(filepath.Join(src, filepath.FromSlash(rel)), dst, maxW, maxH, quality)
		failed := err != nil
		if failed {
			result.Failed++
			if len(result.Errors) < maxReportedErrors {
				result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", rel, err))
			}
			logger.Warn("media.resizer: failed to convert image",
				zap.String("file", rel),
				zap.Error(err))
		} else {
			result.Converted++
			result.Outputs = append(result.Outputs, out)
		}

		if progress != nil {
			processed := i + 1
			progress(Progress{
				Percent:  processed * 100 / result.Total,
				Index:    processed,
				Total:    result.Total,
				FileName: filepath.Base(filepath.FromSlash(rel)),
				Failed:   failed,
			})
		}
	}

	if result.Failed > 0 {
		logger.Warn("media.resizer: finished with failures",
			zap.String("src", src),
			zap.Int("converted", result.Converted),
			zap.Int("failed", result.Failed),
			zap.Strings("first_errors", result.Errors))
	}
	return result, nil
}

// convertFile decodes one image, applies its EXIF orientation, flattens any
// transparency onto white, fits it into maxW x maxH and writes it to dstDir as
// "<stem>.jpg", or "<stem>-N.jpg" when that name is already used.
func convertFile(path, dstDir string, maxW, maxH, quality int) (string, error) {
	if _, err := SniffImage(path); err != nil {
		return "", err
	}

	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open image: %w", err)
	}
	img, err := imaging.Decode(file)
	file.Close()
	if err != nil {
		return "", fmt.Errorf("failed to decode image: %w", err)
	}

	img = applyOrientation(img, readOrientation(path))
	img = flattenOnWhite(img)
	img = imaging.Fit(img, maxW, maxH, imaging.Lanczos)

	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	out, outPath, err := createUnique(dstDir, stem+OutputExtension)
	if err != nil {
		return "", err
	}

	if err := imaging.Encode(out, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		out.Close()
		os.Remove(outPath)
		return "", fmt.Errorf("failed to encode jpeg: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(outPath)
		return "", fmt.Errorf("failed to write %s: %w", outPath, err)
	}
	return outPath, nil
}

type opaquer interface {
	Opaque() bool
}

// flattenOnWhite composites images that may carry transparency onto an opaque
// white canvas. Palette images are covered by the same path.
func flattenOnWhite(img image.Image) image.Image {
	if o, ok := img.(opaquer); ok && o.Opaque() {
		return img
	}
	b := img.Bounds()
	canvas := imaging.New(b.Dx(), b.Dy(), color.White)
	return imaging.Overlay(canvas, img, image.Pt(0, 0), 1.0)
}
