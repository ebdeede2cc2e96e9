// media/types.go
package media

import (
	"errors"
	"io"
)

// ErrNoImages is returned by ResizeDir when the source holds no recognised image.
var ErrNoImages = errors.New("no images found")

// maxReportedErrors caps the per-file failures kept on a ResizeResult.
const maxReportedErrors = 5

// Upload is one client-supplied file. Open may be called once.
type Upload struct {
	Name string
	Open func() (io.ReadCloser, error)
}

// SaveResult describes what Materializer.Save stored.
type SaveResult struct {
	Dir      string   `json:"dir"`
	Accepted int      `json:"accepted"`
	Skipped  int      `json:"skipped"`
	Files    []string `json:"files"`
}

// Progress is reported after every file of a resize run.
type Progress struct {
	Percent  int    // floor(Index*100/Total)
	Index    int    // files processed so far, 1-based
	Total    int
	FileName string // base name of the file just processed
	Failed   bool
}

// ProgressFunc receives Progress updates. It runs on the resizing goroutine.
type ProgressFunc func(Progress)

// ResizeResult summarises a ResizeDir run.
type ResizeResult struct {
	Converted int      `json:"converted"`
	Total     int      `json:"total"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors,omitempty"` // first few per-file failures
	Outputs   []string `json:"outputs,omitempty"`
}
