package handlers

import (
	"html/template"
	"net/http"

	"github.com/camden-git/albumconverter/config"
	"github.com/camden-git/albumconverter/logger"
	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
)

var uploadLimitsPage = template.Must(template.New("limits").Parse(`<h2>Upload settings</h2>
<p><strong>MAX_UPLOAD_FILES:</strong> {{.MaxFiles}}</p>
<p><strong>MAX_UPLOAD_BYTES:</strong> {{.MaxBytes}} bytes ({{.MaxBytesHuman}})</p>
<p><strong>MAX_UPLOAD_MEMORY_BYTES:</strong> {{.MemoryBytes}} bytes ({{.MemoryBytesHuman}})</p>
<p><strong>Output:</strong> {{.MaxWidth}}x{{.MaxHeight}} JPEG, quality {{.Quality}}</p>
<p><a href="{{.Back}}">Back</a></p>
`))

type DebugHandler struct {
	Cfg config.Config
}

// UploadLimits renders the upload limits as a small HTML page.
func (dh *DebugHandler) UploadLimits(w http.ResponseWriter, r *http.Request) {
	back := r.Referer()
	if back == "" {
		back = "/"
	}
	data := map[string]interface{}{
		"MaxFiles":         dh.Cfg.MaxUploadFiles,
		"MaxBytes":         dh.Cfg.MaxUploadBytes,
		"MaxBytesHuman":    humanize.IBytes(uint64(dh.Cfg.MaxUploadBytes)),
		"MemoryBytes":      dh.Cfg.MaxUploadMemoryBytes,
		"MemoryBytesHuman": humanize.IBytes(uint64(dh.Cfg.MaxUploadMemoryBytes)),
		"MaxWidth":         dh.Cfg.MaxWidth,
		"MaxHeight":        dh.Cfg.MaxHeight,
		"Quality":          dh.Cfg.JPEGQuality,
		"Back":             back,
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := uploadLimitsPage.Execute(w, data); err != nil {
		logger.Warn("failed to render upload limits", zap.Error(err))
	}
}
