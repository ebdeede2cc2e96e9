package handlers

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"regexp"
	"strings"

	"github.com/camden-git/albumconverter/config"
	"github.com/camden-git/albumconverter/logger"
	"github.com/camden-git/albumconverter/media"
	"github.com/camden-git/albumconverter/models"
	"github.com/camden-git/albumconverter/repository"
	"github.com/camden-git/albumconverter/services"
	"github.com/camden-git/albumconverter/utils"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const completionDateLayout = "02/01/2006 15:04:05"

var (
	unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9_\-\s]`)
	whitespaceRun       = regexp.MustCompile(`\s+`)
)

type AlbumHandler struct {
	Albums     *services.AlbumService
	Conversion *services.ConversionService
	Cfg        config.Config
}

// Index lists albums, newest first, with the pending flash messages.
func (ah *AlbumHandler) Index(w http.ResponseWriter, r *http.Request) {
	albums, err := ah.Albums.List()
	if err != nil {
		logger.Error("failed to list albums", zap.Error(err))
		WriteAPIError(w, http.StatusInternalServerError, "internal_error", "failed to list albums")
		return
	}
	if albums == nil {
		albums = []models.Album{}
	}
	messages := popFlash(w, r)
	if messages == nil {
		messages = []FlashMessage{}
	}

	resp := map[string]interface{}{
		"albums":   albums,
		"messages": messages,
	}
	if user, ok := UserFromContext(r.Context()); ok {
		resp["user"] = user
	}
	writeJSON(w, http.StatusOK, resp)
}

// UploadForm describes the upload form and its limits.
func (ah *AlbumHandler) UploadForm(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"fields": []map[string]interface{}{
			{"name": "name", "type": "text", "required": true, "max_length": services.MaxAlbumNameLength},
			{"name": "photos", "type": "file", "multiple": true, "accept": utils.SupportedImageExtensions()},
			{"name": "compressed_file", "type": "file", "accept": []string{".zip", ".tar", ".tar.gz", ".tgz", ".tar.bz2", ".tbz2"}},
		},
		"max_files":        ah.Cfg.MaxUploadFiles,
		"max_upload_bytes": ah.Cfg.MaxUploadBytes,
		"messages":         popFlash(w, r),
	})
}

func multipartUpload(fh *multipart.FileHeader) media.Upload {
	return media.Upload{
		Name: fh.Filename,
		Open: func() (io.ReadCloser, error) { return fh.Open() },
	}
}

// Upload creates an album from the photos and/or compressed_file fields.
func (ah *AlbumHandler) Upload(w http.ResponseWriter, r *http.Request) {
	ajax := isAJAX(r)
	fail := func(status int, msgs ...FlashMessage) {
		if ajax {
			writeFailure(w, status, msgs[0].Text)
			return
		}
		redirectWith(w, r, "/upload/", msgs...)
	}

	r.Body = http.MaxBytesReader(w, r.Body, ah.Cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(ah.Cfg.MaxUploadMemoryBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			fail(http.StatusRequestEntityTooLarge, flashError(fmt.Sprintf("upload exceeds the %d byte limit", tooLarge.Limit)))
			return
		}
		fail(http.StatusBadRequest, flashError("invalid upload: "+err.Error()))
		return
	}
	defer r.MultipartForm.RemoveAll()

	files := r.MultipartForm.File["photos"]
	if len(files) > ah.Cfg.MaxUploadFiles {
		fail(http.StatusBadRequest, flashError(fmt.Sprintf("photos: too many files, at most %d per upload", ah.Cfg.MaxUploadFiles)))
		return
	}
	photos := make([]media.Upload, 0, len(files))
	for _, fh := range files {
		photos = append(photos, multipartUpload(fh))
	}
	var archive *media.Upload
	if archives := r.MultipartForm.File["compressed_file"]; len(archives) > 0 {
		a := multipartUpload(archives[0])
		archive = &a
	}

	album, saved, err := ah.Albums.Create(r.FormValue("name"), photos, archive)
	if err != nil {
		var verr *services.ValidationError
		switch {
		case errors.As(err, &verr):
			if ajax {
				writeFieldErrors(w, verr.Fields)
				return
			}
			redirectWith(w, r, "/upload/", fieldFlashes(verr.Fields)...)
		case errors.Is(err, services.ErrNoValidFiles):
			fail(http.StatusBadRequest, flashError("No valid file was uploaded."))
		case errors.Is(err, utils.ErrExtraction), errors.Is(err, utils.ErrUnsupportedArchive):
			fail(http.StatusBadRequest, flashError("Upload error: "+err.Error()))
		default:
			logger.Error("failed to create album", zap.Error(err))
			fail(http.StatusInternalServerError, flashError("Upload error: could not store the files"))
		}
		return
	}

	msg := fmt.Sprintf("Album %q created successfully! %d file(s) uploaded.", album.Name, album.FileCount)
	if ajax {
		writeJSON(w, http.StatusCreated, map[string]interface{}{
			"success": true,
			"message": msg,
			"album":   album,
			"skipped": saved.Skipped,
		})
		return
	}
	redirectWith(w, r, "/", flashSuccess(msg))
}

// Convert starts a conversion: in the background for scripts, inline for
// plain form posts.
func (ah *AlbumHandler) Convert(w http.ResponseWriter, r *http.Request) {
	async := wantsAsync(r)
	ajax := async || isAJAX(r)

	albumID, err := albumIDFromForm(r)
	if err != nil {
		if ajax {
			writeFailure(w, http.StatusBadRequest, err.Error())
			return
		}
		redirectWith(w, r, "/", flashError(err.Error()))
		return
	}

	res, err := ah.Conversion.Start(r.Context(), albumID, async)
	if err != nil {
		status, msg := conversionErrorResponse(err)
		if status == http.StatusInternalServerError {
			logger.Error("conversion request failed", zap.Uint("album_id", albumID), zap.Error(err))
		}
		if ajax {
			writeFailure(w, status, msg)
			return
		}
		redirectWith(w, r, "/", flashError(msg))
		return
	}

	album, err := ah.Albums.Get(albumID)
	if err != nil {
		album = &models.Album{ID: albumID}
	}

	if async {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success":  true,
			"message":  fmt.Sprintf("Conversion of album %q started", album.Name),
			"album_id": albumID,
			"job_id":   res.Job.ID,
		})
		return
	}

	converted, total := 0, 0
	if res.Outcome != nil {
		converted, total = res.Outcome.Converted, res.Outcome.Total
	}
	msg := fmt.Sprintf("Album %q converted successfully! %d/%d images resized to %dx%d.",
		album.Name, converted, total, ah.Cfg.MaxWidth, ah.Cfg.MaxHeight)
	if ajax {
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "message": msg, "album_id": albumID})
		return
	}
	redirectWith(w, r, "/", flashSuccess(msg))
}

func conversionErrorResponse(err error) (int, string) {
	switch {
	case errors.Is(err, services.ErrAlbumNotFound):
		return http.StatusNotFound, "Album not found."
	case errors.Is(err, services.ErrSourceMissing):
		return http.StatusBadRequest, "The album source directory does not exist."
	case errors.Is(err, repository.ErrConversionInProgress):
		return http.StatusConflict, "A conversion of this album is already running."
	case errors.Is(err, services.ErrQueueFull):
		return http.StatusServiceUnavailable, "The conversion queue is full, try again later."
	case errors.Is(err, services.ErrNothingConverted), errors.Is(err, media.ErrNoImages):
		return http.StatusUnprocessableEntity, "No image could be converted."
	default:
		return http.StatusInternalServerError, "Conversion error: " + err.Error()
	}
}

// Progress reports the persisted conversion state of an album.
func (ah *AlbumHandler) Progress(w http.ResponseWriter, r *http.Request) {
	albumID, err := parseAlbumID(chi.URLParam(r, "album_id"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Album not found"})
		return
	}
	album, err := ah.Albums.Get(albumID)
	if err != nil {
		if errors.Is(err, services.ErrAlbumNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "Album not found"})
			return
		}
		logger.Error("failed to load album progress", zap.Uint("album_id", albumID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	data := progressPayload(album)
	job, err := ah.Conversion.LatestJob(album.ID)
	if err != nil {
		logger.Warn("failed to load latest conversion job", zap.Uint("album_id", album.ID), zap.Error(err))
	} else if job != nil {
		data["job_id"] = job.ID
		data["job_status"] = job.Status
	}
	writeJSON(w, http.StatusOK, data)
}

func progressPayload(album *models.Album) map[string]interface{} {
	data := map[string]interface{}{
		"album_id":           album.ID,
		"album_name":         album.Name,
		"status":             album.ConversionStatus,
		"progress":           album.ConversionProgress,
		"current_file_index": album.CurrentFileIndex,
		"current_file_name":  album.CurrentFileName,
		"total_files":        album.FileCount,
	}
	switch album.ConversionStatus {
	case models.StatusCompleted:
		if album.ConversionDate != nil {
			data["completion_date"] = album.ConversionDate.Local().Format(completionDateLayout)
		} else {
			data["completion_date"] = nil
		}
		data["message"] = fmt.Sprintf("Conversion finished! %d/%d images processed.", album.CurrentFileIndex, album.FileCount)
	case models.StatusConverting:
		data["message"] = fmt.Sprintf("Converting... %d/%d images", album.CurrentFileIndex, album.FileCount)
		if album.CurrentFileName != "" {
			data["current_message"] = "Processing: " + album.CurrentFileName
		}
	case models.StatusError:
		data["message"] = "Error during conversion"
		data["error"] = true
		if album.ConversionError != nil {
			data["error_detail"] = *album.ConversionError
		}
	default:
		data["message"] = "Waiting for conversion"
	}
	return data
}

// Delete removes an album directory and record.
func (ah *AlbumHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ajax := isAJAX(r)
	albumID, err := albumIDFromForm(r)
	if err != nil {
		if ajax {
			writeFailure(w, http.StatusBadRequest, err.Error())
			return
		}
		redirectWith(w, r, "/", flashError(err.Error()))
		return
	}

	album, err := ah.Albums.Delete(albumID)
	if err != nil {
		status, msg := http.StatusInternalServerError, "Delete error: "+err.Error()
		switch {
		case errors.Is(err, services.ErrAlbumNotFound):
			status, msg = http.StatusNotFound, "Album not found."
		case errors.Is(err, repository.ErrConversionInProgress):
			status, msg = http.StatusConflict, "The album is being converted and cannot be deleted."
		default:
			logger.Error("failed to delete album", zap.Uint("album_id", albumID), zap.Error(err))
		}
		if ajax {
			writeFailure(w, status, msg)
			return
		}
		redirectWith(w, r, "/", flashError(msg))
		return
	}

	msg := fmt.Sprintf("Album %q deleted successfully!", album.Name)
	if ajax {
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "message": msg, "album_id": albumID})
		return
	}
	redirectWith(w, r, "/", flashSuccess(msg))
}

// downloadName turns an album name into a safe attachment file name.
func downloadName(albumName string) string {
	safe := unsafeFilenameChars.ReplaceAllString(albumName, "")
	safe = whitespaceRun.ReplaceAllString(strings.TrimSpace(safe), "_")
	if safe == "" {
		safe = "album"
	}
	return safe + ".zip"
}

// Download streams the album directory as a zip archive.
func (ah *AlbumHandler) Download(w http.ResponseWriter, r *http.Request) {
	albumID, err := parseAlbumID(chi.URLParam(r, "album_id"))
	if err != nil {
		WriteAPIError(w, http.StatusNotFound, "not_found", "Album not found")
		return
	}
	album, err := ah.Albums.Get(albumID)
	if err != nil {
		if errors.Is(err, services.ErrAlbumNotFound) {
			WriteAPIError(w, http.StatusNotFound, "not_found", "Album not found")
			return
		}
		logger.Error("failed to load album for download", zap.Uint("album_id", albumID), zap.Error(err))
		WriteAPIError(w, http.StatusInternalServerError, "internal_error", "failed to load album")
		return
	}

	if info, statErr := os.Stat(album.OldPath); statErr != nil || !info.IsDir() {
		const msg = "The album directory does not exist."
		if isAJAX(r) {
			WriteAPIError(w, http.StatusNotFound, "album_dir_missing", msg)
			return
		}
		redirectWith(w, r, "/", flashError(msg))
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, downloadName(album.Name)))
	w.WriteHeader(http.StatusOK)

	count, err := utils.StreamAlbumZip(w, album.OldPath)
	if err != nil {
		// headers are already sent, the client sees a truncated archive
		logger.Error("album download aborted",
			zap.Uint("album_id", album.ID),
			zap.Int("files_written", count),
			zap.Error(err))
		return
	}
	logger.Info("album downloaded", zap.Uint("album_id", album.ID), zap.Int("files", count))
}
