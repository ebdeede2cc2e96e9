package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	"github.com/camden-git/albumconverter/logger"
	"github.com/camden-git/albumconverter/media"
	"github.com/camden-git/albumconverter/services"
	"github.com/camden-git/albumconverter/utils"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const fileCacheDuration = time.Hour

type FileInfo struct {
	Name    string `json:"name"`
	Path    string `json:"path"`
	Size    int64  `json:"size"`
	ModTime int64  `json:"mod_time"`
	URL     string `json:"url"`
}

type AlbumListing struct {
	AlbumID uint       `json:"album_id"`
	Status  string     `json:"status"`
	Files   []FileInfo `json:"files"`
}

// loadAlbumDir resolves the album_id URL parameter to an existing album
// directory, writing the error response itself when it cannot.
func (ah *AlbumHandler) loadAlbumDir(w http.ResponseWriter, r *http.Request) (uint, string, string, bool) {
	albumID, err := parseAlbumID(chi.URLParam(r, "album_id"))
	if err != nil {
		WriteAPIError(w, http.StatusNotFound, "not_found", "Album not found")
		return 0, "", "", false
	}
	album, err := ah.Albums.Get(albumID)
	if err != nil {
		if errors.Is(err, services.ErrAlbumNotFound) {
			WriteAPIError(w, http.StatusNotFound, "not_found", "Album not found")
		} else {
			logger.Error("failed to load album", zap.Uint("album_id", albumID), zap.Error(err))
			WriteAPIError(w, http.StatusInternalServerError, "internal_error", "failed to load album")
		}
		return 0, "", "", false
	}
	if info, err := os.Stat(album.OldPath); err != nil || !info.IsDir() {
		WriteAPIError(w, http.StatusNotFound, "album_dir_missing", "The album directory does not exist.")
		return 0, "", "", false
	}
	return album.ID, album.OldPath, album.ConversionStatus, true
}

// ListFiles lists the images of an album in natural order.
func (ah *AlbumHandler) ListFiles(w http.ResponseWriter, r *http.Request) {
	albumID, dir, status, ok := ah.loadAlbumDir(w, r)
	if !ok {
		return
	}

	names, err := media.ListImages(dir)
	if err != nil {
		logger.Error("failed to list album files", zap.Uint("album_id", albumID), zap.Error(err))
		WriteAPIError(w, http.StatusInternalServerError, "internal_error", "failed to list album files")
		return
	}

	listing := AlbumListing{AlbumID: albumID, Status: status, Files: make([]FileInfo, 0, len(names))}
	for _, rel := range names {
		full, err := utils.SafeJoin(dir, rel)
		if err != nil {
			continue
		}
		info, err := os.Stat(full)
		if err != nil {
			// removed while listing, e.g. by a finishing conversion
			continue
		}
		listing.Files = append(listing.Files, FileInfo{
			Name:    path.Base(rel),
			Path:    rel,
			Size:    info.Size(),
			ModTime: info.ModTime().Unix(),
			URL:     fmt.Sprintf("/albums/%d/files/%s", albumID, rel),
		})
	}
	writeJSON(w, http.StatusOK, listing)
}

// ServeFile serves one image of an album.
func (ah *AlbumHandler) ServeFile(w http.ResponseWriter, r *http.Request) {
	albumID, dir, _, ok := ah.loadAlbumDir(w, r)
	if !ok {
		return
	}

	relativePath := chi.URLParam(r, "*")
	if relativePath == "" || !utils.IsRasterImage(relativePath) {
		WriteAPIError(w, http.StatusBadRequest, "invalid_path", "Invalid file path")
		return
	}
	full, err := utils.SafeJoin(dir, relativePath)
	if err != nil {
		logger.Warn("attempted file access outside album directory",
			zap.Uint("album_id", albumID),
			zap.String("path", relativePath))
		WriteAPIError(w, http.StatusForbidden, "forbidden", "Forbidden")
		return
	}

	info, err := os.Stat(full)
	if err != nil || info.IsDir() || strings.HasPrefix(path.Base(relativePath), ".") {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Cache-Control", fmt.Sprintf("private, max-age=%d", int(fileCacheDuration.Seconds())))
	http.ServeFile(w, r, full)
}
