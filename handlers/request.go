package handlers

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/camden-git/albumconverter/logger"
	"go.uber.org/zap"
)

const flashCookieName = "flash"

const (
	FlashSuccess = "success"
	FlashInfo    = "info"
	FlashError   = "error"
)

// FlashMessage is a one-shot notice shown on the next page load.
type FlashMessage struct {
	Level string `json:"level"`
	Text  string `json:"text"`
}

func isJSONContent(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "application/json"
}

// isAJAX reports whether the caller is a script that wants JSON back rather
// than a redirect.
func isAJAX(r *http.Request) bool {
	if r.Header.Get("X-Requested-With") == "XMLHttpRequest" {
		return true
	}
	if isJSONContent(r) {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

// wantsAsync decides whether a conversion runs in the background. A JSON
// post without these headers is converted inline but still answered in JSON.
func wantsAsync(r *http.Request) bool {
	return r.Header.Get("X-Requested-With") == "XMLHttpRequest" ||
		strings.Contains(r.Header.Get("Sec-Fetch-Mode"), "fetch")
}

// setFlash stores messages for the next request. Any pending flash is replaced.
func setFlash(w http.ResponseWriter, msgs ...FlashMessage) {
	if len(msgs) == 0 {
		return
	}
	data, err := json.Marshal(msgs)
	if err != nil {
		logger.Warn("failed to encode flash messages", zap.Error(err))
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     flashCookieName,
		Value:    base64.RawURLEncoding.EncodeToString(data),
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// popFlash returns the pending messages and clears them.
func popFlash(w http.ResponseWriter, r *http.Request) []FlashMessage {
	c, err := r.Cookie(flashCookieName)
	if err != nil {
		return nil
	}
	http.SetCookie(w, &http.Cookie{
		Name:     flashCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})

	data, err := base64.RawURLEncoding.DecodeString(c.Value)
	if err != nil {
		return nil
	}
	var msgs []FlashMessage
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil
	}
	return msgs
}

// redirectWith stores msgs and sends the browser to target.
func redirectWith(w http.ResponseWriter, r *http.Request, target string, msgs ...FlashMessage) {
	setFlash(w, msgs...)
	http.Redirect(w, r, target, http.StatusSeeOther)
}

func flashError(text string) FlashMessage   { return FlashMessage{Level: FlashError, Text: text} }
func flashSuccess(text string) FlashMessage { return FlashMessage{Level: FlashSuccess, Text: text} }

// fieldFlashes turns form errors into one message per field, in field order.
func fieldFlashes(fields map[string]string) []FlashMessage {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	msgs := make([]FlashMessage, 0, len(names))
	for _, name := range names {
		msgs = append(msgs, flashError(fmt.Sprintf("%s: %s", name, fields[name])))
	}
	return msgs
}

// decodeForm reads the fields named by the keys of dst from a JSON body or
// from url-encoded / multipart form values.
func decodeForm(r *http.Request, dst map[string]*string) error {
	if isJSONContent(r) {
		var body map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return fmt.Errorf("invalid request body: %w", err)
		}
		for key, target := range dst {
			switch v := body[key].(type) {
			case string:
				*target = v
			case float64:
				*target = strconv.FormatFloat(v, 'f', -1, 64)
			}
		}
		return nil
	}
	if err := r.ParseForm(); err != nil {
		return fmt.Errorf("invalid form: %w", err)
	}
	for key, target := range dst {
		*target = r.FormValue(key)
	}
	return nil
}

var errMissingAlbumID = errors.New("album_id is required")

// albumIDFromForm reads the album_id field of a POST body.
func albumIDFromForm(r *http.Request) (uint, error) {
	var raw string
	if err := decodeForm(r, map[string]*string{"album_id": &raw}); err != nil {
		return 0, err
	}
	return parseAlbumID(raw)
}

func parseAlbumID(raw string) (uint, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, errMissingAlbumID
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid album_id %q", raw)
	}
	return uint(id), nil
}
