package httpapi

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"

	"github.com/loqalabs/loqa-scribe/internal/session"
)

const multipartMemory = 8 << 20

// session returns the caller's session, creating one and setting the cookie
// when the request carries no live session id.
func (h *Handler) session(w http.ResponseWriter, r *http.Request) *session.Session {
	var id string
	if c, err := r.Cookie(h.cfg.Session.CookieName); err == nil {
		id = c.Value
	}
	sess, created := h.sessions.GetOrCreate(id)
	if created {
		http.SetCookie(w, &http.Cookie{
			Name:     h.cfg.Session.CookieName,
			Value:    sess.ID(),
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteStrictMode,
		})
	}
	return sess
}

// readAudio accepts either a multipart form with the audio in field, or a raw
// body (with an optional ?filename= query parameter). A missing file is not an
// error: it yields empty data and an empty name.
func (h *Handler) readAudio(w http.ResponseWriter, r *http.Request, field string) ([]byte, string, error) {
	if h.cfg.HTTP.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.cfg.HTTP.MaxUploadBytes)
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, "", fmt.Errorf("read body: %w", err)
		}
		name := r.URL.Query().Get("filename")
		if name == "" && len(data) > 0 {
			name = "upload.wav"
		}
		return data, name, nil
	}

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		return nil, "", fmt.Errorf("parse form: %w", err)
	}
	file, header, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("read %s: %w", field, err)
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, "", fmt.Errorf("read %s: %w", field, err)
	}
	return data, header.Filename, nil
}
