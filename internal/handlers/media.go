package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rewear/apiserver/internal/logging"
	"github.com/rewear/apiserver/internal/services"
	"github.com/rewear/apiserver/internal/storage"
)

type MediaHandler struct {
	media *storage.Storage
	log   logging.Logger
}

// MediaRouter serves stored media under the route it is mounted on, so public
// URLs built from the API's own address resolve. Reads are anonymous.
func MediaRouter(r chi.Router, media *storage.Storage, log logging.Logger) {
	handler := &MediaHandler{media: media, log: log}
	r.Get("/*", handler.Serve)
}

func (h *MediaHandler) Serve(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "*")
	if name == "" || strings.Contains(name, "..") {
		writeServiceError(w, r, h.log, services.ErrNotFound)
		return
	}

	obj, err := h.media.Get(r.Context(), storage.KeyPrefix+name)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			err = services.ErrNotFound
		}
		writeServiceError(w, r, h.log, err)
		return
	}
	defer obj.Close()

	contentType := obj.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", storage.CacheControl)
	w.Header().Set("X-Content-Type-Options", "nosniff")
	if obj.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, obj); err != nil {
		h.log.Warn(r.Context(), "media write interrupted", "key", name, "error", err)
	}
}
