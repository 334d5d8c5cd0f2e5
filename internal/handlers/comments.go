package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rewear/apiserver/internal/logging"
	"github.com/rewear/apiserver/internal/services"
)

type CommentHandler struct {
	comments *services.CommentService
	log      logging.Logger
}

// CommentRouter registers comment routes. Every route requires a principal.
func CommentRouter(r chi.Router, auth *AuthHandler, comments *services.CommentService, log logging.Logger) {
	handler := &CommentHandler{comments: comments, log: log}

	r.Use(auth.RequireAuth)
	r.Get("/{listingID}", handler.List)
	r.Post("/{listingID}", handler.Add)
	r.Patch("/c/{commentID}", handler.Update)
	r.Delete("/c/{commentID}", handler.Delete)
}

func (h *CommentHandler) List(w http.ResponseWriter, r *http.Request) {
	listingID, err := parseIDParam(r, "listingID")
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	page, limit, offset, err := parsePagination(r)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}

	items, total, err := h.comments.ListForListing(r.Context(), listingID, offset, limit)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, newPage(items, page, limit, total))
}

func (h *CommentHandler) Add(w http.ResponseWriter, r *http.Request) {
	listingID, err := parseIDParam(r, "listingID")
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	var req CommentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}

	rating := 0
	if req.Rating != nil {
		rating = *req.Rating
	}
	comment, err := h.comments.Add(r.Context(), mustUser(r), listingID, req.Content, rating)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, comment)
}

func (h *CommentHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "commentID")
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	var req CommentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}

	comment, err := h.comments.Update(r.Context(), mustUser(r), id, req.Content, req.Rating)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, comment)
}

func (h *CommentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "commentID")
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	if err := h.comments.Delete(r.Context(), mustUser(r), id); err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type CommentRequest struct {
	Content string `json:"content"`
	Rating  *int   `json:"rating"`
}
