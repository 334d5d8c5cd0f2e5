package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rewear/apiserver/internal/logging"
	"github.com/rewear/apiserver/internal/services"
	"github.com/rewear/apiserver/types"
)

const (
	defaultPage        = 1
	defaultLimit       = 20
	maxLimit           = 100
	maxPage            = 1_000_000
	maxMultipartMemory = 32 << 20
	maxJSONBody        = 1 << 20
)

type contextKey string

const contextUserKey contextKey = "user"

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// PageResponse is the paginated list response payload.
type PageResponse[T any] struct {
	Items      []T `json:"items"`
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

func newPage[T any](items []T, page, limit, total int) PageResponse[T] {
	if items == nil {
		items = []T{}
	}
	return PageResponse[T]{
		Items:      items,
		Page:       page,
		Limit:      limit,
		Total:      total,
		TotalPages: (total + limit - 1) / limit,
	}
}

func withUser(ctx context.Context, user types.User) context.Context {
	return context.WithValue(ctx, contextUserKey, user)
}

// UserFromContext returns the principal stored by RequireAuth or
// OptionalAuth.
func UserFromContext(ctx context.Context) (types.User, bool) {
	user, ok := ctx.Value(contextUserKey).(types.User)
	return user, ok
}

// mustUser returns the principal of a route mounted behind RequireAuth.
func mustUser(r *http.Request) types.User {
	user, ok := UserFromContext(r.Context())
	if !ok {
		panic("handlers: route requires RequireAuth")
	}
	return user
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

// writeServiceError maps a service error to its status code. Errors outside
// the services taxonomy are logged and reported without detail.
func writeServiceError(w http.ResponseWriter, r *http.Request, log logging.Logger, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Error(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, status, "internal server error")
		return
	}
	if status == http.StatusBadGateway {
		log.Warn(r.Context(), "media host failed", "path", r.URL.Path, "error", err)
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrUnauthenticated),
		errors.Is(err, services.ErrInvalidCredential),
		errors.Is(err, services.ErrPrincipalNotFound),
		errors.Is(err, services.ErrRefreshReuseOrMismatch):
		return http.StatusUnauthorized
	case errors.Is(err, services.ErrForbidden), errors.Is(err, services.ErrSelfSwapForbidden):
		return http.StatusForbidden
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrInvalidIdentifier), errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrConflict), errors.Is(err, services.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, services.ErrInsufficientPoints):
		return http.StatusUnprocessableEntity
	case errors.Is(err, services.ErrUpstreamMedia):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func parsePagination(r *http.Request) (page, limit, offset int, err error) {
	page = defaultPage
	limit = defaultLimit

	if raw := strings.TrimSpace(r.URL.Query().Get("page")); raw != "" {
		page, err = strconv.Atoi(raw)
		if err != nil || page < 1 || page > maxPage {
			return 0, 0, 0, fmt.Errorf("%w: invalid page", services.ErrValidation)
		}
	}

	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 1 {
			return 0, 0, 0, fmt.Errorf("%w: invalid limit", services.ErrValidation)
		}
	}

	if limit > maxLimit {
		limit = maxLimit
	}

	offset = (page - 1) * limit
	return page, limit, offset, nil
}

func parseIDParam(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %s", services.ErrInvalidIdentifier, name)
	}
	return id, nil
}

// decodeJSON reads a bounded JSON body into dst. Fields dst does not declare
// are ignored.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid request body", services.ErrValidation)
	}
	return nil
}

func isMultipart(r *http.Request) bool {
	return strings.HasPrefix(strings.ToLower(r.Header.Get("Content-Type")), "multipart/form-data")
}

func parseMultipart(r *http.Request) error {
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		return fmt.Errorf("%w: invalid multipart form", services.ErrValidation)
	}
	return nil
}

// formFiles opens every file uploaded under field. The returned cleanup closes
// them and must be called once the files have been consumed.
func formFiles(form *multipart.Form, field string) ([]services.MediaFile, func(), error) {
	var opened []multipart.File
	cleanup := func() {
		for _, f := range opened {
			_ = f.Close()
		}
	}
	if form == nil {
		return nil, cleanup, nil
	}

	headers := form.File[field]
	files := make([]services.MediaFile, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			cleanup()
			return nil, func() {}, fmt.Errorf("%w: cannot read %s", services.ErrValidation, fh.Filename)
		}
		opened = append(opened, f)
		files = append(files, services.MediaFile{
			Name:        fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Size:        fh.Size,
			Content:     f,
		})
	}
	return files, cleanup, nil
}

// formFile is formFiles for a field that takes at most one file.
func formFile(form *multipart.Form, field string) (*services.MediaFile, func(), error) {
	files, cleanup, err := formFiles(form, field)
	if err != nil {
		return nil, cleanup, err
	}
	switch len(files) {
	case 0:
		return nil, cleanup, nil
	case 1:
		return &files[0], cleanup, nil
	default:
		cleanup()
		return nil, func() {}, fmt.Errorf("%w: only one %s file is allowed", services.ErrValidation, field)
	}
}

func optionalString(form *multipart.Form, field string) *string {
	if form == nil {
		return nil
	}
	values, ok := form.Value[field]
	if !ok || len(values) == 0 {
		return nil
	}
	v := values[0]
	return &v
}

func optionalInt(form *multipart.Form, field string) (*int, error) {
	raw := optionalString(form, field)
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(*raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be a number", services.ErrValidation, field)
	}
	return &v, nil
}
