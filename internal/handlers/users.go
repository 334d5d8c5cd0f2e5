package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rewear/apiserver/internal/logging"
	"github.com/rewear/apiserver/internal/services"
	"github.com/rewear/apiserver/types"
)

// UserHandler serves the signed-in user's account endpoints.
type UserHandler struct {
	users *services.UserService
	log   logging.Logger
}

func NewUserHandler(users *services.UserService, log logging.Logger) *UserHandler {
	return &UserHandler{users: users, log: log}
}

// UserRouter registers session and account routes on the given router.
func UserRouter(r chi.Router, auth *AuthHandler, users *services.UserService, log logging.Logger) {
	handler := NewUserHandler(users, log)

	r.Post("/register", auth.Register)
	r.Post("/login", auth.Login)
	r.Post("/refresh-token", auth.Refresh)

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth)

		r.Post("/logout", auth.Logout)
		r.Post("/change-password", auth.ChangePassword)
		r.Get("/current-user", auth.CurrentUser)
		r.Patch("/update-account", handler.UpdateAccount)
		r.Patch("/avatar", handler.ReplaceAvatar)
		r.Get("/listings", handler.Listings)
		r.Get("/orders", handler.Orders)
		r.Get("/swaps", handler.Swaps)
		r.Get("/c/{username}", handler.Profile)
	})
}

func (h *UserHandler) UpdateAccount(w http.ResponseWriter, r *http.Request) {
	var req UpdateAccountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}

	user, err := h.users.UpdateAccount(r.Context(), mustUser(r), types.UserPatch{
		FullName: req.FullName,
		Username: req.Username,
		Email:    req.Email,
		Address:  req.Address,
		Phone:    req.Phone,
	})
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *UserHandler) ReplaceAvatar(w http.ResponseWriter, r *http.Request) {
	if err := parseMultipart(r); err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	avatar, cleanup, err := formFile(r.MultipartForm, formFieldAvatar)
	defer cleanup()
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	if avatar == nil {
		writeError(w, http.StatusBadRequest, "avatar file is required")
		return
	}

	user, err := h.users.ReplaceAvatar(r.Context(), mustUser(r), *avatar)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *UserHandler) Listings(w http.ResponseWriter, r *http.Request) {
	page, limit, offset, err := parsePagination(r)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	items, total, err := h.users.Listings(r.Context(), mustUser(r), offset, limit)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, newPage(items, page, limit, total))
}

func (h *UserHandler) Orders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.users.Orders(r.Context(), mustUser(r))
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	if orders == nil {
		orders = []types.Order{}
	}
	writeJSON(w, http.StatusOK, orders)
}

func (h *UserHandler) Swaps(w http.ResponseWriter, r *http.Request) {
	swaps, err := h.users.Swaps(r.Context(), mustUser(r))
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	if swaps == nil {
		swaps = []types.SwapRequest{}
	}
	writeJSON(w, http.StatusOK, swaps)
}

// Profile returns another user's public profile by username.
func (h *UserHandler) Profile(w http.ResponseWriter, r *http.Request) {
	profile, err := h.users.Profile(r.Context(), chi.URLParam(r, "username"))
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// UpdateAccountRequest lists the account fields a user may change. Omitted
// fields keep their value.
type UpdateAccountRequest struct {
	FullName *string `json:"full_name"`
	Username *string `json:"username"`
	Email    *string `json:"email"`
	Address  *string `json:"address"`
	Phone    *string `json:"phone"`
}
