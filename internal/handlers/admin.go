package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rewear/apiserver/internal/logging"
	"github.com/rewear/apiserver/internal/services"
	"github.com/rewear/apiserver/types"
)

// AdminHandler serves the admin panel.
type AdminHandler struct {
	admin    *services.AdminService
	listings *services.ListingService
	ledger   *services.LedgerService
	comments *services.CommentService
	log      logging.Logger
}

func NewAdminHandler(
	admin *services.AdminService,
	listings *services.ListingService,
	ledger *services.LedgerService,
	comments *services.CommentService,
	log logging.Logger,
) *AdminHandler {
	return &AdminHandler{
		admin:    admin,
		listings: listings,
		ledger:   ledger,
		comments: comments,
		log:      log,
	}
}

// AdminRouter registers admin routes behind RequireAuth and RequireAdmin.
func AdminRouter(r chi.Router, auth *AuthHandler, handler *AdminHandler) {
	r.Use(auth.RequireAuth, RequireAdmin)

	r.Route("/users", func(r chi.Router) {
		r.Get("/", handler.ListUsers)
		r.Get("/{userID}", handler.GetUser)
		r.Patch("/{userID}", handler.UpdateUser)
		r.Delete("/{userID}", handler.DeleteUser)
		r.Post("/{userID}/points", handler.CreditPoints)
	})
	r.Route("/orders", func(r chi.Router) {
		r.Get("/", handler.ListOrders)
		r.Get("/{orderID}", handler.GetOrder)
	})
	r.Route("/comments", func(r chi.Router) {
		r.Get("/", handler.ListComments)
		r.Delete("/{commentID}", handler.DeleteComment)
	})
	r.Route("/listings", func(r chi.Router) {
		r.Get("/pending", handler.ListPending)
		r.Post("/{listingID}/moderate", handler.Moderate)
		r.Delete("/{listingID}", handler.DeleteListing)
	})
}

func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	page, limit, offset, err := parsePagination(r)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	users, total, err := h.admin.ListUsers(r.Context(), offset, limit)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, newPage(users, page, limit, total))
}

func (h *AdminHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "userID")
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	user, err := h.admin.GetUser(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *AdminHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "userID")
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	var req AdminUpdateUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}

	user, err := h.admin.UpdateUser(r.Context(), id, types.UserPatch{
		FullName: req.FullName,
		Email:    req.Email,
		Address:  req.Address,
		Phone:    req.Phone,
		IsAdmin:  req.IsAdmin,
	})
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *AdminHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "userID")
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	if err := h.admin.DeleteUser(r.Context(), mustUser(r), id); err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandler) CreditPoints(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "userID")
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	var req CreditRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}

	balance, err := h.ledger.Credit(r.Context(), id, req.Amount)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	h.log.Info(r.Context(), "points credited", "user_id", id, "amount", req.Amount, "admin_id", mustUser(r).ID)
	writeJSON(w, http.StatusOK, BalanceResponse{UserID: id, Points: balance})
}

func (h *AdminHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	page, limit, offset, err := parsePagination(r)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	orders, total, err := h.admin.ListOrders(r.Context(), offset, limit)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, newPage(orders, page, limit, total))
}

func (h *AdminHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "orderID")
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	order, err := h.admin.GetOrder(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *AdminHandler) ListComments(w http.ResponseWriter, r *http.Request) {
	page, limit, offset, err := parsePagination(r)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	comments, total, err := h.comments.List(r.Context(), offset, limit)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, newPage(comments, page, limit, total))
}

func (h *AdminHandler) DeleteComment(w http.ResponseWriter, r *http.Request) {
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

func (h *AdminHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	page, limit, offset, err := parsePagination(r)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	listings, total, err := h.listings.ListPending(r.Context(), offset, limit)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, newPage(listings, page, limit, total))
}

func (h *AdminHandler) Moderate(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "listingID")
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	var req ModerateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}

	var approve bool
	switch req.Decision {
	case "approve":
		approve = true
	case "reject":
	default:
		writeError(w, http.StatusBadRequest, "decision must be approve or reject")
		return
	}

	listing, err := h.listings.Moderate(r.Context(), mustUser(r), id, approve, req.Note)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, listing)
}

func (h *AdminHandler) DeleteListing(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "listingID")
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	if err := h.listings.Delete(r.Context(), mustUser(r), id); err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AdminUpdateUserRequest lists the user fields an admin may change.
type AdminUpdateUserRequest struct {
	FullName *string `json:"full_name"`
	Email    *string `json:"email"`
	Address  *string `json:"address"`
	Phone    *string `json:"phone"`
	IsAdmin  *bool   `json:"is_admin"`
}

type CreditRequest struct {
	Amount int `json:"amount"`
}

type BalanceResponse struct {
	UserID uuid.UUID `json:"user_id"`
	Points int       `json:"points"`
}

type ModerateRequest struct {
	Decision string `json:"decision"`
	Note     string `json:"note"`
}
