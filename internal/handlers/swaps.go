package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rewear/apiserver/internal/logging"
	"github.com/rewear/apiserver/internal/services"
)

type SwapHandler struct {
	ledger *services.LedgerService
	log    logging.Logger
}

// SwapRouter registers the routes that settle a pending swap request.
func SwapRouter(r chi.Router, auth *AuthHandler, ledger *services.LedgerService, log logging.Logger) {
	handler := &SwapHandler{ledger: ledger, log: log}

	r.Use(auth.RequireAuth)
	r.Post("/{swapID}/accept", handler.Accept)
	r.Post("/{swapID}/decline", handler.Decline)
}

func (h *SwapHandler) Accept(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "swapID")
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	order, err := h.ledger.AcceptSwap(r.Context(), mustUser(r), id)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *SwapHandler) Decline(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "swapID")
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	if err := h.ledger.DeclineSwap(r.Context(), mustUser(r), id); err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "swap declined"})
}
