package handlers

import (
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
	formFieldImages = "images"
	formFieldVideo  = "video"
)

// ListingHandler serves the listing lifecycle and the exchanges started from a
// listing.
type ListingHandler struct {
	listings *services.ListingService
	ledger   *services.LedgerService
	log      logging.Logger
}

func NewListingHandler(listings *services.ListingService, ledger *services.LedgerService, log logging.Logger) *ListingHandler {
	return &ListingHandler{listings: listings, ledger: ledger, log: log}
}

// ListingRouter registers listing routes on the given router.
func ListingRouter(r chi.Router, auth *AuthHandler, listings *services.ListingService, ledger *services.LedgerService, log logging.Logger) {
	handler := NewListingHandler(listings, ledger, log)

	r.Get("/", handler.List)
	r.Get("/latest", handler.Latest)
	r.Get("/estimate", handler.Estimate)
	r.With(auth.RequireAuth).Post("/", handler.Create)

	r.Route("/{listingID}", func(r chi.Router) {
		r.With(auth.OptionalAuth).Get("/", handler.Get)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth)

			r.Put("/", handler.Update)
			r.Delete("/", handler.Delete)
			r.Patch("/availability", handler.ToggleAvailability)
			r.Post("/publish", handler.Publish)
			r.Post("/redeem", handler.Redeem)
			r.Post("/swaps", handler.RequestSwap)
		})
	})
}

// List returns browsable listings. Query: q, available, sort, order, page,
// limit.
func (h *ListingHandler) List(w http.ResponseWriter, r *http.Request) {
	page, limit, offset, err := parsePagination(r)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}

	query := r.URL.Query()
	filter := types.ListingFilter{
		Query:     query.Get("q"),
		Statuses:  services.PublicStatuses,
		SortBy:    query.Get("sort"),
		Ascending: strings.EqualFold(query.Get("order"), "asc"),
	}
	if raw := query.Get("available"); raw != "" {
		filter.AvailableOnly, err = strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid available flag")
			return
		}
	}
	if raw := query.Get("owner"); raw != "" {
		ownerID, err := uuid.Parse(raw)
		if err != nil {
			writeServiceError(w, r, h.log, services.ErrInvalidIdentifier)
			return
		}
		filter.OwnerID = &ownerID
	}

	items, total, err := h.listings.List(r.Context(), filter, offset, limit)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, newPage(items, page, limit, total))
}

func (h *ListingHandler) Latest(w http.ResponseWriter, r *http.Request) {
	items, err := h.listings.Latest(r.Context())
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	if items == nil {
		items = []types.Listing{}
	}
	writeJSON(w, http.StatusOK, items)
}

// Estimate suggests a point cost from category and condition.
func (h *ListingHandler) Estimate(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	writeJSON(w, http.StatusOK, EstimateResponse{
		Points: services.EstimatePoints(query.Get("category"), query.Get("condition")),
	})
}

func (h *ListingHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "listingID")
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}

	var viewer *types.User
	if user, ok := UserFromContext(r.Context()); ok {
		viewer = &user
	}
	listing, err := h.listings.Get(r.Context(), viewer, id)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, listing)
}

// Create stores a listing from a multipart form with one to five images and
// an optional video.
func (h *ListingHandler) Create(w http.ResponseWriter, r *http.Request) {
	if err := parseMultipart(r); err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	form := r.MultipartForm

	in := services.ListingInput{
		Title:       r.FormValue("title"),
		Description: r.FormValue("description"),
		Category:    r.FormValue("category"),
		Size:        r.FormValue("size"),
		Condition:   r.FormValue("condition"),
		Material:    r.FormValue("material"),
		Reason:      r.FormValue("reason"),
	}
	quantity, err := optionalInt(form, "quantity")
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	if quantity != nil {
		in.Quantity = *quantity
	}
	if in.PointCost, err = optionalInt(form, "point_cost"); err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	if raw := r.FormValue("draft"); raw != "" {
		if in.Draft, err = strconv.ParseBool(raw); err != nil {
			writeError(w, http.StatusBadRequest, "invalid draft flag")
			return
		}
	}

	images, video, cleanup, err := listingMedia(form)
	defer cleanup()
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}

	listing, err := h.listings.Create(r.Context(), mustUser(r), in, images, video)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	h.log.Info(r.Context(), "listing created", "listing_id", listing.ID, "status", listing.Status)
	writeJSON(w, http.StatusCreated, listing)
}

// Update applies a JSON patch, or a multipart form that may also replace the
// images or the video.
func (h *ListingHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "listingID")
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}

	var (
		patch   types.ListingPatch
		images  []services.MediaFile
		video   *services.MediaFile
		cleanup = func() {}
	)
	if isMultipart(r) {
		if err := parseMultipart(r); err != nil {
			writeServiceError(w, r, h.log, err)
			return
		}
		if patch, err = listingPatchFromForm(r); err != nil {
			writeServiceError(w, r, h.log, err)
			return
		}
		images, video, cleanup, err = listingMedia(r.MultipartForm)
		if err != nil {
			cleanup()
			writeServiceError(w, r, h.log, err)
			return
		}
	} else {
		var req UpdateListingRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeServiceError(w, r, h.log, err)
			return
		}
		patch = types.ListingPatch(req)
	}
	defer cleanup()

	listing, err := h.listings.Update(r.Context(), mustUser(r), id, patch, images, video)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, listing)
}

func (h *ListingHandler) Delete(w http.ResponseWriter, r *http.Request) {
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

func (h *ListingHandler) ToggleAvailability(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "listingID")
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	available, err := h.listings.ToggleAvailability(r.Context(), mustUser(r), id)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, AvailabilityResponse{ID: id, Available: available})
}

func (h *ListingHandler) Publish(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "listingID")
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	listing, err := h.listings.Publish(r.Context(), mustUser(r), id)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, listing)
}

func (h *ListingHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "listingID")
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	order, err := h.ledger.Redeem(r.Context(), mustUser(r), id)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

// RequestSwap reserves the listing. The body may name one of the caller's
// listings to offer in exchange.
func (h *ListingHandler) RequestSwap(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "listingID")
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	var req SwapRequestBody
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeServiceError(w, r, h.log, err)
			return
		}
	}

	swap, err := h.ledger.RequestSwap(r.Context(), mustUser(r), id, req.OfferedListingID)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, swap)
}

func listingMedia(form *multipart.Form) ([]services.MediaFile, *services.MediaFile, func(), error) {
	images, closeImages, err := formFiles(form, formFieldImages)
	if err != nil {
		return nil, nil, closeImages, err
	}
	video, closeVideo, err := formFile(form, formFieldVideo)
	cleanup := func() {
		closeImages()
		closeVideo()
	}
	if err != nil {
		return nil, nil, cleanup, err
	}
	return images, video, cleanup, nil
}

func listingPatchFromForm(r *http.Request) (types.ListingPatch, error) {
	form := r.MultipartForm
	patch := types.ListingPatch{
		Title:       optionalString(form, "title"),
		Description: optionalString(form, "description"),
		Category:    optionalString(form, "category"),
		Size:        optionalString(form, "size"),
		Condition:   optionalString(form, "condition"),
		Material:    optionalString(form, "material"),
		Reason:      optionalString(form, "reason"),
	}
	var err error
	if patch.Quantity, err = optionalInt(form, "quantity"); err != nil {
		return types.ListingPatch{}, err
	}
	if patch.PointCost, err = optionalInt(form, "point_cost"); err != nil {
		return types.ListingPatch{}, err
	}
	return patch, nil
}

// UpdateListingRequest is the JSON form of types.ListingPatch.
type UpdateListingRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Category    *string `json:"category"`
	Size        *string `json:"size"`
	Condition   *string `json:"condition"`
	Material    *string `json:"material"`
	Reason      *string `json:"reason"`
	Quantity    *int    `json:"quantity"`
	PointCost   *int    `json:"point_cost"`
}

type SwapRequestBody struct {
	OfferedListingID *uuid.UUID `json:"offered_listing_id"`
}

type AvailabilityResponse struct {
	ID        uuid.UUID `json:"id"`
	Available bool      `json:"available"`
}

type EstimateResponse struct {
	Points int `json:"points"`
}
