package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rewear/apiserver/internal/logging"
	"github.com/rewear/apiserver/internal/mq"
	"github.com/rewear/apiserver/internal/store"
	"github.com/rewear/apiserver/types"
)

const (
	maxListingImages = 5
	latestListings   = 5
	defaultNA        = "N/A"
)

// PublicStatuses are the listing statuses anyone may browse.
var PublicStatuses = []types.ListingStatus{
	types.ListingListed,
	types.ListingPendingSwap,
	types.ListingSwapped,
}

// ListingRepository defines persistence operations for listings.
type ListingRepository interface {
	List(ctx context.Context, filter types.ListingFilter, offset, limit int) ([]types.Listing, int, error)
	Get(ctx context.Context, id uuid.UUID) (types.Listing, error)
	Create(ctx context.Context, listing types.Listing) (types.Listing, error)
	Update(ctx context.Context, listing types.Listing, images []string, video string) (types.Listing, error)
	ToggleAvailability(ctx context.Context, id uuid.UUID) (bool, error)
	Transition(ctx context.Context, id uuid.UUID, from, to types.ListingStatus, available bool) error
	Tombstone(ctx context.Context, id uuid.UUID, from types.ListingStatus) (types.Listing, error)
	Moderate(ctx context.Context, id uuid.UUID, to types.ListingStatus, available bool, note string, adminID uuid.UUID) (types.Listing, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// EventPublisher announces committed state changes.
type EventPublisher interface {
	Publish(ctx context.Context, eventType string, payload any)
}

// ListingInput carries the fields of a new listing.
type ListingInput struct {
	Title       string
	Description string
	Category    string
	Size        string
	Condition   string
	Material    string
	Reason      string
	Quantity    int
	// PointCost defaults to EstimatePoints when nil.
	PointCost *int
	// Draft keeps the listing private until it is published.
	Draft bool
}

// ModerationEvent is the payload of mq.EventListingModerated.
type ModerationEvent struct {
	ListingID uuid.UUID           `json:"listing_id"`
	OwnerID   uuid.UUID           `json:"owner_id"`
	AdminID   uuid.UUID           `json:"admin_id"`
	Status    types.ListingStatus `json:"status"`
	Note      string              `json:"note,omitempty"`
}

// ListingService implements the listing lifecycle.
type ListingService struct {
	listings           ListingRepository
	users              UserRepository
	media              MediaHost
	events             EventPublisher
	log                logging.Logger
	moderationRequired bool
}

func NewListingService(
	listings ListingRepository,
	users UserRepository,
	media MediaHost,
	events EventPublisher,
	moderationRequired bool,
	log logging.Logger,
) *ListingService {
	return &ListingService{
		listings:           listings,
		users:              users,
		media:              media,
		events:             events,
		log:                log,
		moderationRequired: moderationRequired,
	}
}

// List returns a page of listings with owner summaries attached.
func (s *ListingService) List(ctx context.Context, filter types.ListingFilter, offset, limit int) ([]types.Listing, int, error) {
	listings, total, err := s.listings.List(ctx, filter, offset, limit)
	if err != nil {
		return nil, 0, err
	}
	if err := attachListingOwners(ctx, s.users, listings); err != nil {
		return nil, 0, err
	}
	return listings, total, nil
}

// Latest returns the most recently created listed items.
func (s *ListingService) Latest(ctx context.Context) ([]types.Listing, error) {
	listings, _, err := s.List(ctx, types.ListingFilter{Statuses: []types.ListingStatus{types.ListingListed}}, 0, latestListings)
	return listings, err
}

// ListPending returns listings awaiting review, oldest first.
func (s *ListingService) ListPending(ctx context.Context, offset, limit int) ([]types.Listing, int, error) {
	return s.List(ctx, types.ListingFilter{
		Statuses:  []types.ListingStatus{types.ListingPendingReview},
		Ascending: true,
	}, offset, limit)
}

// Get returns a listing. Listings outside PublicStatuses are only visible to
// their owner and admins; viewer may be nil for anonymous requests.
func (s *ListingService) Get(ctx context.Context, viewer *types.User, id uuid.UUID) (types.Listing, error) {
	listing, err := s.get(ctx, id)
	if err != nil {
		return types.Listing{}, err
	}
	if !isPublic(listing.Status) && !canManage(viewer, listing) {
		return types.Listing{}, ErrNotFound
	}

	owner, err := s.users.GetByID(ctx, listing.OwnerID)
	if err == nil {
		summary := owner.Summary()
		listing.Owner = &summary
	} else if !errors.Is(err, store.ErrNotFound) {
		return types.Listing{}, err
	}
	return listing, nil
}

// Create validates the input, uploads media and stores the listing. Uploaded
// media are released if anything after the upload fails.
func (s *ListingService) Create(ctx context.Context, owner types.User, in ListingInput, images []MediaFile, video *MediaFile) (types.Listing, error) {
	listing, err := s.validateInput(in)
	if err != nil {
		return types.Listing{}, err
	}
	if len(images) == 0 {
		return types.Listing{}, validationError("at least one image is required")
	}
	if len(images) > maxListingImages {
		return types.Listing{}, validationError("at most %d images are allowed", maxListingImages)
	}

	listing.OwnerID = owner.ID
	switch {
	case in.Draft:
		listing.Status = types.ListingDraft
	case s.moderationRequired:
		listing.Status = types.ListingPendingReview
	default:
		listing.Status = types.ListingListed
		listing.Available = true
	}

	listing.Images, err = uploadAll(ctx, s.media, s.log, images)
	if err != nil {
		return types.Listing{}, err
	}
	if video != nil {
		refs, err := uploadAll(ctx, s.media, s.log, []MediaFile{*video})
		if err != nil {
			releaseMedia(ctx, s.media, s.log, listing.Images...)
			return types.Listing{}, err
		}
		listing.Video = refs[0]
	}

	created, err := s.listings.Create(ctx, listing)
	if err != nil {
		releaseMedia(ctx, s.media, s.log, listing.MediaRefs()...)
		return types.Listing{}, err
	}
	summary := owner.Summary()
	created.Owner = &summary
	return created, nil
}

func (s *ListingService) validateInput(in ListingInput) (types.Listing, error) {
	listing := types.Listing{
		Title:       strings.TrimSpace(in.Title),
		Description: strings.TrimSpace(in.Description),
		Category:    strings.TrimSpace(in.Category),
		Size:        strings.TrimSpace(in.Size),
		Condition:   strings.TrimSpace(in.Condition),
		Material:    strings.TrimSpace(in.Material),
		Reason:      strings.TrimSpace(in.Reason),
		Quantity:    in.Quantity,
	}
	if listing.Title == "" || listing.Description == "" || listing.Category == "" ||
		listing.Size == "" || listing.Condition == "" {
		return types.Listing{}, validationError("title, description, category, size and condition are required")
	}
	if listing.Material == "" {
		listing.Material = defaultNA
	}
	if listing.Reason == "" {
		listing.Reason = defaultNA
	}
	if listing.Quantity < 0 {
		return types.Listing{}, validationError("quantity must not be negative")
	}
	if in.PointCost != nil {
		if *in.PointCost < 0 {
			return types.Listing{}, validationError("point cost must not be negative")
		}
		listing.PointCost = *in.PointCost
	} else {
		listing.PointCost = EstimatePoints(listing.Category, listing.Condition)
	}
	return listing, nil
}

// Publish submits a draft: straight to listed, or to review when moderation
// is required.
func (s *ListingService) Publish(ctx context.Context, actor types.User, id uuid.UUID) (types.Listing, error) {
	listing, err := s.get(ctx, id)
	if err != nil {
		return types.Listing{}, err
	}
	if listing.OwnerID != actor.ID {
		return types.Listing{}, ErrForbidden
	}
	if listing.Status != types.ListingDraft {
		return types.Listing{}, ErrInvalidTransition
	}

	next, available := types.ListingListed, true
	if s.moderationRequired {
		next, available = types.ListingPendingReview, false
	}
	if err := s.listings.Transition(ctx, id, types.ListingDraft, next, available); err != nil {
		return types.Listing{}, translateStateError(err)
	}
	listing.Status = next
	listing.Available = available
	return listing, nil
}

// Update applies the patch and replaces media. New media are uploaded before
// the record changes; replaced media are released only after it changed. The
// write is refused with ErrConflict when the stored media moved since the read.
func (s *ListingService) Update(ctx context.Context, actor types.User, id uuid.UUID, patch types.ListingPatch, images []MediaFile, video *MediaFile) (types.Listing, error) {
	listing, err := s.get(ctx, id)
	if err != nil {
		return types.Listing{}, err
	}
	if listing.OwnerID != actor.ID {
		return types.Listing{}, ErrForbidden
	}
	if err := validatePatch(patch); err != nil {
		return types.Listing{}, err
	}
	if len(images) > maxListingImages {
		return types.Listing{}, validationError("at most %d images are allowed", maxListingImages)
	}

	readImages, readVideo := listing.Images, listing.Video
	var newRefs, oldRefs []string
	if len(images) > 0 {
		refs, err := uploadAll(ctx, s.media, s.log, images)
		if err != nil {
			return types.Listing{}, err
		}
		newRefs = append(newRefs, refs...)
		oldRefs = append(oldRefs, listing.Images...)
		listing.Images = refs
	}
	if video != nil {
		refs, err := uploadAll(ctx, s.media, s.log, []MediaFile{*video})
		if err != nil {
			releaseMedia(ctx, s.media, s.log, newRefs...)
			return types.Listing{}, err
		}
		newRefs = append(newRefs, refs[0])
		if listing.Video != "" {
			oldRefs = append(oldRefs, listing.Video)
		}
		listing.Video = refs[0]
	}

	patch.Apply(&listing)
	updated, err := s.listings.Update(ctx, listing, readImages, readVideo)
	if err != nil {
		releaseMedia(ctx, s.media, s.log, newRefs...)
		if errors.Is(err, store.ErrStateChanged) {
			if _, err := s.get(ctx, id); err != nil {
				return types.Listing{}, err
			}
			return types.Listing{}, fmt.Errorf("%w: listing media changed concurrently", ErrConflict)
		}
		return types.Listing{}, err
	}
	releaseMedia(ctx, s.media, s.log, oldRefs...)
	return updated, nil
}

func validatePatch(p types.ListingPatch) error {
	for name, value := range map[string]*string{
		"title":       p.Title,
		"description": p.Description,
		"category":    p.Category,
		"size":        p.Size,
		"condition":   p.Condition,
	} {
		if value == nil {
			continue
		}
		trimmed := strings.TrimSpace(*value)
		if trimmed == "" {
			return validationError("%s must not be empty", name)
		}
		*value = trimmed
	}
	if p.Quantity != nil && *p.Quantity < 0 {
		return validationError("quantity must not be negative")
	}
	if p.PointCost != nil && *p.PointCost < 0 {
		return validationError("point cost must not be negative")
	}
	return nil
}

// ToggleAvailability flips the available flag of a listed or swapped item and
// returns the new value.
func (s *ListingService) ToggleAvailability(ctx context.Context, actor types.User, id uuid.UUID) (bool, error) {
	listing, err := s.get(ctx, id)
	if err != nil {
		return false, err
	}
	if listing.OwnerID != actor.ID {
		return false, ErrForbidden
	}
	if !listing.Status.AvailabilityToggleable() {
		return false, ErrInvalidTransition
	}
	available, err := s.listings.ToggleAvailability(ctx, id)
	if err != nil {
		return false, translateStateError(err)
	}
	return available, nil
}

// Moderate approves or rejects a listing awaiting review.
func (s *ListingService) Moderate(ctx context.Context, admin types.User, id uuid.UUID, approve bool, note string) (types.Listing, error) {
	next, available := types.ListingRejected, false
	if approve {
		next, available = types.ListingListed, true
	}

	listing, err := s.listings.Moderate(ctx, id, next, available, strings.TrimSpace(note), admin.ID)
	if err != nil {
		if !errors.Is(err, store.ErrStateChanged) {
			return types.Listing{}, err
		}
		if _, err := s.get(ctx, id); err != nil {
			return types.Listing{}, err
		}
		return types.Listing{}, ErrInvalidTransition
	}

	s.log.Info(ctx, "listing moderated", "listing_id", id, "status", next, "admin_id", admin.ID)
	s.events.Publish(ctx, mq.EventListingModerated, ModerationEvent{
		ListingID: listing.ID,
		OwnerID:   listing.OwnerID,
		AdminID:   admin.ID,
		Status:    listing.Status,
		Note:      listing.ModerationNote,
	})
	return listing, nil
}

// Delete tombstones the listing, releases the media held by the tombstoned
// row, then removes the record. When a release fails the tombstone stays and a
// retry resumes from it.
func (s *ListingService) Delete(ctx context.Context, actor types.User, id uuid.UUID) error {
	listing, err := s.listings.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	if !canManage(&actor, listing) {
		return ErrForbidden
	}

	if listing.Status != types.ListingDeleted {
		if !listing.Status.CanTransition(types.ListingDeleted) {
			return ErrInvalidTransition
		}
		tombstoned, err := s.listings.Tombstone(ctx, id, listing.Status)
		if err != nil {
			return translateStateError(err)
		}
		listing = tombstoned
	}

	if err := releaseAll(ctx, s.media, listing.MediaRefs()); err != nil {
		s.log.Error(ctx, "release listing media failed", "listing_id", id, "error", err)
		return mediaError("release listing media", err)
	}

	if err := s.listings.Delete(ctx, id); err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	s.log.Info(ctx, "listing deleted", "listing_id", id, "actor_id", actor.ID)
	return nil
}

// get loads a listing that is not tombstoned.
func (s *ListingService) get(ctx context.Context, id uuid.UUID) (types.Listing, error) {
	listing, err := s.listings.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.Listing{}, ErrNotFound
		}
		return types.Listing{}, err
	}
	if listing.Status == types.ListingDeleted {
		return types.Listing{}, ErrNotFound
	}
	return listing, nil
}

func isPublic(status types.ListingStatus) bool {
	for _, s := range PublicStatuses {
		if s == status {
			return true
		}
	}
	return false
}

func canManage(user *types.User, listing types.Listing) bool {
	return user != nil && (user.IsAdmin || user.ID == listing.OwnerID)
}

func translateStateError(err error) error {
	switch {
	case errors.Is(err, store.ErrStateChanged):
		return ErrInvalidTransition
	case errors.Is(err, store.ErrNotFound):
		return ErrNotFound
	default:
		return err
	}
}

func attachListingOwners(ctx context.Context, users UserRepository, listings []types.Listing) error {
	if len(listings) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, 0, len(listings))
	for _, l := range listings {
		ids = append(ids, l.OwnerID)
	}
	summaries, err := summariesByID(ctx, users, ids)
	if err != nil {
		return fmt.Errorf("load listing owners: %w", err)
	}
	for i := range listings {
		if summary, ok := summaries[listings[i].OwnerID]; ok {
			listings[i].Owner = &summary
		}
	}
	return nil
}

func summariesByID(ctx context.Context, users UserRepository, ids []uuid.UUID) (map[uuid.UUID]types.UserSummary, error) {
	found, err := users.ListByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	summaries := make(map[uuid.UUID]types.UserSummary, len(found))
	for _, u := range found {
		summaries[u.ID] = u.Summary()
	}
	return summaries, nil
}
