package memory

import (
	"context"
	"slices"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/rewear/apiserver/internal/store"
	"github.com/rewear/apiserver/types"
)

type ListingRepository struct {
	s *Store
}

func (r *ListingRepository) List(_ context.Context, filter types.ListingFilter, offset, limit int) ([]types.Listing, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	listings := make([]types.Listing, 0)
	for _, listing := range r.s.listings {
		if matchesFilter(listing, filter) {
			listings = append(listings, cloneListing(listing))
		}
	}
	sortListings(listings, filter.SortBy, filter.Ascending)
	return page(listings, offset, limit), len(listings), nil
}

func matchesFilter(listing types.Listing, filter types.ListingFilter) bool {
	if len(filter.Statuses) > 0 {
		found := false
		for _, status := range filter.Statuses {
			if listing.Status == status {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	} else if listing.Status == types.ListingDeleted {
		return false
	}
	if q := strings.ToLower(strings.TrimSpace(filter.Query)); q != "" {
		if !strings.Contains(strings.ToLower(listing.Title), q) &&
			!strings.Contains(strings.ToLower(listing.Description), q) {
			return false
		}
	}
	if filter.OwnerID != nil && listing.OwnerID != *filter.OwnerID {
		return false
	}
	if filter.AvailableOnly && !listing.Available {
		return false
	}
	return true
}

func sortListings(listings []types.Listing, sortBy string, ascending bool) {
	less := func(a, b types.Listing) int {
		switch sortBy {
		case "title":
			return strings.Compare(a.Title, b.Title)
		case "point_cost":
			return a.PointCost - b.PointCost
		default:
			return a.CreatedAt.Compare(b.CreatedAt)
		}
	}
	sort.SliceStable(listings, func(i, j int) bool {
		c := less(listings[i], listings[j])
		if c == 0 {
			return strings.Compare(listings[i].ID.String(), listings[j].ID.String()) < 0
		}
		if ascending {
			return c < 0
		}
		return c > 0
	})
}

func (r *ListingRepository) Get(_ context.Context, id uuid.UUID) (types.Listing, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	listing, ok := r.s.listings[id]
	if !ok {
		return types.Listing{}, store.ErrNotFound
	}
	return cloneListing(listing), nil
}

func (r *ListingRepository) Create(_ context.Context, listing types.Listing) (types.Listing, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if listing.ID == uuid.Nil {
		listing.ID = uuid.New()
	}
	if _, exists := r.s.listings[listing.ID]; exists {
		return types.Listing{}, store.ErrDuplicate
	}
	now := r.s.now()
	listing.CreatedAt = now
	listing.UpdatedAt = now
	listing = cloneListing(listing)
	r.s.listings[listing.ID] = listing
	return cloneListing(listing), nil
}

func (r *ListingRepository) Update(_ context.Context, listing types.Listing, images []string, video string) (types.Listing, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	current, ok := r.s.listings[listing.ID]
	if !ok || current.Status == types.ListingDeleted ||
		current.Video != video || !slices.Equal(current.Images, images) {
		return types.Listing{}, store.ErrStateChanged
	}
	current.Title = listing.Title
	current.Description = listing.Description
	current.Category = listing.Category
	current.Size = listing.Size
	current.Condition = listing.Condition
	current.Material = listing.Material
	current.Reason = listing.Reason
	current.Quantity = listing.Quantity
	current.PointCost = listing.PointCost
	current.Images = append([]string(nil), listing.Images...)
	current.Video = listing.Video
	current.UpdatedAt = r.s.now()
	r.s.listings[listing.ID] = current

	listing.UpdatedAt = current.UpdatedAt
	return listing, nil
}

func (r *ListingRepository) ToggleAvailability(_ context.Context, id uuid.UUID) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	listing, ok := r.s.listings[id]
	if !ok || !listing.Status.AvailabilityToggleable() {
		return false, store.ErrStateChanged
	}
	listing.Available = !listing.Available
	listing.UpdatedAt = r.s.now()
	r.s.listings[id] = listing
	return listing.Available, nil
}

func (r *ListingRepository) Transition(_ context.Context, id uuid.UUID, from, to types.ListingStatus, available bool) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	return r.s.transition(id, from, to, available)
}

// transition is the compare-and-set on listing status. Callers hold s.mu.
func (s *Store) transition(id uuid.UUID, from, to types.ListingStatus, available bool) error {
	listing, ok := s.listings[id]
	if !ok || listing.Status != from {
		return store.ErrStateChanged
	}
	listing.Status = to
	listing.Available = available
	listing.UpdatedAt = s.now()
	s.listings[id] = listing
	return nil
}

func (r *ListingRepository) Tombstone(_ context.Context, id uuid.UUID, from types.ListingStatus) (types.Listing, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if err := r.s.transition(id, from, types.ListingDeleted, false); err != nil {
		return types.Listing{}, err
	}
	return cloneListing(r.s.listings[id]), nil
}

func (r *ListingRepository) Moderate(_ context.Context, id uuid.UUID, to types.ListingStatus, available bool, note string, adminID uuid.UUID) (types.Listing, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	listing, ok := r.s.listings[id]
	if !ok || listing.Status != types.ListingPendingReview {
		return types.Listing{}, store.ErrStateChanged
	}
	now := r.s.now()
	listing.Status = to
	listing.Available = available
	listing.ModerationNote = note
	listing.ModeratedBy = &adminID
	listing.ModeratedAt = &now
	listing.UpdatedAt = now
	r.s.listings[id] = listing
	return cloneListing(listing), nil
}

func (r *ListingRepository) Delete(_ context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.listings[id]; !ok {
		return store.ErrNotFound
	}
	delete(r.s.listings, id)
	for commentID, comment := range r.s.comments {
		if comment.ListingID == id {
			delete(r.s.comments, commentID)
		}
	}
	for swapID, swap := range r.s.swaps {
		if swap.ListingID == id || (swap.OfferedListingID != nil && *swap.OfferedListingID == id) {
			delete(r.s.swaps, swapID)
		}
	}
	return nil
}
