package types

import (
	"time"

	"github.com/google/uuid"
)

// ListingStatus is a stage in a listing's lifecycle.
type ListingStatus string

const (
	ListingDraft         ListingStatus = "draft"
	ListingPendingReview ListingStatus = "pending_review"
	ListingListed        ListingStatus = "listed"
	ListingPendingSwap   ListingStatus = "pending_swap"
	ListingSwapped       ListingStatus = "swapped"
	ListingRejected      ListingStatus = "rejected"
	ListingDeleted       ListingStatus = "deleted"
)

var listingTransitions = map[ListingStatus][]ListingStatus{
	ListingDraft:         {ListingListed, ListingPendingReview, ListingDeleted},
	ListingPendingReview: {ListingListed, ListingRejected, ListingDeleted},
	ListingListed:        {ListingPendingSwap, ListingSwapped, ListingDeleted},
	ListingPendingSwap:   {ListingSwapped, ListingListed},
	ListingSwapped:       {ListingDeleted},
	ListingRejected:      {ListingDeleted},
}

// Valid reports whether s is a known status.
func (s ListingStatus) Valid() bool {
	switch s {
	case ListingDraft, ListingPendingReview, ListingListed, ListingPendingSwap,
		ListingSwapped, ListingRejected, ListingDeleted:
		return true
	}
	return false
}

// CanTransition reports whether a listing may move from s to next.
func (s ListingStatus) CanTransition(next ListingStatus) bool {
	for _, allowed := range listingTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// AvailabilityToggleable reports whether the available flag may be flipped
// by the owner while the listing is in status s.
func (s ListingStatus) AvailabilityToggleable() bool {
	return s == ListingListed || s == ListingSwapped
}

// Listing represents a clothing item offered for swap or points redemption.
type Listing struct {
	// ID is the unique identifier of the listing.
	ID uuid.UUID `json:"id" db:"id"`

	// OwnerID identifies the user who created the listing. It never changes.
	OwnerID uuid.UUID `json:"owner_id" db:"owner_id"`

	// Title is the short, human-readable name of the item.
	Title string `json:"title" db:"title"`

	// Description is the free-form description of the item.
	Description string `json:"description" db:"description"`

	Category  string `json:"category" db:"category"`
	Size      string `json:"size" db:"size"`
	Condition string `json:"condition" db:"condition"`
	Material  string `json:"material" db:"material"`
	Reason    string `json:"reason" db:"reason"`
	Quantity  int    `json:"quantity" db:"quantity"`

	// PointCost is the number of points a redemption debits from the requester.
	PointCost int `json:"point_cost" db:"point_cost"`

	// Images holds the public media URLs of the item's photos. A listing
	// that is not deleted always has at least one image.
	Images []string `json:"images" db:"images"`

	// Video is an optional public media URL.
	Video string `json:"video,omitempty" db:"video"`

	// Status is the lifecycle stage of the listing.
	Status ListingStatus `json:"status" db:"status"`

	// Available is true when the listing is open for swap or redemption.
	Available bool `json:"available" db:"available"`

	// ModerationNote is the admin's note from the last review decision.
	ModerationNote string `json:"moderation_note,omitempty" db:"moderation_note"`

	// ModeratedBy identifies the admin who made the last review decision.
	ModeratedBy *uuid.UUID `json:"moderated_by,omitempty" db:"moderated_by"`

	// ModeratedAt is the time of the last review decision.
	ModeratedAt *time.Time `json:"moderated_at,omitempty" db:"moderated_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`

	// Owner is filled by read paths that join the owner's public fields.
	Owner *UserSummary `json:"owner,omitempty" db:"-"`
}

// MediaRefs returns every media reference attached to the listing.
func (l Listing) MediaRefs() []string {
	refs := make([]string, 0, len(l.Images)+1)
	refs = append(refs, l.Images...)
	if l.Video != "" {
		refs = append(refs, l.Video)
	}
	return refs
}

// ListingFilter narrows listing queries.
type ListingFilter struct {
	// Query matches title or description, case-insensitively.
	Query string

	// OwnerID restricts results to a single owner when set.
	OwnerID *uuid.UUID

	// Statuses restricts results to the given statuses. Empty means every
	// status except deleted.
	Statuses []ListingStatus

	// AvailableOnly restricts results to listings open for swap.
	AvailableOnly bool

	// SortBy is one of created_at, title, point_cost.
	SortBy string

	// Ascending flips the default descending order.
	Ascending bool
}

// ListingPatch is the allow-list of listing fields an owner may update.
// Nil fields are left unchanged.
type ListingPatch struct {
	Title       *string
	Description *string
	Category    *string
	Size        *string
	Condition   *string
	Material    *string
	Reason      *string
	Quantity    *int
	PointCost   *int
}

// Apply copies the set fields of p onto l.
func (p ListingPatch) Apply(l *Listing) {
	if p.Title != nil {
		l.Title = *p.Title
	}
	if p.Description != nil {
		l.Description = *p.Description
	}
	if p.Category != nil {
		l.Category = *p.Category
	}
	if p.Size != nil {
		l.Size = *p.Size
	}
	if p.Condition != nil {
		l.Condition = *p.Condition
	}
	if p.Material != nil {
		l.Material = *p.Material
	}
	if p.Reason != nil {
		l.Reason = *p.Reason
	}
	if p.Quantity != nil {
		l.Quantity = *p.Quantity
	}
	if p.PointCost != nil {
		l.PointCost = *p.PointCost
	}
}
