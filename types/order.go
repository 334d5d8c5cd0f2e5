package types

import (
	"time"

	"github.com/google/uuid"
)

// OrderKind distinguishes points redemptions from item-for-item swaps.
type OrderKind string

const (
	OrderRedemption OrderKind = "redemption"
	OrderSwap       OrderKind = "swap"
)

// Order is the immutable record of a confirmed redemption or swap.
// Orders are append-only; there is no update or delete path.
type Order struct {
	// ID is the unique identifier of the order.
	ID uuid.UUID `json:"id" db:"id"`

	// Kind tells whether points or an item were given in exchange.
	Kind OrderKind `json:"kind" db:"kind"`

	// RequesterID identifies the user who received the listing.
	RequesterID uuid.UUID `json:"requester_id" db:"requester_id"`

	// OwnerID identifies the user who listed the item.
	OwnerID uuid.UUID `json:"owner_id" db:"owner_id"`

	// ListingID identifies the listing that changed hands.
	ListingID uuid.UUID `json:"listing_id" db:"listing_id"`

	// OfferedListingID identifies the requester's item in a swap.
	OfferedListingID *uuid.UUID `json:"offered_listing_id,omitempty" db:"offered_listing_id"`

	// Points is the amount debited for a redemption. Zero for swaps.
	Points int `json:"points" db:"points"`

	// CreatedAt is the time the exchange was confirmed.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	Requester *UserSummary `json:"requester,omitempty" db:"-"`
	Owner     *UserSummary `json:"owner,omitempty" db:"-"`
}

// SwapStatus is the state of a swap request.
type SwapStatus string

const (
	SwapPending  SwapStatus = "pending"
	SwapAccepted SwapStatus = "accepted"
	SwapDeclined SwapStatus = "declined"
)

// SwapRequest is a proposal to exchange a listing, optionally for one of the
// requester's own listings. While pending, the target listing is in
// ListingPendingSwap.
type SwapRequest struct {
	ID               uuid.UUID  `json:"id" db:"id"`
	ListingID        uuid.UUID  `json:"listing_id" db:"listing_id"`
	RequesterID      uuid.UUID  `json:"requester_id" db:"requester_id"`
	OfferedListingID *uuid.UUID `json:"offered_listing_id,omitempty" db:"offered_listing_id"`
	Status           SwapStatus `json:"status" db:"status"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at" db:"updated_at"`
}
