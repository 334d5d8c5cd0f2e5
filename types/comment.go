package types

import (
	"time"

	"github.com/google/uuid"
)

// Comment is a user's remark on a listing.
type Comment struct {
	// ID is the unique identifier of the comment.
	ID uuid.UUID `json:"id" db:"id"`

	// ListingID identifies the listing the comment belongs to.
	ListingID uuid.UUID `json:"listing_id" db:"listing_id"`

	// OwnerID identifies the author. Only the author may edit or delete.
	OwnerID uuid.UUID `json:"owner_id" db:"owner_id"`

	// Content is the comment text.
	Content string `json:"content" db:"content"`

	// Rating is an optional 0-5 score of the item.
	Rating int `json:"rating" db:"rating"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`

	// Owner is filled by read paths that join the author's public fields.
	Owner *UserSummary `json:"owner,omitempty" db:"-"`
}
