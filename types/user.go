package types

import (
	"time"

	"github.com/google/uuid"
)

// DefaultAvatarURL is assigned to users who register without an avatar.
const DefaultAvatarURL = "https://www.svgrepo.com/svg/452030/avatar-default"

// User represents a principal in the marketplace.
// It contains identity, privilege, points balance, and audit metadata.
type User struct {
	// ID is the unique identifier of the user.
	ID uuid.UUID `json:"id" db:"id"`

	// Username is the unique, lowercased handle chosen by the user.
	Username string `json:"username" db:"username"`

	// Email is the user's unique, lowercased email address.
	Email string `json:"email" db:"email"`

	// FullName is the user's display name.
	FullName string `json:"full_name" db:"full_name"`

	// Address is the postal address used to ship swapped items.
	Address string `json:"address" db:"address"`

	// Phone is the user's contact number.
	Phone string `json:"phone" db:"phone"`

	// Avatar is the public media URL of the user's avatar image.
	Avatar string `json:"avatar" db:"avatar"`

	// Points is the redeemable points balance. It is never negative and is
	// changed only by the ledger.
	Points int `json:"points" db:"points"`

	// IsAdmin grants access to moderation and administration endpoints.
	IsAdmin bool `json:"is_admin" db:"is_admin"`

	// PasswordHash stores the bcrypt hash of the user's password.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" db:"password_hash"`

	// RefreshToken is the currently valid refresh credential. Overwriting it
	// invalidates every previously issued refresh token.
	// This field is never exposed in API responses.
	RefreshToken string `json:"-" db:"refresh_token"`

	// CreatedAt is the timestamp when the user account was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the user account.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// UserSummary is the public projection of a user joined onto other records.
type UserSummary struct {
	ID       uuid.UUID `json:"id"`
	Username string    `json:"username"`
	FullName string    `json:"full_name"`
	Avatar   string    `json:"avatar"`
}

// Summary returns the public projection of u.
func (u User) Summary() UserSummary {
	return UserSummary{
		ID:       u.ID,
		Username: u.Username,
		FullName: u.FullName,
		Avatar:   u.Avatar,
	}
}

// UserPatch lists the user fields that may be changed after registration.
// Nil fields are left unchanged.
type UserPatch struct {
	FullName *string
	Username *string
	Email    *string
	Address  *string
	Phone    *string
	IsAdmin  *bool
}

// Apply copies the set fields of p onto u.
func (p UserPatch) Apply(u *User) {
	if p.FullName != nil {
		u.FullName = *p.FullName
	}
	if p.Username != nil {
		u.Username = *p.Username
	}
	if p.Email != nil {
		u.Email = *p.Email
	}
	if p.Address != nil {
		u.Address = *p.Address
	}
	if p.Phone != nil {
		u.Phone = *p.Phone
	}
	if p.IsAdmin != nil {
		u.IsAdmin = *p.IsAdmin
	}
}
