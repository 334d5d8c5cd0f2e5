package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rewear/apiserver/internal/logging"
	"github.com/rewear/apiserver/internal/store"
	"github.com/rewear/apiserver/types"
)

const profileListings = 50

// Profile is the public view of a user and the items they offer.
type Profile struct {
	User     types.UserSummary `json:"user"`
	Listings []types.Listing   `json:"listings"`
}

// UserService encapsulates account use-cases of the signed-in user.
type UserService struct {
	users    UserRepository
	listings ListingRepository
	orders   OrderRepository
	media    MediaHost
	log      logging.Logger
}

func NewUserService(users UserRepository, listings ListingRepository, orders OrderRepository, media MediaHost, log logging.Logger) *UserService {
	return &UserService{
		users:    users,
		listings: listings,
		orders:   orders,
		media:    media,
		log:      log,
	}
}

func (s *UserService) Get(ctx context.Context, id uuid.UUID) (types.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, ErrNotFound
		}
		return types.User{}, err
	}
	return user, nil
}

// Profile returns a user's public summary and their browsable listings.
func (s *UserService) Profile(ctx context.Context, username string) (Profile, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" {
		return Profile{}, validationError("username is required")
	}
	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Profile{}, ErrNotFound
		}
		return Profile{}, err
	}

	listings, _, err := s.listings.List(ctx, types.ListingFilter{
		OwnerID:  &user.ID,
		Statuses: PublicStatuses,
	}, 0, profileListings)
	if err != nil {
		return Profile{}, err
	}
	summary := user.Summary()
	for i := range listings {
		listings[i].Owner = &summary
	}
	return Profile{User: summary, Listings: listings}, nil
}

// Listings returns every listing the user owns, drafts included.
func (s *UserService) Listings(ctx context.Context, user types.User, offset, limit int) ([]types.Listing, int, error) {
	return s.listings.List(ctx, types.ListingFilter{OwnerID: &user.ID}, offset, limit)
}

// UpdateAccount applies the account fields of patch. Privilege changes are
// ignored here.
func (s *UserService) UpdateAccount(ctx context.Context, user types.User, patch types.UserPatch) (types.User, error) {
	patch.IsAdmin = nil
	if err := normalizeUserPatch(&patch); err != nil {
		return types.User{}, err
	}
	return updateUser(ctx, s.users, user.ID, patch)
}

// ReplaceAvatar uploads the new avatar, points the account at it and then
// releases the avatar the store swapped out.
func (s *UserService) ReplaceAvatar(ctx context.Context, user types.User, avatar MediaFile) (types.User, error) {
	refs, err := uploadAll(ctx, s.media, s.log, []MediaFile{avatar})
	if err != nil {
		return types.User{}, err
	}

	previous, err := s.users.SetAvatar(ctx, user.ID, refs[0])
	if err != nil {
		releaseMedia(ctx, s.media, s.log, refs...)
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, ErrNotFound
		}
		return types.User{}, err
	}
	if previous != "" && previous != types.DefaultAvatarURL {
		releaseMedia(ctx, s.media, s.log, previous)
	}
	return s.Get(ctx, user.ID)
}

// Orders returns the orders the user received items through, newest first.
func (s *UserService) Orders(ctx context.Context, user types.User) ([]types.Order, error) {
	orders, err := s.orders.ListByRequester(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if err := attachOrderParties(ctx, s.users, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// Swaps returns swap requests the user made or received.
func (s *UserService) Swaps(ctx context.Context, user types.User) ([]types.SwapRequest, error) {
	return s.orders.ListSwapsForUser(ctx, user.ID)
}

func updateUser(ctx context.Context, users UserRepository, id uuid.UUID, patch types.UserPatch) (types.User, error) {
	updated, err := users.Update(ctx, id, patch)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrDuplicate):
			return types.User{}, fmt.Errorf("%w: username or email already taken", ErrConflict)
		case errors.Is(err, store.ErrNotFound):
			return types.User{}, ErrNotFound
		}
		return types.User{}, err
	}
	return updated, nil
}

// normalizeUserPatch trims the set fields and rejects empty values.
func normalizeUserPatch(p *types.UserPatch) error {
	for name, value := range map[string]*string{
		"full_name": p.FullName,
		"username":  p.Username,
		"email":     p.Email,
		"address":   p.Address,
		"phone":     p.Phone,
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
	if p.Username != nil {
		*p.Username = strings.ToLower(*p.Username)
	}
	if p.Email != nil {
		*p.Email = strings.ToLower(*p.Email)
		if err := validateEmail(*p.Email); err != nil {
			return err
		}
	}
	return nil
}

func attachOrderParties(ctx context.Context, users UserRepository, orders []types.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, 0, 2*len(orders))
	for _, o := range orders {
		ids = append(ids, o.RequesterID, o.OwnerID)
	}
	summaries, err := summariesByID(ctx, users, ids)
	if err != nil {
		return fmt.Errorf("load order parties: %w", err)
	}
	for i := range orders {
		if summary, ok := summaries[orders[i].RequesterID]; ok {
			orders[i].Requester = &summary
		}
		if summary, ok := summaries[orders[i].OwnerID]; ok {
			orders[i].Owner = &summary
		}
	}
	return nil
}
