package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rewear/apiserver/internal/logging"
	"github.com/rewear/apiserver/internal/store"
	"github.com/rewear/apiserver/types"
)

// AdminService holds the user and order management use-cases of the admin
// panel. Listing moderation and comment removal live on their own services.
type AdminService struct {
	users    UserRepository
	listings *ListingService
	ledger   LedgerRepository
	orders   OrderRepository
	media    MediaHost
	log      logging.Logger
}

func NewAdminService(
	users UserRepository,
	listings *ListingService,
	ledger LedgerRepository,
	orders OrderRepository,
	media MediaHost,
	log logging.Logger,
) *AdminService {
	return &AdminService{
		users:    users,
		listings: listings,
		ledger:   ledger,
		orders:   orders,
		media:    media,
		log:      log,
	}
}

func (s *AdminService) ListUsers(ctx context.Context, offset, limit int) ([]types.User, int, error) {
	return s.users.List(ctx, offset, limit)
}

func (s *AdminService) GetUser(ctx context.Context, id uuid.UUID) (types.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, ErrNotFound
		}
		return types.User{}, err
	}
	return user, nil
}

// UpdateUser applies the admin allow-list of patch. Usernames stay with their
// owners.
func (s *AdminService) UpdateUser(ctx context.Context, id uuid.UUID, patch types.UserPatch) (types.User, error) {
	patch.Username = nil
	if err := normalizeUserPatch(&patch); err != nil {
		return types.User{}, err
	}
	return updateUser(ctx, s.users, id, patch)
}

// DeleteUser removes a user after deleting each of their listings, so that
// listing media are released, and their avatar. Swaps the user requested are
// declined first so the requested listings go back on the market.
func (s *AdminService) DeleteUser(ctx context.Context, admin types.User, id uuid.UUID) error {
	user, err := s.GetUser(ctx, id)
	if err != nil {
		return err
	}
	if user.ID == admin.ID {
		return validationError("admins cannot delete their own account")
	}

	_, pending, err := s.listings.listings.List(ctx, types.ListingFilter{
		OwnerID:  &user.ID,
		Statuses: []types.ListingStatus{types.ListingPendingSwap},
	}, 0, 1)
	if err != nil {
		return err
	}
	if pending > 0 {
		return fmt.Errorf("%w: user has listings with pending swaps", ErrInvalidTransition)
	}

	swaps, err := s.orders.ListSwapsForUser(ctx, user.ID)
	if err != nil {
		return err
	}
	for _, swap := range swaps {
		if swap.Status != types.SwapPending || swap.RequesterID != user.ID {
			continue
		}
		if err := s.ledger.DeclineSwap(ctx, swap.ID); err != nil && !errors.Is(err, store.ErrStateChanged) {
			return err
		}
	}

	for {
		listings, _, err := s.listings.listings.List(ctx, types.ListingFilter{
			OwnerID:  &user.ID,
			Statuses: deletableStatuses(),
		}, 0, 100)
		if err != nil {
			return err
		}
		if len(listings) == 0 {
			break
		}
		for _, l := range listings {
			if err := s.listings.Delete(ctx, admin, l.ID); err != nil {
				return err
			}
		}
	}

	if err := s.users.Delete(ctx, user.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	if user.Avatar != "" && user.Avatar != types.DefaultAvatarURL {
		releaseMedia(ctx, s.media, s.log, user.Avatar)
	}
	s.log.Info(ctx, "user deleted", "user_id", user.ID, "admin_id", admin.ID)
	return nil
}

func (s *AdminService) ListOrders(ctx context.Context, offset, limit int) ([]types.Order, int, error) {
	orders, total, err := s.orders.List(ctx, offset, limit)
	if err != nil {
		return nil, 0, err
	}
	if err := attachOrderParties(ctx, s.users, orders); err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

func (s *AdminService) GetOrder(ctx context.Context, id uuid.UUID) (types.Order, error) {
	order, err := s.orders.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.Order{}, ErrNotFound
		}
		return types.Order{}, err
	}
	orders := []types.Order{order}
	if err := attachOrderParties(ctx, s.users, orders); err != nil {
		return types.Order{}, err
	}
	return orders[0], nil
}

// deletableStatuses is every status a listing can be deleted from, plus
// tombstones left by an earlier failed delete.
func deletableStatuses() []types.ListingStatus {
	var statuses []types.ListingStatus
	for _, s := range []types.ListingStatus{
		types.ListingDraft,
		types.ListingPendingReview,
		types.ListingListed,
		types.ListingPendingSwap,
		types.ListingSwapped,
		types.ListingRejected,
		types.ListingDeleted,
	} {
		if s == types.ListingDeleted || s.CanTransition(types.ListingDeleted) {
			statuses = append(statuses, s)
		}
	}
	return statuses
}
