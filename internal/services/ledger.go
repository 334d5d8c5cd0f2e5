package services

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rewear/apiserver/internal/logging"
	"github.com/rewear/apiserver/internal/metrics"
	"github.com/rewear/apiserver/internal/mq"
	"github.com/rewear/apiserver/internal/store"
	"github.com/rewear/apiserver/types"
)

// LedgerRepository performs the atomic multi-record operations of the points
// ledger.
type LedgerRepository interface {
	Redeem(ctx context.Context, listingID, requesterID uuid.UUID, cost int) (types.Order, error)
	RequestSwap(ctx context.Context, swap types.SwapRequest) (types.SwapRequest, error)
	AcceptSwap(ctx context.Context, swapID uuid.UUID) (types.Order, error)
	DeclineSwap(ctx context.Context, swapID uuid.UUID) error
	Credit(ctx context.Context, userID uuid.UUID, amount int) (int, error)
}

// OrderRepository reads orders and swap requests.
type OrderRepository interface {
	Get(ctx context.Context, id uuid.UUID) (types.Order, error)
	List(ctx context.Context, offset, limit int) ([]types.Order, int, error)
	ListByRequester(ctx context.Context, requesterID uuid.UUID) ([]types.Order, error)
	GetSwap(ctx context.Context, id uuid.UUID) (types.SwapRequest, error)
	ListSwapsForUser(ctx context.Context, userID uuid.UUID) ([]types.SwapRequest, error)
}

// LedgerService moves points and items between users.
type LedgerService struct {
	ledger   LedgerRepository
	listings ListingRepository
	orders   OrderRepository
	events   EventPublisher
	log      logging.Logger
}

func NewLedgerService(ledger LedgerRepository, listings ListingRepository, orders OrderRepository, events EventPublisher, log logging.Logger) *LedgerService {
	return &LedgerService{
		ledger:   ledger,
		listings: listings,
		orders:   orders,
		events:   events,
		log:      log,
	}
}

// Redeem buys a listed item with points. Debit, credit, listing status change
// and the order record commit together or not at all.
func (s *LedgerService) Redeem(ctx context.Context, requester types.User, listingID uuid.UUID) (order types.Order, err error) {
	defer func() {
		metrics.LedgerOperations.WithLabelValues("redeem", metrics.Result(err)).Inc()
	}()

	listing, err := s.openListing(ctx, listingID)
	if err != nil {
		return types.Order{}, err
	}
	if listing.OwnerID == requester.ID {
		return types.Order{}, ErrSelfSwapForbidden
	}

	order, err = s.ledger.Redeem(ctx, listing.ID, requester.ID, listing.PointCost)
	if err != nil {
		if errors.Is(err, store.ErrInsufficientBalance) {
			return types.Order{}, ErrInsufficientPoints
		}
		return types.Order{}, translateStateError(err)
	}

	s.log.Info(ctx, "listing redeemed", "listing_id", listing.ID, "requester_id", requester.ID, "points", order.Points)
	s.events.Publish(ctx, mq.EventOrderCreated, order)
	return order, nil
}

// RequestSwap reserves a listing for a swap, optionally offering one of the
// requester's own listed items in exchange.
func (s *LedgerService) RequestSwap(ctx context.Context, requester types.User, listingID uuid.UUID, offeredID *uuid.UUID) (swap types.SwapRequest, err error) {
	defer func() {
		metrics.LedgerOperations.WithLabelValues("swap_request", metrics.Result(err)).Inc()
	}()

	listing, err := s.openListing(ctx, listingID)
	if err != nil {
		return types.SwapRequest{}, err
	}
	if listing.OwnerID == requester.ID {
		return types.SwapRequest{}, ErrSelfSwapForbidden
	}

	if offeredID != nil {
		if *offeredID == listingID {
			return types.SwapRequest{}, validationError("offered listing must differ from the requested one")
		}
		offered, err := s.listings.Get(ctx, *offeredID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return types.SwapRequest{}, ErrNotFound
			}
			return types.SwapRequest{}, err
		}
		if offered.OwnerID != requester.ID {
			return types.SwapRequest{}, ErrForbidden
		}
		if offered.Status != types.ListingListed {
			return types.SwapRequest{}, ErrInvalidTransition
		}
	}

	swap, err = s.ledger.RequestSwap(ctx, types.SwapRequest{
		ListingID:        listingID,
		RequesterID:      requester.ID,
		OfferedListingID: offeredID,
	})
	if err != nil {
		return types.SwapRequest{}, translateStateError(err)
	}

	s.events.Publish(ctx, mq.EventSwapRequested, swap)
	return swap, nil
}

// AcceptSwap completes a pending swap. Only the owner of the requested
// listing may accept.
func (s *LedgerService) AcceptSwap(ctx context.Context, actor types.User, swapID uuid.UUID) (order types.Order, err error) {
	defer func() {
		metrics.LedgerOperations.WithLabelValues("swap_accept", metrics.Result(err)).Inc()
	}()

	swap, listing, err := s.pendingSwap(ctx, swapID)
	if err != nil {
		return types.Order{}, err
	}
	if listing.OwnerID != actor.ID {
		return types.Order{}, ErrForbidden
	}

	order, err = s.ledger.AcceptSwap(ctx, swap.ID)
	if err != nil {
		return types.Order{}, translateStateError(err)
	}

	s.log.Info(ctx, "swap accepted", "swap_id", swap.ID, "listing_id", swap.ListingID)
	s.events.Publish(ctx, mq.EventOrderCreated, order)
	return order, nil
}

// DeclineSwap puts the listing back on the market. The listing owner declines;
// the requester may withdraw.
func (s *LedgerService) DeclineSwap(ctx context.Context, actor types.User, swapID uuid.UUID) (err error) {
	defer func() {
		metrics.LedgerOperations.WithLabelValues("swap_decline", metrics.Result(err)).Inc()
	}()

	swap, listing, err := s.pendingSwap(ctx, swapID)
	if err != nil {
		return err
	}
	if listing.OwnerID != actor.ID && swap.RequesterID != actor.ID {
		return ErrForbidden
	}
	if err := s.ledger.DeclineSwap(ctx, swap.ID); err != nil {
		return translateStateError(err)
	}
	return nil
}

// Credit adds points to a user's balance and returns the new balance.
func (s *LedgerService) Credit(ctx context.Context, userID uuid.UUID, amount int) (balance int, err error) {
	defer func() {
		metrics.LedgerOperations.WithLabelValues("credit", metrics.Result(err)).Inc()
	}()

	if amount <= 0 {
		return 0, validationError("amount must be positive")
	}
	balance, err = s.ledger.Credit(ctx, userID, amount)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	return balance, nil
}

// openListing loads a listing that is open for swap or redemption.
func (s *LedgerService) openListing(ctx context.Context, id uuid.UUID) (types.Listing, error) {
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
	if listing.Status != types.ListingListed || !listing.Available {
		return types.Listing{}, ErrInvalidTransition
	}
	return listing, nil
}

func (s *LedgerService) pendingSwap(ctx context.Context, swapID uuid.UUID) (types.SwapRequest, types.Listing, error) {
	swap, err := s.orders.GetSwap(ctx, swapID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.SwapRequest{}, types.Listing{}, ErrNotFound
		}
		return types.SwapRequest{}, types.Listing{}, err
	}
	listing, err := s.listings.Get(ctx, swap.ListingID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.SwapRequest{}, types.Listing{}, ErrNotFound
		}
		return types.SwapRequest{}, types.Listing{}, err
	}
	if swap.Status != types.SwapPending {
		return types.SwapRequest{}, types.Listing{}, ErrInvalidTransition
	}
	return swap, listing, nil
}
