package memory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rewear/apiserver/internal/store"
	"github.com/rewear/apiserver/types"
)

type LedgerRepository struct {
	s *Store
}

func (r *LedgerRepository) Redeem(_ context.Context, listingID, requesterID uuid.UUID, cost int) (types.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	requester, ok := r.s.users[requesterID]
	if !ok || requester.Points < cost {
		return types.Order{}, store.ErrInsufficientBalance
	}
	listing, ok := r.s.listings[listingID]
	if !ok || listing.Status != types.ListingListed || !listing.Available ||
		listing.PointCost != cost || listing.OwnerID == requesterID {
		return types.Order{}, store.ErrStateChanged
	}
	owner, ok := r.s.users[listing.OwnerID]
	if !ok {
		return types.Order{}, store.ErrNotFound
	}

	now := r.s.now()
	requester.Points -= cost
	requester.UpdatedAt = now
	owner.Points += cost
	owner.UpdatedAt = now
	listing.Status = types.ListingSwapped
	listing.Available = false
	listing.UpdatedAt = now

	r.s.users[requesterID] = requester
	r.s.users[owner.ID] = owner
	r.s.listings[listingID] = listing

	return r.s.appendOrder(types.Order{
		Kind:        types.OrderRedemption,
		RequesterID: requesterID,
		OwnerID:     owner.ID,
		ListingID:   listingID,
		Points:      cost,
	}, now), nil
}

func (r *LedgerRepository) RequestSwap(_ context.Context, swap types.SwapRequest) (types.SwapRequest, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if swap.OfferedListingID != nil {
		offered, ok := r.s.listings[*swap.OfferedListingID]
		if !ok || offered.OwnerID != swap.RequesterID || offered.Status != types.ListingListed {
			return types.SwapRequest{}, store.ErrStateChanged
		}
	}
	listing, ok := r.s.listings[swap.ListingID]
	if !ok || listing.Status != types.ListingListed || !listing.Available || listing.OwnerID == swap.RequesterID {
		return types.SwapRequest{}, store.ErrStateChanged
	}

	now := r.s.now()
	listing.Status = types.ListingPendingSwap
	listing.Available = false
	listing.UpdatedAt = now
	r.s.listings[swap.ListingID] = listing

	if swap.ID == uuid.Nil {
		swap.ID = uuid.New()
	}
	swap.Status = types.SwapPending
	swap.CreatedAt = now
	swap.UpdatedAt = now
	r.s.swaps[swap.ID] = swap
	return swap, nil
}

func (r *LedgerRepository) AcceptSwap(_ context.Context, swapID uuid.UUID) (types.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	swap, ok := r.s.swaps[swapID]
	if !ok || swap.Status != types.SwapPending {
		return types.Order{}, store.ErrStateChanged
	}
	listing, ok := r.s.listings[swap.ListingID]
	if !ok || listing.Status != types.ListingPendingSwap {
		return types.Order{}, store.ErrStateChanged
	}
	if swap.OfferedListingID != nil {
		offered, ok := r.s.listings[*swap.OfferedListingID]
		if !ok || offered.Status != types.ListingListed {
			return types.Order{}, store.ErrStateChanged
		}
	}

	if err := r.s.transition(swap.ListingID, types.ListingPendingSwap, types.ListingSwapped, false); err != nil {
		return types.Order{}, err
	}
	if swap.OfferedListingID != nil {
		if err := r.s.transition(*swap.OfferedListingID, types.ListingListed, types.ListingSwapped, false); err != nil {
			r.s.listings[swap.ListingID] = listing
			return types.Order{}, err
		}
	}

	now := r.s.now()
	swap.Status = types.SwapAccepted
	swap.UpdatedAt = now
	r.s.swaps[swapID] = swap

	return r.s.appendOrder(types.Order{
		Kind:             types.OrderSwap,
		RequesterID:      swap.RequesterID,
		OwnerID:          listing.OwnerID,
		ListingID:        swap.ListingID,
		OfferedListingID: swap.OfferedListingID,
	}, now), nil
}

func (r *LedgerRepository) DeclineSwap(_ context.Context, swapID uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	swap, ok := r.s.swaps[swapID]
	if !ok || swap.Status != types.SwapPending {
		return store.ErrStateChanged
	}
	if err := r.s.transition(swap.ListingID, types.ListingPendingSwap, types.ListingListed, true); err != nil {
		return err
	}
	swap.Status = types.SwapDeclined
	swap.UpdatedAt = r.s.now()
	r.s.swaps[swapID] = swap
	return nil
}

func (r *LedgerRepository) Credit(_ context.Context, userID uuid.UUID, amount int) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	user, ok := r.s.users[userID]
	if !ok {
		return 0, store.ErrNotFound
	}
	user.Points += amount
	user.UpdatedAt = r.s.now()
	r.s.users[userID] = user
	return user.Points, nil
}

// appendOrder records an order. Callers hold s.mu.
func (s *Store) appendOrder(order types.Order, at time.Time) types.Order {
	order.ID = uuid.New()
	order.CreatedAt = at
	s.orders = append(s.orders, order)
	return order
}
