package memory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rewear/apiserver/internal/store"
	"github.com/rewear/apiserver/types"
)

type OrderRepository struct {
	s *Store
}

func (r *OrderRepository) Get(_ context.Context, id uuid.UUID) (types.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, order := range r.s.orders {
		if order.ID == id {
			return order, nil
		}
	}
	return types.Order{}, store.ErrNotFound
}

func (r *OrderRepository) List(_ context.Context, offset, limit int) ([]types.Order, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	orders := append([]types.Order(nil), r.s.orders...)
	newestFirst(orders, orderCreatedAt, orderID)
	return page(orders, offset, limit), len(orders), nil
}

func (r *OrderRepository) ListByRequester(_ context.Context, requesterID uuid.UUID) ([]types.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var orders []types.Order
	for _, order := range r.s.orders {
		if order.RequesterID == requesterID {
			orders = append(orders, order)
		}
	}
	newestFirst(orders, orderCreatedAt, orderID)
	return orders, nil
}

func (r *OrderRepository) GetSwap(_ context.Context, id uuid.UUID) (types.SwapRequest, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	swap, ok := r.s.swaps[id]
	if !ok {
		return types.SwapRequest{}, store.ErrNotFound
	}
	return swap, nil
}

func (r *OrderRepository) ListSwapsForUser(_ context.Context, userID uuid.UUID) ([]types.SwapRequest, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var swaps []types.SwapRequest
	for _, swap := range r.s.swaps {
		listing, ok := r.s.listings[swap.ListingID]
		if swap.RequesterID == userID || (ok && listing.OwnerID == userID) {
			swaps = append(swaps, swap)
		}
	}
	newestFirst(swaps,
		func(s types.SwapRequest) time.Time { return s.CreatedAt },
		func(s types.SwapRequest) uuid.UUID { return s.ID })
	return swaps, nil
}

func orderCreatedAt(o types.Order) time.Time { return o.CreatedAt }
func orderID(o types.Order) uuid.UUID        { return o.ID }
