package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/rewear/apiserver/types"
)

const orderColumns = `id, kind, requester_id, owner_id, listing_id, offered_listing_id, points, created_at`

const swapColumns = `id, listing_id, requester_id, offered_listing_id, status, created_at, updated_at`

// OrderRepository reads the append-only order history and swap requests.
// Writes happen through LedgerRepository.
type OrderRepository struct {
	db *sql.DB
}

func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

func scanOrder(row rowScanner) (types.Order, error) {
	var order types.Order
	var offered uuid.NullUUID
	err := row.Scan(
		&order.ID,
		&order.Kind,
		&order.RequesterID,
		&order.OwnerID,
		&order.ListingID,
		&offered,
		&order.Points,
		&order.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Order{}, ErrNotFound
		}
		return types.Order{}, err
	}
	if offered.Valid {
		id := offered.UUID
		order.OfferedListingID = &id
	}
	return order, nil
}

func scanSwap(row rowScanner) (types.SwapRequest, error) {
	var swap types.SwapRequest
	var offered uuid.NullUUID
	err := row.Scan(
		&swap.ID,
		&swap.ListingID,
		&swap.RequesterID,
		&offered,
		&swap.Status,
		&swap.CreatedAt,
		&swap.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.SwapRequest{}, ErrNotFound
		}
		return types.SwapRequest{}, err
	}
	if offered.Valid {
		id := offered.UUID
		swap.OfferedListingID = &id
	}
	return swap, nil
}

func (r *OrderRepository) Get(ctx context.Context, id uuid.UUID) (types.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	return scanOrder(r.db.QueryRowContext(ctx, query, id))
}

func (r *OrderRepository) List(ctx context.Context, offset, limit int) ([]types.Order, int, error) {
	if offset < 0 {
		offset = 0
	}
	if limit < 1 {
		limit = 20
	}

	const countQuery = `SELECT COUNT(1) FROM orders`
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + orderColumns + ` FROM orders ORDER BY created_at DESC, id OFFSET $1 LIMIT $2`
	orders, err := r.queryOrders(ctx, query, offset, limit)
	if err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

// ListByRequester returns the orders in which the user received an item.
func (r *OrderRepository) ListByRequester(ctx context.Context, requesterID uuid.UUID) ([]types.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE requester_id = $1 ORDER BY created_at DESC, id`
	return r.queryOrders(ctx, query, requesterID)
}

func (r *OrderRepository) queryOrders(ctx context.Context, query string, args ...any) ([]types.Order, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []types.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

func (r *OrderRepository) GetSwap(ctx context.Context, id uuid.UUID) (types.SwapRequest, error) {
	query := `SELECT ` + swapColumns + ` FROM swap_requests WHERE id = $1`
	return scanSwap(r.db.QueryRowContext(ctx, query, id))
}

// ListSwapsForUser returns swap requests the user made or received.
func (r *OrderRepository) ListSwapsForUser(ctx context.Context, userID uuid.UUID) ([]types.SwapRequest, error) {
	const query = `
		SELECT s.id, s.listing_id, s.requester_id, s.offered_listing_id, s.status, s.created_at, s.updated_at
		FROM swap_requests s
		JOIN listings l ON l.id = s.listing_id
		WHERE s.requester_id = $1 OR l.owner_id = $1
		ORDER BY s.created_at DESC, s.id`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var swaps []types.SwapRequest
	for rows.Next() {
		swap, err := scanSwap(rows)
		if err != nil {
			return nil, err
		}
		swaps = append(swaps, swap)
	}
	return swaps, rows.Err()
}
