package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rewear/apiserver/internal/db"
	"github.com/rewear/apiserver/types"
)

// LedgerRepository performs the multi-record state changes of redemptions and
// swaps. Each method runs in a single transaction, so either every write
// commits or none does.
type LedgerRepository struct {
	db *sql.DB
}

func NewLedgerRepository(db *sql.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// Redeem debits cost points from the requester, credits the owner, marks the
// listing swapped and appends a redemption order.
//
// The debit runs first so that concurrent redemptions by the same requester
// serialize on the user row and the loser observes the reduced balance.
func (r *LedgerRepository) Redeem(ctx context.Context, listingID, requesterID uuid.UUID, cost int) (types.Order, error) {
	var order types.Order
	err := db.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		if err := debit(ctx, tx, requesterID, cost); err != nil {
			return err
		}

		const claimListing = `
			UPDATE listings
			SET status = 'swapped', available = FALSE, updated_at = $1
			WHERE id = $2 AND status = 'listed' AND available AND point_cost = $3 AND owner_id <> $4
			RETURNING owner_id`
		var ownerID uuid.UUID
		err := tx.QueryRowContext(ctx, claimListing, time.Now().UTC(), listingID, cost, requesterID).Scan(&ownerID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrStateChanged
			}
			return err
		}

		if err := credit(ctx, tx, ownerID, cost); err != nil {
			return err
		}

		order = types.Order{
			Kind:        types.OrderRedemption,
			RequesterID: requesterID,
			OwnerID:     ownerID,
			ListingID:   listingID,
			Points:      cost,
		}
		order, err = insertOrder(ctx, tx, order)
		return err
	})
	if err != nil {
		return types.Order{}, err
	}
	return order, nil
}

// RequestSwap reserves the listing for the requester and records a pending
// swap request. An offered listing must belong to the requester and be listed.
func (r *LedgerRepository) RequestSwap(ctx context.Context, swap types.SwapRequest) (types.SwapRequest, error) {
	now := time.Now().UTC()
	if swap.ID == uuid.Nil {
		swap.ID = uuid.New()
	}
	swap.Status = types.SwapPending
	swap.CreatedAt = now
	swap.UpdatedAt = now

	err := db.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		if swap.OfferedListingID != nil {
			const lockOffered = `
				SELECT id FROM listings
				WHERE id = $1 AND owner_id = $2 AND status = 'listed'
				FOR UPDATE`
			var id uuid.UUID
			if err := tx.QueryRowContext(ctx, lockOffered, *swap.OfferedListingID, swap.RequesterID).Scan(&id); err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return ErrStateChanged
				}
				return err
			}
		}

		const reserve = `
			UPDATE listings
			SET status = 'pending_swap', available = FALSE, updated_at = $1
			WHERE id = $2 AND status = 'listed' AND available AND owner_id <> $3`
		result, err := tx.ExecContext(ctx, reserve, now, swap.ListingID, swap.RequesterID)
		if err != nil {
			return err
		}
		if err := expectState(result); err != nil {
			return err
		}

		const insert = `
			INSERT INTO swap_requests (id, listing_id, requester_id, offered_listing_id, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`
		_, err = tx.ExecContext(ctx, insert,
			swap.ID,
			swap.ListingID,
			swap.RequesterID,
			nullableUUID(swap.OfferedListingID),
			swap.Status,
			swap.CreatedAt,
			swap.UpdatedAt,
		)
		return err
	})
	if err != nil {
		return types.SwapRequest{}, err
	}
	return swap, nil
}

// AcceptSwap completes a pending swap: both listings become swapped and a swap
// order is appended.
func (r *LedgerRepository) AcceptSwap(ctx context.Context, swapID uuid.UUID) (types.Order, error) {
	var order types.Order
	err := db.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		swap, err := closeSwap(ctx, tx, swapID, types.SwapAccepted)
		if err != nil {
			return err
		}

		const claimListing = `
			UPDATE listings
			SET status = 'swapped', available = FALSE, updated_at = $1
			WHERE id = $2 AND status = 'pending_swap'
			RETURNING owner_id`
		var ownerID uuid.UUID
		if err := tx.QueryRowContext(ctx, claimListing, time.Now().UTC(), swap.ListingID).Scan(&ownerID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrStateChanged
			}
			return err
		}

		if swap.OfferedListingID != nil {
			if err := transitionListing(ctx, tx, *swap.OfferedListingID, types.ListingListed, types.ListingSwapped, false); err != nil {
				return err
			}
		}

		order, err = insertOrder(ctx, tx, types.Order{
			Kind:             types.OrderSwap,
			RequesterID:      swap.RequesterID,
			OwnerID:          ownerID,
			ListingID:        swap.ListingID,
			OfferedListingID: swap.OfferedListingID,
		})
		return err
	})
	if err != nil {
		return types.Order{}, err
	}
	return order, nil
}

// DeclineSwap releases the reserved listing back to listed.
func (r *LedgerRepository) DeclineSwap(ctx context.Context, swapID uuid.UUID) error {
	return db.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		swap, err := closeSwap(ctx, tx, swapID, types.SwapDeclined)
		if err != nil {
			return err
		}
		return transitionListing(ctx, tx, swap.ListingID, types.ListingPendingSwap, types.ListingListed, true)
	})
}

// Credit adds amount points to the user and returns the new balance.
func (r *LedgerRepository) Credit(ctx context.Context, userID uuid.UUID, amount int) (int, error) {
	const query = `
		UPDATE users SET points = points + $1, updated_at = $2
		WHERE id = $3
		RETURNING points`
	var balance int
	err := r.db.QueryRowContext(ctx, query, amount, time.Now().UTC(), userID).Scan(&balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	return balance, nil
}

func debit(ctx context.Context, tx *sql.Tx, userID uuid.UUID, amount int) error {
	const query = `
		UPDATE users SET points = points - $1, updated_at = $2
		WHERE id = $3 AND points >= $1`
	result, err := tx.ExecContext(ctx, query, amount, time.Now().UTC(), userID)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrInsufficientBalance
	}
	return nil
}

func credit(ctx context.Context, tx *sql.Tx, userID uuid.UUID, amount int) error {
	if amount == 0 {
		return nil
	}
	const query = `UPDATE users SET points = points + $1, updated_at = $2 WHERE id = $3`
	result, err := tx.ExecContext(ctx, query, amount, time.Now().UTC(), userID)
	if err != nil {
		return err
	}
	return expectAffected(result)
}

func closeSwap(ctx context.Context, tx *sql.Tx, swapID uuid.UUID, status types.SwapStatus) (types.SwapRequest, error) {
	query := `
		UPDATE swap_requests
		SET status = $1, updated_at = $2
		WHERE id = $3 AND status = 'pending'
		RETURNING ` + swapColumns
	swap, err := scanSwap(tx.QueryRowContext(ctx, query, status, time.Now().UTC(), swapID))
	if errors.Is(err, ErrNotFound) {
		return types.SwapRequest{}, ErrStateChanged
	}
	return swap, err
}

func insertOrder(ctx context.Context, tx *sql.Tx, order types.Order) (types.Order, error) {
	order.ID = uuid.New()
	order.CreatedAt = time.Now().UTC()

	const query = `
		INSERT INTO orders (id, kind, requester_id, owner_id, listing_id, offered_listing_id, points, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := tx.ExecContext(ctx, query,
		order.ID,
		order.Kind,
		order.RequesterID,
		order.OwnerID,
		order.ListingID,
		nullableUUID(order.OfferedListingID),
		order.Points,
		order.CreatedAt,
	)
	if err != nil {
		return types.Order{}, err
	}
	return order, nil
}

func expectState(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrStateChanged
	}
	return nil
}

func nullableUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}
