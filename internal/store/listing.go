package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/rewear/apiserver/types"
)

const listingColumns = `id, owner_id, title, description, category, size, condition, material, reason,
		       quantity, point_cost, images, video, status, available, moderation_note,
		       moderated_by, moderated_at, created_at, updated_at`

var listingSortColumns = map[string]string{
	"":           "created_at",
	"created_at": "created_at",
	"createdAt":  "created_at",
	"title":      "title",
	"point_cost": "point_cost",
}

// ListingRepository handles persistence for listings.
type ListingRepository struct {
	db *sql.DB
}

func NewListingRepository(db *sql.DB) *ListingRepository {
	return &ListingRepository{db: db}
}

func scanListing(row rowScanner) (types.Listing, error) {
	var listing types.Listing
	var images pq.StringArray
	var moderatedBy uuid.NullUUID
	var moderatedAt sql.NullTime
	err := row.Scan(
		&listing.ID,
		&listing.OwnerID,
		&listing.Title,
		&listing.Description,
		&listing.Category,
		&listing.Size,
		&listing.Condition,
		&listing.Material,
		&listing.Reason,
		&listing.Quantity,
		&listing.PointCost,
		&images,
		&listing.Video,
		&listing.Status,
		&listing.Available,
		&listing.ModerationNote,
		&moderatedBy,
		&moderatedAt,
		&listing.CreatedAt,
		&listing.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Listing{}, ErrNotFound
		}
		return types.Listing{}, err
	}
	listing.Images = []string(images)
	if moderatedBy.Valid {
		id := moderatedBy.UUID
		listing.ModeratedBy = &id
	}
	if moderatedAt.Valid {
		at := moderatedAt.Time
		listing.ModeratedAt = &at
	}
	return listing, nil
}

func (r *ListingRepository) List(ctx context.Context, filter types.ListingFilter, offset, limit int) ([]types.Listing, int, error) {
	if offset < 0 {
		offset = 0
	}
	if limit < 1 {
		limit = 20
	}

	where, args := listingWhere(filter)

	countQuery := `SELECT COUNT(1) FROM listings WHERE ` + where
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	sortColumn, ok := listingSortColumns[filter.SortBy]
	if !ok {
		sortColumn = "created_at"
	}
	direction := "DESC"
	if filter.Ascending {
		direction = "ASC"
	}

	listQuery := fmt.Sprintf(`SELECT %s
		FROM listings
		WHERE %s
		ORDER BY %s %s, id
		OFFSET $%d LIMIT $%d`, listingColumns, where, sortColumn, direction, len(args)+1, len(args)+2)
	args = append(args, offset, limit)

	rows, err := r.db.QueryContext(ctx, listQuery, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	listings := make([]types.Listing, 0, limit)
	for rows.Next() {
		listing, err := scanListing(rows)
		if err != nil {
			return nil, 0, err
		}
		listings = append(listings, listing)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return listings, total, nil
}

func listingWhere(filter types.ListingFilter) (string, []any) {
	var clauses []string
	var args []any
	next := func(value any) string {
		args = append(args, value)
		return fmt.Sprintf("$%d", len(args))
	}

	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			statuses[i] = string(status)
		}
		clauses = append(clauses, "status = ANY("+next(pq.Array(statuses))+")")
	} else {
		clauses = append(clauses, "status <> "+next(string(types.ListingDeleted)))
	}
	if q := strings.TrimSpace(filter.Query); q != "" {
		p := next("%" + escapeLike(q) + "%")
		clauses = append(clauses, "(title ILIKE "+p+" OR description ILIKE "+p+")")
	}
	if filter.OwnerID != nil {
		clauses = append(clauses, "owner_id = "+next(*filter.OwnerID))
	}
	if filter.AvailableOnly {
		clauses = append(clauses, "available")
	}
	return strings.Join(clauses, " AND "), args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func (r *ListingRepository) Get(ctx context.Context, id uuid.UUID) (types.Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM listings WHERE id = $1`
	return scanListing(r.db.QueryRowContext(ctx, query, id))
}

func (r *ListingRepository) Create(ctx context.Context, listing types.Listing) (types.Listing, error) {
	now := time.Now().UTC()
	if listing.ID == uuid.Nil {
		listing.ID = uuid.New()
	}
	listing.CreatedAt = now
	listing.UpdatedAt = now

	const query = `
		INSERT INTO listings (id, owner_id, title, description, category, size, condition, material, reason,
		                      quantity, point_cost, images, video, status, available, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`
	_, err := r.db.ExecContext(
		ctx,
		query,
		listing.ID,
		listing.OwnerID,
		listing.Title,
		listing.Description,
		listing.Category,
		listing.Size,
		listing.Condition,
		listing.Material,
		listing.Reason,
		listing.Quantity,
		listing.PointCost,
		pq.Array(listing.Images),
		listing.Video,
		listing.Status,
		listing.Available,
		listing.CreatedAt,
		listing.UpdatedAt,
	)
	if err != nil {
		return types.Listing{}, translateError(err)
	}
	return listing, nil
}

// Update writes the editable fields and media of a listing that is not
// deleted. The write only lands while the stored media still equal images and
// video, the refs the caller read; otherwise it returns ErrStateChanged.
// Status and availability have dedicated write paths.
func (r *ListingRepository) Update(ctx context.Context, listing types.Listing, images []string, video string) (types.Listing, error) {
	listing.UpdatedAt = time.Now().UTC()

	const query = `
		UPDATE listings
		SET title = $1,
			description = $2,
			category = $3,
			size = $4,
			condition = $5,
			material = $6,
			reason = $7,
			quantity = $8,
			point_cost = $9,
			images = $10,
			video = $11,
			updated_at = $12
		WHERE id = $13 AND status <> 'deleted' AND images = $14 AND video = $15`
	result, err := r.db.ExecContext(
		ctx,
		query,
		listing.Title,
		listing.Description,
		listing.Category,
		listing.Size,
		listing.Condition,
		listing.Material,
		listing.Reason,
		listing.Quantity,
		listing.PointCost,
		pq.Array(listing.Images),
		listing.Video,
		listing.UpdatedAt,
		listing.ID,
		pq.Array(images),
		video,
	)
	if err != nil {
		return types.Listing{}, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return types.Listing{}, err
	}
	if affected == 0 {
		return types.Listing{}, ErrStateChanged
	}
	return listing, nil
}

// ToggleAvailability atomically flips the available flag while the listing is
// in a status that allows it, and returns the new value.
func (r *ListingRepository) ToggleAvailability(ctx context.Context, id uuid.UUID) (bool, error) {
	const query = `
		UPDATE listings
		SET available = NOT available, updated_at = $1
		WHERE id = $2 AND status IN ('listed', 'swapped')
		RETURNING available`
	var available bool
	err := r.db.QueryRowContext(ctx, query, time.Now().UTC(), id).Scan(&available)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, ErrStateChanged
		}
		return false, err
	}
	return available, nil
}

// Transition moves a listing from one status to another if it is still in
// from, and sets the available flag.
func (r *ListingRepository) Transition(ctx context.Context, id uuid.UUID, from, to types.ListingStatus, available bool) error {
	return transitionListing(ctx, r.db, id, from, to, available)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func transitionListing(ctx context.Context, db execer, id uuid.UUID, from, to types.ListingStatus, available bool) error {
	const query = `
		UPDATE listings
		SET status = $1, available = $2, updated_at = $3
		WHERE id = $4 AND status = $5`
	result, err := db.ExecContext(ctx, query, to, available, time.Now().UTC(), id, from)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrStateChanged
	}
	return nil
}

// Tombstone marks a listing in status from as deleted and returns the row it
// marked, so the caller releases exactly the media that row held.
func (r *ListingRepository) Tombstone(ctx context.Context, id uuid.UUID, from types.ListingStatus) (types.Listing, error) {
	query := `
		UPDATE listings
		SET status = 'deleted', available = FALSE, updated_at = $1
		WHERE id = $2 AND status = $3
		RETURNING ` + listingColumns
	listing, err := scanListing(r.db.QueryRowContext(ctx, query, time.Now().UTC(), id, from))
	if errors.Is(err, ErrNotFound) {
		return types.Listing{}, ErrStateChanged
	}
	return listing, err
}

// Moderate records a review decision on a listing awaiting review.
func (r *ListingRepository) Moderate(ctx context.Context, id uuid.UUID, to types.ListingStatus, available bool, note string, adminID uuid.UUID) (types.Listing, error) {
	query := `
		UPDATE listings
		SET status = $1, available = $2, moderation_note = $3, moderated_by = $4, moderated_at = $5, updated_at = $5
		WHERE id = $6 AND status = 'pending_review'
		RETURNING ` + listingColumns
	listing, err := scanListing(r.db.QueryRowContext(ctx, query, to, available, note, adminID, time.Now().UTC(), id))
	if errors.Is(err, ErrNotFound) {
		return types.Listing{}, ErrStateChanged
	}
	return listing, err
}

// Delete removes the record. Comments and swap requests cascade.
func (r *ListingRepository) Delete(ctx context.Context, id uuid.UUID) error {
	const query = `DELETE FROM listings WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	return expectAffected(result)
}
