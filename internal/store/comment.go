package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rewear/apiserver/types"
)

const commentColumns = `id, listing_id, owner_id, content, rating, created_at, updated_at`

// CommentRepository handles persistence for comments.
type CommentRepository struct {
	db *sql.DB
}

func NewCommentRepository(db *sql.DB) *CommentRepository {
	return &CommentRepository{db: db}
}

func scanComment(row rowScanner) (types.Comment, error) {
	var comment types.Comment
	err := row.Scan(
		&comment.ID,
		&comment.ListingID,
		&comment.OwnerID,
		&comment.Content,
		&comment.Rating,
		&comment.CreatedAt,
		&comment.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Comment{}, ErrNotFound
		}
		return types.Comment{}, err
	}
	return comment, nil
}

func (r *CommentRepository) Get(ctx context.Context, id uuid.UUID) (types.Comment, error) {
	query := `SELECT ` + commentColumns + ` FROM comments WHERE id = $1`
	return scanComment(r.db.QueryRowContext(ctx, query, id))
}

// ListByListing returns a page of a listing's comments, newest first.
func (r *CommentRepository) ListByListing(ctx context.Context, listingID uuid.UUID, offset, limit int) ([]types.Comment, int, error) {
	const countQuery = `SELECT COUNT(1) FROM comments WHERE listing_id = $1`
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, listingID).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + commentColumns + `
		FROM comments
		WHERE listing_id = $1
		ORDER BY created_at DESC, id
		OFFSET $2 LIMIT $3`
	comments, err := r.queryComments(ctx, query, listingID, offset, limit)
	if err != nil {
		return nil, 0, err
	}
	return comments, total, nil
}

func (r *CommentRepository) List(ctx context.Context, offset, limit int) ([]types.Comment, int, error) {
	const countQuery = `SELECT COUNT(1) FROM comments`
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + commentColumns + ` FROM comments ORDER BY created_at DESC, id OFFSET $1 LIMIT $2`
	comments, err := r.queryComments(ctx, query, offset, limit)
	if err != nil {
		return nil, 0, err
	}
	return comments, total, nil
}

func (r *CommentRepository) queryComments(ctx context.Context, query string, args ...any) ([]types.Comment, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var comments []types.Comment
	for rows.Next() {
		comment, err := scanComment(rows)
		if err != nil {
			return nil, err
		}
		comments = append(comments, comment)
	}
	return comments, rows.Err()
}

func (r *CommentRepository) Create(ctx context.Context, comment types.Comment) (types.Comment, error) {
	now := time.Now().UTC()
	if comment.ID == uuid.Nil {
		comment.ID = uuid.New()
	}
	comment.CreatedAt = now
	comment.UpdatedAt = now

	const query = `
		INSERT INTO comments (id, listing_id, owner_id, content, rating, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.db.ExecContext(ctx, query,
		comment.ID,
		comment.ListingID,
		comment.OwnerID,
		comment.Content,
		comment.Rating,
		comment.CreatedAt,
		comment.UpdatedAt,
	)
	if err != nil {
		return types.Comment{}, err
	}
	return comment, nil
}

func (r *CommentRepository) Update(ctx context.Context, comment types.Comment) (types.Comment, error) {
	comment.UpdatedAt = time.Now().UTC()

	const query = `UPDATE comments SET content = $1, rating = $2, updated_at = $3 WHERE id = $4`
	result, err := r.db.ExecContext(ctx, query, comment.Content, comment.Rating, comment.UpdatedAt, comment.ID)
	if err != nil {
		return types.Comment{}, err
	}
	if err := expectAffected(result); err != nil {
		return types.Comment{}, err
	}
	return comment, nil
}

func (r *CommentRepository) Delete(ctx context.Context, id uuid.UUID) error {
	const query = `DELETE FROM comments WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	return expectAffected(result)
}
