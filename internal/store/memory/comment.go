package memory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rewear/apiserver/internal/store"
	"github.com/rewear/apiserver/types"
)

type CommentRepository struct {
	s *Store
}

func (r *CommentRepository) Get(_ context.Context, id uuid.UUID) (types.Comment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	comment, ok := r.s.comments[id]
	if !ok {
		return types.Comment{}, store.ErrNotFound
	}
	return comment, nil
}

func (r *CommentRepository) ListByListing(_ context.Context, listingID uuid.UUID, offset, limit int) ([]types.Comment, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	comments := make([]types.Comment, 0)
	for _, comment := range r.s.comments {
		if comment.ListingID == listingID {
			comments = append(comments, comment)
		}
	}
	newestFirst(comments, commentCreatedAt, commentID)
	return page(comments, offset, limit), len(comments), nil
}

func (r *CommentRepository) List(_ context.Context, offset, limit int) ([]types.Comment, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	comments := make([]types.Comment, 0, len(r.s.comments))
	for _, comment := range r.s.comments {
		comments = append(comments, comment)
	}
	newestFirst(comments, commentCreatedAt, commentID)
	return page(comments, offset, limit), len(comments), nil
}

func (r *CommentRepository) Create(_ context.Context, comment types.Comment) (types.Comment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.listings[comment.ListingID]; !ok {
		return types.Comment{}, store.ErrNotFound
	}
	if comment.ID == uuid.Nil {
		comment.ID = uuid.New()
	}
	now := r.s.now()
	comment.CreatedAt = now
	comment.UpdatedAt = now
	comment.Owner = nil
	r.s.comments[comment.ID] = comment
	return comment, nil
}

func (r *CommentRepository) Update(_ context.Context, comment types.Comment) (types.Comment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	current, ok := r.s.comments[comment.ID]
	if !ok {
		return types.Comment{}, store.ErrNotFound
	}
	current.Content = comment.Content
	current.Rating = comment.Rating
	current.UpdatedAt = r.s.now()
	r.s.comments[comment.ID] = current

	comment.UpdatedAt = current.UpdatedAt
	return comment, nil
}

func (r *CommentRepository) Delete(_ context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.comments[id]; !ok {
		return store.ErrNotFound
	}
	delete(r.s.comments, id)
	return nil
}

func commentCreatedAt(c types.Comment) time.Time { return c.CreatedAt }
func commentID(c types.Comment) uuid.UUID        { return c.ID }
