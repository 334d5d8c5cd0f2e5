package services

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/rewear/apiserver/internal/store"
	"github.com/rewear/apiserver/types"
)

const maxRating = 5

// CommentRepository defines persistence operations for comments.
type CommentRepository interface {
	Get(ctx context.Context, id uuid.UUID) (types.Comment, error)
	ListByListing(ctx context.Context, listingID uuid.UUID, offset, limit int) ([]types.Comment, int, error)
	List(ctx context.Context, offset, limit int) ([]types.Comment, int, error)
	Create(ctx context.Context, comment types.Comment) (types.Comment, error)
	Update(ctx context.Context, comment types.Comment) (types.Comment, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// CommentService encapsulates comment use-cases.
type CommentService struct {
	comments CommentRepository
	listings ListingRepository
	users    UserRepository
}

func NewCommentService(comments CommentRepository, listings ListingRepository, users UserRepository) *CommentService {
	return &CommentService{comments: comments, listings: listings, users: users}
}

// ListForListing returns a page of a listing's comments with authors attached.
func (s *CommentService) ListForListing(ctx context.Context, listingID uuid.UUID, offset, limit int) ([]types.Comment, int, error) {
	if err := s.requireListing(ctx, listingID); err != nil {
		return nil, 0, err
	}
	comments, total, err := s.comments.ListByListing(ctx, listingID, offset, limit)
	if err != nil {
		return nil, 0, err
	}
	if err := s.attachAuthors(ctx, comments); err != nil {
		return nil, 0, err
	}
	return comments, total, nil
}

// List returns a page of all comments.
func (s *CommentService) List(ctx context.Context, offset, limit int) ([]types.Comment, int, error) {
	comments, total, err := s.comments.List(ctx, offset, limit)
	if err != nil {
		return nil, 0, err
	}
	if err := s.attachAuthors(ctx, comments); err != nil {
		return nil, 0, err
	}
	return comments, total, nil
}

func (s *CommentService) Add(ctx context.Context, author types.User, listingID uuid.UUID, content string, rating int) (types.Comment, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return types.Comment{}, validationError("content is required")
	}
	if rating < 0 || rating > maxRating {
		return types.Comment{}, validationError("rating must be between 0 and %d", maxRating)
	}
	if err := s.requireListing(ctx, listingID); err != nil {
		return types.Comment{}, err
	}

	comment, err := s.comments.Create(ctx, types.Comment{
		ListingID: listingID,
		OwnerID:   author.ID,
		Content:   content,
		Rating:    rating,
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.Comment{}, ErrNotFound
		}
		return types.Comment{}, err
	}
	summary := author.Summary()
	comment.Owner = &summary
	return comment, nil
}

// Update changes the content and, when given, the rating. Only the author may
// update.
func (s *CommentService) Update(ctx context.Context, actor types.User, id uuid.UUID, content string, rating *int) (types.Comment, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return types.Comment{}, validationError("content is required")
	}
	if rating != nil && (*rating < 0 || *rating > maxRating) {
		return types.Comment{}, validationError("rating must be between 0 and %d", maxRating)
	}

	comment, err := s.get(ctx, id)
	if err != nil {
		return types.Comment{}, err
	}
	if comment.OwnerID != actor.ID {
		return types.Comment{}, ErrForbidden
	}

	comment.Content = content
	if rating != nil {
		comment.Rating = *rating
	}
	updated, err := s.comments.Update(ctx, comment)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.Comment{}, ErrNotFound
		}
		return types.Comment{}, err
	}
	summary := actor.Summary()
	updated.Owner = &summary
	return updated, nil
}

// Delete removes a comment. Authors may delete their own comments and admins
// any comment.
func (s *CommentService) Delete(ctx context.Context, actor types.User, id uuid.UUID) error {
	comment, err := s.get(ctx, id)
	if err != nil {
		return err
	}
	if comment.OwnerID != actor.ID && !actor.IsAdmin {
		return ErrForbidden
	}
	if err := s.comments.Delete(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

func (s *CommentService) get(ctx context.Context, id uuid.UUID) (types.Comment, error) {
	comment, err := s.comments.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.Comment{}, ErrNotFound
		}
		return types.Comment{}, err
	}
	return comment, nil
}

func (s *CommentService) requireListing(ctx context.Context, listingID uuid.UUID) error {
	listing, err := s.listings.Get(ctx, listingID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	if listing.Status == types.ListingDeleted {
		return ErrNotFound
	}
	return nil
}

func (s *CommentService) attachAuthors(ctx context.Context, comments []types.Comment) error {
	if len(comments) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, 0, len(comments))
	for _, c := range comments {
		ids = append(ids, c.OwnerID)
	}
	summaries, err := summariesByID(ctx, s.users, ids)
	if err != nil {
		return err
	}
	for i := range comments {
		if summary, ok := summaries[comments[i].OwnerID]; ok {
			comments[i].Owner = &summary
		}
	}
	return nil
}
