package memory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rewear/apiserver/internal/store"
	"github.com/rewear/apiserver/types"
)

type UserRepository struct {
	s *Store
}

func (r *UserRepository) GetByID(_ context.Context, id uuid.UUID) (types.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	user, ok := r.s.users[id]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	return user, nil
}

func (r *UserRepository) GetByUsername(_ context.Context, username string) (types.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, user := range r.s.users {
		if user.Username == username {
			return user, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (r *UserRepository) GetByLogin(_ context.Context, username, email string) (types.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, user := range r.s.users {
		if (username != "" && user.Username == username) || (email != "" && user.Email == email) {
			return user, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (r *UserRepository) List(_ context.Context, offset, limit int) ([]types.User, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	users := make([]types.User, 0, len(r.s.users))
	for _, user := range r.s.users {
		users = append(users, user)
	}
	newestFirst(users, func(u types.User) time.Time { return u.CreatedAt }, func(u types.User) uuid.UUID { return u.ID })
	return page(users, offset, limit), len(users), nil
}

func (r *UserRepository) ListByIDs(_ context.Context, ids []uuid.UUID) ([]types.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	users := make([]types.User, 0, len(ids))
	seen := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if user, ok := r.s.users[id]; ok {
			users = append(users, user)
		}
	}
	return users, nil
}

func (r *UserRepository) Create(_ context.Context, user types.User) (types.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if r.s.conflicts(user) {
		return types.User{}, store.ErrDuplicate
	}
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	now := r.s.now()
	user.CreatedAt = now
	user.UpdatedAt = now
	r.s.users[user.ID] = user
	return user, nil
}

func (r *UserRepository) Update(_ context.Context, id uuid.UUID, patch types.UserPatch) (types.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	user, ok := r.s.users[id]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	patch.Apply(&user)
	if r.s.conflicts(user) {
		return types.User{}, store.ErrDuplicate
	}
	user.UpdatedAt = r.s.now()
	r.s.users[id] = user
	return user, nil
}

func (r *UserRepository) SetPassword(_ context.Context, id uuid.UUID, current, next string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	user, ok := r.s.users[id]
	if !ok || user.PasswordHash != current {
		return store.ErrStateChanged
	}
	user.PasswordHash = next
	user.UpdatedAt = r.s.now()
	r.s.users[id] = user
	return nil
}

func (r *UserRepository) SetAvatar(_ context.Context, id uuid.UUID, avatar string) (string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	user, ok := r.s.users[id]
	if !ok {
		return "", store.ErrNotFound
	}
	previous := user.Avatar
	user.Avatar = avatar
	user.UpdatedAt = r.s.now()
	r.s.users[id] = user
	return previous, nil
}

func (r *UserRepository) SetRefreshToken(_ context.Context, id uuid.UUID, token string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	user, ok := r.s.users[id]
	if !ok {
		return store.ErrNotFound
	}
	user.RefreshToken = token
	user.UpdatedAt = r.s.now()
	r.s.users[id] = user
	return nil
}

func (r *UserRepository) RotateRefreshToken(_ context.Context, id uuid.UUID, current, next string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	user, ok := r.s.users[id]
	if !ok || user.RefreshToken == "" || user.RefreshToken != current {
		return store.ErrStateChanged
	}
	user.RefreshToken = next
	user.UpdatedAt = r.s.now()
	r.s.users[id] = user
	return nil
}

func (r *UserRepository) Delete(_ context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.users[id]; !ok {
		return store.ErrNotFound
	}
	delete(r.s.users, id)
	for listingID, listing := range r.s.listings {
		if listing.OwnerID == id {
			delete(r.s.listings, listingID)
		}
	}
	for commentID, comment := range r.s.comments {
		if comment.OwnerID == id {
			delete(r.s.comments, commentID)
		}
		if _, ok := r.s.listings[comment.ListingID]; !ok {
			delete(r.s.comments, commentID)
		}
	}
	for swapID, swap := range r.s.swaps {
		_, target := r.s.listings[swap.ListingID]
		if swap.RequesterID == id || !target {
			delete(r.s.swaps, swapID)
		}
	}
	return nil
}

// conflicts reports whether another user already holds the username or email.
// Callers hold s.mu.
func (s *Store) conflicts(user types.User) bool {
	for id, other := range s.users {
		if id == user.ID {
			continue
		}
		if other.Username == user.Username || other.Email == user.Email {
			return true
		}
	}
	return false
}
