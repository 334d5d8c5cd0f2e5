// Package memory is a process-local implementation of the repositories in
// package store. Every operation runs under one mutex, so the compound ledger
// operations are linearized the same way the Postgres transactions are.
package memory

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rewear/apiserver/types"
)

// Store holds all records. Use the accessor methods to obtain repositories
// that share it.
type Store struct {
	mu       sync.Mutex
	users    map[uuid.UUID]types.User
	listings map[uuid.UUID]types.Listing
	swaps    map[uuid.UUID]types.SwapRequest
	comments map[uuid.UUID]types.Comment
	orders   []types.Order
	now      func() time.Time
}

func New() *Store {
	return &Store{
		users:    make(map[uuid.UUID]types.User),
		listings: make(map[uuid.UUID]types.Listing),
		swaps:    make(map[uuid.UUID]types.SwapRequest),
		comments: make(map[uuid.UUID]types.Comment),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) Users() *UserRepository       { return &UserRepository{s: s} }
func (s *Store) Listings() *ListingRepository { return &ListingRepository{s: s} }
func (s *Store) Orders() *OrderRepository     { return &OrderRepository{s: s} }
func (s *Store) Ledger() *LedgerRepository    { return &LedgerRepository{s: s} }
func (s *Store) Comments() *CommentRepository { return &CommentRepository{s: s} }

func cloneListing(l types.Listing) types.Listing {
	l.Images = append([]string(nil), l.Images...)
	if l.ModeratedBy != nil {
		id := *l.ModeratedBy
		l.ModeratedBy = &id
	}
	if l.ModeratedAt != nil {
		at := *l.ModeratedAt
		l.ModeratedAt = &at
	}
	l.Owner = nil
	return l
}

// page applies offset and limit the way the SQL repositories do.
func page[T any](items []T, offset, limit int) []T {
	if offset < 0 {
		offset = 0
	}
	if limit < 1 {
		limit = 20
	}
	if offset >= len(items) {
		return []T{}
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

func newestFirst[T any](items []T, createdAt func(T) time.Time, id func(T) uuid.UUID) {
	sort.SliceStable(items, func(i, j int) bool {
		ci, cj := createdAt(items[i]), createdAt(items[j])
		if !ci.Equal(cj) {
			return ci.After(cj)
		}
		return strings.Compare(id(items[i]).String(), id(items[j]).String()) < 0
	})
}
