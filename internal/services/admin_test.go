package services

import (
	"context"
	"strings"
	"testing"

	"github.com/rewear/apiserver/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdminUpdateUser(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	alice := f.user(t, "alice", 0)

	promote := true
	updated, err := f.admin.UpdateUser(ctx, alice.ID, types.UserPatch{
		Username: strPtr("queen"),
		IsAdmin:  &promote,
	})
	require.NoError(t, err)
	assert.True(t, updated.IsAdmin)
	assert.Equal(t, "alice", updated.Username)

	users, total, err := f.admin.ListUsers(ctx, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Len(t, users, 1)
}

func TestAdminDeleteUser_ReleasesMedia(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	admin := f.makeAdmin(t, "root")
	alice := f.user(t, "alice", 0)
	bob := f.user(t, "bob", 0)

	alice, err := f.users.ReplaceAvatar(ctx, alice, MediaFile{Name: "a.png", Content: strings.NewReader("png")})
	require.NoError(t, err)
	f.listing(t, alice, 10)
	f.listing(t, alice, 20)
	wanted := f.listing(t, bob, 15)

	swap, err := f.ledger.RequestSwap(ctx, alice, wanted.ID, nil)
	require.NoError(t, err)

	require.ErrorIs(t, f.admin.DeleteUser(ctx, admin, admin.ID), ErrValidation)
	require.NoError(t, f.admin.DeleteUser(ctx, admin, alice.ID))

	assert.Equal(t, 1, f.media.storedCount(), "only bob's image remains")
	_, err = f.admin.GetUser(ctx, alice.ID)
	require.ErrorIs(t, err, ErrNotFound)

	got, err := f.store.Listings().Get(ctx, wanted.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ListingListed, got.Status)
	assert.True(t, got.Available)
	_, err = f.store.Orders().GetSwap(ctx, swap.ID)
	require.Error(t, err)
}

func TestAdminDeleteUser_PendingSwapRefused(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	admin := f.makeAdmin(t, "root")
	alice := f.user(t, "alice", 0)
	bob := f.user(t, "bob", 0)
	l := f.listing(t, alice, 10)

	_, err := f.ledger.RequestSwap(ctx, bob, l.ID, nil)
	require.NoError(t, err)

	require.ErrorIs(t, f.admin.DeleteUser(ctx, admin, alice.ID), ErrInvalidTransition)
	_, err = f.admin.GetUser(ctx, alice.ID)
	require.NoError(t, err)
}

func TestAdminOrders(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	alice := f.user(t, "alice", 0)
	bob := f.user(t, "bob", 50)
	l := f.listing(t, alice, 20)

	order, err := f.ledger.Redeem(ctx, bob, l.ID)
	require.NoError(t, err)

	orders, total, err := f.admin.ListOrders(ctx, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, orders, 1)

	got, err := f.admin.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Requester)
	assert.Equal(t, "bob", got.Requester.Username)
	assert.Equal(t, 20, got.Points)
}
