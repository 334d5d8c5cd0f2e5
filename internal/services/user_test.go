package services

import (
	"context"
	"strings"
	"testing"

	"github.com/rewear/apiserver/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestUpdateAccount(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	alice := f.user(t, "alice", 0)
	f.user(t, "bob", 0)

	isAdmin := true
	updated, err := f.users.UpdateAccount(ctx, alice, types.UserPatch{
		FullName: strPtr(" Alice Liddell "),
		Email:    strPtr("Alice@Wonder.land"),
		IsAdmin:  &isAdmin,
	})
	require.NoError(t, err)
	assert.Equal(t, "Alice Liddell", updated.FullName)
	assert.Equal(t, "alice@wonder.land", updated.Email)
	assert.False(t, updated.IsAdmin, "privileges are not self-service")

	_, err = f.users.UpdateAccount(ctx, alice, types.UserPatch{Username: strPtr("BOB")})
	require.ErrorIs(t, err, ErrConflict)

	_, err = f.users.UpdateAccount(ctx, alice, types.UserPatch{Phone: strPtr("  ")})
	require.ErrorIs(t, err, ErrValidation)

	got, err := f.users.Get(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Username)
}

func TestReplaceAvatar(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	alice := f.user(t, "alice", 0)
	assert.Equal(t, types.DefaultAvatarURL, alice.Avatar)

	first, err := f.users.ReplaceAvatar(ctx, alice, MediaFile{Name: "a.png", Content: strings.NewReader("png")})
	require.NoError(t, err)
	assert.NotEqual(t, types.DefaultAvatarURL, first.Avatar)
	assert.Empty(t, f.media.deletes, "the default avatar is never released")

	second, err := f.users.ReplaceAvatar(ctx, first, MediaFile{Name: "b.png", Content: strings.NewReader("png")})
	require.NoError(t, err)
	assert.Equal(t, 1, f.media.deletes[first.Avatar])
	assert.Equal(t, 1, f.media.storedCount())
	assert.NotEqual(t, first.Avatar, second.Avatar)

	f.media.failUploadAt = f.media.uploads + 1
	_, err = f.users.ReplaceAvatar(ctx, second, MediaFile{Name: "c.png"})
	require.ErrorIs(t, err, ErrUpstreamMedia)
	got, err := f.users.Get(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, second.Avatar, got.Avatar)
}

func TestProfile(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	alice := f.user(t, "alice", 0)
	f.listing(t, alice, 10)

	in := listingInput("Hidden draft", 5)
	in.Draft = true
	_, err := f.listings.Create(ctx, alice, in, images(1), nil)
	require.NoError(t, err)

	profile, err := f.users.Profile(ctx, " Alice ")
	require.NoError(t, err)
	assert.Equal(t, alice.ID, profile.User.ID)
	require.Len(t, profile.Listings, 1)
	assert.Equal(t, "Wool coat", profile.Listings[0].Title)

	mine, total, err := f.users.Listings(ctx, alice, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, mine, 2)

	_, err = f.users.Profile(ctx, "nobody")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestOrdersAndSwaps(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	alice := f.user(t, "alice", 0)
	bob := f.user(t, "bob", 100)
	coat := f.listing(t, alice, 30)
	scarf := f.listing(t, alice, 5)

	_, err := f.ledger.Redeem(ctx, bob, coat.ID)
	require.NoError(t, err)
	_, err = f.ledger.RequestSwap(ctx, bob, scarf.ID, nil)
	require.NoError(t, err)

	orders, err := f.users.Orders(ctx, bob)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	require.NotNil(t, orders[0].Owner)
	require.NotNil(t, orders[0].Requester)
	assert.Equal(t, "alice", orders[0].Owner.Username)
	assert.Equal(t, "bob", orders[0].Requester.Username)

	none, err := f.users.Orders(ctx, alice)
	require.NoError(t, err)
	assert.Empty(t, none)

	for _, u := range []types.User{alice, bob} {
		swaps, err := f.users.Swaps(ctx, u)
		require.NoError(t, err)
		require.Len(t, swaps, 1)
		assert.Equal(t, scarf.ID, swaps[0].ListingID)
	}
}

func TestUpdateAccount_KeepsConcurrentDemotion(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	alice := f.makeAdmin(t, "alice")
	require.True(t, alice.IsAdmin)

	demote := false
	_, err := f.admin.UpdateUser(ctx, alice.ID, types.UserPatch{IsAdmin: &demote})
	require.NoError(t, err)

	// alice still holds the principal loaded before the demotion
	updated, err := f.users.UpdateAccount(ctx, alice, types.UserPatch{FullName: strPtr("Alice L.")})
	require.NoError(t, err)
	assert.Equal(t, "Alice L.", updated.FullName)
	assert.False(t, updated.IsAdmin)

	got, err := f.users.Get(ctx, alice.ID)
	require.NoError(t, err)
	assert.False(t, got.IsAdmin)
}

func TestReplaceAvatar_ReleasesTheAvatarItReplaced(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	alice := f.user(t, "alice", 0)

	first, err := f.users.ReplaceAvatar(ctx, alice, MediaFile{Name: "a.png", Content: strings.NewReader("png")})
	require.NoError(t, err)

	// both calls hold the principal loaded before either upload
	second, err := f.users.ReplaceAvatar(ctx, alice, MediaFile{Name: "b.png", Content: strings.NewReader("png")})
	require.NoError(t, err)

	assert.Equal(t, 1, f.media.deletes[first.Avatar])
	assert.Equal(t, 1, f.media.storedCount())
	assert.True(t, f.media.stored[second.Avatar])
}
