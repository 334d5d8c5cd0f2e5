package services

import (
	"context"
	"math/rand"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rewear/apiserver/internal/mq"
	"github.com/rewear/apiserver/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedeem_MovesPointsAndListing(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	owner := f.user(t, "alice", 0)
	buyer := f.user(t, "bob", 100)
	listing := f.listing(t, owner, 40)

	order, err := f.ledger.Redeem(ctx, buyer, listing.ID)
	require.NoError(t, err)
	assert.Equal(t, types.OrderRedemption, order.Kind)
	assert.Equal(t, 40, order.Points)
	assert.Equal(t, buyer.ID, order.RequesterID)
	assert.Equal(t, owner.ID, order.OwnerID)

	assert.Equal(t, 60, f.balance(t, buyer))
	assert.Equal(t, 40, f.balance(t, owner))

	got, err := f.store.Listings().Get(ctx, listing.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ListingSwapped, got.Status)
	assert.False(t, got.Available)
	assert.Contains(t, f.events.types(), mq.EventOrderCreated)
}

func TestRedeem_InsufficientPointsLeavesBalance(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	owner := f.user(t, "alice", 0)
	buyer := f.user(t, "bob", 50)
	listing := f.listing(t, owner, 85)

	_, err := f.ledger.Redeem(ctx, buyer, listing.ID)
	require.ErrorIs(t, err, ErrInsufficientPoints)

	assert.Equal(t, 50, f.balance(t, buyer))
	assert.Equal(t, 0, f.balance(t, owner))
	got, err := f.store.Listings().Get(ctx, listing.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ListingListed, got.Status)
	assert.True(t, got.Available)
}

func TestRedeem_OwnListing(t *testing.T) {
	f := newFixture(t, false)
	owner := f.user(t, "alice", 100)
	listing := f.listing(t, owner, 10)

	_, err := f.ledger.Redeem(context.Background(), owner, listing.ID)
	require.ErrorIs(t, err, ErrSelfSwapForbidden)
	assert.Equal(t, 100, f.balance(t, owner))
}

func TestRedeem_UnavailableListing(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	owner := f.user(t, "alice", 0)
	buyer := f.user(t, "bob", 100)
	listing := f.listing(t, owner, 10)

	_, err := f.listings.ToggleAvailability(ctx, owner, listing.ID)
	require.NoError(t, err)

	_, err = f.ledger.Redeem(ctx, buyer, listing.ID)
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, 100, f.balance(t, buyer))
}

func TestRedeem_ConcurrentAgainstSingleBalance(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	owner := f.user(t, "alice", 0)
	buyer := f.user(t, "bob", 60)
	first := f.listing(t, owner, 60)
	second := f.listing(t, owner, 60)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, id := range []uuid.UUID{first.ID, second.ID} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.ledger.Redeem(ctx, buyer, id)
		}()
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, ErrInsufficientPoints)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 0, f.balance(t, buyer))
	assert.Equal(t, 60, f.balance(t, owner))
}

func TestRedeem_RandomizedConcurrencyKeepsBalancesNonNegative(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))

	users := make([]types.User, 6)
	for i := range users {
		users[i] = f.user(t, "user"+string(rune('a'+i)), rng.Intn(120))
	}
	var listings []types.Listing
	for i := 0; i < 30; i++ {
		listings = append(listings, f.listing(t, users[rng.Intn(len(users))], 5+rng.Intn(60)))
	}
	initial := 0
	for _, u := range users {
		initial += f.balance(t, u)
	}

	var wg sync.WaitGroup
	for i := 0; i < 120; i++ {
		buyer := users[rng.Intn(len(users))]
		listing := listings[rng.Intn(len(listings))]
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.ledger.Redeem(ctx, buyer, listing.ID)
		}()
	}
	wg.Wait()

	total := 0
	for _, u := range users {
		b := f.balance(t, u)
		assert.GreaterOrEqual(t, b, 0)
		total += b
	}
	assert.Equal(t, initial, total, "redemptions move points, never create them")

	orders, _, err := f.store.Orders().List(ctx, 0, 1000)
	require.NoError(t, err)
	seen := map[uuid.UUID]bool{}
	for _, o := range orders {
		assert.False(t, seen[o.ListingID], "listing %s redeemed twice", o.ListingID)
		seen[o.ListingID] = true
	}
}

func TestSwap_RequestAndAccept(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	owner := f.user(t, "alice", 0)
	requester := f.user(t, "bob", 0)
	wanted := f.listing(t, owner, 30)
	offered := f.listing(t, requester, 20)

	swap, err := f.ledger.RequestSwap(ctx, requester, wanted.ID, &offered.ID)
	require.NoError(t, err)
	assert.Equal(t, types.SwapPending, swap.Status)

	got, err := f.store.Listings().Get(ctx, wanted.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ListingPendingSwap, got.Status)
	assert.False(t, got.Available)

	_, err = f.ledger.AcceptSwap(ctx, requester, swap.ID)
	require.ErrorIs(t, err, ErrForbidden)

	order, err := f.ledger.AcceptSwap(ctx, owner, swap.ID)
	require.NoError(t, err)
	assert.Equal(t, types.OrderSwap, order.Kind)
	require.NotNil(t, order.OfferedListingID)
	assert.Equal(t, offered.ID, *order.OfferedListingID)

	for _, id := range []uuid.UUID{wanted.ID, offered.ID} {
		got, err := f.store.Listings().Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, types.ListingSwapped, got.Status)
	}

	_, err = f.ledger.AcceptSwap(ctx, owner, swap.ID)
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, []string{mq.EventSwapRequested, mq.EventOrderCreated}, f.events.types())
}

func TestSwap_DeclineReturnsListingToMarket(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	owner := f.user(t, "alice", 0)
	requester := f.user(t, "bob", 0)
	other := f.user(t, "carol", 0)
	wanted := f.listing(t, owner, 30)

	swap, err := f.ledger.RequestSwap(ctx, requester, wanted.ID, nil)
	require.NoError(t, err)

	_, err = f.ledger.RequestSwap(ctx, other, wanted.ID, nil)
	require.ErrorIs(t, err, ErrInvalidTransition)

	require.ErrorIs(t, f.ledger.DeclineSwap(ctx, other, swap.ID), ErrForbidden)
	require.NoError(t, f.ledger.DeclineSwap(ctx, owner, swap.ID))

	got, err := f.store.Listings().Get(ctx, wanted.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ListingListed, got.Status)
	assert.True(t, got.Available)

	require.ErrorIs(t, f.ledger.DeclineSwap(ctx, owner, swap.ID), ErrInvalidTransition)
}

func TestSwap_OfferedListingMustBelongToRequester(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	owner := f.user(t, "alice", 0)
	requester := f.user(t, "bob", 0)
	wanted := f.listing(t, owner, 30)
	notMine := f.listing(t, owner, 10)

	_, err := f.ledger.RequestSwap(ctx, requester, wanted.ID, &notMine.ID)
	require.ErrorIs(t, err, ErrForbidden)

	_, err = f.ledger.RequestSwap(ctx, owner, wanted.ID, nil)
	require.ErrorIs(t, err, ErrSelfSwapForbidden)
}

func TestCredit(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	u := f.user(t, "alice", 10)

	balance, err := f.ledger.Credit(ctx, u.ID, 25)
	require.NoError(t, err)
	assert.Equal(t, 35, balance)

	_, err = f.ledger.Credit(ctx, u.ID, 0)
	require.ErrorIs(t, err, ErrValidation)

	_, err = f.ledger.Credit(ctx, uuid.New(), 5)
	require.ErrorIs(t, err, ErrNotFound)
}
