package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/rewear/apiserver/internal/logging"
	"github.com/rewear/apiserver/internal/mq"
	"github.com/rewear/apiserver/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateListing_Defaults(t *testing.T) {
	f := newFixture(t, false)
	owner := f.user(t, "alice", 0)

	in := listingInput("Linen dress", 0)
	in.PointCost = nil
	in.Category = "Dresses"
	in.Condition = "Good"

	l, err := f.listings.Create(context.Background(), owner, in, images(2), &MediaFile{Name: "clip.mp4"})
	require.NoError(t, err)
	assert.Equal(t, types.ListingListed, l.Status)
	assert.True(t, l.Available)
	assert.Equal(t, EstimatePoints("Dresses", "Good"), l.PointCost)
	assert.Equal(t, defaultNA, l.Material)
	assert.Equal(t, defaultNA, l.Reason)
	assert.Len(t, l.Images, 2)
	assert.NotEmpty(t, l.Video)
	require.NotNil(t, l.Owner)
	assert.Equal(t, "alice", l.Owner.Username)
}

func TestCreateListing_Validation(t *testing.T) {
	f := newFixture(t, false)
	owner := f.user(t, "alice", 0)
	ctx := context.Background()

	in := listingInput("", 10)
	_, err := f.listings.Create(ctx, owner, in, images(1), nil)
	require.ErrorIs(t, err, ErrValidation)

	_, err = f.listings.Create(ctx, owner, listingInput("Coat", 10), nil, nil)
	require.ErrorIs(t, err, ErrValidation)

	_, err = f.listings.Create(ctx, owner, listingInput("Coat", 10), images(maxListingImages+1), nil)
	require.ErrorIs(t, err, ErrValidation)

	assert.Zero(t, f.media.uploads)
}

func TestCreateListing_UploadFailureReleasesUploaded(t *testing.T) {
	f := newFixture(t, false)
	owner := f.user(t, "alice", 0)
	f.media.failUploadAt = 3

	_, err := f.listings.Create(context.Background(), owner, listingInput("Coat", 10), images(4), nil)
	require.ErrorIs(t, err, ErrUpstreamMedia)

	assert.Zero(t, f.media.storedCount())
	assert.Len(t, f.media.deletes, 2)

	listings, total, err := f.store.Listings().List(context.Background(), types.ListingFilter{}, 0, 10)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, listings)
}

func TestCreateListing_Moderated(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	owner := f.user(t, "alice", 0)
	admin := f.makeAdmin(t, "root")

	l := f.listing(t, owner, 10)
	assert.Equal(t, types.ListingPendingReview, l.Status)
	assert.False(t, l.Available)

	_, err := f.listings.Get(ctx, nil, l.ID)
	require.ErrorIs(t, err, ErrNotFound, "pending listings are hidden from anonymous viewers")
	_, err = f.listings.Get(ctx, &owner, l.ID)
	require.NoError(t, err)

	pending, total, err := f.listings.ListPending(ctx, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, l.ID, pending[0].ID)

	approved, err := f.listings.Moderate(ctx, admin, l.ID, true, "  looks good ")
	require.NoError(t, err)
	assert.Equal(t, types.ListingListed, approved.Status)
	assert.True(t, approved.Available)
	assert.Equal(t, "looks good", approved.ModerationNote)
	require.NotNil(t, approved.ModeratedBy)
	assert.Equal(t, admin.ID, *approved.ModeratedBy)
	assert.Equal(t, []string{mq.EventListingModerated}, f.events.types())

	_, err = f.listings.Moderate(ctx, admin, l.ID, false, "")
	require.ErrorIs(t, err, ErrInvalidTransition)

	_, err = f.listings.Moderate(ctx, admin, uuid.New(), true, "")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestModerate_RejectDoesNotTouchLedger(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	owner := f.user(t, "alice", 15)
	admin := f.makeAdmin(t, "root")
	l := f.listing(t, owner, 10)

	rejected, err := f.listings.Moderate(ctx, admin, l.ID, false, "blurry photos")
	require.NoError(t, err)
	assert.Equal(t, types.ListingRejected, rejected.Status)
	assert.False(t, rejected.Available)
	assert.Equal(t, 15, f.balance(t, owner))
}

func TestPublishDraft(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	owner := f.user(t, "alice", 0)
	other := f.user(t, "bob", 0)

	in := listingInput("Scarf", 5)
	in.Draft = true
	l, err := f.listings.Create(ctx, owner, in, images(1), nil)
	require.NoError(t, err)
	assert.Equal(t, types.ListingDraft, l.Status)
	assert.False(t, l.Available)

	_, err = f.listings.Publish(ctx, other, l.ID)
	require.ErrorIs(t, err, ErrForbidden)

	published, err := f.listings.Publish(ctx, owner, l.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ListingListed, published.Status)
	assert.True(t, published.Available)

	_, err = f.listings.Publish(ctx, owner, l.ID)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestUpdateListing_NonOwnerForbidden(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	owner := f.user(t, "alice", 0)
	intruder := f.user(t, "mallory", 0)
	l := f.listing(t, owner, 10)

	title := "Stolen"
	_, err := f.listings.Update(ctx, intruder, l.ID, types.ListingPatch{Title: &title}, images(1), nil)
	require.ErrorIs(t, err, ErrForbidden)

	got, err := f.store.Listings().Get(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, l.Title, got.Title)
	assert.Equal(t, l.Images, got.Images)
	assert.Equal(t, 1, f.media.uploads, "only the original image was uploaded")
}

func TestUpdateListing_ReplacesMedia(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	owner := f.user(t, "alice", 0)
	l := f.listing(t, owner, 10)
	oldImage := l.Images[0]

	title := "  Wool coat, navy "
	cost := 55
	updated, err := f.listings.Update(ctx, owner, l.ID, types.ListingPatch{Title: &title, PointCost: &cost}, images(2), nil)
	require.NoError(t, err)
	assert.Equal(t, "Wool coat, navy", updated.Title)
	assert.Equal(t, 55, updated.PointCost)
	assert.Len(t, updated.Images, 2)
	assert.Equal(t, 1, f.media.deletes[oldImage])
	assert.Equal(t, 2, f.media.storedCount())

	empty := " "
	_, err = f.listings.Update(ctx, owner, l.ID, types.ListingPatch{Title: &empty}, nil, nil)
	require.ErrorIs(t, err, ErrValidation)
}

func TestToggleAvailability_TwiceRestores(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	owner := f.user(t, "alice", 0)
	other := f.user(t, "bob", 0)
	l := f.listing(t, owner, 10)

	first, err := f.listings.ToggleAvailability(ctx, owner, l.ID)
	require.NoError(t, err)
	assert.Equal(t, !l.Available, first)

	second, err := f.listings.ToggleAvailability(ctx, owner, l.ID)
	require.NoError(t, err)
	assert.Equal(t, l.Available, second)

	_, err = f.listings.ToggleAvailability(ctx, other, l.ID)
	require.ErrorIs(t, err, ErrForbidden)
}

func TestToggleAvailability_WrongStatus(t *testing.T) {
	f := newFixture(t, true)
	owner := f.user(t, "alice", 0)
	l := f.listing(t, owner, 10)

	_, err := f.listings.ToggleAvailability(context.Background(), owner, l.ID)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestDeleteListing_ReleasesEachRefOnce(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	owner := f.user(t, "alice", 0)
	commenter := f.user(t, "bob", 0)

	l, err := f.listings.Create(ctx, owner, listingInput("Coat", 10), images(3), &MediaFile{Name: "clip.mp4"})
	require.NoError(t, err)
	_, err = f.comments.Add(ctx, commenter, l.ID, "Nice!", 5)
	require.NoError(t, err)

	require.NoError(t, f.listings.Delete(ctx, owner, l.ID))

	refs := l.MediaRefs()
	assert.Len(t, refs, 4)
	assert.Len(t, f.media.deletes, len(refs))
	for _, ref := range refs {
		assert.Equal(t, 1, f.media.deletes[ref], ref)
	}

	_, err = f.store.Listings().Get(ctx, l.ID)
	require.Error(t, err)
	comments, _, err := f.store.Comments().List(ctx, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, comments)
}

func TestDeleteListing_MediaFailureKeepsTombstone(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	owner := f.user(t, "alice", 0)
	l := f.listing(t, owner, 10)

	f.media.failDelete = true
	err := f.listings.Delete(ctx, owner, l.ID)
	require.ErrorIs(t, err, ErrUpstreamMedia)

	got, err := f.store.Listings().Get(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ListingDeleted, got.Status)

	_, err = f.listings.Get(ctx, &owner, l.ID)
	require.ErrorIs(t, err, ErrNotFound)

	f.media.failDelete = false
	require.NoError(t, f.listings.Delete(ctx, owner, l.ID))
	_, err = f.store.Listings().Get(ctx, l.ID)
	require.Error(t, err)
}

func TestDeleteListing_ReleasesMediaReplacedMidDelete(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	owner := f.user(t, "alice", 0)
	l := f.listing(t, owner, 10)

	listings := &interleavedListings{ListingRepository: f.store.Listings()}
	svc := NewListingService(listings, f.store.Users(), f.media, f.events, false, logging.Nop())
	listings.afterGet = func() {
		_, err := f.listings.Update(ctx, owner, l.ID, types.ListingPatch{}, images(2), nil)
		require.NoError(t, err)
	}

	require.NoError(t, svc.Delete(ctx, owner, l.ID))

	_, err := f.store.Listings().Get(ctx, l.ID)
	require.Error(t, err)
	assert.Zero(t, f.media.storedCount())
	for ref, n := range f.media.deletes {
		assert.Equal(t, 1, n, ref)
	}
}

func TestUpdateListing_ConcurrentMediaReplaceConflicts(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	owner := f.user(t, "alice", 0)
	l := f.listing(t, owner, 10)

	listings := &interleavedListings{ListingRepository: f.store.Listings()}
	svc := NewListingService(listings, f.store.Users(), f.media, f.events, false, logging.Nop())
	var winner types.Listing
	listings.afterGet = func() {
		var err error
		winner, err = f.listings.Update(ctx, owner, l.ID, types.ListingPatch{}, images(2), nil)
		require.NoError(t, err)
	}

	title := "Lost edit"
	_, err := svc.Update(ctx, owner, l.ID, types.ListingPatch{Title: &title}, images(1), nil)
	require.ErrorIs(t, err, ErrConflict)

	got, err := f.store.Listings().Get(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, winner.Images, got.Images)
	assert.Equal(t, "Wool coat", got.Title)
	assert.Equal(t, 2, f.media.storedCount())

	// edits without new media are refused too once the media moved
	listings.afterGet = func() {
		_, err := f.listings.Update(ctx, owner, l.ID, types.ListingPatch{}, images(1), nil)
		require.NoError(t, err)
	}
	_, err = svc.Update(ctx, owner, l.ID, types.ListingPatch{Title: &title}, nil, nil)
	require.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, 1, f.media.storedCount())
}

func TestDeleteListing_Permissions(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	owner := f.user(t, "alice", 0)
	other := f.user(t, "bob", 0)
	admin := f.makeAdmin(t, "root")
	l := f.listing(t, owner, 10)

	require.ErrorIs(t, f.listings.Delete(ctx, other, l.ID), ErrForbidden)
	require.NoError(t, f.listings.Delete(ctx, admin, l.ID))
	require.ErrorIs(t, f.listings.Delete(ctx, admin, l.ID), ErrNotFound)
}

func TestDeleteListing_PendingSwapRefused(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	owner := f.user(t, "alice", 0)
	requester := f.user(t, "bob", 0)
	l := f.listing(t, owner, 10)

	_, err := f.ledger.RequestSwap(ctx, requester, l.ID, nil)
	require.NoError(t, err)

	require.ErrorIs(t, f.listings.Delete(ctx, owner, l.ID), ErrInvalidTransition)
	assert.Empty(t, f.media.deletes)
}

func TestListAndLatest(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	owner := f.user(t, "alice", 0)
	for i := 0; i < 7; i++ {
		f.listing(t, owner, 10+i)
	}

	latest, err := f.listings.Latest(ctx)
	require.NoError(t, err)
	assert.Len(t, latest, latestListings)
	for _, l := range latest {
		require.NotNil(t, l.Owner)
		assert.Equal(t, owner.ID, l.Owner.ID)
	}

	page, total, err := f.listings.List(ctx, types.ListingFilter{Statuses: PublicStatuses, SortBy: "point_cost", Ascending: true}, 0, 3)
	require.NoError(t, err)
	assert.Equal(t, 7, total)
	require.Len(t, page, 3)
	assert.Equal(t, 10, page[0].PointCost)
}

func TestEstimatePoints(t *testing.T) {
	cases := []struct {
		category, condition string
		want                int
	}{
		{"Coats", "Like New", 60},
		{"coats", "  like   new ", 60},
		{"Jackets", "Excellent", 38},
		{"Tops", "Fair", 10},
		{"Accessories", "Good", 8},
		{"Unknown", "Unknown", 15},
		{"Formal", "Very Good", 38},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, EstimatePoints(tc.category, tc.condition), "%s/%s", tc.category, tc.condition)
	}
}
