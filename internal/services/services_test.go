package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rewear/apiserver/config"
	"github.com/rewear/apiserver/internal/logging"
	"github.com/rewear/apiserver/internal/store/memory"
	"github.com/rewear/apiserver/types"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func init() {
	passwordCost = bcrypt.MinCost
}

var errMediaDown = errors.New("media host unavailable")

// fakeMedia records uploads and deletes. failUploadAt makes the n-th upload
// (1-based) fail; zero never fails.
type fakeMedia struct {
	mu           sync.Mutex
	uploads      int
	failUploadAt int
	failDelete   bool
	stored       map[string]bool
	deletes      map[string]int
}

func newFakeMedia() *fakeMedia {
	return &fakeMedia{stored: map[string]bool{}, deletes: map[string]int{}}
}

func (m *fakeMedia) Upload(_ context.Context, filename string, r io.Reader, _ int64, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.uploads++
	if m.failUploadAt > 0 && m.uploads == m.failUploadAt {
		return "", errMediaDown
	}
	if r != nil {
		if _, err := io.Copy(io.Discard, r); err != nil {
			return "", err
		}
	}
	ref := fmt.Sprintf("https://media.test/media/%d-%s", m.uploads, filename)
	m.stored[ref] = true
	return ref, nil
}

func (m *fakeMedia) Delete(_ context.Context, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.deletes[ref]++
	if m.failDelete {
		return errMediaDown
	}
	delete(m.stored, ref)
	return nil
}

func (m *fakeMedia) storedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.stored)
}

type recordedEvent struct {
	Type    string
	Payload any
}

type fakeEvents struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (e *fakeEvents) Publish(_ context.Context, eventType string, payload any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, recordedEvent{Type: eventType, Payload: payload})
}

func (e *fakeEvents) types() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.events))
	for _, ev := range e.events {
		out = append(out, ev.Type)
	}
	return out
}

var testAuthConfig = config.AuthConfig{
	AccessTokenSecret:  "access-secret",
	RefreshTokenSecret: "refresh-secret",
	AccessTokenTTL:     15 * time.Minute,
	RefreshTokenTTL:    24 * time.Hour,
}

// interleavedUsers runs afterGet once, right after the next GetByID read, so
// a test can commit a competing write between a read and the write after it.
type interleavedUsers struct {
	UserRepository
	afterGet func()
}

func (u *interleavedUsers) GetByID(ctx context.Context, id uuid.UUID) (types.User, error) {
	user, err := u.UserRepository.GetByID(ctx, id)
	if fn := u.afterGet; fn != nil {
		u.afterGet = nil
		fn()
	}
	return user, err
}

// interleavedListings is interleavedUsers for listing reads.
type interleavedListings struct {
	ListingRepository
	afterGet func()
}

func (l *interleavedListings) Get(ctx context.Context, id uuid.UUID) (types.Listing, error) {
	listing, err := l.ListingRepository.Get(ctx, id)
	if fn := l.afterGet; fn != nil {
		l.afterGet = nil
		fn()
	}
	return listing, err
}

type fixture struct {
	store    *memory.Store
	media    *fakeMedia
	events   *fakeEvents
	auth     *AuthService
	users    *UserService
	listings *ListingService
	ledger   *LedgerService
	comments *CommentService
	admin    *AdminService
}

func newFixture(t *testing.T, moderationRequired bool) *fixture {
	t.Helper()

	st := memory.New()
	media := newFakeMedia()
	events := &fakeEvents{}
	log := logging.Nop()

	listings := NewListingService(st.Listings(), st.Users(), media, events, moderationRequired, log)
	return &fixture{
		store:    st,
		media:    media,
		events:   events,
		auth:     NewAuthService(st.Users(), media, testAuthConfig, 0, log),
		users:    NewUserService(st.Users(), st.Listings(), st.Orders(), media, log),
		listings: listings,
		ledger:   NewLedgerService(st.Ledger(), st.Listings(), st.Orders(), events, log),
		comments: NewCommentService(st.Comments(), st.Listings(), st.Users()),
		admin:    NewAdminService(st.Users(), listings, st.Ledger(), st.Orders(), media, log),
	}
}

// user registers a principal and sets its balance.
func (f *fixture) user(t *testing.T, username string, points int) types.User {
	t.Helper()
	ctx := context.Background()

	u, err := f.auth.Register(ctx, RegisterInput{
		FullName: strings.ToUpper(username[:1]) + username[1:],
		Username: username,
		Email:    username + "@example.com",
		Password: "secret-" + username,
		Address:  "1 Main St",
		Phone:    "555-0100",
	}, nil)
	require.NoError(t, err)

	if points > 0 {
		_, err = f.store.Ledger().Credit(ctx, u.ID, points)
		require.NoError(t, err)
	}
	u, err = f.store.Users().GetByID(ctx, u.ID)
	require.NoError(t, err)
	return u
}

func (f *fixture) makeAdmin(t *testing.T, username string) types.User {
	t.Helper()
	u := f.user(t, username, 0)
	isAdmin := true
	u, err := f.store.Users().Update(context.Background(), u.ID, types.UserPatch{IsAdmin: &isAdmin})
	require.NoError(t, err)
	return u
}

func (f *fixture) balance(t *testing.T, u types.User) int {
	t.Helper()
	got, err := f.store.Users().GetByID(context.Background(), u.ID)
	require.NoError(t, err)
	return got.Points
}

// listing creates a listed item with the given point cost.
func (f *fixture) listing(t *testing.T, owner types.User, cost int) types.Listing {
	t.Helper()
	l, err := f.listings.Create(context.Background(), owner, listingInput("Wool coat", cost), images(1), nil)
	require.NoError(t, err)
	return l
}

func listingInput(title string, cost int) ListingInput {
	return ListingInput{
		Title:       title,
		Description: "Warm and barely worn",
		Category:    "Coats",
		Size:        "M",
		Condition:   "Excellent",
		PointCost:   &cost,
	}
}

func images(n int) []MediaFile {
	files := make([]MediaFile, n)
	for i := range files {
		files[i] = MediaFile{
			Name:        fmt.Sprintf("photo-%d.jpg", i),
			ContentType: "image/jpeg",
			Size:        4,
			Content:     strings.NewReader("jpeg"),
		}
	}
	return files
}
