package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/rewear/apiserver/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func TestUserRepository_GetByID_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUserRepository(db)
	id := uuid.New()

	mock.ExpectQuery(`(?s)SELECT .* FROM users WHERE id = \$1`).
		WithArgs(id).
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), id)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_GetByID_Found(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUserRepository(db)
	id := uuid.New()
	now := time.Now().UTC()

	rows := sqlmock.NewRows([]string{
		"id", "username", "email", "full_name", "address", "phone", "avatar", "points", "is_admin",
		"password_hash", "refresh_token", "created_at", "updated_at",
	}).AddRow(id.String(), "alice", "alice@example.com", "Alice", "1 Main St", "555", types.DefaultAvatarURL, 40, false,
		"hash", "refresh", now, now)
	mock.ExpectQuery(`(?s)SELECT .* FROM users WHERE id = \$1`).
		WithArgs(id).
		WillReturnRows(rows)

	user, err := repo.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, id, user.ID)
	assert.Equal(t, "alice", user.Username)
	assert.Equal(t, 40, user.Points)
	assert.Equal(t, "refresh", user.RefreshToken)
}

func TestUserRepository_Create_Duplicate(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUserRepository(db)

	mock.ExpectExec(`INSERT INTO users`).
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})

	_, err := repo.Create(context.Background(), types.User{Username: "alice", Email: "alice@example.com"})
	assert.ErrorIs(t, err, ErrDuplicate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_RotateRefreshToken_Mismatch(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUserRepository(db)
	id := uuid.New()

	mock.ExpectExec(`(?s)UPDATE users\s+SET refresh_token = \$1.*WHERE id = \$3 AND refresh_token = \$4`).
		WithArgs("next", sqlmock.AnyArg(), id, "stale").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.RotateRefreshToken(context.Background(), id, "stale", "next")
	assert.ErrorIs(t, err, ErrStateChanged)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_Delete_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUserRepository(db)
	id := uuid.New()

	mock.ExpectExec(`DELETE FROM users WHERE id = \$1`).
		WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.ErrorIs(t, repo.Delete(context.Background(), id), ErrNotFound)
}

func TestUserRepository_Update_OnlyPatchedColumns(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUserRepository(db)
	id := uuid.New()
	now := time.Now().UTC()
	name := "Alice L."

	rows := sqlmock.NewRows([]string{
		"id", "username", "email", "full_name", "address", "phone", "avatar", "points", "is_admin",
		"password_hash", "refresh_token", "created_at", "updated_at",
	}).AddRow(id.String(), "alice", "alice@example.com", name, "1 Main St", "555", types.DefaultAvatarURL, 40, false,
		"hash", "", now, now)
	mock.ExpectQuery(`(?s)UPDATE users\s+SET full_name = COALESCE\(\$1, full_name\).*is_admin = COALESCE\(\$6, is_admin\),\s+updated_at = \$7\s+WHERE id = \$8\s+RETURNING`).
		WithArgs(name, nil, nil, nil, nil, nil, sqlmock.AnyArg(), id).
		WillReturnRows(rows)

	user, err := repo.Update(context.Background(), id, types.UserPatch{FullName: &name})
	require.NoError(t, err)
	assert.Equal(t, name, user.FullName)
	assert.Equal(t, 40, user.Points)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_Update_Duplicate(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUserRepository(db)
	email := "bob@example.com"

	mock.ExpectQuery(`UPDATE users`).
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})

	_, err := repo.Update(context.Background(), uuid.New(), types.UserPatch{Email: &email})
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestUserRepository_SetPassword_StateChanged(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUserRepository(db)
	id := uuid.New()

	mock.ExpectExec(`(?s)SET password_hash = \$1.*WHERE id = \$3 AND password_hash = \$4`).
		WithArgs("next", sqlmock.AnyArg(), id, "stale").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.SetPassword(context.Background(), id, "stale", "next")
	assert.ErrorIs(t, err, ErrStateChanged)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_SetAvatar(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUserRepository(db)
	id := uuid.New()

	mock.ExpectQuery(`(?s)SET avatar = \$1.*FOR UPDATE.*RETURNING prev.avatar`).
		WithArgs("https://cdn.test/media/new.png", sqlmock.AnyArg(), id).
		WillReturnRows(sqlmock.NewRows([]string{"avatar"}).AddRow("https://cdn.test/media/old.png"))
	mock.ExpectQuery(`(?s)SET avatar = \$1.*RETURNING prev.avatar`).
		WithArgs("https://cdn.test/media/new.png", sqlmock.AnyArg(), id).
		WillReturnError(sql.ErrNoRows)

	previous, err := repo.SetAvatar(context.Background(), id, "https://cdn.test/media/new.png")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.test/media/old.png", previous)

	_, err = repo.SetAvatar(context.Background(), id, "https://cdn.test/media/new.png")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListingRepository_ToggleAvailability(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewListingRepository(db)
	id := uuid.New()

	mock.ExpectQuery(`(?s)SET available = NOT available.*RETURNING available`).
		WithArgs(sqlmock.AnyArg(), id).
		WillReturnRows(sqlmock.NewRows([]string{"available"}).AddRow(false))
	mock.ExpectQuery(`(?s)SET available = NOT available.*RETURNING available`).
		WithArgs(sqlmock.AnyArg(), id).
		WillReturnError(sql.ErrNoRows)

	available, err := repo.ToggleAvailability(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, available)

	_, err = repo.ToggleAvailability(context.Background(), id)
	assert.ErrorIs(t, err, ErrStateChanged)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListingRepository_Transition_StateChanged(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewListingRepository(db)
	id := uuid.New()

	mock.ExpectExec(`(?s)UPDATE listings\s+SET status = \$1.*WHERE id = \$4 AND status = \$5`).
		WithArgs(types.ListingDeleted, false, sqlmock.AnyArg(), id, types.ListingListed).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Transition(context.Background(), id, types.ListingListed, types.ListingDeleted, false)
	assert.ErrorIs(t, err, ErrStateChanged)
}

func TestListingRepository_Update_MediaMoved(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewListingRepository(db)
	listing := types.Listing{ID: uuid.New(), Title: "Coat", Images: []string{"new.jpg"}}

	mock.ExpectExec(`(?s)UPDATE listings.*WHERE id = \$13 AND status <> 'deleted' AND images = \$14 AND video = \$15`).
		WithArgs(
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), listing.ID, sqlmock.AnyArg(), "",
		).
		WillReturnResult(sqlmock.NewResult(0, 0))

	_, err := repo.Update(context.Background(), listing, []string{"old.jpg"}, "")
	assert.ErrorIs(t, err, ErrStateChanged)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListingRepository_Tombstone_StateChanged(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewListingRepository(db)
	id := uuid.New()

	mock.ExpectQuery(`(?s)SET status = 'deleted'.*WHERE id = \$2 AND status = \$3\s+RETURNING`).
		WithArgs(sqlmock.AnyArg(), id, types.ListingListed).
		WillReturnError(sql.ErrNoRows)

	_, err := repo.Tombstone(context.Background(), id, types.ListingListed)
	assert.ErrorIs(t, err, ErrStateChanged)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListingWhere(t *testing.T) {
	owner := uuid.New()
	where, args := listingWhere(types.ListingFilter{
		Query:         "50%_off",
		OwnerID:       &owner,
		AvailableOnly: true,
	})

	assert.Equal(t, "status <> $1 AND (title ILIKE $2 OR description ILIKE $2) AND owner_id = $3 AND available", where)
	require.Len(t, args, 3)
	assert.Equal(t, "deleted", args[0])
	assert.Equal(t, `%50\%\_off%`, args[1])
	assert.Equal(t, owner, args[2])
}

func TestListingRepository_Moderate_NotPending(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewListingRepository(db)
	id := uuid.New()
	admin := uuid.New()

	mock.ExpectQuery(`(?s)UPDATE listings.*WHERE id = \$6 AND status = 'pending_review'`).
		WillReturnError(sql.ErrNoRows)

	_, err := repo.Moderate(context.Background(), id, types.ListingListed, true, "looks good", admin)
	assert.ErrorIs(t, err, ErrStateChanged)
}

func TestLedgerRepository_Redeem(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewLedgerRepository(db)
	listingID := uuid.New()
	requesterID := uuid.New()
	ownerID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE users SET points = points - \$1`).
		WithArgs(60, sqlmock.AnyArg(), requesterID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`(?s)UPDATE listings.*SET status = 'swapped'.*RETURNING owner_id`).
		WithArgs(sqlmock.AnyArg(), listingID, 60, requesterID).
		WillReturnRows(sqlmock.NewRows([]string{"owner_id"}).AddRow(ownerID.String()))
	mock.ExpectExec(`UPDATE users SET points = points \+ \$1`).
		WithArgs(60, sqlmock.AnyArg(), ownerID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO orders`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	order, err := repo.Redeem(context.Background(), listingID, requesterID, 60)
	require.NoError(t, err)
	assert.Equal(t, types.OrderRedemption, order.Kind)
	assert.Equal(t, ownerID, order.OwnerID)
	assert.Equal(t, 60, order.Points)
	assert.NotEqual(t, uuid.Nil, order.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRepository_Redeem_InsufficientBalanceRollsBack(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewLedgerRepository(db)
	requesterID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE users SET points = points - \$1`).
		WithArgs(85, sqlmock.AnyArg(), requesterID).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := repo.Redeem(context.Background(), uuid.New(), requesterID, 85)
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRepository_Redeem_ListingTakenRollsBack(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewLedgerRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE users SET points = points - \$1`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`(?s)UPDATE listings.*RETURNING owner_id`).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := repo.Redeem(context.Background(), uuid.New(), uuid.New(), 10)
	assert.ErrorIs(t, err, ErrStateChanged)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRepository_DeclineSwap_AlreadyClosed(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewLedgerRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`(?s)UPDATE swap_requests.*WHERE id = \$3 AND status = 'pending'`).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	err := repo.DeclineSwap(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrStateChanged)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRepository_Credit(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewLedgerRepository(db)
	id := uuid.New()

	mock.ExpectQuery(`(?s)UPDATE users SET points = points \+ \$1.*RETURNING points`).
		WithArgs(25, sqlmock.AnyArg(), id).
		WillReturnRows(sqlmock.NewRows([]string{"points"}).AddRow(75))

	balance, err := repo.Credit(context.Background(), id, 25)
	require.NoError(t, err)
	assert.Equal(t, 75, balance)
}

func TestCommentRepository_Update_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCommentRepository(db)

	mock.ExpectExec(`UPDATE comments SET content = \$1`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	_, err := repo.Update(context.Background(), types.Comment{ID: uuid.New(), Content: "nice"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTranslateError_PassesThroughOthers(t *testing.T) {
	other := errors.New("connection reset")
	assert.Equal(t, other, translateError(other))
	assert.ErrorIs(t, translateError(&pq.Error{Code: "23505"}), ErrDuplicate)
}
