package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/rewear/apiserver/types"
)

const userColumns = `id, username, email, full_name, address, phone, avatar, points, is_admin,
		       password_hash, refresh_token, created_at, updated_at`

// UserRepository handles persistence for users.
type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (types.User, error) {
	var user types.User
	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.FullName,
		&user.Address,
		&user.Phone,
		&user.Avatar,
		&user.Points,
		&user.IsAdmin,
		&user.PasswordHash,
		&user.RefreshToken,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.User{}, ErrNotFound
		}
		return types.User{}, err
	}
	return user, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (types.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, id))
}

func (r *UserRepository) GetByUsername(ctx context.Context, username string) (types.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE username = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, username))
}

// GetByLogin finds a user whose username or email matches.
func (r *UserRepository) GetByLogin(ctx context.Context, username, email string) (types.User, error) {
	query := `SELECT ` + userColumns + `
		FROM users
		WHERE ($1 <> '' AND username = $1) OR ($2 <> '' AND email = $2)
		LIMIT 1`
	return scanUser(r.db.QueryRowContext(ctx, query, username, email))
}

func (r *UserRepository) List(ctx context.Context, offset, limit int) ([]types.User, int, error) {
	if offset < 0 {
		offset = 0
	}
	if limit < 1 {
		limit = 20
	}

	const countQuery = `SELECT COUNT(1) FROM users`
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + userColumns + `
		FROM users
		ORDER BY created_at DESC
		OFFSET $1 LIMIT $2`
	rows, err := r.db.QueryContext(ctx, query, offset, limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	users := make([]types.User, 0, limit)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return users, total, nil
}

// ListByIDs returns the users with the given ids. Missing ids are skipped.
func (r *UserRepository) ListByIDs(ctx context.Context, ids []uuid.UUID) ([]types.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	raw := make([]string, len(ids))
	for i, id := range ids {
		raw[i] = id.String()
	}

	query := `SELECT ` + userColumns + ` FROM users WHERE id = ANY($1::uuid[])`
	rows, err := r.db.QueryContext(ctx, query, pq.Array(raw))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]types.User, 0, len(ids))
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func (r *UserRepository) Create(ctx context.Context, user types.User) (types.User, error) {
	now := time.Now().UTC()
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	user.CreatedAt = now
	user.UpdatedAt = now

	const query = `
		INSERT INTO users (id, username, email, full_name, address, phone, avatar, points, is_admin,
		                   password_hash, refresh_token, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	_, err := r.db.ExecContext(
		ctx,
		query,
		user.ID,
		user.Username,
		user.Email,
		user.FullName,
		user.Address,
		user.Phone,
		user.Avatar,
		user.Points,
		user.IsAdmin,
		user.PasswordHash,
		user.RefreshToken,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		return types.User{}, translateError(err)
	}
	return user, nil
}

// Update writes the set fields of patch and returns the stored row. Columns
// the patch leaves nil keep their current value.
func (r *UserRepository) Update(ctx context.Context, id uuid.UUID, patch types.UserPatch) (types.User, error) {
	query := `
		UPDATE users
		SET full_name = COALESCE($1, full_name),
			username = COALESCE($2, username),
			email = COALESCE($3, email),
			address = COALESCE($4, address),
			phone = COALESCE($5, phone),
			is_admin = COALESCE($6, is_admin),
			updated_at = $7
		WHERE id = $8
		RETURNING ` + userColumns
	user, err := scanUser(r.db.QueryRowContext(
		ctx,
		query,
		patch.FullName,
		patch.Username,
		patch.Email,
		patch.Address,
		patch.Phone,
		patch.IsAdmin,
		time.Now().UTC(),
		id,
	))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return types.User{}, translateError(err)
	}
	return user, err
}

// SetPassword replaces the password hash only if it still equals current.
func (r *UserRepository) SetPassword(ctx context.Context, id uuid.UUID, current, next string) error {
	const query = `
		UPDATE users
		SET password_hash = $1, updated_at = $2
		WHERE id = $3 AND password_hash = $4`
	result, err := r.db.ExecContext(ctx, query, next, time.Now().UTC(), id, current)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrStateChanged
	}
	return nil
}

// SetAvatar points the user at a new avatar and returns the one it replaced.
func (r *UserRepository) SetAvatar(ctx context.Context, id uuid.UUID, avatar string) (string, error) {
	const query = `
		UPDATE users u
		SET avatar = $1, updated_at = $2
		FROM (SELECT id, avatar FROM users WHERE id = $3 FOR UPDATE) prev
		WHERE u.id = prev.id
		RETURNING prev.avatar`
	var previous string
	err := r.db.QueryRowContext(ctx, query, avatar, time.Now().UTC(), id).Scan(&previous)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}
	return previous, nil
}

// SetRefreshToken overwrites the stored refresh credential. An empty token
// revokes every outstanding refresh token of the user.
func (r *UserRepository) SetRefreshToken(ctx context.Context, id uuid.UUID, token string) error {
	const query = `UPDATE users SET refresh_token = $1, updated_at = $2 WHERE id = $3`
	result, err := r.db.ExecContext(ctx, query, token, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	return expectAffected(result)
}

// RotateRefreshToken replaces the stored refresh credential only if it still
// equals current.
func (r *UserRepository) RotateRefreshToken(ctx context.Context, id uuid.UUID, current, next string) error {
	const query = `
		UPDATE users
		SET refresh_token = $1, updated_at = $2
		WHERE id = $3 AND refresh_token = $4 AND refresh_token <> ''`
	result, err := r.db.ExecContext(ctx, query, next, time.Now().UTC(), id, current)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrStateChanged
	}
	return nil
}

func (r *UserRepository) Delete(ctx context.Context, id uuid.UUID) error {
	const query = `DELETE FROM users WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	return expectAffected(result)
}

func expectAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
