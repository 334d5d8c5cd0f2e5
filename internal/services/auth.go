package services

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rewear/apiserver/config"
	"github.com/rewear/apiserver/internal/logging"
	"github.com/rewear/apiserver/internal/store"
	"github.com/rewear/apiserver/types"
	"golang.org/x/crypto/bcrypt"
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

// passwordCost is the bcrypt cost for new password hashes.
var passwordCost = bcrypt.DefaultCost

// UserRepository defines persistence operations for users.
type UserRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (types.User, error)
	GetByUsername(ctx context.Context, username string) (types.User, error)
	GetByLogin(ctx context.Context, username, email string) (types.User, error)
	List(ctx context.Context, offset, limit int) ([]types.User, int, error)
	ListByIDs(ctx context.Context, ids []uuid.UUID) ([]types.User, error)
	Create(ctx context.Context, user types.User) (types.User, error)
	Update(ctx context.Context, id uuid.UUID, patch types.UserPatch) (types.User, error)
	SetPassword(ctx context.Context, id uuid.UUID, current, next string) error
	SetAvatar(ctx context.Context, id uuid.UUID, avatar string) (string, error)
	SetRefreshToken(ctx context.Context, id uuid.UUID, token string) error
	RotateRefreshToken(ctx context.Context, id uuid.UUID, current, next string) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// TokenPair is the pair of credentials issued on login and refresh.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// RegisterInput carries the fields of a new account.
type RegisterInput struct {
	FullName string
	Username string
	Email    string
	Password string
	Address  string
	Phone    string
}

// LoginInput identifies a user by username or email.
type LoginInput struct {
	Username string
	Email    string
	Password string
}

type accessClaims struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	IsAdmin  bool   `json:"is_admin"`
	Type     string `json:"typ"`
	jwt.RegisteredClaims
}

type refreshClaims struct {
	Type string `json:"typ"`
	jwt.RegisteredClaims
}

// AuthService issues and verifies credentials.
type AuthService struct {
	users         UserRepository
	media         MediaHost
	log           logging.Logger
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	signupBonus   int
	now           func() time.Time
}

func NewAuthService(users UserRepository, media MediaHost, cfg config.AuthConfig, signupBonus int, log logging.Logger) *AuthService {
	return &AuthService{
		users:         users,
		media:         media,
		log:           log,
		accessSecret:  []byte(cfg.AccessTokenSecret),
		refreshSecret: []byte(cfg.RefreshTokenSecret),
		accessTTL:     cfg.AccessTokenTTL,
		refreshTTL:    cfg.RefreshTokenTTL,
		signupBonus:   signupBonus,
		now:           time.Now,
	}
}

// AccessTTL and RefreshTTL are the lifetimes of issued tokens.
func (s *AuthService) AccessTTL() time.Duration  { return s.accessTTL }
func (s *AuthService) RefreshTTL() time.Duration { return s.refreshTTL }

// Register creates an account. The avatar, when given, is uploaded first and
// released again if the account cannot be created.
func (s *AuthService) Register(ctx context.Context, in RegisterInput, avatar *MediaFile) (types.User, error) {
	in.FullName = strings.TrimSpace(in.FullName)
	in.Username = strings.ToLower(strings.TrimSpace(in.Username))
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Address = strings.TrimSpace(in.Address)
	in.Phone = strings.TrimSpace(in.Phone)

	if in.FullName == "" || in.Username == "" || in.Email == "" || in.Password == "" ||
		in.Address == "" || in.Phone == "" {
		return types.User{}, validationError("all fields are required")
	}
	if err := validateEmail(in.Email); err != nil {
		return types.User{}, err
	}

	if _, err := s.users.GetByLogin(ctx, in.Username, in.Email); err == nil {
		return types.User{}, fmt.Errorf("%w: user with email or username already exists", ErrConflict)
	} else if !errors.Is(err, store.ErrNotFound) {
		return types.User{}, err
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(in.Password), passwordCost)
	if err != nil {
		return types.User{}, err
	}

	avatarURL := types.DefaultAvatarURL
	if avatar != nil {
		avatarURL, err = s.media.Upload(ctx, avatar.Name, avatar.Content, avatar.Size, avatar.ContentType)
		if err != nil {
			return types.User{}, mediaError("upload avatar", err)
		}
	}

	user, err := s.users.Create(ctx, types.User{
		Username:     in.Username,
		Email:        in.Email,
		FullName:     in.FullName,
		Address:      in.Address,
		Phone:        in.Phone,
		Avatar:       avatarURL,
		Points:       s.signupBonus,
		PasswordHash: string(hashed),
	})
	if err != nil {
		if avatar != nil {
			releaseMedia(ctx, s.media, s.log, avatarURL)
		}
		if errors.Is(err, store.ErrDuplicate) {
			return types.User{}, fmt.Errorf("%w: user with email or username already exists", ErrConflict)
		}
		return types.User{}, err
	}
	return user, nil
}

// Login verifies the password and issues a fresh token pair. The new refresh
// token replaces any previously stored one.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (types.User, TokenPair, error) {
	username := strings.ToLower(strings.TrimSpace(in.Username))
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if username == "" && email == "" {
		return types.User{}, TokenPair{}, validationError("username or email is required")
	}
	if in.Password == "" {
		return types.User{}, TokenPair{}, validationError("password is required")
	}

	user, err := s.users.GetByLogin(ctx, username, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, TokenPair{}, ErrInvalidCredential
		}
		return types.User{}, TokenPair{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(in.Password)); err != nil {
		return types.User{}, TokenPair{}, ErrInvalidCredential
	}

	pair, err := s.issuePair(user)
	if err != nil {
		return types.User{}, TokenPair{}, err
	}
	if err := s.users.SetRefreshToken(ctx, user.ID, pair.RefreshToken); err != nil {
		return types.User{}, TokenPair{}, err
	}
	user.RefreshToken = pair.RefreshToken
	return user, pair, nil
}

// Logout revokes the stored refresh token.
func (s *AuthService) Logout(ctx context.Context, userID uuid.UUID) error {
	err := s.users.SetRefreshToken(ctx, userID, "")
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	return err
}

// Refresh exchanges a refresh token for a new pair. The presented token must
// equal the stored one; after a successful exchange it can never be used again.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (types.User, TokenPair, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return types.User{}, TokenPair{}, ErrUnauthenticated
	}

	var claims refreshClaims
	if err := s.parse(refreshToken, s.refreshSecret, &claims); err != nil || claims.Type != tokenTypeRefresh {
		return types.User{}, TokenPair{}, ErrInvalidCredential
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return types.User{}, TokenPair{}, ErrInvalidCredential
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, TokenPair{}, ErrPrincipalNotFound
		}
		return types.User{}, TokenPair{}, err
	}
	if user.RefreshToken == "" || subtle.ConstantTimeCompare([]byte(user.RefreshToken), []byte(refreshToken)) != 1 {
		return types.User{}, TokenPair{}, ErrRefreshReuseOrMismatch
	}

	pair, err := s.issuePair(user)
	if err != nil {
		return types.User{}, TokenPair{}, err
	}
	if err := s.users.RotateRefreshToken(ctx, user.ID, refreshToken, pair.RefreshToken); err != nil {
		if errors.Is(err, store.ErrStateChanged) {
			return types.User{}, TokenPair{}, ErrRefreshReuseOrMismatch
		}
		return types.User{}, TokenPair{}, err
	}
	user.RefreshToken = pair.RefreshToken
	return user, pair, nil
}

// Authenticate resolves the principal named by an access token. It never
// rotates or persists anything.
func (s *AuthService) Authenticate(ctx context.Context, accessToken string) (types.User, error) {
	accessToken = strings.TrimSpace(accessToken)
	if accessToken == "" {
		return types.User{}, ErrUnauthenticated
	}

	var claims accessClaims
	if err := s.parse(accessToken, s.accessSecret, &claims); err != nil || claims.Type != tokenTypeAccess {
		return types.User{}, ErrInvalidCredential
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return types.User{}, ErrInvalidCredential
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, ErrPrincipalNotFound
		}
		return types.User{}, err
	}
	return user, nil
}

// ChangePassword replaces the password after verifying the current one.
func (s *AuthService) ChangePassword(ctx context.Context, userID uuid.UUID, oldPassword, newPassword string) error {
	if oldPassword == "" || newPassword == "" {
		return validationError("old and new password are required")
	}
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrPrincipalNotFound
		}
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(oldPassword)); err != nil {
		return fmt.Errorf("%w: invalid old password", ErrValidation)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(newPassword), passwordCost)
	if err != nil {
		return err
	}
	if err := s.users.SetPassword(ctx, userID, user.PasswordHash, string(hashed)); err != nil {
		if errors.Is(err, store.ErrStateChanged) {
			return fmt.Errorf("%w: password changed concurrently", ErrConflict)
		}
		return err
	}
	return nil
}

func (s *AuthService) issuePair(user types.User) (TokenPair, error) {
	now := s.now()
	access := jwt.NewWithClaims(jwt.SigningMethodHS256, accessClaims{
		Username: user.Username,
		Email:    user.Email,
		IsAdmin:  user.IsAdmin,
		Type:     tokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
		},
	})
	accessToken, err := access.SignedString(s.accessSecret)
	if err != nil {
		return TokenPair{}, err
	}

	refresh := jwt.NewWithClaims(jwt.SigningMethodHS256, refreshClaims{
		Type: tokenTypeRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   user.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.refreshTTL)),
		},
	})
	refreshToken, err := refresh.SignedString(s.refreshSecret)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: accessToken, RefreshToken: refreshToken}, nil
}

func (s *AuthService) parse(tokenString string, secret []byte, claims jwt.Claims) error {
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return secret, nil
	}, jwt.WithExpirationRequired(), jwt.WithTimeFunc(s.now))
	if err != nil {
		return err
	}
	if !token.Valid {
		return errors.New("invalid token")
	}
	return nil
}

func validateEmail(email string) error {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return validationError("email is invalid")
	}
	return nil
}
