package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rewear/apiserver/internal/logging"
	"github.com/rewear/apiserver/internal/metrics"
	"github.com/rewear/apiserver/internal/services"
	"github.com/rewear/apiserver/types"
)

const (
	accessTokenCookie  = "accessToken"
	refreshTokenCookie = "refreshToken"
	formFieldAvatar    = "avatar"
)

// AuthHandler verifies credentials on incoming requests and serves the
// session endpoints.
type AuthHandler struct {
	auth         *services.AuthService
	cookieSecure bool
	log          logging.Logger
}

// NewAuthHandler constructs an AuthHandler with the provided dependencies.
func NewAuthHandler(auth *services.AuthService, cookieSecure bool, log logging.Logger) *AuthHandler {
	return &AuthHandler{auth: auth, cookieSecure: cookieSecure, log: log}
}

// RequireAuth resolves the principal from the accessToken cookie or the
// Authorization header and stores it in the request context.
func (h *AuthHandler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := h.auth.Authenticate(r.Context(), accessToken(r))
		if err != nil {
			metrics.AuthFailures.WithLabelValues(failureReason(err)).Inc()
			writeServiceError(w, r, h.log, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(withUser(r.Context(), user)))
	})
}

// OptionalAuth stores the principal when the request carries a valid
// credential and serves the request anonymously otherwise.
func (h *AuthHandler) OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := accessToken(r)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}
		user, err := h.auth.Authenticate(r.Context(), token)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(withUser(r.Context(), user)))
	})
}

// RequireAdmin rejects principals without the admin flag. It must be mounted
// after RequireAuth.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := mustUser(r)
		if !user.IsAdmin {
			metrics.AuthFailures.WithLabelValues("forbidden").Inc()
			writeError(w, http.StatusForbidden, "admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, services.ErrUnauthenticated):
		return "missing"
	case errors.Is(err, services.ErrInvalidCredential):
		return "invalid"
	case errors.Is(err, services.ErrPrincipalNotFound):
		return "principal_not_found"
	default:
		return "error"
	}
}

// accessToken returns the credential of r: the cookie when present, else the
// bearer token.
func accessToken(r *http.Request) string {
	if c, err := r.Cookie(accessTokenCookie); err == nil && strings.TrimSpace(c.Value) != "" {
		return c.Value
	}
	token, err := bearerToken(r)
	if err != nil {
		return ""
	}
	return token
}

func bearerToken(r *http.Request) (string, error) {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if auth == "" {
		return "", errors.New("missing authorization")
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("invalid authorization")
	}
	return token, nil
}

// Register creates an account from a JSON body or a multipart form with an
// optional avatar file.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var (
		req    RegisterRequest
		avatar *services.MediaFile
	)
	if isMultipart(r) {
		if err := parseMultipart(r); err != nil {
			writeServiceError(w, r, h.log, err)
			return
		}
		req = RegisterRequest{
			FullName: r.FormValue("full_name"),
			Username: r.FormValue("username"),
			Email:    r.FormValue("email"),
			Password: r.FormValue("password"),
			Address:  r.FormValue("address"),
			Phone:    r.FormValue("phone"),
		}
		file, cleanup, err := formFile(r.MultipartForm, formFieldAvatar)
		defer cleanup()
		if err != nil {
			writeServiceError(w, r, h.log, err)
			return
		}
		avatar = file
	} else if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}

	user, err := h.auth.Register(r.Context(), services.RegisterInput{
		FullName: req.FullName,
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
		Address:  req.Address,
		Phone:    req.Phone,
	}, avatar)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}

	h.log.Info(r.Context(), "user registered", "user_id", user.ID)
	writeJSON(w, http.StatusCreated, user)
}

// Login verifies credentials, sets the session cookies and returns the tokens.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}

	user, pair, err := h.auth.Login(r.Context(), services.LoginInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		if errors.Is(err, services.ErrInvalidCredential) {
			metrics.AuthFailures.WithLabelValues("login").Inc()
		}
		writeServiceError(w, r, h.log, err)
		return
	}

	h.setSessionCookies(w, pair)
	writeJSON(w, http.StatusOK, SessionResponse{User: user, TokenPair: pair})
}

// Refresh exchanges the refresh token from the cookie or JSON body for a new
// pair.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var token string
	if c, err := r.Cookie(refreshTokenCookie); err == nil {
		token = c.Value
	}
	if strings.TrimSpace(token) == "" {
		var req RefreshRequest
		// An empty or malformed body leaves the token empty.
		_ = decodeJSON(w, r, &req)
		token = req.RefreshToken
	}

	user, pair, err := h.auth.Refresh(r.Context(), token)
	if err != nil {
		metrics.AuthFailures.WithLabelValues("refresh").Inc()
		if errors.Is(err, services.ErrRefreshReuseOrMismatch) {
			h.log.Warn(r.Context(), "refresh token rejected", "error", err)
		}
		writeServiceError(w, r, h.log, err)
		return
	}

	h.setSessionCookies(w, pair)
	writeJSON(w, http.StatusOK, SessionResponse{User: user, TokenPair: pair})
}

// Logout revokes the refresh token and clears the session cookies.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	user := mustUser(r)
	if err := h.auth.Logout(r.Context(), user.ID); err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	h.clearSessionCookies(w)
	writeJSON(w, http.StatusOK, MessageResponse{Message: "logged out"})
}

func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req ChangePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	user := mustUser(r)
	if err := h.auth.ChangePassword(r.Context(), user.ID, req.OldPassword, req.NewPassword); err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "password changed"})
}

// CurrentUser returns the authenticated principal.
func (h *AuthHandler) CurrentUser(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, mustUser(r))
}

func (h *AuthHandler) setSessionCookies(w http.ResponseWriter, pair services.TokenPair) {
	http.SetCookie(w, h.cookie(accessTokenCookie, pair.AccessToken, h.auth.AccessTTL()))
	http.SetCookie(w, h.cookie(refreshTokenCookie, pair.RefreshToken, h.auth.RefreshTTL()))
}

func (h *AuthHandler) clearSessionCookies(w http.ResponseWriter) {
	http.SetCookie(w, h.cookie(accessTokenCookie, "", -1))
	http.SetCookie(w, h.cookie(refreshTokenCookie, "", -1))
}

func (h *AuthHandler) cookie(name, value string, ttl time.Duration) *http.Cookie {
	c := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
	if ttl < 0 {
		c.MaxAge = -1
		c.Expires = time.Unix(0, 0)
	} else {
		c.MaxAge = int(ttl.Seconds())
	}
	return c
}

type RegisterRequest struct {
	FullName string `json:"full_name"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Address  string `json:"address"`
	Phone    string `json:"phone"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type ChangePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

// SessionResponse is returned by login and refresh.
type SessionResponse struct {
	User types.User `json:"user"`
	services.TokenPair
}

type MessageResponse struct {
	Message string `json:"message"`
}
