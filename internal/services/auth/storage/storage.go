package storage

import (
	"context"
	"time"

	apperrors "github.com/relaynotify/relay/internal/platform/errors"
	"github.com/relaynotify/relay/internal/services/auth/user"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = apperrors.New(apperrors.CodeNotFound, "record not found")

// ErrEmailExists indicates a user row already holds the email address.
var ErrEmailExists = apperrors.New(apperrors.CodeEmailExists, "email is already registered")

// UserStore persists auth user records.
type UserStore interface {
	PutUser(ctx context.Context, u user.User) error
	UpdateUser(ctx context.Context, u user.User) error
	GetUser(ctx context.Context, userID string) (user.User, error)
	GetUserByEmail(ctx context.Context, email string) (user.User, error)
	GetUserByExternalID(ctx context.Context, provider, externalID string) (user.User, error)
}

// RefreshToken stores one outstanding refresh credential.
//
// A row exists from issuance until rotation, logout, bulk revocation, or the
// expiry sweep removes it; the token string is never reused.
type RefreshToken struct {
	Token     string
	UserID    string
	ExpiresAt time.Time
	Device    string
	IP        string
	CreatedAt time.Time
}

// RefreshTokenStore persists outstanding refresh tokens.
//
// DeleteRefreshToken reports whether a row was actually removed; rotation
// treats that signal as its compare-and-swap point so two concurrent rotations
// of the same token cannot both mint a replacement.
type RefreshTokenStore interface {
	PutRefreshToken(ctx context.Context, row RefreshToken) error
	GetRefreshToken(ctx context.Context, token, userID string) (RefreshToken, error)
	DeleteRefreshToken(ctx context.Context, token string) (bool, error)
	DeleteRefreshTokensByUser(ctx context.Context, userID string) error
	DeleteExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error)
}

// PasswordResetToken stores a single-use password-reset credential.
type PasswordResetToken struct {
	Token     string
	UserID    string
	ExpiresAt time.Time
	Used      bool
	IP        string
	CreatedAt time.Time
}

// PasswordResetTokenStore persists single-use reset tokens.
//
// At most one active token exists per user: issuing purges prior rows, and
// consumption deletes the row. DeletePasswordResetToken reports whether a row
// was removed so consumption can use the delete as its commit point.
type PasswordResetTokenStore interface {
	PutPasswordResetToken(ctx context.Context, row PasswordResetToken) error
	GetPasswordResetToken(ctx context.Context, token string) (PasswordResetToken, error)
	DeletePasswordResetToken(ctx context.Context, token string) (bool, error)
	DeletePasswordResetTokensByUser(ctx context.Context, userID string) error
}

// OAuthState stores an in-flight external provider authorization.
type OAuthState struct {
	State        string
	Provider     string
	RedirectURI  string
	CodeVerifier string
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

// OAuthStateStore persists provider authorization state between the start
// redirect and the callback.
type OAuthStateStore interface {
	PutOAuthState(ctx context.Context, row OAuthState) error
	GetOAuthState(ctx context.Context, state string) (OAuthState, error)
	DeleteOAuthState(ctx context.Context, state string) error
	DeleteExpiredOAuthStates(ctx context.Context, now time.Time) (int64, error)
}
