// Package token issues and verifies signed access and refresh token pairs.
package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	apperrors "github.com/relaynotify/relay/internal/platform/errors"
	"github.com/relaynotify/relay/internal/platform/id"
	"github.com/relaynotify/relay/internal/services/auth/storage"
	"github.com/relaynotify/relay/internal/services/auth/user"
)

var (
	// ErrTokenExpired indicates a well-formed token past its expiry. Clients
	// should refresh silently instead of forcing a re-login.
	ErrTokenExpired = apperrors.New(apperrors.CodeTokenExpired, "token is expired")
	// ErrInvalidToken indicates a malformed token or a signature mismatch.
	// Clients should force a full re-authentication.
	ErrInvalidToken = apperrors.New(apperrors.CodeInvalidToken, "token is invalid")
	// ErrInvalidRefreshToken indicates a refresh token that is unknown,
	// expired, rotated away, or owned by another user.
	ErrInvalidRefreshToken = apperrors.New(apperrors.CodeInvalidRefreshToken, "refresh token is invalid")
)

// Claims carries the verified payload of an access or refresh token.
type Claims struct {
	jwt.RegisteredClaims
	UserID      string   `json:"id"`
	Email       string   `json:"email"`
	Role        string   `json:"role,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

// Pair is one issued access/refresh token pair.
type Pair struct {
	AccessToken      string
	RefreshToken     string
	ExpiresInSeconds int64
}

// Metadata describes the request context a pair is issued under. Role and
// Permissions, when set, override the claim values derived from the user
// record.
type Metadata struct {
	Device      string
	IP          string
	Role        string
	Permissions []string
}

// Issuer mints, verifies, and rotates token pairs.
//
// Every refresh token is persisted before its pair is returned, so rotation
// and bulk revocation always operate on durable state.
type Issuer struct {
	config      Config
	tokens      storage.RefreshTokenStore
	users       storage.UserStore
	clock       func() time.Time
	idGenerator func() (string, error)
}

// NewIssuer builds an issuer bound to token config and backing stores.
func NewIssuer(config Config, tokens storage.RefreshTokenStore, users storage.UserStore) *Issuer {
	return &Issuer{
		config:      config,
		tokens:      tokens,
		users:       users,
		clock:       time.Now,
		idGenerator: id.NewID,
	}
}

// WithClock overrides the issuer clock for tests.
func (i *Issuer) WithClock(clock func() time.Time) *Issuer {
	if clock != nil {
		i.clock = clock
	}
	return i
}

// Issue signs a new access/refresh pair for a user and persists the refresh
// half before returning.
func (i *Issuer) Issue(ctx context.Context, u user.User, meta Metadata) (Pair, error) {
	if i == nil || i.tokens == nil {
		return Pair{}, errors.New("token issuer is not configured")
	}

	now := i.clock().UTC()
	role := u.Role
	if meta.Role != "" {
		role = meta.Role
	}
	permissions := u.Permissions
	if meta.Permissions != nil {
		permissions = meta.Permissions
	}

	accessToken, err := i.sign(i.config.AccessSecret, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.config.AccessTTL.Std())),
		},
		UserID:      u.ID,
		Email:       u.Email,
		Role:        role,
		Permissions: permissions,
	})
	if err != nil {
		return Pair{}, fmt.Errorf("sign access token: %w", err)
	}

	jti, err := i.idGenerator()
	if err != nil {
		return Pair{}, fmt.Errorf("generate refresh token id: %w", err)
	}
	refreshExpiry := now.Add(i.config.RefreshTTL.Std())
	refreshToken, err := i.sign(i.config.RefreshSecret, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.config.Issuer,
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(refreshExpiry),
		},
		UserID: u.ID,
		Email:  u.Email,
	})
	if err != nil {
		return Pair{}, fmt.Errorf("sign refresh token: %w", err)
	}

	err = i.tokens.PutRefreshToken(ctx, storage.RefreshToken{
		Token:     refreshToken,
		UserID:    u.ID,
		ExpiresAt: refreshExpiry,
		Device:    meta.Device,
		IP:        meta.IP,
		CreatedAt: now,
	})
	if err != nil {
		return Pair{}, fmt.Errorf("persist refresh token: %w", err)
	}

	return Pair{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		ExpiresInSeconds: i.config.AccessTTL.Seconds(),
	}, nil
}

// VerifyAccess decodes an access token and checks its signature and expiry.
// Expiry and signature failures surface as distinct codes because the correct
// client response differs.
func (i *Issuer) VerifyAccess(tokenString string) (Claims, error) {
	return i.verify(tokenString, i.config.AccessSecret)
}

// Rotate exchanges a refresh token for a fresh pair, invalidating the old
// token.
//
// The delete of the old row is the compare-and-swap point: of two concurrent
// rotations presenting the same token, only the caller whose delete actually
// removed the row mints a replacement; the other fails ErrInvalidRefreshToken.
func (i *Issuer) Rotate(ctx context.Context, oldRefreshToken string) (Pair, user.User, error) {
	if i == nil || i.tokens == nil || i.users == nil {
		return Pair{}, user.User{}, errors.New("token issuer is not configured")
	}

	claims, err := i.verify(oldRefreshToken, i.config.RefreshSecret)
	if err != nil {
		return Pair{}, user.User{}, ErrInvalidRefreshToken
	}

	row, err := i.tokens.GetRefreshToken(ctx, oldRefreshToken, claims.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Pair{}, user.User{}, ErrInvalidRefreshToken
		}
		return Pair{}, user.User{}, fmt.Errorf("look up refresh token: %w", err)
	}
	now := i.clock().UTC()
	if !row.ExpiresAt.After(now) {
		return Pair{}, user.User{}, ErrInvalidRefreshToken
	}

	deleted, err := i.tokens.DeleteRefreshToken(ctx, oldRefreshToken)
	if err != nil {
		return Pair{}, user.User{}, fmt.Errorf("invalidate refresh token: %w", err)
	}
	if !deleted {
		// A concurrent rotation won the race.
		return Pair{}, user.User{}, ErrInvalidRefreshToken
	}

	owner, err := i.users.GetUser(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Pair{}, user.User{}, ErrInvalidRefreshToken
		}
		return Pair{}, user.User{}, fmt.Errorf("look up token owner: %w", err)
	}
	if !owner.IsActive {
		return Pair{}, user.User{}, ErrInvalidRefreshToken
	}

	pair, err := i.Issue(ctx, owner, Metadata{Device: row.Device, IP: row.IP})
	if err != nil {
		return Pair{}, user.User{}, err
	}
	return pair, owner, nil
}

// Revoke removes one refresh token row. Missing rows are not an error so
// logout stays idempotent.
func (i *Issuer) Revoke(ctx context.Context, refreshToken string) error {
	if i == nil || i.tokens == nil {
		return errors.New("token issuer is not configured")
	}
	if _, err := i.tokens.DeleteRefreshToken(ctx, refreshToken); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

func (i *Issuer) sign(secret []byte, claims Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func (i *Issuer) verify(tokenString string, secret []byte) (Claims, error) {
	var parsed Claims
	_, err := jwt.ParseWithClaims(tokenString, &parsed, func(token *jwt.Token) (any, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return Claims{}, ErrInvalidToken
	}
	if parsed.UserID == "" {
		return Claims{}, ErrInvalidToken
	}
	if parsed.ExpiresAt == nil {
		return Claims{}, ErrInvalidToken
	}
	if !parsed.ExpiresAt.Time.After(i.clock().UTC()) {
		return Claims{}, ErrTokenExpired
	}
	return parsed, nil
}
