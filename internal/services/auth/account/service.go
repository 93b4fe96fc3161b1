// Package account orchestrates registration, login, and password lifecycle.
package account

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/relaynotify/relay/internal/platform/errors"
	"github.com/relaynotify/relay/internal/services/auth/email"
	"github.com/relaynotify/relay/internal/services/auth/storage"
	"github.com/relaynotify/relay/internal/services/auth/token"
	"github.com/relaynotify/relay/internal/services/auth/user"
	"golang.org/x/crypto/bcrypt"
)

// resetTokenBytes sizes reset tokens at 256 bits of entropy.
const resetTokenBytes = 32

// DefaultResetTTL bounds how long a password-reset token stays valid.
const DefaultResetTTL = time.Hour

var (
	// ErrInvalidCredentials indicates a failed email/password login.
	ErrInvalidCredentials = apperrors.New(apperrors.CodeInvalidCredentials, "invalid email or password")
	// ErrAccountDeactivated indicates a login against a deactivated account.
	ErrAccountDeactivated = apperrors.New(apperrors.CodeAccountDeactivated, "account is deactivated")
	// ErrUserNotFound indicates a reset request for an unknown email. The HTTP
	// boundary still reports generic success to avoid user enumeration.
	ErrUserNotFound = apperrors.New(apperrors.CodeUserNotFound, "user not found")
	// ErrPasswordRequired indicates a reset request against a pure-OAuth account.
	ErrPasswordRequired = apperrors.New(apperrors.CodePasswordRequired, "account has no password credential")
	// ErrInvalidResetToken indicates a missing, expired, or consumed reset token.
	ErrInvalidResetToken = apperrors.New(apperrors.CodeInvalidResetToken, "reset token is invalid or expired")
	// ErrInvalidCurrentPassword indicates a failed current-password check.
	ErrInvalidCurrentPassword = apperrors.New(apperrors.CodeInvalidCurrentPassword, "current password is incorrect")
)

// Service owns credential lifecycle decisions for user accounts.
type Service struct {
	users       storage.UserStore
	tokens      storage.RefreshTokenStore
	resets      storage.PasswordResetTokenStore
	issuer      *token.Issuer
	sender      email.Sender
	resetTTL    time.Duration
	clock       func() time.Time
	tokenSource func() (string, error)
}

// NewService builds an account service with defaults for the auth package.
func NewService(users storage.UserStore, tokens storage.RefreshTokenStore, resets storage.PasswordResetTokenStore, issuer *token.Issuer, sender email.Sender) *Service {
	if sender == nil {
		sender = email.LogSender{}
	}
	return &Service{
		users:       users,
		tokens:      tokens,
		resets:      resets,
		issuer:      issuer,
		sender:      sender,
		resetTTL:    DefaultResetTTL,
		clock:       time.Now,
		tokenSource: newResetToken,
	}
}

// WithClock overrides the service clock for tests.
func (s *Service) WithClock(clock func() time.Time) *Service {
	if clock != nil {
		s.clock = clock
	}
	return s
}

// RegisterInput describes a password signup request.
type RegisterInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// Register creates a password-backed account and issues its first token pair.
func (s *Service) Register(ctx context.Context, input RegisterInput, meta token.Metadata) (user.User, token.Pair, error) {
	if strings.TrimSpace(input.Email) == "" || input.Password == "" {
		return user.User{}, token.Pair{}, apperrors.New(apperrors.CodeMissingFields, "email and password are required")
	}
	if err := user.ValidatePassword(input.Password); err != nil {
		return user.User{}, token.Pair{}, err
	}

	hash, err := hashPassword(input.Password)
	if err != nil {
		return user.User{}, token.Pair{}, err
	}

	created, err := user.CreateUser(user.CreateUserInput{
		Email:        input.Email,
		PasswordHash: hash,
		FirstName:    input.FirstName,
		LastName:     input.LastName,
	}, s.clock, nil)
	if err != nil {
		return user.User{}, token.Pair{}, err
	}

	if err := s.users.PutUser(ctx, created); err != nil {
		return user.User{}, token.Pair{}, err
	}

	pair, err := s.issuer.Issue(ctx, created, meta)
	if err != nil {
		return user.User{}, token.Pair{}, err
	}
	return created, pair, nil
}

// Login verifies an email/password pair and issues tokens.
//
// Unknown emails and wrong passwords collapse into one credential error;
// deactivated accounts are reported distinctly because the owner can act on
// that.
func (s *Service) Login(ctx context.Context, emailAddr, password string, meta token.Metadata) (user.User, token.Pair, error) {
	normalized, err := user.NormalizeEmail(emailAddr)
	if err != nil {
		return user.User{}, token.Pair{}, ErrInvalidCredentials
	}

	found, err := s.users.GetUserByEmail(ctx, normalized)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return user.User{}, token.Pair{}, ErrInvalidCredentials
		}
		return user.User{}, token.Pair{}, fmt.Errorf("look up user: %w", err)
	}
	if !found.HasPassword() {
		return user.User{}, token.Pair{}, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(found.PasswordHash), []byte(password)) != nil {
		return user.User{}, token.Pair{}, ErrInvalidCredentials
	}
	if !found.IsActive {
		return user.User{}, token.Pair{}, ErrAccountDeactivated
	}

	now := s.clock().UTC()
	found.LastLoginAt = &now
	found.FirstLogin = false
	found.UpdatedAt = now
	if err := s.users.UpdateUser(ctx, found); err != nil {
		return user.User{}, token.Pair{}, fmt.Errorf("record login: %w", err)
	}

	pair, err := s.issuer.Issue(ctx, found, meta)
	if err != nil {
		return user.User{}, token.Pair{}, err
	}
	return found, pair, nil
}

// Logout revokes one refresh token. It is idempotent: revoking a token that
// is already gone succeeds.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if strings.TrimSpace(refreshToken) == "" {
		return nil
	}
	return s.issuer.Revoke(ctx, refreshToken)
}

// LogoutAll revokes every refresh token issued to a user.
func (s *Service) LogoutAll(ctx context.Context, userID string) error {
	return s.tokens.DeleteRefreshTokensByUser(ctx, userID)
}

// ChangePassword rewrites the password hash after checking the current one.
func (s *Service) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	found, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if !found.HasPassword() || bcrypt.CompareHashAndPassword([]byte(found.PasswordHash), []byte(currentPassword)) != nil {
		return ErrInvalidCurrentPassword
	}
	if err := user.ValidatePassword(newPassword); err != nil {
		return err
	}

	hash, err := hashPassword(newPassword)
	if err != nil {
		return err
	}
	found.PasswordHash = hash
	found.UpdatedAt = s.clock().UTC()
	return s.users.UpdateUser(ctx, found)
}

// IssuePasswordReset creates a fresh single-use reset token and hands the
// notification payload to the email collaborator.
//
// Issuing purges any prior tokens for the user so at most one active token
// exists at a time.
func (s *Service) IssuePasswordReset(ctx context.Context, emailAddr, ip string) error {
	normalized, err := user.NormalizeEmail(emailAddr)
	if err != nil {
		return err
	}

	found, err := s.users.GetUserByEmail(ctx, normalized)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("look up user: %w", err)
	}
	if !found.HasPassword() {
		return ErrPasswordRequired
	}

	if err := s.resets.DeletePasswordResetTokensByUser(ctx, found.ID); err != nil {
		return fmt.Errorf("purge prior reset tokens: %w", err)
	}

	tokenString, err := s.tokenSource()
	if err != nil {
		return fmt.Errorf("generate reset token: %w", err)
	}
	now := s.clock().UTC()
	expiresAt := now.Add(s.resetTTL)
	err = s.resets.PutPasswordResetToken(ctx, storage.PasswordResetToken{
		Token:     tokenString,
		UserID:    found.ID,
		ExpiresAt: expiresAt,
		IP:        ip,
		CreatedAt: now,
	})
	if err != nil {
		return fmt.Errorf("persist reset token: %w", err)
	}

	return s.sender.Send(ctx, email.NewPasswordResetMessage(found.Email, tokenString, expiresAt))
}

// ConsumePasswordReset redeems a reset token exactly once.
//
// The delete of the token row is the commit point: only the request that
// actually removed the row rewrites the password. A successful reset then
// revokes every outstanding refresh token, so no pre-reset session survives.
func (s *Service) ConsumePasswordReset(ctx context.Context, tokenString, newPassword string) error {
	row, err := s.resets.GetPasswordResetToken(ctx, strings.TrimSpace(tokenString))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrInvalidResetToken
		}
		return fmt.Errorf("look up reset token: %w", err)
	}
	now := s.clock().UTC()
	if row.Used || !row.ExpiresAt.After(now) {
		return ErrInvalidResetToken
	}
	if err := user.ValidatePassword(newPassword); err != nil {
		return err
	}

	found, err := s.users.GetUser(ctx, row.UserID)
	if err != nil {
		return fmt.Errorf("look up reset owner: %w", err)
	}

	hash, err := hashPassword(newPassword)
	if err != nil {
		return err
	}

	deleted, err := s.resets.DeletePasswordResetToken(ctx, row.Token)
	if err != nil {
		return fmt.Errorf("consume reset token: %w", err)
	}
	if !deleted {
		// A concurrent consumption won the race.
		return ErrInvalidResetToken
	}

	found.PasswordHash = hash
	found.UpdatedAt = now
	if err := s.users.UpdateUser(ctx, found); err != nil {
		return fmt.Errorf("update password: %w", err)
	}

	// A password reset must invalidate every existing session.
	if err := s.tokens.DeleteRefreshTokensByUser(ctx, found.ID); err != nil {
		return fmt.Errorf("revoke sessions after reset: %w", err)
	}
	return nil
}

// DeactivateUser flips the active flag and revokes every outstanding session.
// Deactivation is logical; the row is never physically deleted.
func (s *Service) DeactivateUser(ctx context.Context, userID string) error {
	found, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if found.IsActive {
		found.IsActive = false
		found.UpdatedAt = s.clock().UTC()
		if err := s.users.UpdateUser(ctx, found); err != nil {
			return err
		}
	}
	return s.tokens.DeleteRefreshTokensByUser(ctx, userID)
}

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func newResetToken() (string, error) {
	buf := make([]byte, resetTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
