package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/relaynotify/relay/internal/services/auth/storage"
)

// PutPasswordResetToken persists a single-use reset token row.
func (s *Store) PutPasswordResetToken(ctx context.Context, row storage.PasswordResetToken) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ensureDB(); err != nil {
		return err
	}
	if strings.TrimSpace(row.Token) == "" {
		return fmt.Errorf("token is required")
	}
	if strings.TrimSpace(row.UserID) == "" {
		return fmt.Errorf("user id is required")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO password_reset_tokens (token, user_id, expires_at, used, ip, created_at)
VALUES (?, ?, ?, ?, ?, ?)`,
		row.Token,
		row.UserID,
		toMillis(row.ExpiresAt),
		boolToInt(row.Used),
		row.IP,
		toMillis(row.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("put password reset token: %w", err)
	}
	return nil
}

// GetPasswordResetToken fetches a reset token row by its token string.
func (s *Store) GetPasswordResetToken(ctx context.Context, token string) (storage.PasswordResetToken, error) {
	if err := ctx.Err(); err != nil {
		return storage.PasswordResetToken{}, err
	}
	if err := s.ensureDB(); err != nil {
		return storage.PasswordResetToken{}, err
	}
	if strings.TrimSpace(token) == "" {
		return storage.PasswordResetToken{}, fmt.Errorf("token is required")
	}

	var row storage.PasswordResetToken
	var expiresAt, createdAt int64
	var used int
	err := s.sqlDB.QueryRowContext(ctx, `
SELECT token, user_id, expires_at, used, ip, created_at
FROM password_reset_tokens
WHERE token = ?`,
		token,
	).Scan(&row.Token, &row.UserID, &expiresAt, &used, &row.IP, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.PasswordResetToken{}, storage.ErrNotFound
		}
		return storage.PasswordResetToken{}, fmt.Errorf("get password reset token: %w", err)
	}
	row.ExpiresAt = fromMillis(expiresAt)
	row.CreatedAt = fromMillis(createdAt)
	row.Used = used != 0
	return row, nil
}

// DeletePasswordResetToken removes one reset token row and reports whether a
// row was actually deleted. Consumption treats the delete as its commit point:
// only the request that removed the row proceeds to rewrite the password.
func (s *Store) DeletePasswordResetToken(ctx context.Context, token string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := s.ensureDB(); err != nil {
		return false, err
	}
	if strings.TrimSpace(token) == "" {
		return false, fmt.Errorf("token is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `DELETE FROM password_reset_tokens WHERE token = ?`, token)
	if err != nil {
		return false, fmt.Errorf("delete password reset token: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete password reset token rows affected: %w", err)
	}
	return affected > 0, nil
}

// DeletePasswordResetTokensByUser purges every reset token owned by a user so
// at most one active token exists after a fresh issuance.
func (s *Store) DeletePasswordResetTokensByUser(ctx context.Context, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ensureDB(); err != nil {
		return err
	}
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("user id is required")
	}

	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM password_reset_tokens WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("delete password reset tokens by user: %w", err)
	}
	return nil
}

// PutOAuthState persists an in-flight provider authorization.
func (s *Store) PutOAuthState(ctx context.Context, row storage.OAuthState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ensureDB(); err != nil {
		return err
	}
	if strings.TrimSpace(row.State) == "" {
		return fmt.Errorf("state is required")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO oauth_states (state, provider, redirect_uri, code_verifier, created_at, expires_at)
VALUES (?, ?, ?, ?, ?, ?)`,
		row.State,
		row.Provider,
		row.RedirectURI,
		row.CodeVerifier,
		toMillis(row.CreatedAt),
		toMillis(row.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("put oauth state: %w", err)
	}
	return nil
}

// GetOAuthState fetches an in-flight provider authorization by state value.
func (s *Store) GetOAuthState(ctx context.Context, state string) (storage.OAuthState, error) {
	if err := ctx.Err(); err != nil {
		return storage.OAuthState{}, err
	}
	if err := s.ensureDB(); err != nil {
		return storage.OAuthState{}, err
	}
	if strings.TrimSpace(state) == "" {
		return storage.OAuthState{}, fmt.Errorf("state is required")
	}

	var row storage.OAuthState
	var createdAt, expiresAt int64
	err := s.sqlDB.QueryRowContext(ctx, `
SELECT state, provider, redirect_uri, code_verifier, created_at, expires_at
FROM oauth_states
WHERE state = ?`,
		state,
	).Scan(&row.State, &row.Provider, &row.RedirectURI, &row.CodeVerifier, &createdAt, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.OAuthState{}, storage.ErrNotFound
		}
		return storage.OAuthState{}, fmt.Errorf("get oauth state: %w", err)
	}
	row.CreatedAt = fromMillis(createdAt)
	row.ExpiresAt = fromMillis(expiresAt)
	return row, nil
}

// DeleteOAuthState removes an in-flight provider authorization.
func (s *Store) DeleteOAuthState(ctx context.Context, state string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ensureDB(); err != nil {
		return err
	}
	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM oauth_states WHERE state = ?`, state); err != nil {
		return fmt.Errorf("delete oauth state: %w", err)
	}
	return nil
}

// DeleteExpiredOAuthStates sweeps abandoned provider authorizations.
func (s *Store) DeleteExpiredOAuthStates(ctx context.Context, now time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := s.ensureDB(); err != nil {
		return 0, err
	}

	result, err := s.sqlDB.ExecContext(ctx, `DELETE FROM oauth_states WHERE expires_at <= ?`, toMillis(now))
	if err != nil {
		return 0, fmt.Errorf("delete expired oauth states: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired oauth states rows affected: %w", err)
	}
	return affected, nil
}
