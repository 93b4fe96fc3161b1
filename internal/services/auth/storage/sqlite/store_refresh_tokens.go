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

// PutRefreshToken persists one outstanding refresh token row.
func (s *Store) PutRefreshToken(ctx context.Context, row storage.RefreshToken) error {
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
INSERT INTO refresh_tokens (token, user_id, expires_at, device, ip, created_at)
VALUES (?, ?, ?, ?, ?, ?)`,
		row.Token,
		row.UserID,
		toMillis(row.ExpiresAt),
		row.Device,
		row.IP,
		toMillis(row.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("put refresh token: %w", err)
	}
	return nil
}

// GetRefreshToken fetches a refresh token row matching both the exact token
// string and its owning user.
func (s *Store) GetRefreshToken(ctx context.Context, token, userID string) (storage.RefreshToken, error) {
	if err := ctx.Err(); err != nil {
		return storage.RefreshToken{}, err
	}
	if err := s.ensureDB(); err != nil {
		return storage.RefreshToken{}, err
	}
	if strings.TrimSpace(token) == "" {
		return storage.RefreshToken{}, fmt.Errorf("token is required")
	}

	var row storage.RefreshToken
	var expiresAt, createdAt int64
	err := s.sqlDB.QueryRowContext(ctx, `
SELECT token, user_id, expires_at, device, ip, created_at
FROM refresh_tokens
WHERE token = ? AND user_id = ?`,
		token, userID,
	).Scan(&row.Token, &row.UserID, &expiresAt, &row.Device, &row.IP, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.RefreshToken{}, storage.ErrNotFound
		}
		return storage.RefreshToken{}, fmt.Errorf("get refresh token: %w", err)
	}
	row.ExpiresAt = fromMillis(expiresAt)
	row.CreatedAt = fromMillis(createdAt)
	return row, nil
}

// DeleteRefreshToken removes one refresh token row and reports whether a row
// was actually deleted. Rotation relies on this as its compare-and-swap point.
func (s *Store) DeleteRefreshToken(ctx context.Context, token string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := s.ensureDB(); err != nil {
		return false, err
	}
	if strings.TrimSpace(token) == "" {
		return false, fmt.Errorf("token is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE token = ?`, token)
	if err != nil {
		return false, fmt.Errorf("delete refresh token: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete refresh token rows affected: %w", err)
	}
	return affected > 0, nil
}

// DeleteRefreshTokensByUser removes every refresh token owned by a user in one
// statement. SQLite serializes writers on the shared handle, so a concurrent
// issuance is ordered either entirely before or entirely after the bulk
// delete; no partial set of rows survives.
func (s *Store) DeleteRefreshTokensByUser(ctx context.Context, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ensureDB(); err != nil {
		return err
	}
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("user id is required")
	}

	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("delete refresh tokens by user: %w", err)
	}
	return nil
}

// DeleteExpiredRefreshTokens sweeps rows already past expiry. It only touches
// dead rows, so it is safe to interleave with live traffic and to run twice.
func (s *Store) DeleteExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := s.ensureDB(); err != nil {
		return 0, err
	}

	result, err := s.sqlDB.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE expires_at <= ?`, toMillis(now))
	if err != nil {
		return 0, fmt.Errorf("delete expired refresh tokens: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired refresh tokens rows affected: %w", err)
	}
	return affected, nil
}
