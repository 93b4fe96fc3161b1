package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/relaynotify/relay/internal/services/auth/storage"
	"github.com/relaynotify/relay/internal/services/auth/user"
)

const userColumns = `id, email, password_hash, first_name, last_name, is_active, role,
permissions, google_id, github_id, auth_provider, first_login, last_login_at, created_at, updated_at`

// PutUser inserts a user record.
//
// A UNIQUE violation on the email column surfaces as storage.ErrEmailExists so
// concurrent registrations of the same address resolve to exactly one row.
func (s *Store) PutUser(ctx context.Context, u user.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ensureDB(); err != nil {
		return err
	}
	if strings.TrimSpace(u.ID) == "" {
		return fmt.Errorf("user id is required")
	}
	if strings.TrimSpace(u.Email) == "" {
		return fmt.Errorf("email is required")
	}

	permissions, err := json.Marshal(u.Permissions)
	if err != nil {
		return fmt.Errorf("encode permissions: %w", err)
	}

	_, err = s.sqlDB.ExecContext(ctx, `
INSERT INTO users (`+userColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID,
		u.Email,
		nullString(u.PasswordHash),
		u.FirstName,
		u.LastName,
		boolToInt(u.IsActive),
		u.Role,
		string(permissions),
		nullString(u.GoogleID),
		nullString(u.GitHubID),
		u.AuthProvider,
		boolToInt(u.FirstLogin),
		nullMillis(u.LastLoginAt),
		toMillis(u.CreatedAt),
		toMillis(u.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err, "users.email") {
			return storage.ErrEmailExists
		}
		return fmt.Errorf("put user: %w", err)
	}
	return nil
}

// UpdateUser rewrites the mutable fields of an existing user row.
func (s *Store) UpdateUser(ctx context.Context, u user.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ensureDB(); err != nil {
		return err
	}
	if strings.TrimSpace(u.ID) == "" {
		return fmt.Errorf("user id is required")
	}

	permissions, err := json.Marshal(u.Permissions)
	if err != nil {
		return fmt.Errorf("encode permissions: %w", err)
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE users SET
	email = ?,
	password_hash = ?,
	first_name = ?,
	last_name = ?,
	is_active = ?,
	role = ?,
	permissions = ?,
	google_id = ?,
	github_id = ?,
	auth_provider = ?,
	first_login = ?,
	last_login_at = ?,
	updated_at = ?
WHERE id = ?`,
		u.Email,
		nullString(u.PasswordHash),
		u.FirstName,
		u.LastName,
		boolToInt(u.IsActive),
		u.Role,
		string(permissions),
		nullString(u.GoogleID),
		nullString(u.GitHubID),
		u.AuthProvider,
		boolToInt(u.FirstLogin),
		nullMillis(u.LastLoginAt),
		toMillis(u.UpdatedAt),
		u.ID,
	)
	if err != nil {
		if isUniqueViolation(err, "users.email") {
			return storage.ErrEmailExists
		}
		return fmt.Errorf("update user: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update user rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// GetUser fetches a user record by ID.
func (s *Store) GetUser(ctx context.Context, userID string) (user.User, error) {
	if err := ctx.Err(); err != nil {
		return user.User{}, err
	}
	if err := s.ensureDB(); err != nil {
		return user.User{}, err
	}
	if strings.TrimSpace(userID) == "" {
		return user.User{}, fmt.Errorf("user id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, userID)
	return scanUser(row)
}

// GetUserByEmail fetches a user record by its unique email address.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (user.User, error) {
	if err := ctx.Err(); err != nil {
		return user.User{}, err
	}
	if err := s.ensureDB(); err != nil {
		return user.User{}, err
	}
	if strings.TrimSpace(email) == "" {
		return user.User{}, fmt.Errorf("email is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email)
	return scanUser(row)
}

// GetUserByExternalID fetches a user record by a provider-specific external id.
func (s *Store) GetUserByExternalID(ctx context.Context, provider, externalID string) (user.User, error) {
	if err := ctx.Err(); err != nil {
		return user.User{}, err
	}
	if err := s.ensureDB(); err != nil {
		return user.User{}, err
	}
	if strings.TrimSpace(externalID) == "" {
		return user.User{}, fmt.Errorf("external id is required")
	}

	var column string
	switch provider {
	case user.ProviderGoogle:
		column = "google_id"
	case user.ProviderGitHub:
		column = "github_id"
	default:
		return user.User{}, fmt.Errorf("unknown auth provider %q", provider)
	}

	row := s.sqlDB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE `+column+` = ?`, externalID)
	return scanUser(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (user.User, error) {
	var u user.User
	var passwordHash, googleID, githubID sql.NullString
	var isActive, firstLogin int
	var permissions string
	var lastLoginAt sql.NullInt64
	var createdAt, updatedAt int64

	err := row.Scan(
		&u.ID,
		&u.Email,
		&passwordHash,
		&u.FirstName,
		&u.LastName,
		&isActive,
		&u.Role,
		&permissions,
		&googleID,
		&githubID,
		&u.AuthProvider,
		&firstLogin,
		&lastLoginAt,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return user.User{}, storage.ErrNotFound
		}
		return user.User{}, fmt.Errorf("scan user: %w", err)
	}

	u.PasswordHash = passwordHash.String
	u.GoogleID = googleID.String
	u.GitHubID = githubID.String
	u.IsActive = isActive != 0
	u.FirstLogin = firstLogin != 0
	if permissions != "" {
		if err := json.Unmarshal([]byte(permissions), &u.Permissions); err != nil {
			return user.User{}, fmt.Errorf("decode permissions: %w", err)
		}
	}
	if lastLoginAt.Valid {
		value := fromMillis(lastLoginAt.Int64)
		u.LastLoginAt = &value
	}
	u.CreatedAt = fromMillis(createdAt)
	u.UpdatedAt = fromMillis(updatedAt)
	return u, nil
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}

func nullMillis(value *time.Time) sql.NullInt64 {
	if value == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*value), Valid: true}
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func isUniqueViolation(err error, column string) bool {
	if err == nil {
		return false
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "unique constraint failed") && strings.Contains(message, strings.ToLower(column))
}
