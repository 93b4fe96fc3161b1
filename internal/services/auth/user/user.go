// Package user provides the auth user domain model.
package user

import (
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode"

	apperrors "github.com/relaynotify/relay/internal/platform/errors"
	"github.com/relaynotify/relay/internal/platform/id"
)

// Auth providers a user record can be tagged with.
const (
	ProviderEmail  = "email"
	ProviderGoogle = "google"
	ProviderGitHub = "github"
)

// RoleUser is the default role assigned at creation.
const RoleUser = "user"

var (
	// ErrEmptyEmail indicates a missing email address.
	ErrEmptyEmail = apperrors.New(apperrors.CodeMissingFields, "email is required")
	// ErrInvalidEmail indicates an email that does not parse as an address.
	ErrInvalidEmail = apperrors.New(apperrors.CodeInvalidEmail, "email is invalid")
	// ErrWeakPassword indicates a password that fails the minimum policy.
	ErrWeakPassword = apperrors.New(apperrors.CodeInvalidPassword, "password must be at least 8 characters and contain a letter and a digit")
	// ErrPasswordHashRequired indicates an email-provider user without a credential.
	ErrPasswordHashRequired = apperrors.New(apperrors.CodeMissingFields, "password hash is required for email accounts")
)

// User represents an identity record.
//
// An account created through password signup carries a password hash; an
// account created through an external provider may have none until the owner
// sets one. At most one external id is held per provider.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	FirstName    string
	LastName     string
	IsActive     bool
	Role         string
	Permissions  []string
	GoogleID     string
	GitHubID     string
	AuthProvider string
	FirstLogin   bool
	LastLoginAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HasPassword reports whether the account holds a password credential.
func (u User) HasPassword() bool {
	return u.PasswordHash != ""
}

// FullName joins the name fields for display.
func (u User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// ExternalID returns the stored external id for a provider, if any.
func (u User) ExternalID(provider string) string {
	switch provider {
	case ProviderGoogle:
		return u.GoogleID
	case ProviderGitHub:
		return u.GitHubID
	}
	return ""
}

// SetExternalID records an external id for a provider.
func (u *User) SetExternalID(provider, externalID string) error {
	switch provider {
	case ProviderGoogle:
		u.GoogleID = externalID
	case ProviderGitHub:
		u.GitHubID = externalID
	default:
		return fmt.Errorf("unknown auth provider %q", provider)
	}
	return nil
}

// CreateUserInput describes the metadata needed to create a user.
type CreateUserInput struct {
	Email        string
	PasswordHash string
	FirstName    string
	LastName     string
	AuthProvider string
	ExternalID   string
	Role         string
}

// NormalizeEmail trims, lowercases, and validates an email address.
func NormalizeEmail(value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", ErrEmptyEmail
	}
	parsed, err := mail.ParseAddress(trimmed)
	if err != nil || parsed.Address != trimmed {
		return "", ErrInvalidEmail
	}
	return strings.ToLower(parsed.Address), nil
}

// ValidatePassword enforces the minimum password policy: at least 8
// characters with at least one letter and one digit.
func ValidatePassword(password string) error {
	if len(password) < 8 {
		return ErrWeakPassword
	}
	var hasLetter, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	if !hasLetter || !hasDigit {
		return ErrWeakPassword
	}
	return nil
}

// SplitDisplayName derives first and last name fields from a single
// display-name string.
func SplitDisplayName(displayName string) (firstName, lastName string) {
	fields := strings.Fields(displayName)
	if len(fields) == 0 {
		return "", ""
	}
	if len(fields) == 1 {
		return fields[0], ""
	}
	return fields[0], strings.Join(fields[1:], " ")
}

// CreateUser creates a durable user identity from validated input.
//
// This is the canonical point where untrusted signup or provider-profile data
// becomes a stable identity used by token issuance and request authentication.
func CreateUser(input CreateUserInput, now func() time.Time, idGenerator func() (string, error)) (User, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}

	email, err := NormalizeEmail(input.Email)
	if err != nil {
		return User{}, err
	}

	provider := strings.TrimSpace(input.AuthProvider)
	if provider == "" {
		provider = ProviderEmail
	}
	if provider == ProviderEmail && input.PasswordHash == "" {
		return User{}, ErrPasswordHashRequired
	}

	userID, err := idGenerator()
	if err != nil {
		return User{}, fmt.Errorf("generate user id: %w", err)
	}

	role := strings.TrimSpace(input.Role)
	if role == "" {
		role = RoleUser
	}

	createdAt := now().UTC()
	created := User{
		ID:           userID,
		Email:        email,
		PasswordHash: input.PasswordHash,
		FirstName:    strings.TrimSpace(input.FirstName),
		LastName:     strings.TrimSpace(input.LastName),
		IsActive:     true,
		Role:         role,
		AuthProvider: provider,
		FirstLogin:   true,
		CreatedAt:    createdAt,
		UpdatedAt:    createdAt,
	}
	if provider != ProviderEmail {
		if err := created.SetExternalID(provider, strings.TrimSpace(input.ExternalID)); err != nil {
			return User{}, err
		}
	}
	return created, nil
}
