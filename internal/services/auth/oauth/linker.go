package oauth

import (
	"context"
	"errors"
	"time"

	"github.com/relaynotify/relay/internal/platform/id"
	"github.com/relaynotify/relay/internal/services/auth/storage"
	"github.com/relaynotify/relay/internal/services/auth/user"
)

// Profile is a normalized external provider profile.
type Profile struct {
	ID          string
	Email       string
	GivenName   string
	FamilyName  string
	DisplayName string
}

// ErrMissingProviderUserID indicates a provider payload without a stable
// subject identifier.
var ErrMissingProviderUserID = errors.New("oauth: missing provider user id")

// Linker resolves external provider profiles to local accounts.
type Linker struct {
	users       storage.UserStore
	clock       func() time.Time
	idGenerator func() (string, error)
}

// NewLinker builds a Linker over the given user store.
func NewLinker(users storage.UserStore) *Linker {
	return &Linker{
		users:       users,
		clock:       time.Now,
		idGenerator: id.NewID,
	}
}

// WithClock overrides the linker clock. Intended for tests.
func (l *Linker) WithClock(clock func() time.Time) *Linker {
	if clock != nil {
		l.clock = clock
	}
	return l
}

// ResolveOrCreate maps an external profile to a local account. Resolution is
// a three-step fallback: an account already bound to the external id, then an
// existing account with the same email (which gets the external id attached),
// then a fresh passwordless account.
func (l *Linker) ResolveOrCreate(ctx context.Context, provider string, profile Profile) (user.User, error) {
	if profile.ID == "" {
		return user.User{}, ErrMissingProviderUserID
	}

	found, err := l.users.GetUserByExternalID(ctx, provider, profile.ID)
	switch {
	case err == nil:
		return l.recordLogin(ctx, found)
	case !errors.Is(err, storage.ErrNotFound):
		return user.User{}, err
	}

	if profile.Email != "" {
		email, err := user.NormalizeEmail(profile.Email)
		if err != nil {
			return user.User{}, err
		}
		existing, err := l.users.GetUserByEmail(ctx, email)
		switch {
		case err == nil:
			return l.linkExisting(ctx, existing, provider, profile.ID)
		case !errors.Is(err, storage.ErrNotFound):
			return user.User{}, err
		}
	}

	return l.createAccount(ctx, provider, profile)
}

// linkExisting attaches the external id to an account that signed up through
// another provider (or a password) and shares the profile email.
func (l *Linker) linkExisting(ctx context.Context, existing user.User, provider, externalID string) (user.User, error) {
	if err := existing.SetExternalID(provider, externalID); err != nil {
		return user.User{}, err
	}
	existing.AuthProvider = provider
	now := l.clock().UTC()
	existing.LastLoginAt = &now
	existing.FirstLogin = false
	existing.UpdatedAt = now
	if err := l.users.UpdateUser(ctx, existing); err != nil {
		return user.User{}, err
	}
	return existing, nil
}

func (l *Linker) createAccount(ctx context.Context, provider string, profile Profile) (user.User, error) {
	firstName, lastName := profile.GivenName, profile.FamilyName
	if firstName == "" && lastName == "" {
		firstName, lastName = user.SplitDisplayName(profile.DisplayName)
	}

	created, err := user.CreateUser(user.CreateUserInput{
		Email:        profile.Email,
		FirstName:    firstName,
		LastName:     lastName,
		AuthProvider: provider,
		ExternalID:   profile.ID,
	}, l.clock, l.idGenerator)
	if err != nil {
		return user.User{}, err
	}
	now := l.clock().UTC()
	created.LastLoginAt = &now
	if err := l.users.PutUser(ctx, created); err != nil {
		return user.User{}, err
	}
	return created, nil
}

func (l *Linker) recordLogin(ctx context.Context, found user.User) (user.User, error) {
	now := l.clock().UTC()
	found.LastLoginAt = &now
	found.FirstLogin = false
	found.UpdatedAt = now
	if err := l.users.UpdateUser(ctx, found); err != nil {
		return user.User{}, err
	}
	return found, nil
}
