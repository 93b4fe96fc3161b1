package account

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/relaynotify/relay/internal/platform/duration"
	apperrors "github.com/relaynotify/relay/internal/platform/errors"
	"github.com/relaynotify/relay/internal/services/auth/email"
	"github.com/relaynotify/relay/internal/services/auth/storage"
	authsqlite "github.com/relaynotify/relay/internal/services/auth/storage/sqlite"
	"github.com/relaynotify/relay/internal/services/auth/token"
	"github.com/relaynotify/relay/internal/services/auth/user"
)

type captureSender struct {
	messages []email.Message
}

func (c *captureSender) Send(_ context.Context, msg email.Message) error {
	c.messages = append(c.messages, msg)
	return nil
}

func testService(t *testing.T) (*Service, *authsqlite.Store, *captureSender) {
	t.Helper()
	store, err := authsqlite.Open(filepath.Join(t.TempDir(), "auth.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	accessTTL, _ := duration.Parse("15m")
	refreshTTL, _ := duration.Parse("7d")
	issuer := token.NewIssuer(token.Config{
		AccessSecret:  []byte("access-secret"),
		RefreshSecret: []byte("refresh-secret"),
		AccessTTL:     accessTTL,
		RefreshTTL:    refreshTTL,
		Issuer:        "relay-auth",
	}, store, store)

	sender := &captureSender{}
	return NewService(store, store, store, issuer, sender), store, sender
}

func register(t *testing.T, svc *Service, emailAddr string) (user.User, token.Pair) {
	t.Helper()
	created, pair, err := svc.Register(context.Background(), RegisterInput{
		Email:     emailAddr,
		Password:  "Passw0rd1",
		FirstName: "A",
		LastName:  "B",
	}, token.Metadata{})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	return created, pair
}

func TestRegisterThenLogin(t *testing.T) {
	svc, _, _ := testService(t)
	created, _ := register(t, svc, "a@x.com")

	found, pair, err := svc.Login(context.Background(), "a@x.com", "Passw0rd1", token.Metadata{})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if found.ID != created.ID {
		t.Fatalf("expected same user, got %q and %q", found.ID, created.ID)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("expected a full token pair")
	}
	if found.LastLoginAt == nil || found.FirstLogin {
		t.Fatalf("expected login bookkeeping: %+v", found)
	}
}

func TestRegisterValidation(t *testing.T) {
	svc, _, _ := testService(t)

	_, _, err := svc.Register(context.Background(), RegisterInput{Email: "a@x.com"}, token.Metadata{})
	if apperrors.GetCode(err) != apperrors.CodeMissingFields {
		t.Fatalf("expected MISSING_FIELDS, got %v", err)
	}

	_, _, err = svc.Register(context.Background(), RegisterInput{Email: "nope", Password: "Passw0rd1"}, token.Metadata{})
	if apperrors.GetCode(err) != apperrors.CodeInvalidEmail {
		t.Fatalf("expected INVALID_EMAIL, got %v", err)
	}

	_, _, err = svc.Register(context.Background(), RegisterInput{Email: "a@x.com", Password: "weak"}, token.Metadata{})
	if apperrors.GetCode(err) != apperrors.CodeInvalidPassword {
		t.Fatalf("expected INVALID_PASSWORD, got %v", err)
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc, _, _ := testService(t)
	register(t, svc, "a@x.com")

	_, _, err := svc.Register(context.Background(), RegisterInput{
		Email:    "a@x.com",
		Password: "Passw0rd1",
	}, token.Metadata{})
	if !errors.Is(err, storage.ErrEmailExists) {
		t.Fatalf("expected ErrEmailExists, got %v", err)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	svc, _, _ := testService(t)
	register(t, svc, "a@x.com")

	_, _, err := svc.Login(context.Background(), "a@x.com", "wrong", token.Metadata{})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}

	_, _, err = svc.Login(context.Background(), "missing@x.com", "Passw0rd1", token.Metadata{})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown email, got %v", err)
	}
}

func TestLoginDeactivatedAccount(t *testing.T) {
	svc, _, _ := testService(t)
	created, _ := register(t, svc, "a@x.com")

	if err := svc.DeactivateUser(context.Background(), created.ID); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	_, _, err := svc.Login(context.Background(), "a@x.com", "Passw0rd1", token.Metadata{})
	if !errors.Is(err, ErrAccountDeactivated) {
		t.Fatalf("expected ErrAccountDeactivated, got %v", err)
	}
}

func TestDeactivateRevokesSessions(t *testing.T) {
	svc, store, _ := testService(t)
	created, pair := register(t, svc, "a@x.com")

	if err := svc.DeactivateUser(context.Background(), created.ID); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	_, err := store.GetRefreshToken(context.Background(), pair.RefreshToken, created.ID)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected refresh token revoked, got %v", err)
	}

	// The row survives as a logical record.
	got, err := store.GetUser(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if got.IsActive {
		t.Fatal("expected deactivated account")
	}
}

func TestLogoutIsIdempotent(t *testing.T) {
	svc, _, _ := testService(t)
	_, pair := register(t, svc, "a@x.com")

	if err := svc.Logout(context.Background(), pair.RefreshToken); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if err := svc.Logout(context.Background(), pair.RefreshToken); err != nil {
		t.Fatalf("second logout: %v", err)
	}
	if err := svc.Logout(context.Background(), ""); err != nil {
		t.Fatalf("empty logout: %v", err)
	}
}

func TestLogoutAll(t *testing.T) {
	svc, store, _ := testService(t)
	created, first := register(t, svc, "a@x.com")
	_, second, err := svc.Login(context.Background(), "a@x.com", "Passw0rd1", token.Metadata{})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	if err := svc.LogoutAll(context.Background(), created.ID); err != nil {
		t.Fatalf("logout all: %v", err)
	}
	for _, refreshToken := range []string{first.RefreshToken, second.RefreshToken} {
		if _, err := store.GetRefreshToken(context.Background(), refreshToken, created.ID); !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("expected token revoked, got %v", err)
		}
	}
}

func TestChangePassword(t *testing.T) {
	svc, _, _ := testService(t)
	created, _ := register(t, svc, "a@x.com")

	err := svc.ChangePassword(context.Background(), created.ID, "wrong", "NewPass1")
	if !errors.Is(err, ErrInvalidCurrentPassword) {
		t.Fatalf("expected ErrInvalidCurrentPassword, got %v", err)
	}

	err = svc.ChangePassword(context.Background(), created.ID, "Passw0rd1", "weak")
	if apperrors.GetCode(err) != apperrors.CodeInvalidPassword {
		t.Fatalf("expected INVALID_PASSWORD, got %v", err)
	}

	if err := svc.ChangePassword(context.Background(), created.ID, "Passw0rd1", "NewPass1"); err != nil {
		t.Fatalf("change password: %v", err)
	}
	if _, _, err := svc.Login(context.Background(), "a@x.com", "NewPass1", token.Metadata{}); err != nil {
		t.Fatalf("login with new password: %v", err)
	}
	if _, _, err := svc.Login(context.Background(), "a@x.com", "Passw0rd1", token.Metadata{}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected old password rejected, got %v", err)
	}
}

func TestIssuePasswordReset(t *testing.T) {
	svc, _, sender := testService(t)
	register(t, svc, "a@x.com")

	if err := svc.IssuePasswordReset(context.Background(), "a@x.com", "10.0.0.1"); err != nil {
		t.Fatalf("issue reset: %v", err)
	}
	if len(sender.messages) != 1 {
		t.Fatalf("expected one handoff, got %d", len(sender.messages))
	}
	msg := sender.messages[0]
	if msg.To != "a@x.com" || msg.Template != "password-reset" || msg.Data["Token"] == "" {
		t.Fatalf("unexpected message: %+v", msg)
	}
	// 256-bit token, hex encoded.
	if len(msg.Data["Token"]) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(msg.Data["Token"]))
	}
}

func TestIssuePasswordResetUnknownEmail(t *testing.T) {
	svc, _, _ := testService(t)

	err := svc.IssuePasswordReset(context.Background(), "missing@x.com", "")
	if !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestIssuePasswordResetOAuthOnlyAccount(t *testing.T) {
	svc, store, _ := testService(t)

	created, err := user.CreateUser(user.CreateUserInput{
		Email:        "oauth@x.com",
		AuthProvider: user.ProviderGoogle,
		ExternalID:   "google-1",
	}, nil, nil)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if err := store.PutUser(context.Background(), created); err != nil {
		t.Fatalf("put user: %v", err)
	}

	err = svc.IssuePasswordReset(context.Background(), "oauth@x.com", "")
	if !errors.Is(err, ErrPasswordRequired) {
		t.Fatalf("expected ErrPasswordRequired, got %v", err)
	}
}

func TestIssuePasswordResetPurgesPriorToken(t *testing.T) {
	svc, _, sender := testService(t)
	register(t, svc, "a@x.com")

	if err := svc.IssuePasswordReset(context.Background(), "a@x.com", ""); err != nil {
		t.Fatalf("first issue: %v", err)
	}
	if err := svc.IssuePasswordReset(context.Background(), "a@x.com", ""); err != nil {
		t.Fatalf("second issue: %v", err)
	}

	first := sender.messages[0].Data["Token"]
	err := svc.ConsumePasswordReset(context.Background(), first, "NewPass1")
	if !errors.Is(err, ErrInvalidResetToken) {
		t.Fatalf("expected first token purged, got %v", err)
	}

	second := sender.messages[1].Data["Token"]
	if err := svc.ConsumePasswordReset(context.Background(), second, "NewPass1"); err != nil {
		t.Fatalf("consume second token: %v", err)
	}
}

func TestConsumePasswordResetFlow(t *testing.T) {
	svc, store, sender := testService(t)
	created, pair := register(t, svc, "a@x.com")

	if err := svc.IssuePasswordReset(context.Background(), "a@x.com", ""); err != nil {
		t.Fatalf("issue reset: %v", err)
	}
	resetToken := sender.messages[0].Data["Token"]

	if err := svc.ConsumePasswordReset(context.Background(), resetToken, "NewPass1"); err != nil {
		t.Fatalf("consume reset: %v", err)
	}

	// Every pre-reset session is invalidated.
	if _, err := store.GetRefreshToken(context.Background(), pair.RefreshToken, created.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected refresh token revoked, got %v", err)
	}

	// Old password fails, new password works.
	if _, _, err := svc.Login(context.Background(), "a@x.com", "Passw0rd1", token.Metadata{}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected old password rejected, got %v", err)
	}
	if _, _, err := svc.Login(context.Background(), "a@x.com", "NewPass1", token.Metadata{}); err != nil {
		t.Fatalf("login with new password: %v", err)
	}

	// Replaying the reset token fails.
	err := svc.ConsumePasswordReset(context.Background(), resetToken, "Other1Pass")
	if !errors.Is(err, ErrInvalidResetToken) {
		t.Fatalf("expected replay rejected, got %v", err)
	}
}

func TestConsumePasswordResetExpired(t *testing.T) {
	svc, _, sender := testService(t)
	register(t, svc, "a@x.com")

	issued := time.Now().UTC()
	svc.WithClock(func() time.Time { return issued })
	if err := svc.IssuePasswordReset(context.Background(), "a@x.com", ""); err != nil {
		t.Fatalf("issue reset: %v", err)
	}
	resetToken := sender.messages[0].Data["Token"]

	svc.WithClock(func() time.Time { return issued.Add(61 * time.Minute) })
	err := svc.ConsumePasswordReset(context.Background(), resetToken, "NewPass1")
	if !errors.Is(err, ErrInvalidResetToken) {
		t.Fatalf("expected expired token rejected, got %v", err)
	}
}

func TestConsumePasswordResetWeakPassword(t *testing.T) {
	svc, _, sender := testService(t)
	register(t, svc, "a@x.com")

	if err := svc.IssuePasswordReset(context.Background(), "a@x.com", ""); err != nil {
		t.Fatalf("issue reset: %v", err)
	}
	resetToken := sender.messages[0].Data["Token"]

	err := svc.ConsumePasswordReset(context.Background(), resetToken, "weak")
	if apperrors.GetCode(err) != apperrors.CodeInvalidPassword {
		t.Fatalf("expected INVALID_PASSWORD, got %v", err)
	}

	// A failed validation must not consume the token.
	if err := svc.ConsumePasswordReset(context.Background(), resetToken, "NewPass1"); err != nil {
		t.Fatalf("consume after failed validation: %v", err)
	}
}
