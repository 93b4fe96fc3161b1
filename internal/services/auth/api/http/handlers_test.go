package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/relaynotify/relay/internal/platform/duration"
	"github.com/relaynotify/relay/internal/services/auth/account"
	"github.com/relaynotify/relay/internal/services/auth/email"
	authsqlite "github.com/relaynotify/relay/internal/services/auth/storage/sqlite"
	"github.com/relaynotify/relay/internal/services/auth/token"
)

type recordingSender struct {
	messages []email.Message
}

func (s *recordingSender) Send(_ context.Context, msg email.Message) error {
	s.messages = append(s.messages, msg)
	return nil
}

type testStack struct {
	store   *authsqlite.Store
	issuer  *token.Issuer
	account *account.Service
	sender  *recordingSender
	mux     *http.ServeMux
}

func newTestStack(t *testing.T) *testStack {
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

	sender := &recordingSender{}
	accountSvc := account.NewService(store, store, store, issuer, sender)
	handler := NewHandler(accountSvc, issuer, NewAuthenticator(issuer, store))
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	return &testStack{store: store, issuer: issuer, account: accountSvc, sender: sender, mux: mux}
}

func (s *testStack) post(t *testing.T, path string, body map[string]string, bearer string) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	return rec
}

func (s *testStack) register(t *testing.T, emailAddr, password string) authResponse {
	t.Helper()
	rec := s.post(t, "/auth/register", map[string]string{
		"email": emailAddr, "password": password, "firstName": "A", "lastName": "B",
	}, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var payload authResponse
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("decode register response: %v", err)
	}
	return payload
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var payload errorResponse
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	return payload.Error
}

func TestRegisterIssuesUsableAccessToken(t *testing.T) {
	stack := newTestStack(t)
	payload := stack.register(t, "a@x.com", "Passw0rd1")

	if payload.User.Email != "a@x.com" || payload.User.ID == "" {
		t.Fatalf("unexpected user payload: %+v", payload.User)
	}
	claims, err := stack.issuer.VerifyAccess(payload.Tokens.AccessToken)
	if err != nil {
		t.Fatalf("verify access token: %v", err)
	}
	if claims.UserID != payload.User.ID || claims.Email != "a@x.com" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestRegisterValidationCodes(t *testing.T) {
	stack := newTestStack(t)

	cases := []struct {
		name     string
		body     map[string]string
		status   int
		wantCode string
	}{
		{"missing fields", map[string]string{"email": "a@x.com"}, http.StatusBadRequest, "MISSING_FIELDS"},
		{"invalid email", map[string]string{"email": "nope", "password": "Passw0rd1"}, http.StatusBadRequest, "INVALID_EMAIL"},
		{"weak password", map[string]string{"email": "a@x.com", "password": "short"}, http.StatusBadRequest, "INVALID_PASSWORD"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := stack.post(t, "/auth/register", tc.body, "")
			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, rec.Code, rec.Body.String())
			}
			if got := errorCode(t, rec); got != tc.wantCode {
				t.Fatalf("expected %s, got %s", tc.wantCode, got)
			}
		})
	}
}

func TestRegisterDuplicateEmailConflict(t *testing.T) {
	stack := newTestStack(t)
	stack.register(t, "a@x.com", "Passw0rd1")

	rec := stack.post(t, "/auth/register", map[string]string{
		"email": "a@x.com", "password": "Passw0rd1",
	}, "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := errorCode(t, rec); got != "EMAIL_EXISTS" {
		t.Fatalf("expected EMAIL_EXISTS, got %s", got)
	}
}

func TestLoginFailures(t *testing.T) {
	stack := newTestStack(t)
	created := stack.register(t, "a@x.com", "Passw0rd1")

	rec := stack.post(t, "/auth/login", map[string]string{"email": "a@x.com", "password": "wrong"}, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if got := errorCode(t, rec); got != "INVALID_CREDENTIALS" {
		t.Fatalf("expected INVALID_CREDENTIALS, got %s", got)
	}

	if err := stack.account.DeactivateUser(context.Background(), created.User.ID); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	rec = stack.post(t, "/auth/login", map[string]string{"email": "a@x.com", "password": "Passw0rd1"}, "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	if got := errorCode(t, rec); got != "ACCOUNT_DEACTIVATED" {
		t.Fatalf("expected ACCOUNT_DEACTIVATED, got %s", got)
	}
}

func TestRefreshRotationIsSingleUse(t *testing.T) {
	stack := newTestStack(t)
	created := stack.register(t, "a@x.com", "Passw0rd1")

	rec := stack.post(t, "/auth/refresh", map[string]string{"refreshToken": created.Tokens.RefreshToken}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var rotated struct {
		Tokens tokensBody `json:"tokens"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&rotated); err != nil {
		t.Fatalf("decode refresh response: %v", err)
	}
	if rotated.Tokens.RefreshToken == created.Tokens.RefreshToken {
		t.Fatal("expected a fresh refresh token")
	}

	// Replaying the rotated-away token fails.
	rec = stack.post(t, "/auth/refresh", map[string]string{"refreshToken": created.Tokens.RefreshToken}, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := errorCode(t, rec); got != "INVALID_REFRESH_TOKEN" {
		t.Fatalf("expected INVALID_REFRESH_TOKEN, got %s", got)
	}

	// The replacement still works.
	rec = stack.post(t, "/auth/refresh", map[string]string{"refreshToken": rotated.Tokens.RefreshToken}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for replacement, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestLogoutIdempotent(t *testing.T) {
	stack := newTestStack(t)
	created := stack.register(t, "a@x.com", "Passw0rd1")

	for i := 0; i < 2; i++ {
		rec := stack.post(t, "/auth/logout", map[string]string{"refreshToken": created.Tokens.RefreshToken}, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("logout call %d: expected 200, got %d", i+1, rec.Code)
		}
	}

	rec := stack.post(t, "/auth/refresh", map[string]string{"refreshToken": created.Tokens.RefreshToken}, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected revoked token rejected, got %d", rec.Code)
	}
}

func TestLogoutAllRequiresAuth(t *testing.T) {
	stack := newTestStack(t)
	created := stack.register(t, "a@x.com", "Passw0rd1")

	rec := stack.post(t, "/auth/logout-all", nil, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if got := errorCode(t, rec); got != "MISSING_TOKEN" {
		t.Fatalf("expected MISSING_TOKEN, got %s", got)
	}

	rec = stack.post(t, "/auth/logout-all", nil, created.Tokens.AccessToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	rec = stack.post(t, "/auth/refresh", map[string]string{"refreshToken": created.Tokens.RefreshToken}, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected all sessions revoked, got %d", rec.Code)
	}
}

func TestForgotPasswordEnumerationSafe(t *testing.T) {
	stack := newTestStack(t)
	stack.register(t, "a@x.com", "Passw0rd1")

	for _, emailAddr := range []string{"a@x.com", "nobody@x.com"} {
		rec := stack.post(t, "/auth/forgot-password", map[string]string{"email": emailAddr}, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200 for %q, got %d", emailAddr, rec.Code)
		}
	}
	if len(stack.sender.messages) != 1 {
		t.Fatalf("expected exactly one reset message, got %d", len(stack.sender.messages))
	}
}

func TestPasswordResetScenario(t *testing.T) {
	stack := newTestStack(t)
	created := stack.register(t, "a@x.com", "Passw0rd1")

	claims, err := stack.issuer.VerifyAccess(created.Tokens.AccessToken)
	if err != nil {
		t.Fatalf("verify access: %v", err)
	}
	if claims.Email != "a@x.com" {
		t.Fatalf("expected access token for a@x.com, got %q", claims.Email)
	}

	rec := stack.post(t, "/auth/login", map[string]string{"email": "a@x.com", "password": "wrong"}, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong password, got %d", rec.Code)
	}

	rec = stack.post(t, "/auth/forgot-password", map[string]string{"email": "a@x.com"}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for forgot-password, got %d", rec.Code)
	}
	resetToken := stack.sender.messages[0].Data["Token"]

	rec = stack.post(t, "/auth/reset-password", map[string]string{"token": resetToken, "newPassword": "NewPass1"}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for reset, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = stack.post(t, "/auth/login", map[string]string{"email": "a@x.com", "password": "Passw0rd1"}, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected old password rejected, got %d", rec.Code)
	}
	rec = stack.post(t, "/auth/login", map[string]string{"email": "a@x.com", "password": "NewPass1"}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected new password accepted, got %d: %s", rec.Code, rec.Body.String())
	}

	// The reset revoked the pre-reset session.
	rec = stack.post(t, "/auth/refresh", map[string]string{"refreshToken": created.Tokens.RefreshToken}, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected pre-reset refresh token revoked, got %d", rec.Code)
	}

	// The reset token is single use.
	rec = stack.post(t, "/auth/reset-password", map[string]string{"token": resetToken, "newPassword": "Other1Pass"}, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for replayed token, got %d", rec.Code)
	}
	if got := errorCode(t, rec); got != "INVALID_OR_EXPIRED_TOKEN" {
		t.Fatalf("expected INVALID_OR_EXPIRED_TOKEN, got %s", got)
	}
}

func TestChangePassword(t *testing.T) {
	stack := newTestStack(t)
	created := stack.register(t, "a@x.com", "Passw0rd1")

	rec := stack.post(t, "/auth/change-password", map[string]string{
		"currentPassword": "wrong", "newPassword": "NewPass1",
	}, created.Tokens.AccessToken)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if got := errorCode(t, rec); got != "INVALID_CURRENT_PASSWORD" {
		t.Fatalf("expected INVALID_CURRENT_PASSWORD, got %s", got)
	}

	rec = stack.post(t, "/auth/change-password", map[string]string{
		"currentPassword": "Passw0rd1", "newPassword": "NewPass1",
	}, created.Tokens.AccessToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = stack.post(t, "/auth/login", map[string]string{"email": "a@x.com", "password": "NewPass1"}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected login with new password, got %d", rec.Code)
	}
}

func TestMe(t *testing.T) {
	stack := newTestStack(t)
	created := stack.register(t, "a@x.com", "Passw0rd1")

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+created.Tokens.AccessToken)
	rec := httptest.NewRecorder()
	stack.mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var payload struct {
		User userBody `json:"user"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("decode me response: %v", err)
	}
	if payload.User.ID != created.User.ID || payload.User.Email != "a@x.com" {
		t.Fatalf("unexpected me payload: %+v", payload.User)
	}
}

func TestMalformedBody(t *testing.T) {
	stack := newTestStack(t)

	req := httptest.NewRequest(http.MethodPost, "/auth/register", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	stack.mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	stack := newTestStack(t)

	rec := httptest.NewRecorder()
	stack.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
