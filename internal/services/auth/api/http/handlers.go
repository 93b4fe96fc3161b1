package httpapi

import (
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/relaynotify/relay/internal/platform/errors"
	"github.com/relaynotify/relay/internal/services/auth/account"
	"github.com/relaynotify/relay/internal/services/auth/token"
	"github.com/relaynotify/relay/internal/services/auth/user"
)

// Handler serves the /auth/ HTTP surface.
type Handler struct {
	account *account.Service
	issuer  *token.Issuer
	auth    *Authenticator
}

// NewHandler builds the HTTP surface over the account service and issuer.
func NewHandler(accountSvc *account.Service, issuer *token.Issuer, auth *Authenticator) *Handler {
	return &Handler{account: accountSvc, issuer: issuer, auth: auth}
}

// RegisterRoutes registers the auth endpoints on the provided mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	if mux == nil {
		return
	}
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/auth/register", h.handleRegister)
	mux.HandleFunc("/auth/login", h.handleLogin)
	mux.HandleFunc("/auth/refresh", h.handleRefresh)
	mux.HandleFunc("/auth/logout", h.handleLogout)
	mux.HandleFunc("/auth/logout-all", h.auth.Require(ModeFull, h.handleLogoutAll))
	mux.HandleFunc("/auth/forgot-password", h.handleForgotPassword)
	mux.HandleFunc("/auth/reset-password", h.handleResetPassword)
	mux.HandleFunc("/auth/change-password", h.auth.Require(ModeFull, h.handleChangePassword))
	mux.HandleFunc("/auth/me", h.auth.Require(ModeFull, h.handleMe))
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var body struct {
		Email     string `json:"email"`
		Password  string `json:"password"`
		FirstName string `json:"firstName"`
		LastName  string `json:"lastName"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	created, pair, err := h.account.Register(r.Context(), account.RegisterInput{
		Email:     body.Email,
		Password:  body.Password,
		FirstName: body.FirstName,
		LastName:  body.LastName,
	}, requestMetadata(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, authResponse{User: userPayload(created), Tokens: tokensPayload(pair)})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	found, pair, err := h.account.Login(r.Context(), body.Email, body.Password, requestMetadata(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, authResponse{User: userPayload(found), Tokens: tokensPayload(pair)})
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.RefreshToken == "" {
		writeError(w, token.ErrInvalidRefreshToken)
		return
	}

	pair, _, err := h.issuer.Rotate(r.Context(), body.RefreshToken)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Tokens tokensBody `json:"tokens"`
	}{Tokens: tokensPayload(pair)})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if err := h.account.Logout(r.Context(), body.RefreshToken); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusBody{Status: "ok"})
}

func (h *Handler) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	principal, ok := PrincipalFrom(r.Context())
	if !ok {
		writeJSONError(w, apperrors.CodeMissingToken)
		return
	}
	if err := h.account.LogoutAll(r.Context(), principal.UserID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusBody{Status: "ok"})
}

func (h *Handler) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var body struct {
		Email string `json:"email"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	err := h.account.IssuePasswordReset(r.Context(), body.Email, clientAddr(r))
	switch {
	case err == nil:
	case errors.Is(err, account.ErrUserNotFound), errors.Is(err, account.ErrPasswordRequired):
		// Report generic success so the endpoint does not confirm which
		// emails have accounts.
		log.Printf("password reset skipped: %v", err)
	default:
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusBody{Status: "ok"})
}

func (h *Handler) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var body struct {
		Token       string `json:"token"`
		NewPassword string `json:"newPassword"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if err := h.account.ConsumePasswordReset(r.Context(), body.Token, body.NewPassword); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusBody{Status: "ok"})
}

func (h *Handler) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	principal, ok := PrincipalFrom(r.Context())
	if !ok {
		writeJSONError(w, apperrors.CodeMissingToken)
		return
	}
	var body struct {
		CurrentPassword string `json:"currentPassword"`
		NewPassword     string `json:"newPassword"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if err := h.account.ChangePassword(r.Context(), principal.UserID, body.CurrentPassword, body.NewPassword); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusBody{Status: "ok"})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	principal, ok := PrincipalFrom(r.Context())
	if !ok || principal.User == nil {
		writeJSONError(w, apperrors.CodeMissingToken)
		return
	}
	payload := userPayload(*principal.User)
	payload.Role = principal.Role
	payload.Permissions = principal.Permissions
	writeJSON(w, http.StatusOK, struct {
		User userBody `json:"user"`
	}{User: payload})
}

type authResponse struct {
	User   userBody   `json:"user"`
	Tokens tokensBody `json:"tokens"`
}

type userBody struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	FirstName   string     `json:"firstName,omitempty"`
	LastName    string     `json:"lastName,omitempty"`
	Role        string     `json:"role"`
	Permissions []string   `json:"permissions,omitempty"`
	FirstLogin  bool       `json:"firstLogin"`
	LastLoginAt *time.Time `json:"lastLoginAt,omitempty"`
}

type tokensBody struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
}

type statusBody struct {
	Status string `json:"status"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func userPayload(u user.User) userBody {
	return userBody{
		ID:          u.ID,
		Email:       u.Email,
		FirstName:   u.FirstName,
		LastName:    u.LastName,
		Role:        u.Role,
		Permissions: u.Permissions,
		FirstLogin:  u.FirstLogin,
		LastLoginAt: u.LastLoginAt,
	}
}

func tokensPayload(pair token.Pair) tokensBody {
	return tokensBody{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresIn:    pair.ExpiresInSeconds,
	}
}

func requirePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func decodeBody(w http.ResponseWriter, r *http.Request, into interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(into); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:   string(apperrors.CodeMissingFields),
			Message: "request body is not valid JSON",
		})
		return false
	}
	return true
}

// writeError maps a domain error to its HTTP status and stable code.
// Unexpected errors are logged and surface as a generic 500.
func writeError(w http.ResponseWriter, err error) {
	code := apperrors.GetCode(err)
	if code == apperrors.CodeUnknown {
		log.Printf("internal error: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{
			Error:   string(apperrors.CodeUnknown),
			Message: "internal error",
		})
		return
	}
	writeJSON(w, code.HTTPStatus(), errorResponse{Error: string(code), Message: err.Error()})
}

func writeJSONError(w http.ResponseWriter, code apperrors.Code) {
	writeJSON(w, code.HTTPStatus(), errorResponse{Error: string(code)})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	_ = encoder.Encode(payload)
}

func requestMetadata(r *http.Request) token.Metadata {
	return token.Metadata{Device: r.UserAgent(), IP: clientAddr(r)}
}

func clientAddr(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
