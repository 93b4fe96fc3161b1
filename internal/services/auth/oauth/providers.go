package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/relaynotify/relay/internal/services/auth/storage"
	"github.com/relaynotify/relay/internal/services/auth/token"
)

func (s *Server) handleProviderStart(w http.ResponseWriter, r *http.Request, providerID string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	provider, ok := s.config.Providers[providerID]
	if !ok {
		http.NotFound(w, r)
		return
	}
	redirectURI := strings.TrimSpace(r.URL.Query().Get("redirect_uri"))
	if redirectURI != "" && !isAllowedRedirect(redirectURI, s.config.LoginRedirectAllowlist) {
		http.Error(w, "redirect_uri is not allowed", http.StatusBadRequest)
		return
	}

	codeVerifier, err := newCodeVerifier()
	if err != nil {
		http.Error(w, "failed to generate code verifier", http.StatusInternalServerError)
		return
	}
	codeChallenge := ComputeS256Challenge(codeVerifier)

	stateValue, err := generateToken(32)
	if err != nil {
		http.Error(w, "failed to start provider flow", http.StatusInternalServerError)
		return
	}
	now := s.clock().UTC()
	err = s.states.PutOAuthState(r.Context(), storage.OAuthState{
		State:        stateValue,
		Provider:     providerID,
		RedirectURI:  redirectURI,
		CodeVerifier: codeVerifier,
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.config.StateTTL),
	})
	if err != nil {
		http.Error(w, "failed to start provider flow", http.StatusInternalServerError)
		return
	}

	query := url.Values{}
	query.Set("response_type", "code")
	query.Set("client_id", provider.ClientID)
	query.Set("redirect_uri", provider.RedirectURI)
	query.Set("scope", strings.Join(provider.Scopes, " "))
	query.Set("state", stateValue)
	query.Set("code_challenge", codeChallenge)
	query.Set("code_challenge_method", "S256")

	authURL, err := url.Parse(provider.AuthURL)
	if err != nil {
		http.Error(w, "invalid provider config", http.StatusInternalServerError)
		return
	}
	authURL.RawQuery = query.Encode()
	http.Redirect(w, r, authURL.String(), http.StatusFound)
}

func (s *Server) handleProviderCallback(w http.ResponseWriter, r *http.Request, providerID string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	provider, ok := s.config.Providers[providerID]
	if !ok {
		http.NotFound(w, r)
		return
	}

	if errParam := r.URL.Query().Get("error"); errParam != "" {
		http.Error(w, "provider error: "+errParam, http.StatusBadRequest)
		return
	}

	code := r.URL.Query().Get("code")
	stateValue := r.URL.Query().Get("state")
	if code == "" || stateValue == "" {
		http.Error(w, "missing code or state", http.StatusBadRequest)
		return
	}

	state, err := s.states.GetOAuthState(r.Context(), stateValue)
	if err != nil || state.Provider != providerID {
		http.Error(w, "invalid state", http.StatusBadRequest)
		return
	}
	if state.ExpiresAt.Before(s.clock().UTC()) {
		_ = s.states.DeleteOAuthState(r.Context(), stateValue)
		http.Error(w, "state expired", http.StatusBadRequest)
		return
	}
	defer func() { _ = s.states.DeleteOAuthState(r.Context(), stateValue) }()

	providerTok, err := s.exchangeProviderToken(r.Context(), provider, code, state.CodeVerifier)
	if err != nil {
		http.Error(w, "failed to exchange provider token", http.StatusBadRequest)
		return
	}

	profile, err := s.fetchProviderProfile(r.Context(), provider, providerTok.AccessToken)
	if err != nil {
		http.Error(w, "failed to fetch provider profile", http.StatusBadRequest)
		return
	}

	resolved, err := s.linker.ResolveOrCreate(r.Context(), providerID, profile)
	if err != nil {
		http.Error(w, "failed to resolve user", http.StatusInternalServerError)
		return
	}

	pair, err := s.issuer.Issue(r.Context(), resolved, token.Metadata{
		Device: r.UserAgent(),
		IP:     clientIP(r),
	})
	if err != nil {
		http.Error(w, "failed to issue tokens", http.StatusInternalServerError)
		return
	}

	if state.RedirectURI != "" {
		redirectURL, err := url.Parse(state.RedirectURI)
		if err != nil {
			http.Error(w, "invalid redirect uri", http.StatusBadRequest)
			return
		}
		// Tokens travel in the fragment so they never hit server logs.
		fragment := url.Values{}
		fragment.Set("access_token", pair.AccessToken)
		fragment.Set("refresh_token", pair.RefreshToken)
		fragment.Set("expires_in", strconv.FormatInt(pair.ExpiresInSeconds, 10))
		redirectURL.Fragment = fragment.Encode()
		http.Redirect(w, r, redirectURL.String(), http.StatusFound)
		return
	}

	writeJSON(w, http.StatusOK, callbackResponse{
		User: callbackUser{
			ID:         resolved.ID,
			Email:      resolved.Email,
			FirstName:  resolved.FirstName,
			LastName:   resolved.LastName,
			Role:       resolved.Role,
			FirstLogin: resolved.FirstLogin,
			Provider:   providerID,
		},
		Tokens: callbackTokens{
			AccessToken:  pair.AccessToken,
			RefreshToken: pair.RefreshToken,
			ExpiresIn:    pair.ExpiresInSeconds,
		},
	})
}

type callbackResponse struct {
	User   callbackUser   `json:"user"`
	Tokens callbackTokens `json:"tokens"`
}

type callbackUser struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	FirstName  string `json:"firstName,omitempty"`
	LastName   string `json:"lastName,omitempty"`
	Role       string `json:"role"`
	FirstLogin bool   `json:"firstLogin"`
	Provider   string `json:"provider"`
}

type callbackTokens struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
}

type providerToken struct {
	AccessToken  string
	RefreshToken string
	Scope        string
	ExpiresAt    time.Time
	IDToken      string
}

func (s *Server) exchangeProviderToken(ctx context.Context, provider ProviderConfig, code, codeVerifier string) (providerToken, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", provider.RedirectURI)
	form.Set("client_id", provider.ClientID)
	form.Set("client_secret", provider.ClientSecret)
	form.Set("code_verifier", codeVerifier)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, provider.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return providerToken{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return providerToken{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return providerToken{}, errors.New("token exchange failed")
	}

	var payload struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		Scope        string `json:"scope"`
		ExpiresIn    int64  `json:"expires_in"`
		IDToken      string `json:"id_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return providerToken{}, err
	}
	if payload.AccessToken == "" {
		return providerToken{}, errors.New("missing access token")
	}

	expiresAt := time.Time{}
	if payload.ExpiresIn > 0 {
		expiresAt = s.clock().UTC().Add(time.Duration(payload.ExpiresIn) * time.Second)
	}
	return providerToken{
		AccessToken:  payload.AccessToken,
		RefreshToken: payload.RefreshToken,
		Scope:        payload.Scope,
		ExpiresAt:    expiresAt,
		IDToken:      payload.IDToken,
	}, nil
}

func (s *Server) fetchProviderProfile(ctx context.Context, provider ProviderConfig, accessToken string) (Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, provider.UserInfoURL, nil)
	if err != nil {
		return Profile{}, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return Profile{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Profile{}, errors.New("profile request failed")
	}

	if strings.EqualFold(provider.Name, "Google") {
		var payload struct {
			Sub        string `json:"sub"`
			Email      string `json:"email"`
			GivenName  string `json:"given_name"`
			FamilyName string `json:"family_name"`
			Name       string `json:"name"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			return Profile{}, err
		}
		return Profile{
			ID:          payload.Sub,
			Email:       payload.Email,
			GivenName:   payload.GivenName,
			FamilyName:  payload.FamilyName,
			DisplayName: payload.Name,
		}, nil
	}

	var payload struct {
		ID    int64  `json:"id"`
		Login string `json:"login"`
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Profile{}, err
	}
	profile := Profile{
		ID:          formatGitHubID(payload.ID),
		Email:       payload.Email,
		DisplayName: firstNonEmpty(payload.Name, payload.Login),
	}
	// GitHub hides the email on the profile when the user marks it private;
	// the emails endpoint still returns it with user:email scope.
	if profile.Email == "" && provider.EmailsURL != "" {
		profile.Email, _ = s.fetchPrimaryEmail(ctx, provider, accessToken)
	}
	return profile, nil
}

func (s *Server) fetchPrimaryEmail(ctx context.Context, provider ProviderConfig, accessToken string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, provider.EmailsURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", errors.New("emails request failed")
	}

	var payload []struct {
		Email    string `json:"email"`
		Primary  bool   `json:"primary"`
		Verified bool   `json:"verified"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", err
	}
	for _, entry := range payload {
		if entry.Primary && entry.Verified {
			return entry.Email, nil
		}
	}
	for _, entry := range payload {
		if entry.Verified {
			return entry.Email, nil
		}
	}
	return "", nil
}

func isAllowedRedirect(uri string, allowlist []string) bool {
	if len(allowlist) == 0 {
		return false
	}
	for _, allowed := range allowlist {
		if strings.TrimSpace(allowed) == uri {
			return true
		}
	}
	return false
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

func formatGitHubID(value int64) string {
	if value == 0 {
		return ""
	}
	return strconv.FormatInt(value, 10)
}

func clientIP(r *http.Request) string {
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
