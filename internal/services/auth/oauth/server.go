package oauth

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/relaynotify/relay/internal/services/auth/storage"
	"github.com/relaynotify/relay/internal/services/auth/token"
)

// Server hosts the external provider start/callback endpoints.
type Server struct {
	config     Config
	states     storage.OAuthStateStore
	linker     *Linker
	issuer     *token.Issuer
	clock      func() time.Time
	httpClient *http.Client
}

// NewServer builds a provider server bound to config and backing stores.
func NewServer(config Config, states storage.OAuthStateStore, linker *Linker, issuer *token.Issuer) *Server {
	if config.StateTTL <= 0 {
		config.StateTTL = 15 * time.Minute
	}
	return &Server{
		config:     config,
		states:     states,
		linker:     linker,
		issuer:     issuer,
		clock:      time.Now,
		httpClient: http.DefaultClient,
	}
}

// WithClock overrides the server clock. Intended for tests.
func (s *Server) WithClock(clock func() time.Time) *Server {
	if clock != nil {
		s.clock = clock
	}
	return s
}

// WithHTTPClient overrides the outbound HTTP client. Intended for tests.
func (s *Server) WithHTTPClient(client *http.Client) *Server {
	if client != nil {
		s.httpClient = client
	}
	return s
}

// RegisterRoutes registers provider HTTP endpoints on the provided mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	if mux == nil {
		return
	}
	mux.HandleFunc("/auth/providers/", s.handleProviderRoutes)
}

func (s *Server) handleProviderRoutes(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/auth/providers/")
	parts := strings.Split(path, "/")
	if len(parts) < 2 {
		http.NotFound(w, r)
		return
	}
	providerID := parts[0]
	action := parts[1]

	switch action {
	case "start":
		s.handleProviderStart(w, r, providerID)
	case "callback":
		s.handleProviderCallback(w, r, providerID)
	default:
		http.NotFound(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	_ = encoder.Encode(payload)
}
