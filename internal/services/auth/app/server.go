package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"go.opentelemetry.io/otel"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/relaynotify/relay/internal/services/auth/account"
	httpapi "github.com/relaynotify/relay/internal/services/auth/api/http"
	"github.com/relaynotify/relay/internal/services/auth/email"
	"github.com/relaynotify/relay/internal/services/auth/oauth"
	authsqlite "github.com/relaynotify/relay/internal/services/auth/storage/sqlite"
	"github.com/relaynotify/relay/internal/services/auth/token"
)

// Server hosts the auth HTTP service.
type Server struct {
	listener      net.Listener
	httpServer    *http.Server
	store         *authsqlite.Store
	sweepInterval time.Duration
}

type serverEnv struct {
	DBPath        string        `env:"RELAY_AUTH_DB_PATH"`
	SweepInterval time.Duration `env:"RELAY_AUTH_SWEEP_INTERVAL" envDefault:"1h"`
}

// New creates a configured auth server listening on the provided address.
func New(httpAddr string) (*Server, error) {
	var raw serverEnv
	if err := env.Parse(&raw); err != nil {
		return nil, fmt.Errorf("parse server env: %w", err)
	}

	tokenConfig, err := token.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}

	listener, err := net.Listen("tcp", httpAddr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", httpAddr, err)
	}
	store, err := openAuthStore(raw.DBPath)
	if err != nil {
		_ = listener.Close()
		return nil, err
	}

	issuer := token.NewIssuer(tokenConfig, store, store)
	accountSvc := account.NewService(store, store, store, issuer, email.LogSender{})

	mux := http.NewServeMux()
	handler := httpapi.NewHandler(accountSvc, issuer, httpapi.NewAuthenticator(issuer, store))
	handler.RegisterRoutes(mux)

	oauthConfig := oauth.LoadConfigFromEnv()
	oauthServer := oauth.NewServer(oauthConfig, store, oauth.NewLinker(store), issuer)
	oauthServer.RegisterRoutes(mux)

	return &Server{
		listener:      listener,
		httpServer:    &http.Server{Handler: traceRequests(mux)},
		store:         store,
		sweepInterval: raw.SweepInterval,
	}, nil
}

// traceRequests opens a span per request. Spans are recorded only when the
// process was started with tracing enabled; otherwise the global provider is
// a no-op.
func traceRequests(next http.Handler) http.Handler {
	tracer := otel.Tracer("relay/auth")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), r.Method+" "+r.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				semconv.HTTPRequestMethodKey.String(r.Method),
				semconv.URLPath(r.URL.Path),
			),
		)
		defer span.End()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Addr returns the listener address for the auth server.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Run creates and serves an auth server until the context ends.
func Run(ctx context.Context, httpAddr string) error {
	httpServer, err := New(httpAddr)
	if err != nil {
		return err
	}
	return httpServer.Serve(ctx)
}

// Serve starts the auth server and blocks until it stops or the context ends.
func (s *Server) Serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	serverCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer s.closeStore()

	s.startSweep(serverCtx)

	log.Printf("auth server listening at %v", s.listener.Addr())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.httpServer.Serve(s.listener)
	}()

	shutdown := func() {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelShutdown()
		_ = s.httpServer.Shutdown(shutdownCtx)
	}

	select {
	case <-ctx.Done():
		shutdown()
		err := <-serveErr
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve HTTP: %w", err)
	case err := <-serveErr:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve HTTP: %w", err)
	}
}

// startSweep runs the periodic expiry sweep for refresh tokens and pending
// provider authorizations. The sweep only deletes rows already past expiry,
// so concurrent request handling never observes a partial effect.
func (s *Server) startSweep(ctx context.Context) {
	if s == nil || s.store == nil || s.sweepInterval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(s.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				now := time.Now().UTC()
				if removed, err := s.store.DeleteExpiredRefreshTokens(ctx, now); err != nil {
					log.Printf("sweep refresh tokens: %v", err)
				} else if removed > 0 {
					log.Printf("swept %d expired refresh tokens", removed)
				}
				if _, err := s.store.DeleteExpiredOAuthStates(ctx, now); err != nil {
					log.Printf("sweep oauth states: %v", err)
				}
			}
		}
	}()
}

func openAuthStore(path string) (*authsqlite.Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = filepath.Join("data", "auth.db")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}

	store, err := authsqlite.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open auth sqlite store: %w", err)
	}
	return store, nil
}

func (s *Server) closeStore() {
	if s == nil {
		return
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			log.Printf("close auth store: %v", err)
		}
	}
}
