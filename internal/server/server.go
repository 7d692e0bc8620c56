package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"taskgate/internal/oauth"
	"taskgate/internal/session"
	"taskgate/pkg/logging"
)

const (
	// DefaultReadHeaderTimeout is the default timeout for reading request headers.
	DefaultReadHeaderTimeout = 10 * time.Second
	// DefaultIdleTimeout is the default idle timeout for keepalive connections.
	DefaultIdleTimeout = 120 * time.Second
	// DefaultShutdownTimeout bounds the HTTP drain after sessions are closed.
	DefaultShutdownTimeout = 15 * time.Second
	// DefaultCleanupInterval is how often stale rate limiter entries are dropped.
	DefaultCleanupInterval = 5 * time.Minute
)

// Config holds the HTTP server settings.
type Config struct {
	Host    string
	Port    int
	BaseURL string

	// CallbackPath is the upstream redirect target. Default: /oauth/callback.
	CallbackPath string

	ReadHeaderTimeout time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration

	// TrustProxyHeaders keys rate limits on X-Forwarded-For instead of the
	// connection address.
	TrustProxyHeaders bool

	RateLimit       RateLimiterConfig
	CleanupInterval time.Duration
}

// Server is the gateway's HTTP server. It owns the session manager's
// background sweep and shuts sessions down before draining connections.
type Server struct {
	config   Config
	sessions *session.Manager
	router   http.Handler
	oauth    *oauth.Handler
	limiter  *RateLimiter

	mu         sync.Mutex
	httpServer *http.Server
	addr       net.Addr
}

// New validates cfg and assembles the server.
func New(cfg Config, sessions *session.Manager, oauthHandler *oauth.Handler) (*Server, error) {
	if sessions == nil {
		return nil, errors.New("session manager is required")
	}
	if oauthHandler == nil {
		return nil, errors.New("OAuth handler is required")
	}
	if err := validateHTTPSRequirement(cfg.BaseURL); err != nil {
		return nil, err
	}

	if cfg.CallbackPath == "" {
		cfg.CallbackPath = DefaultCallbackPath
	}
	if err := validateCallbackPath(cfg.CallbackPath); err != nil {
		return nil, err
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = DefaultReadHeaderTimeout
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultCleanupInterval
	}

	return &Server{
		config:   cfg,
		sessions: sessions,
		router:   session.NewRouter(sessions),
		oauth:    oauthHandler,
		limiter:  NewRateLimiter(cfg.RateLimit),
	}, nil
}

// ListenAddr is the configured host:port.
func (s *Server) ListenAddr() string {
	return net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
}

// Addr returns the bound address once the server is listening.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Run listens on the configured address and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.ListenAddr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.ListenAddr(), err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled or serving fails, then shuts
// down: sessions first (bounded by the session grace period), then the
// HTTP server.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.config.ReadHeaderTimeout,
		IdleTimeout:       s.config.IdleTimeout,
		// No WriteTimeout: push streams are long-lived.
	}

	s.mu.Lock()
	s.httpServer = httpServer
	s.addr = ln.Addr()
	s.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logging.Info("Server", "Listening on %s (public URL %s)", ln.Addr(), s.config.BaseURL)
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return s.sessions.Run(gctx)
	})

	g.Go(func() error {
		ticker := time.NewTicker(s.config.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				s.limiter.Cleanup()
			}
		}
	})

	g.Go(func() error {
		<-gctx.Done()
		return s.shutdown(httpServer)
	})

	return g.Wait()
}

func (s *Server) shutdown(httpServer *http.Server) error {
	logging.Info("Server", "Shutting down")

	sessionCtx, cancel := context.WithTimeout(context.Background(), s.sessions.Config().ShutdownTimeout)
	defer cancel()
	if err := s.sessions.Shutdown(sessionCtx); err != nil {
		logging.Warn("Server", "Session shutdown incomplete: %v", err)
	}

	httpCtx, cancelHTTP := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancelHTTP()
	if err := httpServer.Shutdown(httpCtx); err != nil {
		logging.Error("Server", err, "HTTP server shutdown error")
		return fmt.Errorf("failed to shut down HTTP server: %w", err)
	}

	logging.Info("Server", "Shutdown complete")
	return nil
}
