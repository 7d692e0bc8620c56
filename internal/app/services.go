package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/server"
	"github.com/redis/go-redis/v9"

	"taskgate/internal/config"
	"taskgate/internal/oauth"
	gwserver "taskgate/internal/server"
	"taskgate/internal/session"
	"taskgate/internal/tools"
	"taskgate/internal/upstream"
	"taskgate/pkg/logging"
)

// ServerName is announced to clients in the MCP handshake.
const ServerName = "taskgate"

// Services holds the wired gateway components.
//
// Initialization order follows the dependencies:
//  1. Upstream endpoints (OIDC discovery when needed)
//  2. State stores (memory or Redis)
//  3. OAuth proxy and its HTTP handler
//  4. MCP server with its tools
//  5. Session manager
//  6. HTTP server
type Services struct {
	Upstream     oauth.UpstreamConfig
	Proxy        *oauth.Proxy
	OAuthHandler *oauth.Handler
	MCPServer    *server.MCPServer
	Sessions     *session.Manager
	Server       *gwserver.Server

	redis redis.UniversalClient
}

// InitializeServices creates every component from cfg.
func InitializeServices(ctx context.Context, cfg *Config) (*Services, error) {
	tc := cfg.TaskgateConfig
	if tc == nil {
		return nil, errors.New("configuration is not loaded")
	}
	services := &Services{}

	upstreamCfg, err := oauth.ResolveEndpoints(ctx, oauth.UpstreamConfig{
		Issuer:       tc.OAuth.Issuer,
		AuthorizeURL: tc.OAuth.AuthorizeURL,
		TokenURL:     tc.OAuth.TokenURL,
		ClientID:     tc.OAuth.ClientID,
		ClientSecret: tc.OAuth.ClientSecret,
		Scopes:       tc.OAuth.Scopes,
		RedirectURL:  strings.TrimSuffix(tc.Server.BaseURL, "/") + tc.OAuth.CallbackPath,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to resolve upstream endpoints: %w", err)
	}
	services.Upstream = upstreamCfg

	stores, err := services.createStores(ctx, tc.OAuth)
	if err != nil {
		return nil, err
	}

	services.Proxy, err = oauth.NewProxy(oauth.ProxyConfig{
		Upstream: upstreamCfg,
		Pending:  stores.pending,
		Grants:   stores.grants,
		Clients:  stores.clients,
		Client: upstream.NewClient(nil, upstream.Options{
			Timeout:      tc.Upstream.Timeout,
			MaxRetries:   tc.Upstream.MaxRetries,
			InitialDelay: tc.Upstream.InitialDelay,
		}),
	})
	if err != nil {
		stores.close()
		services.closeRedis()
		return nil, fmt.Errorf("failed to create OAuth proxy: %w", err)
	}
	services.OAuthHandler = oauth.NewHandler(services.Proxy, tc.Server.BaseURL)

	// The diagnostics tool reports the live session count, so it reads the
	// manager through a closure set up below.
	diagnostics := tools.NewDiagnostics(cfg.Version, func() int {
		if services.Sessions == nil {
			return 0
		}
		return services.Sessions.Len()
	})
	services.MCPServer, err = tools.NewServer(ServerName, cfg.Version, diagnostics)
	if err != nil {
		services.Close()
		return nil, err
	}

	services.Sessions, err = session.NewManager(session.Config{
		MaxSessions:     tc.Sessions.MaxSessions,
		IdleTimeout:     tc.Sessions.IdleTimeout,
		SweepInterval:   tc.Sessions.SweepInterval,
		ShutdownTimeout: tc.Sessions.ShutdownTimeout,
	}, session.NewMCPTransportFactory(services.MCPServer))
	if err != nil {
		services.Close()
		return nil, fmt.Errorf("failed to create session manager: %w", err)
	}

	services.Server, err = gwserver.New(gwserver.Config{
		Host:              tc.Server.Host,
		Port:              tc.Server.Port,
		BaseURL:           tc.Server.BaseURL,
		CallbackPath:      tc.OAuth.CallbackPath,
		ReadHeaderTimeout: tc.Server.ReadHeaderTimeout,
		IdleTimeout:       tc.Server.IdleTimeout,
		ShutdownTimeout:   tc.Server.ShutdownTimeout,
		TrustProxyHeaders: tc.Server.TrustProxyHeaders,
		RateLimit: gwserver.RateLimiterConfig{
			MaxAttempts: tc.RateLimit.MaxAttempts,
			Window:      tc.RateLimit.Window,
			GlobalRate:  tc.RateLimit.GlobalRate,
			GlobalBurst: tc.RateLimit.GlobalBurst,
		},
	}, services.Sessions, services.OAuthHandler)
	if err != nil {
		services.Close()
		return nil, fmt.Errorf("failed to create HTTP server: %w", err)
	}

	logging.Info("Services", "Initialized gateway (storage=%s, maxSessions=%d)",
		tc.OAuth.Storage.Type, tc.Sessions.MaxSessions)
	return services, nil
}

// oauthStores are the proxy's state, grant and client stores for one
// storage backend.
type oauthStores struct {
	pending oauth.TTLStore[oauth.PendingAuthorization]
	grants  oauth.TTLStore[oauth.IssuedGrant]
	clients oauth.ClientStore
}

func (st *oauthStores) close() {
	_ = st.pending.Close()
	_ = st.grants.Close()
	_ = st.clients.Close()
}

func (s *Services) createStores(ctx context.Context, cfg config.OAuthConfig) (*oauthStores, error) {
	switch cfg.Storage.Type {
	case config.StorageTypeRedis:
		client, err := oauth.NewRedisClient(ctx, oauth.RedisConfig{
			Addr:     cfg.Storage.Redis.Addr,
			Username: cfg.Storage.Redis.Username,
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
		})
		if err != nil {
			return nil, err
		}
		s.redis = client
		prefix := cfg.Storage.Redis.KeyPrefix
		logging.Info("Services", "Using Redis state storage at %s", cfg.Storage.Redis.Addr)
		return &oauthStores{
			pending: oauth.NewRedisStateStore[oauth.PendingAuthorization](client, prefix, "pending", cfg.StateTTL),
			grants:  oauth.NewRedisStateStore[oauth.IssuedGrant](client, prefix, "grant", cfg.GrantTTL),
			clients: oauth.NewRedisClientStore(client, prefix),
		}, nil

	case config.StorageTypeMemory, "":
		clients, err := oauth.NewMemoryClientStore(cfg.MaxClients)
		if err != nil {
			return nil, err
		}
		return &oauthStores{
			pending: oauth.NewStateStore[oauth.PendingAuthorization]("pending", cfg.StateTTL),
			grants:  oauth.NewStateStore[oauth.IssuedGrant]("grant", cfg.GrantTTL),
			clients: clients,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported storage type %q", cfg.Storage.Type)
	}
}

// Close releases the stores and the Redis connection. Sessions are closed
// by the server's shutdown.
func (s *Services) Close() {
	if s.Proxy != nil {
		if err := s.Proxy.Close(); err != nil {
			logging.Warn("Services", "Failed to close OAuth stores: %v", err)
		}
	}
	s.closeRedis()
}

func (s *Services) closeRedis() {
	if s.redis == nil {
		return
	}
	if err := s.redis.Close(); err != nil {
		logging.Warn("Services", "Failed to close Redis client: %v", err)
	}
	s.redis = nil
}
