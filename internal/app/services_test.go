package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskgate/internal/config"
	"taskgate/internal/session"
	"taskgate/internal/testing/mock"
)

const mcpInitialize = `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26","capabilities":{},"clientInfo":{"name":"test","version":"1.0"}}}`

func testAppConfig(t *testing.T) *Config {
	t.Helper()
	idp := mock.NewOAuthServer(mock.OAuthServerConfig{ClientID: "taskgate"})
	t.Cleanup(idp.Close)

	tc := config.GetDefaultConfig()
	tc.OAuth.Issuer = idp.IssuerURL()
	tc.OAuth.ClientID = "taskgate"
	tc.Server.Host = "127.0.0.1"
	tc.Server.Port = 0
	return &Config{Version: "1.2.3", TaskgateConfig: &tc}
}

func post(h http.Handler, body string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(body))
	req.Header = header
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestInitializeServices_Memory(t *testing.T) {
	cfg := testAppConfig(t)

	services, err := InitializeServices(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(services.Close)

	assert.Equal(t, cfg.TaskgateConfig.OAuth.Issuer+"/authorize", services.Upstream.AuthorizeURL)
	assert.Equal(t, cfg.TaskgateConfig.OAuth.Issuer+"/token", services.Upstream.TokenURL)
	assert.Equal(t, "http://localhost:8090/oauth/callback", services.Upstream.RedirectURL)
	assert.Equal(t, config.GetDefaultConfig().Sessions.MaxSessions, services.Sessions.Config().MaxSessions)

	h := services.Server.Handler()
	header := http.Header{"Authorization": {"Bearer token"}, "Content-Type": {"application/json"}}

	rec := post(h, mcpInitialize, header)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"name":"taskgate"`)
	assert.Contains(t, rec.Body.String(), `"version":"1.2.3"`)

	header.Set(session.HeaderSessionID, rec.Header().Get(session.HeaderSessionID))
	rec = post(h, `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"gateway_status","arguments":{}}}`, header)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `\"activeSessions\":1`)
}

func TestInitializeServices_Errors(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*config.TaskgateConfig)
		wantErr string
	}{
		{
			name:    "discovery fails",
			modify:  func(c *config.TaskgateConfig) { c.OAuth.Issuer = "http://127.0.0.1:1" },
			wantErr: "failed to resolve upstream endpoints",
		},
		{
			name: "redis unreachable",
			modify: func(c *config.TaskgateConfig) {
				c.OAuth.Storage.Type = config.StorageTypeRedis
				c.OAuth.Storage.Redis.Addr = "127.0.0.1:1"
			},
			wantErr: "redis",
		},
		{
			name:    "unknown storage",
			modify:  func(c *config.TaskgateConfig) { c.OAuth.Storage.Type = "etcd" },
			wantErr: "unsupported storage type",
		},
		{
			name:    "non-local HTTP base URL",
			modify:  func(c *config.TaskgateConfig) { c.Server.BaseURL = "http://gateway.example.com" },
			wantErr: "HTTPS",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testAppConfig(t)
			tt.modify(cfg.TaskgateConfig)

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_, err := InitializeServices(ctx, cfg)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}

	_, err := InitializeServices(context.Background(), &Config{})
	assert.ErrorContains(t, err, "not loaded")
}

func TestRunServer_StopsOnCancel(t *testing.T) {
	services, err := InitializeServices(context.Background(), testAppConfig(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- runServer(ctx, services) }()

	require.Eventually(t, func() bool { return services.Server.Addr() != nil }, 5*time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + services.Server.Addr().String() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("runServer did not return after cancellation")
	}
}
