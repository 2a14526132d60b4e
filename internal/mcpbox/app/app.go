// Package app wires every MCPbox component into one running process: the
// SQLite store, the sandbox RPC client, the auth pipeline, the gateway and
// management services, the OAuth source flow, and the HTTP surface that
// exposes them.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JGtHb/MCPbox-sub000/internal/mcpbox/activity"
	"github.com/JGtHb/MCPbox-sub000/internal/mcpbox/approvals"
	"github.com/JGtHb/MCPbox-sub000/internal/mcpbox/auth"
	"github.com/JGtHb/MCPbox-sub000/internal/mcpbox/authpolicy"
	"github.com/JGtHb/MCPbox-sub000/internal/mcpbox/gateway"
	"github.com/JGtHb/MCPbox-sub000/internal/mcpbox/internalapi"
	"github.com/JGtHb/MCPbox-sub000/internal/mcpbox/management"
	"github.com/JGtHb/MCPbox-sub000/internal/mcpbox/oauthsource"
	"github.com/JGtHb/MCPbox-sub000/internal/mcpbox/sandbox"
	"github.com/JGtHb/MCPbox-sub000/internal/mcpbox/settings"
	"github.com/JGtHb/MCPbox-sub000/internal/mcpbox/store"
	"github.com/JGtHb/MCPbox-sub000/internal/mcpbox/stream"
)

// Config holds every knob needed to construct an App.
type Config struct {
	DatabasePath string
	MasterKey    []byte

	// HTTPAddr is the TCP address the combined HTTP surface listens on
	// (gateway /mcp, OAuth callback, /metrics, /health).
	HTTPAddr string

	// PublicBaseURL is this process's externally reachable base URL, used
	// to build OAuth redirect_uri values (e.g. https://mcpbox.example.com).
	PublicBaseURL string

	SandboxBaseURL string

	// FailedAuthMax/FailedAuthWindow tune the gateway's per-IP failed-auth
	// throttle. Zero values fall back to auth.DefaultFailedAuthMax/Window.
	FailedAuthMax    int
	FailedAuthWindow time.Duration

	// ServiceTokenCacheTTL overrides authpolicy's default refresh interval
	// for the service-token cache. Zero uses authpolicy's own default.
	ServiceTokenCacheTTL time.Duration

	// InternalAPIAddr is the address the §6 internal API (currently just
	// /internal/active-service-token) listens on. It is a distinct listener
	// from HTTPAddr by construction, so the public gateway surface can never
	// reach it regardless of mux composition. Empty disables the internal
	// API entirely.
	InternalAPIAddr string

	// InternalAPIToken is the shared bearer secret the edge proxy presents
	// to the internal API. An empty token makes every internal API request
	// fail closed, matching the fail-closed posture of the rest of the
	// service's auth primitives.
	InternalAPIToken string
}

// App is the assembled MCPbox process.
type App struct {
	config *Config

	store      *store.Store
	sandbox    *sandbox.Client
	activity   *activity.Logger
	hub        *stream.Hub
	oauth      *oauthsource.Service
	httpServer *http.Server

	internalServer *http.Server
}

// New constructs an App. Components are wired in dependency order; nothing
// is started until Run is called.
func New(config *Config) (*App, error) {
	slog.Info("opening database", "path", config.DatabasePath)
	db, err := store.New(config.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	settingsStore := settings.New(db)

	tokenCache := authTokenCache(settingsStore, config.MasterKey, config.ServiceTokenCacheTTL)
	emailCache := authpolicy.NewEmailPolicyCache(settingsStore)
	authPipeline := auth.New(tokenCache, emailCache, auth.Config{
		FailedAuthMax: config.FailedAuthMax,
		Window:        int(config.FailedAuthWindow / time.Second),
	})

	activityLogger := activity.New(db)
	hub := stream.NewHub()
	activityLogger.AddListener(hub.Broadcast)

	slog.Info("connecting to sandbox", "addr", config.SandboxBaseURL)
	sandboxClient := sandbox.New(sandbox.DefaultConfig(config.SandboxBaseURL))

	approvalsSvc := approvals.New(db, settingsStore, approvalsInstaller{sandboxClient}, activityLogger)

	mgmt := management.New(db, approvalsSvc, settingsStore, sandboxClient, activityChangeNotifier{activityLogger}, activityLogger, config.MasterKey)

	gw := gateway.New(authPipeline, gatewaySandbox{sandboxClient}, mgmt, approvalsSvc, activityLogger)
	mcpHandler := gateway.NewHandler(gw, authPipeline, hub)

	oauthSvc := oauthsource.New(db, config.MasterKey, config.PublicBaseURL)

	mux := http.NewServeMux()
	mux.Handle("/mcp", mcpHandler)
	mux.HandleFunc("/oauth/callback", newOAuthCallbackHandler(oauthSvc))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", handleHealth)

	app := &App{
		config:   config,
		store:    db,
		sandbox:  sandboxClient,
		activity: activityLogger,
		hub:      hub,
		oauth:    oauthSvc,
		httpServer: &http.Server{
			Addr:         config.HTTPAddr,
			Handler:      mux,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}

	if config.InternalAPIAddr != "" {
		internalHandler := internalapi.NewHandler(tokenCache, config.InternalAPIToken)
		internalMux := http.NewServeMux()
		internalHandler.Mount(internalMux)
		app.internalServer = &http.Server{
			Addr:         config.InternalAPIAddr,
			Handler:      internalMux,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
	}

	return app, nil
}

func authTokenCache(st settings.Store, masterKey []byte, ttl time.Duration) *authpolicy.ServiceTokenCache {
	if ttl > 0 {
		return authpolicy.NewServiceTokenCacheWithTTL(st, masterKey, ttl)
	}
	return authpolicy.NewServiceTokenCache(st, masterKey)
}

// Run starts the HTTP server and blocks until an interrupt or SIGTERM
// arrives.
func (a *App) Run() error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("mcpbox listening", "addr", a.config.HTTPAddr)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	if a.internalServer != nil {
		go func() {
			slog.Info("mcpbox internal api listening", "addr", a.config.InternalAPIAddr)
			if err := a.internalServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- fmt.Errorf("internal api server: %w", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-sigCh:
		slog.Info("shutting down")
		return nil
	}
}

// Stop tears the App down in reverse dependency order: HTTP server first,
// database last so any in-flight handler still has a live connection.
func (a *App) Stop() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http server shutdown error", "err", err)
	}
	if a.internalServer != nil {
		if err := a.internalServer.Shutdown(shutdownCtx); err != nil {
			slog.Warn("internal api server shutdown error", "err", err)
		}
	}

	if err := a.activity.Close(); err != nil {
		slog.Warn("activity logger close error", "err", err)
	}

	slog.Info("closing database")
	if err := a.store.Close(); err != nil {
		slog.Warn("database close error", "err", err)
	}
}
