// ABOUTME: Gateway orchestrator wiring the store, caches, identity registry, and HTTP server
// ABOUTME: Manages component lifecycle from construction through graceful shutdown

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/2389/hearth/internal/assistant"
	"github.com/2389/hearth/internal/auth"
	"github.com/2389/hearth/internal/conndb"
	"github.com/2389/hearth/internal/config"
	"github.com/2389/hearth/internal/dedupe"
	"github.com/2389/hearth/internal/identity"
	"github.com/2389/hearth/internal/merge"
	"github.com/2389/hearth/internal/namespace"
	"github.com/2389/hearth/internal/rescache"
	"github.com/2389/hearth/internal/store"
	"github.com/2389/hearth/internal/threadctx"
	"github.com/2389/hearth/internal/tools"
)

const (
	dedupeTTL     = 10 * time.Minute
	dedupeMaxSize = 4096
)

// Gateway wires every component of the service together: the identity
// store, the namespace resolver, the per-namespace resource caches, the
// identity registry, the tool registry, and the HTTP server in front of
// them.
type Gateway struct {
	cfg        *config.Config
	logger     *slog.Logger
	store      store.IdentityStore
	resolver   *namespace.Resolver
	merger     *merge.Engine
	conns      *conndb.Manager
	assistants *assistant.Manager
	identity   *identity.Service
	registry   *tools.Registry
	dedupe     *dedupe.Cache
	watcher    *namespace.Watcher
	verifier   auth.TokenVerifier
	httpServer *http.Server
}

// New builds a gateway from configuration. Components are constructed
// but no listener is opened until Start.
func New(cfg *config.Config, responder assistant.Responder, logger *slog.Logger) (*Gateway, error) {
	target := cfg.Database.Path
	if cfg.Database.Driver == "postgres" {
		target = cfg.Database.DSN
	}
	st, err := store.Open(cfg.Database.Driver, target)
	if err != nil {
		return nil, fmt.Errorf("opening identity store: %w", err)
	}

	resolver, err := namespace.NewResolver(cfg.Namespaces.Root)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("preparing namespace root: %w", err)
	}

	g := &Gateway{
		cfg:      cfg,
		logger:   logger,
		store:    st,
		resolver: resolver,
		merger:   merge.NewEngine(resolver, logger),
		registry: tools.NewRegistry(),
		dedupe:   dedupe.New(dedupeTTL, dedupeMaxSize),
	}

	var identityOpts []identity.Option
	if cfg.Identity.CodeTTL > 0 {
		identityOpts = append(identityOpts, identity.WithCodeTTL(cfg.Identity.CodeTTL))
	}
	if cfg.Identity.CodeLength > 0 {
		identityOpts = append(identityOpts, identity.WithCodeLength(cfg.Identity.CodeLength))
	}
	g.identity = identity.NewService(st, g.merger, logger, identityOpts...)

	g.conns, err = conndb.NewManager(resolver, cfg.Caches.Connections, g.namespaceKey, logger)
	if err != nil {
		g.closePartial()
		return nil, err
	}
	g.assistants, err = assistant.NewManager(resolver, g.conns, responder, cfg.Caches.Assistants, g.namespaceKey, logger)
	if err != nil {
		g.closePartial()
		return nil, err
	}

	// A merge retires the source namespace key; both caches must drop
	// any resource built for it. Cache entries are addressed by the
	// sanitized key, so the hook sanitizes before evicting.
	g.merger.OnInvalidate(func(oldKey string) {
		key := namespace.SanitizeKey(oldKey)
		g.assistants.Invalidate(key)
		g.conns.Invalidate(key)
	})

	if err := g.registry.Register(tools.IdentityPack(g.identity)); err != nil {
		g.closePartial()
		return nil, err
	}

	if cfg.Namespaces.Watch {
		g.watcher, err = namespace.NewWatcher(logger, cfg.Namespaces.InventoryDebounce)
		if err != nil {
			g.closePartial()
			return nil, fmt.Errorf("starting namespace watcher: %w", err)
		}
	}

	if cfg.Auth.JWTSecret != "" {
		g.verifier = auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	} else {
		logger.Warn("auth.jwt_secret not set, inbound endpoints are unauthenticated")
	}

	g.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           g.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return g, nil
}

// namespaceKey maps a thread to the storage namespace it should use:
// the persistent account namespace once verified, the deterministic
// anonymous namespace before that.
func (g *Gateway) namespaceKey(ctx context.Context, threadID threadctx.ThreadID) (string, error) {
	ident, err := g.identity.CreateIfAbsent(ctx, threadID)
	if err != nil {
		return "", err
	}
	return namespace.SanitizeKey(ident.NamespaceKey()), nil
}

// Registry exposes the tool registry, for embedding callers that drive
// tools directly instead of over HTTP.
func (g *Gateway) Registry() *tools.Registry { return g.registry }

// Start runs the HTTP server until Shutdown is called.
func (g *Gateway) Start() error {
	g.logger.Info("gateway listening", "addr", g.cfg.Server.HTTPAddr)
	if err := g.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Run starts the server and blocks until ctx is cancelled, then shuts
// down gracefully.
func (g *Gateway) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- g.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return g.Shutdown(shutdownCtx)
}

// Shutdown stops the HTTP server gracefully and releases every cached
// resource, then closes the store.
func (g *Gateway) Shutdown(ctx context.Context) error {
	var errs []error
	if err := g.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if g.watcher != nil {
		if err := g.watcher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("watcher: %w", err))
		}
	}
	g.dedupe.Close()
	if err := g.assistants.Close(); err != nil && !errors.Is(err, rescache.ErrClosed) {
		errs = append(errs, fmt.Errorf("assistant cache: %w", err))
	}
	if err := g.conns.Close(); err != nil && !errors.Is(err, rescache.ErrClosed) {
		errs = append(errs, fmt.Errorf("connection cache: %w", err))
	}
	if err := g.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store: %w", err))
	}
	g.logger.Info("gateway stopped")
	return errors.Join(errs...)
}

// closePartial tears down whatever New managed to construct before
// failing.
func (g *Gateway) closePartial() {
	if g.assistants != nil {
		g.assistants.Close()
	}
	if g.conns != nil {
		g.conns.Close()
	}
	if g.watcher != nil {
		g.watcher.Close()
	}
	g.dedupe.Close()
	g.store.Close()
}
