package certman

import (
	"context"
	"crypto/tls"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"golang.org/x/crypto/acme/autocert"
)

// Manager ties the certificate lifecycle together: it owns the
// resolver consulted on every handshake, the http-01 token store, the
// optional on-disk cache, the issuance workflow and the renewal
// scheduler. Construct it once per domain set and hand it to the
// server acceptor.
type Manager struct {
	cfg        Config
	resolver   *Resolver
	tokens     *TokenStore
	cache      Cache
	issuer     *Issuer
	logger     *slog.Logger
	httpClient *http.Client

	mu      sync.Mutex
	started bool
}

// ManagerOption configures a Manager during construction.
type ManagerOption func(*Manager)

// WithLogger sets the logger used by the manager, the issuance workflow
// and the renewal scheduler.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithCache replaces the on-disk cache with a custom implementation.
func WithCache(cache Cache) ManagerOption {
	return func(m *Manager) {
		m.cache = cache
	}
}

// WithHTTPClient sets the transport for all ACME requests. Per-request
// timeouts configured here are what bounds in-flight protocol calls.
func WithHTTPClient(hc *http.Client) ManagerOption {
	return func(m *Manager) {
		m.httpClient = hc
	}
}

// NewManager validates the configuration and assembles the lifecycle
// components. No network activity happens here.
func NewManager(cfg Config, opts ...ManagerOption) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:      cfg,
		resolver: NewResolver(),
		tokens:   NewTokenStore(),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	if cfg.CacheDir != "" {
		m.cache = autocert.DirCache(cfg.CacheDir)
	}
	for _, opt := range opts {
		opt(m)
	}
	m.issuer = newIssuer(cfg, m.resolver, m.tokens, m.cache, m.logger, m.httpClient)

	return m, nil
}

// Start loads any cached certificate into the resolver, schedules the
// initial issuance when nothing is cached, and spawns the renewal
// scheduler. The scheduler and any in-flight issuance stop when ctx is
// canceled; the acceptor's teardown path owns that cancellation.
//
// With a warm cache Start performs zero network calls.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	m.started = true
	m.mu.Unlock()

	if m.cache != nil {
		cert, err := loadCachedCertificate(ctx, m.cache, certCacheKey(m.cfg.DirectoryName, m.cfg.Domains))
		switch {
		case err == nil:
			m.resolver.Install(cert)
			m.logger.InfoContext(ctx, "certificate loaded from cache",
				"domains", m.cfg.Domains,
				"not_after", cert.Leaf.NotAfter,
			)
		default:
			m.logger.InfoContext(ctx, "no usable cached certificate", "reason", err)
		}
	}

	// The very first issuance is explicit: WillExpire reports false
	// while no certificate is installed. If it fails, the scheduler
	// keeps retrying on its ticks until a certificate lands.
	if m.resolver.Certificate() == nil {
		go func() {
			if _, err := m.issuer.Issue(ctx); err != nil {
				m.logger.ErrorContext(ctx, "initial certificate issuance failed", "error", err)
			}
		}()
	}

	scheduler := newScheduler(m.resolver, func(ctx context.Context) error {
		_, err := m.issuer.Issue(ctx)
		return err
	}, m.cfg.CheckInterval, m.cfg.BeforeExpiry, m.logger)
	go scheduler.Run(ctx)

	return nil
}

// GetCertificate is the TLS certificate-selection callback; plug it
// into tls.Config.GetCertificate.
func (m *Manager) GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	return m.resolver.GetCertificate(hello)
}

// HTTPHandler serves http-01 challenge responses and delegates all
// other requests to fallback. Register it on the plain-HTTP listener
// when the http-01 challenge type is configured.
func (m *Manager) HTTPHandler(fallback http.Handler) http.Handler {
	return m.tokens.HTTPHandler(fallback)
}

// TokenStore exposes the shared http-01 token map for externally
// registered challenge routes.
func (m *Manager) TokenStore() *TokenStore {
	return m.tokens
}

// Resolver exposes the certificate resolver, mainly for introspection
// and tests.
func (m *Manager) Resolver() *Resolver {
	return m.resolver
}

// Config returns the immutable manager configuration.
func (m *Manager) Config() Config {
	return m.cfg
}
