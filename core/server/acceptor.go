package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/dmitrymomot/autotls/core/acme"
)

// DefaultHandshakeTimeout bounds a single TLS handshake so a stalled
// client cannot hold Accept's caller indefinitely.
const DefaultHandshakeTimeout = 30 * time.Second

// Acceptor is the byte-stream acceptor capability. Exactly one concrete
// implementation is chosen at startup; net.Listener satisfies it via
// ListenerAcceptor.
type Acceptor interface {
	// Accept waits for and returns the next connection.
	Accept() (net.Conn, error)

	// Close stops the acceptor. Blocked Accept calls return an error.
	Close() error

	// Addr returns the acceptor's network address.
	Addr() net.Addr
}

// ListenerAcceptor adapts a net.Listener to the Acceptor capability.
type ListenerAcceptor struct {
	net.Listener
}

// Addr returns the listener's address.
func (l ListenerAcceptor) Addr() net.Addr {
	return l.Listener.Addr()
}

// certManager is the part of certman.Manager the acceptor consumes,
// declared locally so tests can substitute it.
type certManager interface {
	Start(ctx context.Context) error
	GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error)
}

// AcmeAcceptor terminates TLS on connections from an inner acceptor,
// selecting certificates through the certificate manager's resolver.
// It owns the manager's background lifetime: construction starts the
// renewal scheduler and Close tears it down.
type AcmeAcceptor struct {
	inner            Acceptor
	tlsConfig        *tls.Config
	logger           *slog.Logger
	cancel           context.CancelFunc
	handshakeTimeout time.Duration
	closed           atomic.Bool
}

// AcmeAcceptorOption configures an AcmeAcceptor during construction.
type AcmeAcceptorOption func(*AcmeAcceptor)

// WithLogger sets a logger for per-connection handshake diagnostics.
func WithLogger(logger *slog.Logger) AcmeAcceptorOption {
	return func(a *AcmeAcceptor) {
		a.logger = logger
	}
}

// WithHandshakeTimeout overrides the per-connection handshake deadline.
func WithHandshakeTimeout(d time.Duration) AcmeAcceptorOption {
	return func(a *AcmeAcceptor) {
		a.handshakeTimeout = d
	}
}

// WithTLSConfig replaces the handshake configuration. The certificate
// selection callback is re-pointed at the manager's resolver.
func WithTLSConfig(cfg *tls.Config) AcmeAcceptorOption {
	return func(a *AcmeAcceptor) {
		a.tlsConfig = cfg
	}
}

// NewAcmeAcceptor wraps inner with TLS termination backed by the
// certificate manager. The manager is started before the acceptor is
// returned: a cached certificate is loaded ahead of the first Accept,
// and the renewal scheduler runs until Close (or ctx cancellation).
func NewAcmeAcceptor(ctx context.Context, inner Acceptor, manager certManager, opts ...AcmeAcceptorOption) (*AcmeAcceptor, error) {
	if inner == nil {
		return nil, ErrMissingAcceptor
	}
	if manager == nil {
		return nil, ErrMissingManager
	}

	ctx, cancel := context.WithCancel(ctx)
	a := &AcmeAcceptor{
		inner:            inner,
		logger:           slog.New(slog.NewTextHandler(io.Discard, nil)),
		cancel:           cancel,
		handshakeTimeout: DefaultHandshakeTimeout,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.tlsConfig == nil {
		// Advertise acme-tls/1 by default so tls-alpn-01 validators can
		// negotiate the marker certificate.
		a.tlsConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
			NextProtos: []string{"h2", "http/1.1", acme.ALPNProto},
		}
	}
	a.tlsConfig = a.tlsConfig.Clone()
	a.tlsConfig.GetCertificate = manager.GetCertificate

	if err := manager.Start(ctx); err != nil {
		cancel()
		return nil, err
	}

	return a, nil
}

// Accept returns the next connection with the TLS handshake already
// completed. A handshake failure closes that connection and returns an
// ErrHandshake-wrapped error; failures here are strictly
// per-connection, the caller's accept loop should keep going.
func (a *AcmeAcceptor) Accept() (net.Conn, error) {
	conn, err := a.inner.Accept()
	if err != nil {
		if a.closed.Load() {
			return nil, ErrAcceptorClosed
		}
		return nil, err
	}

	tlsConn := tls.Server(conn, a.tlsConfig)

	ctx, cancel := context.WithTimeout(context.Background(), a.handshakeTimeout)
	defer cancel()

	if err := tlsConn.HandshakeContext(ctx); err != nil {
		_ = conn.Close()
		a.logger.Debug("handshake failed",
			"remote_addr", conn.RemoteAddr().String(),
			"error", err,
		)
		return nil, fmt.Errorf("%w: %w", ErrHandshake, err)
	}

	return tlsConn, nil
}

// Addr returns the inner acceptor's address.
func (a *AcmeAcceptor) Addr() net.Addr {
	return a.inner.Addr()
}

// Close stops the renewal scheduler and closes the inner acceptor.
// Blocked and subsequent Accept calls return ErrAcceptorClosed.
func (a *AcmeAcceptor) Close() error {
	a.closed.Store(true)
	a.cancel()
	return a.inner.Close()
}
