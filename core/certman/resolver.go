package certman

import (
	"crypto/tls"
	"crypto/x509"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrymomot/autotls/core/acme"
)

// Resolver holds the certificate consulted on every TLS handshake. The
// production slot is replaced atomically on renewal, so concurrent
// handshakes never observe a certificate whose chain and private key
// are mismatched. A separate mutex-guarded slot holds transient
// tls-alpn-01 validation certificates keyed by domain; those are only
// consulted when the client actually advertises the acme-tls/1 ALPN
// protocol, never for ordinary traffic.
type Resolver struct {
	production atomic.Pointer[tls.Certificate]

	mu         sync.RWMutex
	validation map[string]*tls.Certificate

	// now is replaceable for expiry boundary tests.
	now func() time.Time
}

// NewResolver creates an empty resolver. Handshakes fail until the
// first certificate is installed.
func NewResolver() *Resolver {
	return &Resolver{
		validation: make(map[string]*tls.Certificate),
		now:        time.Now,
	}
}

// Install atomically replaces the production certificate. The previous
// certificate, if any, stays in use by handshakes that already resolved
// it and is garbage collected afterward.
func (r *Resolver) Install(cert *tls.Certificate) {
	if cert != nil && cert.Leaf == nil && len(cert.Certificate) > 0 {
		// Expiry tracking needs the parsed leaf.
		if leaf, err := x509.ParseCertificate(cert.Certificate[0]); err == nil {
			cert.Leaf = leaf
		}
	}
	r.production.Store(cert)
}

// GetCertificate selects the certificate for a handshake. Validation
// certificates win only when the acme-tls/1 protocol is offered and one
// exists for the requested server name; otherwise the production
// certificate is served. With neither present the handshake fails.
func (r *Resolver) GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	if slices.Contains(hello.SupportedProtos, acme.ALPNProto) {
		r.mu.RLock()
		cert, ok := r.validation[hello.ServerName]
		r.mu.RUnlock()
		if ok {
			return cert, nil
		}
	}

	if cert := r.production.Load(); cert != nil {
		return cert, nil
	}
	return nil, ErrNoCertificate
}

// Certificate returns the current production certificate, or nil before
// the first issuance.
func (r *Resolver) Certificate() *tls.Certificate {
	return r.production.Load()
}

// Leaf returns the parsed leaf of the production certificate, or nil.
func (r *Resolver) Leaf() *x509.Certificate {
	cert := r.production.Load()
	if cert == nil {
		return nil
	}
	return cert.Leaf
}

// WillExpire reports whether the production certificate is within
// margin of its notAfter. Before the first issuance it returns false:
// the initial issuance is scheduled explicitly, not via expiry.
func (r *Resolver) WillExpire(margin time.Duration) bool {
	leaf := r.Leaf()
	if leaf == nil {
		return false
	}
	return leaf.NotAfter.Sub(r.now()) <= margin
}

// setValidation installs a tls-alpn-01 marker certificate for a domain
// without touching the production slot.
func (r *Resolver) setValidation(domain string, cert *tls.Certificate) {
	r.mu.Lock()
	r.validation[domain] = cert
	r.mu.Unlock()
}

// clearValidation removes a domain's marker certificate once its
// authorization reaches a terminal state.
func (r *Resolver) clearValidation(domain string) {
	r.mu.Lock()
	delete(r.validation, domain)
	r.mu.Unlock()
}
