package certman

import (
	"context"
	"crypto/ecdsa"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/crypto/acme/autocert"

	"github.com/dmitrymomot/autotls/core/acme"
)

// Cache persists issued keys and certificates so they survive restarts.
// It is the autocert.Cache capability; the default implementation is
// autocert.DirCache over the configured directory, and callers may
// supply any other implementation (database, blob store) through
// WithCache.
type Cache = autocert.Cache

// certCacheKey derives the canonical cache key for a certificate:
// directory name plus the sorted domain list, so the same domain set
// always maps to the same artifacts regardless of configuration order.
func certCacheKey(directoryName string, domains []string) string {
	sorted := make([]string, len(domains))
	copy(sorted, domains)
	sort.Strings(sorted)
	return directoryName + "-" + strings.Join(sorted, "+")
}

// accountKeyName is the cache entry holding the long-lived ACME account
// key for a directory.
func accountKeyName(directoryName string) string {
	return directoryName + ".account.key"
}

// loadCachedCertificate reads the PEM key and certificate chain pair
// from the cache and pairs them into a served certificate. A missing
// entry surfaces as autocert.ErrCacheMiss inside the ErrCacheIO wrap.
func loadCachedCertificate(ctx context.Context, cache Cache, cacheKey string) (*tls.Certificate, error) {
	certPEM, err := cache.Get(ctx, cacheKey+".crt")
	if err != nil {
		return nil, fmt.Errorf("%w: read certificate: %w", ErrCacheIO, err)
	}
	keyPEM, err := cache.Get(ctx, cacheKey+".key")
	if err != nil {
		return nil, fmt.Errorf("%w: read private key: %w", ErrCacheIO, err)
	}

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("%w: pair key and certificate: %w", ErrCacheIO, err)
	}
	cert.Leaf, err = x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return nil, fmt.Errorf("%w: parse leaf: %w", ErrCacheIO, err)
	}
	return &cert, nil
}

// storeCertificate writes the key and chain artifacts. Both writes must
// succeed for the entry to be loadable; a partial write is reported and
// repaired by the next successful issuance.
func storeCertificate(ctx context.Context, cache Cache, cacheKey string, keyPEM, chainPEM []byte) error {
	if err := cache.Put(ctx, cacheKey+".key", keyPEM); err != nil {
		return fmt.Errorf("%w: write private key: %w", ErrCacheIO, err)
	}
	if err := cache.Put(ctx, cacheKey+".crt", chainPEM); err != nil {
		return fmt.Errorf("%w: write certificate: %w", ErrCacheIO, err)
	}
	return nil
}

// loadOrCreateAccountKey returns the persisted account key for the
// directory, generating and storing a fresh one on first use. With a
// nil cache a new key is generated each run; the CA treats that as a
// new account, which is valid if wasteful. A failed write is logged and
// the fresh key is used anyway; cache trouble never blocks issuance.
func loadOrCreateAccountKey(ctx context.Context, cache Cache, directoryName string, logger *slog.Logger) (*ecdsa.PrivateKey, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cache == nil {
		return acme.GenerateKeyPair()
	}

	name := accountKeyName(directoryName)
	if pemBytes, err := cache.Get(ctx, name); err == nil {
		if key, err := acme.DecodeKey(pemBytes); err == nil {
			return key, nil
		}
		// Corrupt entry: fall through and replace it.
	}

	key, err := acme.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	if err := cache.Put(ctx, name, acme.EncodeKey(key)); err != nil {
		logger.WarnContext(ctx, "account key cache write failed",
			"error", fmt.Errorf("%w: write account key: %w", ErrCacheIO, err),
		)
	}
	return key, nil
}
