package certman

import (
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dmitrymomot/autotls/core/acme"
)

// challengePathPrefix is the well-known path an http-01 validator
// requests (RFC 8555 section 8.3).
const challengePathPrefix = "/.well-known/acme-challenge/"

// idPeACMEIdentifier is the X.509 extension OID carrying the key
// authorization digest in a tls-alpn-01 marker certificate (RFC 8737).
var idPeACMEIdentifier = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 1, 31}

// TokenStore is the shared http-01 token map. The issuance workflow
// writes entries before triggering validation; an externally registered
// HTTP route reads them, possibly concurrently with unrelated traffic.
type TokenStore struct {
	mu     sync.RWMutex
	tokens map[string]string
}

// NewTokenStore creates an empty token store.
func NewTokenStore() *TokenStore {
	return &TokenStore{tokens: make(map[string]string)}
}

// Put registers the key authorization for a challenge token.
func (s *TokenStore) Put(token, keyAuth string) {
	s.mu.Lock()
	s.tokens[token] = keyAuth
	s.mu.Unlock()
}

// Get looks up the key authorization for a token.
func (s *TokenStore) Get(token string) (string, bool) {
	s.mu.RLock()
	keyAuth, ok := s.tokens[token]
	s.mu.RUnlock()
	return keyAuth, ok
}

// Delete removes a token once its authorization reaches a terminal
// state.
func (s *TokenStore) Delete(token string) {
	s.mu.Lock()
	delete(s.tokens, token)
	s.mu.Unlock()
}

// HTTPHandler serves http-01 challenge responses at
// /.well-known/acme-challenge/{token} and delegates everything else to
// fallback. A nil fallback answers other paths with 404.
func (s *TokenStore) HTTPHandler(fallback http.Handler) http.Handler {
	if fallback == nil {
		fallback = http.NotFoundHandler()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, challengePathPrefix) {
			fallback.ServeHTTP(w, r)
			return
		}
		token := strings.TrimPrefix(r.URL.Path, challengePathPrefix)
		keyAuth, ok := s.Get(token)
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(keyAuth))
	})
}

// newALPNCertificate builds the self-signed validation certificate for
// a tls-alpn-01 challenge: a certificate for the single domain whose
// acmeIdentifier extension holds sha256(keyAuthorization). It is served
// exclusively to validators advertising acme-tls/1 and is never
// installed in the production slot.
func newALPNCertificate(domain string, keyAuthDigest []byte) (*tls.Certificate, error) {
	key, err := acme.GenerateKeyPair()
	if err != nil {
		return nil, err
	}

	extValue, err := asn1.Marshal(keyAuthDigest)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal acmeIdentifier extension: %w", acme.ErrCrypto, err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("%w: generate serial: %w", acme.ErrCrypto, err)
	}

	now := time.Now()
	template := x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: domain},
		DNSNames:     []string{domain},
		NotBefore:    now.Add(-time.Hour),
		NotAfter:     now.Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		ExtraExtensions: []pkix.Extension{{
			Id:       idPeACMEIdentifier,
			Critical: true,
			Value:    extValue,
		}},
		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, key.Public(), key)
	if err != nil {
		return nil, fmt.Errorf("%w: create validation certificate: %w", acme.ErrCrypto, err)
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("%w: parse validation certificate: %w", acme.ErrCrypto, err)
	}

	return &tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  key,
		Leaf:        leaf,
	}, nil
}
