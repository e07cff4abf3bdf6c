package certman

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/acme/autocert"

	"github.com/dmitrymomot/autotls/core/acme"
)

// issuingCA is an in-process ACME server that walks the whole protocol
// and signs the submitted CSR with its own CA key, so issuance tests
// exercise the real certificate path end to end. JWS signatures are not
// verified, only unpacked.
type issuingCA struct {
	t      *testing.T
	srv    *httptest.Server
	caKey  *ecdsa.PrivateKey
	caCert *x509.Certificate

	mu           sync.Mutex
	offered      []string
	afterTrigger string
	onTrigger    func()
	triggered    bool
	chainPEM     []byte
}

func newIssuingCA(t *testing.T) *issuingCA {
	t.Helper()

	caKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	caTemplate := x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "autotls test CA"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	caDER, err := x509.CreateCertificate(rand.Reader, &caTemplate, &caTemplate, caKey.Public(), caKey)
	require.NoError(t, err)
	caCert, err := x509.ParseCertificate(caDER)
	require.NoError(t, err)

	ca := &issuingCA{
		t:            t,
		caKey:        caKey,
		caCert:       caCert,
		offered:      []string{acme.ChallengeHTTP01, acme.ChallengeTLSALPN01},
		afterTrigger: statusValid,
	}

	mux := http.NewServeMux()
	ca.srv = httptest.NewServer(mux)
	t.Cleanup(ca.srv.Close)

	mux.HandleFunc("/dir", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(acme.Directory{
			NewNonce:   ca.srv.URL + "/nonce",
			NewAccount: ca.srv.URL + "/new-account",
			NewOrder:   ca.srv.URL + "/new-order",
		})
	})
	mux.HandleFunc("/nonce", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Replay-Nonce", "test-nonce")
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/new-account", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", ca.srv.URL+"/acct/1")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"status": "valid"}`))
	})
	mux.HandleFunc("/new-order", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", ca.srv.URL+"/order/1")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(acme.Order{
			Status:         statusPending,
			Authorizations: []string{ca.srv.URL + "/authz/1"},
			Finalize:       ca.srv.URL + "/finalize",
		})
	})
	mux.HandleFunc("/authz/1", func(w http.ResponseWriter, r *http.Request) {
		ca.mu.Lock()
		defer ca.mu.Unlock()

		challenges := make([]acme.Challenge, 0, len(ca.offered))
		for _, typ := range ca.offered {
			challenges = append(challenges, acme.Challenge{
				Type:   typ,
				URL:    ca.srv.URL + "/chall/1",
				Status: ca.status(),
				Token:  "testtoken",
			})
		}
		_ = json.NewEncoder(w).Encode(acme.Authorization{
			Identifier: acme.Identifier{Type: "dns", Value: "example.com"},
			Status:     ca.status(),
			Challenges: challenges,
		})
	})
	mux.HandleFunc("/chall/1", func(w http.ResponseWriter, r *http.Request) {
		ca.mu.Lock()
		hook := ca.onTrigger
		ca.mu.Unlock()
		if hook != nil {
			hook()
		}

		ca.mu.Lock()
		ca.triggered = true
		ca.mu.Unlock()
		_, _ = w.Write([]byte(`{"status": "processing"}`))
	})
	mux.HandleFunc("/finalize", func(w http.ResponseWriter, r *http.Request) {
		var envelope struct {
			Payload string `json:"payload"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&envelope))
		payload, err := base64.RawURLEncoding.DecodeString(envelope.Payload)
		require.NoError(t, err)
		var req struct {
			CSR string `json:"csr"`
		}
		require.NoError(t, json.Unmarshal(payload, &req))
		csrDER, err := base64.RawURLEncoding.DecodeString(req.CSR)
		require.NoError(t, err)
		csr, err := x509.ParseCertificateRequest(csrDER)
		require.NoError(t, err)

		ca.mu.Lock()
		ca.chainPEM = ca.signCSRLocked(csr)
		ca.mu.Unlock()

		_ = json.NewEncoder(w).Encode(acme.Order{
			Status:      statusValid,
			Finalize:    ca.srv.URL + "/finalize",
			Certificate: ca.srv.URL + "/cert/1",
		})
	})
	mux.HandleFunc("/cert/1", func(w http.ResponseWriter, r *http.Request) {
		ca.mu.Lock()
		defer ca.mu.Unlock()
		w.Header().Set("Content-Type", "application/pem-certificate-chain")
		_, _ = w.Write(ca.chainPEM)
	})

	return ca
}

// status reports the authorization state: pending until the challenge
// is triggered, then whatever the test configured.
func (ca *issuingCA) status() string {
	if !ca.triggered {
		return statusPending
	}
	return ca.afterTrigger
}

func (ca *issuingCA) setOnTrigger(hook func()) {
	ca.mu.Lock()
	defer ca.mu.Unlock()
	ca.onTrigger = hook
}

func (ca *issuingCA) setOffered(types ...string) {
	ca.mu.Lock()
	defer ca.mu.Unlock()
	ca.offered = types
}

func (ca *issuingCA) setAfterTrigger(status string) {
	ca.mu.Lock()
	defer ca.mu.Unlock()
	ca.afterTrigger = status
}

func (ca *issuingCA) signCSRLocked(csr *x509.CertificateRequest) []byte {
	template := x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      csr.Subject,
		DNSNames:     csr.DNSNames,
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(90 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, ca.caCert, csr.PublicKey, ca.caKey)
	require.NoError(ca.t, err)

	leaf := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	root := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: ca.caCert.Raw})
	return append(leaf, root...)
}

func (ca *issuingCA) config(challengeType string) Config {
	cfg := DefaultConfig()
	cfg.DirectoryName = "test-ca"
	cfg.DirectoryURL = ca.srv.URL + "/dir"
	cfg.Domains = []string{"example.com"}
	cfg.ChallengeType = challengeType
	return cfg
}

func newTestIssuer(cfg Config, resolver *Resolver, tokens *TokenStore, cache Cache) *Issuer {
	issuer := newIssuer(cfg, resolver, tokens, cache, nil, nil)
	issuer.pollInterval = 5 * time.Millisecond
	issuer.pollMaxRetries = 3
	return issuer
}

func TestIssuerHTTP01(t *testing.T) {
	ca := newIssuingCA(t)
	resolver := NewResolver()
	tokens := NewTokenStore()
	cache := autocert.DirCache(t.TempDir())

	// The token must be provisioned before validation is triggered.
	ca.setOnTrigger(func() {
		keyAuth, ok := tokens.Get("testtoken")
		assert.True(t, ok, "token not provisioned before trigger")
		assert.Contains(t, keyAuth, "testtoken.")
	})

	issuer := newTestIssuer(ca.config(ChallengeHTTP01), resolver, tokens, cache)

	cert, err := issuer.Issue(context.Background())
	require.NoError(t, err)
	require.NotNil(t, cert)

	// Installed atomically into the production slot.
	assert.Equal(t, cert, resolver.Certificate())
	assert.Equal(t, []string{"example.com"}, resolver.Leaf().DNSNames)

	// Token withdrawn once the authorization is terminal.
	_, ok := tokens.Get("testtoken")
	assert.False(t, ok)

	// Written through to the cache.
	cached, err := loadCachedCertificate(context.Background(), cache, certCacheKey("test-ca", []string{"example.com"}))
	require.NoError(t, err)
	assert.Equal(t, cert.Certificate[0], cached.Certificate[0])
}

func TestIssuerTLSALPN01(t *testing.T) {
	ca := newIssuingCA(t)
	resolver := NewResolver()
	tokens := NewTokenStore()

	// While validation runs, the marker certificate must be resolvable
	// via acme-tls/1 and invisible to ordinary traffic.
	ca.setOnTrigger(func() {
		hello := &tls.ClientHelloInfo{
			ServerName:      "example.com",
			SupportedProtos: []string{acme.ALPNProto},
		}
		cert, err := resolver.GetCertificate(hello)
		assert.NoError(t, err)
		if assert.NotNil(t, cert) {
			assert.Equal(t, []string{"example.com"}, cert.Leaf.DNSNames)
		}

		_, err = resolver.GetCertificate(&tls.ClientHelloInfo{ServerName: "example.com"})
		assert.ErrorIs(t, err, ErrNoCertificate)
	})

	issuer := newTestIssuer(ca.config(ChallengeTLSALPN01), resolver, tokens, nil)

	_, err := issuer.Issue(context.Background())
	require.NoError(t, err)

	// Marker certificate removed once the authorization is terminal;
	// the production certificate now answers acme-tls/1 fallthrough.
	got, err := resolver.GetCertificate(&tls.ClientHelloInfo{
		ServerName:      "example.com",
		SupportedProtos: []string{acme.ALPNProto},
	})
	require.NoError(t, err)
	assert.Equal(t, resolver.Certificate(), got)
}

func TestIssuerChallengeTypeUnavailable(t *testing.T) {
	ca := newIssuingCA(t)
	ca.setOffered("dns-01")

	resolver := NewResolver()
	issuer := newTestIssuer(ca.config(ChallengeHTTP01), resolver, NewTokenStore(), nil)

	_, err := issuer.Issue(context.Background())
	assert.ErrorIs(t, err, ErrChallengeTypeUnavailable)
	assert.Nil(t, resolver.Certificate())
}

func TestIssuerAuthorizationInvalid(t *testing.T) {
	ca := newIssuingCA(t)
	ca.setAfterTrigger(statusInvalid)

	resolver := NewResolver()
	issuer := newTestIssuer(ca.config(ChallengeHTTP01), resolver, NewTokenStore(), nil)

	_, err := issuer.Issue(context.Background())
	assert.ErrorIs(t, err, acme.ErrAuthorization)
	assert.Nil(t, resolver.Certificate())
}

func TestIssuerPollTimeout(t *testing.T) {
	ca := newIssuingCA(t)
	ca.setAfterTrigger(statusPending)

	resolver := NewResolver()
	issuer := newTestIssuer(ca.config(ChallengeHTTP01), resolver, NewTokenStore(), nil)

	_, err := issuer.Issue(context.Background())
	assert.ErrorIs(t, err, ErrPollTimeout)
	assert.Nil(t, resolver.Certificate())
}

// failingCache refuses writes to prove cache errors never abort an
// issuance attempt.
type failingCache struct{}

func (failingCache) Get(ctx context.Context, key string) ([]byte, error) {
	return nil, autocert.ErrCacheMiss
}
func (failingCache) Put(ctx context.Context, key string, data []byte) error {
	return errors.New("disk full")
}
func (failingCache) Delete(ctx context.Context, key string) error { return nil }

func TestIssuerCacheFailureIsNonFatal(t *testing.T) {
	ca := newIssuingCA(t)
	resolver := NewResolver()
	issuer := newTestIssuer(ca.config(ChallengeHTTP01), resolver, NewTokenStore(), failingCache{})

	cert, err := issuer.Issue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, cert, resolver.Certificate())
}
