package acme

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"fmt"

	"github.com/go-acme/lego/v4/certcrypto"
	jose "github.com/go-jose/go-jose/v4"
)

// GenerateKeyPair creates a fresh ECDSA P-256 key pair. Two conceptually
// independent keys exist in this system: the long-lived account key that
// signs every JWS request, and a short-lived per-order certificate key
// discarded after issuance.
func GenerateKeyPair() (*ecdsa.PrivateKey, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("%w: generate ecdsa key: %w", ErrCrypto, err)
	}
	return key, nil
}

// EncodeKey serializes a private key to PEM for persistence.
func EncodeKey(key *ecdsa.PrivateKey) []byte {
	return certcrypto.PEMEncode(key)
}

// DecodeKey parses a PEM-encoded ECDSA private key previously written by
// EncodeKey.
func DecodeKey(pemBytes []byte) (*ecdsa.PrivateKey, error) {
	key, err := certcrypto.ParsePEMPrivateKey(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: parse private key: %w", ErrCrypto, err)
	}
	ecKey, ok := key.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: key is %T, expected *ecdsa.PrivateKey", ErrCrypto, key)
	}
	return ecKey, nil
}

// Thumbprint computes the base64url-encoded SHA-256 JWK thumbprint of the
// key's public component (RFC 7638). The output is deterministic for a
// fixed key.
func Thumbprint(key *ecdsa.PrivateKey) (string, error) {
	jwk := jose.JSONWebKey{Key: key.Public()}
	sum, err := jwk.Thumbprint(crypto.SHA256)
	if err != nil {
		return "", fmt.Errorf("%w: jwk thumbprint: %w", ErrCrypto, err)
	}
	return base64.RawURLEncoding.EncodeToString(sum), nil
}

// KeyAuthorization builds the challenge key authorization string:
// token + "." + base64url(sha256(JWK thumbprint JSON)).
//
// See https://datatracker.ietf.org/doc/html/rfc8555#section-8.1
func KeyAuthorization(token string, key *ecdsa.PrivateKey) (string, error) {
	thumb, err := Thumbprint(key)
	if err != nil {
		return "", err
	}
	return token + "." + thumb, nil
}

// KeyAuthorizationDigest returns sha256(KeyAuthorization(token)), the
// value embedded in a tls-alpn-01 marker certificate (RFC 8737).
func KeyAuthorizationDigest(token string, key *ecdsa.PrivateKey) ([]byte, error) {
	keyAuth, err := KeyAuthorization(token, key)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256([]byte(keyAuth))
	return sum[:], nil
}

// KeyAuthorization builds the key authorization for a token using the
// client's account key.
func (c *Client) KeyAuthorization(token string) (string, error) {
	return KeyAuthorization(token, c.key)
}

// KeyAuthorizationDigest returns sha256 of the client's key
// authorization for a token.
func (c *Client) KeyAuthorizationDigest(token string) ([]byte, error) {
	return KeyAuthorizationDigest(token, c.key)
}

// CreateCSR builds a DER-encoded certificate signing request carrying all
// domains as SANs, signed by the certificate private key. The first
// domain doubles as the common name.
func CreateCSR(key *ecdsa.PrivateKey, domains []string) ([]byte, error) {
	if len(domains) == 0 {
		return nil, fmt.Errorf("%w: no domains for CSR", ErrCrypto)
	}

	template := x509.CertificateRequest{
		Subject:  pkix.Name{CommonName: domains[0]},
		DNSNames: domains,
	}

	der, err := x509.CreateCertificateRequest(rand.Reader, &template, key)
	if err != nil {
		return nil, fmt.Errorf("%w: create certificate request: %w", ErrCrypto, err)
	}
	return der, nil
}
